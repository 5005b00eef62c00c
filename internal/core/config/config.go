package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/robfig/cron/v3"
)

// Config represents the top-level application config.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Log       LogConfig       `koanf:"log"`
	Database  DatabaseConfig  `koanf:"database"`
	Model     ModelConfig     `koanf:"model"`
	Selection SelectionConfig `koanf:"selection"`
	Tracing   TracingConfig   `koanf:"tracing"`
}

type ServerConfig struct {
	Port            int    `koanf:"port"`
	Host            string `koanf:"host"`
	MaxBodySizeMB   int    `koanf:"max_body_size_mb"`
	Mode            string `koanf:"mode"` // debug | release
	ShutdownTimeout string `koanf:"shutdown_timeout"`
}

type LogConfig struct {
	Level  string `koanf:"level"`  // debug | info | warn | error
	Format string `koanf:"format"` // text | json
}

// DatabaseConfig configures the optional audit store. When disabled the
// service runs without persisting catalog versions or selections.
type DatabaseConfig struct {
	Enabled      bool   `koanf:"enabled"`
	Type         string `koanf:"type"`
	DSN          string `koanf:"dsn"`
	MaxOpenConns int    `koanf:"max_open_conns"`
	MaxIdleConns int    `koanf:"max_idle_conns"`
	AutoMigrate  bool   `koanf:"auto_migrate"`
}

type ModelConfig struct {
	SourceType     string `koanf:"source_type"`
	Dir            string `koanf:"dir"`
	ReloadSchedule string `koanf:"reload_schedule"` // cron spec, empty disables reloads
}

type SelectionConfig struct {
	DisableRollups     bool `koanf:"disable_rollups"`
	DisableOriginalSQL bool `koanf:"disable_original_sql"`
	CacheCapacity      int  `koanf:"cache_capacity"`
}

type TracingConfig struct {
	Enabled     bool   `koanf:"enabled"`
	ServiceName string `koanf:"service_name"`
	Endpoint    string `koanf:"endpoint"` // OTLP/HTTP host:port, stdout when empty
}

// EffectiveShutdownTimeout returns the parsed shutdown timeout.
func (c ServerConfig) EffectiveShutdownTimeout() time.Duration {
	d, err := time.ParseDuration(c.ShutdownTimeout)
	if err != nil || d <= 0 {
		return 10 * time.Second
	}
	return d
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d (must be 1-65535)", c.Server.Port)
	}
	if strings.TrimSpace(c.Server.Host) == "" {
		return fmt.Errorf("server.host is required")
	}
	if c.Server.MaxBodySizeMB <= 0 {
		return fmt.Errorf("server.max_body_size_mb must be > 0")
	}
	if c.Server.Mode != "debug" && c.Server.Mode != "release" {
		return fmt.Errorf("invalid server.mode %q (must be debug or release)", c.Server.Mode)
	}
	if d, err := time.ParseDuration(c.Server.ShutdownTimeout); err != nil || d <= 0 {
		return fmt.Errorf("invalid server.shutdown_timeout %q", c.Server.ShutdownTimeout)
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log.level %q (must be debug, info, warn or error)", c.Log.Level)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("invalid log.format %q (must be text or json)", c.Log.Format)
	}

	if c.Database.Enabled {
		if strings.TrimSpace(c.Database.DSN) == "" {
			return fmt.Errorf("database.dsn is required when database.enabled is set")
		}
		if c.Database.MaxOpenConns <= 0 {
			return fmt.Errorf("database.max_open_conns must be > 0")
		}
		if c.Database.MaxIdleConns <= 0 {
			return fmt.Errorf("database.max_idle_conns must be > 0")
		}
		if c.Database.Type != "" && c.Database.Type != "postgres" {
			return fmt.Errorf("unsupported database.type %q", c.Database.Type)
		}
	}

	if c.Model.SourceType != "filesystem" {
		return fmt.Errorf("unsupported model.source_type %q", c.Model.SourceType)
	}
	if strings.TrimSpace(c.Model.Dir) == "" {
		return fmt.Errorf("model.dir is required")
	}
	if _, err := os.Stat(c.Model.Dir); err != nil {
		return fmt.Errorf("model.dir %q is not accessible: %w", c.Model.Dir, err)
	}
	if c.Model.ReloadSchedule != "" {
		if _, err := cron.ParseStandard(c.Model.ReloadSchedule); err != nil {
			return fmt.Errorf("invalid model.reload_schedule %q: %w", c.Model.ReloadSchedule, err)
		}
	}

	if c.Selection.CacheCapacity < 0 {
		return fmt.Errorf("selection.cache_capacity must be >= 0")
	}
	if c.Selection.DisableRollups && c.Selection.DisableOriginalSQL {
		return fmt.Errorf("selection.disable_rollups and selection.disable_original_sql cannot both be set")
	}

	if c.Tracing.Enabled && strings.TrimSpace(c.Tracing.ServiceName) == "" {
		return fmt.Errorf("tracing.service_name is required when tracing is enabled")
	}

	return nil
}

// Load parses config from file + env and validates it.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	defaults := map[string]interface{}{
		"server.port":                    8080,
		"server.host":                    "0.0.0.0",
		"server.max_body_size_mb":        1,
		"server.mode":                    "release",
		"server.shutdown_timeout":        "10s",
		"log.level":                      "info",
		"log.format":                     "text",
		"database.enabled":               false,
		"database.type":                  "postgres",
		"database.dsn":                   "",
		"database.max_open_conns":        10,
		"database.max_idle_conns":        10,
		"database.auto_migrate":          true,
		"model.source_type":              "filesystem",
		"model.dir":                      "./model",
		"model.reload_schedule":          "@every 30s",
		"selection.disable_rollups":      false,
		"selection.disable_original_sql": false,
		"selection.cache_capacity":       1000,
		"tracing.enabled":                false,
		"tracing.service_name":           "aevon-rollups",
		"tracing.endpoint":               "",
	}
	for key, value := range defaults {
		k.Set(key, value)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := k.Load(env.Provider("AEVON_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "AEVON_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}
