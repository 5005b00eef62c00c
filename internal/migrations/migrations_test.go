package migrations

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSource_VersionsAreSequential(t *testing.T) {
	src, err := Source()
	require.NoError(t, err)
	defer src.Close()

	var versions []uint
	v, err := src.First()
	require.NoError(t, err)
	for {
		versions = append(versions, v)

		up, _, err := src.ReadUp(v)
		require.NoError(t, err, "missing up migration for version %d", v)
		require.NoError(t, up.Close())

		down, _, err := src.ReadDown(v)
		require.NoError(t, err, "missing down migration for version %d", v)
		require.NoError(t, down.Close())

		v, err = src.Next(v)
		if errors.Is(err, os.ErrNotExist) {
			break
		}
		require.NoError(t, err)
	}

	assert.Equal(t, []uint{1, 2, 3}, versions)
}

func TestMigrationFiles_CreateAuditTables(t *testing.T) {
	var schema strings.Builder
	err := fs.WalkDir(MigrationFiles, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(path, ".up.sql") {
			return err
		}
		f, err := MigrationFiles.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		b, err := io.ReadAll(f)
		schema.Write(b)
		return err
	})
	require.NoError(t, err)

	for _, table := range []string{"catalog_versions", "selection_log", "pre_aggregation_refreshes"} {
		assert.Contains(t, schema.String(), "CREATE TABLE IF NOT EXISTS "+table)
	}
}
