package catalog

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/aevon-lab/aevon-rollups/internal/model"
)

// Definition is one raw cube definition as read from a Source.
type Definition struct {
	// Name is the source-relative file name, used in error messages.
	Name string

	// Content is the raw definition (e.g. YAML).
	Content []byte

	// Fingerprint is the SHA-256 of Content.
	Fingerprint string
}

// Compiler turns a raw definition into a cube.
type Compiler interface {
	Compile(ctx context.Context, def *Definition) (*model.Cube, error)
}

// Source lists the cube definitions that make up one data model version.
type Source interface {
	// List returns all definitions in a stable order.
	List(ctx context.Context) ([]*Definition, error)
}

// ComputeFingerprint calculates SHA-256 hash of the definition.
func ComputeFingerprint(content []byte) string {
	hash := sha256.Sum256(content)
	return hex.EncodeToString(hash[:])
}

// modelFingerprint combines per-definition fingerprints into one value that
// changes whenever any file is added, removed or edited.
func modelFingerprint(defs []*Definition) string {
	h := sha256.New()
	for _, d := range defs {
		h.Write([]byte(d.Name))
		h.Write([]byte{0})
		h.Write([]byte(d.Fingerprint))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// FileSystemSource reads one cube per *.yaml / *.yml file in a directory.
// Files are returned in lexical order so cube order is reproducible.
type FileSystemSource struct {
	dir string
}

// NewFileSystemSource creates a source rooted at dir.
func NewFileSystemSource(dir string) *FileSystemSource {
	return &FileSystemSource{dir: dir}
}

// List reads every definition file under the source directory.
func (s *FileSystemSource) List(ctx context.Context) ([]*Definition, error) {
	info, err := os.Stat(s.dir)
	if err != nil {
		return nil, fmt.Errorf("model dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("model path %q is not a directory", s.dir)
	}

	var defs []*Definition
	err = filepath.WalkDir(s.dir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || (!strings.HasSuffix(d.Name(), ".yaml") && !strings.HasSuffix(d.Name(), ".yml")) {
			return nil
		}

		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading cube file %s: %w", path, err)
		}
		if len(strings.TrimSpace(string(content))) == 0 {
			return nil // skip empty files
		}

		rel, err := filepath.Rel(s.dir, path)
		if err != nil {
			rel = d.Name()
		}
		defs = append(defs, &Definition{
			Name:        filepath.ToSlash(rel),
			Content:     content,
			Fingerprint: ComputeFingerprint(content),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs, nil
}

// MemorySource is an in-memory Source.
// Useful for testing and development.
type MemorySource struct {
	mu    sync.RWMutex
	files map[string][]byte
}

// NewMemorySource creates an empty in-memory source.
func NewMemorySource() *MemorySource {
	return &MemorySource{files: make(map[string][]byte)}
}

// Put adds or replaces a definition.
func (s *MemorySource) Put(name string, content []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Store a copy to prevent external modification
	s.files[name] = append([]byte(nil), content...)
}

// Delete removes a definition.
func (s *MemorySource) Delete(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.files, name)
}

// List returns all definitions ordered by name.
func (s *MemorySource) List(_ context.Context) ([]*Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	defs := make([]*Definition, 0, len(s.files))
	for name, content := range s.files {
		defs = append(defs, &Definition{
			Name:        name,
			Content:     append([]byte(nil), content...),
			Fingerprint: ComputeFingerprint(content),
		})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs, nil
}
