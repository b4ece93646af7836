// Package local implements a filesystem raw-artifact store.
package local

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/JakeFAU/listing-tracker/internal/crawler"
	"github.com/JakeFAU/listing-tracker/internal/storage"
)

// Config captures the parameters for the local filesystem store.
type Config struct {
	// BaseDir is the root directory where artifacts are stored.
	BaseDir      string               `mapstructure:"base_dir" yaml:"base_dir"`
	PathTemplate storage.PathTemplate `mapstructure:"path_template" yaml:"path_template"`
}

// BlobStore writes raw pages to the local filesystem.
type BlobStore struct {
	baseDir string
	tmpl    storage.PathTemplate
}

var _ crawler.ArtifactStore = (*BlobStore)(nil)

// New creates a filesystem-backed store, creating BaseDir when needed.
func New(cfg Config) (*BlobStore, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	if cfg.PathTemplate == "" {
		cfg.PathTemplate = storage.DefaultPathTemplate
	}
	if err := cfg.PathTemplate.Validate(); err != nil {
		return nil, err
	}
	// Prune walks one directory per resource.
	if rest, ok := strings.CutPrefix(string(cfg.PathTemplate), "{id}/"); !ok || strings.Contains(rest, "/") {
		return nil, fmt.Errorf("path template %q must have the form {id}/<file name>", cfg.PathTemplate)
	}

	info, err := os.Stat(cfg.BaseDir)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat base directory: %w", err)
		}
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("failed to create base directory: %w", mkErr)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	testFile := filepath.Join(cfg.BaseDir, ".writable_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	if err := os.Remove(testFile); err != nil {
		return nil, fmt.Errorf("failed to clean up test file: %w", err)
	}

	return &BlobStore{baseDir: cfg.BaseDir, tmpl: cfg.PathTemplate}, nil
}

// Path returns the artifact key for a resource and run.
func (s *BlobStore) Path(resourceID string, runStartedAt time.Time) string {
	return s.tmpl.Render(resourceID, runStartedAt)
}

// Write stores body under the deterministic key and returns the key.
func (s *BlobStore) Write(ctx context.Context, resourceID string, runStartedAt time.Time, body []byte) (string, error) {
	if strings.TrimSpace(resourceID) == "" {
		return "", fmt.Errorf("resource id is required")
	}
	return s.Put(ctx, s.Path(resourceID, runStartedAt), body)
}

// Put stores body under key, creating parent directories.
func (s *BlobStore) Put(_ context.Context, key string, body []byte) (string, error) {
	fullPath, err := s.resolve(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o750); err != nil {
		return "", fmt.Errorf("failed to create parent directories: %w", err)
	}
	if err := os.WriteFile(fullPath, body, 0o600); err != nil {
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	return key, nil
}

// Read returns the artifact stored under key.
func (s *BlobStore) Read(_ context.Context, key string) ([]byte, error) {
	fullPath, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(fullPath) // #nosec G304 -- path is confined to baseDir.
	if errors.Is(err, fs.ErrNotExist) {
		return nil, &crawler.ArtifactMissingError{Path: key}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return data, nil
}

// Exists reports whether an artifact is stored under key.
func (s *BlobStore) Exists(_ context.Context, key string) (bool, error) {
	fullPath, err := s.resolve(key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(fullPath)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("failed to stat file: %w", err)
	}
}

// Prune keeps the newest keep artifacts of every resource directory and
// removes the rest. Downloaded images are left alone. It returns the number
// of files removed.
func (s *BlobStore) Prune(_ context.Context, keep int) (int, error) {
	if keep < 1 {
		return 0, fmt.Errorf("keep must be >= 1")
	}
	dirs, err := os.ReadDir(s.baseDir)
	if err != nil {
		return 0, fmt.Errorf("failed to list base directory: %w", err)
	}
	removed := 0
	for _, dir := range dirs {
		if !dir.IsDir() || dir.Name() == storage.ImagesDir {
			continue
		}
		resourceDir := filepath.Join(s.baseDir, dir.Name())
		files, err := os.ReadDir(resourceDir)
		if err != nil {
			return removed, fmt.Errorf("failed to list %s: %w", dir.Name(), err)
		}
		names := make([]string, 0, len(files))
		for _, f := range files {
			if !f.IsDir() {
				names = append(names, f.Name())
			}
		}
		if len(names) <= keep {
			continue
		}
		// Timestamped names sort chronologically.
		sort.Sort(sort.Reverse(sort.StringSlice(names)))
		for _, name := range names[keep:] {
			if err := os.Remove(filepath.Join(resourceDir, name)); err != nil {
				return removed, fmt.Errorf("failed to remove %s: %w", name, err)
			}
			removed++
		}
	}
	return removed, nil
}

func (s *BlobStore) resolve(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("path is required")
	}
	fullPath := filepath.Join(s.baseDir, key)
	cleanBaseDir := filepath.Clean(s.baseDir)
	if !strings.HasPrefix(filepath.Clean(fullPath), cleanBaseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected")
	}
	return fullPath, nil
}
