// Package disk implements storage.Adapter on the local filesystem.
// Each key maps to one file under the configured root; writes go through
// a temp file and rename so readers never observe a partial blob.
package disk

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"pkt.systems/paird/internal/storage"
)

// Config controls the disk store behaviour.
type Config struct {
	// Root is the directory holding session blobs.
	Root string
}

// Store implements storage.Adapter backed by a local directory.
type Store struct {
	root   string
	tmpDir string
}

// New constructs a Store rooted at cfg.Root, creating the directory tree
// when necessary.
func New(cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.Root) == "" {
		return nil, fmt.Errorf("disk: root directory is required")
	}
	root := filepath.Clean(cfg.Root)
	tmpDir := filepath.Join(root, ".tmp")
	for _, dir := range []string{root, tmpDir} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("disk: create %s: %w", dir, err)
		}
	}
	return &Store{root: root, tmpDir: tmpDir}, nil
}

func (s *Store) pathFor(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", fmt.Errorf("disk: empty key")
	}
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == "." || strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", fmt.Errorf("disk: invalid key %q", key)
	}
	return filepath.Join(s.root, clean), nil
}

// Read returns the blob stored for key.
func (s *Store) Read(_ context.Context, key string) ([]byte, error) {
	path, err := s.pathFor(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("disk: read %s: %w", key, err)
	}
	return data, nil
}

// Write stores data for key via temp file + rename.
func (s *Store) Write(_ context.Context, key string, data []byte) error {
	path, err := s.pathFor(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("disk: create parent for %s: %w", key, err)
	}
	tmp, err := os.CreateTemp(s.tmpDir, "blob-*")
	if err != nil {
		return fmt.Errorf("disk: create temp: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("disk: write temp for %s: %w", key, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("disk: sync temp for %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("disk: close temp for %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("disk: rename into place for %s: %w", key, err)
	}
	return nil
}

// Remove deletes the file for key; absent keys are not an error.
func (s *Store) Remove(_ context.Context, key string) error {
	path, err := s.pathFor(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("disk: remove %s: %w", key, err)
	}
	return nil
}

// List walks the root directory and reports every stored key.
func (s *Store) List(_ context.Context) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(s.root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			if path == s.tmpDir {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		keys = append(keys, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("disk: list: %w", err)
	}
	return keys, nil
}

// Close satisfies storage.Adapter and is a no-op for the disk store.
func (s *Store) Close() error { return nil }
