// internal/hotstore/fs.go
package hotstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

const fileExt = ".hot"

// FS keeps blobs as files under a root directory, one subdirectory per
// path segment
type FS struct {
	root string
}

// NewFS creates the root directory if needed
func NewFS(root string) (*FS, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("hotstore: fs root is required")
	}
	if err := os.MkdirAll(root, 0750); err != nil {
		return nil, fmt.Errorf("create hot storage dir: %w", err)
	}
	return &FS{root: filepath.Clean(root)}, nil
}

// Root returns the storage directory
func (s *FS) Root() string {
	return s.root
}

// PathFor returns the file used for key
func (s *FS) PathFor(key []string) string {
	parts := make([]string, 0, len(key)+1)
	parts = append(parts, s.root)
	for i, seg := range key {
		seg = url.PathEscape(seg)
		if i == len(key)-1 {
			seg += fileExt
		}
		parts = append(parts, seg)
	}
	return filepath.Join(parts...)
}

// Put writes data atomically through a temp file in the same directory
func (s *FS) Put(ctx context.Context, key []string, data []byte) error {
	if err := validKey(key); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	path := s.PathFor(key)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("create parent directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write hot file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close hot file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename hot file: %w", err)
	}
	return nil
}

// Get reads the blob of key
func (s *FS) Get(ctx context.Context, key []string) ([]byte, Info, error) {
	if err := validKey(key); err != nil {
		return nil, Info{}, err
	}
	if err := ctx.Err(); err != nil {
		return nil, Info{}, err
	}

	path := s.PathFor(key)
	info, err := s.stat(path)
	if err != nil {
		return nil, Info{}, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, Info{}, ErrNotExist
		}
		return nil, Info{}, fmt.Errorf("read hot file: %w", err)
	}
	info.Size = int64(len(data))
	return data, info, nil
}

// Stat returns size and modification time of the blob of key
func (s *FS) Stat(ctx context.Context, key []string) (Info, error) {
	if err := validKey(key); err != nil {
		return Info{}, err
	}
	return s.stat(s.PathFor(key))
}

func (s *FS) stat(path string) (Info, error) {
	fi, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Info{}, ErrNotExist
		}
		return Info{}, fmt.Errorf("stat hot file: %w", err)
	}
	return Info{Size: fi.Size(), WrittenAt: fi.ModTime()}, nil
}

// Delete removes the blob of key and any directories left empty
func (s *FS) Delete(ctx context.Context, key []string) error {
	if err := validKey(key); err != nil {
		return err
	}

	path := s.PathFor(key)
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove hot file: %w", err)
	}

	for dir := filepath.Dir(path); dir != s.root && strings.HasPrefix(dir, s.root); dir = filepath.Dir(dir) {
		if err := os.Remove(dir); err != nil {
			break // not empty
		}
	}
	return nil
}

// Clear removes every stored blob
func (s *FS) Clear(ctx context.Context) error {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return os.MkdirAll(s.root, 0750)
		}
		return fmt.Errorf("read hot storage dir: %w", err)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(s.root, e.Name())); err != nil {
			return fmt.Errorf("clear hot storage: %w", err)
		}
	}
	return nil
}

// Close is a no-op for the filesystem backend
func (s *FS) Close() error {
	return nil
}
