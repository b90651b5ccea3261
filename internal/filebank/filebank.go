// internal/filebank/filebank.go
package filebank

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"slices"
	"strings"

	"github.com/FairForge/tierbank/internal/bank"
	"go.uber.org/zap"
)

// Separator between item path segments; file names keep their dots
const Separator = '/'

// Bank is a bank of the files below a root directory. Item paths are the
// slash-separated paths relative to the root.
type Bank struct {
	*bank.Bank
	root   string
	exts   []string
	logger *zap.Logger
}

// New creates a file bank over root. Only files with one of exts are
// tracked; no extensions means every file.
func New(root string, exts []string, cfg bank.Config, builder bank.Builder, logger *zap.Logger, opts ...bank.Option) (*Bank, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", root, err)
	}
	if builder == nil {
		builder = Builder{}
	}

	cfg.Separator = Separator
	b, err := bank.New(cfg, builder, logger, opts...)
	if err != nil {
		return nil, err
	}

	lower := make([]string, len(exts))
	for i, e := range exts {
		lower[i] = strings.ToLower(e)
	}

	return &Bank{
		Bank:   b,
		root:   abs,
		exts:   lower,
		logger: logger.Named(cfg.Name).Named("files"),
	}, nil
}

// Root returns the watched directory
func (fb *Bank) Root() string {
	return fb.root
}

// ItemPath maps a file to its item path. It reports false for files
// outside the root or filtered out by extension.
func (fb *Bank) ItemPath(file string) (string, bool) {
	abs, err := filepath.Abs(file)
	if err != nil {
		return "", false
	}
	rel, err := filepath.Rel(fb.root, abs)
	if err != nil || rel == "." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || rel == ".." {
		return "", false
	}
	if len(fb.exts) > 0 && !slices.Contains(fb.exts, strings.ToLower(filepath.Ext(rel))) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

// FilePath maps an item path back to its file
func (fb *Bank) FilePath(item string) string {
	return filepath.Join(fb.root, filepath.FromSlash(item))
}

// AddFile adds file to the bank if it is tracked
func (fb *Bank) AddFile(file string) error {
	item, ok := fb.ItemPath(file)
	if !ok {
		return nil
	}
	abs, _ := filepath.Abs(file)
	return fb.Add(item, FileSource{Path: abs})
}

// Scan adds every tracked file below dir and returns how many were added
func (fb *Bank) Scan(dir string) (int, error) {
	added := 0
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		item, ok := fb.ItemPath(path)
		if !ok {
			return nil
		}
		if fb.Has(item) {
			return nil
		}
		if err := fb.AddFile(path); err != nil {
			fb.logger.Warn("skipping file", zap.String("file", path), zap.Error(err))
			return nil
		}
		added++
		return nil
	})
	if err != nil {
		return added, fmt.Errorf("scan %s: %w", dir, err)
	}
	return added, nil
}

// Blob returns the contents of item, loading it when needed
func (fb *Bank) Blob(item string) (*Blob, error) {
	d, err := fb.Data(item)
	if err != nil {
		return nil, err
	}
	blob, ok := d.(*Blob)
	if !ok {
		return nil, fmt.Errorf("filebank: %s holds %T", item, d)
	}
	return blob, nil
}

// RemoveUnder removes every item at or below prefix
func (fb *Bank) RemoveUnder(prefix string) int {
	var items []string
	fb.IterateUnder(prefix, func(path string, _ bank.Source) bool {
		items = append(items, path)
		return true
	})
	for _, item := range items {
		if err := fb.Remove(item); err != nil {
			fb.logger.Warn("remove failed", zap.String("item", item), zap.Error(err))
		}
	}
	return len(items)
}
