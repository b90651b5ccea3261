// internal/hotstore/store.go
package hotstore

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotExist is returned when no hot copy exists for a key
var ErrNotExist = errors.New("hotstore: not found")

// Info describes a stored blob
type Info struct {
	Size      int64
	WrittenAt time.Time
}

// Store keeps serialized item blobs. Keys are path segments; backends map
// them onto their own hierarchy (directories, nested buckets, prefixes).
type Store interface {
	Put(ctx context.Context, key []string, data []byte) error
	Get(ctx context.Context, key []string) ([]byte, Info, error)
	Stat(ctx context.Context, key []string) (Info, error)
	Delete(ctx context.Context, key []string) error
	Clear(ctx context.Context) error
	Close() error
}

// Backend names accepted by Open
const (
	BackendFS   = "fs"
	BackendBolt = "bolt"
	BackendS3   = "s3"
)

// Options selects and configures a backend
type Options struct {
	Backend string
	Path    string // directory for fs, database file for bolt
	S3      S3Config
}

// Open creates the backend named in opts
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Backend {
	case "", BackendFS:
		return NewFS(opts.Path)
	case BackendBolt:
		return OpenBolt(opts.Path)
	case BackendS3:
		return NewS3(ctx, opts.S3)
	default:
		return nil, fmt.Errorf("hotstore: unknown backend %q", opts.Backend)
	}
}

func validKey(key []string) error {
	if len(key) == 0 {
		return errors.New("hotstore: empty key")
	}
	for _, seg := range key {
		if seg == "" || seg == "." || seg == ".." {
			return fmt.Errorf("hotstore: invalid key segment %q", seg)
		}
	}
	return nil
}
