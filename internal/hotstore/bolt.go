// internal/hotstore/bolt.go
package hotstore

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.etcd.io/bbolt"
)

const rootBucket = "hot"

// stamp prefix: unix nanoseconds of the write
const stampSize = 8

// Bolt keeps blobs in a single bbolt database. Every path segment but the
// last is a nested bucket.
type Bolt struct {
	db *bbolt.DB
}

// OpenBolt opens or creates the database file at path
func OpenBolt(path string) (*Bolt, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("hotstore: bolt path is required")
	}

	db, err := bbolt.Open(filepath.Clean(path), 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open hot storage db: %w", err)
	}

	s := &Bolt{db: db}
	if err := s.ensureRoot(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Bolt) ensureRoot() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(rootBucket)); err != nil {
			return fmt.Errorf("create root bucket: %w", err)
		}
		return nil
	})
}

// Close closes the database
func (s *Bolt) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// folder walks to the bucket holding the last segment of key
func folder(tx *bbolt.Tx, key []string) *bbolt.Bucket {
	b := tx.Bucket([]byte(rootBucket))
	for _, seg := range key[:len(key)-1] {
		if b == nil {
			return nil
		}
		b = b.Bucket([]byte(seg))
	}
	return b
}

// Put stores data stamped with the current time
func (s *Bolt) Put(ctx context.Context, key []string, data []byte) error {
	if err := validKey(key); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	value := make([]byte, stampSize+len(data))
	binary.BigEndian.PutUint64(value, uint64(time.Now().UnixNano()))
	copy(value[stampSize:], data)

	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(rootBucket))
		if b == nil {
			return fmt.Errorf("root bucket is missing")
		}
		for _, seg := range key[:len(key)-1] {
			name := []byte(seg)
			// A leftover blob may occupy the folder name.
			if b.Bucket(name) == nil && b.Get(name) != nil {
				if err := b.Delete(name); err != nil {
					return err
				}
			}
			next, err := b.CreateBucketIfNotExists(name)
			if err != nil {
				return fmt.Errorf("create bucket %q: %w", seg, err)
			}
			b = next
		}

		name := []byte(key[len(key)-1])
		if b.Bucket(name) != nil {
			if err := b.DeleteBucket(name); err != nil {
				return err
			}
		}
		return b.Put(name, value)
	})
}

// Get returns the blob of key and its write time
func (s *Bolt) Get(ctx context.Context, key []string) ([]byte, Info, error) {
	if err := validKey(key); err != nil {
		return nil, Info{}, err
	}
	if err := ctx.Err(); err != nil {
		return nil, Info{}, err
	}

	var (
		data []byte
		info Info
	)
	err := s.db.View(func(tx *bbolt.Tx) error {
		raw, err := lookup(tx, key)
		if err != nil {
			return err
		}
		info = infoOf(raw)
		// bbolt memory is only valid inside the transaction
		data = append([]byte(nil), raw[stampSize:]...)
		return nil
	})
	if err != nil {
		return nil, Info{}, err
	}
	return data, info, nil
}

// Stat returns size and write time of the blob of key
func (s *Bolt) Stat(ctx context.Context, key []string) (Info, error) {
	if err := validKey(key); err != nil {
		return Info{}, err
	}

	var info Info
	err := s.db.View(func(tx *bbolt.Tx) error {
		raw, err := lookup(tx, key)
		if err != nil {
			return err
		}
		info = infoOf(raw)
		return nil
	})
	return info, err
}

func lookup(tx *bbolt.Tx, key []string) ([]byte, error) {
	b := folder(tx, key)
	if b == nil {
		return nil, ErrNotExist
	}
	raw := b.Get([]byte(key[len(key)-1]))
	if raw == nil {
		return nil, ErrNotExist
	}
	if len(raw) < stampSize {
		return nil, fmt.Errorf("hotstore: corrupt entry %s", strings.Join(key, "/"))
	}
	return raw, nil
}

func infoOf(raw []byte) Info {
	nanos := int64(binary.BigEndian.Uint64(raw[:stampSize]))
	return Info{
		Size:      int64(len(raw) - stampSize),
		WrittenAt: time.Unix(0, nanos),
	}
}

// Delete removes the blob of key
func (s *Bolt) Delete(ctx context.Context, key []string) error {
	if err := validKey(key); err != nil {
		return err
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		b := folder(tx, key)
		if b == nil {
			return nil
		}
		name := []byte(key[len(key)-1])
		if b.Bucket(name) != nil {
			return nil
		}
		return b.Delete(name)
	})
}

// Clear drops every stored blob
func (s *Bolt) Clear(ctx context.Context) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket([]byte(rootBucket)) != nil {
			if err := tx.DeleteBucket([]byte(rootBucket)); err != nil {
				return fmt.Errorf("drop root bucket: %w", err)
			}
		}
		_, err := tx.CreateBucket([]byte(rootBucket))
		return err
	})
}
