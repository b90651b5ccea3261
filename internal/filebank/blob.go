// internal/filebank/blob.go
package filebank

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/FairForge/tierbank/internal/bank"
	"github.com/cespare/xxhash/v2"
)

// ErrChecksum is returned when restored bytes do not match their checksum
var ErrChecksum = errors.New("filebank: checksum mismatch")

// FileSource is the cold source of one file
type FileSource struct {
	Path string
}

// ModifiedAt returns the file's mtime. A file that cannot be stat'ed
// reports now so that any hot copy counts as stale.
func (s FileSource) ModifiedAt() (time.Time, bool) {
	info, err := os.Stat(s.Path)
	if err != nil {
		return time.Now(), true
	}
	return info.ModTime(), true
}

// Blob holds the contents of a file
type Blob struct {
	Bytes []byte
	Sum   uint64
}

// NewBlob wraps data and computes its checksum
func NewBlob(data []byte) *Blob {
	return &Blob{Bytes: data, Sum: xxhash.Sum64(data)}
}

func (b *Blob) AsSerializable() (bank.Serializable, bool) {
	return b, true
}

func (b *Blob) SizeInMemory() int64 {
	return int64(len(b.Bytes))
}

func (b *Blob) AboutToUnload() {}

// Serialize writes the checksum followed by the bytes
func (b *Blob) Serialize(w io.Writer) error {
	var header [8]byte
	binary.BigEndian.PutUint64(header[:], b.Sum)
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err := w.Write(b.Bytes)
	return err
}

// Deserialize reads what Serialize wrote and verifies the checksum
func (b *Blob) Deserialize(r io.Reader) error {
	var header [8]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return fmt.Errorf("read checksum: %w", err)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	sum := binary.BigEndian.Uint64(header[:])
	if xxhash.Sum64(data) != sum {
		return ErrChecksum
	}
	b.Bytes = data
	b.Sum = sum
	return nil
}

// Builder reads files into blobs
type Builder struct {
	// MaxFileSize rejects larger files; zero means no limit
	MaxFileSize int64
}

func (bl Builder) LoadFromSource(ctx context.Context, src bank.Source) (bank.Data, error) {
	fs, ok := src.(FileSource)
	if !ok {
		return nil, fmt.Errorf("filebank: unsupported source %T", src)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if bl.MaxFileSize > 0 {
		info, err := os.Stat(fs.Path)
		if err != nil {
			return nil, err
		}
		if info.Size() > bl.MaxFileSize {
			return nil, fmt.Errorf("filebank: %s is %d bytes, limit is %d", fs.Path, info.Size(), bl.MaxFileSize)
		}
	}

	data, err := os.ReadFile(fs.Path)
	if err != nil {
		return nil, err
	}
	return NewBlob(data), nil
}

func (bl Builder) NewData() bank.Data {
	return &Blob{}
}
