// internal/bank/types.go
package bank

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"time"

	"github.com/FairForge/tierbank/internal/pathtree"
	"github.com/FairForge/tierbank/internal/serializer"
	"github.com/FairForge/tierbank/internal/taskqueue"
	"github.com/FairForge/tierbank/internal/tier"
)

// CacheLevel is the tier an item's data currently lives in
type CacheLevel = tier.Level

// Cache levels, lowest first
const (
	Cold   = tier.Cold
	Hot    = tier.Hot
	Memory = tier.Memory
)

// Unlimited disables a tier budget
const Unlimited = tier.Unlimited

// Importance decides when a load or unload job runs
type Importance = taskqueue.Importance

// Job importance classes
const (
	RunNow       = taskqueue.RunNow
	BeforeQueued = taskqueue.BeforeQueued
	AfterQueued  = taskqueue.AfterQueued
)

// Serializable converts loaded data to and from hot storage bytes
type Serializable = serializer.Serializable

// Source describes where an item's cold data comes from
type Source interface {
	// ModifiedAt returns the last modification time of the source. The
	// second result is false for immutable sources, which are never
	// checked for staleness.
	ModifiedAt() (time.Time, bool)
}

// Data is the in-memory representation of an item
type Data interface {
	// AsSerializable returns the view used for hot storage, if any
	AsSerializable() (Serializable, bool)
	// SizeInMemory estimates the bytes held by the object
	SizeInMemory() int64
	// AboutToUnload is called before the bank drops the object
	AboutToUnload()
}

// Builder constructs data objects for a bank
type Builder interface {
	// LoadFromSource builds the data of an item from its cold source
	LoadFromSource(ctx context.Context, src Source) (Data, error)
	// NewData returns an empty object to restore hot bytes into, or nil
	// when the bank's data cannot be restored from hot storage
	NewData() Data
}

// Flags toggle optional bank behaviour
type Flags uint8

const (
	// BackgroundThread runs queued jobs on a worker pool
	BackgroundThread Flags = 1 << iota
	// DisableHotStorage skips the Hot tier entirely
	DisableHotStorage
	// ClearHotStorageWhenBankDestroyed wipes hot storage on Close
	ClearHotStorageWhenBankDestroyed
)

// Has reports whether every flag in f is set
func (fl Flags) Has(f Flags) bool {
	return fl&f == f
}

// Config holds bank settings
type Config struct {
	Name  string
	Flags Flags

	// HotStorageLocation is the root of the filesystem hot store. Empty
	// means DefaultHotStorageLocation(Name).
	HotStorageLocation string

	// Tier budgets in bytes; zero or negative means Unlimited
	MaxHotBytes    int64
	MaxMemoryBytes int64

	// Separator between path segments, '.' when zero
	Separator rune

	// Workers is the pool size with BackgroundThread, 4 when zero
	Workers int

	// Codec compresses hot bytes: none, snappy or zstd
	Codec string

	// AutoPurge purges after a load leaves a tier over budget, at most
	// once per PurgeInterval
	AutoPurge     bool
	PurgeInterval time.Duration
}

// DefaultConfig returns the defaults for a bank called name
func DefaultConfig(name string) Config {
	return Config{
		Name:           name,
		MaxHotBytes:    Unlimited,
		MaxMemoryBytes: Unlimited,
		Separator:      pathtree.DefaultSeparator,
		Workers:        4,
		Codec:          serializer.CodecNone,
		PurgeInterval:  time.Second,
	}
}

// DefaultHotStorageLocation returns <user cache dir>/tierbank/<name>
func DefaultHotStorageLocation(name string) string {
	base, err := os.UserCacheDir()
	if err != nil {
		base = os.TempDir()
	}
	return filepath.Join(base, "tierbank", name)
}

func budget(v int64) int64 {
	if v <= 0 {
		return Unlimited
	}
	return v
}

// sameSource reports whether two sources describe the same data. Sources
// may provide Equal(Source) bool; otherwise comparable values are compared
// with ==.
func sameSource(a, b Source) bool {
	if eq, ok := a.(interface{ Equal(Source) bool }); ok {
		return eq.Equal(b)
	}
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb || !ta.Comparable() {
		return false
	}
	return a == b
}
