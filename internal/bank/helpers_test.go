package bank

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/FairForge/tierbank/internal/hotstore"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// testSource is a cold source whose modification time tests can move
type testSource struct {
	mu        sync.Mutex
	value     string
	size      int64
	modified  time.Time
	immutable bool
}

func newSource(value string, size int64) *testSource {
	return &testSource{value: value, size: size, modified: time.Now().Add(-time.Hour)}
}

func (s *testSource) ModifiedAt() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.modified, !s.immutable
}

func (s *testSource) touch(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.modified = t
}

// testData serializes as its size followed by its value
type testData struct {
	value    string
	size     int64
	opaque   bool
	restored bool
	unloads  atomic.Int32
}

func (d *testData) AsSerializable() (Serializable, bool) {
	if d.opaque {
		return nil, false
	}
	return d, true
}

func (d *testData) SizeInMemory() int64 { return d.size }

func (d *testData) AboutToUnload() { d.unloads.Add(1) }

func (d *testData) Serialize(w io.Writer) error {
	if err := binary.Write(w, binary.LittleEndian, d.size); err != nil {
		return err
	}
	_, err := io.WriteString(w, d.value)
	return err
}

func (d *testData) Deserialize(r io.Reader) error {
	if err := binary.Read(r, binary.LittleEndian, &d.size); err != nil {
		return err
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	d.value = string(b)
	d.restored = true
	return nil
}

// testBuilder counts builds and can be told to fail
type testBuilder struct {
	builds atomic.Int32
	fail   atomic.Bool
	opaque bool
	delay  time.Duration

	// building gateValue signals started and waits for release
	gateValue string
	started   chan struct{}
	gate      chan struct{}
	openGate  sync.Once
}

// newGatedBuilder returns a builder that blocks while building value.
// Register release as a cleanup after the bank so Close cannot hang.
func newGatedBuilder(value string) *testBuilder {
	return &testBuilder{
		gateValue: value,
		started:   make(chan struct{}, 1),
		gate:      make(chan struct{}),
	}
}

func (b *testBuilder) release() {
	if b.gate != nil {
		b.openGate.Do(func() { close(b.gate) })
	}
}

func (b *testBuilder) LoadFromSource(_ context.Context, src Source) (Data, error) {
	if b.gate != nil && src.(*testSource).value == b.gateValue {
		b.started <- struct{}{}
		<-b.gate
	}
	if b.delay > 0 {
		time.Sleep(b.delay)
	}
	if b.fail.Load() {
		return nil, errors.New("corrupt source")
	}
	s := src.(*testSource)
	b.builds.Add(1)
	return &testData{value: s.value, size: s.size, opaque: b.opaque}, nil
}

func (b *testBuilder) NewData() Data {
	if b.opaque {
		return nil
	}
	return &testData{}
}

// tickClock advances one second per reading
type tickClock struct {
	n atomic.Int64
}

func (c *tickClock) Now() time.Time {
	return time.Unix(1_700_000_000+c.n.Add(1), 0)
}

// countingStore records how many calls run at once for each key
type countingStore struct {
	hotstore.Store

	mu       sync.Mutex
	inFlight map[string]int
	maxSeen  int
	puts     atomic.Int32
}

func newCountingStore(t *testing.T) *countingStore {
	t.Helper()
	fs, err := hotstore.NewFS(filepath.Join(t.TempDir(), "hot"))
	require.NoError(t, err)
	return &countingStore{Store: fs, inFlight: make(map[string]int)}
}

func (s *countingStore) enter(key []string) func() {
	k := strings.Join(key, "/")
	s.mu.Lock()
	s.inFlight[k]++
	if s.inFlight[k] > s.maxSeen {
		s.maxSeen = s.inFlight[k]
	}
	s.mu.Unlock()

	time.Sleep(200 * time.Microsecond)

	return func() {
		s.mu.Lock()
		s.inFlight[k]--
		s.mu.Unlock()
	}
}

func (s *countingStore) max() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxSeen
}

func (s *countingStore) Put(ctx context.Context, key []string, data []byte) error {
	defer s.enter(key)()
	s.puts.Add(1)
	return s.Store.Put(ctx, key, data)
}

func (s *countingStore) Get(ctx context.Context, key []string) ([]byte, hotstore.Info, error) {
	defer s.enter(key)()
	return s.Store.Get(ctx, key)
}

func (s *countingStore) Stat(ctx context.Context, key []string) (hotstore.Info, error) {
	defer s.enter(key)()
	return s.Store.Stat(ctx, key)
}

func (s *countingStore) Delete(ctx context.Context, key []string) error {
	defer s.enter(key)()
	return s.Store.Delete(ctx, key)
}

// failingStore refuses to write failKey
type failingStore struct {
	*countingStore
	failKey string
}

func (s *failingStore) Put(ctx context.Context, key []string, data []byte) error {
	if strings.Join(key, "/") == s.failKey {
		return errors.New("disk full")
	}
	return s.countingStore.Put(ctx, key, data)
}

func newTestBank(t *testing.T, cfg Config, builder Builder, opts ...Option) *Bank {
	t.Helper()
	if cfg.Name == "" {
		cfg.Name = "test"
	}
	if cfg.HotStorageLocation == "" {
		cfg.HotStorageLocation = filepath.Join(t.TempDir(), "hot")
	}

	b, err := New(cfg, builder, zap.NewNop(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}
