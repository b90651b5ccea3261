// internal/bank/bank.go
package bank

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/FairForge/tierbank/internal/hotstore"
	"github.com/FairForge/tierbank/internal/pathtree"
	"github.com/FairForge/tierbank/internal/serializer"
	"github.com/FairForge/tierbank/internal/taskqueue"
	"github.com/FairForge/tierbank/internal/tier"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// Bank caches data items under hierarchical paths and moves them between
// the Cold, Hot and Memory tiers
type Bank struct {
	name    string
	flags   Flags
	builder Builder
	logger  *zap.Logger
	ctx     context.Context

	index   *pathtree.Tree[*item]
	tracker *tier.Tracker
	queue   *taskqueue.Queue
	notes   *notifier
	metrics *Metrics
	flight  singleflight.Group
	addMu   sync.Mutex

	hotMu       sync.RWMutex
	bridge      *serializer.Bridge // nil when hot storage is disabled
	hotLocation string
	customStore bool

	autoPurge    bool
	purgeLimiter *rate.Limiter
	pendingPurge atomic.Bool

	pinMu sync.Mutex
	pins  map[string]int // keys purge must leave in Memory

	registerer prometheus.Registerer
	ownsQueue  bool
	closed     atomic.Bool
}

// Option customizes a bank
type Option func(*options)

type options struct {
	store      hotstore.Store
	registerer prometheus.Registerer
	clock      func() time.Time
	queue      *taskqueue.Queue
}

// WithHotStore uses store instead of a filesystem store at
// HotStorageLocation. The caller keeps ownership of store.
func WithHotStore(store hotstore.Store) Option {
	return func(o *options) { o.store = store }
}

// WithRegisterer registers the bank's metrics on reg
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithClock replaces the access-time clock
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.clock = now }
}

// WithQueue runs jobs on a queue shared with other banks. The caller
// closes it.
func WithQueue(q *taskqueue.Queue) Option {
	return func(o *options) { o.queue = q }
}

// New creates a bank. builder constructs the bank's data objects.
func New(cfg Config, builder Builder, logger *zap.Logger, opts ...Option) (*Bank, error) {
	if cfg.Name == "" {
		return nil, errors.New("bank: name is required")
	}
	if builder == nil {
		return nil, errors.New("bank: builder is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	b := &Bank{
		name:        cfg.Name,
		flags:       cfg.Flags,
		builder:     builder,
		logger:      logger.Named(cfg.Name),
		ctx:         context.Background(),
		index:       pathtree.New[*item](cfg.Separator),
		tracker:     tier.NewTracker(),
		notes:       newNotifier(),
		autoPurge:   cfg.AutoPurge,
		pins:        make(map[string]int),
		registerer:  o.registerer,
		customStore: o.store != nil,
	}

	interval := cfg.PurgeInterval
	if interval <= 0 {
		interval = time.Second
	}
	b.purgeLimiter = rate.NewLimiter(rate.Every(interval), 1)

	if o.clock != nil {
		b.tracker.SetClock(o.clock)
	}
	b.tracker.SetLimit(tier.Hot, budget(cfg.MaxHotBytes))
	b.tracker.SetLimit(tier.Memory, budget(cfg.MaxMemoryBytes))

	if !cfg.Flags.Has(DisableHotStorage) {
		codec, err := serializer.CodecByName(cfg.Codec)
		if err != nil {
			return nil, err
		}

		store := o.store
		if store == nil {
			b.hotLocation = cfg.HotStorageLocation
			if b.hotLocation == "" {
				b.hotLocation = DefaultHotStorageLocation(cfg.Name)
			}
			fs, err := hotstore.NewFS(b.hotLocation)
			if err != nil {
				return nil, fmt.Errorf("bank %s: %w", cfg.Name, err)
			}
			store = fs
		}
		b.bridge = serializer.NewBridge(store, codec, b.logger)
	}

	switch {
	case o.queue != nil:
		b.queue = o.queue
	case cfg.Flags.Has(BackgroundThread):
		workers := cfg.Workers
		if workers <= 0 {
			workers = 4
		}
		b.queue = taskqueue.New(workers, b.logger.Named("queue"))
		b.ownsQueue = true
	default:
		b.queue = taskqueue.New(0, b.logger.Named("queue"))
		b.ownsQueue = true
	}

	b.metrics = newMetrics(cfg.Name, b.tracker)
	if b.registerer != nil {
		if err := b.metrics.register(b.registerer); err != nil {
			if b.ownsQueue {
				b.queue.Close()
			}
			return nil, err
		}
	}

	b.logger.Info("bank created",
		zap.Bool("background", b.queue.Async()),
		zap.Bool("hot_storage", b.bridge != nil),
		zap.String("hot_location", b.hotLocation),
		zap.Int64("max_hot_bytes", b.tracker.Limit(tier.Hot)),
		zap.Int64("max_memory_bytes", b.tracker.Limit(tier.Memory)))

	return b, nil
}

// Name returns the bank name
func (b *Bank) Name() string {
	return b.name
}

// Metrics returns the bank's collectors
func (b *Bank) Metrics() *Metrics {
	return b.metrics
}

// Async reports whether jobs run on background workers
func (b *Bank) Async() bool {
	return b.queue.Async()
}

func (b *Bank) hot() *serializer.Bridge {
	b.hotMu.RLock()
	defer b.hotMu.RUnlock()
	return b.bridge
}

func (b *Bank) lookup(path string) (*item, error) {
	if _, err := b.index.Parse(path); err != nil {
		return nil, fmt.Errorf("%w: %q", err, path)
	}
	it, ok := b.index.Get(path)
	if !ok {
		return nil, ErrNotFound(path)
	}
	return it, nil
}

// Add registers src under path in the Cold tier. Adding the same source
// again is a no-op; a different source fails with AlreadyExistsError.
func (b *Bank) Add(path string, src Source) error {
	if b.closed.Load() {
		return ErrClosed
	}
	p, err := b.index.Parse(path)
	if err != nil {
		return fmt.Errorf("%w: %q", err, path)
	}

	b.addMu.Lock()
	defer b.addMu.Unlock()

	if existing, ok := b.index.Get(path); ok {
		if sameSource(existing.Source(), src) {
			return nil
		}
		return ErrAlreadyExists(p.String())
	}

	it := newItem(p, src)
	if _, err := b.index.Insert(path, it); err != nil {
		return fmt.Errorf("add %s: %w", p, err)
	}
	b.tracker.Add(it.key)

	b.logger.Debug("item added", zap.String("path", p.String()))
	return nil
}

// Remove drops path and every cached copy of it. Absent paths are ignored.
func (b *Bank) Remove(path string) error {
	it, err := b.lookup(path)
	if err != nil {
		if IsNotFound(err) {
			return nil
		}
		return err
	}

	err = b.submit(it, RunNow, "remove", func() error {
		if err := b.unload(it, Cold); err != nil {
			return err
		}
		b.discardHot(it)
		b.index.Remove(path)
		b.tracker.Remove(it.key)
		return nil
	})
	b.afterCall()
	if IsNotFound(err) {
		return nil
	}
	return err
}

// Has reports whether path names an item
func (b *Bank) Has(path string) bool {
	return b.index.Has(path)
}

// Iterate calls fn for every item in path order until fn returns false
func (b *Bank) Iterate(fn func(path string, src Source) bool) {
	b.IterateUnder("", fn)
}

// IterateUnder is Iterate restricted to the items below prefix
func (b *Bank) IterateUnder(prefix string, fn func(path string, src Source) bool) {
	_ = b.index.Walk(prefix, func(path string, it *item) error {
		if !fn(path, it.Source()) {
			return pathtree.ErrStop
		}
		return nil
	})
}

// AllItems returns every item path in order
func (b *Bank) AllItems() []string {
	return b.index.Paths()
}

// IsLoaded reports whether path is in the Memory tier
func (b *Bank) IsLoaded(path string) bool {
	return b.Level(path) == Memory
}

// Level returns the current tier of path; unknown paths are Cold
func (b *Bank) Level(path string) CacheLevel {
	it, err := b.lookup(path)
	if err != nil {
		return Cold
	}
	level, _ := b.tracker.Level(it.key)
	return level
}

// ObserveLoad registers fn for load events and returns its cancel func
func (b *Bank) ObserveLoad(fn func(LoadEvent)) func() {
	return b.notes.observeLoad(fn)
}

// ObserveCacheLevel registers fn for tier transitions and returns its
// cancel func
func (b *Bank) ObserveCacheLevel(fn func(LevelEvent)) func() {
	return b.notes.observeLevel(fn)
}

// DispatchNotifications delivers queued events on the calling goroutine
// and returns how many were delivered
func (b *Bank) DispatchNotifications() int {
	return b.notes.dispatch()
}

// NotifyReady is signalled when events are waiting to be dispatched
func (b *Bank) NotifyReady() <-chan struct{} {
	return b.notes.ready
}

// afterCall finishes a public call on the caller's goroutine: a purge
// requested by a synchronous load runs here, and synchronous banks
// deliver their notifications.
func (b *Bank) afterCall() {
	if b.pendingPurge.CompareAndSwap(true, false) {
		b.purge()
	}
	if !b.queue.Async() {
		b.notes.dispatch()
	}
}

// HotStorageLocation returns the root of the filesystem hot store
func (b *Bank) HotStorageLocation() string {
	b.hotMu.RLock()
	defer b.hotMu.RUnlock()
	return b.hotLocation
}

// SetHotStorageLocation moves hot storage to dir. Hot items drop back to
// Cold; the old location is left as it is.
func (b *Bank) SetHotStorageLocation(dir string) error {
	if b.hot() == nil {
		return nil
	}
	if b.customStore {
		return ErrFixedHotStorage
	}

	fs, err := hotstore.NewFS(dir)
	if err != nil {
		return err
	}

	for _, e := range b.index.Entries("") {
		it := e.Value
		err := b.submit(it, RunNow, "relocate", func() error {
			it.setHot(false, 0)
			if level, _ := b.tracker.Level(it.key); level == Hot {
				b.tracker.SetLevel(it.key, Cold, 0)
				b.notes.postLevel(it.path.String(), Hot, Cold)
			}
			return nil
		})
		if err != nil && !IsNotFound(err) {
			return err
		}
	}

	b.hotMu.Lock()
	old := b.bridge
	b.bridge = serializer.NewBridge(fs, old.Codec(), b.logger)
	b.hotLocation = dir
	b.hotMu.Unlock()

	b.logger.Info("hot storage moved", zap.String("location", dir))
	b.afterCall()
	return nil
}

// MaxHotBytes returns the Hot tier budget
func (b *Bank) MaxHotBytes() int64 {
	return b.tracker.Limit(tier.Hot)
}

// SetMaxHotBytes changes the Hot tier budget; zero or negative is Unlimited
func (b *Bank) SetMaxHotBytes(n int64) {
	b.tracker.SetLimit(tier.Hot, budget(n))
}

// MaxMemoryBytes returns the Memory tier budget
func (b *Bank) MaxMemoryBytes() int64 {
	return b.tracker.Limit(tier.Memory)
}

// SetMaxMemoryBytes changes the Memory tier budget; zero or negative is
// Unlimited
func (b *Bank) SetMaxMemoryBytes(n int64) {
	b.tracker.SetLimit(tier.Memory, budget(n))
}

// Stats is a snapshot of a bank
type Stats struct {
	Name           string `json:"name"`
	Items          int    `json:"items"`
	MemoryItems    int    `json:"memory_items"`
	HotItems       int    `json:"hot_items"`
	MemoryBytes    int64  `json:"memory_bytes"`
	HotBytes       int64  `json:"hot_bytes"`
	MaxMemoryBytes int64  `json:"max_memory_bytes"`
	MaxHotBytes    int64  `json:"max_hot_bytes"`
	PendingJobs    int    `json:"pending_jobs"`
	PendingEvents  int    `json:"pending_events"`
}

// Stats returns counts and byte totals
func (b *Bank) Stats() Stats {
	return Stats{
		Name:           b.name,
		Items:          b.index.Len(),
		MemoryItems:    b.tracker.Count(tier.Memory),
		HotItems:       b.tracker.Count(tier.Hot),
		MemoryBytes:    b.tracker.Total(tier.Memory),
		HotBytes:       b.tracker.Total(tier.Hot),
		MaxMemoryBytes: b.tracker.Limit(tier.Memory),
		MaxHotBytes:    b.tracker.Limit(tier.Hot),
		PendingJobs:    b.queue.Pending(),
		PendingEvents:  b.notes.pendingCount(),
	}
}

// ItemInfo describes one item
type ItemInfo struct {
	Path       string     `json:"path"`
	Level      CacheLevel `json:"-"`
	LevelName  string     `json:"level"`
	Size       int64      `json:"size"`
	LastAccess time.Time  `json:"last_access"`
	HotBytes   bool       `json:"hot_bytes"`
}

// Info returns the tier record of path
func (b *Bank) Info(path string) (ItemInfo, error) {
	it, err := b.lookup(path)
	if err != nil {
		return ItemInfo{}, err
	}
	e, _ := b.tracker.Entry(it.key)
	valid, _ := it.hotCopy()
	return ItemInfo{
		Path:       it.path.String(),
		Level:      e.Level,
		LevelName:  e.Level.String(),
		Size:       e.Size,
		LastAccess: e.LastAccess,
		HotBytes:   valid || e.Level == Hot,
	}, nil
}

// Close waits for queued jobs, clears hot storage when configured to and
// stops the bank's workers
func (b *Bank) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}

	b.queue.DrainAll()
	b.notes.dispatch()

	var err error
	if bridge := b.hot(); bridge != nil {
		if b.flags.Has(ClearHotStorageWhenBankDestroyed) {
			if cerr := bridge.Clear(b.ctx); cerr != nil {
				err = fmt.Errorf("clear hot storage: %w", cerr)
			}
		}
		if !b.customStore {
			if cerr := bridge.Backend().Close(); cerr != nil && err == nil {
				err = cerr
			}
		}
	}

	if b.ownsQueue {
		b.queue.Close()
	}
	if b.registerer != nil {
		b.metrics.unregister(b.registerer)
	}

	b.logger.Info("bank closed", zap.Int("items", b.index.Len()))
	return err
}
