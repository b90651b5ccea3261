// internal/tier/tracker.go
package tier

import (
	"sort"
	"sync"
	"time"
)

// Entry is the tier record of one item
type Entry struct {
	Key        string
	Level      Level
	Size       int64 // bytes at the current level
	LastAccess time.Time
}

// Tracker records where each item's data lives and when it was last
// touched, keeps the per-tier byte totals and picks demotion candidates.
// All methods are safe for concurrent use.
type Tracker struct {
	mu       sync.RWMutex
	entries  map[string]*Entry
	limits   [Memory + 1]int64
	counters *Counters
	now      func() time.Time
}

// NewTracker creates a tracker with unlimited budgets
func NewTracker() *Tracker {
	t := &Tracker{
		entries:  make(map[string]*Entry),
		counters: &Counters{},
		now:      time.Now,
	}
	for i := range t.limits {
		t.limits[i] = Unlimited
	}
	return t
}

// SetClock replaces the time source, for tests
func (t *Tracker) SetClock(now func() time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.now = now
}

// Counters returns the live byte totals
func (t *Tracker) Counters() *Counters {
	return t.counters
}

// Add registers key in the Cold tier if it is not tracked yet
func (t *Tracker) Add(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.entries[key]; ok {
		return
	}
	t.entries[key] = &Entry{Key: key, Level: Cold}
}

// Remove forgets key and releases its bytes
func (t *Tracker) Remove(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if e, ok := t.entries[key]; ok {
		t.counters.Add(e.Level, -e.Size)
		delete(t.entries, key)
	}
}

// Reset forgets every entry and zeroes the totals
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.entries = make(map[string]*Entry)
	t.counters.Reset()
}

// SetLevel moves key to level with size bytes. It reports false and
// changes nothing when key is not tracked.
func (t *Tracker) SetLevel(key string, level Level, size int64) bool {
	if level == Cold {
		size = 0
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[key]
	if !ok {
		return false
	}
	t.counters.Add(e.Level, -e.Size)
	e.Level = level
	e.Size = size
	t.counters.Add(e.Level, e.Size)
	return true
}

// MarkAccessed sets the last access time of key to now
func (t *Tracker) MarkAccessed(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if e, ok := t.entries[key]; ok {
		e.LastAccess = t.now()
	}
}

// Level returns the current tier of key
func (t *Tracker) Level(key string) (Level, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	e, ok := t.entries[key]
	if !ok {
		return Cold, false
	}
	return e.Level, true
}

// Entry returns a copy of the record of key
func (t *Tracker) Entry(key string) (Entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	e, ok := t.entries[key]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Count returns how many items are in level
func (t *Tracker) Count(level Level) int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n := 0
	for _, e := range t.entries {
		if e.Level == level {
			n++
		}
	}
	return n
}

// SetLimit sets the byte budget of level; Unlimited disables it
func (t *Tracker) SetLimit(level Level, maxBytes int64) {
	if !level.Valid() {
		return
	}
	if maxBytes < 0 {
		maxBytes = Unlimited
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.limits[level] = maxBytes
}

// Limit returns the byte budget of level
func (t *Tracker) Limit(level Level) int64 {
	if !level.Valid() {
		return Unlimited
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.limits[level]
}

// Total returns the bytes currently held in level
func (t *Tracker) Total(level Level) int64 {
	return t.counters.Bytes(level)
}

// Excess returns how many bytes level is over budget, or 0
func (t *Tracker) Excess(level Level) int64 {
	limit := t.Limit(level)
	if limit == Unlimited || level == Cold {
		return 0
	}
	if over := t.Total(level) - limit; over > 0 {
		return over
	}
	return 0
}

// CandidatesForDemotion returns the least recently accessed keys of level
// whose sizes add up to at least excessBytes. Equal access times are
// ordered by key. If the whole tier is smaller than excessBytes every key
// is returned.
func (t *Tracker) CandidatesForDemotion(level Level, excessBytes int64) []string {
	if level == Cold || excessBytes <= 0 {
		return nil
	}

	t.mu.RLock()
	var pool []Entry
	for _, e := range t.entries {
		if e.Level == level {
			pool = append(pool, *e)
		}
	}
	t.mu.RUnlock()

	sort.Slice(pool, func(i, j int) bool {
		if !pool[i].LastAccess.Equal(pool[j].LastAccess) {
			return pool[i].LastAccess.Before(pool[j].LastAccess)
		}
		return pool[i].Key < pool[j].Key
	})

	var (
		keys    []string
		covered int64
	)
	for _, e := range pool {
		if covered >= excessBytes {
			break
		}
		keys = append(keys, e.Key)
		covered += e.Size
	}
	return keys
}
