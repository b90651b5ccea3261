// internal/bank/notify.go
package bank

import (
	"slices"
	"sync"
)

// LoadEvent reports that an item was brought into memory
type LoadEvent struct {
	Path string
}

// LevelEvent reports a tier transition of an item
type LevelEvent struct {
	Path string
	From CacheLevel
	To   CacheLevel
}

type event struct {
	load  *LoadEvent
	level *LevelEvent
}

// notifier queues events raised by transition jobs until the owner
// dispatches them, so observers always run on one goroutine
type notifier struct {
	mu      sync.Mutex
	nextID  uint64
	onLoad  map[uint64]func(LoadEvent)
	onLevel map[uint64]func(LevelEvent)
	pending []event
	ready   chan struct{}

	dispatchMu sync.Mutex
}

func newNotifier() *notifier {
	return &notifier{
		onLoad:  make(map[uint64]func(LoadEvent)),
		onLevel: make(map[uint64]func(LevelEvent)),
		ready:   make(chan struct{}, 1),
	}
}

func (n *notifier) post(e event) {
	n.mu.Lock()
	n.pending = append(n.pending, e)
	n.mu.Unlock()

	select {
	case n.ready <- struct{}{}:
	default:
	}
}

func (n *notifier) postLoad(path string) {
	n.post(event{load: &LoadEvent{Path: path}})
}

func (n *notifier) postLevel(path string, from, to CacheLevel) {
	if from == to {
		return
	}
	n.post(event{level: &LevelEvent{Path: path, From: from, To: to}})
}

// dispatch delivers every pending event in the order it was posted
func (n *notifier) dispatch() int {
	n.dispatchMu.Lock()
	defer n.dispatchMu.Unlock()

	n.mu.Lock()
	events := n.pending
	n.pending = nil
	n.mu.Unlock()

	for _, e := range events {
		n.mu.Lock()
		var loads []func(LoadEvent)
		var levels []func(LevelEvent)
		if e.load != nil {
			loads = collect(n.onLoad)
		}
		if e.level != nil {
			levels = collect(n.onLevel)
		}
		n.mu.Unlock()

		for _, fn := range loads {
			fn(*e.load)
		}
		for _, fn := range levels {
			fn(*e.level)
		}
	}
	return len(events)
}

// collect returns the observers in registration order
func collect[E any](m map[uint64]func(E)) []func(E) {
	ids := make([]uint64, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	out := make([]func(E), 0, len(ids))
	for _, id := range ids {
		out = append(out, m[id])
	}
	return out
}

func (n *notifier) observeLoad(fn func(LoadEvent)) func() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nextID++
	id := n.nextID
	n.onLoad[id] = fn
	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.onLoad, id)
	}
}

func (n *notifier) observeLevel(fn func(LevelEvent)) func() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nextID++
	id := n.nextID
	n.onLevel[id] = fn
	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.onLevel, id)
	}
}

func (n *notifier) pendingCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.pending)
}
