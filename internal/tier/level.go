// internal/tier/level.go
package tier

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// Level is the cache tier an item currently lives in
type Level int

const (
	// Cold means only the unprocessed source is available
	Cold Level = iota
	// Hot means a serialized copy is available in hot storage
	Hot
	// Memory means the constructed object is held in memory
	Memory
)

// Unlimited disables the byte budget of a tier
const Unlimited int64 = -1

func (l Level) String() string {
	switch l {
	case Cold:
		return "cold"
	case Hot:
		return "hot"
	case Memory:
		return "memory"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// Valid reports whether l is one of the three tiers
func (l Level) Valid() bool {
	return l >= Cold && l <= Memory
}

// Below returns the next lower tier; Cold stays Cold
func (l Level) Below() Level {
	if l <= Cold {
		return Cold
	}
	return l - 1
}

// ParseLevel parses "cold", "hot" or "memory"
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "cold":
		return Cold, nil
	case "hot":
		return Hot, nil
	case "memory", "mem":
		return Memory, nil
	}
	return Cold, fmt.Errorf("tier: unknown level %q", s)
}

// Counters holds the aggregate byte totals of the Hot and Memory tiers.
// Cold data costs nothing and is not counted.
type Counters struct {
	hot    atomic.Int64
	memory atomic.Int64
}

func (c *Counters) counter(l Level) *atomic.Int64 {
	switch l {
	case Hot:
		return &c.hot
	case Memory:
		return &c.memory
	}
	return nil
}

// Add adjusts the total of a tier by delta bytes
func (c *Counters) Add(l Level, delta int64) {
	if ctr := c.counter(l); ctr != nil {
		ctr.Add(delta)
	}
}

// Bytes returns the total of a tier
func (c *Counters) Bytes(l Level) int64 {
	if ctr := c.counter(l); ctr != nil {
		return ctr.Load()
	}
	return 0
}

// Reset zeroes both totals
func (c *Counters) Reset() {
	c.hot.Store(0)
	c.memory.Store(0)
}
