// internal/bank/purge.go
package bank

import (
	"go.uber.org/zap"
)

// item jobs are keyed name + "/" + key
func (b *Bank) purgeJobKey() string {
	return b.name + "#purge"
}

// Purge demotes the least recently used items of every tier that is over
// budget, Memory first, until each tier fits or nothing more can move.
// Failures are logged and skipped.
func (b *Bank) Purge() {
	b.purge()
	b.afterCall()
}

func (b *Bank) purge() {
	b.metrics.Purges.Inc()
	for _, level := range []CacheLevel{Memory, Hot} {
		b.purgeLevel(level)
	}
}

func (b *Bank) purgeLevel(level CacheLevel) {
	failed := make(map[string]struct{})
	var stuck int64

	for {
		excess := b.tracker.Excess(level)
		if excess == 0 {
			return
		}

		moved := 0
		for _, key := range b.tracker.CandidatesForDemotion(level, excess+stuck) {
			if _, skip := failed[key]; skip {
				continue
			}
			it, ok := b.index.Get(key)
			if !ok {
				// bytes of an item that is no longer indexed
				b.tracker.Remove(key)
				moved++
				continue
			}
			entry, _ := b.tracker.Entry(key)
			if b.pinned(key) {
				failed[key] = struct{}{}
				stuck += entry.Size
				continue
			}

			err := b.submit(it, RunNow, "purge", func() error {
				return b.unload(it, level.Below())
			})
			if IsNotFound(err) {
				moved++
				continue
			}
			if err != nil {
				b.logger.Warn("purge could not demote item",
					zap.String("path", it.path.String()),
					zap.Stringer("level", level),
					zap.Error(err))
				failed[key] = struct{}{}
				stuck += entry.Size
				continue
			}
			moved++
		}

		if moved == 0 {
			b.logger.Warn("purge stopped over budget",
				zap.Stringer("level", level),
				zap.Int64("excess", b.tracker.Excess(level)))
			return
		}
	}
}

func (b *Bank) pin(key string) {
	b.pinMu.Lock()
	b.pins[key]++
	b.pinMu.Unlock()
}

func (b *Bank) unpin(key string) {
	b.pinMu.Lock()
	defer b.pinMu.Unlock()
	if b.pins[key]--; b.pins[key] <= 0 {
		delete(b.pins, key)
	}
}

func (b *Bank) pinned(key string) bool {
	b.pinMu.Lock()
	defer b.pinMu.Unlock()
	return b.pins[key] > 0
}

// schedulePurge is called by loads. Purging a synchronous bank is left to
// the end of the public call so it never runs inside another job.
func (b *Bank) schedulePurge() {
	if !b.autoPurge {
		return
	}
	if b.tracker.Excess(Memory) == 0 && b.tracker.Excess(Hot) == 0 {
		return
	}
	if !b.purgeLimiter.Allow() {
		return
	}

	if !b.queue.Async() {
		b.pendingPurge.Store(true)
		return
	}

	err := b.queue.Submit(b.purgeJobKey(), AfterQueued, func() error {
		b.purge()
		return nil
	})
	if err != nil {
		b.logger.Debug("purge not scheduled", zap.Error(err))
	}
}
