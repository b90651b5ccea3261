// internal/bank/transition.go
package bank

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/FairForge/tierbank/internal/serializer"
	"github.com/FairForge/tierbank/internal/taskqueue"
	"go.uber.org/zap"
)

func (b *Bank) jobKey(key string) string {
	return b.name + "/" + key
}

// live reports whether it is still the item indexed under its path
func (b *Bank) live(it *item) bool {
	cur, ok := b.index.Get(it.key)
	return ok && cur == it
}

// submit runs fn as the transition job of it. A job whose item was removed
// or replaced before it ran does nothing and fails with NotFoundError.
// Failures of queued jobs are logged here since nobody waits for them.
func (b *Bank) submit(it *item, importance Importance, op string, fn func() error) error {
	queued := importance != RunNow && b.queue.Async()

	err := b.queue.Submit(b.jobKey(it.key), importance, func() error {
		if !b.live(it) {
			b.logger.Debug("job dropped, item is gone",
				zap.String("op", op),
				zap.String("path", it.path.String()))
			return ErrNotFound(it.path.String())
		}

		err := fn()
		if err != nil {
			b.metrics.RecordError(op)
			if queued {
				b.logger.Warn("background job failed",
					zap.String("op", op),
					zap.String("path", it.path.String()),
					zap.Error(err))
			}
		}
		return err
	})
	if errors.Is(err, taskqueue.ErrQueueClosed) {
		return ErrClosed
	}
	return err
}

// Load brings path into the Memory tier
func (b *Bank) Load(path string, importance Importance) error {
	it, err := b.lookup(path)
	if err != nil {
		return err
	}

	err = b.submit(it, importance, "load", func() error {
		return b.load(it)
	})
	b.afterCall()
	return err
}

// LoadAll loads every item and waits until the queue is idle. It returns
// the load errors joined together.
func (b *Bank) LoadAll() error {
	var (
		mu   sync.Mutex
		errs []error
	)

	for _, e := range b.index.Entries("") {
		it := e.Value
		err := b.submit(it, AfterQueued, "load", func() error {
			err := b.load(it)
			if err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return err
		})
		if errors.Is(err, ErrClosed) {
			return err
		}
	}

	b.queue.DrainAll()
	b.afterCall()

	mu.Lock()
	defer mu.Unlock()
	return errors.Join(errs...)
}

// Data returns the loaded object of path, loading it first when needed.
// Concurrent callers for one path share a single load.
func (b *Bank) Data(path string) (Data, error) {
	it, err := b.lookup(path)
	if err != nil {
		return nil, err
	}

	if d := it.loaded(); d != nil {
		b.tracker.MarkAccessed(it.key)
		return d, nil
	}

	// a purge finishing this call must not unload what it returns
	b.pin(it.key)
	defer b.unpin(it.key)

	v, err, _ := b.flight.Do(it.key, func() (any, error) {
		var d Data
		err := b.submit(it, RunNow, "load", func() error {
			if err := b.load(it); err != nil {
				return err
			}
			d = it.loaded()
			return nil
		})
		return d, err
	})
	b.afterCall()
	if err != nil {
		return nil, err
	}
	d, ok := v.(Data)
	if !ok || d == nil {
		return nil, ErrLoad(path, ErrNoData)
	}
	return d, nil
}

// load runs inside the job of it
func (b *Bank) load(it *item) error {
	from, _ := b.tracker.Level(it.key)
	if from == Memory && it.loaded() != nil {
		b.tracker.MarkAccessed(it.key)
		return nil
	}

	start := time.Now()
	data, restored, hotSize, err := b.materialize(it)
	if err != nil {
		return ErrLoad(it.path.String(), err)
	}

	it.setData(data, restored, hotSize)
	if !b.tracker.SetLevel(it.key, Memory, data.SizeInMemory()) {
		b.release(it)
		return ErrNotFound(it.path.String())
	}
	b.tracker.MarkAccessed(it.key)

	source := Cold
	if restored {
		source = Hot
	}
	b.metrics.RecordLoad(source, time.Since(start).Seconds())
	b.logger.Debug("item loaded",
		zap.String("path", it.path.String()),
		zap.Stringer("from", source),
		zap.Int64("size", data.SizeInMemory()))

	b.notes.postLoad(it.path.String())
	b.notes.postLevel(it.path.String(), from, Memory)
	b.schedulePurge()
	return nil
}

// materialize restores it from fresh hot bytes if it can, else builds it
// from its source
func (b *Bank) materialize(it *item) (Data, bool, int64, error) {
	if data, size, ok := b.restore(it); ok {
		return data, true, size, nil
	}

	data, err := b.builder.LoadFromSource(b.ctx, it.Source())
	if err != nil {
		return nil, false, 0, err
	}
	if data == nil {
		return nil, false, 0, ErrNoData
	}
	return data, false, 0, nil
}

func (b *Bank) restore(it *item) (Data, int64, bool) {
	bridge := b.hot()
	if bridge == nil {
		return nil, 0, false
	}

	info, err := bridge.Stat(b.ctx, it.hotKey)
	if err != nil {
		if !errors.Is(err, serializer.ErrNotStored) {
			b.logger.Warn("hot copy unreadable", zap.String("path", it.path.String()), zap.Error(err))
		}
		return nil, 0, false
	}

	modified, mutable := it.Source().ModifiedAt()
	if serializer.IsStale(info.WrittenAt, modified, !mutable) {
		b.logger.Debug("hot copy is stale",
			zap.String("path", it.path.String()),
			zap.Time("written_at", info.WrittenAt),
			zap.Time("modified_at", modified))
		b.discardHot(it)
		return nil, 0, false
	}

	target := b.builder.NewData()
	if target == nil {
		return nil, 0, false
	}
	view, ok := target.AsSerializable()
	if !ok || view == nil {
		return nil, 0, false
	}

	restored, err := bridge.Restore(b.ctx, it.hotKey, view)
	if err != nil {
		b.metrics.RecordError("restore")
		b.logger.Warn("restore failed, rebuilding from source",
			zap.String("path", it.path.String()),
			zap.Error(ErrLoad(it.path.String(), err)))
		b.discardHot(it)
		return nil, 0, false
	}
	return target, restored.Size, true
}

// Unload demotes path to level. Demoting to Hot falls through to Cold when
// the data has no serializable view or hot storage is disabled.
func (b *Bank) Unload(path string, level CacheLevel, importance Importance) error {
	if !level.Valid() {
		return fmt.Errorf("unload %s: invalid level %v", path, level)
	}
	it, err := b.lookup(path)
	if err != nil {
		return err
	}

	err = b.submit(it, importance, "unload", func() error {
		return b.unload(it, level)
	})
	b.afterCall()
	return err
}

// UnloadAll demotes every item above maxLevel to maxLevel. The unloads
// are queued behind pending work; a synchronous bank runs them at once.
func (b *Bank) UnloadAll(maxLevel CacheLevel) error {
	return b.UnloadAllWith(AfterQueued, maxLevel)
}

// UnloadAllWith is UnloadAll with the given job importance. Queued
// unloads are not waited for.
func (b *Bank) UnloadAllWith(importance Importance, maxLevel CacheLevel) error {
	if !maxLevel.Valid() {
		return fmt.Errorf("unload all: invalid level %v", maxLevel)
	}

	var errs []error
	for _, e := range b.index.Entries("") {
		it := e.Value
		if level, _ := b.tracker.Level(it.key); level <= maxLevel {
			continue
		}
		if err := b.submit(it, importance, "unload", func() error {
			return b.unload(it, maxLevel)
		}); err != nil {
			if IsNotFound(err) {
				continue
			}
			if errors.Is(err, ErrClosed) {
				return err
			}
			errs = append(errs, err)
		}
	}
	b.afterCall()
	return errors.Join(errs...)
}

// unload runs inside the job of it
func (b *Bank) unload(it *item, to CacheLevel) error {
	from, _ := b.tracker.Level(it.key)
	if to >= from {
		return nil
	}

	if from == Memory && to == Hot {
		var unsupported SerializationUnsupportedError
		size, err := b.storeHot(it)
		switch {
		case err == nil:
			b.release(it)
			it.setHot(true, size)
			b.tracker.SetLevel(it.key, Hot, size)
			b.demoted(it, from, Hot)
			return nil
		case errors.As(err, &unsupported):
			b.logger.Debug("no hot copy possible, unloading to cold", zap.String("path", it.path.String()))
		default:
			return err
		}
	}

	b.release(it)
	b.discardHot(it)
	b.tracker.SetLevel(it.key, Cold, 0)
	b.demoted(it, from, Cold)
	return nil
}

func (b *Bank) demoted(it *item, from, to CacheLevel) {
	b.metrics.RecordUnload(to)
	b.logger.Debug("item unloaded",
		zap.String("path", it.path.String()),
		zap.Stringer("from", from),
		zap.Stringer("to", to))
	b.notes.postLevel(it.path.String(), from, to)
}

// storeHot writes the data of it to hot storage unless the stored copy is
// still valid
func (b *Bank) storeHot(it *item) (int64, error) {
	bridge := b.hot()
	if bridge == nil {
		return 0, ErrSerializationUnsupported(it.path.String())
	}
	if valid, size := it.hotCopy(); valid {
		return size, nil
	}

	data := it.loaded()
	if data == nil {
		return 0, ErrSerializationUnsupported(it.path.String())
	}

	size, err := bridge.Store(b.ctx, it.hotKey, data)
	if err != nil {
		if errors.Is(err, serializer.ErrSerializationUnsupported) {
			return 0, ErrSerializationUnsupported(it.path.String())
		}
		return 0, fmt.Errorf("store %s: %w", it.path, err)
	}
	return size, nil
}

// release hands the data object back to its owner and drops it
func (b *Bank) release(it *item) {
	if d := it.take(); d != nil {
		d.AboutToUnload()
	}
}

// discardHot deletes the hot bytes of it
func (b *Bank) discardHot(it *item) {
	it.setHot(false, 0)
	bridge := b.hot()
	if bridge == nil {
		return
	}
	if err := bridge.Delete(b.ctx, it.hotKey); err != nil {
		b.logger.Warn("failed to delete hot copy", zap.String("path", it.path.String()), zap.Error(err))
	}
}

// ClearFromCache drops every cached copy of path. The item stays in the
// bank at the Cold tier.
func (b *Bank) ClearFromCache(path string) error {
	it, err := b.lookup(path)
	if err != nil {
		return err
	}

	err = b.submit(it, RunNow, "clear", func() error {
		if err := b.unload(it, Cold); err != nil {
			return err
		}
		b.discardHot(it)
		return nil
	})
	b.afterCall()
	return err
}

// Clear removes every item, discards all hot storage and resets the
// tier totals
func (b *Bank) Clear() error {
	var errs []error
	for _, e := range b.index.Entries("") {
		it := e.Value
		err := b.submit(it, RunNow, "clear", func() error {
			from, _ := b.tracker.Level(it.key)
			b.release(it)
			it.setHot(false, 0)
			b.index.Remove(e.Path)
			b.tracker.Remove(it.key)
			b.notes.postLevel(it.path.String(), from, Cold)
			return nil
		})
		if err != nil && !IsNotFound(err) {
			errs = append(errs, err)
		}
	}

	if bridge := b.hot(); bridge != nil {
		if err := bridge.Clear(b.ctx); err != nil {
			errs = append(errs, fmt.Errorf("clear hot storage: %w", err))
		}
	}
	b.tracker.Reset()
	b.afterCall()

	b.logger.Info("bank cleared")
	return errors.Join(errs...)
}
