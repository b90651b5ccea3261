// internal/taskqueue/queue.go
package taskqueue

import (
	"container/list"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrQueueClosed is returned when submitting to a closed queue
var ErrQueueClosed = errors.New("task queue is closed")

// Importance decides when a submitted job runs
type Importance int

const (
	// RunNow runs the job in the calling goroutine and blocks until done
	RunNow Importance = iota
	// BeforeQueued runs the job ahead of every AfterQueued job
	BeforeQueued
	// AfterQueued runs the job after everything already queued
	AfterQueued
)

func (i Importance) String() string {
	switch i {
	case RunNow:
		return "run-now"
	case BeforeQueued:
		return "before-queued"
	case AfterQueued:
		return "after-queued"
	default:
		return fmt.Sprintf("importance(%d)", int(i))
	}
}

// job represents a queued work item
type job struct {
	id         string
	key        string
	importance Importance
	fn         func() error
	enqueuedAt time.Time
}

// Queue runs jobs on a fixed pool of workers. Jobs sharing a key never run
// at the same time. With zero workers every job runs inline.
type Queue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	before  *list.List
	after   *list.List
	active  map[string]struct{}
	running int
	workers int
	closed  bool
	wg      sync.WaitGroup
	logger  *zap.Logger
}

// New creates a queue and starts its workers
func New(workers int, logger *zap.Logger) *Queue {
	if workers < 0 {
		workers = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	q := &Queue{
		before:  list.New(),
		after:   list.New(),
		active:  make(map[string]struct{}),
		workers: workers,
		logger:  logger,
	}
	q.cond = sync.NewCond(&q.mu)

	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}

	return q
}

// Async reports whether jobs can run on background workers
func (q *Queue) Async() bool {
	return q.workers > 0
}

// Workers returns the size of the worker pool
func (q *Queue) Workers() int {
	return q.workers
}

// Submit schedules fn under key. RunNow jobs, and every job of a queue
// without workers, run before Submit returns and their error is returned.
// Other jobs are queued and Submit returns nil.
func (q *Queue) Submit(key string, importance Importance, fn func() error) error {
	if importance == RunNow || !q.Async() {
		q.mu.Lock()
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return ErrQueueClosed
		}
		return q.runInline(key, fn)
	}

	j := &job{
		id:         uuid.New().String(),
		key:        key,
		importance: importance,
		fn:         fn,
		enqueuedAt: time.Now(),
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}

	if importance == BeforeQueued {
		q.before.PushBack(j)
	} else {
		q.after.PushBack(j)
	}
	q.cond.Broadcast()
	return nil
}

func (q *Queue) runInline(key string, fn func() error) error {
	q.mu.Lock()
	for q.isActive(key) {
		q.cond.Wait()
	}
	q.acquire(key)
	q.mu.Unlock()

	defer q.release(key)
	return fn()
}

func (q *Queue) isActive(key string) bool {
	_, busy := q.active[key]
	return busy
}

// acquire must be called with mu held
func (q *Queue) acquire(key string) {
	q.active[key] = struct{}{}
	q.running++
}

func (q *Queue) release(key string) {
	q.mu.Lock()
	delete(q.active, key)
	q.running--
	q.cond.Broadcast()
	q.mu.Unlock()
}

// next pops the first job whose key is idle, must be called with mu held
func (q *Queue) next() *job {
	for _, l := range []*list.List{q.before, q.after} {
		for e := l.Front(); e != nil; e = e.Next() {
			j := e.Value.(*job)
			if !q.isActive(j.key) {
				l.Remove(e)
				return j
			}
		}
	}
	return nil
}

func (q *Queue) pending() int {
	return q.before.Len() + q.after.Len()
}

// worker processes jobs from the queue
func (q *Queue) worker(id int) {
	defer q.wg.Done()

	q.mu.Lock()
	for {
		j := q.next()
		if j == nil {
			if q.closed && q.pending() == 0 {
				q.mu.Unlock()
				return
			}
			q.cond.Wait()
			continue
		}

		q.acquire(j.key)
		q.mu.Unlock()

		err := q.run(j)
		q.release(j.key)

		q.logger.Debug("job processed",
			zap.Int("worker", id),
			zap.String("job", j.id),
			zap.String("key", j.key),
			zap.Stringer("importance", j.importance),
			zap.Duration("waited", time.Since(j.enqueuedAt)),
			zap.Error(err))

		q.mu.Lock()
	}
}

// run shields the worker from panicking jobs
func (q *Queue) run(j *job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", j.id, r)
			q.logger.Error("job panicked", zap.String("key", j.key), zap.Any("panic", r))
		}
	}()
	return j.fn()
}

// Pending returns the number of queued jobs that have not started
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending()
}

// DrainAll blocks until no job is queued or running. It must not be
// called from inside a job.
func (q *Queue) DrainAll() {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.pending() > 0 || q.running > 0 {
		q.cond.Wait()
	}
}

// Close lets queued jobs finish, then stops the workers
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()

	q.wg.Wait()
}
