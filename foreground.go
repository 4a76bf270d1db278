package pipeline

import (
	"context"
	"sync"
)

// ForegroundRunner is a single-worker pool variant whose worker loop is
// invoked synchronously by Run, on the caller's goroutine. Used for stages
// that must execute on a nominated goroutine, e.g. one that owns a GPU
// context or a UI toolkit handle. Push from other goroutines remains legal
// and safe.
type ForegroundRunner struct {
	q      *BoundedQueue
	logger Logger

	mu        sync.Mutex
	cond      sync.Cond
	remaining int
	stopped   bool
	countSet  bool
	ran       bool
	runErr    error
}

// NewForegroundRunner constructs a ForegroundRunner backed by q.
func NewForegroundRunner(q *BoundedQueue, logger Logger) *ForegroundRunner {
	if logger == nil {
		logger = NewNoopLogger()
	}
	r := &ForegroundRunner{q: q, logger: logger}
	r.cond.L = &r.mu
	return r
}

// SetTaskCount atomically assigns the outstanding task count. Must be
// called before any push that will reach this runner. Identical semantics
// to WorkerPool.SetTaskCount, including the single-use restriction.
func (r *ForegroundRunner) SetTaskCount(n int) error {
	if n < 0 {
		return &InvalidStateError{Op: `setTaskCount`, Message: `n must be >= 0`}
	}

	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return &InvalidStateError{Op: `setTaskCount`, Message: `runner has already drained; single-use`}
	}
	r.remaining = n
	r.countSet = true
	if r.remaining == 0 {
		r.stopLocked()
	}
	r.mu.Unlock()
	return nil
}

// stopLocked must be called with r.mu held; pushes the single sentinel a
// foreground runner needs so Run's pop() unblocks and observes stopped.
func (r *ForegroundRunner) stopLocked() {
	r.stopped = true
	_ = r.q.push(context.Background(), func() {})
}

// Push delegates to the underlying queue; backpressure applies.
func (r *ForegroundRunner) Push(ctx context.Context, t Task) error {
	return r.q.push(ctx, t)
}

// Run executes the worker loop on the calling goroutine, synchronously,
// until remaining reaches 0 and the single sentinel has been observed. Safe
// to call more than once; a second call returns immediately with the result
// of the first.
func (r *ForegroundRunner) Run(ctx context.Context) (err error) {
	r.mu.Lock()
	if r.ran {
		err = r.runErr
		r.mu.Unlock()
		return err
	}
	r.ran = true
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.runErr = err
		r.mu.Unlock()
	}()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		task := r.q.pop()

		r.mu.Lock()
		stopped := r.stopped
		r.mu.Unlock()
		if stopped {
			return nil
		}

		r.runTask(task)
		r.taskFinished()
	}
}

func (r *ForegroundRunner) runTask(task Task) {
	defer func() {
		if rec := recover(); rec != nil {
			if r.logger.IsEnabled(LevelError) {
				r.logger.Log(Entry{
					Level:    LevelError,
					Category: `foreground`,
					Message:  `recovered panic in task`,
					Fields:   map[string]any{`panic`: rec},
				})
			}
		}
	}()
	task()
}

func (r *ForegroundRunner) taskFinished() {
	r.mu.Lock()
	r.remaining--
	if r.remaining == 0 && !r.stopped {
		r.stopLocked()
	}
	r.mu.Unlock()
}
