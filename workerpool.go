package pipeline

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// WorkerPool owns N worker goroutines pulling Tasks from a shared queue,
// tracking an outstanding task count so Wait can block until every declared
// task has finished. A WorkerPool is single-use: once remaining reaches zero
// and stopped flips true, the pool cannot be restarted.
type WorkerPool struct {
	numWorkers int
	q          queue
	logger     Logger

	mu        sync.Mutex
	cond      sync.Cond
	remaining int
	stopped   bool
	countSet  bool

	group   *errgroup.Group
	joined  sync.Once
	joinErr error
}

// NewWorkerPool constructs a WorkerPool, spawning numWorkers goroutines
// bound to q immediately. Each worker blocks on an empty queue until a task
// arrives, so construction is safe before the task count is known.
func NewWorkerPool(numWorkers int, q *BoundedQueue, logger Logger) *WorkerPool {
	return newWorkerPool(numWorkers, q, logger)
}

// NewUnboundedWorkerPool constructs a WorkerPool backed by an UnboundedQueue,
// for callers who want no backpressure at all.
func NewUnboundedWorkerPool(numWorkers int, q *UnboundedQueue, logger Logger) *WorkerPool {
	return newWorkerPool(numWorkers, q, logger)
}

func newWorkerPool(numWorkers int, q queue, logger Logger) *WorkerPool {
	if numWorkers < 1 {
		panic(`pipeline: WorkerPool requires numWorkers >= 1`)
	}
	if logger == nil {
		logger = NewNoopLogger()
	}
	p := &WorkerPool{
		numWorkers: numWorkers,
		q:          q,
		logger:     logger,
	}
	p.cond.L = &p.mu

	p.group = new(errgroup.Group)
	for i := 0; i < numWorkers; i++ {
		p.group.Go(func() error {
			p.workerLoop()
			return nil
		})
	}

	return p
}

// SetTaskCount atomically assigns the outstanding task count. Must be called
// before any push that will reach this pool. Returns *InvalidStateError if n
// < 0 or if the pool has already been drained (pools are not restartable).
func (p *WorkerPool) SetTaskCount(n int) error {
	if n < 0 {
		return &InvalidStateError{Op: `setTaskCount`, Message: `n must be >= 0`}
	}

	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return &InvalidStateError{Op: `setTaskCount`, Message: `pool has already drained; pools are single-use`}
	}
	p.remaining = n
	p.countSet = true

	// n may reach zero with no tasks ever pushed (K=0); handle that here so
	// Wait doesn't block forever waiting for a taskFinished that never comes.
	if p.remaining == 0 && !p.stopped {
		p.stopLocked()
	}
	p.mu.Unlock()

	return nil
}

// Push delegates to the underlying queue; backpressure applies on a bounded
// queue.
func (p *WorkerPool) Push(ctx context.Context, t Task) error {
	return p.q.push(ctx, t)
}

// workerLoop is the per-goroutine body: pop, check stopped, execute with
// panic recovery, always call taskFinished.
func (p *WorkerPool) workerLoop() {
	for {
		task := p.q.pop()

		p.mu.Lock()
		stopped := p.stopped
		p.mu.Unlock()
		if stopped {
			return
		}

		p.runTask(task)
		p.taskFinished()
	}
}

func (p *WorkerPool) runTask(task Task) {
	defer func() {
		if r := recover(); r != nil {
			if p.logger.IsEnabled(LevelError) {
				p.logger.Log(Entry{
					Level:    LevelError,
					Category: `workerpool`,
					Message:  `recovered panic in task`,
					Fields:   map[string]any{`panic`: r},
				})
			}
		}
	}()
	task()
}

// taskFinished decrements remaining under the completion lock; if it
// reaches zero, transitions stopped false->true and pushes exactly N
// sentinel tasks so every worker observes one and exits, then broadcasts
// the completion condition.
func (p *WorkerPool) taskFinished() {
	p.mu.Lock()
	p.remaining--
	done := p.remaining == 0 && !p.stopped
	if done {
		p.stopLocked()
	}
	p.mu.Unlock()
}

// stopLocked must be called with p.mu held. It flips stopped and pushes N
// sentinels onto the queue. The sentinel push may block on a bounded queue,
// but cannot deadlock: by the SetTaskCount invariant, every producer has
// already finished pushing real tasks by the time remaining reaches zero.
func (p *WorkerPool) stopLocked() {
	p.stopped = true
	for i := 0; i < p.numWorkers; i++ {
		_ = p.q.push(context.Background(), func() {})
	}
	p.cond.Broadcast()
}

// Wait blocks until remaining reaches 0, then joins all worker goroutines.
// Idempotent: once drained, further calls return immediately with the same
// result. If ctx is canceled first, Wait returns ctx.Err() without joining.
func (p *WorkerPool) Wait(ctx context.Context) error {
	p.mu.Lock()
	for !(p.countSet && p.remaining == 0) {
		if err := ctx.Err(); err != nil {
			p.mu.Unlock()
			return err
		}
		if ctx.Done() == nil {
			p.cond.Wait()
			continue
		}
		if !p.waitCtxLocked(ctx) {
			p.mu.Unlock()
			return ctx.Err()
		}
	}
	p.mu.Unlock()

	p.joined.Do(func() {
		if p.group != nil {
			p.joinErr = p.group.Wait()
		}
	})
	return p.joinErr
}

// waitCtxLocked waits on p.cond while also observing ctx cancellation.
// Mirrors BoundedQueue.waitCtx's approach of a short-lived watcher
// goroutine that broadcasts the condition on ctx.Done().
func (p *WorkerPool) waitCtxLocked(ctx context.Context) bool {
	done := make(chan struct{})
	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			p.mu.Lock()
			p.cond.Broadcast()
			p.mu.Unlock()
		case <-stop:
		}
		close(done)
	}()
	p.cond.Wait()
	close(stop)
	<-done
	return ctx.Err() == nil
}
