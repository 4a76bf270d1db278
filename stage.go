package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Func is the user-supplied per-index work performed by a Stage. Returning
// an error records a TaskError into the shared Pipeline; panicking does the
// same. Either way the index is still forwarded downstream — a failed task
// must not desynchronize a downstream stage's task count from the number of
// pushes it will actually receive.
type Func func(index int) error

// worker abstracts over WorkerPool and ForegroundRunner, the two pool kinds
// a Stage may own.
type worker interface {
	SetTaskCount(n int) error
	Push(ctx context.Context, t Task) error
}

// Stage is a named node in the pipeline: a bounded input queue, a worker
// pool or foreground runner, a user Func, and an optional forward link to
// the next Stage, all sharing one Pipeline failure aggregator.
type Stage struct {
	id   uuid.UUID
	name string
	fn   Func

	queue *BoundedQueue
	pool  worker
	// foreground is non-nil only for a foreground Stage, so Run can be
	// exposed distinctly from Wait.
	foreground *ForegroundRunner

	next       *Stage
	pipelineMu sync.Mutex // guards lazy creation in Pipeline
	pipeline   *Pipeline
	logger     Logger
	metrics    *Metrics
}

// StageOption configures optional Stage behavior at construction time, using
// the same nil-safe, variadic-functional-option idiom as the rest of this
// package.
type StageOption func(*stageConfig)

type stageConfig struct {
	pipeline *Pipeline
	logger   Logger
	metrics  *Metrics
}

// WithPipeline supplies a pre-existing Pipeline for the Stage to share,
// instead of lazily creating a fresh one. Useful for pre-wiring a chain's
// shared aggregator before the first Chain call.
func WithPipeline(p *Pipeline) StageOption {
	return func(c *stageConfig) { c.pipeline = p }
}

// WithLogger attaches a Logger for this Stage's internal diagnostics
// (failed or panicking tasks, forwarding errors). Defaults to a no-op Logger.
func WithLogger(l Logger) StageOption {
	return func(c *stageConfig) { c.logger = l }
}

// WithMetrics attaches a Prometheus Metrics collector to this Stage.
func WithMetrics(m *Metrics) StageOption {
	return func(c *stageConfig) { c.metrics = m }
}

func resolveConfig(opts []StageOption) *stageConfig {
	c := &stageConfig{}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = NewNoopLogger()
	}
	return c
}

// NewStage constructs a background Stage: a bounded queue of the given
// capacity and a WorkerPool of numWorkers goroutines.
func NewStage(name string, numWorkers, capacity int, fn Func, opts ...StageOption) *Stage {
	if fn == nil {
		panic(`pipeline: Stage requires a non-nil Func`)
	}
	c := resolveConfig(opts)

	q := NewBoundedQueue(capacity)
	s := &Stage{
		id:       uuid.New(),
		name:     name,
		fn:       fn,
		queue:    q,
		pool:     NewWorkerPool(numWorkers, q, c.logger),
		pipeline: c.pipeline,
		logger:   c.logger,
		metrics:  c.metrics,
	}
	return s
}

// NewForegroundStage constructs a foreground Stage: a bounded queue of the
// given capacity and a ForegroundRunner whose single worker runs on the
// caller's goroutine via Run.
func NewForegroundStage(name string, capacity int, fn Func, opts ...StageOption) *Stage {
	if fn == nil {
		panic(`pipeline: Stage requires a non-nil Func`)
	}
	c := resolveConfig(opts)

	q := NewBoundedQueue(capacity)
	runner := NewForegroundRunner(q, c.logger)
	s := &Stage{
		id:         uuid.New(),
		name:       name,
		fn:         fn,
		queue:      q,
		pool:       runner,
		foreground: runner,
		pipeline:   c.pipeline,
		logger:     c.logger,
		metrics:    c.metrics,
	}
	return s
}

// ID returns the Stage's correlation identifier.
func (s *Stage) ID() uuid.UUID { return s.id }

// Name returns the Stage's name, as recorded in TaskError and log Entries.
func (s *Stage) Name() string { return s.name }

// Pipeline returns the shared failure aggregator, creating one lazily on
// first access if none was supplied via WithPipeline.
func (s *Stage) Pipeline() *Pipeline {
	s.pipelineMu.Lock()
	defer s.pipelineMu.Unlock()
	if s.pipeline == nil {
		s.pipeline = NewPipeline()
	}
	return s.pipeline
}

// SetTaskCount pre-declares the number of Push calls that will reach this
// Stage. Must be called before any Push.
func (s *Stage) SetTaskCount(n int) error {
	return s.pool.SetTaskCount(n)
}

// Push submits index to this Stage's queue, wrapping it in a closure that
// runs fn(index), records any error/panic into the shared Pipeline, then
// unconditionally forwards index downstream.
func (s *Stage) Push(ctx context.Context, index int) error {
	i := index // captured by value, not by reference
	err := s.pool.Push(ctx, func() { s.run(i) })
	if s.metrics != nil {
		s.metrics.setQueueDepth(s.queue.approxLen())
	}
	return err
}

func (s *Stage) run(index int) {
	var finish func(failed bool)
	if s.metrics != nil {
		finish = s.metrics.observeStart()
	}

	err := s.invoke(index)

	failed := err != nil
	if finish != nil {
		finish(failed)
	}

	if failed {
		var panicked bool
		cause := err
		if pe, ok := err.(*recoveredPanic); ok {
			panicked = true
			cause = pe.cause
		}
		te := &TaskError{Stage: s.name, Index: index, Cause: cause, Panic: panicked}
		s.Pipeline().AddFailure(te)

		if s.logger.IsEnabled(LevelError) {
			s.logger.Log(Entry{
				Level:    LevelError,
				Category: `stage`,
				Stage:    s.name,
				Index:    index,
				HasIndex: true,
				Message:  `task failed`,
				Err:      cause,
			})
		}
	}

	// Unconditionally forward, on both success and failure, so downstream
	// counters reach zero deterministically.
	if s.next != nil {
		if err := s.next.Push(context.Background(), index); err != nil {
			if s.logger.IsEnabled(LevelError) {
				s.logger.Log(Entry{
					Level:    LevelError,
					Category: `stage`,
					Stage:    s.name,
					Index:    index,
					HasIndex: true,
					Message:  `failed to forward to next stage`,
					Err:      err,
				})
			}
		}
	}
}

// recoveredPanic wraps a value recovered from a panicking Func so invoke can
// distinguish "returned error" from "panicked" without losing the original
// value.
type recoveredPanic struct {
	cause error
}

func (p *recoveredPanic) Error() string { return p.cause.Error() }
func (p *recoveredPanic) Unwrap() error { return p.cause }

// invoke runs fn(index), recovering a panic into a *recoveredPanic error so
// the caller's single error-handling path covers both failure modes.
func (s *Stage) invoke(index int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &recoveredPanic{cause: asError(r)}
		}
	}()
	return s.fn(index)
}

func asError(r any) error {
	if err, ok := r.(error); ok {
		return err
	}
	return &panicValueError{value: r}
}

type panicValueError struct{ value any }

func (e *panicValueError) Error() string { return fmt.Sprintf("panic: %v", e.value) }

// Wait blocks until this (background) Stage drains, then raises a single
// aggregated *PipelineFailure if the shared Pipeline recorded any failure.
func (s *Stage) Wait(ctx context.Context) error {
	wp, ok := s.pool.(*WorkerPool)
	if !ok {
		return &InvalidStateError{Op: `wait`, Message: `Wait is for background stages; use Run for a foreground stage`}
	}
	if err := wp.Wait(ctx); err != nil {
		return err
	}
	if pf := s.Pipeline().failure(); pf != nil {
		return pf
	}
	return nil
}

// Run blocks until this (foreground) Stage drains, executing its single
// worker loop on the calling goroutine, then raises a *PipelineFailure if
// any task in the shared Pipeline failed.
func (s *Stage) Run(ctx context.Context) error {
	if s.foreground == nil {
		return &InvalidStateError{Op: `run`, Message: `Run is for foreground stages; use Wait for a background stage`}
	}
	if err := s.foreground.Run(ctx); err != nil {
		return err
	}
	if pf := s.Pipeline().failure(); pf != nil {
		return pf
	}
	return nil
}

// SetCapacity changes this Stage's queue capacity. Permitted only before
// the first Push.
func (s *Stage) SetCapacity(capacity int) error {
	return s.queue.SetCapacity(capacity)
}

// Chain links a.next to b, then walks b's forward chain, rewriting every
// node's Pipeline to a's. Order-independent: chaining (b, c) before (a, b)
// still ends with a single shared Pipeline across a, b, c. Returns b, to
// support left-to-right composition (e.g. Chain(Chain(a, b), c)).
func Chain(a, b *Stage) *Stage {
	a.next = b

	shared := a.Pipeline()
	cur := b
	for cur != nil {
		cur.pipeline = shared
		cur = cur.next
	}

	return b
}
