// Package pipeline implements a staged, bounded, fault-tolerant task
// pipeline for CPU- and I/O-bound work.
//
// # Architecture
//
// Producers push integer indices into the first Stage of a chain; each
// Stage applies a user Func to the index and forwards the same index to the
// next Stage. Stages run parallel worker pools ([WorkerPool]) behind bounded
// queues ([BoundedQueue]) that provide backpressure. One Stage in a chain
// may instead be a foreground stage ([ForegroundRunner]), whose single
// worker executes on the caller's goroutine via [Stage.Run] — e.g. to serve
// a GPU context or UI toolkit that requires a specific goroutine.
//
// A chain of Stages shares one [Pipeline]: a mutex-guarded list of
// (stage, index, error) failures. Task failures are collected, never
// raised at the call site; they surface as a single aggregated
// [PipelineFailure] when the terminal Stage's [Stage.Wait] or [Stage.Run]
// returns.
//
// # Accounting
//
// Every index pushed to a Stage is forwarded downstream exactly once,
// whether or not the Stage's Func succeeded — this is what lets a
// pre-declared [Stage.SetTaskCount] on every Stage in a chain reach zero
// deterministically, even under total failure.
//
// # Usage
//
//	a := pipeline.NewStage("double", 2, 8, func(i int) error { data[i] *= 2; return nil })
//	b := pipeline.NewStage("increment", 2, 8, func(i int) error { data[i]++; return nil })
//	pipeline.Chain(a, b)
//
//	a.SetTaskCount(100)
//	b.SetTaskCount(100)
//	for i := 0; i < 100; i++ {
//		a.Push(context.Background(), i)
//	}
//	if err := b.Wait(context.Background()); err != nil {
//		log.Fatal(err)
//	}
//
// # Non-goals
//
// Dynamic reconfiguration of stage topology after tasks have been pushed,
// work stealing across stages, priority scheduling, persistence/recovery
// across process restarts, and distributed execution are all out of scope.
package pipeline
