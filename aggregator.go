package pipeline

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Pipeline is the shared, mutex-guarded failure aggregator spanning a linear
// chain of Stages. A Pipeline is created lazily by Stage on first access and
// shared by reference once Chain unifies a chain's stages onto a single
// instance.
type Pipeline struct {
	id uuid.UUID

	mu      sync.Mutex
	records []*TaskError
}

// NewPipeline constructs a fresh, empty Pipeline. Stage creates one lazily if
// none is supplied via WithPipeline, so callers rarely need this directly
// except to pre-share one Pipeline across stages built separately.
func NewPipeline() *Pipeline {
	return &Pipeline{id: uuid.New()}
}

// ID returns the Pipeline's correlation identifier. It is not added to
// logged Entries or to TaskErrors.
func (p *Pipeline) ID() uuid.UUID {
	return p.id
}

// AddFailure records a single task failure. Safe for concurrent use by any
// number of stage workers.
func (p *Pipeline) AddFailure(te *TaskError) {
	p.mu.Lock()
	p.records = append(p.records, te)
	p.mu.Unlock()
}

// HasFailures reports whether any failure has been recorded.
func (p *Pipeline) HasFailures() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.records) > 0
}

// Failures returns a snapshot copy of every recorded failure, in the order
// they were recorded. The returned slice is safe to retain and mutate.
func (p *Pipeline) Failures() []*TaskError {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*TaskError, len(p.records))
	copy(out, p.records)
	return out
}

// summary formats the failure list as a count, followed by up to the first
// 5 entries formatted as "Stage '<name>', task <index>: <cause-type>:
// <message>", with a trailing "... and N more" line if there are more than
// 5.
func (p *Pipeline) summary() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.records) == 0 {
		return `no failures`
	}

	msg := fmt.Sprintf("%d task(s) failed in pipeline:\n", len(p.records))
	limit := len(p.records)
	if limit > 5 {
		limit = 5
	}
	for _, te := range p.records[:limit] {
		msg += fmt.Sprintf("  - Stage '%s', task %d: %s: %v\n", te.Stage, te.Index, causeKind(te), te.Cause)
	}
	if len(p.records) > 5 {
		msg += fmt.Sprintf("  ... and %d more errors\n", len(p.records)-5)
	}
	return msg
}

// failure builds the aggregated *PipelineFailure for drain-time raising, or
// returns nil if nothing has been recorded.
func (p *Pipeline) failure() *PipelineFailure {
	if !p.HasFailures() {
		return nil
	}
	return &PipelineFailure{
		Summary: p.summary(),
		Errors:  p.Failures(),
	}
}
