package pipeline

import (
	"errors"
	"fmt"
)

// ErrInvalidState is returned when an operation violates the pipeline's state
// machine, e.g. changing a queue's capacity after a task has been pushed, or
// calling SetTaskCount with a negative value.
var ErrInvalidState = errors.New(`pipeline: invalid state`)

// InvalidStateError wraps ErrInvalidState with context about the offending
// operation. errors.Is(err, ErrInvalidState) matches any InvalidStateError.
type InvalidStateError struct {
	Op      string // e.g. "setCapacity", "setTaskCount"
	Message string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf(`pipeline: invalid state for %s: %s`, e.Op, e.Message)
}

func (e *InvalidStateError) Unwrap() error {
	return ErrInvalidState
}

// TaskError records a single failed (or panicking) task, as recorded in a
// Pipeline's failure list.
type TaskError struct {
	Stage string
	Index int
	Cause error
	Panic bool // true if Cause originated from a recovered panic
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("stage %q, task %d: %s: %v", e.Stage, e.Index, causeKind(e), e.Cause)
}

// causeKind names the dynamic type of a TaskError's cause, e.g.
// "*errors.errorString" for a plain errors.New, or "panic(*pipeline.panicValueError)"
// for a recovered non-error panic value — giving each failure the same
// per-type diagnostic specificity a caller would get from inspecting the
// cause directly.
func causeKind(e *TaskError) string {
	kind := fmt.Sprintf("%T", e.Cause)
	if e.Panic {
		return `panic(` + kind + `)`
	}
	return kind
}

func (e *TaskError) Unwrap() error {
	return e.Cause
}

// PipelineFailure aggregates every TaskError recorded across a chain of
// stages sharing one Pipeline. It is raised by Stage.Wait/Stage.Run when the
// shared Pipeline is non-empty at drain time.
//
// PipelineFailure.Unwrap returns every recorded error (Go 1.20+ multi-error
// convention), so errors.Is/errors.As can match any individual task failure,
// not just the first. Cause returns the first recorded error specifically,
// for callers that only want a single representative cause.
type PipelineFailure struct {
	Summary string
	Errors  []*TaskError
}

func (e *PipelineFailure) Error() string {
	return e.Summary
}

func (e *PipelineFailure) Unwrap() []error {
	errs := make([]error, len(e.Errors))
	for i, te := range e.Errors {
		errs[i] = te
	}
	return errs
}

// Cause returns the first recorded TaskError, or nil if Errors is empty.
func (e *PipelineFailure) Cause() error {
	if len(e.Errors) == 0 {
		return nil
	}
	return e.Errors[0]
}

// Is reports whether target is a *PipelineFailure (regardless of contents),
// matching the "any aggregate" matching convention used elsewhere in the
// ambient stack for multi-error types.
func (e *PipelineFailure) Is(target error) bool {
	var pf *PipelineFailure
	return errors.As(target, &pf)
}
