package stage

import (
	"context"
	"errors"
	"fmt"

	"github.com/bobarin/fragment/internal/models"
)

// Kind classifies a stage failure for the retry policy.
type Kind string

const (
	// Transient failures (network, timeout, rate limit) may be retried.
	Transient Kind = "transient"
	// Fatal failures (bad input, quota exhausted, malformed response) are not.
	Fatal Kind = "fatal"
)

// ErrTimeout marks an attempt that exceeded its per-call deadline.
var ErrTimeout = errors.New("stage call timed out")

// StageError is the only error shape adapters hand back to the orchestrator.
type StageError struct {
	Stage    models.Stage
	Kind     Kind
	Attempts int
	Err      error
}

func (e *StageError) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("%s %s failure after %d attempts: %v", e.Stage, e.Kind, e.Attempts, e.Err)
	}
	return fmt.Sprintf("%s %s failure: %v", e.Stage, e.Kind, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the policy may try again.
func (e *StageError) Retryable() bool {
	return e.Kind == Transient
}

// NewTransient wraps err as a retryable failure of the given stage.
func NewTransient(stage models.Stage, err error) *StageError {
	return &StageError{Stage: stage, Kind: Transient, Err: err}
}

// NewFatal wraps err as a non-retryable failure of the given stage.
func NewFatal(stage models.Stage, err error) *StageError {
	return &StageError{Stage: stage, Kind: Fatal, Err: err}
}

// Transientf formats a transient failure.
func Transientf(stage models.Stage, format string, args ...any) *StageError {
	return NewTransient(stage, fmt.Errorf(format, args...))
}

// Fatalf formats a fatal failure.
func Fatalf(stage models.Stage, format string, args ...any) *StageError {
	return NewFatal(stage, fmt.Errorf(format, args...))
}

// AsStageError returns a copy of the StageError in err, so callers may annotate it
// while other goroutines hold the original. Unclassified errors are treated as
// transient, except context cancellation which is fatal for the caller.
func AsStageError(stage models.Stage, err error) *StageError {
	if err == nil {
		return nil
	}
	var se *StageError
	if errors.As(err, &se) {
		c := *se
		if c.Stage == "" {
			c.Stage = stage
		}
		return &c
	}
	if errors.Is(err, context.Canceled) {
		return NewFatal(stage, err)
	}
	return NewTransient(stage, err)
}

// IsTransient reports whether err is a retryable stage failure.
func IsTransient(err error) bool {
	var se *StageError
	return errors.As(err, &se) && se.Kind == Transient
}
