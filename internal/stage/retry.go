package stage

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"math/rand"
	"time"

	"github.com/bobarin/fragment/internal/models"
)

// Adapter wraps one external capability behind a uniform request/response contract.
type Adapter[In, Out any] interface {
	Execute(ctx context.Context, in In) (Out, error)
}

// AdapterFunc lets a plain function serve as an Adapter.
type AdapterFunc[In, Out any] func(ctx context.Context, in In) (Out, error)

func (f AdapterFunc[In, Out]) Execute(ctx context.Context, in In) (Out, error) {
	return f(ctx, in)
}

// Clock is the time source used for backoff waits.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time                         { return time.Now() }
func (systemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// SystemClock is the wall clock.
var SystemClock Clock = systemClock{}

// Defaults
const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 2 * time.Second
	DefaultMaxDelay    = 30 * time.Second
	defaultMultiplier  = 2.0
)

// RetryPolicy bounds how a stage call is retried.
type RetryPolicy struct {
	MaxAttempts int           // total attempts including the first
	BaseDelay   time.Duration // wait before the first retry
	MaxDelay    time.Duration // cap on any single wait
	Multiplier  float64       // backoff growth per retry
	Jitter      float64       // extra random fraction of the delay, 0 disables
	Timeout     time.Duration // per-attempt deadline, 0 disables

	// Retryable decides whether a classified failure is worth another attempt.
	Retryable func(*StageError) bool

	Clock Clock
}

// DefaultPolicy returns exponential backoff with 0-25% jitter.
func DefaultPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		MaxDelay:    DefaultMaxDelay,
		Multiplier:  defaultMultiplier,
		Jitter:      0.25,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.Multiplier < 1 {
		p.Multiplier = defaultMultiplier
	}
	if p.Retryable == nil {
		p.Retryable = (*StageError).Retryable
	}
	if p.Clock == nil {
		p.Clock = SystemClock
	}
	return p
}

// Delay returns the wait before retry number n (1-based): base * multiplier^(n-1), capped.
func (p RetryPolicy) Delay(n int) time.Duration {
	p = p.withDefaults()
	if n < 1 {
		return 0
	}
	delay := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(n-1))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	if p.Jitter > 0 {
		delay += delay * p.Jitter * rand.Float64()
	}
	return time.Duration(delay)
}

// Run executes the adapter under the policy. The returned error is always a *StageError
// whose Attempts field records how many calls were made.
func Run[In, Out any](ctx context.Context, p RetryPolicy, st models.Stage, a Adapter[In, Out], in In) (Out, error) {
	p = p.withDefaults()

	var zero Out
	var last *StageError
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := p.Delay(attempt - 1)
			log.Printf("[Stage %s] retry %d/%d in %v after: %v", st, attempt, p.MaxAttempts, delay, last.Err)

			select {
			case <-ctx.Done():
				return zero, &StageError{Stage: st, Kind: Fatal, Attempts: attempt - 1, Err: ctx.Err()}
			case <-p.Clock.After(delay):
			}
		}

		out, err := callOnce(ctx, p.Timeout, st, a, in)
		if err == nil {
			if attempt > 1 {
				log.Printf("[Stage %s] succeeded on attempt %d", st, attempt)
			}
			return out, nil
		}

		last = AsStageError(st, err)
		last.Attempts = attempt
		if !p.Retryable(last) {
			return zero, last
		}
	}

	return zero, last
}

// Do runs a bare function under the policy.
func (p RetryPolicy) Do(ctx context.Context, st models.Stage, fn func(ctx context.Context) error) error {
	_, err := Run(ctx, p, st, AdapterFunc[struct{}, struct{}](func(ctx context.Context, _ struct{}) (struct{}, error) {
		return struct{}{}, fn(ctx)
	}), struct{}{})
	return err
}

// callOnce makes a single attempt. With a timeout the call runs on its own goroutine so a
// collaborator that ignores its context cannot hold the caller past the deadline.
func callOnce[In, Out any](ctx context.Context, timeout time.Duration, st models.Stage, a Adapter[In, Out], in In) (Out, error) {
	if timeout <= 0 {
		return execute(ctx, st, a, in)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		out Out
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := execute(attemptCtx, st, a, in)
		done <- result{out: out, err: err}
	}()

	var zero Out
	select {
	case r := <-done:
		if r.err != nil && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			return zero, NewTransient(st, fmt.Errorf("%w after %v: %v", ErrTimeout, timeout, r.err))
		}
		return r.out, r.err
	case <-attemptCtx.Done():
		if err := ctx.Err(); err != nil {
			return zero, NewFatal(st, err)
		}
		log.Printf("[Stage %s] call exceeded %v, abandoning", st, timeout)
		return zero, NewTransient(st, fmt.Errorf("%w after %v", ErrTimeout, timeout))
	}
}

// execute converts a panicking adapter into a fatal failure of the stage.
func execute[In, Out any](ctx context.Context, st models.Stage, a Adapter[In, Out], in In) (out Out, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[Stage %s] adapter panicked: %v", st, r)
			err = Fatalf(st, "adapter panicked: %v", r)
		}
	}()
	return a.Execute(ctx, in)
}
