// Package kverify polls an output source until an expected number of values
// has been observed or a time budget is spent.
package kverify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/go-cmp/cmp"
)

const (
	DefaultInterval = 100 * time.Millisecond
	DefaultBudget   = 2 * time.Second
)

var ErrVerificationTimeout = errors.New("verification budget exhausted")

type State string

const (
	StateWaiting   State = "WAITING"
	StateSatisfied State = "SATISFIED"
	StateTimedOut  State = "TIMED_OUT"
)

// PollFunc waits at most timeout for new values and returns them in
// receipt order.
type PollFunc[T any] func(ctx context.Context, timeout time.Duration) ([]T, error)

// Option is a function that configures a Run.
type Option func(*loop)

type loop struct {
	interval time.Duration
	budget   time.Duration
	log      logr.Logger
}

// WithInterval sets the per-poll wait.
var WithInterval = func(d time.Duration) Option {
	return func(l *loop) {
		l.interval = d
	}
}

// WithBudget sets the total time the loop may spend polling.
var WithBudget = func(d time.Duration) Option {
	return func(l *loop) {
		l.budget = d
	}
}

// WithLogr sets the logger.
var WithLogr = func(log logr.Logger) Option {
	return func(l *loop) {
		l.log = log
	}
}

// Result is the outcome of Run. Observed holds every value received, in
// receipt order, including values beyond the expected count.
type Result[T any] struct {
	State    State
	Observed []T
	Elapsed  time.Duration
	Polls    int
}

// Run polls until at least expected values have been observed or the
// budget is spent. Each poll waits min(interval, remaining budget) and
// accounts for one full interval. With expected == 0 the whole budget is
// polled, so stray values are still observed. Poll errors count as empty
// polls.
func Run[T any](ctx context.Context, poll PollFunc[T], expected int, opts ...Option) Result[T] {
	l := &loop{
		interval: DefaultInterval,
		budget:   DefaultBudget,
		log:      logr.Discard(),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.interval <= 0 {
		l.interval = DefaultInterval
	}

	res := Result[T]{State: StateWaiting, Observed: []T{}}
	for res.State == StateWaiting {
		if ctx.Err() != nil || res.Elapsed >= l.budget {
			res.State = StateTimedOut
			break
		}

		wait := min(l.interval, l.budget-res.Elapsed)
		batch, err := poll(ctx, wait)
		res.Polls++
		res.Elapsed += l.interval
		if err != nil {
			l.log.Error(err, "Poll failed", "poll", res.Polls)
		}
		res.Observed = append(res.Observed, batch...)
		l.log.V(1).Info("Polled", "poll", res.Polls, "received", len(batch), "observed", len(res.Observed), "expected", expected)

		switch {
		case expected > 0 && len(res.Observed) >= expected:
			res.State = StateSatisfied
		case res.Elapsed >= l.budget:
			res.State = StateTimedOut
		}
	}

	l.log.Info("Verification finished", "state", res.State, "observed", len(res.Observed), "expected", expected, "elapsed", res.Elapsed)
	return res
}

// MismatchError reports observed output that differs from the expected
// sequence.
type MismatchError struct {
	State    State
	Expected int
	Observed int
	Diff     string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("output mismatch (%s, expected %d values, observed %d) (-want +got):\n%s", e.State, e.Expected, e.Observed, e.Diff)
}

// Unwrap reports ErrVerificationTimeout when the loop ran out of budget.
func (e *MismatchError) Unwrap() error {
	if e.State == StateTimedOut {
		return ErrVerificationTimeout
	}
	return nil
}

// Check compares the observed values with expected, requiring equal length
// and order.
func (r Result[T]) Check(expected []T) error {
	if len(expected) == 0 && len(r.Observed) == 0 {
		return nil
	}
	diff := cmp.Diff(expected, r.Observed)
	if diff == "" {
		return nil
	}
	return &MismatchError{
		State:    r.State,
		Expected: len(expected),
		Observed: len(r.Observed),
		Diff:     diff,
	}
}
