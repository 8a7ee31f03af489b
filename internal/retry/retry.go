// Package retry runs operations with bounded exponential backoff. Only errors a
// Classifier marks as transient are retried; everything else is returned at once.
package retry

import (
	"context"
	"fmt"
	"time"
)

// Policy bounds a retry loop. Delay before attempt n+1 is BaseDelay * 2^(n-1).
type Policy struct {
	MaxAttempts   int
	BaseDelay     time.Duration
	SlowThreshold time.Duration
}

// DefaultPolicy retries 3 times starting at 200ms.
var DefaultPolicy = Policy{MaxAttempts: 3, BaseDelay: 200 * time.Millisecond, SlowThreshold: time.Second}

// Classifier reports whether err is worth retrying.
type Classifier func(err error) bool

// Attempt describes one finished call, success or failure.
type Attempt struct {
	Op        string
	Number    int
	Duration  time.Duration
	Err       error
	Transient bool
	Slow      bool
}

// Observer is notified after every attempt.
type Observer func(Attempt)

// ExhaustedError wraps the last error after all attempts failed transiently.
type ExhaustedError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s: giving up after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Retrier couples a policy with an error classifier and an optional observer.
type Retrier struct {
	policy   Policy
	classify Classifier
	observe  Observer
	sleep    func(ctx context.Context, d time.Duration) error
}

// New returns a Retrier. A nil observer is a no-op.
func New(p Policy, classify Classifier, observe Observer) *Retrier {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if observe == nil {
		observe = func(Attempt) {}
	}
	return &Retrier{policy: p, classify: classify, observe: observe, sleep: sleepCtx}
}

// Policy returns the configured policy.
func (r *Retrier) Policy() Policy { return r.policy }

// Run calls fn until it succeeds, fails permanently, or attempts run out.
func (r *Retrier) Run(ctx context.Context, op string, fn func(context.Context) error) error {
	_, err := Do(ctx, r, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Do is Run for operations that return a value.
func Do[T any](ctx context.Context, r *Retrier, op string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	delay := r.policy.BaseDelay

	for n := 1; ; n++ {
		start := time.Now()
		v, err := fn(ctx)
		elapsed := time.Since(start)

		a := Attempt{
			Op:       op,
			Number:   n,
			Duration: elapsed,
			Err:      err,
			Slow:     r.policy.SlowThreshold > 0 && elapsed > r.policy.SlowThreshold,
		}
		if err == nil {
			r.observe(a)
			return v, nil
		}

		a.Transient = r.classify != nil && r.classify(err)
		r.observe(a)

		if !a.Transient {
			return zero, err
		}
		if n >= r.policy.MaxAttempts {
			return zero, &ExhaustedError{Op: op, Attempts: n, Err: err}
		}
		if serr := r.sleep(ctx, delay); serr != nil {
			return zero, fmt.Errorf("%s: %w (last error: %v)", op, serr, err)
		}
		delay *= 2
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
