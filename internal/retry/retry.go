// Package retry wraps delegated-work attempts with classification-driven
// retry and backoff.
package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/ldi/nightshift/internal/classify"
	"github.com/ldi/nightshift/pkg/models"
)

// Policy carries the retry tunables. The multipliers and ceilings are
// configuration, not constants: usage limits reset on much longer windows
// than rate limits, so they get a larger multiplier and a much larger
// delay ceiling.
type Policy struct {
	MaxRetries           int
	BaseDelay            time.Duration
	MaxDelay             time.Duration // ceiling for rate-limit and transient waits
	UsageLimitMaxDelay   time.Duration // ceiling for usage-limit waits
	Multiplier           float64       // rate-limit/transient backoff multiplier
	UsageLimitMultiplier float64
	ExponentialBackoff   bool
	Jitter               bool

	// Routine flakiness gets a short fixed delay and its own small cap so
	// it never eats into the budget reserved for quota-style failures.
	TransientDelay   time.Duration
	TransientRetries int
}

// DefaultPolicy returns the stock tunables.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:           3,
		BaseDelay:            30 * time.Second,
		MaxDelay:             15 * time.Minute,
		UsageLimitMaxDelay:   4 * time.Hour,
		Multiplier:           2.0,
		UsageLimitMultiplier: 4.0,
		ExponentialBackoff:   true,
		Jitter:               true,
		TransientDelay:       5 * time.Second,
		TransientRetries:     2,
	}
}

// ExhaustedError wraps the final attempt error with its category and how
// many attempts were made.
type ExhaustedError struct {
	Class    models.ErrorClass
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s after %d attempts: %v", e.Class, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// Runner executes attempts under a Policy.
type Runner struct {
	Policy Policy

	// KeepAlive, when set, is called periodically (every KeepAliveEvery,
	// default 30s) while the runner sleeps between attempts, so a long
	// usage-limit wait keeps re-emitting checkpoints and survives a crash
	// without losing position.
	KeepAlive      func()
	KeepAliveEvery time.Duration

	// randFloat allows deterministic jitter in tests.
	randFloat func() float64
}

// New returns a Runner with the given policy.
func New(policy Policy) *Runner {
	return &Runner{Policy: policy}
}

// Do invokes attempt until it succeeds, a non-retryable error occurs, the
// retry budget is exhausted, or ctx is cancelled. FATAL and TIMEOUT
// classifications always propagate immediately: they are the only path by
// which the session learns "stop now" versus "this task failed, move on".
func (r *Runner) Do(ctx context.Context, attempt func(context.Context) error) error {
	transientAttempts := 0

	for a := 0; ; a++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := attempt(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			// A cancellation observed mid-attempt ends retrying outright.
			return err
		}

		c := classify.Classify(err)
		if !c.Retryable {
			return &ExhaustedError{Class: c.Class, Attempts: a + 1, Err: err}
		}

		if c.Class == models.ClassTransient {
			// Independent mini-budget for routine flakiness.
			if transientAttempts >= r.transientRetries() {
				return &ExhaustedError{Class: c.Class, Attempts: a + 1, Err: err}
			}
			transientAttempts++
			a-- // transient retries do not consume the main budget
			if !r.sleep(ctx, r.transientDelay()) {
				return err
			}
			continue
		}

		if a >= r.Policy.MaxRetries {
			return &ExhaustedError{Class: c.Class, Attempts: a + 1, Err: err}
		}
		if !r.sleep(ctx, r.delay(c.Class, a)) {
			return err
		}
	}
}

// delay computes the wait before retry attempt a+1 for the given category.
func (r *Runner) delay(class models.ErrorClass, a int) time.Duration {
	p := r.Policy
	d := p.BaseDelay
	if p.ExponentialBackoff {
		mult := p.Multiplier
		if class == models.ClassUsageLimit {
			mult = p.UsageLimitMultiplier
		}
		d = time.Duration(float64(p.BaseDelay) * math.Pow(mult, float64(a)))
	}
	if p.Jitter {
		d = time.Duration(float64(d) * (1.0 + 0.3*r.rand()))
	}
	ceiling := p.MaxDelay
	if class == models.ClassUsageLimit && p.UsageLimitMaxDelay > 0 {
		ceiling = p.UsageLimitMaxDelay
	}
	if ceiling > 0 && d > ceiling {
		d = ceiling
	}
	return d
}

// sleep blocks for d, ticking KeepAlive along the way. Returns false when
// ctx was cancelled before the full wait elapsed.
func (r *Runner) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	keepAliveEvery := r.KeepAliveEvery
	if keepAliveEvery <= 0 {
		keepAliveEvery = 30 * time.Second
	}

	deadline := time.Now().Add(d)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return true
		}
		step := remaining
		if r.KeepAlive != nil && step > keepAliveEvery {
			step = keepAliveEvery
		}

		timer := time.NewTimer(step)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}

		if r.KeepAlive != nil && time.Until(deadline) > 0 {
			r.KeepAlive()
		}
	}
}

func (r *Runner) rand() float64 {
	if r.randFloat != nil {
		return r.randFloat()
	}
	return rand.Float64()
}

func (r *Runner) transientDelay() time.Duration {
	if r.Policy.TransientDelay > 0 {
		return r.Policy.TransientDelay
	}
	return 5 * time.Second
}

func (r *Runner) transientRetries() int {
	if r.Policy.TransientRetries > 0 {
		return r.Policy.TransientRetries
	}
	return 2
}
