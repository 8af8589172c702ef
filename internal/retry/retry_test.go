package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ldi/nightshift/pkg/models"
)

func fastPolicy(maxRetries int) Policy {
	return Policy{
		MaxRetries:           maxRetries,
		BaseDelay:            time.Millisecond,
		MaxDelay:             10 * time.Millisecond,
		UsageLimitMaxDelay:   20 * time.Millisecond,
		Multiplier:           2.0,
		UsageLimitMultiplier: 4.0,
		ExponentialBackoff:   true,
		TransientDelay:       time.Millisecond,
		TransientRetries:     2,
	}
}

func TestDo_SucceedsFirstTry(t *testing.T) {
	r := New(fastPolicy(3))
	calls := 0
	err := r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDo_RateLimitUsesFullBudget(t *testing.T) {
	// MaxRetries=N means N+1 invocations for a persistently failing task.
	maxRetries := 3
	r := New(fastPolicy(maxRetries))
	calls := 0
	err := r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return errors.New("rate limit exceeded")
	})

	if calls != maxRetries+1 {
		t.Errorf("expected %d invocations, got %d", maxRetries+1, calls)
	}
	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected ExhaustedError, got %T: %v", err, err)
	}
	if exhausted.Class != models.ClassRateLimit {
		t.Errorf("expected class %s, got %s", models.ClassRateLimit, exhausted.Class)
	}
	if exhausted.Attempts != maxRetries+1 {
		t.Errorf("expected %d attempts recorded, got %d", maxRetries+1, exhausted.Attempts)
	}
}

func TestDo_FatalNeverRetried(t *testing.T) {
	r := New(fastPolicy(5))
	calls := 0
	err := r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return errors.New("authentication failed")
	})

	if calls != 1 {
		t.Errorf("fatal errors must not be retried, got %d calls", calls)
	}
	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected ExhaustedError, got %v", err)
	}
	if exhausted.Class != models.ClassFatal {
		t.Errorf("expected FATAL, got %s", exhausted.Class)
	}
}

func TestDo_TimeoutNeverRetried(t *testing.T) {
	r := New(fastPolicy(5))
	calls := 0
	err := r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return errors.New("timed out after 30m0s")
	})

	if calls != 1 {
		t.Errorf("timeouts must not be retried, got %d calls", calls)
	}
	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) || exhausted.Class != models.ClassTimeout {
		t.Errorf("expected TIMEOUT exhaustion, got %v", err)
	}
}

func TestDo_TransientMiniBudget(t *testing.T) {
	// Transient failures get their own small budget, independent of
	// MaxRetries: initial attempt plus TransientRetries retries.
	p := fastPolicy(0) // main budget empty on purpose
	p.TransientRetries = 2
	r := New(p)

	calls := 0
	err := r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return errors.New("connection reset by peer")
	})

	if calls != 3 {
		t.Errorf("expected 3 invocations (1 + 2 transient retries), got %d", calls)
	}
	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) || exhausted.Class != models.ClassTransient {
		t.Errorf("expected TRANSIENT exhaustion, got %v", err)
	}
}

func TestDo_EventualSuccess(t *testing.T) {
	r := New(fastPolicy(3))
	calls := 0
	err := r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("429 too many requests")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestDo_KeepAliveTicksDuringSleep(t *testing.T) {
	p := fastPolicy(2)
	p.BaseDelay = 50 * time.Millisecond
	p.ExponentialBackoff = false
	r := New(p)

	ticks := 0
	r.KeepAlive = func() { ticks++ }
	r.KeepAliveEvery = 5 * time.Millisecond

	calls := 0
	_ = r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return errors.New("rate limit exceeded")
	})

	if ticks == 0 {
		t.Error("expected keep-alive ticks during backoff sleeps")
	}
}

func TestDo_CancellationStopsRetrying(t *testing.T) {
	p := fastPolicy(10)
	p.BaseDelay = time.Hour // would block forever without cancellation
	r := New(p)

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- r.Do(ctx, func(ctx context.Context) error {
			calls++
			return errors.New("rate limit exceeded")
		})
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Error("expected an error after cancellation")
		}
		if calls != 1 {
			t.Errorf("expected exactly 1 call before cancellation, got %d", calls)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Do did not return after cancellation")
	}
}

func TestDelay_ExponentialGrowthAndCeilings(t *testing.T) {
	p := Policy{
		BaseDelay:            time.Second,
		MaxDelay:             10 * time.Second,
		UsageLimitMaxDelay:   time.Hour,
		Multiplier:           2.0,
		UsageLimitMultiplier: 4.0,
		ExponentialBackoff:   true,
	}
	r := New(p)

	if d := r.delay(models.ClassRateLimit, 0); d != time.Second {
		t.Errorf("attempt 0: expected 1s, got %s", d)
	}
	if d := r.delay(models.ClassRateLimit, 2); d != 4*time.Second {
		t.Errorf("attempt 2: expected 4s, got %s", d)
	}
	// Rate-limit waits clamp to MaxDelay.
	if d := r.delay(models.ClassRateLimit, 10); d != 10*time.Second {
		t.Errorf("attempt 10: expected clamp to 10s, got %s", d)
	}
	// Usage-limit waits grow faster and clamp much higher.
	if d := r.delay(models.ClassUsageLimit, 2); d != 16*time.Second {
		t.Errorf("usage-limit attempt 2: expected 16s, got %s", d)
	}
	if d := r.delay(models.ClassUsageLimit, 20); d != time.Hour {
		t.Errorf("usage-limit attempt 20: expected clamp to 1h, got %s", d)
	}
}

func TestDelay_JitterBounds(t *testing.T) {
	p := Policy{
		BaseDelay:          time.Second,
		MaxDelay:           time.Hour,
		Multiplier:         2.0,
		ExponentialBackoff: true,
		Jitter:             true,
	}
	r := New(p)

	r.randFloat = func() float64 { return 0 }
	if d := r.delay(models.ClassRateLimit, 0); d != time.Second {
		t.Errorf("jitter floor: expected 1s, got %s", d)
	}

	r.randFloat = func() float64 { return 0.999999 }
	d := r.delay(models.ClassRateLimit, 0)
	if d < time.Second || d >= 1300*time.Millisecond {
		t.Errorf("jitter must stay within [1.0, 1.3) of base, got %s", d)
	}
}
