package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDoVal_SuccessOnFirstAttempt(t *testing.T) {
	var calls int
	_, err := DoVal(context.Background(), FixedDelay(2, 0), func(_ context.Context) (struct{}, error) {
		calls++
		return struct{}{}, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestFixedDelay_RetriesEveryError(t *testing.T) {
	var calls int
	_, err := DoVal(context.Background(), FixedDelay(2, 0), func(_ context.Context) (int, error) {
		calls++
		return 0, errors.New("permanent error: bad request")
	})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if calls != 3 {
		t.Errorf("expected 3 calls (1 + 2 retries), got %d", calls)
	}
}

func TestFixedDelay_NegativeInputs(t *testing.T) {
	cfg := FixedDelay(-1, -time.Second)
	if cfg.MaxAttempts != 1 {
		t.Errorf("expected 1 attempt, got %d", cfg.MaxAttempts)
	}
	if cfg.Delay != 0 {
		t.Errorf("expected zero delay, got %v", cfg.Delay)
	}
}

func TestDoVal_ZeroConfigTriesOnce(t *testing.T) {
	var calls int
	_, err := DoVal(context.Background(), RetryConfig{}, func(_ context.Context) (int, error) {
		calls++
		return 0, errors.New("boom")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDoVal_WaitsBetweenAttempts(t *testing.T) {
	start := time.Now()
	var calls int
	_, _ = DoVal(context.Background(), FixedDelay(2, 20*time.Millisecond), func(_ context.Context) (int, error) {
		calls++
		return 0, errors.New("boom")
	})
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("expected at least two 20ms waits, took %v", elapsed)
	}
}

func TestDoVal_ContextCancelled_StopsRetry(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls int

	_, err := DoVal(ctx, FixedDelay(5, time.Hour), func(_ context.Context) (int, error) {
		calls++
		cancel()
		return 0, errors.New("boom")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("expected 1 call after cancel, got %d", calls)
	}
}

func TestDoVal_CancelDuringWait(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	var calls int
	start := time.Now()
	_, err := DoVal(ctx, FixedDelay(3, time.Hour), func(_ context.Context) (int, error) {
		calls++
		return 0, errors.New("boom")
	})
	if err == nil || err.Error() != "boom" {
		t.Fatalf("expected last attempt error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("wait did not stop on context deadline")
	}
}

func TestDoVal_OnRetryCallback(t *testing.T) {
	var attempts []int
	cfg := FixedDelay(2, 0)
	cfg.OnRetry = func(attempt int, _ error) {
		attempts = append(attempts, attempt)
	}

	_, _ = DoVal(context.Background(), cfg, func(_ context.Context) (int, error) {
		return 0, errors.New("nope")
	})
	if len(attempts) != 2 || attempts[0] != 1 || attempts[1] != 2 {
		t.Errorf("unexpected retry callbacks: %v", attempts)
	}
}

func TestDoVal_ReturnsValueOnSuccess(t *testing.T) {
	var calls int
	val, err := DoVal(context.Background(), FixedDelay(2, 0), func(_ context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, errors.New("first try fails")
		}
		return 42, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val != 42 {
		t.Errorf("expected 42, got %d", val)
	}
}

func TestDoVal_ReturnsZeroOnFailure(t *testing.T) {
	val, err := DoVal(context.Background(), FixedDelay(1, 0), func(_ context.Context) (string, error) {
		return "partial", errors.New("fail")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if val != "" {
		t.Errorf("expected zero value, got %q", val)
	}
}

func TestRetryLogger(t *testing.T) {
	fn := RetryLogger("pipeline", "load_countries")
	// Must not panic with the default no-op global logger.
	fn(1, errors.New("oops"))
}
