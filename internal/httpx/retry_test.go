package httpx

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestClassifyError(t *testing.T) {
	cases := []struct {
		err  error
		want ErrorType
	}{
		{nil, ErrorTypeSuccess},
		{errors.New("SignatureDoesNotMatch: the request signature we calculated does not match"), ErrorTypeCredential},
		{errors.New("AccessDenied: access denied"), ErrorTypeCredential},
		{errors.New("read tcp: connection reset by peer"), ErrorTypeNetwork},
		{errors.New("dial tcp: i/o timeout"), ErrorTypeNetwork},
		{errors.New("api error SlowDown: reduce request rate"), ErrorTypeRetryable},
		{errors.New("https response error StatusCode: 503"), ErrorTypeRetryable},
		{errors.New("NoSuchBucket: the specified bucket does not exist"), ErrorTypeFatal},
	}

	for _, c := range cases {
		if got := ClassifyError(c.err); got != c.want {
			t.Errorf("ClassifyError(%v) = %s, want %s", c.err, ErrorTypeName(got), ErrorTypeName(c.want))
		}
	}
}

func TestCalculateBackoffBounds(t *testing.T) {
	initial := 100 * time.Millisecond
	max := 1 * time.Second

	if d := CalculateBackoff(0, initial, max); d != 0 {
		t.Errorf("Attempt 0 should have zero backoff, got %v", d)
	}

	for attempt := 1; attempt <= 10; attempt++ {
		d := CalculateBackoff(attempt, initial, max)
		if d < 0 || d > max {
			t.Errorf("Backoff for attempt %d out of bounds: %v", attempt, d)
		}
	}
}

func TestExecuteWithRetrySucceedsAfterTransientErrors(t *testing.T) {
	attempts := 0
	cfg := Config{
		MaxRetries:   5,
		InitialDelay: time.Millisecond,
		MaxDelay:     2 * time.Millisecond,
	}

	err := ExecuteWithRetry(context.Background(), cfg, func() error {
		attempts++
		if attempts < 3 {
			return errors.New("connection reset")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Expected success, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

func TestExecuteWithRetryFatalReturnsImmediately(t *testing.T) {
	attempts := 0
	cfg := Config{MaxRetries: 5, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}

	fatal := errors.New("NoSuchKey: the specified key does not exist")
	err := ExecuteWithRetry(context.Background(), cfg, func() error {
		attempts++
		return fatal
	})
	if !errors.Is(err, fatal) {
		t.Errorf("Expected fatal error returned as-is, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("Fatal errors must not be retried, got %d attempts", attempts)
	}
}

func TestExecuteWithRetryHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := Config{MaxRetries: 5, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}
	err := ExecuteWithRetry(ctx, cfg, func() error {
		t.Fatal("operation should not run with a cancelled context")
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}
