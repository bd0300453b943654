package retry

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/assetcache/assetcache/pkg/errors"
)

func TestDoSucceedsFirstAttempt(t *testing.T) {
	calls := 0
	r := New(DefaultConfig())

	err := r.Do(func() error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDoRetriesRetryableError(t *testing.T) {
	calls := 0
	config := DefaultConfig()
	config.InitialDelay = time.Millisecond
	config.Jitter = false
	r := New(config)

	err := r.Do(func() error {
		calls++
		if calls < 3 {
			return errors.NewError(errors.ErrCodeFetchFailed, "transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDoStopsOnNonRetryableError(t *testing.T) {
	calls := 0
	config := DefaultConfig()
	config.InitialDelay = time.Millisecond
	r := New(config)

	err := r.Do(func() error {
		calls++
		return errors.NewError(errors.ErrCodeMalformedMessage, "bad payload")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDoExhaustsAttempts(t *testing.T) {
	calls := 0
	config := DefaultConfig()
	config.MaxAttempts = 3
	config.InitialDelay = time.Millisecond
	config.Jitter = false
	r := New(config)

	err := r.Do(func() error {
		calls++
		return errors.NewError(errors.ErrCodeFetchTimeout, "still down")
	})
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestPlainErrorsNotRetriedByDefault(t *testing.T) {
	calls := 0
	config := DefaultConfig()
	config.InitialDelay = time.Millisecond
	r := New(config)

	_ = r.Do(func() error {
		calls++
		return fmt.Errorf("plain failure")
	})
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetryAllRetriesPlainErrors(t *testing.T) {
	calls := 0
	err := RetryWithBackoff(context.Background(), 4, func() error {
		calls++
		if calls < 2 {
			return fmt.Errorf("plain failure")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	config := DefaultConfig()
	config.RetryAll = true
	r := New(config)

	err := r.DoWithContext(ctx, func(ctx context.Context) error {
		return fmt.Errorf("should not matter")
	})
	if err == nil {
		t.Fatal("expected cancellation error")
	}
}

func TestOnRetryCallback(t *testing.T) {
	var attempts []int
	config := DefaultConfig()
	config.MaxAttempts = 3
	config.InitialDelay = time.Millisecond
	config.Jitter = false
	config.OnRetry = func(attempt int, err error, delay time.Duration) {
		attempts = append(attempts, attempt)
	}
	r := New(config)

	_ = r.Do(func() error {
		return errors.NewError(errors.ErrCodeFetchFailed, "down")
	})
	if len(attempts) != 2 {
		t.Errorf("OnRetry called %d times, want 2", len(attempts))
	}
}
