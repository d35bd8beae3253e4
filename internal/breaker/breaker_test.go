package breaker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/echolane/voicegate/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newBreaker(t *testing.T, cfg config.BreakerConfig) *Breaker {
	t.Helper()
	return New("synth", cfg, newLogger())
}

var errBoom = errors.New("boom")

func fail(context.Context) error { return errBoom }

func succeed(context.Context) error { return nil }

func TestOpensAfterThreshold(t *testing.T) {
	b := newBreaker(t, config.BreakerConfig{FailureThreshold: 5, OpenTimeoutMS: 60000, SuccessThreshold: 2})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := b.Do(ctx, fail); !errors.Is(err, errBoom) {
			t.Fatalf("call %d: expected op error, got %v", i, err)
		}
	}
	if b.State() != StateOpen {
		t.Fatalf("expected open after 5 failures, got %s", b.State())
	}

	// Sixth call before the timeout is rejected without invoking the op.
	invoked := false
	err := b.Do(ctx, func(context.Context) error {
		invoked = true
		return nil
	})
	if !errors.Is(err, ErrOpen) {
		t.Fatalf("expected ErrOpen, got %v", err)
	}
	if invoked {
		t.Fatal("operation must not be invoked while open")
	}

	var openErr *OpenError
	if !errors.As(err, &openErr) {
		t.Fatalf("expected *OpenError, got %T", err)
	}
	if openErr.RetryAfter <= 0 {
		t.Fatalf("expected positive retry-after, got %v", openErr.RetryAfter)
	}
}

func TestSuccessResetsFailureCountWhileClosed(t *testing.T) {
	b := newBreaker(t, config.BreakerConfig{FailureThreshold: 3, OpenTimeoutMS: 60000, SuccessThreshold: 1})
	ctx := context.Background()

	_ = b.Do(ctx, fail)
	_ = b.Do(ctx, fail)
	if err := b.Do(ctx, succeed); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := b.Status().FailureCount; got != 0 {
		t.Fatalf("expected failure count reset, got %d", got)
	}
	if b.State() != StateClosed {
		t.Fatalf("expected closed, got %s", b.State())
	}
}

func TestHalfOpenRecovery(t *testing.T) {
	b := newBreaker(t, config.BreakerConfig{FailureThreshold: 2, OpenTimeoutMS: 60000, SuccessThreshold: 2})
	ctx := context.Background()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	b.SetClock(func() time.Time { return now })

	_ = b.Do(ctx, fail)
	_ = b.Do(ctx, fail)
	if b.State() != StateOpen {
		t.Fatalf("expected open, got %s", b.State())
	}

	// Cool-down elapses: next call is admitted as a half-open probe.
	now = now.Add(61 * time.Second)
	if err := b.Do(ctx, succeed); err != nil {
		t.Fatalf("expected probe admitted, got %v", err)
	}
	if b.State() != StateHalfOpen {
		t.Fatalf("expected half-open after one success, got %s", b.State())
	}

	if err := b.Do(ctx, succeed); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	st := b.Status()
	if st.State != StateClosed {
		t.Fatalf("expected closed after 2 successes, got %s", st.State)
	}
	if st.FailureCount != 0 || st.SuccessCount != 0 {
		t.Fatalf("expected counters reset, got %+v", st)
	}
}

func TestHalfOpenSingleFailureReopens(t *testing.T) {
	b := newBreaker(t, config.BreakerConfig{FailureThreshold: 2, OpenTimeoutMS: 60000, SuccessThreshold: 3})
	ctx := context.Background()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	b.SetClock(func() time.Time { return now })

	_ = b.Do(ctx, fail)
	_ = b.Do(ctx, fail)

	now = now.Add(61 * time.Second)
	if err := b.Do(ctx, succeed); err != nil {
		t.Fatalf("expected probe admitted, got %v", err)
	}
	if err := b.Do(ctx, succeed); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Prior successes do not save the recovery attempt.
	if err := b.Do(ctx, fail); !errors.Is(err, errBoom) {
		t.Fatalf("expected op error, got %v", err)
	}
	st := b.Status()
	if st.State != StateOpen {
		t.Fatalf("expected reopened, got %s", st.State)
	}
	if st.SuccessCount != 0 {
		t.Fatalf("expected success count reset, got %d", st.SuccessCount)
	}
}

func TestReset(t *testing.T) {
	b := newBreaker(t, config.BreakerConfig{FailureThreshold: 1, OpenTimeoutMS: 60000, SuccessThreshold: 1})
	_ = b.Do(context.Background(), fail)
	if b.State() != StateOpen {
		t.Fatalf("expected open, got %s", b.State())
	}
	b.Reset()
	st := b.Status()
	if st.State != StateClosed || st.FailureCount != 0 || st.LastFailure != nil {
		t.Fatalf("expected clean state after reset, got %+v", st)
	}
}

func TestConcurrentFailuresDoNotLoseUpdates(t *testing.T) {
	b := newBreaker(t, config.BreakerConfig{FailureThreshold: 1000, OpenTimeoutMS: 60000, SuccessThreshold: 1})
	ctx := context.Background()

	done := make(chan struct{})
	for i := 0; i < 10; i++ {
		go func() {
			for j := 0; j < 50; j++ {
				_ = b.Do(ctx, fail)
			}
			done <- struct{}{}
		}()
	}
	for i := 0; i < 10; i++ {
		<-done
	}
	if got := b.Status().FailureCount; got != 500 {
		t.Fatalf("expected 500 recorded failures, got %d", got)
	}
}
