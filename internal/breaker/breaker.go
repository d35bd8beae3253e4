// Package breaker guards a failure-prone dependency with a circuit
// breaker: once failures cross a threshold the dependency is no longer
// invoked until a cool-down elapses, after which trial calls probe for
// recovery.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/echolane/voicegate/internal/config"
)

// State identifies the breaker position.
type State string

const (
	StateClosed   State = "closed"    // normal operation
	StateOpen     State = "open"      // failing, rejecting calls
	StateHalfOpen State = "half_open" // probing for recovery
)

// ErrOpen is returned without invoking the guarded operation while the
// breaker is open.
var ErrOpen = errors.New("circuit breaker is open")

// OpenError carries how long callers should wait before the next probe.
type OpenError struct {
	Name       string
	RetryAfter time.Duration
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit breaker is open for %s, retry after %.0fs", e.Name, e.RetryAfter.Seconds())
}

func (e *OpenError) Unwrap() error { return ErrOpen }

// Status is a point-in-time snapshot of breaker state, exposed on the
// operational endpoints.
type Status struct {
	Name              string     `json:"name"`
	State             State      `json:"state"`
	FailureCount      int        `json:"failure_count"`
	SuccessCount      int        `json:"success_count"`
	LastFailure       *time.Time `json:"last_failure,omitempty"`
	SecondsUntilRetry float64    `json:"seconds_until_retry"`
}

// Breaker is shared by all concurrent callers of one dependency. All
// state transitions happen under mu.
type Breaker struct {
	name             string
	failureThreshold int
	openTimeout      time.Duration
	successThreshold int

	mu          sync.Mutex
	state       State
	failures    int
	successes   int
	lastFailure time.Time

	clock  func() time.Time
	logger *slog.Logger
}

func New(name string, cfg config.BreakerConfig, log *slog.Logger) *Breaker {
	b := &Breaker{
		name:             name,
		failureThreshold: cfg.FailureThreshold,
		openTimeout:      time.Duration(cfg.OpenTimeoutMS) * time.Millisecond,
		successThreshold: cfg.SuccessThreshold,
		state:            StateClosed,
		clock:            time.Now,
		logger:           log.With(slog.String("component", "breaker"), slog.String("name", name)),
	}
	b.logger.Info("circuit breaker initialized",
		slog.Int("failure_threshold", cfg.FailureThreshold),
		slog.Int("open_timeout_ms", cfg.OpenTimeoutMS),
		slog.Int("success_threshold", cfg.SuccessThreshold))
	return b
}

// Do runs op under the breaker's admission policy. While open, op is not
// invoked and an *OpenError is returned. Outcomes of admitted calls feed
// the failure/success counters.
func (b *Breaker) Do(ctx context.Context, op func(context.Context) error) error {
	if err := b.admit(); err != nil {
		return err
	}

	err := op(ctx)
	if err != nil {
		b.onFailure()
		return err
	}
	b.onSuccess()
	return nil
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateOpen {
		return nil
	}
	if b.clock().Sub(b.lastFailure) >= b.openTimeout {
		b.logger.Info("circuit breaker transition", slog.String("from", string(StateOpen)), slog.String("to", string(StateHalfOpen)))
		b.state = StateHalfOpen
		b.successes = 0
		return nil
	}
	return &OpenError{Name: b.name, RetryAfter: b.retryInLocked()}
}

func (b *Breaker) onSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.successes++
		b.logger.Debug("success in half-open",
			slog.Int("successes", b.successes),
			slog.Int("threshold", b.successThreshold))
		if b.successes >= b.successThreshold {
			b.logger.Info("circuit breaker transition", slog.String("from", string(StateHalfOpen)), slog.String("to", string(StateClosed)))
			b.state = StateClosed
			b.failures = 0
			b.successes = 0
		}
	case StateClosed:
		b.failures = 0
	}
}

func (b *Breaker) onFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailure = b.clock()
	b.logger.Warn("failure recorded",
		slog.Int("failures", b.failures),
		slog.Int("threshold", b.failureThreshold))

	switch b.state {
	case StateHalfOpen:
		// One failure cancels the recovery attempt.
		b.logger.Warn("circuit breaker transition", slog.String("from", string(StateHalfOpen)), slog.String("to", string(StateOpen)))
		b.state = StateOpen
		b.successes = 0
	case StateClosed:
		if b.failures >= b.failureThreshold {
			b.logger.Error("circuit breaker transition",
				slog.String("from", string(StateClosed)),
				slog.String("to", string(StateOpen)),
				slog.Int("failures", b.failures))
			b.state = StateOpen
		}
	}
}

// Reset forces the breaker back to closed. Operator action only.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.logger.Info("circuit breaker manual reset")
	b.state = StateClosed
	b.failures = 0
	b.successes = 0
	b.lastFailure = time.Time{}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Status returns a snapshot for health and stats reporting.
func (b *Breaker) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := Status{
		Name:         b.name,
		State:        b.state,
		FailureCount: b.failures,
		SuccessCount: b.successes,
	}
	if !b.lastFailure.IsZero() {
		lf := b.lastFailure
		st.LastFailure = &lf
	}
	if b.state == StateOpen {
		st.SecondsUntilRetry = b.retryInLocked().Seconds()
	}
	return st
}

func (b *Breaker) retryInLocked() time.Duration {
	if b.lastFailure.IsZero() {
		return 0
	}
	remaining := b.openTimeout - b.clock().Sub(b.lastFailure)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// SetClock overrides the time source. Tests only.
func (b *Breaker) SetClock(clock func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clock = clock
}
