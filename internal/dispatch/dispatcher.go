// Package dispatch orchestrates synthesis requests: dedup-cache lookup,
// circuit-breaker-gated calls with bounded retry, cache population, and
// latency accounting. It is the only place that decides when expensive
// work is redone and when a failing dependency is left alone.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/echolane/voicegate/internal/breaker"
	"github.com/echolane/voicegate/internal/cache"
	"github.com/echolane/voicegate/internal/config"
	"github.com/echolane/voicegate/internal/synth"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ErrEmptyText rejects requests with no synthesizable content.
var ErrEmptyText = errors.New("text is empty")

// Result is a completed dispatch.
type Result struct {
	Audio     []byte
	FromCache bool
	Latency   time.Duration
}

type Dispatcher struct {
	cfg    config.DispatchConfig
	cache  *cache.Cache
	brk    *breaker.Breaker
	synth  synth.Synthesizer
	voice  string
	logger *slog.Logger

	requests metric.Int64Counter
	latency  metric.Float64Histogram
}

func New(cfg config.DispatchConfig, c *cache.Cache, brk *breaker.Breaker, s synth.Synthesizer, voice string, log *slog.Logger) (*Dispatcher, error) {
	meter := otel.Meter("voicegate/dispatch")
	requests, err := meter.Int64Counter("voicegate.dispatch.requests",
		metric.WithDescription("Completed synthesis dispatches"))
	if err != nil {
		return nil, fmt.Errorf("create request counter: %w", err)
	}
	latency, err := meter.Float64Histogram("voicegate.dispatch.latency",
		metric.WithDescription("End-to-end dispatch latency"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, fmt.Errorf("create latency histogram: %w", err)
	}
	return &Dispatcher{
		cfg:      cfg,
		cache:    c,
		brk:      brk,
		synth:    s,
		voice:    voice,
		logger:   log.With(slog.String("component", "dispatch")),
		requests: requests,
		latency:  latency,
	}, nil
}

// Dispatch produces audio for text. With useCache, a previously
// synthesized result for equivalent text is returned without touching
// the synthesizer; otherwise the call goes through the circuit breaker
// with bounded retry, and the result is stored for the next caller. The
// breaker observes one outcome per dispatch regardless of retries.
func (d *Dispatcher) Dispatch(ctx context.Context, text string, useCache bool) (Result, error) {
	start := time.Now()

	if text == "" {
		return Result{}, ErrEmptyText
	}

	if useCache {
		if audio := d.cache.Get(ctx, text); audio != nil {
			res := Result{Audio: audio, FromCache: true, Latency: time.Since(start)}
			d.record(ctx, res)
			return res, nil
		}
	}

	var audio []byte
	err := d.brk.Do(ctx, func(ctx context.Context) error {
		out, err := d.synthesizeWithRetry(ctx, text)
		if err != nil {
			return err
		}
		audio = out
		return nil
	})
	if err != nil {
		if errors.Is(err, breaker.ErrOpen) {
			d.logger.Warn("dispatch rejected, circuit open")
			return Result{}, err
		}
		d.logger.Error("dispatch failed", slog.String("error", err.Error()))
		return Result{}, err
	}

	res := Result{Audio: audio, FromCache: false, Latency: time.Since(start)}
	// Cache population does not count toward dispatch latency and its
	// failure does not fail the dispatch.
	if useCache {
		d.cache.Set(ctx, text, audio, 0)
	}
	d.record(ctx, res)
	return res, nil
}

func (d *Dispatcher) synthesizeWithRetry(ctx context.Context, text string) ([]byte, error) {
	attempt := 0
	operation := func() ([]byte, error) {
		attempt++
		attemptCtx, cancel := context.WithTimeout(ctx, time.Duration(d.cfg.AttemptTimeoutMS)*time.Millisecond)
		defer cancel()

		out, err := d.synth.Synthesize(attemptCtx, synth.Request{Text: text, Voice: d.voice})
		if err != nil {
			if !Transient(err) {
				return nil, backoff.Permanent(err)
			}
			d.logger.Warn("synthesis attempt failed",
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()))
			return nil, err
		}
		return out, nil
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = time.Duration(d.cfg.RetryMinWaitMS) * time.Millisecond
	expo.MaxInterval = time.Duration(d.cfg.RetryMaxWaitMS) * time.Millisecond
	expo.Multiplier = d.cfg.RetryMultiplier

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(expo),
		backoff.WithMaxTries(uint(d.cfg.MaxRetries)))
}

func (d *Dispatcher) record(ctx context.Context, res Result) {
	attrs := metric.WithAttributes(attribute.Bool("cached", res.FromCache))
	d.requests.Add(ctx, 1, attrs)
	d.latency.Record(ctx, float64(res.Latency.Milliseconds()), attrs)
}
