// Package runtime assembles the voice gateway: telemetry, optional
// bus, cache, event store, dispatch pipeline, and the HTTP surface.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/echolane/voicegate/internal/audioproc"
	"github.com/echolane/voicegate/internal/breaker"
	"github.com/echolane/voicegate/internal/bus"
	"github.com/echolane/voicegate/internal/cache"
	"github.com/echolane/voicegate/internal/config"
	"github.com/echolane/voicegate/internal/dispatch"
	"github.com/echolane/voicegate/internal/eventstore"
	"github.com/echolane/voicegate/internal/gateway"
	"github.com/echolane/voicegate/internal/httpapi"
	"github.com/echolane/voicegate/internal/natsserver"
	"github.com/echolane/voicegate/internal/sentiment"
	"github.com/echolane/voicegate/internal/synth"
	"github.com/echolane/voicegate/internal/transcribe"
)

type Runtime struct {
	cfg    config.Config
	logger *slog.Logger

	httpServer    *http.Server
	metricsServer *http.Server
	telemetry     *telemetry
	embedded      *natsserver.EmbeddedServer
	busClient     *bus.Client
	cache         *cache.Cache
	events        *eventstore.Store

	wg sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start brings the gateway up and blocks until ctx is cancelled, then
// shuts everything down in reverse order.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	tel, err := newTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("setup telemetry: %w", err)
	}
	r.telemetry = tel

	if r.cfg.Bus.Enabled {
		embedded, err := natsserver.Start(r.cfg.Bus, r.logger)
		if err != nil {
			return fmt.Errorf("start embedded bus: %w", err)
		}
		r.embedded = embedded

		client, err := bus.Connect(ctx, r.cfg.Bus, r.logger)
		if err != nil {
			// The pipeline works without a bus; events are just not broadcast.
			r.logger.Warn("bus unavailable, continuing without event publication",
				slog.String("error", err.Error()))
		} else {
			r.busClient = client
		}
	}

	store, err := cache.NewStore(r.cfg.Cache)
	if err != nil {
		return fmt.Errorf("create cache store: %w", err)
	}
	r.cache = cache.New(store,
		time.Duration(r.cfg.Cache.TTLSeconds)*time.Second,
		time.Duration(r.cfg.Cache.OpTimeoutMS)*time.Millisecond,
		r.logger)

	events, err := eventstore.Open(ctx, r.cfg.EventStore, r.logger)
	if err != nil {
		return fmt.Errorf("open event store: %w", err)
	}
	r.events = events

	synthesizer, err := r.buildSynthesizer()
	if err != nil {
		return fmt.Errorf("initialize synthesizer: %w", err)
	}
	recognizer, err := r.buildRecognizer()
	if err != nil {
		return fmt.Errorf("initialize recognizer: %w", err)
	}

	brk := breaker.New("tts", r.cfg.Breaker, r.logger)
	dispatcher, err := dispatch.New(r.cfg.Dispatch, r.cache, brk, synthesizer, r.cfg.Synth.Voice, r.logger)
	if err != nil {
		return fmt.Errorf("create dispatcher: %w", err)
	}

	analyzer := sentiment.NewAnalyzer()
	processor := audioproc.NewProcessor(r.cfg.Audio, r.logger)

	var publisher gateway.Publisher
	if r.busClient != nil {
		publisher = r.busClient
	}
	gw := gateway.New(dispatcher, recognizer, analyzer, processor, gateway.NewRegistry(), r.events, publisher, r.logger)
	api := httpapi.NewServer(dispatcher, recognizer, analyzer, processor, r.cache, brk, gw, r.events, r.logger)

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           api,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	r.startMetricsServer()

	r.logger.Info("voicegate started", slog.String("addr", addr))

	<-ctx.Done()
	r.logger.Info("voicegate stopping")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	if r.metricsServer != nil {
		if err := r.metricsServer.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("metrics shutdown error", slog.String("error", err.Error()))
		}
	}
	r.wg.Wait()

	r.busClient.Close()
	r.embedded.Shutdown()
	if err := r.cache.Close(); err != nil {
		r.logger.Error("cache close error", slog.String("error", err.Error()))
	}
	if err := r.events.Close(); err != nil {
		r.logger.Error("event store close error", slog.String("error", err.Error()))
	}
	if err := r.telemetry.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
	}

	return nil
}

func (r *Runtime) buildSynthesizer() (synth.Synthesizer, error) {
	if r.cfg.Synth.Mode == "exec" {
		return synth.NewExecSynth(r.cfg.Synth)
	}
	return synth.NewMockSynth(r.cfg.Synth.SampleRate, r.cfg.Synth.Channels), nil
}

func (r *Runtime) buildRecognizer() (transcribe.Recognizer, error) {
	if r.cfg.Transcribe.Mode == "exec" {
		return transcribe.NewExecRecognizer(r.cfg.Transcribe)
	}
	return transcribe.NewMockRecognizer(r.cfg.Transcribe.SampleRate, r.cfg.Transcribe.Channels), nil
}

func (r *Runtime) startMetricsServer() {
	bind := r.cfg.Telemetry.PrometheusBind
	if bind == "" || r.telemetry.metricsHandler == nil {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.telemetry.metricsHandler)
	r.metricsServer = &http.Server{
		Addr:              bind,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("metrics server failed", slog.String("error", err.Error()))
		}
	}()
	r.logger.Info("metrics server started", slog.String("addr", bind))
}
