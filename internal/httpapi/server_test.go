package httpapi

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/echolane/voicegate/internal/audioproc"
	"github.com/echolane/voicegate/internal/breaker"
	"github.com/echolane/voicegate/internal/cache"
	"github.com/echolane/voicegate/internal/config"
	"github.com/echolane/voicegate/internal/dispatch"
	"github.com/echolane/voicegate/internal/gateway"
	"github.com/echolane/voicegate/internal/sentiment"
	"github.com/echolane/voicegate/internal/synth"
	"github.com/echolane/voicegate/internal/transcribe"
)

type failingSynth struct{}

func (failingSynth) Synthesize(ctx context.Context, req synth.Request) ([]byte, error) {
	return nil, synth.ErrUnavailable
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, s synth.Synthesizer) (*Server, *breaker.Breaker) {
	t.Helper()
	store, err := cache.NewStore(config.CacheConfig{Mode: "memory", MaxEntries: 32, TTLSeconds: 60})
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	c := cache.New(store, time.Minute, time.Second, testLogger())
	brk := breaker.New("tts", config.BreakerConfig{FailureThreshold: 5, OpenTimeoutMS: 60000, SuccessThreshold: 2}, testLogger())
	d, err := dispatch.New(config.DispatchConfig{
		MaxRetries:       3,
		RetryMinWaitMS:   1,
		RetryMaxWaitMS:   5,
		RetryMultiplier:  2.0,
		AttemptTimeoutMS: 1000,
	}, c, brk, s, "default", testLogger())
	if err != nil {
		t.Fatalf("create dispatcher: %v", err)
	}
	sa := sentiment.NewAnalyzer()
	ap := audioproc.NewProcessor(config.AudioConfig{SampleRate: 22050, Channels: 1, TargetDBFS: -20.0}, testLogger())
	rec := transcribe.NewMockRecognizer(16000, 1)
	gw := gateway.New(d, rec, sa, ap, gateway.NewRegistry(), nil, nil, testLogger())
	return NewServer(d, rec, sa, ap, c, brk, gw, nil, testLogger()), brk
}

func postJSON(t *testing.T, srv *Server, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestTTSEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, synth.NewMockSynth(22050, 1))

	rr := postJSON(t, srv, "/api/tts", map[string]any{"text": "Hello world"})
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["cached"] != false {
		t.Fatal("first request should not be cached")
	}
	if body["text"] != "Hello world" {
		t.Fatalf("text = %v", body["text"])
	}
	audio, err := base64.StdEncoding.DecodeString(body["audio_base64"].(string))
	if err != nil || len(audio) == 0 {
		t.Fatalf("bad audio payload: %v", err)
	}

	rr = postJSON(t, srv, "/api/tts", map[string]any{"text": "hello world"})
	if body := decodeBody(t, rr); body["cached"] != true {
		t.Fatal("repeat request should be cached")
	}
}

func TestTTSEndpointEmptyText(t *testing.T) {
	srv, _ := newTestServer(t, synth.NewMockSynth(22050, 1))

	rr := postJSON(t, srv, "/api/tts", map[string]any{"text": "   "})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
	if body := decodeBody(t, rr); body["detail"] != "Text is required" {
		t.Fatalf("detail = %v", body["detail"])
	}
}

func TestTTSEndpointSynthFailure(t *testing.T) {
	srv, brk := newTestServer(t, failingSynth{})

	rr := postJSON(t, srv, "/api/tts", map[string]any{"text": "doomed"})
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rr.Code)
	}

	// Trip the breaker, then expect fast 503s.
	for i := 0; i < 4; i++ {
		postJSON(t, srv, "/api/tts", map[string]any{"text": "doomed", "use_cache": false})
	}
	if brk.State() != breaker.StateOpen {
		t.Fatalf("breaker state = %s, want open", brk.State())
	}
	rr = postJSON(t, srv, "/api/tts", map[string]any{"text": "doomed"})
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rr.Code)
	}
}

func TestSTTEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, synth.NewMockSynth(22050, 1))

	pcm := make([]byte, 32000)
	rr := postJSON(t, srv, "/api/stt", map[string]any{
		"audio_base64": base64.StdEncoding.EncodeToString(pcm),
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["text"] == "" {
		t.Fatal("empty transcript")
	}
	if body["language"] != "en" {
		t.Fatalf("language = %v, want en", body["language"])
	}
	if _, ok := body["sentiment"].(map[string]any); !ok {
		t.Fatal("missing sentiment block")
	}
}

func TestSTTEndpointBadInput(t *testing.T) {
	srv, _ := newTestServer(t, synth.NewMockSynth(22050, 1))

	rr := postJSON(t, srv, "/api/stt", map[string]any{"audio_base64": ""})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("empty audio status = %d, want 400", rr.Code)
	}

	rr = postJSON(t, srv, "/api/stt", map[string]any{"audio_base64": "not/base64!!"})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("undecodable audio status = %d, want 400", rr.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, synth.NewMockSynth(22050, 1))
	srv.clock = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["status"] != "healthy" {
		t.Fatalf("status field = %v", body["status"])
	}
	if body["timestamp"] != "2026-03-01T12:00:00Z" {
		t.Fatalf("timestamp = %v", body["timestamp"])
	}
	services, ok := body["services"].(map[string]any)
	if !ok {
		t.Fatal("missing services block")
	}
	if services["cache"] != true {
		t.Fatal("cache should report healthy")
	}
	if services["tts"] != "closed" {
		t.Fatalf("tts state = %v, want closed", services["tts"])
	}
}

func TestStatsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, synth.NewMockSynth(22050, 1))

	postJSON(t, srv, "/api/tts", map[string]any{"text": "warm the cache"})
	postJSON(t, srv, "/api/tts", map[string]any{"text": "warm the cache"})

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, req)
	body := decodeBody(t, rr)

	cacheStats, ok := body["cache_stats"].(map[string]any)
	if !ok {
		t.Fatal("missing cache_stats block")
	}
	if cacheStats["hits"].(float64) != 1 {
		t.Fatalf("hits = %v, want 1", cacheStats["hits"])
	}
	cb, ok := body["circuit_breaker"].(map[string]any)
	if !ok {
		t.Fatal("missing circuit_breaker block")
	}
	if cb["state"] != "closed" {
		t.Fatalf("breaker state = %v, want closed", cb["state"])
	}
	if cb["failures"].(float64) != 0 {
		t.Fatalf("failures = %v, want 0", cb["failures"])
	}
}
