package gateway

import (
	"encoding/base64"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/echolane/voicegate/internal/audioproc"
	"github.com/echolane/voicegate/internal/breaker"
	"github.com/echolane/voicegate/internal/cache"
	"github.com/echolane/voicegate/internal/config"
	"github.com/echolane/voicegate/internal/dispatch"
	"github.com/echolane/voicegate/internal/protocol"
	"github.com/echolane/voicegate/internal/sentiment"
	"github.com/echolane/voicegate/internal/synth"
	"github.com/echolane/voicegate/internal/transcribe"
	"github.com/gorilla/websocket"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestGateway(t *testing.T) *Gateway {
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
	}, c, brk, synth.NewMockSynth(22050, 1), "default", testLogger())
	if err != nil {
		t.Fatalf("create dispatcher: %v", err)
	}
	ap := audioproc.NewProcessor(config.AudioConfig{SampleRate: 22050, Channels: 1, TargetDBFS: -20.0}, testLogger())
	return New(d, transcribe.NewMockRecognizer(16000, 1), sentiment.NewAnalyzer(), ap, NewRegistry(), nil, nil, testLogger())
}

func dialTestGateway(t *testing.T, g *Gateway) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(g)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func roundTrip(t *testing.T, conn *websocket.Conn, msg protocol.ClientMessage) map[string]any {
	t.Helper()
	if err := conn.WriteJSON(msg); err != nil {
		t.Fatalf("write: %v", err)
	}
	var resp map[string]any
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("read: %v", err)
	}
	return resp
}

func TestSessionTextRequest(t *testing.T) {
	g := newTestGateway(t)
	conn := dialTestGateway(t, g)

	resp := roundTrip(t, conn, protocol.ClientMessage{Type: "text", Text: "Hello world"})
	if resp["type"] != "audio" {
		t.Fatalf("response type = %v, want audio", resp["type"])
	}
	if resp["cached"] != false {
		t.Fatal("first request should not be cached")
	}
	audio, err := base64.StdEncoding.DecodeString(resp["audio"].(string))
	if err != nil {
		t.Fatalf("audio is not valid base64: %v", err)
	}
	if len(audio) == 0 {
		t.Fatal("empty audio payload")
	}
	if _, ok := resp["sentiment"].(map[string]any); !ok {
		t.Fatal("missing sentiment block")
	}

	resp = roundTrip(t, conn, protocol.ClientMessage{Type: "text", Text: "hello world"})
	if resp["cached"] != true {
		t.Fatal("repeat request should be served from cache")
	}
}

func TestSessionAudioRequest(t *testing.T) {
	g := newTestGateway(t)
	conn := dialTestGateway(t, g)

	pcm := make([]byte, 32000)
	resp := roundTrip(t, conn, protocol.ClientMessage{
		Type:  "audio",
		Audio: base64.StdEncoding.EncodeToString(pcm),
	})
	if resp["type"] != "transcript" {
		t.Fatalf("response type = %v, want transcript", resp["type"])
	}
	if resp["text"] == "" {
		t.Fatal("empty transcript")
	}
	if resp["language"] != "en" {
		t.Fatalf("language = %v, want en", resp["language"])
	}
	if _, ok := resp["sentiment"].(map[string]any); !ok {
		t.Fatal("missing sentiment block")
	}
}

func TestSessionInvalidTypeKeepsConnectionOpen(t *testing.T) {
	g := newTestGateway(t)
	conn := dialTestGateway(t, g)

	resp := roundTrip(t, conn, protocol.ClientMessage{Type: "video"})
	if resp["type"] != "error" {
		t.Fatalf("response type = %v, want error", resp["type"])
	}
	want := "Invalid message type: video. Expected 'text' or 'audio'"
	if resp["message"] != want {
		t.Fatalf("message = %q, want %q", resp["message"], want)
	}

	// The same connection must still serve a valid request.
	resp = roundTrip(t, conn, protocol.ClientMessage{Type: "text", Text: "still alive"})
	if resp["type"] != "audio" {
		t.Fatalf("follow-up response type = %v, want audio", resp["type"])
	}
}

func TestSessionEmptyPayloads(t *testing.T) {
	g := newTestGateway(t)
	conn := dialTestGateway(t, g)

	resp := roundTrip(t, conn, protocol.ClientMessage{Type: "text", Text: "   "})
	if resp["type"] != "error" || resp["message"] != "Empty text" {
		t.Fatalf("unexpected response: %v", resp)
	}

	resp = roundTrip(t, conn, protocol.ClientMessage{Type: "audio"})
	if resp["type"] != "error" || resp["message"] != "Empty audio data" {
		t.Fatalf("unexpected response: %v", resp)
	}
}

func TestSessionMalformedFrame(t *testing.T) {
	g := newTestGateway(t)
	conn := dialTestGateway(t, g)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	var resp map[string]any
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("read: %v", err)
	}
	if resp["type"] != "error" {
		t.Fatalf("response type = %v, want error", resp["type"])
	}

	got := roundTrip(t, conn, protocol.ClientMessage{Type: "text", Text: "recovered"})
	if got["type"] != "audio" {
		t.Fatalf("follow-up response type = %v, want audio", got["type"])
	}
}

func TestRegistryCountsSessions(t *testing.T) {
	g := newTestGateway(t)

	if got := g.Registry().Count(); got != 0 {
		t.Fatalf("initial count = %d, want 0", got)
	}

	conn := dialTestGateway(t, g)
	waitFor(t, func() bool { return g.Registry().Count() == 1 })

	conn.Close()
	waitFor(t, func() bool { return g.Registry().Count() == 0 })
}

func TestSessionPublishesEvents(t *testing.T) {
	g := newTestGateway(t)
	pub := &capturePublisher{}
	g.publisher = pub
	conn := dialTestGateway(t, g)

	roundTrip(t, conn, protocol.ClientMessage{Type: "text", Text: "publish me"})
	if _, synthCount := pub.counts(); synthCount != 1 {
		t.Fatalf("synthesis events = %d, want 1", synthCount)
	}
	pub.mu.Lock()
	chars := pub.synth[0].TextChars
	pub.mu.Unlock()
	if chars != len("publish me") {
		t.Fatalf("event text chars = %d", chars)
	}

	pcm := make([]byte, 3200)
	roundTrip(t, conn, protocol.ClientMessage{Type: "audio", Audio: base64.StdEncoding.EncodeToString(pcm)})
	if transcriptCount, _ := pub.counts(); transcriptCount != 1 {
		t.Fatalf("transcript events = %d, want 1", transcriptCount)
	}
}

type capturePublisher struct {
	mu          sync.Mutex
	transcripts []protocol.TranscriptEvent
	synth       []protocol.SynthesisEvent
}

func (p *capturePublisher) PublishTranscript(ev protocol.TranscriptEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.transcripts = append(p.transcripts, ev)
}

func (p *capturePublisher) PublishSynthesis(ev protocol.SynthesisEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.synth = append(p.synth, ev)
}

func (p *capturePublisher) counts() (transcripts, synth int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.transcripts), len(p.synth)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
