// Package httpapi exposes the REST surface and mounts the WebSocket
// endpoint: synthesis and transcription without a persistent
// connection, plus health and stats for operators.
package httpapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/echolane/voicegate/internal/audioproc"
	"github.com/echolane/voicegate/internal/breaker"
	"github.com/echolane/voicegate/internal/cache"
	"github.com/echolane/voicegate/internal/dispatch"
	"github.com/echolane/voicegate/internal/eventstore"
	"github.com/echolane/voicegate/internal/gateway"
	"github.com/echolane/voicegate/internal/protocol"
	"github.com/echolane/voicegate/internal/sentiment"
	"github.com/echolane/voicegate/internal/transcribe"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// restSession groups REST-originated events in the timeline; REST
// callers have no connection of their own.
const restSession = "rest"

type Server struct {
	dispatcher *dispatch.Dispatcher
	recognizer transcribe.Recognizer
	sentiment  *sentiment.Analyzer
	audio      *audioproc.Processor
	cache      *cache.Cache
	breaker    *breaker.Breaker
	gateway    *gateway.Gateway
	events     *eventstore.Store
	logger     *slog.Logger
	clock      func() time.Time
	router     chi.Router
}

func NewServer(d *dispatch.Dispatcher, rec transcribe.Recognizer, sa *sentiment.Analyzer, ap *audioproc.Processor, c *cache.Cache, brk *breaker.Breaker, gw *gateway.Gateway, es *eventstore.Store, log *slog.Logger) *Server {
	s := &Server{
		dispatcher: d,
		recognizer: rec,
		sentiment:  sa,
		audio:      ap,
		cache:      c,
		breaker:    brk,
		gateway:    gw,
		events:     es,
		logger:     log.With(slog.String("component", "httpapi")),
		clock:      time.Now,
	}

	if es != nil {
		if err := es.BeginSession(context.Background(), restSession, ""); err != nil {
			s.logger.Warn("rest session bookkeeping failed", slog.String("error", err.Error()))
		}
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/health", s.handleHealth)
	r.Get("/stats", s.handleStats)
	r.Post("/api/tts", s.handleTTS)
	r.Post("/api/stt", s.handleSTT)
	r.Handle("/ws/voice", gw)
	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type ttsRequest struct {
	Text     string `json:"text"`
	UseCache *bool  `json:"use_cache"`
}

type ttsResponse struct {
	AudioBase64 string `json:"audio_base64"`
	Cached      bool   `json:"cached"`
	Text        string `json:"text"`
}

func (s *Server) handleTTS(w http.ResponseWriter, r *http.Request) {
	var req ttsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}

	text := strings.TrimSpace(req.Text)
	if text == "" {
		writeError(w, http.StatusBadRequest, "Text is required")
		return
	}
	useCache := req.UseCache == nil || *req.UseCache

	res, err := s.dispatcher.Dispatch(r.Context(), text, useCache)
	if err != nil {
		s.logger.Error("tts request failed", slog.String("error", err.Error()))
		if errors.Is(err, breaker.ErrOpen) {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	normalized := s.audio.Normalize(res.Audio)
	s.events.RecordEvent(r.Context(), restSession, eventstore.KindTTSRequest, map[string]any{
		"chars":      len(text),
		"cached":     res.FromCache,
		"latency_ms": res.Latency.Milliseconds(),
	})

	writeJSON(w, http.StatusOK, ttsResponse{
		AudioBase64: base64.StdEncoding.EncodeToString(normalized),
		Cached:      res.FromCache,
		Text:        text,
	})
}

type sttRequest struct {
	AudioBase64 string `json:"audio_base64"`
	Language    string `json:"language"`
}

type sttResponse struct {
	Text                string                       `json:"text"`
	Language            string                       `json:"language"`
	LanguageProbability float64                      `json:"language_probability"`
	Duration            float64                      `json:"duration"`
	Segments            []protocol.TranscriptSegment `json:"segments"`
	Sentiment           protocol.Sentiment           `json:"sentiment"`
}

func (s *Server) handleSTT(w http.ResponseWriter, r *http.Request) {
	var req sttRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}

	if req.AudioBase64 == "" {
		writeError(w, http.StatusBadRequest, "Audio data is required")
		return
	}
	audio, err := base64.StdEncoding.DecodeString(req.AudioBase64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid base64 audio: "+err.Error())
		return
	}

	start := s.clock()
	result, err := s.recognizer.Transcribe(r.Context(), audio, req.Language)
	if err != nil {
		s.logger.Error("stt request failed", slog.String("error", err.Error()))
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	score := s.sentiment.Score(result.Text)
	s.events.RecordEvent(r.Context(), restSession, eventstore.KindSTTRequest, map[string]any{
		"audio_bytes": len(audio),
		"duration":    result.Duration,
		"latency_ms":  time.Since(start).Milliseconds(),
	})

	segments := make([]protocol.TranscriptSegment, 0, len(result.Segments))
	for _, seg := range result.Segments {
		segments = append(segments, protocol.TranscriptSegment{Start: seg.Start, End: seg.End, Text: seg.Text})
	}

	writeJSON(w, http.StatusOK, sttResponse{
		Text:                result.Text,
		Language:            result.Language,
		LanguageProbability: result.LanguageProbability,
		Duration:            result.Duration,
		Segments:            segments,
		Sentiment: protocol.Sentiment{
			Polarity:     score.Polarity,
			Subjectivity: score.Subjectivity,
			Label:        score.Label,
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":             "healthy",
		"timestamp":          s.clock().UTC().Format(time.RFC3339),
		"active_connections": s.gateway.Registry().Count(),
		"services": map[string]any{
			"cache": s.cache.Ping(r.Context()),
			"tts":   s.breaker.State(),
		},
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st := s.breaker.Status()
	writeJSON(w, http.StatusOK, map[string]any{
		"active_connections": s.gateway.Registry().Count(),
		"cache_stats":        s.cache.Stats(r.Context()),
		"circuit_breaker": map[string]any{
			"state":    st.State,
			"failures": st.FailureCount,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
