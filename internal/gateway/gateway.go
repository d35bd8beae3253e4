// Package gateway runs the per-connection WebSocket session loop. Each
// connection is strictly sequential: read one frame, handle it, write
// the response. Request failures produce error frames; only transport
// failures end the session.
package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/echolane/voicegate/internal/audioproc"
	"github.com/echolane/voicegate/internal/dispatch"
	"github.com/echolane/voicegate/internal/eventstore"
	"github.com/echolane/voicegate/internal/protocol"
	"github.com/echolane/voicegate/internal/sentiment"
	"github.com/echolane/voicegate/internal/transcribe"
	"github.com/gorilla/websocket"
)

// Publisher receives pipeline events after successful requests.
type Publisher interface {
	PublishTranscript(protocol.TranscriptEvent)
	PublishSynthesis(protocol.SynthesisEvent)
}

type Gateway struct {
	dispatcher *dispatch.Dispatcher
	recognizer transcribe.Recognizer
	sentiment  *sentiment.Analyzer
	audio      *audioproc.Processor
	registry   *Registry
	events     *eventstore.Store
	publisher  Publisher
	logger     *slog.Logger
	upgrader   websocket.Upgrader
}

func New(d *dispatch.Dispatcher, rec transcribe.Recognizer, sa *sentiment.Analyzer, ap *audioproc.Processor, reg *Registry, es *eventstore.Store, pub Publisher, log *slog.Logger) *Gateway {
	return &Gateway{
		dispatcher: d,
		recognizer: rec,
		sentiment:  sa,
		audio:      ap,
		registry:   reg,
		events:     es,
		publisher:  pub,
		logger:     log.With(slog.String("component", "gateway")),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Registry exposes the session registry for health and stats reporting.
func (g *Gateway) Registry() *Registry {
	return g.registry
}

// ServeHTTP upgrades the connection and runs the session loop until
// the client disconnects.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	sessionID := g.registry.Add()
	g.logger.Info("session opened",
		slog.String("session_id", sessionID),
		slog.String("remote", r.RemoteAddr))
	if err := g.eventsBegin(r.Context(), sessionID, r.RemoteAddr); err != nil {
		g.logger.Warn("session bookkeeping failed", slog.String("error", err.Error()))
	}
	g.events.RecordEvent(r.Context(), sessionID, eventstore.KindSessionStart, nil)

	defer func() {
		g.registry.Remove(sessionID)
		g.events.EndSession(context.Background(), sessionID)
		conn.Close()
		g.logger.Info("session closed",
			slog.String("session_id", sessionID),
			slog.Int("active", g.registry.Count()))
	}()

	g.runSession(r.Context(), conn, sessionID)
}

func (g *Gateway) eventsBegin(ctx context.Context, sessionID, remoteAddr string) error {
	if g.events == nil {
		return nil
	}
	return g.events.BeginSession(ctx, sessionID, remoteAddr)
}

func (g *Gateway) runSession(ctx context.Context, conn *websocket.Conn, sessionID string) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				g.logger.Warn("session read failed",
					slog.String("session_id", sessionID),
					slog.String("error", err.Error()))
			}
			return
		}

		var resp any
		var msg protocol.ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			resp = protocol.ErrorResponse{
				Type:    protocol.ResponseTypeError,
				Message: fmt.Sprintf("Invalid message: %v", err),
			}
			if err := conn.WriteJSON(resp); err != nil {
				return
			}
			continue
		}
		switch msg.Type {
		case protocol.MessageTypeText:
			resp = g.handleText(ctx, sessionID, msg)
		case protocol.MessageTypeAudio:
			resp = g.handleAudio(ctx, sessionID, msg)
		default:
			resp = protocol.ErrorResponse{
				Type:    protocol.ResponseTypeError,
				Message: fmt.Sprintf("Invalid message type: %s. Expected 'text' or 'audio'", msg.Type),
			}
		}

		if err := conn.WriteJSON(resp); err != nil {
			g.logger.Warn("session write failed",
				slog.String("session_id", sessionID),
				slog.String("error", err.Error()))
			return
		}
	}
}

func (g *Gateway) handleText(ctx context.Context, sessionID string, msg protocol.ClientMessage) any {
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return protocol.ErrorResponse{Type: protocol.ResponseTypeError, Message: "Empty text"}
	}

	start := time.Now()
	res, err := g.dispatcher.Dispatch(ctx, text, true)
	if err != nil {
		g.logger.Error("synthesis failed",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()))
		return protocol.ErrorResponse{
			Type:    protocol.ResponseTypeError,
			Message: fmt.Sprintf("TTS service error: %v", err),
		}
	}

	score := g.sentiment.Score(text)
	normalized := g.audio.Normalize(res.Audio)
	latency := time.Since(start).Milliseconds()

	g.events.RecordEvent(ctx, sessionID, eventstore.KindTTSRequest, map[string]any{
		"chars":      len(text),
		"cached":     res.FromCache,
		"latency_ms": latency,
	})
	if g.publisher != nil {
		g.publisher.PublishSynthesis(protocol.SynthesisEvent{
			SessionID: sessionID,
			TextChars: len(text),
			AudioLen:  len(normalized),
			Cached:    res.FromCache,
			LatencyMS: latency,
			Timestamp: time.Now().UTC(),
		})
	}

	return protocol.AudioResponse{
		Type:      protocol.ResponseTypeAudio,
		Audio:     base64.StdEncoding.EncodeToString(normalized),
		Duration:  g.audio.Duration(len(normalized)),
		LatencyMS: latency,
		Cached:    res.FromCache,
		Sentiment: protocol.Sentiment{
			Polarity:     score.Polarity,
			Subjectivity: score.Subjectivity,
			Label:        score.Label,
		},
	}
}

func (g *Gateway) handleAudio(ctx context.Context, sessionID string, msg protocol.ClientMessage) any {
	if msg.Audio == "" {
		return protocol.ErrorResponse{Type: protocol.ResponseTypeError, Message: "Empty audio data"}
	}

	start := time.Now()
	audio, err := base64.StdEncoding.DecodeString(msg.Audio)
	if err != nil {
		return protocol.ErrorResponse{
			Type:    protocol.ResponseTypeError,
			Message: fmt.Sprintf("STT service error: %v", err),
		}
	}

	result, err := g.recognizer.Transcribe(ctx, audio, msg.Language)
	if err != nil {
		g.logger.Error("transcription failed",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()))
		return protocol.ErrorResponse{
			Type:    protocol.ResponseTypeError,
			Message: fmt.Sprintf("STT service error: %v", err),
		}
	}

	score := g.sentiment.Score(result.Text)
	latency := time.Since(start).Milliseconds()

	g.events.RecordEvent(ctx, sessionID, eventstore.KindSTTRequest, map[string]any{
		"audio_bytes": len(audio),
		"duration":    result.Duration,
		"latency_ms":  latency,
	})
	if g.publisher != nil {
		g.publisher.PublishTranscript(protocol.TranscriptEvent{
			SessionID: sessionID,
			Text:      result.Text,
			Language:  result.Language,
			Duration:  result.Duration,
			Timestamp: time.Now().UTC(),
		})
	}

	segments := make([]protocol.TranscriptSegment, 0, len(result.Segments))
	for _, s := range result.Segments {
		segments = append(segments, protocol.TranscriptSegment{Start: s.Start, End: s.End, Text: s.Text})
	}

	return protocol.TranscriptResponse{
		Type:                protocol.ResponseTypeTranscript,
		Text:                result.Text,
		Language:            result.Language,
		LanguageProbability: result.LanguageProbability,
		Duration:            result.Duration,
		Segments:            segments,
		LatencyMS:           latency,
		Sentiment: protocol.Sentiment{
			Polarity:     score.Polarity,
			Subjectivity: score.Subjectivity,
			Label:        score.Label,
		},
	}
}
