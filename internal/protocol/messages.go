package protocol

import "time"

// ClientMessage is an inbound WebSocket frame. Type selects the
// pipeline: "text" for synthesis, "audio" for transcription.
type ClientMessage struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Audio    string `json:"audio,omitempty"` // base64
	Language string `json:"language,omitempty"`
}

// Sentiment accompanies every successful response.
type Sentiment struct {
	Polarity     float64 `json:"polarity"`
	Subjectivity float64 `json:"subjectivity"`
	Label        string  `json:"label"`
}

// AudioResponse answers a "text" message with synthesized audio.
type AudioResponse struct {
	Type      string    `json:"type"` // always "audio"
	Audio     string    `json:"audio"` // base64
	Duration  float64   `json:"duration"`
	LatencyMS int64     `json:"latency_ms"`
	Cached    bool      `json:"cached"`
	Sentiment Sentiment `json:"sentiment"`
}

// TranscriptSegment is one recognized span.
type TranscriptSegment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// TranscriptResponse answers an "audio" message with its transcript.
type TranscriptResponse struct {
	Type                string              `json:"type"` // always "transcript"
	Text                string              `json:"text"`
	Language            string              `json:"language"`
	LanguageProbability float64             `json:"language_probability"`
	Duration            float64             `json:"duration"`
	Segments            []TranscriptSegment `json:"segments"`
	LatencyMS           int64               `json:"latency_ms"`
	Sentiment           Sentiment           `json:"sentiment"`
}

// ErrorResponse reports a failed request. The connection stays open.
type ErrorResponse struct {
	Type    string `json:"type"` // always "error"
	Message string `json:"message"`
}

const (
	MessageTypeText  = "text"
	MessageTypeAudio = "audio"

	ResponseTypeAudio      = "audio"
	ResponseTypeTranscript = "transcript"
	ResponseTypeError      = "error"
)

// Subjects for pipeline events broadcast on the bus.
const (
	SubjectTranscript = "voice.transcript"
	SubjectSynthesis  = "voice.synthesis"
)

// TranscriptEvent is published after each successful transcription.
type TranscriptEvent struct {
	SessionID string    `json:"session_id"`
	Text      string    `json:"text"`
	Language  string    `json:"language"`
	Duration  float64   `json:"duration"`
	Timestamp time.Time `json:"timestamp"`
}

// SynthesisEvent is published after each successful synthesis dispatch.
type SynthesisEvent struct {
	SessionID string    `json:"session_id"`
	TextChars int       `json:"text_chars"`
	AudioLen  int       `json:"audio_len"`
	Cached    bool      `json:"cached"`
	LatencyMS int64     `json:"latency_ms"`
	Timestamp time.Time `json:"timestamp"`
}
