package transcribe

import (
	"context"
)

// Segment is one recognized span of speech.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Result captures recognizer output for one utterance.
type Result struct {
	Text                string    `json:"text"`
	Language            string    `json:"language"`
	LanguageProbability float64   `json:"language_probability"`
	Duration            float64   `json:"duration"`
	Segments            []Segment `json:"segments"`
}

// Recognizer abstracts speech-to-text backends. The language argument is
// an optional hint; empty means autodetect.
type Recognizer interface {
	Transcribe(ctx context.Context, audio []byte, language string) (Result, error)
}
