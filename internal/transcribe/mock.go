package transcribe

import (
	"context"
	"fmt"
)

type mockRecognizer struct {
	sampleRate int
	channels   int
}

func NewMockRecognizer(sampleRate, channels int) Recognizer {
	return &mockRecognizer{sampleRate: sampleRate, channels: channels}
}

func (m *mockRecognizer) Transcribe(_ context.Context, audio []byte, language string) (Result, error) {
	if language == "" {
		language = "en"
	}
	duration := float64(len(audio)) / float64(m.sampleRate*m.channels*2)
	text := fmt.Sprintf("[transcript length=%d]", len(audio))
	return Result{
		Text:                text,
		Language:            language,
		LanguageProbability: 0.99,
		Duration:            duration,
		Segments: []Segment{
			{Start: 0, End: duration, Text: text},
		},
	}, nil
}
