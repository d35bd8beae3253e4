package synth

import (
	"context"
	"crypto/sha256"
	"time"
)

type mockSynth struct {
	sampleRate int
	channels   int
	delay      time.Duration
}

// NewMockSynth returns a synthesizer producing deterministic pseudo-PCM:
// the same text always yields the same bytes, which keeps dedup-cache
// behavior observable without a real backend.
func NewMockSynth(sampleRate, channels int) Synthesizer {
	return &mockSynth{sampleRate: sampleRate, channels: channels, delay: 10 * time.Millisecond}
}

func (m *mockSynth) Synthesize(ctx context.Context, req Request) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(m.delay):
	}

	// Roughly 100ms of audio per word, seeded by the text digest.
	words := 1 + len(req.Text)/6
	n := words * m.sampleRate * m.channels * 2 / 10
	if n < 2048 {
		n = 2048
	}
	seed := sha256.Sum256([]byte(req.Text))
	out := make([]byte, n)
	for i := range out {
		out[i] = seed[i%len(seed)]
	}
	return out, nil
}
