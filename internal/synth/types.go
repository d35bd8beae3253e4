package synth

import (
	"context"
	"errors"
)

// Request contains parameters to synthesize speech.
type Request struct {
	Text  string
	Voice string
}

// ErrUnavailable marks backend failures that are worth retrying:
// the synthesizer could not be reached or died mid-request.
var ErrUnavailable = errors.New("synthesizer unavailable")

// Synthesizer is the contract for producing audio from text.
type Synthesizer interface {
	Synthesize(ctx context.Context, req Request) ([]byte, error)
}
