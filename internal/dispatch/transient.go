package dispatch

import (
	"context"
	"errors"
	"net"

	"github.com/echolane/voicegate/internal/synth"
)

// Transient reports whether an error is worth retrying. Timeouts and
// backend unavailability pass; anything else (bad input, cancellation)
// fails the dispatch immediately.
func Transient(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, synth.ErrUnavailable) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}
