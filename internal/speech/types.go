package speech

import (
	"context"
	"errors"
)

var ErrEmptyText = errors.New("nothing to speak")

// Request carries the text and the explicit voice parameters for one utterance.
type Request struct {
	SessionID string
	UserID    string
	Text      string
	Voice     string
	Rate      float64
	Pitch     float64
}

// Speaker is the platform speech capability. Speak dispatches the
// utterance and returns without waiting for playback to finish.
type Speaker interface {
	Speak(ctx context.Context, req Request) error
}
