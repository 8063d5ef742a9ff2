package speech

import (
	"context"
	"strings"

	"github.com/loqalabs/loqa-sign/internal/bus"
	"github.com/loqalabs/loqa-sign/internal/protocol"
)

// BusSpeaker forwards requests to whichever node runs the speech Service.
type BusSpeaker struct {
	bus *bus.Client
}

func NewBusSpeaker(busClient *bus.Client) *BusSpeaker {
	return &BusSpeaker{bus: busClient}
}

func (b *BusSpeaker) Speak(ctx context.Context, req Request) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(req.Text) == "" {
		return ErrEmptyText
	}
	return b.bus.PublishJSON(protocol.SubjectSpeakRequest, protocol.SpeakRequest{
		SessionID: req.SessionID,
		UserID:    req.UserID,
		Text:      req.Text,
		Voice:     req.Voice,
		Rate:      req.Rate,
		Pitch:     req.Pitch,
	})
}
