package session

import (
	"log/slog"

	"github.com/loqalabs/loqa-sign/internal/bus"
	"github.com/loqalabs/loqa-sign/internal/protocol"
)

// BusPublisher mirrors session transitions onto the bus and publishes the
// final translation when a session is Done.
type BusPublisher struct {
	bus      *bus.Client
	deviceID string
	logger   *slog.Logger
}

func NewBusPublisher(busClient *bus.Client, deviceID string, logger *slog.Logger) *BusPublisher {
	return &BusPublisher{
		bus:      busClient,
		deviceID: deviceID,
		logger:   logger.With(slog.String("component", "session-publisher")),
	}
}

func (p *BusPublisher) SessionChanged(snap Snapshot) {
	state := protocol.SessionState{
		SessionID: snap.ID,
		DeviceID:  p.deviceID,
		UserID:    snap.UserID,
		State:     string(snap.State),
		Asset:     snap.Asset,
		Error:     snap.Error,
		Timestamp: snap.UpdatedAt,
	}
	if err := p.bus.PublishJSON(protocol.SubjectSessionState, state); err != nil {
		p.logger.Warn("failed to publish session state", slogError(err))
	}
	if snap.State != Done {
		return
	}
	final := protocol.Translation{
		SessionID: snap.ID,
		DeviceID:  p.deviceID,
		UserID:    snap.UserID,
		Tokens:    snap.Tokens,
		Text:      snap.Text,
		Timestamp: snap.UpdatedAt,
	}
	if err := p.bus.PublishJSON(protocol.SubjectTranslationFinal, final); err != nil {
		p.logger.Warn("failed to publish translation", slogError(err))
	}
}
