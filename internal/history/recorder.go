package history

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-sign/internal/session"
)

// Recorder writes every session transition into the Store.
type Recorder struct {
	store    *Store
	deviceID string
	logger   *slog.Logger
}

func NewRecorder(store *Store, deviceID string, logger *slog.Logger) *Recorder {
	return &Recorder{store: store, deviceID: deviceID, logger: logger.With(slog.String("component", "history"))}
}

func (r *Recorder) SessionChanged(snap session.Snapshot) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if snap.State == session.Recording {
		if err := r.store.AppendSession(ctx, snap.ID, snap.UserID, r.deviceID); err != nil {
			r.logger.Warn("failed to record session", slog.String("session_id", snap.ID), slog.String("error", err.Error()))
			return
		}
		if err := r.store.Prune(ctx); err != nil {
			r.logger.Warn("history prune failed", slog.String("error", err.Error()))
		}
	}

	payload, err := json.Marshal(snap)
	if err != nil {
		r.logger.Warn("failed to encode snapshot", slog.String("error", err.Error()))
		return
	}
	evt := Event{SessionID: snap.ID, UserID: snap.UserID, State: string(snap.State), Payload: payload, CreatedAt: snap.UpdatedAt}
	if err := r.store.AppendEvent(ctx, evt); err != nil {
		r.logger.Warn("failed to record transition", slog.String("session_id", snap.ID), slog.String("error", err.Error()))
	}
}
