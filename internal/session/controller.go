package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/loqalabs/loqa-sign/internal/alert"
	"github.com/loqalabs/loqa-sign/internal/capability"
	"github.com/loqalabs/loqa-sign/internal/capture"
	"github.com/loqalabs/loqa-sign/internal/settings"
	"github.com/loqalabs/loqa-sign/internal/speech"
)

// Observer is told about every session state transition, in order. It must
// not call back into the Controller.
type Observer interface {
	SessionChanged(Snapshot)
}

// VoiceSource returns the user's current voice settings.
type VoiceSource interface {
	Voice(ctx context.Context, userID string) (settings.Voice, error)
}

// Deps are the collaborators a Controller drives.
type Deps struct {
	Camera      capture.Camera
	Uploader    Uploader
	Permissions Permissions
	Voices      VoiceSource
	Speaker     speech.Speaker
	Notifier    alert.Notifier
	Observers   []Observer
}

// Controller owns one camera and runs at most one session against it at a
// time. It keeps the display text shared across sessions.
type Controller struct {
	deps   Deps
	logger *slog.Logger

	startMu sync.Mutex

	mu      sync.Mutex
	current *Session
	text    string
}

func NewController(deps Deps, logger *slog.Logger) *Controller {
	return &Controller{
		deps:   deps,
		logger: logger.With(slog.String("component", "session-controller")),
	}
}

// Start opens a new session for userID. It refuses while the current
// session is still recording or uploading.
func (c *Controller) Start(ctx context.Context, userID string) (Snapshot, error) {
	c.startMu.Lock()
	defer c.startMu.Unlock()

	if prev := c.session(); prev != nil && prev.State().Active() {
		return prev.Snapshot(), ErrSessionActive
	}

	s := New(userID, c.deps.Camera, c.deps.Uploader, c.deps.Permissions, c.sessionChanged)
	if err := s.Start(ctx); err != nil {
		var missing *capability.MissingError
		if errors.As(err, &missing) {
			c.notify(ctx, alert.PermissionsMissing, map[string]any{"Missing": strings.Join(missing.Missing, ", ")})
		}
		return s.Snapshot(), err
	}

	c.mu.Lock()
	c.current = s
	c.mu.Unlock()
	c.logger.Info("session started", slog.String("session_id", s.ID()), slog.String("user_id", userID))
	return s.Snapshot(), nil
}

// Stop ends the current session and waits for its upload to finish.
func (c *Controller) Stop(ctx context.Context) (Snapshot, error) {
	s := c.session()
	if s == nil {
		return Snapshot{State: Idle}, ErrNoActiveSession
	}
	snap, err := s.Stop(ctx)
	if err != nil && !errors.Is(err, ErrNotRecording) {
		c.logger.Warn("session failed", slog.String("session_id", snap.ID), slogError(err))
	}
	return snap, err
}

// Current returns the latest session, or an idle snapshot if none ran yet.
func (c *Controller) Current() Snapshot {
	s := c.session()
	if s == nil {
		return Snapshot{State: Idle}
	}
	return s.Snapshot()
}

func (c *Controller) DisplayText() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.text
}

// SetDisplayText replaces the display text, as when the user edits it.
func (c *Controller) SetDisplayText(text string) {
	c.mu.Lock()
	c.text = text
	c.mu.Unlock()
}

// Speak reads the display text aloud with the user's current voice settings.
func (c *Controller) Speak(ctx context.Context, userID string) error {
	if c.deps.Permissions != nil {
		if err := c.deps.Permissions.RequireAll(capability.Speech); err != nil {
			return err
		}
	}
	voice, err := c.deps.Voices.Voice(ctx, userID)
	if err != nil {
		return err
	}
	req := speech.Request{UserID: userID, Text: c.DisplayText()}
	if s := c.session(); s != nil {
		req.SessionID = s.ID()
	}
	if err := Speak(ctx, c.deps.Speaker, req, voice); err != nil {
		c.logger.Warn("speak dispatch failed", slog.String("user_id", userID), slogError(err))
		return err
	}
	return nil
}

// Speak hands text to speaker with voice passed explicitly.
func Speak(ctx context.Context, speaker speech.Speaker, req speech.Request, voice settings.Voice) error {
	if strings.TrimSpace(req.Text) == "" {
		return speech.ErrEmptyText
	}
	req.Voice = voice.VoiceID
	req.Rate = voice.Rate
	req.Pitch = voice.Pitch
	return speaker.Speak(ctx, req)
}

func (c *Controller) session() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *Controller) sessionChanged(snap Snapshot) {
	switch snap.State {
	case Done:
		c.mu.Lock()
		c.text = snap.Text
		c.mu.Unlock()
		c.notify(context.Background(), alert.UploadSucceeded, nil)
	case Failed:
		kind := alert.UploadFailed
		if snap.Asset == "" {
			kind = alert.CaptureFailed
		}
		c.notify(context.Background(), kind, map[string]any{"Error": snap.Error})
	case Idle:
		if !snap.StartedAt.IsZero() {
			c.notify(context.Background(), alert.NothingRecorded, nil)
		}
	}
	for _, o := range c.deps.Observers {
		o.SessionChanged(snap)
	}
}

func (c *Controller) notify(ctx context.Context, kind alert.Kind, data map[string]any) {
	if c.deps.Notifier == nil {
		return
	}
	if err := c.deps.Notifier.Notify(ctx, kind, data); err != nil {
		c.logger.Warn("failed to deliver alert", slog.String("kind", string(kind)), slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
