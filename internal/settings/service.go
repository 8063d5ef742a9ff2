package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loqalabs/loqa-sign/internal/bus"
	"github.com/loqalabs/loqa-sign/internal/protocol"
	"github.com/nats-io/nats.go"
)

// Repository is the persistence the service reads and writes through to.
// Read returns the zero time for a user without a saved row.
type Repository interface {
	Read(ctx context.Context, userID string) (Voice, time.Time, error)
	Save(ctx context.Context, userID string, v Voice) error
}

type snapshot struct {
	voice Voice
	at    time.Time
}

// Service serves the current voice triple per user. Every lookup reads the
// repository; change events from other devices are held only until the
// repository catches up with them.
type Service struct {
	repo   Repository
	bus    *bus.Client
	logger *slog.Logger
	sub    *nats.Subscription
	clock  func() time.Time

	mu     sync.RWMutex
	latest map[string]snapshot
}

func NewService(repo Repository, busClient *bus.Client, logger *slog.Logger) *Service {
	return &Service{
		repo:   repo,
		bus:    busClient,
		logger: logger.With(slog.String("component", "settings")),
		clock:  time.Now,
		latest: make(map[string]snapshot),
	}
}

// Start subscribes to change events. A nil bus leaves the service local-only.
func (s *Service) Start() error {
	if s.bus == nil {
		return nil
	}
	sub, err := s.bus.Conn().Subscribe(protocol.SubjectVoiceSettingsChange, s.handleChange)
	if err != nil {
		return fmt.Errorf("subscribe settings changes: %w", err)
	}
	s.sub = sub
	return nil
}

func (s *Service) Close() {
	if s.sub != nil {
		_ = s.sub.Drain()
	}
}

func (s *Service) Healthy() bool { return s.bus == nil || s.sub != nil }

// Voice returns the user's current triple. The saved row wins unless a change
// event newer than it has arrived from another device.
func (s *Service) Voice(ctx context.Context, userID string) (Voice, error) {
	if userID == "" {
		return Voice{}, ErrNoUser
	}
	v, updatedAt, err := s.repo.Read(ctx, userID)
	if err != nil {
		return Voice{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if snap, ok := s.latest[userID]; ok {
		if snap.at.After(updatedAt) {
			return snap.voice, nil
		}
		delete(s.latest, userID)
	}
	return v, nil
}

// Save persists v and announces it to other devices.
func (s *Service) Save(ctx context.Context, userID string, v Voice) error {
	if err := s.repo.Save(ctx, userID, v); err != nil {
		return err
	}
	now := s.clock().UTC()
	s.mu.Lock()
	delete(s.latest, userID)
	s.mu.Unlock()

	if s.bus == nil {
		return nil
	}
	doc := v.Document()
	evt := protocol.VoiceSettingsChanged{
		UserID:       userID,
		VoiceSetting: doc.VoiceSetting,
		SpeedSetting: doc.SpeedSetting,
		PitchSetting: doc.PitchSetting,
		Timestamp:    now,
	}
	if err := s.bus.PublishJSON(protocol.SubjectVoiceSettingsChange, evt); err != nil {
		s.logger.Warn("failed to publish settings change", slogError(err))
	}
	return nil
}

func (s *Service) handleChange(msg *nats.Msg) {
	var evt protocol.VoiceSettingsChanged
	if err := json.Unmarshal(msg.Data, &evt); err != nil {
		s.logger.Warn("failed to decode settings change", slogError(err))
		return
	}
	v := Document{VoiceSetting: evt.VoiceSetting, SpeedSetting: evt.SpeedSetting, PitchSetting: evt.PitchSetting}.Voice()
	if err := v.Validate(); err != nil {
		s.logger.Warn("ignoring invalid settings change", slog.String("user_id", evt.UserID), slogError(err))
		return
	}
	s.remember(evt.UserID, v, evt.Timestamp)
}

// remember keeps a remote change unless a newer one is already held.
func (s *Service) remember(userID string, v Voice, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.latest[userID]; ok && !at.After(cur.at) {
		return
	}
	s.latest[userID] = snapshot{voice: v, at: at}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
