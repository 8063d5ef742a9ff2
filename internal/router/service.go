package router

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/loqalabs/loqa-sign/internal/bus"
	"github.com/loqalabs/loqa-sign/internal/config"
	"github.com/loqalabs/loqa-sign/internal/protocol"
	"github.com/loqalabs/loqa-sign/internal/session"
	"github.com/loqalabs/loqa-sign/internal/speech"
	"github.com/nats-io/nats.go"
)

// Service speaks every final translation aloud with the translating
// user's current voice settings.
type Service struct {
	cfg     config.RouterConfig
	bus     *bus.Client
	voices  session.VoiceSource
	speaker speech.Speaker
	logger  *slog.Logger
	sub     *nats.Subscription
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewService(parent context.Context, cfg config.RouterConfig, busClient *bus.Client, voices session.VoiceSource, speaker speech.Speaker, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:     cfg,
		bus:     busClient,
		voices:  voices,
		speaker: speaker,
		logger:  logger.With(slog.String("component", "router")),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (s *Service) Start() error {
	if !s.cfg.AutoSpeak {
		return nil
	}
	sub, err := s.bus.Conn().Subscribe(protocol.SubjectTranslationFinal, s.handleTranslation)
	if err != nil {
		return err
	}
	s.sub = sub
	return nil
}

func (s *Service) Close() {
	s.cancel()
	if s.sub != nil {
		_ = s.sub.Drain()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool {
	return !s.cfg.AutoSpeak || s.sub != nil
}

func (s *Service) handleTranslation(msg *nats.Msg) {
	var tr protocol.Translation
	if err := json.Unmarshal(msg.Data, &tr); err != nil {
		s.logger.Warn("router failed to decode translation", slogError(err))
		return
	}
	if strings.TrimSpace(tr.Text) == "" {
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
		defer cancel()

		voice, err := s.voices.Voice(ctx, tr.UserID)
		if err != nil {
			s.logger.Warn("router failed to load voice settings", slog.String("user_id", tr.UserID), slogError(err))
			return
		}
		req := speech.Request{SessionID: tr.SessionID, UserID: tr.UserID, Text: tr.Text}
		if err := session.Speak(ctx, s.speaker, req, voice); err != nil {
			s.logger.Warn("router failed to dispatch speech", slog.String("session_id", tr.SessionID), slogError(err))
		}
	}()
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
