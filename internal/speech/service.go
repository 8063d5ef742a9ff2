package speech

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loqalabs/loqa-sign/internal/bus"
	"github.com/loqalabs/loqa-sign/internal/config"
	"github.com/loqalabs/loqa-sign/internal/protocol"
	"github.com/nats-io/nats.go"
)

// New builds the local speech backend selected by cfg.Mode.
func New(cfg config.SpeechConfig, logger *slog.Logger) (Speaker, error) {
	switch cfg.Mode {
	case "exec":
		return NewExecSpeaker(cfg.Command, logger)
	case "mock", "":
		return NewMockSpeaker(), nil
	default:
		return nil, fmt.Errorf("unknown speech mode %q", cfg.Mode)
	}
}

// Service serves speech.request messages from the bus with a local Speaker.
type Service struct {
	cfg     config.SpeechConfig
	bus     *bus.Client
	speaker Speaker
	sub     *nats.Subscription
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	logger  *slog.Logger
}

func NewService(parent context.Context, cfg config.SpeechConfig, busClient *bus.Client, speaker Speaker, log *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:     cfg,
		bus:     busClient,
		speaker: speaker,
		ctx:     ctx,
		cancel:  cancel,
		logger:  log.With(slog.String("component", "speech-service")),
	}
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	sub, err := s.bus.Conn().Subscribe(protocol.SubjectSpeakRequest, s.handleRequest)
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

func (s *Service) Healthy() bool { return !s.cfg.Enabled || s.sub != nil }

func (s *Service) handleRequest(msg *nats.Msg) {
	var req protocol.SpeakRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode speak request", slogError(err))
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ctx, cancel := context.WithTimeout(s.ctx, 10*time.Second)
		defer cancel()

		err := s.speaker.Speak(ctx, Request{
			SessionID: req.SessionID,
			UserID:    req.UserID,
			Text:      req.Text,
			Voice:     req.Voice,
			Rate:      req.Rate,
			Pitch:     req.Pitch,
		})
		done := protocol.SpeakDone{SessionID: req.SessionID, UserID: req.UserID, Timestamp: time.Now().UTC()}
		if err != nil {
			s.logger.Warn("speak dispatch failed", slog.String("session_id", req.SessionID), slogError(err))
			done.Error = err.Error()
		}
		if err := s.bus.PublishJSON(protocol.SubjectSpeakDone, done); err != nil {
			s.logger.Warn("failed to publish speech done", slogError(err))
		}
	}()
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
