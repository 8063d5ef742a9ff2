package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-shellwords"
)

// ExecSpeaker hands each request to an external command as a JSON document
// on stdin. Utterances are serialized so they never overlap.
type ExecSpeaker struct {
	cmd     []string
	timeout time.Duration
	logger  *slog.Logger

	mu sync.Mutex
	wg sync.WaitGroup
}

type execRequest struct {
	Text  string  `json:"text"`
	Voice string  `json:"voice"`
	Rate  float64 `json:"rate"`
	Pitch float64 `json:"pitch"`
}

func NewExecSpeaker(command string, logger *slog.Logger) (*ExecSpeaker, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse speech command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("speech command empty")
	}
	return &ExecSpeaker{
		cmd:     args,
		timeout: 45 * time.Second,
		logger:  logger.With(slog.String("component", "exec-speaker")),
	}, nil
}

// Speak starts the utterance in the background and returns immediately.
func (e *ExecSpeaker) Speak(ctx context.Context, req Request) error {
	if strings.TrimSpace(req.Text) == "" {
		return ErrEmptyText
	}
	data, err := json.Marshal(execRequest{Text: req.Text, Voice: req.Voice, Rate: req.Rate, Pitch: req.Pitch})
	if err != nil {
		return err
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.mu.Lock()
		defer e.mu.Unlock()

		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.timeout)
		defer cancel()
		if err := e.run(runCtx, data); err != nil {
			e.logger.Warn("speech command failed", slog.String("session_id", req.SessionID), slogError(err))
		}
	}()
	return nil
}

func (e *ExecSpeaker) run(ctx context.Context, payload []byte) error {
	cmd := exec.CommandContext(ctx, e.cmd[0], e.cmd[1:]...)
	cmd.Stdin = bytes.NewReader(payload)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// Wait blocks until every dispatched utterance has finished.
func (e *ExecSpeaker) Wait() {
	e.wg.Wait()
}
