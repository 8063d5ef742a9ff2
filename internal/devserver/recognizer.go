package devserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sync"

	"github.com/loqalabs/loqa-sign/internal/config"
	"github.com/mattn/go-shellwords"
)

// Recognizer turns a saved sign-language video into gloss tokens.
type Recognizer interface {
	Recognize(ctx context.Context, videoPath string) ([]string, error)
}

// NewRecognizer builds the recognizer selected by cfg.Recognizer.
func NewRecognizer(cfg config.DevServerConfig) (Recognizer, error) {
	switch cfg.Recognizer {
	case "exec":
		return NewExecRecognizer(cfg.Command)
	case "mock", "":
		return NewMockRecognizer(cfg.MockResult), nil
	default:
		return nil, fmt.Errorf("unknown recognizer %q", cfg.Recognizer)
	}
}

type mockRecognizer struct {
	tokens []string
}

// NewMockRecognizer always answers with tokens.
func NewMockRecognizer(tokens []string) Recognizer {
	return &mockRecognizer{tokens: append([]string{}, tokens...)}
}

func (m *mockRecognizer) Recognize(ctx context.Context, _ string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return append([]string{}, m.tokens...), nil
}

type execRecognizer struct {
	cmd []string
	mu  sync.Mutex
}

type execResult struct {
	Result []string `json:"result"`
}

// NewExecRecognizer runs command with "--video <path>" appended and reads
// {"result":[...]} from its stdout.
func NewExecRecognizer(command string) (Recognizer, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse recognizer command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("recognizer command is empty")
	}
	return &execRecognizer{cmd: args}, nil
}

func (r *execRecognizer) Recognize(ctx context.Context, videoPath string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cmdArgs := append(append([]string{}, r.cmd[1:]...), "--video", videoPath)
	command := exec.CommandContext(ctx, r.cmd[0], cmdArgs...)
	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr
	if err := command.Run(); err != nil {
		return nil, fmt.Errorf("recognizer command failed: %w: %s", err, stderr.String())
	}

	var resp execResult
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return nil, fmt.Errorf("decode recognizer response: %w", err)
	}
	if resp.Result == nil {
		resp.Result = []string{}
	}
	return resp.Result, nil
}
