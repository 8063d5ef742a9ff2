package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-sign/internal/config"
)

const outputPlaceholder = "{output}"

// ExecCamera records by running an external command (typically ffmpeg)
// that writes a video file and finalizes it on SIGINT.
type ExecCamera struct {
	cmd       []string
	outputDir string
	extension string
	grace     time.Duration

	mu            sync.Mutex
	proc          *os.Process
	done          chan struct{}
	stopRequested bool
}

func NewExecCamera(cfg config.CaptureConfig) (*ExecCamera, error) {
	args, err := parseCommand(cfg.Command)
	if err != nil {
		return nil, err
	}
	ext := strings.TrimPrefix(strings.TrimSpace(cfg.Extension), ".")
	if ext == "" {
		ext = "mp4"
	}
	grace := time.Duration(cfg.StopGraceMS) * time.Millisecond
	if grace <= 0 {
		grace = 1500 * time.Millisecond
	}
	return &ExecCamera{cmd: args, outputDir: cfg.OutputDir, extension: ext, grace: grace}, nil
}

func (e *ExecCamera) Record(ctx context.Context) (string, error) {
	if err := os.MkdirAll(e.outputDir, 0o755); err != nil {
		e.clearPendingStop()
		return "", fmt.Errorf("create capture dir: %w", err)
	}
	output := filepath.Join(e.outputDir, fmt.Sprintf("capture-%s.%s", uuid.NewString(), e.extension))
	args := e.argsFor(output)

	e.mu.Lock()
	if e.proc != nil {
		e.mu.Unlock()
		return "", ErrCameraBusy
	}
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		e.stopRequested = false
		e.mu.Unlock()
		return "", fmt.Errorf("start capture command: %w", err)
	}
	done := make(chan struct{})
	e.proc = cmd.Process
	e.done = done
	pending := e.stopRequested
	e.mu.Unlock()

	if pending {
		_ = e.interrupt(cmd.Process, done)
	}

	waitErr := cmd.Wait()

	e.mu.Lock()
	stopped := e.stopRequested
	e.proc = nil
	e.done = nil
	e.stopRequested = false
	close(done)
	e.mu.Unlock()

	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if !stopped || !errors.As(waitErr, &exitErr) {
			return "", fmt.Errorf("capture command failed: %w: %s", waitErr, strings.TrimSpace(stderr.String()))
		}
	}
	return FileLocator(output), nil
}

// StopRecording interrupts the running recorder. A stop that arrives before
// the recorder has started is applied as soon as it starts.
func (e *ExecCamera) StopRecording() error {
	e.mu.Lock()
	e.stopRequested = true
	proc, done := e.proc, e.done
	e.mu.Unlock()

	if proc == nil {
		return nil
	}
	return e.interrupt(proc, done)
}

// clearPendingStop drops a stop aimed at a recording that never started, so
// it cannot end the next one.
func (e *ExecCamera) clearPendingStop() {
	e.mu.Lock()
	if e.proc == nil {
		e.stopRequested = false
	}
	e.mu.Unlock()
}

func (e *ExecCamera) interrupt(proc *os.Process, done chan struct{}) error {
	if err := proc.Signal(os.Interrupt); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("interrupt capture command: %w", err)
	}
	go func() {
		timer := time.NewTimer(e.grace)
		defer timer.Stop()
		select {
		case <-done:
		case <-timer.C:
			_ = proc.Kill()
		}
	}()
	return nil
}

func (e *ExecCamera) argsFor(output string) []string {
	args := make([]string, 0, len(e.cmd)+1)
	replaced := false
	for _, a := range e.cmd {
		if strings.Contains(a, outputPlaceholder) {
			a = strings.ReplaceAll(a, outputPlaceholder, output)
			replaced = true
		}
		args = append(args, a)
	}
	if !replaced {
		args = append(args, output)
	}
	return args
}
