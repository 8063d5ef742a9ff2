package capture

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	"github.com/loqalabs/loqa-sign/internal/config"
	"github.com/mattn/go-shellwords"
)

var ErrCameraBusy = errors.New("camera is already recording")

// Camera is the platform video capability. Record blocks until the
// recording is stopped or fails and returns the captured asset locator,
// which is empty when nothing usable was written.
type Camera interface {
	Record(ctx context.Context) (string, error)
	StopRecording() error
}

// New builds the camera backend selected by cfg.Mode.
func New(cfg config.CaptureConfig) (Camera, error) {
	switch cfg.Mode {
	case "exec":
		return NewExecCamera(cfg)
	case "mock", "":
		return NewMockCamera(cfg.MockAsset), nil
	default:
		return nil, fmt.Errorf("unknown capture mode %q", cfg.Mode)
	}
}

// MockCamera resolves Record with a fixed locator once StopRecording is called.
type MockCamera struct {
	asset string
	stop  chan struct{}

	mu        sync.Mutex
	recordErr error
	stopErr   error
	records   int
	stops     int
}

func NewMockCamera(asset string) *MockCamera {
	return &MockCamera{asset: asset, stop: make(chan struct{}, 1)}
}

// FailRecord makes the next recordings fail with err after being stopped.
func (m *MockCamera) FailRecord(err error) {
	m.mu.Lock()
	m.recordErr = err
	m.mu.Unlock()
}

func (m *MockCamera) FailStop(err error) {
	m.mu.Lock()
	m.stopErr = err
	m.mu.Unlock()
}

func (m *MockCamera) SetAsset(asset string) {
	m.mu.Lock()
	m.asset = asset
	m.mu.Unlock()
}

func (m *MockCamera) Record(ctx context.Context) (string, error) {
	m.mu.Lock()
	m.records++
	m.mu.Unlock()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-m.stop:
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.recordErr != nil {
		return "", m.recordErr
	}
	return m.asset, nil
}

func (m *MockCamera) StopRecording() error {
	m.mu.Lock()
	m.stops++
	err := m.stopErr
	m.mu.Unlock()
	if err != nil {
		return err
	}
	select {
	case m.stop <- struct{}{}:
	default:
	}
	return nil
}

// Calls reports how many times Record and StopRecording were invoked.
func (m *MockCamera) Calls() (records, stops int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.records, m.stops
}

// FileLocator returns the file:// locator for path, or "" when the file is
// missing or empty.
func FileLocator(path string) string {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() || info.Size() == 0 {
		return ""
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return ""
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String()
}

func parseCommand(command string) ([]string, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse capture command: %w", err)
	}
	if len(args) == 0 {
		return nil, errors.New("capture command is empty")
	}
	return args, nil
}
