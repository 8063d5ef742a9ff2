package capture

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/loqalabs/loqa-sign/internal/config"
)

func TestMockCameraResolvesOnStop(t *testing.T) {
	t.Parallel()

	cam := NewMockCamera("file:///tmp/clip.mp4")
	result := make(chan string, 1)
	go func() {
		asset, _ := cam.Record(context.Background())
		result <- asset
	}()

	if err := cam.StopRecording(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	select {
	case asset := <-result:
		if asset != "file:///tmp/clip.mp4" {
			t.Fatalf("unexpected asset %q", asset)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("record did not resolve")
	}
	if records, stops := cam.Calls(); records != 1 || stops != 1 {
		t.Fatalf("unexpected calls records=%d stops=%d", records, stops)
	}
}

func TestMockCameraRecordError(t *testing.T) {
	t.Parallel()

	boom := errors.New("sensor unavailable")
	cam := NewMockCamera("file:///tmp/clip.mp4")
	cam.FailRecord(boom)
	_ = cam.StopRecording()
	if _, err := cam.Record(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected record error, got %v", err)
	}
}

func TestNewSelectsBackend(t *testing.T) {
	t.Parallel()

	if _, err := New(config.CaptureConfig{Mode: "mock"}); err != nil {
		t.Fatalf("mock: %v", err)
	}
	if _, err := New(config.CaptureConfig{Mode: "exec", Command: ""}); err == nil {
		t.Fatal("expected error for empty exec command")
	}
	if _, err := New(config.CaptureConfig{Mode: "hologram"}); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

func TestExecCameraRecordAndStop(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "record.sh", "#!/usr/bin/env bash\nprintf 'frames' > \"$1\"\ntrap 'exit 255' INT\nwhile true; do sleep 0.05; done\n")
	outDir := t.TempDir()
	cam, err := NewExecCamera(config.CaptureConfig{Command: script + " {output}", OutputDir: outDir, Extension: ".mov"})
	if err != nil {
		t.Fatalf("new exec camera: %v", err)
	}

	type outcome struct {
		asset string
		err   error
	}
	result := make(chan outcome, 1)
	go func() {
		asset, err := cam.Record(context.Background())
		result <- outcome{asset, err}
	}()

	time.Sleep(200 * time.Millisecond)
	if err := cam.StopRecording(); err != nil {
		t.Fatalf("stop: %v", err)
	}

	select {
	case got := <-result:
		if got.err != nil {
			t.Fatalf("record failed: %v", got.err)
		}
		if !strings.HasPrefix(got.asset, "file://") || !strings.HasSuffix(got.asset, ".mov") {
			t.Fatalf("unexpected asset %q", got.asset)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("record did not resolve after stop")
	}
}

func TestExecCameraEmptyOutputYieldsNoAsset(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "idle.sh", "#!/usr/bin/env bash\ntrap 'exit 0' INT\nwhile true; do sleep 0.05; done\n")
	cam, err := NewExecCamera(config.CaptureConfig{Command: script, OutputDir: t.TempDir(), Extension: "mp4"})
	if err != nil {
		t.Fatalf("new exec camera: %v", err)
	}

	// Stop before Record has started: the pending stop must still apply.
	if err := cam.StopRecording(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	asset, err := cam.Record(context.Background())
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if asset != "" {
		t.Fatalf("expected empty asset, got %q", asset)
	}
}

func TestExecCameraCommandFailure(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "fail.sh", "#!/usr/bin/env bash\necho 'no video device' 1>&2\nexit 1\n")
	cam, err := NewExecCamera(config.CaptureConfig{Command: script, OutputDir: t.TempDir()})
	if err != nil {
		t.Fatalf("new exec camera: %v", err)
	}
	_, err = cam.Record(context.Background())
	if err == nil || !strings.Contains(err.Error(), "no video device") {
		t.Fatalf("expected capture failure with stderr, got %v", err)
	}
}

func TestExecCameraFailedStartDropsPendingStop(t *testing.T) {
	t.Parallel()

	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatalf("write blocker: %v", err)
	}
	script := writeScript(t, "record.sh", "#!/usr/bin/env bash\nprintf 'frames' > \"$1\"\ntrap 'exit 255' INT\nwhile true; do sleep 0.05; done\n")
	cam, err := NewExecCamera(config.CaptureConfig{Command: script, OutputDir: filepath.Join(blocker, "captures"), Extension: "mp4"})
	if err != nil {
		t.Fatalf("new exec camera: %v", err)
	}

	if err := cam.StopRecording(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if _, err := cam.Record(context.Background()); err == nil {
		t.Fatal("expected record to fail when the capture dir cannot be created")
	}

	// The next recording must keep running until it is stopped itself.
	cam.outputDir = t.TempDir()
	result := make(chan error, 1)
	go func() {
		_, err := cam.Record(context.Background())
		result <- err
	}()
	select {
	case err := <-result:
		t.Fatalf("recording ended before stop: %v", err)
	case <-time.After(300 * time.Millisecond):
	}
	if err := cam.StopRecording(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	select {
	case err := <-result:
		if err != nil {
			t.Fatalf("record: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("record did not resolve after stop")
	}
}

func TestArgsForAppendsOutputWithoutPlaceholder(t *testing.T) {
	t.Parallel()

	cam := &ExecCamera{cmd: []string{"ffmpeg", "-i", "/dev/video0"}}
	args := cam.argsFor("/tmp/out.mp4")
	if args[len(args)-1] != "/tmp/out.mp4" {
		t.Fatalf("unexpected args %v", args)
	}
	cam = &ExecCamera{cmd: []string{"rec", "--out={output}"}}
	if got := cam.argsFor("/tmp/a.mp4"); got[1] != "--out=/tmp/a.mp4" {
		t.Fatalf("placeholder not replaced: %v", got)
	}
}

func TestFileLocator(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	empty := filepath.Join(dir, "empty.mp4")
	if err := os.WriteFile(empty, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if got := FileLocator(empty); got != "" {
		t.Fatalf("expected empty locator for empty file, got %q", got)
	}
	if got := FileLocator(filepath.Join(dir, "missing.mp4")); got != "" {
		t.Fatalf("expected empty locator for missing file, got %q", got)
	}
	full := filepath.Join(dir, "clip.mp4")
	if err := os.WriteFile(full, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if got := FileLocator(full); got != "file://"+filepath.ToSlash(full) {
		t.Fatalf("unexpected locator %q", got)
	}
}

func writeScript(t *testing.T, name string, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(contents), 0o700); err != nil {
		t.Fatalf("failed to write script: %v", err)
	}
	return path
}
