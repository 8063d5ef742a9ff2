package translate

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/loqalabs/loqa-sign/internal/config"
)

func newTestClient(baseURL string, timeout time.Duration) *Client {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewClient(config.TranslateConfig{BaseURL: baseURL, TimeoutMS: int(timeout / time.Millisecond)}, logger)
}

func writeVideo(t *testing.T, name string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte("fake-video-bytes"), 0o644); err != nil {
		t.Fatalf("write video: %v", err)
	}
	return p
}

func TestUploadSendsSingleVideoPart(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Method != http.MethodPost || r.URL.Path != "/upload" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		reader, err := r.MultipartReader()
		if err != nil {
			t.Errorf("multipart reader: %v", err)
			return
		}
		parts := 0
		for {
			part, err := reader.NextPart()
			if err == io.EOF {
				break
			}
			if err != nil {
				t.Errorf("next part: %v", err)
				return
			}
			parts++
			if part.FormName() != "video" || part.FileName() != "video.mov" {
				t.Errorf("unexpected part name=%q filename=%q", part.FormName(), part.FileName())
			}
			if ct := part.Header.Get("Content-Type"); ct != "video/mov" {
				t.Errorf("unexpected part content type %q", ct)
			}
			data, _ := io.ReadAll(part)
			if string(data) != "fake-video-bytes" {
				t.Errorf("unexpected payload %q", data)
			}
		}
		if parts != 1 {
			t.Errorf("expected exactly one part, got %d", parts)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"message":"Video uploaded successfully","result":["HELLO","WORLD"]}`)
	}))
	defer srv.Close()

	client := newTestClient(srv.URL+"/", time.Second)
	res, err := client.Upload(context.Background(), "file://"+filepath.ToSlash(writeVideo(t, "clip.mov")))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if res.Text() != "HELLO WORLD" {
		t.Fatalf("unexpected text %q", res.Text())
	}
	if res.Message != "Video uploaded successfully" {
		t.Fatalf("unexpected message %q", res.Message)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected one request, got %d", calls.Load())
	}
}

func TestUploadKeepsExtensionCase(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reader, err := r.MultipartReader()
		if err != nil {
			t.Errorf("multipart reader: %v", err)
			return
		}
		part, err := reader.NextPart()
		if err != nil {
			t.Errorf("next part: %v", err)
			return
		}
		got = part.FileName() + " " + part.Header.Get("Content-Type")
		_, _ = io.WriteString(w, `{"message":"ok","result":["HI"]}`)
	}))
	defer srv.Close()

	if _, err := newTestClient(srv.URL, time.Second).Upload(context.Background(), writeVideo(t, "clip.MOV")); err != nil {
		t.Fatalf("upload: %v", err)
	}
	if got != "video.MOV video/MOV" {
		t.Fatalf("unexpected part %q", got)
	}
}

func TestUploadAcceptsBarePath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"message":"ok","result":[]}`)
	}))
	defer srv.Close()

	res, err := newTestClient(srv.URL, time.Second).Upload(context.Background(), writeVideo(t, "clip.mp4"))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if res.Text() != "" {
		t.Fatalf("expected empty text, got %q", res.Text())
	}
}

func TestUploadErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		locator func(t *testing.T) string
		check   func(t *testing.T, err error)
	}{
		{
			name:   "server error",
			status: http.StatusInternalServerError,
			body:   `{"error":"boom"}`,
			check: func(t *testing.T, err error) {
				var status *StatusError
				if !errors.As(err, &status) || status.Code != 500 || !strings.Contains(status.Body, "boom") {
					t.Fatalf("expected StatusError 500, got %v", err)
				}
			},
		},
		{
			name:   "bad request",
			status: http.StatusBadRequest,
			body:   `{"error":"No video file provided"}`,
			check: func(t *testing.T, err error) {
				var status *StatusError
				if !errors.As(err, &status) || status.Code != 400 {
					t.Fatalf("expected StatusError 400, got %v", err)
				}
			},
		},
		{
			name:   "missing result",
			status: http.StatusOK,
			body:   `{"message":"Video uploaded successfully"}`,
			check:  expectIs(ErrMalformedResponse),
		},
		{
			name:   "result not a list",
			status: http.StatusOK,
			body:   `{"message":"Video uploaded successfully","result":"HELLO"}`,
			check:  expectIs(ErrMalformedResponse),
		},
		{
			name:   "empty message",
			status: http.StatusOK,
			body:   `{"message":"","result":["HELLO"]}`,
			check:  expectIs(ErrMalformedResponse),
		},
		{
			name:   "not json",
			status: http.StatusOK,
			body:   `<html>`,
			check:  expectIs(ErrMalformedResponse),
		},
		{
			name:    "no extension",
			status:  http.StatusOK,
			locator: func(t *testing.T) string { return writeVideo(t, "clip") },
			check:   expectIs(ErrUnknownMediaType),
		},
		{
			name:    "unsupported scheme",
			status:  http.StatusOK,
			locator: func(t *testing.T) string { return "ph://asset/1.mp4" },
			check:   expectIs(ErrUnsupportedLocator),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			locator := writeVideo(t, "clip.mp4")
			if tt.locator != nil {
				locator = tt.locator(t)
			}
			_, err := newTestClient(srv.URL, time.Second).Upload(context.Background(), locator)
			tt.check(t, err)
		})
	}
}

func TestUploadNetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := newTestClient(url, time.Second).Upload(context.Background(), writeVideo(t, "clip.mp4"))
	if err == nil {
		t.Fatal("expected transport error")
	}
	var status *StatusError
	if errors.As(err, &status) {
		t.Fatalf("transport failure should not be a StatusError: %v", err)
	}
}

func TestUploadTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	started := time.Now()
	_, err := newTestClient(srv.URL, 100*time.Millisecond).Upload(context.Background(), writeVideo(t, "clip.mp4"))
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if time.Since(started) > 5*time.Second {
		t.Fatalf("upload did not honor timeout")
	}
}

func expectIs(target error) func(t *testing.T, err error) {
	return func(t *testing.T, err error) {
		t.Helper()
		if !errors.Is(err, target) {
			t.Fatalf("expected %v, got %v", target, err)
		}
	}
}
