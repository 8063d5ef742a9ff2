package devserver

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/loqalabs/loqa-sign/internal/config"
	"github.com/loqalabs/loqa-sign/internal/translate"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, recognizer Recognizer) (*httptest.Server, string) {
	t.Helper()
	dir := t.TempDir()
	srv, err := NewServer(config.DevServerConfig{UploadDir: dir}, recognizer, testLogger())
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, dir
}

func TestUploadRoundTripWithClient(t *testing.T) {
	ts, dir := newTestServer(t, NewMockRecognizer([]string{"HELLO", "WORLD"}))

	clip := filepath.Join(t.TempDir(), "clip.mov")
	if err := os.WriteFile(clip, []byte("frames"), 0o644); err != nil {
		t.Fatalf("write clip: %v", err)
	}
	client := translate.NewClient(config.TranslateConfig{BaseURL: ts.URL, TimeoutMS: 2000}, testLogger())
	res, err := client.Upload(context.Background(), clip)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if res.Text() != "HELLO WORLD" || res.Message != "Video uploaded successfully" {
		t.Fatalf("unexpected result %+v", res)
	}

	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected one stored upload, got %v (%v)", entries, err)
	}
	if !strings.HasSuffix(entries[0].Name(), "_video.mov") {
		t.Fatalf("unexpected stored name %q", entries[0].Name())
	}

	resp, err := http.Get(ts.URL + "/videos/" + entries[0].Name())
	if err != nil {
		t.Fatalf("get video: %v", err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(data) != "frames" {
		t.Fatalf("unexpected video response %d %q", resp.StatusCode, data)
	}
}

func TestUploadRejectsMissingVideo(t *testing.T) {
	ts, _ := newTestServer(t, NewMockRecognizer(nil))

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	_ = w.WriteField("caption", "hi")
	_ = w.Close()

	code, msg := post(t, ts.URL+"/upload", w.FormDataContentType(), &body)
	if code != http.StatusBadRequest || msg != "No video file provided" {
		t.Fatalf("unexpected response %d %q", code, msg)
	}
}

func TestUploadRejectsEmptyFilename(t *testing.T) {
	ts, _ := newTestServer(t, NewMockRecognizer(nil))

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="video"; filename=""`)
	h.Set("Content-Type", "video/mp4")
	part, _ := w.CreatePart(h)
	_, _ = part.Write([]byte("frames"))
	_ = w.Close()

	code, msg := post(t, ts.URL+"/upload", w.FormDataContentType(), &body)
	if code != http.StatusBadRequest || msg != "Empty filename" {
		t.Fatalf("unexpected response %d %q", code, msg)
	}
}

func TestExecRecognizerReadsResult(t *testing.T) {
	script := filepath.Join(t.TempDir(), "recognize.sh")
	contents := "#!/usr/bin/env bash\n[ \"$1\" = \"--video\" ] || exit 2\n[ -f \"$2\" ] || exit 3\necho '{\"result\":[\"THANK\",\"YOU\"]}'\n"
	if err := os.WriteFile(script, []byte(contents), 0o700); err != nil {
		t.Fatalf("write script: %v", err)
	}
	rec, err := NewRecognizer(config.DevServerConfig{Recognizer: "exec", Command: script})
	if err != nil {
		t.Fatalf("new recognizer: %v", err)
	}

	video := filepath.Join(t.TempDir(), "v.mp4")
	if err := os.WriteFile(video, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	tokens, err := rec.Recognize(context.Background(), video)
	if err != nil {
		t.Fatalf("recognize: %v", err)
	}
	if strings.Join(tokens, " ") != "THANK YOU" {
		t.Fatalf("unexpected tokens %v", tokens)
	}
}

func TestNewRecognizerRejectsUnknown(t *testing.T) {
	if _, err := NewRecognizer(config.DevServerConfig{Recognizer: "oracle"}); err == nil {
		t.Fatal("expected error")
	}
}

func post(t *testing.T, url, contentType string, body io.Reader) (int, string) {
	t.Helper()
	resp, err := http.Post(url, contentType, body)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	var payload map[string]string
	_ = json.NewDecoder(resp.Body).Decode(&payload)
	return resp.StatusCode, payload["error"]
}
