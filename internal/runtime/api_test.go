package runtime

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/loqalabs/loqa-sign/internal/capability"
	"github.com/loqalabs/loqa-sign/internal/capture"
	"github.com/loqalabs/loqa-sign/internal/config"
	"github.com/loqalabs/loqa-sign/internal/history"
	"github.com/loqalabs/loqa-sign/internal/session"
	"github.com/loqalabs/loqa-sign/internal/settings"
	"github.com/loqalabs/loqa-sign/internal/speech"
	"github.com/loqalabs/loqa-sign/internal/translate"
)

type apiFixture struct {
	server  *httptest.Server
	caps    *capability.Registry
	speaker *speech.MockSpeaker
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dir := t.TempDir()

	inference := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"message":"Video uploaded successfully","result":["HELLO","WORLD"]}`)
	}))
	t.Cleanup(inference.Close)

	clip := filepath.Join(dir, "clip.mp4")
	if err := os.WriteFile(clip, []byte("video"), 0o644); err != nil {
		t.Fatalf("write clip: %v", err)
	}

	store, err := settings.OpenStore(ctx, filepath.Join(dir, "settings.db"), settings.Defaults, logger)
	if err != nil {
		t.Fatalf("open settings: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	voices := settings.NewService(store, nil, logger)

	hist, err := history.Open(ctx, config.HistoryConfig{Path: filepath.Join(dir, "history.db"), RetentionMode: "session"}, logger)
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	t.Cleanup(func() { _ = hist.Close() })

	caps := capability.NewRegistry(ctx, config.DeviceConfig{
		ID: "device-test",
		Capabilities: []config.DeviceCapability{
			{Name: capability.Camera, Granted: true},
			{Name: capability.Microphone, Granted: true},
			{Name: capability.Speech, Granted: true},
		},
	}, nil, logger)
	speaker := speech.NewMockSpeaker()

	controller := session.NewController(session.Deps{
		Camera:      capture.NewMockCamera(capture.FileLocator(clip)),
		Uploader:    translate.NewClient(config.TranslateConfig{BaseURL: inference.URL, TimeoutMS: 2000}, logger),
		Permissions: caps,
		Voices:      voices,
		Speaker:     speaker,
		Observers:   []session.Observer{history.NewRecorder(hist, "device-test", logger)},
	}, logger)

	api := NewAPI(APIDeps{Controller: controller, Voices: voices, Capabilities: caps, History: hist}, logger)
	srv := httptest.NewServer(api.Router())
	t.Cleanup(srv.Close)
	return &apiFixture{server: srv, caps: caps, speaker: speaker}
}

func (f *apiFixture) do(t *testing.T, method, path, body string) (int, []byte) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, f.server.URL+path, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, data
}

func TestHealthAndReady(t *testing.T) {
	f := newAPIFixture(t)
	if code, body := f.do(t, http.MethodGet, "/healthz", ""); code != http.StatusOK || string(body) != "ok" {
		t.Fatalf("unexpected health %d %s", code, body)
	}
	if code, _ := f.do(t, http.MethodGet, "/readyz", ""); code != http.StatusOK {
		t.Fatalf("unexpected ready status %d", code)
	}
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	f := newAPIFixture(t)

	code, body := f.do(t, http.MethodPost, "/v1/sessions", `{"user_id":"user-1"}`)
	if code != http.StatusCreated {
		t.Fatalf("start: %d %s", code, body)
	}
	var started session.Snapshot
	if err := json.Unmarshal(body, &started); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if started.State != session.Recording {
		t.Fatalf("expected recording, got %s", started.State)
	}

	if code, _ := f.do(t, http.MethodPost, "/v1/sessions", `{"user_id":"user-1"}`); code != http.StatusConflict {
		t.Fatalf("expected 409 for second start, got %d", code)
	}

	code, body = f.do(t, http.MethodPost, "/v1/sessions/stop", "")
	if code != http.StatusOK {
		t.Fatalf("stop: %d %s", code, body)
	}
	var stopped session.Snapshot
	if err := json.Unmarshal(body, &stopped); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stopped.State != session.Done || stopped.Text != "HELLO WORLD" {
		t.Fatalf("unexpected stop snapshot %+v", stopped)
	}

	if code, _ := f.do(t, http.MethodPost, "/v1/sessions/stop", ""); code != http.StatusConflict {
		t.Fatalf("expected 409 for second stop, got %d", code)
	}

	code, body = f.do(t, http.MethodGet, "/v1/text", "")
	if code != http.StatusOK || !strings.Contains(string(body), "HELLO WORLD") {
		t.Fatalf("unexpected text %d %s", code, body)
	}

	code, body = f.do(t, http.MethodGet, "/v1/sessions/"+started.ID+"/events", "")
	if code != http.StatusOK {
		t.Fatalf("events: %d %s", code, body)
	}
	var events []history.Event
	if err := json.Unmarshal(body, &events); err != nil {
		t.Fatalf("decode events: %v", err)
	}
	if len(events) != 3 || events[2].State != "done" {
		t.Fatalf("unexpected events %+v", events)
	}
}

func TestStopWithoutSessionConflicts(t *testing.T) {
	f := newAPIFixture(t)
	if code, _ := f.do(t, http.MethodPost, "/v1/sessions/stop", ""); code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", code)
	}
}

func TestStartWithoutPermissionIsForbidden(t *testing.T) {
	f := newAPIFixture(t)
	if code, _ := f.do(t, http.MethodPost, "/v1/capabilities/camera/revoke", ""); code != http.StatusOK {
		t.Fatalf("revoke: %d", code)
	}
	code, body := f.do(t, http.MethodPost, "/v1/sessions", `{"user_id":"user-1"}`)
	if code != http.StatusForbidden || !strings.Contains(string(body), `"missing":["camera"]`) {
		t.Fatalf("expected 403 listing camera, got %d %s", code, body)
	}
	if code, _ := f.do(t, http.MethodPost, "/v1/capabilities/teleport/grant", ""); code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown capability, got %d", code)
	}
}

func TestSettingsAndSpeak(t *testing.T) {
	f := newAPIFixture(t)

	code, body := f.do(t, http.MethodGet, "/v1/users/user-1/settings", "")
	if code != http.StatusOK || !strings.Contains(string(body), `"voiceSetting":"en-au-x-aub-network"`) {
		t.Fatalf("unexpected defaults %d %s", code, body)
	}

	if code, _ := f.do(t, http.MethodPut, "/v1/users/user-1/settings", `{"voiceSetting":"x","speedSetting":1,"pitchSetting":3}`); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for pitch out of range, got %d", code)
	}
	if code, body := f.do(t, http.MethodPut, "/v1/users/user-1/settings", `{"voiceSetting":"en-gb-x-rjs-network","speedSetting":1.5,"pitchSetting":1.5}`); code != http.StatusOK {
		t.Fatalf("save settings: %d %s", code, body)
	}

	if code, _ := f.do(t, http.MethodPost, "/v1/speak", `{"user_id":"user-1"}`); code != http.StatusBadRequest {
		t.Fatalf("expected 400 when there is nothing to speak, got %d", code)
	}
	if code, _ := f.do(t, http.MethodPut, "/v1/text", `{"text":"GOOD MORNING"}`); code != http.StatusOK {
		t.Fatalf("put text: %d", code)
	}
	if code, body := f.do(t, http.MethodPost, "/v1/speak", `{"user_id":"user-1"}`); code != http.StatusAccepted {
		t.Fatalf("speak: %d %s", code, body)
	}
	last, ok := f.speaker.Last()
	if !ok || last.Text != "GOOD MORNING" || last.Voice != "en-gb-x-rjs-network" || last.Rate != 1.5 || last.Pitch != 1.5 {
		t.Fatalf("unexpected speak request %+v", last)
	}
}
