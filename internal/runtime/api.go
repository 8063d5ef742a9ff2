package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/loqalabs/loqa-sign/internal/capability"
	"github.com/loqalabs/loqa-sign/internal/history"
	"github.com/loqalabs/loqa-sign/internal/session"
	"github.com/loqalabs/loqa-sign/internal/settings"
	"github.com/loqalabs/loqa-sign/internal/speech"
	"github.com/loqalabs/loqa-sign/internal/translate"
)

// VoiceSettings is the settings surface the API needs.
type VoiceSettings interface {
	Voice(ctx context.Context, userID string) (settings.Voice, error)
	Save(ctx context.Context, userID string, v settings.Voice) error
}

// API serves the control endpoints of the daemon.
type API struct {
	controller   *session.Controller
	voices       VoiceSettings
	capabilities *capability.Registry
	history      *history.Store
	metrics      http.Handler
	ready        func() bool
	logger       *slog.Logger
}

type APIDeps struct {
	Controller   *session.Controller
	Voices       VoiceSettings
	Capabilities *capability.Registry
	History      *history.Store
	Metrics      http.Handler
	Ready        func() bool
}

func NewAPI(deps APIDeps, logger *slog.Logger) *API {
	ready := deps.Ready
	if ready == nil {
		ready = func() bool { return true }
	}
	return &API{
		controller:   deps.Controller,
		voices:       deps.Voices,
		capabilities: deps.Capabilities,
		history:      deps.History,
		metrics:      deps.Metrics,
		ready:        ready,
		logger:       logger.With(slog.String("component", "api")),
	}
}

// Router builds the HTTP routes.
func (a *API) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", a.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/readyz", a.handleReady).Methods(http.MethodGet)
	if a.metrics != nil {
		r.Handle("/metrics", a.metrics).Methods(http.MethodGet)
	}

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/sessions", a.handleStartSession).Methods(http.MethodPost)
	v1.HandleFunc("/sessions", a.handleListSessions).Methods(http.MethodGet)
	v1.HandleFunc("/sessions/stop", a.handleStopSession).Methods(http.MethodPost)
	v1.HandleFunc("/sessions/current", a.handleCurrentSession).Methods(http.MethodGet)
	v1.HandleFunc("/sessions/{id}/events", a.handleSessionEvents).Methods(http.MethodGet)
	v1.HandleFunc("/text", a.handleGetText).Methods(http.MethodGet)
	v1.HandleFunc("/text", a.handlePutText).Methods(http.MethodPut)
	v1.HandleFunc("/speak", a.handleSpeak).Methods(http.MethodPost)
	v1.HandleFunc("/users/{user}/settings", a.handleGetSettings).Methods(http.MethodGet)
	v1.HandleFunc("/users/{user}/settings", a.handlePutSettings).Methods(http.MethodPut)
	v1.HandleFunc("/capabilities", a.handleCapabilities).Methods(http.MethodGet)
	v1.HandleFunc("/capabilities/{name}/{action:grant|revoke}", a.handleCapabilityChange).Methods(http.MethodPost)
	return r
}

type userRequest struct {
	UserID string `json:"user_id"`
}

type textBody struct {
	Text string `json:"text"`
}

type errorBody struct {
	Error   string            `json:"error"`
	Missing []string          `json:"missing,omitempty"`
	Session *session.Snapshot `json:"session,omitempty"`
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (a *API) handleReady(w http.ResponseWriter, _ *http.Request) {
	if a.ready() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func (a *API) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if !decodeOptional(w, r, &req) {
		return
	}
	snap, err := a.controller.Start(r.Context(), req.UserID)
	if err != nil {
		a.writeError(w, err, &snap)
		return
	}
	writeJSON(w, http.StatusCreated, snap)
}

func (a *API) handleStopSession(w http.ResponseWriter, r *http.Request) {
	snap, err := a.controller.Stop(r.Context())
	if err != nil {
		a.writeError(w, err, &snap)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (a *API) handleCurrentSession(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.controller.Current())
}

func (a *API) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := a.history.ListSessions(r.Context(), queryLimit(r))
	if err != nil {
		a.writeError(w, err, nil)
		return
	}
	if sessions == nil {
		sessions = []history.SessionRecord{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (a *API) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	events, err := a.history.ListSessionEvents(r.Context(), mux.Vars(r)["id"], queryLimit(r))
	if err != nil {
		a.writeError(w, err, nil)
		return
	}
	if events == nil {
		events = []history.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (a *API) handleGetText(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, textBody{Text: a.controller.DisplayText()})
}

func (a *API) handlePutText(w http.ResponseWriter, r *http.Request) {
	var body textBody
	if !decodeJSON(w, r, &body) {
		return
	}
	a.controller.SetDisplayText(body.Text)
	writeJSON(w, http.StatusOK, body)
}

func (a *API) handleSpeak(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if !decodeOptional(w, r, &req) {
		return
	}
	if err := a.controller.Speak(r.Context(), req.UserID); err != nil {
		a.writeError(w, err, nil)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (a *API) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	voice, err := a.voices.Voice(r.Context(), mux.Vars(r)["user"])
	if err != nil {
		a.writeError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, voice.Document())
}

func (a *API) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var doc settings.Document
	if !decodeJSON(w, r, &doc) {
		return
	}
	if err := a.voices.Save(r.Context(), mux.Vars(r)["user"], doc.Voice()); err != nil {
		a.writeError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (a *API) handleCapabilities(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.capabilities.Snapshot())
}

func (a *API) handleCapabilityChange(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	name := vars["name"]
	switch name {
	case capability.Camera, capability.Microphone, capability.Speech:
	default:
		writeJSON(w, http.StatusNotFound, errorBody{Error: "unknown capability " + name})
		return
	}
	if vars["action"] == "grant" {
		a.capabilities.Grant(name)
	} else {
		a.capabilities.Revoke(name)
	}
	writeJSON(w, http.StatusOK, a.capabilities.Snapshot())
}

func (a *API) writeError(w http.ResponseWriter, err error, snap *session.Snapshot) {
	body := errorBody{Error: err.Error()}
	if snap != nil && snap.ID != "" {
		body.Session = snap
	}

	var missing *capability.MissingError
	var status *translate.StatusError
	code := http.StatusInternalServerError
	switch {
	case errors.As(err, &missing):
		code = http.StatusForbidden
		body.Missing = missing.Missing
	case errors.Is(err, capability.ErrPermissionDenied):
		code = http.StatusForbidden
	case errors.Is(err, session.ErrSessionActive),
		errors.Is(err, session.ErrNoActiveSession),
		errors.Is(err, session.ErrNotRecording):
		code = http.StatusConflict
	case errors.Is(err, settings.ErrInvalidVoice),
		errors.Is(err, settings.ErrNoUser),
		errors.Is(err, speech.ErrEmptyText):
		code = http.StatusBadRequest
	case errors.As(err, &status),
		errors.Is(err, translate.ErrMalformedResponse):
		code = http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		code = http.StatusGatewayTimeout
	}
	if code >= 500 {
		a.logger.Warn("request failed", slog.Int("status", code), slogError(err))
	}
	writeJSON(w, code, body)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body: " + err.Error()})
		return false
	}
	return true
}

// decodeOptional accepts an empty body.
func decodeOptional(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.ContentLength == 0 {
		return true
	}
	return decodeJSON(w, r, v)
}

func queryLimit(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil {
		return 0
	}
	return n
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
