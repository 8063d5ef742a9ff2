package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-sign/internal/capability"
	"github.com/loqalabs/loqa-sign/internal/capture"
	"github.com/loqalabs/loqa-sign/internal/translate"
)

type State string

const (
	Idle      State = "idle"
	Recording State = "recording"
	Uploading State = "uploading"
	Done      State = "done"
	Failed    State = "failed"
)

// Active reports whether a session in this state still owns the camera.
func (s State) Active() bool {
	return s == Recording || s == Uploading
}

var (
	ErrPermissionDenied  = capability.ErrPermissionDenied
	ErrSessionActive     = errors.New("a recording session is already active")
	ErrNoActiveSession   = errors.New("no active recording session")
	ErrNotRecording      = errors.New("session is not recording")
	ErrInvalidTransition = errors.New("invalid session transition")
	ErrCaptureFailed     = errors.New("capture failed")
)

// Uploader sends a captured asset to the translation server.
type Uploader interface {
	Upload(ctx context.Context, locator string) (translate.Result, error)
}

// Permissions reports whether the platform capabilities were granted.
type Permissions interface {
	RequireAll(names ...string) error
}

// Snapshot is a point-in-time copy of a session.
type Snapshot struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id,omitempty"`
	State     State     `json:"state"`
	Asset     string    `json:"asset,omitempty"`
	Tokens    []string  `json:"tokens,omitempty"`
	Text      string    `json:"text"`
	Error     string    `json:"error,omitempty"`
	StartedAt time.Time `json:"started_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

type recordOutcome struct {
	asset string
	err   error
}

// Session is a single record, upload, translate cycle. It is not reusable:
// once it leaves Recording it never records again.
type Session struct {
	id       string
	userID   string
	camera   capture.Camera
	uploader Uploader
	perms    Permissions
	observe  func(Snapshot)
	clock    func() time.Time

	// emitMu keeps observer callbacks in transition order.
	emitMu sync.Mutex

	mu        sync.Mutex
	state     State
	started   bool
	stopping  bool
	asset     string
	tokens    []string
	text      string
	err       error
	startedAt time.Time
	updatedAt time.Time
	cancel    context.CancelFunc
	recorded  chan recordOutcome
}

// New creates an Idle session bound to camera. observe may be nil.
func New(userID string, camera capture.Camera, uploader Uploader, perms Permissions, observe func(Snapshot)) *Session {
	s := &Session{
		id:       uuid.NewString(),
		userID:   userID,
		camera:   camera,
		uploader: uploader,
		perms:    perms,
		observe:  observe,
		clock:    time.Now,
		state:    Idle,
		recorded: make(chan recordOutcome, 1),
	}
	s.updatedAt = s.clock().UTC()
	return s
}

func (s *Session) ID() string { return s.id }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start begins recording. The session is Recording when Start returns; the
// camera's blocking record call runs in the background until Stop.
func (s *Session) Start(ctx context.Context) error {
	if s.perms != nil {
		if err := s.perms.RequireAll(capability.Camera, capability.Microphone); err != nil {
			return err
		}
	}

	s.mu.Lock()
	if s.state != Idle || s.started {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: start from %s", ErrInvalidTransition, state)
	}
	s.started = true
	// The recording outlives the caller's request; Stop ends it.
	recCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.startedAt = s.clock().UTC()
	s.transitionLocked(Recording)

	go s.record(recCtx)
	return nil
}

func (s *Session) record(ctx context.Context) {
	asset, err := s.camera.Record(ctx)
	s.recorded <- recordOutcome{asset: asset, err: err}
	if err == nil {
		return
	}

	// A recorder that dies on its own fails the session right away; if a
	// Stop is already in flight it owns the transition.
	s.mu.Lock()
	if s.state != Recording || s.stopping {
		s.mu.Unlock()
		return
	}
	s.stopping = true
	s.err = fmt.Errorf("%w: %v", ErrCaptureFailed, err)
	s.cancel()
	s.transitionLocked(Failed)
}

// Stop ends the recording and, if an asset was captured, uploads it exactly
// once. It returns the terminal snapshot. ctx cancellation does not abort
// the stop: the upload is bounded by the uploader's own timeout.
func (s *Session) Stop(ctx context.Context) (Snapshot, error) {
	s.mu.Lock()
	if s.state != Recording || s.stopping {
		s.mu.Unlock()
		return s.Snapshot(), ErrNotRecording
	}
	s.stopping = true
	s.mu.Unlock()

	if err := s.camera.StopRecording(); err != nil {
		s.cancel()
		<-s.recorded
		return s.fail(fmt.Errorf("%w: stop recording: %v", ErrCaptureFailed, err))
	}

	out := <-s.recorded
	s.cancel()
	if out.err != nil {
		return s.fail(fmt.Errorf("%w: %v", ErrCaptureFailed, out.err))
	}

	s.mu.Lock()
	s.asset = out.asset
	if out.asset == "" {
		s.transitionLocked(Idle)
		return s.Snapshot(), nil
	}
	s.transitionLocked(Uploading)

	res, err := s.uploader.Upload(context.WithoutCancel(ctx), out.asset)
	if err != nil {
		return s.fail(err)
	}

	s.mu.Lock()
	s.tokens = res.Tokens
	s.text = res.Text()
	s.transitionLocked(Done)
	return s.Snapshot(), nil
}

func (s *Session) fail(err error) (Snapshot, error) {
	s.mu.Lock()
	s.err = err
	s.transitionLocked(Failed)
	return s.Snapshot(), err
}

// transitionLocked must be called with s.mu held and releases it before
// notifying the observer.
func (s *Session) transitionLocked(next State) {
	s.state = next
	s.updatedAt = s.clock().UTC()
	snap := s.snapshotLocked()
	s.emitMu.Lock()
	s.mu.Unlock()
	defer s.emitMu.Unlock()
	if s.observe != nil {
		s.observe(snap)
	}
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		ID:        s.id,
		UserID:    s.userID,
		State:     s.state,
		Asset:     s.asset,
		Tokens:    append([]string(nil), s.tokens...),
		Text:      s.text,
		StartedAt: s.startedAt,
		UpdatedAt: s.updatedAt,
	}
	if s.err != nil {
		snap.Error = s.err.Error()
	}
	return snap
}
