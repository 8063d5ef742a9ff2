package capability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/loqalabs/loqa-sign/internal/bus"
	"github.com/loqalabs/loqa-sign/internal/config"
	"github.com/loqalabs/loqa-sign/internal/protocol"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	Camera     = "camera"
	Microphone = "microphone"
	Speech     = "speech"
)

var ErrPermissionDenied = errors.New("permission not granted")

// MissingError lists the capabilities a caller still has to request.
type MissingError struct {
	Missing []string
}

func (e *MissingError) Error() string {
	return fmt.Sprintf("%s: %s", ErrPermissionDenied, strings.Join(e.Missing, ", "))
}

func (e *MissingError) Unwrap() error { return ErrPermissionDenied }

// Registry tracks which platform capabilities the user has granted on this device.
type Registry struct {
	deviceID string
	log      *slog.Logger
	bus      *bus.Client

	mu      sync.RWMutex
	granted map[string]bool

	meter metric.Meter
}

func NewRegistry(ctx context.Context, cfg config.DeviceConfig, busClient *bus.Client, log *slog.Logger) *Registry {
	r := &Registry{
		deviceID: cfg.ID,
		log:      log.With(slog.String("component", "capability-registry")),
		bus:      busClient,
		granted:  make(map[string]bool),
		meter:    otel.Meter("github.com/loqalabs/loqa-sign/capability"),
	}
	for _, c := range cfg.Capabilities {
		r.granted[c.Name] = c.Granted
	}
	if err := r.initMetrics(); err != nil {
		r.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}
	r.announce()
	return r
}

func (r *Registry) Granted(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.granted[name]
}

// Grant records that the user accepted the platform permission prompt.
func (r *Registry) Grant(name string) { r.set(name, true) }

func (r *Registry) Revoke(name string) { r.set(name, false) }

func (r *Registry) set(name string, granted bool) {
	r.mu.Lock()
	prev, known := r.granted[name]
	r.granted[name] = granted
	r.mu.Unlock()

	if known && prev == granted {
		return
	}
	r.log.Info("capability changed", slog.String("capability", name), slog.Bool("granted", granted))
	r.announce()
}

// RequireAll returns a *MissingError naming every capability not yet granted.
func (r *Registry) RequireAll(names ...string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var missing []string
	for _, n := range names {
		if !r.granted[n] {
			missing = append(missing, n)
		}
	}
	if len(missing) > 0 {
		return &MissingError{Missing: missing}
	}
	return nil
}

func (r *Registry) Snapshot() map[string]bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]bool, len(r.granted))
	for k, v := range r.granted {
		out[k] = v
	}
	return out
}

// Names lists known capabilities in stable order.
func (r *Registry) Names() []string {
	snap := r.Snapshot()
	names := make([]string, 0, len(snap))
	for n := range snap {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) announce() {
	if r.bus == nil {
		return
	}
	msg := protocol.DeviceCapabilities{
		DeviceID:     r.deviceID,
		Capabilities: r.Snapshot(),
		Timestamp:    time.Now().UTC(),
	}
	if err := r.bus.PublishJSON(protocol.SubjectDeviceCapabilities, msg); err != nil {
		r.log.Warn("failed to announce capabilities", slog.String("error", err.Error()))
	}
}

func (r *Registry) initMetrics() error {
	if r.meter == nil {
		return nil
	}
	gauge, err := r.meter.Int64ObservableGauge("loqa_sign.capabilities.granted",
		metric.WithDescription("Whether each device capability is granted (1) or not (0)"))
	if err != nil {
		return err
	}
	_, err = r.meter.RegisterCallback(func(ctx context.Context, obs metric.Observer) error {
		for name, ok := range r.Snapshot() {
			var v int64
			if ok {
				v = 1
			}
			obs.ObserveInt64(gauge, v, metric.WithAttributes(attribute.String("capability", name)))
		}
		return nil
	}, gauge)
	return err
}
