package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-sign/internal/alert"
	"github.com/loqalabs/loqa-sign/internal/bus"
	"github.com/loqalabs/loqa-sign/internal/capability"
	"github.com/loqalabs/loqa-sign/internal/capture"
	"github.com/loqalabs/loqa-sign/internal/config"
	"github.com/loqalabs/loqa-sign/internal/history"
	"github.com/loqalabs/loqa-sign/internal/natsserver"
	"github.com/loqalabs/loqa-sign/internal/router"
	"github.com/loqalabs/loqa-sign/internal/session"
	"github.com/loqalabs/loqa-sign/internal/settings"
	"github.com/loqalabs/loqa-sign/internal/speech"
	"github.com/loqalabs/loqa-sign/internal/translate"
)

type service interface {
	Start() error
	Close()
	Healthy() bool
}

type Runtime struct {
	cfg           config.Config
	logger        *slog.Logger
	httpServer    *http.Server
	metricsServer *http.Server
	tracerClose   func(context.Context) error
	ready         atomic.Bool
	wg            sync.WaitGroup

	nats     *natsserver.EmbeddedServer
	bus      *bus.Client
	services []service
	closers  []func() error
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start wires every component, serves the API, and blocks until ctx is done.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	tel, err := setupTelemetry(r.cfg, os.Stderr, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = tel.shutdown
	metricsHandler := tel.metrics

	api, err := r.build(ctx, metricsHandler)
	if err != nil {
		r.teardown(context.Background())
		return err
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	r.serve(r.httpServer, "http")

	if bind := r.cfg.Telemetry.PrometheusBind; bind != "" && metricsHandler != nil {
		m := http.NewServeMux()
		m.Handle("/metrics", metricsHandler)
		r.metricsServer = &http.Server{Addr: bind, Handler: m, ReadHeaderTimeout: 5 * time.Second}
		r.serve(r.metricsServer, "metrics")
	}

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr), slog.String("device_id", r.cfg.Device.ID))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	r.ready.Store(false)
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	for _, srv := range []*http.Server{r.httpServer, r.metricsServer} {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("http shutdown error", slog.String("error", err.Error()))
		}
	}
	r.wg.Wait()
	r.teardown(shutdownCtx)
	return nil
}

func (r *Runtime) serve(srv *http.Server, name string) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("http server failed", slog.String("server", name), slog.String("error", err.Error()))
		}
	}()
}

func (r *Runtime) build(ctx context.Context, metricsHandler http.Handler) (*API, error) {
	cfg := r.cfg

	embedded, err := natsserver.Start(cfg.Bus, r.logger)
	if err != nil {
		return nil, err
	}
	r.nats = embedded

	busCfg := cfg.Bus
	if embedded != nil {
		busCfg.Servers = []string{embedded.ClientURL()}
	}
	connectCtx, cancelConnect := context.WithTimeout(ctx, 10*time.Second)
	client, err := bus.Connect(connectCtx, busCfg, r.logger)
	cancelConnect()
	if err != nil {
		return nil, err
	}
	r.bus = client

	store, err := settings.OpenStore(ctx, cfg.Settings.Path, settings.DefaultsFromConfig(cfg.Settings), r.logger)
	if err != nil {
		return nil, fmt.Errorf("open settings store: %w", err)
	}
	r.closers = append(r.closers, store.Close)
	voices := settings.NewService(store, client, r.logger)

	hist, err := history.Open(ctx, cfg.History, r.logger)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	r.closers = append(r.closers, hist.Close)

	catalog, err := alert.NewCatalog(cfg.Alerts.Locale)
	if err != nil {
		return nil, err
	}

	camera, err := capture.New(cfg.Capture)
	if err != nil {
		return nil, err
	}
	localSpeaker, err := speech.New(cfg.Speech, r.logger)
	if err != nil {
		return nil, err
	}

	caps := capability.NewRegistry(ctx, cfg.Device, client, r.logger)
	// Utterances travel over the bus so whichever node owns the speaker plays them.
	speaker := speech.NewBusSpeaker(client)

	controller := session.NewController(session.Deps{
		Camera:      camera,
		Uploader:    translate.NewClient(cfg.Translate, r.logger),
		Permissions: caps,
		Voices:      voices,
		Speaker:     speaker,
		Notifier:    alert.NewBusNotifier(catalog, client, cfg.Device.ID, r.logger),
		Observers: []session.Observer{
			history.NewRecorder(hist, cfg.Device.ID, r.logger),
			session.NewBusPublisher(client, cfg.Device.ID, r.logger),
		},
	}, r.logger)

	r.services = []service{
		voices,
		speech.NewService(ctx, cfg.Speech, client, localSpeaker, r.logger),
		router.NewService(ctx, cfg.Router, client, voices, speaker, r.logger),
	}
	for _, svc := range r.services {
		if err := svc.Start(); err != nil {
			return nil, fmt.Errorf("start service: %w", err)
		}
	}

	return NewAPI(APIDeps{
		Controller:   controller,
		Voices:       voices,
		Capabilities: caps,
		History:      hist,
		Metrics:      metricsHandler,
		Ready:        r.healthy,
	}, r.logger), nil
}

func (r *Runtime) healthy() bool {
	if !r.ready.Load() || !r.bus.Healthy() {
		return false
	}
	for _, svc := range r.services {
		if !svc.Healthy() {
			return false
		}
	}
	return true
}

func (r *Runtime) teardown(ctx context.Context) {
	for i := len(r.services) - 1; i >= 0; i-- {
		r.services[i].Close()
	}
	r.bus.Close()
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			r.logger.Warn("close failed", slog.String("error", err.Error()))
		}
	}
	r.nats.Shutdown()
	if r.tracerClose != nil {
		if err := r.tracerClose(ctx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}
}
