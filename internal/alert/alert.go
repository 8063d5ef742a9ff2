package alert

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-sign/internal/bus"
	"github.com/loqalabs/loqa-sign/internal/protocol"
	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
)

// Kind identifies a user-facing notification.
type Kind string

const (
	UploadSucceeded    Kind = "upload_succeeded"
	UploadFailed       Kind = "upload_failed"
	CaptureFailed      Kind = "capture_failed"
	PermissionsMissing Kind = "permissions_missing"
	NothingRecorded    Kind = "nothing_recorded"
)

//go:embed locales/*.json
var locales embed.FS

// Notifier surfaces alerts to the user. Data fills the message template
// (Error, Missing).
type Notifier interface {
	Notify(ctx context.Context, kind Kind, data map[string]any) error
}

// Catalog renders localized alert text.
type Catalog struct {
	localizer *i18n.Localizer
}

func NewCatalog(locale string) (*Catalog, error) {
	bundle := i18n.NewBundle(language.English)
	bundle.RegisterUnmarshalFunc("json", json.Unmarshal)
	for _, name := range []string{"locales/en.json", "locales/es.json"} {
		if _, err := bundle.LoadMessageFileFS(locales, name); err != nil {
			return nil, fmt.Errorf("load %s: %w", name, err)
		}
	}
	tag, err := language.Parse(locale)
	if err != nil {
		return nil, fmt.Errorf("invalid alert locale %q: %w", locale, err)
	}
	return &Catalog{localizer: i18n.NewLocalizer(bundle, tag.String(), language.English.String())}, nil
}

// Render returns the localized title and message for kind.
func (c *Catalog) Render(kind Kind, data map[string]any) (string, string, error) {
	title, err := c.localizer.Localize(&i18n.LocalizeConfig{MessageID: string(kind) + "_title"})
	if err != nil {
		return "", "", err
	}
	message, err := c.localizer.Localize(&i18n.LocalizeConfig{MessageID: string(kind) + "_message", TemplateData: data})
	if err != nil {
		return "", "", err
	}
	return title, message, nil
}

// LogNotifier writes alerts to the structured log.
type LogNotifier struct {
	catalog *Catalog
	logger  *slog.Logger
}

func NewLogNotifier(catalog *Catalog, logger *slog.Logger) *LogNotifier {
	return &LogNotifier{catalog: catalog, logger: logger.With(slog.String("component", "alerts"))}
}

func (n *LogNotifier) Notify(_ context.Context, kind Kind, data map[string]any) error {
	title, message, err := n.catalog.Render(kind, data)
	if err != nil {
		return err
	}
	n.logger.Info(title, slog.String("kind", string(kind)), slog.String("message", message))
	return nil
}

// BusNotifier publishes alerts on ui.alert for whichever UI is attached.
type BusNotifier struct {
	catalog  *Catalog
	bus      *bus.Client
	deviceID string
	logger   *slog.Logger
}

func NewBusNotifier(catalog *Catalog, busClient *bus.Client, deviceID string, logger *slog.Logger) *BusNotifier {
	return &BusNotifier{
		catalog:  catalog,
		bus:      busClient,
		deviceID: deviceID,
		logger:   logger.With(slog.String("component", "alerts")),
	}
}

func (n *BusNotifier) Notify(_ context.Context, kind Kind, data map[string]any) error {
	title, message, err := n.catalog.Render(kind, data)
	if err != nil {
		return err
	}
	n.logger.Info(title, slog.String("kind", string(kind)), slog.String("message", message))
	return n.bus.PublishJSON(protocol.SubjectAlert, protocol.Alert{
		DeviceID:  n.deviceID,
		Kind:      string(kind),
		Title:     title,
		Message:   message,
		Timestamp: time.Now().UTC(),
	})
}
