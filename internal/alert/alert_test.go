package alert

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/loqalabs/loqa-sign/internal/bus/bustest"
	"github.com/loqalabs/loqa-sign/internal/protocol"
)

func TestCatalogRendersEnglish(t *testing.T) {
	catalog, err := NewCatalog("en")
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	title, message, err := catalog.Render(UploadSucceeded, nil)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if title != "Upload complete" || message != "Video uploaded successfully!" {
		t.Fatalf("unexpected text %q / %q", title, message)
	}

	_, message, err = catalog.Render(PermissionsMissing, map[string]any{"Missing": "camera, microphone"})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(message, "camera, microphone") {
		t.Fatalf("template data not applied: %q", message)
	}
}

func TestCatalogRendersSpanish(t *testing.T) {
	catalog, err := NewCatalog("es-MX")
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	_, message, err := catalog.Render(UploadFailed, map[string]any{"Error": "timeout"})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if message != "No se pudo traducir el video: timeout" {
		t.Fatalf("unexpected message %q", message)
	}
}

func TestCatalogRejectsInvalidLocale(t *testing.T) {
	if _, err := NewCatalog("not a locale!"); err == nil {
		t.Fatal("expected error")
	}
}

func TestBusNotifierPublishes(t *testing.T) {
	client := bustest.Connect(t)
	sub, err := client.Conn().SubscribeSync(protocol.SubjectAlert)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	catalog, err := NewCatalog("en")
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}

	notifier := NewBusNotifier(catalog, client, "device-a", bustest.Logger())
	if err := notifier.Notify(context.Background(), CaptureFailed, map[string]any{"Error": "lens cap"}); err != nil {
		t.Fatalf("notify: %v", err)
	}

	msg, err := sub.NextMsg(2 * time.Second)
	if err != nil {
		t.Fatalf("expected alert: %v", err)
	}
	var alert protocol.Alert
	if err := json.Unmarshal(msg.Data, &alert); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if alert.DeviceID != "device-a" || alert.Kind != string(CaptureFailed) || alert.Title != "Recording failed" {
		t.Fatalf("unexpected alert %+v", alert)
	}
}
