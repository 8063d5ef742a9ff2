package runtime

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/loqalabs/loqa-sign/internal/config"
	"go.opentelemetry.io/otel"
)

func TestStdoutTracesGoToTheGivenWriter(t *testing.T) {
	cfg := config.Default()
	cfg.Device.ID = "device-telemetry"
	cfg.Telemetry.TraceExporter = "stdout"
	var out bytes.Buffer

	tel, err := setupTelemetry(cfg, &out, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("setup telemetry: %v", err)
	}
	_, span := otel.Tracer("test").Start(context.Background(), "translate.upload")
	span.End()
	if err := tel.shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	got := out.String()
	if !strings.Contains(got, "translate.upload") || !strings.Contains(got, "device-telemetry") {
		t.Fatalf("expected span with device resource, got %q", got)
	}
}

func TestTracingOffByDefault(t *testing.T) {
	var out bytes.Buffer
	tel, err := setupTelemetry(config.Default(), &out, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("setup telemetry: %v", err)
	}
	_, span := otel.Tracer("test").Start(context.Background(), "translate.upload")
	span.End()
	if err := tel.shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if out.Len() != 0 {
		t.Fatalf("expected no trace output, got %q", out.String())
	}
}

func TestUnknownTraceExporter(t *testing.T) {
	cfg := config.Default()
	cfg.Telemetry.TraceExporter = "zipkin"
	if _, err := setupTelemetry(cfg, io.Discard, slog.New(slog.NewTextHandler(io.Discard, nil))); err == nil {
		t.Fatal("expected error for unknown exporter")
	}
}
