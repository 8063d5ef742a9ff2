package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/loqalabs/loqa-sign/internal/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	uploadPath = "/upload"
	fieldName  = "video"

	// maxResponseBytes bounds how much of a response body is read.
	maxResponseBytes = 1 << 20
)

var (
	ErrMalformedResponse  = errors.New("malformed translation response")
	ErrUnknownMediaType   = errors.New("asset locator has no file extension")
	ErrUnsupportedLocator = errors.New("unsupported asset locator")
)

// StatusError is returned when the inference server answers with a non-2xx status.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("translation server returned status %d", e.Code)
	}
	return fmt.Sprintf("translation server returned status %d: %s", e.Code, e.Body)
}

// Result is the decoded body of a successful upload.
type Result struct {
	Message string
	Tokens  []string
}

// Text joins the recognized tokens with single spaces.
func (r Result) Text() string {
	return strings.Join(r.Tokens, " ")
}

type uploadResponse struct {
	Message string           `json:"message"`
	Result  *json.RawMessage `json:"result"`
}

// Client posts captured videos to the inference server's /upload endpoint.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger

	tracer   trace.Tracer
	uploads  metric.Int64Counter
	latency  metric.Float64Histogram
	sentSize metric.Int64Histogram
}

func NewClient(cfg config.TranslateConfig, logger *slog.Logger) *Client {
	timeout := time.Duration(cfg.TimeoutMS) * time.Millisecond
	c := &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		http:    &http.Client{Timeout: timeout},
		logger:  logger.With(slog.String("component", "translate-client")),
		tracer:  otel.Tracer("github.com/loqalabs/loqa-sign/translate"),
	}
	if err := c.initMetrics(); err != nil {
		c.logger.Warn("failed to initialize metrics", slogError(err))
	}
	return c
}

func (c *Client) initMetrics() error {
	meter := otel.Meter("github.com/loqalabs/loqa-sign/translate")
	var err error
	if c.uploads, err = meter.Int64Counter("loqa_sign.upload.requests",
		metric.WithDescription("Uploads sent to the translation server, by outcome")); err != nil {
		return err
	}
	if c.latency, err = meter.Float64Histogram("loqa_sign.upload.duration",
		metric.WithDescription("Round trip time of an upload"), metric.WithUnit("s")); err != nil {
		return err
	}
	c.sentSize, err = meter.Int64Histogram("loqa_sign.upload.size",
		metric.WithDescription("Size of uploaded videos"), metric.WithUnit("By"))
	return err
}

// Upload sends the asset at locator as the single "video" part of a
// multipart form and decodes the translation.
func (c *Client) Upload(ctx context.Context, locator string) (Result, error) {
	ctx, span := c.tracer.Start(ctx, "translate.upload", trace.WithAttributes(attribute.String("asset", locator)))
	defer span.End()

	started := time.Now()
	res, err := c.upload(ctx, locator)
	outcome := "ok"
	if err != nil {
		outcome = classify(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetAttributes(attribute.Int("tokens", len(res.Tokens)))
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	if c.uploads != nil {
		c.uploads.Add(ctx, 1, attrs)
	}
	if c.latency != nil {
		c.latency.Record(ctx, time.Since(started).Seconds(), attrs)
	}
	return res, err
}

func (c *Client) upload(ctx context.Context, locator string) (Result, error) {
	filePath, err := localPath(locator)
	if err != nil {
		return Result{}, err
	}
	ext := strings.TrimPrefix(filepath.Ext(filePath), ".")
	if ext == "" {
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownMediaType, locator)
	}

	video, err := os.ReadFile(filePath)
	if err != nil {
		return Result{}, fmt.Errorf("read asset: %w", err)
	}
	if c.sentSize != nil {
		c.sentSize.Record(ctx, int64(len(video)))
	}

	body, contentType, err := encodeVideo(video, ext)
	if err != nil {
		return Result{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+uploadPath, body)
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	c.logger.Info("uploading video", slog.String("url", req.URL.String()), slog.Int("bytes", len(video)))
	resp, err := c.http.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("upload video: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Result{}, fmt.Errorf("read upload response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	return decodeResult(data)
}

// encodeVideo builds a multipart body with one part named "video". The part
// header is written by hand so the content type is video/<ext> instead of
// the application/octet-stream CreateFormFile would use.
func encodeVideo(video []byte, ext string) (*bytes.Buffer, string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, fieldName, "video."+ext))
	header.Set("Content-Type", "video/"+ext)
	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(video); err != nil {
		return nil, "", err
	}
	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return &body, writer.FormDataContentType(), nil
}

func decodeResult(data []byte) (Result, error) {
	var resp uploadResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if strings.TrimSpace(resp.Message) == "" {
		return Result{}, fmt.Errorf("%w: missing message", ErrMalformedResponse)
	}
	if resp.Result == nil {
		return Result{}, fmt.Errorf("%w: missing result", ErrMalformedResponse)
	}
	var tokens []string
	if err := json.Unmarshal(*resp.Result, &tokens); err != nil || tokens == nil {
		return Result{}, fmt.Errorf("%w: result is not a list of strings", ErrMalformedResponse)
	}
	return Result{Message: resp.Message, Tokens: tokens}, nil
}

// localPath resolves a file:// URI or bare filesystem path.
func localPath(locator string) (string, error) {
	locator = strings.TrimSpace(locator)
	if locator == "" {
		return "", fmt.Errorf("%w: empty", ErrUnsupportedLocator)
	}
	if !strings.Contains(locator, "://") {
		return locator, nil
	}
	u, err := url.Parse(locator)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnsupportedLocator, err)
	}
	if u.Scheme != "file" {
		return "", fmt.Errorf("%w: scheme %q", ErrUnsupportedLocator, u.Scheme)
	}
	return filepath.FromSlash(path.Clean(u.Path)), nil
}

func classify(err error) string {
	var status *StatusError
	switch {
	case errors.As(err, &status):
		return "status"
	case errors.Is(err, ErrMalformedResponse):
		return "malformed"
	case errors.Is(err, ErrUnknownMediaType), errors.Is(err, ErrUnsupportedLocator):
		return "locator"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "timeout"
	default:
		return "transport"
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
