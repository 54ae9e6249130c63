// Package client talks to the task API: it submits prompts, opens event
// streams, and fetches and stops tasks.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/tuanbt/hivestream/internal/auth"
	"github.com/tuanbt/hivestream/internal/task"
	"github.com/tuanbt/hivestream/internal/telemetry"
)

// Header names sent with every request.
const (
	HeaderRequestID     = "X-Request-ID"
	HeaderClientSession = "X-Client-Session"
)

// Options configures a Client.
type Options struct {
	BaseURL string
	Tokens  auth.TokenProvider

	// Timeout bounds REST calls. Streams and blocking runs are bounded
	// only by their context.
	Timeout time.Duration

	// AcceptEncoding is advertised on requests; gzip and zstd responses
	// are decoded transparently.
	AcceptEncoding string

	// SessionID identifies this client process in server logs. A random
	// id is used when empty.
	SessionID string

	Logger     *slog.Logger
	HTTPClient *http.Client
	Tracer     trace.Tracer
}

// Client is an HTTP client for the task API.
type Client struct {
	baseURL        string
	tokens         auth.TokenProvider
	acceptEncoding string
	sessionID      string
	timeout        time.Duration

	http   *http.Client
	tracer trace.Tracer
	logger *slog.Logger
}

// New constructs a client.
func New(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	if opts.Tokens == nil {
		return nil, fmt.Errorf("token provider is required")
	}

	c := &Client{
		baseURL:        strings.TrimRight(opts.BaseURL, "/"),
		tokens:         opts.Tokens,
		acceptEncoding: opts.AcceptEncoding,
		sessionID:      opts.SessionID,
		timeout:        opts.Timeout,
		http:           opts.HTTPClient,
		tracer:         opts.Tracer,
		logger:         opts.Logger,
	}
	if c.sessionID == "" {
		c.sessionID = uuid.NewString()
	}
	if c.http == nil {
		c.http = &http.Client{}
	}
	if c.tracer == nil {
		c.tracer = telemetry.Tracer()
	}
	if c.logger == nil {
		c.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return c, nil
}

// SessionID returns the id sent in X-Client-Session.
func (c *Client) SessionID() string {
	return c.sessionID
}

type promptRequest struct {
	Prompt string `json:"prompt"`
}

// StreamTask submits prompt and returns the open event stream. The caller
// owns the returned body and must close it; cancelling ctx aborts reads.
func (c *Client) StreamTask(ctx context.Context, prompt string) (io.ReadCloser, error) {
	const op = "stream task"

	ctx, span := c.tracer.Start(ctx, "tasks.stream", trace.WithSpanKind(trace.SpanKindClient))

	payload, err := json.Marshal(promptRequest{Prompt: prompt})
	if err != nil {
		span.End()
		return nil, &TransportError{Op: op, Err: err}
	}

	resp, err := c.do(ctx, op, http.MethodPost, "/tasks/stream", payload, "text/event-stream")
	if err != nil {
		recordError(span, err)
		span.End()
		return nil, err
	}

	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		err := decodeHTTPError(op, resp.StatusCode, body)
		recordError(span, err)
		span.End()
		return nil, err
	}
	if resp.Body == nil || resp.Body == http.NoBody {
		span.End()
		return nil, &TransportError{Op: op, StatusCode: resp.StatusCode, Err: ErrNoBody}
	}

	body, err := decodeBody(resp)
	if err != nil {
		resp.Body.Close()
		recordError(span, err)
		span.End()
		return nil, &TransportError{Op: op, StatusCode: resp.StatusCode, Err: err}
	}

	return &spanBody{ReadCloser: body, span: span}, nil
}

// RunTask submits prompt and blocks until the server finishes the task.
func (c *Client) RunTask(ctx context.Context, prompt string) (task.Snapshot, error) {
	payload, err := json.Marshal(promptRequest{Prompt: prompt})
	if err != nil {
		return task.Snapshot{}, &TransportError{Op: "run task", Err: err}
	}

	var snap task.Snapshot
	err = c.doJSON(ctx, "run task", "tasks.run", http.MethodPost, "/tasks/run", payload, false, &snap)
	return snap, err
}

// ListTasks returns every task the server knows, newest first.
func (c *Client) ListTasks(ctx context.Context) ([]task.Snapshot, error) {
	var snaps []task.Snapshot
	if err := c.doJSON(ctx, "list tasks", "tasks.list", http.MethodGet, "/tasks", nil, true, &snaps); err != nil {
		return nil, err
	}
	return snaps, nil
}

// GetTask fetches the snapshot of one task.
func (c *Client) GetTask(ctx context.Context, id int64) (task.Snapshot, error) {
	var snap task.Snapshot
	path := "/tasks/" + strconv.FormatInt(id, 10)
	err := c.doJSON(ctx, "get task", "tasks.get", http.MethodGet, path, nil, true, &snap)
	return snap, err
}

// StopTask asks the server to stop a running task. The server stops at the
// next step boundary; the stream reports it with a stopped event.
func (c *Client) StopTask(ctx context.Context, id int64) error {
	path := "/tasks/stop/" + strconv.FormatInt(id, 10)
	return c.doJSON(ctx, "stop task", "tasks.stop", http.MethodPost, path, nil, true, nil)
}

func (c *Client) doJSON(ctx context.Context, op, spanName, method, path string, payload []byte, bounded bool, out any) error {
	ctx, span := c.tracer.Start(ctx, spanName, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	if bounded && c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	resp, err := c.do(ctx, op, method, path, payload, "application/json")
	if err != nil {
		recordError(span, err)
		return err
	}
	defer resp.Body.Close()

	r, err := decodeBody(resp)
	if err != nil {
		err = &TransportError{Op: op, StatusCode: resp.StatusCode, Err: err}
		recordError(span, err)
		return err
	}
	defer r.Close()

	body, err := io.ReadAll(r)
	if err != nil {
		err = &TransportError{Op: op, StatusCode: resp.StatusCode, Err: err}
		recordError(span, err)
		return err
	}

	if resp.StatusCode >= 300 {
		err := decodeHTTPError(op, resp.StatusCode, body)
		recordError(span, err)
		return err
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		err = &TransportError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to decode response: %w", err)}
		recordError(span, err)
		return err
	}
	return nil
}

func (c *Client) do(ctx context.Context, op, method, path string, payload []byte, accept string) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}

	header, err := auth.HeaderValue(ctx, c.tokens)
	if err != nil {
		return nil, &TransportError{Op: op, Err: fmt.Errorf("failed to get credentials: %w", err)}
	}

	requestID := uuid.NewString()
	req.Header.Set("Authorization", header)
	req.Header.Set("Accept", accept)
	req.Header.Set(HeaderRequestID, requestID)
	req.Header.Set(HeaderClientSession, c.sessionID)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.acceptEncoding != "" {
		req.Header.Set("Accept-Encoding", c.acceptEncoding)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("http.method", method),
		attribute.String("http.route", path),
		attribute.String("hive.request_id", requestID),
	)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug("request failed", "method", method, "path", path, "request_id", requestID, "error", err)
		return nil, &TransportError{Op: op, Err: err}
	}

	trace.SpanFromContext(ctx).SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	c.logger.Debug("request",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"request_id", requestID,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return resp, nil
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// spanBody ends the stream span when the body is closed.
type spanBody struct {
	io.ReadCloser
	span trace.Span
	once sync.Once
}

func (b *spanBody) Close() error {
	err := b.ReadCloser.Close()
	b.once.Do(func() { b.span.End() })
	return err
}
