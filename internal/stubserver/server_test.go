package stubserver

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tuanbt/hivestream/internal/auth"
	"github.com/tuanbt/hivestream/internal/client"
	"github.com/tuanbt/hivestream/internal/config"
	"github.com/tuanbt/hivestream/internal/logger"
	"github.com/tuanbt/hivestream/internal/stream"
	"github.com/tuanbt/hivestream/internal/task"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Stub.StepDelayMS = 0
	cfg.Stub.Steps = 3
	return cfg
}

func startServer(t *testing.T, cfg *config.Config, tokens auth.TokenProvider) (*Server, *client.Client) {
	t.Helper()
	store, err := NewStore("")
	if err != nil {
		t.Fatalf("NewStore() failed: %v", err)
	}
	srv := New(cfg, store, logger.Discard())
	ts := httptest.NewServer(srv.Engine())
	t.Cleanup(ts.Close)

	if tokens == nil {
		tokens = auth.NewStaticProvider("test-token")
	}
	c, err := client.New(client.Options{
		BaseURL:        ts.URL,
		Tokens:         tokens,
		Timeout:        5 * time.Second,
		AcceptEncoding: "zstd, gzip",
	})
	if err != nil {
		t.Fatalf("client.New() failed: %v", err)
	}
	return srv, c
}

func streamKinds(t *testing.T, c *client.Client, prompt string) ([]stream.Event, []stream.Kind) {
	t.Helper()
	body, err := c.StreamTask(context.Background(), prompt)
	if err != nil {
		t.Fatalf("StreamTask() failed: %v", err)
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("read stream: %v", err)
	}
	events, err := stream.FrameAll(data)
	if err != nil {
		t.Fatalf("FrameAll() failed: %v", err)
	}
	kinds := make([]stream.Kind, len(events))
	for i, ev := range events {
		kinds[i] = ev.Kind
	}
	return events, kinds
}

func equalKinds(a, b []stream.Kind) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestStreamHappyPath(t *testing.T) {
	srv, c := startServer(t, testConfig(), nil)

	events, kinds := streamKinds(t, c, "open example.com")

	want := []stream.Kind{
		stream.KindTask, stream.KindPlan, stream.KindAttemptStart,
		stream.KindStepStart, stream.KindStepResult,
		stream.KindStepStart, stream.KindStepResult,
		stream.KindStepStart, stream.KindStepResult,
		stream.KindComplete,
	}
	if !equalKinds(kinds, want) {
		t.Fatalf("unexpected event kinds:\n got %v\nwant %v", kinds, want)
	}

	id, ok := events[0].TaskID()
	if !ok || id != 1 {
		t.Fatalf("task event id = %d, %v", id, ok)
	}
	step, _ := events[3].Map("step")
	if a := step["action"]; a != "navigate" {
		t.Errorf("first step action %v", a)
	}

	snap, err := srv.store.Get(id)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if snap.Status != task.StatusCompleted || snap.PlanSummary() == "" {
		t.Errorf("unexpected stored task %+v", snap)
	}
}

func TestStreamReplanThenComplete(t *testing.T) {
	cfg := testConfig()
	cfg.Stub.FailStep = 1
	cfg.Stub.MaxAttempts = 2
	_, c := startServer(t, cfg, nil)

	events, kinds := streamKinds(t, c, "search")

	want := []stream.Kind{
		stream.KindTask, stream.KindPlan, stream.KindAttemptStart,
		stream.KindStepStart, stream.KindStepResult,
		stream.KindStepStart, stream.KindStepError, stream.KindReplan,
		stream.KindAttemptStart,
		stream.KindStepStart, stream.KindStepResult,
		stream.KindStepStart, stream.KindStepResult,
		stream.KindStepStart, stream.KindStepResult,
		stream.KindComplete,
	}
	if !equalKinds(kinds, want) {
		t.Fatalf("unexpected event kinds:\n got %v\nwant %v", kinds, want)
	}

	stepErr := events[6]
	if stepErr.String("error") == "" || stepErr.String("failure_screenshot_base64") == "" {
		t.Errorf("step_error missing fields: %v", stepErr.Payload)
	}
	if steps, ok := events[7].Payload["steps"].([]any); !ok || len(steps) != 3 {
		t.Errorf("replan should carry 3 steps, got %v", events[7].Payload["steps"])
	}
}

func TestStreamFailure(t *testing.T) {
	cfg := testConfig()
	cfg.Stub.FailStep = 0
	cfg.Stub.MaxAttempts = 1
	srv, c := startServer(t, cfg, nil)

	events, kinds := streamKinds(t, c, "doomed")

	last := kinds[len(kinds)-1]
	if last != stream.KindError {
		t.Fatalf("expected final error event, got %v", kinds)
	}
	if events[len(events)-1].String("error") == "" {
		t.Error("error event should carry the error")
	}

	snap, _ := srv.store.Get(1)
	if snap.Status != task.StatusFailed || snap.Error == "" {
		t.Errorf("unexpected stored task %+v", snap)
	}
}

func TestStopDuringStream(t *testing.T) {
	cfg := testConfig()
	cfg.Stub.Steps = 50
	cfg.Stub.StepDelayMS = 20
	srv, c := startServer(t, cfg, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	body, err := c.StreamTask(ctx, "long job")
	if err != nil {
		t.Fatalf("StreamTask() failed: %v", err)
	}
	defer body.Close()

	r := stream.NewReader(body, 64)
	first, err := r.Next(ctx)
	if err != nil {
		t.Fatalf("Next() failed: %v", err)
	}
	id, ok := first.TaskID()
	if !ok {
		t.Fatalf("first event is %s, want task", first.Kind)
	}

	if err := c.StopTask(ctx, id); err != nil {
		t.Fatalf("StopTask() failed: %v", err)
	}

	var last stream.Event
	for {
		ev, err := r.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Next() failed: %v", err)
		}
		last = ev
	}
	if last.Kind != stream.KindStopped || last.String("reason") != "user_requested" {
		t.Errorf("expected stopped event, got %+v", last)
	}

	snap, _ := srv.store.Get(id)
	if snap.Status != task.StatusStopped {
		t.Errorf("expected stored status stopped, got %s", snap.Status)
	}
	if srv.Runner().Running(id) {
		t.Error("run should be gone after the stream ends")
	}
}

func TestStopUnknownTask(t *testing.T) {
	_, c := startServer(t, testConfig(), nil)

	err := c.StopTask(context.Background(), 77)
	if !errors.Is(err, client.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	var te *client.TransportError
	if !errors.As(err, &te) || te.StatusCode != http.StatusNotFound {
		t.Errorf("expected a 404 transport error, got %v", err)
	}
}

func TestRunListAndGet(t *testing.T) {
	_, c := startServer(t, testConfig(), nil)
	ctx := context.Background()

	snap, err := c.RunTask(ctx, "quick")
	if err != nil {
		t.Fatalf("RunTask() failed: %v", err)
	}
	if snap.Status != task.StatusCompleted || snap.Result["title"] != "Example Domain" {
		t.Errorf("unexpected run result %+v", snap)
	}

	c.RunTask(ctx, "another")

	list, err := c.ListTasks(ctx)
	if err != nil {
		t.Fatalf("ListTasks() failed: %v", err)
	}
	if len(list) != 2 || list[0].Prompt != "another" {
		t.Errorf("unexpected list %+v", list)
	}

	got, err := c.GetTask(ctx, snap.ID)
	if err != nil {
		t.Fatalf("GetTask() failed: %v", err)
	}
	if got.Prompt != "quick" || got.CreatedAt.IsZero() {
		t.Errorf("unexpected task %+v", got)
	}

	if _, err := c.GetTask(ctx, 99); !errors.Is(err, client.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRunFailureIsBadRequest(t *testing.T) {
	cfg := testConfig()
	cfg.Stub.FailStep = 0
	cfg.Stub.MaxAttempts = 1
	_, c := startServer(t, cfg, nil)

	_, err := c.RunTask(context.Background(), "doomed")
	var te *client.TransportError
	if !errors.As(err, &te) || te.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 transport error, got %v", err)
	}
}

func TestEmptyPromptRejected(t *testing.T) {
	srv, _ := startServer(t, testConfig(), nil)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/tasks/stream", nil)
	srv.Engine().ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestJSONCompression(t *testing.T) {
	srv, _ := startServer(t, testConfig(), nil)

	for _, enc := range []string{"zstd", "gzip"} {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/tasks", nil)
		req.Header.Set("Accept-Encoding", enc)
		srv.Engine().ServeHTTP(w, req)

		if got := w.Header().Get("Content-Encoding"); got != enc {
			t.Errorf("Accept-Encoding %s: Content-Encoding = %q", enc, got)
		}
	}
}

func TestAuthRequired(t *testing.T) {
	cfg := testConfig()
	cfg.JWTSecret = "stub-secret"

	signer, err := auth.NewSigningProvider(&auth.Config{JWTSecret: "stub-secret", Subject: "tester"})
	if err != nil {
		t.Fatalf("NewSigningProvider() failed: %v", err)
	}
	srv, c := startServer(t, cfg, signer)

	w := httptest.NewRecorder()
	srv.Engine().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/tasks", nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", w.Code)
	}

	if _, err := c.ListTasks(context.Background()); err != nil {
		t.Errorf("signed request rejected: %v", err)
	}

	w = httptest.NewRecorder()
	srv.Engine().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK {
		t.Errorf("healthz should be open, got %d", w.Code)
	}
}

func TestStaticTokenHash(t *testing.T) {
	hash, err := auth.HashStaticToken("s3cret")
	if err != nil {
		t.Fatalf("HashStaticToken() failed: %v", err)
	}
	cfg := testConfig()
	cfg.Stub.StaticTokenHash = hash

	_, good := startServer(t, cfg, auth.NewStaticProvider("s3cret"))
	if _, err := good.ListTasks(context.Background()); err != nil {
		t.Errorf("static token rejected: %v", err)
	}

	_, bad := startServer(t, cfg, auth.NewStaticProvider("wrong"))
	_, err = bad.ListTasks(context.Background())
	var te *client.TransportError
	if !errors.As(err, &te) || te.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 for wrong token, got %v", err)
	}
}
