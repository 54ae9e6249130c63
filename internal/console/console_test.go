package console_test

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/tuanbt/hivestream/internal/client"
	"github.com/tuanbt/hivestream/internal/config"
	"github.com/tuanbt/hivestream/internal/console"
	"github.com/tuanbt/hivestream/internal/logger"
	"github.com/tuanbt/hivestream/internal/task"
)

// fakeAPI serves streams from pipes and snapshots from a map.
type fakeAPI struct {
	mu      sync.Mutex
	writers []*io.PipeWriter
	snaps   map[int64]task.Snapshot
	fetched []int64
	listErr error
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{snaps: make(map[int64]task.Snapshot)}
}

func (f *fakeAPI) StreamTask(ctx context.Context, prompt string) (io.ReadCloser, error) {
	r, w := io.Pipe()
	f.mu.Lock()
	f.writers = append(f.writers, w)
	f.mu.Unlock()
	go func() {
		<-ctx.Done()
		r.CloseWithError(ctx.Err())
	}()
	return r, nil
}

func (f *fakeAPI) StopTask(ctx context.Context, id int64) error {
	return nil
}

func (f *fakeAPI) GetTask(ctx context.Context, id int64) (task.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetched = append(f.fetched, id)
	s, ok := f.snaps[id]
	if !ok {
		return task.Snapshot{}, client.ErrNotFound
	}
	return s, nil
}

func (f *fakeAPI) ListTasks(ctx context.Context) ([]task.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]task.Snapshot, 0, len(f.snaps))
	for _, s := range f.snaps {
		out = append(out, s)
	}
	return out, nil
}

func (f *fakeAPI) writer(t *testing.T, i int) *io.PipeWriter {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		f.mu.Lock()
		if len(f.writers) > i {
			w := f.writers[i]
			f.mu.Unlock()
			return w
		}
		f.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("stream %d never opened", i)
	return nil
}

func (f *fakeAPI) fetchedIDs() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.fetched...)
}

func setupTest(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.LogDirectory = filepath.Join(t.TempDir(), "logs")
	cfg.NumWorkers = 1
	cfg.StopGraceMS = 0
	return cfg
}

func waitFor(t *testing.T, c *console.Console, kind console.UpdateKind) console.Update {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case u, ok := <-c.Updates():
			if !ok {
				t.Fatalf("updates closed waiting for %s", kind)
			}
			if u.Kind == kind {
				return u
			}
		case <-timeout:
			t.Fatalf("no %s update", kind)
		}
	}
}

func TestRun_Lifecycle(t *testing.T) {
	c := console.New(setupTest(t), newFakeAPI(), logger.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not exit after context cancellation")
	}

	if _, ok := <-c.Updates(); ok {
		t.Error("updates should be closed after shutdown")
	}
	if _, err := c.Submit(context.Background(), "late"); !errors.Is(err, console.ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestRefreshMergesSnapshots(t *testing.T) {
	api := newFakeAPI()
	api.snaps[1] = task.Snapshot{ID: 1, Prompt: "first", Status: task.StatusCompleted}
	api.snaps[2] = task.Snapshot{ID: 2, Prompt: "second", Status: task.StatusFailed, Error: "boom"}

	c := console.New(setupTest(t), api, logger.Discard())
	defer c.Shutdown()

	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() failed: %v", err)
	}
	waitFor(t, c, console.UpdateList)

	tasks := c.Tasks()
	if len(tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(tasks))
	}
	if tasks[0].ID != 2 || tasks[0].Status != task.StatusFailed {
		t.Errorf("unexpected first row %+v", tasks[0])
	}
	if tasks[1].ID != 1 || tasks[1].Prompt != "first" {
		t.Errorf("unexpected second row %+v", tasks[1])
	}
}

func TestRefreshError(t *testing.T) {
	api := newFakeAPI()
	api.listErr = errors.New("connection refused")

	c := console.New(setupTest(t), api, logger.Discard())
	defer c.Shutdown()

	if err := c.Refresh(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	u := waitFor(t, c, console.UpdateError)
	if u.Err == nil {
		t.Error("error update should carry the error")
	}
}

func TestSubmitStreamsIntoView(t *testing.T) {
	api := newFakeAPI()
	api.snaps[7] = task.Snapshot{ID: 7, Prompt: "open example.com", Status: task.StatusCompleted}

	cfg := setupTest(t)
	cfg.RecordEvents = true
	c := console.New(cfg, api, logger.Discard())
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer c.Shutdown()

	if _, err := c.Submit(context.Background(), "open example.com"); err != nil {
		t.Fatalf("Submit() failed: %v", err)
	}

	w := api.writer(t, 0)
	io.WriteString(w, "event: task\ndata: {\"task_id\": 7}\n\n")

	if u := waitFor(t, c, console.UpdateBound); u.TaskID != 7 {
		t.Fatalf("bound to %d, want 7", u.TaskID)
	}

	io.WriteString(w, "event: plan\ndata: {\"summary\": \"visit the page\"}\n\n")
	io.WriteString(w, "event: complete\ndata: {\"goal\": \"open example.com\", \"title\": \"Example Domain\"}\n\n")
	w.Close()

	u := waitFor(t, c, console.UpdateEnded)
	if u.TaskID != 7 {
		t.Errorf("ended task %d, want 7", u.TaskID)
	}

	st, ok := c.View()
	if !ok {
		t.Fatal("expected a selected task")
	}
	if st.TaskID != 7 || st.Status != task.StatusCompleted {
		t.Errorf("unexpected view %+v", st)
	}
	if st.PlanSummary != "visit the page" {
		t.Errorf("plan summary %q", st.PlanSummary)
	}

	// The finished task is refetched so the list has its persisted record.
	waitFor(t, c, console.UpdateSnapshot)
	if ids := api.fetchedIDs(); len(ids) != 1 || ids[0] != 7 {
		t.Errorf("expected one fetch of task 7, got %v", ids)
	}
	if _, ok := c.Registry().Snapshot(7); !ok {
		t.Error("snapshot of task 7 not merged")
	}
	if _, err := os.Stat(filepath.Join(cfg.LogDirectory, "task-7.log")); err != nil {
		t.Errorf("event log not written: %v", err)
	}
}

func TestSelectFetchesUnknownTask(t *testing.T) {
	api := newFakeAPI()
	api.snaps[3] = task.Snapshot{ID: 3, Prompt: "remote", Status: task.StatusRunning}

	c := console.New(setupTest(t), api, logger.Discard())
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer c.Shutdown()

	c.Select(3)
	waitFor(t, c, console.UpdateSnapshot)

	st, ok := c.View()
	if !ok || st.TaskID != 3 {
		t.Fatalf("expected task 3 selected, got %+v (ok=%v)", st, ok)
	}
	if st.Status != task.StatusRunning || st.Prompt != "remote" {
		t.Errorf("unexpected view %+v", st)
	}
}

func TestSelectMissingTaskReportsError(t *testing.T) {
	c := console.New(setupTest(t), newFakeAPI(), logger.Discard())
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer c.Shutdown()

	c.Select(99)
	u := waitFor(t, c, console.UpdateError)
	if u.TaskID != 99 || !errors.Is(u.Err, client.ErrNotFound) {
		t.Errorf("unexpected update %+v", u)
	}
}

func TestFetchBeforeStart(t *testing.T) {
	c := console.New(setupTest(t), newFakeAPI(), logger.Discard())
	defer c.Shutdown()

	if err := c.Fetch(1); !errors.Is(err, console.ErrNotStarted) {
		t.Errorf("expected ErrNotStarted, got %v", err)
	}
}

func TestStopMarksTaskStopped(t *testing.T) {
	api := newFakeAPI()
	c := console.New(setupTest(t), api, logger.Discard())
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer c.Shutdown()

	if _, err := c.Submit(context.Background(), "long job"); err != nil {
		t.Fatalf("Submit() failed: %v", err)
	}
	w := api.writer(t, 0)
	io.WriteString(w, "event: task\ndata: {\"task_id\": 11}\n\n")
	waitFor(t, c, console.UpdateBound)

	if err := c.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
	if c.Active() != nil {
		t.Error("no session should be active after stop")
	}

	st := c.ViewOf(11)
	if st.Status != task.StatusStopped {
		t.Errorf("expected stopped, got %s", st.Status)
	}
}
