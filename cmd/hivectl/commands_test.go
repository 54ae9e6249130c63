package main

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tuanbt/hivestream/internal/console"
	"github.com/tuanbt/hivestream/internal/task"
	"github.com/tuanbt/hivestream/internal/view"
)

// fakeRun plays both the console and the session of a foreground run. Stop
// ends the session a little later, the way a server's stopped event would.
type fakeRun struct {
	mu      sync.Mutex
	state   view.State
	updates chan console.Update
	done    chan struct{}
	once    sync.Once
	stops   atomic.Int32
}

func newFakeRun() *fakeRun {
	return &fakeRun{
		state:   view.State{TaskID: 5, Status: task.StatusRunning, Transcript: []string{"Task #5 started"}},
		updates: make(chan console.Update),
		done:    make(chan struct{}),
	}
}

func (f *fakeRun) Updates() <-chan console.Update { return f.updates }

func (f *fakeRun) ViewOf(id int64) view.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeRun) Stop(ctx context.Context) error {
	f.stops.Add(1)
	time.Sleep(50 * time.Millisecond)
	f.mu.Lock()
	f.state.Status = task.StatusStopped
	f.state.Transcript = append(f.state.Transcript, "Task stopped (user_requested)")
	f.mu.Unlock()
	f.once.Do(func() { close(f.done) })
	return nil
}

func (f *fakeRun) TaskID() (int64, bool) { return 5, true }
func (f *fakeRun) Done() <-chan struct{} { return f.done }
func (f *fakeRun) Err() error            { return nil }

// doneCounter counts how often the run loop asks for the Done channel.
type doneCounter struct {
	context.Context
	calls atomic.Int32
}

func (c *doneCounter) Done() <-chan struct{} {
	c.calls.Add(1)
	return c.Context.Done()
}

func TestFollowSessionStopsOnceOnCancel(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	cancel()
	ctx := &doneCounter{Context: parent}

	run := newFakeRun()
	var out bytes.Buffer

	errCh := make(chan error, 1)
	go func() { errCh <- followSession(ctx, time.Second, run, run, &out) }()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("followSession() failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("followSession did not return after the stop")
	}

	if n := run.stops.Load(); n != 1 {
		t.Errorf("expected one stop request, got %d", n)
	}
	// A loop re-selecting on the closed Done channel would ask for it on
	// every pass while the stop is in flight.
	if n := ctx.calls.Load(); n != 1 {
		t.Errorf("expected Done to be read once, got %d", n)
	}
	if !strings.Contains(out.String(), "Task stopped (user_requested)") || !strings.Contains(out.String(), "Status:  stopped") {
		t.Errorf("unexpected output:\n%s", out.String())
	}
}

func TestFollowSessionReportsFailure(t *testing.T) {
	run := newFakeRun()
	run.state.Status = task.StatusFailed
	run.state.LatestResult = map[string]any{"error": "timeout"}
	close(run.done)

	var out bytes.Buffer
	err := followSession(context.Background(), time.Second, run, run, &out)
	if err == nil || !strings.Contains(err.Error(), "task 5 failed") {
		t.Errorf("expected task failure, got %v", err)
	}
	if !strings.Contains(out.String(), "Task #5 started") || !strings.Contains(out.String(), "Error:   timeout") {
		t.Errorf("unexpected output:\n%s", out.String())
	}
}

func TestParseID(t *testing.T) {
	if id, err := parseID("show", []string{"12"}); err != nil || id != 12 {
		t.Errorf("parseID(12) = %d, %v", id, err)
	}
	for _, bad := range [][]string{nil, {"x"}, {"0"}} {
		if _, err := parseID("show", bad); err == nil {
			t.Errorf("expected error for %v", bad)
		}
	}
}
