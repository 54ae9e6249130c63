// Package console coordinates streaming sessions, snapshot fetches and the
// task registry behind one interactive front end.
package console

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/tuanbt/hivestream/internal/config"
	"github.com/tuanbt/hivestream/internal/logger"
	"github.com/tuanbt/hivestream/internal/session"
	"github.com/tuanbt/hivestream/internal/stream"
	"github.com/tuanbt/hivestream/internal/task"
	"github.com/tuanbt/hivestream/internal/view"
	"github.com/tuanbt/hivestream/internal/worker"
)

var (
	// ErrQueueFull is returned when a snapshot fetch cannot be queued.
	ErrQueueFull = errors.New("fetch queue full")

	// ErrClosed is returned after Shutdown.
	ErrClosed = errors.New("console closed")

	// ErrNotStarted is returned by Fetch before Start.
	ErrNotStarted = errors.New("console not started")
)

const (
	updateBuffer    = 256
	shutdownTimeout = 10 * time.Second
)

// API is the task service as seen by the console. *client.Client
// satisfies it.
type API interface {
	session.Streamer
	worker.Fetcher
	ListTasks(ctx context.Context) ([]task.Snapshot, error)
}

// UpdateKind says what changed.
type UpdateKind string

const (
	UpdateBound    UpdateKind = "bound"
	UpdateEvent    UpdateKind = "event"
	UpdateEnded    UpdateKind = "ended"
	UpdateSnapshot UpdateKind = "snapshot"
	UpdateList     UpdateKind = "list"
	UpdateError    UpdateKind = "error"
)

// Update is a change notification. Receivers re-read state through View or
// Tasks; an Update carries no state of its own beyond what triggered it.
type Update struct {
	Kind    UpdateKind
	TaskID  int64
	Event   stream.Event
	Session *session.Session
	Err     error
}

type recorder struct {
	logger *slog.Logger
	close  func()
}

// Console ties a session manager, a snapshot worker pool and a registry
// together.
type Console struct {
	config   *config.Config
	api      API
	registry *task.Registry
	sessions *session.Manager
	pool     *worker.Pool
	logger   *slog.Logger

	updates chan Update

	mu        sync.RWMutex
	started   bool
	closed    bool
	recorders map[int64]recorder

	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New creates a console. Call Start (or Run) before fetching snapshots.
func New(cfg *config.Config, api API, log *slog.Logger) *Console {
	if log == nil {
		log = logger.Discard()
	}
	reg := task.NewRegistry()
	c := &Console{
		config:    cfg,
		api:       api,
		registry:  reg,
		pool:      worker.NewPool(cfg, api, log),
		logger:    log,
		updates:   make(chan Update, updateBuffer),
		recorders: make(map[int64]recorder),
	}
	c.sessions = session.NewManager(api, reg, session.Options{
		ReadSize:  cfg.StreamReadSize,
		StopGrace: cfg.StopGrace(),
		Observer:  c,
		Logger:    log,
	})
	return c
}

// Registry exposes the task registry.
func (c *Console) Registry() *task.Registry {
	return c.registry
}

// Updates delivers change notifications. Slow receivers miss updates
// rather than stall the stream.
func (c *Console) Updates() <-chan Update {
	return c.updates
}

// Start launches the snapshot pool and its result handler.
func (c *Console) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.started {
		return nil
	}
	if err := c.pool.Start(ctx); err != nil {
		return err
	}
	c.started = true

	c.wg.Add(1)
	go c.handleResults()

	c.logger.Info("console started",
		"api_base_url", c.config.APIBaseURL,
		"num_workers", c.config.NumWorkers,
	)
	return nil
}

// Run starts the console and blocks until ctx is cancelled.
func (c *Console) Run(ctx context.Context) error {
	if err := c.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	c.logger.Info("shutdown signal received")
	return c.Shutdown()
}

// Submit starts streaming a new task for prompt, replacing any session in
// progress. The task becomes the selected one when its id arrives, unless
// the user selected another task in the meantime. ctx spans the whole
// stream; cancelling it aborts the read.
func (c *Console) Submit(ctx context.Context, prompt string) (*session.Session, error) {
	if c.isClosed() {
		return nil, ErrClosed
	}
	s, err := c.sessions.Start(ctx, prompt)
	if err != nil && !errors.Is(err, session.ErrCanceled) {
		c.publish(Update{Kind: UpdateError, Err: err})
	}
	return s, err
}

// Stop stops the streaming task.
func (c *Console) Stop(ctx context.Context) error {
	return c.sessions.Stop(ctx)
}

// Active returns the session currently opening or reading, if any.
func (c *Console) Active() *session.Session {
	return c.sessions.Active()
}

// Select makes id the task the view follows. A task with no known data is
// fetched in the background.
func (c *Console) Select(id int64) {
	c.registry.Select(id)
	_, hasLog := c.registry.Log(id)
	_, hasSnap := c.registry.Snapshot(id)
	if !hasLog && !hasSnap {
		if err := c.Fetch(id); err != nil {
			c.logger.Debug("select fetch not queued", "task_id", id, "error", err)
		}
	}
}

// Refresh reloads the task list from the server.
func (c *Console) Refresh(ctx context.Context) error {
	if c.isClosed() {
		return ErrClosed
	}
	snaps, err := c.api.ListTasks(ctx)
	if err != nil {
		c.logger.Warn("task list failed", "error", err)
		c.publish(Update{Kind: UpdateError, Err: err})
		return err
	}
	for _, s := range snaps {
		c.registry.PutSnapshot(s)
	}
	c.logger.Debug("task list refreshed", "count", len(snaps))
	c.publish(Update{Kind: UpdateList})
	return nil
}

// Fetch queues a background snapshot fetch for id.
func (c *Console) Fetch(id int64) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	if !c.started {
		return ErrNotStarted
	}
	if !c.pool.Submit(worker.Job{TaskID: id}) {
		return ErrQueueFull
	}
	return nil
}

// View returns the reconciled state of the selected task.
func (c *Console) View() (view.State, bool) {
	return view.ReconcileActive(c.registry)
}

// ViewOf returns the reconciled state of one task.
func (c *Console) ViewOf(id int64) view.State {
	return view.Reconcile(c.registry, id)
}

// Tasks lists every known task, newest first.
func (c *Console) Tasks() []task.Summary {
	return view.Summaries(c.registry)
}

// TaskBound implements session.Observer.
func (c *Console) TaskBound(s *session.Session, taskID int64) {
	if c.config.RecordEvents {
		c.openRecorder(taskID)
	}
	c.publish(Update{Kind: UpdateBound, TaskID: taskID, Session: s})
}

// EventAppended implements session.Observer.
func (c *Console) EventAppended(s *session.Session, taskID int64, ev stream.Event) {
	c.mu.RLock()
	rec, ok := c.recorders[taskID]
	c.mu.RUnlock()
	if ok {
		rec.logger.Info("event", "session_id", s.ID(), "kind", string(ev.Kind), "payload", ev.Payload)
	}
	c.publish(Update{Kind: UpdateEvent, TaskID: taskID, Event: ev, Session: s})
}

// SessionEnded implements session.Observer. The server's record of the
// task is refetched so the list reflects its persisted result.
func (c *Console) SessionEnded(s *session.Session) {
	id, ok := s.TaskID()
	if ok {
		c.closeRecorder(id)
	}
	c.publish(Update{Kind: UpdateEnded, TaskID: id, Session: s, Err: s.Err()})
	if ok {
		if err := c.Fetch(id); err != nil {
			c.logger.Debug("post-stream fetch not queued", "task_id", id, "error", err)
		}
	}
}

// handleResults merges fetched snapshots into the registry.
func (c *Console) handleResults() {
	defer c.wg.Done()

	c.logger.Debug("result handler started")

	for res := range c.pool.Results() {
		c.processResult(res)
	}

	c.logger.Debug("result handler stopped")
}

func (c *Console) processResult(res *worker.Result) {
	if res.Err != nil {
		c.publish(Update{Kind: UpdateError, TaskID: res.TaskID, Err: res.Err})
		return
	}
	c.registry.PutSnapshot(res.Snapshot)
	c.publish(Update{Kind: UpdateSnapshot, TaskID: res.TaskID})
}

func (c *Console) publish(u Update) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.updates <- u:
	default:
		c.logger.Debug("update dropped", "kind", string(u.Kind), "task_id", u.TaskID)
	}
}

func (c *Console) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

func (c *Console) openRecorder(id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.recorders[id]; ok || c.closed {
		return
	}
	l, closeFn, err := logger.NewTaskLogger(c.config, id)
	if err != nil {
		c.logger.Warn("failed to open event log", "task_id", id, "error", err)
		return
	}
	c.recorders[id] = recorder{logger: l, close: closeFn}
}

func (c *Console) closeRecorder(id int64) {
	c.mu.Lock()
	rec, ok := c.recorders[id]
	delete(c.recorders, id)
	c.mu.Unlock()
	if ok {
		rec.close()
	}
}

// Shutdown aborts any session, stops the pool and waits for the result
// handler. The Updates channel is closed when it returns.
func (c *Console) Shutdown() error {
	c.stopOnce.Do(func() {
		c.logger.Info("shutting down console")

		c.sessions.Close()

		c.mu.Lock()
		started := c.started
		c.closed = true
		c.mu.Unlock()

		if started {
			c.pool.Stop()
		}

		done := make(chan struct{})
		go func() {
			c.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			c.logger.Info("console shutdown complete")
		case <-time.After(shutdownTimeout):
			c.logger.Warn("shutdown timeout, forcing exit")
		}

		c.mu.Lock()
		for id, rec := range c.recorders {
			rec.close()
			delete(c.recorders, id)
		}
		close(c.updates)
		c.mu.Unlock()
	})
	return nil
}
