package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/tuanbt/hivestream/internal/stream"
	"github.com/tuanbt/hivestream/internal/task"
)

var (
	// ErrNoActiveSession is returned by Stop when nothing is reading.
	ErrNoActiveSession = errors.New("no active session")

	// ErrManagerClosed is returned by Start after Close.
	ErrManagerClosed = errors.New("session manager closed")
)

// StopReason is recorded when a stop ends a stream before the server
// confirmed it.
const StopReason = "user_requested"

// Options configures a Manager.
type Options struct {
	// ReadSize is the buffer size for stream reads.
	ReadSize int

	// StopGrace is how long Stop waits for the server's stopped event
	// before aborting the read. Zero aborts immediately.
	StopGrace time.Duration

	Observer Observer
	Logger   *slog.Logger
}

// Manager runs sessions and guarantees at most one is reading at a time.
type Manager struct {
	streamer Streamer
	registry *task.Registry
	opts     Options
	logger   *slog.Logger

	// startMu serializes Start so replacement is never a race. It also
	// guards closed.
	startMu sync.Mutex
	closed  bool

	mu     sync.Mutex
	active *Session
	wg     sync.WaitGroup
}

// NewManager creates a manager that appends into reg.
func NewManager(streamer Streamer, reg *task.Registry, opts Options) *Manager {
	if opts.ReadSize <= 0 {
		opts.ReadSize = stream.DefaultReadSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Manager{
		streamer: streamer,
		registry: reg,
		opts:     opts,
		logger:   logger,
	}
}

// Active returns the session currently opening or reading.
func (m *Manager) Active() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Start submits prompt and begins reading its stream. Any active session is
// aborted and fully finished before the new request is issued. A transport
// error opening the stream is returned; if the new session is itself
// replaced or stopped while opening, Start returns ErrCanceled.
func (m *Manager) Start(ctx context.Context, prompt string) (*Session, error) {
	m.startMu.Lock()
	defer m.startMu.Unlock()

	if m.closed {
		return nil, ErrManagerClosed
	}
	if prev := m.Active(); prev != nil {
		m.logger.Debug("replacing active session", "session_id", prev.ID())
		prev.abort()
		<-prev.Done()
	}

	s := newSession(ctx, prompt, m.registry.BeginPending())
	m.mu.Lock()
	m.active = s
	m.mu.Unlock()

	m.logger.Info("opening stream", "session_id", s.ID())
	body, err := m.streamer.StreamTask(s.ctx, prompt)
	if err != nil {
		outcome, err := s.classify(err)
		m.end(s, outcome, err)
		if outcome == OutcomeAborted {
			return s, ErrCanceled
		}
		return s, err
	}

	s.setState(StateReading)
	m.wg.Add(1)
	go m.read(s, body)
	return s, nil
}

// Stop asks the server to stop the active task and aborts the local read.
// With a StopGrace the read is given that long to deliver the server's
// stopped event first.
func (m *Manager) Stop(ctx context.Context) error {
	s := m.Active()
	if s == nil {
		return ErrNoActiveSession
	}
	s.markStopRequested()

	if id, ok := s.TaskID(); ok {
		if err := m.streamer.StopTask(ctx, id); err != nil {
			m.logger.Warn("stop request failed", "session_id", s.ID(), "task_id", id, "error", err)
		}
	}

	if m.opts.StopGrace > 0 {
		timer := time.NewTimer(m.opts.StopGrace)
		defer timer.Stop()
		select {
		case <-s.Done():
			return nil
		case <-timer.C:
		case <-ctx.Done():
		}
	}

	s.abort()
	<-s.Done()
	return nil
}

// Close aborts the active session and waits for every read loop to exit.
// Start fails with ErrManagerClosed afterwards.
func (m *Manager) Close() {
	// Abort first so a Start blocked on opening releases startMu.
	if s := m.Active(); s != nil {
		s.abort()
	}
	m.startMu.Lock()
	m.closed = true
	m.startMu.Unlock()

	if s := m.Active(); s != nil {
		s.abort()
	}
	m.wg.Wait()
}

func (m *Manager) read(s *Session, body io.ReadCloser) {
	defer m.wg.Done()
	defer body.Close()

	r := stream.NewReader(body, m.opts.ReadSize)
	outcome := OutcomeNone

	for {
		ev, err := r.Next(s.ctx)
		if err != nil {
			o, err := s.classify(err)
			if o == OutcomeEnded && outcome != OutcomeNone {
				o = outcome
			}
			m.end(s, o, err)
			return
		}

		if s.ctx.Err() != nil {
			m.end(s, OutcomeAborted, nil)
			return
		}
		bound, err := s.binding.Append(ev)
		if err != nil {
			m.end(s, OutcomeAborted, nil)
			return
		}

		id, ok := s.binding.TaskID()
		if !ok {
			continue
		}
		if bound {
			m.logger.Info("stream bound", "session_id", s.ID(), "task_id", id)
			m.notify(func(o Observer) { o.TaskBound(s, id) })
		}
		m.logger.Debug("event", "session_id", s.ID(), "task_id", id, "kind", ev.Kind)
		m.notify(func(o Observer) { o.EventAppended(s, id, ev) })

		if t := outcomeFor(ev.Kind); t != OutcomeNone {
			outcome = t
		}
	}
}

// end finishes s and records a local end against its task when the
// stream produced no terminal event.
func (m *Manager) end(s *Session, outcome Outcome, err error) {
	if id, ok := s.TaskID(); ok {
		switch {
		case outcome == OutcomeBroken:
			m.registry.MarkLocalFailure(id, err.Error())
		case outcome == OutcomeAborted && s.StopRequested():
			m.registry.MarkLocalStop(id, StopReason)
		}
	}

	s.finish(outcome, err)

	m.mu.Lock()
	if m.active == s {
		m.active = nil
	}
	m.mu.Unlock()

	attrs := []any{"session_id", s.ID(), "outcome", outcome}
	if id, ok := s.TaskID(); ok {
		attrs = append(attrs, "task_id", id)
	}
	if err != nil {
		m.logger.Warn("stream ended with error", append(attrs, "error", err)...)
	} else {
		m.logger.Info("stream ended", attrs...)
	}

	m.notify(func(o Observer) { o.SessionEnded(s) })
}

func (m *Manager) notify(fn func(Observer)) {
	if m.opts.Observer != nil {
		fn(m.opts.Observer)
	}
}

// String implements fmt.Stringer for log output.
func (s *Session) String() string {
	if id, ok := s.TaskID(); ok {
		return fmt.Sprintf("session %s (task %d)", s.id[:8], id)
	}
	return fmt.Sprintf("session %s", s.id[:8])
}
