// Package session runs task event streams: one read loop per submitted
// prompt, with at most one loop reading at a time.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"

	"github.com/tuanbt/hivestream/internal/stream"
	"github.com/tuanbt/hivestream/internal/task"
)

// ErrCanceled marks a session ended by the client. It is never a failure.
var ErrCanceled = fmt.Errorf("session canceled: %w", context.Canceled)

// Streamer opens task streams and requests stops. *client.Client
// satisfies it.
type Streamer interface {
	StreamTask(ctx context.Context, prompt string) (io.ReadCloser, error)
	StopTask(ctx context.Context, id int64) error
}

// Observer is notified as a session makes progress. Calls for one session
// are made in order; they must not call back into Manager.Start.
type Observer interface {
	TaskBound(s *Session, taskID int64)
	EventAppended(s *Session, taskID int64, ev stream.Event)
	SessionEnded(s *Session)
}

// State is the lifecycle phase of a session.
type State string

const (
	StateOpening  State = "opening"
	StateReading  State = "reading"
	StateTerminal State = "terminal"
)

// Outcome is how a terminal session ended.
type Outcome string

const (
	OutcomeNone      Outcome = ""
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	OutcomeStopped   Outcome = "stopped"

	// OutcomeAborted means the client canceled the read.
	OutcomeAborted Outcome = "aborted"

	// OutcomeBroken means a transport or framing error killed the stream.
	OutcomeBroken Outcome = "broken"

	// OutcomeEnded means the server closed the stream without a terminal event.
	OutcomeEnded Outcome = "ended"
)

func outcomeFor(kind stream.Kind) Outcome {
	switch kind {
	case stream.KindComplete:
		return OutcomeCompleted
	case stream.KindError:
		return OutcomeFailed
	case stream.KindStopped:
		return OutcomeStopped
	}
	return OutcomeNone
}

// Session is one submitted prompt and its stream.
type Session struct {
	id      string
	prompt  string
	binding *task.Binding

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu            sync.Mutex
	state         State
	outcome       Outcome
	err           error
	stopRequested bool
	abortOnce     sync.Once
}

func newSession(parent context.Context, prompt string, binding *task.Binding) *Session {
	ctx, cancel := context.WithCancel(parent)
	// Cancelling the caller's context closes the binding just like abort.
	context.AfterFunc(ctx, binding.Close)
	return &Session{
		id:      uuid.NewString(),
		prompt:  prompt,
		binding: binding,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		state:   StateOpening,
	}
}

// ID returns the session's unique id.
func (s *Session) ID() string {
	return s.id
}

// Prompt returns the submitted prompt.
func (s *Session) Prompt() string {
	return s.prompt
}

// TaskID returns the id the server assigned, once the task event arrived.
func (s *Session) TaskID() (int64, bool) {
	return s.binding.TaskID()
}

// State returns the current lifecycle phase.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Outcome returns how the session ended, or OutcomeNone while it runs.
func (s *Session) Outcome() Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outcome
}

// Err returns the transport or framing error that ended the session.
// It is nil for normal ends and for cancellation.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Done is closed once the session is terminal.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// StopRequested reports whether Stop was called for the session.
func (s *Session) StopRequested() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopRequested
}

// abort cancels the read and closes the binding so nothing more is
// appended, even if an event was already framed.
func (s *Session) abort() {
	s.abortOnce.Do(func() {
		s.binding.Close()
		s.cancel()
	})
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Session) markStopRequested() {
	s.mu.Lock()
	s.stopRequested = true
	s.mu.Unlock()
}

// finish records the terminal outcome. err is dropped for aborted sessions.
func (s *Session) finish(outcome Outcome, err error) {
	s.mu.Lock()
	s.state = StateTerminal
	s.outcome = outcome
	if outcome != OutcomeAborted {
		s.err = err
	}
	s.mu.Unlock()

	s.binding.Close()
	s.cancel()
	close(s.done)
}

// classify maps a read error onto an outcome.
func (s *Session) classify(err error) (Outcome, error) {
	switch {
	case errors.Is(err, io.EOF):
		return OutcomeEnded, nil
	case s.ctx.Err() != nil, errors.Is(err, context.Canceled), errors.Is(err, task.ErrBindingClosed):
		return OutcomeAborted, nil
	default:
		return OutcomeBroken, err
	}
}
