package task

import (
	"sync"

	"github.com/tuanbt/hivestream/internal/stream"
)

// Log is the append-only event history of one task, in arrival order.
type Log struct {
	taskID int64

	mu     sync.RWMutex
	events []stream.Event
	local  LocalEnd
}

// LocalEnd records how the client ended a stream that delivered no
// terminal event. The zero value means nothing was recorded.
type LocalEnd struct {
	// Status is StatusFailed or StatusStopped.
	Status Status
	Reason string
}

// IsZero reports whether nothing was recorded.
func (e LocalEnd) IsZero() bool {
	return e.Status == ""
}

func newLog(taskID int64) *Log {
	return &Log{taskID: taskID}
}

// TaskID returns the id the log is bound to.
func (l *Log) TaskID() int64 {
	return l.taskID
}

// Append adds an event to the end of the log.
func (l *Log) Append(ev stream.Event) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

// Events returns a copy of the events in arrival order.
func (l *Log) Events() []stream.Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]stream.Event, len(l.events))
	copy(out, l.events)
	return out
}

// Len returns the number of events appended so far.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}

// Last returns the most recently appended event.
func (l *Log) Last() (stream.Event, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if len(l.events) == 0 {
		return stream.Event{}, false
	}
	return l.events[len(l.events)-1], true
}

// LocalEnd returns how the client ended the stream, if it did.
func (l *Log) LocalEnd() LocalEnd {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.local
}

// LocalFailure returns the client-side failure recorded against the task, if
// the stream feeding it died before a terminal event.
func (l *Log) LocalFailure() string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.local.Status != StatusFailed {
		return ""
	}
	return l.local.Reason
}

func (l *Log) setLocalEnd(end LocalEnd) {
	l.mu.Lock()
	l.local = end
	l.mu.Unlock()
}
