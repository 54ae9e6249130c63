// Package stream turns the raw bytes of a task event stream into typed events.
package stream

import (
	"encoding/json"
	"strconv"
)

// Kind is the event name announced by an "event:" line. It is an open set;
// the constants below are the kinds the projector understands.
type Kind string

const (
	KindTask         Kind = "task"
	KindPlan         Kind = "plan"
	KindAttemptStart Kind = "attempt_start"
	KindStepStart    Kind = "step_start"
	KindStepResult   Kind = "step_result"
	KindReplan       Kind = "replan"
	KindStepError    Kind = "step_error"
	KindComplete     Kind = "complete"
	KindError        Kind = "error"
	KindStopped      Kind = "stopped"

	// KindMessage is used when a record carries no "event:" line.
	KindMessage Kind = "message"
)

// IsKnown reports whether the kind carries meaning for status and transcript derivation.
func (k Kind) IsKnown() bool {
	switch k {
	case KindTask, KindPlan, KindAttemptStart, KindStepStart, KindStepResult,
		KindReplan, KindStepError, KindComplete, KindError, KindStopped:
		return true
	}
	return false
}

// IsTerminal reports whether the kind ends a task run.
func (k Kind) IsTerminal() bool {
	return k == KindComplete || k == KindError || k == KindStopped
}

// Event is one framed record. Events are never modified after framing.
type Event struct {
	Kind    Kind
	Payload map[string]any
}

// String returns the field as a string, or "" when missing or not a string.
func (e Event) String(key string) string {
	s, _ := e.Payload[key].(string)
	return s
}

// Int returns the field as an integer. Numbers are decoded as json.Number,
// but float64 and int are accepted for events built in code.
func (e Event) Int(key string) (int64, bool) {
	return toInt(e.Payload[key])
}

// Map returns a nested object field.
func (e Event) Map(key string) (map[string]any, bool) {
	m, ok := e.Payload[key].(map[string]any)
	return m, ok
}

// TaskID extracts the id announced by a task event.
func (e Event) TaskID() (int64, bool) {
	if e.Kind != KindTask {
		return 0, false
	}
	return e.Int("task_id")
}

func toInt(v any) (int64, bool) {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return int64(f), true
	case float64:
		return int64(n), true
	case int:
		return int64(n), true
	case int64:
		return n, true
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil
	}
	return 0, false
}
