// Package task holds the client-side record of agent tasks: the live event
// log of each task, the registry that binds streams to task ids, and the REST
// snapshot shape.
package task

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Status is the display status of a task.
type Status string

const (
	// StatusIdle means nothing is known about the task yet.
	StatusIdle Status = "idle"

	StatusStarted    Status = "started"
	StatusPlanning   Status = "planning"
	StatusRunning    Status = "running"
	StatusReplanning Status = "replanning"
	StatusRecovering Status = "recovering"

	// StatusCompleted indicates the task finished successfully.
	StatusCompleted Status = "completed"

	// StatusFailed indicates the task failed, upstream or locally.
	StatusFailed Status = "failed"

	// StatusStopped indicates the task was stopped on request.
	StatusStopped Status = "stopped"

	// StatusPending is only reported by the server for tasks not yet started.
	StatusPending Status = "pending"
)

// IsTerminal returns true if the status is a final state.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusStopped
}

// IsActive returns true if the task is currently being worked on.
func (s Status) IsActive() bool {
	switch s {
	case StatusStarted, StatusPlanning, StatusRunning, StatusReplanning, StatusRecovering:
		return true
	}
	return false
}

// Snapshot is the point-in-time view of a task returned by the REST API.
type Snapshot struct {
	// ID is the server-assigned task id.
	ID int64 `json:"id"`

	// Prompt is the text the task was submitted with.
	Prompt string `json:"prompt"`

	// Status is the persisted status (running, completed, failed, ...).
	Status Status `json:"status"`

	// Result is the final result payload, if the task completed.
	Result map[string]any `json:"result,omitempty"`

	// Error contains the failure message if the task failed.
	Error string `json:"error,omitempty"`

	CreatedAt Timestamp `json:"created_at"`
	UpdatedAt Timestamp `json:"updated_at"`
}

// PlanSummary returns the plan summary stored with the result, if any.
func (s Snapshot) PlanSummary() string {
	v, _ := s.Result["plan_summary"].(string)
	return v
}

// Timestamp accepts the time layouts task servers emit: RFC 3339, HTTP dates
// and naive ISO 8601 without a zone (read as UTC).
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	http.TimeFormat,
	time.RFC1123,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05.999999",
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		t.Time = time.Time{}
		return nil
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return fmt.Errorf("timestamp: unrecognised format %q", s)
}

// MarshalJSON implements json.Marshaler.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

// Summary is one row of a task list.
type Summary struct {
	ID     int64
	Prompt string
	Status Status

	// Live is true when events were streamed for the task in this session.
	Live bool
}
