// Package view derives what a presentation layer shows for a task from its
// event log and, when available, its REST snapshot. Every function here is
// pure: the same inputs always give the same output.
package view

import (
	"fmt"

	"github.com/tuanbt/hivestream/internal/stream"
	"github.com/tuanbt/hivestream/internal/task"
)

// State is the derived view of one task.
type State struct {
	TaskID int64
	Prompt string
	Status task.Status

	// Transcript holds one human-readable line per recognised event.
	Transcript []string

	PlanSummary       string
	LatestResult      map[string]any
	FailureScreenshot string

	// LocalError is the client-side failure that ended the stream, if any.
	LocalError string
}

// HasFailureScreenshot reports whether a failure artifact is available.
func (s State) HasFailureScreenshot() bool {
	return s.FailureScreenshot != ""
}

// StatusFor maps a single event kind to the status it implies.
func StatusFor(kind stream.Kind) task.Status {
	switch kind {
	case stream.KindTask:
		return task.StatusStarted
	case stream.KindPlan:
		return task.StatusPlanning
	case stream.KindAttemptStart, stream.KindStepStart, stream.KindStepResult:
		return task.StatusRunning
	case stream.KindReplan:
		return task.StatusReplanning
	case stream.KindStepError:
		return task.StatusRecovering
	case stream.KindComplete:
		return task.StatusCompleted
	case stream.KindError:
		return task.StatusFailed
	case stream.KindStopped:
		return task.StatusStopped
	default:
		return task.StatusRunning
	}
}

// Status derives the task status from the last event. An empty log falls
// back to the snapshot status, or idle. A stream the client ended before
// any terminal event reads as the recorded local end (failed or stopped).
func Status(events []stream.Event, local task.LocalEnd, snap *task.Snapshot) task.Status {
	if len(events) == 0 {
		if snap != nil && snap.Status != "" {
			return snap.Status
		}
		if !local.IsZero() {
			return local.Status
		}
		return task.StatusIdle
	}

	last := events[len(events)-1]
	if !local.IsZero() && !last.Kind.IsTerminal() {
		return local.Status
	}
	return StatusFor(last.Kind)
}

// PlanSummary returns the summary of the most recent plan event, falling
// back to the summary stored with the snapshot result.
func PlanSummary(events []stream.Event, snap *task.Snapshot) string {
	if ev, ok := lastOf(events, stream.KindPlan); ok {
		return ev.String("summary")
	}
	if snap != nil {
		return snap.PlanSummary()
	}
	return ""
}

// LatestResult returns the payload of the most recent complete event, else
// of the most recent error event, else the snapshot result.
func LatestResult(events []stream.Event, snap *task.Snapshot) map[string]any {
	if ev, ok := lastOf(events, stream.KindComplete); ok {
		return ev.Payload
	}
	if ev, ok := lastOf(events, stream.KindError); ok {
		return ev.Payload
	}
	if snap != nil {
		return snap.Result
	}
	return nil
}

// FailureScreenshot returns the screenshot attached to the most recent
// step_error event.
func FailureScreenshot(events []stream.Event) string {
	if ev, ok := lastOf(events, stream.KindStepError); ok {
		return ev.String("failure_screenshot_base64")
	}
	return ""
}

// Transcript renders one line per recognised event in arrival order.
// Unrecognised kinds produce no line.
func Transcript(events []stream.Event) []string {
	lines := make([]string, 0, len(events))
	for _, ev := range events {
		if line, ok := transcriptLine(ev); ok {
			lines = append(lines, line)
		}
	}
	return lines
}

func transcriptLine(ev stream.Event) (string, bool) {
	switch ev.Kind {
	case stream.KindTask:
		id, _ := ev.Int("task_id")
		return fmt.Sprintf("Task #%d started", id), true

	case stream.KindPlan:
		return "Plan ready: " + ev.String("summary"), true

	case stream.KindAttemptStart:
		n, _ := ev.Int("attempt")
		return fmt.Sprintf("Attempt %d started", n), true

	case stream.KindStepStart:
		line := fmt.Sprintf("Step %d started", stepNumber(ev))
		if step, ok := ev.Map("step"); ok {
			if action, _ := step["action"].(string); action != "" {
				line += ": " + action
			}
		}
		return line, true

	case stream.KindStepResult:
		return fmt.Sprintf("Step %d succeeded", stepNumber(ev)), true

	case stream.KindReplan:
		steps, _ := ev.Payload["steps"].([]any)
		return fmt.Sprintf("Replanned with %d steps", len(steps)), true

	case stream.KindStepError:
		return fmt.Sprintf("Step %d failed: %s", stepNumber(ev), ev.String("error")), true

	case stream.KindComplete:
		return "Task completed", true

	case stream.KindError:
		return "Task failed: " + ev.String("error"), true

	case stream.KindStopped:
		return fmt.Sprintf("Task stopped (%s)", ev.String("reason")), true
	}
	return "", false
}

// stepNumber converts the zero-based index on the wire to a display number.
func stepNumber(ev stream.Event) int64 {
	i, _ := ev.Int("index")
	return i + 1
}

func lastOf(events []stream.Event, kind stream.Kind) (stream.Event, bool) {
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Kind == kind {
			return events[i], true
		}
	}
	return stream.Event{}, false
}

// Project derives the full view state of one task.
func Project(id int64, events []stream.Event, local task.LocalEnd, snap *task.Snapshot) State {
	st := State{
		TaskID:            id,
		Status:            Status(events, local, snap),
		Transcript:        Transcript(events),
		PlanSummary:       PlanSummary(events, snap),
		LatestResult:      LatestResult(events, snap),
		FailureScreenshot: FailureScreenshot(events),
	}
	if local.Status == task.StatusFailed {
		st.LocalError = local.Reason
	}
	if snap != nil {
		st.Prompt = snap.Prompt
	}
	return st
}
