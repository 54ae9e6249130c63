package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/tuanbt/hivestream/internal/console"
	"github.com/tuanbt/hivestream/internal/session"
	"github.com/tuanbt/hivestream/internal/task"
	"github.com/tuanbt/hivestream/internal/view"
)

const (
	requestTimeout = 30 * time.Second
	refreshEvery   = 5 * time.Second
)

const helpText = `hivectl

[i]       write a prompt, [enter] to run it
[j/k]     move between tasks
[s]       stop the streaming task
[r]       reload the task list
[tab]     scroll the detail pane
[q]       quit`

// waitForUpdate blocks on the next console update.
func waitForUpdate(ch <-chan console.Update) tea.Cmd {
	return func() tea.Msg {
		u, ok := <-ch
		if !ok {
			return UpdatesClosedMsg{}
		}
		return UpdateMsg{Update: u}
	}
}

func refreshTick() tea.Cmd {
	return tea.Tick(refreshEvery, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func refreshCmd(b Backend) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		return RefreshedMsg{Err: b.Refresh(ctx)}
	}
}

// submitCmd opens the stream. Reading continues in the console after the
// command returns, so the session is not given a deadline.
func submitCmd(b Backend, prompt string) tea.Cmd {
	return func() tea.Msg {
		_, err := b.Submit(context.Background(), prompt)
		if errors.Is(err, session.ErrCanceled) {
			err = nil
		}
		return SubmittedMsg{Err: err}
	}
}

func stopCmd(b Backend) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		err := b.Stop(ctx)
		if errors.Is(err, session.ErrNoActiveSession) {
			err = nil
		}
		return StoppedMsg{Err: err}
	}
}

// LoadTasks builds list items from the backend's task rows.
func LoadTasks(b Backend) []list.Item {
	rows := b.Tasks()
	items := make([]list.Item, len(rows))
	for i, r := range rows {
		items[i] = TaskItem{ID: r.ID, Prompt: r.Prompt, Status: r.Status, Live: r.Live}
	}
	return items
}

// RenderDetail formats the state of one task for the detail pane.
func RenderDetail(st view.State, ok bool) string {
	if !ok {
		return "No task selected.\n\nPress [i] to submit a prompt."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s  %s\n", StatusStyle(st.Status).Render(strings.ToUpper(string(st.Status))), taskLabel(st.TaskID))
	if st.Prompt != "" {
		fmt.Fprintf(&b, "%s\n", StyleDimmed.Render(st.Prompt))
	}

	if st.PlanSummary != "" {
		b.WriteString("\n")
		b.WriteString(StyleTitle.Render("PLAN"))
		b.WriteString("\n")
		b.WriteString(st.PlanSummary)
		b.WriteString("\n")
	}

	if len(st.Transcript) > 0 {
		b.WriteString("\n")
		b.WriteString(StyleTitle.Render("ACTIVITY"))
		b.WriteString("\n")
		for _, line := range st.Transcript {
			b.WriteString(line)
			b.WriteString("\n")
		}
	}

	if len(st.LatestResult) > 0 {
		b.WriteString("\n")
		b.WriteString(StyleTitle.Render("RESULT"))
		b.WriteString("\n")
		for _, k := range []string{"title", "goal", "feedback", "error", "diagnosis"} {
			if v, ok := st.LatestResult[k].(string); ok && v != "" {
				fmt.Fprintf(&b, "%-10s %s\n", k+":", v)
			}
		}
	}

	if st.HasFailureScreenshot() {
		fmt.Fprintf(&b, "\n%s\n", StyleStatusFailed.Render(
			fmt.Sprintf("failure screenshot captured (%d bytes base64)", len(st.FailureScreenshot))))
	}
	if st.LocalError != "" {
		fmt.Fprintf(&b, "\n%s\n", StyleStatusFailed.Render("connection lost: "+st.LocalError))
	}
	return b.String()
}

func taskLabel(id int64) string {
	if id == 0 {
		return "(pending)"
	}
	return fmt.Sprintf("#%d", id)
}

// isStreaming reports whether the backend has a session in flight.
func isStreaming(b Backend) bool {
	s := b.Active()
	return s != nil && s.State() != session.StateTerminal
}

func statusIcon(s task.Status) string {
	switch {
	case s == task.StatusCompleted:
		return "✔"
	case s == task.StatusFailed:
		return "✘"
	case s == task.StatusStopped:
		return "■"
	case s.IsActive():
		return "▶"
	}
	return "·"
}
