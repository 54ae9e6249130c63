package tui

import (
	"fmt"
	"io"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
)

type TaskDelegate struct{}

func (d TaskDelegate) Height() int                               { return 2 }
func (d TaskDelegate) Spacing() int                              { return 0 }
func (d TaskDelegate) Update(msg tea.Msg, m *list.Model) tea.Cmd { return nil }

func (d TaskDelegate) Render(w io.Writer, m list.Model, index int, listItem list.Item) {
	it, ok := listItem.(TaskItem)
	if !ok {
		return
	}

	titleStr := fmt.Sprintf("[%d] %s", it.ID, it.Prompt)
	if r := []rune(titleStr); len(r) > 28 {
		titleStr = string(r[:25]) + "..."
	}

	statusStr := fmt.Sprintf("%s %s", statusIcon(it.Status), it.Status)
	if it.Live {
		statusStr += " (live)"
	}

	if index == m.Index() {
		fmt.Fprint(w, StyleTaskSelected.Render(fmt.Sprintf("> %s", titleStr))+"\n")
		fmt.Fprint(w, StatusStyle(it.Status).Render(fmt.Sprintf("    %s", statusStr)))
	} else {
		fmt.Fprint(w, StyleTaskDimmed.Render(fmt.Sprintf("  %s", titleStr))+"\n")
		fmt.Fprint(w, StyleDimmed.Render(fmt.Sprintf("    %s", statusStr)))
	}
}
