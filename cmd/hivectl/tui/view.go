package tui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

func (m Model) View() string {
	if m.Width == 0 || !m.Ready {
		return "Initialising..."
	}

	streaming := "idle"
	if m.Streaming {
		streaming = "streaming"
	}

	// 1. Header
	headerStr := fmt.Sprintf(" HIVECTL | TASKS: %d | %s | TASK: %s | MODE: %s ",
		len(m.TaskList.Items()), streaming, taskLabel(m.SelectedTaskID), m.getModeString())
	header := StyleHeader.Width(m.Width).Render(headerStr)

	// 2. Sidebar + detail
	sidebarWidth := m.Width - m.Detail.Width - 4
	contentHeight := m.Height - 4 // header(1) + footer(3)

	listStyle := StylePaneBorder
	detailStyle := StylePaneBorder
	if m.FocusArea == FocusList {
		listStyle = StylePaneBorderFocus
	}
	if m.FocusArea == FocusDetail {
		detailStyle = StylePaneBorderFocus
	}

	sidebar := listStyle.Width(sidebarWidth - 2).Height(contentHeight).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			StyleGridLabel.Background(ColorBlue).Render(" TASKS "),
			m.TaskList.View(),
		),
	)

	label := StyleGridLabel.Render(fmt.Sprintf(" %s ", taskLabel(m.State.TaskID)))
	if m.HasState {
		label = StyleGridLabel.Background(StatusStyle(m.State.Status).GetForeground()).Render(
			fmt.Sprintf(" %s %s ", taskLabel(m.State.TaskID), m.State.Status))
	}
	detail := detailStyle.Width(m.Detail.Width).Height(contentHeight).Render(
		lipgloss.JoinVertical(lipgloss.Left, label, m.Detail.View()),
	)

	mainContent := lipgloss.JoinHorizontal(lipgloss.Top, sidebar, detail)

	// 3. Footer (Input Deck)
	status := StyleDimmed.Render(" [i] Prompt [s] Stop [r] Reload [j/k] Nav [?] Help [q] Quit")
	if m.Err != nil {
		status = StyleError.Render(" " + m.Err.Error())
	}
	inputPrefix := StyleInputPrefix.Render(">_ ")
	footer := lipgloss.JoinVertical(lipgloss.Left,
		lipgloss.JoinHorizontal(lipgloss.Center, inputPrefix, m.Input.View()),
		status,
	)

	ui := lipgloss.JoinVertical(lipgloss.Left, header, mainContent, footer)

	if m.ShowModal {
		return m.overlay(StyleModal.Render(m.ModalContent))
	}
	return ui
}

func (m Model) getModeString() string {
	if m.Mode == ModeInsert {
		return "INSERT"
	}
	return "SELECTION"
}

func (m Model) overlay(modal string) string {
	return lipgloss.Place(m.Width, m.Height,
		lipgloss.Center, lipgloss.Center,
		modal,
		lipgloss.WithWhitespaceChars(" "),
		lipgloss.WithWhitespaceForeground(ColorBorder),
	)
}
