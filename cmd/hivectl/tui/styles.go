package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/tuanbt/hivestream/internal/task"
)

var (
	// Colors
	ColorBg      = lipgloss.Color("#080808")
	ColorFg      = lipgloss.Color("#D1D1D1")
	ColorNeon    = lipgloss.Color("#00FF9C") // Cyber Green
	ColorBlue    = lipgloss.Color("#00E5FF") // Neon Blue
	ColorPink    = lipgloss.Color("#FF007A") // Neon Pink (Errors)
	ColorAmber   = lipgloss.Color("#FFB000")
	ColorBorder  = lipgloss.Color("#333333") // Dim Grey
	ColorDimmed  = lipgloss.Color("#666666")

	// Styles
	StyleHeader = lipgloss.NewStyle().
			Background(ColorBorder).
			Foreground(ColorNeon).
			Bold(true).
			Padding(0, 1)

	StylePaneBorder = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder()).
			BorderForeground(ColorBorder)

	StylePaneBorderFocus = lipgloss.NewStyle().
				Border(lipgloss.NormalBorder()).
				BorderForeground(ColorNeon)

	StyleTitle = lipgloss.NewStyle().
			Foreground(ColorNeon).
			Bold(true)

	StyleTaskSelected = lipgloss.NewStyle().
				Border(lipgloss.NormalBorder(), false, false, false, true).
				BorderForeground(ColorNeon).
				PaddingLeft(1).
				Foreground(ColorNeon)

	StyleTaskDimmed = lipgloss.NewStyle().
			Foreground(ColorDimmed).
			PaddingLeft(2)

	StyleDimmed = lipgloss.NewStyle().
			Foreground(ColorDimmed)

	StyleInputPrefix = lipgloss.NewStyle().
				Foreground(ColorBlue).
				Bold(true)

	StyleError = lipgloss.NewStyle().
			Foreground(ColorPink).
			Bold(true)

	StyleStatusIdle    = lipgloss.NewStyle().Foreground(ColorDimmed)
	StyleStatusActive  = lipgloss.NewStyle().Foreground(ColorNeon)
	StyleStatusDone    = lipgloss.NewStyle().Foreground(ColorBlue)
	StyleStatusFailed  = lipgloss.NewStyle().Foreground(ColorPink)
	StyleStatusStopped = lipgloss.NewStyle().Foreground(ColorAmber)

	StyleModal = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder()).
			BorderForeground(ColorNeon).
			Padding(1, 4).
			Background(ColorBg).
			Foreground(ColorFg)

	StyleGridLabel = lipgloss.NewStyle().
			Foreground(ColorBg).
			Background(ColorNeon).
			Bold(true).
			Padding(0, 1)
)

// StatusStyle picks the color for a task status.
func StatusStyle(s task.Status) lipgloss.Style {
	switch {
	case s == task.StatusCompleted:
		return StyleStatusDone
	case s == task.StatusFailed:
		return StyleStatusFailed
	case s == task.StatusStopped:
		return StyleStatusStopped
	case s.IsActive():
		return StyleStatusActive
	}
	return StyleStatusIdle
}
