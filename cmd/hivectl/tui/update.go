package tui

import (
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/tuanbt/hivestream/internal/console"
)

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		waitForUpdate(m.Backend.Updates()),
		refreshCmd(m.Backend),
		refreshTick(),
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		prevSelected := m.SelectedTaskID
		key := msg.String()

		// Global Keys
		if key == "ctrl+c" || (key == "q" && m.Mode == ModeSelection) {
			m.Quitting = true
			return m, tea.Quit
		}

		// Modal Handle
		if m.ShowModal {
			switch key {
			case "enter", "esc", "?":
				m.ShowModal = false
			}
			return m, nil
		}

		// Input Handling (Insert Mode)
		if m.Mode == ModeInsert {
			switch key {
			case "esc":
				m.leaveInsert()
				return m, nil
			case "enter":
				prompt := strings.TrimSpace(m.Input.Value())
				if prompt == "" {
					return m, nil
				}
				m.Input.SetValue("")
				m.leaveInsert()
				m.Err = nil
				m.Streaming = true
				return m, submitCmd(m.Backend, prompt)
			}
			m.Input, cmd = m.Input.Update(msg)
			return m, cmd
		}

		// Navigation & Actions (Selection Mode)
		switch key {
		case "i":
			m.Mode = ModeInsert
			m.FocusArea = FocusInput
			m.Input.Focus()
			return m, textinput.Blink
		case "?":
			m.ShowModal = true
			return m, nil
		case "s":
			return m, stopCmd(m.Backend)
		case "r":
			return m, refreshCmd(m.Backend)
		case "l", "right", "tab":
			m.FocusArea = FocusDetail
		case "h", "left":
			m.FocusArea = FocusList
		case "j", "down":
			if m.FocusArea == FocusList {
				m.TaskList.CursorDown()
			}
		case "k", "up":
			if m.FocusArea == FocusList {
				m.TaskList.CursorUp()
			}
		}

		if m.FocusArea == FocusDetail {
			m.Detail, cmd = m.Detail.Update(msg)
			cmds = append(cmds, cmd)
		}

		// Selection changed: follow the new task
		if item, ok := m.TaskList.SelectedItem().(TaskItem); ok && item.ID != prevSelected {
			m.SelectedTaskID = item.ID
			m.Backend.Select(item.ID)
			m.syncDetail(true)
		}

	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		m.Ready = true
		m.updateLayout()
		m.syncDetail(false)

	case UpdateMsg:
		if msg.Update.Kind == console.UpdateError && msg.Update.Err != nil {
			m.Err = msg.Update.Err
		}
		m.reload()
		cmds = append(cmds, waitForUpdate(m.Backend.Updates()))

	case UpdatesClosedMsg:
		m.Quitting = true
		return m, tea.Quit

	case SubmittedMsg:
		if msg.Err != nil {
			m.Err = msg.Err
		}
		m.reload()

	case StoppedMsg:
		if msg.Err != nil {
			m.Err = msg.Err
		}
		m.reload()

	case RefreshedMsg:
		if msg.Err != nil {
			m.Err = msg.Err
		}
		m.reload()

	case tickMsg:
		cmds = append(cmds, refreshCmd(m.Backend), refreshTick())
	}

	return m, tea.Batch(cmds...)
}

func (m *Model) leaveInsert() {
	m.Mode = ModeSelection
	m.FocusArea = FocusList
	m.Input.Blur()
}

// reload rebuilds the list and detail pane from the backend, keeping the
// cursor on the task the backend follows.
func (m *Model) reload() {
	m.TaskList.SetItems(LoadTasks(m.Backend))
	m.Streaming = isStreaming(m.Backend)

	// Nothing followed yet: follow the task under the cursor.
	if _, ok := m.Backend.View(); !ok {
		if item, isTask := m.TaskList.SelectedItem().(TaskItem); isTask {
			m.Backend.Select(item.ID)
		}
	}

	if st, ok := m.Backend.View(); ok {
		for i, item := range m.TaskList.Items() {
			if t, isTask := item.(TaskItem); isTask && t.ID == st.TaskID {
				m.TaskList.Select(i)
				break
			}
		}
		m.SelectedTaskID = st.TaskID
	}
	m.syncDetail(false)
}

// syncDetail re-renders the detail pane. The pane stays pinned to the
// bottom while the user has not scrolled away from it.
func (m *Model) syncDetail(top bool) {
	follow := m.Detail.AtBottom()
	m.State, m.HasState = m.Backend.View()
	m.Detail.SetContent(RenderDetail(m.State, m.HasState))
	switch {
	case top:
		m.Detail.GotoTop()
	case follow:
		m.Detail.GotoBottom()
	}
}

func (m *Model) updateLayout() {
	if m.Width == 0 || m.Height == 0 {
		return
	}

	headerHeight := 1
	footerHeight := 3
	contentHeight := m.Height - headerHeight - footerHeight

	sidebarWidth := int(float64(m.Width) * 0.3)
	if sidebarWidth < 30 {
		sidebarWidth = 30
	}
	if sidebarWidth > m.Width/2 {
		sidebarWidth = m.Width / 2
	}
	mainWidth := m.Width - sidebarWidth

	// Border (2 lines) + label (1 line)
	listH := contentHeight - 3
	if listH < 0 {
		listH = 0
	}
	m.TaskList.SetSize(sidebarWidth-4, listH)

	m.Detail.Width = mainWidth - 4
	m.Detail.Height = contentHeight - 3
	if m.Detail.Height < 0 {
		m.Detail.Height = 0
	}
	m.Input.Width = m.Width - 6
}
