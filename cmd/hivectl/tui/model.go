package tui

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"

	"github.com/tuanbt/hivestream/internal/console"
	"github.com/tuanbt/hivestream/internal/session"
	"github.com/tuanbt/hivestream/internal/task"
	"github.com/tuanbt/hivestream/internal/view"
)

type tickMsg time.Time

type ViewMode int

const (
	ModeSelection ViewMode = iota
	ModeInsert
)

type FocusArea int

const (
	FocusList FocusArea = iota
	FocusDetail
	FocusInput
)

// Backend is the part of *console.Console the interface drives.
type Backend interface {
	Submit(ctx context.Context, prompt string) (*session.Session, error)
	Stop(ctx context.Context) error
	Select(id int64)
	Refresh(ctx context.Context) error
	View() (view.State, bool)
	Tasks() []task.Summary
	Active() *session.Session
	Updates() <-chan console.Update
}

type Model struct {
	Backend Backend

	// Models
	TaskList list.Model
	Detail   viewport.Model
	Input    textinput.Model

	// State
	SelectedTaskID int64
	State          view.State
	HasState       bool
	Width          int
	Height         int
	Err            error
	Ready          bool
	FocusArea      FocusArea
	Mode           ViewMode

	ShowModal    bool
	ModalContent string
	Quitting     bool

	// Streaming is true while a session is opening or reading.
	Streaming bool
}

// New creates the initial model.
func New(b Backend) Model {
	l := list.New([]list.Item{}, TaskDelegate{}, 0, 0)
	l.SetShowTitle(false)
	l.SetShowStatusBar(false)
	l.SetFilteringEnabled(false)
	l.SetShowHelp(false)

	ti := textinput.New()
	ti.Placeholder = "Describe a browser task..."
	ti.Prompt = "" // Handled by View
	ti.Width = 80
	ti.Blur() // Start in selection mode

	return Model{
		Backend:      b,
		TaskList:     l,
		Detail:       viewport.New(0, 0),
		Input:        ti,
		FocusArea:    FocusList,
		ModalContent: helpText,
	}
}

// TaskItem implements list.Item
type TaskItem struct {
	ID     int64
	Prompt string
	Status task.Status
	Live   bool
}

func (i TaskItem) FilterValue() string { return i.Prompt }
