// Package tui provides the terminal user interface for hivectl.
package tui

import "github.com/tuanbt/hivestream/internal/console"

// UpdateMsg carries one console update into the program.
type UpdateMsg struct {
	Update console.Update
}

// UpdatesClosedMsg signals that the console shut down.
type UpdatesClosedMsg struct{}

// SubmittedMsg reports the outcome of opening a stream.
type SubmittedMsg struct {
	Err error
}

// StoppedMsg reports the outcome of a stop request.
type StoppedMsg struct {
	Err error
}

// RefreshedMsg reports the outcome of a task list reload.
type RefreshedMsg struct {
	Err error
}
