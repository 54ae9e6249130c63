//go:build cucumber

package view

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cucumber/godog"

	"github.com/tuanbt/hivestream/internal/stream"
	"github.com/tuanbt/hivestream/internal/task"
)

// TestProjectorFeatures executes the projector feature scenarios via godog.
func TestProjectorFeatures(t *testing.T) {
	suite := godog.TestSuite{
		Name:                "projector",
		ScenarioInitializer: InitializeScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{filepath.Join("testdata", "features")},
			Strict:   true,
			TestingT: t,
		},
	}
	if suite.Run() != 0 {
		t.Fatalf("non-zero godog status")
	}
}

// InitializeScenario wires step definitions for the projector features.
func InitializeScenario(ctx *godog.ScenarioContext) {
	state := &projectorState{}
	ctx.Before(func(ctx context.Context, _ *godog.Scenario) (context.Context, error) {
		state.reset()
		return ctx, nil
	})

	ctx.Step(`^the event stream:$`, state.givenStream)
	ctx.Step(`^the stream is read in chunks of (\d+) bytes$`, state.readInChunks)
	ctx.Step(`^a snapshot of task (\d+) with status "([^"]+)" and plan summary "([^"]*)" arrives$`, state.snapshotArrives)
	ctx.Step(`^task (\d+) is selected$`, state.selectTask)
	ctx.Step(`^task (\d+) is bound$`, state.taskIsBound)
	ctx.Step(`^the status is "([^"]+)"$`, state.statusIs)
	ctx.Step(`^the plan summary is "([^"]*)"$`, state.planSummaryIs)
	ctx.Step(`^the failure screenshot is "([^"]*)"$`, state.failureScreenshotIs)
	ctx.Step(`^the transcript is:$`, state.transcriptIs)
}

// projectorState holds scenario state for the projector feature tests.
type projectorState struct {
	raw string
	reg *task.Registry
}

func (s *projectorState) reset() {
	s.raw = ""
	s.reg = task.NewRegistry()
}

func (s *projectorState) givenStream(doc *godog.DocString) error {
	s.raw = doc.Content + "\n\n"
	return nil
}

func (s *projectorState) readInChunks(size int) error {
	r := stream.NewReader(strings.NewReader(s.raw), size)
	b := s.reg.BeginPending()
	defer b.Close()

	for {
		ev, err := r.Next(context.Background())
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if _, err := b.Append(ev); err != nil {
			return err
		}
	}
}

func (s *projectorState) snapshotArrives(id int64, status, summary string) error {
	s.reg.PutSnapshot(task.Snapshot{
		ID:     id,
		Status: task.Status(status),
		Result: map[string]any{"plan_summary": summary},
	})
	return nil
}

func (s *projectorState) selectTask(id int64) error {
	s.reg.Select(id)
	return nil
}

func (s *projectorState) taskIsBound(id int64) error {
	if _, ok := s.reg.Log(id); !ok {
		return fmt.Errorf("task %d has no log", id)
	}
	active, ok := s.reg.Active()
	if !ok || active != id {
		return fmt.Errorf("expected active task %d, got %d", id, active)
	}
	return nil
}

func (s *projectorState) current() (State, error) {
	st, ok := ReconcileActive(s.reg)
	if !ok {
		return State{}, errors.New("no active task")
	}
	return st, nil
}

func (s *projectorState) statusIs(want string) error {
	st, err := s.current()
	if err != nil {
		return err
	}
	if string(st.Status) != want {
		return fmt.Errorf("expected status %q, got %q", want, st.Status)
	}
	return nil
}

func (s *projectorState) planSummaryIs(want string) error {
	st, err := s.current()
	if err != nil {
		return err
	}
	if st.PlanSummary != want {
		return fmt.Errorf("expected plan summary %q, got %q", want, st.PlanSummary)
	}
	return nil
}

func (s *projectorState) failureScreenshotIs(want string) error {
	st, err := s.current()
	if err != nil {
		return err
	}
	if st.FailureScreenshot != want {
		return fmt.Errorf("expected failure screenshot %q, got %q", want, st.FailureScreenshot)
	}
	return nil
}

func (s *projectorState) transcriptIs(table *godog.Table) error {
	st, err := s.current()
	if err != nil {
		return err
	}
	if len(table.Rows) != len(st.Transcript) {
		return fmt.Errorf("expected %d transcript lines, got %d: %q", len(table.Rows), len(st.Transcript), st.Transcript)
	}
	for i, row := range table.Rows {
		want := strings.TrimSpace(row.Cells[0].Value)
		if st.Transcript[i] != want {
			return fmt.Errorf("line %d: expected %q, got %q", i, want, st.Transcript[i])
		}
	}
	return nil
}
