package stubserver

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tuanbt/hivestream/internal/stream"
	"github.com/tuanbt/hivestream/internal/task"
)

// failureScreenshot is a 1x1 PNG sent with step errors.
const failureScreenshot = "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mNk+M9QDwADhgGAWjR9awAAAABJRU5ErkJggg=="

// Step is one browser action of a plan.
type Step struct {
	Action   string `json:"action"`
	URL      string `json:"url,omitempty"`
	Selector string `json:"selector,omitempty"`
	Text     string `json:"text,omitempty"`
	WaitMS   int    `json:"wait_ms,omitempty"`
}

// Plan is the scripted plan for a prompt.
type Plan struct {
	Goal  string `json:"goal"`
	Steps []Step `json:"steps"`
}

// ScriptConfig shapes the scripted runs.
type ScriptConfig struct {
	Steps       int
	FailStep    int
	MaxAttempts int
	StepDelay   time.Duration
}

// run is the in-flight state of one streamed task.
type run struct {
	stop atomic.Bool
}

// Runner plays a scripted agent run for each task and records its outcome
// in the store.
type Runner struct {
	store  *Store
	cfg    ScriptConfig
	logger *slog.Logger

	mu   sync.Mutex
	runs map[int64]*run
}

// NewRunner creates a runner.
func NewRunner(store *Store, cfg ScriptConfig, logger *slog.Logger) *Runner {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.Steps < 1 {
		cfg.Steps = 1
	}
	return &Runner{
		store:  store,
		cfg:    cfg,
		logger: logger,
		runs:   make(map[int64]*run),
	}
}

// RequestStop flags the run of id to stop at its next step boundary. It
// returns false if id is not running.
func (r *Runner) RequestStop(id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.runs[id]
	if !ok {
		return false
	}
	st.stop.Store(true)
	return true
}

// Running reports whether id has a run in progress.
func (r *Runner) Running(id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.runs[id]
	return ok
}

func planFor(prompt string, steps int, attempt int) Plan {
	actions := []string{"navigate", "click", "type", "wait"}
	p := Plan{Goal: prompt}
	for i := 0; i < steps; i++ {
		st := Step{Action: actions[i%len(actions)]}
		switch st.Action {
		case "navigate":
			st.URL = "https://example.com/"
		case "click":
			st.Selector = fmt.Sprintf("#item-%d", i+attempt-1)
		case "type":
			st.Selector = "input[name=q]"
			st.Text = prompt
		case "wait":
			st.WaitMS = 500
		}
		p.Steps = append(p.Steps, st)
	}
	return p
}

func summarize(prompt string, p Plan) string {
	actions := make([]string, 0, len(p.Steps))
	for _, s := range p.Steps {
		actions = append(actions, s.Action)
	}
	return fmt.Sprintf("%s (%s)", prompt, strings.Join(actions, ", "))
}

// Run plays the script for t, sending events on out until a terminal event
// or ctx ends. out is closed when Run returns. The first event is always
// the task event.
func (r *Runner) Run(ctx context.Context, t task.Snapshot, out chan<- stream.Event) {
	defer close(out)

	st := &run{}
	r.mu.Lock()
	r.runs[t.ID] = st
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.runs, t.ID)
		r.mu.Unlock()
	}()

	logger := r.logger.With("task_id", t.ID)
	logger.Info("run started", "prompt", t.Prompt)

	emit := func(kind stream.Kind, payload map[string]any) bool {
		select {
		case out <- stream.Event{Kind: kind, Payload: payload}:
		case <-ctx.Done():
			return false
		}
		if r.cfg.StepDelay <= 0 {
			return true
		}
		timer := time.NewTimer(r.cfg.StepDelay)
		defer timer.Stop()
		select {
		case <-timer.C:
			return true
		case <-ctx.Done():
			return false
		}
	}

	if !emit(stream.KindTask, map[string]any{"task_id": t.ID}) {
		r.abandon(logger, t.ID, st)
		return
	}

	plan := planFor(t.Prompt, r.cfg.Steps, 1)
	summary := summarize(t.Prompt, plan)
	if !emit(stream.KindPlan, map[string]any{"summary": summary}) {
		r.abandon(logger, t.ID, st)
		return
	}

	var (
		lastErr   string
		diagnosis string
		completed bool
		stopped   bool
	)

attempts:
	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		if st.stop.Load() {
			stopped = true
			break
		}
		if !emit(stream.KindAttemptStart, map[string]any{"attempt": attempt}) {
			r.abandon(logger, t.ID, st)
			return
		}

		for idx, step := range plan.Steps {
			if st.stop.Load() {
				stopped = true
				break attempts
			}
			if !emit(stream.KindStepStart, map[string]any{"index": idx, "step": stepPayload(step)}) {
				r.abandon(logger, t.ID, st)
				return
			}

			if attempt == 1 && idx == r.cfg.FailStep {
				lastErr = fmt.Sprintf("timeout waiting for selector %q", selectorOf(step))
				diagnosis = "the element did not appear; the page layout may have changed"
				if !emit(stream.KindStepError, map[string]any{
					"index":                     idx,
					"error":                     lastErr,
					"diagnosis":                 diagnosis,
					"failure_screenshot_base64": failureScreenshot,
				}) {
					r.abandon(logger, t.ID, st)
					return
				}
				if attempt < r.cfg.MaxAttempts {
					plan = planFor(t.Prompt, r.cfg.Steps, attempt+1)
					if !emit(stream.KindReplan, planPayload(plan)) {
						r.abandon(logger, t.ID, st)
						return
					}
				}
				continue attempts
			}

			if !emit(stream.KindStepResult, map[string]any{"index": idx}) {
				r.abandon(logger, t.ID, st)
				return
			}
		}

		completed = true
		break
	}

	switch {
	case completed:
		result := map[string]any{
			"goal":         plan.Goal,
			"title":        "Example Domain",
			"plan_summary": summary,
		}
		if _, err := r.store.Complete(t.ID, result); err != nil {
			logger.Error("failed to record completion", "error", err)
		}
		emit(stream.KindComplete, result)
		logger.Info("run completed")

	case stopped:
		if _, err := r.store.MarkStopped(t.ID); err != nil {
			logger.Error("failed to record stop", "error", err)
		}
		emit(stream.KindStopped, map[string]any{"reason": "user_requested"})
		logger.Info("run stopped")

	default:
		if _, err := r.store.Fail(t.ID, lastErr); err != nil {
			logger.Error("failed to record failure", "error", err)
		}
		emit(stream.KindError, map[string]any{
			"error":        lastErr,
			"diagnosis":    diagnosis,
			"plan_summary": summary,
		})
		logger.Info("run failed", "error", lastErr)
	}
}

// abandon records a run whose client went away before it finished.
func (r *Runner) abandon(logger *slog.Logger, id int64, st *run) {
	if st.stop.Load() {
		if _, err := r.store.MarkStopped(id); err != nil {
			logger.Error("failed to record stop", "error", err)
		}
		logger.Info("run stopped after client left")
		return
	}
	if _, err := r.store.Fail(id, "client disconnected"); err != nil {
		logger.Error("failed to record abandoned run", "error", err)
	}
	logger.Info("run abandoned")
}

func selectorOf(s Step) string {
	if s.Selector != "" {
		return s.Selector
	}
	return s.Action
}

func stepPayload(s Step) map[string]any {
	m := map[string]any{"action": s.Action}
	if s.URL != "" {
		m["url"] = s.URL
	}
	if s.Selector != "" {
		m["selector"] = s.Selector
	}
	if s.Text != "" {
		m["text"] = s.Text
	}
	if s.WaitMS != 0 {
		m["wait_ms"] = s.WaitMS
	}
	return m
}

func planPayload(p Plan) map[string]any {
	steps := make([]any, 0, len(p.Steps))
	for _, s := range p.Steps {
		steps = append(steps, stepPayload(s))
	}
	return map[string]any{"goal": p.Goal, "steps": steps}
}
