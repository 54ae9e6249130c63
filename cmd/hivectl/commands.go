package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	flag "github.com/spf13/pflag"

	"github.com/tuanbt/hivestream/cmd/hivectl/tui"
	"github.com/tuanbt/hivestream/internal/config"
	"github.com/tuanbt/hivestream/internal/console"
	"github.com/tuanbt/hivestream/internal/logger"
	"github.com/tuanbt/hivestream/internal/task"
	"github.com/tuanbt/hivestream/internal/view"
)

func runTUI(ctx context.Context, cfg *config.Config) error {
	// stdout belongs to the terminal UI
	log, err := logger.NewEmbeddedLogger(cfg, "hivectl")
	if err != nil {
		return err
	}

	c, closeTokens, err := newClient(cfg, log)
	if err != nil {
		return err
	}
	defer closeTokens()

	con := console.New(cfg, c, log)
	if err := con.Start(ctx); err != nil {
		return err
	}
	defer con.Shutdown()

	log.Info("starting hivectl", "version", version, "api_base_url", cfg.APIBaseURL, "client_session", c.SessionID())

	p := tea.NewProgram(tui.New(con), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("error running hivectl: %w", err)
	}
	return nil
}

func handleRun(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	wait := fs.BoolP("wait", "w", false, "Run without streaming and print the final task")
	fs.Parse(args)

	prompt := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if prompt == "" {
		return fmt.Errorf("usage: run [--wait] <prompt>")
	}

	log := logger.NewConsoleLogger(cfg)
	c, closeTokens, err := newClient(cfg, log)
	if err != nil {
		return err
	}
	defer closeTokens()

	ctx, cancel := notifyContext(ctx, log)
	defer cancel()

	if *wait {
		snap, err := c.RunTask(ctx, prompt)
		if err != nil {
			return err
		}
		printState(os.Stdout, view.Project(snap.ID, nil, task.LocalEnd{}, &snap))
		return nil
	}

	con := console.New(cfg, c, log)
	if err := con.Start(context.Background()); err != nil {
		return err
	}
	defer con.Shutdown()

	// The stream outlives ctx so a signal can stop the task cleanly.
	s, err := con.Submit(context.Background(), prompt)
	if err != nil {
		return err
	}
	return followSession(ctx, cfg.RequestTimeout(), con, s, os.Stdout)
}

// runView is the part of the console a foreground run reads.
type runView interface {
	Updates() <-chan console.Update
	ViewOf(id int64) view.State
	Stop(ctx context.Context) error
}

// runSession is the part of a session a foreground run waits on.
type runSession interface {
	TaskID() (int64, bool)
	Done() <-chan struct{}
	Err() error
}

// followSession prints transcript lines as they arrive until the session
// ends. Cancelling ctx stops the task on the server first.
func followSession(ctx context.Context, stopTimeout time.Duration, con runView, s runSession, out io.Writer) error {
	printed := 0
	flush := func() {
		id, ok := s.TaskID()
		if !ok {
			return
		}
		st := con.ViewOf(id)
		for ; printed < len(st.Transcript); printed++ {
			fmt.Fprintln(out, st.Transcript[printed])
		}
	}

	cancelled := ctx.Done()
	for {
		select {
		case <-con.Updates():
			flush()
		case <-s.Done():
			flush()
			return finishRun(con, s, out)
		case <-cancelled:
			// Stop once; a nil channel never fires again.
			cancelled = nil
			fmt.Fprintln(os.Stderr, "stopping task...")
			go func() {
				stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
				defer cancel()
				_ = con.Stop(stopCtx)
			}()
		}
	}
}

func finishRun(con runView, s runSession, out io.Writer) error {
	id, ok := s.TaskID()
	if !ok {
		if err := s.Err(); err != nil {
			return err
		}
		return fmt.Errorf("stream ended before a task id was assigned")
	}

	st := con.ViewOf(id)
	fmt.Fprintln(out)
	printResult(out, st)

	switch {
	case s.Err() != nil:
		return fmt.Errorf("task %d: %w", id, s.Err())
	case st.Status == task.StatusFailed:
		return fmt.Errorf("task %d failed", id)
	}
	return nil
}

func handleList(ctx context.Context, cfg *config.Config) error {
	log := logger.NewConsoleLogger(cfg)
	c, closeTokens, err := newClient(cfg, log)
	if err != nil {
		return err
	}
	defer closeTokens()

	tasks, err := c.ListTasks(ctx)
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		fmt.Println("No tasks found.")
		return nil
	}

	fmt.Printf("%-6s %-40s %-10s %-20s\n", "ID", "PROMPT", "STATUS", "CREATED")
	fmt.Println(strings.Repeat("-", 80))
	for _, t := range tasks {
		created := ""
		if !t.CreatedAt.IsZero() {
			created = t.CreatedAt.Local().Format(time.DateTime)
		}
		fmt.Printf("%-6d %-40.40s %-10s %-20s\n", t.ID, t.Prompt, t.Status, created)
	}
	return nil
}

func handleShow(ctx context.Context, cfg *config.Config, args []string) error {
	id, err := parseID("show", args)
	if err != nil {
		return err
	}

	log := logger.NewConsoleLogger(cfg)
	c, closeTokens, err := newClient(cfg, log)
	if err != nil {
		return err
	}
	defer closeTokens()

	snap, err := c.GetTask(ctx, id)
	if err != nil {
		return err
	}
	printState(os.Stdout, view.Project(snap.ID, nil, task.LocalEnd{}, &snap))
	return nil
}

func handleStop(ctx context.Context, cfg *config.Config, args []string) error {
	id, err := parseID("stop", args)
	if err != nil {
		return err
	}

	log := logger.NewConsoleLogger(cfg)
	c, closeTokens, err := newClient(cfg, log)
	if err != nil {
		return err
	}
	defer closeTokens()

	if err := c.StopTask(ctx, id); err != nil {
		return err
	}
	fmt.Printf("Task %d stopping\n", id)
	return nil
}

func parseID(cmd string, args []string) (int64, error) {
	if len(args) < 1 {
		return 0, fmt.Errorf("usage: %s <id>", cmd)
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || id < 1 {
		return 0, fmt.Errorf("invalid task id %q", args[0])
	}
	return id, nil
}

func printState(w io.Writer, st view.State) {
	fmt.Fprintf(w, "Task %d\n", st.TaskID)
	if st.Prompt != "" {
		fmt.Fprintf(w, "Prompt:  %s\n", st.Prompt)
	}
	printResult(w, st)
}

func printResult(w io.Writer, st view.State) {
	if st.PlanSummary != "" {
		fmt.Fprintf(w, "Plan:    %s\n", st.PlanSummary)
	}
	for _, k := range []string{"title", "goal", "feedback", "error", "diagnosis"} {
		if v, ok := st.LatestResult[k].(string); ok && v != "" {
			fmt.Fprintf(w, "%-8s %s\n", strings.ToUpper(k[:1])+k[1:]+":", v)
		}
	}
	if st.HasFailureScreenshot() {
		fmt.Fprintln(w, "A failure screenshot was captured.")
	}
	if st.LocalError != "" {
		fmt.Fprintf(w, "Connection lost: %s\n", st.LocalError)
	}
	fmt.Fprintf(w, "Status:  %s\n", st.Status)
}
