package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	flag "github.com/spf13/pflag"

	"github.com/tuanbt/hivestream/internal/auth"
	"github.com/tuanbt/hivestream/internal/client"
	"github.com/tuanbt/hivestream/internal/config"
	"github.com/tuanbt/hivestream/internal/telemetry"
)

var version = "dev"

func main() {
	configPath := flag.StringP("config", "c", "config.json", "Path to config file (.json, .yaml or .toml)")
	envFile := flag.String("env-file", ".env", "Path to a .env file with HIVE_* overrides")
	apiURL := flag.String("api", "", "Override the task API base URL")
	showVersion := flag.BoolP("version", "v", false, "Show version and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] <command> [args]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nFlags:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nCommands:\n")
		fmt.Fprintf(os.Stderr, "  tui            Run the Terminal UI (default)\n")
		fmt.Fprintf(os.Stderr, "  run            Stream a task (usage: run [--wait] <prompt>)\n")
		fmt.Fprintf(os.Stderr, "  list           List all tasks\n")
		fmt.Fprintf(os.Stderr, "  show           Show one task (usage: show <id>)\n")
		fmt.Fprintf(os.Stderr, "  stop           Stop a streaming task (usage: stop <id>)\n")
		fmt.Fprintf(os.Stderr, "  version        Show version\n")
	}

	flag.CommandLine.SetInterspersed(false)
	flag.Parse()

	if *showVersion {
		fmt.Printf("hivectl %s\n", version)
		os.Exit(0)
	}

	if err := config.LoadEnv(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.ApplyEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *apiURL != "" {
		cfg.APIBaseURL = *apiURL
	}

	// Resolve paths
	pwd, _ := os.Getwd()
	if !filepath.IsAbs(cfg.LogDirectory) {
		cfg.LogDirectory = filepath.Join(pwd, cfg.LogDirectory)
	}

	args := flag.Args()
	cmd := "tui"
	if len(args) > 0 {
		cmd = args[0]
		args = args[1:]
	}
	if cmd == "version" {
		fmt.Printf("hivectl %s\n", version)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := telemetry.Init(ctx, telemetry.FromConfig(cfg.Telemetry, version))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing telemetry: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), cfg.RequestTimeout())
		defer cancel()
		_ = shutdownTracing(flushCtx)
	}()

	if err := dispatch(ctx, cfg, cmd, args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func dispatch(ctx context.Context, cfg *config.Config, cmd string, args []string) error {
	switch cmd {
	case "tui":
		return runTUI(ctx, cfg)
	case "run":
		return handleRun(ctx, cfg, args)
	case "list", "ls":
		return handleList(ctx, cfg)
	case "show":
		return handleShow(ctx, cfg, args)
	case "stop":
		return handleStop(ctx, cfg, args)
	default:
		flag.Usage()
		return fmt.Errorf("unknown command: %s", cmd)
	}
}

// notifyContext cancels ctx on SIGINT or SIGTERM.
func notifyContext(ctx context.Context, log *slog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			log.Info("received signal, initiating shutdown", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// tokenProvider picks the credential source: a signing secret wins over a
// token file, which wins over a static token.
func tokenProvider(cfg *config.Config, log *slog.Logger) (auth.TokenProvider, func(), error) {
	switch {
	case cfg.JWTSecret != "":
		p, err := auth.NewSigningProvider(&auth.Config{
			JWTSecret:     cfg.JWTSecret,
			Subject:       cfg.JWTSubject,
			TokenDuration: cfg.TokenTTL(),
		})
		return p, func() {}, err
	case cfg.TokenFile != "":
		p, err := auth.NewFileProvider(cfg.TokenFile, log)
		if err != nil {
			return nil, nil, err
		}
		return p, func() { p.Close() }, nil
	case cfg.AuthToken != "":
		return auth.NewStaticProvider(cfg.AuthToken), func() {}, nil
	}
	return nil, nil, fmt.Errorf("no credentials: set auth_token, token_file or jwt_secret (or %s): %w",
		config.EnvToken, auth.ErrMissingToken)
}

func newClient(cfg *config.Config, log *slog.Logger) (*client.Client, func(), error) {
	tokens, closeTokens, err := tokenProvider(cfg, log)
	if err != nil {
		return nil, nil, err
	}
	c, err := client.New(client.Options{
		BaseURL:        cfg.APIBaseURL,
		Tokens:         tokens,
		Timeout:        cfg.RequestTimeout(),
		AcceptEncoding: cfg.AcceptEncoding,
		Logger:         log,
	})
	if err != nil {
		closeTokens()
		return nil, nil, err
	}
	return c, closeTokens, nil
}
