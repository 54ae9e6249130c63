package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	flag "github.com/spf13/pflag"

	"github.com/tuanbt/hivestream/internal/auth"
	"github.com/tuanbt/hivestream/internal/config"
	"github.com/tuanbt/hivestream/internal/logger"
	"github.com/tuanbt/hivestream/internal/stubserver"
	"github.com/tuanbt/hivestream/internal/telemetry"
)

var (
	version = "dev"
)

func main() {
	// Command-line flags
	configPath := flag.StringP("config", "c", "config.json", "Path to config file")
	envFile := flag.String("env-file", ".env", "Path to a .env file with HIVE_* overrides")
	listen := flag.StringP("listen", "l", "", "Override stub.listen_addr")
	failStep := flag.Int("fail-step", -2, "Override stub.fail_step (-1 disables failures)")
	hashToken := flag.String("hash-token", "", "Print the bcrypt hash of a token for stub.static_token_hash and exit")
	showVersion := flag.BoolP("version", "v", false, "Show version and exit")
	flag.Parse()

	// Show version
	if *showVersion {
		fmt.Printf("hive-stub %s\n", version)
		os.Exit(0)
	}

	if *hashToken != "" {
		hash, err := auth.HashStaticToken(*hashToken)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error hashing token: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(hash)
		return
	}

	// Load configuration
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

	if *listen != "" {
		cfg.Stub.ListenAddr = *listen
	}
	if *failStep > -2 {
		cfg.Stub.FailStep = *failStep
	}

	pwd, _ := os.Getwd()
	if !filepath.IsAbs(cfg.LogDirectory) {
		cfg.LogDirectory = filepath.Join(pwd, cfg.LogDirectory)
	}

	// Create logger
	log, err := logger.NewSystemLogger(cfg, "hive-stub")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}

	log.Info("starting hive-stub",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Stub.ListenAddr,
		"auth", cfg.JWTSecret != "" || cfg.Stub.StaticTokenHash != "",
	)

	// Setup context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := telemetry.Init(ctx, telemetry.FromConfig(cfg.Telemetry, version))
	if err != nil {
		log.Error("failed to initialize telemetry", "error", err)
		os.Exit(1)
	}
	defer shutdownTracing(context.Background())

	store, err := stubserver.NewStore(cfg.Stub.TasksFile)
	if err != nil {
		log.Error("failed to open task store", "error", err)
		os.Exit(1)
	}
	if n, err := store.RecoverRunning(); err != nil {
		log.Error("failed to recover tasks", "error", err)
		os.Exit(1)
	} else if n > 0 {
		log.Warn("marked interrupted tasks as failed", "count", n)
	}

	// Setup signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Info("received signal, initiating shutdown", "signal", sig)
		cancel()
	}()

	srv := stubserver.New(cfg, store, log)
	if err := srv.ListenAndServe(ctx, cfg.Stub.ListenAddr); err != nil {
		log.Error("stub server error", "error", err)
		os.Exit(1)
	}

	log.Info("hive-stub exited")
}
