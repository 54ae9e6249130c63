// Package logger provides structured logging for hivestream binaries.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/tuanbt/hivestream/internal/config"
)

// NewSystemLogger creates the main logger of a binary, writing JSON to
// stdout and to <log_directory>/<name>.log.
func NewSystemLogger(cfg *config.Config, name string) (*slog.Logger, error) {
	file, err := openLogFile(cfg, name+".log")
	if err != nil {
		return nil, err
	}

	// Multi-writer: file + stdout
	multiWriter := io.MultiWriter(os.Stdout, file)

	handler := slog.NewJSONHandler(multiWriter, &slog.HandlerOptions{
		Level: ParseLevel(cfg.LogLevel),
	})

	return slog.New(handler), nil
}

// NewEmbeddedLogger creates a logger that ONLY writes to file (for TUI embedding).
func NewEmbeddedLogger(cfg *config.Config, name string) (*slog.Logger, error) {
	file, err := openLogFile(cfg, name+".log")
	if err != nil {
		return nil, err
	}

	handler := slog.NewJSONHandler(file, &slog.HandlerOptions{
		Level: ParseLevel(cfg.LogLevel),
	})

	return slog.New(handler), nil
}

// NewTaskLogger creates a logger that records the raw events of one task.
// Returns the logger and a cleanup function to close the file.
func NewTaskLogger(cfg *config.Config, taskID int64) (*slog.Logger, func(), error) {
	file, err := openLogFile(cfg, fmt.Sprintf("task-%d.log", taskID))
	if err != nil {
		return nil, nil, err
	}

	handler := slog.NewJSONHandler(file, &slog.HandlerOptions{
		Level: ParseLevel(cfg.LogLevel),
	})

	logger := slog.New(handler).With("task_id", taskID)
	cleanup := func() { file.Close() }

	return logger, cleanup, nil
}

// NewConsoleLogger creates a simple console-only logger on stderr, keeping
// stdout free for command output.
func NewConsoleLogger(cfg *config.Config) *slog.Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: ParseLevel(cfg.LogLevel),
	})

	return slog.New(handler)
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ParseLevel converts a string log level to slog.Level.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func openLogFile(cfg *config.Config, name string) (*os.File, error) {
	if err := os.MkdirAll(cfg.LogDirectory, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	path := filepath.Join(cfg.LogDirectory, name)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return file, nil
}
