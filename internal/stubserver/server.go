// Package stubserver is a local stand-in for the agent task API. It serves
// the REST and streaming endpoints with scripted agent runs, so the client
// can be exercised without a browser agent behind it.
package stubserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tuanbt/hivestream/internal/auth"
	"github.com/tuanbt/hivestream/internal/config"
	"github.com/tuanbt/hivestream/internal/task"
)

const shutdownTimeout = 5 * time.Second

// Server is the stub task API.
type Server struct {
	router *gin.Engine
	store  *Store
	runner *Runner
	logger *slog.Logger
	cfg    *config.Config
}

// New creates a server backed by store. Requests must carry a token the
// configured secret or static hash accepts; with neither configured the
// API is open.
func New(cfg *config.Config, store *Store, logger *slog.Logger) *Server {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(logger))

	s := &Server{
		router: r,
		store:  store,
		logger: logger,
		cfg:    cfg,
		runner: NewRunner(store, ScriptConfig{
			Steps:       cfg.Stub.Steps,
			FailStep:    cfg.Stub.FailStep,
			MaxAttempts: cfg.Stub.MaxAttempts,
			StepDelay:   cfg.StepDelay(),
		}, logger),
	}

	validator := auth.NewValidator(&auth.Config{
		JWTSecret:       cfg.JWTSecret,
		StaticTokenHash: cfg.Stub.StaticTokenHash,
	})
	s.registerRoutes(auth.Middleware(validator))
	return s
}

// Engine returns the gin engine.
func (s *Server) Engine() *gin.Engine { return s.router }

// Runner returns the script runner.
func (s *Server) Runner() *Runner { return s.runner }

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	s.logger.Info("stub server listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down stub server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("shutdown timeout, forcing exit", "error", err)
		return srv.Close()
	}

	counts := s.store.CountByStatus()
	s.logger.Info("final task status",
		"running", counts[task.StatusRunning],
		"completed", counts[task.StatusCompleted],
		"failed", counts[task.StatusFailed],
		"stopped", counts[task.StatusStopped],
	)
	return nil
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"request_id", c.GetHeader("X-Request-ID"),
			"client_session", c.GetHeader("X-Client-Session"),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}
