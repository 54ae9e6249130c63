package stubserver

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/tuanbt/hivestream/internal/stream"
	"github.com/tuanbt/hivestream/internal/task"
)

// zstdEncoder is shared; EncodeAll is safe for concurrent use.
var zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))

type promptRequest struct {
	Prompt string `json:"prompt"`
}

func (s *Server) registerRoutes(authn gin.HandlerFunc) {
	tasks := s.router.Group("/tasks", authn)

	tasks.GET("", s.listTasks)
	tasks.GET("/:id", s.getTask)
	tasks.POST("/run", s.runTask)
	tasks.POST("/stream", s.streamTask)
	tasks.POST("/stop/:id", s.stopTask)

	s.router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}

func (s *Server) listTasks(c *gin.Context) {
	respondJSON(c, http.StatusOK, s.store.List())
}

func (s *Server) getTask(c *gin.Context) {
	id, ok := taskID(c)
	if !ok {
		return
	}
	t, err := s.store.Get(id)
	if err != nil {
		respondJSON(c, http.StatusNotFound, gin.H{"error": "Task not found"})
		return
	}
	respondJSON(c, http.StatusOK, t)
}

// runTask plays the whole script before answering.
func (s *Server) runTask(c *gin.Context) {
	prompt, ok := bindPrompt(c)
	if !ok {
		return
	}
	t, err := s.store.Create(prompt)
	if err != nil {
		serverError(c, err)
		return
	}

	events := make(chan stream.Event)
	go s.runner.Run(c.Request.Context(), t, events)
	for range events {
	}

	t, err = s.store.Get(t.ID)
	if err != nil {
		serverError(c, err)
		return
	}
	status := http.StatusOK
	if t.Status == task.StatusFailed {
		status = http.StatusBadRequest
	}
	respondJSON(c, status, t)
}

func (s *Server) streamTask(c *gin.Context) {
	prompt, ok := bindPrompt(c)
	if !ok {
		return
	}
	t, err := s.store.Create(prompt)
	if err != nil {
		serverError(c, err)
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	events := make(chan stream.Event)
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.runner.Run(ctx, t, events)
	}()

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent(string(ev.Kind), ev.Payload)
			return true
		case <-ctx.Done():
			return false
		}
	})

	cancel()
	<-done
}

func (s *Server) stopTask(c *gin.Context) {
	id, ok := taskID(c)
	if !ok {
		return
	}
	if !s.runner.RequestStop(id) {
		respondJSON(c, http.StatusNotFound, gin.H{"error": "Task session not found"})
		return
	}
	s.logger.Info("stop requested", "task_id", id)
	respondJSON(c, http.StatusOK, gin.H{"status": "stopping"})
}

func taskID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id < 1 {
		respondJSON(c, http.StatusNotFound, gin.H{"error": "Task not found"})
		return 0, false
	}
	return id, true
}

func bindPrompt(c *gin.Context) (string, bool) {
	var req promptRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Prompt) == "" {
		respondJSON(c, http.StatusBadRequest, gin.H{"error": "prompt is required"})
		return "", false
	}
	return req.Prompt, true
}

func serverError(c *gin.Context, err error) {
	_ = c.Error(err)
	respondJSON(c, http.StatusInternalServerError, gin.H{"error": "internal server error"})
}

// respondJSON writes v, compressed with the best encoding the client
// accepts.
func respondJSON(c *gin.Context, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}

	switch negotiate(c.GetHeader("Accept-Encoding")) {
	case "zstd":
		body = zstdEncoder.EncodeAll(body, nil)
		c.Header("Content-Encoding", "zstd")
	case "gzip":
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(body); err == nil && zw.Close() == nil {
			body = buf.Bytes()
			c.Header("Content-Encoding", "gzip")
		}
	}
	c.Header("Vary", "Accept-Encoding")
	c.Data(status, "application/json", body)
}

func negotiate(header string) string {
	var gz bool
	for _, part := range strings.Split(header, ",") {
		name, _, _ := strings.Cut(strings.TrimSpace(part), ";")
		switch strings.ToLower(name) {
		case "zstd":
			return "zstd"
		case "gzip":
			gz = true
		}
	}
	if gz {
		return "gzip"
	}
	return ""
}
