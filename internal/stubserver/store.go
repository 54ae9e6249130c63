package stubserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/tuanbt/hivestream/internal/task"
)

// ErrTaskNotFound is returned for an unknown task id.
var ErrTaskNotFound = errors.New("task not found")

// Store holds task records, optionally persisted to a JSON file.
type Store struct {
	filePath string

	mu     sync.RWMutex
	tasks  map[int64]task.Snapshot
	nextID int64
	now    func() time.Time
}

// NewStore creates a store. With a non-empty filePath, existing records are
// loaded from it and every change is written back.
func NewStore(filePath string) (*Store, error) {
	s := &Store{
		filePath: filePath,
		tasks:    make(map[int64]task.Snapshot),
		nextID:   1,
		now:      func() time.Time { return time.Now().UTC() },
	}
	if filePath == "" {
		return s, nil
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read tasks file: %w", err)
	}

	var tasks []task.Snapshot
	if err := json.Unmarshal(data, &tasks); err != nil {
		return fmt.Errorf("failed to parse tasks file: %w", err)
	}
	for _, t := range tasks {
		s.tasks[t.ID] = t
		if t.ID >= s.nextID {
			s.nextID = t.ID + 1
		}
	}
	return nil
}

// saveLocked writes all records (caller must hold the lock).
func (s *Store) saveLocked() error {
	if s.filePath == "" {
		return nil
	}

	data, err := json.MarshalIndent(s.listLocked(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal tasks: %w", err)
	}

	if dir := filepath.Dir(s.filePath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}

	// Write to temp file first, then rename (atomic)
	tmpPath := s.filePath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.filePath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// Create records a new running task.
func (s *Store) Create(prompt string) (task.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := task.Timestamp{Time: s.now()}
	t := task.Snapshot{
		ID:        s.nextID,
		Prompt:    prompt,
		Status:    task.StatusRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.nextID++
	s.tasks[t.ID] = t
	return t, s.saveLocked()
}

// Complete marks a task completed with result.
func (s *Store) Complete(id int64, result map[string]any) (task.Snapshot, error) {
	return s.update(id, func(t *task.Snapshot) {
		t.Status = task.StatusCompleted
		t.Result = result
		t.Error = ""
	})
}

// Fail marks a task failed.
func (s *Store) Fail(id int64, reason string) (task.Snapshot, error) {
	return s.update(id, func(t *task.Snapshot) {
		t.Status = task.StatusFailed
		t.Error = reason
	})
}

// MarkStopped marks a task stopped on request.
func (s *Store) MarkStopped(id int64) (task.Snapshot, error) {
	return s.update(id, func(t *task.Snapshot) {
		t.Status = task.StatusStopped
	})
}

func (s *Store) update(id int64, fn func(*task.Snapshot)) (task.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return task.Snapshot{}, fmt.Errorf("%w: %d", ErrTaskNotFound, id)
	}
	fn(&t)
	t.UpdatedAt = task.Timestamp{Time: s.now()}
	s.tasks[id] = t
	return t, s.saveLocked()
}

// Get returns one task.
func (s *Store) Get(id int64) (task.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tasks[id]
	if !ok {
		return task.Snapshot{}, fmt.Errorf("%w: %d", ErrTaskNotFound, id)
	}
	return t, nil
}

// List returns every task, newest first.
func (s *Store) List() []task.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listLocked()
}

func (s *Store) listLocked() []task.Snapshot {
	out := make([]task.Snapshot, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt.Time) {
			return out[i].CreatedAt.After(out[j].CreatedAt.Time)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

// RecoverRunning fails tasks left running by a previous process. Returns
// the number of tasks changed.
func (s *Store) RecoverRunning() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for id, t := range s.tasks {
		if t.Status.IsActive() {
			t.Status = task.StatusFailed
			t.Error = "interrupted by server restart"
			t.UpdatedAt = task.Timestamp{Time: s.now()}
			s.tasks[id] = t
			count++
		}
	}
	if count == 0 {
		return 0, nil
	}
	return count, s.saveLocked()
}

// CountByStatus returns counts of tasks by status.
func (s *Store) CountByStatus() map[task.Status]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[task.Status]int)
	for _, t := range s.tasks {
		counts[t.Status]++
	}
	return counts
}
