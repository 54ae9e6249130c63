package task

import (
	"errors"
	"sort"
	"sync"

	"github.com/tuanbt/hivestream/internal/stream"
)

var (
	// ErrBindingClosed is returned when appending through a finished binding.
	ErrBindingClosed = errors.New("binding closed")

	// ErrAlreadyBound is returned when a binding is bound twice.
	ErrAlreadyBound = errors.New("binding already bound")
)

// Registry owns every task log of a client session plus the merged REST
// snapshots. Logs are created on bind and never evicted.
type Registry struct {
	mu        sync.Mutex
	logs      map[int64]*Log
	snapshots map[int64]Snapshot

	active    int64
	hasActive bool

	// selections counts explicit Select calls; a binding compares it with
	// the value seen at BeginPending to tell whether the user navigated.
	selections uint64
	pending    map[*Binding]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		logs:      make(map[int64]*Log),
		snapshots: make(map[int64]Snapshot),
		pending:   make(map[*Binding]struct{}),
	}
}

// BeginPending records that a submission is in flight whose id is not yet
// known. Events of that submission must be appended through the returned
// binding.
func (r *Registry) BeginPending() *Binding {
	r.mu.Lock()
	defer r.mu.Unlock()

	b := &Binding{reg: r, mark: r.selections}
	r.pending[b] = struct{}{}
	return b
}

// Pending returns the number of submissions still waiting for their id.
func (r *Registry) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Select makes id the active task.
func (r *Registry) Select(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.active = id
	r.hasActive = true
	r.selections++
}

// Active returns the id the user is currently looking at.
func (r *Registry) Active() (int64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active, r.hasActive
}

// Log returns the log for id, if a stream was ever bound to it.
func (r *Registry) Log(id int64) (*Log, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.logs[id]
	return l, ok
}

// IDs returns every known task id, live or from snapshots, newest first.
func (r *Registry) IDs() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[int64]struct{}, len(r.logs)+len(r.snapshots))
	ids := make([]int64, 0, len(r.logs)+len(r.snapshots))
	for id := range r.logs {
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	for id := range r.snapshots {
		if _, ok := seen[id]; !ok {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] > ids[j] })
	return ids
}

// PutSnapshot stores the latest REST snapshot for a task, replacing any
// earlier one.
func (r *Registry) PutSnapshot(s Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots[s.ID] = s
}

// Snapshot returns the stored snapshot for id.
func (r *Registry) Snapshot(id int64) (Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.snapshots[id]
	return s, ok
}

// MarkLocalFailure records a client-side failure against the task's log.
// It does nothing for tasks without a log.
func (r *Registry) MarkLocalFailure(id int64, reason string) {
	if l, ok := r.Log(id); ok {
		l.setLocalEnd(LocalEnd{Status: StatusFailed, Reason: reason})
	}
}

// MarkLocalStop records that the client stopped the task's stream.
func (r *Registry) MarkLocalStop(id int64, reason string) {
	if l, ok := r.Log(id); ok {
		l.setLocalEnd(LocalEnd{Status: StatusStopped, Reason: reason})
	}
}

func (r *Registry) bind(b *Binding, id int64) *Log {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.logs[id]
	if !ok {
		l = newLog(id)
		r.logs[id] = l
	}
	delete(r.pending, b)

	if r.selections == b.mark {
		r.active = id
		r.hasActive = true
	}
	return l
}

func (r *Registry) release(b *Binding) {
	r.mu.Lock()
	delete(r.pending, b)
	r.mu.Unlock()
}

// Binding routes the events of one stream into the log of the task the
// stream announced. It captures the log at bind time, so later selection
// changes never redirect its events.
type Binding struct {
	reg  *Registry
	mark uint64

	mu     sync.Mutex
	log    *Log
	early  []stream.Event
	closed bool
}

// Bind attaches the binding to id and flushes events held back so far.
func (b *Binding) Bind(id int64) (*Log, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBindingClosed
	}
	if b.log != nil {
		return nil, ErrAlreadyBound
	}
	b.bindLocked(id)
	return b.log, nil
}

func (b *Binding) bindLocked(id int64) {
	b.log = b.reg.bind(b, id)
	for _, ev := range b.early {
		b.log.Append(ev)
	}
	b.early = nil
}

// Append routes one event. The first task event binds the stream; events
// that arrive before it are held and flushed on bind. It reports whether
// this call performed the bind.
func (b *Binding) Append(ev stream.Event) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return false, ErrBindingClosed
	}

	if b.log == nil {
		id, ok := ev.TaskID()
		if !ok {
			b.early = append(b.early, ev)
			return false, nil
		}
		b.early = append(b.early, ev)
		b.bindLocked(id)
		return true, nil
	}

	b.log.Append(ev)
	return false, nil
}

// TaskID returns the bound id.
func (b *Binding) TaskID() (int64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.log == nil {
		return 0, false
	}
	return b.log.TaskID(), true
}

// Close stops the binding from accepting events. An unbound binding drops
// its held events and clears its pending marker.
func (b *Binding) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	b.early = nil
	if b.log == nil {
		b.reg.release(b)
	}
}
