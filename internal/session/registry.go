package session

import (
	"sort"
	"sync"
	"time"
)

// Registry maps session ids to records behind one mutex. Getters return
// copies; callers never hold a pointer into the map.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Record
	now      func() time.Time
	observer func(Record)
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides time.Now for start and end stamps.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithObserver registers fn to receive a copy of every record whose status
// changes. fn runs after the registry lock is released.
func WithObserver(fn func(Record)) Option {
	return func(r *Registry) { r.observer = fn }
}

// NewRegistry returns an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		sessions: make(map[string]*Record),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) notify(rec *Record) {
	if r.observer != nil && rec != nil {
		r.observer(*rec)
	}
}

// Create inserts a fresh running record for id. If a running record already
// exists it is left untouched and ErrAlreadyRunning is returned. Terminal
// records with the same id are replaced.
func (r *Registry) Create(id string, cfg Config) (*Record, error) {
	r.mu.Lock()
	if cur, ok := r.sessions[id]; ok && cur.Status == StatusRunning {
		r.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	cfg.ID = id
	rec := &Record{
		ID:        id,
		Status:    StatusRunning,
		Config:    cfg,
		StartTime: r.now().UTC(),
	}
	r.sessions[id] = rec
	out := rec.clone()
	r.mu.Unlock()

	r.notify(out)
	return out, nil
}

// Get returns a copy of the record for id.
func (r *Registry) Get(id string) (*Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.clone(), nil
}

// Status returns the current status of id.
func (r *Registry) Status(id string) (Status, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.sessions[id]
	if !ok {
		return "", false
	}
	return rec.Status, true
}

// Mark sets status and error text unconditionally. Unknown ids are ignored.
func (r *Registry) Mark(id string, status Status, errMsg string) {
	r.mu.Lock()
	rec, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	rec.Status = status
	rec.Error = errMsg
	if status == StatusCompleted || status == StatusFailed {
		r.stampEnd(rec)
	}
	out := rec.clone()
	r.mu.Unlock()

	r.notify(out)
}

// Finish ends a session: a running record moves to status, a stopped record
// keeps its status and only gets its end time. It reports whether the
// status changed.
func (r *Registry) Finish(id string, status Status, errMsg string) bool {
	r.mu.Lock()
	rec, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	changed := false
	if rec.Status == StatusRunning {
		rec.Status = status
		rec.Error = errMsg
		changed = true
	}
	r.stampEnd(rec)
	out := rec.clone()
	r.mu.Unlock()

	if changed {
		r.notify(out)
	}
	return changed
}

// caller holds r.mu
func (r *Registry) stampEnd(rec *Record) {
	if rec.EndTime == nil {
		t := r.now().UTC()
		rec.EndTime = &t
	}
}

// UpdateStats adds d to the session's counters. Unknown ids are ignored.
func (r *Registry) UpdateStats(id string, d Stats) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rec, ok := r.sessions[id]; ok {
		rec.Stats = rec.Stats.Add(d)
	}
}

// Stop flips a session to stopped. Launching halts at the next check; work
// already in flight is not interrupted.
func (r *Registry) Stop(id string) error {
	r.mu.Lock()
	rec, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return ErrNotFound
	}
	changed := rec.Status != StatusStopped
	rec.Status = StatusStopped
	out := rec.clone()
	r.mu.Unlock()

	if changed {
		r.notify(out)
	}
	return nil
}

// ListIDs returns every known session id, sorted.
func (r *Registry) ListIDs() []string {
	r.mu.Lock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	sort.Strings(ids)
	return ids
}

// CountRunning returns the number of running sessions.
func (r *Registry) CountRunning() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, rec := range r.sessions {
		if rec.Status == StatusRunning {
			n++
		}
	}
	return n
}

// Evict drops ended sessions whose end time is before cutoff and returns
// how many were removed. Sessions still launching are never evicted.
func (r *Registry) Evict(cutoff time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for id, rec := range r.sessions {
		if rec.Status != StatusRunning && rec.EndTime != nil && rec.EndTime.Before(cutoff) {
			delete(r.sessions, id)
			n++
		}
	}
	return n
}

// Len returns the number of tracked sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
