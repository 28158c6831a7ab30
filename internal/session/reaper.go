package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var sessionsEvicted = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "faucetd",
	Subsystem: "sessions",
	Name:      "evicted_total",
	Help:      "Ended sessions removed from the registry after their retention period.",
})

func init() {
	prometheus.MustRegister(sessionsEvicted)
}

// DefaultTTL is how long ended sessions stay queryable.
const DefaultTTL = 24 * time.Hour

// Reaper periodically evicts ended sessions older than the TTL so a
// long-running process does not accumulate records forever.
type Reaper struct {
	registry *Registry
	ttl      time.Duration
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger
	stop     chan struct{}
	stopOnce sync.Once
	running  atomic.Bool
}

// NewReaper creates a reaper sweeping every ttl/24 (at least one minute).
func NewReaper(registry *Registry, ttl time.Duration, logger *slog.Logger) *Reaper {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	interval := ttl / 24
	if interval < time.Minute {
		interval = time.Minute
	}
	return &Reaper{
		registry: registry,
		ttl:      ttl,
		interval: interval,
		now:      time.Now,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Running reports whether the sweep loop is active.
func (r *Reaper) Running() bool {
	return r.running.Load()
}

// Start runs the sweep loop until ctx ends or Stop is called. Call in a goroutine.
func (r *Reaper) Start(ctx context.Context) {
	r.running.Store(true)
	defer r.running.Store(false)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stop:
			return
		case <-ticker.C:
			r.safeSweep()
		}
	}
}

// Stop signals the loop to exit. Safe to call more than once.
func (r *Reaper) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
}

func (r *Reaper) safeSweep() {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("panic in session reaper", "panic", fmt.Sprint(p))
		}
	}()
	r.Sweep()
}

// Sweep evicts once and returns the number of sessions removed.
func (r *Reaper) Sweep() int {
	n := r.registry.Evict(r.now().Add(-r.ttl))
	if n > 0 {
		sessionsEvicted.Add(float64(n))
		r.logger.Info("evicted ended sessions", "count", n, "ttl", r.ttl)
	}
	return n
}
