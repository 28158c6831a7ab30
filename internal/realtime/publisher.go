package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultStatsInterval is how often stats_update is pushed.
const DefaultStatsInterval = 5 * time.Second

// StatsPublisher pushes a fresh stats snapshot to every client on a fixed
// interval.
type StatsPublisher struct {
	hub      *Hub
	source   Snapshot
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	stopOnce sync.Once
	running  atomic.Bool
}

// NewStatsPublisher creates a publisher. It does nothing until Start.
func NewStatsPublisher(hub *Hub, source Snapshot, interval time.Duration, logger *slog.Logger) *StatsPublisher {
	if interval <= 0 {
		interval = DefaultStatsInterval
	}
	return &StatsPublisher{
		hub:      hub,
		source:   source,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Running reports whether the publish loop is active.
func (p *StatsPublisher) Running() bool {
	return p.running.Load()
}

// Start publishes until ctx ends or Stop is called. Call in a goroutine.
func (p *StatsPublisher) Start(ctx context.Context) {
	p.running.Store(true)
	defer p.running.Store(false)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stop:
			return
		case <-ticker.C:
			p.publish(ctx)
		}
	}
}

// Stop signals the loop to exit. Safe to call more than once.
func (p *StatsPublisher) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
}

func (p *StatsPublisher) publish(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("panic in stats publisher", "panic", fmt.Sprint(r))
		}
	}()

	data, err := p.source(ctx)
	if err != nil {
		p.logger.Warn("stats snapshot failed", "error", err)
		return
	}
	p.hub.Publish(EventStatsUpdate, data)
}
