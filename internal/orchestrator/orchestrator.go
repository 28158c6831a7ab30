// Package orchestrator runs claim sessions: it fans claim attempts out in
// bounded batches, paces launches, and hands every finished batch to the
// Aggregator.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/mbd888/faucetd/internal/catalog"
	"github.com/mbd888/faucetd/internal/claim"
	"github.com/mbd888/faucetd/internal/idgen"
	"github.com/mbd888/faucetd/internal/logging"
	"github.com/mbd888/faucetd/internal/realtime"
	"github.com/mbd888/faucetd/internal/rotator"
	"github.com/mbd888/faucetd/internal/session"
	"github.com/mbd888/faucetd/internal/traces"
)

// Defaults for batch sizing and launch pacing.
const (
	DefaultBatchSize      = 50
	DefaultLaunchInterval = 100 * time.Millisecond
)

// ErrShuttingDown is returned by Start after Close.
var ErrShuttingDown = errors.New("orchestrator: shutting down")

// Publisher receives session events for push listeners.
type Publisher interface {
	Publish(eventType realtime.EventType, data any)
}

// StartResult acknowledges a started session.
type StartResult struct {
	SessionID          string `json:"session_id"`
	Status             string `json:"status"`
	WorkerMultiplicity int    `json:"session_count"`
	Message            string `json:"message"`
}

// Orchestrator owns the goroutines of every running session.
type Orchestrator struct {
	registry   *session.Registry
	catalog    *catalog.Catalog
	worker     *claim.Worker
	aggregator *Aggregator

	rotator        *rotator.Rotator
	solver         claim.Solver
	events         Publisher
	batchSize      int
	launchInterval time.Duration
	logger         *slog.Logger

	root   context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithRotator routes launches of resource-rotating sessions through r.
func WithRotator(r *rotator.Rotator) Option { return func(o *Orchestrator) { o.rotator = r } }

// WithSolver hands CAPTCHA images of captcha-solving sessions to s.
func WithSolver(s claim.Solver) Option { return func(o *Orchestrator) { o.solver = s } }

// WithPublisher sends batch events to p.
func WithPublisher(p Publisher) Option { return func(o *Orchestrator) { o.events = p } }

// WithBatchSize bounds how many attempts a session has in flight.
func WithBatchSize(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.batchSize = n
		}
	}
}

// WithLaunchInterval sets the minimum gap between launches within a
// session. Zero disables pacing.
func WithLaunchInterval(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d >= 0 {
			o.launchInterval = d
		}
	}
}

func WithLogger(l *slog.Logger) Option { return func(o *Orchestrator) { o.logger = l } }

// New creates an orchestrator. Close must be called to release it.
func New(registry *session.Registry, cat *catalog.Catalog, worker *claim.Worker, agg *Aggregator, opts ...Option) *Orchestrator {
	root, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		registry:       registry,
		catalog:        cat,
		worker:         worker,
		aggregator:     agg,
		batchSize:      DefaultBatchSize,
		launchInterval: DefaultLaunchInterval,
		logger:         slog.Default(),
		root:           root,
		cancel:         cancel,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Start validates cfg, registers the session and launches its loop in the
// background. The record exists when Start returns, so a second Start with
// the same id fails with session.ErrAlreadyRunning.
func (o *Orchestrator) Start(ctx context.Context, cfg session.Config) (*StartResult, error) {
	if cfg.ID == "" {
		cfg.ID = idgen.New()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil, ErrShuttingDown
	}

	rec, err := o.registry.Create(cfg.ID, cfg)
	if err != nil {
		return nil, err
	}
	sessionsStarted.Inc()

	o.wg.Add(1)
	go o.run(rec)

	logging.L(ctx).Info("session started",
		"session_id", rec.ID, "session_count", cfg.WorkerMultiplicity, "sites", len(o.catalog.Active()))

	return &StartResult{
		SessionID:          rec.ID,
		Status:             "started",
		WorkerMultiplicity: cfg.WorkerMultiplicity,
		Message:            fmt.Sprintf("Started %d claiming sessions", cfg.WorkerMultiplicity),
	}, nil
}

// Wait blocks until every session loop has exited.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Close stops new sessions, cancels launching in running ones and waits for
// their loops to exit or ctx to end. Interrupted sessions end failed.
func (o *Orchestrator) Close(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	o.cancel()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) run(rec *session.Record) {
	defer o.wg.Done()

	id := rec.ID
	ctx := logging.WithSessionID(logging.WithLogger(o.root, o.logger), id)
	ctx, span := traces.StartSpan(ctx, "orchestrator.session",
		traces.SessionID(id), traces.BatchSize(o.batchSize))
	defer span.End()

	status, errMsg := o.loop(ctx, rec.Config)
	if errMsg != "" {
		span.SetStatus(codes.Error, errMsg)
	}

	o.registry.Finish(id, status, errMsg)
	final, _ := o.registry.Status(id)
	sessionsFinished.WithLabelValues(string(final)).Inc()
	logging.L(ctx).Info("session finished", "status", final, "error", errMsg)
}

// loop returns the status the session should finish with.
func (o *Orchestrator) loop(ctx context.Context, cfg session.Config) (status session.Status, errMsg string) {
	b := &batch{o: o, sessionID: cfg.ID}
	defer func() {
		if r := recover(); r != nil {
			status, errMsg = session.StatusFailed, fmt.Sprintf("panic: %v", r)
			logging.L(ctx).Error("session loop panicked", "panic", r)
			b.drain(ctx)
		}
	}()

	status, errMsg = o.launchAll(ctx, cfg, b)
	// Whatever was already launched still gets recorded.
	b.flush(ctx)
	return status, errMsg
}

func (o *Orchestrator) launchAll(ctx context.Context, cfg session.Config, b *batch) (session.Status, string) {
	worker := o.worker
	if cfg.CaptchaSolving && o.solver != nil {
		worker = worker.WithSolver(o.solver)
	}
	pacer := o.pacer()
	sites := o.catalog.Active()

	for slot := 0; slot < cfg.WorkerMultiplicity; slot++ {
		for _, site := range sites {
			if st, ok := o.registry.Status(cfg.ID); !ok || st != session.StatusRunning {
				return session.StatusStopped, ""
			}
			if err := pacer.Wait(ctx); err != nil {
				return session.StatusFailed, err.Error()
			}

			resource := ""
			if cfg.ProxyEnabled && o.rotator != nil {
				resource = o.rotator.Next()
			}
			b.launch(ctx, worker, site, resource)
			if b.size() >= o.batchSize {
				b.flush(ctx)
			}
		}
	}
	return session.StatusCompleted, ""
}

func (o *Orchestrator) pacer() *rate.Limiter {
	if o.launchInterval <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(o.launchInterval), 1)
}

// batch is the group of attempts currently in flight for one session.
type batch struct {
	o         *Orchestrator
	sessionID string
	group     *errgroup.Group
	outcomes  []claim.Outcome
	started   time.Time
}

func (b *batch) size() int { return len(b.outcomes) }

func (b *batch) launch(ctx context.Context, w *claim.Worker, site catalog.FaucetSite, resource string) {
	if b.group == nil {
		b.group = new(errgroup.Group)
		b.outcomes = make([]claim.Outcome, 0, b.o.batchSize)
		b.started = time.Now()
	}
	i := len(b.outcomes)
	b.outcomes = append(b.outcomes, claim.Outcome{Site: site.Name, Status: claim.StatusFailed})
	slot := &b.outcomes[i]

	claimsInFlight.Inc()
	b.group.Go(func() error {
		defer claimsInFlight.Dec()
		defer func() {
			if r := recover(); r != nil {
				*slot = claim.Outcome{Site: site.Name, Status: claim.StatusFailed, Error: fmt.Sprintf("panic: %v", r)}
			}
		}()
		*slot = w.Attempt(ctx, site, resource)
		return nil
	})
}

// drain flushes after a panic, swallowing a second one.
func (b *batch) drain(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			logging.L(ctx).Error("dropping batch after repeated panic", "panic", r)
		}
	}()
	b.flush(ctx)
}

// flush awaits every attempt in the batch and aggregates the outcomes.
// Aggregation runs detached from cancellation so results of attempts
// interrupted by shutdown are still written.
func (b *batch) flush(ctx context.Context) {
	if b.group == nil {
		return
	}
	_ = b.group.Wait()
	outcomes := b.outcomes
	elapsed := time.Since(b.started)
	b.group, b.outcomes = nil, nil

	batchDuration.Observe(elapsed.Seconds())
	actx, span := traces.StartSpan(context.WithoutCancel(ctx), "orchestrator.batch",
		traces.SessionID(b.sessionID), traces.BatchSize(len(outcomes)))
	res := b.o.aggregator.Process(actx, b.sessionID, outcomes)
	span.End()

	logging.L(ctx).Debug("batch aggregated",
		"claims", res.Claims, "successful", res.Successful, "earned", res.Earned.String(), "elapsed", elapsed)
	if b.o.events != nil {
		b.o.events.Publish(realtime.EventBatchCompleted, res)
	}
}
