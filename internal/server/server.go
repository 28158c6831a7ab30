// Package server wires faucetd's components and serves the HTTP API.
package server

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/mbd888/faucetd/internal/captcha"
	"github.com/mbd888/faucetd/internal/catalog"
	"github.com/mbd888/faucetd/internal/circuitbreaker"
	"github.com/mbd888/faucetd/internal/claim"
	"github.com/mbd888/faucetd/internal/claimlog"
	"github.com/mbd888/faucetd/internal/config"
	"github.com/mbd888/faucetd/internal/health"
	"github.com/mbd888/faucetd/internal/logging"
	"github.com/mbd888/faucetd/internal/metrics"
	"github.com/mbd888/faucetd/internal/orchestrator"
	"github.com/mbd888/faucetd/internal/ratelimit"
	"github.com/mbd888/faucetd/internal/realtime"
	"github.com/mbd888/faucetd/internal/retry"
	"github.com/mbd888/faucetd/internal/rotator"
	"github.com/mbd888/faucetd/internal/security"
	"github.com/mbd888/faucetd/internal/session"
	"github.com/mbd888/faucetd/internal/stats"
	"github.com/mbd888/faucetd/internal/validation"
	"github.com/mbd888/faucetd/internal/wallet"
	"github.com/mbd888/faucetd/internal/withdrawal"
)

// runtimeSampleInterval is how often goroutine and pool gauges refresh.
const runtimeSampleInterval = 15 * time.Second

// breakerCooldown is how long an opened site stays skipped.
const breakerCooldown = 5 * time.Minute

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg *config.Config

	catalog    *catalog.Catalog
	sessions   *session.Registry
	reaper     *session.Reaper
	orch       *orchestrator.Orchestrator
	trigger    *withdrawal.Trigger
	logs       claimlog.Store
	wallet     wallet.Store
	stats      *stats.Service
	captcha    *captcha.Pool
	hub        *realtime.Hub
	publisher  *realtime.StatsPublisher
	health     *health.Registry
	limiter    *ratelimit.Limiter
	browser    claim.Browser
	transferer wallet.Transferer

	db           *sql.DB // nil if using in-memory
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	cancelRunCtx context.CancelFunc

	ready atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithBrowser replaces the simulated browser (for testing)
func WithBrowser(b claim.Browser) Option {
	return func(s *Server) {
		s.browser = b
	}
}

// WithTransferer replaces the simulated payout source (for testing)
func WithTransferer(t wallet.Transferer) Option {
	return func(s *Server) {
		s.transferer = t
	}
}

// WithCatalog replaces the configured catalog (for testing)
func WithCatalog(c *catalog.Catalog) Option {
	return func(s *Server) {
		s.catalog = c
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, cfg.LogFormat),
	}
	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	if err := s.setupStorage(ctx); err != nil {
		return nil, err
	}

	if s.catalog == nil {
		cat, err := catalog.Load(cfg.CatalogPath)
		if err != nil {
			return nil, err
		}
		s.catalog = cat
	}
	s.logger.Info("faucet catalog loaded", "sites", s.catalog.Len(), "active", len(s.catalog.Active()))

	rot, err := rotator.New(cfg.ResourcePool)
	if err != nil {
		return nil, fmt.Errorf("resource pool: %w", err)
	}

	// The hub's snapshot and the registry observer reach back into s, so
	// the hub is built first and the stats service fills in below.
	s.hub = realtime.NewHub(s.logger,
		realtime.WithSnapshot(func(ctx context.Context) (any, error) { return s.stats.Snapshot(ctx) }),
		realtime.WithAllowedOrigins(cfg.CORSOrigins),
	)
	s.sessions = session.NewRegistry(session.WithObserver(func(rec session.Record) {
		s.hub.Publish(realtime.EventSessionUpdate, rec)
	}))
	s.reaper = session.NewReaper(s.sessions, cfg.SessionTTL, s.logger)
	s.stats = stats.NewService(s.logs, s.wallet, s.sessions)
	s.publisher = realtime.NewStatsPublisher(s.hub, s.stats.Snapshot, cfg.StatsPushInterval, s.logger)

	if s.transferer == nil {
		s.transferer = wallet.NewSimulatedTransferer(cfg.HotWalletAddress)
	}
	s.trigger = withdrawal.NewTrigger(s.wallet, s.transferer, s.sessions, s.logger,
		withdrawal.WithFeeReserve(cfg.FeeReserve))

	s.captcha = captcha.NewPool(captcha.NoopSolver{}, cfg.CaptchaWorkers)
	worker := claim.NewWorker(s.browserOrDefault(), s.workerOptions()...)
	agg := orchestrator.NewAggregator(s.logs, s.sessions, s.wallet, s.trigger, s.logger)
	s.orch = orchestrator.New(s.sessions, s.catalog, worker, agg,
		orchestrator.WithRotator(rot),
		orchestrator.WithSolver(s.captcha),
		orchestrator.WithPublisher(s.hub),
		orchestrator.WithBatchSize(cfg.BatchSize),
		orchestrator.WithLaunchInterval(cfg.LaunchInterval),
		orchestrator.WithLogger(s.logger),
	)

	s.health = health.NewRegistry()
	s.health.Register(health.Running("http", s.ready.Load))
	s.health.Register(health.Running("realtime", s.hub.Running))
	if s.db != nil {
		s.health.Register(health.Database(s.db))
	}

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	return s, nil
}

// setupStorage opens Postgres when DATABASE_URL is set, otherwise in-memory stores.
func (s *Server) setupStorage(ctx context.Context) error {
	if s.cfg.DatabaseURL == "" {
		s.logs = claimlog.NewMemoryStore()
		s.wallet = wallet.NewMemoryStore()
		s.logger.Info("using in-memory storage (data will not persist)")
		return nil
	}

	db, err := sql.Open("postgres", s.cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	policy := retry.Startup
	policy.OnRetry = func(attempt int, err error, wait time.Duration) {
		s.logger.Warn("database not reachable, retrying", "attempt", attempt, "wait", wait, "error", err)
	}
	if err := retry.Do(ctx, policy, db.PingContext); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	logs := claimlog.NewPostgresStore(db)
	if err := logs.Migrate(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("migrate claim logs: %w", err)
	}
	ws := wallet.NewPostgresStore(db)
	if err := ws.Migrate(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("migrate wallet: %w", err)
	}

	s.db, s.logs, s.wallet = db, logs, ws
	s.logger.Info("using PostgreSQL storage", "url", maskDSN(s.cfg.DatabaseURL))
	return nil
}

func (s *Server) browserOrDefault() claim.Browser {
	if s.browser != nil {
		return s.browser
	}
	return claim.NewSimulatedBrowser(claim.SimulatedConfig{
		CaptchaRate: s.cfg.SimCaptchaRate,
		FailureRate: s.cfg.SimFailureRate,
		Latency:     s.cfg.SimLatency,
	})
}

func (s *Server) workerOptions() []claim.Option {
	opts := []claim.Option{
		claim.WithTimeouts(claim.Timeouts{
			Navigation:   s.cfg.NavigationTimeout,
			PageSettle:   s.cfg.PageSettle,
			CaptchaProbe: s.cfg.CaptchaProbeTimeout,
			Click:        s.cfg.ClickTimeout,
			ClaimSettle:  s.cfg.ClaimSettle,
		}),
		claim.WithLogger(s.logger),
	}
	if s.cfg.BreakerThreshold > 0 {
		breaker := circuitbreaker.New(s.cfg.BreakerThreshold, breakerCooldown,
			circuitbreaker.WithTransitionHook(func(site string, from, to circuitbreaker.State) {
				s.logger.Warn("site breaker changed state", "site", site, "from", from.String(), "to", to.String())
			}))
		opts = append(opts, claim.WithBreaker(breaker))
	}
	if s.cfg.CooldownTracking {
		opts = append(opts, claim.WithCooldowns(claim.NewCooldowns()))
	}
	return opts
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	s.router.Use(security.HeadersMiddleware())
	s.router.Use(security.CORSMiddleware(s.cfg.CORSOrigins))
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	limits := ratelimit.DefaultConfig()
	limits.RequestsPerMinute = s.cfg.RateLimitRPM
	s.limiter = ratelimit.New(limits)
	s.router.Use(s.limiter.Middleware())

	s.router.Use(metrics.Middleware())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Keep an id assigned upstream (load balancer, MCP bridge)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)
		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		status := c.Writer.Status()
		attrs := []any{
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"latency_ms", time.Since(start).Milliseconds(),
		}
		logger := logging.L(c.Request.Context())
		switch {
		case status >= 500:
			logger.Error("request completed", append(attrs, "client_ip", c.ClientIP())...)
		case status >= 400:
			logger.Warn("request completed", attrs...)
		case path == "/health/live" || path == "/metrics":
			logger.Debug("request completed", attrs...)
		default:
			logger.Info("request completed", attrs...)
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", health.LiveHandler())
	s.router.GET("/health/ready", s.health.ReadyHandler())
	s.router.GET("/metrics", metrics.Handler())
	s.router.GET("/ws", func(c *gin.Context) {
		s.hub.HandleWebSocket(c.Writer, c.Request)
	})

	api := s.router.Group("/api")
	newHandlers(s).RegisterRoutes(api)
}

func (s *Server) healthHandler(c *gin.Context) {
	healthy, checks := s.health.CheckAll(c.Request.Context())
	code, status := http.StatusOK, "healthy"
	if !healthy {
		code, status = http.StatusServiceUnavailable, "degraded"
	}
	c.JSON(code, gin.H{
		"status":            status,
		"active_sessions":   s.sessions.CountRunning(),
		"tracked_sessions":  s.sessions.Len(),
		"catalog_sites":     s.catalog.Len(),
		"connected_clients": s.hub.Stats().ConnectedClients,
		"checks":            checks,
		"timestamp":         time.Now().UTC(),
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server and background loops and blocks until a
// signal, ctx ends, or the listener fails. It then shuts down.
func (s *Server) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	go s.hub.Run(runCtx)
	go s.reaper.Start(runCtx)
	go s.publisher.Start(runCtx)
	go metrics.StartRuntimeCollector(runCtx, s.db, runtimeSampleInterval)

	s.ready.Store(true)
	s.logger.Info("server ready")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-errChan:
		_ = s.Shutdown()
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown stops accepting requests, ends running sessions and releases
// resources. Sessions still running when it is called finish as failed.
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	var errs []error
	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("http shutdown error", "error", err)
			errs = append(errs, err)
		}
	}

	if err := s.orch.Close(ctx); err != nil {
		s.logger.Error("sessions did not finish before shutdown deadline", "error", err)
		errs = append(errs, err)
	} else {
		s.logger.Info("claim sessions stopped")
	}

	// Background loops read the stores; stop them before the pool closes.
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}
	s.reaper.Stop()
	s.publisher.Stop()
	s.captcha.Close()
	s.limiter.Stop()

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
			errs = append(errs, err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return errors.Join(errs...)
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Orchestrator exposes the session runner for tests and embedding.
func (s *Server) Orchestrator() *orchestrator.Orchestrator {
	return s.orch
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}
