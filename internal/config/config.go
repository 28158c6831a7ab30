// Package config handles application configuration from environment variables
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/mbd888/faucetd/internal/btc"
	"github.com/mbd888/faucetd/internal/validation"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port            string
	Env             string // "development", "staging", "production"
	LogLevel        string
	LogFormat       string // "text" or "json"
	CORSOrigins     []string
	RateLimitRPM    int
	ShutdownTimeout time.Duration

	// Persistence (optional, in-memory stores if unset)
	DatabaseURL string

	// Tracing (optional, no-op tracer if unset)
	OTLPEndpoint string

	// Orchestration
	CatalogPath       string
	ResourcePool      []string
	BatchSize         int
	LaunchInterval    time.Duration
	SessionTTL        time.Duration
	StatsPushInterval time.Duration

	// Claim attempt timing
	NavigationTimeout   time.Duration
	CaptchaProbeTimeout time.Duration
	ClickTimeout        time.Duration
	PageSettle          time.Duration
	ClaimSettle         time.Duration

	CaptchaWorkers   int
	BreakerThreshold int // 0 disables the per-site breaker
	CooldownTracking bool

	// Simulated browser
	SimCaptchaRate float64
	SimFailureRate float64
	SimLatency     time.Duration

	// Withdrawals
	FeeReserve          btc.Amount
	WithdrawalThreshold btc.Amount
	WithdrawalAddress   string
	HotWalletAddress    string
}

const (
	DefaultPort              = "8001"
	DefaultEnv               = "development"
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "text"
	DefaultRateLimitRPM      = 600
	DefaultShutdownTimeout   = 30 * time.Second
	DefaultBatchSize         = 50
	DefaultLaunchInterval    = 100 * time.Millisecond
	DefaultSessionTTL        = 24 * time.Hour
	DefaultStatsPushInterval = 5 * time.Second
	DefaultCaptchaWorkers    = 4
	DefaultFeeReserve        = "0.0001"
	DefaultThreshold         = "0.0000093"
	DefaultWithdrawalAddress = "bc1qzh55yrw9z4ve9zxy04xuw9mq838g5c06tqvrxk"
	DefaultCaptchaRate       = 0.3
	DefaultFailureRate       = 0.1
)

// DefaultResourcePool is the placeholder egress set used when RESOURCE_POOL
// is unset. The simulated browser only records these identifiers.
var DefaultResourcePool = []string{
	"egress-1", "egress-2", "egress-3", "egress-4",
	"egress-5", "egress-6", "egress-7", "egress-8",
}

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	_ = godotenv.Load()

	var p parser
	cfg := &Config{
		Port:            getEnv("PORT", DefaultPort),
		Env:             getEnv("ENV", DefaultEnv),
		LogLevel:        getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:       getEnv("LOG_FORMAT", DefaultLogFormat),
		CORSOrigins:     getEnvList("CORS_ORIGINS", []string{"*"}),
		RateLimitRPM:    p.num("RATE_LIMIT_RPM", DefaultRateLimitRPM),
		ShutdownTimeout: p.duration("SHUTDOWN_TIMEOUT", DefaultShutdownTimeout),

		DatabaseURL:  os.Getenv("DATABASE_URL"),
		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),

		CatalogPath:       os.Getenv("CATALOG_PATH"),
		ResourcePool:      getEnvList("RESOURCE_POOL", DefaultResourcePool),
		BatchSize:         p.num("BATCH_SIZE", DefaultBatchSize),
		LaunchInterval:    p.duration("LAUNCH_INTERVAL", DefaultLaunchInterval),
		SessionTTL:        p.duration("SESSION_TTL", DefaultSessionTTL),
		StatsPushInterval: p.duration("STATS_PUSH_INTERVAL", DefaultStatsPushInterval),

		NavigationTimeout:   p.duration("NAVIGATION_TIMEOUT", 30*time.Second),
		CaptchaProbeTimeout: p.duration("CAPTCHA_PROBE_TIMEOUT", 5*time.Second),
		ClickTimeout:        p.duration("CLICK_TIMEOUT", 10*time.Second),
		PageSettle:          p.duration("PAGE_SETTLE", 2*time.Second),
		ClaimSettle:         p.duration("CLAIM_SETTLE", 3*time.Second),

		CaptchaWorkers:   p.num("CAPTCHA_WORKERS", DefaultCaptchaWorkers),
		BreakerThreshold: p.num("BREAKER_THRESHOLD", 0),
		CooldownTracking: p.flag("COOLDOWN_TRACKING", false),

		SimCaptchaRate: p.ratio("SIM_CAPTCHA_RATE", DefaultCaptchaRate),
		SimFailureRate: p.ratio("SIM_FAILURE_RATE", DefaultFailureRate),
		SimLatency:     p.duration("SIM_LATENCY", 0),

		FeeReserve:          p.amount("FEE_RESERVE", DefaultFeeReserve),
		WithdrawalThreshold: p.amount("WITHDRAWAL_THRESHOLD", DefaultThreshold),
		WithdrawalAddress:   getEnv("WITHDRAWAL_ADDRESS", DefaultWithdrawalAddress),
		HotWalletAddress:    getEnv("HOT_WALLET_ADDRESS", "faucetd-hot-wallet"),
	}
	if err := errors.Join(p.errs...); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks ranges and cross-field constraints.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Port != "", "PORT is required")
	check(c.LogFormat == "text" || c.LogFormat == "json", "LOG_FORMAT must be text or json, got %q", c.LogFormat)
	check(c.BatchSize > 0, "BATCH_SIZE must be positive")
	check(c.LaunchInterval >= 0, "LAUNCH_INTERVAL must not be negative")
	check(c.SessionTTL > 0, "SESSION_TTL must be positive")
	check(c.StatsPushInterval > 0, "STATS_PUSH_INTERVAL must be positive")
	check(c.CaptchaWorkers > 0, "CAPTCHA_WORKERS must be positive")
	check(c.BreakerThreshold >= 0, "BREAKER_THRESHOLD must not be negative")
	check(c.RateLimitRPM >= 0, "RATE_LIMIT_RPM must not be negative")
	check(len(c.ResourcePool) > 0, "RESOURCE_POOL must name at least one resource")
	check(c.SimCaptchaRate >= 0 && c.SimCaptchaRate <= 1, "SIM_CAPTCHA_RATE must be within [0, 1]")
	check(c.SimFailureRate >= 0 && c.SimFailureRate <= 1, "SIM_FAILURE_RATE must be within [0, 1]")
	check(c.FeeReserve >= 0, "FEE_RESERVE must not be negative")
	check(validation.IsValidBTCAddress(c.WithdrawalAddress), "WITHDRAWAL_ADDRESS %q is not a valid BTC address", c.WithdrawalAddress)

	for name, d := range map[string]time.Duration{
		"NAVIGATION_TIMEOUT":    c.NavigationTimeout,
		"CAPTCHA_PROBE_TIMEOUT": c.CaptchaProbeTimeout,
		"CLICK_TIMEOUT":         c.ClickTimeout,
		"PAGE_SETTLE":           c.PageSettle,
		"CLAIM_SETTLE":          c.ClaimSettle,
	} {
		check(d >= 0, "%s must not be negative", name)
	}

	return errors.Join(errs...)
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return append([]string(nil), defaultValue...)
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// parser collects malformed values instead of silently using defaults.
type parser struct {
	errs []error
}

func (p *parser) fail(key, value string, err error) {
	p.errs = append(p.errs, fmt.Errorf("%s=%q: %w", key, value, err))
}

func (p *parser) num(key string, def int) int {
	value := os.Getenv(key)
	if value == "" {
		return def
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		p.fail(key, value, err)
		return def
	}
	return n
}

func (p *parser) ratio(key string, def float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return def
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		p.fail(key, value, err)
		return def
	}
	return f
}

func (p *parser) flag(key string, def bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return def
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		p.fail(key, value, err)
		return def
	}
	return b
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return def
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		p.fail(key, value, err)
		return def
	}
	return d
}

func (p *parser) amount(key, def string) btc.Amount {
	value := getEnv(key, def)
	a, err := btc.Parse(value)
	if err != nil {
		p.fail(key, value, err)
		return 0
	}
	return a
}
