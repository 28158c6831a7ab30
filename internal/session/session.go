// Package session holds claim session configuration and live state.
//
// The Registry is the single owner of session records. The orchestrator,
// the HTTP handlers and the reaper all share one instance; nothing reads
// session state through package globals.
package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/mbd888/faucetd/internal/btc"
	"github.com/mbd888/faucetd/internal/validation"
)

var (
	ErrNotFound       = errors.New("session: not found")
	ErrAlreadyRunning = errors.New("session: already running")
)

// Status is a session lifecycle state.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusStopped   Status = "stopped"
)

// Terminal reports whether no more launches will happen for the status.
func (s Status) Terminal() bool {
	return s != StatusRunning
}

// Worker multiplicity bounds.
const (
	MinMultiplicity = 1
	MaxMultiplicity = 10000
)

// DefaultThreshold is 0.0000093 BTC.
const DefaultThreshold btc.Amount = 930

// DefaultAddress receives automatic withdrawals when a config names none.
const DefaultAddress = "bc1qzh55yrw9z4ve9zxy04xuw9mq838g5c06tqvrxk"

// Config is fixed once a session starts. WorkerMultiplicity is how many
// passes are made over the active catalog.
type Config struct {
	ID                  string     `json:"id"`
	WorkerMultiplicity  int        `json:"session_count"`
	AutoWithdrawal      bool       `json:"auto_withdrawal"`
	WithdrawalThreshold btc.Amount `json:"withdrawal_threshold"`
	WithdrawalAddress   string     `json:"withdrawal_address"`
	ProxyEnabled        bool       `json:"proxy_enabled"`
	CaptchaSolving      bool       `json:"captcha_solving"`
}

// DefaultConfig returns the config used for fields a caller leaves out.
func DefaultConfig() Config {
	return Config{
		WorkerMultiplicity:  1,
		AutoWithdrawal:      true,
		WithdrawalThreshold: DefaultThreshold,
		WithdrawalAddress:   DefaultAddress,
		ProxyEnabled:        true,
		CaptchaSolving:      true,
	}
}

// ValidationError reports a malformed config field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("session: %s %s", e.Field, e.Message)
}

// Validate checks bounds and formats. It does not check uniqueness; the
// registry does that atomically on Create.
func (c Config) Validate() error {
	if c.WorkerMultiplicity < MinMultiplicity || c.WorkerMultiplicity > MaxMultiplicity {
		return &ValidationError{
			Field:   "session_count",
			Message: fmt.Sprintf("must be between %d and %d", MinMultiplicity, MaxMultiplicity),
		}
	}
	if c.WithdrawalThreshold < 0 {
		return &ValidationError{Field: "withdrawal_threshold", Message: "must not be negative"}
	}
	if len(c.ID) > 128 {
		return &ValidationError{Field: "id", Message: "exceeds maximum length"}
	}
	if c.AutoWithdrawal && !validation.IsValidBTCAddress(c.WithdrawalAddress) {
		return &ValidationError{Field: "withdrawal_address", Message: "must be a valid bitcoin address"}
	}
	return nil
}

// Stats are cumulative claim counters. TotalClaims always equals
// SuccessfulClaims + FailedClaims.
type Stats struct {
	TotalClaims      int64      `json:"total_claims"`
	SuccessfulClaims int64      `json:"successful_claims"`
	FailedClaims     int64      `json:"failed_claims"`
	TotalEarned      btc.Amount `json:"total_earned"`
}

// Add returns s plus d.
func (s Stats) Add(d Stats) Stats {
	return Stats{
		TotalClaims:      s.TotalClaims + d.TotalClaims,
		SuccessfulClaims: s.SuccessfulClaims + d.SuccessfulClaims,
		FailedClaims:     s.FailedClaims + d.FailedClaims,
		TotalEarned:      s.TotalEarned + d.TotalEarned,
	}
}

// Record is the live state of one session.
type Record struct {
	ID        string     `json:"id"`
	Status    Status     `json:"status"`
	Config    Config     `json:"config"`
	Stats     Stats      `json:"stats"`
	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	Error     string     `json:"error,omitempty"`
}

func (r *Record) clone() *Record {
	cp := *r
	if r.EndTime != nil {
		t := *r.EndTime
		cp.EndTime = &t
	}
	return &cp
}

// EventSessionID scopes the record for push subscribers.
func (r Record) EventSessionID() string { return r.ID }
