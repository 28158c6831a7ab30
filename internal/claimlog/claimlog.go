// Package claimlog records one append-only entry per completed claim attempt.
package claimlog

import (
	"context"
	"time"

	"github.com/mbd888/faucetd/internal/btc"
	"github.com/mbd888/faucetd/internal/claim"
)

// List limits.
const (
	DefaultLimit = 100
	MaxLimit     = 100
)

// Unknown is the faucet name recorded when an outcome carries none.
const Unknown = "unknown"

// Log is one claim attempt. Amount is zero unless Status is success.
type Log struct {
	ID           string       `json:"id"`
	SessionID    string       `json:"session_id"`
	FaucetName   string       `json:"faucet_name"`
	Status       claim.Status `json:"status"`
	Amount       btc.Amount   `json:"amount"`
	Timestamp    time.Time    `json:"timestamp"`
	ErrorMessage string       `json:"error_message,omitempty"`
}

// FromOutcome builds a log entry, defaulting a missing site to Unknown and an
// unrecognized status to failed. Non-success amounts are forced to zero.
func FromOutcome(id, sessionID string, out claim.Outcome, at time.Time) *Log {
	l := &Log{
		ID:           id,
		SessionID:    sessionID,
		FaucetName:   out.Site,
		Status:       out.Status,
		Amount:       out.Amount,
		Timestamp:    at.UTC(),
		ErrorMessage: out.Error,
	}
	if l.FaucetName == "" {
		l.FaucetName = Unknown
	}
	if !l.Status.Valid() {
		l.Status = claim.StatusFailed
	}
	if l.Status != claim.StatusSuccess {
		l.Amount = 0
	}
	return l
}

// Summary aggregates logs over a time window. Every non-success status
// counts as failed.
type Summary struct {
	SuccessfulClaims int64      `json:"successful_claims"`
	FailedClaims     int64      `json:"failed_claims"`
	Claimed          btc.Amount `json:"claimed"`
}

// Store persists claim logs.
type Store interface {
	Append(ctx context.Context, l *Log) error
	// ListRecent returns up to limit entries, newest first.
	ListRecent(ctx context.Context, limit int) ([]*Log, error)
	// Summary covers entries with Timestamp >= since.
	Summary(ctx context.Context, since time.Time) (Summary, error)
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}
