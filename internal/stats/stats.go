// Package stats computes the wallet statistics shown on the dashboard and
// pushed to realtime clients.
package stats

import (
	"context"
	"fmt"
	"time"

	"github.com/mbd888/faucetd/internal/btc"
	"github.com/mbd888/faucetd/internal/claimlog"
	"github.com/mbd888/faucetd/internal/wallet"
)

// WalletStats is the wallet-stats response body.
type WalletStats struct {
	TotalBalance      btc.Amount `json:"total_balance"`
	TotalClaimedToday btc.Amount `json:"total_claimed_today"`
	SuccessfulClaims  int64      `json:"successful_claims"`
	FailedClaims      int64      `json:"failed_claims"`
	ActiveSessions    int        `json:"active_sessions"`
}

// Sessions counts running sessions.
type Sessions interface {
	CountRunning() int
}

// Service reads the stores that back WalletStats.
type Service struct {
	logs     claimlog.Store
	wallet   wallet.Store
	sessions Sessions
	now      func() time.Time
}

// NewService creates a stats service.
func NewService(logs claimlog.Store, ws wallet.Store, sessions Sessions) *Service {
	return &Service{logs: logs, wallet: ws, sessions: sessions, now: time.Now}
}

// StartOfDay returns midnight UTC of t's day.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// WalletStats reports the tracked balance, today's claim counts (since UTC
// midnight) and the number of running sessions.
func (s *Service) WalletStats(ctx context.Context) (WalletStats, error) {
	balance, err := s.wallet.Balance(ctx)
	if err != nil {
		return WalletStats{}, fmt.Errorf("stats: balance: %w", err)
	}
	sum, err := s.logs.Summary(ctx, StartOfDay(s.now()))
	if err != nil {
		return WalletStats{}, fmt.Errorf("stats: claim summary: %w", err)
	}
	return WalletStats{
		TotalBalance:      balance,
		TotalClaimedToday: sum.Claimed,
		SuccessfulClaims:  sum.SuccessfulClaims,
		FailedClaims:      sum.FailedClaims,
		ActiveSessions:    s.sessions.CountRunning(),
	}, nil
}

// Snapshot adapts WalletStats to the realtime snapshot signature.
func (s *Service) Snapshot(ctx context.Context) (any, error) {
	return s.WalletStats(ctx)
}
