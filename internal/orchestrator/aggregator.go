package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/mbd888/faucetd/internal/btc"
	"github.com/mbd888/faucetd/internal/claim"
	"github.com/mbd888/faucetd/internal/claimlog"
	"github.com/mbd888/faucetd/internal/idgen"
	"github.com/mbd888/faucetd/internal/session"
	"github.com/mbd888/faucetd/internal/wallet"
)

// Withdrawer is the payout check run after each earning batch.
type Withdrawer interface {
	MaybeWithdraw(ctx context.Context, sessionID string, batchEarned btc.Amount) (*wallet.TransferResult, error)
}

// BatchResult summarizes one aggregated batch.
type BatchResult struct {
	SessionID  string                 `json:"session_id"`
	Claims     int64                  `json:"claims"`
	Successful int64                  `json:"successful"`
	Failed     int64                  `json:"failed"`
	Earned     btc.Amount             `json:"earned"`
	Withdrawal *wallet.TransferResult `json:"withdrawal,omitempty"`
}

// EventSessionID scopes the result for push subscribers.
func (r BatchResult) EventSessionID() string { return r.SessionID }

// Aggregator folds batch outcomes into logs, session stats and the wallet.
type Aggregator struct {
	logs     claimlog.Store
	registry *session.Registry
	wallet   wallet.Store
	trigger  Withdrawer
	logger   *slog.Logger
	now      func() time.Time
}

// NewAggregator wires the aggregator's collaborators. trigger may be nil.
func NewAggregator(logs claimlog.Store, registry *session.Registry, ws wallet.Store, trigger Withdrawer, logger *slog.Logger) *Aggregator {
	return &Aggregator{
		logs:     logs,
		registry: registry,
		wallet:   ws,
		trigger:  trigger,
		logger:   logger,
		now:      time.Now,
	}
}

// Process records every outcome, updates the session's counters, credits
// the batch's earnings and runs the withdrawal check. Write failures are
// logged and skipped per entry; stats are updated regardless.
func (a *Aggregator) Process(ctx context.Context, sessionID string, outcomes []claim.Outcome) BatchResult {
	res := BatchResult{SessionID: sessionID}

	for _, out := range outcomes {
		entry := claimlog.FromOutcome(idgen.WithPrefix("log_"), sessionID, out, a.now())
		if err := a.logs.Append(ctx, entry); err != nil {
			persistenceFailures.WithLabelValues("append_log").Inc()
			a.logger.Warn("failed to persist claim log",
				"session_id", sessionID, "site", entry.FaucetName, "error", err)
		}

		delta := session.Stats{TotalClaims: 1}
		if entry.Status == claim.StatusSuccess {
			delta.SuccessfulClaims = 1
			delta.TotalEarned = entry.Amount
			res.Successful++
			res.Earned += entry.Amount
		} else {
			delta.FailedClaims = 1
			res.Failed++
		}
		res.Claims++
		a.registry.UpdateStats(sessionID, delta)
		claimsTotal.WithLabelValues(string(entry.Status)).Inc()
	}

	if res.Earned <= 0 {
		return res
	}
	earnedSats.Add(float64(res.Earned))

	if _, err := a.wallet.Credit(ctx, res.Earned); err != nil {
		persistenceFailures.WithLabelValues("credit").Inc()
		a.logger.Error("failed to credit batch earnings",
			"session_id", sessionID, "amount", res.Earned.String(), "error", err)
	}
	if a.trigger != nil {
		receipt, err := a.trigger.MaybeWithdraw(ctx, sessionID, res.Earned)
		if err != nil {
			persistenceFailures.WithLabelValues("withdrawal").Inc()
			a.logger.Error("auto-withdrawal check failed", "session_id", sessionID, "error", err)
		}
		res.Withdrawal = receipt
	}
	return res
}
