// Package withdrawal decides when the accumulated balance is paid out.
package withdrawal

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/mbd888/faucetd/internal/btc"
	"github.com/mbd888/faucetd/internal/session"
	"github.com/mbd888/faucetd/internal/traces"
	"github.com/mbd888/faucetd/internal/validation"
	"github.com/mbd888/faucetd/internal/wallet"
)

// DefaultFeeReserve (0.0001 BTC) is held back from every automatic payout.
const DefaultFeeReserve btc.Amount = 10_000

// Sessions resolves the config a session was started with.
type Sessions interface {
	Get(id string) (*session.Record, error)
}

// Trigger runs the automatic payout check after each batch and performs
// manual payouts. Checks are serialized so two sessions finishing batches at
// once cannot both pay out the same balance.
type Trigger struct {
	store      wallet.Store
	transferer wallet.Transferer
	sessions   Sessions
	feeReserve btc.Amount
	logger     *slog.Logger
	now        func() time.Time
	onSent     func(*wallet.TransferResult)

	mu sync.Mutex
}

// Option configures a Trigger.
type Option func(*Trigger)

// WithFeeReserve overrides DefaultFeeReserve.
func WithFeeReserve(a btc.Amount) Option { return func(t *Trigger) { t.feeReserve = a } }

// WithClock overrides time.Now for withdrawal stamps.
func WithClock(now func() time.Time) Option { return func(t *Trigger) { t.now = now } }

// OnSent registers fn to receive every recorded receipt.
func OnSent(fn func(*wallet.TransferResult)) Option { return func(t *Trigger) { t.onSent = fn } }

// NewTrigger builds a trigger over the wallet store and transfer collaborator.
func NewTrigger(store wallet.Store, transferer wallet.Transferer, sessions Sessions, logger *slog.Logger, opts ...Option) *Trigger {
	t := &Trigger{
		store:      store,
		transferer: transferer,
		sessions:   sessions,
		feeReserve: DefaultFeeReserve,
		logger:     logger,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// FeeReserve returns the amount held back from automatic payouts.
func (t *Trigger) FeeReserve() btc.Amount { return t.feeReserve }

// MaybeWithdraw pays out when the session allows auto-withdrawal, the stored
// balance has reached the session's threshold, and something is left after
// the fee reserve. It returns the receipt, or nil when nothing was sent.
// A transfer error leaves the balance untouched for a later retry.
func (t *Trigger) MaybeWithdraw(ctx context.Context, sessionID string, batchEarned btc.Amount) (*wallet.TransferResult, error) {
	rec, err := t.sessions.Get(sessionID)
	if err != nil {
		withdrawalsSkipped.WithLabelValues("no_session").Inc()
		return nil, nil
	}
	cfg := rec.Config
	if !cfg.AutoWithdrawal {
		withdrawalsSkipped.WithLabelValues("disabled").Inc()
		return nil, nil
	}

	ctx, span := traces.StartSpan(ctx, "withdrawal.MaybeWithdraw",
		traces.SessionID(sessionID), traces.Amount(batchEarned.String()))
	defer span.End()

	t.mu.Lock()
	defer t.mu.Unlock()

	balance, err := t.store.Balance(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("withdrawal: read balance: %w", err)
	}
	if balance < cfg.WithdrawalThreshold {
		withdrawalsSkipped.WithLabelValues("below_threshold").Inc()
		return nil, nil
	}
	amount := balance - t.feeReserve
	if amount <= 0 {
		withdrawalsSkipped.WithLabelValues("reserve").Inc()
		t.logger.Debug("balance does not cover fee reserve",
			"session_id", sessionID, "balance", balance.String(), "reserve", t.feeReserve.String())
		return nil, nil
	}

	receipt, err := t.transferer.Transfer(ctx, cfg.WithdrawalAddress, amount)
	if err != nil {
		withdrawalsTotal.WithLabelValues(wallet.KindAuto, "failed").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "transfer failed")
		return nil, err
	}
	receipt.Kind = wallet.KindAuto
	receipt.SessionID = sessionID
	span.SetAttributes(traces.TxHash(receipt.TxHash))

	t.record(ctx, receipt)
	if err := t.store.Settle(ctx, balance, t.now()); err != nil {
		// the payout happened; the next check will see a stale balance
		t.logger.Error("settle balance after withdrawal", "tx_hash", receipt.TxHash, "error", err)
		return receipt, fmt.Errorf("withdrawal: settle balance: %w", err)
	}

	withdrawalsTotal.WithLabelValues(wallet.KindAuto, "sent").Inc()
	withdrawnSats.Add(float64(amount))
	t.logger.Info("auto-withdrawal executed",
		"session_id", sessionID, "amount", amount.String(), "to", cfg.WithdrawalAddress, "tx_hash", receipt.TxHash)
	return receipt, nil
}

// Manual sends amount to address and records the receipt. The tracked
// balance is not changed.
func (t *Trigger) Manual(ctx context.Context, address string, amount btc.Amount) (*wallet.TransferResult, error) {
	address = validation.SanitizeAddress(address)
	if !validation.IsValidBTCAddress(address) {
		return nil, wallet.ErrInvalidAddress
	}
	if amount <= 0 {
		return nil, wallet.ErrInvalidAmount
	}

	ctx, span := traces.StartSpan(ctx, "withdrawal.Manual", traces.Amount(amount.String()))
	defer span.End()

	receipt, err := t.transferer.Transfer(ctx, address, amount)
	if err != nil {
		withdrawalsTotal.WithLabelValues(wallet.KindManual, "failed").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "transfer failed")
		return nil, err
	}
	receipt.Kind = wallet.KindManual
	t.record(ctx, receipt)

	withdrawalsTotal.WithLabelValues(wallet.KindManual, "sent").Inc()
	withdrawnSats.Add(float64(amount))
	t.logger.Info("manual withdrawal executed", "amount", amount.String(), "to", address, "tx_hash", receipt.TxHash)
	return receipt, nil
}

func (t *Trigger) record(ctx context.Context, receipt *wallet.TransferResult) {
	if err := t.store.RecordTransfer(ctx, receipt); err != nil {
		t.logger.Warn("failed to record transfer", "tx_hash", receipt.TxHash, "error", err)
	}
	if t.onSent != nil {
		t.onSent(receipt)
	}
}
