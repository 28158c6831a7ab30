// Package wallet tracks the accumulated faucet balance and performs payouts.
//
// Payout is a pluggable Transferer. The default is SimulatedTransferer,
// which fabricates a broadcast receipt; a real implementation would build,
// sign and broadcast a transaction behind the same interface.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mbd888/faucetd/internal/btc"
)

var (
	ErrInvalidAddress = errors.New("wallet: invalid address")
	ErrInvalidAmount  = errors.New("wallet: invalid amount")
	ErrTransferFailed = errors.New("wallet: transfer failed")
	ErrTxNotFound     = errors.New("wallet: transaction not found")
)

// TransferError wraps transfer failures with context
type TransferError struct {
	Op     string // operation that failed
	TxHash string // transaction hash if one was assigned
	Err    error
}

func (e *TransferError) Error() string {
	if e.TxHash != "" {
		return fmt.Sprintf("wallet: %s failed (tx: %s): %v", e.Op, e.TxHash, e.Err)
	}
	return fmt.Sprintf("wallet: %s failed: %v", e.Op, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

// Transfer kinds.
const (
	KindAuto   = "auto"
	KindManual = "manual"
)

// StatusBroadcasted is the receipt status of an accepted transfer.
const StatusBroadcasted = "broadcasted"

// TransferResult is the receipt of a payout.
type TransferResult struct {
	TxHash    string     `json:"tx_hash"`
	From      string     `json:"from_address"`
	To        string     `json:"to_address"`
	Amount    btc.Amount `json:"amount"`
	Status    string     `json:"status"`
	Kind      string     `json:"kind,omitempty"`
	SessionID string     `json:"session_id,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// Transferer sends amount to an address.
type Transferer interface {
	Transfer(ctx context.Context, to string, amount btc.Amount) (*TransferResult, error)
}

// State is the tracked balance and the time of the last payout.
type State struct {
	Balance        btc.Amount `json:"balance"`
	LastWithdrawal *time.Time `json:"last_withdrawal,omitempty"`
}

// Store persists the tracked balance and payout receipts.
type Store interface {
	Balance(ctx context.Context) (btc.Amount, error)
	// Credit adds amount and returns the new balance.
	Credit(ctx context.Context, amount btc.Amount) (btc.Amount, error)
	// Settle subtracts the balance a payout was computed from and stamps the
	// withdrawal time. Credits that landed after that read are kept.
	Settle(ctx context.Context, observed btc.Amount, at time.Time) error
	State(ctx context.Context) (State, error)
	RecordTransfer(ctx context.Context, r *TransferResult) error
	// ListTransfers returns up to limit receipts, newest first.
	ListTransfers(ctx context.Context, limit int) ([]*TransferResult, error)
}

// DefaultTransferLimit bounds ListTransfers.
const DefaultTransferLimit = 100

func clampLimit(limit int) int {
	if limit <= 0 || limit > DefaultTransferLimit {
		return DefaultTransferLimit
	}
	return limit
}
