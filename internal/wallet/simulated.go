package wallet

import (
	"context"
	"sync"
	"time"

	"github.com/mbd888/faucetd/internal/btc"
	"github.com/mbd888/faucetd/internal/idgen"
	"github.com/mbd888/faucetd/internal/validation"
)

// DefaultFromAddress labels simulated receipts.
const DefaultFromAddress = "faucetd-hot-wallet"

// SimulatedTransferer accepts every well-formed transfer and returns a
// fabricated receipt. Nothing is signed or broadcast.
type SimulatedTransferer struct {
	from string
	now  func() time.Time

	mu   sync.Mutex
	fail error
	sent []*TransferResult
}

// NewSimulatedTransferer creates a simulated payout source labelled from.
func NewSimulatedTransferer(from string) *SimulatedTransferer {
	if from == "" {
		from = DefaultFromAddress
	}
	return &SimulatedTransferer{from: from, now: time.Now}
}

// FailWith makes subsequent transfers fail with err; nil restores success.
func (s *SimulatedTransferer) FailWith(err error) {
	s.mu.Lock()
	s.fail = err
	s.mu.Unlock()
}

// Sent returns copies of every receipt issued.
func (s *SimulatedTransferer) Sent() []TransferResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TransferResult, len(s.sent))
	for i, r := range s.sent {
		out[i] = *r
	}
	return out
}

func (s *SimulatedTransferer) Transfer(ctx context.Context, to string, amount btc.Amount) (*TransferResult, error) {
	if !validation.IsValidBTCAddress(to) {
		return nil, &TransferError{Op: "validate", Err: ErrInvalidAddress}
	}
	if amount <= 0 {
		return nil, &TransferError{Op: "validate", Err: ErrInvalidAmount}
	}
	if err := ctx.Err(); err != nil {
		return nil, &TransferError{Op: "broadcast", Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return nil, &TransferError{Op: "broadcast", Err: s.fail}
	}
	r := &TransferResult{
		TxHash:    "tx_" + idgen.Hex(8),
		From:      s.from,
		To:        to,
		Amount:    amount,
		Status:    StatusBroadcasted,
		Timestamp: s.now().UTC(),
	}
	s.sent = append(s.sent, r)
	cp := *r
	return &cp, nil
}
