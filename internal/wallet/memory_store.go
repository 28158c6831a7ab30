package wallet

import (
	"context"
	"sync"
	"time"

	"github.com/mbd888/faucetd/internal/btc"
)

// MemoryStore keeps balance and receipts in process.
type MemoryStore struct {
	mu        sync.RWMutex
	balance   btc.Amount
	lastWd    *time.Time
	transfers []*TransferResult
}

// NewMemoryStore creates an empty wallet store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Balance(_ context.Context) (btc.Amount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.balance, nil
}

func (m *MemoryStore) Credit(_ context.Context, amount btc.Amount) (btc.Amount, error) {
	if amount < 0 {
		return 0, ErrInvalidAmount
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balance += amount
	return m.balance, nil
}

func (m *MemoryStore) Settle(_ context.Context, observed btc.Amount, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balance -= observed
	if m.balance < 0 {
		m.balance = 0
	}
	t := at.UTC()
	m.lastWd = &t
	return nil
}

func (m *MemoryStore) State(_ context.Context) (State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st := State{Balance: m.balance}
	if m.lastWd != nil {
		t := *m.lastWd
		st.LastWithdrawal = &t
	}
	return st, nil
}

func (m *MemoryStore) RecordTransfer(_ context.Context, r *TransferResult) error {
	cp := *r
	m.mu.Lock()
	m.transfers = append(m.transfers, &cp)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) ListTransfers(_ context.Context, limit int) ([]*TransferResult, error) {
	limit = clampLimit(limit)
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*TransferResult, 0, limit)
	for i := len(m.transfers) - 1; i >= 0 && len(out) < limit; i-- {
		cp := *m.transfers[i]
		out = append(out, &cp)
	}
	return out, nil
}
