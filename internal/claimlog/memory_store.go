package claimlog

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mbd888/faucetd/internal/claim"
)

// MemoryStore keeps claim logs in process. Used when DATABASE_URL is unset.
type MemoryStore struct {
	mu   sync.RWMutex
	logs []*Log
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Append(_ context.Context, l *Log) error {
	cp := *l
	m.mu.Lock()
	m.logs = append(m.logs, &cp)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) ListRecent(_ context.Context, limit int) ([]*Log, error) {
	limit = clampLimit(limit)

	m.mu.RLock()
	all := make([]*Log, 0, len(m.logs))
	for i := len(m.logs) - 1; i >= 0; i-- {
		all = append(all, m.logs[i])
	}
	m.mu.RUnlock()

	// newest first; equal timestamps keep latest-appended first
	sort.SliceStable(all, func(i, j int) bool { return all[i].Timestamp.After(all[j].Timestamp) })

	if len(all) > limit {
		all = all[:limit]
	}
	out := make([]*Log, len(all))
	for i, l := range all {
		cp := *l
		out[i] = &cp
	}
	return out, nil
}

func (m *MemoryStore) Summary(_ context.Context, since time.Time) (Summary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var s Summary
	for _, l := range m.logs {
		if l.Timestamp.Before(since) {
			continue
		}
		if l.Status == claim.StatusSuccess {
			s.SuccessfulClaims++
			s.Claimed += l.Amount
		} else {
			s.FailedClaims++
		}
	}
	return s, nil
}

// Len returns the number of stored logs.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.logs)
}
