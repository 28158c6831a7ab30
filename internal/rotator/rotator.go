// Package rotator hands out egress resource identifiers in round-robin order.
package rotator

import (
	"errors"
	"sync/atomic"
)

// ErrEmptyPool is returned when a rotator is built without resources.
var ErrEmptyPool = errors.New("rotator: resource pool is empty")

// Rotator cycles an infinite, restartable sequence over a fixed pool.
// Next is safe for concurrent callers: the cursor is a single atomic
// counter, so every call observes a whole pool entry.
type Rotator struct {
	pool   []string
	cursor atomic.Uint64
}

// New copies pool and returns a rotator positioned at its first entry.
func New(pool []string) (*Rotator, error) {
	if len(pool) == 0 {
		return nil, ErrEmptyPool
	}
	cp := make([]string, len(pool))
	copy(cp, pool)
	return &Rotator{pool: cp}, nil
}

// Next returns the next resource in pool order, wrapping at the end.
func (r *Rotator) Next() string {
	n := r.cursor.Add(1) - 1
	return r.pool[n%uint64(len(r.pool))]
}

// Reset restarts the sequence at the first pool entry.
func (r *Rotator) Reset() {
	r.cursor.Store(0)
}
