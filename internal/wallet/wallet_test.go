package wallet

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAddr = "bc1qzh55yrw9z4ve9zxy04xuw9mq838g5c06tqvrxk"

func TestTransferError(t *testing.T) {
	err := &TransferError{Op: "broadcast", TxHash: "tx_1", Err: ErrTransferFailed}
	assert.Equal(t, "wallet: broadcast failed (tx: tx_1): wallet: transfer failed", err.Error())
	assert.ErrorIs(t, err, ErrTransferFailed)

	var te *TransferError
	require.ErrorAs(t, fmt.Errorf("wrapped: %w", err), &te)
	assert.Equal(t, "broadcast", te.Op)

	assert.Equal(t, "wallet: validate failed: wallet: invalid amount",
		(&TransferError{Op: "validate", Err: ErrInvalidAmount}).Error())
}

func TestSimulatedTransferer_Receipt(t *testing.T) {
	s := NewSimulatedTransferer("")
	r, err := s.Transfer(context.Background(), testAddr, 990)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(r.TxHash, "tx_"))
	assert.Len(t, r.TxHash, len("tx_")+16)
	assert.Equal(t, DefaultFromAddress, r.From)
	assert.Equal(t, testAddr, r.To)
	assert.EqualValues(t, 990, r.Amount)
	assert.Equal(t, StatusBroadcasted, r.Status)
	assert.False(t, r.Timestamp.IsZero())
	assert.Len(t, s.Sent(), 1)
}

func TestSimulatedTransferer_Rejects(t *testing.T) {
	s := NewSimulatedTransferer("hot")
	ctx := context.Background()

	_, err := s.Transfer(ctx, "not-an-address", 10)
	assert.ErrorIs(t, err, ErrInvalidAddress)

	_, err = s.Transfer(ctx, testAddr, 0)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	s.FailWith(errors.New("mempool full"))
	_, err = s.Transfer(ctx, testAddr, 10)
	var te *TransferError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "broadcast", te.Op)

	s.FailWith(nil)
	_, err = s.Transfer(ctx, testAddr, 10)
	assert.NoError(t, err)
	assert.Len(t, s.Sent(), 1)
}

func TestMemoryStore_CreditAndSettle(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	bal, err := m.Credit(ctx, 600)
	require.NoError(t, err)
	assert.EqualValues(t, 600, bal)
	bal, _ = m.Credit(ctx, 400)
	assert.EqualValues(t, 1000, bal)

	_, err = m.Credit(ctx, -1)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	// a credit landing after the payout read survives settlement
	observed, _ := m.Balance(ctx)
	_, _ = m.Credit(ctx, 50)
	at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, m.Settle(ctx, observed, at))

	st, err := m.State(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 50, st.Balance)
	require.NotNil(t, st.LastWithdrawal)
	assert.Equal(t, at, *st.LastWithdrawal)
}

func TestMemoryStore_ConcurrentCredit(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = m.Credit(ctx, 3)
		}()
	}
	wg.Wait()
	bal, _ := m.Balance(ctx)
	assert.EqualValues(t, 300, bal)
}

func TestMemoryStore_Transfers(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	for i := 0; i < 3; i++ {
		require.NoError(t, m.RecordTransfer(ctx, &TransferResult{TxHash: fmt.Sprintf("tx_%d", i)}))
	}

	list, err := m.ListTransfers(ctx, 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "tx_2", list[0].TxHash)
	assert.Equal(t, "tx_1", list[1].TxHash)

	list, _ = m.ListTransfers(ctx, 0)
	assert.Len(t, list, 3)
}
