package withdrawal

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/faucetd/internal/btc"
	"github.com/mbd888/faucetd/internal/logging"
	"github.com/mbd888/faucetd/internal/session"
	"github.com/mbd888/faucetd/internal/wallet"
)

const addr = "bc1qzh55yrw9z4ve9zxy04xuw9mq838g5c06tqvrxk"

type fixture struct {
	store    *wallet.MemoryStore
	transfer *wallet.SimulatedTransferer
	registry *session.Registry
	trigger  *Trigger
}

func newFixture(t *testing.T, cfg session.Config, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		store:    wallet.NewMemoryStore(),
		transfer: wallet.NewSimulatedTransferer("hot"),
		registry: session.NewRegistry(),
	}
	_, err := f.registry.Create("s1", cfg)
	require.NoError(t, err)
	f.trigger = NewTrigger(f.store, f.transfer, f.registry, logging.Discard(), opts...)
	return f
}

func (f *fixture) credit(t *testing.T, a btc.Amount) {
	t.Helper()
	_, err := f.store.Credit(context.Background(), a)
	require.NoError(t, err)
}

func counterValue(t *testing.T, labels ...string) float64 {
	t.Helper()
	c, err := withdrawalsTotal.GetMetricWithLabelValues(labels...)
	require.NoError(t, err)
	m := &dto.Metric{}
	require.NoError(t, c.Write(m))
	return m.Counter.GetValue()
}

func TestMaybeWithdraw_ReserveExceedsBalance(t *testing.T) {
	// threshold 0.0000093 met by 0.00001, but 0.00001 - 0.0001 < 0
	f := newFixture(t, session.DefaultConfig())
	f.credit(t, 1000)

	receipt, err := f.trigger.MaybeWithdraw(context.Background(), "s1", 1000)
	require.NoError(t, err)
	assert.Nil(t, receipt)
	assert.Empty(t, f.transfer.Sent(), "no transfer may be invoked")

	bal, _ := f.store.Balance(context.Background())
	assert.EqualValues(t, 1000, bal)
}

func TestMaybeWithdraw_PaysOutAboveReserve(t *testing.T) {
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	f := newFixture(t, session.DefaultConfig(), WithClock(func() time.Time { return at }))
	f.credit(t, 25_000)
	before := counterValue(t, wallet.KindAuto, "sent")

	receipt, err := f.trigger.MaybeWithdraw(context.Background(), "s1", 500)
	require.NoError(t, err)
	require.NotNil(t, receipt)
	assert.EqualValues(t, 15_000, receipt.Amount)
	assert.Equal(t, addr, receipt.To)
	assert.Equal(t, wallet.KindAuto, receipt.Kind)
	assert.Equal(t, "s1", receipt.SessionID)

	st, _ := f.store.State(context.Background())
	assert.Zero(t, st.Balance)
	require.NotNil(t, st.LastWithdrawal)
	assert.Equal(t, at, *st.LastWithdrawal)

	recorded, _ := f.store.ListTransfers(context.Background(), 10)
	require.Len(t, recorded, 1)
	assert.Equal(t, receipt.TxHash, recorded[0].TxHash)
	assert.Equal(t, before+1, counterValue(t, wallet.KindAuto, "sent"))
}

func TestMaybeWithdraw_BelowThreshold(t *testing.T) {
	cfg := session.DefaultConfig()
	cfg.WithdrawalThreshold = 50_000
	f := newFixture(t, cfg)
	f.credit(t, 20_000)

	receipt, err := f.trigger.MaybeWithdraw(context.Background(), "s1", 20_000)
	require.NoError(t, err)
	assert.Nil(t, receipt)
	assert.Empty(t, f.transfer.Sent())
}

func TestMaybeWithdraw_Disabled(t *testing.T) {
	cfg := session.DefaultConfig()
	cfg.AutoWithdrawal = false
	f := newFixture(t, cfg)
	f.credit(t, 1_000_000)

	receipt, err := f.trigger.MaybeWithdraw(context.Background(), "s1", 1)
	require.NoError(t, err)
	assert.Nil(t, receipt)
	assert.Empty(t, f.transfer.Sent())
}

func TestMaybeWithdraw_UnknownSession(t *testing.T) {
	f := newFixture(t, session.DefaultConfig())
	f.credit(t, 1_000_000)

	receipt, err := f.trigger.MaybeWithdraw(context.Background(), "ghost", 1)
	assert.NoError(t, err)
	assert.Nil(t, receipt)
}

func TestMaybeWithdraw_TransferFailureKeepsBalance(t *testing.T) {
	f := newFixture(t, session.DefaultConfig())
	f.credit(t, 30_000)
	f.transfer.FailWith(errors.New("node unreachable"))

	receipt, err := f.trigger.MaybeWithdraw(context.Background(), "s1", 100)
	assert.Nil(t, receipt)
	var te *wallet.TransferError
	require.ErrorAs(t, err, &te)

	st, _ := f.store.State(context.Background())
	assert.EqualValues(t, 30_000, st.Balance)
	assert.Nil(t, st.LastWithdrawal)

	// retry succeeds once the collaborator recovers
	f.transfer.FailWith(nil)
	receipt, err = f.trigger.MaybeWithdraw(context.Background(), "s1", 100)
	require.NoError(t, err)
	require.NotNil(t, receipt)
}

func TestMaybeWithdraw_ConcurrentChecksPayOnce(t *testing.T) {
	f := newFixture(t, session.DefaultConfig())
	_, err := f.registry.Create("s2", session.DefaultConfig())
	require.NoError(t, err)
	f.credit(t, 50_000)

	var wg sync.WaitGroup
	for _, id := range []string{"s1", "s2", "s1", "s2"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, _ = f.trigger.MaybeWithdraw(context.Background(), id, 10)
		}(id)
	}
	wg.Wait()

	assert.Len(t, f.transfer.Sent(), 1)
}

func TestMaybeWithdraw_CustomReserve(t *testing.T) {
	f := newFixture(t, session.DefaultConfig(), WithFeeReserve(100))
	f.credit(t, 1000)

	receipt, err := f.trigger.MaybeWithdraw(context.Background(), "s1", 1000)
	require.NoError(t, err)
	require.NotNil(t, receipt)
	assert.EqualValues(t, 900, receipt.Amount)
	assert.EqualValues(t, 100, f.trigger.FeeReserve())
}

func TestManual(t *testing.T) {
	var sent []*wallet.TransferResult
	f := newFixture(t, session.DefaultConfig(), OnSent(func(r *wallet.TransferResult) { sent = append(sent, r) }))
	f.credit(t, 5000)
	ctx := context.Background()

	receipt, err := f.trigger.Manual(ctx, "  "+addr+" ", 1234)
	require.NoError(t, err)
	assert.Equal(t, wallet.KindManual, receipt.Kind)
	assert.EqualValues(t, 1234, receipt.Amount)
	assert.Len(t, sent, 1)

	bal, _ := f.store.Balance(ctx)
	assert.EqualValues(t, 5000, bal, "manual withdrawals do not touch the tracked balance")

	_, err = f.trigger.Manual(ctx, "nope", 1)
	assert.ErrorIs(t, err, wallet.ErrInvalidAddress)
	_, err = f.trigger.Manual(ctx, addr, 0)
	assert.ErrorIs(t, err, wallet.ErrInvalidAmount)
}
