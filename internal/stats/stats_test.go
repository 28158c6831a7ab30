package stats

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/faucetd/internal/btc"
	"github.com/mbd888/faucetd/internal/claim"
	"github.com/mbd888/faucetd/internal/claimlog"
	"github.com/mbd888/faucetd/internal/wallet"
)

type running int

func (r running) CountRunning() int { return int(r) }

var noon = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func newService(logs claimlog.Store, ws wallet.Store, n int) *Service {
	s := NewService(logs, ws, running(n))
	s.now = func() time.Time { return noon }
	return s
}

func appendLog(t *testing.T, logs claimlog.Store, status claim.Status, amount btc.Amount, at time.Time) {
	t.Helper()
	require.NoError(t, logs.Append(context.Background(), &claimlog.Log{
		ID: at.String() + string(status), SessionID: "s", FaucetName: "A",
		Status: status, Amount: amount, Timestamp: at,
	}))
}

func TestStartOfDay(t *testing.T) {
	loc := time.FixedZone("UTC+9", 9*3600)
	local := time.Date(2026, 3, 15, 2, 0, 0, 0, loc) // 17:00 UTC on the 14th
	assert.Equal(t, time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC), StartOfDay(local))
}

func TestWalletStats_TodayOnly(t *testing.T) {
	logs := claimlog.NewMemoryStore()
	ws := wallet.NewMemoryStore()
	_, err := ws.Credit(context.Background(), 1234)
	require.NoError(t, err)

	appendLog(t, logs, claim.StatusSuccess, 500, noon.Add(-13*time.Hour)) // yesterday
	appendLog(t, logs, claim.StatusSuccess, 200, noon.Add(-time.Hour))
	appendLog(t, logs, claim.StatusSuccess, 300, StartOfDay(noon))
	appendLog(t, logs, claim.StatusCaptchaFailed, 0, noon)
	appendLog(t, logs, claim.StatusFailed, 0, noon.Add(-20*time.Hour)) // yesterday

	got, err := newService(logs, ws, 2).WalletStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, WalletStats{
		TotalBalance:      1234,
		TotalClaimedToday: 500,
		SuccessfulClaims:  2,
		FailedClaims:      1,
		ActiveSessions:    2,
	}, got)
}

func TestWalletStats_ZeroSuccessDay(t *testing.T) {
	logs := claimlog.NewMemoryStore()
	appendLog(t, logs, claim.StatusFailed, 0, noon)

	got, err := newService(logs, wallet.NewMemoryStore(), 0).WalletStats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, got.TotalClaimedToday)
	assert.Zero(t, got.SuccessfulClaims)
	assert.Equal(t, int64(1), got.FailedClaims)

	b, err := json.Marshal(got)
	require.NoError(t, err)
	assert.JSONEq(t, `{"total_balance":"0.00000000","total_claimed_today":"0.00000000",
		"successful_claims":0,"failed_claims":1,"active_sessions":0}`, string(b))
}

type brokenLogs struct{ claimlog.Store }

func (brokenLogs) Summary(context.Context, time.Time) (claimlog.Summary, error) {
	return claimlog.Summary{}, errors.New("connection refused")
}

func TestWalletStats_StoreError(t *testing.T) {
	s := newService(brokenLogs{claimlog.NewMemoryStore()}, wallet.NewMemoryStore(), 0)
	_, err := s.WalletStats(context.Background())
	assert.ErrorContains(t, err, "connection refused")

	_, err = s.Snapshot(context.Background())
	assert.Error(t, err)
}
