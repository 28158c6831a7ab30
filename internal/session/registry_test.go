package session

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/faucetd/internal/logging"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newClock() *clock {
	return &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func TestConfigValidate(t *testing.T) {
	ok := DefaultConfig()
	require.NoError(t, ok.Validate())

	tests := []struct {
		name  string
		mod   func(*Config)
		field string
	}{
		{"zero multiplicity", func(c *Config) { c.WorkerMultiplicity = 0 }, "session_count"},
		{"too many", func(c *Config) { c.WorkerMultiplicity = MaxMultiplicity + 1 }, "session_count"},
		{"negative threshold", func(c *Config) { c.WithdrawalThreshold = -1 }, "withdrawal_threshold"},
		{"bad address", func(c *Config) { c.WithdrawalAddress = "0xdeadbeef" }, "withdrawal_address"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mod(&cfg)
			err := cfg.Validate()
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}

	// address only matters when auto-withdrawal is on
	cfg := DefaultConfig()
	cfg.AutoWithdrawal = false
	cfg.WithdrawalAddress = ""
	assert.NoError(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.WorkerMultiplicity = MaxMultiplicity
	assert.NoError(t, cfg.Validate())
}

func TestRegistry_CreateAndGet(t *testing.T) {
	clk := newClock()
	r := NewRegistry(WithClock(clk.Now))

	rec, err := r.Create("s1", DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, rec.Status)
	assert.Equal(t, "s1", rec.Config.ID)
	assert.Equal(t, clk.Now(), rec.StartTime)
	assert.Nil(t, rec.EndTime)

	got, err := r.Get("s1")
	require.NoError(t, err)
	assert.Equal(t, rec, got)

	_, err = r.Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegistry_CreateRunningDuplicateDoesNotMutate(t *testing.T) {
	r := NewRegistry()
	_, err := r.Create("s1", DefaultConfig())
	require.NoError(t, err)
	r.UpdateStats("s1", Stats{TotalClaims: 3, SuccessfulClaims: 2, FailedClaims: 1, TotalEarned: 40})
	before, _ := r.Get("s1")

	cfg := DefaultConfig()
	cfg.WorkerMultiplicity = 99
	_, err = r.Create("s1", cfg)
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	after, _ := r.Get("s1")
	assert.Equal(t, before, after)
}

func TestRegistry_CreateReplacesEndedSession(t *testing.T) {
	r := NewRegistry()
	_, _ = r.Create("s1", DefaultConfig())
	r.UpdateStats("s1", Stats{TotalClaims: 1, FailedClaims: 1})
	require.True(t, r.Finish("s1", StatusCompleted, ""))

	rec, err := r.Create("s1", DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, rec.Status)
	assert.Zero(t, rec.Stats.TotalClaims)
}

func TestRegistry_GetReturnsCopy(t *testing.T) {
	r := NewRegistry()
	_, _ = r.Create("s1", DefaultConfig())

	got, _ := r.Get("s1")
	got.Status = StatusFailed
	got.Stats.TotalClaims = 100

	again, _ := r.Get("s1")
	assert.Equal(t, StatusRunning, again.Status)
	assert.Zero(t, again.Stats.TotalClaims)
}

func TestRegistry_StopIsAdvisoryAndFinishKeepsStopped(t *testing.T) {
	r := NewRegistry()
	_, _ = r.Create("s1", DefaultConfig())

	assert.ErrorIs(t, r.Stop("nope"), ErrNotFound)
	require.NoError(t, r.Stop("s1"))

	st, ok := r.Status("s1")
	require.True(t, ok)
	assert.Equal(t, StatusStopped, st)

	rec, _ := r.Get("s1")
	assert.Nil(t, rec.EndTime, "a stopped session may still have work in flight")

	assert.False(t, r.Finish("s1", StatusCompleted, ""))
	rec, _ = r.Get("s1")
	assert.Equal(t, StatusStopped, rec.Status)
	assert.NotNil(t, rec.EndTime)
}

func TestRegistry_MarkAndFinish(t *testing.T) {
	r := NewRegistry()
	r.Mark("ghost", StatusFailed, "x") // no-op
	assert.Zero(t, r.Len())

	_, _ = r.Create("s1", DefaultConfig())
	assert.True(t, r.Finish("s1", StatusFailed, "boom"))
	rec, _ := r.Get("s1")
	assert.Equal(t, StatusFailed, rec.Status)
	assert.Equal(t, "boom", rec.Error)
	assert.NotNil(t, rec.EndTime)

	r.Mark("s1", StatusCompleted, "")
	rec, _ = r.Get("s1")
	assert.Equal(t, StatusCompleted, rec.Status)
	assert.Empty(t, rec.Error)
}

func TestRegistry_UpdateStatsConcurrent(t *testing.T) {
	r := NewRegistry()
	_, _ = r.Create("s1", DefaultConfig())
	r.UpdateStats("ghost", Stats{TotalClaims: 1})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				r.UpdateStats("s1", Stats{TotalClaims: 1, SuccessfulClaims: 1, TotalEarned: 10})
			} else {
				r.UpdateStats("s1", Stats{TotalClaims: 1, FailedClaims: 1})
			}
		}(i)
	}
	wg.Wait()

	rec, _ := r.Get("s1")
	assert.Equal(t, int64(50), rec.Stats.TotalClaims)
	assert.Equal(t, rec.Stats.TotalClaims, rec.Stats.SuccessfulClaims+rec.Stats.FailedClaims)
	assert.EqualValues(t, 250, rec.Stats.TotalEarned)
}

func TestRegistry_ListAndCount(t *testing.T) {
	clk := newClock()
	r := NewRegistry(WithClock(clk.Now))
	for _, id := range []string{"c", "a", "b"} {
		_, _ = r.Create(id, DefaultConfig())
		clk.Advance(time.Second)
	}
	r.Finish("b", StatusCompleted, "")

	assert.Equal(t, []string{"a", "b", "c"}, r.ListIDs())
	assert.Equal(t, 2, r.CountRunning())
}

func TestRegistry_ObserverSeesStatusChanges(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	r := NewRegistry(WithObserver(func(rec Record) {
		mu.Lock()
		seen = append(seen, fmt.Sprintf("%s:%s", rec.ID, rec.Status))
		mu.Unlock()
	}))

	_, _ = r.Create("s1", DefaultConfig())
	r.UpdateStats("s1", Stats{TotalClaims: 1, FailedClaims: 1})
	_ = r.Stop("s1")
	_ = r.Stop("s1")
	r.Finish("s1", StatusCompleted, "")

	assert.Equal(t, []string{"s1:running", "s1:stopped"}, seen)
}

func TestRegistry_Evict(t *testing.T) {
	clk := newClock()
	r := NewRegistry(WithClock(clk.Now))
	_, _ = r.Create("old", DefaultConfig())
	_, _ = r.Create("live", DefaultConfig())
	_, _ = r.Create("stopped", DefaultConfig())
	r.Finish("old", StatusCompleted, "")
	_ = r.Stop("stopped")

	clk.Advance(2 * time.Hour)
	n := r.Evict(clk.Now().Add(-time.Hour))
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"live", "stopped"}, r.ListIDs())
}

func TestReaper_Sweep(t *testing.T) {
	clk := newClock()
	r := NewRegistry(WithClock(clk.Now))
	_, _ = r.Create("done", DefaultConfig())
	r.Finish("done", StatusCompleted, "")

	reaper := NewReaper(r, time.Hour, logging.Discard())
	reaper.now = clk.Now

	assert.Zero(t, reaper.Sweep())
	clk.Advance(61 * time.Minute)
	assert.Equal(t, 1, reaper.Sweep())
	assert.Zero(t, r.Len())
}

func TestReaper_StartStop(t *testing.T) {
	reaper := NewReaper(NewRegistry(), 0, logging.Discard())
	assert.Equal(t, DefaultTTL, reaper.ttl)
	assert.Equal(t, time.Hour, reaper.interval)

	done := make(chan struct{})
	go func() {
		reaper.Start(t.Context())
		close(done)
	}()
	require.Eventually(t, reaper.Running, time.Second, 5*time.Millisecond)
	reaper.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reaper did not stop")
	}
	assert.False(t, reaper.Running())
}
