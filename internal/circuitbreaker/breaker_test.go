package circuitbreaker

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestBreaker(threshold int) (*Breaker, *fakeClock) {
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	return New(threshold, time.Minute, WithClock(clk.Now)), clk
}

func TestBreaker_ClosedByDefault(t *testing.T) {
	b, _ := newTestBreaker(3)
	assert.True(t, b.Allow("Cointiply"))
	assert.Equal(t, StateClosed, b.State("Cointiply"))
}

func TestBreaker_OpensAtThreshold(t *testing.T) {
	b, _ := newTestBreaker(3)

	b.Failure("a")
	b.Failure("a")
	assert.True(t, b.Allow("a"))

	b.Failure("a")
	assert.False(t, b.Allow("a"))
	assert.Equal(t, StateOpen, b.State("a"))
	assert.Equal(t, []string{"a"}, b.Open())

	// other keys are unaffected
	assert.True(t, b.Allow("b"))
}

func TestBreaker_SuccessResetsStreak(t *testing.T) {
	b, _ := newTestBreaker(2)
	b.Failure("a")
	b.Success("a")
	b.Failure("a")
	assert.Equal(t, StateClosed, b.State("a"))
}

func TestBreaker_HalfOpenAdmitsSingleProbe(t *testing.T) {
	b, clk := newTestBreaker(1)
	b.Failure("a")
	require.False(t, b.Allow("a"))

	clk.Advance(time.Minute)
	assert.True(t, b.Allow("a"))
	assert.Equal(t, StateHalfOpen, b.State("a"))
	assert.False(t, b.Allow("a"), "second caller while probing")

	b.Success("a")
	assert.Equal(t, StateClosed, b.State("a"))
	assert.True(t, b.Allow("a"))
}

func TestBreaker_FailedProbeReopens(t *testing.T) {
	b, clk := newTestBreaker(1)
	b.Failure("a")
	clk.Advance(time.Minute)
	require.True(t, b.Allow("a"))

	b.Failure("a")
	assert.Equal(t, StateOpen, b.State("a"))
	assert.False(t, b.Allow("a"))
}

func TestBreaker_TransitionHookAndReset(t *testing.T) {
	var got []string
	b := New(1, time.Minute, WithTransitionHook(func(key string, from, to State) {
		got = append(got, key+":"+from.String()+"->"+to.String())
	}))
	b.Failure("a")
	assert.Equal(t, []string{"a:closed->open"}, got)

	b.Reset("a")
	assert.Equal(t, StateClosed, b.State("a"))
	assert.Empty(t, b.Open())
}

func TestBreaker_Defaults(t *testing.T) {
	b := New(0, 0)
	assert.Equal(t, 5, b.threshold)
	assert.Equal(t, 30*time.Second, b.cooldown)
}

func TestBreaker_ConcurrentUse(t *testing.T) {
	b := New(1000, time.Minute)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				b.Allow("k")
				b.Failure("k")
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, StateOpen, b.State("k"))
}
