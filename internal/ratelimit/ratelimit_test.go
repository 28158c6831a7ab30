package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
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

func newLimiter(t *testing.T, rpm, burst int) (*Limiter, *clock) {
	t.Helper()
	clk := &clock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := New(Config{RequestsPerMinute: rpm, BurstSize: burst, IdleTTL: time.Hour})
	l.now = clk.Now
	t.Cleanup(l.Stop)
	return l, clk
}

func TestLimiter_BurstThenRefill(t *testing.T) {
	l, clk := newLimiter(t, 60, 5)

	for i := 0; i < 5; i++ {
		assert.True(t, l.Allow("ip"), "request %d within burst", i)
	}
	ok, wait := l.Reserve("ip")
	assert.False(t, ok)
	assert.InDelta(t, time.Second.Seconds(), wait.Seconds(), 0.01)

	clk.Advance(time.Second)
	assert.True(t, l.Allow("ip"))
	assert.False(t, l.Allow("ip"))
}

func TestLimiter_ClientsAreIndependent(t *testing.T) {
	l, _ := newLimiter(t, 60, 2)

	assert.True(t, l.Allow("a"))
	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))
	assert.True(t, l.Allow("b"))
	assert.Equal(t, 2, l.Len())
}

func TestLimiter_Disabled(t *testing.T) {
	l, _ := newLimiter(t, 0, 1)
	for i := 0; i < 100; i++ {
		require.True(t, l.Allow("ip"))
	}
	assert.Zero(t, l.Len())
}

func TestLimiter_SweepDropsIdleClients(t *testing.T) {
	l, clk := newLimiter(t, 60, 1)
	l.Allow("old")
	clk.Advance(2 * time.Hour)
	l.Allow("new")

	l.sweep()
	assert.Equal(t, 1, l.Len())
}

func TestMiddleware_Returns429(t *testing.T) {
	gin.SetMode(gin.TestMode)
	l, _ := newLimiter(t, 60, 1)

	r := gin.New()
	r.Use(l.Middleware())
	r.GET("/api/", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), "rate_limit_exceeded")
}
