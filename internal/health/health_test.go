package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func healthy(name string) Checker {
	return func(context.Context) Status { return Status{Name: name, Healthy: true} }
}

func TestRegistryEmpty(t *testing.T) {
	ok, statuses := NewRegistry().CheckAll(context.Background())
	assert.True(t, ok)
	assert.Empty(t, statuses)
}

func TestRegistryKeepsOrder(t *testing.T) {
	r := NewRegistry()
	r.Register(healthy("database"))
	r.Register(Running("realtime", func() bool { return false }))
	r.Register(healthy("reaper"))

	ok, statuses := r.CheckAll(context.Background())
	assert.False(t, ok)
	require.Len(t, statuses, 3)
	assert.Equal(t, "database", statuses[0].Name)
	assert.Equal(t, Status{Name: "realtime", Detail: "not running"}, statuses[1])
	assert.True(t, statuses[2].Healthy)
}

func TestRegistryTimesOutSlowChecks(t *testing.T) {
	r := NewRegistry()
	r.timeout = 20 * time.Millisecond
	r.Register(func(ctx context.Context) Status {
		<-ctx.Done()
		return Status{Name: "slow", Detail: ctx.Err().Error()}
	})

	start := time.Now()
	ok, statuses := r.CheckAll(context.Background())
	assert.False(t, ok)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, context.DeadlineExceeded.Error(), statuses[0].Detail)
}

func TestReadyHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	up := true
	r := NewRegistry()
	r.Register(Running("hub", func() bool { return up }))

	router := gin.New()
	router.GET("/health/live", LiveHandler())
	router.GET("/health/ready", r.ReadyHandler())

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	up = false
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var body struct {
		Status string   `json:"status"`
		Checks []Status `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body.Status)
	require.Len(t, body.Checks, 1)
	assert.False(t, body.Checks[0].Healthy)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
