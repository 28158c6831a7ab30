// Package claim performs one claim attempt against one faucet site.
//
// A Worker drives a Browser through navigate, CAPTCHA probe, click and
// reports an Outcome. It never touches the session registry or any store;
// the orchestrator's aggregator consumes outcomes.
package claim

import (
	"context"
	"errors"
	"time"

	"github.com/mbd888/faucetd/internal/btc"
)

// Status of a single attempt.
type Status string

const (
	StatusSuccess       Status = "success"
	StatusFailed        Status = "failed"
	StatusCaptchaFailed Status = "captcha_failed"
	StatusCooldown      Status = "cooldown"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusCaptchaFailed, StatusCooldown:
		return true
	}
	return false
}

// CaptchaSelector locates a CAPTCHA challenge image.
const CaptchaSelector = `img[src*="captcha"]`

var (
	ErrCircuitOpen = errors.New("circuit open")
	ErrNoContext   = errors.New("claim: browser returned no page")
)

// Outcome is the result of one attempt. Amount is satoshis and is zero
// unless Status is success.
type Outcome struct {
	Site   string     `json:"site"`
	Status Status     `json:"status"`
	Amount btc.Amount `json:"amount"`
	Error  string     `json:"error,omitempty"`
}

// Browser opens isolated browsing contexts routed through an egress
// resource. An empty resource means direct egress.
type Browser interface {
	NewContext(ctx context.Context, resource string) (Page, error)
}

// Page is one isolated browsing context.
type Page interface {
	Navigate(ctx context.Context, url string) error
	// Probe looks for selector and returns the element's src attribute.
	// A missing element is found == false with a nil error.
	Probe(ctx context.Context, selector string) (src string, found bool, err error)
	Click(ctx context.Context, selector string) error
	Close() error
}

// Solver recognizes CAPTCHA images. captcha.Pool satisfies it.
type Solver interface {
	Submit(ctx context.Context, image string) (string, error)
}

// Timeouts bounds each step of an attempt.
type Timeouts struct {
	Navigation   time.Duration
	PageSettle   time.Duration
	CaptchaProbe time.Duration
	Click        time.Duration
	ClaimSettle  time.Duration
}

// DefaultTimeouts are 30s navigation, 2s settle, 5s probe, 10s click, 3s post-claim settle.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Navigation:   30 * time.Second,
		PageSettle:   2 * time.Second,
		CaptchaProbe: 5 * time.Second,
		Click:        10 * time.Second,
		ClaimSettle:  3 * time.Second,
	}
}
