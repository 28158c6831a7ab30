package claim

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync/atomic"
	"time"
)

// ErrSimulatedFailure is returned by simulated navigations chosen to fail.
var ErrSimulatedFailure = errors.New("simulated navigation failure")

// SimulatedConfig tunes SimulatedBrowser.
type SimulatedConfig struct {
	CaptchaRate float64       // probability a page shows a CAPTCHA
	FailureRate float64       // probability navigation fails
	Latency     time.Duration // per navigation
}

// SimulatedBrowser stands in for real page automation. It does no network
// I/O; outcomes are drawn from the configured rates.
type SimulatedBrowser struct {
	cfg    SimulatedConfig
	roll   func() float64
	open   atomic.Int64
	opened atomic.Int64
}

// NewSimulatedBrowser returns a browser with the given rates.
func NewSimulatedBrowser(cfg SimulatedConfig) *SimulatedBrowser {
	return &SimulatedBrowser{cfg: cfg, roll: rand.Float64}
}

// NewContext opens a simulated page. The resource is only recorded.
func (b *SimulatedBrowser) NewContext(ctx context.Context, resource string) (Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.open.Add(1)
	b.opened.Add(1)
	return &simPage{b: b, resource: resource}, nil
}

// OpenContexts is the number of pages not yet closed.
func (b *SimulatedBrowser) OpenContexts() int64 { return b.open.Load() }

// TotalContexts is the number of pages ever opened.
func (b *SimulatedBrowser) TotalContexts() int64 { return b.opened.Load() }

type simPage struct {
	b        *SimulatedBrowser
	resource string
	closed   atomic.Bool
}

func (p *simPage) Navigate(ctx context.Context, url string) error {
	if err := sleepCtx(ctx, p.b.cfg.Latency); err != nil {
		return err
	}
	if p.b.roll() < p.b.cfg.FailureRate {
		return fmt.Errorf("%w: %s", ErrSimulatedFailure, url)
	}
	return nil
}

func (p *simPage) Probe(ctx context.Context, selector string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	if p.b.roll() < p.b.cfg.CaptchaRate {
		return fmt.Sprintf("/captcha/%d.png", rand.Uint32()), true, nil
	}
	return "", false, nil
}

func (p *simPage) Click(ctx context.Context, selector string) error {
	return ctx.Err()
}

func (p *simPage) Close() error {
	if p.closed.CompareAndSwap(false, true) {
		p.b.open.Add(-1)
	}
	return nil
}
