package claim

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/faucetd/internal/btc"
	"github.com/mbd888/faucetd/internal/catalog"
	"github.com/mbd888/faucetd/internal/circuitbreaker"
)

// fakePage is scripted per test; every hook is optional.
type fakePage struct {
	navigate func(ctx context.Context, url string) error
	probe    func(ctx context.Context, selector string) (string, bool, error)
	click    func(ctx context.Context, selector string) error

	mu      sync.Mutex
	closed  int
	clicked []string
}

func (p *fakePage) Navigate(ctx context.Context, url string) error {
	if p.navigate != nil {
		return p.navigate(ctx, url)
	}
	return nil
}

func (p *fakePage) Probe(ctx context.Context, selector string) (string, bool, error) {
	if p.probe != nil {
		return p.probe(ctx, selector)
	}
	return "", false, nil
}

func (p *fakePage) Click(ctx context.Context, selector string) error {
	p.mu.Lock()
	p.clicked = append(p.clicked, selector)
	p.mu.Unlock()
	if p.click != nil {
		return p.click(ctx, selector)
	}
	return nil
}

func (p *fakePage) Close() error {
	p.mu.Lock()
	p.closed++
	p.mu.Unlock()
	return nil
}

type fakeBrowser struct {
	page      *fakePage
	err       error
	resources []string
}

func (b *fakeBrowser) NewContext(_ context.Context, resource string) (Page, error) {
	b.resources = append(b.resources, resource)
	if b.err != nil {
		return nil, b.err
	}
	return b.page, nil
}

type recordingSolver struct {
	mu     sync.Mutex
	images []string
}

func (s *recordingSolver) Submit(_ context.Context, image string) (string, error) {
	s.mu.Lock()
	s.images = append(s.images, image)
	s.mu.Unlock()
	return "abc", nil
}

func noSleep(context.Context, time.Duration) error { return nil }

var testSite = catalog.FaucetSite{
	Name:          "Cointiply",
	URL:           "https://cointiply.com/faucet",
	ClaimSelector: "#claim-btn",
	Cooldown:      time.Hour,
	RewardMin:     200,
	RewardMax:     300,
	Active:        true,
}

func newTestWorker(b Browser, opts ...Option) *Worker {
	return NewWorker(b, append([]Option{WithSleep(noSleep)}, opts...)...)
}

func TestAttempt_Success(t *testing.T) {
	page := &fakePage{}
	b := &fakeBrowser{page: page}
	w := newTestWorker(b)

	out := w.Attempt(context.Background(), testSite, "egress-1")

	assert.Equal(t, StatusSuccess, out.Status)
	assert.Equal(t, "Cointiply", out.Site)
	assert.GreaterOrEqual(t, out.Amount, btc.Amount(200))
	assert.LessOrEqual(t, out.Amount, btc.Amount(300))
	assert.Empty(t, out.Error)
	assert.Equal(t, []string{"#claim-btn"}, page.clicked)
	assert.Equal(t, []string{"egress-1"}, b.resources)
	assert.Equal(t, 1, page.closed)
}

func TestAttempt_CaptchaPresent(t *testing.T) {
	page := &fakePage{probe: func(_ context.Context, selector string) (string, bool, error) {
		assert.Equal(t, CaptchaSelector, selector)
		return "/img/captcha.png", true, nil
	}}
	solver := &recordingSolver{}
	w := newTestWorker(&fakeBrowser{page: page}).WithSolver(solver)

	out := w.Attempt(context.Background(), testSite, "")

	assert.Equal(t, StatusCaptchaFailed, out.Status)
	assert.Zero(t, out.Amount)
	assert.Empty(t, page.clicked, "claim must not be clicked behind a captcha")
	assert.Equal(t, []string{"/img/captcha.png"}, solver.images)
	assert.Equal(t, 1, page.closed)
}

func TestAttempt_CaptchaWithoutSolver(t *testing.T) {
	page := &fakePage{probe: func(context.Context, string) (string, bool, error) {
		return "/captcha.png", true, nil
	}}
	out := newTestWorker(&fakeBrowser{page: page}).Attempt(context.Background(), testSite, "")
	assert.Equal(t, StatusCaptchaFailed, out.Status)
}

func TestAttempt_ProbeTimeoutIsNotAnError(t *testing.T) {
	page := &fakePage{probe: func(ctx context.Context, _ string) (string, bool, error) {
		<-ctx.Done()
		return "", false, ctx.Err()
	}}
	timeouts := DefaultTimeouts()
	timeouts.CaptchaProbe = 5 * time.Millisecond
	w := newTestWorker(&fakeBrowser{page: page}, WithTimeouts(timeouts))

	out := w.Attempt(context.Background(), testSite, "")
	assert.Equal(t, StatusSuccess, out.Status)
}

func TestAttempt_NavigationTimeout(t *testing.T) {
	page := &fakePage{navigate: func(ctx context.Context, _ string) error {
		<-ctx.Done()
		return ctx.Err()
	}}
	timeouts := DefaultTimeouts()
	timeouts.Navigation = 5 * time.Millisecond
	w := newTestWorker(&fakeBrowser{page: page}, WithTimeouts(timeouts))

	out := w.Attempt(context.Background(), testSite, "")
	assert.Equal(t, StatusFailed, out.Status)
	assert.Contains(t, out.Error, "navigate")
	assert.Contains(t, out.Error, context.DeadlineExceeded.Error())
	assert.Equal(t, 1, page.closed)
}

func TestAttempt_ClickFailure(t *testing.T) {
	page := &fakePage{click: func(context.Context, string) error {
		return errors.New("element not found")
	}}
	out := newTestWorker(&fakeBrowser{page: page}).Attempt(context.Background(), testSite, "")
	assert.Equal(t, StatusFailed, out.Status)
	assert.Contains(t, out.Error, "element not found")
	assert.Zero(t, out.Amount)
	assert.Equal(t, 1, page.closed)
}

func TestAttempt_ContextOpenFailure(t *testing.T) {
	out := newTestWorker(&fakeBrowser{err: errors.New("browser gone")}).Attempt(context.Background(), testSite, "")
	assert.Equal(t, StatusFailed, out.Status)
	assert.Contains(t, out.Error, "browser gone")
}

func TestAttempt_PanicStillClosesPage(t *testing.T) {
	page := &fakePage{click: func(context.Context, string) error {
		panic("selector engine crashed")
	}}
	out := newTestWorker(&fakeBrowser{page: page}).Attempt(context.Background(), testSite, "")
	assert.Equal(t, StatusFailed, out.Status)
	assert.Contains(t, out.Error, "selector engine crashed")
	assert.Equal(t, 1, page.closed)
}

func TestAttempt_BreakerShortCircuits(t *testing.T) {
	page := &fakePage{navigate: func(context.Context, string) error { return errors.New("503") }}
	b := &fakeBrowser{page: page}
	w := newTestWorker(b, WithBreaker(circuitbreaker.New(2, time.Hour)))

	for i := 0; i < 2; i++ {
		out := w.Attempt(context.Background(), testSite, "")
		require.Equal(t, StatusFailed, out.Status)
	}
	out := w.Attempt(context.Background(), testSite, "")
	assert.Equal(t, StatusFailed, out.Status)
	assert.Equal(t, "circuit open", out.Error)
	assert.Len(t, b.resources, 2, "open circuit must not open a browsing context")
}

func TestAttempt_Cooldown(t *testing.T) {
	w := newTestWorker(&fakeBrowser{page: &fakePage{}}, WithCooldowns(NewCooldowns()))

	first := w.Attempt(context.Background(), testSite, "egress-1")
	require.Equal(t, StatusSuccess, first.Status)

	second := w.Attempt(context.Background(), testSite, "egress-1")
	assert.Equal(t, StatusCooldown, second.Status)
	assert.Zero(t, second.Amount)

	other := w.Attempt(context.Background(), testSite, "egress-2")
	assert.Equal(t, StatusSuccess, other.Status)
}

func TestAttempt_FixedReward(t *testing.T) {
	w := newTestWorker(&fakeBrowser{page: &fakePage{}}, WithRewardFunc(func(min, max btc.Amount) btc.Amount { return max }))
	out := w.Attempt(context.Background(), testSite, "")
	assert.Equal(t, btc.Amount(300), out.Amount)
}

func TestUniformReward_StaysInRange(t *testing.T) {
	for i := 0; i < 1000; i++ {
		v := uniformReward(1, 1000)
		require.GreaterOrEqual(t, v, btc.Amount(1))
		require.LessOrEqual(t, v, btc.Amount(1000))
	}
	assert.Equal(t, btc.Amount(7), uniformReward(7, 7))
}

func TestStatusValid(t *testing.T) {
	assert.True(t, StatusCooldown.Valid())
	assert.False(t, Status("pending").Valid())
}
