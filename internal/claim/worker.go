package claim

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/mbd888/faucetd/internal/btc"
	"github.com/mbd888/faucetd/internal/catalog"
	"github.com/mbd888/faucetd/internal/circuitbreaker"
	"github.com/mbd888/faucetd/internal/logging"
)

// Worker runs claim attempts. One Worker is shared by every session; use
// WithSolver to get a copy that hands CAPTCHA images to a solver.
type Worker struct {
	browser   Browser
	timeouts  Timeouts
	solver    Solver
	breaker   *circuitbreaker.Breaker
	cooldowns *Cooldowns
	reward    func(min, max btc.Amount) btc.Amount
	sleep     func(ctx context.Context, d time.Duration) error
	logger    *slog.Logger
}

// Option configures a Worker.
type Option func(*Worker)

func WithTimeouts(t Timeouts) Option { return func(w *Worker) { w.timeouts = t } }

// WithBreaker short-circuits attempts against sites the breaker has opened.
func WithBreaker(b *circuitbreaker.Breaker) Option { return func(w *Worker) { w.breaker = b } }

// WithCooldowns reports cooldown instead of attempting sites claimed too recently.
func WithCooldowns(c *Cooldowns) Option { return func(w *Worker) { w.cooldowns = c } }

// WithRewardFunc replaces uniform sampling of the reward range.
func WithRewardFunc(fn func(min, max btc.Amount) btc.Amount) Option { return func(w *Worker) { w.reward = fn } }

// WithSleep replaces the settle wait. Tests pass a no-op.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(w *Worker) { w.sleep = fn }
}

func WithLogger(l *slog.Logger) Option { return func(w *Worker) { w.logger = l } }

// NewWorker creates a worker over browser.
func NewWorker(browser Browser, opts ...Option) *Worker {
	w := &Worker{
		browser:  browser,
		timeouts: DefaultTimeouts(),
		reward:   uniformReward,
		sleep:    sleepCtx,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// WithSolver returns a copy of w that submits detected CAPTCHA images to s.
// The recognized text is logged only; a CAPTCHA still fails the attempt.
func (w *Worker) WithSolver(s Solver) *Worker {
	cp := *w
	cp.solver = s
	return &cp
}

func uniformReward(min, max btc.Amount) btc.Amount {
	if max <= min {
		return min
	}
	return min + btc.Amount(rand.Int64N(int64(max-min)+1))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Attempt claims site through resource. It always returns an Outcome:
// errors and panics are folded into a failed outcome, and the browsing
// context is closed on every path.
func (w *Worker) Attempt(ctx context.Context, site catalog.FaucetSite, resource string) (out Outcome) {
	out = Outcome{Site: site.Name, Status: StatusFailed}
	log := logging.L(ctx).With("site", site.Name)

	defer func() {
		if r := recover(); r != nil {
			out = Outcome{Site: site.Name, Status: StatusFailed, Error: fmt.Sprintf("panic: %v", r)}
			log.Error("claim attempt panicked", "panic", r)
		}
		w.record(site.Name, resource, out)
	}()

	if w.breaker != nil && !w.breaker.Allow(site.Name) {
		out.Error = ErrCircuitOpen.Error()
		return out
	}
	if w.cooldowns != nil && !w.cooldowns.Ready(site.Name, resource, site.Cooldown) {
		out.Status = StatusCooldown
		return out
	}

	page, err := w.browser.NewContext(ctx, resource)
	if err != nil {
		out.Error = fmt.Sprintf("open context: %v", err)
		return out
	}
	if page == nil {
		out.Error = ErrNoContext.Error()
		return out
	}
	defer func() {
		if cerr := page.Close(); cerr != nil {
			log.Warn("close browsing context", "error", cerr)
		}
	}()

	if err := w.step(ctx, w.timeouts.Navigation, func(c context.Context) error {
		return page.Navigate(c, site.URL)
	}); err != nil {
		out.Error = fmt.Sprintf("navigate: %v", err)
		return out
	}
	if err := w.sleep(ctx, w.timeouts.PageSettle); err != nil {
		out.Error = err.Error()
		return out
	}

	if src, found := w.probe(ctx, page); found {
		out.Status = StatusCaptchaFailed
		w.offerCaptcha(ctx, log, src)
		return out
	}

	if err := w.step(ctx, w.timeouts.Click, func(c context.Context) error {
		return page.Click(c, site.ClaimSelector)
	}); err != nil {
		out.Error = fmt.Sprintf("click %s: %v", site.ClaimSelector, err)
		return out
	}
	if err := w.sleep(ctx, w.timeouts.ClaimSettle); err != nil {
		out.Error = err.Error()
		return out
	}

	return Outcome{Site: site.Name, Status: StatusSuccess, Amount: w.reward(site.RewardMin, site.RewardMax)}
}

// probe treats a timeout or probe error as "no CAPTCHA".
func (w *Worker) probe(ctx context.Context, page Page) (string, bool) {
	pctx, cancel := withTimeout(ctx, w.timeouts.CaptchaProbe)
	defer cancel()
	src, found, err := page.Probe(pctx, CaptchaSelector)
	if err != nil {
		return "", false
	}
	return src, found
}

func (w *Worker) offerCaptcha(ctx context.Context, log *slog.Logger, src string) {
	if w.solver == nil || src == "" {
		return
	}
	text, err := w.solver.Submit(ctx, src)
	if err != nil {
		log.Debug("captcha recognition failed", "error", err)
		return
	}
	log.Debug("captcha recognized", "text", text)
}

func (w *Worker) step(ctx context.Context, d time.Duration, fn func(context.Context) error) error {
	sctx, cancel := withTimeout(ctx, d)
	defer cancel()
	return fn(sctx)
}

func (w *Worker) record(site, resource string, out Outcome) {
	if w.breaker != nil && out.Error != ErrCircuitOpen.Error() {
		switch out.Status {
		case StatusSuccess, StatusCaptchaFailed:
			w.breaker.Success(site)
		case StatusFailed:
			w.breaker.Failure(site)
		}
	}
	if w.cooldowns != nil && out.Status == StatusSuccess {
		w.cooldowns.Claimed(site, resource)
	}
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
