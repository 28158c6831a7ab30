// Package captcha moves CAPTCHA recognition off the claim goroutines.
//
// Recognition is potentially CPU-bound, so a Pool runs a fixed number of
// solver goroutines fed through a queue. Claim workers block on Submit
// rather than decoding images themselves.
package captcha

import (
	"context"
	"errors"
	"sync"
)

var (
	ErrPoolClosed = errors.New("captcha: pool closed")
	ErrEmptyImage = errors.New("captcha: empty image reference")
)

// Solver turns a CAPTCHA image reference into text.
type Solver interface {
	Solve(ctx context.Context, image string) (string, error)
}

// SolverFunc adapts a function to Solver.
type SolverFunc func(ctx context.Context, image string) (string, error)

func (f SolverFunc) Solve(ctx context.Context, image string) (string, error) {
	return f(ctx, image)
}

// NoopSolver recognizes nothing and always returns "".
type NoopSolver struct{}

func (NoopSolver) Solve(context.Context, string) (string, error) { return "", nil }

type result struct {
	text string
	err  error
}

type job struct {
	ctx   context.Context
	image string
	out   chan result
}

// Pool is a fixed-size group of solver goroutines.
type Pool struct {
	solver Solver
	jobs   chan job

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewPool starts workers goroutines draining a queue of the same depth.
func NewPool(solver Solver, workers int) *Pool {
	if solver == nil {
		solver = NoopSolver{}
	}
	if workers <= 0 {
		workers = 1
	}
	p := &Pool{
		solver: solver,
		jobs:   make(chan job, workers),
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.run()
	}
	return p
}

func (p *Pool) run() {
	defer p.wg.Done()
	for j := range p.jobs {
		if err := j.ctx.Err(); err != nil {
			j.out <- result{err: err}
			continue
		}
		text, err := p.solve(j)
		j.out <- result{text: text, err: err}
	}
}

func (p *Pool) solve(j job) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New("captcha: solver panicked")
		}
	}()
	return p.solver.Solve(j.ctx, j.image)
}

// Submit queues image and waits for its text, or for ctx to end.
func (p *Pool) Submit(ctx context.Context, image string) (string, error) {
	if image == "" {
		return "", ErrEmptyImage
	}

	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return "", ErrPoolClosed
	}
	j := job{ctx: ctx, image: image, out: make(chan result, 1)}
	select {
	case p.jobs <- j:
		p.mu.RUnlock()
	case <-ctx.Done():
		p.mu.RUnlock()
		return "", ctx.Err()
	}

	select {
	case r := <-j.out:
		return r.text, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Close stops accepting work and waits for queued jobs to finish.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()
	p.wg.Wait()
}
