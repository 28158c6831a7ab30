package captcha

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_SolvesThroughWorkers(t *testing.T) {
	p := NewPool(SolverFunc(func(_ context.Context, image string) (string, error) {
		return "text:" + image, nil
	}), 2)
	defer p.Close()

	got, err := p.Submit(context.Background(), "/captcha.png")
	require.NoError(t, err)
	assert.Equal(t, "text:/captcha.png", got)
}

func TestPool_BoundsConcurrency(t *testing.T) {
	var active, peak atomic.Int32
	p := NewPool(SolverFunc(func(context.Context, string) (string, error) {
		n := active.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		active.Add(-1)
		return "", nil
	}), 3)
	defer p.Close()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = p.Submit(context.Background(), "img")
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, peak.Load(), int32(3))
}

func TestPool_ContextCancelled(t *testing.T) {
	release := make(chan struct{})
	p := NewPool(SolverFunc(func(context.Context, string) (string, error) {
		<-release
		return "", nil
	}), 1)
	defer func() {
		close(release)
		p.Close()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := p.Submit(ctx, "img")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPool_SolverPanicBecomesError(t *testing.T) {
	p := NewPool(SolverFunc(func(context.Context, string) (string, error) {
		panic("boom")
	}), 1)
	defer p.Close()

	_, err := p.Submit(context.Background(), "img")
	assert.Error(t, err)
}

func TestPool_ClosedAndEmptyImage(t *testing.T) {
	p := NewPool(nil, 1)
	_, err := p.Submit(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyImage)

	text, err := p.Submit(context.Background(), "img")
	require.NoError(t, err)
	assert.Empty(t, text)

	p.Close()
	p.Close()
	_, err = p.Submit(context.Background(), "img")
	assert.ErrorIs(t, err, ErrPoolClosed)
}
