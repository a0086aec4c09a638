package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWindowLimiter_AllowsBurstUpToPermits(t *testing.T) {
	l := NewWindowLimiter(3, time.Minute)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, l.Acquire(ctx))
	}
}

func TestWindowLimiter_BlocksBeyondPermitsWithinWindow(t *testing.T) {
	l := NewWindowLimiter(1, time.Hour)
	ctx := context.Background()
	require.NoError(t, l.Acquire(ctx))

	acquireCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	err := l.Acquire(acquireCtx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWindowLimiter_CancelledWaiterDoesNotConsumePermit(t *testing.T) {
	l := NewWindowLimiter(1, time.Hour)
	ctx := context.Background()
	require.NoError(t, l.Acquire(ctx))

	cancelCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- l.Acquire(cancelCtx) }()
	time.Sleep(10 * time.Millisecond)
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	// The permit slot must still read as occupied by the first grant only;
	// a fresh window makes it available once the window elapses, not sooner.
	l.mu.Lock()
	grants := l.grants.Len()
	l.mu.Unlock()
	assert.Equal(t, 1, grants)
}

func TestWindowLimiter_RollsForwardAfterWindowElapses(t *testing.T) {
	l := NewWindowLimiter(1, 30*time.Millisecond)
	ctx := context.Background()
	require.NoError(t, l.Acquire(ctx))

	start := time.Now()
	require.NoError(t, l.Acquire(ctx))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestWindowLimiter_FIFOOrdering(t *testing.T) {
	l := NewWindowLimiter(1, 20*time.Millisecond)
	ctx := context.Background()
	require.NoError(t, l.Acquire(ctx))

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	for i := 1; i <= 3; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			time.Sleep(time.Duration(n) * time.Millisecond) // stagger arrival
			require.NoError(t, l.Acquire(ctx))
			mu.Lock()
			order = append(order, n)
			mu.Unlock()
		}(i)
		time.Sleep(2 * time.Millisecond) // ensure stable arrival order before next goroutine
	}
	wg.Wait()
	assert.Equal(t, []int{1, 2, 3}, order)
}
