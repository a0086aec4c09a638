/************************************************************************************
 *
 * gatewire, a Lightweight Go client for the Discord Gateway protocol
 *
 * SPDX-License-Identifier: BSD-3-Clause
 *
 ************************************************************************************/

// Package ratelimit provides a first-come-first-served token bucket that
// bounds the number of grants within any rolling time window.
package ratelimit

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// WindowLimiter grants at most permits acquisitions within any rolling
// window-sized interval. Waiters are served in arrival (FIFO) order; a
// waiter whose context is cancelled before it is granted never consumes a
// permit.
type WindowLimiter struct {
	permits int
	window  time.Duration

	mu      sync.Mutex
	grants  *list.List // list of time.Time, oldest first, within the last window
	waiters *list.List // list of *list.Element tickets, FIFO arrival order

	now func() time.Time // overridable for tests
}

// NewWindowLimiter constructs a limiter allowing permits grants per rolling
// window. Matches the Gateway's documented outbound limit of 120 frames per
// 60 seconds when constructed as NewWindowLimiter(120, 60*time.Second).
func NewWindowLimiter(permits int, window time.Duration) *WindowLimiter {
	if permits <= 0 {
		permits = 1
	}
	return &WindowLimiter{
		permits: permits,
		window:  window,
		grants:  list.New(),
		waiters: list.New(),
		now:     time.Now,
	}
}

// Acquire blocks until a permit is available, or ctx is done. On
// cancellation, Acquire returns ctx.Err() and does not consume a permit.
func (l *WindowLimiter) Acquire(ctx context.Context) error {
	l.mu.Lock()
	ticket := l.waiters.PushBack(struct{}{})
	l.mu.Unlock()

	for {
		l.mu.Lock()
		l.evictExpired()

		if l.waiters.Front() == ticket && l.grants.Len() < l.permits {
			l.waiters.Remove(ticket)
			l.grants.PushBack(l.now())
			l.mu.Unlock()
			return nil
		}
		wait := l.nextWakeLocked()
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			l.removeWaiter(ticket)
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// evictExpired drops grants older than the rolling window. Caller must hold mu.
func (l *WindowLimiter) evictExpired() {
	cutoff := l.now().Add(-l.window)
	for e := l.grants.Front(); e != nil; {
		next := e.Next()
		if e.Value.(time.Time).Before(cutoff) {
			l.grants.Remove(e)
		}
		e = next
	}
}

// nextWakeLocked returns how long to sleep before the caller should recheck
// whether a permit has freed up. Caller must hold mu.
func (l *WindowLimiter) nextWakeLocked() time.Duration {
	if e := l.grants.Front(); e != nil {
		until := e.Value.(time.Time).Add(l.window).Sub(l.now())
		if until > 0 {
			return until
		}
	}
	return 5 * time.Millisecond
}

func (l *WindowLimiter) removeWaiter(ticket *list.Element) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.waiters.Remove(ticket)
}
