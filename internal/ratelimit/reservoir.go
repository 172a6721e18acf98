package ratelimit

import (
	"context"
	"sync"
	"time"
)

// reservoir is a discrete-refill token bucket: it holds up to capacity
// tokens, resets to full capacity on a fixed interval (rather than
// trickling tokens in continuously), and blocks acquirers when empty.
// golang.org/x/time/rate models continuous refill, not this discrete
// reset-to-full behavior, so this is hand-rolled on top of a mutex and a
// closed-channel broadcast, the same wake-all-waiters shape used
// elsewhere in this codebase for coalescing.
type reservoir struct {
	capacity int

	mu     sync.Mutex
	tokens int
	notify chan struct{}
}

func newReservoir(capacity int) *reservoir {
	return &reservoir{
		capacity: capacity,
		tokens:   capacity,
		notify:   make(chan struct{}),
	}
}

// acquire blocks until a token is available or ctx is done.
func (r *reservoir) acquire(ctx context.Context) error {
	for {
		r.mu.Lock()
		if r.tokens > 0 {
			r.tokens--
			r.mu.Unlock()
			return nil
		}
		wake := r.notify
		r.mu.Unlock()

		select {
		case <-wake:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// refillLoop resets the reservoir to full capacity every interval until ctx
// is cancelled.
func (r *reservoir) refillLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.mu.Lock()
			r.tokens = r.capacity
			wake := r.notify
			r.notify = make(chan struct{})
			r.mu.Unlock()
			close(wake)
		}
	}
}
