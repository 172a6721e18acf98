// Package ratelimit implements the single global outbound scheduler: a
// minimum inter-job gap, a discrete-refill token reservoir modeling the
// upstream 3,000-per-5-minute ceiling, and a per-job exponential backoff
// policy keyed by job id.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const (
	// baselineMinTime is the default gap between successive job starts.
	baselineMinTime = 110 * time.Millisecond

	// reservoirCapacity is the upstream's 3,000-per-5-minute ceiling minus a
	// 100-token safety margin.
	reservoirCapacity = 2900
	reservoirInterval = 5 * time.Minute

	// backoffSeed is the first retry's delay; each subsequent retry scales
	// the previous delay by (retryCount+1)^1.5.
	backoffSeed = 250 * time.Millisecond
	maxRetries  = 5
)

// RateLimitedError is returned by a scheduled job to signal an upstream 429.
// Header should carry the response's rate-limit headers so the limiter can
// honor a server-advertised reset time.
type RateLimitedError struct {
	StatusCode int
	Header     http.Header
	Err        error
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited (status %d): %v", e.StatusCode, e.Err)
}

func (e *RateLimitedError) Unwrap() error { return e.Err }

// Limiter is the process-wide scheduler. Construct one with New and share
// it; it has no per-call configuration.
type Limiter struct {
	minTime *rate.Limiter

	res *reservoir
	log *slog.Logger

	mu      sync.Mutex
	backoff map[string]backoffState
}

type backoffState struct {
	retryCount int
	lastDelay  time.Duration
}

// New creates a Limiter at the baseline minTime and starts its reservoir
// refill loop. The loop runs until ctx is cancelled. log may be nil, in
// which case retries are not logged.
func New(ctx context.Context, log *slog.Logger) *Limiter {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	l := &Limiter{
		minTime: rate.NewLimiter(rate.Every(baselineMinTime), 1),
		res:     newReservoir(reservoirCapacity),
		log:     log,
		backoff: make(map[string]backoffState),
	}
	go l.res.refillLoop(ctx, reservoirInterval)
	return l
}

// SetMinTime adjusts the minimum gap between job starts. Used by the
// firehose driver's adaptive throttling: a hot upstream widens the gap so
// resolver fan-out doesn't overwhelm the outbound API.
func (l *Limiter) SetMinTime(d time.Duration) {
	l.minTime.SetLimit(rate.Every(d))
}

// Baseline restores the default minTime.
func (l *Limiter) Baseline() {
	l.SetMinTime(baselineMinTime)
}

// Schedule runs fn under the limiter's pacing and reservoir, retrying on
// failure per the backoff policy until it succeeds, is dropped after
// exhausting retries, or ctx is cancelled. id scopes the backoff state: two
// concurrent Schedule calls with the same id share retry counters.
func Schedule[T any](ctx context.Context, l *Limiter, id string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	callID := uuid.NewString()
	for {
		if err := l.res.acquire(ctx); err != nil {
			return zero, err
		}
		if err := l.minTime.Wait(ctx); err != nil {
			return zero, err
		}

		result, err := fn(ctx)
		if err == nil {
			l.clearBackoff(id)
			return result, nil
		}

		delay, retry := l.nextDelay(id, err)
		if !retry {
			l.clearBackoff(id)
			return zero, err
		}

		l.log.Warn("retrying scheduled job", "job", id, "call_id", callID, "delay", delay, "error", err)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

// nextDelay classifies a job failure and returns how long to wait before
// retrying, and whether a retry should happen at all.
func (l *Limiter) nextDelay(id string, err error) (time.Duration, bool) {
	var rlErr *RateLimitedError
	if errors.As(err, &rlErr) && rlErr.StatusCode == 429 {
		if rlErr.Header.Get("ratelimit-remaining") == "0" {
			if reset := rlErr.Header.Get("ratelimit-reset"); reset != "" {
				if unix, perr := strconv.ParseInt(reset, 10, 64); perr == nil {
					delay := time.Until(time.Unix(unix, 0))
					if delay < 0 {
						delay = 0
					}
					return delay, true
				}
			}
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	state := l.backoff[id]
	if state.retryCount >= maxRetries {
		delete(l.backoff, id)
		return 0, false
	}

	current := state.lastDelay
	if current == 0 {
		current = backoffSeed
	}
	scale := math.Pow(float64(state.retryCount+1), 1.5)
	next := time.Duration(float64(current) * scale)

	state.retryCount++
	state.lastDelay = next
	l.backoff[id] = state

	return next, true
}

func (l *Limiter) clearBackoff(id string) {
	l.mu.Lock()
	delete(l.backoff, id)
	l.mu.Unlock()
}
