// Package batch groups calls of the same kind arriving within a time/size
// window into a single multi-key request, then fans the result back out to
// each caller.
package batch

import (
	"context"
	"sync"
	"time"
)

// ProcessFunc resolves a batch of keys to a map of key -> value. A key
// absent from the returned map is treated as "not found" rather than an
// error; only a non-nil error rejects every pending caller in the batch.
type ProcessFunc[V any] func(ctx context.Context, keys []string) (map[string]V, error)

type result[V any] struct {
	val V
	err error
}

// Batcher accumulates Add calls until maxSize keys are pending or maxTime
// has elapsed since the first pending key, then invokes process once for
// the whole window.
type Batcher[V any] struct {
	maxTime time.Duration
	maxSize int
	process ProcessFunc[V]

	mu      sync.Mutex
	pending map[string][]chan result[V]
	timer   *time.Timer
}

// New creates a Batcher. maxSize=25, maxTime=1s are the defaults used for
// the AT Protocol profile/post batch endpoints, whose getProfiles/getPosts
// calls cap at 25 actors/uris per request.
func New[V any](maxSize int, maxTime time.Duration, process ProcessFunc[V]) *Batcher[V] {
	return &Batcher[V]{
		maxSize: maxSize,
		maxTime: maxTime,
		process: process,
		pending: make(map[string][]chan result[V]),
	}
}

// Add enqueues key into the current window and blocks until that window
// flushes (either because it filled up or its timer fired) and key's
// result is available, or ctx is cancelled first.
func (b *Batcher[V]) Add(ctx context.Context, key string) (V, error) {
	ch := make(chan result[V], 1)

	b.mu.Lock()
	b.pending[key] = append(b.pending[key], ch)
	full := len(b.pending) >= b.maxSize
	if b.timer == nil && !full {
		b.timer = time.AfterFunc(b.maxTime, b.flush)
	}
	b.mu.Unlock()

	if full {
		go b.flush()
	}

	var zero V
	select {
	case r := <-ch:
		return r.val, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// flush snapshots and clears the pending set, runs process once for the
// whole batch, and delivers each key's result to every waiter registered
// for it.
func (b *Batcher[V]) flush() {
	b.mu.Lock()
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	if len(b.pending) == 0 {
		b.mu.Unlock()
		return
	}
	batch := b.pending
	b.pending = make(map[string][]chan result[V])
	b.mu.Unlock()

	keys := make([]string, 0, len(batch))
	for k := range batch {
		keys = append(keys, k)
	}

	values, err := b.process(context.Background(), keys)

	for k, waiters := range batch {
		var r result[V]
		if err != nil {
			r.err = err
		} else {
			r.val = values[k]
		}
		for _, ch := range waiters {
			ch <- r
		}
	}
}
