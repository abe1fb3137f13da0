package cache

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Memoizer wraps a Cache with in-flight request deduplication: concurrent
// misses on the same key share a single upstream computation, so a cold
// cache under N concurrent callers still performs exactly one fetch.
type Memoizer struct {
	cache Cache

	mu       sync.Mutex
	inflight map[string]*inflightCall

	hits   atomic.Int64
	misses atomic.Int64
}

// inflightCall carries one shared computation. The done channel is closed
// after data/err are set, which broadcasts completion to every waiter.
type inflightCall struct {
	done chan struct{}
	data json.RawMessage
	err  error
}

// NewMemoizer creates a Memoizer over the given cache.
func NewMemoizer(c Cache) *Memoizer {
	return &Memoizer{
		cache:    c,
		inflight: make(map[string]*inflightCall),
	}
}

// Cache returns the underlying cache capability.
func (m *Memoizer) Cache() Cache { return m.cache }

// Do resolves key through the cache, deduplicating concurrent misses.
// On a miss the first caller runs compute, stores the result under key
// with ttl, and broadcasts it; every waiter unmarshals the same payload
// into its own dest. A failed computation is broadcast as the error and
// removed from the in-flight table so later callers retry.
func (m *Memoizer) Do(ctx context.Context, key string, ttl time.Duration, dest interface{}, compute func(context.Context) (interface{}, error)) error {
	found, err := m.cache.Get(ctx, key, dest)
	if err == nil && found {
		m.hits.Add(1)
		return nil
	}
	// A cache-read failure degrades to recomputation, never to a caller error.
	m.misses.Add(1)

	call, owner := m.join(key)
	if !owner {
		select {
		case <-call.done:
			if call.err != nil {
				return call.err
			}
			return unmarshal(call.data, dest)
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	// A second owner can appear when a caller misses the cache, stalls, and
	// joins only after the first owner already completed. Re-reading the
	// cache before computing keeps the one-computation guarantee.
	var cached json.RawMessage
	if found, err := m.cache.Get(ctx, key, &cached); err == nil && found {
		m.complete(key, call, cached, nil)
		return unmarshal(cached, dest)
	}

	value, err := compute(ctx)
	var data json.RawMessage
	if err == nil {
		data, err = marshal(value)
	}
	if err == nil {
		// Best-effort: a failed cache write must not fail the request.
		_ = m.cache.Set(ctx, key, data, ttl)
	}
	m.complete(key, call, data, err)

	if err != nil {
		return err
	}
	return unmarshal(data, dest)
}

// join registers interest in key and reports whether the caller owns the
// computation.
func (m *Memoizer) join(key string) (*inflightCall, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if call, ok := m.inflight[key]; ok {
		return call, false
	}
	call := &inflightCall{done: make(chan struct{})}
	m.inflight[key] = call
	return call, true
}

// complete publishes the result and removes the in-flight entry.
func (m *Memoizer) complete(key string, call *inflightCall, data json.RawMessage, err error) {
	call.data = data
	call.err = err

	m.mu.Lock()
	delete(m.inflight, key)
	m.mu.Unlock()

	close(call.done)
}

// Stats reports hit/miss counters for the status endpoint.
func (m *Memoizer) Stats() (hits, misses int64) {
	return m.hits.Load(), m.misses.Load()
}
