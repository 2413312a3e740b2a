// Package flight provides per-namespace request deduplication: at most one
// concurrent invocation per key, with successful results cached and shared.
// Each logical namespace (source searches, file lists, cache-existence
// checks, active downloads) owns its own Group so TTL policy and reset
// scope stay independent.
package flight

import (
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// NoExpiration keeps completed values for the lifetime of the Group.
const NoExpiration = gocache.NoExpiration

type call[T any] struct {
	wg  sync.WaitGroup
	val T
	err error
}

// Group deduplicates concurrent work by key. A completed value is returned
// immediately; an in-flight call is joined rather than repeated; a failed
// call is dropped so the next caller retries. Failures are never cached.
type Group[T any] struct {
	mu       sync.Mutex
	inflight map[string]*call[T]
	done     *gocache.Cache
}

// New creates a Group whose successful results live for ttl. Pass
// NoExpiration for session-lifetime caching.
func New[T any](ttl time.Duration) *Group[T] {
	cleanup := 5 * time.Minute
	if ttl > 0 && ttl < time.Minute {
		cleanup = ttl
	}
	return &Group[T]{
		inflight: make(map[string]*call[T]),
		done:     gocache.New(ttl, cleanup),
	}
}

// Do returns the cached value for key, joins the in-flight call for key, or
// invokes fn and registers it as the in-flight call. fn runs at most once
// per key at a time regardless of how many callers arrive concurrently.
func (g *Group[T]) Do(key string, fn func() (T, error)) (T, error) {
	g.mu.Lock()
	if v, ok := g.done.Get(key); ok {
		g.mu.Unlock()
		return v.(T), nil
	}
	if c, ok := g.inflight[key]; ok {
		g.mu.Unlock()
		c.wg.Wait()
		return c.val, c.err
	}

	c := new(call[T])
	c.wg.Add(1)
	g.inflight[key] = c
	g.mu.Unlock()

	c.val, c.err = fn()
	c.wg.Done()

	g.mu.Lock()
	delete(g.inflight, key)
	if c.err == nil {
		g.done.SetDefault(key, c.val)
	}
	g.mu.Unlock()

	return c.val, c.err
}

// Peek returns the completed value for key without triggering work.
func (g *Group[T]) Peek(key string) (T, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if v, ok := g.done.Get(key); ok {
		return v.(T), true
	}
	var zero T
	return zero, false
}

// Inflight reports whether a call for key is currently running.
func (g *Group[T]) Inflight(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.inflight[key]
	return ok
}

// Forget drops the completed value for key so the next Do re-invokes its
// factory. In-flight calls are unaffected; their joined callers still
// observe the original outcome.
func (g *Group[T]) Forget(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.done.Delete(key)
}

// Reset drops all completed values. Used on session teardown.
func (g *Group[T]) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.done.Flush()
}
