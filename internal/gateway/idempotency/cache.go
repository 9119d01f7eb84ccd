// Package idempotency makes retried agent.run calls safe. The cache maps
// a caller-supplied key to the outcome of a single underlying execution:
// the first caller to claim a key owns the run, concurrent callers with
// the same key await the owner's outcome, and later callers within the
// TTL read the cached result. The key is a retry token, not a content
// hash — two calls sharing a key share an outcome even if their payloads
// differ.
package idempotency

import (
	"container/list"
	"context"
	"sync"
	"time"
)

type entry struct {
	key        string
	element    *list.Element
	done       chan struct{}
	result     any
	err        error
	completed  bool
	insertedAt time.Time
	expiresAt  time.Time
}

// Cache is the process-wide idempotency store. Keys are shared across
// connections; Begin claims are serialized by a single mutex so exactly
// one owner exists per live key.
type Cache struct {
	mu         sync.Mutex
	entries    map[string]*entry
	order      *list.List // keys in insertion order, oldest at front
	ttl        time.Duration
	maxEntries int
	done       chan struct{}
	closed     bool
}

// New creates a cache with the given completed-entry TTL and entry cap.
// A background goroutine sweeps expired entries.
func New(ttl time.Duration, maxEntries int) *Cache {
	c := &Cache{
		entries:    make(map[string]*entry),
		order:      list.New(),
		ttl:        ttl,
		maxEntries: maxEntries,
		done:       make(chan struct{}),
	}
	go c.sweepLoop()
	return c
}

// Claim is the outcome of Begin for one caller.
type Claim struct {
	c      *Cache
	e      *entry
	owner  bool
	cached bool
}

// Owner reports whether this caller must execute the run and call
// Complete. Exactly one Claim per live key is the owner.
func (cl *Claim) Owner() bool { return cl.owner }

// Cached reports whether the entry had already completed when claimed;
// Await returns without blocking.
func (cl *Claim) Cached() bool { return cl.cached }

// Begin claims key. The returned Claim is either the owner (caller
// executes and must call Complete), or a follower that can Await the
// shared outcome — immediately available when the entry already
// completed.
func (c *Cache) Begin(key string) *Claim {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if e, ok := c.entries[key]; ok {
		if e.completed && now.After(e.expiresAt) {
			c.removeLocked(e)
		} else {
			return &Claim{c: c, e: e, cached: e.completed}
		}
	}

	if c.order.Len() >= c.maxEntries {
		c.evictOldestLocked()
	}

	e := &entry{
		key:        key,
		done:       make(chan struct{}),
		insertedAt: now,
	}
	e.element = c.order.PushBack(key)
	c.entries[key] = e
	return &Claim{c: c, e: e, owner: true}
}

// Complete records the owner's outcome and releases all waiters with it.
// Failed runs release waiters with the error and then drop the entry, so
// a later retry with the same key executes afresh.
func (cl *Claim) Complete(result any, err error) {
	c, e := cl.c, cl.e
	c.mu.Lock()
	defer c.mu.Unlock()

	if e.completed {
		return
	}
	e.result = result
	e.err = err
	e.completed = true
	e.expiresAt = time.Now().Add(c.ttl)
	close(e.done)

	if err != nil {
		if _, ok := c.entries[e.key]; ok && c.entries[e.key] == e {
			c.removeLocked(e)
		}
	}
}

// Await blocks until the owner completes or ctx is cancelled. All
// followers observe the identical result and error.
func (cl *Claim) Await(ctx context.Context) (any, error) {
	select {
	case <-cl.e.done:
		return cl.e.result, cl.e.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// evictOldestLocked removes the oldest completed entry. Pending entries
// are skipped: evicting one would break the single-execution guarantee
// for callers already awaiting it.
func (c *Cache) evictOldestLocked() {
	for el := c.order.Front(); el != nil; el = el.Next() {
		key, _ := el.Value.(string)
		if e, ok := c.entries[key]; ok && e.completed {
			c.removeLocked(e)
			return
		}
	}
}

func (c *Cache) removeLocked(e *entry) {
	c.order.Remove(e.element)
	delete(c.entries, e.key)
}

func (c *Cache) sweepLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.SweepExpired()
		case <-c.done:
			return
		}
	}
}

// SweepExpired drops completed entries past their expiry.
func (c *Cache) SweepExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	for el := c.order.Front(); el != nil; {
		next := el.Next()
		key, _ := el.Value.(string)
		if e, ok := c.entries[key]; ok && e.completed && now.After(e.expiresAt) {
			c.removeLocked(e)
		}
		el = next
	}
}

// Close stops the sweep goroutine. Safe to call more than once.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
