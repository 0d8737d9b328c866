// Copyright (C) 2025-2026 OpsGate, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package connmgr

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"
)

// Conn is the handle type the cache manages. Close blocks until the
// handle's in-use resources are released.
type Conn interface {
	Close()
}

// entry is a live cached handle. All fields are guarded by Cache.mu.
type entry[C Conn] struct {
	conn       C
	createdAt  time.Time
	lastAccess time.Time
	expiresAt  time.Time
}

// inflight marks a build in progress for a key. The builder writes conn
// and err under Cache.mu before closing done, so waiters may read them
// lock-free after the channel fires. A build superseded by invalidation
// or shutdown is discarded on arrival, never stored.
type inflight[C Conn] struct {
	done       chan struct{}
	conn       C
	err        error
	superseded bool
}

// Cache is a bounded, concurrency-safe map from tenant key to a live
// connection handle. Construction is single-flight per key, lookups slide
// the TTL, capacity overruns evict the least recently used live entry,
// and expired entries are closed by a background sweep. A key is present
// in at most one of entries or building at any instant; the mutex covers
// only bookkeeping, never a blocking open.
type Cache[C Conn] struct {
	mu       sync.Mutex
	entries  map[string]*entry[C]
	building map[string]*inflight[C]
	closed   bool

	maxSize int
	ttl     time.Duration

	sweepCancel context.CancelFunc
	sweepDone   chan struct{}

	hits          atomic.Int64
	misses        atomic.Int64
	opens         atomic.Int64
	openFailures  atomic.Int64
	evictions     atomic.Int64
	expirations   atomic.Int64
	invalidations atomic.Int64
}

// NewCache creates a cache holding at most maxSize handles, each living
// for ttl past its last access.
func NewCache[C Conn](maxSize int, ttl time.Duration) (*Cache[C], error) {
	if maxSize < 1 {
		return nil, fmt.Errorf("cache max size must be at least 1, got %d", maxSize)
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("cache ttl must be positive, got %s", ttl)
	}

	c := &Cache[C]{
		entries:   make(map[string]*entry[C]),
		building:  make(map[string]*inflight[C]),
		maxSize:   maxSize,
		ttl:       ttl,
		sweepDone: make(chan struct{}),
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.sweepCancel = cancel
	go c.sweepLoop(ctx)

	return c, nil
}

// GetOrCreate returns the cached handle for key, building one with build
// if none is live. Concurrent callers for the same key share a single
// build; the winner opens outside the lock while the rest wait on the
// in-flight marker or their context. A successful lookup refreshes the
// sliding TTL. Build failures propagate to every waiter and clear the
// marker, so the next call starts clean.
func (c *Cache[C]) GetOrCreate(ctx context.Context, key string, build func(context.Context) (C, error)) (C, error) {
	var zero C
	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return zero, ErrManagerClosed
		}

		if e, ok := c.entries[key]; ok {
			now := time.Now()
			if now.Before(e.expiresAt) {
				e.lastAccess = now
				e.expiresAt = now.Add(c.ttl)
				conn := e.conn
				c.mu.Unlock()
				c.hits.Add(1)
				recordCacheHit()
				return conn, nil
			}
			// Expired in place; the sweep has not fired yet.
			delete(c.entries, key)
			c.expirations.Add(1)
			recordEviction(evictionReasonExpired)
			go e.conn.Close()
		}

		if m, ok := c.building[key]; ok {
			c.mu.Unlock()
			select {
			case <-m.done:
			case <-ctx.Done():
				return zero, ctx.Err()
			}
			if m.err != nil {
				return zero, m.err
			}
			if m.superseded {
				continue
			}
			return m.conn, nil
		}

		// This caller becomes the builder. Make room first so the live
		// set plus in-flight builds never exceed maxSize.
		full := false
		for len(c.entries)+len(c.building) >= c.maxSize {
			if !c.evictOldestLocked() {
				full = true
				break
			}
		}
		if full {
			c.mu.Unlock()
			return zero, ErrCapacityExceeded
		}

		m := &inflight[C]{done: make(chan struct{})}
		c.building[key] = m
		c.mu.Unlock()
		c.misses.Add(1)
		recordCacheMiss()

		conn, err := build(ctx)

		c.mu.Lock()
		delete(c.building, key)
		m.conn, m.err = conn, err
		if c.closed {
			m.superseded = true
		}
		superseded := m.superseded
		if err == nil && !superseded {
			now := time.Now()
			c.entries[key] = &entry[C]{
				conn:       conn,
				createdAt:  now,
				lastAccess: now,
				expiresAt:  now.Add(c.ttl),
			}
		}
		close(m.done)
		c.mu.Unlock()

		if err != nil {
			c.openFailures.Add(1)
			recordOpenFailure()
			return zero, err
		}
		c.opens.Add(1)
		recordOpen()
		if superseded {
			// Invalidated or shut down while opening; the handle must
			// not be served.
			conn.Close()
			continue
		}
		return conn, nil
	}
}

// Invalidate removes the entry for key and closes its handle in the
// background. An in-flight build for the key is flagged so its result is
// discarded on arrival. Guaranteed visible to any GetOrCreate that
// starts after Invalidate returns.
func (c *Cache[C]) Invalidate(key string) {
	c.mu.Lock()
	e, had := c.entries[key]
	if had {
		delete(c.entries, key)
	}
	if m, ok := c.building[key]; ok {
		m.superseded = true
		had = true
	}
	c.mu.Unlock()

	if had {
		c.invalidations.Add(1)
		recordInvalidation()
	}
	if e != nil {
		go e.conn.Close()
	}
}

// evictOldestLocked drops the live entry with the oldest lastAccess.
// Returns false when no live entry remains to evict. Caller holds mu.
func (c *Cache[C]) evictOldestLocked() bool {
	var oldestKey string
	var oldest *entry[C]
	for k, e := range c.entries {
		if oldest == nil || e.lastAccess.Before(oldest.lastAccess) {
			oldestKey, oldest = k, e
		}
	}
	if oldest == nil {
		return false
	}
	delete(c.entries, oldestKey)
	c.evictions.Add(1)
	recordEviction(evictionReasonCapacity)
	go oldest.conn.Close()
	return true
}

func (c *Cache[C]) sweepLoop(ctx context.Context) {
	defer close(c.sweepDone)

	interval := c.ttl / 4
	if interval < time.Millisecond {
		interval = time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.removeExpired()
		}
	}
}

func (c *Cache[C]) removeExpired() {
	now := time.Now()

	c.mu.Lock()
	var victims []C
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
			victims = append(victims, e.conn)
		}
	}
	c.mu.Unlock()

	if len(victims) == 0 {
		return
	}
	slog.Debug("Closing idle tenant connections", slog.Int("count", len(victims)))
	for _, conn := range victims {
		c.expirations.Add(1)
		recordEviction(evictionReasonExpired)
		go conn.Close()
	}
}

// CloseAll stops the sweep, marks the cache closed, and closes every live
// handle concurrently. Handles still closing when ctx expires are
// reported in the aggregate error and finish in the background.
func (c *Cache[C]) CloseAll(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conns := make(map[string]C, len(c.entries))
	for k, e := range c.entries {
		conns[k] = e.conn
	}
	c.entries = make(map[string]*entry[C])
	for _, m := range c.building {
		m.superseded = true
	}
	c.mu.Unlock()

	c.sweepCancel()
	<-c.sweepDone

	var g errgroup.Group
	var errMu sync.Mutex
	var result *multierror.Error
	for key, conn := range conns {
		g.Go(func() error {
			done := make(chan struct{})
			go func() {
				conn.Close()
				close(done)
			}()
			select {
			case <-done:
			case <-ctx.Done():
				errMu.Lock()
				result = multierror.Append(result, fmt.Errorf("tenant %s: close did not finish: %w", key, ctx.Err()))
				errMu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	return result.ErrorOrNil()
}

// Len reports the number of live entries.
func (c *Cache[C]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats is a point-in-time snapshot of cache state and lifetime counters.
type Stats struct {
	Entries       int
	Building      int
	Hits          int64
	Misses        int64
	Opens         int64
	OpenFailures  int64
	Evictions     int64
	Expirations   int64
	Invalidations int64
}

// Stats returns current occupancy and lifetime counters.
func (c *Cache[C]) Stats() Stats {
	c.mu.Lock()
	entries := len(c.entries)
	building := len(c.building)
	c.mu.Unlock()

	return Stats{
		Entries:       entries,
		Building:      building,
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		Opens:         c.opens.Load(),
		OpenFailures:  c.openFailures.Load(),
		Evictions:     c.evictions.Load(),
		Expirations:   c.expirations.Load(),
		Invalidations: c.invalidations.Load(),
	}
}
