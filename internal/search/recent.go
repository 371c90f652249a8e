package search

import (
	"context"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/yiblet/clipvault/internal/store"
)

// recentCache holds the most recently used items for short exact queries
// and regex queries. It has no incremental path; every mutation clears it.
type recentCache struct {
	repo store.Repository
	size int
	ttl  time.Duration
	now  func() time.Time

	mu         sync.Mutex
	items      []store.StoredItem
	complete   bool
	loadedAt   time.Time
	valid      bool
	refreshing int
	gen        uint64

	group singleflight.Group
}

type recentSnapshot struct {
	items []store.StoredItem
	// complete is true when the cache holds the whole history.
	complete bool
}

func newRecentCache(repo store.Repository, size int, ttl time.Duration, now func() time.Time) *recentCache {
	return &recentCache{repo: repo, size: size, ttl: ttl, now: now}
}

// get returns the cached items, reloading them when missing or expired.
// While a reload is running, callers holding an expired copy get it back
// instead of waiting.
func (c *recentCache) get(ctx context.Context) (recentSnapshot, error) {
	c.mu.Lock()
	if c.valid && (c.ttl <= 0 || c.now().Sub(c.loadedAt) < c.ttl) {
		snap := recentSnapshot{items: c.items, complete: c.complete}
		c.mu.Unlock()
		return snap, nil
	}
	if c.valid && c.refreshing > 0 {
		snap := recentSnapshot{items: c.items, complete: c.complete}
		c.mu.Unlock()
		return snap, nil
	}
	gen := c.gen
	c.refreshing++
	c.mu.Unlock()

	v, err, _ := c.group.Do(strconv.FormatUint(gen, 10), func() (any, error) {
		return c.load(ctx, gen)
	})

	c.mu.Lock()
	c.refreshing--
	c.mu.Unlock()

	if err != nil {
		return recentSnapshot{}, err
	}
	return v.(recentSnapshot), nil
}

func (c *recentCache) load(ctx context.Context, gen uint64) (recentSnapshot, error) {
	items, err := c.repo.FetchRecent(ctx, c.size+1, 0)
	if err != nil {
		return recentSnapshot{}, err
	}
	snap := recentSnapshot{items: items, complete: len(items) <= c.size}
	if !snap.complete {
		snap.items = items[:c.size]
	}

	c.mu.Lock()
	if c.gen == gen {
		c.items = snap.items
		c.complete = snap.complete
		c.loadedAt = c.now()
		c.valid = true
	}
	c.mu.Unlock()
	return snap, nil
}

// invalidate drops the cached items.
func (c *recentCache) invalidate() {
	c.mu.Lock()
	c.gen++
	c.items = nil
	c.valid = false
	c.mu.Unlock()
}
