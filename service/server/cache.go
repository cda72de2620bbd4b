package server

import (
	"fmt"
	"sync"
	"time"

	"github.com/brojonat/pesalog/service/db"
	"github.com/dgraph-io/ristretto"
)

// summaryCache memoizes summary responses per user and filter set. Keys are
// tracked per user so every entry for a user can be dropped after a write.
// Each invalidation bumps the user's generation; a summary computed under an
// older generation is not stored.
type summaryCache struct {
	cache *ristretto.Cache
	ttl   time.Duration

	mu   sync.Mutex
	keys map[string]map[string]struct{}
	gen  map[string]uint64
}

func newSummaryCache(ttl time.Duration) (*summaryCache, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10000, // number of keys to track frequency of
		MaxCost:     10000,
		BufferItems: 64, // number of keys per Get buffer
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize summary cache: %w", err)
	}
	return &summaryCache{
		cache: cache,
		ttl:   ttl,
		keys:  make(map[string]map[string]struct{}),
		gen:   make(map[string]uint64),
	}, nil
}

func summaryCacheKey(p db.SummaryParams) string {
	key := "summary:" + p.UserID
	if p.Provider != nil {
		key += "|p=" + *p.Provider
	}
	if p.StartTime != nil {
		key += "|s=" + p.StartTime.UTC().Format(time.RFC3339Nano)
	}
	if p.EndTime != nil {
		key += "|e=" + p.EndTime.UTC().Format(time.RFC3339Nano)
	}
	return key
}

func (c *summaryCache) get(p db.SummaryParams) (*db.Summary, bool) {
	if c == nil {
		return nil, false
	}
	v, ok := c.cache.Get(summaryCacheKey(p))
	if !ok {
		return nil, false
	}
	sum, ok := v.(*db.Summary)
	return sum, ok
}

// generation returns the user's current generation. Read it before computing
// a summary and pass it to set.
func (c *summaryCache) generation(userID string) uint64 {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen[userID]
}

// set stores sum unless the user was invalidated since gen was read.
func (c *summaryCache) set(p db.SummaryParams, sum *db.Summary, gen uint64) {
	if c == nil {
		return
	}
	key := summaryCacheKey(p)

	c.mu.Lock()
	if c.gen[p.UserID] != gen {
		c.mu.Unlock()
		return
	}
	if c.keys[p.UserID] == nil {
		c.keys[p.UserID] = make(map[string]struct{})
	}
	c.keys[p.UserID][key] = struct{}{}
	if c.ttl > 0 {
		c.cache.SetWithTTL(key, sum, 1, c.ttl)
	} else {
		c.cache.Set(key, sum, 1)
	}
	c.mu.Unlock()

	c.cache.Wait()
}

// invalidate drops every cached summary for userID.
func (c *summaryCache) invalidate(userID string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen[userID]++
	for key := range c.keys[userID] {
		c.cache.Del(key)
	}
	delete(c.keys, userID)
}

func (c *summaryCache) close() {
	if c != nil {
		c.cache.Close()
	}
}
