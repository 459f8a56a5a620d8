package candlestore

import (
	"sync"
	"time"

	"signal-enginev1/internal/model"
)

// DefaultQuoteTTL is how long a cached quote stays valid.
const DefaultQuoteTTL = 30 * time.Second

// PriceCache keeps the last known quote per pair. A quote is valid only while
// its age is strictly below the TTL.
type PriceCache struct {
	mu     sync.RWMutex
	ttl    time.Duration
	now    func() time.Time
	quotes map[string]model.Quote
}

// NewPriceCache creates a cache. now may be nil, in which case time.Now is used.
func NewPriceCache(ttl time.Duration, now func() time.Time) *PriceCache {
	if ttl <= 0 {
		ttl = DefaultQuoteTTL
	}
	if now == nil {
		now = time.Now
	}
	return &PriceCache{
		ttl:    ttl,
		now:    now,
		quotes: make(map[string]model.Quote),
	}
}

// Set overwrites the quote for pair, stamped with the current time.
func (c *PriceCache) Set(pair string, price, volume float64) model.Quote {
	q := model.Quote{Pair: pair, Price: price, Volume: volume, ObservedAt: c.now()}
	c.mu.Lock()
	c.quotes[pair] = q
	c.mu.Unlock()
	return q
}

// Get returns the quote for pair if present and fresh.
func (c *PriceCache) Get(pair string) (model.Quote, bool) {
	c.mu.RLock()
	q, ok := c.quotes[pair]
	c.mu.RUnlock()

	if !ok || c.now().Sub(q.ObservedAt) >= c.ttl {
		return model.Quote{}, false
	}
	return q, true
}

// EvictStale drops every quote whose age reached the TTL and returns how many
// were removed.
func (c *PriceCache) EvictStale() int {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for pair, q := range c.quotes {
		if now.Sub(q.ObservedAt) >= c.ttl {
			delete(c.quotes, pair)
			n++
		}
	}
	return n
}

// Len returns the number of cached quotes, fresh or not.
func (c *PriceCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.quotes)
}
