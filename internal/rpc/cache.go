package rpc

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/xtxerr/podwatch/config"
)

// =============================================================================
// Cycle Identity
// =============================================================================

// CycleID returns floor(now / interval) in whole seconds.
func CycleID(now time.Time, interval time.Duration) int64 {
	secs := int64(interval / time.Second)
	if secs <= 0 {
		secs = 1
	}
	return now.Unix() / secs
}

type cycleKey struct{}

// WithCycle pins the cycle id used by the cache for calls made with ctx.
func WithCycle(ctx context.Context, cycleID int64) context.Context {
	return context.WithValue(ctx, cycleKey{}, cycleID)
}

func cycleFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(cycleKey{}).(int64)
	return id, ok
}

// =============================================================================
// Cache
// =============================================================================

type cacheKey struct {
	cycle   int64
	vantage string
	method  Method
}

func (k cacheKey) String() string {
	return fmt.Sprintf("%d|%s|%s", k.cycle, k.vantage, k.method)
}

// CacheStats holds cache counters.
type CacheStats struct {
	Hits   int64
	Misses int64
	Shared int64
}

// Cache memoizes (cycle, vantage, method) results so a method is called at
// most once per vantage point per cycle. Concurrent identical calls share
// one outbound request.
//
// Cache is safe for concurrent use.
type Cache struct {
	next     Caller
	results  *lru.Cache[cacheKey, Result]
	group    singleflight.Group
	interval time.Duration
	clock    clock.Clock

	hits   atomic.Int64
	misses atomic.Int64
	shared atomic.Int64
}

// NewCache wraps next. size bounds the number of retained results.
func NewCache(next Caller, size int, interval time.Duration, clk clock.Clock) (*Cache, error) {
	if size <= 0 {
		size = config.DefaultCacheSize
	}
	if interval <= 0 {
		interval = config.DefaultCycleInterval
	}
	if clk == nil {
		clk = clock.New()
	}
	results, err := lru.New[cacheKey, Result](size)
	if err != nil {
		return nil, fmt.Errorf("create lru: %w", err)
	}
	return &Cache{
		next:     next,
		results:  results,
		interval: interval,
		clock:    clk,
	}, nil
}

// Call returns the cached result for the current cycle or performs the call.
// The cycle comes from WithCycle when set, else from the cache clock.
func (c *Cache) Call(ctx context.Context, vp VantagePoint, method Method) Result {
	cycle, ok := cycleFromContext(ctx)
	if !ok {
		cycle = CycleID(c.clock.Now(), c.interval)
	}
	key := cacheKey{cycle: cycle, vantage: vp.String(), method: method}

	if r, ok := c.results.Get(key); ok {
		c.hits.Add(1)
		return r
	}

	v, _, shared := c.group.Do(key.String(), func() (interface{}, error) {
		if r, ok := c.results.Get(key); ok {
			return r, nil
		}
		c.misses.Add(1)
		r := c.next.Call(ctx, vp, method)
		c.results.Add(key, r)
		return r, nil
	})
	if shared {
		c.shared.Add(1)
	}

	return v.(Result)
}

// Stats returns cache counters.
func (c *Cache) Stats() CacheStats {
	return CacheStats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Shared: c.shared.Load(),
	}
}

// Len returns the number of retained results.
func (c *Cache) Len() int {
	return c.results.Len()
}

// Purge drops every retained result.
func (c *Cache) Purge() {
	c.results.Purge()
}
