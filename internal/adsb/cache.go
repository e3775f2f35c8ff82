package adsb

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/banshee-data/passive.radar/internal/monitoring"
	"github.com/banshee-data/passive.radar/internal/timeutil"
)

const (
	DefaultInterval = time.Second
	DefaultTimeout  = 5 * time.Second
)

var logf = monitoring.Prefixed("adsb")

// CacheConfig configures a Cache. Zero durations take the defaults.
type CacheConfig struct {
	Fetcher  Fetcher
	Clock    timeutil.Clock
	Interval time.Duration
	Timeout  time.Duration
}

// Cache holds the most recent aircraft list and refreshes it lazily, at most
// once per interval. Concurrent callers that find the list stale share one
// fetch. A failed fetch empties the list rather than serving stale entries.
type Cache struct {
	fetcher  Fetcher
	clock    timeutil.Clock
	interval time.Duration
	timeout  time.Duration

	group singleflight.Group

	mu        sync.RWMutex
	aircraft  []Aircraft
	lastFetch time.Time
}

// NewCache builds a cache from cfg.
func NewCache(cfg CacheConfig) *Cache {
	c := &Cache{
		fetcher:  cfg.Fetcher,
		clock:    cfg.Clock,
		interval: cfg.Interval,
		timeout:  cfg.Timeout,
	}
	if c.clock == nil {
		c.clock = timeutil.RealClock{}
	}
	if c.interval <= 0 {
		c.interval = DefaultInterval
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	return c
}

// Aircraft returns the cached list, refreshing it first when the last fetch
// is older than the interval. The returned slice must not be modified.
func (c *Cache) Aircraft(ctx context.Context) []Aircraft {
	if !c.stale() {
		return c.Snapshot()
	}
	v, _, _ := c.group.Do("refresh", func() (interface{}, error) {
		// another caller may have refreshed while we waited on the group
		if !c.stale() {
			return c.Snapshot(), nil
		}
		return c.refresh(ctx), nil
	})
	return v.([]Aircraft)
}

// Snapshot returns the cached list without refreshing.
func (c *Cache) Snapshot() []Aircraft {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.aircraft
}

// LastFetch returns when the cache was last refreshed, successful or not.
func (c *Cache) LastFetch() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastFetch
}

func (c *Cache) stale() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastFetch.IsZero() || c.clock.Since(c.lastFetch) > c.interval
}

func (c *Cache) refresh(ctx context.Context) []Aircraft {
	// the shared fetch outlives any one caller's cancellation but never the timeout
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()

	var list []Aircraft
	if c.fetcher != nil {
		got, err := c.fetcher.Fetch(fctx)
		if err != nil {
			logf("refresh failed, serving empty list: %v", err)
			monitoring.AircraftRefreshes.WithLabelValues("error").Inc()
		} else {
			list = got
			monitoring.AircraftRefreshes.WithLabelValues("ok").Inc()
		}
	}
	if list == nil {
		list = []Aircraft{}
	}

	c.mu.Lock()
	c.aircraft = list
	c.lastFetch = c.clock.Now()
	c.mu.Unlock()

	monitoring.AircraftCached.Set(float64(len(list)))
	return list
}
