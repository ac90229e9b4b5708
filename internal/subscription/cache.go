// Package subscription keeps the client's view of the current user's
// subscription: a single-slot TTL cache, a fetch coordinator that collapses
// concurrent reads into one request, and a manager that invalidates the cache
// around every billing mutation.
package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"timetrack/internal/metrics"
	"timetrack/internal/model"

	"github.com/rs/zerolog"
)

const (
	// DefaultTTL is how long a snapshot counts as fresh.
	DefaultTTL = 30 * time.Second
	// DefaultStaleWindow bounds how old a snapshot may be when used as a fallback after a failed fetch.
	DefaultStaleWindow = 5 * time.Minute
)

// Snapshot is the persisted form of a cache entry. A nil Subscription is a
// cached "no subscription" answer.
type Snapshot struct {
	Subscription *model.Subscription `json:"subscription"`
	FetchedAt    time.Time           `json:"fetched_at"`
}

// Cache is a single-slot snapshot cache with a fixed freshness window.
// Storage failures and undecodable entries are treated as misses.
type Cache struct {
	store   Store
	ttl     time.Duration
	now     func() time.Time
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

type CacheOption func(*Cache)

func WithTTL(ttl time.Duration) CacheOption {
	return func(c *Cache) { c.ttl = ttl }
}

func WithCacheClock(now func() time.Time) CacheOption {
	return func(c *Cache) { c.now = now }
}

func WithCacheLogger(logger zerolog.Logger) CacheOption {
	return func(c *Cache) { c.logger = logger.With().Str("component", "SubscriptionCache").Logger() }
}

func WithCacheMetrics(m *metrics.Metrics) CacheOption {
	return func(c *Cache) { c.metrics = m }
}

func NewCache(store Store, opts ...CacheOption) *Cache {
	c := &Cache{
		store:  store,
		ttl:    DefaultTTL,
		now:    time.Now,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Put stores sub stamped with the current time.
func (c *Cache) Put(ctx context.Context, sub *model.Subscription) {
	data, err := json.Marshal(Snapshot{Subscription: sub, FetchedAt: c.now()})
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to encode subscription snapshot")
		return
	}
	if err := c.store.Write(ctx, data); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to write subscription snapshot")
	}
}

// Get returns the cached subscription and whether it is still fresh.
// A stale entry is returned with valid=false.
func (c *Cache) Get(ctx context.Context) (*model.Subscription, bool) {
	snap, ok := c.load(ctx)
	if !ok {
		c.metrics.CacheLookup("miss")
		return nil, false
	}
	if c.now().Sub(snap.FetchedAt) >= c.ttl {
		c.metrics.CacheLookup("expired")
		return snap.Subscription, false
	}
	c.metrics.CacheLookup("hit")
	return snap.Subscription, true
}

// Stale returns the cached subscription if it was fetched less than maxAge ago.
func (c *Cache) Stale(ctx context.Context, maxAge time.Duration) (*model.Subscription, bool) {
	snap, ok := c.load(ctx)
	if !ok || c.now().Sub(snap.FetchedAt) > maxAge {
		return nil, false
	}
	return snap.Subscription, true
}

// Invalidate clears the slot unconditionally.
func (c *Cache) Invalidate(ctx context.Context) {
	if err := c.store.Delete(ctx); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to clear subscription snapshot")
	}
}

func (c *Cache) load(ctx context.Context) (Snapshot, bool) {
	var snap Snapshot
	data, err := c.store.Read(ctx)
	if err != nil {
		if !errors.Is(err, ErrNoSnapshot) {
			c.logger.Warn().Err(err).Msg("Failed to read subscription snapshot")
		}
		return snap, false
	}
	if err := json.Unmarshal(data, &snap); err != nil || snap.FetchedAt.IsZero() {
		c.logger.Warn().Err(err).Msg("Discarding undecodable subscription snapshot")
		c.Invalidate(ctx)
		return Snapshot{}, false
	}
	return snap, true
}
