package subscription

import (
	"context"
	"errors"
	"sync"
	"time"

	"timetrack/internal/entitlement"
	"timetrack/internal/metrics"
	"timetrack/internal/model"

	"github.com/rs/zerolog"
)

// DefaultCooldown is the window during which callers join the last started fetch.
const DefaultCooldown = 2 * time.Second

// Source loads the subscription row of a user. It returns
// model.ErrSubscriptionNotFound when the user has none.
type Source interface {
	FetchSubscription(ctx context.Context, userID string) (*model.Subscription, error)
}

// Notifier calls onChange whenever the subscription of userID changes. It
// blocks until ctx is done or the stream fails.
type Notifier interface {
	Listen(ctx context.Context, userID string, onChange func()) error
}

// Result is what consumers render: the subscription (nil when none) and the
// derived entitlement.
type Result struct {
	Subscription          *model.Subscription
	HasActiveSubscription bool
}

type call struct {
	userID string
	done   chan struct{}
	res    Result
}

// Coordinator serves the current subscription to any number of concurrent
// consumers with at most one outstanding fetch per cooldown window.
type Coordinator struct {
	source      Source
	cache       *Cache
	cooldown    time.Duration
	staleWindow time.Duration
	now         func() time.Time
	logger      zerolog.Logger
	metrics     *metrics.Metrics

	mu        sync.Mutex
	inflight  *call
	lastStart time.Time
	loading   int
	listeners map[chan Result]struct{}
}

type CoordinatorOption func(*Coordinator)

func WithCooldown(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) { c.cooldown = d }
}

func WithStaleWindow(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) { c.staleWindow = d }
}

func WithClock(now func() time.Time) CoordinatorOption {
	return func(c *Coordinator) { c.now = now }
}

func WithLogger(logger zerolog.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		c.logger = logger.With().Str("component", "SubscriptionCoordinator").Logger()
	}
}

func WithMetrics(m *metrics.Metrics) CoordinatorOption {
	return func(c *Coordinator) { c.metrics = m }
}

func NewCoordinator(source Source, cache *Cache, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		source:      source,
		cache:       cache,
		cooldown:    DefaultCooldown,
		staleWindow: DefaultStaleWindow,
		now:         time.Now,
		logger:      zerolog.Nop(),
		listeners:   make(map[chan Result]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type getOptions struct {
	skipCache bool
	fresh     bool
}

type GetOption func(*getOptions)

// SkipCache forces a new fetch, bypassing both the cache and the cooldown.
func SkipCache() GetOption {
	return func(o *getOptions) { o.skipCache = true }
}

// Fresh bypasses the cache and joins only a fetch that is still running, so
// the result is never older than the call.
func Fresh() GetOption {
	return func(o *getOptions) { o.fresh = true }
}

// Get returns the subscription of userID. It never fails: read errors fall
// back to a recent cached entry or to "no subscription".
func (c *Coordinator) Get(ctx context.Context, userID string, opts ...GetOption) Result {
	if userID == "" {
		return Result{}
	}
	var o getOptions
	for _, opt := range opts {
		opt(&o)
	}

	if !o.skipCache && !o.fresh {
		if sub, ok := c.cache.Get(ctx); ok {
			return c.result(sub)
		}
	}

	c.mu.Lock()
	if c.joinable(userID, o) {
		cl := c.inflight
		c.mu.Unlock()
		c.metrics.Fetch("coalesced")
		select {
		case <-cl.done:
			return cl.res
		case <-ctx.Done():
			return Result{}
		}
	}
	cl := &call{userID: userID, done: make(chan struct{})}
	c.inflight = cl
	c.lastStart = c.now()
	c.loading++
	c.mu.Unlock()

	// Joined callers must not be aborted by the first caller going away.
	cl.res = c.fetch(context.WithoutCancel(ctx), userID)
	close(cl.done)

	c.mu.Lock()
	c.loading--
	c.mu.Unlock()
	c.broadcast(cl.res)
	return cl.res
}

func (c *Coordinator) joinable(userID string, o getOptions) bool {
	cl := c.inflight
	if o.skipCache || cl == nil || cl.userID != userID || c.now().Sub(c.lastStart) >= c.cooldown {
		return false
	}
	if o.fresh {
		select {
		case <-cl.done:
			return false
		default:
		}
	}
	return true
}

// Forget drops the in-flight marker so the next Get starts a new fetch even
// inside the cooldown. Used after mutations, when the joined result would be outdated.
func (c *Coordinator) Forget() {
	c.mu.Lock()
	c.inflight = nil
	c.mu.Unlock()
}

// Loading reports whether a fetch is in progress.
func (c *Coordinator) Loading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loading > 0
}

// Subscribe returns a channel receiving every completed fetch. The returned
// function unregisters it. Slow receivers miss results rather than block fetches.
func (c *Coordinator) Subscribe() (<-chan Result, func()) {
	ch := make(chan Result, 1)
	c.mu.Lock()
	c.listeners[ch] = struct{}{}
	c.mu.Unlock()
	return ch, func() {
		c.mu.Lock()
		if _, ok := c.listeners[ch]; ok {
			delete(c.listeners, ch)
			close(ch)
		}
		c.mu.Unlock()
	}
}

// Watch refetches the subscription of userID each time n reports a change.
func (c *Coordinator) Watch(ctx context.Context, userID string, n Notifier) error {
	if userID == "" {
		return nil
	}
	return n.Listen(ctx, userID, func() {
		c.logger.Debug().Str("user_id", userID).Msg("Subscription change notified; refetching")
		c.Get(ctx, userID, SkipCache())
	})
}

func (c *Coordinator) fetch(ctx context.Context, userID string) Result {
	sub, err := c.source.FetchSubscription(ctx, userID)
	switch {
	case errors.Is(err, model.ErrSubscriptionNotFound):
		c.metrics.Fetch("not_found")
		c.cache.Invalidate(ctx)
		return Result{}
	case err != nil:
		c.metrics.Fetch("error")
		if stale, ok := c.cache.Stale(ctx, c.staleWindow); ok {
			c.logger.Warn().Err(err).Str("user_id", userID).Msg("Subscription fetch failed; using cached snapshot")
			return c.result(stale)
		}
		c.logger.Error().Err(err).Str("user_id", userID).Msg("Subscription fetch failed and no recent snapshot is cached")
		return Result{}
	}
	c.metrics.Fetch("ok")
	c.cache.Put(ctx, sub)
	return c.result(sub)
}

func (c *Coordinator) result(sub *model.Subscription) Result {
	return Result{Subscription: sub, HasActiveSubscription: entitlement.IsActive(sub, c.now())}
}

func (c *Coordinator) broadcast(res Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for ch := range c.listeners {
		select {
		case ch <- res:
		default:
		}
	}
}
