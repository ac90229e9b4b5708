package subscription

import (
	"context"

	"timetrack/internal/model"

	"github.com/rs/zerolog"
)

// Billing is the subset of the billing API the client mutates subscriptions through.
type Billing interface {
	CreateCheckoutSession(ctx context.Context, plan model.SubscriptionType, returnURL string) (string, error)
	VerifyCheckoutSession(ctx context.Context, sessionID string) (*model.Subscription, error)
	CancelSubscription(ctx context.Context) (*model.Subscription, error)
	// ChangePlan returns a checkout URL when the change needs a fresh checkout.
	ChangePlan(ctx context.Context, plan model.SubscriptionType) (string, error)
}

// Manager is the client-side entry point for one signed-in user. It owns no
// global state: the composition root builds one and hands it to consumers.
type Manager struct {
	userID  string
	coord   *Coordinator
	cache   *Cache
	billing Billing
	logger  zerolog.Logger
}

func NewManager(userID string, coord *Coordinator, cache *Cache, billing Billing, logger zerolog.Logger) *Manager {
	return &Manager{
		userID:  userID,
		coord:   coord,
		cache:   cache,
		billing: billing,
		logger:  logger.With().Str("component", "SubscriptionManager").Str("user_id", userID).Logger(),
	}
}

// Status returns the current subscription, from cache when fresh.
func (m *Manager) Status(ctx context.Context) Result {
	return m.coord.Get(ctx, m.userID)
}

// Refresh always fetches the current state. Concurrent refreshes share the
// request that is still running.
func (m *Manager) Refresh(ctx context.Context) Result {
	return m.coord.Get(ctx, m.userID, Fresh())
}

// Watch keeps the cache current from change notifications until ctx is done.
func (m *Manager) Watch(ctx context.Context, n Notifier) error {
	return m.coord.Watch(ctx, m.userID, n)
}

// Subscribe exposes coordinator results to UI consumers.
func (m *Manager) Subscribe() (<-chan Result, func()) {
	return m.coord.Subscribe()
}

func (m *Manager) Checkout(ctx context.Context, plan model.SubscriptionType, returnURL string) (string, error) {
	return m.billing.CreateCheckoutSession(ctx, plan, returnURL)
}

// Verify reconciles a completed checkout and returns the refreshed state.
func (m *Manager) Verify(ctx context.Context, sessionID string) (Result, error) {
	m.invalidate(ctx)
	if _, err := m.billing.VerifyCheckoutSession(ctx, sessionID); err != nil {
		return Result{}, err
	}
	m.invalidate(ctx)
	return m.coord.Get(ctx, m.userID), nil
}

func (m *Manager) Cancel(ctx context.Context) (Result, error) {
	m.invalidate(ctx)
	if _, err := m.billing.CancelSubscription(ctx); err != nil {
		return Result{}, err
	}
	m.invalidate(ctx)
	return m.coord.Get(ctx, m.userID), nil
}

// ChangePlan returns a checkout URL when the user has to go through checkout
// instead of an in-place change.
func (m *Manager) ChangePlan(ctx context.Context, plan model.SubscriptionType) (Result, string, error) {
	m.invalidate(ctx)
	url, err := m.billing.ChangePlan(ctx, plan)
	if err != nil {
		return Result{}, "", err
	}
	if url != "" {
		return Result{}, url, nil
	}
	m.invalidate(ctx)
	return m.coord.Get(ctx, m.userID), "", nil
}

func (m *Manager) invalidate(ctx context.Context) {
	m.cache.Invalidate(ctx)
	m.coord.Forget()
}
