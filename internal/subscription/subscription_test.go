package subscription

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"timetrack/internal/model"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeSource struct {
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}

	mu  sync.Mutex
	sub *model.Subscription
	err error
}

func (s *fakeSource) FetchSubscription(ctx context.Context, userID string) (*model.Subscription, error) {
	s.calls.Add(1)
	if s.started != nil {
		select {
		case s.started <- struct{}{}:
		default:
		}
	}
	if s.release != nil {
		<-s.release
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sub, s.err
}

func (s *fakeSource) set(sub *model.Subscription, err error) {
	s.mu.Lock()
	s.sub, s.err = sub, err
	s.mu.Unlock()
}

var errTransport = errors.New("connection reset")

func activeSub(clock *fakeClock) *model.Subscription {
	end := clock.Now().Add(20 * 24 * time.Hour)
	start := clock.Now().Add(-10 * 24 * time.Hour)
	return &model.Subscription{
		ID:                 "sub-row-1",
		OwnerID:            "user-1",
		Status:             model.StatusActive,
		SubscriptionType:   model.TypeMonthly,
		CurrentPeriodStart: &start,
		CurrentPeriodEnd:   &end,
		PriceID:            "price_monthly",
	}
}
