package subscription

import (
	"context"
	"sync"
	"testing"
	"time"

	"timetrack/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCoordinator(source Source, clock *fakeClock) (*Coordinator, *Cache) {
	cache := NewCache(NewMemoryStore(), WithCacheClock(clock.Now))
	return NewCoordinator(source, cache, WithClock(clock.Now)), cache
}

func TestCoordinatorCoalescesConcurrentGets(t *testing.T) {
	clock := newFakeClock()
	source := &fakeSource{
		sub:     activeSub(clock),
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	coord, _ := newTestCoordinator(source, clock)

	const callers = 20
	results := make([]Result, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = coord.Get(context.Background(), "user-1")
		}(i)
	}

	<-source.started
	assert.True(t, coord.Loading())
	close(source.release)
	wg.Wait()

	assert.Equal(t, int32(1), source.calls.Load())
	assert.False(t, coord.Loading())
	for _, res := range results {
		require.NotNil(t, res.Subscription)
		assert.Equal(t, "sub-row-1", res.Subscription.ID)
		assert.True(t, res.HasActiveSubscription)
	}
}

func TestCoordinatorFreshCacheSkipsFetch(t *testing.T) {
	clock := newFakeClock()
	source := &fakeSource{}
	coord, cache := newTestCoordinator(source, clock)
	cache.Put(context.Background(), activeSub(clock))

	res := coord.Get(context.Background(), "user-1")
	assert.Equal(t, int32(0), source.calls.Load())
	assert.True(t, res.HasActiveSubscription)
}

func TestCoordinatorEmptyUserReturnsNothing(t *testing.T) {
	clock := newFakeClock()
	source := &fakeSource{sub: activeSub(clock)}
	coord, _ := newTestCoordinator(source, clock)

	res := coord.Get(context.Background(), "")
	assert.Nil(t, res.Subscription)
	assert.False(t, res.HasActiveSubscription)
	assert.Equal(t, int32(0), source.calls.Load())
}

func TestCoordinatorNotFoundClearsCache(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	source := &fakeSource{err: model.ErrSubscriptionNotFound}
	coord, cache := newTestCoordinator(source, clock)
	cache.Put(ctx, activeSub(clock))
	clock.Advance(DefaultTTL)

	res := coord.Get(ctx, "user-1")
	assert.Nil(t, res.Subscription)
	assert.False(t, res.HasActiveSubscription)

	_, ok := cache.Stale(ctx, time.Hour)
	assert.False(t, ok)
}

func TestCoordinatorErrorFallsBackToRecentSnapshot(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	source := &fakeSource{err: errTransport}
	coord, cache := newTestCoordinator(source, clock)
	cache.Put(ctx, activeSub(clock))
	clock.Advance(time.Minute)

	res := coord.Get(ctx, "user-1")
	require.NotNil(t, res.Subscription)
	assert.True(t, res.HasActiveSubscription)
	assert.Equal(t, int32(1), source.calls.Load())
}

func TestCoordinatorErrorWithOldSnapshotReturnsNothing(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	source := &fakeSource{err: errTransport}
	coord, cache := newTestCoordinator(source, clock)
	cache.Put(ctx, activeSub(clock))
	clock.Advance(DefaultStaleWindow + time.Second)

	res := coord.Get(ctx, "user-1")
	assert.Nil(t, res.Subscription)
	assert.False(t, res.HasActiveSubscription)
}

func TestCoordinatorCooldownJoinsLastFetch(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	source := &fakeSource{sub: activeSub(clock)}
	coord, cache := newTestCoordinator(source, clock)

	coord.Get(ctx, "user-1")
	cache.Invalidate(ctx)
	clock.Advance(time.Second)
	res := coord.Get(ctx, "user-1")
	require.NotNil(t, res.Subscription)
	assert.Equal(t, int32(1), source.calls.Load())

	cache.Invalidate(ctx)
	clock.Advance(2 * time.Second)
	coord.Get(ctx, "user-1")
	assert.Equal(t, int32(2), source.calls.Load())
}

func TestCoordinatorCooldownIsPerUser(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	source := &fakeSource{sub: activeSub(clock)}
	coord, cache := newTestCoordinator(source, clock)

	coord.Get(ctx, "user-1")
	cache.Invalidate(ctx)
	coord.Get(ctx, "user-2")
	assert.Equal(t, int32(2), source.calls.Load())
}

func TestCoordinatorSkipCacheAlwaysFetches(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	source := &fakeSource{sub: activeSub(clock)}
	coord, cache := newTestCoordinator(source, clock)
	cache.Put(ctx, activeSub(clock))

	coord.Get(ctx, "user-1", SkipCache())
	coord.Get(ctx, "user-1", SkipCache())
	assert.Equal(t, int32(2), source.calls.Load())
}

func TestCoordinatorForgetStartsNewFetch(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	source := &fakeSource{sub: activeSub(clock)}
	coord, cache := newTestCoordinator(source, clock)

	coord.Get(ctx, "user-1")
	cache.Invalidate(ctx)
	coord.Forget()

	canceled := *activeSub(clock)
	canceled.Status = model.StatusCanceled
	source.set(&canceled, nil)

	res := coord.Get(ctx, "user-1")
	assert.Equal(t, int32(2), source.calls.Load())
	assert.Equal(t, model.StatusCanceled, res.Subscription.Status)
}

func TestCoordinatorJoinerGivesUpOnCancel(t *testing.T) {
	clock := newFakeClock()
	source := &fakeSource{
		sub:     activeSub(clock),
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	coord, _ := newTestCoordinator(source, clock)

	done := make(chan Result, 1)
	go func() { done <- coord.Get(context.Background(), "user-1") }()
	<-source.started

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := coord.Get(ctx, "user-1")
	assert.Nil(t, res.Subscription)

	close(source.release)
	first := <-done
	require.NotNil(t, first.Subscription)
	assert.Equal(t, int32(1), source.calls.Load())
}

func TestCoordinatorBroadcastsToSubscribers(t *testing.T) {
	clock := newFakeClock()
	source := &fakeSource{sub: activeSub(clock)}
	coord, _ := newTestCoordinator(source, clock)

	ch, unsubscribe := coord.Subscribe()
	coord.Get(context.Background(), "user-1")

	select {
	case res := <-ch:
		assert.True(t, res.HasActiveSubscription)
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive the fetch result")
	}

	unsubscribe()
	unsubscribe()
	_, open := <-ch
	assert.False(t, open)
}

type fakeNotifier struct {
	changes int
}

func (n *fakeNotifier) Listen(ctx context.Context, userID string, onChange func()) error {
	for i := 0; i < n.changes; i++ {
		onChange()
	}
	return nil
}

func TestCoordinatorWatchRefetchesOnEveryChange(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	source := &fakeSource{sub: activeSub(clock)}
	coord, cache := newTestCoordinator(source, clock)
	cache.Put(ctx, activeSub(clock))

	require.NoError(t, coord.Watch(ctx, "user-1", &fakeNotifier{changes: 3}))
	assert.Equal(t, int32(3), source.calls.Load())

	require.NoError(t, coord.Watch(ctx, "", &fakeNotifier{changes: 3}))
	assert.Equal(t, int32(3), source.calls.Load())
}
