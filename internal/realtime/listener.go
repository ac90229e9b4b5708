// Package realtime fans Postgres change notifications on the subscriptions
// table out to per-user listeners.
package realtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// Listener holds one LISTEN connection and delivers each notification to
// the listeners registered for the owner id in its payload.
type Listener struct {
	pool    *pgxpool.Pool
	channel string
	logger  zerolog.Logger

	mu        sync.Mutex
	listeners map[string]map[chan struct{}]struct{}
}

func NewListener(pool *pgxpool.Pool, channel string, logger zerolog.Logger) *Listener {
	return &Listener{
		pool:      pool,
		channel:   channel,
		logger:    logger.With().Str("component", "RealtimeListener").Logger(),
		listeners: make(map[string]map[chan struct{}]struct{}),
	}
}

// Run listens until ctx is done, reconnecting after connection failures.
func (l *Listener) Run(ctx context.Context) error {
	for {
		err := l.listen(ctx)
		if ctx.Err() != nil {
			return nil
		}
		l.logger.Error().Err(err).Msg("Notification listener failed; reconnecting")
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(time.Second):
		}
	}
}

func (l *Listener) listen(ctx context.Context) error {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listen connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{l.channel}.Sanitize()); err != nil {
		return fmt.Errorf("listen on %s: %w", l.channel, err)
	}
	l.logger.Info().Str("channel", l.channel).Msg("Listening for subscription changes")
	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		l.dispatch(n.Payload)
	}
}

// dispatch wakes every listener of ownerID. Pending wake-ups are merged.
func (l *Listener) dispatch(ownerID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for ch := range l.listeners[ownerID] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Listen calls onChange for every change of userID's subscription until ctx
// is done.
func (l *Listener) Listen(ctx context.Context, userID string, onChange func()) error {
	ch := make(chan struct{}, 1)
	l.mu.Lock()
	if l.listeners[userID] == nil {
		l.listeners[userID] = make(map[chan struct{}]struct{})
	}
	l.listeners[userID][ch] = struct{}{}
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		delete(l.listeners[userID], ch)
		if len(l.listeners[userID]) == 0 {
			delete(l.listeners, userID)
		}
		l.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ch:
			onChange()
		}
	}
}
