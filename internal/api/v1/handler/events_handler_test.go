package handler

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"timetrack/internal/middleware"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chanListener struct {
	mu       sync.Mutex
	userID   string
	onChange func()
	ready    chan struct{}
}

func (l *chanListener) Listen(ctx context.Context, userID string, onChange func()) error {
	l.mu.Lock()
	l.userID, l.onChange = userID, onChange
	l.mu.Unlock()
	close(l.ready)
	<-ctx.Done()
	return nil
}

func (l *chanListener) fire() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onChange()
}

func TestStreamEmitsChangeEvents(t *testing.T) {
	l := &chanListener{ready: make(chan struct{})}
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), middleware.UserContextKey, "user-1")))
		})
	})
	NewEventsHandler(l, time.Hour, zerolog.Nop()).RegisterRoutes(r)
	srv := httptest.NewServer(r)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/subscriptions/me/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	<-l.ready
	assert.Equal(t, "user-1", l.userID)
	l.fire()

	sc := bufio.NewScanner(resp.Body)
	var lines []string
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "data: ") {
			lines = append(lines, line)
			break
		}
		if line != "" {
			lines = append(lines, line)
		}
	}
	assert.Equal(t, []string{": connected", "event: subscription.changed", `data: {"owner_id":"user-1"}`}, lines)
}
