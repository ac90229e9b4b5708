package apiclient

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadEvents(t *testing.T) {
	stream := ": connected\n\n" +
		"event: subscription.changed\ndata: {\"owner_id\":\"user-1\"}\n\n" +
		": ping\n\n" +
		"data: plain\n\n" +
		"event: subscription.changed\n\n" +
		"event: subscription.changed\ndata: {}\n\n"

	var got []string
	err := readEvents(strings.NewReader(stream), func(event string) { got = append(got, event) })
	assert.ErrorIs(t, err, ErrStreamClosed)
	assert.Equal(t, []string{"subscription.changed", "message", "subscription.changed"}, got)
}

func TestListenCallsOnChangeUntilCanceled(t *testing.T) {
	c, _ := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, ": connected\n\n")
		for i := 0; i < 2; i++ {
			fmt.Fprint(w, "event: subscription.changed\ndata: {\"owner_id\":\"user-1\"}\n\n")
		}
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	})

	ctx, cancel := context.WithCancel(context.Background())
	var changes atomic.Int32
	done := make(chan error, 1)
	go func() { done <- c.Listen(ctx, "user-1", func() { changes.Add(1) }) }()

	require.Eventually(t, func() bool { return changes.Load() == 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Listen did not return after cancel")
	}
}

func TestListenUnauthorized(t *testing.T) {
	c, _ := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":"invalid token","code":"unauthorized"}`)
	})
	err := c.Listen(context.Background(), "user-1", func() {})
	assert.True(t, IsCode(err, "unauthorized"))
}

func TestListenServerClosesStream(t *testing.T) {
	c, _ := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, ": connected\n\n")
	})
	err := c.Listen(context.Background(), "user-1", func() {})
	assert.ErrorIs(t, err, ErrStreamClosed)
}
