package apiclient

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const eventSubscriptionChanged = "subscription.changed"

// ErrStreamClosed is returned when the server ends the event stream.
var ErrStreamClosed = errors.New("event stream closed by server")

// Listen consumes the API's event stream and calls onChange for every
// subscription change until ctx is done.
func (c *Client) Listen(ctx context.Context, userID string, onChange func()) error {
	if userID != c.userID {
		return fmt.Errorf("client is signed in as %s, not %s", c.userID, userID)
	}
	req, err := c.newRequest(ctx, http.MethodGet, "/v1/subscriptions/me/events", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := c.stream.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("open event stream: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}

	err = readEvents(resp.Body, func(event string) {
		if event == eventSubscriptionChanged {
			onChange()
		}
	})
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// readEvents splits a text/event-stream body into events and reports each
// event's type once its terminating blank line arrives.
func readEvents(r io.Reader, emit func(event string)) error {
	sc := bufio.NewScanner(r)
	event, hasData := "", false
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if hasData {
				if event == "" {
					event = "message"
				}
				emit(event)
			}
			event, hasData = "", false
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			hasData = true
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}
	return ErrStreamClosed
}
