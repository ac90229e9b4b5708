package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"timetrack/internal/api/v1/dto"
	"timetrack/internal/middleware"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

const EventSubscriptionChanged = "subscription.changed"

// ChangeListener delivers subscription change notifications for one user.
type ChangeListener interface {
	Listen(ctx context.Context, userID string, onChange func()) error
}

// EventsHandler streams subscription changes as server-sent events.
type EventsHandler struct {
	listener  ChangeListener
	heartbeat time.Duration
	logger    zerolog.Logger
}

func NewEventsHandler(listener ChangeListener, heartbeat time.Duration, logger zerolog.Logger) *EventsHandler {
	if heartbeat <= 0 {
		heartbeat = 25 * time.Second
	}
	return &EventsHandler{listener: listener, heartbeat: heartbeat, logger: logger.With().Str("handler", "EventsHandler").Logger()}
}

func (h *EventsHandler) RegisterRoutes(r chi.Router) {
	r.Get("/subscriptions/me/events", h.Stream)
}

// Stream godoc
// @Summary Stream changes of the caller's subscription
// @Tags subscriptions
// @Produce text/event-stream
// @Router /subscriptions/me/events [get]
func (h *EventsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, CodeInternal, "streaming unsupported")
		return
	}
	userID := middleware.UserID(r.Context())
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	changes := make(chan struct{}, 1)
	go func() {
		err := h.listener.Listen(ctx, userID, func() {
			select {
			case changes <- struct{}{}:
			default:
			}
		})
		if err != nil {
			h.logger.Error().Err(err).Str("user_id", userID).Msg("Change listener stopped")
		}
		cancel()
	}()

	// The server's write timeout would otherwise end the stream.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	data, _ := json.Marshal(dto.ChangeEvent{OwnerID: userID})
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-changes:
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", EventSubscriptionChanged, data)
		case <-ticker.C:
			fmt.Fprint(w, ": ping\n\n")
		}
		flusher.Flush()
	}
}
