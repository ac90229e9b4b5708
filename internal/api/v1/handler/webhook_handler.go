package handler

import (
	"errors"
	"io"
	"net/http"

	"timetrack/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// Stripe caps event payloads well below this.
const maxWebhookBytes = 65536

type WebhookHandler struct {
	webhooks service.WebhookService
	logger   zerolog.Logger
}

func NewWebhookHandler(webhooks service.WebhookService, logger zerolog.Logger) *WebhookHandler {
	return &WebhookHandler{webhooks: webhooks, logger: logger.With().Str("handler", "WebhookHandler").Logger()}
}

// RegisterRoutes mounts the webhook outside of bearer auth; requests are
// authenticated by their Stripe signature.
func (h *WebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/webhooks/stripe", h.Stripe)
}

func (h *WebhookHandler) Stripe(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, CodeInvalidRequest, "payload too large")
		return
	}
	if err := h.webhooks.HandleEvent(r.Context(), payload, r.Header.Get("Stripe-Signature")); err != nil {
		if errors.Is(err, service.ErrInvalidWebhook) {
			writeError(w, http.StatusBadRequest, CodeInvalidRequest, "invalid signature")
			return
		}
		h.logger.Error().Err(err).Msg("Failed to handle Stripe webhook")
		writeError(w, http.StatusInternalServerError, CodeInternal, "could not process event")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}
