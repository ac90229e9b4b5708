package handler

import (
	"net/http"
	"time"

	"timetrack/internal/api/v1/dto"
	"timetrack/internal/entitlement"
	"timetrack/internal/middleware"
	"timetrack/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// SubscriptionHandler handles subscription-related endpoints.
type SubscriptionHandler struct {
	billing  service.BillingService
	validate *validator.Validate
	logger   zerolog.Logger
	now      func() time.Time
}

// NewSubscriptionHandler creates a new SubscriptionHandler.
func NewSubscriptionHandler(billing service.BillingService, v *validator.Validate, logger zerolog.Logger) *SubscriptionHandler {
	return &SubscriptionHandler{
		billing:  billing,
		validate: v,
		logger:   logger.With().Str("handler", "SubscriptionHandler").Logger(),
		now:      time.Now,
	}
}

// RegisterRoutes registers the subscription endpoints on an authenticated router.
func (h *SubscriptionHandler) RegisterRoutes(r chi.Router) {
	r.Get("/subscriptions/me", h.Me)
	r.Post("/subscriptions/checkout", h.Checkout)
	r.Post("/subscriptions/verify", h.Verify)
	r.Post("/subscriptions/cancel", h.Cancel)
	r.Post("/subscriptions/change-plan", h.ChangePlan)
}

func identity(r *http.Request) service.Identity {
	return service.Identity{UserID: middleware.UserID(r.Context()), Email: middleware.Email(r.Context())}
}

// Me godoc
// @Summary Get the caller's subscription
// @Tags subscriptions
// @Produce json
// @Success 200 {object} dto.SubscriptionResponse
// @Failure 404 {object} dto.ErrorResponse "no subscription"
// @Router /subscriptions/me [get]
func (h *SubscriptionHandler) Me(w http.ResponseWriter, r *http.Request) {
	sub, err := h.billing.GetSubscription(r.Context(), middleware.UserID(r.Context()))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.SubscriptionResponse{
		Subscription: sub,
		Summary:      entitlement.Summarize(sub, h.now()),
	})
}

// Checkout godoc
// @Summary Initiate a Stripe Checkout session
// @Description Creates a Stripe Checkout session for a plan and returns its URL.
// @Tags subscriptions
// @Accept json
// @Produce json
// @Param subscription body dto.CheckoutRequest true "Checkout request"
// @Success 200 {object} dto.CheckoutResponse
// @Failure 400 {object} dto.ErrorResponse "invalid request or plan"
// @Failure 502 {object} dto.ErrorResponse "could not start checkout"
// @Router /subscriptions/checkout [post]
func (h *SubscriptionHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	var req dto.CheckoutRequest
	if err := decodeBody(r, h.validate, &req); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, err.Error())
		return
	}
	plan, err := h.billing.ResolvePlan(req.PriceID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	url, err := h.billing.CreateCheckoutSession(r.Context(), identity(r), plan, req.ReturnURL, req.CancelURL)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.CheckoutResponse{URL: url})
}

// Verify godoc
// @Summary Reconcile a completed checkout session
// @Tags subscriptions
// @Accept json
// @Produce json
// @Param verify body dto.VerifyRequest true "Checkout session"
// @Success 200 {object} dto.VerifyResponse
// @Failure 403 {object} dto.ErrorResponse "session belongs to another user"
// @Failure 404 {object} dto.ErrorResponse "unknown session"
// @Failure 409 {object} dto.ErrorResponse "session not complete"
// @Router /subscriptions/verify [post]
func (h *SubscriptionHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req dto.VerifyRequest
	if err := decodeBody(r, h.validate, &req); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, err.Error())
		return
	}
	sub, err := h.billing.VerifyCheckoutSession(r.Context(), middleware.UserID(r.Context()), req.SessionID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.NewVerifyResponse(sub))
}

// Cancel godoc
// @Summary Cancel the caller's subscription at period end
// @Tags subscriptions
// @Produce json
// @Success 200 {object} dto.CancelResponse
// @Failure 404 {object} dto.ErrorResponse "no subscription"
// @Router /subscriptions/cancel [post]
func (h *SubscriptionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	sub, err := h.billing.CancelSubscription(r.Context(), middleware.UserID(r.Context()))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.CancelResponse{
		Success:          true,
		Status:           sub.Status,
		CurrentPeriodEnd: sub.CurrentPeriodEnd,
	})
}

// ChangePlan godoc
// @Summary Switch between monthly and yearly billing
// @Description Changes the price in place, or returns a checkout URL when the caller has no paid subscription.
// @Tags subscriptions
// @Accept json
// @Produce json
// @Param plan body dto.ChangePlanRequest true "New plan"
// @Success 200 {object} dto.ChangePlanResponse
// @Router /subscriptions/change-plan [post]
func (h *SubscriptionHandler) ChangePlan(w http.ResponseWriter, r *http.Request) {
	var req dto.ChangePlanRequest
	if err := decodeBody(r, h.validate, &req); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, err.Error())
		return
	}
	plan, err := h.billing.ResolvePlan(req.NewPriceID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	res, err := h.billing.ChangePlan(r.Context(), identity(r), plan)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	if res.CheckoutURL != "" {
		writeJSON(w, http.StatusOK, dto.ChangePlanResponse{URL: res.CheckoutURL})
		return
	}
	writeJSON(w, http.StatusOK, dto.ChangePlanResponse{Success: true, Subscription: res.Subscription})
}
