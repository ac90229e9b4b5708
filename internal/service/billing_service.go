package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"timetrack/internal/config"
	"timetrack/internal/metrics"
	"timetrack/internal/model"
	"timetrack/internal/payment"
	"timetrack/internal/repository"

	"github.com/rs/zerolog"
)

const defaultTrialDays = 7

// Identity is the authenticated caller.
type Identity struct {
	UserID string
	Email  string
}

// ChangePlanResult holds either the updated subscription or, when the change
// has to go through a new checkout, the checkout URL.
type ChangePlanResult struct {
	Subscription *model.Subscription
	CheckoutURL  string
}

// EventPublisher publishes subscription change events.
type EventPublisher interface {
	Publish(ctx context.Context, topic string, payload []byte) (string, error)
}

// BillingService reconciles local subscription rows with the payment provider.
type BillingService interface {
	ResolvePlan(identifier string) (model.SubscriptionType, error)
	CreateCheckoutSession(ctx context.Context, id Identity, plan model.SubscriptionType, returnURL, cancelURL string) (string, error)
	VerifyCheckoutSession(ctx context.Context, userID, sessionID string) (*model.Subscription, error)
	CancelSubscription(ctx context.Context, userID string) (*model.Subscription, error)
	ChangePlan(ctx context.Context, id Identity, plan model.SubscriptionType) (ChangePlanResult, error)
	GetSubscription(ctx context.Context, userID string) (*model.Subscription, error)
	GetBillingHistory(ctx context.Context, userID string) ([]model.Invoice, error)
	GetInvoicePDF(ctx context.Context, userID, invoiceID string) (string, error)
	ReconcileProviderSubscription(ctx context.Context, providerSubscriptionID string) (*model.Subscription, error)
}

type billingService struct {
	cfg       *config.Config
	subs      repository.SubscriptionRepository
	customers repository.CustomerRepository
	provider  payment.Provider
	publisher EventPublisher
	metrics   *metrics.Metrics
	logger    zerolog.Logger
	now       func() time.Time
}

type BillingOption func(*billingService)

// WithEventPublisher enables subscription change events. Publishing is best effort.
func WithEventPublisher(p EventPublisher) BillingOption {
	return func(s *billingService) { s.publisher = p }
}

func WithBillingMetrics(m *metrics.Metrics) BillingOption {
	return func(s *billingService) { s.metrics = m }
}

func WithBillingClock(now func() time.Time) BillingOption {
	return func(s *billingService) { s.now = now }
}

// NewBillingService creates a BillingService with a scoped logger.
func NewBillingService(cfg *config.Config, subs repository.SubscriptionRepository, customers repository.CustomerRepository,
	provider payment.Provider, logger zerolog.Logger, opts ...BillingOption) BillingService {
	s := &billingService{
		cfg:       cfg,
		subs:      subs,
		customers: customers,
		provider:  provider,
		logger:    logger.With().Str("service", "BillingService").Logger(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ResolvePlan accepts a plan name or one of the configured price ids.
func (s *billingService) ResolvePlan(identifier string) (model.SubscriptionType, error) {
	if t := model.SubscriptionType(identifier); t.Valid() {
		return t, nil
	}
	switch identifier {
	case "":
	case s.cfg.StripePriceMonthly:
		return model.TypeMonthly, nil
	case s.cfg.StripePriceYearly:
		return model.TypeYearly, nil
	case s.cfg.StripePriceFreeTrial:
		return model.TypeFreeTrial, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidPlan, identifier)
}

func (s *billingService) priceForPlan(plan model.SubscriptionType) (priceID string, trialDays int64, err error) {
	switch plan {
	case model.TypeMonthly:
		return s.cfg.StripePriceMonthly, 0, nil
	case model.TypeYearly:
		return s.cfg.StripePriceYearly, 0, nil
	case model.TypeFreeTrial:
		days := s.cfg.TrialPeriodDays
		if days <= 0 {
			days = defaultTrialDays
		}
		return s.cfg.FreeTrialPrice(), days, nil
	}
	return "", 0, fmt.Errorf("%w: %q", ErrInvalidPlan, plan)
}

// CreateCheckoutSession starts a provider-hosted checkout and returns its URL.
func (s *billingService) CreateCheckoutSession(ctx context.Context, id Identity, plan model.SubscriptionType, returnURL, cancelURL string) (string, error) {
	priceID, trialDays, err := s.priceForPlan(plan)
	if err != nil {
		return "", err
	}
	customerID, err := s.ensureCustomer(ctx, id)
	if err != nil {
		s.metrics.Mutation("checkout", err)
		return "", err
	}

	metadata := map[string]string{"user_id": id.UserID, PlanMetadataKey: string(plan)}
	sess, err := s.provider.CreateCheckoutSession(ctx, payment.CheckoutRequest{
		CustomerID: customerID,
		PriceID:    priceID,
		SuccessURL: s.successURL(returnURL),
		CancelURL:  s.cancelURL(cancelURL),
		TrialDays:  trialDays,
		Metadata:   metadata,
	})
	s.metrics.Mutation("checkout", err)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", id.UserID).Str("plan", string(plan)).Msg("Failed to create Stripe checkout session")
		return "", providerError("could not start checkout", err)
	}
	s.logger.Info().Str("user_id", id.UserID).Str("plan", string(plan)).Str("session_id", sess.ID).Msg("Checkout session created")
	return sess.URL, nil
}

// ensureCustomer returns the provider customer of the user, creating and
// storing it on first use. The stored mapping wins over a concurrently created one.
func (s *billingService) ensureCustomer(ctx context.Context, id Identity) (string, error) {
	customerID, err := s.customers.GetCustomerID(ctx, id.UserID)
	if err != nil {
		return "", err
	}
	if customerID != "" {
		return customerID, nil
	}
	created, err := s.provider.CreateCustomer(ctx, id.UserID, id.Email)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", id.UserID).Msg("Failed to create Stripe customer")
		return "", providerError("could not start checkout", err)
	}
	stored, err := s.customers.SaveCustomerID(ctx, id.UserID, created)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", id.UserID).Msg("Failed to store Stripe customer id")
		return "", err
	}
	if stored != created {
		s.logger.Warn().Str("user_id", id.UserID).Str("created", created).Str("stored", stored).Msg("Concurrent customer creation; using stored customer")
	}
	return stored, nil
}

func (s *billingService) successURL(returnURL string) string {
	if returnURL == "" {
		returnURL = strings.TrimRight(s.cfg.AppBaseURL, "/") + "/billing"
	}
	sep := "?"
	if strings.Contains(returnURL, "?") {
		sep = "&"
	}
	// Stripe substitutes the placeholder; the client posts it back to verify.
	return returnURL + sep + "session_id={CHECKOUT_SESSION_ID}"
}

func (s *billingService) cancelURL(cancelURL string) string {
	if cancelURL != "" {
		return cancelURL
	}
	return strings.TrimRight(s.cfg.AppBaseURL, "/") + "/billing?" + url.Values{"checkout": {"canceled"}}.Encode()
}

// VerifyCheckoutSession writes the subscription created by a completed checkout.
// Running it twice for the same session rewrites the same row.
func (s *billingService) VerifyCheckoutSession(ctx context.Context, userID, sessionID string) (*model.Subscription, error) {
	sess, err := s.provider.RetrieveCheckoutSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, payment.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		s.logger.Error().Err(err).Str("session_id", sessionID).Msg("Failed to retrieve checkout session")
		return nil, providerError("could not verify checkout", err)
	}
	if !sess.Complete || sess.SubscriptionID == "" {
		return nil, ErrSessionIncomplete
	}
	if err := s.checkSessionOwner(ctx, userID, sess); err != nil {
		return nil, err
	}

	psub, err := s.provider.RetrieveSubscription(ctx, sess.SubscriptionID)
	if err != nil {
		s.logger.Error().Err(err).Str("subscription_id", sess.SubscriptionID).Msg("Failed to fetch subscription details")
		return nil, providerError("could not verify checkout", err)
	}

	saved, err := s.subs.Upsert(ctx, s.fromProvider(userID, psub, sess.Metadata))
	s.metrics.Reconciled("checkout", err)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Str("session_id", sessionID).Msg("Failed to save subscription on checkout verification")
		return nil, err
	}
	s.logger.Info().Str("user_id", userID).Str("subscription_id", psub.ID).Str("status", string(saved.Status)).Msg("Checkout verified")
	s.publish(ctx, "checkout_verified", saved)
	return saved, nil
}

func (s *billingService) checkSessionOwner(ctx context.Context, userID string, sess *payment.CheckoutSession) error {
	if owner := sess.Metadata["user_id"]; owner != "" {
		if owner != userID {
			s.logger.Warn().Str("user_id", userID).Str("session_owner", owner).Msg("Checkout session owner mismatch")
			return ErrSessionOwnerMismatch
		}
		return nil
	}
	// Sessions created elsewhere carry no metadata; fall back to the customer.
	customerID, err := s.customers.GetCustomerID(ctx, userID)
	if err != nil {
		return err
	}
	if customerID == "" || customerID != sess.CustomerID {
		return ErrSessionOwnerMismatch
	}
	return nil
}

// fromProvider builds the local row for ownerID from the provider state.
// Session metadata takes precedence over subscription metadata.
func (s *billingService) fromProvider(ownerID string, psub *payment.Subscription, sessionMetadata map[string]string) *model.Subscription {
	metadata := make(map[string]string, len(psub.Metadata)+len(sessionMetadata))
	for k, v := range psub.Metadata {
		metadata[k] = v
	}
	for k, v := range sessionMetadata {
		metadata[k] = v
	}

	item, _ := psub.PrimaryItem()
	status := NormalizeStatus(psub.Status, psub.CurrentPeriodEnd, s.now())
	if psub.CancelAtPeriodEnd {
		status = model.StatusCanceled
	}
	providerID := psub.ID
	sub := &model.Subscription{
		OwnerID:                ownerID,
		Status:                 status,
		SubscriptionType:       ResolveSubscriptionType(metadata, item.Price),
		PriceID:                item.Price.ID,
		ProviderSubscriptionID: &providerID,
	}
	if !psub.CurrentPeriodStart.IsZero() {
		start := psub.CurrentPeriodStart
		sub.CurrentPeriodStart = &start
	}
	if !psub.CurrentPeriodEnd.IsZero() {
		end := psub.CurrentPeriodEnd
		sub.CurrentPeriodEnd = &end
	}
	return sub
}

// CancelSubscription cancels at period end. Access continues until the
// current period ends, so the period end is left untouched.
func (s *billingService) CancelSubscription(ctx context.Context, userID string) (*model.Subscription, error) {
	sub, err := s.subs.GetByOwner(ctx, userID)
	if err != nil {
		if errors.Is(err, model.ErrSubscriptionNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if sub.Status == model.StatusCanceled {
		return sub, nil
	}

	switch {
	case sub.HasProviderSubscription():
		if _, err := s.provider.CancelAtPeriodEnd(ctx, *sub.ProviderSubscriptionID); err != nil {
			s.metrics.Mutation("cancel", err)
			s.logger.Error().Err(err).Str("user_id", userID).Str("subscription_id", *sub.ProviderSubscriptionID).Msg("Failed to cancel Stripe subscription")
			return nil, providerError("could not cancel subscription", err)
		}
	case sub.SubscriptionType == model.TypeFreeTrial:
		s.logger.Info().Str("user_id", userID).Msg("Trial has no provider subscription; canceling locally")
	default:
		return nil, ErrMissingProviderSubscription
	}

	updated, err := s.subs.UpdateStatus(ctx, userID, model.StatusCanceled)
	s.metrics.Mutation("cancel", err)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to mark subscription canceled")
		return nil, err
	}
	s.publish(ctx, "canceled", updated)
	return updated, nil
}

// ChangePlan swaps the price of the provider subscription, or returns a
// checkout URL when there is nothing to change in place.
func (s *billingService) ChangePlan(ctx context.Context, id Identity, plan model.SubscriptionType) (ChangePlanResult, error) {
	if _, _, err := s.priceForPlan(plan); err != nil {
		return ChangePlanResult{}, err
	}
	sub, err := s.subs.GetByOwner(ctx, id.UserID)
	if err != nil && !errors.Is(err, model.ErrSubscriptionNotFound) {
		return ChangePlanResult{}, err
	}
	if err != nil || !sub.HasProviderSubscription() {
		checkoutURL, err := s.CreateCheckoutSession(ctx, id, plan, "", "")
		if err != nil {
			return ChangePlanResult{}, err
		}
		return ChangePlanResult{CheckoutURL: checkoutURL}, nil
	}
	if sub.SubscriptionType == plan {
		return ChangePlanResult{Subscription: sub}, nil
	}
	if plan == model.TypeFreeTrial {
		return ChangePlanResult{}, fmt.Errorf("%w: a trial cannot replace a paid subscription", ErrInvalidPlan)
	}

	priceID, err := s.activePrice(ctx, plan)
	if err != nil {
		s.metrics.Mutation("change_plan", err)
		return ChangePlanResult{}, providerError("could not change plan", err)
	}
	providerID := *sub.ProviderSubscriptionID
	psub, err := s.provider.RetrieveSubscription(ctx, providerID)
	if err != nil {
		s.metrics.Mutation("change_plan", err)
		s.logger.Error().Err(err).Str("subscription_id", providerID).Msg("Failed to fetch subscription for plan change")
		return ChangePlanResult{}, providerError("could not change plan", err)
	}
	item, ok := psub.PrimaryItem()
	if !ok {
		err := fmt.Errorf("subscription %s has no items", providerID)
		s.metrics.Mutation("change_plan", err)
		return ChangePlanResult{}, providerError("could not change plan", err)
	}
	swapped, err := s.provider.UpdateSubscriptionPrice(ctx, providerID, item.ID, priceID)
	if err != nil {
		s.metrics.Mutation("change_plan", err)
		s.logger.Error().Err(err).Str("subscription_id", providerID).Str("price_id", priceID).Msg("Failed to update Stripe subscription price")
		return ChangePlanResult{}, providerError("could not change plan", err)
	}

	// Switching interval restarts the billing period on the provider side.
	var start, end *time.Time
	if swapped != nil && !swapped.CurrentPeriodStart.IsZero() {
		start = &swapped.CurrentPeriodStart
	}
	if swapped != nil && !swapped.CurrentPeriodEnd.IsZero() {
		end = &swapped.CurrentPeriodEnd
	}
	updated, err := s.subs.UpdatePlan(ctx, id.UserID, plan, priceID, start, end)
	s.metrics.Mutation("change_plan", err)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", id.UserID).Str("price_id", priceID).Msg("Provider plan changed but local update failed")
		return ChangePlanResult{}, err
	}
	s.logger.Info().Str("user_id", id.UserID).Str("plan", string(plan)).Str("price_id", priceID).Msg("Subscription plan changed")
	s.publish(ctx, "plan_changed", updated)
	return ChangePlanResult{Subscription: updated}, nil
}

// activePrice looks up the active price of the plan's product and falls back
// to the configured price when no product is configured or none is active.
func (s *billingService) activePrice(ctx context.Context, plan model.SubscriptionType) (string, error) {
	configured, _, _ := s.priceForPlan(plan)
	var product string
	switch plan {
	case model.TypeMonthly:
		product = s.cfg.StripeProductMonthly
	case model.TypeYearly:
		product = s.cfg.StripeProductYearly
	}
	if product == "" {
		return configured, nil
	}
	prices, err := s.provider.ListActivePrices(ctx, product)
	if err != nil {
		return "", err
	}
	for _, p := range prices {
		if p.ID == configured {
			return configured, nil
		}
	}
	if len(prices) > 0 {
		return prices[0].ID, nil
	}
	s.logger.Warn().Str("product_id", product).Msg("Product has no active price; using configured price")
	return configured, nil
}

func (s *billingService) GetSubscription(ctx context.Context, userID string) (*model.Subscription, error) {
	sub, err := s.subs.GetByOwner(ctx, userID)
	if err != nil {
		if errors.Is(err, model.ErrSubscriptionNotFound) {
			return nil, ErrNotFound
		}
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to fetch subscription")
		return nil, err
	}
	return sub, nil
}

// GetBillingHistory lists the most recent invoices of the user, newest first.
func (s *billingService) GetBillingHistory(ctx context.Context, userID string) ([]model.Invoice, error) {
	customerID, err := s.customers.GetCustomerID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if customerID == "" {
		return []model.Invoice{}, nil
	}
	limit := s.cfg.BillingHistoryLimit
	if limit <= 0 {
		limit = 24
	}
	invoices, err := s.provider.ListInvoices(ctx, customerID, limit)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to list Stripe invoices")
		return nil, providerError("could not load billing history", err)
	}
	out := make([]model.Invoice, 0, len(invoices))
	for _, inv := range invoices {
		out = append(out, toModelInvoice(inv))
	}
	return out, nil
}

// GetInvoicePDF returns the PDF link of one of the user's invoices. Invoices of
// other customers are reported as not found.
func (s *billingService) GetInvoicePDF(ctx context.Context, userID, invoiceID string) (string, error) {
	customerID, err := s.customers.GetCustomerID(ctx, userID)
	if err != nil {
		return "", err
	}
	if customerID == "" {
		return "", ErrNotFound
	}
	inv, err := s.provider.RetrieveInvoice(ctx, invoiceID)
	if err != nil {
		if errors.Is(err, payment.ErrNotFound) {
			return "", ErrNotFound
		}
		s.logger.Error().Err(err).Str("invoice_id", invoiceID).Msg("Failed to retrieve Stripe invoice")
		return "", providerError("could not load invoice", err)
	}
	if inv.CustomerID != customerID || inv.InvoicePDF == "" {
		return "", ErrNotFound
	}
	return inv.InvoicePDF, nil
}

// ReconcileProviderSubscription rewrites the local row of a provider
// subscription from the provider's current state.
func (s *billingService) ReconcileProviderSubscription(ctx context.Context, providerSubscriptionID string) (*model.Subscription, error) {
	psub, err := s.provider.RetrieveSubscription(ctx, providerSubscriptionID)
	if err != nil {
		if errors.Is(err, payment.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, providerError("could not reconcile subscription", err)
	}

	owner := psub.Metadata["user_id"]
	if owner == "" {
		existing, err := s.subs.GetByProviderSubscriptionID(ctx, providerSubscriptionID)
		if err != nil {
			if errors.Is(err, model.ErrSubscriptionNotFound) {
				s.logger.Warn().Str("subscription_id", providerSubscriptionID).Msg("Cannot attribute subscription to a user; skipping")
				return nil, ErrNotFound
			}
			return nil, err
		}
		owner = existing.OwnerID
	}

	next := s.fromProvider(owner, psub, nil)
	// A superseded subscription must not overwrite the owner's current one.
	current, err := s.subs.GetByOwner(ctx, owner)
	switch {
	case err == nil && current.HasProviderSubscription() && *current.ProviderSubscriptionID != psub.ID && next.Status == model.StatusCanceled:
		s.logger.Info().Str("user_id", owner).Str("subscription_id", psub.ID).Msg("Ignoring update of superseded subscription")
		return current, nil
	case err != nil && !errors.Is(err, model.ErrSubscriptionNotFound):
		return nil, err
	}

	saved, err := s.subs.Upsert(ctx, next)
	s.metrics.Reconciled("webhook", err)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", owner).Str("subscription_id", psub.ID).Msg("Failed to save reconciled subscription")
		return nil, err
	}
	s.publish(ctx, "reconciled", saved)
	return saved, nil
}

// SubscriptionEvent is published after every successful change of a row.
type SubscriptionEvent struct {
	Type             string                   `json:"type"`
	Reason           string                   `json:"reason"`
	OwnerID          string                   `json:"owner_id"`
	Status           model.SubscriptionStatus `json:"status"`
	SubscriptionType model.SubscriptionType   `json:"subscription_type"`
	CurrentPeriodEnd *time.Time               `json:"current_period_end,omitempty"`
	OccurredAt       time.Time                `json:"occurred_at"`
}

func (s *billingService) publish(ctx context.Context, reason string, sub *model.Subscription) {
	if s.publisher == nil || sub == nil {
		return
	}
	payload, err := json.Marshal(SubscriptionEvent{
		Type:             "subscription.changed",
		Reason:           reason,
		OwnerID:          sub.OwnerID,
		Status:           sub.Status,
		SubscriptionType: sub.SubscriptionType,
		CurrentPeriodEnd: sub.CurrentPeriodEnd,
		OccurredAt:       s.now().UTC(),
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode subscription event")
		return
	}
	if _, err := s.publisher.Publish(ctx, s.cfg.PubSubSubscriptionTopic, payload); err != nil {
		s.logger.Warn().Err(err).Str("user_id", sub.OwnerID).Str("reason", reason).Msg("Failed to publish subscription event")
	}
}

func toModelInvoice(inv payment.Invoice) model.Invoice {
	return model.Invoice{
		ID:               inv.ID,
		Number:           inv.Number,
		Status:           inv.Status,
		AmountDue:        inv.AmountDue,
		AmountPaid:       inv.AmountPaid,
		Currency:         inv.Currency,
		Created:          inv.Created,
		PeriodStart:      inv.PeriodStart,
		PeriodEnd:        inv.PeriodEnd,
		HostedInvoiceURL: inv.HostedInvoiceURL,
		InvoicePDF:       inv.InvoicePDF,
		CustomerID:       inv.CustomerID,
	}
}
