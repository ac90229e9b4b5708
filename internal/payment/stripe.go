package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"timetrack/internal/metrics"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
	"github.com/stripe/stripe-go/v82"
	checkoutsession "github.com/stripe/stripe-go/v82/checkout/session"
	customerpkg "github.com/stripe/stripe-go/v82/customer"
	invoicepkg "github.com/stripe/stripe-go/v82/invoice"
	pricepkg "github.com/stripe/stripe-go/v82/price"
	subscriptionpkg "github.com/stripe/stripe-go/v82/subscription"
	"github.com/stripe/stripe-go/v82/webhook"
)

// Deep enough to reach the product name of each item price.
const subscriptionExpand = "items.data.price.product"

// BreakerConfig controls the circuit breaker around provider calls.
type BreakerConfig struct {
	Enabled   bool
	Failures  uint32
	OpenDelay time.Duration
}

// StripeProvider implements Provider on the Stripe API.
type StripeProvider struct {
	webhookSecret string
	breaker       *gobreaker.CircuitBreaker[any]
	metrics       *metrics.Metrics
	logger        zerolog.Logger
}

// NewStripeProvider sets the global Stripe key and returns a provider with a scoped logger.
func NewStripeProvider(secretKey, webhookSecret string, bc BreakerConfig, m *metrics.Metrics, logger zerolog.Logger) *StripeProvider {
	stripe.Key = secretKey
	p := &StripeProvider{
		webhookSecret: webhookSecret,
		metrics:       m,
		logger:        logger.With().Str("service", "StripeProvider").Logger(),
	}
	if bc.Enabled {
		p.breaker = newBreaker("stripe", bc, p.logger)
	}
	return p
}

func newBreaker(name string, bc BreakerConfig, logger zerolog.Logger) *gobreaker.CircuitBreaker[any] {
	failures := bc.Failures
	if failures == 0 {
		failures = 5
	}
	return gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     bc.OpenDelay,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("Payment provider circuit breaker state changed")
		},
		// Rejected requests say nothing about provider health.
		IsSuccessful: func(err error) bool {
			return err == nil || isClientError(err)
		},
	})
}

// call runs fn through the breaker, records the outcome and maps provider errors.
func call[T any](p *StripeProvider, op string, fn func() (T, error)) (T, error) {
	var zero T
	if p.breaker == nil {
		v, err := fn()
		p.metrics.ProviderCall(op, err)
		if err != nil {
			return zero, mapError(err)
		}
		return v, nil
	}

	v, err := p.breaker.Execute(func() (any, error) {
		return fn()
	})
	p.metrics.ProviderCall(op, err)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		p.logger.Warn().Str("op", op).Msg("Payment provider call rejected by open circuit")
		return zero, ErrCircuitOpen
	}
	if err != nil {
		return zero, mapError(err)
	}
	out, _ := v.(T)
	return out, nil
}

func (p *StripeProvider) CreateCustomer(ctx context.Context, userID, email string) (string, error) {
	return call(p, "create_customer", func() (string, error) {
		params := &stripe.CustomerParams{
			Metadata: map[string]string{"user_id": userID},
		}
		if email != "" {
			params.Email = stripe.String(email)
		}
		params.Context = ctx
		cust, err := customerpkg.New(params)
		if err != nil {
			return "", err
		}
		return cust.ID, nil
	})
}

func (p *StripeProvider) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	return call(p, "create_checkout_session", func() (*CheckoutSession, error) {
		params := &stripe.CheckoutSessionParams{
			Customer:   stripe.String(req.CustomerID),
			LineItems:  []*stripe.CheckoutSessionLineItemParams{{Price: stripe.String(req.PriceID), Quantity: stripe.Int64(1)}},
			Mode:       stripe.String(string(stripe.CheckoutSessionModeSubscription)),
			SuccessURL: stripe.String(req.SuccessURL),
			CancelURL:  stripe.String(req.CancelURL),
			Metadata:   req.Metadata,
			SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
				Metadata: req.Metadata,
			},
		}
		if req.TrialDays > 0 {
			params.SubscriptionData.TrialPeriodDays = stripe.Int64(req.TrialDays)
		}
		params.Context = ctx
		sess, err := checkoutsession.New(params)
		if err != nil {
			return nil, err
		}
		return mapCheckoutSession(sess), nil
	})
}

func (p *StripeProvider) RetrieveCheckoutSession(ctx context.Context, sessionID string) (*CheckoutSession, error) {
	return call(p, "retrieve_checkout_session", func() (*CheckoutSession, error) {
		params := &stripe.CheckoutSessionParams{}
		params.Context = ctx
		params.AddExpand("subscription")
		sess, err := checkoutsession.Get(sessionID, params)
		if err != nil {
			return nil, err
		}
		return mapCheckoutSession(sess), nil
	})
}

func (p *StripeProvider) RetrieveSubscription(ctx context.Context, subscriptionID string) (*Subscription, error) {
	return call(p, "retrieve_subscription", func() (*Subscription, error) {
		params := &stripe.SubscriptionParams{}
		params.Context = ctx
		params.AddExpand(subscriptionExpand)
		sub, err := subscriptionpkg.Get(subscriptionID, params)
		if err != nil {
			return nil, err
		}
		return mapSubscription(sub), nil
	})
}

func (p *StripeProvider) CancelAtPeriodEnd(ctx context.Context, subscriptionID string) (*Subscription, error) {
	return call(p, "cancel_subscription", func() (*Subscription, error) {
		params := &stripe.SubscriptionParams{CancelAtPeriodEnd: stripe.Bool(true)}
		params.Context = ctx
		params.AddExpand(subscriptionExpand)
		sub, err := subscriptionpkg.Update(subscriptionID, params)
		if err != nil {
			return nil, err
		}
		return mapSubscription(sub), nil
	})
}

func (p *StripeProvider) UpdateSubscriptionPrice(ctx context.Context, subscriptionID, itemID, priceID string) (*Subscription, error) {
	return call(p, "update_subscription_price", func() (*Subscription, error) {
		params := &stripe.SubscriptionParams{
			Items: []*stripe.SubscriptionItemsParams{{
				ID:    stripe.String(itemID),
				Price: stripe.String(priceID),
			}},
			ProrationBehavior: stripe.String("create_prorations"),
		}
		params.Context = ctx
		params.AddExpand(subscriptionExpand)
		sub, err := subscriptionpkg.Update(subscriptionID, params)
		if err != nil {
			return nil, err
		}
		return mapSubscription(sub), nil
	})
}

func (p *StripeProvider) ListActivePrices(ctx context.Context, productID string) ([]Price, error) {
	return call(p, "list_prices", func() ([]Price, error) {
		params := &stripe.PriceListParams{
			Product: stripe.String(productID),
			Active:  stripe.Bool(true),
		}
		params.Context = ctx
		params.AddExpand("data.product")
		var prices []Price
		it := pricepkg.List(params)
		for it.Next() {
			prices = append(prices, mapPrice(it.Price()))
		}
		if err := it.Err(); err != nil {
			return nil, err
		}
		return prices, nil
	})
}

func (p *StripeProvider) ListInvoices(ctx context.Context, customerID string, limit int64) ([]Invoice, error) {
	return call(p, "list_invoices", func() ([]Invoice, error) {
		params := &stripe.InvoiceListParams{Customer: stripe.String(customerID)}
		params.Context = ctx
		params.Limit = stripe.Int64(limit)
		var invoices []Invoice
		it := invoicepkg.List(params)
		for it.Next() {
			invoices = append(invoices, mapInvoice(it.Invoice()))
			if int64(len(invoices)) >= limit {
				break
			}
		}
		if err := it.Err(); err != nil {
			return nil, err
		}
		return invoices, nil
	})
}

func (p *StripeProvider) RetrieveInvoice(ctx context.Context, invoiceID string) (*Invoice, error) {
	return call(p, "retrieve_invoice", func() (*Invoice, error) {
		params := &stripe.InvoiceParams{}
		params.Context = ctx
		inv, err := invoicepkg.Get(invoiceID, params)
		if err != nil {
			return nil, err
		}
		out := mapInvoice(inv)
		return &out, nil
	})
}

// ParseWebhook verifies the signature and extracts the subscription the event refers to.
// SubscriptionID is empty for events that do not concern a subscription.
func (p *StripeProvider) ParseWebhook(payload []byte, signature string) (*WebhookEvent, error) {
	event, err := webhook.ConstructEvent(payload, signature, p.webhookSecret)
	if err != nil {
		return nil, fmt.Errorf("verify webhook signature: %w", err)
	}
	out := &WebhookEvent{ID: event.ID, Type: string(event.Type)}
	if event.Data == nil {
		return out, nil
	}
	subID, err := subscriptionIDFromEvent(out.Type, event.Data.Raw)
	if err != nil {
		return nil, err
	}
	out.SubscriptionID = subID
	return out, nil
}

func subscriptionIDFromEvent(eventType string, raw json.RawMessage) (string, error) {
	switch {
	case strings.HasPrefix(eventType, "customer.subscription."):
		var ss stripe.Subscription
		if err := json.Unmarshal(raw, &ss); err != nil {
			return "", fmt.Errorf("decode %s payload: %w", eventType, err)
		}
		return ss.ID, nil
	case eventType == "checkout.session.completed":
		var cs stripe.CheckoutSession
		if err := json.Unmarshal(raw, &cs); err != nil {
			return "", fmt.Errorf("decode %s payload: %w", eventType, err)
		}
		if cs.Subscription == nil {
			return "", nil
		}
		return cs.Subscription.ID, nil
	case strings.HasPrefix(eventType, "invoice.payment_"):
		var inv stripe.Invoice
		if err := json.Unmarshal(raw, &inv); err != nil {
			return "", fmt.Errorf("decode %s payload: %w", eventType, err)
		}
		// One-time invoices carry no subscription on any line.
		if inv.Lines != nil {
			for _, line := range inv.Lines.Data {
				if line.Subscription != nil && line.Subscription.ID != "" {
					return line.Subscription.ID, nil
				}
			}
		}
		return "", nil
	}
	return "", nil
}

func mapCheckoutSession(s *stripe.CheckoutSession) *CheckoutSession {
	out := &CheckoutSession{
		ID:       s.ID,
		URL:      s.URL,
		Complete: s.Status == stripe.CheckoutSessionStatusComplete,
		Metadata: s.Metadata,
	}
	if s.Customer != nil {
		out.CustomerID = s.Customer.ID
	}
	if s.Subscription != nil {
		out.SubscriptionID = s.Subscription.ID
	}
	return out
}

func mapSubscription(s *stripe.Subscription) *Subscription {
	out := &Subscription{
		ID:                s.ID,
		Status:            string(s.Status),
		CancelAtPeriodEnd: s.CancelAtPeriodEnd,
		Metadata:          s.Metadata,
	}
	if s.Customer != nil {
		out.CustomerID = s.Customer.ID
	}
	if s.Items != nil {
		for _, item := range s.Items.Data {
			if item == nil {
				continue
			}
			if len(out.Items) == 0 {
				out.CurrentPeriodStart = unixTime(item.CurrentPeriodStart)
				out.CurrentPeriodEnd = unixTime(item.CurrentPeriodEnd)
			}
			mapped := SubscriptionItem{ID: item.ID}
			if item.Price != nil {
				mapped.Price = mapPrice(item.Price)
			}
			out.Items = append(out.Items, mapped)
		}
	}
	return out
}

func mapPrice(p *stripe.Price) Price {
	out := Price{
		ID:        p.ID,
		Nickname:  p.Nickname,
		LookupKey: p.LookupKey,
		Active:    p.Active,
	}
	if p.Product != nil {
		out.ProductID = p.Product.ID
		out.ProductName = p.Product.Name
	}
	return out
}

func mapInvoice(inv *stripe.Invoice) Invoice {
	out := Invoice{
		ID:               inv.ID,
		Number:           inv.Number,
		Status:           string(inv.Status),
		AmountDue:        inv.AmountDue,
		AmountPaid:       inv.AmountPaid,
		Currency:         string(inv.Currency),
		Created:          unixTime(inv.Created),
		PeriodStart:      unixTime(inv.PeriodStart),
		PeriodEnd:        unixTime(inv.PeriodEnd),
		HostedInvoiceURL: inv.HostedInvoiceURL,
		InvoicePDF:       inv.InvoicePDF,
	}
	if inv.Customer != nil {
		out.CustomerID = inv.Customer.ID
	}
	return out
}

func unixTime(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

func mapError(err error) error {
	var se *stripe.Error
	if errors.As(err, &se) && (se.Code == stripe.ErrorCodeResourceMissing || se.HTTPStatusCode == http.StatusNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, se.Msg)
	}
	return err
}

// isClientError reports whether the provider rejected the request itself.
// Rate limiting counts against provider health.
func isClientError(err error) bool {
	if errors.Is(err, context.Canceled) {
		return true
	}
	var se *stripe.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.HTTPStatusCode >= 400 && se.HTTPStatusCode < 500 && se.HTTPStatusCode != http.StatusTooManyRequests
}
