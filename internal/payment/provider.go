// Package payment wraps the payment provider behind a small, provider-agnostic
// contract. Only the calls the billing service needs are exposed.
package payment

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when the provider has no object with the requested id.
	ErrNotFound = errors.New("payment: resource not found")
	// ErrCircuitOpen is returned without contacting the provider while the breaker is open.
	ErrCircuitOpen = errors.New("payment: provider temporarily unavailable")
)

// Provider is the payment provider as seen by the billing service.
type Provider interface {
	CreateCustomer(ctx context.Context, userID, email string) (string, error)
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
	RetrieveCheckoutSession(ctx context.Context, sessionID string) (*CheckoutSession, error)
	RetrieveSubscription(ctx context.Context, subscriptionID string) (*Subscription, error)
	CancelAtPeriodEnd(ctx context.Context, subscriptionID string) (*Subscription, error)
	UpdateSubscriptionPrice(ctx context.Context, subscriptionID, itemID, priceID string) (*Subscription, error)
	ListActivePrices(ctx context.Context, productID string) ([]Price, error)
	ListInvoices(ctx context.Context, customerID string, limit int64) ([]Invoice, error)
	RetrieveInvoice(ctx context.Context, invoiceID string) (*Invoice, error)
	ParseWebhook(payload []byte, signature string) (*WebhookEvent, error)
}

type CheckoutRequest struct {
	CustomerID string
	PriceID    string
	SuccessURL string
	CancelURL  string
	// TrialDays > 0 starts the subscription in a trial instead of charging now.
	TrialDays int64
	// Metadata is attached to both the session and the subscription it creates.
	Metadata map[string]string
}

type CheckoutSession struct {
	ID         string
	URL        string
	Complete   bool
	CustomerID string
	Metadata   map[string]string
	// SubscriptionID is empty until the session completes.
	SubscriptionID string
}

type Subscription struct {
	ID                 string
	CustomerID         string
	Status             string
	CancelAtPeriodEnd  bool
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	Metadata           map[string]string
	Items              []SubscriptionItem
}

// PrimaryItem returns the first item, which carries the plan price.
func (s *Subscription) PrimaryItem() (SubscriptionItem, bool) {
	if s == nil || len(s.Items) == 0 {
		return SubscriptionItem{}, false
	}
	return s.Items[0], true
}

type SubscriptionItem struct {
	ID    string
	Price Price
}

type Price struct {
	ID          string
	Nickname    string
	LookupKey   string
	ProductID   string
	ProductName string
	Active      bool
}

type Invoice struct {
	ID               string
	Number           string
	Status           string
	AmountDue        int64
	AmountPaid       int64
	Currency         string
	Created          time.Time
	PeriodStart      time.Time
	PeriodEnd        time.Time
	HostedInvoiceURL string
	InvoicePDF       string
	CustomerID       string
}

// WebhookEvent is a verified provider event reduced to what reconciliation needs.
type WebhookEvent struct {
	ID             string
	Type           string
	SubscriptionID string
}
