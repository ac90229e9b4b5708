package dto

import (
	"time"

	"timetrack/internal/entitlement"
	"timetrack/internal/model"
)

// CheckoutRequest starts a checkout. PriceID is a plan name or a configured price id.
type CheckoutRequest struct {
	PriceID   string `json:"price_id" validate:"required"`
	ReturnURL string `json:"return_url,omitempty" validate:"omitempty,url"`
	CancelURL string `json:"cancel_url,omitempty" validate:"omitempty,url"`
}

type CheckoutResponse struct {
	URL string `json:"url"`
}

type VerifyRequest struct {
	SessionID string `json:"session_id" validate:"required"`
}

type VerifyResponse struct {
	Status             model.SubscriptionStatus `json:"status"`
	SubscriptionType   model.SubscriptionType   `json:"subscription_type"`
	CurrentPeriodStart *time.Time               `json:"current_period_start"`
	CurrentPeriodEnd   *time.Time               `json:"current_period_end"`
	PriceID            string                   `json:"price_id"`
}

type CancelResponse struct {
	Success          bool                     `json:"success"`
	Status           model.SubscriptionStatus `json:"status"`
	CurrentPeriodEnd *time.Time               `json:"current_period_end"`
}

type ChangePlanRequest struct {
	NewPriceID string `json:"new_price_id" validate:"required"`
}

// ChangePlanResponse carries URL when the change continues in a checkout.
type ChangePlanResponse struct {
	Success      bool                `json:"success,omitempty"`
	URL          string              `json:"url,omitempty"`
	Subscription *model.Subscription `json:"subscription,omitempty"`
}

// SubscriptionResponse is the caller's subscription with its derived flags.
type SubscriptionResponse struct {
	Subscription *model.Subscription `json:"subscription"`
	entitlement.Summary
}

type BillingHistoryResponse struct {
	Invoices []model.Invoice `json:"invoices"`
}

type InvoicePDFRequest struct {
	InvoiceID string `json:"invoice_id" validate:"required"`
}

type InvoicePDFResponse struct {
	PDFURL string `json:"pdf_url"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details string `json:"details,omitempty"` // provider message, for diagnostics
}

// ChangeEvent is the data of a subscription.changed server-sent event.
type ChangeEvent struct {
	OwnerID string `json:"owner_id"`
}

func NewVerifyResponse(sub *model.Subscription) VerifyResponse {
	return VerifyResponse{
		Status:             sub.Status,
		SubscriptionType:   sub.SubscriptionType,
		CurrentPeriodStart: sub.CurrentPeriodStart,
		CurrentPeriodEnd:   sub.CurrentPeriodEnd,
		PriceID:            sub.PriceID,
	}
}
