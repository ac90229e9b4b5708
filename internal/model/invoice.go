package model

import "time"

// Invoice is a billing history entry as reported by the payment provider.
type Invoice struct {
	ID               string    `json:"id"`
	Number           string    `json:"number"`
	Status           string    `json:"status"`
	AmountDue        int64     `json:"amount_due"`
	AmountPaid       int64     `json:"amount_paid"`
	Currency         string    `json:"currency"`
	Created          time.Time `json:"created"`
	PeriodStart      time.Time `json:"period_start"`
	PeriodEnd        time.Time `json:"period_end"`
	HostedInvoiceURL string    `json:"hosted_invoice_url,omitempty"`
	InvoicePDF       string    `json:"invoice_pdf,omitempty"`
	CustomerID       string    `json:"-"`
}
