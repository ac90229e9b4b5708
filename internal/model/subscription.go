package model

import (
	"errors"
	"time"
)

// ErrSubscriptionNotFound is returned when a user has no subscription row.
var ErrSubscriptionNotFound = errors.New("subscription not found")

// SubscriptionStatus mirrors the payment provider's subscription states.
type SubscriptionStatus string

const (
	StatusActive            SubscriptionStatus = "active"
	StatusTrialing          SubscriptionStatus = "trialing"
	StatusCanceled          SubscriptionStatus = "canceled"
	StatusIncomplete        SubscriptionStatus = "incomplete"
	StatusIncompleteExpired SubscriptionStatus = "incomplete_expired"
	StatusPastDue           SubscriptionStatus = "past_due"
	StatusUnpaid            SubscriptionStatus = "unpaid"
)

// Valid reports whether s is one of the provider's enumerated statuses.
func (s SubscriptionStatus) Valid() bool {
	switch s {
	case StatusActive, StatusTrialing, StatusCanceled, StatusIncomplete,
		StatusIncompleteExpired, StatusPastDue, StatusUnpaid:
		return true
	}
	return false
}

// SubscriptionType is the local plan classification. The provider only knows prices.
type SubscriptionType string

const (
	TypeMonthly   SubscriptionType = "monthly"
	TypeYearly    SubscriptionType = "yearly"
	TypeFreeTrial SubscriptionType = "free_trial"
)

// Valid reports whether t is a known plan.
func (t SubscriptionType) Valid() bool {
	switch t {
	case TypeMonthly, TypeYearly, TypeFreeTrial:
		return true
	}
	return false
}

// Subscription is the local projection of a user's billing plan.
type Subscription struct {
	ID                     string             `db:"id" json:"id"`
	OwnerID                string             `db:"owner_id" json:"owner_id"`
	Status                 SubscriptionStatus `db:"status" json:"status"`
	SubscriptionType       SubscriptionType   `db:"subscription_type" json:"subscription_type"`
	CurrentPeriodStart     *time.Time         `db:"current_period_start" json:"current_period_start,omitempty"`
	CurrentPeriodEnd       *time.Time         `db:"current_period_end" json:"current_period_end,omitempty"`
	PriceID                string             `db:"price_id" json:"price_id"`
	ProviderSubscriptionID *string            `db:"provider_subscription_id" json:"provider_subscription_id,omitempty"`
	CreatedAt              time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt              time.Time          `db:"updated_at" json:"updated_at"`
}

// HasProviderSubscription reports whether the provider holds a billable subscription object.
func (s *Subscription) HasProviderSubscription() bool {
	return s != nil && s.ProviderSubscriptionID != nil && *s.ProviderSubscriptionID != ""
}
