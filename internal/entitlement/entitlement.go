// Package entitlement derives access decisions from a subscription snapshot.
//
// Every function is pure and accepts a nil subscription. Callers pass the
// current time explicitly; the stored status alone never decides access
// because the local row can lag the provider by one reconciliation cycle.
package entitlement

import (
	"time"

	"timetrack/internal/model"
)

// IsActive reports whether sub grants premium access at now. Canceled
// subscriptions keep access until the end of the paid period.
func IsActive(sub *model.Subscription, now time.Time) bool {
	if sub == nil {
		return false
	}
	switch sub.Status {
	case model.StatusActive, model.StatusTrialing, model.StatusCanceled:
	default:
		return false
	}
	return periodEndsAfter(sub, now)
}

// IsExpired reports whether the period of sub has lapsed, whatever its status.
func IsExpired(sub *model.Subscription, now time.Time) bool {
	if sub == nil || sub.CurrentPeriodEnd == nil {
		return false
	}
	return sub.CurrentPeriodEnd.Before(now)
}

// UIStatus is the status shown to users: lapsed or missing subscriptions
// read as canceled.
func UIStatus(sub *model.Subscription, now time.Time) model.SubscriptionStatus {
	if sub == nil || IsExpired(sub, now) {
		return model.StatusCanceled
	}
	return sub.Status
}

// IsTrialActive reports a trial whose period is still running.
func IsTrialActive(sub *model.Subscription, now time.Time) bool {
	return sub != nil && sub.Status == model.StatusTrialing && periodEndsAfter(sub, now)
}

// IsTrialExpired reports a trial whose period has lapsed.
func IsTrialExpired(sub *model.Subscription, now time.Time) bool {
	return sub != nil && sub.Status == model.StatusTrialing && IsExpired(sub, now)
}

// Summary bundles every derived flag, for API responses and CLI output.
type Summary struct {
	UIStatus       model.SubscriptionStatus `json:"ui_status"`
	IsActive       bool                     `json:"is_active"`
	IsExpired      bool                     `json:"is_expired"`
	IsTrialActive  bool                     `json:"is_trial_active"`
	IsTrialExpired bool                     `json:"is_trial_expired"`
}

// Summarize evaluates all predicates against the same instant.
func Summarize(sub *model.Subscription, now time.Time) Summary {
	return Summary{
		UIStatus:       UIStatus(sub, now),
		IsActive:       IsActive(sub, now),
		IsExpired:      IsExpired(sub, now),
		IsTrialActive:  IsTrialActive(sub, now),
		IsTrialExpired: IsTrialExpired(sub, now),
	}
}

func periodEndsAfter(sub *model.Subscription, now time.Time) bool {
	return sub.CurrentPeriodEnd != nil && sub.CurrentPeriodEnd.After(now)
}
