package service

import (
	"strings"
	"time"

	"timetrack/internal/model"
	"timetrack/internal/payment"
)

// PlanMetadataKey is the checkout metadata key carrying the purchased plan.
const PlanMetadataKey = "subscription_type"

// ResolveSubscriptionType classifies a purchase. Explicit metadata wins; otherwise
// the product name, product id and price id are searched for "monthly" or "yearly".
// Anything undetermined is monthly.
func ResolveSubscriptionType(metadata map[string]string, price payment.Price) model.SubscriptionType {
	if t := model.SubscriptionType(metadata[PlanMetadataKey]); t.Valid() {
		return t
	}
	for _, s := range []string{price.ProductName, price.ProductID, price.ID} {
		s = strings.ToLower(s)
		switch {
		case strings.Contains(s, "monthly"):
			return model.TypeMonthly
		case strings.Contains(s, "yearly"):
			return model.TypeYearly
		}
	}
	return model.TypeMonthly
}

// NormalizeStatus maps a provider status onto the local enumeration. Unknown
// values become incomplete, and a period that already ended reads as canceled
// whatever the provider says.
func NormalizeStatus(providerStatus string, periodEnd time.Time, now time.Time) model.SubscriptionStatus {
	status := model.SubscriptionStatus(providerStatus)
	if !status.Valid() {
		status = model.StatusIncomplete
	}
	if !periodEnd.IsZero() && periodEnd.Before(now) {
		return model.StatusCanceled
	}
	return status
}
