package model

// ReconcileJob asks the reconcile worker to resync one provider subscription.
type ReconcileJob struct {
	SubscriptionID string `json:"subscription_id"`
	EventID        string `json:"event_id,omitempty"`
	EventType      string `json:"event_type,omitempty"`
}
