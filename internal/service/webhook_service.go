package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"timetrack/internal/metrics"
	"timetrack/internal/model"
	"timetrack/internal/payment"
	"timetrack/internal/pgmq"

	"github.com/rs/zerolog"
)

// ErrInvalidWebhook is returned for payloads that fail signature verification.
var ErrInvalidWebhook = errors.New("invalid webhook")

// WebhookService turns verified provider events into reconcile jobs. The
// subscription itself is always re-read from the provider by the worker, so
// event payloads are never trusted beyond the subscription id.
type WebhookService interface {
	HandleEvent(ctx context.Context, payload []byte, signature string) error
}

type webhookService struct {
	provider payment.Provider
	queue    pgmq.Queue
	name     string
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

func NewWebhookService(provider payment.Provider, queue pgmq.Queue, queueName string, m *metrics.Metrics, logger zerolog.Logger) WebhookService {
	return &webhookService{
		provider: provider,
		queue:    queue,
		name:     queueName,
		metrics:  m,
		logger:   logger.With().Str("service", "WebhookService").Logger(),
	}
}

func (s *webhookService) HandleEvent(ctx context.Context, payload []byte, signature string) error {
	event, err := s.provider.ParseWebhook(payload, signature)
	if err != nil {
		s.logger.Error().Err(err).Msg("Signature verification failed for Stripe webhook")
		return fmt.Errorf("%w: %v", ErrInvalidWebhook, err)
	}
	s.metrics.Webhook(event.Type)
	s.logger.Info().Str("event_type", event.Type).Str("event_id", event.ID).Msg("Stripe webhook received")

	if event.SubscriptionID == "" {
		s.logger.Debug().Str("event_type", event.Type).Msg("Event does not concern a subscription, skipping")
		return nil
	}
	job, err := json.Marshal(model.ReconcileJob{
		SubscriptionID: event.SubscriptionID,
		EventID:        event.ID,
		EventType:      event.Type,
	})
	if err != nil {
		return err
	}
	if err := s.queue.Send(ctx, s.name, job); err != nil {
		s.logger.Error().Err(err).Str("subscription_id", event.SubscriptionID).Msg("Failed to enqueue reconcile job")
		return err
	}
	return nil
}
