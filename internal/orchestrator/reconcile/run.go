package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"timetrack/internal/metrics"
	"timetrack/internal/model"
	"timetrack/internal/pgmq"
	"timetrack/internal/service"

	"github.com/rs/zerolog"
)

// Reconciler rewrites a local subscription row from provider state.
type Reconciler interface {
	ReconcileProviderSubscription(ctx context.Context, providerSubscriptionID string) (*model.Subscription, error)
}

type Config struct {
	Queue           string
	DeadLetterQueue string
	VisibilitySec   int
	PollTimeoutSec  int
	MaxMessages     int
	MaxAttempts     int
}

// Run starts the reconcile orchestrator.
func Run(ctx context.Context, logger zerolog.Logger, client pgmq.Queue, r Reconciler, cfg Config, m *metrics.Metrics) error {
	logger = logger.With().Str("orchestrator", "reconcile").Logger()
	logger.Info().Str("queue", cfg.Queue).Msg("Starting reconcile orchestrator")
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("Shutting down reconcile orchestrator")
			return nil
		default:
		}

		msgs, err := client.ReadWithPoll(ctx, cfg.Queue, cfg.VisibilitySec, cfg.MaxMessages, cfg.PollTimeoutSec)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			logger.Error().Err(err).Msg("Error reading reconcile queue")
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}
		for _, msg := range msgs {
			process(ctx, logger, client, r, cfg, m, msg)
		}
	}
}

// process handles one message. Failed messages are left in the queue and
// become visible again after the visibility timeout; after MaxAttempts reads
// they move to the dead-letter queue.
func process(ctx context.Context, logger zerolog.Logger, client pgmq.Queue, r Reconciler, cfg Config, m *metrics.Metrics, msg *pgmq.Message) {
	log := logger.With().Int64("msg_id", msg.ID).Int("read_ct", msg.ReadCount).Logger()

	var job model.ReconcileJob
	if err := json.Unmarshal(msg.Data, &job); err != nil || job.SubscriptionID == "" {
		log.Error().Err(err).Msg("Malformed reconcile job")
		raw, _ := json.Marshal(map[string]string{"raw": string(msg.Data)})
		deadLetter(ctx, log, client, cfg, msg.ID, raw)
		return
	}
	log = log.With().Str("subscription_id", job.SubscriptionID).Logger()

	_, err := r.ReconcileProviderSubscription(ctx, job.SubscriptionID)
	switch {
	case err == nil:
		m.Reconciled("worker", nil)
		log.Info().Str("event_type", job.EventType).Msg("Subscription reconciled")
	case errors.Is(err, service.ErrNotFound):
		// Nothing to attribute the subscription to; retrying cannot help.
		log.Warn().Err(err).Msg("Dropping reconcile job")
	default:
		m.Reconciled("worker", err)
		if msg.ReadCount >= cfg.MaxAttempts {
			log.Error().Err(err).Msg("Reconcile failed too many times")
			deadLetter(ctx, log, client, cfg, msg.ID, msg.Data)
			return
		}
		log.Warn().Err(err).Msg("Reconcile failed; will retry after visibility timeout")
		return
	}
	if err := client.Delete(ctx, cfg.Queue, msg.ID); err != nil {
		log.Error().Err(err).Msg("Error deleting reconcile message")
	}
}

func deadLetter(ctx context.Context, log zerolog.Logger, client pgmq.Queue, cfg Config, msgID int64, payload []byte) {
	if err := client.Send(ctx, cfg.DeadLetterQueue, payload); err != nil {
		log.Error().Err(err).Msg("Error moving message to dead-letter queue")
		return
	}
	if err := client.Delete(ctx, cfg.Queue, msgID); err != nil {
		log.Error().Err(err).Msg("Error deleting dead-lettered message")
	}
}
