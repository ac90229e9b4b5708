package pubsub

import (
	"context"
	"fmt"
	"sync"
	"time"

	"timetrack/internal/config"

	"cloud.google.com/go/pubsub"
)

// Publisher defines an interface for publishing messages.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) (string, error)
}

// PubSubPublisher is an implementation of Publisher using Google Pub/Sub.
// Topic handles are reused so their publish batching applies across calls.
type PubSubPublisher struct {
	client *pubsub.Client

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
}

// NewPublisher creates a new PubSubPublisher using the GCP project from config.
// With PUBSUB_EMULATOR_HOST set the client library talks to the emulator.
func NewPublisher(ctx context.Context, cfg *config.Config) (*PubSubPublisher, error) {
	projectID := cfg.GCPProjectID
	if projectID == "" && cfg.PubSubEmulatorHost != "" {
		projectID = "local-project"
	}
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create Pub/Sub client: %w", err)
	}
	return &PubSubPublisher{client: client, topics: make(map[string]*pubsub.Topic)}, nil
}

// Publish sends the payload to the given Pub/Sub topic and returns the message ID.
func (p *PubSubPublisher) Publish(ctx context.Context, topic string, payload []byte) (string, error) {
	result := p.topic(topic).Publish(ctx, &pubsub.Message{
		Data:       payload,
		Attributes: map[string]string{"content_type": "application/json"},
	})
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to publish message to topic %s: %w", topic, err)
	}
	return id, nil
}

func (p *PubSubPublisher) topic(name string) *pubsub.Topic {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.topics[name]
	if !ok {
		t = p.client.Topic(name)
		p.topics[name] = t
	}
	return t
}

// EnsureTopic creates topicID and a pull subscription subID on it when they
// do not exist yet. It is meant for the local emulator; production topics are
// provisioned with the rest of the project.
func (p *PubSubPublisher) EnsureTopic(ctx context.Context, topicID, subID string) error {
	topic := p.client.Topic(topicID)
	ok, err := topic.Exists(ctx)
	if err != nil {
		return fmt.Errorf("check topic %s: %w", topicID, err)
	}
	if !ok {
		if topic, err = p.client.CreateTopic(ctx, topicID); err != nil {
			return fmt.Errorf("create topic %s: %w", topicID, err)
		}
	}
	if subID == "" {
		return nil
	}
	sub := p.client.Subscription(subID)
	if ok, err = sub.Exists(ctx); err != nil {
		return fmt.Errorf("check subscription %s: %w", subID, err)
	}
	if !ok {
		_, err = p.client.CreateSubscription(ctx, subID, pubsub.SubscriptionConfig{
			Topic:             topic,
			AckDeadline:       20 * time.Second,
			RetentionDuration: 7 * 24 * time.Hour,
		})
		if err != nil {
			return fmt.Errorf("create subscription %s: %w", subID, err)
		}
	}
	return nil
}

// Close flushes pending messages and releases the client.
func (p *PubSubPublisher) Close() error {
	p.mu.Lock()
	for _, t := range p.topics {
		t.Stop()
	}
	p.mu.Unlock()
	return p.client.Close()
}
