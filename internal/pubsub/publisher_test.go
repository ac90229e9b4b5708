package pubsub

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"timetrack/internal/config"

	ps "cloud.google.com/go/pubsub"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPublisherInvalidProject(t *testing.T) {
	cfg := &config.Config{GCPProjectID: ""}
	_, err := NewPublisher(context.Background(), cfg)
	require.Error(t, err)
}

func TestPublishWithEmulator(t *testing.T) {
	if os.Getenv("PUBSUB_EMULATOR_HOST") == "" {
		t.Skip("PUBSUB_EMULATOR_HOST is not set, skip emulator integration test")
	}

	ctx := context.Background()
	pub, err := NewPublisher(ctx, &config.Config{GCPProjectID: "test-project"})
	require.NoError(t, err)
	t.Cleanup(func() { pub.Close() })

	topicName := "subscription-events-" + time.Now().Format("150405000000")
	require.NoError(t, pub.EnsureTopic(ctx, topicName, topicName+"-sub"))
	require.NoError(t, pub.EnsureTopic(ctx, topicName, topicName+"-sub"))
	sub := pub.client.Subscription(topicName + "-sub")

	event := []byte(`{"type":"subscription.changed","owner_id":"user-1","status":"canceled"}`)
	msgID, err := pub.Publish(ctx, topicName, event)
	require.NoError(t, err)
	assert.NotEmpty(t, msgID)

	recvCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	received := make(chan *ps.Message, 1)
	go func() {
		sub.Receive(recvCtx, func(ctx context.Context, m *ps.Message) {
			m.Ack()
			received <- m
			cancel()
		})
	}()

	select {
	case m := <-received:
		var got map[string]string
		require.NoError(t, json.Unmarshal(m.Data, &got))
		assert.Equal(t, "user-1", got["owner_id"])
		assert.Equal(t, "application/json", m.Attributes["content_type"])
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for message from emulator subscription")
	}
}
