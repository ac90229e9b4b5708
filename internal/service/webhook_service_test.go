package service

import (
	"context"
	"errors"
	"testing"

	"timetrack/internal/payment"
	"timetrack/internal/pgmq"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type webhookProvider struct {
	fakeProvider
	event *payment.WebhookEvent
	err   error
}

func (p *webhookProvider) ParseWebhook(payload []byte, signature string) (*payment.WebhookEvent, error) {
	return p.event, p.err
}

type sentMessage struct {
	queue   string
	payload string
}

type fakeQueue struct {
	sent []sentMessage
	err  error
}

func (q *fakeQueue) Send(ctx context.Context, queue string, payload []byte) error {
	if q.err != nil {
		return q.err
	}
	q.sent = append(q.sent, sentMessage{queue: queue, payload: string(payload)})
	return nil
}

func (q *fakeQueue) ReadWithPoll(ctx context.Context, queue string, visibilitySec, maxMessages, pollSec int) ([]*pgmq.Message, error) {
	return nil, nil
}

func (q *fakeQueue) Delete(ctx context.Context, queue string, msgID int64) error { return nil }

func TestHandleEventEnqueuesSubscription(t *testing.T) {
	p := &webhookProvider{event: &payment.WebhookEvent{ID: "evt_1", Type: "customer.subscription.updated", SubscriptionID: "sub_1"}}
	q := &fakeQueue{}
	svc := NewWebhookService(p, q, "subscription_reconcile", nil, zerolog.Nop())

	require.NoError(t, svc.HandleEvent(context.Background(), []byte(`{}`), "sig"))
	require.Len(t, q.sent, 1)
	assert.Equal(t, "subscription_reconcile", q.sent[0].queue)
	assert.JSONEq(t, `{"subscription_id":"sub_1","event_id":"evt_1","event_type":"customer.subscription.updated"}`, q.sent[0].payload)
}

func TestHandleEventSkipsUnrelatedEvents(t *testing.T) {
	p := &webhookProvider{event: &payment.WebhookEvent{ID: "evt_2", Type: "customer.created"}}
	q := &fakeQueue{}
	svc := NewWebhookService(p, q, "subscription_reconcile", nil, zerolog.Nop())

	require.NoError(t, svc.HandleEvent(context.Background(), []byte(`{}`), "sig"))
	assert.Empty(t, q.sent)
}

func TestHandleEventBadSignature(t *testing.T) {
	p := &webhookProvider{err: errors.New("no valid signature")}
	q := &fakeQueue{}
	svc := NewWebhookService(p, q, "subscription_reconcile", nil, zerolog.Nop())

	err := svc.HandleEvent(context.Background(), []byte(`{}`), "bad")
	require.ErrorIs(t, err, ErrInvalidWebhook)
	assert.Empty(t, q.sent)
}

func TestHandleEventQueueFailure(t *testing.T) {
	p := &webhookProvider{event: &payment.WebhookEvent{ID: "evt_1", Type: "invoice.payment_failed", SubscriptionID: "sub_1"}}
	q := &fakeQueue{err: errors.New("connection refused")}
	svc := NewWebhookService(p, q, "subscription_reconcile", nil, zerolog.Nop())

	err := svc.HandleEvent(context.Background(), []byte(`{}`), "sig")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidWebhook)
}
