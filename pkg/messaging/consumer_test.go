package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/schoolclinic/clinic-backend/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func eventBody(t *testing.T, eventType string, data interface{}) []byte {
	t.Helper()
	event, err := NewEvent(eventType, "test", "corr-1", data)
	require.NoError(t, err)
	body, err := json.Marshal(event)
	require.NoError(t, err)
	return body
}

func TestConsumer_Dispatch(t *testing.T) {
	ctx := context.Background()

	t.Run("handled event is acked", func(t *testing.T) {
		c := newConsumer(nil, "q", logger.Nop())

		var got IssuanceRequestedEvent
		var corrID string
		c.RegisterHandler(EventIssuanceRequested, func(ctx context.Context, e *Event) error {
			corrID = CorrelationID(ctx)
			return e.UnmarshalData(&got)
		})

		body := eventBody(t, EventIssuanceRequested, IssuanceRequestedEvent{
			IssuanceReference: "ISS-1", BatchID: "B-1", Quantity: 2,
		})

		assert.Equal(t, OutcomeAck, c.Dispatch(ctx, body, 0))
		assert.Equal(t, "B-1", got.BatchID)
		assert.Equal(t, "corr-1", corrID)
	})

	t.Run("unknown event type is acked", func(t *testing.T) {
		c := newConsumer(nil, "q", logger.Nop())
		assert.Equal(t, OutcomeAck, c.Dispatch(ctx, eventBody(t, "other.event", nil), 0))
	})

	t.Run("malformed body is rejected", func(t *testing.T) {
		c := newConsumer(nil, "q", logger.Nop())
		assert.Equal(t, OutcomeReject, c.Dispatch(ctx, []byte("{not json"), 0))
	})

	t.Run("handler failure is requeued until retries run out", func(t *testing.T) {
		c := newConsumer(nil, "q", logger.Nop())
		c.RegisterHandler(EventIssuanceRequested, func(context.Context, *Event) error {
			return errors.New("database unavailable")
		})
		body := eventBody(t, EventIssuanceRequested, IssuanceRequestedEvent{})

		assert.Equal(t, OutcomeRequeue, c.Dispatch(ctx, body, 0))
		assert.Equal(t, OutcomeRequeue, c.Dispatch(ctx, body, MaxRetries-1))
		assert.Equal(t, OutcomeReject, c.Dispatch(ctx, body, MaxRetries))
	})

	t.Run("permanent failure is rejected on first delivery", func(t *testing.T) {
		c := newConsumer(nil, "q", logger.Nop())
		c.RegisterHandler(EventIssuanceRequested, func(context.Context, *Event) error {
			return Permanent(errors.New("undecodable payload"))
		})

		assert.Equal(t, OutcomeReject, c.Dispatch(ctx, eventBody(t, EventIssuanceRequested, nil), 0))
	})
}

func TestConsumer_RetriesAreCounted(t *testing.T) {
	ctx := context.Background()
	c := newConsumer(nil, "q", logger.Nop())

	calls := 0
	c.RegisterHandler(EventIssuanceRequested, func(context.Context, *Event) error {
		calls++
		return errors.New("database unavailable")
	})
	body := eventBody(t, EventIssuanceRequested, IssuanceRequestedEvent{})

	// Follow the delivery through republished copies until it is settled
	msg := amqp.Delivery{Body: body}
	var outcome Outcome
	for delivery := 0; delivery <= MaxRetries+1; delivery++ {
		count := getRetryCount(msg)
		outcome = c.Dispatch(ctx, msg.Body, count)
		if outcome != OutcomeRequeue {
			break
		}
		msg = amqp.Delivery{Body: msg.Body, Headers: retryHeaders(msg.Headers, count+1)}
	}

	assert.Equal(t, OutcomeReject, outcome)
	assert.Equal(t, MaxRetries+1, calls)
	assert.Equal(t, MaxRetries, getRetryCount(msg))
}

func TestRetryHeaders(t *testing.T) {
	original := amqp.Table{"x-origin": "clinic-service"}

	next := retryHeaders(original, 2)

	assert.Equal(t, int32(2), next[retryCountHeader])
	assert.Equal(t, "clinic-service", next["x-origin"])
	assert.NotContains(t, original, retryCountHeader)
}

func TestGetRetryCount(t *testing.T) {
	assert.Equal(t, 0, getRetryCount(amqp.Delivery{}))

	msg := amqp.Delivery{Headers: amqp.Table{
		"x-death": []interface{}{amqp.Table{"count": int64(2)}},
	}}
	assert.Equal(t, 2, getRetryCount(msg))

	counted := amqp.Delivery{Headers: amqp.Table{retryCountHeader: int32(1)}}
	assert.Equal(t, 1, getRetryCount(counted))

	counted.Headers[retryCountHeader] = int64(3)
	assert.Equal(t, 3, getRetryCount(counted))
}

func TestOutcome_String(t *testing.T) {
	assert.Equal(t, "ack", OutcomeAck.String())
	assert.Equal(t, "requeue", OutcomeRequeue.String())
	assert.Equal(t, "reject", OutcomeReject.String())
}
