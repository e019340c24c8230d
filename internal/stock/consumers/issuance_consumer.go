// Package consumers turns clinic workflow events into stock ledger operations.
package consumers

import (
	"context"
	"fmt"

	"github.com/schoolclinic/clinic-backend/internal/stock/domain"
	"github.com/schoolclinic/clinic-backend/internal/stock/events"
	"github.com/schoolclinic/clinic-backend/internal/stock/service"
	"github.com/schoolclinic/clinic-backend/pkg/actor"
	"github.com/schoolclinic/clinic-backend/pkg/errors"
	"github.com/schoolclinic/clinic-backend/pkg/logger"
	"github.com/schoolclinic/clinic-backend/pkg/messaging"
)

// Issuer is the ledger operation the consumer drives
type Issuer interface {
	IssueMedicine(ctx context.Context, cmd service.IssuanceCommand) (*domain.DisposalEntry, error)
}

// IssuanceHandler handles clinic.issuance.requested events.
//
// Business rejections (insufficient stock, unknown batch, replayed reference)
// are answered with stock.issuance.rejected and acknowledged. A payload that
// does not decode is dead-lettered. Any other error, including a lost race
// with a concurrent movement, is returned so the delivery is retried.
type IssuanceHandler struct {
	issuer    Issuer
	publisher *events.StockEventPublisher
	logger    *logger.Logger
}

// NewIssuanceHandler creates a new issuance handler
func NewIssuanceHandler(issuer Issuer, publisher *events.StockEventPublisher, log *logger.Logger) *IssuanceHandler {
	return &IssuanceHandler{
		issuer:    issuer,
		publisher: publisher,
		logger:    log.WithComponent("issuance-consumer"),
	}
}

// Handle processes one issuance request
func (h *IssuanceHandler) Handle(ctx context.Context, event *messaging.Event) error {
	var data messaging.IssuanceRequestedEvent
	if err := event.UnmarshalData(&data); err != nil {
		return messaging.Permanent(fmt.Errorf("decode issuance request %s: %w", event.ID, err))
	}

	requester := actor.SystemActor()
	if data.RequestedBy != "" {
		requester = &actor.Actor{ID: data.RequestedBy}
	}
	ctx = actor.WithActor(ctx, requester)

	h.logger.Info().
		Str("event_id", event.ID).
		Str("batch_id", data.BatchID).
		Str("issuance_reference", data.IssuanceReference).
		Int("quantity", data.Quantity).
		Msg("received issuance request")

	_, err := h.issuer.IssueMedicine(ctx, service.IssuanceCommand{
		BatchID:           data.BatchID,
		Quantity:          data.Quantity,
		IssuanceReference: data.IssuanceReference,
		Reason:            "clinic issuance " + data.IssuanceReference,
	})
	if err == nil {
		return nil
	}

	var appErr *errors.AppError
	if !service.IsBusinessError(err) || !errors.As(err, &appErr) {
		return err
	}

	h.logger.Warn().
		Str("batch_id", data.BatchID).
		Str("issuance_reference", data.IssuanceReference).
		Str("code", appErr.Code).
		Msg("issuance request rejected")

	h.publisher.PublishIssuanceRejected(ctx, data, appErr.Code, appErr.Message, appErr.Details)
	return nil
}

// IssuanceConsumer binds the issuance handler to its queue
type IssuanceConsumer struct {
	consumer *messaging.Consumer
}

// NewIssuanceConsumer declares the issuance queue, binds it to the clinic
// exchange and registers the handler.
func NewIssuanceConsumer(rmq *messaging.RabbitMQ, handler *IssuanceHandler, log *logger.Logger) (*IssuanceConsumer, error) {
	consumer, err := messaging.NewConsumer(rmq, messaging.QueueStockIssuance, log)
	if err != nil {
		return nil, err
	}

	if err := consumer.Subscribe(messaging.ExchangeClinicEvents, messaging.EventIssuanceRequested); err != nil {
		return nil, err
	}

	consumer.RegisterHandler(messaging.EventIssuanceRequested, handler.Handle)

	return &IssuanceConsumer{consumer: consumer}, nil
}

// Start starts consuming messages
func (c *IssuanceConsumer) Start(ctx context.Context) error {
	return c.consumer.Start(ctx)
}
