// Package events publishes stock ledger events. Publishing happens after the
// ledger transaction committed; failures are logged and never undo a movement.
package events

import (
	"context"

	"github.com/schoolclinic/clinic-backend/internal/stock/domain"
	"github.com/schoolclinic/clinic-backend/pkg/logger"
	"github.com/schoolclinic/clinic-backend/pkg/messaging"
)

// StockEventPublisher publishes stock-related events. A nil publisher is
// valid and drops every event.
type StockEventPublisher struct {
	sink   messaging.EventSink
	logger *logger.Logger
}

// NewStockEventPublisher declares the stock exchange and creates a publisher on it
func NewStockEventPublisher(rmq *messaging.RabbitMQ, log *logger.Logger) (*StockEventPublisher, error) {
	publisher, err := messaging.NewPublisher(rmq, messaging.ExchangeStockEvents, "stock-service", log)
	if err != nil {
		return nil, err
	}

	return New(publisher, log), nil
}

// New creates a publisher on top of any event sink
func New(sink messaging.EventSink, log *logger.Logger) *StockEventPublisher {
	return &StockEventPublisher{
		sink:   sink,
		logger: log.WithComponent("stock-events"),
	}
}

func (p *StockEventPublisher) publish(ctx context.Context, eventType string, data interface{}, key, id string) {
	if err := p.sink.Publish(ctx, eventType, data); err != nil {
		p.logger.Error().Err(err).Str("event_type", eventType).Str(key, id).Msg("failed to publish stock event")
	}
}

// PublishBatchReceived publishes a batch received event
func (p *StockEventPublisher) PublishBatchReceived(ctx context.Context, batch *domain.Batch, item *domain.MedicineItem) {
	if p == nil {
		return
	}

	p.publish(ctx, messaging.EventBatchReceived, messaging.BatchReceivedEvent{
		BatchID:         batch.BatchID,
		ItemID:          batch.ItemID,
		Quantity:        batch.ReceiptQuantity,
		ExpirationDate:  batch.ExpirationDate,
		ReceivedBy:      deref(batch.ReceivedBy),
		OverallQuantity: item.OverallQuantity,
	}, "batch_id", batch.BatchID)
}

// PublishDisposal publishes a disposal, or an issuance for issuance entries
func (p *StockEventPublisher) PublishDisposal(ctx context.Context, entry *domain.DisposalEntry, itemID string, remaining int) {
	if p == nil {
		return
	}

	eventType := messaging.EventBatchDisposed
	if entry.Kind == domain.KindIssuance {
		eventType = messaging.EventMedicineIssued
	}

	p.publish(ctx, eventType, messaging.BatchDisposedEvent{
		EntryID:           entry.ID,
		BatchID:           entry.BatchID,
		ItemID:            itemID,
		Quantity:          entry.Quantity,
		Reason:            entry.Reason,
		IssuanceReference: deref(entry.IssuanceReference),
		PerformedBy:       deref(entry.PerformedBy),
		RemainingBalance:  remaining,
	}, "batch_id", entry.BatchID)
}

// PublishAdjustment publishes a batch adjusted event
func (p *StockEventPublisher) PublishAdjustment(ctx context.Context, entry *domain.AdjustmentEntry, itemID string, remaining int) {
	if p == nil {
		return
	}

	p.publish(ctx, messaging.EventBatchAdjusted, messaging.BatchAdjustedEvent{
		EntryID:          entry.ID,
		BatchID:          entry.BatchID,
		ItemID:           itemID,
		Quantity:         entry.Quantity,
		Direction:        string(entry.Direction),
		Reason:           entry.Reason,
		PerformedBy:      deref(entry.PerformedBy),
		RemainingBalance: remaining,
	}, "batch_id", entry.BatchID)
}

// PublishLevelChanged publishes a tier change of an item. Nothing is sent
// when the level did not change.
func (p *StockEventPublisher) PublishLevelChanged(ctx context.Context, item *domain.MedicineItem, oldLevel domain.QuantityLevel) {
	if p == nil || item.QuantityLevel == oldLevel {
		return
	}

	p.publish(ctx, messaging.EventItemLevelChanged, messaging.ItemLevelChangedEvent{
		ItemID:          item.ID,
		ProductName:     item.ProductName,
		OldLevel:        string(oldLevel),
		NewLevel:        string(item.QuantityLevel),
		OverallQuantity: item.OverallQuantity,
	}, "item_id", item.ID)
}

// PublishIntegrityViolation publishes one finding of the integrity job
func (p *StockEventPublisher) PublishIntegrityViolation(ctx context.Context, v domain.Violation) {
	if p == nil {
		return
	}

	p.publish(ctx, messaging.EventIntegrityViolated, messaging.IntegrityViolationEvent{
		Kind:     string(v.Kind),
		BatchID:  v.BatchID,
		ItemID:   v.ItemID,
		Expected: v.Expected,
		Actual:   v.Actual,
	}, "kind", string(v.Kind))
}

// PublishIssuanceRejected answers an issuance request that failed a business rule
func (p *StockEventPublisher) PublishIssuanceRejected(ctx context.Context, req messaging.IssuanceRequestedEvent, code, message string, details map[string]string) {
	if p == nil {
		return
	}

	p.publish(ctx, messaging.EventIssuanceRejected, messaging.IssuanceRejectedEvent{
		IssuanceReference: req.IssuanceReference,
		BatchID:           req.BatchID,
		Quantity:          req.Quantity,
		Code:              code,
		Message:           message,
		Details:           details,
	}, "issuance_reference", req.IssuanceReference)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
