// Package service implements the stock ledger operations on top of a
// domain.LedgerStore.
package service

import (
	"context"
	"time"

	"github.com/schoolclinic/clinic-backend/internal/stock/domain"
	"github.com/schoolclinic/clinic-backend/internal/stock/events"
	"github.com/schoolclinic/clinic-backend/pkg/actor"
	"github.com/schoolclinic/clinic-backend/pkg/errors"
	"github.com/schoolclinic/clinic-backend/pkg/logger"
	"github.com/schoolclinic/clinic-backend/pkg/validation"
)

// LedgerService records stock movements and answers balance queries.
//
// Every mutation runs in one store transaction: the balance is read under
// the batch lock, validated, the entry is appended and the item aggregate is
// recomputed before commit. A rejected request writes nothing.
type LedgerService struct {
	store     domain.LedgerStore
	tracker   *AggregateTracker
	publisher *events.StockEventPublisher
	logger    *logger.Logger
	now       func() time.Time
}

// Option configures a LedgerService
type Option func(*LedgerService)

// WithClock replaces time.Now, e.g. for expiry tests
func WithClock(now func() time.Time) Option {
	return func(s *LedgerService) {
		s.now = now
	}
}

// NewLedgerService creates a new ledger service. publisher may be nil.
func NewLedgerService(store domain.LedgerStore, publisher *events.StockEventPublisher, log *logger.Logger, opts ...Option) *LedgerService {
	s := &LedgerService{
		store:     store,
		publisher: publisher,
		logger:    log.WithComponent("stock-ledger"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.tracker = NewAggregateTracker(s.now)
	return s
}

// RecordReceipt records a newly delivered batch of an item
func (s *LedgerService) RecordReceipt(ctx context.Context, cmd ReceiptCommand) (*domain.Batch, error) {
	if err := validation.Struct(cmd); err != nil {
		return nil, err
	}

	receivedAt := s.now().UTC()
	if cmd.ReceivedAt != nil {
		receivedAt = cmd.ReceivedAt.UTC()
	}

	batch := &domain.Batch{
		BatchID:         cmd.BatchID,
		ItemID:          cmd.ItemID,
		ReceiptQuantity: cmd.Quantity,
		ExpirationDate:  cmd.ExpirationDate.UTC(),
		ReceivedAt:      receivedAt,
		Supplier:        cmd.Supplier,
		Notes:           cmd.Notes,
		ReceivedBy:      actor.IDFromContext(ctx),
	}

	var change AggregateChange
	err := s.store.WithinItem(ctx, cmd.ItemID, func(tx domain.LedgerTx, item *domain.MedicineItem) error {
		if err := tx.InsertBatch(ctx, batch); err != nil {
			return err
		}

		var err error
		change, err = s.tracker.Recompute(ctx, tx, item.ID)
		return err
	})
	if err != nil {
		s.logFailure(err, "receipt", cmd.BatchID)
		return nil, err
	}

	s.logger.Info().
		Str("batch_id", batch.BatchID).
		Str("item_id", batch.ItemID).
		Int("quantity", batch.ReceiptQuantity).
		Int("overall_quantity", change.Item.OverallQuantity).
		Msg("batch received")

	s.publisher.PublishBatchReceived(ctx, batch, change.Item)
	s.publisher.PublishLevelChanged(ctx, change.Item, change.OldLevel)

	return batch, nil
}

// RecordDisposal permanently removes quantity from a batch (expiry, waste)
func (s *LedgerService) RecordDisposal(ctx context.Context, cmd DisposalCommand) (*domain.DisposalEntry, error) {
	if err := validation.Struct(cmd); err != nil {
		return nil, err
	}

	return s.withdraw(ctx, cmd.BatchID, &domain.DisposalEntry{
		BatchID:     cmd.BatchID,
		Quantity:    cmd.Quantity,
		Reason:      cmd.Reason,
		Kind:        domain.KindDisposal,
		PerformedBy: actor.IDFromContext(ctx),
	})
}

// IssueMedicine records a clinical issuance. It is a disposal carrying an
// issuance reference, validated exactly like any other disposal.
func (s *LedgerService) IssueMedicine(ctx context.Context, cmd IssuanceCommand) (*domain.DisposalEntry, error) {
	if err := validation.Struct(cmd); err != nil {
		return nil, err
	}

	reason := cmd.Reason
	if reason == "" {
		reason = "clinical issuance"
	}
	ref := cmd.IssuanceReference

	return s.withdraw(ctx, cmd.BatchID, &domain.DisposalEntry{
		BatchID:           cmd.BatchID,
		Quantity:          cmd.Quantity,
		Reason:            reason,
		Kind:              domain.KindIssuance,
		IssuanceReference: &ref,
		PerformedBy:       actor.IDFromContext(ctx),
	})
}

func (s *LedgerService) withdraw(ctx context.Context, batchID string, entry *domain.DisposalEntry) (*domain.DisposalEntry, error) {
	var (
		itemID    string
		remaining int
		change    AggregateChange
	)

	err := s.store.WithinBatch(ctx, batchID, func(tx domain.LedgerTx, batch *domain.Batch) error {
		tally, err := tx.Tally(ctx, batch.BatchID)
		if err != nil {
			return err
		}

		remaining, err = domain.CheckWithdrawal(tally, entry.Quantity)
		if err != nil {
			return err
		}

		if err := tx.InsertDisposal(ctx, entry); err != nil {
			return err
		}

		itemID = batch.ItemID
		change, err = s.tracker.Recompute(ctx, tx, batch.ItemID)
		return err
	})
	if err != nil {
		s.logFailure(err, string(entry.Kind), batchID)
		return nil, err
	}

	s.logger.Info().
		Str("batch_id", batchID).
		Str("kind", string(entry.Kind)).
		Int("quantity", entry.Quantity).
		Int("remaining", remaining).
		Msg("stock withdrawn")

	s.publisher.PublishDisposal(ctx, entry, itemID, remaining)
	s.publisher.PublishLevelChanged(ctx, change.Item, change.OldLevel)

	return entry, nil
}

// RecordAdjustment records a correction. Subtractions go through the same
// withdrawal check as disposals; additions are always allowed.
func (s *LedgerService) RecordAdjustment(ctx context.Context, cmd AdjustmentCommand) (*domain.AdjustmentEntry, error) {
	if err := validation.Struct(cmd); err != nil {
		return nil, err
	}

	entry := &domain.AdjustmentEntry{
		BatchID:     cmd.BatchID,
		Quantity:    cmd.Quantity,
		Direction:   domain.Direction(cmd.Direction),
		Reason:      cmd.Reason,
		PerformedBy: actor.IDFromContext(ctx),
	}

	var (
		itemID    string
		remaining int
		change    AggregateChange
	)

	err := s.store.WithinBatch(ctx, cmd.BatchID, func(tx domain.LedgerTx, batch *domain.Batch) error {
		tally, err := tx.Tally(ctx, batch.BatchID)
		if err != nil {
			return err
		}

		if entry.Direction == domain.DirectionSubtraction {
			remaining, err = domain.CheckWithdrawal(tally, entry.Quantity)
			if err != nil {
				return err
			}
		} else {
			remaining = tally.Balance() + entry.Quantity
		}

		if err := tx.InsertAdjustment(ctx, entry); err != nil {
			return err
		}

		itemID = batch.ItemID
		change, err = s.tracker.Recompute(ctx, tx, batch.ItemID)
		return err
	})
	if err != nil {
		s.logFailure(err, "adjustment", cmd.BatchID)
		return nil, err
	}

	s.logger.Info().
		Str("batch_id", cmd.BatchID).
		Str("direction", cmd.Direction).
		Int("quantity", cmd.Quantity).
		Int("remaining", remaining).
		Msg("stock adjusted")

	s.publisher.PublishAdjustment(ctx, entry, itemID, remaining)
	s.publisher.PublishLevelChanged(ctx, change.Item, change.OldLevel)

	return entry, nil
}

// GetBalance returns the current balance of a batch, derived from its full history
func (s *LedgerService) GetBalance(ctx context.Context, batchID string) (int, error) {
	tally, err := s.store.Tally(ctx, batchID)
	if err != nil {
		return 0, err
	}
	return tally.Balance(), nil
}

// GetItemSummary returns the cached aggregate of an item
func (s *LedgerService) GetItemSummary(ctx context.Context, itemID string) (*domain.ItemSummary, error) {
	item, err := s.store.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}

	return &domain.ItemSummary{
		ItemID:          item.ID,
		ProductName:     item.ProductName,
		OverallQuantity: item.OverallQuantity,
		QuantityLevel:   item.QuantityLevel,
	}, nil
}

// GetBatchLedger returns the receipt and every movement of a batch with the
// running balance after each entry.
func (s *LedgerService) GetBatchLedger(ctx context.Context, batchID string) (*domain.BatchLedger, error) {
	batch, err := s.store.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}

	disposals, adjustments, err := s.store.Entries(ctx, batchID)
	if err != nil {
		return nil, err
	}

	return domain.BuildLedger(batch, disposals, adjustments, s.now()), nil
}

// RecomputeItem re-sums the aggregate of an item from the ledger. Safe to
// run at any time; running it twice yields the same result.
func (s *LedgerService) RecomputeItem(ctx context.Context, itemID string) (*domain.MedicineItem, error) {
	var change AggregateChange
	err := s.store.WithinItem(ctx, itemID, func(tx domain.LedgerTx, item *domain.MedicineItem) error {
		var err error
		change, err = s.tracker.Recompute(ctx, tx, item.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	if change.OldTotal != change.Item.OverallQuantity {
		s.logger.Warn().
			Str("item_id", itemID).
			Int("cached", change.OldTotal).
			Int("recomputed", change.Item.OverallQuantity).
			Msg("item aggregate corrected")
	}

	s.publisher.PublishLevelChanged(ctx, change.Item, change.OldLevel)
	return change.Item, nil
}

// logFailure logs business rejections at warn and everything else at error
func (s *LedgerService) logFailure(err error, op, batchID string) {
	event := s.logger.Error()
	if IsBusinessError(err) {
		event = s.logger.Warn()
	}
	event.Err(err).
		Str("operation", op).
		Str("batch_id", batchID).
		Str("code", errors.CodeOf(err)).
		Msg("stock movement rejected")
}

// IsBusinessError reports whether err is a client-side rejection (validation,
// unknown batch, insufficient stock, duplicates, conflicts) as opposed to an
// infrastructure failure. A lost race is not a rejection: the same request
// may succeed when retried.
func IsBusinessError(err error) bool {
	var appErr *errors.AppError
	return errors.As(err, &appErr) &&
		appErr.StatusCode < 500 &&
		appErr.Code != errors.CodeConcurrentModification
}
