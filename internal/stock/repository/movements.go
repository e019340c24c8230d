package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/schoolclinic/clinic-backend/internal/stock/domain"
	"github.com/schoolclinic/clinic-backend/pkg/database"
	"github.com/schoolclinic/clinic-backend/pkg/errors"
)

// InsertDisposal appends a disposal or issuance entry
func (t *ledgerTx) InsertDisposal(ctx context.Context, entry *domain.DisposalEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.Kind == "" {
		entry.Kind = domain.KindDisposal
	}

	query := `
		INSERT INTO stock_disposals (
			id, batch_id, quantity, reason, kind, issuance_reference, performed_by
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`

	err := t.tx.QueryRowxContext(ctx, query,
		entry.ID, entry.BatchID, entry.Quantity, entry.Reason, entry.Kind,
		entry.IssuanceReference, entry.PerformedBy,
	).Scan(&entry.CreatedAt)

	switch {
	case err == nil:
		return nil
	case database.IsUniqueViolation(err, constraintIssuanceReference):
		return errors.Conflict("issuance already recorded for this batch").WithDetails(map[string]string{
			"batch_id":           entry.BatchID,
			"issuance_reference": deref(entry.IssuanceReference),
		})
	case database.IsForeignKeyViolation(err):
		return domain.Referential(entry.BatchID)
	default:
		return err
	}
}

// InsertAdjustment appends an adjustment entry
func (t *ledgerTx) InsertAdjustment(ctx context.Context, entry *domain.AdjustmentEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}

	query := `
		INSERT INTO stock_adjustments (
			id, batch_id, quantity, direction, reason, performed_by
		) VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`

	err := t.tx.QueryRowxContext(ctx, query,
		entry.ID, entry.BatchID, entry.Quantity, entry.Direction, entry.Reason, entry.PerformedBy,
	).Scan(&entry.CreatedAt)

	if database.IsForeignKeyViolation(err) {
		return domain.Referential(entry.BatchID)
	}
	return err
}

// Entries loads the movements of a batch in insertion order
func (r *LedgerRepository) Entries(ctx context.Context, batchID string) ([]*domain.DisposalEntry, []*domain.AdjustmentEntry, error) {
	var disposals []*domain.DisposalEntry
	query := `
		SELECT id, batch_id, quantity, reason, kind, issuance_reference, performed_by, created_at
		FROM stock_disposals
		WHERE batch_id = $1
		ORDER BY created_at, id
	`
	if err := r.db.SelectContext(ctx, &disposals, query, batchID); err != nil {
		return nil, nil, err
	}

	var adjustments []*domain.AdjustmentEntry
	query = `
		SELECT id, batch_id, quantity, direction, reason, performed_by, created_at
		FROM stock_adjustments
		WHERE batch_id = $1
		ORDER BY created_at, id
	`
	if err := r.db.SelectContext(ctx, &adjustments, query, batchID); err != nil {
		return nil, nil, err
	}

	return disposals, adjustments, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
