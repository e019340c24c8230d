// Package repository persists the stock ledger in PostgreSQL.
package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/schoolclinic/clinic-backend/internal/stock/domain"
	"github.com/schoolclinic/clinic-backend/pkg/database"
	"github.com/schoolclinic/clinic-backend/pkg/errors"
)

// Constraint names from migrations/000001_create_stock_ledger.up.sql
const (
	constraintBatchID           = "medicine_batches_batch_id_key"
	constraintIssuanceReference = "stock_disposals_issuance_reference_key"
)

// LedgerRepository implements domain.LedgerStore on top of sqlx
type LedgerRepository struct {
	db *database.DB
}

// NewLedgerRepository creates a new ledger repository
func NewLedgerRepository(db *database.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

var _ domain.LedgerStore = (*LedgerRepository)(nil)

// WithinItem locks the item row and runs fn in one transaction
func (r *LedgerRepository) WithinItem(ctx context.Context, itemID string, fn func(domain.LedgerTx, *domain.MedicineItem) error) error {
	err := r.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		ltx := &ledgerTx{tx: tx}

		item, err := ltx.LockItem(ctx, itemID)
		if err != nil {
			return err
		}

		return fn(ltx, item)
	})
	return translate(err)
}

// WithinBatch bumps the batch version, which takes its row lock until commit,
// and runs fn in the same transaction.
func (r *LedgerRepository) WithinBatch(ctx context.Context, batchID string, fn func(domain.LedgerTx, *domain.Batch) error) error {
	err := r.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		query := `
			UPDATE medicine_batches SET version = version + 1
			WHERE batch_id = $1
			RETURNING ` + batchColumns

		var batch domain.Batch
		if err := tx.QueryRowxContext(ctx, query, batchID).StructScan(&batch); err != nil {
			if err == sql.ErrNoRows {
				return domain.BatchNotFound()
			}
			return err
		}

		return fn(&ledgerTx{tx: tx}, &batch)
	})
	return translate(err)
}

// ledgerTx is the transaction-scoped half of the store
type ledgerTx struct {
	tx *sqlx.Tx
}

var _ domain.LedgerTx = (*ledgerTx)(nil)

func (t *ledgerTx) Tally(ctx context.Context, batchID string) (domain.Tally, error) {
	return tallyOf(ctx, t.tx, batchID)
}

func (t *ledgerTx) ItemTallies(ctx context.Context, itemID string) ([]domain.Tally, error) {
	return itemTallies(ctx, t.tx, itemID)
}

// translate turns driver errors that escaped a transaction into AppErrors.
// Errors that already are AppErrors pass through untouched.
func translate(err error) error {
	if err == nil {
		return nil
	}

	var appErr *errors.AppError
	if errors.As(err, &appErr) {
		return err
	}

	if mapped := database.MapPQError(err); mapped != nil {
		return mapped
	}

	return fmt.Errorf("stock ledger: %w", err)
}
