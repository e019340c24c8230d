package repository

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	"github.com/schoolclinic/clinic-backend/internal/stock/domain"
)

// tallyColumns sums every movement of batch b straight from the entry tables
const tallyColumns = `
	b.batch_id,
	b.receipt_quantity AS received,
	COALESCE((SELECT SUM(a.quantity) FROM stock_adjustments a
	          WHERE a.batch_id = b.batch_id AND a.direction = 'addition'), 0) AS added,
	COALESCE((SELECT SUM(a.quantity) FROM stock_adjustments a
	          WHERE a.batch_id = b.batch_id AND a.direction = 'subtraction'), 0) AS subtracted,
	COALESCE((SELECT SUM(d.quantity) FROM stock_disposals d
	          WHERE d.batch_id = b.batch_id), 0) AS disposed`

func tallyOf(ctx context.Context, q sqlx.QueryerContext, batchID string) (domain.Tally, error) {
	var t domain.Tally
	query := `SELECT ` + tallyColumns + ` FROM medicine_batches b WHERE b.batch_id = $1`
	if err := sqlx.GetContext(ctx, q, &t, query, batchID); err != nil {
		if err == sql.ErrNoRows {
			return domain.Tally{}, domain.BatchNotFound()
		}
		return domain.Tally{}, err
	}
	return t, nil
}

func itemTallies(ctx context.Context, q sqlx.QueryerContext, itemID string) ([]domain.Tally, error) {
	var tallies []domain.Tally
	query := `SELECT ` + tallyColumns + ` FROM medicine_batches b WHERE b.item_id = $1 ORDER BY b.batch_id`
	if err := sqlx.SelectContext(ctx, q, &tallies, query, itemID); err != nil {
		return nil, err
	}
	return tallies, nil
}

// Tally sums the current entries of a batch
func (r *LedgerRepository) Tally(ctx context.Context, batchID string) (domain.Tally, error) {
	return tallyOf(ctx, r.db, batchID)
}

// AllTallies sums the entries of every batch
func (r *LedgerRepository) AllTallies(ctx context.Context) ([]domain.Tally, error) {
	var tallies []domain.Tally
	query := `SELECT ` + tallyColumns + ` FROM medicine_batches b ORDER BY b.batch_id`
	if err := r.db.SelectContext(ctx, &tallies, query); err != nil {
		return nil, err
	}
	return tallies, nil
}
