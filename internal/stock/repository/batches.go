package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/schoolclinic/clinic-backend/internal/stock/domain"
	"github.com/schoolclinic/clinic-backend/pkg/database"
)

const batchColumns = `id, batch_id, item_id, receipt_quantity, expiration_date, received_at,
	supplier, notes, received_by, version, created_at`

// GetBatch gets a batch by its batch id
func (r *LedgerRepository) GetBatch(ctx context.Context, batchID string) (*domain.Batch, error) {
	var batch domain.Batch
	query := `SELECT ` + batchColumns + ` FROM medicine_batches WHERE batch_id = $1`
	if err := r.db.GetContext(ctx, &batch, query, batchID); err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.BatchNotFound()
		}
		return nil, err
	}
	return &batch, nil
}

// availableRow is one row of the availability join
type availableRow struct {
	BatchID         string    `db:"batch_id"`
	ItemID          string    `db:"item_id"`
	ProductName     string    `db:"product_name"`
	Description     *string   `db:"description"`
	ExpirationDate  time.Time `db:"expiration_date"`
	ReceiptQuantity int       `db:"received"`
	Added           int       `db:"added"`
	Subtracted      int       `db:"subtracted"`
	Disposed        int       `db:"disposed"`
}

// ListUnexpired returns batches expiring after asOf with item metadata and tallies.
// Exhausted batches are included; callers filter on balance.
func (r *LedgerRepository) ListUnexpired(ctx context.Context, asOf time.Time) ([]*domain.BatchSummary, error) {
	query := `
		SELECT b.item_id, i.product_name, i.description, b.expiration_date, ` + tallyColumns + `
		FROM medicine_batches b
		JOIN medicine_items i ON i.id = b.item_id
		WHERE b.expiration_date > $1
		ORDER BY b.expiration_date, b.batch_id
	`

	var rows []availableRow
	if err := r.db.SelectContext(ctx, &rows, query, asOf); err != nil {
		return nil, err
	}

	summaries := make([]*domain.BatchSummary, 0, len(rows))
	for _, row := range rows {
		tally := domain.Tally{
			BatchID:    row.BatchID,
			Received:   row.ReceiptQuantity,
			Added:      row.Added,
			Subtracted: row.Subtracted,
			Disposed:   row.Disposed,
		}
		summaries = append(summaries, &domain.BatchSummary{
			BatchID:         row.BatchID,
			ItemID:          row.ItemID,
			ProductName:     row.ProductName,
			Description:     row.Description,
			ExpirationDate:  row.ExpirationDate,
			ReceiptQuantity: row.ReceiptQuantity,
			Balance:         tally.Balance(),
			Tally:           tally,
		})
	}

	return summaries, nil
}

// InsertBatch records the receipt of a new batch
func (t *ledgerTx) InsertBatch(ctx context.Context, batch *domain.Batch) error {
	if batch.ID == "" {
		batch.ID = uuid.New().String()
	}

	query := `
		INSERT INTO medicine_batches (
			id, batch_id, item_id, receipt_quantity, expiration_date, received_at,
			supplier, notes, received_by
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING version, created_at
	`

	err := t.tx.QueryRowxContext(ctx, query,
		batch.ID, batch.BatchID, batch.ItemID, batch.ReceiptQuantity, batch.ExpirationDate,
		batch.ReceivedAt, batch.Supplier, batch.Notes, batch.ReceivedBy,
	).Scan(&batch.Version, &batch.CreatedAt)

	switch {
	case err == nil:
		return nil
	case database.IsUniqueViolation(err, constraintBatchID):
		return domain.DuplicateBatch(batch.BatchID)
	case database.IsForeignKeyViolation(err):
		return domain.ItemNotFound()
	default:
		return err
	}
}
