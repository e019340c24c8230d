package repository

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/schoolclinic/clinic-backend/internal/stock/domain"
)

const itemColumns = `id, product_name, description, overall_quantity, quantity_level,
	recomputed_at, created_at, updated_at`

// GetItem gets a medicine item by ID
func (r *LedgerRepository) GetItem(ctx context.Context, itemID string) (*domain.MedicineItem, error) {
	if uuid.Validate(itemID) != nil {
		return nil, domain.ItemNotFound()
	}

	var item domain.MedicineItem
	query := `SELECT ` + itemColumns + ` FROM medicine_items WHERE id = $1`
	if err := r.db.GetContext(ctx, &item, query, itemID); err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ItemNotFound()
		}
		return nil, err
	}
	return &item, nil
}

// ListItemIDs lists the ids of all medicine items
func (r *LedgerRepository) ListItemIDs(ctx context.Context) ([]string, error) {
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, `SELECT id FROM medicine_items ORDER BY id`); err != nil {
		return nil, err
	}
	return ids, nil
}

// LockItem reads the item row FOR UPDATE
func (t *ledgerTx) LockItem(ctx context.Context, itemID string) (*domain.MedicineItem, error) {
	// item ids are UUID columns; anything else cannot match a row
	if uuid.Validate(itemID) != nil {
		return nil, domain.ItemNotFound()
	}

	var item domain.MedicineItem
	query := `SELECT ` + itemColumns + ` FROM medicine_items WHERE id = $1 FOR UPDATE`
	if err := t.tx.GetContext(ctx, &item, query, itemID); err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ItemNotFound()
		}
		return nil, err
	}
	return &item, nil
}

// SaveItemAggregate writes the recomputed aggregate columns of an item
func (t *ledgerTx) SaveItemAggregate(ctx context.Context, item *domain.MedicineItem) error {
	query := `
		UPDATE medicine_items SET
			overall_quantity = $2, quantity_level = $3, recomputed_at = $4
		WHERE id = $1
		RETURNING updated_at
	`

	err := t.tx.QueryRowxContext(ctx, query,
		item.ID, item.OverallQuantity, item.QuantityLevel, item.RecomputedAt,
	).Scan(&item.UpdatedAt)
	if err == sql.ErrNoRows {
		return domain.ItemNotFound()
	}
	return err
}
