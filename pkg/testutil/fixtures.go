package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/schoolclinic/clinic-backend/internal/stock/domain"
)

// FixtureFactory creates ledger fixtures with unique identifiers
type FixtureFactory struct {
	mu  sync.Mutex
	seq int
}

// NewFixtureFactory creates a new fixture factory
func NewFixtureFactory() *FixtureFactory {
	return &FixtureFactory{}
}

func (f *FixtureFactory) nextSeq() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	return f.seq
}

// MedicineItem builds a catalog item with an empty aggregate
func (f *FixtureFactory) MedicineItem(opts ...func(*domain.MedicineItem)) *domain.MedicineItem {
	seq := f.nextSeq()
	now := time.Now().UTC()

	item := &domain.MedicineItem{
		ID:            uuid.New().String(),
		ProductName:   fmt.Sprintf("Medicine %d", seq),
		QuantityLevel: domain.LevelLow,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	for _, opt := range opts {
		opt(item)
	}

	return item
}

// WithProductName sets the item's product name
func WithProductName(name string) func(*domain.MedicineItem) {
	return func(i *domain.MedicineItem) {
		i.ProductName = name
	}
}

// InsertMedicineItem seeds an item row. Items are owned by the catalog
// service, so the ledger has no insert path of its own.
func InsertMedicineItem(ctx context.Context, db *sqlx.DB, item *domain.MedicineItem) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO medicine_items (id, product_name, description, overall_quantity, quantity_level)
		VALUES ($1, $2, $3, $4, $5)
	`, item.ID, item.ProductName, item.Description, item.OverallQuantity, item.QuantityLevel)
	return err
}
