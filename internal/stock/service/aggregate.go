package service

import (
	"context"
	"time"

	"github.com/schoolclinic/clinic-backend/internal/stock/domain"
)

// AggregateChange is the outcome of one recompute
type AggregateChange struct {
	Item     *domain.MedicineItem
	OldLevel domain.QuantityLevel
	OldTotal int
}

// LevelChanged reports whether the item moved to another tier
func (c AggregateChange) LevelChanged() bool {
	return c.Item.QuantityLevel != c.OldLevel
}

// AggregateTracker keeps an item's cached total equal to the sum of its
// batch balances. It always re-sums the ledger and never applies deltas.
type AggregateTracker struct {
	now func() time.Time
}

// NewAggregateTracker creates a tracker stamping recomputes with now
func NewAggregateTracker(now func() time.Time) *AggregateTracker {
	return &AggregateTracker{now: now}
}

// Recompute locks the item inside tx, re-sums every batch of the item and
// saves the total and level.
func (a *AggregateTracker) Recompute(ctx context.Context, tx domain.LedgerTx, itemID string) (AggregateChange, error) {
	item, err := tx.LockItem(ctx, itemID)
	if err != nil {
		return AggregateChange{}, err
	}

	change := AggregateChange{OldLevel: item.QuantityLevel, OldTotal: item.OverallQuantity}

	tallies, err := tx.ItemTallies(ctx, itemID)
	if err != nil {
		return AggregateChange{}, err
	}

	now := a.now().UTC()
	item.OverallQuantity = domain.SumBalances(tallies)
	item.QuantityLevel = domain.LevelFor(item.OverallQuantity)
	item.RecomputedAt = &now

	if err := tx.SaveItemAggregate(ctx, item); err != nil {
		return AggregateChange{}, err
	}

	change.Item = item
	return change, nil
}
