package domain

import (
	"context"
	"time"
)

// LedgerStore is the persistence port of the stock ledger.
//
// Mutations only happen through WithinItem and WithinBatch, each of which runs
// its callback in one store transaction: either every write of the callback is
// committed or none is.
type LedgerStore interface {
	GetItem(ctx context.Context, itemID string) (*MedicineItem, error)
	GetBatch(ctx context.Context, batchID string) (*Batch, error)
	ListItemIDs(ctx context.Context) ([]string, error)

	// Tally sums the batch's current entries. Returns NotFound for unknown batches.
	Tally(ctx context.Context, batchID string) (Tally, error)

	// AllTallies sums the entries of every batch
	AllTallies(ctx context.Context) ([]Tally, error)

	// ListUnexpired returns batches whose expiration date is after asOf,
	// joined with item metadata and carrying their tallies.
	ListUnexpired(ctx context.Context, asOf time.Time) ([]*BatchSummary, error)

	// Entries loads the full movement history of a batch in insertion order
	Entries(ctx context.Context, batchID string) ([]*DisposalEntry, []*AdjustmentEntry, error)

	// CountOrphanEntries counts movements whose batch reference does not resolve
	CountOrphanEntries(ctx context.Context) (int, error)

	// WithinItem runs fn with the item row locked. NotFound if the item is unknown.
	WithinItem(ctx context.Context, itemID string, fn func(tx LedgerTx, item *MedicineItem) error) error

	// WithinBatch runs fn with the batch row locked and its version stamp
	// bumped. NotFound if the batch is unknown.
	WithinBatch(ctx context.Context, batchID string, fn func(tx LedgerTx, batch *Batch) error) error
}

// LedgerTx is the set of operations available inside a store transaction
type LedgerTx interface {
	Tally(ctx context.Context, batchID string) (Tally, error)
	ItemTallies(ctx context.Context, itemID string) ([]Tally, error)
	LockItem(ctx context.Context, itemID string) (*MedicineItem, error)

	InsertBatch(ctx context.Context, batch *Batch) error
	InsertDisposal(ctx context.Context, entry *DisposalEntry) error
	InsertAdjustment(ctx context.Context, entry *AdjustmentEntry) error
	SaveItemAggregate(ctx context.Context, item *MedicineItem) error
}
