// Package domain holds the medicine-stock ledger model: batches received into
// stock, the append-only movements recorded against them, and the pure rules
// that derive balances and stock-level tiers from that history.
package domain

import "time"

// Direction is the sign of an adjustment entry
type Direction string

const (
	DirectionAddition    Direction = "addition"
	DirectionSubtraction Direction = "subtraction"
)

// Valid reports whether d is a known direction
func (d Direction) Valid() bool {
	return d == DirectionAddition || d == DirectionSubtraction
}

// DisposalKind distinguishes plain disposals from clinical issuance
type DisposalKind string

const (
	KindDisposal DisposalKind = "disposal"
	KindIssuance DisposalKind = "issuance"
)

// MedicineItem is a catalog entry with its cached stock aggregate.
// OverallQuantity and QuantityLevel are derived and only written by the
// aggregate recompute.
type MedicineItem struct {
	ID              string        `db:"id" json:"id"`
	ProductName     string        `db:"product_name" json:"product_name"`
	Description     *string       `db:"description" json:"description,omitempty"`
	OverallQuantity int           `db:"overall_quantity" json:"overall_quantity"`
	QuantityLevel   QuantityLevel `db:"quantity_level" json:"quantity_level"`
	RecomputedAt    *time.Time    `db:"recomputed_at" json:"recomputed_at,omitempty"`
	CreatedAt       time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time     `db:"updated_at" json:"updated_at"`
}

// Batch is one received lot of a medicine item. ReceiptQuantity never changes
// after the receipt is recorded.
type Batch struct {
	ID              string    `db:"id" json:"id"`
	BatchID         string    `db:"batch_id" json:"batch_id"`
	ItemID          string    `db:"item_id" json:"item_id"`
	ReceiptQuantity int       `db:"receipt_quantity" json:"receipt_quantity"`
	ExpirationDate  time.Time `db:"expiration_date" json:"expiration_date"`
	ReceivedAt      time.Time `db:"received_at" json:"received_at"`
	Supplier        *string   `db:"supplier" json:"supplier,omitempty"`
	Notes           *string   `db:"notes" json:"notes,omitempty"`
	ReceivedBy      *string   `db:"received_by" json:"received_by,omitempty"`
	Version         int64     `db:"version" json:"version"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}

// Expired reports whether the batch is past its expiration date at asOf
func (b *Batch) Expired(asOf time.Time) bool {
	return b.ExpirationDate.Before(asOf)
}

// MaxMovementQuantity is the largest quantity a single receipt, disposal,
// adjustment or issuance may carry.
const MaxMovementQuantity = 1_000_000

// DisposalEntry permanently removes quantity from a batch
type DisposalEntry struct {
	ID                string       `db:"id" json:"id"`
	BatchID           string       `db:"batch_id" json:"batch_id"`
	Quantity          int          `db:"quantity" json:"quantity"`
	Reason            string       `db:"reason" json:"reason"`
	Kind              DisposalKind `db:"kind" json:"kind"`
	IssuanceReference *string      `db:"issuance_reference" json:"issuance_reference,omitempty"`
	PerformedBy       *string      `db:"performed_by" json:"performed_by,omitempty"`
	CreatedAt         time.Time    `db:"created_at" json:"created_at"`
}

// AdjustmentEntry is a signed correction against a batch
type AdjustmentEntry struct {
	ID          string    `db:"id" json:"id"`
	BatchID     string    `db:"batch_id" json:"batch_id"`
	Quantity    int       `db:"quantity" json:"quantity"`
	Direction   Direction `db:"direction" json:"direction"`
	Reason      string    `db:"reason" json:"reason"`
	PerformedBy *string   `db:"performed_by" json:"performed_by,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// BatchSummary is a batch joined with its item metadata and current tally,
// as shown to the clinical-issuance workflow.
type BatchSummary struct {
	BatchID         string    `db:"batch_id" json:"batch_id"`
	ItemID          string    `db:"item_id" json:"item_id"`
	ProductName     string    `db:"product_name" json:"product_name"`
	Description     *string   `db:"description" json:"description,omitempty"`
	ExpirationDate  time.Time `db:"expiration_date" json:"expiration_date"`
	ReceiptQuantity int       `db:"receipt_quantity" json:"receipt_quantity"`
	Balance         int       `db:"-" json:"balance"`
	Tally           Tally     `db:"-" json:"-"`
}

// ItemSummary is the cached aggregate of an item
type ItemSummary struct {
	ItemID          string        `json:"item_id"`
	ProductName     string        `json:"product_name"`
	OverallQuantity int           `json:"overall_quantity"`
	QuantityLevel   QuantityLevel `json:"quantity_level"`
}
