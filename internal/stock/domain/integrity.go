package domain

import "time"

// ViolationKind classifies an integrity finding
type ViolationKind string

const (
	// ViolationNegativeBalance: a batch's derived balance is below zero
	ViolationNegativeBalance ViolationKind = "negative_balance"
	// ViolationAggregateDrift: an item's cached total differs from its batches
	ViolationAggregateDrift ViolationKind = "aggregate_drift"
	// ViolationOrphanEntries: movements reference a batch that does not exist
	ViolationOrphanEntries ViolationKind = "orphan_entries"
)

// Violation is one integrity finding. Expected is what the ledger implies,
// Actual is what was found.
type Violation struct {
	Kind     ViolationKind `json:"kind"`
	BatchID  string        `json:"batch_id,omitempty"`
	ItemID   string        `json:"item_id,omitempty"`
	Expected int           `json:"expected"`
	Actual   int           `json:"actual"`
}

// IntegrityReport is the result of one integrity pass
type IntegrityReport struct {
	CheckedAt      time.Time   `json:"checked_at"`
	CheckedBatches int         `json:"checked_batches"`
	CheckedItems   int         `json:"checked_items"`
	Violations     []Violation `json:"violations"`
	// RepairedItems lists items whose drifted aggregate was recomputed
	RepairedItems []string `json:"repaired_items"`
}

// Clean reports whether the pass found nothing
func (r *IntegrityReport) Clean() bool {
	return len(r.Violations) == 0
}
