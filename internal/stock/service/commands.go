package service

import "time"

// Quantity tags cap a single movement at domain.MaxMovementQuantity units.

// ReceiptCommand records the delivery of a new batch
type ReceiptCommand struct {
	ItemID         string     `json:"item_id" validate:"required"`
	BatchID        string     `json:"batch_id" validate:"required,max=100"`
	ExpirationDate *time.Time `json:"expiration_date" validate:"required"`
	Quantity       int        `json:"quantity" validate:"gt=0,max=1000000"`
	ReceivedAt     *time.Time `json:"received_at,omitempty"`
	Supplier       *string    `json:"supplier,omitempty" validate:"omitempty,max=255"`
	Notes          *string    `json:"notes,omitempty"`
}

// DisposalCommand permanently removes quantity from a batch
type DisposalCommand struct {
	BatchID  string `json:"batch_id" validate:"required"`
	Quantity int    `json:"quantity" validate:"gt=0,max=1000000"`
	Reason   string `json:"reason" validate:"required"`
}

// AdjustmentCommand records a signed correction against a batch
type AdjustmentCommand struct {
	BatchID   string `json:"batch_id" validate:"required"`
	Quantity  int    `json:"quantity" validate:"gt=0,max=1000000"`
	Direction string `json:"direction" validate:"required,oneof=addition subtraction"`
	Reason    string `json:"reason" validate:"required"`
}

// IssuanceCommand hands out medicine from a batch to the clinic. The
// reference identifies the issuance in the clinic's records and may be used
// once per batch.
type IssuanceCommand struct {
	BatchID           string `json:"batch_id" validate:"required"`
	Quantity          int    `json:"quantity" validate:"gt=0,max=1000000"`
	IssuanceReference string `json:"issuance_reference" validate:"required,max=100"`
	Reason            string `json:"reason,omitempty"`
}
