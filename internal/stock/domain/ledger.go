package domain

import (
	"sort"
	"time"
)

// LedgerLine is one movement of a batch with the balance right after it
type LedgerLine struct {
	EntryID   string    `json:"entry_id"`
	Type      string    `json:"type"`
	Quantity  int       `json:"quantity"`
	Delta     int       `json:"delta"`
	Reason    string    `json:"reason"`
	Reference *string   `json:"reference,omitempty"`
	Balance   int       `json:"balance"`
	CreatedAt time.Time `json:"created_at"`
}

// BatchLedger is the full movement history of a batch
type BatchLedger struct {
	Batch   *Batch       `json:"batch"`
	Lines   []LedgerLine `json:"lines"`
	Balance int          `json:"balance"`
	Expired bool         `json:"expired"`
}

// Entry types shown in a batch ledger
const (
	LineReceipt  = "receipt"
	LineDisposal = "disposal"
	LineIssuance = "issuance"
	LineAddition = "adjustment_addition"
	LineSubtract = "adjustment_subtraction"
)

// BuildLedger merges the receipt and all entries of a batch chronologically
// and computes the running balance. The final balance equals
// Fold(batch, disposals, adjustments).Balance().
func BuildLedger(batch *Batch, disposals []*DisposalEntry, adjustments []*AdjustmentEntry, asOf time.Time) *BatchLedger {
	lines := make([]LedgerLine, 0, 1+len(disposals)+len(adjustments))

	for _, d := range disposals {
		typ := LineDisposal
		if d.Kind == KindIssuance {
			typ = LineIssuance
		}
		lines = append(lines, LedgerLine{
			EntryID:   d.ID,
			Type:      typ,
			Quantity:  d.Quantity,
			Delta:     -d.Quantity,
			Reason:    d.Reason,
			Reference: d.IssuanceReference,
			CreatedAt: d.CreatedAt,
		})
	}

	for _, a := range adjustments {
		line := LedgerLine{
			EntryID:   a.ID,
			Quantity:  a.Quantity,
			Reason:    a.Reason,
			CreatedAt: a.CreatedAt,
		}
		if a.Direction == DirectionAddition {
			line.Type, line.Delta = LineAddition, a.Quantity
		} else {
			line.Type, line.Delta = LineSubtract, -a.Quantity
		}
		lines = append(lines, line)
	}

	// Stable so same-timestamp entries keep disposal-then-adjustment order
	sort.SliceStable(lines, func(i, j int) bool {
		return lines[i].CreatedAt.Before(lines[j].CreatedAt)
	})

	receipt := LedgerLine{
		EntryID:   batch.ID,
		Type:      LineReceipt,
		Quantity:  batch.ReceiptQuantity,
		Delta:     batch.ReceiptQuantity,
		Reason:    "receipt",
		Balance:   batch.ReceiptQuantity,
		CreatedAt: batch.ReceivedAt,
	}

	running := batch.ReceiptQuantity
	out := make([]LedgerLine, 0, len(lines)+1)
	out = append(out, receipt)
	for _, l := range lines {
		running += l.Delta
		l.Balance = running
		out = append(out, l)
	}

	return &BatchLedger{
		Batch:   batch,
		Lines:   out,
		Balance: running,
		Expired: batch.Expired(asOf),
	}
}
