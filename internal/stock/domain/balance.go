package domain

// Tally is the folded movement history of one batch. Every field is summed
// fresh from the ledger entries; nothing here is ever cached per batch.
type Tally struct {
	BatchID    string `db:"batch_id" json:"batch_id"`
	Received   int    `db:"received" json:"received"`
	Added      int    `db:"added" json:"added"`
	Subtracted int    `db:"subtracted" json:"subtracted"`
	Disposed   int    `db:"disposed" json:"disposed"`
}

// Balance is receipt + additions - subtractions - disposals.
//
// The result is returned as is. A negative value means the ledger is
// inconsistent and must be reported, so it is neither clamped nor made absolute.
func (t Tally) Balance() int {
	return t.Received + t.Added - t.Subtracted - t.Disposed
}

// Exhausted reports whether nothing remains in the batch
func (t Tally) Exhausted() bool {
	return t.Balance() <= 0
}

// Fold derives the tally of a batch from its receipt and full entry set.
// Entries that belong to other batches are ignored.
func Fold(batch *Batch, disposals []*DisposalEntry, adjustments []*AdjustmentEntry) Tally {
	t := Tally{BatchID: batch.BatchID, Received: batch.ReceiptQuantity}

	for _, d := range disposals {
		if d.BatchID != batch.BatchID {
			continue
		}
		t.Disposed += d.Quantity
	}

	for _, a := range adjustments {
		if a.BatchID != batch.BatchID {
			continue
		}
		switch a.Direction {
		case DirectionAddition:
			t.Added += a.Quantity
		case DirectionSubtraction:
			t.Subtracted += a.Quantity
		}
	}

	return t
}

// SumBalances adds up the balances of the given tallies
func SumBalances(tallies []Tally) int {
	total := 0
	for _, t := range tallies {
		total += t.Balance()
	}
	return total
}
