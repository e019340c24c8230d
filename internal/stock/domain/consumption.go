package domain

// CheckWithdrawal validates taking requested units out of a batch whose current
// history is t. It returns the balance that remains after the withdrawal, or an
// InsufficientStock error when the request exceeds the balance. The caller must
// not write anything when an error is returned.
func CheckWithdrawal(t Tally, requested int) (int, error) {
	if requested <= 0 {
		return 0, InvalidQuantity("quantity")
	}

	available := t.Balance()
	if requested > available {
		return 0, InsufficientStock(t.BatchID, requested, available)
	}

	return available - requested, nil
}
