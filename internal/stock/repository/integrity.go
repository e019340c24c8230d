package repository

import "context"

// CountOrphanEntries counts movements whose batch_id matches no batch.
// The foreign keys make this zero unless they were dropped or bypassed.
func (r *LedgerRepository) CountOrphanEntries(ctx context.Context) (int, error) {
	query := `
		SELECT
			(SELECT COUNT(*) FROM stock_disposals d
			 WHERE NOT EXISTS (SELECT 1 FROM medicine_batches b WHERE b.batch_id = d.batch_id))
			+
			(SELECT COUNT(*) FROM stock_adjustments a
			 WHERE NOT EXISTS (SELECT 1 FROM medicine_batches b WHERE b.batch_id = a.batch_id))
	`

	var count int
	if err := r.db.GetContext(ctx, &count, query); err != nil {
		return 0, err
	}
	return count, nil
}
