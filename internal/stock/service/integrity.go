package service

import (
	"context"

	"github.com/schoolclinic/clinic-backend/internal/stock/domain"
)

// CheckIntegrity scans the whole ledger. Negative balances and orphan entries
// are reported only; they need a human decision. Items whose cached aggregate
// drifted from the ledger are reported and repaired by a full recompute.
func (s *LedgerService) CheckIntegrity(ctx context.Context) (*domain.IntegrityReport, error) {
	report := &domain.IntegrityReport{
		CheckedAt:     s.now().UTC(),
		Violations:    []domain.Violation{},
		RepairedItems: []string{},
	}

	tallies, err := s.store.AllTallies(ctx)
	if err != nil {
		return nil, err
	}
	report.CheckedBatches = len(tallies)

	for _, t := range tallies {
		if t.Balance() < 0 {
			report.Violations = append(report.Violations, domain.Violation{
				Kind:     domain.ViolationNegativeBalance,
				BatchID:  t.BatchID,
				Expected: 0,
				Actual:   t.Balance(),
			})
		}
	}

	orphans, err := s.store.CountOrphanEntries(ctx)
	if err != nil {
		return nil, err
	}
	if orphans > 0 {
		report.Violations = append(report.Violations, domain.Violation{
			Kind:     domain.ViolationOrphanEntries,
			Expected: 0,
			Actual:   orphans,
		})
	}

	itemIDs, err := s.store.ListItemIDs(ctx)
	if err != nil {
		return nil, err
	}
	report.CheckedItems = len(itemIDs)

	for _, itemID := range itemIDs {
		violation, repaired, err := s.checkItem(ctx, itemID)
		if err != nil {
			return nil, err
		}
		if violation != nil {
			report.Violations = append(report.Violations, *violation)
		}
		if repaired {
			report.RepairedItems = append(report.RepairedItems, itemID)
		}
	}

	for _, v := range report.Violations {
		s.publisher.PublishIntegrityViolation(ctx, v)
	}

	log := s.logger.Info()
	if !report.Clean() {
		log = s.logger.Warn()
	}
	log.Int("batches", report.CheckedBatches).
		Int("items", report.CheckedItems).
		Int("violations", len(report.Violations)).
		Int("repaired", len(report.RepairedItems)).
		Msg("integrity check completed")

	return report, nil
}

// checkItem compares the cached aggregate of one item with its batches under
// the item lock, and recomputes it when they disagree.
func (s *LedgerService) checkItem(ctx context.Context, itemID string) (*domain.Violation, bool, error) {
	var violation *domain.Violation

	err := s.store.WithinItem(ctx, itemID, func(tx domain.LedgerTx, item *domain.MedicineItem) error {
		tallies, err := tx.ItemTallies(ctx, itemID)
		if err != nil {
			return err
		}

		expected := domain.SumBalances(tallies)
		if expected == item.OverallQuantity && domain.LevelFor(expected) == item.QuantityLevel {
			return nil
		}

		violation = &domain.Violation{
			Kind:     domain.ViolationAggregateDrift,
			ItemID:   itemID,
			Expected: expected,
			Actual:   item.OverallQuantity,
		}

		_, err = s.tracker.Recompute(ctx, tx, itemID)
		return err
	})
	if err != nil {
		return nil, false, err
	}

	return violation, violation != nil, nil
}
