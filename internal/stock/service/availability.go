package service

import (
	"context"
	"sort"
	"time"

	"github.com/schoolclinic/clinic-backend/internal/stock/domain"
)

// ListAvailable returns the batches the clinic can issue from at asOf: a
// positive balance and an expiration date after asOf. A zero asOf means now.
// Batches are ordered by expiration date, then batch id.
func (s *LedgerService) ListAvailable(ctx context.Context, asOf time.Time) ([]*domain.BatchSummary, error) {
	if asOf.IsZero() {
		asOf = s.now()
	}

	candidates, err := s.store.ListUnexpired(ctx, asOf)
	if err != nil {
		return nil, err
	}

	available := make([]*domain.BatchSummary, 0, len(candidates))
	for _, c := range candidates {
		if c.Tally.Balance() <= 0 || !c.ExpirationDate.After(asOf) {
			continue
		}
		c.Balance = c.Tally.Balance()
		available = append(available, c)
	}

	sort.SliceStable(available, func(i, j int) bool {
		if !available[i].ExpirationDate.Equal(available[j].ExpirationDate) {
			return available[i].ExpirationDate.Before(available[j].ExpirationDate)
		}
		return available[i].BatchID < available[j].BatchID
	})

	return available, nil
}
