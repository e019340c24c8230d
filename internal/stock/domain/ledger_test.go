package domain_test

import (
	"testing"
	"time"

	"github.com/schoolclinic/clinic-backend/internal/stock/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildLedger(t *testing.T) {
	t0 := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)
	ref := "ISS-1"

	batch := &domain.Batch{
		ID:              "b-uuid",
		BatchID:         "B-1",
		ReceiptQuantity: 100,
		ReceivedAt:      t0,
		ExpirationDate:  t0.AddDate(1, 0, 0),
	}
	disposals := []*domain.DisposalEntry{
		{ID: "d1", BatchID: "B-1", Quantity: 30, Kind: domain.KindDisposal, CreatedAt: t0.Add(time.Hour)},
		{ID: "d2", BatchID: "B-1", Quantity: 10, Kind: domain.KindIssuance, IssuanceReference: &ref, CreatedAt: t0.Add(3 * time.Hour)},
	}
	adjustments := []*domain.AdjustmentEntry{
		{ID: "a1", BatchID: "B-1", Quantity: 5, Direction: domain.DirectionAddition, CreatedAt: t0.Add(2 * time.Hour)},
		{ID: "a2", BatchID: "B-1", Quantity: 3, Direction: domain.DirectionSubtraction, CreatedAt: t0.Add(4 * time.Hour)},
	}

	ledger := domain.BuildLedger(batch, disposals, adjustments, t0)

	require.Len(t, ledger.Lines, 5)
	wantTypes := []string{domain.LineReceipt, domain.LineDisposal, domain.LineAddition, domain.LineIssuance, domain.LineSubtract}
	wantBalances := []int{100, 70, 75, 65, 62}
	for i, line := range ledger.Lines {
		assert.Equal(t, wantTypes[i], line.Type, "line %d", i)
		assert.Equal(t, wantBalances[i], line.Balance, "line %d", i)
	}

	assert.Equal(t, 62, ledger.Balance)
	assert.Equal(t, domain.Fold(batch, disposals, adjustments).Balance(), ledger.Balance)
	assert.False(t, ledger.Expired)
	assert.Equal(t, &ref, ledger.Lines[3].Reference)
}

func TestBuildLedger_ExpiredBatch(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	batch := &domain.Batch{BatchID: "B-1", ReceiptQuantity: 10, ExpirationDate: now.AddDate(0, 0, -1)}

	ledger := domain.BuildLedger(batch, nil, nil, now)

	assert.True(t, ledger.Expired)
	assert.Equal(t, 10, ledger.Balance)
	require.Len(t, ledger.Lines, 1)
}
