package service_test

import (
	"context"
	stderrors "errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/schoolclinic/clinic-backend/internal/stock/domain"
	"github.com/schoolclinic/clinic-backend/internal/stock/events"
	"github.com/schoolclinic/clinic-backend/internal/stock/service"
	"github.com/schoolclinic/clinic-backend/internal/stock/stocktest"
	"github.com/schoolclinic/clinic-backend/pkg/actor"
	"github.com/schoolclinic/clinic-backend/pkg/errors"
	"github.com/schoolclinic/clinic-backend/pkg/logger"
	"github.com/schoolclinic/clinic-backend/pkg/messaging"
	"github.com/schoolclinic/clinic-backend/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type ledgerFixture struct {
	store *stocktest.Store
	sink  *testutil.MockPublisher
	svc   *service.LedgerService
	item  *domain.MedicineItem
	ctx   context.Context
}

func newLedgerFixture(t *testing.T) *ledgerFixture {
	t.Helper()

	store := stocktest.NewStore()
	tick := baseTime
	store.Now = func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}

	item := testutil.NewFixtureFactory().MedicineItem(testutil.WithProductName("Paracetamol 500mg"))
	store.SeedItem(item)

	sink := testutil.NewMockPublisher()
	svc := service.NewLedgerService(
		store,
		events.New(sink, logger.Nop()),
		logger.Nop(),
		service.WithClock(func() time.Time { return baseTime }),
	)

	ctx := actor.WithActor(context.Background(), &actor.Actor{ID: "nurse-1", Email: "nurse@school.test"})

	return &ledgerFixture{store: store, sink: sink, svc: svc, item: item, ctx: ctx}
}

func (f *ledgerFixture) receive(t *testing.T, batchID string, qty int, expires time.Time) *domain.Batch {
	t.Helper()
	batch, err := f.svc.RecordReceipt(f.ctx, service.ReceiptCommand{
		ItemID:         f.item.ID,
		BatchID:        batchID,
		ExpirationDate: &expires,
		Quantity:       qty,
	})
	require.NoError(t, err)
	return batch
}

func (f *ledgerFixture) balance(t *testing.T, batchID string) int {
	t.Helper()
	b, err := f.svc.GetBalance(f.ctx, batchID)
	require.NoError(t, err)
	return b
}

func (f *ledgerFixture) summary(t *testing.T) *domain.ItemSummary {
	t.Helper()
	s, err := f.svc.GetItemSummary(f.ctx, f.item.ID)
	require.NoError(t, err)
	return s
}

func availableIDs(t *testing.T, svc *service.LedgerService, asOf time.Time) []string {
	t.Helper()
	batches, err := svc.ListAvailable(context.Background(), asOf)
	require.NoError(t, err)
	ids := make([]string, 0, len(batches))
	for _, b := range batches {
		ids = append(ids, b.BatchID)
	}
	return ids
}

func TestLedgerService_DisposalAdjustmentIssuanceScenario(t *testing.T) {
	f := newLedgerFixture(t)
	expires := baseTime.AddDate(0, 6, 0)

	f.receive(t, "B", 100, expires)
	assert.Equal(t, 100, f.balance(t, "B"))

	_, err := f.svc.RecordDisposal(f.ctx, service.DisposalCommand{BatchID: "B", Quantity: 30, Reason: "damaged packaging"})
	require.NoError(t, err)
	assert.Equal(t, 70, f.balance(t, "B"))

	_, err = f.svc.RecordAdjustment(f.ctx, service.AdjustmentCommand{BatchID: "B", Quantity: 10, Direction: "subtraction", Reason: "count correction"})
	require.NoError(t, err)
	assert.Equal(t, 60, f.balance(t, "B"))

	issued, err := f.svc.IssueMedicine(f.ctx, service.IssuanceCommand{BatchID: "B", Quantity: 60, IssuanceReference: "ISS-1"})
	require.NoError(t, err)
	assert.Equal(t, domain.KindIssuance, issued.Kind)
	assert.Equal(t, 0, f.balance(t, "B"))
	assert.NotContains(t, availableIDs(t, f.svc, baseTime), "B")

	_, err = f.svc.IssueMedicine(f.ctx, service.IssuanceCommand{BatchID: "B", Quantity: 1, IssuanceReference: "ISS-2"})
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, domain.ErrInsufficientStock))
	assert.Equal(t, "INSUFFICIENT_STOCK", errors.CodeOf(err))

	shortfall, ok := domain.AsInsufficientStock(err)
	require.True(t, ok)
	assert.Equal(t, 1, shortfall.Requested)
	assert.Equal(t, 0, shortfall.Available)
	assert.Equal(t, 0, f.balance(t, "B"))
	assert.Equal(t, 2, f.store.DisposalCount())

	summary := f.summary(t)
	assert.Equal(t, 0, summary.OverallQuantity)
	assert.Equal(t, domain.LevelLow, summary.QuantityLevel)
}

func TestLedgerService_AdditionRevivesExhaustedBatch(t *testing.T) {
	f := newLedgerFixture(t)
	f.receive(t, "B", 20, baseTime.AddDate(1, 0, 0))

	_, err := f.svc.IssueMedicine(f.ctx, service.IssuanceCommand{BatchID: "B", Quantity: 20, IssuanceReference: "ISS-1"})
	require.NoError(t, err)
	assert.NotContains(t, availableIDs(t, f.svc, baseTime), "B")

	_, err = f.svc.RecordAdjustment(f.ctx, service.AdjustmentCommand{BatchID: "B", Quantity: 15, Direction: "addition", Reason: "found in cabinet"})
	require.NoError(t, err)

	assert.Equal(t, 15, f.balance(t, "B"))
	assert.Contains(t, availableIDs(t, f.svc, baseTime), "B")
	assert.Equal(t, 15, f.summary(t).OverallQuantity)
}

func TestLedgerService_AdditionOnExpiredBatchStaysUnavailable(t *testing.T) {
	f := newLedgerFixture(t)
	f.receive(t, "OLD", 10, baseTime.Add(time.Hour))

	_, err := f.svc.RecordAdjustment(f.ctx, service.AdjustmentCommand{BatchID: "OLD", Quantity: 5, Direction: "addition", Reason: "recount"})
	require.NoError(t, err)

	assert.Equal(t, 15, f.balance(t, "OLD"))
	assert.NotContains(t, availableIDs(t, f.svc, baseTime.Add(2*time.Hour)), "OLD")
}

func TestLedgerService_RejectionWritesNothing(t *testing.T) {
	f := newLedgerFixture(t)
	f.receive(t, "B", 100, baseTime.AddDate(0, 6, 0))
	f.sink.Reset()

	tests := []struct {
		name string
		run  func() error
		code string
	}{
		{
			name: "disposal above balance",
			run: func() error {
				_, err := f.svc.RecordDisposal(f.ctx, service.DisposalCommand{BatchID: "B", Quantity: 101, Reason: "expired"})
				return err
			},
			code: "INSUFFICIENT_STOCK",
		},
		{
			name: "subtraction above balance",
			run: func() error {
				_, err := f.svc.RecordAdjustment(f.ctx, service.AdjustmentCommand{BatchID: "B", Quantity: 101, Direction: "subtraction", Reason: "recount"})
				return err
			},
			code: "INSUFFICIENT_STOCK",
		},
		{
			name: "zero quantity",
			run: func() error {
				_, err := f.svc.RecordDisposal(f.ctx, service.DisposalCommand{BatchID: "B", Quantity: 0, Reason: "expired"})
				return err
			},
			code: "VALIDATION_ERROR",
		},
		{
			name: "negative quantity",
			run: func() error {
				_, err := f.svc.IssueMedicine(f.ctx, service.IssuanceCommand{BatchID: "B", Quantity: -4, IssuanceReference: "ISS-9"})
				return err
			},
			code: "VALIDATION_ERROR",
		},
		{
			name: "addition above movement limit",
			run: func() error {
				_, err := f.svc.RecordAdjustment(f.ctx, service.AdjustmentCommand{BatchID: "B", Quantity: domain.MaxMovementQuantity + 1, Direction: "addition", Reason: "recount"})
				return err
			},
			code: "VALIDATION_ERROR",
		},
		{
			name: "unknown direction",
			run: func() error {
				_, err := f.svc.RecordAdjustment(f.ctx, service.AdjustmentCommand{BatchID: "B", Quantity: 1, Direction: "sideways", Reason: "recount"})
				return err
			},
			code: "VALIDATION_ERROR",
		},
		{
			name: "missing reason",
			run: func() error {
				_, err := f.svc.RecordDisposal(f.ctx, service.DisposalCommand{BatchID: "B", Quantity: 1})
				return err
			},
			code: "VALIDATION_ERROR",
		},
		{
			name: "unknown batch",
			run: func() error {
				_, err := f.svc.RecordDisposal(f.ctx, service.DisposalCommand{BatchID: "NOPE", Quantity: 1, Reason: "expired"})
				return err
			},
			code: "NOT_FOUND",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.run()
			require.Error(t, err)
			assert.Equal(t, tt.code, errors.CodeOf(err))
			assert.True(t, service.IsBusinessError(err))

			assert.Equal(t, 100, f.balance(t, "B"))
			assert.Equal(t, 0, f.store.DisposalCount())
			assert.Equal(t, 0, f.store.AdjustmentCount())
			assert.Equal(t, 100, f.summary(t).OverallQuantity)
			f.sink.AssertNoEventsPublished(t)
		})
	}
}

func TestLedgerService_AggregateFailureRollsBackEntry(t *testing.T) {
	f := newLedgerFixture(t)
	f.receive(t, "B", 40, baseTime.AddDate(0, 6, 0))
	f.sink.Reset()

	f.store.FailSaveAggregate = stderrors.New("connection reset")

	_, err := f.svc.RecordDisposal(f.ctx, service.DisposalCommand{BatchID: "B", Quantity: 5, Reason: "broken vial"})
	require.Error(t, err)
	assert.False(t, service.IsBusinessError(err))

	f.store.FailSaveAggregate = nil
	assert.Equal(t, 40, f.balance(t, "B"))
	assert.Equal(t, 0, f.store.DisposalCount())
	assert.Equal(t, 40, f.summary(t).OverallQuantity)
	f.sink.AssertNoEventsPublished(t)
}

func TestLedgerService_RecordReceipt(t *testing.T) {
	t.Run("duplicate batch id", func(t *testing.T) {
		f := newLedgerFixture(t)
		f.receive(t, "B", 10, baseTime.AddDate(0, 6, 0))

		expires := baseTime.AddDate(0, 9, 0)
		_, err := f.svc.RecordReceipt(f.ctx, service.ReceiptCommand{ItemID: f.item.ID, BatchID: "B", ExpirationDate: &expires, Quantity: 50})
		require.Error(t, err)
		assert.True(t, stderrors.Is(err, domain.ErrDuplicateBatch))
		assert.Equal(t, "DUPLICATE_BATCH", errors.CodeOf(err))

		assert.Equal(t, 10, f.balance(t, "B"))
		assert.Equal(t, 10, f.summary(t).OverallQuantity)
	})

	t.Run("unknown item", func(t *testing.T) {
		f := newLedgerFixture(t)
		expires := baseTime.AddDate(0, 6, 0)
		_, err := f.svc.RecordReceipt(f.ctx, service.ReceiptCommand{ItemID: "missing", BatchID: "B", ExpirationDate: &expires, Quantity: 5})
		require.Error(t, err)
		assert.Equal(t, "NOT_FOUND", errors.CodeOf(err))
	})

	t.Run("missing expiration date", func(t *testing.T) {
		f := newLedgerFixture(t)
		_, err := f.svc.RecordReceipt(f.ctx, service.ReceiptCommand{ItemID: f.item.ID, BatchID: "B", Quantity: 5})
		require.Error(t, err)
		assert.Equal(t, "VALIDATION_ERROR", errors.CodeOf(err))
	})

	t.Run("records actor and publishes", func(t *testing.T) {
		f := newLedgerFixture(t)
		batch := f.receive(t, "B", 60, baseTime.AddDate(0, 6, 0))

		require.NotNil(t, batch.ReceivedBy)
		assert.Equal(t, "nurse-1", *batch.ReceivedBy)
		assert.Equal(t, baseTime, batch.ReceivedAt)

		f.sink.AssertEventPublished(t, messaging.EventBatchReceived)
		changes := f.sink.Events(messaging.EventItemLevelChanged)
		require.Len(t, changes, 1)
		assert.Equal(t, "high", changes[0].(messaging.ItemLevelChangedEvent).NewLevel)
	})
}

func TestLedgerService_AggregateFollowsAllBatches(t *testing.T) {
	f := newLedgerFixture(t)
	f.receive(t, "B1", 15, baseTime.AddDate(0, 3, 0))
	assert.Equal(t, domain.LevelLow, f.summary(t).QuantityLevel)

	f.receive(t, "B2", 10, baseTime.AddDate(0, 4, 0))
	summary := f.summary(t)
	assert.Equal(t, 25, summary.OverallQuantity)
	assert.Equal(t, domain.LevelModerate, summary.QuantityLevel)

	_, err := f.svc.RecordAdjustment(f.ctx, service.AdjustmentCommand{BatchID: "B1", Quantity: 30, Direction: "addition", Reason: "transfer in"})
	require.NoError(t, err)
	summary = f.summary(t)
	assert.Equal(t, 55, summary.OverallQuantity)
	assert.Equal(t, domain.LevelHigh, summary.QuantityLevel)

	_, err = f.svc.RecordDisposal(f.ctx, service.DisposalCommand{BatchID: "B2", Quantity: 10, Reason: "expired"})
	require.NoError(t, err)
	assert.Equal(t, 45, f.summary(t).OverallQuantity)
	assert.Equal(t, f.balance(t, "B1")+f.balance(t, "B2"), f.summary(t).OverallQuantity)

	assert.Len(t, f.sink.Events(messaging.EventItemLevelChanged), 2)
}

func TestLedgerService_ConcurrentIssuanceNeverOverdraws(t *testing.T) {
	f := newLedgerFixture(t)
	f.receive(t, "B", 50, baseTime.AddDate(0, 6, 0))

	const workers = 20
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		rejected  int
	)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := f.svc.IssueMedicine(f.ctx, service.IssuanceCommand{
				BatchID:           "B",
				Quantity:          5,
				IssuanceReference: "ISS-" + strconv.Itoa(n),
			})

			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				succeeded++
				return
			}
			if stderrors.Is(err, domain.ErrInsufficientStock) {
				rejected++
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 10, succeeded)
	assert.Equal(t, 10, rejected)
	assert.Equal(t, 0, f.balance(t, "B"))
	assert.Equal(t, 0, f.summary(t).OverallQuantity)
}

func TestLedgerService_IssuanceReplayIsConflict(t *testing.T) {
	f := newLedgerFixture(t)
	f.receive(t, "B", 10, baseTime.AddDate(0, 6, 0))

	cmd := service.IssuanceCommand{BatchID: "B", Quantity: 2, IssuanceReference: "VISIT-42"}
	_, err := f.svc.IssueMedicine(f.ctx, cmd)
	require.NoError(t, err)

	_, err = f.svc.IssueMedicine(f.ctx, cmd)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrConflict))
	assert.Equal(t, 8, f.balance(t, "B"))
	assert.Equal(t, 1, f.store.DisposalCount())
}

func TestLedgerService_MovementsRecordActor(t *testing.T) {
	f := newLedgerFixture(t)
	f.receive(t, "B", 10, baseTime.AddDate(0, 6, 0))

	entry, err := f.svc.RecordDisposal(f.ctx, service.DisposalCommand{BatchID: "B", Quantity: 1, Reason: "dropped"})
	require.NoError(t, err)
	require.NotNil(t, entry.PerformedBy)
	assert.Equal(t, "nurse-1", *entry.PerformedBy)

	anonymous, err := f.svc.RecordAdjustment(context.Background(), service.AdjustmentCommand{BatchID: "B", Quantity: 1, Direction: "addition", Reason: "recount"})
	require.NoError(t, err)
	assert.Nil(t, anonymous.PerformedBy)
}

func TestLedgerService_GetBatchLedger(t *testing.T) {
	f := newLedgerFixture(t)
	f.receive(t, "B", 100, baseTime.AddDate(0, 6, 0))

	_, err := f.svc.RecordDisposal(f.ctx, service.DisposalCommand{BatchID: "B", Quantity: 30, Reason: "expired"})
	require.NoError(t, err)
	_, err = f.svc.RecordAdjustment(f.ctx, service.AdjustmentCommand{BatchID: "B", Quantity: 10, Direction: "subtraction", Reason: "recount"})
	require.NoError(t, err)
	_, err = f.svc.IssueMedicine(f.ctx, service.IssuanceCommand{BatchID: "B", Quantity: 60, IssuanceReference: "ISS-1"})
	require.NoError(t, err)
	_, err = f.svc.RecordAdjustment(f.ctx, service.AdjustmentCommand{BatchID: "B", Quantity: 15, Direction: "addition", Reason: "found"})
	require.NoError(t, err)

	ledger, err := f.svc.GetBatchLedger(f.ctx, "B")
	require.NoError(t, err)

	var types []string
	var balances []int
	for _, line := range ledger.Lines {
		types = append(types, line.Type)
		balances = append(balances, line.Balance)
	}
	assert.Equal(t, []string{domain.LineReceipt, domain.LineDisposal, domain.LineSubtract, domain.LineIssuance, domain.LineAddition}, types)
	assert.Equal(t, []int{100, 70, 60, 0, 15}, balances)
	assert.Equal(t, 15, ledger.Balance)
	assert.False(t, ledger.Expired)

	_, err = f.svc.GetBatchLedger(f.ctx, "NOPE")
	assert.Equal(t, "NOT_FOUND", errors.CodeOf(err))
}

func TestLedgerService_RecomputeItemIsIdempotent(t *testing.T) {
	f := newLedgerFixture(t)
	f.receive(t, "B", 30, baseTime.AddDate(0, 6, 0))
	f.store.SetItemAggregate(f.item.ID, 7, domain.LevelLow)

	item, err := f.svc.RecomputeItem(f.ctx, f.item.ID)
	require.NoError(t, err)
	assert.Equal(t, 30, item.OverallQuantity)
	assert.Equal(t, domain.LevelModerate, item.QuantityLevel)
	require.NotNil(t, item.RecomputedAt)

	again, err := f.svc.RecomputeItem(f.ctx, f.item.ID)
	require.NoError(t, err)
	assert.Equal(t, item.OverallQuantity, again.OverallQuantity)
	assert.Equal(t, item.QuantityLevel, again.QuantityLevel)

	_, err = f.svc.RecomputeItem(f.ctx, "missing")
	assert.Equal(t, "NOT_FOUND", errors.CodeOf(err))
}

func TestLedgerService_NilPublisher(t *testing.T) {
	store := stocktest.NewStore()
	item := &domain.MedicineItem{ProductName: "Ibuprofen"}
	store.SeedItem(item)
	svc := service.NewLedgerService(store, nil, logger.Nop())

	expires := time.Now().AddDate(1, 0, 0)
	_, err := svc.RecordReceipt(context.Background(), service.ReceiptCommand{ItemID: item.ID, BatchID: "B", ExpirationDate: &expires, Quantity: 3})
	require.NoError(t, err)

	_, err = svc.RecordDisposal(context.Background(), service.DisposalCommand{BatchID: "B", Quantity: 1, Reason: "spilled"})
	require.NoError(t, err)
}

func TestIsBusinessError(t *testing.T) {
	assert.True(t, service.IsBusinessError(errors.Conflict("issuance already recorded for this batch")))
	assert.True(t, service.IsBusinessError(errors.Validation(map[string]string{"quantity": "must be greater than 0"})))
	assert.False(t, service.IsBusinessError(errors.ConcurrentModification()))
	assert.False(t, service.IsBusinessError(errors.Internal("boom")))
	assert.False(t, service.IsBusinessError(stderrors.New("connection refused")))
}
