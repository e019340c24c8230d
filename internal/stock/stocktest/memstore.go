// Package stocktest provides an in-memory domain.LedgerStore for tests.
//
// It mirrors the locking of the PostgreSQL store: WithinBatch holds a per-batch
// lock for the whole transaction, LockItem holds a per-item lock until the
// transaction ends, and batch ids and issuance references are reserved when
// inserted so concurrent duplicates fail the way a unique index does. Writes
// are staged and only become visible on commit.
package stocktest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/schoolclinic/clinic-backend/internal/stock/domain"
	"github.com/schoolclinic/clinic-backend/pkg/errors"
)

// Store is an in-memory ledger store
type Store struct {
	mu          sync.Mutex
	items       map[string]*domain.MedicineItem
	batches     map[string]*domain.Batch
	disposals   []*domain.DisposalEntry
	adjustments []*domain.AdjustmentEntry
	reserved    map[string]bool

	batchLocks map[string]*sync.Mutex
	itemLocks  map[string]*sync.Mutex

	// Now stamps created_at on entries
	Now func() time.Time
	// FailSaveAggregate, when set, makes every aggregate write fail
	FailSaveAggregate error
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		items:      make(map[string]*domain.MedicineItem),
		batches:    make(map[string]*domain.Batch),
		reserved:   make(map[string]bool),
		batchLocks: make(map[string]*sync.Mutex),
		itemLocks:  make(map[string]*sync.Mutex),
		Now:        time.Now,
	}
}

var _ domain.LedgerStore = (*Store)(nil)

// SeedItem adds a catalog item
func (s *Store) SeedItem(item *domain.MedicineItem) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *item
	if cp.ID == "" {
		cp.ID = uuid.New().String()
		item.ID = cp.ID
	}
	if cp.QuantityLevel == "" {
		cp.QuantityLevel = domain.LevelLow
	}
	s.items[cp.ID] = &cp
}

// SetItemAggregate overwrites the cached aggregate of an item, bypassing the ledger
func (s *Store) SetItemAggregate(itemID string, overall int, level domain.QuantityLevel) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if item, ok := s.items[itemID]; ok {
		item.OverallQuantity = overall
		item.QuantityLevel = level
	}
}

// AppendDisposalUnchecked writes a disposal without any validation or
// reference check, to simulate a corrupted ledger.
func (s *Store) AppendDisposalUnchecked(entry *domain.DisposalEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *entry
	if cp.ID == "" {
		cp.ID = uuid.New().String()
	}
	if cp.Kind == "" {
		cp.Kind = domain.KindDisposal
	}
	cp.CreatedAt = s.Now()
	s.disposals = append(s.disposals, &cp)
}

// DisposalCount returns the number of committed disposal entries
func (s *Store) DisposalCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.disposals)
}

// AdjustmentCount returns the number of committed adjustment entries
func (s *Store) AdjustmentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.adjustments)
}

func (s *Store) lockFor(locks map[string]*sync.Mutex, key string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := locks[key]
	if !ok {
		l = &sync.Mutex{}
		locks[key] = l
	}
	return l
}

// GetItem returns a copy of an item
func (s *Store) GetItem(_ context.Context, itemID string) (*domain.MedicineItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[itemID]
	if !ok {
		return nil, domain.ItemNotFound()
	}
	cp := *item
	return &cp, nil
}

// GetBatch returns a copy of a batch
func (s *Store) GetBatch(_ context.Context, batchID string) (*domain.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch, ok := s.batches[batchID]
	if !ok {
		return nil, domain.BatchNotFound()
	}
	cp := *batch
	return &cp, nil
}

// ListItemIDs lists all item ids in ascending order
func (s *Store) ListItemIDs(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.items))
	for id := range s.items {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Tally folds the committed entries of a batch
func (s *Store) Tally(_ context.Context, batchID string) (domain.Tally, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch, ok := s.batches[batchID]
	if !ok {
		return domain.Tally{}, domain.BatchNotFound()
	}
	return domain.Fold(batch, s.disposals, s.adjustments), nil
}

// AllTallies folds every batch
func (s *Store) AllTallies(context.Context) ([]domain.Tally, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tallies := make([]domain.Tally, 0, len(s.batches))
	for _, batch := range s.sortedBatches() {
		tallies = append(tallies, domain.Fold(batch, s.disposals, s.adjustments))
	}
	return tallies, nil
}

// ListUnexpired returns batches expiring after asOf with their tallies
func (s *Store) ListUnexpired(_ context.Context, asOf time.Time) ([]*domain.BatchSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*domain.BatchSummary
	for _, batch := range s.sortedBatches() {
		if !batch.ExpirationDate.After(asOf) {
			continue
		}
		item := s.items[batch.ItemID]
		tally := domain.Fold(batch, s.disposals, s.adjustments)
		out = append(out, &domain.BatchSummary{
			BatchID:         batch.BatchID,
			ItemID:          batch.ItemID,
			ProductName:     item.ProductName,
			Description:     item.Description,
			ExpirationDate:  batch.ExpirationDate,
			ReceiptQuantity: batch.ReceiptQuantity,
			Balance:         tally.Balance(),
			Tally:           tally,
		})
	}
	return out, nil
}

// Entries returns copies of a batch's movements in insertion order
func (s *Store) Entries(_ context.Context, batchID string) ([]*domain.DisposalEntry, []*domain.AdjustmentEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var disposals []*domain.DisposalEntry
	for _, d := range s.disposals {
		if d.BatchID == batchID {
			cp := *d
			disposals = append(disposals, &cp)
		}
	}

	var adjustments []*domain.AdjustmentEntry
	for _, a := range s.adjustments {
		if a.BatchID == batchID {
			cp := *a
			adjustments = append(adjustments, &cp)
		}
	}

	return disposals, adjustments, nil
}

// CountOrphanEntries counts movements whose batch does not exist
func (s *Store) CountOrphanEntries(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, d := range s.disposals {
		if _, ok := s.batches[d.BatchID]; !ok {
			count++
		}
	}
	for _, a := range s.adjustments {
		if _, ok := s.batches[a.BatchID]; !ok {
			count++
		}
	}
	return count, nil
}

// sortedBatches orders batches by expiration date then batch id. Caller holds s.mu.
func (s *Store) sortedBatches() []*domain.Batch {
	batches := make([]*domain.Batch, 0, len(s.batches))
	for _, b := range s.batches {
		batches = append(batches, b)
	}
	sort.Slice(batches, func(i, j int) bool {
		if !batches[i].ExpirationDate.Equal(batches[j].ExpirationDate) {
			return batches[i].ExpirationDate.Before(batches[j].ExpirationDate)
		}
		return batches[i].BatchID < batches[j].BatchID
	})
	return batches
}

// WithinItem runs fn with the item locked
func (s *Store) WithinItem(ctx context.Context, itemID string, fn func(domain.LedgerTx, *domain.MedicineItem) error) error {
	tx := s.begin()
	defer tx.release()

	item, err := tx.LockItem(ctx, itemID)
	if err != nil {
		return err
	}

	if err := fn(tx, item); err != nil {
		tx.rollback()
		return err
	}

	tx.commit()
	return nil
}

// WithinBatch runs fn with the batch locked and its version bumped
func (s *Store) WithinBatch(ctx context.Context, batchID string, fn func(domain.LedgerTx, *domain.Batch) error) error {
	lock := s.lockFor(s.batchLocks, batchID)
	lock.Lock()
	defer lock.Unlock()

	tx := s.begin()
	defer tx.release()

	s.mu.Lock()
	batch, ok := s.batches[batchID]
	var cp domain.Batch
	if ok {
		cp = *batch
	}
	s.mu.Unlock()

	if !ok {
		return domain.BatchNotFound()
	}

	cp.Version++
	tx.versions[batchID] = cp.Version

	if err := fn(tx, &cp); err != nil {
		tx.rollback()
		return err
	}

	tx.commit()
	return nil
}

func (s *Store) begin() *memTx {
	return &memTx{
		store:    s,
		held:     make(map[string]*sync.Mutex),
		items:    make(map[string]*domain.MedicineItem),
		versions: make(map[string]int64),
	}
}

// memTx stages writes until commit
type memTx struct {
	store       *Store
	held        map[string]*sync.Mutex
	batches     []*domain.Batch
	disposals   []*domain.DisposalEntry
	adjustments []*domain.AdjustmentEntry
	items       map[string]*domain.MedicineItem
	versions    map[string]int64
	reserved    []string
}

var _ domain.LedgerTx = (*memTx)(nil)

func (t *memTx) release() {
	for _, l := range t.held {
		l.Unlock()
	}
	t.held = nil
}

func (t *memTx) rollback() {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range t.reserved {
		delete(s.reserved, key)
	}
}

func (t *memTx) commit() {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, b := range t.batches {
		s.batches[b.BatchID] = b
	}
	for batchID, version := range t.versions {
		if b, ok := s.batches[batchID]; ok {
			b.Version = version
		}
	}
	s.disposals = append(s.disposals, t.disposals...)
	s.adjustments = append(s.adjustments, t.adjustments...)
	for id, item := range t.items {
		s.items[id] = item
	}
}

// batchLocked finds a batch among committed and staged rows. Caller holds store.mu.
func (t *memTx) batchLocked(batchID string) (*domain.Batch, bool) {
	if b, ok := t.store.batches[batchID]; ok {
		return b, true
	}
	for _, b := range t.batches {
		if b.BatchID == batchID {
			return b, true
		}
	}
	return nil, false
}

func (t *memTx) tallyLocked(batch *domain.Batch) domain.Tally {
	s := t.store
	disposals := append(append([]*domain.DisposalEntry{}, s.disposals...), t.disposals...)
	adjustments := append(append([]*domain.AdjustmentEntry{}, s.adjustments...), t.adjustments...)
	return domain.Fold(batch, disposals, adjustments)
}

func (t *memTx) Tally(_ context.Context, batchID string) (domain.Tally, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	batch, ok := t.batchLocked(batchID)
	if !ok {
		return domain.Tally{}, domain.BatchNotFound()
	}
	return t.tallyLocked(batch), nil
}

func (t *memTx) ItemTallies(_ context.Context, itemID string) ([]domain.Tally, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	seen := make(map[string]bool)
	var tallies []domain.Tally
	add := func(b *domain.Batch) {
		if b.ItemID != itemID || seen[b.BatchID] {
			return
		}
		seen[b.BatchID] = true
		tallies = append(tallies, t.tallyLocked(b))
	}
	for _, b := range t.store.batches {
		add(b)
	}
	for _, b := range t.batches {
		add(b)
	}

	sort.Slice(tallies, func(i, j int) bool { return tallies[i].BatchID < tallies[j].BatchID })
	return tallies, nil
}

func (t *memTx) LockItem(_ context.Context, itemID string) (*domain.MedicineItem, error) {
	if _, ok := t.held[itemID]; !ok {
		lock := t.store.lockFor(t.store.itemLocks, itemID)
		lock.Lock()
		t.held[itemID] = lock
	}

	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	if staged, ok := t.items[itemID]; ok {
		cp := *staged
		return &cp, nil
	}

	item, ok := t.store.items[itemID]
	if !ok {
		return nil, domain.ItemNotFound()
	}
	cp := *item
	return &cp, nil
}

func (t *memTx) InsertBatch(_ context.Context, batch *domain.Batch) error {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[batch.ItemID]; !ok {
		return domain.ItemNotFound()
	}

	key := "batch:" + batch.BatchID
	if _, exists := t.batchLocked(batch.BatchID); exists || s.reserved[key] {
		return domain.DuplicateBatch(batch.BatchID)
	}
	s.reserved[key] = true
	t.reserved = append(t.reserved, key)

	if batch.ID == "" {
		batch.ID = uuid.New().String()
	}
	batch.CreatedAt = s.Now()

	cp := *batch
	t.batches = append(t.batches, &cp)
	return nil
}

func (t *memTx) InsertDisposal(_ context.Context, entry *domain.DisposalEntry) error {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := t.batchLocked(entry.BatchID); !ok {
		return domain.Referential(entry.BatchID)
	}

	if entry.Kind == "" {
		entry.Kind = domain.KindDisposal
	}

	if entry.IssuanceReference != nil {
		key := "issuance:" + entry.BatchID + ":" + *entry.IssuanceReference
		if s.reserved[key] {
			return errors.Conflict("issuance already recorded for this batch").WithDetails(map[string]string{
				"batch_id":           entry.BatchID,
				"issuance_reference": *entry.IssuanceReference,
			})
		}
		s.reserved[key] = true
		t.reserved = append(t.reserved, key)
	}

	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	entry.CreatedAt = s.Now()

	cp := *entry
	t.disposals = append(t.disposals, &cp)
	return nil
}

func (t *memTx) InsertAdjustment(_ context.Context, entry *domain.AdjustmentEntry) error {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := t.batchLocked(entry.BatchID); !ok {
		return domain.Referential(entry.BatchID)
	}

	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	entry.CreatedAt = s.Now()

	cp := *entry
	t.adjustments = append(t.adjustments, &cp)
	return nil
}

func (t *memTx) SaveItemAggregate(_ context.Context, item *domain.MedicineItem) error {
	if t.store.FailSaveAggregate != nil {
		return t.store.FailSaveAggregate
	}

	if _, ok := t.held[item.ID]; !ok {
		return errors.Internal("aggregate written without item lock")
	}

	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	item.UpdatedAt = t.store.Now()
	cp := *item
	t.items[item.ID] = &cp
	return nil
}
