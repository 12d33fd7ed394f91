package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/iliyamo/library-reservations/internal/model"
)

// MemoryStore is an in-process ReservationStore used for local runs and
// tests.  Readers share an RWMutex with transactions; a transaction holds the
// write lock for its whole duration and stages its writes, so readers see
// either none or all of them.
type MemoryStore struct {
	mu           sync.RWMutex
	variants     map[uint64]model.Variant
	copies       map[uint64][]model.Copy // by variant
	reservations map[uint64]model.Reservation
	nextID       uint64
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		variants:     make(map[uint64]model.Variant),
		copies:       make(map[uint64][]model.Copy),
		reservations: make(map[uint64]model.Reservation),
		nextID:       1,
	}
}

// PutVariant registers a variant and replaces its copies.  It stands in for
// the circulation system that owns this data.
func (s *MemoryStore) PutVariant(v model.Variant, copies ...model.Copy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.variants[v.ID] = v
	cs := make([]model.Copy, 0, len(copies))
	for _, c := range copies {
		c.VariantID = v.ID
		cs = append(cs, c)
	}
	s.copies[v.ID] = cs
}

// InTx runs fn under the write lock and applies its staged writes only when
// fn succeeds.
func (s *MemoryStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memoryTx{store: s, staged: make(map[uint64]model.Reservation), nextID: s.nextID}
	if err := fn(tx); err != nil {
		return err
	}
	for id, r := range tx.staged {
		s.reservations[id] = r
	}
	s.nextID = tx.nextID
	return nil
}

func (s *MemoryStore) GetReservation(ctx context.Context, id uint64) (model.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reservationLocked(id, nil)
}

func (s *MemoryStore) PendingByVariant(ctx context.Context, variantID uint64) ([]model.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pendingLocked(variantID, nil), nil
}

func (s *MemoryStore) QueueSnapshot(ctx context.Context, reservationID uint64) (model.Reservation, []model.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, err := s.reservationLocked(reservationID, nil)
	if err != nil {
		return model.Reservation{}, nil, err
	}
	return r, s.pendingLocked(r.VariantID, nil), nil
}

func (s *MemoryStore) ActiveExpiredBefore(ctx context.Context, now time.Time, afterID uint64, limit int) ([]uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := []uint64{}
	for id, r := range s.reservations {
		if id > afterID && r.ExpiredAt(now) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (s *MemoryStore) Search(ctx context.Context, q SearchQuery) ([]model.Reservation, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	kw := strings.ToLower(strings.TrimSpace(q.Keyword))
	var matched []model.Reservation
	for _, r := range s.reservations {
		if q.Status != "" && r.Status != q.Status {
			continue
		}
		if q.UserID != 0 && r.UserID != q.UserID {
			continue
		}
		if q.VariantID != 0 && r.VariantID != q.VariantID {
			continue
		}
		if kw != "" {
			v := s.variants[r.VariantID]
			if !strings.Contains(strings.ToLower(v.ISBN), kw) && !strings.Contains(strings.ToLower(v.Title), kw) {
				continue
			}
		}
		matched = append(matched, r)
	}
	// newest first
	sort.Slice(matched, func(i, j int) bool { return matched[j].QueuedBefore(matched[i]) })

	total := int64(len(matched))
	start := q.Offset()
	if start < 0 || start >= len(matched) {
		return []model.Reservation{}, total, nil
	}
	end := len(matched)
	if q.PageSize > 0 && start+q.PageSize < end {
		end = start + q.PageSize
	}
	return matched[start:end], total, nil
}

func (s *MemoryStore) GetVariant(ctx context.Context, id uint64) (model.Variant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.variantLocked(id)
}

func (s *MemoryStore) VariantsByBook(ctx context.Context, bookID uint64) ([]model.Variant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []model.Variant{}
	for _, v := range s.variants {
		if v.BookID == bookID {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) Stock(ctx context.Context, variantID, userID uint64) (model.Stock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stockLocked(variantID, userID, nil), nil
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

func (s *MemoryStore) variantLocked(id uint64) (model.Variant, error) {
	v, ok := s.variants[id]
	if !ok {
		return model.Variant{}, fmt.Errorf("variant %d: %w", id, model.ErrNotFound)
	}
	return v, nil
}

// reservationLocked looks in staged first when a transaction is in flight.
func (s *MemoryStore) reservationLocked(id uint64, staged map[uint64]model.Reservation) (model.Reservation, error) {
	if r, ok := staged[id]; ok {
		return r, nil
	}
	r, ok := s.reservations[id]
	if !ok {
		return model.Reservation{}, fmt.Errorf("reservation %d: %w", id, model.ErrNotFound)
	}
	return r, nil
}

func (s *MemoryStore) pendingLocked(variantID uint64, staged map[uint64]model.Reservation) []model.Reservation {
	out := []model.Reservation{}
	keep := func(r model.Reservation) {
		if r.VariantID == variantID && r.Status == model.StatusPending {
			out = append(out, r)
		}
	}
	for id, r := range s.reservations {
		if _, ok := staged[id]; !ok {
			keep(r)
		}
	}
	for _, r := range staged {
		keep(r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QueuedBefore(out[j]) })
	return out
}

func (s *MemoryStore) stockLocked(variantID, userID uint64, staged map[uint64]model.Reservation) model.Stock {
	var st model.Stock
	for _, c := range s.copies[variantID] {
		if c.InCollection() {
			st.TotalCopies++
		}
		if c.Status == model.CopyAvailable {
			st.AvailableCopies++
		}
	}
	count := func(r model.Reservation) {
		if r.VariantID != variantID || !r.Status.IsActive() {
			return
		}
		st.PendingReservations++
		if userID != 0 && r.UserID == userID {
			st.UserHasActive = true
		}
	}
	for id, r := range s.reservations {
		if _, ok := staged[id]; ok {
			continue
		}
		count(r)
	}
	for _, r := range staged {
		count(r)
	}
	return st
}

// memoryTx is the Tx of a MemoryStore.  It runs with the store's write lock
// held.
type memoryTx struct {
	store  *MemoryStore
	staged map[uint64]model.Reservation
	nextID uint64
}

func (t *memoryTx) LockVariant(ctx context.Context, variantID uint64) (model.Variant, error) {
	return t.store.variantLocked(variantID)
}

func (t *memoryTx) GetForUpdate(ctx context.Context, id uint64) (model.Reservation, error) {
	return t.store.reservationLocked(id, t.staged)
}

func (t *memoryTx) PendingForUpdate(ctx context.Context, variantID uint64) ([]model.Reservation, error) {
	return t.store.pendingLocked(variantID, t.staged), nil
}

func (t *memoryTx) Stock(ctx context.Context, variantID, userID uint64) (model.Stock, error) {
	return t.store.stockLocked(variantID, userID, t.staged), nil
}

// Insert enforces the one-active-reservation rule the same way the MySQL
// unique index does.
func (t *memoryTx) Insert(ctx context.Context, r *model.Reservation) error {
	if r.Status.IsActive() {
		st := t.store.stockLocked(r.VariantID, r.UserID, t.staged)
		if st.UserHasActive {
			return model.ErrDuplicateActiveReservation
		}
	}
	r.ID = t.nextID
	t.nextID++
	t.staged[r.ID] = *r
	return nil
}

func (t *memoryTx) Update(ctx context.Context, r *model.Reservation) error {
	if _, err := t.store.reservationLocked(r.ID, t.staged); err != nil {
		return err
	}
	t.staged[r.ID] = *r
	return nil
}
