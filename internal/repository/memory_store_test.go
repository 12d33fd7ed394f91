package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/library-reservations/internal/model"
)

func newSeededMemoryStore(t *testing.T) *MemoryStore {
	t.Helper()
	s := NewMemoryStore()
	s.PutVariant(model.Variant{ID: 1, BookID: 10, ISBN: "9780262033848", Title: "Introduction to Algorithms, 3rd ed."},
		model.Copy{ID: 1, Status: model.CopyAvailable},
		model.Copy{ID: 2, Status: model.CopyOnLoan},
		model.Copy{ID: 3, Status: model.CopyLost},
	)
	s.PutVariant(model.Variant{ID: 2, BookID: 10, ISBN: "9780262046305", Title: "Introduction to Algorithms, 4th ed."})
	return s
}

func insert(t *testing.T, s *MemoryStore, r model.Reservation) model.Reservation {
	t.Helper()
	require.NoError(t, s.InTx(context.Background(), func(tx Tx) error {
		return tx.Insert(context.Background(), &r)
	}))
	return r
}

func TestMemoryStore_InsertAssignsAscendingIDs(t *testing.T) {
	s := newSeededMemoryStore(t)
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	a := insert(t, s, model.Reservation{UserID: 1, VariantID: 1, ReservationDate: at, Status: model.StatusPending})
	b := insert(t, s, model.Reservation{UserID: 2, VariantID: 1, ReservationDate: at, Status: model.StatusPending})

	assert.Equal(t, uint64(1), a.ID)
	assert.Equal(t, uint64(2), b.ID)
}

func TestMemoryStore_InsertRejectsSecondActive(t *testing.T) {
	s := newSeededMemoryStore(t)
	at := time.Now().UTC()
	insert(t, s, model.Reservation{UserID: 1, VariantID: 1, ReservationDate: at, Status: model.StatusPending})

	err := s.InTx(context.Background(), func(tx Tx) error {
		return tx.Insert(context.Background(), &model.Reservation{UserID: 1, VariantID: 1, ReservationDate: at, Status: model.StatusPending})
	})

	assert.ErrorIs(t, err, model.ErrDuplicateActiveReservation)
}

func TestMemoryStore_FailedTxLeavesNoTrace(t *testing.T) {
	s := newSeededMemoryStore(t)
	boom := errors.New("boom")

	err := s.InTx(context.Background(), func(tx Tx) error {
		r := model.Reservation{UserID: 1, VariantID: 1, ReservationDate: time.Now(), Status: model.StatusPending}
		if err := tx.Insert(context.Background(), &r); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	st, err := s.Stock(context.Background(), 1, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, st.PendingReservations)
	assert.False(t, st.UserHasActive)

	// the ID was not consumed either
	r := insert(t, s, model.Reservation{UserID: 1, VariantID: 1, ReservationDate: time.Now(), Status: model.StatusPending})
	assert.Equal(t, uint64(1), r.ID)
}

func TestMemoryStore_Stock(t *testing.T) {
	s := newSeededMemoryStore(t)
	at := time.Now().UTC()
	insert(t, s, model.Reservation{UserID: 1, VariantID: 1, ReservationDate: at, Status: model.StatusPending})
	insert(t, s, model.Reservation{UserID: 2, VariantID: 1, ReservationDate: at, Status: model.StatusAvailable})
	insert(t, s, model.Reservation{UserID: 3, VariantID: 1, ReservationDate: at, Status: model.StatusCanceled})

	st, err := s.Stock(context.Background(), 1, 1)
	require.NoError(t, err)
	assert.Equal(t, model.Stock{TotalCopies: 2, AvailableCopies: 1, PendingReservations: 2, UserHasActive: true}, st)

	st, err = s.Stock(context.Background(), 1, 3)
	require.NoError(t, err)
	assert.False(t, st.UserHasActive)
}

func TestMemoryStore_QueueSnapshotOrdersFIFO(t *testing.T) {
	s := newSeededMemoryStore(t)
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	late := insert(t, s, model.Reservation{UserID: 1, VariantID: 1, ReservationDate: base.Add(time.Minute), Status: model.StatusPending})
	early := insert(t, s, model.Reservation{UserID: 2, VariantID: 1, ReservationDate: base, Status: model.StatusPending})
	insert(t, s, model.Reservation{UserID: 3, VariantID: 1, ReservationDate: base, Status: model.StatusAvailable})

	r, queue, err := s.QueueSnapshot(context.Background(), late.ID)
	require.NoError(t, err)
	assert.Equal(t, late.ID, r.ID)
	require.Len(t, queue, 2)
	assert.Equal(t, early.ID, queue[0].ID)
	assert.Equal(t, late.ID, queue[1].ID)
}

func TestMemoryStore_ActiveExpiredBefore(t *testing.T) {
	s := newSeededMemoryStore(t)
	now := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)
	a := insert(t, s, model.Reservation{UserID: 1, VariantID: 1, ReservationDate: past, ExpirationDate: &past, Status: model.StatusPending})
	insert(t, s, model.Reservation{UserID: 2, VariantID: 1, ReservationDate: past, ExpirationDate: &future, Status: model.StatusPending})
	c := insert(t, s, model.Reservation{UserID: 3, VariantID: 2, ReservationDate: past, ExpirationDate: &past, Status: model.StatusAvailable})
	insert(t, s, model.Reservation{UserID: 4, VariantID: 2, ReservationDate: past, ExpirationDate: &past, Status: model.StatusCollected})

	ids, err := s.ActiveExpiredBefore(context.Background(), now, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, []uint64{a.ID, c.ID}, ids)

	ids, err = s.ActiveExpiredBefore(context.Background(), now, a.ID, 10)
	require.NoError(t, err)
	assert.Equal(t, []uint64{c.ID}, ids)

	ids, err = s.ActiveExpiredBefore(context.Background(), now, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, []uint64{a.ID}, ids)
}

func TestMemoryStore_Search(t *testing.T) {
	s := newSeededMemoryStore(t)
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		insert(t, s, model.Reservation{UserID: uint64(i + 1), VariantID: 1, ReservationDate: base.Add(time.Duration(i) * time.Minute), Status: model.StatusPending})
	}
	insert(t, s, model.Reservation{UserID: 1, VariantID: 2, ReservationDate: base, Status: model.StatusCanceled})

	page, total, err := s.Search(context.Background(), SearchQuery{Keyword: "3RD", Page: 1, PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	require.Len(t, page, 2)
	assert.Equal(t, uint64(5), page[0].UserID, "newest first")

	page, total, err = s.Search(context.Background(), SearchQuery{Keyword: "3rd", Page: 3, PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	assert.Len(t, page, 1)

	page, total, err = s.Search(context.Background(), SearchQuery{Status: model.StatusCanceled, UserID: 1, Page: 1, PageSize: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, uint64(2), page[0].VariantID)
}

func TestMemoryStore_NotFound(t *testing.T) {
	s := newSeededMemoryStore(t)

	_, err := s.GetReservation(context.Background(), 99)
	assert.ErrorIs(t, err, model.ErrNotFound)

	_, err = s.GetVariant(context.Background(), 99)
	assert.ErrorIs(t, err, model.ErrNotFound)

	vs, err := s.VariantsByBook(context.Background(), 99)
	require.NoError(t, err)
	assert.Empty(t, vs)
}
