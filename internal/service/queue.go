package service

import (
	"context"
	"fmt"
	"sort"

	"github.com/iliyamo/library-reservations/internal/model"
	"github.com/iliyamo/library-reservations/internal/repository"
)

// QueueEntry is a pending reservation together with its derived rank.
type QueueEntry struct {
	model.Reservation
	QueuePosition int
}

// Order keeps the Pending reservations of rs and sorts them first come,
// first served.  The input slice is not modified.
func Order(rs []model.Reservation) []model.Reservation {
	out := make([]model.Reservation, 0, len(rs))
	for _, r := range rs {
		if r.Status == model.StatusPending {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].QueuedBefore(out[j]) })
	return out
}

// Queue answers position questions over the pending reservations of a
// variant.  Positions are computed on every read and never stored.
type Queue struct {
	store repository.ReservationStore
}

func NewQueue(store repository.ReservationStore) *Queue {
	return &Queue{store: store}
}

// PositionOf returns the 1-based rank of a Pending reservation within its
// variant's queue.
func (q *Queue) PositionOf(ctx context.Context, reservationID uint64) (int, error) {
	r, pending, err := q.store.QueueSnapshot(ctx, reservationID)
	if err != nil {
		return 0, err
	}
	if r.Status != model.StatusPending {
		return 0, fmt.Errorf("reservation %d is %s: %w", r.ID, r.Status, model.ErrNotInQueue)
	}
	for i, p := range Order(pending) {
		if p.ID == r.ID {
			return i + 1, nil
		}
	}
	return 0, fmt.Errorf("reservation %d: %w", r.ID, model.ErrNotInQueue)
}

// NextInQueue returns the earliest pending reservation of a variant.
func (q *Queue) NextInQueue(ctx context.Context, variantID uint64) (model.Reservation, error) {
	pending, err := q.store.PendingByVariant(ctx, variantID)
	if err != nil {
		return model.Reservation{}, err
	}
	ordered := Order(pending)
	if len(ordered) == 0 {
		return model.Reservation{}, fmt.Errorf("queue of variant %d is empty: %w", variantID, model.ErrNotFound)
	}
	return ordered[0], nil
}

// QueueFor returns the whole queue of a variant with positions filled in.
// An unknown variant is reported as not found rather than as an empty queue.
func (q *Queue) QueueFor(ctx context.Context, variantID uint64) ([]QueueEntry, error) {
	if _, err := q.store.GetVariant(ctx, variantID); err != nil {
		return nil, err
	}
	pending, err := q.store.PendingByVariant(ctx, variantID)
	if err != nil {
		return nil, err
	}
	ordered := Order(pending)
	out := make([]QueueEntry, len(ordered))
	for i, r := range ordered {
		out[i] = QueueEntry{Reservation: r, QueuePosition: i + 1}
	}
	return out, nil
}
