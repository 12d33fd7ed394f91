package service

import (
	"context"

	"github.com/iliyamo/library-reservations/internal/model"
	"github.com/iliyamo/library-reservations/internal/repository"
)

// AvailabilitySummary is the answer of the availability calculator for one
// variant.
type AvailabilitySummary struct {
	VariantID           uint64 `json:"variantId"`
	ISBN                string `json:"isbn,omitempty"`
	Title               string `json:"title,omitempty"`
	TotalCopies         int    `json:"totalCopies"`
	AvailableCopies     int    `json:"availableCopies"`
	PendingReservations int    `json:"pendingReservations"`
	CanReserve          bool   `json:"canReserve"`
}

// Availability derives copy and queue counters for variants.  It never
// writes.
type Availability struct {
	store         repository.ReservationStore
	allowWaitlist bool
}

// NewAvailability returns an Availability.  With allowWaitlist a user may
// join the queue even when every copy is spoken for.
func NewAvailability(store repository.ReservationStore, allowWaitlist bool) *Availability {
	return &Availability{store: store, allowWaitlist: allowWaitlist}
}

// Check returns the summary of one variant as seen by userID.  A zero
// userID is an anonymous caller.
func (a *Availability) Check(ctx context.Context, variantID, userID uint64) (AvailabilitySummary, error) {
	v, err := a.store.GetVariant(ctx, variantID)
	if err != nil {
		return AvailabilitySummary{}, err
	}
	st, err := a.store.Stock(ctx, variantID, userID)
	if err != nil {
		return AvailabilitySummary{}, err
	}
	return a.summarize(v, st), nil
}

// ForBook returns a summary for every variant of a book.
func (a *Availability) ForBook(ctx context.Context, bookID, userID uint64) ([]AvailabilitySummary, error) {
	vs, err := a.store.VariantsByBook(ctx, bookID)
	if err != nil {
		return nil, err
	}
	out := make([]AvailabilitySummary, 0, len(vs))
	for _, v := range vs {
		st, err := a.store.Stock(ctx, v.ID, userID)
		if err != nil {
			return nil, err
		}
		out = append(out, a.summarize(v, st))
	}
	return out, nil
}

func (a *Availability) summarize(v model.Variant, st model.Stock) AvailabilitySummary {
	return AvailabilitySummary{
		VariantID:           v.ID,
		ISBN:                v.ISBN,
		Title:               v.Title,
		TotalCopies:         st.TotalCopies,
		AvailableCopies:     st.AvailableCopies,
		PendingReservations: st.PendingReservations,
		CanReserve:          a.canReserve(st),
	}
}

// canReserve applies the queuing policy to a stock snapshot.
func (a *Availability) canReserve(st model.Stock) bool {
	if st.UserHasActive {
		return false
	}
	if a.allowWaitlist {
		return true
	}
	return st.AvailableCopies > st.PendingReservations
}
