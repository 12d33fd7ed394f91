package repository

import (
	"context"
	"time"

	"github.com/iliyamo/library-reservations/internal/model"
)

// ReservationStore is the durable home of reservations and the read side of
// variants and copies.  Mutations go through InTx so that a transition is
// either fully visible to readers or not at all.
type ReservationStore interface {
	// InTx runs fn atomically.  When fn returns an error nothing it wrote is
	// kept and the error is returned unchanged.
	InTx(ctx context.Context, fn func(tx Tx) error) error

	GetReservation(ctx context.Context, id uint64) (model.Reservation, error)
	// PendingByVariant returns Pending reservations of a variant ordered by
	// reservation date then ID.
	PendingByVariant(ctx context.Context, variantID uint64) ([]model.Reservation, error)
	// QueueSnapshot returns a reservation together with the pending list of
	// its variant, both read from the same snapshot.
	QueueSnapshot(ctx context.Context, reservationID uint64) (model.Reservation, []model.Reservation, error)
	// ActiveExpiredBefore returns IDs greater than afterID of Pending or
	// Available reservations whose expiration is before now, ascending,
	// at most limit of them.
	ActiveExpiredBefore(ctx context.Context, now time.Time, afterID uint64, limit int) ([]uint64, error)
	Search(ctx context.Context, q SearchQuery) ([]model.Reservation, int64, error)

	GetVariant(ctx context.Context, id uint64) (model.Variant, error)
	VariantsByBook(ctx context.Context, bookID uint64) ([]model.Variant, error)
	// Stock reads copy and reservation counters of a variant.  userID 0
	// leaves Stock.UserHasActive false.
	Stock(ctx context.Context, variantID, userID uint64) (model.Stock, error)

	Ping(ctx context.Context) error
}

// Tx is the write view of the store inside InTx.  Reads made through a Tx
// lock what they return until the transaction ends.
type Tx interface {
	// LockVariant serialises reservation creation for one variant.
	LockVariant(ctx context.Context, variantID uint64) (model.Variant, error)
	GetForUpdate(ctx context.Context, id uint64) (model.Reservation, error)
	// PendingForUpdate returns the queue of a variant in FIFO order and
	// locks its rows.
	PendingForUpdate(ctx context.Context, variantID uint64) ([]model.Reservation, error)
	Stock(ctx context.Context, variantID, userID uint64) (model.Stock, error)
	// Insert stores a new reservation and fills in its ID.
	Insert(ctx context.Context, r *model.Reservation) error
	Update(ctx context.Context, r *model.Reservation) error
}

// SearchQuery defines filters & pagination for listing reservations.
type SearchQuery struct {
	Keyword   string // matches the variant ISBN or title
	Status    model.Status
	UserID    uint64
	VariantID uint64
	Page      int
	PageSize  int
}

// Offset returns the row offset for the requested page (1-based).
func (q SearchQuery) Offset() int {
	if q.Page < 1 {
		return 0
	}
	return (q.Page - 1) * q.PageSize
}
