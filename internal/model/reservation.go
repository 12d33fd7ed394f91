package model

import (
	"strings"
	"time"
)

// Status is the lifecycle state of a reservation.
type Status string

const (
	StatusPending   Status = "Pending"
	StatusAvailable Status = "Available"
	StatusCollected Status = "Collected"
	StatusCanceled  Status = "Canceled"
	StatusExpired   Status = "Expired"
)

// ActiveStatuses are the non-terminal states.  A user may hold at most one
// reservation in one of these states per variant.
var ActiveStatuses = []Status{StatusPending, StatusAvailable}

// transitions lists the allowed target states for every non-terminal state.
// Terminal states have no entry.
var transitions = map[Status][]Status{
	StatusPending:   {StatusAvailable, StatusCanceled, StatusExpired},
	StatusAvailable: {StatusCollected, StatusCanceled, StatusExpired},
}

// ParseStatus converts client input into a canonical Status.  Matching is
// case-insensitive and "Fulfilled" is accepted as an alias of Collected.
func ParseStatus(s string) (Status, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pending":
		return StatusPending, true
	case "available":
		return StatusAvailable, true
	case "collected", "fulfilled":
		return StatusCollected, true
	case "canceled", "cancelled":
		return StatusCanceled, true
	case "expired":
		return StatusExpired, true
	}
	return "", false
}

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	_, ok := transitions[s]
	return !ok
}

// IsActive reports whether s is Pending or Available.
func (s Status) IsActive() bool {
	return s == StatusPending || s == StatusAvailable
}

// CanTransitionTo reports whether the state machine allows s -> next.
func (s Status) CanTransitionTo(next Status) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// Reservation is one request by a user for a book variant.  Rows are never
// deleted; terminal states are kept for history.
//
// Fields:
//  ID              – primary key, ascending in insertion order.
//  UserID          – owner of the reservation.
//  VariantID       – reserved edition/printing.
//  ReservationDate – creation time, immutable.
//  ExpirationDate  – deadline after which the sweeper expires the record.
//  Status          – lifecycle state.
//  ProcessedBy     – staff member who last changed the record (nullable).
//  Extended        – whether the one allowed extension has been used.
//  UpdatedAt       – last modification time.
type Reservation struct {
	ID              uint64     // reservations.id
	UserID          uint64     // reservations.user_id
	VariantID       uint64     // reservations.variant_id
	ReservationDate time.Time  // reservations.reservation_date
	ExpirationDate  *time.Time // reservations.expiration_date (nullable)
	Status          Status     // reservations.status
	ProcessedBy     *uint64    // reservations.processed_by (nullable)
	Extended        bool       // reservations.extended
	UpdatedAt       time.Time  // reservations.updated_at
}

// ExpiredAt reports whether the reservation is active and its deadline lies
// strictly before now.
func (r Reservation) ExpiredAt(now time.Time) bool {
	return r.Status.IsActive() && r.ExpirationDate != nil && r.ExpirationDate.Before(now)
}

// QueuedBefore orders reservations by request time with the ID as a
// tie-breaker, giving a total order.
func (r Reservation) QueuedBefore(o Reservation) bool {
	if !r.ReservationDate.Equal(o.ReservationDate) {
		return r.ReservationDate.Before(o.ReservationDate)
	}
	return r.ID < o.ID
}
