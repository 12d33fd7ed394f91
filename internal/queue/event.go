// Package queue defines message payloads exchanged over the message broker.
package queue

import (
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/library-reservations/internal/model"
)

// EventType names what happened to a reservation.
type EventType string

const (
	EventCreated   EventType = "reservation.created"
	EventAvailable EventType = "reservation.available"
	EventCollected EventType = "reservation.collected"
	EventCanceled  EventType = "reservation.canceled"
	EventExpired   EventType = "reservation.expired"
	EventExtended  EventType = "reservation.extended"
	EventUpdated   EventType = "reservation.updated"
)

// EventForStatus picks the event type announcing a move into s.
func EventForStatus(s model.Status) EventType {
	switch s {
	case model.StatusAvailable:
		return EventAvailable
	case model.StatusCollected:
		return EventCollected
	case model.StatusCanceled:
		return EventCanceled
	case model.StatusExpired:
		return EventExpired
	}
	return EventUpdated
}

// ReservationEvent is published after a reservation change has been
// committed.  It carries enough of the record for downstream consumers to
// log, notify, or trigger analytics without querying the primary database.
type ReservationEvent struct {
	EventID        string     `json:"eventId"`
	Type           EventType  `json:"type"`
	ReservationID  uint64     `json:"reservationId"`
	UserID         uint64     `json:"userId"`
	VariantID      uint64     `json:"variantId"`
	Status         string     `json:"status"`
	PreviousStatus string     `json:"previousStatus,omitempty"`
	ProcessedBy    *uint64    `json:"processedBy,omitempty"`
	ExpirationDate *time.Time `json:"expirationDate,omitempty"`
	OccurredAt     time.Time  `json:"occurredAt"`
}

// NewReservationEvent snapshots r into an event with a fresh ID.  prev is
// empty for creations.
func NewReservationEvent(typ EventType, r model.Reservation, prev model.Status, at time.Time) ReservationEvent {
	return ReservationEvent{
		EventID:        uuid.NewString(),
		Type:           typ,
		ReservationID:  r.ID,
		UserID:         r.UserID,
		VariantID:      r.VariantID,
		Status:         string(r.Status),
		PreviousStatus: string(prev),
		ProcessedBy:    r.ProcessedBy,
		ExpirationDate: r.ExpirationDate,
		OccurredAt:     at.UTC(),
	}
}
