package model

import "errors"

var (
	ErrNotFound = errors.New("not found")
)

var (
	ErrDuplicateActiveReservation = errors.New("user already has an active reservation for this variant")
	ErrNotAvailable               = errors.New("variant cannot be reserved right now")
	ErrInvalidTransition          = errors.New("reservation status change is not allowed")
	ErrAlreadyExtended            = errors.New("reservation has already been extended")
	ErrNotInQueue                 = errors.New("reservation is not waiting in the queue")
)

var (
	ErrValidation   = errors.New("validation error")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
)
