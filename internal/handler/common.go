package handler // handler defines the HTTP handlers of the reservation API

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/library-reservations/internal/model"
	"github.com/iliyamo/library-reservations/internal/service"
)

// reservationResponse is the wire form of a reservation.
type reservationResponse struct {
	ID              uint64     `json:"id"`
	UserID          uint64     `json:"userId"`
	VariantID       uint64     `json:"variantId"`
	ReservationDate time.Time  `json:"reservationDate"`
	ExpirationDate  *time.Time `json:"expirationDate"`
	Status          string     `json:"status"`
	ProcessedBy     *uint64    `json:"processedBy"`
	Extended        bool       `json:"extended"`
	UpdatedAt       time.Time  `json:"updatedAt"`
	QueuePosition   *int       `json:"queuePosition,omitempty"`
}

func toResponse(r model.Reservation) reservationResponse {
	return reservationResponse{
		ID:              r.ID,
		UserID:          r.UserID,
		VariantID:       r.VariantID,
		ReservationDate: r.ReservationDate,
		ExpirationDate:  r.ExpirationDate,
		Status:          string(r.Status),
		ProcessedBy:     r.ProcessedBy,
		Extended:        r.Extended,
		UpdatedAt:       r.UpdatedAt,
	}
}

// pageResponse is the wire form of a paged listing.
type pageResponse struct {
	Data        []reservationResponse `json:"data"`
	TotalCount  int64                 `json:"totalCount"`
	Page        int                   `json:"page"`
	PageSize    int                   `json:"pageSize"`
	HasNextPage bool                  `json:"hasNextPage"`
}

func toPageResponse(p service.Page) pageResponse {
	out := pageResponse{
		Data:        make([]reservationResponse, 0, len(p.Data)),
		TotalCount:  p.TotalCount,
		Page:        p.Page,
		PageSize:    p.PageSize,
		HasNextPage: p.HasNextPage,
	}
	for _, r := range p.Data {
		out.Data = append(out.Data, toResponse(r))
	}
	return out
}

// parseID reads a positive integer path parameter.
func parseID(c echo.Context, name string) (uint64, error) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		return 0, model.ErrValidation
	}
	return id, nil
}

// queryUint reads an optional non-negative integer query parameter.
func queryUint(c echo.Context, name string) (uint64, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, model.ErrValidation
	}
	return v, nil
}

// queryInt reads an optional integer query parameter; garbage reads as 0.
func queryInt(c echo.Context, name string) int {
	v, _ := strconv.Atoi(c.QueryParam(name))
	return v
}

// errorStatus maps a domain error onto an HTTP status and a short code.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, model.ErrDuplicateActiveReservation):
		return http.StatusConflict, "duplicate_reservation"
	case errors.Is(err, model.ErrNotAvailable):
		return http.StatusConflict, "not_available"
	case errors.Is(err, model.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition"
	case errors.Is(err, model.ErrAlreadyExtended):
		return http.StatusConflict, "already_extended"
	case errors.Is(err, model.ErrNotInQueue):
		return http.StatusConflict, "not_in_queue"
	case errors.Is(err, model.ErrValidation):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, model.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, model.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	}
	return http.StatusInternalServerError, "internal_error"
}

// writeError renders err as {"error": code, "message": text}.  Internal
// errors are logged and their text is not exposed.
func writeError(c echo.Context, log *zap.Logger, err error) error {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return c.JSON(he.Code, echo.Map{"error": "bad_request", "message": he.Message})
	}
	status, code := errorStatus(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		log.Error("request failed",
			zap.String("method", c.Request().Method),
			zap.String("path", c.Path()),
			zap.Error(err),
		)
		msg = "internal server error"
	}
	return c.JSON(status, echo.Map{"error": code, "message": msg})
}

// callerID returns the authenticated user's ID, or zero.
func callerID(c echo.Context) uint64 {
	p, _ := service.PrincipalFrom(c.Request().Context())
	return p.UserID
}
