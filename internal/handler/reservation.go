package handler

import (
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/library-reservations/internal/model"
	"github.com/iliyamo/library-reservations/internal/service"
)

// ReservationHandler serves the reservation endpoints.  Authentication has
// already run; the principal travels in the request context and the
// service layer enforces ownership and staff rules.
type ReservationHandler struct {
	lifecycle    *service.Lifecycle
	queue        *service.Queue
	availability *service.Availability
	log          *zap.Logger
}

// NewReservationHandler wires a ReservationHandler and panics if a service
// is missing.
func NewReservationHandler(lifecycle *service.Lifecycle, queue *service.Queue, availability *service.Availability, log *zap.Logger) *ReservationHandler {
	if lifecycle == nil || queue == nil || availability == nil {
		panic("nil service passed to NewReservationHandler")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &ReservationHandler{lifecycle: lifecycle, queue: queue, availability: availability, log: log}
}

type createRequest struct {
	UserID         uint64     `json:"userId"`
	VariantID      uint64     `json:"variantId"`
	ExpirationDate *time.Time `json:"expirationDate"`
}

// Create handles POST /v1/reservations.  The response carries the new
// reservation's queue position.
func (h *ReservationHandler) Create(c echo.Context) error {
	var body createRequest
	if err := c.Bind(&body); err != nil {
		return writeError(c, h.log, err)
	}
	ctx := c.Request().Context()
	r, err := h.lifecycle.Create(ctx, service.CreateInput{
		UserID:         body.UserID,
		VariantID:      body.VariantID,
		ExpirationDate: body.ExpirationDate,
	})
	if err != nil {
		return writeError(c, h.log, err)
	}
	resp := toResponse(r)
	if pos, err := h.queue.PositionOf(ctx, r.ID); err == nil {
		resp.QueuePosition = &pos
	}
	return c.JSON(http.StatusCreated, resp)
}

// Get handles GET /v1/reservations/:id.
func (h *ReservationHandler) Get(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return writeError(c, h.log, fmt.Errorf("invalid reservation id: %w", err))
	}
	r, err := h.lifecycle.Get(c.Request().Context(), id)
	if err != nil {
		return writeError(c, h.log, err)
	}
	resp := toResponse(r)
	if r.Status == model.StatusPending {
		if pos, err := h.queue.PositionOf(c.Request().Context(), r.ID); err == nil {
			resp.QueuePosition = &pos
		}
	}
	return c.JSON(http.StatusOK, resp)
}

// Position handles GET /v1/reservations/:id/position.
func (h *ReservationHandler) Position(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return writeError(c, h.log, fmt.Errorf("invalid reservation id: %w", err))
	}
	ctx := c.Request().Context()
	if _, err := h.lifecycle.Get(ctx, id); err != nil {
		return writeError(c, h.log, err)
	}
	pos, err := h.queue.PositionOf(ctx, id)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"reservationId": id, "queuePosition": pos})
}

// Extend handles PUT /v1/reservations/:id/extend.
func (h *ReservationHandler) Extend(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return writeError(c, h.log, fmt.Errorf("invalid reservation id: %w", err))
	}
	r, err := h.lifecycle.Extend(c.Request().Context(), id)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, toResponse(r))
}

// MyReservations handles GET /v1/my-reservations?page=&pageSize=.
func (h *ReservationHandler) MyReservations(c echo.Context) error {
	p, err := h.lifecycle.ListByUser(c.Request().Context(), queryInt(c, "page"), queryInt(c, "pageSize"))
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, toPageResponse(p))
}

// Availability handles GET /v1/reservations/availability/:variantId.
func (h *ReservationHandler) Availability(c echo.Context) error {
	id, err := parseID(c, "variantId")
	if err != nil {
		return writeError(c, h.log, fmt.Errorf("invalid variant id: %w", err))
	}
	s, err := h.availability.Check(c.Request().Context(), id, callerID(c))
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, s)
}

// BookAvailability handles GET /v1/reservations/availability/book/:bookId.
func (h *ReservationHandler) BookAvailability(c echo.Context) error {
	id, err := parseID(c, "bookId")
	if err != nil {
		return writeError(c, h.log, fmt.Errorf("invalid book id: %w", err))
	}
	list, err := h.availability.ForBook(c.Request().Context(), id, callerID(c))
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"bookId": id, "variants": list})
}
