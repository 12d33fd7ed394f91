package handler

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/library-reservations/internal/model"
	"github.com/iliyamo/library-reservations/internal/service"
)

// Queue handles GET /v1/reservations/queue/:variantId.
func (h *ReservationHandler) Queue(c echo.Context) error {
	id, err := parseID(c, "variantId")
	if err != nil {
		return writeError(c, h.log, fmt.Errorf("invalid variant id: %w", err))
	}
	entries, err := h.queue.QueueFor(c.Request().Context(), id)
	if err != nil {
		return writeError(c, h.log, err)
	}
	out := make([]reservationResponse, 0, len(entries))
	for _, e := range entries {
		resp := toResponse(e.Reservation)
		pos := e.QueuePosition
		resp.QueuePosition = &pos
		out = append(out, resp)
	}
	return c.JSON(http.StatusOK, echo.Map{"variantId": id, "queue": out})
}

// Next handles GET /v1/reservations/next/:variantId.
func (h *ReservationHandler) Next(c echo.Context) error {
	id, err := parseID(c, "variantId")
	if err != nil {
		return writeError(c, h.log, fmt.Errorf("invalid variant id: %w", err))
	}
	r, err := h.queue.NextInQueue(c.Request().Context(), id)
	if err != nil {
		return writeError(c, h.log, err)
	}
	resp := toResponse(r)
	first := 1
	resp.QueuePosition = &first
	return c.JSON(http.StatusOK, resp)
}

// Promote handles POST /v1/reservations/next/:variantId/promote.
func (h *ReservationHandler) Promote(c echo.Context) error {
	id, err := parseID(c, "variantId")
	if err != nil {
		return writeError(c, h.log, fmt.Errorf("invalid variant id: %w", err))
	}
	r, err := h.lifecycle.PromoteNext(c.Request().Context(), id, 0)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, toResponse(r))
}

type updateRequest struct {
	Status         *string    `json:"status"`
	ExpirationDate *time.Time `json:"expirationDate"`
	ProcessedBy    *uint64    `json:"processedBy"`
}

// Update handles PUT /v1/reservations/:id.
func (h *ReservationHandler) Update(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return writeError(c, h.log, fmt.Errorf("invalid reservation id: %w", err))
	}
	var body updateRequest
	if err := c.Bind(&body); err != nil {
		return writeError(c, h.log, err)
	}
	in := service.UpdateInput{ExpirationDate: body.ExpirationDate, ProcessedBy: body.ProcessedBy}
	if body.Status != nil {
		st, ok := model.ParseStatus(*body.Status)
		if !ok {
			return writeError(c, h.log, fmt.Errorf("unknown status %q: %w", *body.Status, model.ErrValidation))
		}
		in.Status = &st
	}
	r, err := h.lifecycle.Update(c.Request().Context(), id, in)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, toResponse(r))
}

// MarkAvailable handles PUT /v1/reservations/:id/available.
func (h *ReservationHandler) MarkAvailable(c echo.Context) error {
	return h.staffTransition(c, h.lifecycle.MarkAvailable)
}

// MarkCollected handles PUT /v1/reservations/:id/collect.
func (h *ReservationHandler) MarkCollected(c echo.Context) error {
	return h.staffTransition(c, h.lifecycle.MarkCollected)
}

// StaffCancel handles DELETE /v1/reservations/:id/staff-cancel?staffId=.
func (h *ReservationHandler) StaffCancel(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return writeError(c, h.log, fmt.Errorf("invalid reservation id: %w", err))
	}
	staffID, err := queryUint(c, "staffId")
	if err != nil {
		return writeError(c, h.log, fmt.Errorf("invalid staffId: %w", err))
	}
	r, err := h.lifecycle.StaffCancel(c.Request().Context(), id, staffID)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"message":     fmt.Sprintf("reservation %d canceled", r.ID),
		"reservation": toResponse(r),
	})
}

// ProcessExpired handles POST /v1/reservations/process-expired and runs the
// sweep on demand.
func (h *ReservationHandler) ProcessExpired(c echo.Context) error {
	n, err := h.lifecycle.ProcessExpired(c.Request().Context())
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"message": fmt.Sprintf("%d reservation(s) expired", n),
		"count":   n,
	})
}

// Search handles GET /v1/reservations.
func (h *ReservationHandler) Search(c echo.Context) error {
	userID, err := queryUint(c, "userId")
	if err != nil {
		return writeError(c, h.log, fmt.Errorf("invalid userId: %w", err))
	}
	variantID, err := queryUint(c, "variantId")
	if err != nil {
		return writeError(c, h.log, fmt.Errorf("invalid variantId: %w", err))
	}
	p, err := h.lifecycle.Search(c.Request().Context(), service.SearchInput{
		Keyword:   c.QueryParam("keyword"),
		Status:    c.QueryParam("status"),
		UserID:    userID,
		VariantID: variantID,
		Page:      queryInt(c, "page"),
		PageSize:  queryInt(c, "pageSize"),
	})
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, toPageResponse(p))
}

func (h *ReservationHandler) staffTransition(c echo.Context, fn func(ctx context.Context, id, staffID uint64) (model.Reservation, error)) error {
	id, err := parseID(c, "id")
	if err != nil {
		return writeError(c, h.log, fmt.Errorf("invalid reservation id: %w", err))
	}
	staffID, err := queryUint(c, "staffId")
	if err != nil {
		return writeError(c, h.log, fmt.Errorf("invalid staffId: %w", err))
	}
	r, err := fn(c.Request().Context(), id, staffID)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, toResponse(r))
}
