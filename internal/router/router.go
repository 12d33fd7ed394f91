package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/library-reservations/internal/handler"
	"github.com/iliyamo/library-reservations/internal/middleware"
)

// Deps carries what the routes need.  Cache and RateLimit may be nil.
type Deps struct {
	Reservations *handler.ReservationHandler
	Store        handler.Pinger
	JWTSecret    string
	Cache        echo.MiddlewareFunc
	RateLimit    echo.MiddlewareFunc
}

// Register mounts every route on e.
func Register(e *echo.Echo, d Deps) {
	// Used by load balancers; no authentication.
	e.GET("/healthz", handler.Health(d.Store))

	v1 := e.Group("/v1", middleware.JWTAuth(d.JWTSecret))
	if d.RateLimit != nil {
		v1.Use(d.RateLimit)
	}
	registerUser(v1, d)
	registerStaff(v1, d)
}

// registerUser mounts the routes open to any authenticated caller.  The
// service layer enforces ownership.
func registerUser(g *echo.Group, d Deps) {
	h := d.Reservations
	var cached []echo.MiddlewareFunc
	if d.Cache != nil {
		cached = append(cached, d.Cache)
	}
	g.GET("/reservations/availability/:variantId", h.Availability, cached...)
	g.GET("/reservations/availability/book/:bookId", h.BookAvailability, cached...)

	g.POST("/reservations", h.Create)
	g.GET("/reservations/:id", h.Get)
	g.GET("/reservations/:id/position", h.Position)
	g.PUT("/reservations/:id/extend", h.Extend)
	g.GET("/my-reservations", h.MyReservations)
}

// registerStaff mounts the routes restricted to STAFF and ADMIN.
func registerStaff(g *echo.Group, d Deps) {
	h := d.Reservations
	staff := middleware.RequireStaff()

	g.GET("/reservations", h.Search, staff)
	g.GET("/reservations/queue/:variantId", h.Queue, staff)
	g.GET("/reservations/next/:variantId", h.Next, staff)
	g.POST("/reservations/next/:variantId/promote", h.Promote, staff)
	g.POST("/reservations/process-expired", h.ProcessExpired, staff)
	g.PUT("/reservations/:id", h.Update, staff)
	g.PUT("/reservations/:id/available", h.MarkAvailable, staff)
	g.PUT("/reservations/:id/collect", h.MarkCollected, staff)
	g.DELETE("/reservations/:id/staff-cancel", h.StaffCancel, staff)
}
