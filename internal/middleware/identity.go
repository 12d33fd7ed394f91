package middleware

import (
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/library-reservations/internal/service"
)

// userID identifies the caller for rate limit and cache keys.  It returns
// "guest" when no principal is attached.
func userID(c echo.Context) string {
	if p, ok := service.PrincipalFrom(c.Request().Context()); ok {
		return strconv.FormatUint(p.UserID, 10)
	}
	if v, ok := c.Get("user_id").(string); ok && v != "" {
		return v
	}
	return "guest"
}
