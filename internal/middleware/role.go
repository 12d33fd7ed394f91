package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/library-reservations/internal/service"
)

// RequireRole aborts with 403 unless the authenticated principal has one
// of roles.  It must run after JWTAuth.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	allowed := make(map[string]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p, ok := service.PrincipalFrom(c.Request().Context())
			if !ok {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized", "message": "authentication required"})
			}
			if !allowed[p.Role] {
				return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden", "message": "insufficient role"})
			}
			return next(c)
		}
	}
}

// RequireStaff is RequireRole for the staff roles.
func RequireStaff() echo.MiddlewareFunc {
	return RequireRole(service.RoleStaff, service.RoleAdmin)
}
