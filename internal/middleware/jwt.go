package middleware // package middleware contains reusable HTTP middleware functions

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/library-reservations/internal/service"
	"github.com/iliyamo/library-reservations/internal/utils"
)

// JWTAuth returns an Echo middleware that validates a Bearer access token
// and attaches the caller to the request.  The principal is stored in the
// request context (service.PrincipalFrom) for the service layer, and the
// subject and role are also exposed via c.Get("user_id") and c.Get("role")
// for other middleware.
func JWTAuth(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			auth := c.Request().Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized", "message": "missing bearer token"})
			}
			claims, err := utils.ParseAccessToken(secret, strings.TrimPrefix(auth, "Bearer "))
			if err != nil {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized", "message": "invalid token"})
			}

			p := service.Principal{UserID: claims.UserID, Role: strings.ToUpper(claims.Role)}
			req := c.Request()
			c.SetRequest(req.WithContext(service.WithPrincipal(req.Context(), p)))
			c.Set("user_id", strconv.FormatUint(p.UserID, 10))
			c.Set("role", p.Role)
			return next(c)
		}
	}
}
