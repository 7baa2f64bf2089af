package middleware

import (
	"github.com/labstack/echo/v4"

	"target-forwarder/internal/headers"
)

// SecurityHeaders returns an Echo middleware that adds security headers to
// responses generated by the forwarder itself. Forwarded responses keep the
// target's headers untouched, so it is attached to local routes only.
func SecurityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Response().Header().Set("X-Content-Type-Options", "nosniff")
			c.Response().Header().Set("X-Frame-Options", "DENY")
			c.Response().Header().Set("Cache-Control", "no-store")

			return next(c)
		}
	}
}

// StripHopByHop returns an Echo middleware that removes connection-scoped
// headers from the inbound request before it is forwarded.
func StripHopByHop() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			headers.StripHopByHop(c.Request().Header)
			return next(c)
		}
	}
}
