// Package middleware provides Echo middleware for logging, metrics and
// header hygiene.
package middleware

import (
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"

	"target-forwarder/internal/metrics"
)

// RequestLogger returns an Echo middleware that logs each request with slog.
// The query string is never logged since it carries the target URL and any
// credentials embedded in it.
func RequestLogger(logger *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			req := c.Request()
			res := c.Response()

			level := slog.LevelInfo
			if res.Status >= 500 {
				level = slog.LevelWarn
			}

			logger.Log(req.Context(), level, "request",
				"method", req.Method,
				"path", req.URL.Path,
				"route", metrics.NormalizeRoute(req.URL.Path),
				"status", res.Status,
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", res.Header().Get(echo.HeaderXRequestID),
				"remote_ip", c.RealIP(),
				"bytes_in", req.ContentLength,
				"bytes_out", res.Size,
			)

			return err
		}
	}
}
