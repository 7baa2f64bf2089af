package middleware

import (
	"errors"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"target-forwarder/internal/metrics"
)

// MetricsMiddleware returns an Echo middleware that records Prometheus metrics
// for each inbound request. Forwarded requests share the "forward" route label
// whatever their path, keeping label cardinality bounded. The duration covers
// the whole relay, body streaming included.
func MetricsMiddleware(m *metrics.Metrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			m.RequestsInFlight.Inc()
			defer m.RequestsInFlight.Dec()

			start := time.Now()
			err := next(c)
			elapsed := time.Since(start).Seconds()

			labels := []string{
				metrics.NormalizeMethod(c.Request().Method),
				strconv.Itoa(responseStatus(c, err)),
				metrics.NormalizeRoute(c.Request().URL.Path),
			}
			m.RequestsTotal.WithLabelValues(labels...).Inc()
			m.RequestDuration.WithLabelValues(labels...).Observe(elapsed)

			return err
		}
	}
}

// responseStatus returns the status the client will see. An *echo.HTTPError
// (router 404, rate limiter 429, body limit 413) is written later by the
// central error handler, so its code is taken from the error.
func responseStatus(c echo.Context, err error) int {
	var he *echo.HTTPError
	if err != nil && !c.Response().Committed && errors.As(err, &he) {
		return he.Code
	}
	return c.Response().Status
}
