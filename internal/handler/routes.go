package handler

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"target-forwarder/internal/config"
	"target-forwarder/internal/metrics"
	"target-forwarder/internal/middleware"
)

// RegisterRoutes wires all route handlers onto the Echo instance. Local
// endpoints are registered as static routes so they win over the catch-all
// forward route. The metrics parameter may be nil.
func RegisterRoutes(e *echo.Echo, fwd *ForwardHandler, health *HealthHandler, cfg *config.Config, m *metrics.Metrics) {
	secure := middleware.SecurityHeaders()

	e.GET("/healthz", health.Healthz, secure)
	e.GET("/proxy/status", health.Status, secure)

	if cfg.Metrics.Enabled && m != nil {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})), secure)
	}

	e.Any("/*", fwd.Handle, middleware.StripHopByHop())
}
