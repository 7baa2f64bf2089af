package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"target-forwarder/internal/config"
	"target-forwarder/internal/service"
)

// Version is a string type for dependency injection of the build version.
type Version string

// statusResponse is the body of the status endpoint.
type statusResponse struct {
	Status         string   `json:"status"`
	Version        string   `json:"version"`
	Strategy       string   `json:"strategy"`
	TargetParam    string   `json:"target_param,omitempty"`
	TargetHost     string   `json:"target_host,omitempty"`
	AllowedTargets int      `json:"allowed_targets"`
	HeadersRemoved []string `json:"headers_removed"`
}

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	cfg     *config.Config
	service *service.ForwardService
	version Version
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, svc *service.ForwardService, v Version) *HealthHandler {
	return &HealthHandler{cfg: cfg, service: svc, version: v}
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Status reports the active forwarding mode. An allowed_targets count of 0
// means every target host is accepted.
func (h *HealthHandler) Status(c echo.Context) error {
	resp := statusResponse{
		Status:         "ok",
		Version:        string(h.version),
		Strategy:       h.service.Strategy(),
		TargetHost:     h.cfg.Forward.TargetHost,
		AllowedTargets: h.service.AllowlistSize(),
		HeadersRemoved: h.service.RemovedHeaders(),
	}
	if resp.TargetHost == "" {
		resp.TargetParam = h.service.TargetParam()
	}
	return c.JSON(http.StatusOK, resp)
}
