package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"sse-relay-go/internal/config"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves the service descriptor, health and status endpoints.
type HealthHandler struct {
	cfg     *config.Config
	version Version
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, v Version) *HealthHandler {
	return &HealthHandler{cfg: cfg, version: v}
}

// Root describes the service and its endpoints.
func (h *HealthHandler) Root(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"service":     "sse-relay",
		"description": "Relays SSE requests to test the sidecar's streaming capabilities",
		"endpoints": map[string]string{
			"/stream":        "POST - Relay SSE via sidecar service invocation (exposes buffering issues)",
			"/stream/direct": "POST - Relay SSE directly to the application (proves the relay streams)",
			"/workflow/{id}": "GET - Retrieve workflow results via the sidecar (long-poll fallback)",
		},
	})
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

// Status returns relay status information.
func (h *HealthHandler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":          "ok",
		"version":         string(h.version),
		"invoke_base_url": h.cfg.Upstream.InvokeBaseURL,
		"direct_base_url": h.cfg.Upstream.DirectBaseURL,
	})
}
