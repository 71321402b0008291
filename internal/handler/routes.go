package handler

import (
	"github.com/labstack/echo/v4"
)

// RegisterRoutes wires all route handlers onto the Echo instance.
func RegisterRoutes(e *echo.Echo, stream *StreamHandler, lookup *LookupHandler, health *HealthHandler) {
	e.GET("/", health.Root)
	e.GET("/healthz", health.Healthz)
	e.GET("/proxy/status", health.Status)

	e.POST("/stream", stream.Invoke)
	e.POST("/stream/direct", stream.Direct)
	e.GET("/workflow/:id", lookup.Handle)
}
