package handler

import (
	"log/slog"
	"net/url"

	"github.com/labstack/echo/v4"

	"sse-relay-go/internal/config"
	"sse-relay-go/internal/relay"
)

// LookupHandler serves workflow result polling, the long-poll fallback used
// when streaming through the sidecar is unavailable.
type LookupHandler struct {
	relay  *relay.Relay
	cfg    *config.Config
	logger *slog.Logger
}

// NewLookupHandler creates a LookupHandler.
func NewLookupHandler(r *relay.Relay, cfg *config.Config, logger *slog.Logger) *LookupHandler {
	return &LookupHandler{
		relay:  r,
		cfg:    cfg,
		logger: logger.With("component", "lookup_handler"),
	}
}

// Handle fetches a workflow result by identifier through the sidecar and
// returns the upstream status and JSON body verbatim. Transport failures map
// to 504/502/500 with a JSON error body.
func (h *LookupHandler) Handle(c echo.Context) error {
	id := c.Param("id")

	target := h.cfg.Upstream.InvokeURL(h.cfg.Upstream.LookupMethod) + "/" + url.PathEscape(id)

	h.logger.Info("relaying workflow lookup", "workflow_id", id)

	res := h.relay.Fetch(c.Request().Context(), target)
	return c.JSONBlob(res.StatusCode, res.Body)
}
