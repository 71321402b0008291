package handler

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"sse-relay-go/internal/config"
	"sse-relay-go/internal/relay"
)

// StreamHandler relays streaming requests to the upstream, either through
// the sidecar's service-invocation layer or directly to the application.
type StreamHandler struct {
	relay  *relay.Relay
	cfg    *config.Config
	logger *slog.Logger
}

// NewStreamHandler creates a StreamHandler.
func NewStreamHandler(r *relay.Relay, cfg *config.Config, logger *slog.Logger) *StreamHandler {
	return &StreamHandler{
		relay:  r,
		cfg:    cfg,
		logger: logger.With("component", "stream_handler"),
	}
}

// Invoke relays through the sidecar's service-invocation endpoint. This is
// the path under test: a sidecar that buffers the response defeats streaming.
func (h *StreamHandler) Invoke(c echo.Context) error {
	return h.handle(c, h.cfg.Upstream.InvokeURL(h.cfg.Upstream.StreamMethod), "invoke")
}

// Direct relays straight to the application endpoint, bypassing the sidecar.
// A working direct path with a broken invoke path isolates the buffering to
// the sidecar's invocation layer.
func (h *StreamHandler) Direct(c echo.Context) error {
	return h.handle(c, h.cfg.Upstream.DirectURL(h.cfg.Upstream.StreamMethod), "direct")
}

func (h *StreamHandler) handle(c echo.Context, target, route string) error {
	req := c.Request()

	// The payload is forwarded verbatim; it is decoded only to pull out the
	// free-form query field for the request log.
	payload, err := io.ReadAll(req.Body)
	if err != nil {
		return h.failBeforeStream(c, err)
	}
	var probe struct {
		Query string `json:"query"`
	}
	_ = json.Unmarshal(payload, &probe)

	h.logger.Info("relaying stream request",
		"route", route,
		"target", target,
		"query", probe.Query,
	)

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")
	// Tells nginx-class intermediaries not to buffer the response body.
	res.Header().Set("X-Accel-Buffering", "no")

	s, err := h.relay.Open(req.Context(), target, payload)
	if err != nil {
		return h.failBeforeStream(c, err)
	}
	defer func() { _ = s.Close() }()

	// Headers are fixed before the first body byte, so the captured upstream
	// encoding can be mirrored here and downstream consumers can decode the
	// pass-through bytes.
	if s.ContentEncoding != "" {
		res.Header().Set(echo.HeaderContentEncoding, s.ContentEncoding)
	}
	res.WriteHeader(s.StatusCode)

	h.relay.Pump(s, res)
	return nil
}

// failBeforeStream is the error path taken before any upstream byte has been
// forwarded: the response still goes out as a 200 event stream carrying
// exactly one terminal error event, so SSE consumers see a uniform shape for
// every failure class.
func (h *StreamHandler) failBeforeStream(c echo.Context, err error) error {
	ev := relay.Classify(err)
	h.logger.Error("stream relay failed before first byte",
		"err", err,
		"kind", string(ev.Kind),
	)

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")
	res.Header().Set("X-Accel-Buffering", "no")
	res.WriteHeader(http.StatusOK)

	if _, werr := res.Write(ev.SSE()); werr == nil {
		res.Flush()
	}
	return nil
}
