// Package relay implements the streaming pass-through at the heart of the
// probe: it opens a streaming HTTP call against an upstream, forwards raw
// body bytes downstream chunk-by-chunk without buffering, and degrades into
// a single in-band SSE error event when the upstream fails at any stage.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"sse-relay-go/internal/client"
	"sse-relay-go/internal/config"
	"sse-relay-go/internal/metrics"
	"sse-relay-go/internal/model"
)

// chunkSize bounds how much of the upstream body is held at once. The pump
// never accumulates more than one chunk before handing it downstream.
const chunkSize = 4 * 1024

// lookupBodyLimit caps how much of a lookup response body is read into
// memory. Workflow results are small JSON documents; anything larger is a
// misbehaving upstream.
const lookupBodyLimit = 4 << 20

// Relay forwards streaming upstream responses to downstream consumers.
// It holds no per-request state; one Relay serves arbitrarily many
// concurrent invocations over the shared client pool.
type Relay struct {
	client        *client.UpstreamClient
	streamTimeout time.Duration
	lookupTimeout time.Duration
	logger        *slog.Logger
	metrics       *metrics.Metrics
}

// New creates a Relay. The metrics parameter is optional; pass nil to
// disable outcome recording.
func New(c *client.UpstreamClient, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *Relay {
	return &Relay{
		client:        c,
		streamTimeout: time.Duration(cfg.Upstream.StreamTimeoutSeconds) * time.Second,
		lookupTimeout: time.Duration(cfg.Upstream.LookupTimeoutSeconds) * time.Second,
		logger:        logger.With("component", "relay"),
		metrics:       m,
	}
}

// Stream is an open upstream streaming response. Status code and captured
// headers are fixed when Open returns, before any body byte has been read,
// so the caller can mirror them onto its own response headers first and
// only then start pumping the body.
type Stream struct {
	StatusCode       int
	ContentType      string
	ContentEncoding  string
	TransferEncoding []string

	body   io.ReadCloser
	cancel context.CancelFunc
}

// Close releases the upstream connection and the invocation's deadline timer.
// Safe to call after a mid-stream failure.
func (s *Stream) Close() error {
	defer s.cancel()
	return s.body.Close()
}

// Sink receives forwarded chunks. Flush is invoked after every write so that
// no intermediary between the relay and the consumer can sit on a chunk.
// *echo.Response satisfies this directly.
type Sink interface {
	io.Writer
	Flush()
}

// Open starts a streaming POST against target, forwarding payload verbatim
// as the JSON request body. The outbound Accept header requests the
// event-stream media type explicitly: intermediaries on the invocation path
// may otherwise buffer the full response before replying, which is exactly
// the failure mode this probe exists to expose.
//
// The invocation is bounded by a single overall wall-clock deadline (the
// configured stream timeout); there are no per-chunk timers and no retries.
// On failure the caller classifies the returned error with Classify.
func (r *Relay) Open(ctx context.Context, target string, payload []byte) (*Stream, error) {
	ctx, cancel := context.WithTimeout(ctx, r.streamTimeout)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := r.client.Do(req)
	if err != nil {
		cancel()
		return nil, err
	}

	r.logger.Info("upstream stream opened",
		"target", target,
		"status", resp.StatusCode,
		"content_type", resp.Header.Get("Content-Type"),
		"content_encoding", resp.Header.Get("Content-Encoding"),
		"transfer_encoding", resp.TransferEncoding,
	)

	return &Stream{
		StatusCode:       resp.StatusCode,
		ContentType:      resp.Header.Get("Content-Type"),
		ContentEncoding:  resp.Header.Get("Content-Encoding"),
		TransferEncoding: resp.TransferEncoding,
		body:             resp.Body,
		cancel:           cancel,
	}, nil
}

// Pump copies the stream to sink in lock-step: read one chunk, write it,
// flush, and only then read the next. Bytes pass through untouched, so any
// upstream compression is preserved.
//
// On clean upstream EOF it returns nil and the output terminates with no
// trailing marker. On a mid-stream failure it writes exactly one terminal
// error event (the last item the consumer sees) and returns it. If the
// downstream write itself fails the consumer is gone, so nothing further is
// emitted and nil is returned.
func (r *Relay) Pump(s *Stream, sink Sink) *Event {
	buf := make([]byte, chunkSize)
	chunks := 0

	for {
		n, readErr := s.body.Read(buf)
		if n > 0 {
			if _, writeErr := sink.Write(buf[:n]); writeErr != nil {
				r.logger.Warn("downstream write failed, aborting relay",
					"err", writeErr,
					"chunks_forwarded", chunks,
				)
				r.observeOutcome("downstream_gone")
				return nil
			}
			sink.Flush()
			chunks++
			if r.metrics != nil {
				r.metrics.ChunksForwarded.Inc()
			}
		}

		if readErr == io.EOF {
			r.logger.Info("stream complete", "chunks_forwarded", chunks)
			r.observeOutcome("completed")
			return nil
		}
		if readErr != nil {
			ev := Classify(readErr)
			r.logger.Error("upstream stream failed",
				"err", readErr,
				"kind", string(ev.Kind),
				"chunks_forwarded", chunks,
			)
			if _, writeErr := sink.Write(ev.SSE()); writeErr == nil {
				sink.Flush()
			}
			r.observeOutcome(string(ev.Kind))
			return &ev
		}
	}
}

// Fetch performs the bounded non-streaming GET used to poll a finished
// result by identifier. The upstream status and body are returned verbatim
// on success; failures are mapped onto the same taxonomy as the streaming
// path, surfaced as a synthesized status code and JSON error body rather
// than an in-band event.
func (r *Relay) Fetch(ctx context.Context, target string) *model.LookupResult {
	ctx, cancel := context.WithTimeout(ctx, r.lookupTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, http.NoBody)
	if err != nil {
		return r.lookupFailure(target, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return r.lookupFailure(target, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, lookupBodyLimit))
	if err != nil {
		return r.lookupFailure(target, err)
	}

	r.observeOutcome("completed")
	return &model.LookupResult{StatusCode: resp.StatusCode, Body: body}
}

func (r *Relay) lookupFailure(target string, err error) *model.LookupResult {
	ev := Classify(err)
	r.logger.Error("lookup failed",
		"target", target,
		"err", err,
		"kind", string(ev.Kind),
	)
	r.observeOutcome(string(ev.Kind))

	body, merr := json.Marshal(map[string]string{"error": ev.Message})
	if merr != nil {
		body = []byte(`{"error":"internal error"}`)
	}
	return &model.LookupResult{StatusCode: ev.HTTPStatus(), Body: body}
}

func (r *Relay) observeOutcome(outcome string) {
	if r.metrics != nil {
		r.metrics.RelayOutcomes.WithLabelValues(outcome).Inc()
	}
}
