// Package client provides the pooled HTTP client for upstream calls.
package client

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"sse-relay-go/internal/config"
	"sse-relay-go/internal/metrics"
)

// UpstreamClient sends requests to the sidecar and direct application endpoints.
// It carries no per-call deadline of its own; callers bound each request with
// a context so that streaming and lookup calls can use different timeouts
// while sharing one connection pool.
type UpstreamClient struct {
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewUpstreamClient creates an UpstreamClient with connection pooling.
// The metrics parameter is optional; pass nil to disable upstream metrics recording.
func NewUpstreamClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *UpstreamClient {
	transport := &http.Transport{
		MaxIdleConns:        cfg.Upstream.IdleConnections,
		MaxIdleConnsPerHost: cfg.Upstream.IdleConnections,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		// Compressed upstream bodies must pass through byte-for-byte; letting
		// the transport decompress would strip Content-Encoding and re-frame
		// the stream.
		DisableCompression: true,
	}

	return &UpstreamClient{
		httpClient: &http.Client{Transport: transport},
		logger:     logger.With("component", "upstream_client"),
		metrics:    m,
	}
}

// Do executes an HTTP request against the upstream and returns the raw response.
// The caller is responsible for closing the response body. The request context
// controls the lifetime of the call: when it is canceled (client disconnect,
// overall deadline), the upstream exchange is torn down.
func (c *UpstreamClient) Do(req *http.Request) (*http.Response, error) {
	c.logger.Debug("upstream request",
		"method", req.Method,
		"url", req.URL.String(),
	)

	start := time.Now()
	resp, err := c.httpClient.Do(req) //nolint:bodyclose // body ownership transfers to caller
	duration := time.Since(start).Seconds()

	method := metrics.NormalizeMethod(req.Method)

	if err != nil {
		if c.metrics != nil {
			c.metrics.UpstreamDuration.WithLabelValues(method).Observe(duration)
		}
		return nil, fmt.Errorf("upstream request: %w", err)
	}

	if c.metrics != nil {
		status := strconv.Itoa(resp.StatusCode)
		c.metrics.UpstreamDuration.WithLabelValues(method).Observe(duration)
		c.metrics.UpstreamResponses.WithLabelValues(method, status).Inc()
	}

	return resp, nil
}
