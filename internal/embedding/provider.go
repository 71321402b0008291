package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"sse-relay-go/internal/config"
)

// Provider generates embeddings against a model-serving backend. The backend
// is a black box; implementations only need to honor the contract that the
// named model is loaded server-side on first use and reused afterwards.
type Provider interface {
	CreateEmbeddings(ctx context.Context, model string, texts []string, normalize bool) (*BackendResult, error)
}

// BackendResult is the backend's answer to one embedding call.
type BackendResult struct {
	Embeddings [][]float64 `json:"embeddings"`
	Device     string      `json:"device"`
	Dimension  int         `json:"dimension"`
}

// HTTPProvider talks to the model-serving backend over HTTP with a JSON body
// and optional bearer-token auth.
type HTTPProvider struct {
	endpoint     string
	serviceToken string
	httpClient   *http.Client
	logger       *slog.Logger
}

// NewHTTPProvider creates an HTTPProvider from the embedding config section.
func NewHTTPProvider(cfg *config.Config, logger *slog.Logger) *HTTPProvider {
	return &HTTPProvider{
		endpoint:     strings.TrimRight(cfg.Embedding.BackendURL, "/") + "/embed",
		serviceToken: cfg.Embedding.ServiceToken,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.Embedding.HTTPTimeoutSeconds) * time.Second,
		},
		logger: logger.With("component", "embedding_provider"),
	}
}

type embedRequest struct {
	Model     string   `json:"model"`
	Texts     []string `json:"texts"`
	Normalize bool     `json:"normalize"`
}

// CreateEmbeddings executes one embedding call for the given model and texts.
func (p *HTTPProvider) CreateEmbeddings(ctx context.Context, model string, texts []string, normalize bool) (*BackendResult, error) {
	var out BackendResult
	if err := p.postJSON(ctx, p.endpoint, embedRequest{Model: model, Texts: texts, Normalize: normalize}, &out); err != nil {
		return nil, err
	}

	if len(out.Embeddings) != len(texts) {
		return nil, fmt.Errorf("backend returned %d embeddings for %d texts", len(out.Embeddings), len(texts))
	}
	if out.Dimension == 0 && len(out.Embeddings) > 0 {
		out.Dimension = len(out.Embeddings[0])
	}
	return &out, nil
}

// postJSON sends an HTTP POST to the backend, marshaling body as JSON and
// decoding the response into out. Non-2xx statuses are errors.
func (p *HTTPProvider) postJSON(ctx context.Context, url string, body any, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.serviceToken != "" {
		req.Header.Set("Authorization", "Bearer "+p.serviceToken)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http error: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("http %d for %s", resp.StatusCode, url)
	}

	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
