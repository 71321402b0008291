package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"sse-relay-go/internal/config"
)

// Model is a warmed handle for one backend-side model: the backend has
// loaded it and reported its properties.
type Model struct {
	Name      string
	Device    string
	Dimension int
}

// warmupText is the probe sent on first use of a model so the backend loads
// it and reports device and dimension.
const warmupText = "warmup"

// ModelCache provides load-once, reuse-forever model handles. Concurrent
// first requests for the same model collapse into a single backend warmup
// via singleflight; loaded handles are never evicted.
type ModelCache struct {
	provider     Provider
	defaultModel string
	logger       *slog.Logger

	mu     sync.RWMutex
	models map[string]*Model
	sf     singleflight.Group
}

// NewModelCache creates a ModelCache backed by the given provider.
func NewModelCache(p Provider, cfg *config.Config, logger *slog.Logger) *ModelCache {
	return &ModelCache{
		provider:     p,
		defaultModel: cfg.Embedding.DefaultModel,
		logger:       logger.With("component", "model_cache"),
		models:       make(map[string]*Model),
	}
}

// Get returns the handle for name, loading it on first use. An empty name
// selects the configured default model.
func (c *ModelCache) Get(ctx context.Context, name string) (*Model, error) {
	if name == "" {
		name = c.defaultModel
	}

	c.mu.RLock()
	m, ok := c.models[name]
	c.mu.RUnlock()
	if ok {
		c.logger.Debug("using cached model", "model", name)
		return m, nil
	}

	v, err, _ := c.sf.Do(name, func() (any, error) {
		// Another caller may have finished loading between the read lock
		// and entering the flight.
		c.mu.RLock()
		m, ok := c.models[name]
		c.mu.RUnlock()
		if ok {
			return m, nil
		}

		c.logger.Info("loading model", "model", name)
		start := time.Now()

		// The flight's outcome is shared by every collapsed waiter, so the
		// warmup must not die with the initiating caller's context.
		res, err := c.provider.CreateEmbeddings(context.WithoutCancel(ctx), name, []string{warmupText}, true)
		if err != nil {
			return nil, fmt.Errorf("load model %s: %w", name, err)
		}

		m = &Model{Name: name, Device: res.Device, Dimension: res.Dimension}

		c.mu.Lock()
		c.models[name] = m
		c.mu.Unlock()

		c.logger.Info("model loaded",
			"model", name,
			"device", m.Device,
			"dimension", m.Dimension,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return m, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Model), nil
}

// Loaded reports whether name is already in the cache.
func (c *ModelCache) Loaded(name string) bool {
	if name == "" {
		name = c.defaultModel
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.models[name]
	return ok
}
