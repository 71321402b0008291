package embedding

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"sse-relay-go/internal/activity"
	"sse-relay-go/internal/config"
)

// ActivityName is the stable key the activity is registered under with the
// workflow engine.
const ActivityName = "generate_embeddings"

// NewGenerateEmbeddings builds the generate-embeddings activity function.
// The model cache guarantees the backend loads each model once; the sandbag
// delay is honored only when the deployment explicitly allows it.
func NewGenerateEmbeddings(p Provider, cache *ModelCache, cfg *config.Config, logger *slog.Logger) activity.Func {
	allowSandbag := cfg.Embedding.AllowSandbag
	log := logger.With("component", "generate_embeddings")

	return func(ctx context.Context, input json.RawMessage) (any, error) {
		start := time.Now()

		var req Request
		if err := json.Unmarshal(input, &req); err != nil {
			return nil, fmt.Errorf("decode embedding request: %w", err)
		}

		normalize := true
		if req.Normalize != nil {
			normalize = *req.Normalize
		}

		if len(req.Texts) == 0 {
			log.Warn("empty text list provided")
			return &Response{
				Embeddings: [][]float64{},
				ModelName:  modelOrDefault(req.ModelName, cfg),
				Device:     "none",
			}, nil
		}

		if req.SandbagSeconds > 0 {
			if !allowSandbag {
				log.Warn("sandbag delay requested but not allowed; ignoring",
					"sandbag_seconds", req.SandbagSeconds,
				)
			} else {
				log.Info("sandbagging", "sandbag_seconds", req.SandbagSeconds)
				select {
				case <-time.After(time.Duration(req.SandbagSeconds) * time.Second):
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			}
		}

		model, err := cache.Get(ctx, req.ModelName)
		if err != nil {
			return nil, err
		}

		res, err := p.CreateEmbeddings(ctx, model.Name, req.Texts, normalize)
		if err != nil {
			return nil, fmt.Errorf("create embeddings: %w", err)
		}

		elapsed := float64(time.Since(start).Microseconds()) / 1000.0
		log.Info("embeddings generated",
			"model", model.Name,
			"num_texts", len(req.Texts),
			"dimension", res.Dimension,
			"processing_time_ms", elapsed,
		)

		return &Response{
			Embeddings:       res.Embeddings,
			ModelName:        model.Name,
			Device:           res.Device,
			Dimension:        res.Dimension,
			ProcessingTimeMS: elapsed,
			NumTexts:         len(req.Texts),
		}, nil
	}
}

func modelOrDefault(name string, cfg *config.Config) string {
	if name != "" {
		return name
	}
	return cfg.Embedding.DefaultModel
}
