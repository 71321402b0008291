// Package embedding implements the generate-embeddings workflow activity:
// an HTTP client for the model-serving backend, a load-once model cache,
// and the activity function registered with the workflow engine.
package embedding

// Request is the input payload for the generate-embeddings activity.
type Request struct {
	Texts []string `json:"texts"`
	// Normalize defaults to true when omitted.
	Normalize *bool  `json:"normalize,omitempty"`
	ModelName string `json:"model_name,omitempty"`
	// SandbagSeconds injects an artificial processing delay. Used only to
	// simulate slow backends in testing; honored only when the deployment
	// enables embedding.allow_sandbag.
	SandbagSeconds int `json:"sandbag_seconds,omitempty"`
}

// Response carries the embeddings and performance metadata.
type Response struct {
	Embeddings       [][]float64 `json:"embeddings"`
	ModelName        string      `json:"model_name"`
	Device           string      `json:"device"`
	Dimension        int         `json:"dimension"`
	ProcessingTimeMS float64     `json:"processing_time_ms"`
	NumTexts         int         `json:"num_texts"`
}
