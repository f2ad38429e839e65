// Package embedding maps text to fixed-dimension vectors. Providers are
// remote APIs (OpenAI, Ollama), a local ONNX model, or a deterministic mock.
package embedding

import "context"

// Embedder produces vector embeddings for text. Every vector returned by one
// Embedder has Dimensions() entries, and the same text always yields the
// same vector for a fixed provider and model.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Close() error
}
