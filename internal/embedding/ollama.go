package embedding

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hyperjump/kaiwa/internal/apiclient"
	"github.com/hyperjump/kaiwa/pkg/utils"
	"go.uber.org/zap"
)

const (
	DefaultOllamaBaseURL = "http://localhost:11434"
	DefaultOllamaModel   = "nomic-embed-text"
)

// OllamaConfig configures a locally hosted Ollama server.
type OllamaConfig struct {
	BaseURL    string
	Model      string
	Dimensions int
	Timeout    time.Duration
	MaxRetries int
	Logger     *zap.Logger
}

// OllamaEmbedder calls POST {base}/api/embed.
type OllamaEmbedder struct {
	client     *apiclient.Client
	url        string
	model      string
	dimensions int
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
}

// NewOllamaEmbedder returns an embedder backed by an Ollama server.
func NewOllamaEmbedder(cfg OllamaConfig) *OllamaEmbedder {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOllamaBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOllamaModel
	}
	if cfg.Dimensions == 0 {
		cfg.Dimensions = 768
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &OllamaEmbedder{
		client:     apiclient.New(cfg.Timeout, apiclient.WithMaxRetries(cfg.MaxRetries), apiclient.WithLogger(cfg.Logger)),
		url:        strings.TrimRight(cfg.BaseURL, "/") + "/api/embed",
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
	}
}

// Embed embeds a single text.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in one request.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	var resp ollamaEmbedResponse
	if err := e.client.PostJSON(ctx, e.url, ollamaEmbedRequest{Model: e.model, Input: texts}, &resp); err != nil {
		return nil, fmt.Errorf("ollama embed: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, errCount(len(texts), len(resp.Embeddings))
	}
	out := make([][]float32, len(texts))
	for i, v := range resp.Embeddings {
		out[i] = utils.ToFloat32(v)
	}
	if err := checkVectors(out, e.dimensions); err != nil {
		return nil, err
	}
	return out, nil
}

// Dimensions returns the embedding dimension.
func (e *OllamaEmbedder) Dimensions() int { return e.dimensions }

// Close is a no-op.
func (e *OllamaEmbedder) Close() error { return nil }
