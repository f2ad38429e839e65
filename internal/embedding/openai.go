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
	DefaultOpenAIBaseURL = "https://api.openai.com/v1"
	DefaultOpenAIModel   = "text-embedding-3-small"
)

var openAIModelDimensions = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

// OpenAIConfig configures an OpenAI-compatible embeddings endpoint.
type OpenAIConfig struct {
	BaseURL           string
	APIKey            string
	Model             string
	Dimensions        int
	Timeout           time.Duration
	MaxRetries        int
	RequestsPerSecond float64
	Logger            *zap.Logger
}

// OpenAIEmbedder calls POST {base}/embeddings.
type OpenAIEmbedder struct {
	client     *apiclient.Client
	url        string
	model      string
	dimensions int
	// sendDimensions is set for models that accept a reduced output size.
	sendDimensions bool
}

type openAIEmbedRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type openAIEmbedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

// NewOpenAIEmbedder returns an embedder for the OpenAI embeddings API or a compatible server.
func NewOpenAIEmbedder(cfg OpenAIConfig) (*OpenAIEmbedder, error) {
	if cfg.APIKey == "" && (cfg.BaseURL == "" || cfg.BaseURL == DefaultOpenAIBaseURL) {
		return nil, fmt.Errorf("openai embedder: API key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOpenAIBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}
	dims := cfg.Dimensions
	if dims == 0 {
		dims = openAIModelDimensions[cfg.Model]
	}
	if dims == 0 {
		return nil, fmt.Errorf("openai embedder: dimensions unknown for model %q", cfg.Model)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &OpenAIEmbedder{
		client: apiclient.New(cfg.Timeout,
			apiclient.WithBearer(cfg.APIKey),
			apiclient.WithMaxRetries(cfg.MaxRetries),
			apiclient.WithRateLimit(cfg.RequestsPerSecond),
			apiclient.WithLogger(cfg.Logger),
		),
		url:            strings.TrimRight(cfg.BaseURL, "/") + "/embeddings",
		model:          cfg.Model,
		dimensions:     dims,
		sendDimensions: strings.HasPrefix(cfg.Model, "text-embedding-3"),
	}, nil
}

// Embed embeds a single text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in one request. Results are ordered by the index field of the response.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	req := openAIEmbedRequest{Model: e.model, Input: texts}
	if e.sendDimensions {
		req.Dimensions = e.dimensions
	}
	var resp openAIEmbedResponse
	if err := e.client.PostJSON(ctx, e.url, req, &resp); err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, errCount(len(texts), len(resp.Data))
	}
	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) || out[d.Index] != nil {
			return nil, fmt.Errorf("openai embeddings: invalid index %d", d.Index)
		}
		out[d.Index] = utils.ToFloat32(d.Embedding)
	}
	if err := checkVectors(out, e.dimensions); err != nil {
		return nil, err
	}
	return out, nil
}

// Dimensions returns the embedding dimension.
func (e *OpenAIEmbedder) Dimensions() int { return e.dimensions }

// Close is a no-op.
func (e *OpenAIEmbedder) Close() error { return nil }

// checkVectors rejects empty vectors and vectors of the wrong size.
func checkVectors(vecs [][]float32, dims int) error {
	for i, v := range vecs {
		if len(v) == 0 {
			return fmt.Errorf("empty embedding at position %d", i)
		}
		if len(v) != dims {
			return fmt.Errorf("embedding at position %d has %d dimensions, expected %d", i, len(v), dims)
		}
	}
	return nil
}
