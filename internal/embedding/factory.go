package embedding

import (
	"fmt"
	"os"

	"github.com/hyperjump/kaiwa/internal/config"
	"go.uber.org/zap"
)

// New builds the embedder selected by cfg.Provider, wrapped with the LRU
// cache and batch splitting configured in cfg.
func New(cfg *config.EmbeddingConfig, logger *zap.Logger) (Embedder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var base Embedder
	switch cfg.Provider {
	case "openai":
		e, err := NewOpenAIEmbedder(OpenAIConfig{
			BaseURL:           cfg.BaseURL,
			APIKey:            os.Getenv(cfg.APIKeyEnv),
			Model:             cfg.Model,
			Dimensions:        cfg.Dimensions,
			Timeout:           cfg.Timeout,
			MaxRetries:        cfg.MaxRetries,
			RequestsPerSecond: cfg.RequestsPerSecond,
			Logger:            logger,
		})
		if err != nil {
			return nil, err
		}
		base = e
	case "ollama":
		base = NewOllamaEmbedder(OllamaConfig{
			BaseURL:    cfg.BaseURL,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			Timeout:    cfg.Timeout,
			MaxRetries: cfg.MaxRetries,
			Logger:     logger,
		})
	case "onnx":
		e, err := NewONNXEmbedder(cfg.ModelPath, cfg.Dimensions, cfg.MaxTokens)
		if err != nil {
			return nil, err
		}
		base = e
	case "mock":
		base = NewMockEmbedder(cfg.Dimensions)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
	logger.Info("embedding provider ready", zap.String("provider", cfg.Provider), zap.String("model", cfg.Model), zap.Int("dimensions", base.Dimensions()))

	var e Embedder = base
	if cfg.CacheSize > 0 {
		e = NewCachedEmbedder(e, cfg.CacheSize)
	}
	if cfg.BatchSize > 0 {
		e = NewBatchingEmbedder(e, cfg.BatchSize, cfg.Concurrency)
	}
	return e, nil
}
