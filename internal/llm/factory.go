package llm

import (
	"fmt"
	"os"

	"github.com/hyperjump/kaiwa/internal/config"
	"go.uber.org/zap"
)

// New builds the generator selected by cfg.Provider. API keys are read from
// the environment variable named by cfg.APIKeyEnv.
func New(cfg *config.GenerationConfig, logger *zap.Logger) (Generator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := Config{
		BaseURL:    cfg.BaseURL,
		Model:      cfg.Model,
		Timeout:    cfg.Timeout,
		MaxRetries: cfg.MaxRetries,
		Logger:     logger,
	}
	if cfg.APIKeyEnv != "" {
		c.APIKey = os.Getenv(cfg.APIKeyEnv)
	}
	var (
		g   Generator
		err error
	)
	switch cfg.Provider {
	case "openai":
		g, err = NewOpenAI(c)
	case "anthropic":
		g, err = NewAnthropic(c)
	case "ollama":
		g = NewOllama(c)
	case "echo":
		g = Echo{}
	default:
		return nil, fmt.Errorf("unknown generation provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	logger.Info("generation provider ready", zap.String("provider", cfg.Provider), zap.String("model", g.Model()))
	return g, nil
}
