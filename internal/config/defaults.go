package config

import "time"

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
		if cfg.Debug {
			cfg.LogLevel = "debug"
		}
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.MaxUploadBytes == 0 {
		cfg.Server.MaxUploadBytes = 64 << 20
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = 10 * time.Minute
	}

	if cfg.Extraction.OnError == "" {
		cfg.Extraction.OnError = OnErrorSkip
	}

	if cfg.Chunking.ChunkSize == 0 {
		cfg.Chunking.ChunkSize = 1000
	}
	if cfg.Chunking.ChunkOverlap == nil {
		o := 200
		cfg.Chunking.ChunkOverlap = &o
	}
	if cfg.Chunking.Boundary == nil {
		sep := "\n"
		cfg.Chunking.Boundary = &sep
	}

	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "mock"
	}
	if cfg.Embedding.APIKeyEnv == "" && cfg.Embedding.Provider == "openai" {
		cfg.Embedding.APIKeyEnv = "OPENAI_API_KEY"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = defaultEmbeddingDimensions(cfg.Embedding.Provider)
	}
	if cfg.Embedding.BatchSize == 0 {
		cfg.Embedding.BatchSize = 64
	}
	if cfg.Embedding.Concurrency == 0 {
		cfg.Embedding.Concurrency = 4
	}
	if cfg.Embedding.MaxRetries == 0 {
		cfg.Embedding.MaxRetries = 3
	}
	if cfg.Embedding.Timeout == 0 {
		cfg.Embedding.Timeout = 30 * time.Second
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}

	if cfg.Generation.Provider == "" {
		cfg.Generation.Provider = "echo"
	}
	if cfg.Generation.APIKeyEnv == "" {
		switch cfg.Generation.Provider {
		case "openai":
			cfg.Generation.APIKeyEnv = "OPENAI_API_KEY"
		case "anthropic":
			cfg.Generation.APIKeyEnv = "ANTHROPIC_API_KEY"
		}
	}
	if cfg.Generation.MaxTokens == 0 {
		cfg.Generation.MaxTokens = 1024
	}
	if cfg.Generation.MaxRetries == 0 {
		cfg.Generation.MaxRetries = 2
	}
	if cfg.Generation.Timeout == 0 {
		cfg.Generation.Timeout = 120 * time.Second
	}

	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = 4
	}
	if cfg.Retrieval.Metric == "" {
		cfg.Retrieval.Metric = "cosine"
	}
	if cfg.Retrieval.Mode == "" {
		cfg.Retrieval.Mode = ModeVector
	}
	if cfg.Retrieval.KeywordWeight == 0 && cfg.Retrieval.SemanticWeight == 0 {
		cfg.Retrieval.KeywordWeight = 0.3
		cfg.Retrieval.SemanticWeight = 0.7
	}

	if cfg.Session.ProcessTimeout == 0 {
		cfg.Session.ProcessTimeout = 10 * time.Minute
	}
	if cfg.Session.AskTimeout == 0 {
		cfg.Session.AskTimeout = 2 * time.Minute
	}
	if cfg.Session.MaxSessions == 0 {
		cfg.Session.MaxSessions = 100
	}
	if cfg.Session.IdleTTL == 0 {
		cfg.Session.IdleTTL = time.Hour
	}

	if cfg.Watch.Debounce == 0 {
		cfg.Watch.Debounce = 400 * time.Millisecond
	}
}

func defaultEmbeddingDimensions(provider string) int {
	switch provider {
	case "openai":
		return 1536
	case "ollama":
		return 768
	default:
		return 384
	}
}
