// Package config provides configuration loading and structs for kaiwa.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug      bool             `yaml:"debug"`
	LogLevel   string           `yaml:"log_level"`
	Server     ServerConfig     `yaml:"server"`
	Extraction ExtractionConfig `yaml:"extraction"`
	Chunking   ChunkingConfig   `yaml:"chunking"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Generation GenerationConfig `yaml:"generation"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Session    SessionConfig    `yaml:"session"`
	Storage    StorageConfig    `yaml:"storage"`
	Watch      WatchConfig      `yaml:"watch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	MaxUploadBytes int64         `yaml:"max_upload_bytes"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// Extraction failure policies.
const (
	OnErrorSkip  = "skip"
	OnErrorAbort = "abort"
)

// ExtractionConfig controls how documents become text.
type ExtractionConfig struct {
	// PageSeparator is placed between pages and between documents. Nil means
	// the default newline; an explicit empty string concatenates pages directly.
	PageSeparator *string `yaml:"page_separator"`
	// OnError is "skip" (report the document and continue) or "abort".
	OnError string `yaml:"on_error"`
	// NormalizeWhitespace collapses runs of spaces and blank lines before chunking.
	NormalizeWhitespace bool `yaml:"normalize_whitespace"`
}

// Separator returns the configured page separator.
func (e *ExtractionConfig) Separator() string {
	if e.PageSeparator != nil {
		return *e.PageSeparator
	}
	return "\n"
}

// ChunkingConfig holds chunker settings. Sizes are in characters.
type ChunkingConfig struct {
	ChunkSize    int  `yaml:"chunk_size"`
	ChunkOverlap *int `yaml:"chunk_overlap"`
	// Boundary is the preferred cut character. Nil means newline; an explicit
	// empty string disables boundary search so chunks are cut at full size.
	Boundary *string `yaml:"separator"`
}

// Separator returns the configured boundary character, or "" for hard cuts.
func (c *ChunkingConfig) Separator() string {
	if c.Boundary != nil {
		return *c.Boundary
	}
	return "\n"
}

// Overlap returns the configured overlap, defaulting to 200 when unset.
func (c *ChunkingConfig) Overlap() int {
	if c.ChunkOverlap != nil {
		return *c.ChunkOverlap
	}
	return 200
}

// EmbeddingConfig selects and configures the embedding provider.
type EmbeddingConfig struct {
	Provider          string        `yaml:"provider"` // openai, ollama, onnx, mock
	Model             string        `yaml:"model"`
	BaseURL           string        `yaml:"base_url"`
	APIKeyEnv         string        `yaml:"api_key_env"`
	Dimensions        int           `yaml:"dimensions"`
	BatchSize         int           `yaml:"batch_size"`
	Concurrency       int           `yaml:"concurrency"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	MaxRetries        int           `yaml:"max_retries"`
	Timeout           time.Duration `yaml:"timeout"`
	CacheSize         int           `yaml:"cache_size"`
	ModelPath         string        `yaml:"model_path"`
	MaxTokens         int           `yaml:"max_tokens"`
}

// GenerationConfig selects and configures the answer generation model.
type GenerationConfig struct {
	Provider     string        `yaml:"provider"` // openai, anthropic, ollama, echo
	Model        string        `yaml:"model"`
	BaseURL      string        `yaml:"base_url"`
	APIKeyEnv    string        `yaml:"api_key_env"`
	Temperature  float64       `yaml:"temperature"`
	MaxTokens    int           `yaml:"max_tokens"`
	MaxRetries   int           `yaml:"max_retries"`
	Timeout      time.Duration `yaml:"timeout"`
	SystemPrompt string        `yaml:"system_prompt"`
}

// Retrieval modes.
const (
	ModeVector = "vector"
	ModeHybrid = "hybrid"
)

// RetrievalConfig controls how passages are selected for a question.
type RetrievalConfig struct {
	TopK             int     `yaml:"top_k"`
	Metric           string  `yaml:"metric"` // cosine or l2
	Mode             string  `yaml:"mode"`   // vector or hybrid
	KeywordWeight    float64 `yaml:"keyword_weight"`
	SemanticWeight   float64 `yaml:"semantic_weight"`
	CondenseQuestion bool    `yaml:"condense_question"`
	MaxHistoryTurns  int     `yaml:"max_history_turns"`
}

// SessionConfig bounds session lifetimes and operations.
type SessionConfig struct {
	ProcessTimeout time.Duration `yaml:"process_timeout"`
	AskTimeout     time.Duration `yaml:"ask_timeout"`
	MaxSessions    int           `yaml:"max_sessions"`
	IdleTTL        time.Duration `yaml:"idle_ttl"`
}

// StorageConfig holds the optional transcript database path. Empty disables it.
type StorageConfig struct {
	TranscriptPath string `yaml:"transcript_path"`
}

// WatchConfig holds file watch settings for the chat command.
type WatchConfig struct {
	Debounce time.Duration `yaml:"debounce"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// Load reads and parses the config file at path, expands paths, applies defaults and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.TranscriptPath = expandPath(cfg.Storage.TranscriptPath, configDir)
	cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault loads path when it exists and returns defaults otherwise.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return Load(path)
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Chunking.ChunkSize < 1 {
		return fmt.Errorf("chunking.chunk_size must be positive")
	}
	if o := c.Chunking.Overlap(); o < 0 || o >= c.Chunking.ChunkSize {
		return fmt.Errorf("chunking.chunk_overlap must be in [0, chunk_size)")
	}
	if len([]rune(c.Chunking.Separator())) > 1 {
		return fmt.Errorf("chunking.separator must be a single character")
	}
	switch c.Extraction.OnError {
	case OnErrorSkip, OnErrorAbort:
	default:
		return fmt.Errorf("extraction.on_error must be %q or %q", OnErrorSkip, OnErrorAbort)
	}
	switch c.Embedding.Provider {
	case "openai", "ollama", "onnx", "mock":
	default:
		return fmt.Errorf("unknown embedding.provider %q", c.Embedding.Provider)
	}
	switch c.Generation.Provider {
	case "openai", "anthropic", "ollama", "echo":
	default:
		return fmt.Errorf("unknown generation.provider %q", c.Generation.Provider)
	}
	if ttl := c.Session.IdleTTL; ttl > 0 {
		if ttl <= c.Session.ProcessTimeout || ttl <= c.Session.AskTimeout {
			return fmt.Errorf("session.idle_ttl must exceed session.process_timeout and session.ask_timeout")
		}
	}
	if c.Retrieval.TopK < 1 {
		return fmt.Errorf("retrieval.top_k must be at least 1")
	}
	switch c.Retrieval.Metric {
	case "cosine", "l2":
	default:
		return fmt.Errorf("retrieval.metric must be cosine or l2")
	}
	switch c.Retrieval.Mode {
	case ModeVector, ModeHybrid:
	default:
		return fmt.Errorf("retrieval.mode must be %q or %q", ModeVector, ModeHybrid)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir,
// "~/" is the home directory, and empty paths stay empty.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return filepath.Join(configDir, path)
}
