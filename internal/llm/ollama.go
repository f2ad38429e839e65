package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/hyperjump/kaiwa/internal/apiclient"
)

const (
	DefaultOllamaBaseURL = "http://localhost:11434"
	DefaultOllamaModel   = "llama3.2"
)

// Ollama calls POST {base}/api/chat with streaming disabled.
type Ollama struct {
	client *apiclient.Client
	url    string
	model  string
}

var _ Generator = (*Ollama)(nil)

type ollamaOptions struct {
	NumPredict  int     `json:"num_predict,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
}

type ollamaChatRequest struct {
	Model    string         `json:"model"`
	Messages []Message      `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  *ollamaOptions `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done bool `json:"done"`
}

// NewOllama returns a generator for a local Ollama server.
func NewOllama(cfg Config) *Ollama {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOllamaBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOllamaModel
	}
	return &Ollama{
		client: cfg.client(),
		url:    strings.TrimRight(cfg.BaseURL, "/") + "/api/chat",
		model:  cfg.Model,
	}
}

// Chat sends the conversation and returns the reply message.
func (g *Ollama) Chat(ctx context.Context, messages []Message, opts Options) (string, error) {
	req := ollamaChatRequest{Model: g.model, Messages: messages}
	if opts.MaxTokens > 0 || opts.Temperature > 0 {
		req.Options = &ollamaOptions{NumPredict: opts.MaxTokens, Temperature: opts.Temperature}
	}
	var resp ollamaChatResponse
	if err := g.client.PostJSON(ctx, g.url, req, &resp); err != nil {
		return "", fmt.Errorf("ollama chat: %w", err)
	}
	return resp.Message.Content, nil
}

// Model returns the model name.
func (g *Ollama) Model() string { return g.model }
