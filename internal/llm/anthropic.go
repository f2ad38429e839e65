package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/hyperjump/kaiwa/internal/apiclient"
)

const (
	DefaultAnthropicBaseURL = "https://api.anthropic.com"
	DefaultAnthropicModel   = "claude-3-5-haiku-latest"

	anthropicVersion   = "2023-06-01"
	anthropicMaxTokens = 1024
)

// Anthropic calls POST {base}/v1/messages.
type Anthropic struct {
	client *apiclient.Client
	url    string
	model  string
}

var _ Generator = (*Anthropic)(nil)

type messagesRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	System      string    `json:"system,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}

// NewAnthropic returns a generator for the Anthropic messages API.
func NewAnthropic(cfg Config) (*Anthropic, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic: API key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultAnthropicBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultAnthropicModel
	}
	return &Anthropic{
		client: cfg.client(
			apiclient.WithHeader("x-api-key", cfg.APIKey),
			apiclient.WithHeader("anthropic-version", anthropicVersion),
		),
		url:   strings.TrimRight(cfg.BaseURL, "/") + "/v1/messages",
		model: cfg.Model,
	}, nil
}

// Chat sends the conversation with system messages moved to the system field
// and concatenates the text blocks of the reply.
func (g *Anthropic) Chat(ctx context.Context, messages []Message, opts Options) (string, error) {
	system, rest := splitSystem(messages)
	maxTokens := opts.MaxTokens
	if maxTokens == 0 {
		maxTokens = anthropicMaxTokens
	}
	req := messagesRequest{
		Model:       g.model,
		Messages:    rest,
		MaxTokens:   maxTokens,
		System:      system,
		Temperature: opts.Temperature,
	}
	var resp messagesResponse
	if err := g.client.PostJSON(ctx, g.url, req, &resp); err != nil {
		return "", fmt.Errorf("anthropic chat: %w", err)
	}
	if len(resp.Content) == 0 {
		return "", fmt.Errorf("anthropic chat: no content returned")
	}
	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return b.String(), nil
}

// Model returns the model name.
func (g *Anthropic) Model() string { return g.model }
