package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hyperjump/kaiwa/internal/apiclient"
	"go.uber.org/zap"
)

const (
	DefaultOpenAIBaseURL = "https://api.openai.com/v1"
	DefaultOpenAIModel   = "gpt-4o-mini"
)

// Config holds the settings shared by the HTTP generation adapters.
type Config struct {
	BaseURL    string
	APIKey     string
	Model      string
	Timeout    time.Duration
	MaxRetries int
	Logger     *zap.Logger
}

func (c *Config) client(opts ...apiclient.Option) *apiclient.Client {
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	opts = append(opts, apiclient.WithMaxRetries(c.MaxRetries), apiclient.WithLogger(c.Logger))
	return apiclient.New(c.Timeout, opts...)
}

// OpenAI calls POST {base}/chat/completions.
type OpenAI struct {
	client *apiclient.Client
	url    string
	model  string
}

var _ Generator = (*OpenAI)(nil)

type chatCompletionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// NewOpenAI returns a generator for the OpenAI chat API or a compatible server.
func NewOpenAI(cfg Config) (*OpenAI, error) {
	if cfg.APIKey == "" && (cfg.BaseURL == "" || cfg.BaseURL == DefaultOpenAIBaseURL) {
		return nil, fmt.Errorf("openai: API key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOpenAIBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}
	return &OpenAI{
		client: cfg.client(apiclient.WithBearer(cfg.APIKey)),
		url:    strings.TrimRight(cfg.BaseURL, "/") + "/chat/completions",
		model:  cfg.Model,
	}, nil
}

// Chat sends the conversation and returns the first choice.
func (g *OpenAI) Chat(ctx context.Context, messages []Message, opts Options) (string, error) {
	req := chatCompletionRequest{
		Model:       g.model,
		Messages:    messages,
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
	}
	var resp chatCompletionResponse
	if err := g.client.PostJSON(ctx, g.url, req, &resp); err != nil {
		return "", fmt.Errorf("openai chat: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai chat: no choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}

// Model returns the model name.
func (g *OpenAI) Model() string { return g.model }
