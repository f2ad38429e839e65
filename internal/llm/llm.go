// Package llm provides chat-completion adapters for answer generation.
package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/hyperjump/kaiwa/internal/models"
)

// Message is one entry of a chat prompt.
type Message struct {
	Role    models.Role `json:"role"`
	Content string      `json:"content"`
}

// Options tune a single generation call. Zero values select provider defaults.
type Options struct {
	Temperature float64
	MaxTokens   int
}

// Generator produces the next assistant message for a conversation.
// Implementations are stateless and safe for concurrent use.
type Generator interface {
	Chat(ctx context.Context, messages []Message, opts Options) (string, error)
	Model() string
}

const (
	contextHeader = "Context:"
	noContext     = "(no relevant passages found)"
)

// SystemPrompt appends the numbered context passages to instructions.
func SystemPrompt(instructions string, passages []models.ScoredChunk) string {
	var b strings.Builder
	if instructions = strings.TrimSpace(instructions); instructions != "" {
		b.WriteString(instructions)
		b.WriteString("\n\n")
	}
	b.WriteString(contextHeader)
	b.WriteString("\n")
	if len(passages) == 0 {
		b.WriteString(noContext)
	} else {
		b.WriteString(FormatContext(passages))
	}
	return b.String()
}

// FormatContext renders passages as a numbered context block:
//
//	[1] (report.pdf) first passage
//
//	[2] second passage
func FormatContext(passages []models.ScoredChunk) string {
	var b strings.Builder
	for i, p := range passages {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[%d] ", i+1)
		if p.Chunk.DocumentName != "" {
			fmt.Fprintf(&b, "(%s) ", p.Chunk.DocumentName)
		}
		b.WriteString(strings.TrimSpace(p.Chunk.Text))
	}
	return b.String()
}

// splitSystem separates system messages from the conversation. Multiple
// system messages are joined with blank lines.
func splitSystem(messages []Message) (string, []Message) {
	var system []string
	rest := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == models.RoleSystem {
			system = append(system, m.Content)
			continue
		}
		rest = append(rest, m)
	}
	return strings.Join(system, "\n\n"), rest
}
