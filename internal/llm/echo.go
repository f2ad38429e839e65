package llm

import (
	"context"
	"strings"

	"github.com/hyperjump/kaiwa/internal/models"
)

const echoNoContext = "I could not find anything about that in the uploaded documents."

// Echo is an offline generator. It answers with the first passage of the
// context block in the system prompt, or repeats the last user message when
// there is no context. It never calls a model.
type Echo struct{}

var _ Generator = Echo{}

// Chat returns the first context passage or the last user message.
func (Echo) Chat(ctx context.Context, messages []Message, opts Options) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	system, rest := splitSystem(messages)
	if passage, ok := firstPassage(system); ok {
		return passage, nil
	}
	if strings.Contains(system, contextHeader) {
		return echoNoContext, nil
	}
	for i := len(rest) - 1; i >= 0; i-- {
		if rest[i].Role == models.RoleUser {
			return rest[i].Content, nil
		}
	}
	return echoNoContext, nil
}

// Model returns "echo".
func (Echo) Model() string { return "echo" }

// firstPassage returns the text of passage [1] in a FormatContext block.
func firstPassage(s string) (string, bool) {
	h := strings.Index(s, contextHeader)
	if h < 0 {
		return "", false
	}
	s = s[h:]
	i := strings.Index(s, "[1] ")
	if i < 0 {
		return "", false
	}
	p := s[i+len("[1] "):]
	if j := strings.Index(p, "\n\n[2] "); j >= 0 {
		p = p[:j]
	}
	if strings.HasPrefix(p, "(") {
		if j := strings.Index(p, ") "); j >= 0 {
			p = p[j+2:]
		}
	}
	return strings.TrimSpace(p), true
}
