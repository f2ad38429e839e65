// Package conversation answers questions over a session's documents while
// keeping the chat history.
package conversation

import (
	"context"
	"strings"
	"sync"

	"github.com/hyperjump/kaiwa/internal/llm"
	"github.com/hyperjump/kaiwa/internal/models"
	"github.com/hyperjump/kaiwa/internal/retriever"
	"go.uber.org/zap"
)

// DefaultSystemPrompt instructs the model to answer from the retrieved context.
const DefaultSystemPrompt = `You are a helpful assistant answering questions about the user's documents.
Answer using only the numbered context passages below. If the answer is not in the context, say that you don't know.`

const condensePrompt = `Given the conversation so far and a follow-up question, rewrite the follow-up as a standalone question that can be understood without the conversation.
Return only the rewritten question.`

// Engine is a question-answering conversation over one retriever. Without a
// retriever it is uninitialized and every Ask fails with
// models.ErrNoDocumentsProcessed.
type Engine struct {
	mu              sync.Mutex
	generator       llm.Generator
	retriever       retriever.Retriever
	history         []models.Turn
	systemPrompt    string
	options         llm.Options
	condense        bool
	maxHistoryTurns int
	logger          *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithSystemPrompt replaces DefaultSystemPrompt.
func WithSystemPrompt(prompt string) Option {
	return func(e *Engine) {
		if strings.TrimSpace(prompt) != "" {
			e.systemPrompt = prompt
		}
	}
}

// WithGenerationOptions sets the temperature and token limit of model calls.
func WithGenerationOptions(opts llm.Options) Option {
	return func(e *Engine) { e.options = opts }
}

// WithCondense enables rewriting follow-up questions into standalone
// questions before retrieval.
func WithCondense(on bool) Option {
	return func(e *Engine) { e.condense = on }
}

// WithMaxHistoryTurns bounds how many prior turns are sent to the model.
// Zero sends all of them. The stored history is never truncated.
func WithMaxHistoryTurns(n int) Option {
	return func(e *Engine) { e.maxHistoryTurns = n }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// New returns an uninitialized engine.
func New(generator llm.Generator, opts ...Option) *Engine {
	e := &Engine{
		generator:    generator,
		systemPrompt: DefaultSystemPrompt,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Attach makes the engine ready to answer from r and clears the history.
func (e *Engine) Attach(r retriever.Retriever) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.retriever = r
	e.history = nil
}

// Ready reports whether a retriever is attached.
func (e *Engine) Ready() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.retriever != nil
}

// History returns a copy of the conversation turns in order.
func (e *Engine) History() []models.Turn {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]models.Turn(nil), e.history...)
}

// Ask answers question from the retrieved context and the prior turns.
// The user and assistant turns are appended together only when the whole
// call succeeds; on any error the history is unchanged.
func (e *Engine) Ask(ctx context.Context, question string) (*models.Answer, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.retriever == nil {
		return nil, models.ErrNoDocumentsProcessed
	}
	q := strings.TrimSpace(question)
	if q == "" {
		return nil, models.ErrEmptyQuestion
	}
	prior := e.replayed()

	standalone := q
	if e.condense && len(prior) > 0 {
		rewritten, err := e.generator.Chat(ctx, e.messages(condensePrompt, prior, q), e.options)
		if err != nil {
			return nil, models.NewGenerationError(err)
		}
		if rewritten = strings.TrimSpace(rewritten); rewritten != "" {
			standalone = rewritten
		}
		e.logger.Debug("condensed question", zap.String("question", q), zap.String("standalone", standalone))
	}

	hits, err := e.retriever.Retrieve(ctx, standalone)
	if err != nil {
		return nil, err
	}

	system := llm.SystemPrompt(e.systemPrompt, hits)
	text, err := e.generator.Chat(ctx, e.messages(system, prior, q), e.options)
	if err != nil {
		return nil, models.NewGenerationError(err)
	}

	e.history = append(e.history,
		models.Turn{Role: models.RoleUser, Message: q},
		models.Turn{Role: models.RoleAssistant, Message: text},
	)
	e.logger.Debug("answered question",
		zap.Int("sources", len(hits)),
		zap.Int("history", len(e.history)))
	return &models.Answer{Text: text, Question: standalone, Sources: models.SourcesFrom(hits)}, nil
}

// replayed returns the turns sent to the model: the whole history, or its
// last maxHistoryTurns entries starting on a user turn.
func (e *Engine) replayed() []models.Turn {
	turns := e.history
	if e.maxHistoryTurns > 0 && len(turns) > e.maxHistoryTurns {
		turns = turns[len(turns)-e.maxHistoryTurns:]
		if len(turns) > 0 && turns[0].Role != models.RoleUser {
			turns = turns[1:]
		}
	}
	return turns
}

func (e *Engine) messages(system string, prior []models.Turn, question string) []llm.Message {
	msgs := make([]llm.Message, 0, len(prior)+2)
	msgs = append(msgs, llm.Message{Role: models.RoleSystem, Content: system})
	for _, t := range prior {
		msgs = append(msgs, llm.Message{Role: t.Role, Content: t.Message})
	}
	return append(msgs, llm.Message{Role: models.RoleUser, Content: question})
}
