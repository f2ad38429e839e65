package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/kaiwa/internal/llm"
	"github.com/hyperjump/kaiwa/internal/models"
)

// scriptedGenerator returns replies in order and records every call.
type scriptedGenerator struct {
	replies []string
	errs    []error
	calls   [][]llm.Message
}

func (g *scriptedGenerator) Chat(ctx context.Context, messages []llm.Message, opts llm.Options) (string, error) {
	i := len(g.calls)
	g.calls = append(g.calls, messages)
	if i < len(g.errs) && g.errs[i] != nil {
		return "", g.errs[i]
	}
	if i < len(g.replies) {
		return g.replies[i], nil
	}
	return fmt.Sprintf("reply %d", i), nil
}

func (g *scriptedGenerator) Model() string { return "scripted" }

// fakeRetriever returns fixed hits and records questions.
type fakeRetriever struct {
	hits      []models.ScoredChunk
	err       error
	questions []string
}

func (r *fakeRetriever) Retrieve(ctx context.Context, question string) ([]models.ScoredChunk, error) {
	r.questions = append(r.questions, question)
	return r.hits, r.err
}

func alphaHits() []models.ScoredChunk {
	return []models.ScoredChunk{
		{Chunk: models.Chunk{ID: "c0", Text: "Alpha Beta", DocumentName: "notes.txt"}, Score: 0.9},
		{Chunk: models.Chunk{ID: "c1", Text: "Gamma Delta"}, Score: 0.1},
	}
}

func TestEngine_AskBeforeAttach(t *testing.T) {
	gen := &scriptedGenerator{}
	e := New(gen)
	assert.False(t, e.Ready())

	_, err := e.Ask(context.Background(), "What is Alpha?")
	assert.ErrorIs(t, err, models.ErrNoDocumentsProcessed)
	assert.Empty(t, e.History())
	assert.Empty(t, gen.calls)
}

func TestEngine_EmptyQuestion(t *testing.T) {
	e := New(&scriptedGenerator{})
	e.Attach(&fakeRetriever{})
	_, err := e.Ask(context.Background(), "   ")
	assert.ErrorIs(t, err, models.ErrEmptyQuestion)
	assert.Empty(t, e.History())
}

func TestEngine_TwoAsksRecordFourTurns(t *testing.T) {
	gen := &scriptedGenerator{replies: []string{"A letter.", "Another letter."}}
	e := New(gen)
	e.Attach(&fakeRetriever{hits: alphaHits()})
	ctx := context.Background()

	first, err := e.Ask(ctx, "What is Alpha?")
	require.NoError(t, err)
	assert.Equal(t, "A letter.", first.Text)
	assert.Equal(t, "What is Alpha?", first.Question)
	require.Len(t, first.Sources, 2)
	assert.Equal(t, "c0", first.Sources[0].ChunkID)

	_, err = e.Ask(ctx, "And Beta?")
	require.NoError(t, err)

	assert.Equal(t, []models.Turn{
		{Role: models.RoleUser, Message: "What is Alpha?"},
		{Role: models.RoleAssistant, Message: "A letter."},
		{Role: models.RoleUser, Message: "And Beta?"},
		{Role: models.RoleAssistant, Message: "Another letter."},
	}, e.History())
}

func TestEngine_PromptComposition(t *testing.T) {
	gen := &scriptedGenerator{}
	e := New(gen, WithSystemPrompt("Be brief."))
	e.Attach(&fakeRetriever{hits: alphaHits()})
	ctx := context.Background()

	_, err := e.Ask(ctx, "What is Alpha?")
	require.NoError(t, err)
	_, err = e.Ask(ctx, "And Gamma?")
	require.NoError(t, err)

	msgs := gen.calls[1]
	require.Len(t, msgs, 4)
	assert.Equal(t, models.RoleSystem, msgs[0].Role)
	assert.True(t, strings.HasPrefix(msgs[0].Content, "Be brief."))
	assert.Contains(t, msgs[0].Content, "[1] (notes.txt) Alpha Beta")
	assert.Contains(t, msgs[0].Content, "[2] Gamma Delta")
	assert.Equal(t, llm.Message{Role: models.RoleUser, Content: "What is Alpha?"}, msgs[1])
	assert.Equal(t, llm.Message{Role: models.RoleAssistant, Content: "reply 0"}, msgs[2])
	assert.Equal(t, llm.Message{Role: models.RoleUser, Content: "And Gamma?"}, msgs[3])
}

func TestEngine_FailedGenerationLeavesHistory(t *testing.T) {
	gen := &scriptedGenerator{errs: []error{nil, errors.New("model overloaded")}}
	e := New(gen)
	e.Attach(&fakeRetriever{hits: alphaHits()})
	ctx := context.Background()

	_, err := e.Ask(ctx, "What is Alpha?")
	require.NoError(t, err)
	before := e.History()

	_, err = e.Ask(ctx, "And Beta?")
	assert.ErrorIs(t, err, models.ErrGeneration)
	assert.Equal(t, "generation failed", models.UserMessage(err))
	assert.Equal(t, before, e.History())
}

func TestEngine_RetrievalFailureLeavesHistory(t *testing.T) {
	gen := &scriptedGenerator{}
	e := New(gen)
	e.Attach(&fakeRetriever{err: models.NewEmbeddingError(errors.New("timeout"))})

	_, err := e.Ask(context.Background(), "What is Alpha?")
	assert.ErrorIs(t, err, models.ErrEmbedding)
	assert.Empty(t, e.History())
	assert.Empty(t, gen.calls)
}

func TestEngine_Condense(t *testing.T) {
	gen := &scriptedGenerator{replies: []string{"A letter.", "  What is Beta in the alphabet?  ", "The second letter."}}
	r := &fakeRetriever{hits: alphaHits()}
	e := New(gen, WithCondense(true))
	e.Attach(r)
	ctx := context.Background()

	_, err := e.Ask(ctx, "What is Alpha?")
	require.NoError(t, err)
	ans, err := e.Ask(ctx, "And Beta?")
	require.NoError(t, err)

	// First question has no history, so no rewrite call is made.
	require.Len(t, gen.calls, 3)
	assert.Equal(t, []string{"What is Alpha?", "What is Beta in the alphabet?"}, r.questions)
	assert.Equal(t, "What is Beta in the alphabet?", ans.Question)
	assert.Equal(t, "The second letter.", ans.Text)
	assert.Equal(t, "And Beta?", e.History()[2].Message)
}

func TestEngine_CondenseFailure(t *testing.T) {
	gen := &scriptedGenerator{errs: []error{nil, errors.New("rate limited")}}
	e := New(gen, WithCondense(true))
	e.Attach(&fakeRetriever{hits: alphaHits()})
	ctx := context.Background()

	_, err := e.Ask(ctx, "What is Alpha?")
	require.NoError(t, err)
	_, err = e.Ask(ctx, "And Beta?")
	assert.ErrorIs(t, err, models.ErrGeneration)
	assert.Len(t, e.History(), 2)
}

func TestEngine_MaxHistoryTurns(t *testing.T) {
	gen := &scriptedGenerator{}
	e := New(gen, WithMaxHistoryTurns(3))
	e.Attach(&fakeRetriever{})
	ctx := context.Background()

	for _, q := range []string{"one", "two", "three"} {
		_, err := e.Ask(ctx, q)
		require.NoError(t, err)
	}
	// The window of 3 starts on an assistant turn, which is dropped.
	last := gen.calls[2]
	require.Len(t, last, 4)
	assert.Equal(t, "two", last[1].Content)
	assert.Equal(t, "reply 1", last[2].Content)
	assert.Len(t, e.History(), 6)
}

func TestEngine_AttachClearsHistory(t *testing.T) {
	e := New(&scriptedGenerator{})
	e.Attach(&fakeRetriever{})
	_, err := e.Ask(context.Background(), "q")
	require.NoError(t, err)
	require.Len(t, e.History(), 2)

	e.Attach(&fakeRetriever{})
	assert.Empty(t, e.History())
	assert.True(t, e.Ready())
}

func TestEngine_HistoryIsCopy(t *testing.T) {
	e := New(&scriptedGenerator{})
	e.Attach(&fakeRetriever{})
	_, err := e.Ask(context.Background(), "q")
	require.NoError(t, err)

	h := e.History()
	h[0].Message = "changed"
	assert.Equal(t, "q", e.History()[0].Message)
}
