package session

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/kaiwa/internal/config"
	"github.com/hyperjump/kaiwa/internal/embedding"
	"github.com/hyperjump/kaiwa/internal/extract"
	"github.com/hyperjump/kaiwa/internal/indexer"
	"github.com/hyperjump/kaiwa/internal/llm"
	"github.com/hyperjump/kaiwa/internal/models"
	"github.com/hyperjump/kaiwa/internal/storage"
)

// blockingEmbedder waits for the context to end before failing.
type blockingEmbedder struct{ *embedding.MockEmbedder }

func (b blockingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func testDeps(t *testing.T, emb embedding.Embedder, opts ...indexer.IndexerOption) Deps {
	t.Helper()
	if emb == nil {
		emb = embedding.NewMockEmbedder(512)
	}
	chunker, err := indexer.NewChunker(10, 3)
	require.NoError(t, err)
	return Deps{
		Indexer:   indexer.NewIndexer(extract.NewExtractor(), chunker, emb, opts...),
		Embedder:  emb,
		Generator: llm.Echo{},
	}
}

func alphaDoc() *models.Document {
	return extract.NewDocument("notes.txt", []byte("Alpha Beta. Gamma Delta."))
}

func TestSession_AlphaBetaEndToEnd(t *testing.T) {
	s := New("s1", testDeps(t, nil), Options{TopK: 4})
	ctx := context.Background()

	assert.Equal(t, 1, s.Upload(alphaDoc()))
	assert.Equal(t, StatePending, s.Status().State)

	report, err := s.Process(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Chunks)
	assert.Equal(t, 1, report.Documents)
	assert.Equal(t, 512, report.Dimensions)

	ans, err := s.Ask(ctx, "What is Alpha?")
	require.NoError(t, err)
	require.Len(t, ans.Sources, 3)
	assert.Contains(t, ans.Sources[0].Text, "Alpha")
	assert.Equal(t, "Alpha Beta", ans.Text)

	st := s.Status()
	assert.Equal(t, StateReady, st.State)
	assert.Equal(t, 3, st.Chunks)
	assert.Equal(t, 2, st.Turns)
	assert.Empty(t, st.Uploads)
	assert.NotNil(t, st.ProcessedAt)
}

func TestSession_AskBeforeProcess(t *testing.T) {
	s := New("s1", testDeps(t, nil), Options{})
	s.Upload(alphaDoc())

	_, err := s.Ask(context.Background(), "What is Alpha?")
	assert.ErrorIs(t, err, models.ErrNoDocumentsProcessed)
	assert.Empty(t, s.History())
}

func TestSession_ProcessWithoutUploads(t *testing.T) {
	s := New("s1", testDeps(t, nil), Options{})
	_, err := s.Process(context.Background())
	assert.ErrorIs(t, err, models.ErrNoUploads)
	assert.Equal(t, StateEmpty, s.Status().State)
}

func TestSession_DiscardUploads(t *testing.T) {
	s := New("s1", testDeps(t, nil), Options{})
	ctx := context.Background()

	s.Upload(alphaDoc())
	_, err := s.Process(ctx)
	require.NoError(t, err)
	_, err = s.Ask(ctx, "What is Alpha?")
	require.NoError(t, err)

	s.Upload(alphaDoc(), alphaDoc())
	assert.Equal(t, 2, s.DiscardUploads())
	assert.Equal(t, 0, s.DiscardUploads())

	st := s.Status()
	assert.Equal(t, StateReady, st.State)
	assert.Empty(t, st.Uploads)
	assert.Len(t, s.History(), 2)
}

func TestSession_FailedReprocessKeepsState(t *testing.T) {
	s := New("s1", testDeps(t, nil), Options{})
	ctx := context.Background()

	s.Upload(alphaDoc())
	_, err := s.Process(ctx)
	require.NoError(t, err)
	_, err = s.Ask(ctx, "What is Alpha?")
	require.NoError(t, err)

	s.Upload(extract.NewDocument("scan.bin", []byte{0xff}))
	_, err = s.Process(ctx)
	assert.ErrorIs(t, err, models.ErrExtraction)

	st := s.Status()
	assert.Equal(t, StateReady, st.State)
	assert.Equal(t, 3, st.Chunks)
	assert.Len(t, st.Uploads, 1)
	assert.Len(t, s.History(), 2)

	ans, err := s.Ask(ctx, "What is Alpha?")
	require.NoError(t, err)
	assert.Contains(t, ans.Sources[0].Text, "Alpha")
}

func TestSession_ReprocessResetsHistory(t *testing.T) {
	s := New("s1", testDeps(t, nil), Options{})
	ctx := context.Background()

	s.Upload(alphaDoc())
	_, err := s.Process(ctx)
	require.NoError(t, err)
	_, err = s.Ask(ctx, "What is Alpha?")
	require.NoError(t, err)

	s.Upload(extract.NewDocument("more.md", []byte("Epsilon")))
	report, err := s.Process(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Chunks)
	assert.Empty(t, s.History())
	assert.Empty(t, s.Status().Uploads)
}

func TestSession_ProcessTimeout(t *testing.T) {
	emb := blockingEmbedder{embedding.NewMockEmbedder(16)}
	s := New("s1", testDeps(t, emb), Options{ProcessTimeout: 20 * time.Millisecond})
	s.Upload(alphaDoc())

	_, err := s.Process(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, "request timed out", models.UserMessage(err))

	st := s.Status()
	assert.Equal(t, StatePending, st.State)
	assert.Len(t, st.Uploads, 1)
}

// stallingGenerator answers like llm.Echo until stall is set, then waits
// for the context to end.
type stallingGenerator struct {
	llm.Echo
	stall bool
}

func (g *stallingGenerator) Chat(ctx context.Context, messages []llm.Message, opts llm.Options) (string, error) {
	if !g.stall {
		return g.Echo.Chat(ctx, messages, opts)
	}
	<-ctx.Done()
	return "", ctx.Err()
}

func TestSession_AskTimeout(t *testing.T) {
	gen := &stallingGenerator{}
	deps := testDeps(t, nil)
	deps.Generator = gen
	s := New("s1", deps, Options{AskTimeout: 20 * time.Millisecond})
	ctx := context.Background()

	s.Upload(alphaDoc())
	_, err := s.Process(ctx)
	require.NoError(t, err)
	_, err = s.Ask(ctx, "What is Alpha?")
	require.NoError(t, err)
	require.Len(t, s.History(), 2)

	gen.stall = true
	_, err = s.Ask(ctx, "What is Gamma?")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.ErrorIs(t, err, models.ErrGeneration)
	assert.Equal(t, "request timed out", models.UserMessage(err))

	assert.Len(t, s.History(), 2)
	assert.Equal(t, StateReady, s.Status().State)
}

func TestSession_Replace(t *testing.T) {
	s := New("s1", testDeps(t, nil), Options{})
	ctx := context.Background()

	s.Upload(extract.NewDocument("old.txt", []byte("Epsilon Zeta.")))
	report, err := s.Replace(ctx, []*models.Document{alphaDoc()})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Documents)
	assert.Equal(t, 3, report.Chunks)

	st := s.Status()
	assert.Equal(t, StateReady, st.State)
	assert.Empty(t, st.Uploads)

	_, err = s.Ask(ctx, "What is Alpha?")
	require.NoError(t, err)

	// A failed replace keeps the index, history and pending uploads.
	s.Upload(alphaDoc())
	_, err = s.Replace(ctx, []*models.Document{extract.NewDocument("scan.bin", []byte{0xff})})
	assert.ErrorIs(t, err, models.ErrExtraction)
	st = s.Status()
	assert.Equal(t, StateReady, st.State)
	assert.Equal(t, 3, st.Chunks)
	assert.Len(t, st.Uploads, 1)
	assert.Len(t, s.History(), 2)
}

func TestSession_ConcurrentReplace(t *testing.T) {
	s := New("s1", testDeps(t, nil), Options{})

	const n = 6
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			report, err := s.Replace(context.Background(), []*models.Document{alphaDoc()})
			if assert.NoError(t, err) {
				assert.Equal(t, 1, report.Documents)
			}
		}()
	}
	wg.Wait()

	st := s.Status()
	assert.Equal(t, StateReady, st.State)
	assert.Equal(t, 3, st.Chunks)
	assert.False(t, s.Busy())
}

func TestSession_HybridMode(t *testing.T) {
	deps := testDeps(t, nil, indexer.WithKeywordIndex(true))
	s := New("s1", deps, Options{TopK: 2, Mode: config.ModeHybrid, KeywordWeight: 0.5, SemanticWeight: 0.5})
	defer func() { _ = s.Close() }()
	s.Upload(alphaDoc())

	_, err := s.Process(context.Background())
	require.NoError(t, err)
	ans, err := s.Ask(context.Background(), "alpha")
	require.NoError(t, err)
	require.Len(t, ans.Sources, 2)
	assert.Equal(t, "Alpha Beta", ans.Sources[0].Text)
}

func TestSession_ConcurrentAsks(t *testing.T) {
	s := New("s1", testDeps(t, nil), Options{})
	s.Upload(alphaDoc())
	_, err := s.Process(context.Background())
	require.NoError(t, err)

	const n = 8
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Ask(context.Background(), "What is Gamma?")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	h := s.History()
	require.Len(t, h, 2*n)
	for i, turn := range h {
		want := models.RoleUser
		if i%2 == 1 {
			want = models.RoleAssistant
		}
		assert.Equal(t, want, turn.Role, "turn %d", i)
	}
}

func TestSession_TranscriptStore(t *testing.T) {
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "t.db"))
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	deps := testDeps(t, nil)
	deps.Store = store
	m := NewManager(deps, Options{}, 0, 0)
	ctx := context.Background()

	s, err := m.Create(ctx)
	require.NoError(t, err)
	s.Upload(alphaDoc())
	_, err = s.Process(ctx)
	require.NoError(t, err)
	_, err = s.Ask(ctx, "What is Alpha?")
	require.NoError(t, err)

	turns, err := store.Turns(ctx, s.ID())
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, "What is Alpha?", turns[0].Message)
	assert.Equal(t, models.RoleAssistant, turns[1].Role)

	rec, err := store.Session(ctx, s.ID())
	require.NoError(t, err)
	assert.Equal(t, 3, rec.ChunkCount)
}

func TestSession_StoreFailureDoesNotFailAsk(t *testing.T) {
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "t.db"))
	require.NoError(t, err)
	require.NoError(t, store.Close())

	deps := testDeps(t, nil)
	deps.Store = store
	s := New("s1", deps, Options{})
	s.Upload(alphaDoc())
	_, err = s.Process(context.Background())
	require.NoError(t, err)

	ans, err := s.Ask(context.Background(), "What is Alpha?")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(ans.Text, "Alpha"))
	assert.Len(t, s.History(), 2)
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Retrieval.TopK = 7
	opts := OptionsFromConfig(cfg)
	assert.Equal(t, 7, opts.TopK)
	assert.Equal(t, cfg.Session.AskTimeout, opts.AskTimeout)
	assert.Len(t, opts.Engine, 4)
}
