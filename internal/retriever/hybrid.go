package retriever

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/kaiwa/internal/embedding"
	"github.com/hyperjump/kaiwa/internal/keyword"
	"github.com/hyperjump/kaiwa/internal/models"
	"github.com/hyperjump/kaiwa/internal/vector"
)

const minCandidates = 20

// HybridRetriever fuses vector hits with keyword hits. It still returns at
// most k chunks, all of which come from the vector index.
type HybridRetriever struct {
	embedder       embedding.Embedder
	index          vector.Index
	keywords       keyword.Index
	k              int
	keywordWeight  float64
	semanticWeight float64
	logger         *zap.Logger
}

var _ Retriever = (*HybridRetriever)(nil)

// HybridOption configures a HybridRetriever.
type HybridOption func(*HybridRetriever)

// WithWeights sets the keyword and semantic fusion weights.
func WithWeights(keywordWeight, semanticWeight float64) HybridOption {
	return func(h *HybridRetriever) {
		h.keywordWeight = keywordWeight
		h.semanticWeight = semanticWeight
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) HybridOption {
	return func(h *HybridRetriever) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewHybrid returns a HybridRetriever. k < 1 selects DefaultTopK.
// Default weights are 0.3 keyword and 0.7 semantic.
func NewHybrid(embedder embedding.Embedder, index vector.Index, keywords keyword.Index, k int, opts ...HybridOption) *HybridRetriever {
	if k < 1 {
		k = DefaultTopK
	}
	h := &HybridRetriever{
		embedder:       embedder,
		index:          index,
		keywords:       keywords,
		k:              k,
		keywordWeight:  0.3,
		semanticWeight: 0.7,
		logger:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Retrieve runs keyword and vector search concurrently and fuses the results.
func (h *HybridRetriever) Retrieve(ctx context.Context, question string) ([]models.ScoredChunk, error) {
	candidates := h.k * 4
	if candidates < minCandidates {
		candidates = minCandidates
	}

	var (
		keywordResults  []keyword.Result
		semanticResults []models.ScoredChunk
	)
	g, gctx := errgroup.WithContext(ctx)
	if h.keywordWeight > 0 && h.keywords != nil {
		g.Go(func() error {
			results, err := h.keywords.Search(gctx, question, candidates, nil)
			if err != nil {
				return fmt.Errorf("keyword search failed: %w", err)
			}
			keywordResults = results
			return nil
		})
	}
	g.Go(func() error {
		vec, err := h.embedder.Embed(gctx, question)
		if err != nil {
			return models.NewEmbeddingError(err)
		}
		results, err := h.index.Query(gctx, vec, candidates)
		if err != nil {
			return err
		}
		semanticResults = results
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	order := make([]string, 0, len(semanticResults)+len(keywordResults))
	for _, r := range semanticResults {
		order = append(order, r.Chunk.ID)
	}
	for _, r := range keywordResults {
		order = append(order, r.ID)
	}
	fused := Fuse(
		NormalizeKeywordScores(keywordResults),
		NormalizeSemanticScores(semanticResults, h.index.Metric()),
		h.keywordWeight, h.semanticWeight, order,
	)

	out := make([]models.ScoredChunk, 0, h.k)
	for _, f := range fused {
		if len(out) == h.k {
			break
		}
		c, ok := h.index.Chunk(f.ChunkID)
		if !ok {
			continue
		}
		out = append(out, models.ScoredChunk{Chunk: c, Score: f.Score})
	}
	h.logger.Debug("hybrid retrieval",
		zap.Int("keyword_hits", len(keywordResults)),
		zap.Int("semantic_hits", len(semanticResults)),
		zap.Int("returned", len(out)))
	return out, nil
}
