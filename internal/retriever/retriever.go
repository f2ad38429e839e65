// Package retriever finds the chunks most relevant to a question.
package retriever

import (
	"context"
	"errors"

	"github.com/hyperjump/kaiwa/internal/embedding"
	"github.com/hyperjump/kaiwa/internal/models"
	"github.com/hyperjump/kaiwa/internal/vector"
)

// DefaultTopK is the number of chunks returned per question.
const DefaultTopK = 4

// Retriever returns at most a fixed number of chunks for a question, best first.
type Retriever interface {
	Retrieve(ctx context.Context, question string) ([]models.ScoredChunk, error)
}

// VectorRetriever embeds the question and queries a vector index.
// The embedder must be the one that built the index; this is not checked.
type VectorRetriever struct {
	embedder embedding.Embedder
	index    vector.Index
	k        int
}

var _ Retriever = (*VectorRetriever)(nil)

// NewVector returns a VectorRetriever. k < 1 selects DefaultTopK.
func NewVector(embedder embedding.Embedder, index vector.Index, k int) *VectorRetriever {
	if k < 1 {
		k = DefaultTopK
	}
	return &VectorRetriever{embedder: embedder, index: index, k: k}
}

// Retrieve returns the k chunks nearest to the question.
func (r *VectorRetriever) Retrieve(ctx context.Context, question string) ([]models.ScoredChunk, error) {
	vec, err := r.embedder.Embed(ctx, question)
	if err != nil {
		return nil, models.NewEmbeddingError(err)
	}
	if len(vec) == 0 {
		return nil, models.NewEmbeddingError(errors.New("empty query embedding"))
	}
	return r.index.Query(ctx, vec, r.k)
}

// K returns the number of chunks requested per question.
func (r *VectorRetriever) K() int { return r.k }
