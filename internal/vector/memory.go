package vector

import (
	"context"
	"sort"

	"github.com/hyperjump/kaiwa/internal/models"
)

// MemoryIndex is a brute-force index. It is built once by Build and never
// modified afterwards, so concurrent queries are safe.
type MemoryIndex struct {
	metric     Metric
	dimensions int
	chunks     []models.Chunk
	vectors    [][]float32
	norms      []float64
	byID       map[string]int
}

var _ Index = (*MemoryIndex)(nil)

// Build returns an index over chunks and their embeddings. The sequences
// must be parallel and every vector must have the same dimension; otherwise
// a *models.DimensionMismatchError is returned. Vectors are copied.
func Build(chunks []models.Chunk, vectors [][]float32, metric Metric) (*MemoryIndex, error) {
	if len(chunks) != len(vectors) {
		return nil, &models.DimensionMismatchError{Chunks: len(chunks), Vectors: len(vectors)}
	}
	if metric == "" {
		metric = MetricCosine
	}
	if _, err := ParseMetric(string(metric)); err != nil {
		return nil, err
	}
	m := &MemoryIndex{
		metric:  metric,
		chunks:  make([]models.Chunk, len(chunks)),
		vectors: make([][]float32, len(vectors)),
		norms:   make([]float64, len(vectors)),
		byID:    make(map[string]int, len(chunks)),
	}
	copy(m.chunks, chunks)
	for i, v := range vectors {
		if i == 0 {
			m.dimensions = len(v)
		}
		if len(v) == 0 || len(v) != m.dimensions {
			return nil, &models.DimensionMismatchError{Chunks: len(chunks), Vectors: len(vectors), Want: m.dimensions, Got: len(v)}
		}
		m.vectors[i] = append([]float32(nil), v...)
		m.norms[i] = L2Norm(v)
		if chunks[i].ID != "" {
			m.byID[chunks[i].ID] = i
		}
	}
	return m, nil
}

// Query returns the min(k, Size()) best matches for vec.
func (m *MemoryIndex) Query(ctx context.Context, vec []float32, k int) ([]models.ScoredChunk, error) {
	if k < 1 {
		return nil, ErrInvalidK
	}
	if len(m.vectors) == 0 {
		return []models.ScoredChunk{}, nil
	}
	if len(vec) != m.dimensions {
		return nil, &models.DimensionMismatchError{Chunks: 1, Vectors: 1, Want: m.dimensions, Got: len(vec)}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	qnorm := L2Norm(vec)
	scored := make([]models.ScoredChunk, len(m.vectors))
	for i, v := range m.vectors {
		var score float64
		switch m.metric {
		case MetricL2:
			score = -L2Distance(vec, v)
		default:
			score = Cosine(vec, v, qnorm, m.norms[i])
		}
		scored[i] = models.ScoredChunk{Chunk: m.chunks[i], Score: score}
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if k > len(scored) {
		k = len(scored)
	}
	return scored[:k], nil
}

// Chunk returns the chunk with the given ID.
func (m *MemoryIndex) Chunk(id string) (models.Chunk, bool) {
	i, ok := m.byID[id]
	if !ok {
		return models.Chunk{}, false
	}
	return m.chunks[i], true
}

// Chunks returns the indexed chunks in insertion order.
func (m *MemoryIndex) Chunks() []models.Chunk {
	return append([]models.Chunk(nil), m.chunks...)
}

// Size returns the number of indexed chunks.
func (m *MemoryIndex) Size() int { return len(m.chunks) }

// Dimensions returns the vector dimension, or 0 for an empty index.
func (m *MemoryIndex) Dimensions() int { return m.dimensions }

// Metric returns the similarity metric.
func (m *MemoryIndex) Metric() Metric { return m.metric }
