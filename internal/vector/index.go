// Package vector provides an immutable in-memory nearest-neighbor index over chunk embeddings.
package vector

import (
	"context"
	"errors"
	"fmt"

	"github.com/hyperjump/kaiwa/internal/models"
)

// Metric is the similarity measure of an index, fixed at build time.
type Metric string

const (
	// MetricCosine ranks by cosine similarity, highest first.
	MetricCosine Metric = "cosine"
	// MetricL2 ranks by Euclidean distance, lowest first. Scores are the
	// negated distance so that higher is always better.
	MetricL2 Metric = "l2"
)

// ErrInvalidK is returned when a query asks for fewer than one result.
var ErrInvalidK = errors.New("k must be at least 1")

// ParseMetric returns the metric named by s.
func ParseMetric(s string) (Metric, error) {
	switch Metric(s) {
	case MetricCosine, "":
		return MetricCosine, nil
	case MetricL2:
		return MetricL2, nil
	default:
		return "", fmt.Errorf("unknown metric %q (supported: cosine, l2)", s)
	}
}

// Index is a read-only nearest-neighbor index over chunks.
type Index interface {
	// Query returns the min(k, Size()) chunks closest to vec, best first.
	// Ties keep insertion order.
	Query(ctx context.Context, vec []float32, k int) ([]models.ScoredChunk, error)
	Size() int
	Dimensions() int
	Metric() Metric
	// Chunk returns the chunk with the given ID.
	Chunk(id string) (models.Chunk, bool)
}
