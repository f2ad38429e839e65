// Package keyword provides a session-scoped keyword (BM25) index over chunks.
package keyword

import (
	"context"

	"github.com/hyperjump/kaiwa/internal/models"
)

// SearchOptions optional parameters for keyword search. Nil means use defaults.
type SearchOptions struct {
	// TitleBoost multiplies the score contribution from matches in the document name.
	// Use 1.0 for no boost.
	TitleBoost float64
	// FuzzyEnabled enables fuzzy matching for typo tolerance.
	FuzzyEnabled bool
	// Fuzziness is the maximum edit distance for fuzzy matching (1 or 2). Default 1.
	Fuzziness int
}

// Index defines keyword search over a fixed set of chunks.
type Index interface {
	Add(ctx context.Context, chunks []models.Chunk) error
	Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]Result, error)
	DocCount() (uint64, error)
	Close() error
}

// Result is a single keyword search hit. ID is the chunk ID.
type Result struct {
	ID    string
	Score float64
}
