package indexer

import (
	"fmt"

	"github.com/hyperjump/kaiwa/internal/models"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
	DefaultBoundary     = '\n'
)

// Chunker splits text into overlapping character windows. Sizes are in runes.
type Chunker struct {
	size     int
	overlap  int
	boundary rune
}

// ChunkerOption configures a Chunker.
type ChunkerOption func(*Chunker)

// WithBoundary sets the preferred cut character. Zero disables boundary cuts.
func WithBoundary(r rune) ChunkerOption {
	return func(c *Chunker) { c.boundary = r }
}

// NewChunker creates a chunker producing chunks of at most size runes, each
// sharing overlap runes with its predecessor. Requires 0 <= overlap < size.
func NewChunker(size, overlap int, opts ...ChunkerOption) (*Chunker, error) {
	if size < 1 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("chunk overlap must be in [0, %d), got %d", size, overlap)
	}
	c := &Chunker{size: size, overlap: overlap, boundary: DefaultBoundary}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Split cuts text into chunks. Each window of size runes ends after the last
// boundary character that keeps the chunk longer than the overlap, or at the
// window end when there is none. The next chunk starts overlap runes before
// the previous cut, so the chunks cover text without gaps.
func (c *Chunker) Split(text string) []models.Chunk {
	runes := []rune(text)
	n := len(runes)
	if n == 0 {
		return nil
	}
	var chunks []models.Chunk
	start, prevEnd := 0, 0
	for {
		end := start + c.size
		if end >= n {
			end = n
		} else if c.boundary != 0 {
			for i := end - 1; i >= start+c.overlap; i-- {
				if runes[i] == c.boundary {
					end = i + 1
					break
				}
			}
		}
		overlap := 0
		if len(chunks) > 0 {
			overlap = prevEnd - start
		}
		chunks = append(chunks, models.Chunk{
			Index:   len(chunks),
			Text:    string(runes[start:end]),
			Offset:  start,
			Length:  end - start,
			Overlap: overlap,
		})
		if end == n {
			return chunks
		}
		prevEnd = end
		start = end - c.overlap
	}
}

// Size returns the maximum chunk length in runes.
func (c *Chunker) Size() int { return c.size }

// Overlap returns the number of runes shared by adjacent chunks.
func (c *Chunker) Overlap() int { return c.overlap }
