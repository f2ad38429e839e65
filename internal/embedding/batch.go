package embedding

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

func errCount(want, got int) error {
	return fmt.Errorf("provider returned %d vectors for %d texts", got, want)
}

// BatchingEmbedder splits large batches into groups of at most size texts
// and embeds up to concurrency groups at a time. Output order matches input.
type BatchingEmbedder struct {
	Embedder
	size        int
	concurrency int
}

// NewBatchingEmbedder wraps inner. Non-positive size or concurrency mean one group / one worker.
func NewBatchingEmbedder(inner Embedder, size, concurrency int) *BatchingEmbedder {
	if concurrency < 1 {
		concurrency = 1
	}
	return &BatchingEmbedder{Embedder: inner, size: size, concurrency: concurrency}
}

// EmbedBatch embeds texts group by group. The first failure cancels the rest.
func (b *BatchingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if b.size <= 0 || len(texts) <= b.size {
		return b.Embedder.EmbedBatch(ctx, texts)
	}
	out := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)
	for start := 0; start < len(texts); start += b.size {
		start := start
		end := min(start+b.size, len(texts))
		g.Go(func() error {
			vecs, err := b.Embedder.EmbedBatch(gctx, texts[start:end])
			if err != nil {
				return fmt.Errorf("batch %d-%d: %w", start, end, err)
			}
			if len(vecs) != end-start {
				return errCount(end-start, len(vecs))
			}
			copy(out[start:end], vecs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
