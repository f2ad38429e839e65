// Package indexer turns uploaded documents into a searchable session index:
// extract, concatenate, chunk, embed, build.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/hyperjump/kaiwa/internal/config"
	"github.com/hyperjump/kaiwa/internal/embedding"
	"github.com/hyperjump/kaiwa/internal/extract"
	"github.com/hyperjump/kaiwa/internal/keyword"
	"github.com/hyperjump/kaiwa/internal/models"
	"github.com/hyperjump/kaiwa/internal/vector"
	"go.uber.org/zap"
)

// Indexer runs the processing pipeline over a set of documents.
// It holds no per-run state, so one Indexer can serve many sessions.
type Indexer struct {
	extractor *extract.Extractor
	chunker   *Chunker
	embedder  embedding.Embedder
	metric    vector.Metric
	onError   string
	normalize bool
	keywords  bool
	logger    *zap.Logger
}

// IndexerOption configures an Indexer.
type IndexerOption func(*Indexer)

// WithLogger sets a logger for pipeline events.
func WithLogger(l *zap.Logger) IndexerOption {
	return func(idx *Indexer) {
		if l != nil {
			idx.logger = l
		}
	}
}

// WithMetric sets the similarity metric of built indexes.
func WithMetric(m vector.Metric) IndexerOption {
	return func(idx *Indexer) { idx.metric = m }
}

// WithOnError sets the per-document extraction failure policy:
// config.OnErrorSkip or config.OnErrorAbort.
func WithOnError(policy string) IndexerOption {
	return func(idx *Indexer) { idx.onError = policy }
}

// WithNormalize enables whitespace normalization of extracted text.
func WithNormalize(on bool) IndexerOption {
	return func(idx *Indexer) { idx.normalize = on }
}

// WithKeywordIndex also builds a keyword index over the chunks.
func WithKeywordIndex(on bool) IndexerOption {
	return func(idx *Indexer) { idx.keywords = on }
}

// NewIndexer creates an indexer. The same embedder must later embed questions
// against the built index.
func NewIndexer(extractor *extract.Extractor, chunker *Chunker, embedder embedding.Embedder, opts ...IndexerOption) *Indexer {
	idx := &Indexer{
		extractor: extractor,
		chunker:   chunker,
		embedder:  embedder,
		metric:    vector.MetricCosine,
		onError:   config.OnErrorSkip,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

// Result is the output of a successful Build.
type Result struct {
	Index    *vector.MemoryIndex
	Keywords *keyword.BleveIndex // nil unless WithKeywordIndex
	Chunks   []models.Chunk
	Report   models.ProcessReport
}

// Close releases the keyword index, if any.
func (r *Result) Close() error {
	if r == nil || r.Keywords == nil {
		return nil
	}
	return r.Keywords.Close()
}

// span is the rune range of one document within the concatenated text.
type span struct {
	doc   *models.Document
	start int
	end   int
}

// Build extracts every document, joins their text with the page separator,
// chunks and embeds it, and returns a fresh index. Build never touches an
// existing index: on error nothing is returned.
//
// Extraction failures follow the configured policy. Under skip, failed
// documents are listed in the report, and Build fails only if every document
// failed. Embedding failures, including a wrong number of vectors or a
// vector of the wrong dimension, fail the whole build.
func (idx *Indexer) Build(ctx context.Context, docs []*models.Document) (*Result, error) {
	start := time.Now()
	if len(docs) == 0 {
		return nil, models.ErrNoUploads
	}

	var (
		report models.ProcessReport
		errs   []error
		texts  []string
		spans  []span
		offset int
	)
	sep := idx.extractor.Separator()
	sepLen := utf8.RuneCountInString(sep)
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		text, pages, err := idx.extractor.Extract(doc)
		if err != nil {
			if idx.onError == config.OnErrorAbort {
				return nil, err
			}
			idx.logger.Warn("skipping document", zap.String("document", doc.Name), zap.Error(err))
			report.Failed = append(report.Failed, models.DocumentFailure{
				DocumentID:   doc.ID,
				DocumentName: doc.Name,
				Reason:       models.UserMessage(err),
			})
			errs = append(errs, err)
			continue
		}
		if idx.normalize {
			text = Preprocess(text)
		}
		if len(texts) > 0 {
			offset += sepLen
		}
		n := utf8.RuneCountInString(text)
		spans = append(spans, span{doc: doc, start: offset, end: offset + n})
		offset += n
		texts = append(texts, text)
		report.Documents++
		report.Pages += pages
		idx.logger.Debug("extracted document",
			zap.String("document", doc.Name),
			zap.Int("pages", pages),
			zap.Int("characters", n))
	}
	if len(texts) == 0 {
		return nil, errors.Join(errs...)
	}

	full := strings.Join(texts, sep)
	report.Characters = utf8.RuneCountInString(full)
	chunks := idx.chunker.Split(full)
	for i := range chunks {
		chunks[i].ID = uuid.NewString()
		if s := spanAt(spans, chunks[i].Offset); s != nil {
			chunks[i].DocumentID = s.doc.ID
			chunks[i].DocumentName = s.doc.Name
		}
	}

	vectors, err := idx.embed(ctx, chunks)
	if err != nil {
		return nil, err
	}
	index, err := vector.Build(chunks, vectors, idx.metric)
	if err != nil {
		return nil, models.NewEmbeddingError(err)
	}

	res := &Result{Index: index, Chunks: chunks}
	if idx.keywords {
		kw, err := keyword.Build(ctx, chunks)
		if err != nil {
			return nil, fmt.Errorf("keyword index: %w", err)
		}
		res.Keywords = kw
	}

	report.Chunks = len(chunks)
	report.Dimensions = index.Dimensions()
	report.Duration = time.Since(start)
	res.Report = report
	idx.logger.Info("built session index",
		zap.Int("documents", report.Documents),
		zap.Int("failed", len(report.Failed)),
		zap.Int("chunks", report.Chunks),
		zap.Int("dimensions", report.Dimensions),
		zap.Duration("duration", report.Duration))
	return res, nil
}

// embed returns one validated vector per chunk.
func (idx *Indexer) embed(ctx context.Context, chunks []models.Chunk) ([][]float32, error) {
	if len(chunks) == 0 {
		return nil, nil
	}
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := idx.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, models.NewEmbeddingError(err)
	}
	if len(vectors) != len(chunks) {
		return nil, models.NewEmbeddingError(&models.DimensionMismatchError{Chunks: len(chunks), Vectors: len(vectors)})
	}
	want := idx.embedder.Dimensions()
	for _, v := range vectors {
		if len(v) == 0 || (want > 0 && len(v) != want) {
			return nil, models.NewEmbeddingError(&models.DimensionMismatchError{
				Chunks: len(chunks), Vectors: len(vectors), Want: want, Got: len(v),
			})
		}
	}
	return vectors, nil
}

// spanAt returns the document containing rune offset, or the next document
// when offset falls on a separator.
func spanAt(spans []span, offset int) *span {
	for i := range spans {
		if offset < spans[i].end || offset == spans[i].start {
			return &spans[i]
		}
	}
	if len(spans) > 0 {
		return &spans[len(spans)-1]
	}
	return nil
}

// BuildFiles reads the files at paths and builds an index from them.
func (idx *Indexer) BuildFiles(ctx context.Context, paths []string) (*Result, error) {
	docs := make([]*models.Document, 0, len(paths))
	for _, p := range paths {
		doc, err := extract.ReadDocument(p)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		docs = append(docs, doc)
	}
	return idx.Build(ctx, docs)
}

// FromConfig builds an Indexer from configuration.
func FromConfig(cfg *config.Config, embedder embedding.Embedder, logger *zap.Logger) (*Indexer, error) {
	var boundary rune
	if sep := []rune(cfg.Chunking.Separator()); len(sep) > 0 {
		boundary = sep[0]
	}
	chunker, err := NewChunker(cfg.Chunking.ChunkSize, cfg.Chunking.Overlap(), WithBoundary(boundary))
	if err != nil {
		return nil, err
	}
	metric, err := vector.ParseMetric(cfg.Retrieval.Metric)
	if err != nil {
		return nil, err
	}
	extractor := extract.NewExtractor(extract.WithPageSeparator(cfg.Extraction.Separator()))
	return NewIndexer(extractor, chunker, embedder,
		WithLogger(logger),
		WithMetric(metric),
		WithOnError(cfg.Extraction.OnError),
		WithNormalize(cfg.Extraction.NormalizeWhitespace),
		WithKeywordIndex(cfg.Retrieval.Mode == config.ModeHybrid),
	), nil
}
