package keyword

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	blevequery "github.com/blevesearch/bleve/v2/search/query"
	"github.com/hyperjump/kaiwa/internal/models"
)

// chunkDoc is the indexed representation of a chunk.
type chunkDoc struct {
	Content string `json:"content"`
	Title   string `json:"title"`
}

// BleveIndex implements Index with an in-memory Bleve index.
type BleveIndex struct {
	index bleve.Index
}

var _ Index = (*BleveIndex)(nil)

// NewBleveIndex creates an empty in-memory index. Nothing is written to disk;
// the index lives as long as the session that built it.
func NewBleveIndex() (*BleveIndex, error) {
	im := bleve.NewIndexMapping()

	docMapping := bleve.NewDocumentMapping()
	textFieldMapping := bleve.NewTextFieldMapping()
	// Standard analyzer lowercases and drops stop words but does not stem,
	// so "bayes" matches "Bayes" and not "bay".
	textFieldMapping.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt("content", textFieldMapping)
	docMapping.AddFieldMappingsAt("title", textFieldMapping)
	im.AddDocumentMapping("chunk", docMapping)
	im.DefaultType = "chunk"
	im.DefaultMapping = docMapping

	index, err := bleve.NewMemOnly(im)
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

// Build returns an index containing chunks.
func Build(ctx context.Context, chunks []models.Chunk) (*BleveIndex, error) {
	idx, err := NewBleveIndex()
	if err != nil {
		return nil, err
	}
	if err := idx.Add(ctx, chunks); err != nil {
		_ = idx.Close()
		return nil, err
	}
	return idx, nil
}

// Add indexes chunks in a single batch, keyed by chunk ID.
func (b *BleveIndex) Add(ctx context.Context, chunks []models.Chunk) error {
	batch := b.index.NewBatch()
	for _, c := range chunks {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := batch.Index(c.ID, chunkDoc{Content: c.Text, Title: c.DocumentName}); err != nil {
			return fmt.Errorf("index chunk %s: %w", c.ID, err)
		}
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("Bleve batch failed: %w", err)
	}
	return nil
}

// Search returns up to limit chunks matching query, best first.
// With opts.TitleBoost > 1 the document name and the chunk text are queried
// separately and merged additively; multi-term queries are then scaled by
// the squared fraction of query terms each chunk matches.
func (b *BleveIndex) Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]Result, error) {
	terms := tokenizeQuery(query)
	if len(terms) == 0 || limit < 1 {
		return []Result{}, nil
	}
	titleBoost := 1.0
	fuzzy := false
	fuzziness := 1
	if opts != nil {
		if opts.TitleBoost > 0 {
			titleBoost = opts.TitleBoost
		}
		fuzzy = opts.FuzzyEnabled
		if opts.Fuzziness > 0 {
			fuzziness = opts.Fuzziness
		}
	}
	if titleBoost <= 1.0 {
		return b.searchSingle(ctx, query, terms, limit, fuzzy, fuzziness)
	}
	return b.searchWithBoost(ctx, query, terms, limit, titleBoost, fuzzy, fuzziness)
}

func (b *BleveIndex) searchSingle(ctx context.Context, query string, terms []string, limit int, fuzzy bool, fuzziness int) ([]Result, error) {
	req := bleve.NewSearchRequest(buildQuery(query, terms, fuzzy, fuzziness, ""))
	req.Size = limit
	res, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}
	out := make([]Result, len(res.Hits))
	for i, hit := range res.Hits {
		out[i] = Result{ID: hit.ID, Score: hit.Score}
	}
	return out, nil
}

func (b *BleveIndex) searchWithBoost(ctx context.Context, query string, terms []string, limit int, titleBoost float64, fuzzy bool, fuzziness int) ([]Result, error) {
	reqSize := limit * 2
	if reqSize < 50 {
		reqSize = 50
	}
	scores := make(map[string]float64)
	for _, field := range []string{"title", "content"} {
		req := bleve.NewSearchRequest(buildQuery(query, terms, fuzzy, fuzziness, field))
		req.Size = reqSize
		res, err := b.index.SearchInContext(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("Bleve %s search failed: %w", field, err)
		}
		for _, hit := range res.Hits {
			if field == "title" {
				scores[hit.ID] += hit.Score * titleBoost
			} else {
				scores[hit.ID] += hit.Score
			}
		}
	}

	if len(terms) > 1 {
		coverage := b.termCoverage(ctx, terms, reqSize, fuzzy, fuzziness)
		for id, s := range scores {
			matched := coverage[id]
			if matched == 0 {
				matched = 1
			}
			c := float64(matched) / float64(len(terms))
			scores[id] = s * c * c
		}
	}

	out := make([]Result, 0, len(scores))
	for id, s := range scores {
		out = append(out, Result{ID: id, Score: s})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// termCoverage counts how many distinct query terms each chunk matches.
func (b *BleveIndex) termCoverage(ctx context.Context, terms []string, reqSize int, fuzzy bool, fuzziness int) map[string]int {
	coverage := make(map[string]int)
	for _, term := range terms {
		req := bleve.NewSearchRequest(buildQuery(term, []string{term}, fuzzy, fuzziness, ""))
		req.Size = reqSize
		res, err := b.index.SearchInContext(ctx, req)
		if err != nil {
			continue
		}
		for _, hit := range res.Hits {
			coverage[hit.ID]++
		}
	}
	return coverage
}

// DocCount returns the number of indexed chunks.
func (b *BleveIndex) DocCount() (uint64, error) {
	return b.index.DocCount()
}

// Close releases the index.
func (b *BleveIndex) Close() error {
	return b.index.Close()
}

// buildQuery returns a match query, or a disjunction of fuzzy term queries
// when fuzzy is set. An empty field searches all fields.
func buildQuery(query string, terms []string, fuzzy bool, fuzziness int, field string) blevequery.Query {
	if !fuzzy {
		mq := bleve.NewMatchQuery(query)
		if field != "" {
			mq.SetField(field)
		}
		return mq
	}
	queries := make([]blevequery.Query, 0, len(terms))
	for _, term := range terms {
		fq := bleve.NewFuzzyQuery(term)
		fq.SetFuzziness(fuzziness)
		if field != "" {
			fq.SetField(field)
		}
		queries = append(queries, fq)
	}
	if len(queries) == 1 {
		return queries[0]
	}
	return bleve.NewDisjunctionQuery(queries...)
}

// tokenizeQuery splits query into lowercase terms with surrounding punctuation removed.
// Question words and other stopwords are dropped unless nothing else remains, since the
// standard analyzer never indexes them and they would only dilute term coverage.
func tokenizeQuery(query string) []string {
	words := strings.Fields(query)
	all := make([]string, 0, len(words))
	terms := make([]string, 0, len(words))
	for _, w := range words {
		w = normalizeToken(w)
		if w == "" {
			continue
		}
		all = append(all, w)
		if _, stop := stopwords[w]; !stop {
			terms = append(terms, w)
		}
	}
	if len(terms) == 0 {
		return all
	}
	return terms
}

// normalizeToken lowercases token and trims edge punctuation, keeping '-' and '_'.
func normalizeToken(token string) string {
	return strings.TrimFunc(strings.ToLower(token), func(r rune) bool {
		return unicode.IsPunct(r) && r != '-' && r != '_'
	})
}

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {}, "by": {},
	"did": {}, "do": {}, "does": {}, "for": {}, "from": {}, "how": {}, "in": {}, "is": {},
	"it": {}, "of": {}, "on": {}, "or": {}, "that": {}, "the": {}, "this": {}, "to": {},
	"was": {}, "were": {}, "what": {}, "when": {}, "where": {}, "which": {}, "who": {},
	"why": {}, "with": {},
}
