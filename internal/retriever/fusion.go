package retriever

import (
	"sort"

	"github.com/hyperjump/kaiwa/internal/keyword"
	"github.com/hyperjump/kaiwa/internal/models"
	"github.com/hyperjump/kaiwa/internal/vector"
)

// FusedResult holds a chunk ID and its fused keyword/semantic scores.
type FusedResult struct {
	ChunkID       string
	Score         float64
	KeywordScore  float64
	SemanticScore float64
}

// NormalizeKeywordScores normalizes BM25 scores to [0,1] by the maximum.
func NormalizeKeywordScores(results []keyword.Result) map[string]float64 {
	normalized := make(map[string]float64, len(results))
	if len(results) == 0 {
		return normalized
	}
	maxScore := results[0].Score
	for _, r := range results {
		if r.Score > maxScore {
			maxScore = r.Score
		}
	}
	for _, r := range results {
		if maxScore > 0 {
			normalized[r.ID] = r.Score / maxScore
		} else {
			normalized[r.ID] = 0
		}
	}
	return normalized
}

// NormalizeSemanticScores maps vector scores to [0,1]. Cosine similarity
// is clamped at zero; negated L2 distance d becomes 1/(1+d).
func NormalizeSemanticScores(results []models.ScoredChunk, metric vector.Metric) map[string]float64 {
	normalized := make(map[string]float64, len(results))
	for _, r := range results {
		s := r.Score
		if metric == vector.MetricL2 {
			s = 1 / (1 - s)
		} else if s < 0 {
			s = 0
		}
		normalized[r.Chunk.ID] = s
	}
	return normalized
}

// Fuse merges keyword and semantic score maps with weights and returns results
// sorted by fused score. order lists chunk IDs in the order ties are broken.
func Fuse(keywordScores, semanticScores map[string]float64, keywordWeight, semanticWeight float64, order []string) []*FusedResult {
	scoreMap := make(map[string]*FusedResult, len(order))
	results := make([]*FusedResult, 0, len(order))
	for _, id := range order {
		if _, seen := scoreMap[id]; seen {
			continue
		}
		kw, hasKW := keywordScores[id]
		sem, hasSem := semanticScores[id]
		if !hasKW && !hasSem {
			continue
		}
		r := &FusedResult{ChunkID: id, KeywordScore: kw, SemanticScore: sem}
		r.Score = keywordWeight*kw + semanticWeight*sem
		scoreMap[id] = r
		results = append(results, r)
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	return results
}
