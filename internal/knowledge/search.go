package knowledge

import (
	"context"
	"fmt"
	"strings"

	"github.com/PhupaSirirat/dbank-copilot/pkg/llm"
	"github.com/PhupaSirirat/dbank-copilot/pkg/logging"
)

const (
	maxTopK = 20
	// fallbackThreshold is the relaxed similarity floor used by the first
	// two ladder rungs.
	fallbackThreshold = 0.3
)

// ValidCategories are the document categories the knowledge base holds.
var ValidCategories = []string{"product_guide", "support_doc", "reference_doc", "general"}

// vectorSearcher is the slice of Store the searcher needs.
type vectorSearcher interface {
	Search(ctx context.Context, q Query) ([]Document, error)
}

// Searcher embeds the query text and runs vector search with a threshold
// fallback ladder: when a search comes back empty it retries at 0.3 with the
// same category, then at 0.3 without the category, then at 0.0 without the
// category. Each rung runs at most once and an empty final result is a valid
// answer, not an error.
type Searcher struct {
	store    vectorSearcher
	embedder llm.EmbeddingClient
	logger   logging.Logger
}

func NewSearcher(store vectorSearcher, embedder llm.EmbeddingClient, logger logging.Logger) *Searcher {
	return &Searcher{store: store, embedder: embedder, logger: logger}
}

// Params are the caller-facing search knobs.
type Params struct {
	Query          string
	TopK           int
	Category       string
	MinSimilarity  float64
	EnableFallback bool
}

// Response carries the results plus which rung produced them.
type Response struct {
	Results       []Document `json:"results"`
	Count         int        `json:"count"`
	FallbackUsed  bool       `json:"fallback_used"`
	ThresholdUsed float64    `json:"threshold_used"`
}

func (s *Searcher) Search(ctx context.Context, p Params) (*Response, error) {
	if strings.TrimSpace(p.Query) == "" {
		return nil, fmt.Errorf("query cannot be empty")
	}
	if p.TopK < 1 || p.TopK > maxTopK {
		return nil, fmt.Errorf("top_k must be between 1 and %d", maxTopK)
	}
	if p.MinSimilarity < 0.0 || p.MinSimilarity > 1.0 {
		return nil, fmt.Errorf("min_similarity must be between 0.0 and 1.0")
	}
	if p.Category != "" && !validCategory(p.Category) {
		return nil, fmt.Errorf("category must be one of: %s", strings.Join(ValidCategories, ", "))
	}
	if s.embedder == nil {
		return nil, fmt.Errorf("embedding client is not configured")
	}

	vectors, err := s.embedder.Embed(ctx, []string{p.Query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	embedding := vectors[0]

	s.logger.WithFields(logging.Fields{
		"top_k":          p.TopK,
		"category":       p.Category,
		"min_similarity": p.MinSimilarity,
	}).Info("Searching knowledge base")

	docs, err := s.store.Search(ctx, Query{
		Embedding:     embedding,
		TopK:          p.TopK,
		Category:      p.Category,
		MinSimilarity: p.MinSimilarity,
	})
	if err != nil {
		return nil, fmt.Errorf("knowledge base search failed: %w", err)
	}

	resp := &Response{Results: docs, ThresholdUsed: p.MinSimilarity}
	if len(docs) == 0 && p.EnableFallback {
		if err := s.fallback(ctx, embedding, p, resp); err != nil {
			return nil, err
		}
	}
	resp.Count = len(resp.Results)
	return resp, nil
}

// fallback walks the ladder until a rung returns results or the ladder is
// exhausted. resp is updated in place.
func (s *Searcher) fallback(ctx context.Context, embedding []float32, p Params, resp *Response) error {
	type rung struct {
		category  string
		threshold float64
		skip      bool
	}
	rungs := []rung{
		{category: p.Category, threshold: fallbackThreshold, skip: p.MinSimilarity <= fallbackThreshold},
		{category: "", threshold: fallbackThreshold, skip: p.Category == ""},
		{category: "", threshold: 0.0},
	}

	for _, r := range rungs {
		if r.skip {
			continue
		}
		s.logger.WithFields(logging.Fields{
			"threshold": r.threshold,
			"category":  r.category,
		}).Warn("No results, retrying with relaxed search")

		docs, err := s.store.Search(ctx, Query{
			Embedding:     embedding,
			TopK:          p.TopK,
			Category:      r.category,
			MinSimilarity: r.threshold,
		})
		if err != nil {
			return fmt.Errorf("knowledge base search failed: %w", err)
		}
		resp.FallbackUsed = true
		resp.ThresholdUsed = r.threshold
		if len(docs) > 0 {
			resp.Results = docs
			return nil
		}
	}
	return nil
}

func validCategory(category string) bool {
	for _, c := range ValidCategories {
		if c == category {
			return true
		}
	}
	return false
}
