// ABOUTME: Vector similarity search over a user's knowledge points
// ABOUTME: Embeds the query and ranks stored embeddings by cosine similarity

package chat

import (
	"context"
	"fmt"
	"sort"

	"github.com/MrYang2016/learn-assistant/internal/embedding"
	"github.com/MrYang2016/learn-assistant/internal/store"
)

// Default search parameters. Chat uses a looser threshold and fewer matches
// than explicit search so the prompt stays small.
const (
	DefaultSearchThreshold = 0.7
	DefaultSearchLimit     = 5
	chatSearchThreshold    = 0.6
	chatSearchLimit        = 3
)

// Embedder produces query vectors. Satisfied by *embedding.Client.
type Embedder interface {
	EmbedQuery(ctx context.Context, query string) ([]float32, error)
}

// SearchResult is a knowledge point with its similarity to a query.
type SearchResult struct {
	ID         string  `json:"id"`
	Question   string  `json:"question"`
	Answer     string  `json:"answer"`
	Similarity float64 `json:"similarity"`
}

// Searcher ranks a user's knowledge points against a query.
type Searcher struct {
	store    store.Store
	embedder Embedder
}

// NewSearcher creates a searcher over the given store and embedder.
func NewSearcher(s store.Store, e Embedder) *Searcher {
	return &Searcher{store: s, embedder: e}
}

// Search embeds the query and returns the user's points with similarity at
// or above threshold, best first, at most limit results. Ranking is a
// brute-force scan of the user's stored embeddings; corpora are small enough
// that an index would not pay for itself.
func (s *Searcher) Search(ctx context.Context, userID, query string, threshold float64, limit int) ([]SearchResult, error) {
	if threshold <= 0 {
		threshold = DefaultSearchThreshold
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	queryVec, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	points, err := s.store.ListPointsWithEmbeddings(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading embedded points: %w", err)
	}

	var results []SearchResult
	for _, p := range points {
		sim := embedding.CosineSimilarity(queryVec, p.Embedding)
		if sim < threshold {
			continue
		}
		results = append(results, SearchResult{
			ID:         p.ID,
			Question:   p.Question,
			Answer:     p.Answer,
			Similarity: sim,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}
