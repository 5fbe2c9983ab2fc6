package services

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/organa/organa/internal/embedding"
	"github.com/organa/organa/internal/models"
	"github.com/organa/organa/internal/store"
)

const (
	// DefaultSearchLimit caps the result list when the caller does not ask
	// for a specific size.
	DefaultSearchLimit = 5
	// DefaultSearchThreshold filters out documents whose similarity to the
	// query is too weak to be a plausible match.
	DefaultSearchThreshold = 0.2
)

// Search ranks a user's embedded documents against a natural-language
// query by cosine similarity.
type Search struct {
	store    *store.Store
	embedder embedding.Embedder
}

// NewSearch creates a new Search engine instance.
func NewSearch(st *store.Store, embedder embedding.Embedder) *Search {
	return &Search{store: st, embedder: embedder}
}

// Query embeds the query text and returns the user's documents scoring at
// or above threshold, best match first, at most limit results. A limit of
// zero or less means DefaultSearchLimit. Users with no embedded documents
// get an empty result without spending an embedding call.
func (s *Search) Query(ctx context.Context, userID, query string, limit int, threshold float64) ([]models.SearchResult, error) {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	count, err := s.store.CountEmbeddings(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("counting embeddings: %w", err)
	}
	if count == 0 {
		return []models.SearchResult{}, nil
	}

	queryVector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	embeddings, err := s.store.EmbeddingsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading embeddings: %w", err)
	}

	results := make([]models.SearchResult, 0, len(embeddings))
	for _, e := range embeddings {
		if len(e.Vector) != len(queryVector) {
			slog.Warn("Skipping embedding with mismatched dimensions",
				"doc_id", e.DocID, "have", len(e.Vector), "want", len(queryVector))
			continue
		}
		score := cosineSimilarity(queryVector, e.Vector)
		if score < threshold {
			continue
		}
		results = append(results, models.SearchResult{
			DocID:             e.DocID,
			FilePath:          e.ProcessedKey,
			ExtractedTextPath: e.ExtractedTextKey,
			SimilarityScore:   score,
		})
	}

	// Stable sort keeps equal scores in doc_id order, so repeated queries
	// return the same ranking.
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].SimilarityScore > results[j].SimilarityScore
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// cosineSimilarity computes the cosine of the angle between two equal
// length vectors. A zero vector on either side scores zero.
func cosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
