package services

import (
	"context"
	"math"
	"testing"

	"github.com/organa/organa/internal/models"
	"github.com/organa/organa/internal/store"
)

func insertEmbedding(t *testing.T, st *store.Store, docID, userID string, vector []float32) {
	t.Helper()
	err := st.InsertEmbedding(context.Background(), models.Embedding{
		DocID:            docID,
		UserID:           userID,
		ProcessedKey:     "processed/" + userID + "/doc-" + docID + ".pdf",
		ExtractedTextKey: "extracted-text/" + userID + "/doc-" + docID + ".txt",
		Vector:           vector,
	})
	if err != nil {
		t.Fatalf("inserting embedding %s: %v", docID, err)
	}
}

func TestSearchRanksByCosineSimilarity(t *testing.T) {
	st := newTestStore(t)
	// Query vector {1, 0}: the first document aligns closely, the second
	// less so, the third is orthogonal.
	insertEmbedding(t, st, "11111111-1111-1111-1111-111111111111", "alice", []float32{0.8, 0.6})
	insertEmbedding(t, st, "22222222-2222-2222-2222-222222222222", "alice", []float32{1, 0})
	insertEmbedding(t, st, "33333333-3333-3333-3333-333333333333", "alice", []float32{0, 1})

	embedder := &fakeEmbedder{vector: []float32{1, 0}}
	search := NewSearch(st, embedder)

	results, err := search.Query(context.Background(), "alice", "invoices", 0, DefaultSearchThreshold)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("result count = %d, want 2 (orthogonal doc filtered out)", len(results))
	}
	if results[0].DocID != "22222222-2222-2222-2222-222222222222" {
		t.Errorf("best match = %s, want the aligned document", results[0].DocID)
	}
	if math.Abs(results[0].SimilarityScore-1) > 1e-6 {
		t.Errorf("best score = %f, want 1", results[0].SimilarityScore)
	}
	if math.Abs(results[1].SimilarityScore-0.8) > 1e-6 {
		t.Errorf("second score = %f, want 0.8", results[1].SimilarityScore)
	}
	if results[0].FilePath == "" || results[0].ExtractedTextPath == "" {
		t.Error("result paths should be populated")
	}
}

func TestSearchAppliesThreshold(t *testing.T) {
	st := newTestStore(t)
	// Integer components keep the scores exact: {4,3} scores 0.8 against
	// {1,0}, {3,4} scores 0.6.
	insertEmbedding(t, st, "11111111-1111-1111-1111-111111111111", "alice", []float32{4, 3})
	insertEmbedding(t, st, "22222222-2222-2222-2222-222222222222", "alice", []float32{3, 4})

	search := NewSearch(st, &fakeEmbedder{vector: []float32{1, 0}})
	results, err := search.Query(context.Background(), "alice", "q", 0, 0.7)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("result count = %d, want 1", len(results))
	}
	if results[0].DocID != "11111111-1111-1111-1111-111111111111" {
		t.Errorf("surviving doc = %s", results[0].DocID)
	}

	// A score exactly at the threshold is kept.
	results, err = search.Query(context.Background(), "alice", "q", 0, 0.6)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(results) != 2 {
		t.Errorf("result count at inclusive threshold = %d, want 2", len(results))
	}
}

func TestSearchTruncatesToLimit(t *testing.T) {
	st := newTestStore(t)
	ids := []string{
		"11111111-1111-1111-1111-111111111111",
		"22222222-2222-2222-2222-222222222222",
		"33333333-3333-3333-3333-333333333333",
	}
	for _, id := range ids {
		insertEmbedding(t, st, id, "alice", []float32{1, 0})
	}

	search := NewSearch(st, &fakeEmbedder{vector: []float32{1, 0}})
	results, err := search.Query(context.Background(), "alice", "q", 2, 0)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(results) != 2 {
		t.Errorf("result count = %d, want limit 2", len(results))
	}
	// Equal scores keep insertion order.
	if results[0].DocID != ids[0] || results[1].DocID != ids[1] {
		t.Errorf("tied results reordered: %s, %s", results[0].DocID, results[1].DocID)
	}
}

func TestSearchShortCircuitsWithoutEmbeddings(t *testing.T) {
	st := newTestStore(t)
	embedder := &fakeEmbedder{vector: []float32{1, 0}}
	search := NewSearch(st, embedder)

	results, err := search.Query(context.Background(), "nobody", "anything", 0, DefaultSearchThreshold)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("result count = %d, want 0", len(results))
	}
	if embedder.calls != 0 {
		t.Error("query embedded despite the user having no documents")
	}
}

func TestSearchScopedToUser(t *testing.T) {
	st := newTestStore(t)
	insertEmbedding(t, st, "11111111-1111-1111-1111-111111111111", "alice", []float32{1, 0})
	insertEmbedding(t, st, "22222222-2222-2222-2222-222222222222", "bob", []float32{1, 0})

	search := NewSearch(st, &fakeEmbedder{vector: []float32{1, 0}})
	results, err := search.Query(context.Background(), "alice", "q", 0, 0)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(results) != 1 || results[0].DocID != "11111111-1111-1111-1111-111111111111" {
		t.Errorf("results leaked across users: %+v", results)
	}
}
