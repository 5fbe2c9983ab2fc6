package store

import (
	"context"
	"testing"
	"time"

	"github.com/organa/organa/internal/models"
)

var ctx = context.Background()

const (
	testDocID = "123e4567-e89b-12d3-a456-426614174000"
	testUser  = "alice"
	testKey   = "original/alice/report-" + testDocID + ".pdf"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("opening test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func insertTestDocument(t *testing.T, s *Store) {
	t.Helper()
	err := s.InsertDocument(ctx, models.Document{
		DocID:       testDocID,
		UserID:      testUser,
		OriginalKey: testKey,
		Status:      models.StatusUploaded,
		UploadDate:  time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("inserting document: %v", err)
	}
}

// advance walks a document through the full successful lifecycle up to (not
// including) the embedding insert.
func advanceToExtracted(t *testing.T, s *Store) {
	t.Helper()
	now := time.Now().UTC()
	steps := []func() (bool, error){
		func() (bool, error) { return s.StartProcessing(ctx, testDocID, now) },
		func() (bool, error) { return s.FinishProcessing(ctx, testDocID, "processed/alice/report-"+testDocID+".pdf") },
		func() (bool, error) { return s.StartExtracting(ctx, testDocID, now) },
		func() (bool, error) { return s.FinishExtracting(ctx, testDocID, "extracted-text/alice/report-"+testDocID+".txt") },
	}
	for i, step := range steps {
		ok, err := step()
		if err != nil {
			t.Fatalf("lifecycle step %d: %v", i, err)
		}
		if !ok {
			t.Fatalf("lifecycle step %d did not match its status precondition", i)
		}
	}
}

func TestDocumentLifecycle(t *testing.T) {
	s := openTestStore(t)
	insertTestDocument(t, s)

	doc, err := s.GetDocument(ctx, testDocID)
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if doc.Status != models.StatusUploaded {
		t.Errorf("fresh document status = %q, want uploaded", doc.Status)
	}
	if doc.ProcessedKey != "" || doc.ExtractedTextKey != "" {
		t.Error("fresh document should have no derived keys")
	}
	if doc.ProcessedDate != nil || doc.ExtractionDate != nil {
		t.Error("fresh document should have no stage timestamps")
	}

	advanceToExtracted(t, s)

	doc, err = s.GetDocument(ctx, testDocID)
	if err != nil {
		t.Fatalf("GetDocument after lifecycle: %v", err)
	}
	if doc.Status != models.StatusExtracted {
		t.Errorf("status = %q, want extracted", doc.Status)
	}
	if doc.ProcessedKey == "" || doc.ExtractedTextKey == "" {
		t.Error("derived keys should be set after extraction")
	}
	if doc.ProcessedDate == nil || doc.ExtractionDate == nil {
		t.Error("stage timestamps should be set after extraction")
	}
}

// Transitions only fire when the document sits in the expected prior status;
// a duplicate or out-of-order trigger is a no-op.
func TestTransitionGuards(t *testing.T) {
	s := openTestStore(t)
	insertTestDocument(t, s)
	now := time.Now().UTC()

	// Out-of-order: extraction cannot start from uploaded.
	ok, err := s.StartExtracting(ctx, testDocID, now)
	if err != nil {
		t.Fatalf("StartExtracting: %v", err)
	}
	if ok {
		t.Error("StartExtracting fired from status uploaded")
	}

	if ok, err = s.StartProcessing(ctx, testDocID, now); err != nil || !ok {
		t.Fatalf("StartProcessing: ok=%v err=%v", ok, err)
	}

	// Duplicate delivery of the same trigger: no-op, state unchanged.
	ok, err = s.StartProcessing(ctx, testDocID, now)
	if err != nil {
		t.Fatalf("duplicate StartProcessing: %v", err)
	}
	if ok {
		t.Error("duplicate StartProcessing fired a second time")
	}
	doc, _ := s.GetDocument(ctx, testDocID)
	if doc.Status != models.StatusProcessing {
		t.Errorf("status after duplicate trigger = %q, want processing", doc.Status)
	}
}

func TestMarkFailed(t *testing.T) {
	s := openTestStore(t)
	insertTestDocument(t, s)

	if err := s.MarkFailed(ctx, testDocID); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	doc, _ := s.GetDocument(ctx, testDocID)
	if doc.Status != models.StatusFailed {
		t.Errorf("status = %q, want failed", doc.Status)
	}

	// failed is terminal: further transitions are no-ops.
	ok, err := s.StartProcessing(ctx, testDocID, time.Now().UTC())
	if err != nil {
		t.Fatalf("StartProcessing after failure: %v", err)
	}
	if ok {
		t.Error("transition fired on a failed document")
	}
}

func TestMarkFailedByKey(t *testing.T) {
	s := openTestStore(t)
	insertTestDocument(t, s)

	if err := s.MarkFailedByOriginalKey(ctx, testKey); err != nil {
		t.Fatalf("MarkFailedByOriginalKey: %v", err)
	}
	doc, _ := s.GetDocument(ctx, testDocID)
	if doc.Status != models.StatusFailed {
		t.Errorf("status = %q, want failed", doc.Status)
	}

	// Unknown key: nothing to do, no error.
	if err := s.MarkFailedByProcessedKey(ctx, "processed/nobody/none.pdf"); err != nil {
		t.Errorf("MarkFailedByProcessedKey on unknown key: %v", err)
	}
}

func TestGetDocumentByOriginalKey(t *testing.T) {
	s := openTestStore(t)
	insertTestDocument(t, s)

	doc, err := s.GetDocumentByOriginalKey(ctx, testKey)
	if err != nil {
		t.Fatalf("GetDocumentByOriginalKey: %v", err)
	}
	if doc.DocID != testDocID {
		t.Errorf("doc_id = %q, want %q", doc.DocID, testDocID)
	}

	if _, err := s.GetDocumentByOriginalKey(ctx, "original/bob/other.pdf"); err != ErrNotFound {
		t.Errorf("unknown key error = %v, want ErrNotFound", err)
	}
}

func TestInsertEmbedding(t *testing.T) {
	s := openTestStore(t)
	insertTestDocument(t, s)
	advanceToExtracted(t, s)

	e := models.Embedding{
		DocID:            testDocID,
		UserID:           testUser,
		ProcessedKey:     "processed/alice/report-" + testDocID + ".pdf",
		ExtractedTextKey: "extracted-text/alice/report-" + testDocID + ".txt",
		Vector:           []float32{0.1, 0.2, 0.3},
	}
	if err := s.InsertEmbedding(ctx, e); err != nil {
		t.Fatalf("InsertEmbedding: %v", err)
	}

	doc, _ := s.GetDocument(ctx, testDocID)
	if doc.Status != models.StatusEmbedded {
		t.Errorf("status after embedding = %q, want embedded", doc.Status)
	}

	got, err := s.EmbeddingsByUser(ctx, testUser)
	if err != nil {
		t.Fatalf("EmbeddingsByUser: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("embedding count = %d, want 1", len(got))
	}
	if len(got[0].Vector) != 3 || got[0].Vector[1] != 0.2 {
		t.Errorf("round-tripped vector = %v", got[0].Vector)
	}

	// At most one embedding per document: the second insert violates the
	// primary key and must not leave a second row.
	if err := s.InsertEmbedding(ctx, e); err == nil {
		t.Fatal("second InsertEmbedding succeeded, want uniqueness violation")
	}
	n, _ := s.CountEmbeddings(ctx, testUser)
	if n != 1 {
		t.Errorf("embedding count after duplicate insert = %d, want 1", n)
	}
}

func TestCountEmbeddingsEmpty(t *testing.T) {
	s := openTestStore(t)
	n, err := s.CountEmbeddings(ctx, "nobody")
	if err != nil {
		t.Fatalf("CountEmbeddings: %v", err)
	}
	if n != 0 {
		t.Errorf("count = %d, want 0", n)
	}
}

func TestListDocumentsOrder(t *testing.T) {
	s := openTestStore(t)
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	ids := []string{
		"11111111-1111-1111-1111-111111111111",
		"22222222-2222-2222-2222-222222222222",
		"33333333-3333-3333-3333-333333333333",
	}
	for i, id := range ids {
		err := s.InsertDocument(ctx, models.Document{
			DocID:       id,
			UserID:      testUser,
			OriginalKey: "original/alice/doc-" + id + ".pdf",
			Status:      models.StatusUploaded,
			UploadDate:  base.Add(time.Duration(i) * time.Hour),
		})
		if err != nil {
			t.Fatalf("inserting %s: %v", id, err)
		}
	}

	docs, err := s.ListDocuments(ctx, testUser)
	if err != nil {
		t.Fatalf("ListDocuments: %v", err)
	}
	if len(docs) != 3 {
		t.Fatalf("document count = %d, want 3", len(docs))
	}
	if docs[0].DocID != ids[2] || docs[2].DocID != ids[0] {
		t.Error("documents not ordered newest first")
	}
}
