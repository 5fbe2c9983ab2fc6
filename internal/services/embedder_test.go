package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/organa/organa/internal/models"
	"github.com/organa/organa/internal/objstore"
	"github.com/organa/organa/internal/store"
)

type fakeEmbedder struct {
	lastText string
	vector   []float32
	err      error
	calls    int
}

func (e *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.calls++
	e.lastText = text
	if e.err != nil {
		return nil, e.err
	}
	return e.vector, nil
}

func insertExtracted(t *testing.T, st *store.Store, docID, originalKey, processedKey, textKey string) {
	t.Helper()
	ctx := context.Background()
	insertProcessed(t, st, docID, originalKey, processedKey)
	if ok, err := st.StartExtracting(ctx, docID, time.Now().UTC()); err != nil || !ok {
		t.Fatalf("StartExtracting: ok=%v err=%v", ok, err)
	}
	if ok, err := st.FinishExtracting(ctx, docID, textKey); err != nil || !ok {
		t.Fatalf("FinishExtracting: ok=%v err=%v", ok, err)
	}
}

func TestEmbedderHappyPath(t *testing.T) {
	st := newTestStore(t)
	originalKey := "original/alice/scan-" + testDocID + ".pdf"
	processedKey := "processed/alice/scan-" + testDocID + ".pdf"
	textKey := "extracted-text/alice/scan-" + testDocID + ".txt"
	insertExtracted(t, st, testDocID, originalKey, processedKey, textKey)

	objects := objstore.NewMem()
	objects.Put(testBucket, textKey, []byte("Hello\nWorld"))

	embedder := &fakeEmbedder{vector: []float32{0.1, 0.2, 0.3}}
	f := NewDocEmbedder(st, objects, embedder)
	if err := f.Process(context.Background(), []models.Notification{{Bucket: testBucket, Key: textKey}}); err != nil {
		t.Fatalf("Process: %v", err)
	}

	if embedder.lastText != "Hello\nWorld" {
		t.Errorf("embedded text = %q, want %q", embedder.lastText, "Hello\nWorld")
	}

	doc, err := st.GetDocument(context.Background(), testDocID)
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if doc.Status != models.StatusEmbedded {
		t.Errorf("status = %q, want %q", doc.Status, models.StatusEmbedded)
	}

	stored, err := st.EmbeddingsByUser(context.Background(), "alice")
	if err != nil {
		t.Fatalf("EmbeddingsByUser: %v", err)
	}
	if len(stored) != 1 {
		t.Fatalf("embedding count = %d, want 1", len(stored))
	}
	if stored[0].DocID != testDocID || stored[0].ExtractedTextKey != textKey {
		t.Errorf("stored embedding = %+v", stored[0])
	}
}

func TestEmbedderDropsOrphanedText(t *testing.T) {
	st := newTestStore(t)
	textKey := "extracted-text/alice/ghost-" + testDocID + ".txt"

	objects := objstore.NewMem()
	objects.Put(testBucket, textKey, []byte("orphan"))

	embedder := &fakeEmbedder{vector: []float32{0.1}}
	f := NewDocEmbedder(st, objects, embedder)
	if err := f.Process(context.Background(), []models.Notification{{Bucket: testBucket, Key: textKey}}); err != nil {
		t.Fatalf("Process on orphaned text should not fail: %v", err)
	}
	if embedder.calls != 0 {
		t.Error("embedder called for an orphaned text object")
	}
}

func TestEmbedderPropagatesProviderErrors(t *testing.T) {
	st := newTestStore(t)
	originalKey := "original/alice/scan-" + testDocID + ".pdf"
	processedKey := "processed/alice/scan-" + testDocID + ".pdf"
	textKey := "extracted-text/alice/scan-" + testDocID + ".txt"
	insertExtracted(t, st, testDocID, originalKey, processedKey, textKey)

	objects := objstore.NewMem()
	objects.Put(testBucket, textKey, []byte("text"))

	wantErr := errors.New("rate limited")
	f := NewDocEmbedder(st, objects, &fakeEmbedder{err: wantErr})
	err := f.Process(context.Background(), []models.Notification{{Bucket: testBucket, Key: textKey}})
	if !errors.Is(err, wantErr) {
		t.Fatalf("Process error = %v, want wrapped %v", err, wantErr)
	}

	// The document stays extracted so a redelivered event can retry it.
	doc, _ := st.GetDocument(context.Background(), testDocID)
	if doc.Status != models.StatusExtracted {
		t.Errorf("status = %q, want %q", doc.Status, models.StatusExtracted)
	}
}

func TestEmbedderSkipsOtherPrefixes(t *testing.T) {
	st := newTestStore(t)
	embedder := &fakeEmbedder{vector: []float32{0.1}}
	f := NewDocEmbedder(st, objstore.NewMem(), embedder)

	batch := []models.Notification{
		{Bucket: testBucket, Key: "original/alice/scan-" + testDocID + ".pdf"},
		{Bucket: testBucket, Key: "processed/alice/scan-" + testDocID + ".pdf"},
	}
	if err := f.Process(context.Background(), batch); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if embedder.calls != 0 {
		t.Error("embedder called for non-extracted-text keys")
	}
}
