package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/organa/organa/internal/embedding"
	"github.com/organa/organa/internal/keys"
	"github.com/organa/organa/internal/models"
	"github.com/organa/organa/internal/objstore"
	"github.com/organa/organa/internal/store"
)

// DocEmbedder turns extracted text into vector embeddings. Unlike the
// earlier stages it propagates failures to the caller instead of marking
// documents failed: embedding errors are typically transient provider
// errors, and a redelivered event picks the document up again.
type DocEmbedder struct {
	store    *store.Store
	objects  objstore.Store
	embedder embedding.Embedder
}

// NewDocEmbedder creates a new DocEmbedder function instance.
func NewDocEmbedder(st *store.Store, objects objstore.Store, embedder embedding.Embedder) *DocEmbedder {
	return &DocEmbedder{
		store:    st,
		objects:  objects,
		embedder: embedder,
	}
}

// Process handles a batch of storage notifications for extracted-text
// objects. Every record is attempted; the joined error of all failed
// records is returned so the delivery mechanism retries the batch.
func (f *DocEmbedder) Process(ctx context.Context, batch []models.Notification) error {
	var errs []error
	for _, n := range batch {
		logCtx := slog.With("bucket", n.Bucket, "key", n.Key)

		if !keys.IsExtractedText(n.Key) {
			logCtx.Debug("Skipping non-extracted-text object")
			continue
		}

		if err := f.processDocument(ctx, logCtx, n); err != nil {
			logCtx.Error("Failed to embed document", "error", err)
			errs = append(errs, fmt.Errorf("embedding %s: %w", n.Key, err))
		}
	}
	return errors.Join(errs...)
}

func (f *DocEmbedder) processDocument(ctx context.Context, logCtx *slog.Logger, n models.Notification) error {
	originalKey := keys.OriginalKey(n.Key)

	doc, err := f.store.GetDocumentByOriginalKey(ctx, originalKey)
	if errors.Is(err, store.ErrNotFound) {
		// Orphaned text object, possibly from a document deleted while
		// the pipeline was running. Nothing to retry.
		logCtx.Warn("No document found for extracted text, dropping", "original_key", originalKey)
		return nil
	}
	if err != nil {
		return fmt.Errorf("looking up document: %w", err)
	}
	logCtx = logCtx.With("doc_id", doc.DocID)

	text, err := f.objects.Download(ctx, n.Bucket, n.Key)
	if err != nil {
		return fmt.Errorf("downloading extracted text: %w", err)
	}

	vector, err := f.embedder.Embed(ctx, string(text))
	if err != nil {
		return fmt.Errorf("embedding text: %w", err)
	}

	err = f.store.InsertEmbedding(ctx, models.Embedding{
		DocID:            doc.DocID,
		UserID:           doc.UserID,
		ProcessedKey:     doc.ProcessedKey,
		ExtractedTextKey: n.Key,
		Vector:           vector,
	})
	if err != nil {
		return fmt.Errorf("storing embedding: %w", err)
	}

	logCtx.Info("Embedded document", "dimensions", len(vector))
	return nil
}
