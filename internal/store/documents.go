package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/organa/organa/internal/models"
)

const documentColumns = `doc_id, user_id, original_key, processed_key, extracted_text_key, status, upload_date, processed_date, extraction_date`

// InsertDocument creates the lifecycle row for a fresh upload.
func (s *Store) InsertDocument(ctx context.Context, doc models.Document) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (doc_id, user_id, original_key, status, upload_date)
		VALUES (?, ?, ?, ?, ?)`,
		doc.DocID, doc.UserID, doc.OriginalKey, string(doc.Status),
		doc.UploadDate.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting document %s: %w", doc.DocID, err)
	}
	return nil
}

// GetDocument returns the document with the given ID, or ErrNotFound.
func (s *Store) GetDocument(ctx context.Context, docID string) (models.Document, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE doc_id = ?`, docID)
	return scanDocument(row)
}

// GetDocumentByOriginalKey looks a document up by its upload key. The
// embedding stage uses this reverse lookup after deriving the original key
// from an extracted-text key.
func (s *Store) GetDocumentByOriginalKey(ctx context.Context, key string) (models.Document, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE original_key = ?`, key)
	return scanDocument(row)
}

// ListDocuments returns a user's documents, newest upload first.
func (s *Store) ListDocuments(ctx context.Context, userID string) ([]models.Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+documentColumns+` FROM documents
		WHERE user_id = ? ORDER BY upload_date DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing documents for %s: %w", userID, err)
	}
	defer rows.Close()

	var docs []models.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// StartProcessing moves a document from uploaded to processing and stamps
// processed_date. The status precondition makes a duplicate trigger a no-op
// instead of re-running a stage that is already past this point.
func (s *Store) StartProcessing(ctx context.Context, docID string, now time.Time) (bool, error) {
	return s.transition(ctx, docID, models.StatusUploaded, models.StatusProcessing,
		"processed_date", now)
}

// FinishProcessing records the processed artifact's key and advances the
// status to processed.
func (s *Store) FinishProcessing(ctx context.Context, docID, processedKey string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents SET processed_key = ?, status = ?
		WHERE doc_id = ? AND status = ?`,
		processedKey, string(models.StatusProcessed), docID, string(models.StatusProcessing))
	if err != nil {
		return false, fmt.Errorf("finishing processing for %s: %w", docID, err)
	}
	return affected(res)
}

// StartExtracting moves a document from processed to extracting and stamps
// extraction_date.
func (s *Store) StartExtracting(ctx context.Context, docID string, now time.Time) (bool, error) {
	return s.transition(ctx, docID, models.StatusProcessed, models.StatusExtracting,
		"extraction_date", now)
}

// FinishExtracting records the extracted-text key and advances the status to
// extracted.
func (s *Store) FinishExtracting(ctx context.Context, docID, extractedTextKey string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents SET extracted_text_key = ?, status = ?
		WHERE doc_id = ? AND status = ?`,
		extractedTextKey, string(models.StatusExtracted), docID, string(models.StatusExtracting))
	if err != nil {
		return false, fmt.Errorf("finishing extraction for %s: %w", docID, err)
	}
	return affected(res)
}

// MarkFailed flips a document to failed. Terminal states are left alone:
// a late failure signal must not reopen an embedded document.
func (s *Store) MarkFailed(ctx context.Context, docID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE documents SET status = ?
		WHERE doc_id = ? AND status NOT IN (?, ?)`,
		string(models.StatusFailed), docID,
		string(models.StatusEmbedded), string(models.StatusFailed))
	if err != nil {
		return fmt.Errorf("marking %s failed: %w", docID, err)
	}
	return nil
}

// MarkFailedByOriginalKey marks failed by upload key, for notifications
// whose embedded document ID cannot be parsed.
func (s *Store) MarkFailedByOriginalKey(ctx context.Context, key string) error {
	return s.markFailedByKey(ctx, "original_key", key)
}

// MarkFailedByProcessedKey is the processed-artifact counterpart of
// MarkFailedByOriginalKey.
func (s *Store) MarkFailedByProcessedKey(ctx context.Context, key string) error {
	return s.markFailedByKey(ctx, "processed_key", key)
}

func (s *Store) markFailedByKey(ctx context.Context, column, key string) error {
	// column is one of two compile-time constants, never user input.
	_, err := s.db.ExecContext(ctx, `
		UPDATE documents SET status = ?
		WHERE `+column+` = ? AND status NOT IN (?, ?)`,
		string(models.StatusFailed), key,
		string(models.StatusEmbedded), string(models.StatusFailed))
	if err != nil {
		return fmt.Errorf("marking failed by %s: %w", column, err)
	}
	return nil
}

func (s *Store) transition(ctx context.Context, docID string, from, to models.Status, dateColumn string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents SET status = ?, `+dateColumn+` = ?
		WHERE doc_id = ? AND status = ?`,
		string(to), now.UTC().Format(time.RFC3339), docID, string(from))
	if err != nil {
		return false, fmt.Errorf("transitioning %s to %s: %w", docID, to, err)
	}
	return affected(res)
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (models.Document, error) {
	var (
		doc            models.Document
		status         string
		processedKey   sql.NullString
		extractedKey   sql.NullString
		uploadDate     string
		processedDate  sql.NullString
		extractionDate sql.NullString
	)
	err := row.Scan(&doc.DocID, &doc.UserID, &doc.OriginalKey, &processedKey,
		&extractedKey, &status, &uploadDate, &processedDate, &extractionDate)
	if err == sql.ErrNoRows {
		return models.Document{}, ErrNotFound
	}
	if err != nil {
		return models.Document{}, fmt.Errorf("scanning document: %w", err)
	}

	doc.Status = models.Status(status)
	doc.ProcessedKey = processedKey.String
	doc.ExtractedTextKey = extractedKey.String
	if doc.UploadDate, err = time.Parse(time.RFC3339, uploadDate); err != nil {
		return models.Document{}, fmt.Errorf("parsing upload_date: %w", err)
	}
	if doc.ProcessedDate, err = parseNullTime(processedDate); err != nil {
		return models.Document{}, fmt.Errorf("parsing processed_date: %w", err)
	}
	if doc.ExtractionDate, err = parseNullTime(extractionDate); err != nil {
		return models.Document{}, fmt.Errorf("parsing extraction_date: %w", err)
	}
	return doc, nil
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
