package store

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/organa/organa/internal/models"
)

// InsertEmbedding stores an embedding row and advances its document to
// embedded in one transaction. Any failure rolls the whole thing back and is
// returned to the caller so the triggering event can be redelivered.
//
// The doc_id primary key is the at-most-one-embedding guard: a duplicate
// stage execution fails the insert instead of creating a second row.
func (s *Store) InsertEmbedding(ctx context.Context, e models.Embedding) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning embedding transaction: %w", err)
	}

	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO embeddings (doc_id, user_id, processed_key, extracted_text_key, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.DocID, e.UserID, e.ProcessedKey, e.ExtractedTextKey,
		encodeVector(e.Vector), createdAt.UTC().Format(time.RFC3339))
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("inserting embedding for %s: %w", e.DocID, err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE documents SET status = ? WHERE doc_id = ? AND status = ?`,
		string(models.StatusEmbedded), e.DocID, string(models.StatusExtracted)); err != nil {
		tx.Rollback()
		return fmt.Errorf("advancing %s to embedded: %w", e.DocID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing embedding for %s: %w", e.DocID, err)
	}
	return nil
}

// CountEmbeddings returns the number of embedding rows a user owns. The
// search engine short-circuits on zero to avoid a degenerate scoring pass.
func (s *Store) CountEmbeddings(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM embeddings WHERE user_id = ?`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting embeddings for %s: %w", userID, err)
	}
	return count, nil
}

// EmbeddingsByUser returns all of a user's embeddings in insertion order
// (doc_id ascending), which gives identical scores a deterministic order.
func (s *Store) EmbeddingsByUser(ctx context.Context, userID string) ([]models.Embedding, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT doc_id, user_id, processed_key, extracted_text_key, embedding, created_at
		FROM embeddings WHERE user_id = ? ORDER BY doc_id ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying embeddings for %s: %w", userID, err)
	}
	defer rows.Close()

	var result []models.Embedding
	for rows.Next() {
		var (
			e         models.Embedding
			blob      []byte
			createdAt string
		)
		if err := rows.Scan(&e.DocID, &e.UserID, &e.ProcessedKey, &e.ExtractedTextKey, &blob, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning embedding row: %w", err)
		}
		if e.Vector, err = decodeVector(blob); err != nil {
			return nil, fmt.Errorf("decoding embedding for %s: %w", e.DocID, err)
		}
		if e.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at for %s: %w", e.DocID, err)
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

// encodeVector serializes a float32 vector to little-endian bytes.
func encodeVector(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeVector deserializes little-endian bytes into a float32 vector.
func decodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}
