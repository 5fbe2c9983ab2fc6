package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/organa/organa/internal/models"
)

// CreateGroup inserts a new, empty document group.
func (s *Store) CreateGroup(ctx context.Context, g models.Group) error {
	createdAt := g.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO groups (group_id, user_id, name, created_at)
		VALUES (?, ?, ?, ?)`,
		g.GroupID, g.UserID, g.Name, createdAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("inserting group %s: %w", g.GroupID, err)
	}
	return nil
}

// ListGroups returns a user's groups with their document counts, newest
// group first.
func (s *Store) ListGroups(ctx context.Context, userID string) ([]models.Group, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT g.group_id, g.user_id, g.name, g.created_at, COUNT(dg.doc_id)
		FROM groups g
		LEFT JOIN document_groups dg ON dg.group_id = g.group_id
		WHERE g.user_id = ?
		GROUP BY g.group_id
		ORDER BY g.created_at DESC, g.group_id ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing groups for %s: %w", userID, err)
	}
	defer rows.Close()

	var groups []models.Group
	for rows.Next() {
		var (
			g         models.Group
			createdAt string
		)
		if err := rows.Scan(&g.GroupID, &g.UserID, &g.Name, &createdAt, &g.DocumentCount); err != nil {
			return nil, fmt.Errorf("scanning group row: %w", err)
		}
		if g.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at for %s: %w", g.GroupID, err)
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// AssignToGroup puts a document into a group. Both must exist and belong
// to userID, otherwise ErrNotFound; assigning a document already in the
// group is a no-op.
func (s *Store) AssignToGroup(ctx context.Context, userID, groupID, docID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning assignment transaction: %w", err)
	}
	defer tx.Rollback()

	var groupOwner string
	err = tx.QueryRowContext(ctx, `SELECT user_id FROM groups WHERE group_id = ?`, groupID).Scan(&groupOwner)
	if err == sql.ErrNoRows || (err == nil && groupOwner != userID) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("looking up group %s: %w", groupID, err)
	}

	var docOwner string
	err = tx.QueryRowContext(ctx, `SELECT user_id FROM documents WHERE doc_id = ?`, docID).Scan(&docOwner)
	if err == sql.ErrNoRows || (err == nil && docOwner != userID) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("looking up document %s: %w", docID, err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO document_groups (group_id, doc_id)
		VALUES (?, ?)`, groupID, docID); err != nil {
		return fmt.Errorf("assigning %s to group %s: %w", docID, groupID, err)
	}
	return tx.Commit()
}
