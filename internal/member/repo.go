package member

import (
	"context"
	"database/sql"
	"fmt"
)

// Repository persists members in Postgres or SQLite.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// InsertMember writes a new member row.
func (r *Repository) InsertMember(ctx context.Context, m Member) (Member, error) {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO members (id, user_id, name, email, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, m.ID, m.UserID, m.Name, m.Email, m.CreatedAt)
	if err != nil {
		return Member{}, fmt.Errorf("insert member: %w", err)
	}
	return m, nil
}

// ListMembers returns the user's members ordered newest first.
func (r *Repository) ListMembers(ctx context.Context, userID string) ([]Member, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, name, email, created_at
		FROM members
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query members: %w", err)
	}
	defer rows.Close()

	var members []Member
	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.ID, &m.UserID, &m.Name, &m.Email, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// DeleteMember removes one of the user's members.
func (r *Repository) DeleteMember(ctx context.Context, userID, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM members WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("delete member: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete member: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
