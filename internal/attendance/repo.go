package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Repository persists attendance records in Postgres or SQLite.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// MemberOwned reports whether memberID belongs to userID.
func (r *Repository) MemberOwned(ctx context.Context, userID, memberID string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx, `SELECT 1 FROM members WHERE id = $1 AND user_id = $2`, memberID, userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check member owner: %w", err)
	}
	return true, nil
}

// GetRecord returns the record for (member, date) or nil when none exists.
func (r *Repository) GetRecord(ctx context.Context, userID, memberID string, date Date) (*Record, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT a.id, a.member_id, a.attendance_date, a.present
		FROM attendance_records a
		JOIN members m ON m.id = a.member_id
		WHERE a.member_id = $1 AND a.attendance_date = $2 AND m.user_id = $3
	`, memberID, date.String(), userID)
	var rec Record
	if err := row.Scan(&rec.ID, &rec.MemberID, &rec.Date, &rec.Present); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get attendance: %w", err)
	}
	return &rec, nil
}

// ToggleRecord inserts a present record or flips the existing one in a single
// upsert on the (member_id, attendance_date) key.
func (r *Repository) ToggleRecord(ctx context.Context, memberID string, date Date) (Record, error) {
	rec := Record{MemberID: memberID, Date: date}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO attendance_records (id, member_id, attendance_date, present)
		VALUES ($1, $2, $3, TRUE)
		ON CONFLICT (member_id, attendance_date)
		DO UPDATE SET present = NOT attendance_records.present
		RETURNING id, present
	`, uuid.NewString(), memberID, date.String())
	if err := row.Scan(&rec.ID, &rec.Present); err != nil {
		return Record{}, fmt.Errorf("toggle attendance: %w", err)
	}
	return rec, nil
}

// RecordsForDate returns all of the user's records on date in one query.
func (r *Repository) RecordsForDate(ctx context.Context, userID string, date Date) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT a.id, a.member_id, a.attendance_date, a.present
		FROM attendance_records a
		JOIN members m ON m.id = a.member_id
		WHERE m.user_id = $1 AND a.attendance_date = $2
	`, userID, date.String())
	if err != nil {
		return nil, fmt.Errorf("query attendance: %w", err)
	}
	defer rows.Close()

	var res []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.MemberID, &rec.Date, &rec.Present); err != nil {
			return nil, fmt.Errorf("scan attendance: %w", err)
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}
