// Package audit keeps a durable trail of session events taken off the bus.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"gracelog/internal/session"
)

// Entry is one recorded session event.
type Entry struct {
	ID     string            `json:"id"`
	UserID string            `json:"user_id"`
	Email  string            `json:"email"`
	Event  session.EventType `json:"event"`
	At     time.Time         `json:"at"`
}

// Repository persists audit entries.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Record(ctx context.Context, evt session.Event) (Entry, error) {
	e := Entry{ID: uuid.NewString(), UserID: evt.UserID, Email: evt.Email, Event: evt.Type, At: evt.At.UTC()}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO session_audit (id, user_id, email, event, event_at)
		VALUES ($1, $2, $3, $4, $5)`,
		e.ID, e.UserID, e.Email, string(e.Event), e.At)
	if err != nil {
		return Entry{}, fmt.Errorf("record audit entry: %w", err)
	}
	return e, nil
}

// ForUser returns a user's most recent entries, newest first.
func (r *Repository) ForUser(ctx context.Context, userID string, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, email, event, event_at
		FROM session_audit
		WHERE user_id = $1
		ORDER BY event_at DESC, id DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var event string
		if err := rows.Scan(&e.ID, &e.UserID, &e.Email, &event, &e.At); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.Event = session.EventType(event)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Consume records every event from bus until ctx is cancelled. A failed write
// is logged and the event skipped.
func Consume(ctx context.Context, bus session.Bus, repo *Repository, log *zap.Logger) error {
	events, unsubscribe, err := bus.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	defer unsubscribe()

	for evt := range events {
		if _, err := repo.Record(ctx, evt); err != nil {
			log.Warn("audit write failed", zap.String("type", string(evt.Type)), zap.String("user_id", evt.UserID), zap.Error(err))
			continue
		}
		log.Debug("session event recorded", zap.String("type", string(evt.Type)), zap.String("user_id", evt.UserID))
	}
	return nil
}
