package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sendquill/sendquill/internal/domain"
)

// EventRepo appends tracking events. It implements tracking.EventRecorder.
type EventRepo struct{ db *sql.DB }

// NewEventRepo creates a Postgres-backed event recorder.
func NewEventRepo(db *sql.DB) *EventRepo { return &EventRepo{db: db} }

// RecordEvent inserts one event. Events are append-only with no uniqueness,
// so every open and click is kept.
func (r *EventRepo) RecordEvent(ctx context.Context, e *domain.Event) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO events (id, recipient_id, type, url, user_agent, ip_address, created_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), $7)
	`, e.ID, e.RecipientID, string(e.Type), e.URL, e.UserAgent, e.IPAddress, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("record %s event: %w", e.Type, err)
	}
	return nil
}
