package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/sendquill/sendquill/internal/domain"
	"github.com/sendquill/sendquill/internal/service/template"
)

// TemplateRepo implements template.Repository against PostgreSQL.
type TemplateRepo struct{ db *sql.DB }

// NewTemplateRepo creates a Postgres-backed template repository.
func NewTemplateRepo(db *sql.DB) *TemplateRepo { return &TemplateRepo{db: db} }

func (r *TemplateRepo) Create(ctx context.Context, t *domain.Template) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO templates (id, user_id, name, subject, content, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, t.ID, t.UserID, t.Name, t.Subject, t.Content, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create template: %w", err)
	}
	return nil
}

func (r *TemplateRepo) Get(ctx context.Context, id string) (*domain.Template, error) {
	t, err := getTemplate(ctx, r.db, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, template.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get template: %w", err)
	}
	return t, nil
}

func getTemplate(ctx context.Context, db *sql.DB, id string) (*domain.Template, error) {
	t := &domain.Template{}
	err := db.QueryRowContext(ctx, `
		SELECT id, user_id, name, subject, content, created_at, updated_at
		FROM templates WHERE id = $1
	`, id).Scan(&t.ID, &t.UserID, &t.Name, &t.Subject, &t.Content, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (r *TemplateRepo) List(ctx context.Context, userID string) ([]domain.Template, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, name, subject, content, created_at, updated_at
		FROM templates WHERE user_id = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	var out []domain.Template
	for rows.Next() {
		var t domain.Template
		if err := rows.Scan(&t.ID, &t.UserID, &t.Name, &t.Subject, &t.Content, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
