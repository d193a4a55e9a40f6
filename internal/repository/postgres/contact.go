package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/sendquill/sendquill/internal/domain"
	"github.com/sendquill/sendquill/internal/service/contact"
)

// ContactRepo implements contact.Repository against PostgreSQL.
type ContactRepo struct{ db *sql.DB }

// NewContactRepo creates a Postgres-backed contact repository.
func NewContactRepo(db *sql.DB) *ContactRepo { return &ContactRepo{db: db} }

func (r *ContactRepo) CreateList(ctx context.Context, l *domain.ContactList) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO contact_lists (id, user_id, name, created_at) VALUES ($1, $2, $3, $4)`,
		l.ID, l.UserID, l.Name, l.CreatedAt)
	if err != nil {
		return fmt.Errorf("create list: %w", err)
	}
	return nil
}

func (r *ContactRepo) GetList(ctx context.Context, id string) (*domain.ContactList, error) {
	l := &domain.ContactList{}
	err := r.db.QueryRowContext(ctx, `
		SELECT l.id, l.user_id, l.name, l.created_at,
		       (SELECT COUNT(*) FROM contacts c WHERE c.list_id = l.id)
		FROM contact_lists l WHERE l.id = $1
	`, id).Scan(&l.ID, &l.UserID, &l.Name, &l.CreatedAt, &l.ContactCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, contact.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get list: %w", err)
	}
	return l, nil
}

func (r *ContactRepo) ListLists(ctx context.Context, userID string) ([]domain.ContactList, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT l.id, l.user_id, l.name, l.created_at, COUNT(c.id)
		FROM contact_lists l
		LEFT JOIN contacts c ON c.list_id = l.id
		WHERE l.user_id = $1
		GROUP BY l.id
		ORDER BY l.created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list lists: %w", err)
	}
	defer rows.Close()

	var out []domain.ContactList
	for rows.Next() {
		var l domain.ContactList
		if err := rows.Scan(&l.ID, &l.UserID, &l.Name, &l.CreatedAt, &l.ContactCount); err != nil {
			return nil, fmt.Errorf("scan list: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// AddContacts inserts the batch in one transaction. The unique index on
// (list_id, lower(email)) turns duplicates into no-ops.
func (r *ContactRepo) AddContacts(ctx context.Context, listID string, contacts []domain.Contact) (int, error) {
	if len(contacts) == 0 {
		return 0, nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO contacts (id, list_id, email, fields, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (list_id, lower(email)) DO NOTHING
	`)
	if err != nil {
		return 0, fmt.Errorf("prepare insert contact: %w", err)
	}
	defer stmt.Close()

	added := 0
	for _, c := range contacts {
		res, err := stmt.ExecContext(ctx, c.ID, listID, c.Email, []byte(c.Fields), c.CreatedAt)
		if err != nil {
			return 0, fmt.Errorf("insert contact: %w", err)
		}
		n, _ := res.RowsAffected()
		added += int(n)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit contacts: %w", err)
	}
	return added, nil
}

func (r *ContactRepo) ListContacts(ctx context.Context, listID string, limit, offset int) ([]domain.Contact, int, error) {
	var total int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM contacts WHERE list_id = $1`, listID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count contacts: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, list_id, email, fields, created_at
		FROM contacts WHERE list_id = $1
		ORDER BY created_at, id
		LIMIT $2 OFFSET $3
	`, listID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list contacts: %w", err)
	}
	defer rows.Close()

	var out []domain.Contact
	for rows.Next() {
		var (
			c      domain.Contact
			fields []byte
		)
		if err := rows.Scan(&c.ID, &c.ListID, &c.Email, &fields, &c.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan contact: %w", err)
		}
		c.Fields = fields
		out = append(out, c)
	}
	return out, total, rows.Err()
}
