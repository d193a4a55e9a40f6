package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sendquill/sendquill/internal/domain"
	"github.com/sendquill/sendquill/internal/pkg/logger"
	"github.com/sendquill/sendquill/internal/service/sending"
)

// SendStore implements sending.Store against PostgreSQL. Each method is a
// single statement; runs are never wrapped in a transaction.
type SendStore struct{ db *sql.DB }

// NewSendStore creates a Postgres-backed store for the sender.
func NewSendStore(db *sql.DB) *SendStore { return &SendStore{db: db} }

// LoadCampaign returns the campaign with its template and recipients.
func (s *SendStore) LoadCampaign(ctx context.Context, id string) (*domain.Campaign, error) {
	c, err := getCampaign(ctx, s.db, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sending.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load campaign: %w", err)
	}

	if c.TemplateID != nil {
		tpl, err := getTemplate(ctx, s.db, *c.TemplateID)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return nil, fmt.Errorf("load template: %w", err)
		case tpl.UserID != c.UserID:
			logger.Warn("ignoring template owned by another user",
				"campaign_id", c.ID, "template_id", tpl.ID)
		default:
			c.Template = tpl
		}
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.campaign_id, r.contact_id, r.status, r.sent_at,
		       COALESCE(r.message_id, ''), COALESCE(r.last_error, ''), r.created_at,
		       ct.id, ct.list_id, ct.email, ct.fields, ct.created_at
		FROM campaign_recipients r
		JOIN contacts ct ON ct.id = r.contact_id
		WHERE r.campaign_id = $1
		ORDER BY r.created_at, r.id
	`, id)
	if err != nil {
		return nil, fmt.Errorf("load recipients: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			r      domain.Recipient
			ct     domain.Contact
			status string
			sentAt sql.NullTime
			fields []byte
		)
		if err := rows.Scan(
			&r.ID, &r.CampaignID, &r.ContactID, &status, &sentAt,
			&r.MessageID, &r.LastError, &r.CreatedAt,
			&ct.ID, &ct.ListID, &ct.Email, &fields, &ct.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan recipient: %w", err)
		}
		if r.Status, err = domain.ParseRecipientStatus(status); err != nil {
			return nil, err
		}
		if sentAt.Valid {
			r.SentAt = &sentAt.Time
		}
		ct.Fields = fields
		r.Contact = &ct
		c.Recipients = append(c.Recipients, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load recipients: %w", err)
	}
	return c, nil
}

func (s *SendStore) MarkRecipientSent(ctx context.Context, id, messageID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE campaign_recipients
		SET status = 'SENT', sent_at = $1, message_id = $2, last_error = NULL, updated_at = NOW()
		WHERE id = $3
	`, at, messageID, id)
	if err != nil {
		return fmt.Errorf("mark recipient sent: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return sending.ErrNotFound
	}
	return nil
}

func (s *SendStore) MarkRecipientFailed(ctx context.Context, id, reason string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE campaign_recipients
		SET status = 'FAILED', last_error = $1, updated_at = NOW()
		WHERE id = $2
	`, truncate(reason, 1000), id)
	if err != nil {
		return fmt.Errorf("mark recipient failed: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return sending.ErrNotFound
	}
	return nil
}

func (s *SendStore) SetCampaignStatus(ctx context.Context, id string, status domain.CampaignStatus) error {
	return setCampaignStatus(ctx, s.db, id, status)
}

// truncate caps s at n bytes without splitting a UTF-8 sequence. Invalid
// bytes are replaced first; Postgres rejects them in TEXT columns.
func truncate(s string, n int) string {
	s = strings.ToValidUTF8(s, "\uFFFD")
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
