package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/sendquill/sendquill/internal/domain"
	"github.com/sendquill/sendquill/internal/service/campaign"
)

// CampaignRepo implements campaign.Repository against PostgreSQL.
type CampaignRepo struct{ db *sql.DB }

// NewCampaignRepo creates a Postgres-backed campaign repository.
func NewCampaignRepo(db *sql.DB) *CampaignRepo { return &CampaignRepo{db: db} }

const campaignColumns = `
	c.id, c.user_id, c.name, c.subject, c.content, c.status, c.template_id,
	c.scheduled_at, c.sent_at, c.created_at, c.updated_at,
	COALESCE(array_agg(cl.list_id::text ORDER BY cl.list_id) FILTER (WHERE cl.list_id IS NOT NULL), '{}')`

const campaignFrom = `
	FROM campaigns c
	LEFT JOIN campaign_lists cl ON cl.campaign_id = c.id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCampaign(row rowScanner) (*domain.Campaign, error) {
	var (
		c           domain.Campaign
		status      string
		templateID  sql.NullString
		scheduledAt sql.NullTime
		sentAt      sql.NullTime
		listIDs     pq.StringArray
	)
	if err := row.Scan(
		&c.ID, &c.UserID, &c.Name, &c.Subject, &c.Content, &status, &templateID,
		&scheduledAt, &sentAt, &c.CreatedAt, &c.UpdatedAt, &listIDs,
	); err != nil {
		return nil, err
	}
	st, err := domain.ParseCampaignStatus(status)
	if err != nil {
		return nil, err
	}
	c.Status = st
	if templateID.Valid {
		c.TemplateID = &templateID.String
	}
	if scheduledAt.Valid {
		c.ScheduledAt = &scheduledAt.Time
	}
	if sentAt.Valid {
		c.SentAt = &sentAt.Time
	}
	c.ListIDs = []string(listIDs)
	return &c, nil
}

func (r *CampaignRepo) Get(ctx context.Context, id string) (*domain.Campaign, error) {
	c, err := getCampaign(ctx, r.db, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, campaign.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	return c, nil
}

func getCampaign(ctx context.Context, db *sql.DB, id string) (*domain.Campaign, error) {
	return scanCampaign(db.QueryRowContext(ctx,
		`SELECT `+campaignColumns+campaignFrom+` WHERE c.id = $1 GROUP BY c.id`, id))
}

func (r *CampaignRepo) List(ctx context.Context, userID string, f campaign.ListFilter) ([]domain.Campaign, int, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}

	where := ` WHERE c.user_id = $1`
	args := []any{userID}
	if f.Status != "" {
		where += ` AND c.status = $2`
		args = append(args, f.Status)
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM campaigns c`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count campaigns: %w", err)
	}

	q := `SELECT ` + campaignColumns + campaignFrom + where +
		fmt.Sprintf(` GROUP BY c.id ORDER BY c.created_at DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, limit, f.Offset)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list campaigns: %w", err)
	}
	defer rows.Close()

	var out []domain.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan campaign: %w", err)
		}
		out = append(out, *c)
	}
	return out, total, rows.Err()
}

func (r *CampaignRepo) Create(ctx context.Context, c *domain.Campaign) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO campaigns
			(id, user_id, name, subject, content, status, template_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
	`, c.ID, c.UserID, c.Name, c.Subject, c.Content, c.Status, c.TemplateID, c.CreatedAt); err != nil {
		return fmt.Errorf("create campaign: %w", err)
	}
	if err := replaceLists(ctx, tx, c.ID, c.ListIDs); err != nil {
		return err
	}
	return tx.Commit()
}

func replaceLists(ctx context.Context, tx *sql.Tx, campaignID string, listIDs []string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM campaign_lists WHERE campaign_id = $1`, campaignID); err != nil {
		return fmt.Errorf("clear campaign lists: %w", err)
	}
	if len(listIDs) == 0 {
		return nil
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO campaign_lists (campaign_id, list_id)
		SELECT $1, unnest($2::uuid[])
		ON CONFLICT DO NOTHING
	`, campaignID, pq.Array(listIDs)); err != nil {
		return fmt.Errorf("set campaign lists: %w", err)
	}
	return nil
}

func (r *CampaignRepo) Update(ctx context.Context, id string, u campaign.UpdateFields) error {
	sets := []string{}
	args := []any{}
	add := func(col string, val any) {
		args = append(args, val)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if u.Name != nil {
		add("name", *u.Name)
	}
	if u.Subject != nil {
		add("subject", *u.Subject)
	}
	if u.Content != nil {
		add("content", *u.Content)
	}
	if u.TemplateID != nil {
		var tpl any
		if *u.TemplateID != "" {
			tpl = *u.TemplateID
		}
		add("template_id", tpl)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	sets = append(sets, "updated_at = NOW()")
	args = append(args, id)
	q := fmt.Sprintf(`UPDATE campaigns SET %s WHERE id = $%d AND status IN ('DRAFT','SCHEDULED')`,
		strings.Join(sets, ", "), len(args))
	res, err := tx.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("update campaign: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return campaign.ErrNotEditable
	}

	if u.ListIDs != nil {
		if err := replaceLists(ctx, tx, id, *u.ListIDs); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *CampaignRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM campaigns WHERE id = $1 AND status = 'DRAFT'`, id)
	if err != nil {
		return fmt.Errorf("delete campaign: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return campaign.ErrNotFound
	}
	return nil
}

func (r *CampaignRepo) Schedule(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE campaigns SET status = 'SCHEDULED', scheduled_at = $1, updated_at = NOW()
		WHERE id = $2 AND status IN ('DRAFT','SCHEDULED')
	`, at, id)
	if err != nil {
		return fmt.Errorf("schedule campaign: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return campaign.ErrInvalidTransition
	}
	return nil
}

func (r *CampaignRepo) Unschedule(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE campaigns SET status = 'DRAFT', scheduled_at = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'SCHEDULED'
	`, id)
	if err != nil {
		return fmt.Errorf("unschedule campaign: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return campaign.ErrInvalidTransition
	}
	return nil
}

func (r *CampaignRepo) StartSending(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE campaigns
		SET status = 'SENDING', sent_at = COALESCE(sent_at, NOW()), updated_at = NOW()
		WHERE id = $1 AND status IN ('DRAFT','SCHEDULED')
	`, id)
	if err != nil {
		return fmt.Errorf("start sending: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return campaign.ErrInvalidTransition
	}
	return nil
}

func (r *CampaignRepo) SetStatus(ctx context.Context, id string, status domain.CampaignStatus) error {
	return setCampaignStatus(ctx, r.db, id, status)
}

// setCampaignStatus is a compare-and-set: the row only changes when its
// current status is an allowed predecessor of status.
func setCampaignStatus(ctx context.Context, db *sql.DB, id string, status domain.CampaignStatus) error {
	preds := domain.PredecessorsOf(status)
	from := make([]string, len(preds))
	for i, p := range preds {
		from[i] = string(p)
	}
	res, err := db.ExecContext(ctx, `
		UPDATE campaigns SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = ANY($3)
	`, string(status), id, pq.Array(from))
	if err != nil {
		return fmt.Errorf("set campaign status: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("campaign %s to %s: %w", id, status, campaign.ErrInvalidTransition)
	}
	return nil
}

// EnqueueRecipients creates one recipient per distinct email across the
// campaign's lists. Lists owned by anyone but the campaign's owner contribute
// nothing. Contacts whose email already has a recipient in this campaign are
// skipped, so re-running is harmless.
func (r *CampaignRepo) EnqueueRecipients(ctx context.Context, campaignID string) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO campaign_recipients (id, campaign_id, contact_id, status, created_at, updated_at)
		SELECT gen_random_uuid(), $1, d.id, 'PENDING', NOW(), NOW()
		FROM (
			SELECT DISTINCT ON (lower(ct.email)) ct.id, ct.email
			FROM contacts ct
			JOIN campaign_lists cl ON cl.list_id = ct.list_id
			JOIN contact_lists l ON l.id = ct.list_id
			JOIN campaigns c ON c.id = cl.campaign_id AND c.user_id = l.user_id
			WHERE cl.campaign_id = $1
			ORDER BY lower(ct.email), ct.created_at, ct.id
		) d
		WHERE NOT EXISTS (
			SELECT 1 FROM campaign_recipients r
			JOIN contacts rc ON rc.id = r.contact_id
			WHERE r.campaign_id = $1 AND lower(rc.email) = lower(d.email)
		)
		ON CONFLICT (campaign_id, contact_id) DO NOTHING
	`, campaignID)
	if err != nil {
		return 0, fmt.Errorf("enqueue recipients: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (r *CampaignRepo) CountRecipientsByStatus(ctx context.Context, campaignID string) (map[domain.RecipientStatus]int, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM campaign_recipients
		WHERE campaign_id = $1 GROUP BY status
	`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("count recipients: %w", err)
	}
	defer rows.Close()

	out := map[domain.RecipientStatus]int{}
	for rows.Next() {
		var (
			raw string
			n   int
		)
		if err := rows.Scan(&raw, &n); err != nil {
			return nil, fmt.Errorf("scan recipient count: %w", err)
		}
		st, err := domain.ParseRecipientStatus(raw)
		if err != nil {
			return nil, err
		}
		out[st] += n
	}
	return out, rows.Err()
}

func (r *CampaignRepo) EventCounts(ctx context.Context, campaignID string) (*campaign.EventCounts, error) {
	var ec campaign.EventCounts
	err := r.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE e.type = 'OPEN'),
			COUNT(DISTINCT e.recipient_id) FILTER (WHERE e.type = 'OPEN'),
			COUNT(*) FILTER (WHERE e.type = 'CLICK'),
			COUNT(DISTINCT e.recipient_id) FILTER (WHERE e.type = 'CLICK')
		FROM events e
		JOIN campaign_recipients r ON r.id = e.recipient_id
		WHERE r.campaign_id = $1
	`, campaignID).Scan(&ec.Opens, &ec.UniqueOpens, &ec.Clicks, &ec.UniqueClicks)
	if err != nil {
		return nil, fmt.Errorf("event counts: %w", err)
	}
	return &ec, nil
}

func (r *CampaignRepo) DueScheduled(ctx context.Context, now time.Time, limit int) ([]domain.Campaign, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+campaignColumns+campaignFrom+`
		WHERE c.status = 'SCHEDULED' AND c.scheduled_at <= $1
		GROUP BY c.id
		ORDER BY c.scheduled_at
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("due scheduled: %w", err)
	}
	defer rows.Close()

	var out []domain.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("scan campaign: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (r *CampaignRepo) ListOwners(ctx context.Context, listIDs []string) (map[string]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id::text, user_id FROM contact_lists WHERE id = ANY($1::uuid[])
	`, pq.Array(listIDs))
	if err != nil {
		return nil, fmt.Errorf("list owners: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string, len(listIDs))
	for rows.Next() {
		var id, owner string
		if err := rows.Scan(&id, &owner); err != nil {
			return nil, fmt.Errorf("scan list owner: %w", err)
		}
		out[id] = owner
	}
	return out, rows.Err()
}

func (r *CampaignRepo) TemplateOwner(ctx context.Context, templateID string) (string, error) {
	var owner string
	err := r.db.QueryRowContext(ctx, `SELECT user_id FROM templates WHERE id = $1`, templateID).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return "", campaign.ErrUnknownReference
	}
	if err != nil {
		return "", fmt.Errorf("template owner: %w", err)
	}
	return owner, nil
}
