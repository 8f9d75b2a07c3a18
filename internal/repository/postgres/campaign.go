package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/outreach/internal/domain"
	"github.com/ignite/outreach/internal/service/sending"
)

// CampaignRepo stores campaigns in outreach_campaigns.
type CampaignRepo struct{ db *sql.DB }

func NewCampaignRepo(db *sql.DB) *CampaignRepo { return &CampaignRepo{db: db} }

const campaignColumns = `id, user_id, name, status, mailbox_id, subject, body,
	follow_ups, settings, start_date, sent_count, open_count, click_count,
	reply_count, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCampaign(row rowScanner) (*domain.Campaign, error) {
	var (
		c         domain.Campaign
		followUps []byte
		settings  []byte
		startDate sql.NullTime
	)
	if err := row.Scan(
		&c.ID, &c.UserID, &c.Name, &c.Status, &c.MailboxID, &c.Subject, &c.Body,
		&followUps, &settings, &startDate, &c.SentCount, &c.OpenCount, &c.ClickCount,
		&c.ReplyCount, &c.CreatedAt, &c.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if len(followUps) > 0 {
		if err := json.Unmarshal(followUps, &c.FollowUps); err != nil {
			return nil, fmt.Errorf("decode follow_ups of %s: %w", c.ID, err)
		}
	}
	c.Settings = domain.DefaultSettings()
	if len(settings) > 0 {
		if err := json.Unmarshal(settings, &c.Settings); err != nil {
			return nil, fmt.Errorf("decode settings of %s: %w", c.ID, err)
		}
	}
	c.Settings = c.Settings.Normalize()
	if startDate.Valid {
		t := startDate.Time
		c.StartDate = &t
	}
	return &c, nil
}

// CreateCampaign inserts c, assigning an ID when empty.
func (r *CampaignRepo) CreateCampaign(ctx context.Context, c *domain.Campaign) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.Status == "" {
		c.Status = domain.CampaignDraft
	}
	followUps, err := json.Marshal(c.FollowUps)
	if err != nil {
		return fmt.Errorf("encode follow_ups: %w", err)
	}
	settings, err := json.Marshal(c.Settings.Normalize())
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	err = r.db.QueryRowContext(ctx, `
		INSERT INTO outreach_campaigns
			(id, user_id, name, status, mailbox_id, subject, body, follow_ups, settings, start_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at
	`, c.ID, c.UserID, c.Name, c.Status, c.MailboxID, c.Subject, c.Body,
		followUps, settings, c.StartDate,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create campaign: %w", err)
	}
	return nil
}

func (r *CampaignRepo) GetCampaign(ctx context.Context, id string) (*domain.Campaign, error) {
	c, err := scanCampaign(r.db.QueryRowContext(ctx,
		`SELECT `+campaignColumns+` FROM outreach_campaigns WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sending.ErrCampaignNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	return c, nil
}

func (r *CampaignRepo) ListCampaignsByStatus(ctx context.Context, status domain.CampaignStatus) ([]domain.Campaign, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+campaignColumns+` FROM outreach_campaigns WHERE status = $1 ORDER BY created_at`, status)
	if err != nil {
		return nil, fmt.Errorf("list campaigns: %w", err)
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

func (r *CampaignRepo) UpdateCampaignStatus(ctx context.Context, id string, status domain.CampaignStatus) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE outreach_campaigns SET status = $1, updated_at = NOW() WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sending.ErrCampaignNotFound
	}
	return nil
}

// ArchiveCompletedCampaigns moves completed campaigns created before cutoff
// to archived.
func (r *CampaignRepo) ArchiveCompletedCampaigns(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE outreach_campaigns SET status = $1, updated_at = NOW()
		WHERE status = $2 AND created_at < $3
	`, domain.CampaignArchived, domain.CampaignCompleted, cutoff)
	if err != nil {
		return 0, fmt.Errorf("archive campaigns: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// IncrementCampaignCounter adds one to a statistics column. The column
// name comes from a closed enum and is checked before use.
func (r *CampaignRepo) IncrementCampaignCounter(ctx context.Context, id string, counter domain.Counter) error {
	if !counter.Valid() {
		return fmt.Errorf("unknown counter %q", counter)
	}
	q := fmt.Sprintf(`UPDATE outreach_campaigns SET %[1]s = %[1]s + 1, updated_at = NOW() WHERE id = $1`, string(counter))
	res, err := r.db.ExecContext(ctx, q, id)
	if err != nil {
		return fmt.Errorf("increment %s: %w", counter, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sending.ErrCampaignNotFound
	}
	return nil
}

// DeleteCampaign removes the campaign; leads, messages and events go with
// it through ON DELETE CASCADE.
func (r *CampaignRepo) DeleteCampaign(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM outreach_campaigns WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete campaign: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sending.ErrCampaignNotFound
	}
	return nil
}
