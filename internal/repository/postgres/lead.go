package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/ignite/outreach/internal/domain"
	"github.com/ignite/outreach/internal/service/sending"
)

// LeadRepo stores leads in outreach_leads and their engagement history in
// outreach_lead_opens, outreach_lead_clicks and outreach_lead_replies.
type LeadRepo struct{ db *sql.DB }

func NewLeadRepo(db *sql.DB) *LeadRepo { return &LeadRepo{db: db} }

const leadColumns = `id, campaign_id, email, first_name, last_name, company, title,
	industry, city, state, website, status, last_activity, created_at`

func scanLead(row rowScanner) (*domain.Lead, error) {
	var (
		l    domain.Lead
		last sql.NullTime
	)
	if err := row.Scan(
		&l.ID, &l.CampaignID, &l.Email, &l.FirstName, &l.LastName, &l.Company, &l.Title,
		&l.Industry, &l.City, &l.State, &l.Website, &l.Status, &last, &l.CreatedAt,
	); err != nil {
		return nil, err
	}
	if last.Valid {
		t := last.Time
		l.LastActivity = &t
	}
	return &l, nil
}

// CreateLead inserts l, assigning an ID and active status when empty.
func (r *LeadRepo) CreateLead(ctx context.Context, l *domain.Lead) error {
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	if l.Status == "" {
		l.Status = domain.LeadActive
	}
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO outreach_leads
			(id, campaign_id, email, first_name, last_name, company, title,
			 industry, city, state, website, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at
	`, l.ID, l.CampaignID, l.Email, l.FirstName, l.LastName, l.Company, l.Title,
		l.Industry, l.City, l.State, l.Website, l.Status,
	).Scan(&l.CreatedAt)
	if err != nil {
		return fmt.Errorf("create lead: %w", err)
	}
	return nil
}

func (r *LeadRepo) GetLead(ctx context.Context, id string) (*domain.Lead, error) {
	return r.getOne(ctx, `SELECT `+leadColumns+` FROM outreach_leads WHERE id = $1`, id)
}

// FindLeadByEmail matches the address case-insensitively.
func (r *LeadRepo) FindLeadByEmail(ctx context.Context, campaignID, email string) (*domain.Lead, error) {
	return r.getOne(ctx, `SELECT `+leadColumns+` FROM outreach_leads
		WHERE campaign_id = $1 AND lower(email) = lower($2)
		ORDER BY created_at LIMIT 1`, campaignID, email)
}

func (r *LeadRepo) getOne(ctx context.Context, q string, args ...interface{}) (*domain.Lead, error) {
	l, err := scanLead(r.db.QueryRowContext(ctx, q, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sending.ErrLeadNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get lead: %w", err)
	}
	leads := []*domain.Lead{l}
	if err := r.loadEngagement(ctx, leads); err != nil {
		return nil, err
	}
	return l, nil
}

// ListActiveLeads returns the campaign's active leads, oldest first, with
// their opens, clicks and replies.
func (r *LeadRepo) ListActiveLeads(ctx context.Context, campaignID string) ([]domain.Lead, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+leadColumns+` FROM outreach_leads
		WHERE campaign_id = $1 AND status = $2
		ORDER BY created_at, id`, campaignID, domain.LeadActive)
	if err != nil {
		return nil, fmt.Errorf("list leads: %w", err)
	}
	var ptrs []*domain.Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan lead: %w", err)
		}
		ptrs = append(ptrs, l)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list leads: %w", err)
	}
	if len(ptrs) == 0 {
		return nil, nil
	}
	if err := r.loadEngagement(ctx, ptrs); err != nil {
		return nil, err
	}
	out := make([]domain.Lead, len(ptrs))
	for i, l := range ptrs {
		out[i] = *l
	}
	return out, nil
}

// loadEngagement fills opens, clicks and replies with one query per table.
func (r *LeadRepo) loadEngagement(ctx context.Context, leads []*domain.Lead) error {
	byID := make(map[string]*domain.Lead, len(leads))
	ids := make([]string, len(leads))
	for i, l := range leads {
		byID[l.ID] = l
		ids[i] = l.ID
	}
	if err := r.loadOpens(ctx, ids, byID); err != nil {
		return err
	}
	if err := r.loadClicks(ctx, ids, byID); err != nil {
		return err
	}
	return r.loadReplies(ctx, ids, byID)
}

func (r *LeadRepo) loadOpens(ctx context.Context, ids []string, byID map[string]*domain.Lead) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT lead_id, message_id, opened_at FROM outreach_lead_opens
		WHERE lead_id = ANY($1) ORDER BY opened_at`, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("load opens: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var leadID string
		var o domain.Open
		if err := rows.Scan(&leadID, &o.MessageID, &o.Date); err != nil {
			return fmt.Errorf("scan open: %w", err)
		}
		byID[leadID].Opens = append(byID[leadID].Opens, o)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("load opens: %w", err)
	}
	return nil
}

func (r *LeadRepo) loadClicks(ctx context.Context, ids []string, byID map[string]*domain.Lead) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT lead_id, message_id, url, clicked_at FROM outreach_lead_clicks
		WHERE lead_id = ANY($1) ORDER BY clicked_at`, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("load clicks: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var leadID string
		var c domain.Click
		if err := rows.Scan(&leadID, &c.MessageID, &c.URL, &c.Date); err != nil {
			return fmt.Errorf("scan click: %w", err)
		}
		byID[leadID].Clicks = append(byID[leadID].Clicks, c)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("load clicks: %w", err)
	}
	return nil
}

func (r *LeadRepo) loadReplies(ctx context.Context, ids []string, byID map[string]*domain.Lead) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT lead_id, message_id, content, replied_at FROM outreach_lead_replies
		WHERE lead_id = ANY($1) ORDER BY replied_at`, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("load replies: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var leadID string
		var rp domain.Reply
		if err := rows.Scan(&leadID, &rp.MessageID, &rp.Content, &rp.Date); err != nil {
			return fmt.Errorf("scan reply: %w", err)
		}
		byID[leadID].Replies = append(byID[leadID].Replies, rp)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("load replies: %w", err)
	}
	return nil
}

func (r *LeadRepo) TouchLeadActivity(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE outreach_leads SET last_activity = $1 WHERE id = $2`, at, id)
	if err != nil {
		return fmt.Errorf("touch lead: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sending.ErrLeadNotFound
	}
	return nil
}

func (r *LeadRepo) AddLeadOpen(ctx context.Context, id string, o domain.Open) error {
	return r.addActivity(ctx, id, o.Date,
		`INSERT INTO outreach_lead_opens (lead_id, message_id, opened_at) VALUES ($1, $2, $3)`,
		id, o.MessageID, o.Date)
}

func (r *LeadRepo) AddLeadClick(ctx context.Context, id string, c domain.Click) error {
	return r.addActivity(ctx, id, c.Date,
		`INSERT INTO outreach_lead_clicks (lead_id, message_id, url, clicked_at) VALUES ($1, $2, $3, $4)`,
		id, c.MessageID, c.URL, c.Date)
}

// addActivity runs insert and bumps last_activity in one transaction.
func (r *LeadRepo) addActivity(ctx context.Context, id string, at time.Time, insert string, args ...interface{}) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE outreach_leads SET last_activity = $1 WHERE id = $2`, at, id)
	if err != nil {
		return fmt.Errorf("touch lead: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sending.ErrLeadNotFound
	}
	if _, err := tx.ExecContext(ctx, insert, args...); err != nil {
		return fmt.Errorf("record activity: %w", err)
	}
	return tx.Commit()
}

// AddLeadReply records r unless a reply to the same message exists. The
// unique (lead_id, message_id) key makes concurrent callers agree on a
// single winner. It reports whether the reply was added.
func (r *LeadRepo) AddLeadReply(ctx context.Context, id string, rp domain.Reply, markReplied bool) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO outreach_lead_replies (lead_id, message_id, content, replied_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (lead_id, message_id) DO NOTHING
	`, id, rp.MessageID, rp.Content, rp.Date)
	if err != nil {
		return false, fmt.Errorf("insert reply: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, nil
	}

	res, err = tx.ExecContext(ctx, `
		UPDATE outreach_leads
		SET last_activity = $1,
		    status = CASE WHEN $2 THEN $3 ELSE status END
		WHERE id = $4
	`, rp.Date, markReplied, domain.LeadReplied, id)
	if err != nil {
		return false, fmt.Errorf("update lead: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, sending.ErrLeadNotFound
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit reply: %w", err)
	}
	return true, nil
}
