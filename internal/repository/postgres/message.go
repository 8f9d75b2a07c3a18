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

// MessageRepo stores the send queue in outreach_messages.
type MessageRepo struct{ db *sql.DB }

func NewMessageRepo(db *sql.DB) *MessageRepo { return &MessageRepo{db: db} }

const messageColumns = `id, campaign_id, lead_id, recipient, subject, body, type,
	follow_up_index, status, scheduled_for, attempts, last_attempt_at, sent_at,
	thread_id, transport_message_id, error, version, seq, created_at,
	header_id, thread_refs`

func scanMessage(row rowScanner) (*domain.Message, error) {
	var (
		m           domain.Message
		leadID      sql.NullString
		index       sql.NullInt64
		lastAttempt sql.NullTime
		sentAt      sql.NullTime
	)
	if err := row.Scan(
		&m.ID, &m.CampaignID, &leadID, &m.Recipient, &m.Subject, &m.Body, &m.Type,
		&index, &m.Status, &m.ScheduledFor, &m.Attempts, &lastAttempt, &sentAt,
		&m.ThreadID, &m.TransportMessageID, &m.Error, &m.Version, &m.Seq, &m.CreatedAt,
		&m.HeaderID, pq.Array(&m.References),
	); err != nil {
		return nil, err
	}
	m.LeadID = leadID.String
	if index.Valid {
		i := int(index.Int64)
		m.FollowUpIndex = &i
	}
	if lastAttempt.Valid {
		t := lastAttempt.Time
		m.LastAttemptAt = &t
	}
	if sentAt.Valid {
		t := sentAt.Time
		m.SentAt = &t
	}
	return &m, nil
}

func scanMessages(rows *sql.Rows) ([]domain.Message, error) {
	defer rows.Close()
	var out []domain.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

type execer interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func insertMessage(ctx context.Context, q execer, m *domain.Message) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.Status == "" {
		m.Status = domain.MessagePending
	}
	if m.Type == "" {
		m.Type = domain.MessageInitial
	}
	var index sql.NullInt64
	if m.FollowUpIndex != nil {
		index = sql.NullInt64{Int64: int64(*m.FollowUpIndex), Valid: true}
	}
	refs := m.References
	if refs == nil {
		refs = []string{}
	}
	err := q.QueryRowContext(ctx, `
		INSERT INTO outreach_messages
			(id, campaign_id, lead_id, recipient, subject, body, type,
			 follow_up_index, status, scheduled_for, thread_id, thread_refs)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING seq, version, created_at
	`, m.ID, m.CampaignID, nullString(m.LeadID), m.Recipient, m.Subject, m.Body, m.Type,
		index, m.Status, m.ScheduledFor, m.ThreadID, pq.Array(refs),
	).Scan(&m.Seq, &m.Version, &m.CreatedAt)
	if isUniqueViolation(err) {
		return sending.ErrDuplicateFollowUp
	}
	if err != nil {
		return fmt.Errorf("enqueue message: %w", err)
	}
	return nil
}

// EnqueueMessage inserts m. The partial unique index on follow-ups turns
// a second follow-up for the same campaign, recipient and index into
// sending.ErrDuplicateFollowUp.
func (r *MessageRepo) EnqueueMessage(ctx context.Context, m *domain.Message) error {
	return insertMessage(ctx, r.db, m)
}

// EnqueueMessages inserts all messages in one transaction.
func (r *MessageRepo) EnqueueMessages(ctx context.Context, msgs []*domain.Message) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()
	for _, m := range msgs {
		if err := insertMessage(ctx, tx, m); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit enqueue: %w", err)
	}
	return nil
}

func (r *MessageRepo) GetMessage(ctx context.Context, id string) (*domain.Message, error) {
	m, err := scanMessage(r.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM outreach_messages WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sending.ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	return m, nil
}

// DueMessages returns up to limit claimable messages, earliest due first
// with ties broken by insertion order.
func (r *MessageRepo) DueMessages(ctx context.Context, now time.Time, limit int) ([]domain.Message, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+messageColumns+` FROM outreach_messages
		WHERE status = $1 AND attempts < $2 AND scheduled_for <= $3
		ORDER BY scheduled_for, seq
		LIMIT $4`, domain.MessagePending, domain.MaxAttempts, now, limit)
	if err != nil {
		return nil, fmt.Errorf("due messages: %w", err)
	}
	return scanMessages(rows)
}

// ClaimMessage moves the message from pending to processing and counts the
// attempt in a single conditional update. When another worker got there
// first, or the message is gone, it returns sending.ErrClaimLost.
func (r *MessageRepo) ClaimMessage(ctx context.Context, id string, version int, now time.Time) (*domain.Message, error) {
	m, err := scanMessage(r.db.QueryRowContext(ctx, `
		UPDATE outreach_messages
		SET status = $1, attempts = attempts + 1, last_attempt_at = $2, version = version + 1
		WHERE id = $3 AND version = $4 AND status = $5 AND attempts < $6
		RETURNING `+messageColumns,
		domain.MessageProcessing, now, id, version, domain.MessagePending, domain.MaxAttempts))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sending.ErrClaimLost
	}
	if err != nil {
		return nil, fmt.Errorf("claim message: %w", err)
	}
	return m, nil
}

// MarkMessageSent records a successful send of a processing message.
func (r *MessageRepo) MarkMessageSent(ctx context.Context, id string, rc domain.SendReceipt) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE outreach_messages
		SET status = $1, sent_at = $2, thread_id = $3, transport_message_id = $4,
		    header_id = $5, error = '', version = version + 1
		WHERE id = $6 AND status = $7
	`, domain.MessageSent, rc.SentAt, rc.ThreadID, rc.TransportMessageID, rc.HeaderID, id, domain.MessageProcessing)
	if err != nil {
		return fmt.Errorf("mark sent: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sending.ErrMessageNotFound
	}
	return nil
}

// MarkMessageFailed records a failed attempt of a processing message.
func (r *MessageRepo) MarkMessageFailed(ctx context.Context, id, reason string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE outreach_messages
		SET status = $1, error = $2, version = version + 1
		WHERE id = $3 AND status = $4
	`, domain.MessageFailed, reason, id, domain.MessageProcessing)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sending.ErrMessageNotFound
	}
	return nil
}

func (r *MessageRepo) ListSentMessages(ctx context.Context, campaignID string) ([]domain.Message, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+messageColumns+` FROM outreach_messages
		WHERE campaign_id = $1 AND status = $2
		ORDER BY seq`, campaignID, domain.MessageSent)
	if err != nil {
		return nil, fmt.Errorf("list sent messages: %w", err)
	}
	return scanMessages(rows)
}

// FollowUpExists reports whether a follow-up at index is already queued
// for recipient, in any status.
func (r *MessageRepo) FollowUpExists(ctx context.Context, campaignID, recipient string, index int) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM outreach_messages
			WHERE campaign_id = $1 AND recipient = $2 AND type = $3 AND follow_up_index = $4
		)`, campaignID, recipient, domain.MessageFollowUp, index).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("follow-up exists: %w", err)
	}
	return exists, nil
}

// TransitionMessages moves the campaign's messages in status from to
// status to. An empty recipient matches every recipient.
func (r *MessageRepo) TransitionMessages(ctx context.Context, campaignID, recipient string, from, to domain.MessageStatus) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE outreach_messages
		SET status = $1, version = version + 1
		WHERE campaign_id = $2 AND status = $3 AND ($4 = '' OR recipient = $4)
	`, to, campaignID, from, recipient)
	if err != nil {
		return 0, fmt.Errorf("transition messages: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// FailStaleMessages marks messages processing since before cutoff failed.
func (r *MessageRepo) FailStaleMessages(ctx context.Context, cutoff time.Time, reason string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE outreach_messages
		SET status = $1, error = $2, version = version + 1
		WHERE status = $3 AND last_attempt_at < $4
	`, domain.MessageFailed, reason, domain.MessageProcessing, cutoff)
	if err != nil {
		return 0, fmt.Errorf("fail stale messages: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// PurgeFailedMessages deletes up to limit failed messages created before
// cutoff.
func (r *MessageRepo) PurgeFailedMessages(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM outreach_messages
		WHERE id IN (
			SELECT id FROM outreach_messages
			WHERE status = $1 AND created_at < $2
			ORDER BY created_at
			LIMIT $3
		)
	`, domain.MessageFailed, cutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("purge failed messages: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
