package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ignite/outreach/internal/domain"
	"github.com/ignite/outreach/internal/service/sending"
)

// CredentialRepo stores mailbox OAuth credentials in
// outreach_mailbox_credentials.
type CredentialRepo struct{ db *sql.DB }

func NewCredentialRepo(db *sql.DB) *CredentialRepo { return &CredentialRepo{db: db} }

func (r *CredentialRepo) LoadCredential(ctx context.Context, mailboxID string) (*domain.Credential, error) {
	var (
		c      domain.Credential
		expiry sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT mailbox_id, email, access_token, refresh_token, expiry, signature
		FROM outreach_mailbox_credentials
		WHERE mailbox_id = $1
	`, mailboxID).Scan(&c.MailboxID, &c.Email, &c.AccessToken, &c.RefreshToken, &expiry, &c.Signature)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sending.ErrCredentialUnavailable
	}
	if err != nil {
		return nil, fmt.Errorf("load credential: %w", err)
	}
	if expiry.Valid {
		c.Expiry = expiry.Time
	}
	return &c, nil
}

// SaveCredential upserts the credential.
func (r *CredentialRepo) SaveCredential(ctx context.Context, c *domain.Credential) error {
	var expiry sql.NullTime
	if !c.Expiry.IsZero() {
		expiry = sql.NullTime{Time: c.Expiry, Valid: true}
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO outreach_mailbox_credentials
			(mailbox_id, email, access_token, refresh_token, expiry, signature, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (mailbox_id) DO UPDATE SET
			email = EXCLUDED.email,
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			expiry = EXCLUDED.expiry,
			signature = EXCLUDED.signature,
			updated_at = NOW()
	`, c.MailboxID, c.Email, c.AccessToken, c.RefreshToken, expiry, c.Signature)
	if err != nil {
		return fmt.Errorf("save credential: %w", err)
	}
	return nil
}
