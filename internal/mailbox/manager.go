// Package mailbox supplies send-capable OAuth credentials for connected
// Gmail mailboxes and refreshes them when they expire.
package mailbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/sync/singleflight"

	"github.com/ignite/outreach/internal/domain"
	"github.com/ignite/outreach/internal/metrics"
	"github.com/ignite/outreach/internal/pkg/logger"
	"github.com/ignite/outreach/internal/service/sending"
)

// Gmail scopes needed to send, read threads for replies and read the
// sendAs signature.
var Scopes = []string{
	"https://www.googleapis.com/auth/gmail.send",
	"https://www.googleapis.com/auth/gmail.readonly",
	"https://www.googleapis.com/auth/gmail.settings.basic",
}

// NewGoogleOAuthConfig builds the OAuth client used to refresh tokens.
func NewGoogleOAuthConfig(clientID, clientSecret, redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Scopes:       Scopes,
		Endpoint:     google.Endpoint,
	}
}

// CredentialStore persists mailbox credentials.
type CredentialStore interface {
	LoadCredential(ctx context.Context, mailboxID string) (*domain.Credential, error)
	SaveCredential(ctx context.Context, cred *domain.Credential) error
}

// Manager implements sending.TokenManager. Refreshes for the same mailbox
// are collapsed into a single in-flight call; a caller holding a stale copy
// of a credential that was refreshed meanwhile gets the stored one back.
type Manager struct {
	store   CredentialStore
	oauth   *oauth2.Config
	flight  singleflight.Group
	metrics *metrics.Metrics
	now     func() time.Time
}

var _ sending.TokenManager = (*Manager)(nil)

// NewManager creates a token manager.
func NewManager(store CredentialStore, oauth *oauth2.Config, m *metrics.Metrics) *Manager {
	return &Manager{store: store, oauth: oauth, metrics: m, now: time.Now}
}

// GetCredential loads the mailbox credential. A missing credential or one
// with no tokens at all is reported as sending.ErrCredentialUnavailable.
func (m *Manager) GetCredential(ctx context.Context, mailboxID string) (*domain.Credential, error) {
	if mailboxID == "" {
		return nil, fmt.Errorf("%w: campaign has no mailbox", sending.ErrCredentialUnavailable)
	}
	cred, err := m.store.LoadCredential(ctx, mailboxID)
	if errors.Is(err, sending.ErrCredentialUnavailable) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", sending.ErrCredentialUnavailable, err)
	}
	if cred.AccessToken == "" && cred.RefreshToken == "" {
		return nil, fmt.Errorf("%w: mailbox %s has no tokens", sending.ErrCredentialUnavailable, mailboxID)
	}
	return cred, nil
}

// Refresh exchanges the refresh token for a new access token and persists
// it. Failures wrap sending.ErrCredentialRefreshFailed.
func (m *Manager) Refresh(ctx context.Context, cred *domain.Credential) (*domain.Credential, error) {
	v, err, _ := m.flight.Do(cred.MailboxID, func() (interface{}, error) {
		return m.refresh(ctx, cred)
	})
	if err != nil {
		return nil, err
	}
	out := *v.(*domain.Credential)
	return &out, nil
}

func (m *Manager) refresh(ctx context.Context, cred *domain.Credential) (*domain.Credential, error) {
	if current, err := m.store.LoadCredential(ctx, cred.MailboxID); err == nil &&
		current.AccessToken != cred.AccessToken && !current.Expired(m.now()) {
		return current, nil
	}

	if cred.RefreshToken == "" {
		m.metrics.TokenRefresh(false)
		return nil, fmt.Errorf("%w: mailbox %s has no refresh token", sending.ErrCredentialRefreshFailed, cred.MailboxID)
	}

	src := m.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: cred.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		m.metrics.TokenRefresh(false)
		logger.Warn("token refresh failed", "mailbox_id", cred.MailboxID, "error", err.Error())
		return nil, fmt.Errorf("%w: %v", sending.ErrCredentialRefreshFailed, err)
	}

	updated := *cred
	updated.AccessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		updated.RefreshToken = tok.RefreshToken
	}
	updated.Expiry = tok.Expiry

	if err := m.store.SaveCredential(ctx, &updated); err != nil {
		m.metrics.TokenRefresh(false)
		return nil, fmt.Errorf("%w: save refreshed token: %v", sending.ErrCredentialRefreshFailed, err)
	}
	m.metrics.TokenRefresh(true)
	logger.Info("token refreshed", "mailbox_id", cred.MailboxID, "expiry", updated.Expiry.Format(time.RFC3339))
	return &updated, nil
}
