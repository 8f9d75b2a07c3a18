package domain

import "time"

// Tokens within tokenExpirySkew of their deadline count as expired.
const tokenExpirySkew = time.Minute

// Credential is a send-capable OAuth credential bound to one mailbox.
type Credential struct {
	MailboxID    string    `json:"mailbox_id" db:"mailbox_id"`
	Email        string    `json:"email" db:"email"`
	AccessToken  string    `json:"-" db:"access_token"`
	RefreshToken string    `json:"-" db:"refresh_token"`
	Expiry       time.Time `json:"expiry" db:"expiry"`
	Signature    string    `json:"signature,omitempty" db:"signature"`
}

// Expired reports whether the access token must be refreshed before use.
func (c *Credential) Expired(now time.Time) bool {
	if c.Expiry.IsZero() {
		return false
	}
	return !now.Before(c.Expiry.Add(-tokenExpirySkew))
}
