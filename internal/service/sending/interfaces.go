// Package sending defines the contracts between the delivery core and its
// external collaborators: the mail transport, the token manager, the reply
// detector and the pure HTML transforms applied before a send.
//
// Implementations live outside this package (internal/gmail, internal/ses,
// internal/mailbox, internal/tracking). The dispatcher and scheduler only
// ever see these interfaces.
package sending

import (
	"context"
	"time"

	"github.com/ignite/outreach/internal/domain"
)

// SendRequest is one fully rendered RFC 5322 message. ThreadID, when set,
// asks the transport to file the message in an existing conversation.
type SendRequest struct {
	Raw       []byte
	Recipient string
	ThreadID  string
}

// SendResult carries the transport's correlation identifiers.
type SendResult struct {
	TransportMessageID string
	ThreadID           string
}

// Transport hands a rendered message to the mail provider. The credential
// is bound for this call only; implementations must not keep per-mailbox
// state between calls. Safe for concurrent use.
type Transport interface {
	Send(ctx context.Context, cred *domain.Credential, req *SendRequest) (*SendResult, error)
}

// TokenManager supplies send-capable credentials. GetCredential returns
// ErrCredentialUnavailable when the mailbox has no usable credential;
// Refresh returns ErrCredentialRefreshFailed when the provider rejects it.
type TokenManager interface {
	GetCredential(ctx context.Context, mailboxID string) (*domain.Credential, error)
	Refresh(ctx context.Context, cred *domain.Credential) (*domain.Credential, error)
}

// ReplyResult is the outcome of a reply check.
type ReplyResult struct {
	Replied bool
	Content string
}

// ReplyDetector reports whether the recipient of a sent message has
// answered it since it was sent.
type ReplyDetector interface {
	HasNewReply(ctx context.Context, cred *domain.Credential, msg *domain.Message) (*ReplyResult, error)
}

// SignatureSource looks up the HTML signature of a mailbox.
type SignatureSource interface {
	Signature(ctx context.Context, cred *domain.Credential) (string, error)
}

// InjectOptions describes which instrumentation to add to a body.
type InjectOptions struct {
	CampaignID  string
	MessageID   string
	TrackOpens  bool
	TrackClicks bool
}

// TrackingInjector adds open and click instrumentation to an HTML body and
// reports how many links were rewritten.
type TrackingInjector interface {
	Inject(html string, opts InjectOptions) (string, int, error)
}

// Pacer blocks until the caller may send again on the keyed mailbox.
type Pacer interface {
	Wait(ctx context.Context, key string, interval time.Duration) error
}
