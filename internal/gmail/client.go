// Package gmail talks to the Gmail API on behalf of a connected mailbox.
// It implements the mail transport, the reply detector and the signature
// source. Every call builds its API client from the credential passed in;
// nothing is cached per mailbox.
package gmail

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"golang.org/x/oauth2"
	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/ignite/outreach/internal/domain"
	"github.com/ignite/outreach/internal/pkg/httpretry"
	"github.com/ignite/outreach/internal/service/sending"
)

const me = "me"

// Client is a stateless Gmail API adapter. Safe for concurrent use.
type Client struct {
	endpoint string
	timeout  time.Duration
	// sends are not retried; reads go through the retrying transport
	sendBase http.RoundTripper
	readBase http.RoundTripper
}

var (
	_ sending.Transport       = (*Client)(nil)
	_ sending.ReplyDetector   = (*Client)(nil)
	_ sending.SignatureSource = (*Client)(nil)
)

// Option configures a Client.
type Option func(*Client)

// WithEndpoint overrides the API base URL.
func WithEndpoint(url string) Option { return func(c *Client) { c.endpoint = url } }

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option { return func(c *Client) { c.timeout = d } }

// WithRetryTransport replaces the transport used for read calls.
func WithRetryTransport(rt http.RoundTripper) Option { return func(c *Client) { c.readBase = rt } }

// NewClient creates a Gmail adapter.
func NewClient(opts ...Option) *Client {
	c := &Client{
		timeout:  30 * time.Second,
		sendBase: http.DefaultTransport,
		readBase: httpretry.NewTransport(http.DefaultTransport, 3),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) service(ctx context.Context, cred *domain.Credential, base http.RoundTripper) (*gmailapi.Service, error) {
	ts := oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: cred.AccessToken,
		TokenType:   "Bearer",
		Expiry:      cred.Expiry,
	})
	httpClient := &http.Client{
		Transport: &oauth2.Transport{Source: ts, Base: base},
		Timeout:   c.timeout,
	}
	opts := []option.ClientOption{option.WithHTTPClient(httpClient)}
	if c.endpoint != "" {
		opts = append(opts, option.WithEndpoint(c.endpoint))
	}
	svc, err := gmailapi.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gmail service for %s: %w", cred.MailboxID, err)
	}
	return svc, nil
}

// Send submits a raw RFC 5322 message through users.messages.send.
func (c *Client) Send(ctx context.Context, cred *domain.Credential, req *sending.SendRequest) (*sending.SendResult, error) {
	svc, err := c.service(ctx, cred, c.sendBase)
	if err != nil {
		return nil, err
	}
	msg := &gmailapi.Message{
		Raw:      base64.URLEncoding.EncodeToString(req.Raw),
		ThreadId: req.ThreadID,
	}
	sent, err := svc.Users.Messages.Send(me, msg).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("gmail send: %w", err)
	}
	return &sending.SendResult{TransportMessageID: sent.Id, ThreadID: sent.ThreadId}, nil
}

// HasNewReply reports a reply when the message's thread holds a message
// from anyone other than the sending mailbox that arrived after m was sent.
// Content is the snippet of the latest such message.
func (c *Client) HasNewReply(ctx context.Context, cred *domain.Credential, m *domain.Message) (*sending.ReplyResult, error) {
	if m.ThreadID == "" {
		return &sending.ReplyResult{}, nil
	}
	svc, err := c.service(ctx, cred, c.readBase)
	if err != nil {
		return nil, err
	}
	thread, err := svc.Users.Threads.Get(me, m.ThreadID).
		Format("metadata").
		MetadataHeaders("From").
		Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("gmail thread %s: %w", m.ThreadID, err)
	}

	var after int64
	if m.SentAt != nil {
		after = m.SentAt.UnixMilli()
	}

	result := &sending.ReplyResult{}
	var latest int64
	for _, tm := range thread.Messages {
		if tm.Id == m.TransportMessageID || fromMailbox(tm, cred.Email) {
			continue
		}
		if tm.InternalDate <= after {
			continue
		}
		if !result.Replied || tm.InternalDate >= latest {
			latest = tm.InternalDate
			result.Content = tm.Snippet
		}
		result.Replied = true
	}
	return result, nil
}

// Signature returns the primary send-as identity's HTML signature.
func (c *Client) Signature(ctx context.Context, cred *domain.Credential) (string, error) {
	svc, err := c.service(ctx, cred, c.readBase)
	if err != nil {
		return "", err
	}
	resp, err := svc.Users.Settings.SendAs.List(me).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("gmail sendAs: %w", err)
	}
	for _, sa := range resp.SendAs {
		if sa.IsPrimary {
			return sa.Signature, nil
		}
	}
	return "", nil
}

func fromMailbox(m *gmailapi.Message, mailbox string) bool {
	if m.Payload == nil || mailbox == "" {
		return false
	}
	for _, h := range m.Payload.Headers {
		if !strings.EqualFold(h.Name, "From") {
			continue
		}
		addr, err := mail.ParseAddress(h.Value)
		if err != nil {
			return strings.Contains(strings.ToLower(h.Value), strings.ToLower(mailbox))
		}
		return strings.EqualFold(addr.Address, mailbox)
	}
	return false
}
