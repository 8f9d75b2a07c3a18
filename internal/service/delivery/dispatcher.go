package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ignite/outreach/internal/domain"
	"github.com/ignite/outreach/internal/metrics"
	"github.com/ignite/outreach/internal/pkg/logger"
	"github.com/ignite/outreach/internal/service/sending"
)

// DefaultBatchSize is the number of due messages taken per pass.
const DefaultBatchSize = 10

// PassResult summarizes one dispatch pass.
type PassResult struct {
	Selected int
	Sent     int
	Failed   int
	Skipped  int
}

// Dispatcher sends due messages. It is safe to run several dispatchers
// against one store; the claim decides which one sends a message.
type Dispatcher struct {
	store      Store
	tokens     sending.TokenManager
	transport  sending.Transport
	injector   sending.TrackingInjector
	signatures sending.SignatureSource
	pacer      sending.Pacer
	metrics    *metrics.Metrics
	batchSize  int
	now        func() time.Time
	sleep      func(time.Duration)
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithSignatureSource looks up signatures for credentials that carry none.
func WithSignatureSource(s sending.SignatureSource) Option {
	return func(d *Dispatcher) { d.signatures = s }
}

// WithPacer gates every send on a per-mailbox pacer.
func WithPacer(p sending.Pacer) Option {
	return func(d *Dispatcher) { d.pacer = p }
}

// WithMetrics records pass and send counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithBatchSize overrides DefaultBatchSize.
func WithBatchSize(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.batchSize = n
		}
	}
}

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// WithSleep replaces the inter-send sleep.
func WithSleep(sleep func(time.Duration)) Option {
	return func(d *Dispatcher) { d.sleep = sleep }
}

// NewDispatcher wires a dispatcher from its collaborators.
func NewDispatcher(store Store, tokens sending.TokenManager, transport sending.Transport, injector sending.TrackingInjector, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:     store,
		tokens:    tokens,
		transport: transport,
		injector:  injector,
		batchSize: DefaultBatchSize,
		now:       func() time.Time { return time.Now().UTC() },
		sleep:     time.Sleep,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeSent
	outcomeFailed
)

// RunDeliveryPass sends up to one batch of due messages in due order. After
// each successful send it sleeps for the campaign's send interval before
// moving to the next message. Only a failure to load the batch is returned
// as an error; per-message failures are recorded on the message.
func (d *Dispatcher) RunDeliveryPass(ctx context.Context) (res PassResult, err error) {
	started := time.Now()
	defer func() { d.metrics.ObservePass("dispatch", started, err) }()

	due, err := d.store.DueMessages(ctx, d.now(), d.batchSize)
	if err != nil {
		return res, fmt.Errorf("load due messages: %w", err)
	}
	res.Selected = len(due)
	if len(due) == 0 {
		return res, nil
	}
	logger.Info("dispatch pass started", "due", len(due))

	for i := range due {
		if ctx.Err() != nil {
			logger.Warn("dispatch pass interrupted", "remaining", len(due)-i)
			return res, ctx.Err()
		}

		result, interval := d.deliver(ctx, &due[i])
		switch result {
		case outcomeSent:
			res.Sent++
			if i < len(due)-1 && interval > 0 {
				d.sleep(interval)
			}
		case outcomeFailed:
			res.Failed++
		default:
			res.Skipped++
		}
	}

	logger.Info("dispatch pass complete",
		"selected", res.Selected, "sent", res.Sent, "failed", res.Failed, "skipped", res.Skipped)
	return res, nil
}

// deliver runs one message through claim, render and send. It returns the
// campaign's send interval on success so the caller can pace.
func (d *Dispatcher) deliver(ctx context.Context, due *domain.Message) (outcome, time.Duration) {
	msg, err := d.store.ClaimMessage(ctx, due.ID, due.Version, d.now())
	if err != nil {
		if errors.Is(err, sending.ErrClaimLost) {
			d.metrics.ClaimLost()
			logger.Debug("message claimed elsewhere", "message_id", due.ID)
		} else {
			logger.Error("claim message", "message_id", due.ID, "error", err)
		}
		return outcomeSkipped, 0
	}

	campaign, err := d.store.GetCampaign(ctx, msg.CampaignID)
	if err != nil {
		if !errors.Is(err, sending.ErrCampaignNotFound) {
			err = fmt.Errorf("load campaign: %w", err)
		}
		d.fail(ctx, msg, err)
		return outcomeFailed, 0
	}

	cred, err := d.credential(ctx, campaign.MailboxID)
	if err != nil {
		d.fail(ctx, msg, err)
		return outcomeFailed, 0
	}

	body, links := d.render(ctx, msg, campaign, cred)

	if msg.HeaderID == "" {
		msg.HeaderID = headerID(msg.ID, cred.Email)
	}
	raw, err := buildRawMessage(envelope{
		From:       cred.Email,
		To:         msg.Recipient,
		Subject:    msg.Subject,
		HTML:       body,
		Date:       d.now(),
		MessageID:  msg.HeaderID,
		References: msg.References,
		Headers: map[string]string{
			"X-Outreach-Campaign": campaign.ID,
			"X-Outreach-Message":  msg.ID,
		},
	})
	if err != nil {
		d.fail(ctx, msg, err)
		return outcomeFailed, 0
	}

	interval := campaign.Settings.SendInterval()
	if d.pacer != nil {
		if err := d.pacer.Wait(ctx, campaign.MailboxID, interval); err != nil {
			if ctx.Err() != nil {
				d.fail(ctx, msg, fmt.Errorf("dispatch interrupted: %w", err))
				return outcomeFailed, 0
			}
			logger.Warn("pacer unavailable, sending unpaced", "mailbox_id", campaign.MailboxID, "error", err)
		}
	}

	sent, err := d.transport.Send(ctx, cred, &sending.SendRequest{
		Raw:       raw,
		Recipient: msg.Recipient,
		ThreadID:  msg.ThreadID,
	})
	if err != nil {
		d.fail(ctx, msg, fmt.Errorf("%w: %v", sending.ErrTransportSendFailed, err))
		return outcomeFailed, 0
	}
	if sent == nil {
		sent = &sending.SendResult{ThreadID: msg.ThreadID}
	}

	sentAt := d.now()
	receipt := domain.SendReceipt{
		SentAt:             sentAt,
		ThreadID:           sent.ThreadID,
		TransportMessageID: sent.TransportMessageID,
		HeaderID:           msg.HeaderID,
	}
	if err := d.store.MarkMessageSent(ctx, msg.ID, receipt); err != nil {
		// The provider accepted the message; it must not be retried.
		logger.Error("record sent message", "message_id", msg.ID, "error", err)
	}
	if err := d.store.IncrementCampaignCounter(ctx, campaign.ID, domain.CounterSent); err != nil {
		logger.Error("increment sent counter", "campaign_id", campaign.ID, "error", err)
	}
	d.touchLead(ctx, msg, sentAt)
	d.metrics.Sent(links)

	logger.Info("message sent",
		"message_id", msg.ID,
		"campaign_id", campaign.ID,
		"recipient", msg.Recipient,
		"type", string(msg.Type),
		"thread_id", sent.ThreadID)
	return outcomeSent, interval
}

// credential resolves a send-capable credential, refreshing it when it has
// expired.
func (d *Dispatcher) credential(ctx context.Context, mailboxID string) (*domain.Credential, error) {
	cred, err := d.tokens.GetCredential(ctx, mailboxID)
	if err != nil {
		if !errors.Is(err, sending.ErrCredentialUnavailable) {
			err = fmt.Errorf("%w: %v", sending.ErrCredentialUnavailable, err)
		}
		return nil, err
	}
	if !cred.Expired(d.now()) {
		return cred, nil
	}
	refreshed, err := d.tokens.Refresh(ctx, cred)
	if err != nil {
		if !errors.Is(err, sending.ErrCredentialRefreshFailed) {
			err = fmt.Errorf("%w: %v", sending.ErrCredentialRefreshFailed, err)
		}
		return nil, err
	}
	return refreshed, nil
}

// render instruments the body and appends the mailbox signature. Neither
// step can fail the send: a body that cannot be instrumented goes out as
// written.
func (d *Dispatcher) render(ctx context.Context, msg *domain.Message, c *domain.Campaign, cred *domain.Credential) (string, int) {
	body, links := msg.Body, 0
	if d.injector != nil {
		out, n, err := d.injector.Inject(body, sending.InjectOptions{
			CampaignID:  c.ID,
			MessageID:   msg.ID,
			TrackOpens:  c.Settings.TrackOpens,
			TrackClicks: c.Settings.TrackClicks,
		})
		if err != nil {
			logger.Warn("tracking injection failed, sending uninstrumented", "message_id", msg.ID, "error", err)
		} else {
			body, links = out, n
		}
	}

	sig := cred.Signature
	if sig == "" && d.signatures != nil {
		s, err := d.signatures.Signature(ctx, cred)
		if err != nil {
			logger.Warn("signature lookup failed", "mailbox_id", cred.MailboxID, "error", err)
		}
		sig = s
	}
	return appendSignature(body, sig), links
}

func (d *Dispatcher) touchLead(ctx context.Context, msg *domain.Message, at time.Time) {
	leadID := msg.LeadID
	if leadID == "" {
		lead, err := d.store.FindLeadByEmail(ctx, msg.CampaignID, msg.Recipient)
		if err != nil {
			logger.Warn("lead not found for sent message", "message_id", msg.ID, "recipient", msg.Recipient)
			return
		}
		leadID = lead.ID
	}
	if err := d.store.TouchLeadActivity(ctx, leadID, at); err != nil {
		logger.Warn("touch lead activity", "lead_id", leadID, "error", err)
	}
}

// fail records err on the message. The message is terminal afterwards.
func (d *Dispatcher) fail(ctx context.Context, msg *domain.Message, cause error) {
	d.metrics.Failed(failureReason(cause))
	logger.Warn("message failed",
		"message_id", msg.ID,
		"campaign_id", msg.CampaignID,
		"recipient", msg.Recipient,
		"attempt", msg.Attempts,
		"error", cause)
	// Recorded even when the pass context is already cancelled.
	if err := d.store.MarkMessageFailed(context.WithoutCancel(ctx), msg.ID, cause.Error()); err != nil {
		logger.Error("record failed message", "message_id", msg.ID, "error", err)
	}
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, sending.ErrCampaignNotFound):
		return "campaign_not_found"
	case errors.Is(err, sending.ErrCredentialUnavailable):
		return "credential_unavailable"
	case errors.Is(err, sending.ErrCredentialRefreshFailed):
		return "credential_refresh_failed"
	case errors.Is(err, sending.ErrTransportSendFailed):
		return "transport"
	default:
		return "other"
	}
}
