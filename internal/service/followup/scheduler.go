package followup

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ignite/outreach/internal/domain"
	"github.com/ignite/outreach/internal/metrics"
	"github.com/ignite/outreach/internal/pkg/logger"
	"github.com/ignite/outreach/internal/service/sending"
)

// PassResult summarizes one scheduling pass.
type PassResult struct {
	Campaigns int
	Leads     int
	Enqueued  int
	Replies   int
	// Errors counts campaigns or leads skipped because a collaborator
	// failed; they are retried on the next pass.
	Errors int
}

// Scheduler enqueues follow-ups for active campaigns.
type Scheduler struct {
	store    Store
	renderer Renderer
	replies  ReplyRecorder
	tokens   sending.TokenManager
	detector sending.ReplyDetector
	metrics  *metrics.Metrics
	now      func() time.Time
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithReplyDetection checks each lead's last sent message for replies
// before scheduling. Without it no replies are detected.
func WithReplyDetection(tokens sending.TokenManager, detector sending.ReplyDetector) Option {
	return func(s *Scheduler) {
		s.tokens = tokens
		s.detector = detector
	}
}

// WithMetrics records pass counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// NewScheduler wires a scheduler.
func NewScheduler(store Store, renderer Renderer, replies ReplyRecorder, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:    store,
		renderer: renderer,
		replies:  replies,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RunSchedulingPass walks every active campaign and enqueues the next
// eligible follow-up for each of its active leads. Only a failure to list
// campaigns is returned; other failures skip the campaign or lead and are
// counted in the result.
func (s *Scheduler) RunSchedulingPass(ctx context.Context) (res PassResult, err error) {
	started := time.Now()
	defer func() { s.metrics.ObservePass("schedule", started, err) }()

	campaigns, err := s.store.ListCampaignsByStatus(ctx, domain.CampaignActive)
	if err != nil {
		return res, fmt.Errorf("list active campaigns: %w", err)
	}

	for i := range campaigns {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		res.Campaigns++
		if err := s.scheduleCampaign(ctx, &campaigns[i], &res); err != nil {
			res.Errors++
			logger.Error("schedule campaign", "campaign_id", campaigns[i].ID, "error", err)
		}
	}

	logger.Info("scheduling pass complete",
		"campaigns", res.Campaigns, "leads", res.Leads, "enqueued", res.Enqueued,
		"replies", res.Replies, "errors", res.Errors)
	return res, nil
}

// campaignPass holds per-campaign state shared by its leads.
type campaignPass struct {
	campaign *domain.Campaign
	sent     map[string][]domain.Message
	cred     *domain.Credential
	credErr  error
	credDone bool
}

func (s *Scheduler) scheduleCampaign(ctx context.Context, c *domain.Campaign, res *PassResult) error {
	leads, err := s.store.ListActiveLeads(ctx, c.ID)
	if err != nil {
		return fmt.Errorf("list leads: %w", err)
	}
	if len(leads) == 0 {
		return nil
	}
	sent, err := s.store.ListSentMessages(ctx, c.ID)
	if err != nil {
		return fmt.Errorf("list sent messages: %w", err)
	}

	cp := &campaignPass{campaign: c, sent: groupByRecipient(sent)}
	for i := range leads {
		res.Leads++
		lead := &leads[i]
		outcome, err := s.scheduleLead(ctx, cp, lead)
		if err != nil {
			res.Errors++
			logger.Warn("schedule lead", "campaign_id", c.ID, "lead_id", lead.ID, "error", err)
			continue
		}
		switch outcome {
		case leadEnqueued:
			res.Enqueued++
		case leadReplied:
			res.Replies++
		}
	}
	return nil
}

type leadOutcome int

const (
	leadSkipped leadOutcome = iota
	leadEnqueued
	leadReplied
)

func (s *Scheduler) scheduleLead(ctx context.Context, cp *campaignPass, lead *domain.Lead) (leadOutcome, error) {
	c := cp.campaign
	if c.Settings.StopOnReply && len(lead.Replies) > 0 {
		return leadSkipped, nil
	}
	if c.Settings.StopOnClick && len(lead.Clicks) > 0 {
		return leadSkipped, nil
	}

	last := lastSent(cp.sent[normalizeAddress(lead.Email)])
	if last == nil {
		return leadSkipped, nil
	}

	replied, err := s.detectReply(ctx, cp, lead, last)
	if err != nil {
		return leadSkipped, err
	}
	if replied {
		return leadReplied, nil
	}

	index := last.NextFollowUpIndex()
	tpl, ok := c.FollowUp(index)
	if !ok || tpl.Status == domain.FollowUpDisabled {
		return leadSkipped, nil
	}

	exists, err := s.store.FollowUpExists(ctx, c.ID, lead.Email, index)
	if err != nil {
		return leadSkipped, fmt.Errorf("check follow-up %d: %w", index, err)
	}
	if exists {
		return leadSkipped, nil
	}

	msg := s.buildFollowUp(c, lead, last, tpl, index)
	if err := s.store.EnqueueMessage(ctx, msg); err != nil {
		if errors.Is(err, sending.ErrDuplicateFollowUp) {
			return leadSkipped, nil
		}
		return leadSkipped, fmt.Errorf("enqueue follow-up %d: %w", index, err)
	}

	s.metrics.FollowUpQueued()
	logger.Info("follow-up scheduled",
		"campaign_id", c.ID,
		"lead_id", lead.ID,
		"recipient", lead.Email,
		"follow_up", index+1,
		"scheduled_for", msg.ScheduledFor.Format(time.RFC3339))
	return leadEnqueued, nil
}

// detectReply asks the reply detector about last and records a new reply.
// The lead is held back only for the pass that records the reply, unless
// the campaign stops on replies.
func (s *Scheduler) detectReply(ctx context.Context, cp *campaignPass, lead *domain.Lead, last *domain.Message) (bool, error) {
	if s.detector == nil {
		return false, nil
	}
	cred, err := s.credential(ctx, cp)
	if err != nil {
		return false, err
	}

	result, err := s.detector.HasNewReply(ctx, cred, last)
	if err != nil {
		return false, fmt.Errorf("check replies: %w", err)
	}
	if result == nil || !result.Replied {
		return false, nil
	}

	added, err := s.replies.RecordReply(ctx, cp.campaign, lead, last.ID, result.Content)
	if err != nil {
		return false, err
	}
	if added {
		s.metrics.ReplyDetected()
		logger.Info("reply detected", "campaign_id", cp.campaign.ID, "lead_id", lead.ID, "message_id", last.ID)
	}
	return added || cp.campaign.Settings.StopOnReply, nil
}

// credential resolves the campaign mailbox once per pass. A failure is
// remembered so every lead of the campaign is skipped without retrying.
func (s *Scheduler) credential(ctx context.Context, cp *campaignPass) (*domain.Credential, error) {
	if cp.credDone {
		return cp.cred, cp.credErr
	}
	cp.credDone = true

	cred, err := s.tokens.GetCredential(ctx, cp.campaign.MailboxID)
	if err == nil && cred.Expired(s.now()) {
		cred, err = s.tokens.Refresh(ctx, cred)
	}
	if err != nil {
		cp.credErr = fmt.Errorf("mailbox %s: %w", cp.campaign.MailboxID, err)
		return nil, cp.credErr
	}
	cp.cred = cred
	return cred, nil
}

func (s *Scheduler) buildFollowUp(c *domain.Campaign, lead *domain.Lead, last *domain.Message, tpl domain.FollowUpTemplate, index int) *domain.Message {
	subject := tpl.Subject
	if strings.TrimSpace(subject) == "" {
		subject = replySubject(last.Subject)
	}
	idx := index
	return &domain.Message{
		CampaignID:    c.ID,
		LeadID:        lead.ID,
		Recipient:     lead.Email,
		Subject:       s.renderer.Render(subject, lead),
		Body:          s.renderer.Render(WrapPlainText(tpl.Body), lead),
		Type:          domain.MessageFollowUp,
		FollowUpIndex: &idx,
		Status:        domain.MessagePending,
		ScheduledFor:  last.SentAt.Add(WaitDuration(tpl.WaitDuration, tpl.WaitUnit)),
		ThreadID:      last.ThreadID,
		References:    last.ThreadReferences(),
		CreatedAt:     s.now(),
	}
}

func replySubject(prev string) string {
	if strings.HasPrefix(strings.ToLower(prev), "re:") {
		return prev
	}
	return "Re: " + prev
}

func groupByRecipient(msgs []domain.Message) map[string][]domain.Message {
	out := make(map[string][]domain.Message)
	for _, m := range msgs {
		key := normalizeAddress(m.Recipient)
		out[key] = append(out[key], m)
	}
	return out
}

// lastSent returns the most recently sent message, breaking sentAt ties by
// insertion order.
func lastSent(msgs []domain.Message) *domain.Message {
	var withTime []domain.Message
	for _, m := range msgs {
		if m.SentAt != nil {
			withTime = append(withTime, m)
		}
	}
	if len(withTime) == 0 {
		return nil
	}
	sort.Slice(withTime, func(i, j int) bool {
		a, b := withTime[i], withTime[j]
		if !a.SentAt.Equal(*b.SentAt) {
			return a.SentAt.After(*b.SentAt)
		}
		return a.Seq > b.Seq
	})
	return &withTime[0]
}

func normalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}
