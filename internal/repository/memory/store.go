// Package memory is an in-process implementation of the outreach store.
// It honours the same contracts as repository/postgres, including the
// conditional claim, and backs unit tests and single-node development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/outreach/internal/domain"
	"github.com/ignite/outreach/internal/service/sending"
)

// Store keeps campaigns, leads, messages, events and credentials in maps
// guarded by a single mutex. All methods are safe for concurrent use.
type Store struct {
	mu          sync.Mutex
	campaigns   map[string]*domain.Campaign
	leads       map[string]*domain.Lead
	messages    map[string]*domain.Message
	events      []domain.AnalyticsEvent
	credentials map[string]*domain.Credential
	seq         int64
}

// New creates an empty store.
func New() *Store {
	return &Store{
		campaigns:   make(map[string]*domain.Campaign),
		leads:       make(map[string]*domain.Lead),
		messages:    make(map[string]*domain.Message),
		credentials: make(map[string]*domain.Credential),
	}
}

// ── Campaigns ────────────────────────────────────────────────────────────

// CreateCampaign inserts c, assigning an ID when empty.
func (s *Store) CreateCampaign(_ context.Context, c *domain.Campaign) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	c.UpdatedAt = c.CreatedAt
	cp := cloneCampaign(c)
	s.campaigns[c.ID] = cp
	return nil
}

// GetCampaign returns a copy of the campaign.
func (s *Store) GetCampaign(_ context.Context, id string) (*domain.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return nil, sending.ErrCampaignNotFound
	}
	return cloneCampaign(c), nil
}

// ListCampaignsByStatus returns campaigns in status, oldest first.
func (s *Store) ListCampaignsByStatus(_ context.Context, status domain.CampaignStatus) ([]domain.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Campaign
	for _, c := range s.campaigns {
		if c.Status == status {
			out = append(out, *cloneCampaign(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// UpdateCampaignStatus sets the campaign's status.
func (s *Store) UpdateCampaignStatus(_ context.Context, id string, status domain.CampaignStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return sending.ErrCampaignNotFound
	}
	c.Status = status
	c.UpdatedAt = time.Now().UTC()
	return nil
}

// ArchiveCompletedCampaigns moves completed campaigns created before cutoff
// to archived.
func (s *Store) ArchiveCompletedCampaigns(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, c := range s.campaigns {
		if c.Status == domain.CampaignCompleted && c.CreatedAt.Before(cutoff) {
			c.Status = domain.CampaignArchived
			c.UpdatedAt = time.Now().UTC()
			n++
		}
	}
	return n, nil
}

// IncrementCampaignCounter adds one to the named counter.
func (s *Store) IncrementCampaignCounter(_ context.Context, id string, counter domain.Counter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return sending.ErrCampaignNotFound
	}
	switch counter {
	case domain.CounterSent:
		c.SentCount++
	case domain.CounterOpen:
		c.OpenCount++
	case domain.CounterClick:
		c.ClickCount++
	case domain.CounterReply:
		c.ReplyCount++
	}
	return nil
}

// DeleteCampaign removes the campaign with its leads, messages and events.
func (s *Store) DeleteCampaign(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.campaigns[id]; !ok {
		return sending.ErrCampaignNotFound
	}
	delete(s.campaigns, id)
	for lid, l := range s.leads {
		if l.CampaignID == id {
			delete(s.leads, lid)
		}
	}
	for mid, m := range s.messages {
		if m.CampaignID == id {
			delete(s.messages, mid)
		}
	}
	kept := s.events[:0]
	for _, e := range s.events {
		if e.CampaignID != id {
			kept = append(kept, e)
		}
	}
	s.events = kept
	return nil
}

// ── Leads ────────────────────────────────────────────────────────────────

// CreateLead inserts l, assigning an ID and active status when empty.
func (s *Store) CreateLead(_ context.Context, l *domain.Lead) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	if l.Status == "" {
		l.Status = domain.LeadActive
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	s.leads[l.ID] = cloneLead(l)
	return nil
}

// GetLead returns a copy of the lead.
func (s *Store) GetLead(_ context.Context, id string) (*domain.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leads[id]
	if !ok {
		return nil, sending.ErrLeadNotFound
	}
	return cloneLead(l), nil
}

// FindLeadByEmail returns the campaign's lead with the given address.
func (s *Store) FindLeadByEmail(_ context.Context, campaignID, email string) (*domain.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.leads {
		if l.CampaignID == campaignID && l.Email == email {
			return cloneLead(l), nil
		}
	}
	return nil, sending.ErrLeadNotFound
}

// ListActiveLeads returns the campaign's active leads, oldest first.
func (s *Store) ListActiveLeads(_ context.Context, campaignID string) ([]domain.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Lead
	for _, l := range s.leads {
		if l.CampaignID == campaignID && l.Status == domain.LeadActive {
			out = append(out, *cloneLead(l))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// TouchLeadActivity sets the lead's last activity time.
func (s *Store) TouchLeadActivity(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leads[id]
	if !ok {
		return sending.ErrLeadNotFound
	}
	l.LastActivity = &at
	return nil
}

// AddLeadOpen appends an open and touches last activity.
func (s *Store) AddLeadOpen(_ context.Context, id string, o domain.Open) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leads[id]
	if !ok {
		return sending.ErrLeadNotFound
	}
	l.Opens = append(l.Opens, o)
	at := o.Date
	l.LastActivity = &at
	return nil
}

// AddLeadClick appends a click and touches last activity.
func (s *Store) AddLeadClick(_ context.Context, id string, c domain.Click) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leads[id]
	if !ok {
		return sending.ErrLeadNotFound
	}
	l.Clicks = append(l.Clicks, c)
	at := c.Date
	l.LastActivity = &at
	return nil
}

// AddLeadReply records r unless a reply to the same message exists.
// It reports whether the reply was added.
func (s *Store) AddLeadReply(_ context.Context, id string, r domain.Reply, markReplied bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leads[id]
	if !ok {
		return false, sending.ErrLeadNotFound
	}
	if l.HasReplyFor(r.MessageID) {
		return false, nil
	}
	l.Replies = append(l.Replies, r)
	at := r.Date
	l.LastActivity = &at
	if markReplied {
		l.Status = domain.LeadReplied
	}
	return true, nil
}

// ── Messages ─────────────────────────────────────────────────────────────

// EnqueueMessage inserts m. A second follow-up for the same campaign,
// recipient and index fails with sending.ErrDuplicateFollowUp.
func (s *Store) EnqueueMessage(_ context.Context, m *domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enqueueLocked(m)
}

// EnqueueMessages inserts all messages or none.
func (s *Store) EnqueueMessages(_ context.Context, msgs []*domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range msgs {
		if m.IsFollowUp() && s.followUpExistsLocked(m.CampaignID, m.Recipient, *m.FollowUpIndex) {
			return sending.ErrDuplicateFollowUp
		}
	}
	for _, m := range msgs {
		if err := s.enqueueLocked(m); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) enqueueLocked(m *domain.Message) error {
	if m.IsFollowUp() && s.followUpExistsLocked(m.CampaignID, m.Recipient, *m.FollowUpIndex) {
		return sending.ErrDuplicateFollowUp
	}
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.Status == "" {
		m.Status = domain.MessagePending
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	s.seq++
	m.Seq = s.seq
	s.messages[m.ID] = cloneMessage(m)
	return nil
}

// GetMessage returns a copy of the message.
func (s *Store) GetMessage(_ context.Context, id string) (*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, sending.ErrMessageNotFound
	}
	return cloneMessage(m), nil
}

// DueMessages returns up to limit claimable messages, earliest due first
// with ties broken by insertion order.
func (s *Store) DueMessages(_ context.Context, now time.Time, limit int) ([]domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Message
	for _, m := range s.messages {
		if m.Claimable(now) {
			out = append(out, *cloneMessage(m))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ScheduledFor.Equal(out[j].ScheduledFor) {
			return out[i].ScheduledFor.Before(out[j].ScheduledFor)
		}
		return out[i].Seq < out[j].Seq
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ClaimMessage moves the message from pending to processing and counts the
// attempt, but only if it is still pending, under the attempt cap and at
// the expected version. Otherwise it returns sending.ErrClaimLost.
func (s *Store) ClaimMessage(_ context.Context, id string, version int, now time.Time) (*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, sending.ErrMessageNotFound
	}
	if m.Status != domain.MessagePending || m.Attempts >= domain.MaxAttempts || m.Version != version {
		return nil, sending.ErrClaimLost
	}
	m.Status = domain.MessageProcessing
	m.Attempts++
	m.LastAttemptAt = &now
	m.Version++
	return cloneMessage(m), nil
}

// MarkMessageSent records a successful send of a processing message.
func (s *Store) MarkMessageSent(_ context.Context, id string, rc domain.SendReceipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok || m.Status != domain.MessageProcessing {
		return sending.ErrMessageNotFound
	}
	sentAt := rc.SentAt
	m.Status = domain.MessageSent
	m.SentAt = &sentAt
	m.ThreadID = rc.ThreadID
	m.TransportMessageID = rc.TransportMessageID
	m.HeaderID = rc.HeaderID
	m.Error = ""
	m.Version++
	return nil
}

// MarkMessageFailed records a failed attempt of a processing message.
func (s *Store) MarkMessageFailed(_ context.Context, id, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok || m.Status != domain.MessageProcessing {
		return sending.ErrMessageNotFound
	}
	m.Status = domain.MessageFailed
	m.Error = reason
	m.Version++
	return nil
}

// ListSentMessages returns the campaign's sent messages.
func (s *Store) ListSentMessages(_ context.Context, campaignID string) ([]domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Message
	for _, m := range s.messages {
		if m.CampaignID == campaignID && m.Status == domain.MessageSent {
			out = append(out, *cloneMessage(m))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

// FollowUpExists reports whether a follow-up at index is already queued
// for recipient, in any status.
func (s *Store) FollowUpExists(_ context.Context, campaignID, recipient string, index int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.followUpExistsLocked(campaignID, recipient, index), nil
}

func (s *Store) followUpExistsLocked(campaignID, recipient string, index int) bool {
	for _, m := range s.messages {
		if m.CampaignID == campaignID && m.Recipient == recipient && m.IsFollowUp() && *m.FollowUpIndex == index {
			return true
		}
	}
	return false
}

// TransitionMessages moves the campaign's messages in status from to
// status to. An empty recipient matches every recipient.
func (s *Store) TransitionMessages(_ context.Context, campaignID, recipient string, from, to domain.MessageStatus) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, m := range s.messages {
		if m.CampaignID != campaignID || m.Status != from {
			continue
		}
		if recipient != "" && m.Recipient != recipient {
			continue
		}
		m.Status = to
		m.Version++
		n++
	}
	return n, nil
}

// FailStaleMessages marks messages processing since before cutoff failed.
func (s *Store) FailStaleMessages(_ context.Context, cutoff time.Time, reason string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, m := range s.messages {
		if m.Status == domain.MessageProcessing && m.LastAttemptAt != nil && m.LastAttemptAt.Before(cutoff) {
			m.Status = domain.MessageFailed
			m.Error = reason
			m.Version++
			n++
		}
	}
	return n, nil
}

// PurgeFailedMessages deletes up to limit failed messages created before
// cutoff.
func (s *Store) PurgeFailedMessages(_ context.Context, cutoff time.Time, limit int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, m := range s.messages {
		if limit > 0 && n >= int64(limit) {
			break
		}
		if m.Status == domain.MessageFailed && m.CreatedAt.Before(cutoff) {
			delete(s.messages, id)
			n++
		}
	}
	return n, nil
}

// ── Events ───────────────────────────────────────────────────────────────

// AppendEvent stores evt, assigning an ID and timestamp when empty.
func (s *Store) AppendEvent(_ context.Context, evt *domain.AnalyticsEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if evt.ID == "" {
		evt.ID = uuid.New().String()
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	s.events = append(s.events, *evt)
	return nil
}

// Events returns a copy of all stored events.
func (s *Store) Events() []domain.AnalyticsEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.AnalyticsEvent(nil), s.events...)
}

// Messages returns copies of all messages in insertion order.
func (s *Store) Messages() []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Message, 0, len(s.messages))
	for _, m := range s.messages {
		out = append(out, *cloneMessage(m))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// ── Credentials ──────────────────────────────────────────────────────────

// LoadCredential returns the mailbox's stored credential.
func (s *Store) LoadCredential(_ context.Context, mailboxID string) (*domain.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.credentials[mailboxID]
	if !ok {
		return nil, sending.ErrCredentialUnavailable
	}
	cp := *c
	return &cp, nil
}

// SaveCredential upserts the credential.
func (s *Store) SaveCredential(_ context.Context, cred *domain.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *cred
	s.credentials[cred.MailboxID] = &cp
	return nil
}

func cloneCampaign(c *domain.Campaign) *domain.Campaign {
	cp := *c
	cp.FollowUps = append([]domain.FollowUpTemplate(nil), c.FollowUps...)
	return &cp
}

func cloneLead(l *domain.Lead) *domain.Lead {
	cp := *l
	cp.Opens = append([]domain.Open(nil), l.Opens...)
	cp.Clicks = append([]domain.Click(nil), l.Clicks...)
	cp.Replies = append([]domain.Reply(nil), l.Replies...)
	if l.LastActivity != nil {
		t := *l.LastActivity
		cp.LastActivity = &t
	}
	return &cp
}

func cloneMessage(m *domain.Message) *domain.Message {
	cp := *m
	if m.FollowUpIndex != nil {
		i := *m.FollowUpIndex
		cp.FollowUpIndex = &i
	}
	if m.LastAttemptAt != nil {
		t := *m.LastAttemptAt
		cp.LastAttemptAt = &t
	}
	if m.SentAt != nil {
		t := *m.SentAt
		cp.SentAt = &t
	}
	cp.References = append([]string(nil), m.References...)
	return &cp
}
