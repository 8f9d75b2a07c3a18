package domain

import "time"

// MaxAttempts caps how many times a message may be claimed over its
// lifetime. A message whose attempts reach the cap is never pending again.
const MaxAttempts = 3

// MessageStatus enumerates the lifecycle of a single queued email.
type MessageStatus string

const (
	MessagePending    MessageStatus = "pending"
	MessageProcessing MessageStatus = "processing"
	MessageSent       MessageStatus = "sent"
	MessageFailed     MessageStatus = "failed"
	MessagePaused     MessageStatus = "paused"
	MessageCancelled  MessageStatus = "cancelled"
)

// MessageType distinguishes the first touch from follow-ups.
type MessageType string

const (
	MessageInitial  MessageType = "initial"
	MessageFollowUp MessageType = "follow_up"
)

// Message is one queued or sent email tied to a campaign and recipient.
type Message struct {
	ID            string        `json:"id" db:"id"`
	CampaignID    string        `json:"campaign_id" db:"campaign_id"`
	LeadID        string        `json:"lead_id" db:"lead_id"`
	Recipient     string        `json:"recipient" db:"recipient"`
	Subject       string        `json:"subject" db:"subject"`
	Body          string        `json:"body" db:"body"`
	Type          MessageType   `json:"type" db:"type"`
	FollowUpIndex *int          `json:"follow_up_index,omitempty" db:"follow_up_index"`
	Status        MessageStatus `json:"status" db:"status"`

	ScheduledFor  time.Time  `json:"scheduled_for" db:"scheduled_for"`
	Attempts      int        `json:"attempts" db:"attempts"`
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty" db:"last_attempt_at"`
	SentAt        *time.Time `json:"sent_at,omitempty" db:"sent_at"`

	ThreadID           string `json:"thread_id,omitempty" db:"thread_id"`
	TransportMessageID string `json:"transport_message_id,omitempty" db:"transport_message_id"`
	Error              string `json:"error,omitempty" db:"error"`

	// HeaderID is the Message-ID header the message went out with.
	HeaderID string `json:"header_id,omitempty" db:"header_id"`
	// References holds the Message-IDs of the earlier messages in the
	// conversation, oldest first.
	References []string `json:"references,omitempty" db:"thread_refs"`

	// Version is bumped on every state change and guards the claim.
	Version int `json:"version" db:"version"`
	// Seq is the insertion order, used to break scheduled_for ties.
	Seq int64 `json:"seq" db:"seq"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// SendReceipt is what a successful send records on its message.
type SendReceipt struct {
	SentAt             time.Time
	ThreadID           string
	TransportMessageID string
	HeaderID           string
}

// IsFollowUp reports whether the message belongs to the follow-up sequence.
func (m *Message) IsFollowUp() bool {
	return m.Type == MessageFollowUp && m.FollowUpIndex != nil
}

// NextFollowUpIndex returns the sequence position that should follow m:
// 0 after the initial message, otherwise one past m's own index.
func (m *Message) NextFollowUpIndex() int {
	if m.IsFollowUp() {
		return *m.FollowUpIndex + 1
	}
	return 0
}

// ThreadReferences returns the References chain a reply to m carries: m's
// own chain followed by m's Message-ID.
func (m *Message) ThreadReferences() []string {
	if m.HeaderID == "" {
		return append([]string(nil), m.References...)
	}
	out := make([]string, 0, len(m.References)+1)
	out = append(out, m.References...)
	return append(out, m.HeaderID)
}

// Claimable reports whether a dispatcher may claim the message at now.
func (m *Message) Claimable(now time.Time) bool {
	return m.Status == MessagePending && m.Attempts < MaxAttempts && !m.ScheduledFor.After(now)
}
