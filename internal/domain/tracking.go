package domain

import "time"

// EventType enumerates the kinds of analytics facts recorded for a campaign.
type EventType string

const (
	EventOpen        EventType = "open"
	EventClick       EventType = "click"
	EventReply       EventType = "reply"
	EventBounce      EventType = "bounce"
	EventUnsubscribe EventType = "unsubscribe"
)

// AnalyticsEvent is an immutable engagement fact. Events are append-only.
type AnalyticsEvent struct {
	ID         string            `json:"id" db:"id"`
	Type       EventType         `json:"event_type" db:"event_type"`
	CampaignID string            `json:"campaign_id" db:"campaign_id"`
	LeadID     string            `json:"lead_id" db:"lead_id"`
	MessageID  string            `json:"message_id" db:"message_id"`
	Timestamp  time.Time         `json:"timestamp" db:"timestamp"`
	Metadata   map[string]string `json:"metadata,omitempty" db:"metadata"`
}
