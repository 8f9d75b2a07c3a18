package domain

import (
	"time"
)

// CampaignStatus enumerates the lifecycle states of a campaign.
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignScheduled CampaignStatus = "scheduled"
	CampaignActive    CampaignStatus = "active"
	CampaignPaused    CampaignStatus = "paused"
	CampaignCompleted CampaignStatus = "completed"
	CampaignFailed    CampaignStatus = "failed"
	CampaignArchived  CampaignStatus = "archived"
)

// DefaultSendIntervalSeconds is the pause between two sends of a dispatch
// pass when a campaign does not configure one.
const DefaultSendIntervalSeconds = 60

// Settings controls tracking and stop conditions for a campaign.
type Settings struct {
	TrackOpens          bool `json:"track_opens"`
	TrackClicks         bool `json:"track_clicks"`
	StopOnReply         bool `json:"stop_on_reply"`
	StopOnClick         bool `json:"stop_on_click"`
	SendIntervalSeconds int  `json:"send_interval_seconds"`
}

// DefaultSettings returns the settings a new campaign starts with.
func DefaultSettings() Settings {
	return Settings{
		TrackOpens:          true,
		TrackClicks:         true,
		StopOnReply:         true,
		StopOnClick:         false,
		SendIntervalSeconds: DefaultSendIntervalSeconds,
	}
}

// Normalize fills zero-valued numeric settings with their defaults.
func (s Settings) Normalize() Settings {
	if s.SendIntervalSeconds <= 0 {
		s.SendIntervalSeconds = DefaultSendIntervalSeconds
	}
	return s
}

// SendInterval returns the configured pacing gap as a duration.
func (s Settings) SendInterval() time.Duration {
	return time.Duration(s.Normalize().SendIntervalSeconds) * time.Second
}

// WaitUnit is the unit of a follow-up's wait duration.
type WaitUnit string

const (
	WaitMinutes WaitUnit = "minutes"
	WaitHours   WaitUnit = "hours"
	WaitDays    WaitUnit = "days"
	WaitWeeks   WaitUnit = "weeks"
)

// FollowUpStatus tracks whether a follow-up step is still in use.
type FollowUpStatus string

const (
	FollowUpActive   FollowUpStatus = "active"
	FollowUpDisabled FollowUpStatus = "disabled"
)

// FollowUpTemplate is one step in a campaign's follow-up sequence.
type FollowUpTemplate struct {
	Subject      string         `json:"subject"`
	Body         string         `json:"body"`
	WaitDuration int            `json:"wait_duration"`
	WaitUnit     WaitUnit       `json:"wait_unit"`
	Status       FollowUpStatus `json:"status,omitempty"`
}

// Campaign is an outbound sequence: one initial message and an ordered
// list of follow-ups, sent from a single mailbox.
type Campaign struct {
	ID        string         `json:"id" db:"id"`
	UserID    string         `json:"user_id" db:"user_id"`
	Name      string         `json:"name" db:"name"`
	Status    CampaignStatus `json:"status" db:"status"`
	MailboxID string         `json:"mailbox_id" db:"mailbox_id"`

	Subject   string             `json:"subject" db:"subject"`
	Body      string             `json:"body" db:"body"`
	FollowUps []FollowUpTemplate `json:"follow_ups" db:"follow_ups"`
	Settings  Settings           `json:"settings" db:"settings"`
	// StartDate delays the first send of a started campaign.
	StartDate *time.Time `json:"start_date,omitempty" db:"start_date"`

	// Counters only ever increase.
	SentCount  int `json:"sent_count" db:"sent_count"`
	OpenCount  int `json:"open_count" db:"open_count"`
	ClickCount int `json:"click_count" db:"click_count"`
	ReplyCount int `json:"reply_count" db:"reply_count"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// FollowUp returns the template at the given zero-based index.
func (c *Campaign) FollowUp(index int) (FollowUpTemplate, bool) {
	if index < 0 || index >= len(c.FollowUps) {
		return FollowUpTemplate{}, false
	}
	return c.FollowUps[index], true
}

// IsTerminal returns true if the campaign is in a final state.
func (c *Campaign) IsTerminal() bool {
	return c.Status == CampaignCompleted || c.Status == CampaignFailed || c.Status == CampaignArchived
}

// Counter names one of a campaign's engagement counters.
type Counter string

const (
	CounterSent  Counter = "sent_count"
	CounterOpen  Counter = "open_count"
	CounterClick Counter = "click_count"
	CounterReply Counter = "reply_count"
)

// Valid reports whether c names a known counter column.
func (c Counter) Valid() bool {
	switch c {
	case CounterSent, CounterOpen, CounterClick, CounterReply:
		return true
	}
	return false
}
