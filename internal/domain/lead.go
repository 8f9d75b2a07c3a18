package domain

import "time"

// LeadStatus enumerates the engagement state of a campaign recipient.
type LeadStatus string

const (
	LeadActive       LeadStatus = "active"
	LeadReplied      LeadStatus = "replied"
	LeadUnsubscribed LeadStatus = "unsubscribed"
	LeadBounced      LeadStatus = "bounced"
)

// Open is one recorded open of a campaign message.
type Open struct {
	MessageID string    `json:"message_id"`
	Date      time.Time `json:"date"`
}

// Click is one recorded link click.
type Click struct {
	MessageID string    `json:"message_id"`
	URL       string    `json:"url"`
	Date      time.Time `json:"date"`
}

// Reply references the message it answers. At most one reply is kept per
// message.
type Reply struct {
	MessageID string    `json:"message_id"`
	Content   string    `json:"content,omitempty"`
	Date      time.Time `json:"date"`
}

// Lead is a campaign recipient, their personalization attributes and their
// engagement history.
type Lead struct {
	ID         string     `json:"id" db:"id"`
	CampaignID string     `json:"campaign_id" db:"campaign_id"`
	Email      string     `json:"email" db:"email"`
	FirstName  string     `json:"first_name" db:"first_name"`
	LastName   string     `json:"last_name" db:"last_name"`
	Company    string     `json:"company" db:"company"`
	Title      string     `json:"title" db:"title"`
	Industry   string     `json:"industry" db:"industry"`
	City       string     `json:"city" db:"city"`
	State      string     `json:"state" db:"state"`
	Website    string     `json:"website" db:"website"`
	Status     LeadStatus `json:"status" db:"status"`

	Opens   []Open  `json:"opens"`
	Clicks  []Click `json:"clicks"`
	Replies []Reply `json:"replies"`

	LastActivity *time.Time `json:"last_activity,omitempty" db:"last_activity"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
}

// HasReplyFor reports whether a reply to messageID is already recorded.
func (l *Lead) HasReplyFor(messageID string) bool {
	for _, r := range l.Replies {
		if r.MessageID == messageID {
			return true
		}
	}
	return false
}

// Attributes returns the personalization values keyed by placeholder name.
func (l *Lead) Attributes() map[string]string {
	return map[string]string{
		"first_name": l.FirstName,
		"last_name":  l.LastName,
		"email":      l.Email,
		"company":    l.Company,
		"title":      l.Title,
		"industry":   l.Industry,
		"city":       l.City,
		"state":      l.State,
		"website":    l.Website,
	}
}
