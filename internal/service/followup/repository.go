package followup

import (
	"context"

	"github.com/ignite/outreach/internal/domain"
)

// Store is the persistence the scheduler needs.
type Store interface {
	ListCampaignsByStatus(ctx context.Context, status domain.CampaignStatus) ([]domain.Campaign, error)
	ListActiveLeads(ctx context.Context, campaignID string) ([]domain.Lead, error)
	ListSentMessages(ctx context.Context, campaignID string) ([]domain.Message, error)
	FollowUpExists(ctx context.Context, campaignID, recipient string, index int) (bool, error)
	// EnqueueMessage returns sending.ErrDuplicateFollowUp when the
	// follow-up already exists.
	EnqueueMessage(ctx context.Context, m *domain.Message) error
}

// ReplyRecorder stores a detected reply. It reports false when the reply
// was already recorded.
type ReplyRecorder interface {
	RecordReply(ctx context.Context, campaign *domain.Campaign, lead *domain.Lead, messageID, content string) (bool, error)
}

// Renderer substitutes lead attributes into a template.
type Renderer interface {
	Render(tpl string, lead *domain.Lead) string
}
