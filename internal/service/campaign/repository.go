package campaign

import (
	"context"

	"github.com/ignite/outreach/internal/domain"
)

// Repository defines the data access contract for the campaign lifecycle.
// Implementations must be safe for concurrent use.
type Repository interface {
	// GetCampaign returns sending.ErrCampaignNotFound if it doesn't exist.
	GetCampaign(ctx context.Context, id string) (*domain.Campaign, error)
	UpdateCampaignStatus(ctx context.Context, id string, status domain.CampaignStatus) error
	// DeleteCampaign removes the campaign with its leads, messages and
	// events.
	DeleteCampaign(ctx context.Context, id string) error

	ListActiveLeads(ctx context.Context, campaignID string) ([]domain.Lead, error)

	// EnqueueMessages inserts all messages or none.
	EnqueueMessages(ctx context.Context, msgs []*domain.Message) error
	// TransitionMessages moves messages of the campaign between statuses.
	// An empty recipient matches every recipient.
	TransitionMessages(ctx context.Context, campaignID, recipient string, from, to domain.MessageStatus) (int64, error)
}
