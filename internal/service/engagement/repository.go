package engagement

import (
	"context"

	"github.com/ignite/outreach/internal/domain"
)

// Store is the persistence the engagement service needs.
type Store interface {
	GetCampaign(ctx context.Context, id string) (*domain.Campaign, error)
	GetMessage(ctx context.Context, id string) (*domain.Message, error)
	GetLead(ctx context.Context, id string) (*domain.Lead, error)
	FindLeadByEmail(ctx context.Context, campaignID, email string) (*domain.Lead, error)

	AddLeadOpen(ctx context.Context, id string, o domain.Open) error
	AddLeadClick(ctx context.Context, id string, c domain.Click) error
	// AddLeadReply appends r unless the lead already has a reply for the
	// same message, and reports whether it did. It must be atomic per lead.
	AddLeadReply(ctx context.Context, id string, r domain.Reply, markReplied bool) (bool, error)

	IncrementCampaignCounter(ctx context.Context, id string, counter domain.Counter) error
	AppendEvent(ctx context.Context, evt *domain.AnalyticsEvent) error

	// TransitionMessages moves the campaign's messages for recipient from
	// one status to another and returns how many moved.
	TransitionMessages(ctx context.Context, campaignID, recipient string, from, to domain.MessageStatus) (int64, error)
}
