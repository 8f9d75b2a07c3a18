package delivery

import (
	"context"
	"time"

	"github.com/ignite/outreach/internal/domain"
)

// Store is the queue access the dispatcher needs. Implementations must be
// safe for concurrent use.
type Store interface {
	// DueMessages returns up to limit pending messages due at now with
	// attempts under domain.MaxAttempts, earliest due first, ties by
	// insertion order.
	DueMessages(ctx context.Context, now time.Time, limit int) ([]domain.Message, error)

	// ClaimMessage atomically moves a pending message at version to
	// processing and counts the attempt. Returns sending.ErrClaimLost when
	// the message changed since it was read.
	ClaimMessage(ctx context.Context, id string, version int, now time.Time) (*domain.Message, error)

	MarkMessageSent(ctx context.Context, id string, rc domain.SendReceipt) error
	MarkMessageFailed(ctx context.Context, id, reason string) error

	GetCampaign(ctx context.Context, id string) (*domain.Campaign, error)
	IncrementCampaignCounter(ctx context.Context, id string, counter domain.Counter) error

	FindLeadByEmail(ctx context.Context, campaignID, email string) (*domain.Lead, error)
	TouchLeadActivity(ctx context.Context, id string, at time.Time) error
}
