package campaign

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/ignite/outreach/internal/domain"
	"github.com/ignite/outreach/internal/pkg/logger"
	"github.com/ignite/outreach/internal/service/sending"
)

// Renderer substitutes lead attributes into a template.
type Renderer interface {
	Render(tpl string, lead *domain.Lead) string
}

// Service implements campaign lifecycle operations. All public methods are
// safe for concurrent use if the underlying repository is.
type Service struct {
	repo     Repository
	renderer Renderer
	validate *validator.Validate
	now      func() time.Time
}

// NewService creates a campaign service backed by the given repository.
func NewService(repo Repository, renderer Renderer) *Service {
	return &Service{
		repo:     repo,
		renderer: renderer,
		validate: validator.New(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// startable lists what a campaign needs before it can send.
type startable struct {
	MailboxID string `validate:"required"`
	Subject   string `validate:"required"`
	Body      string `validate:"required"`
	Interval  int    `validate:"gte=1"`
}

// StartResult reports what Start enqueued.
type StartResult struct {
	Enqueued    int       `json:"enqueued"`
	FirstSendAt time.Time `json:"first_send_at"`
}

// Get returns a campaign owned by userID.
func (s *Service) Get(ctx context.Context, userID, id string) (*domain.Campaign, error) {
	c, err := s.repo.GetCampaign(ctx, id)
	if errors.Is(err, sending.ErrCampaignNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if c.UserID != userID {
		return nil, ErrForbidden
	}
	return c, nil
}

// Start enqueues one personalized initial message per active lead, spaced
// by the campaign's send interval from its start date (or now, whichever
// is later), and activates the campaign.
func (s *Service) Start(ctx context.Context, userID, id string) (*StartResult, error) {
	c, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if c.Status != domain.CampaignDraft && c.Status != domain.CampaignScheduled {
		return nil, fmt.Errorf("%w: cannot start a %s campaign", ErrInvalidTransition, c.Status)
	}

	settings := c.Settings.Normalize()
	if err := s.validate.Struct(startable{
		MailboxID: c.MailboxID,
		Subject:   c.Subject,
		Body:      c.Body,
		Interval:  settings.SendIntervalSeconds,
	}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIncomplete, err)
	}

	leads, err := s.repo.ListActiveLeads(ctx, c.ID)
	if err != nil {
		return nil, fmt.Errorf("list leads: %w", err)
	}
	if len(leads) == 0 {
		return nil, ErrNoLeads
	}

	start := s.now()
	if c.StartDate != nil && c.StartDate.After(start) {
		start = *c.StartDate
	}
	interval := settings.SendInterval()

	msgs := make([]*domain.Message, 0, len(leads))
	for i := range leads {
		lead := &leads[i]
		msgs = append(msgs, &domain.Message{
			CampaignID:   c.ID,
			LeadID:       lead.ID,
			Recipient:    lead.Email,
			Subject:      s.renderer.Render(c.Subject, lead),
			Body:         s.renderer.Render(c.Body, lead),
			Type:         domain.MessageInitial,
			Status:       domain.MessagePending,
			ScheduledFor: start.Add(time.Duration(i) * interval),
			CreatedAt:    s.now(),
		})
	}

	if err := s.repo.EnqueueMessages(ctx, msgs); err != nil {
		return nil, fmt.Errorf("enqueue initial messages: %w", err)
	}
	if err := s.repo.UpdateCampaignStatus(ctx, c.ID, domain.CampaignActive); err != nil {
		// Roll back so the queued messages never send for an inactive campaign.
		if _, rbErr := s.repo.TransitionMessages(ctx, c.ID, "", domain.MessagePending, domain.MessageCancelled); rbErr != nil {
			logger.Error("rollback initial messages", "campaign_id", c.ID, "error", rbErr)
		}
		return nil, fmt.Errorf("transition to active: %w", err)
	}

	logger.Info("campaign started", "campaign_id", c.ID, "enqueued", len(msgs), "first_send_at", start.Format(time.RFC3339))
	return &StartResult{Enqueued: len(msgs), FirstSendAt: start}, nil
}

// Pause stops an active campaign and parks its pending messages.
func (s *Service) Pause(ctx context.Context, userID, id string) (int64, error) {
	c, err := s.Get(ctx, userID, id)
	if err != nil {
		return 0, err
	}
	if c.Status != domain.CampaignActive {
		return 0, fmt.Errorf("%w: cannot pause a %s campaign", ErrInvalidTransition, c.Status)
	}
	if err := s.repo.UpdateCampaignStatus(ctx, c.ID, domain.CampaignPaused); err != nil {
		return 0, fmt.Errorf("transition to paused: %w", err)
	}
	n, err := s.repo.TransitionMessages(ctx, c.ID, "", domain.MessagePending, domain.MessagePaused)
	if err != nil {
		return 0, fmt.Errorf("pause messages: %w", err)
	}
	logger.Info("campaign paused", "campaign_id", c.ID, "messages", n)
	return n, nil
}

// Resume reactivates a paused campaign and returns its paused messages to
// the queue. This is the only way a message re-enters pending.
func (s *Service) Resume(ctx context.Context, userID, id string) (int64, error) {
	c, err := s.Get(ctx, userID, id)
	if err != nil {
		return 0, err
	}
	if c.Status != domain.CampaignPaused {
		return 0, fmt.Errorf("%w: cannot resume a %s campaign", ErrInvalidTransition, c.Status)
	}
	n, err := s.repo.TransitionMessages(ctx, c.ID, "", domain.MessagePaused, domain.MessagePending)
	if err != nil {
		return 0, fmt.Errorf("resume messages: %w", err)
	}
	if err := s.repo.UpdateCampaignStatus(ctx, c.ID, domain.CampaignActive); err != nil {
		return 0, fmt.Errorf("transition to active: %w", err)
	}
	logger.Info("campaign resumed", "campaign_id", c.ID, "messages", n)
	return n, nil
}

// Delete removes a campaign and everything it owns.
func (s *Service) Delete(ctx context.Context, userID, id string) error {
	c, err := s.Get(ctx, userID, id)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteCampaign(ctx, c.ID); err != nil {
		return fmt.Errorf("delete campaign: %w", err)
	}
	logger.Info("campaign deleted", "campaign_id", c.ID)
	return nil
}
