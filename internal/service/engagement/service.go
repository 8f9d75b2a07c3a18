package engagement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ignite/outreach/internal/domain"
	"github.com/ignite/outreach/internal/events"
	"github.com/ignite/outreach/internal/pkg/logger"
	"github.com/ignite/outreach/internal/service/sending"
)

// Hit is one tracking request as the endpoint saw it.
type Hit struct {
	CampaignID string
	MessageID  string
	Token      string
	URL        string
	IP         string
	UserAgent  string
}

// Service records lead engagement.
type Service struct {
	store     Store
	publisher events.Publisher
	now       func() time.Time
}

// NewService creates a Service. A nil publisher discards events.
func NewService(store Store, publisher events.Publisher) *Service {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Service{
		store:     store,
		publisher: publisher,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// RecordOpen records an open of the hit's message. It reports whether the
// hit matched a message and lead of the campaign; unmatched hits are not an
// error.
func (s *Service) RecordOpen(ctx context.Context, hit Hit) (bool, error) {
	msg, lead, err := s.resolve(ctx, hit)
	if err != nil || lead == nil {
		return false, err
	}

	now := s.now()
	if err := s.store.AddLeadOpen(ctx, lead.ID, domain.Open{MessageID: msg.ID, Date: now}); err != nil {
		return false, fmt.Errorf("record open: %w", err)
	}
	s.emit(ctx, domain.AnalyticsEvent{
		Type:       domain.EventOpen,
		CampaignID: hit.CampaignID,
		LeadID:     lead.ID,
		MessageID:  msg.ID,
		Timestamp:  now,
		Metadata:   hitMetadata(hit),
	})
	s.increment(ctx, hit.CampaignID, domain.CounterOpen)
	return true, nil
}

// RecordClick records a click through the hit's URL. When the campaign stops
// on click, the lead's pending messages are cancelled; messages already
// processing or sent are left alone.
func (s *Service) RecordClick(ctx context.Context, hit Hit) (bool, error) {
	if hit.URL == "" {
		return false, nil
	}
	msg, lead, err := s.resolve(ctx, hit)
	if err != nil || lead == nil {
		return false, err
	}

	now := s.now()
	if err := s.store.AddLeadClick(ctx, lead.ID, domain.Click{MessageID: msg.ID, URL: hit.URL, Date: now}); err != nil {
		return false, fmt.Errorf("record click: %w", err)
	}
	meta := hitMetadata(hit)
	meta["url"] = hit.URL
	s.emit(ctx, domain.AnalyticsEvent{
		Type:       domain.EventClick,
		CampaignID: hit.CampaignID,
		LeadID:     lead.ID,
		MessageID:  msg.ID,
		Timestamp:  now,
		Metadata:   meta,
	})
	s.increment(ctx, hit.CampaignID, domain.CounterClick)

	campaign, err := s.store.GetCampaign(ctx, hit.CampaignID)
	if err != nil {
		return true, fmt.Errorf("load campaign: %w", err)
	}
	if campaign.Settings.StopOnClick {
		n, err := s.store.TransitionMessages(ctx, campaign.ID, lead.Email, domain.MessagePending, domain.MessageCancelled)
		if err != nil {
			return true, fmt.Errorf("cancel pending messages: %w", err)
		}
		if n > 0 {
			logger.Info("pending messages cancelled on click",
				"campaign_id", campaign.ID, "lead_id", lead.ID, "cancelled", n)
		}
	}
	return true, nil
}

// RecordReply records a reply to messageID on the lead, at most once per
// message. When the campaign stops on reply the lead is marked replied and
// its pending messages are cancelled. It reports whether the reply was new.
func (s *Service) RecordReply(ctx context.Context, campaign *domain.Campaign, lead *domain.Lead, messageID, content string) (bool, error) {
	now := s.now()
	added, err := s.store.AddLeadReply(ctx, lead.ID, domain.Reply{
		MessageID: messageID,
		Content:   content,
		Date:      now,
	}, campaign.Settings.StopOnReply)
	if err != nil {
		return false, fmt.Errorf("record reply: %w", err)
	}
	if !added {
		return false, nil
	}

	s.emit(ctx, domain.AnalyticsEvent{
		Type:       domain.EventReply,
		CampaignID: campaign.ID,
		LeadID:     lead.ID,
		MessageID:  messageID,
		Timestamp:  now,
		Metadata:   map[string]string{"source": "thread"},
	})
	s.increment(ctx, campaign.ID, domain.CounterReply)

	if campaign.Settings.StopOnReply {
		n, err := s.store.TransitionMessages(ctx, campaign.ID, lead.Email, domain.MessagePending, domain.MessageCancelled)
		if err != nil {
			return true, fmt.Errorf("cancel pending messages: %w", err)
		}
		if n > 0 {
			logger.Info("pending messages cancelled on reply",
				"campaign_id", campaign.ID, "lead_id", lead.ID, "cancelled", n)
		}
	}
	return true, nil
}

// resolve maps a hit to its message and lead. A nil lead with a nil error
// means the hit does not belong to any known lead.
func (s *Service) resolve(ctx context.Context, hit Hit) (*domain.Message, *domain.Lead, error) {
	if hit.CampaignID == "" || hit.MessageID == "" {
		return nil, nil, nil
	}
	msg, err := s.store.GetMessage(ctx, hit.MessageID)
	if errors.Is(err, sending.ErrMessageNotFound) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load message: %w", err)
	}
	if msg.CampaignID != hit.CampaignID {
		return nil, nil, nil
	}

	var lead *domain.Lead
	if msg.LeadID != "" {
		lead, err = s.store.GetLead(ctx, msg.LeadID)
	} else {
		lead, err = s.store.FindLeadByEmail(ctx, msg.CampaignID, msg.Recipient)
	}
	if errors.Is(err, sending.ErrLeadNotFound) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load lead: %w", err)
	}
	return msg, lead, nil
}

// emit stores the event and forwards it. A storage failure is logged; the
// lead history already holds the fact.
func (s *Service) emit(ctx context.Context, evt domain.AnalyticsEvent) {
	if err := s.store.AppendEvent(ctx, &evt); err != nil {
		logger.Error("append analytics event", "type", string(evt.Type), "message_id", evt.MessageID, "error", err)
		return
	}
	s.publisher.Publish(ctx, evt)
}

func (s *Service) increment(ctx context.Context, campaignID string, c domain.Counter) {
	if err := s.store.IncrementCampaignCounter(ctx, campaignID, c); err != nil {
		logger.Error("increment campaign counter", "campaign_id", campaignID, "counter", string(c), "error", err)
	}
}

func hitMetadata(hit Hit) map[string]string {
	meta := map[string]string{}
	if hit.Token != "" {
		meta["tracking_id"] = hit.Token
	}
	if hit.IP != "" {
		meta["ip"] = hit.IP
	}
	if hit.UserAgent != "" {
		meta["user_agent"] = hit.UserAgent
		meta["device"] = detectDevice(hit.UserAgent)
	}
	return meta
}

func detectDevice(ua string) string {
	ua = strings.ToLower(ua)
	if strings.Contains(ua, "tablet") || strings.Contains(ua, "ipad") {
		return "tablet"
	}
	if strings.Contains(ua, "mobile") || strings.Contains(ua, "android") || strings.Contains(ua, "iphone") {
		return "mobile"
	}
	return "desktop"
}
