package campaign_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ignite/outreach/internal/domain"
	"github.com/ignite/outreach/internal/personalize"
	"github.com/ignite/outreach/internal/repository/memory"
	"github.com/ignite/outreach/internal/service/campaign"
)

const testUser = "user-1"

func newCampaign(t *testing.T, store *memory.Store, leads ...string) *domain.Campaign {
	t.Helper()
	ctx := context.Background()
	settings := domain.DefaultSettings()
	settings.SendIntervalSeconds = 90
	c := &domain.Campaign{
		UserID:    testUser,
		Name:      "Q3 outbound",
		Status:    domain.CampaignDraft,
		MailboxID: "mbx-1",
		Subject:   "Hi {first_name}",
		Body:      "<p>Hello {first_name} at {company}</p>",
		Settings:  settings,
	}
	if err := store.CreateCampaign(ctx, c); err != nil {
		t.Fatalf("create campaign: %v", err)
	}
	for i, email := range leads {
		l := &domain.Lead{
			CampaignID: c.ID,
			Email:      email,
			FirstName:  "Lead",
			Company:    "Acme",
			CreatedAt:  time.Now().Add(time.Duration(i) * time.Millisecond),
		}
		if err := store.CreateLead(ctx, l); err != nil {
			t.Fatalf("create lead: %v", err)
		}
	}
	return c
}

func pendingMessages(store *memory.Store, campaignID string) []domain.Message {
	var out []domain.Message
	for _, m := range store.Messages() {
		if m.CampaignID == campaignID && m.Status == domain.MessagePending {
			out = append(out, m)
		}
	}
	return out
}

func TestGetNotFound(t *testing.T) {
	svc := campaign.NewService(memory.New(), personalize.NewEngine())
	_, err := svc.Get(context.Background(), testUser, "nonexistent")
	if !errors.Is(err, campaign.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetOtherUser(t *testing.T) {
	store := memory.New()
	c := newCampaign(t, store)
	svc := campaign.NewService(store, personalize.NewEngine())
	_, err := svc.Get(context.Background(), "intruder", c.ID)
	if !errors.Is(err, campaign.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestStart(t *testing.T) {
	store := memory.New()
	c := newCampaign(t, store, "a@acme.io", "b@acme.io", "c@acme.io")
	svc := campaign.NewService(store, personalize.NewEngine())

	before := time.Now().UTC()
	res, err := svc.Start(context.Background(), testUser, c.ID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if res.Enqueued != 3 {
		t.Fatalf("expected 3 enqueued, got %d", res.Enqueued)
	}
	if res.FirstSendAt.Before(before) {
		t.Fatalf("first send %v before start %v", res.FirstSendAt, before)
	}

	got, _ := svc.Get(context.Background(), testUser, c.ID)
	if got.Status != domain.CampaignActive {
		t.Fatalf("expected active, got %s", got.Status)
	}

	msgs := pendingMessages(store, c.ID)
	if len(msgs) != 3 {
		t.Fatalf("expected 3 pending messages, got %d", len(msgs))
	}
	for _, m := range msgs {
		if m.Type != domain.MessageInitial {
			t.Fatalf("expected initial message, got %s", m.Type)
		}
		if m.Subject != "Hi Lead" || m.Body != "<p>Hello Lead at Acme</p>" {
			t.Fatalf("not personalized: %q / %q", m.Subject, m.Body)
		}
		if m.LeadID == "" {
			t.Fatal("message not linked to lead")
		}
		offset := m.ScheduledFor.Sub(res.FirstSendAt)
		if offset%(90*time.Second) != 0 || offset < 0 || offset > 180*time.Second {
			t.Fatalf("unexpected stagger %v for %s", offset, m.Recipient)
		}
	}
}

func TestStartHonoursFutureStartDate(t *testing.T) {
	store := memory.New()
	future := time.Now().Add(48 * time.Hour).UTC()
	c := &domain.Campaign{
		UserID:    testUser,
		Status:    domain.CampaignScheduled,
		MailboxID: "mbx-1",
		Subject:   "s",
		Body:      "b",
		StartDate: &future,
	}
	_ = store.CreateCampaign(context.Background(), c)
	_ = store.CreateLead(context.Background(), &domain.Lead{CampaignID: c.ID, Email: "a@acme.io"})

	svc := campaign.NewService(store, personalize.NewEngine())
	res, err := svc.Start(context.Background(), testUser, c.ID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if !res.FirstSendAt.Equal(future) {
		t.Fatalf("expected first send at %v, got %v", future, res.FirstSendAt)
	}
}

func TestStartWithoutLeads(t *testing.T) {
	store := memory.New()
	c := newCampaign(t, store)
	svc := campaign.NewService(store, personalize.NewEngine())

	_, err := svc.Start(context.Background(), testUser, c.ID)
	if !errors.Is(err, campaign.ErrNoLeads) {
		t.Fatalf("expected ErrNoLeads, got %v", err)
	}
	got, _ := svc.Get(context.Background(), testUser, c.ID)
	if got.Status != domain.CampaignDraft {
		t.Fatalf("status changed to %s", got.Status)
	}
}

func TestStartIncomplete(t *testing.T) {
	store := memory.New()
	c := &domain.Campaign{UserID: testUser, Status: domain.CampaignDraft, Subject: "s"}
	_ = store.CreateCampaign(context.Background(), c)
	_ = store.CreateLead(context.Background(), &domain.Lead{CampaignID: c.ID, Email: "a@acme.io"})

	svc := campaign.NewService(store, personalize.NewEngine())
	_, err := svc.Start(context.Background(), testUser, c.ID)
	if !errors.Is(err, campaign.ErrIncomplete) {
		t.Fatalf("expected ErrIncomplete, got %v", err)
	}
}

func TestStartTwice(t *testing.T) {
	store := memory.New()
	c := newCampaign(t, store, "a@acme.io")
	svc := campaign.NewService(store, personalize.NewEngine())

	if _, err := svc.Start(context.Background(), testUser, c.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	_, err := svc.Start(context.Background(), testUser, c.ID)
	if !errors.Is(err, campaign.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if n := len(pendingMessages(store, c.ID)); n != 1 {
		t.Fatalf("expected 1 pending message, got %d", n)
	}
}

// statusFailRepo fails every status update.
type statusFailRepo struct {
	*memory.Store
}

func (statusFailRepo) UpdateCampaignStatus(context.Context, string, domain.CampaignStatus) error {
	return errors.New("db down")
}

func TestStartRollsBackMessages(t *testing.T) {
	store := memory.New()
	c := newCampaign(t, store, "a@acme.io", "b@acme.io")
	svc := campaign.NewService(statusFailRepo{store}, personalize.NewEngine())

	if _, err := svc.Start(context.Background(), testUser, c.ID); err == nil {
		t.Fatal("expected error")
	}
	if n := len(pendingMessages(store, c.ID)); n != 0 {
		t.Fatalf("expected no pending messages after rollback, got %d", n)
	}
}

func TestPauseResume(t *testing.T) {
	store := memory.New()
	c := newCampaign(t, store, "a@acme.io", "b@acme.io")
	svc := campaign.NewService(store, personalize.NewEngine())
	ctx := context.Background()

	if _, err := svc.Start(ctx, testUser, c.ID); err != nil {
		t.Fatalf("start: %v", err)
	}

	// One message already went out; pause must leave it alone.
	msgs := pendingMessages(store, c.ID)
	claimed, err := store.ClaimMessage(ctx, msgs[0].ID, msgs[0].Version, time.Now())
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := store.MarkMessageSent(ctx, claimed.ID, domain.SendReceipt{SentAt: time.Now(), ThreadID: "th", TransportMessageID: "gm"}); err != nil {
		t.Fatalf("mark sent: %v", err)
	}

	n, err := svc.Pause(ctx, testUser, c.ID)
	if err != nil {
		t.Fatalf("pause: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 paused message, got %d", n)
	}
	got, _ := svc.Get(ctx, testUser, c.ID)
	if got.Status != domain.CampaignPaused {
		t.Fatalf("expected paused, got %s", got.Status)
	}
	if due, _ := store.DueMessages(ctx, time.Now().Add(time.Hour), 10); len(due) != 0 {
		t.Fatalf("paused campaign still has %d due messages", len(due))
	}

	if _, err := svc.Pause(ctx, testUser, c.ID); !errors.Is(err, campaign.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition on double pause, got %v", err)
	}

	n, err = svc.Resume(ctx, testUser, c.ID)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 resumed message, got %d", n)
	}
	got, _ = svc.Get(ctx, testUser, c.ID)
	if got.Status != domain.CampaignActive {
		t.Fatalf("expected active, got %s", got.Status)
	}
	sent, _ := store.GetMessage(ctx, claimed.ID)
	if sent.Status != domain.MessageSent {
		t.Fatalf("sent message changed to %s", sent.Status)
	}
}

func TestResumeRequiresPaused(t *testing.T) {
	store := memory.New()
	c := newCampaign(t, store, "a@acme.io")
	svc := campaign.NewService(store, personalize.NewEngine())
	if _, err := svc.Resume(context.Background(), testUser, c.ID); !errors.Is(err, campaign.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestDelete(t *testing.T) {
	store := memory.New()
	c := newCampaign(t, store, "a@acme.io")
	svc := campaign.NewService(store, personalize.NewEngine())
	ctx := context.Background()
	if _, err := svc.Start(ctx, testUser, c.ID); err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := svc.Delete(ctx, "intruder", c.ID); !errors.Is(err, campaign.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if err := svc.Delete(ctx, testUser, c.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	_, err := svc.Get(ctx, testUser, c.ID)
	if !errors.Is(err, campaign.ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
	if len(store.Messages()) != 0 {
		t.Fatal("messages survived delete")
	}
}
