package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ignite/outreach/internal/domain"
	"github.com/ignite/outreach/internal/service/sending"
)

func intPtr(i int) *int { return &i }

func TestClaim_ConcurrentOnlyOneWins(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now()
	m := &domain.Message{CampaignID: "c1", Recipient: "a@b.io", ScheduledFor: now.Add(-time.Minute)}
	if err := s.EnqueueMessage(ctx, m); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	var wins, lost int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.ClaimMessage(ctx, m.ID, 0, now)
			switch {
			case err == nil:
				atomic.AddInt32(&wins, 1)
			case errors.Is(err, sending.ErrClaimLost):
				atomic.AddInt32(&lost, 1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if wins != 1 || lost != 15 {
		t.Fatalf("wins=%d lost=%d, want 1/15", wins, lost)
	}

	due, _ := s.DueMessages(ctx, now, 10)
	if len(due) != 0 {
		t.Fatalf("processing message must not be due, got %d", len(due))
	}
}

func TestClaim_AttemptCap(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now()
	m := &domain.Message{CampaignID: "c1", Recipient: "a@b.io", ScheduledFor: now, Attempts: domain.MaxAttempts}
	_ = s.EnqueueMessage(ctx, m)

	if _, err := s.ClaimMessage(ctx, m.ID, 0, now); !errors.Is(err, sending.ErrClaimLost) {
		t.Fatalf("claim at cap: err = %v, want ErrClaimLost", err)
	}
	due, _ := s.DueMessages(ctx, now, 10)
	if len(due) != 0 {
		t.Fatalf("capped message returned as due")
	}
}

func TestClaim_StaleVersion(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now()
	m := &domain.Message{CampaignID: "c1", Recipient: "a@b.io", ScheduledFor: now}
	_ = s.EnqueueMessage(ctx, m)

	// pause + resume bumps the version twice
	_, _ = s.TransitionMessages(ctx, "c1", "", domain.MessagePending, domain.MessagePaused)
	_, _ = s.TransitionMessages(ctx, "c1", "", domain.MessagePaused, domain.MessagePending)

	if _, err := s.ClaimMessage(ctx, m.ID, 0, now); !errors.Is(err, sending.ErrClaimLost) {
		t.Fatalf("stale version claim: err = %v", err)
	}
	got, err := s.ClaimMessage(ctx, m.ID, 2, now)
	if err != nil {
		t.Fatalf("claim current version: %v", err)
	}
	if got.Status != domain.MessageProcessing || got.Attempts != 1 || got.Version != 3 {
		t.Fatalf("claimed = %+v", got)
	}
}

func TestDueMessages_OrderAndLimit(t *testing.T) {
	ctx := context.Background()
	s := New()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	add := func(rcpt string, at time.Time) {
		if err := s.EnqueueMessage(ctx, &domain.Message{CampaignID: "c", Recipient: rcpt, ScheduledFor: at}); err != nil {
			t.Fatalf("enqueue %s: %v", rcpt, err)
		}
	}
	add("late", base.Add(2*time.Minute))
	add("tie-1", base)
	add("tie-2", base)
	add("future", base.Add(time.Hour))
	add("early", base.Add(-time.Minute))

	due, err := s.DueMessages(ctx, base.Add(5*time.Minute), 3)
	if err != nil {
		t.Fatalf("due: %v", err)
	}
	var got []string
	for _, m := range due {
		got = append(got, m.Recipient)
	}
	want := []string{"early", "tie-1", "tie-2"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestEnqueueMessage_DuplicateFollowUp(t *testing.T) {
	ctx := context.Background()
	s := New()
	mk := func() *domain.Message {
		return &domain.Message{CampaignID: "c", Recipient: "a@b.io", Type: domain.MessageFollowUp, FollowUpIndex: intPtr(1)}
	}
	if err := s.EnqueueMessage(ctx, mk()); err != nil {
		t.Fatalf("first: %v", err)
	}
	if err := s.EnqueueMessage(ctx, mk()); !errors.Is(err, sending.ErrDuplicateFollowUp) {
		t.Fatalf("second: err = %v", err)
	}
	ok, _ := s.FollowUpExists(ctx, "c", "a@b.io", 1)
	if !ok {
		t.Fatal("FollowUpExists = false")
	}
}

func TestAddLeadReply_Idempotent(t *testing.T) {
	ctx := context.Background()
	s := New()
	l := &domain.Lead{CampaignID: "c", Email: "a@b.io"}
	_ = s.CreateLead(ctx, l)

	r := domain.Reply{MessageID: "m1", Date: time.Now()}
	added, err := s.AddLeadReply(ctx, l.ID, r, true)
	if err != nil || !added {
		t.Fatalf("first reply: added=%v err=%v", added, err)
	}
	added, err = s.AddLeadReply(ctx, l.ID, r, true)
	if err != nil || added {
		t.Fatalf("second reply: added=%v err=%v", added, err)
	}
	got, _ := s.GetLead(ctx, l.ID)
	if len(got.Replies) != 1 || got.Status != domain.LeadReplied {
		t.Fatalf("lead = %+v", got)
	}
}

func TestFailStaleAndPurge(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now()
	old := &domain.Message{CampaignID: "c", Recipient: "old@b.io", ScheduledFor: now, CreatedAt: now.Add(-40 * 24 * time.Hour)}
	fresh := &domain.Message{CampaignID: "c", Recipient: "new@b.io", ScheduledFor: now}
	_ = s.EnqueueMessage(ctx, old)
	_ = s.EnqueueMessage(ctx, fresh)
	_, _ = s.ClaimMessage(ctx, old.ID, 0, now.Add(-time.Hour))
	_, _ = s.ClaimMessage(ctx, fresh.ID, 0, now)

	n, _ := s.FailStaleMessages(ctx, now.Add(-10*time.Minute), "processing timed out")
	if n != 1 {
		t.Fatalf("failed stale = %d, want 1", n)
	}
	got, _ := s.GetMessage(ctx, old.ID)
	if got.Status != domain.MessageFailed || got.Error != "processing timed out" {
		t.Fatalf("stale message = %+v", got)
	}

	n, _ = s.PurgeFailedMessages(ctx, now.Add(-30*24*time.Hour), 100)
	if n != 1 {
		t.Fatalf("purged = %d, want 1", n)
	}
	if _, err := s.GetMessage(ctx, old.ID); !errors.Is(err, sending.ErrMessageNotFound) {
		t.Fatalf("purged message still present: %v", err)
	}
}

func TestDeleteCampaign_Cascades(t *testing.T) {
	ctx := context.Background()
	s := New()
	c := &domain.Campaign{Name: "x"}
	_ = s.CreateCampaign(ctx, c)
	_ = s.CreateLead(ctx, &domain.Lead{CampaignID: c.ID, Email: "a@b.io"})
	_ = s.EnqueueMessage(ctx, &domain.Message{CampaignID: c.ID, Recipient: "a@b.io"})
	_ = s.AppendEvent(ctx, &domain.AnalyticsEvent{Type: domain.EventOpen, CampaignID: c.ID})
	_ = s.AppendEvent(ctx, &domain.AnalyticsEvent{Type: domain.EventOpen, CampaignID: "other"})

	if err := s.DeleteCampaign(ctx, c.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(s.Messages()) != 0 {
		t.Fatal("messages not cascaded")
	}
	leads, _ := s.ListActiveLeads(ctx, c.ID)
	if len(leads) != 0 {
		t.Fatal("leads not cascaded")
	}
	if evts := s.Events(); len(evts) != 1 || evts[0].CampaignID != "other" {
		t.Fatalf("events not cascaded: %+v", evts)
	}
}
