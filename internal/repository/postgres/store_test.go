package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/outreach/internal/domain"
	"github.com/ignite/outreach/internal/service/sending"
)

func setupTestDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return db, mock
}

var messageCols = []string{
	"id", "campaign_id", "lead_id", "recipient", "subject", "body", "type",
	"follow_up_index", "status", "scheduled_for", "attempts", "last_attempt_at", "sent_at",
	"thread_id", "transport_message_id", "error", "version", "seq", "created_at",
	"header_id", "thread_refs",
}

func TestMessageRepo_Claim(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewMessageRepo(db)
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`UPDATE outreach_messages\s+SET status = \$1, attempts = attempts \+ 1`).
		WithArgs(domain.MessageProcessing, now, "m1", 4, domain.MessagePending, domain.MaxAttempts).
		WillReturnRows(sqlmock.NewRows(messageCols).AddRow(
			"m1", "c1", "l1", "ada@acme.io", "Hi", "<p>x</p>", "follow_up",
			1, "processing", now.Add(-time.Minute), 2, now, nil,
			"thread-1", "", "", 5, 42, now.Add(-time.Hour),
			"", "{<m0@acme.io>}",
		))

	m, err := repo.ClaimMessage(context.Background(), "m1", 4, now)
	require.NoError(t, err)
	assert.Equal(t, domain.MessageProcessing, m.Status)
	assert.Equal(t, 2, m.Attempts)
	assert.Equal(t, 5, m.Version)
	assert.Equal(t, int64(42), m.Seq)
	require.NotNil(t, m.FollowUpIndex)
	assert.Equal(t, 1, *m.FollowUpIndex)
	require.NotNil(t, m.LastAttemptAt)
	assert.Nil(t, m.SentAt)
	assert.Equal(t, "thread-1", m.ThreadID)
	assert.Equal(t, []string{"<m0@acme.io>"}, m.References)
}

func TestMessageRepo_ClaimLost(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewMessageRepo(db)

	mock.ExpectQuery(`UPDATE outreach_messages`).
		WillReturnRows(sqlmock.NewRows(messageCols))

	_, err := repo.ClaimMessage(context.Background(), "m1", 0, time.Now())
	assert.ErrorIs(t, err, sending.ErrClaimLost)
}

func TestMessageRepo_DueMessages(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewMessageRepo(db)
	now := time.Now().UTC()

	mock.ExpectQuery(`FROM outreach_messages\s+WHERE status = \$1 AND attempts < \$2 AND scheduled_for <= \$3\s+ORDER BY scheduled_for, seq\s+LIMIT \$4`).
		WithArgs(domain.MessagePending, domain.MaxAttempts, now, 10).
		WillReturnRows(sqlmock.NewRows(messageCols).
			AddRow("m1", "c1", nil, "a@acme.io", "s", "b", "initial", nil, "pending", now, 0, nil, nil, "", "", "", 0, 1, now, "", "{}").
			AddRow("m2", "c1", "l2", "b@acme.io", "s", "b", "initial", nil, "pending", now, 1, now, nil, "", "", "", 2, 2, now, "", "{}"))

	msgs, err := repo.DueMessages(context.Background(), now, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "", msgs[0].LeadID)
	assert.Nil(t, msgs[0].FollowUpIndex)
	assert.Equal(t, "l2", msgs[1].LeadID)
}

func TestMessageRepo_EnqueueDuplicateFollowUp(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewMessageRepo(db)
	idx := 0

	mock.ExpectQuery(`INSERT INTO outreach_messages`).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "uq_outreach_messages_follow_up"})

	err := repo.EnqueueMessage(context.Background(), &domain.Message{
		CampaignID: "c1", Recipient: "a@acme.io", Type: domain.MessageFollowUp, FollowUpIndex: &idx,
	})
	assert.ErrorIs(t, err, sending.ErrDuplicateFollowUp)
}

func TestMessageRepo_EnqueueMessages(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewMessageRepo(db)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO outreach_messages`).
		WithArgs(sqlmock.AnyArg(), "c1", "l1", "a@acme.io", "s", "b", domain.MessageInitial,
			nil, domain.MessagePending, now, "", "{}").
		WillReturnRows(sqlmock.NewRows([]string{"seq", "version", "created_at"}).AddRow(7, 0, now))
	mock.ExpectQuery(`INSERT INTO outreach_messages`).
		WillReturnRows(sqlmock.NewRows([]string{"seq", "version", "created_at"}).AddRow(8, 0, now))
	mock.ExpectCommit()

	msgs := []*domain.Message{
		{CampaignID: "c1", LeadID: "l1", Recipient: "a@acme.io", Subject: "s", Body: "b", ScheduledFor: now},
		{CampaignID: "c1", LeadID: "l2", Recipient: "b@acme.io", Subject: "s", Body: "b", ScheduledFor: now.Add(time.Minute)},
	}
	require.NoError(t, repo.EnqueueMessages(context.Background(), msgs))
	assert.NotEmpty(t, msgs[0].ID)
	assert.Equal(t, int64(7), msgs[0].Seq)
	assert.Equal(t, int64(8), msgs[1].Seq)
	assert.Equal(t, domain.MessagePending, msgs[1].Status)
}

func TestMessageRepo_EnqueueMessagesRollsBack(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewMessageRepo(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO outreach_messages`).
		WillReturnRows(sqlmock.NewRows([]string{"seq", "version", "created_at"}).AddRow(1, 0, time.Now()))
	mock.ExpectQuery(`INSERT INTO outreach_messages`).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	err := repo.EnqueueMessages(context.Background(), []*domain.Message{
		{CampaignID: "c1", Recipient: "a@acme.io"},
		{CampaignID: "c1", Recipient: "b@acme.io"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestMessageRepo_MarkSentRequiresProcessing(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewMessageRepo(db)
	sentAt := time.Now().UTC()

	mock.ExpectExec(`UPDATE outreach_messages`).
		WithArgs(domain.MessageSent, sentAt, "th", "gm-1", "<m1@acme.io>", "m1", domain.MessageProcessing).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.MarkMessageSent(context.Background(), "m1", domain.SendReceipt{
		SentAt: sentAt, ThreadID: "th", TransportMessageID: "gm-1", HeaderID: "<m1@acme.io>",
	})
	assert.ErrorIs(t, err, sending.ErrMessageNotFound)
}

func TestMessageRepo_EnqueueFollowUpCarriesReferences(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewMessageRepo(db)
	now := time.Now().UTC()
	idx := 1

	mock.ExpectQuery(`INSERT INTO outreach_messages`).
		WithArgs(sqlmock.AnyArg(), "c1", "l1", "a@acme.io", "Re: s", "b", domain.MessageFollowUp,
			int64(1), domain.MessagePending, now, "th-1", `{"<m0@acme.io>","<m1@acme.io>"}`).
		WillReturnRows(sqlmock.NewRows([]string{"seq", "version", "created_at"}).AddRow(9, 0, now))

	err := repo.EnqueueMessage(context.Background(), &domain.Message{
		CampaignID: "c1", LeadID: "l1", Recipient: "a@acme.io", Subject: "Re: s", Body: "b",
		Type: domain.MessageFollowUp, FollowUpIndex: &idx, ScheduledFor: now, ThreadID: "th-1",
		References: []string{"<m0@acme.io>", "<m1@acme.io>"},
	})
	require.NoError(t, err)
}

func TestMessageRepo_TransitionMessages(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewMessageRepo(db)

	mock.ExpectExec(`UPDATE outreach_messages\s+SET status = \$1, version = version \+ 1\s+WHERE campaign_id = \$2 AND status = \$3 AND \(\$4 = '' OR recipient = \$4\)`).
		WithArgs(domain.MessageCancelled, "c1", domain.MessagePending, "ada@acme.io").
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := repo.TransitionMessages(context.Background(), "c1", "ada@acme.io", domain.MessagePending, domain.MessageCancelled)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestMessageRepo_FailStaleAndPurge(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewMessageRepo(db)
	cutoff := time.Now().UTC()

	mock.ExpectExec(`UPDATE outreach_messages`).
		WithArgs(domain.MessageFailed, "processing timed out", domain.MessageProcessing, cutoff).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(`DELETE FROM outreach_messages`).
		WithArgs(domain.MessageFailed, cutoff, 500).
		WillReturnResult(sqlmock.NewResult(0, 500))

	n, err := repo.FailStaleMessages(context.Background(), cutoff, "processing timed out")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	n, err = repo.PurgeFailedMessages(context.Background(), cutoff, 500)
	require.NoError(t, err)
	assert.Equal(t, int64(500), n)
}

func TestLeadRepo_AddLeadReply(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewLeadRepo(db)
	at := time.Now().UTC()
	reply := domain.Reply{MessageID: "m1", Content: "sounds good", Date: at}

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO outreach_lead_replies .* ON CONFLICT \(lead_id, message_id\) DO NOTHING`).
		WithArgs("l1", "m1", "sounds good", at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE outreach_leads`).
		WithArgs(at, true, domain.LeadReplied, "l1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	added, err := repo.AddLeadReply(context.Background(), "l1", reply, true)
	require.NoError(t, err)
	assert.True(t, added)
}

func TestLeadRepo_AddLeadReplyDuplicate(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewLeadRepo(db)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO outreach_lead_replies`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	added, err := repo.AddLeadReply(context.Background(), "l1", domain.Reply{MessageID: "m1", Date: time.Now()}, true)
	require.NoError(t, err)
	assert.False(t, added)
}

var leadCols = []string{
	"id", "campaign_id", "email", "first_name", "last_name", "company", "title",
	"industry", "city", "state", "website", "status", "last_activity", "created_at",
}

func TestLeadRepo_ListActiveLeads(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewLeadRepo(db)
	now := time.Now().UTC()

	mock.ExpectQuery(`FROM outreach_leads\s+WHERE campaign_id = \$1 AND status = \$2`).
		WithArgs("c1", domain.LeadActive).
		WillReturnRows(sqlmock.NewRows(leadCols).
			AddRow("l1", "c1", "ada@acme.io", "Ada", "", "Acme", "", "", "", "", "", "active", nil, now).
			AddRow("l2", "c1", "bob@acme.io", "Bob", "", "Acme", "", "", "", "", "", "active", now, now))
	mock.ExpectQuery(`FROM outreach_lead_opens`).
		WillReturnRows(sqlmock.NewRows([]string{"lead_id", "message_id", "opened_at"}).
			AddRow("l1", "m1", now))
	mock.ExpectQuery(`FROM outreach_lead_clicks`).
		WillReturnRows(sqlmock.NewRows([]string{"lead_id", "message_id", "url", "clicked_at"}).
			AddRow("l2", "m2", "https://acme.io", now))
	mock.ExpectQuery(`FROM outreach_lead_replies`).
		WillReturnRows(sqlmock.NewRows([]string{"lead_id", "message_id", "content", "replied_at"}).
			AddRow("l2", "m2", "yes", now))

	leads, err := repo.ListActiveLeads(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, leads, 2)
	assert.Len(t, leads[0].Opens, 1)
	assert.Empty(t, leads[0].Replies)
	assert.Nil(t, leads[0].LastActivity)
	assert.Len(t, leads[1].Clicks, 1)
	assert.True(t, leads[1].HasReplyFor("m2"))
}

func TestLeadRepo_ListActiveLeadsClickIterationError(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewLeadRepo(db)
	now := time.Now().UTC()

	mock.ExpectQuery(`FROM outreach_leads`).
		WillReturnRows(sqlmock.NewRows(leadCols).
			AddRow("l1", "c1", "ada@acme.io", "Ada", "", "Acme", "", "", "", "", "", "active", nil, now))
	mock.ExpectQuery(`FROM outreach_lead_opens`).
		WillReturnRows(sqlmock.NewRows([]string{"lead_id", "message_id", "opened_at"}))
	mock.ExpectQuery(`FROM outreach_lead_clicks`).
		WillReturnRows(sqlmock.NewRows([]string{"lead_id", "message_id", "url", "clicked_at"}).
			AddRow("l1", "m1", "https://acme.io", now).
			AddRow("l1", "m1", "https://acme.io/pricing", now).
			RowError(1, errors.New("connection reset")))

	_, err := repo.ListActiveLeads(context.Background(), "c1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load clicks")
}

func TestLeadRepo_GetLeadNotFound(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewLeadRepo(db)

	mock.ExpectQuery(`FROM outreach_leads WHERE id = \$1`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(leadCols))

	_, err := repo.GetLead(context.Background(), "missing")
	assert.ErrorIs(t, err, sending.ErrLeadNotFound)
}

var campaignCols = []string{
	"id", "user_id", "name", "status", "mailbox_id", "subject", "body",
	"follow_ups", "settings", "start_date", "sent_count", "open_count", "click_count",
	"reply_count", "created_at", "updated_at",
}

func TestCampaignRepo_GetCampaign(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewCampaignRepo(db)
	now := time.Now().UTC()

	mock.ExpectQuery(`FROM outreach_campaigns WHERE id = \$1`).
		WithArgs("c1").
		WillReturnRows(sqlmock.NewRows(campaignCols).AddRow(
			"c1", "u1", "Q3", "active", "mbx", "Hi", "<p>x</p>",
			[]byte(`[{"subject":"","body":"ping","wait_duration":2,"wait_unit":"days"}]`),
			[]byte(`{"track_opens":true,"stop_on_click":true,"send_interval_seconds":0}`),
			nil, 3, 1, 0, 0, now, now,
		))

	c, err := repo.GetCampaign(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, c.FollowUps, 1)
	assert.Equal(t, domain.WaitDays, c.FollowUps[0].WaitUnit)
	assert.True(t, c.Settings.StopOnClick)
	assert.Equal(t, domain.DefaultSendIntervalSeconds, c.Settings.SendIntervalSeconds)
	assert.Nil(t, c.StartDate)
	assert.Equal(t, 3, c.SentCount)
}

func TestCampaignRepo_GetCampaignNotFound(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewCampaignRepo(db)

	mock.ExpectQuery(`FROM outreach_campaigns`).WillReturnError(sql.ErrNoRows)

	_, err := repo.GetCampaign(context.Background(), "nope")
	assert.ErrorIs(t, err, sending.ErrCampaignNotFound)
}

func TestCampaignRepo_ArchiveCompletedCampaigns(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewCampaignRepo(db)
	cutoff := time.Now().UTC().Add(-30 * 24 * time.Hour)

	mock.ExpectExec(`UPDATE outreach_campaigns SET status = \$1, updated_at = NOW\(\)\s+WHERE status = \$2 AND created_at < \$3`).
		WithArgs(domain.CampaignArchived, domain.CampaignCompleted, cutoff).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := repo.ArchiveCompletedCampaigns(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestCampaignRepo_IncrementCampaignCounter(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewCampaignRepo(db)

	mock.ExpectExec(`UPDATE outreach_campaigns SET reply_count = reply_count \+ 1`).
		WithArgs("c1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.IncrementCampaignCounter(context.Background(), "c1", domain.CounterReply))
	assert.Error(t, repo.IncrementCampaignCounter(context.Background(), "c1", domain.Counter("id = 'x'; --")))
}

func TestCredentialRepo_LoadMissing(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewCredentialRepo(db)

	mock.ExpectQuery(`FROM outreach_mailbox_credentials`).
		WithArgs("mbx").
		WillReturnRows(sqlmock.NewRows([]string{"mailbox_id", "email", "access_token", "refresh_token", "expiry", "signature"}))

	_, err := repo.LoadCredential(context.Background(), "mbx")
	assert.ErrorIs(t, err, sending.ErrCredentialUnavailable)
}

func TestEventRepo_AppendEvent(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewEventRepo(db)

	mock.ExpectExec(`INSERT INTO outreach_events`).
		WithArgs(sqlmock.AnyArg(), domain.EventClick, "c1", "l1", "m1", sqlmock.AnyArg(), []byte(`{"url":"https://acme.io"}`)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	evt := &domain.AnalyticsEvent{Type: domain.EventClick, CampaignID: "c1", LeadID: "l1", MessageID: "m1",
		Metadata: map[string]string{"url": "https://acme.io"}}
	require.NoError(t, repo.AppendEvent(context.Background(), evt))
	assert.NotEmpty(t, evt.ID)
	assert.False(t, evt.Timestamp.IsZero())
}
