package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/outreach/internal/domain"
)

// EventRepo appends analytics events to outreach_events.
type EventRepo struct{ db *sql.DB }

func NewEventRepo(db *sql.DB) *EventRepo { return &EventRepo{db: db} }

// AppendEvent stores evt, assigning an ID and timestamp when empty.
func (r *EventRepo) AppendEvent(ctx context.Context, evt *domain.AnalyticsEvent) error {
	if evt.ID == "" {
		evt.ID = uuid.New().String()
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	meta, err := json.Marshal(evt.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO outreach_events (id, event_type, campaign_id, lead_id, message_id, occurred_at, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, evt.ID, evt.Type, evt.CampaignID, nullString(evt.LeadID), nullString(evt.MessageID), evt.Timestamp, meta)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}
