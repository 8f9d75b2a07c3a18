// Package events fans analytics events out to downstream consumers.
// Publishing is best effort: the event is already stored when Publish is
// called, so failures are logged and dropped.
package events

import (
	"context"

	"github.com/ignite/outreach/internal/domain"
)

// Publisher forwards a stored analytics event.
type Publisher interface {
	Publish(ctx context.Context, evt domain.AnalyticsEvent)
}

// Nop discards every event.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, domain.AnalyticsEvent) {}

// Multi publishes to each publisher in order.
type Multi []Publisher

// Publish implements Publisher.
func (m Multi) Publish(ctx context.Context, evt domain.AnalyticsEvent) {
	for _, p := range m {
		p.Publish(ctx, evt)
	}
}
