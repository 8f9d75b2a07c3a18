package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/ignite/outreach/internal/metrics"
	"github.com/ignite/outreach/internal/pkg/logger"
)

const (
	// DefaultStaleAge is how long a message may stay processing before the
	// sender is presumed dead.
	DefaultStaleAge = 10 * time.Minute

	// DefaultRetention is how long failed messages are kept.
	DefaultRetention = 30 * 24 * time.Hour

	// DefaultPurgeBatch bounds one delete statement.
	DefaultPurgeBatch = 500

	staleReason = "processing timed out"
)

// MaintenanceStore is the queue and campaign housekeeping the worker needs.
type MaintenanceStore interface {
	FailStaleMessages(ctx context.Context, cutoff time.Time, reason string) (int64, error)
	PurgeFailedMessages(ctx context.Context, cutoff time.Time, limit int) (int64, error)
	ArchiveCompletedCampaigns(ctx context.Context, cutoff time.Time) (int64, error)
}

// QueueRecovery fails messages left in processing by a crashed dispatcher.
// They are never put back to pending: the provider may already have
// accepted them, and a second send is worse than a lost one.
type QueueRecovery struct {
	store    MaintenanceStore
	staleAge time.Duration
	metrics  *metrics.Metrics
	now      func() time.Time
}

func NewQueueRecovery(store MaintenanceStore, staleAge time.Duration, m *metrics.Metrics) *QueueRecovery {
	if staleAge <= 0 {
		staleAge = DefaultStaleAge
	}
	return &QueueRecovery{store: store, staleAge: staleAge, metrics: m, now: time.Now}
}

// Run marks every message processing since before now-staleAge failed.
func (q *QueueRecovery) Run(ctx context.Context) error {
	n, err := q.store.FailStaleMessages(ctx, q.now().Add(-q.staleAge), staleReason)
	if err != nil {
		return fmt.Errorf("recover stale messages: %w", err)
	}
	if n > 0 {
		logger.Warn("stale processing messages failed", "count", n, "stale_age", q.staleAge.String())
		q.metrics.Recovered(n)
	}
	return nil
}

// RetentionPurge deletes old failed messages in batches and archives
// completed campaigns older than the same retention window.
type RetentionPurge struct {
	store     MaintenanceStore
	retention time.Duration
	batch     int
	metrics   *metrics.Metrics
	now       func() time.Time
}

func NewRetentionPurge(store MaintenanceStore, retention time.Duration, batch int, m *metrics.Metrics) *RetentionPurge {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if batch <= 0 {
		batch = DefaultPurgeBatch
	}
	return &RetentionPurge{store: store, retention: retention, batch: batch, metrics: m, now: time.Now}
}

// Run deletes batches until one comes back short or ctx is done, then
// archives old completed campaigns.
func (p *RetentionPurge) Run(ctx context.Context) error {
	cutoff := p.now().Add(-p.retention)
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := p.store.PurgeFailedMessages(ctx, cutoff, p.batch)
		if err != nil {
			return fmt.Errorf("purge failed messages: %w", err)
		}
		total += n
		p.metrics.Purged(n)
		if n < int64(p.batch) {
			break
		}
	}
	if total > 0 {
		logger.Info("failed messages purged", "count", total, "cutoff", cutoff.Format(time.RFC3339))
	}

	archived, err := p.store.ArchiveCompletedCampaigns(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archive completed campaigns: %w", err)
	}
	if archived > 0 {
		logger.Info("completed campaigns archived", "count", archived, "cutoff", cutoff.Format(time.RFC3339))
	}
	return nil
}
