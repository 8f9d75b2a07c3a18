package worker

import (
	"context"
	"time"

	"github.com/ignite/outreach/internal/service/delivery"
	"github.com/ignite/outreach/internal/service/followup"
)

// Schedules holds the cron specs for the standard jobs.
type Schedules struct {
	Dispatch string
	Schedule string
	Recovery string
	Purge    string
}

// Passes are the services the standard jobs drive.
type Passes struct {
	Dispatcher *delivery.Dispatcher
	Scheduler  *followup.Scheduler
	Recovery   *QueueRecovery
	Purge      *RetentionPurge
}

// RegisterDefaults adds the dispatch, scheduling, recovery and purge jobs.
// Dispatch passes sleep between sends, so they get no timeout.
func (r *Runner) RegisterDefaults(s Schedules, p Passes) error {
	jobs := []Job{
		{
			Name: "dispatch",
			Spec: s.Dispatch,
			Run: func(ctx context.Context) error {
				_, err := p.Dispatcher.RunDeliveryPass(ctx)
				return err
			},
		},
		{
			Name:    "schedule",
			Spec:    s.Schedule,
			Timeout: 10 * time.Minute,
			Run: func(ctx context.Context) error {
				_, err := p.Scheduler.RunSchedulingPass(ctx)
				return err
			},
		},
		{Name: "recovery", Spec: s.Recovery, Timeout: time.Minute, Run: p.Recovery.Run},
		{Name: "purge", Spec: s.Purge, Timeout: 30 * time.Minute, Run: p.Purge.Run},
	}
	for _, j := range jobs {
		if err := r.Add(j); err != nil {
			return err
		}
	}
	return nil
}
