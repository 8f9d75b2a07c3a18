package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/robfig/cron/v3"

	"github.com/ignite/outreach/internal/pkg/distlock"
	"github.com/ignite/outreach/internal/pkg/logger"
)

// Job is one recurring pass.
type Job struct {
	Name string
	// Spec is a robfig/cron schedule ("@every 1m", "0 3 * * *").
	Spec string
	// Timeout bounds a single run. Zero means no bound beyond Stop.
	Timeout time.Duration
	Run     func(ctx context.Context) error
}

// Runner fires jobs on their schedules. A job never overlaps itself: the
// cron chain skips a tick while the previous run is still going, and a
// distributed lock extends that guarantee across processes.
type Runner struct {
	cron  *cron.Cron
	locks distlock.Factory
	jobs  []Job

	ctx    context.Context
	cancel context.CancelFunc
}

// NewRunner creates a Runner. A nil locks factory disables cross-process
// locking.
func NewRunner(locks distlock.Factory) *Runner {
	cl := cronLogger{}
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		cron: cron.New(cron.WithChain(
			cron.Recover(cl),
			cron.SkipIfStillRunning(cl),
		)),
		locks:  locks,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Add registers job. It fails on an unparsable spec.
func (r *Runner) Add(job Job) error {
	if job.Run == nil {
		return fmt.Errorf("job %s has no run function", job.Name)
	}
	if _, err := r.cron.AddFunc(job.Spec, func() { r.runOnce(r.ctx, job) }); err != nil {
		return fmt.Errorf("schedule %s (%q): %w", job.Name, job.Spec, err)
	}
	r.jobs = append(r.jobs, job)
	logger.Info("job scheduled", "job", job.Name, "spec", job.Spec)
	return nil
}

// Start begins firing jobs in the background.
func (r *Runner) Start() {
	logger.Info("worker runner starting", "jobs", len(r.jobs))
	r.cron.Start()
}

// Stop cancels running jobs and waits for them to return, or for ctx to
// expire.
func (r *Runner) Stop(ctx context.Context) error {
	r.cancel()
	done := r.cron.Stop()
	select {
	case <-done.Done():
		logger.Info("worker runner stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for jobs: %w", ctx.Err())
	}
}

// runOnce executes job under its distributed lock. Errors are logged and
// reported, never propagated to the scheduler.
func (r *Runner) runOnce(parent context.Context, job Job) {
	ctx := parent
	if job.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, job.Timeout)
		defer cancel()
	}

	if r.locks != nil {
		lock := r.locks("job:" + job.Name)
		ok, err := lock.Acquire(ctx)
		if err != nil {
			logger.Error("acquire job lock", "job", job.Name, "error", err)
			report(job.Name, err)
			return
		}
		if !ok {
			logger.Debug("job running elsewhere, skipping", "job", job.Name)
			return
		}
		defer func() {
			if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
				logger.Warn("release job lock", "job", job.Name, "error", err)
			}
		}()

		if exp, ok := lock.(distlock.Expiring); ok && exp.TTL() > 0 {
			var lost context.CancelCauseFunc
			ctx, lost = context.WithCancelCause(ctx)
			stop := keepAlive(ctx, job.Name, exp, lost)
			defer func() {
				stop()
				lost(nil)
			}()
		}
	}

	started := time.Now()
	err := job.Run(ctx)
	switch {
	case err == nil:
		logger.Debug("job finished", "job", job.Name, "duration", time.Since(started).String())
	case errors.Is(err, context.Canceled) && parent.Err() != nil:
		logger.Info("job interrupted by shutdown", "job", job.Name)
	default:
		logger.Error("job failed", "job", job.Name, "duration", time.Since(started).String(), "error", err)
		report(job.Name, err)
	}
}

// keepAlive extends lock every third of its TTL until stop is called, so a
// pass longer than the TTL keeps its lock. Losing the lock cancels the run.
func keepAlive(ctx context.Context, name string, lock distlock.Expiring, lost context.CancelCauseFunc) (stop func()) {
	ttl := lock.TTL()
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(ttl / 3)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				err := lock.Extend(ctx, ttl)
				switch {
				case err == nil:
				case errors.Is(err, distlock.ErrLockLost):
					logger.Error("job lock lost, cancelling run", "job", name, "error", err)
					report(name, err)
					lost(err)
					return
				default:
					logger.Warn("extend job lock", "job", name, "error", err)
				}
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

func report(job string, err error) {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("job", job)
		sentry.CaptureException(err)
	})
}

// cronLogger routes robfig/cron's messages into the service logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	logger.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
