package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/outreach/internal/config"
	"github.com/ignite/outreach/internal/events"
	"github.com/ignite/outreach/internal/gmail"
	"github.com/ignite/outreach/internal/mailbox"
	"github.com/ignite/outreach/internal/metrics"
	"github.com/ignite/outreach/internal/pacing"
	"github.com/ignite/outreach/internal/personalize"
	"github.com/ignite/outreach/internal/pkg/distlock"
	"github.com/ignite/outreach/internal/pkg/logger"
	"github.com/ignite/outreach/internal/repository/postgres"
	"github.com/ignite/outreach/internal/service/delivery"
	"github.com/ignite/outreach/internal/service/engagement"
	"github.com/ignite/outreach/internal/service/followup"
	"github.com/ignite/outreach/internal/service/sending"
	"github.com/ignite/outreach/internal/ses"
	"github.com/ignite/outreach/internal/tracking"
	"github.com/ignite/outreach/internal/worker"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		logger.Error("load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("validate config", "error", err)
		os.Exit(1)
	}
	logger.SetLevel(logger.ParseLevel(cfg.Logging.Level))
	logger.SetRedactPII(!cfg.Logging.LogPII)
	defer logger.Sync()

	if cfg.Sentry.DSN != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: cfg.Sentry.DSN, Environment: cfg.Sentry.Environment}); err != nil {
			logger.Warn("sentry init failed", "error", err)
		}
		defer sentry.Flush(2 * time.Second)
	}

	db, err := postgres.Open(cfg.Database.URL, postgres.PoolConfig{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime(),
	})
	if err != nil {
		logger.Error("connect database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	store := postgres.New(db)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var rdb *redis.Client
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			logger.Error("parse redis url", "error", err)
			os.Exit(1)
		}
		rdb = redis.NewClient(opts)
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Error("connect redis", "error", err)
			os.Exit(1)
		}
	}

	m := metrics.New(prometheus.DefaultRegisterer)

	publisher, closePublisher, err := events.Open(ctx, cfg.Events)
	if err != nil {
		logger.Error("open event sink", "sink", cfg.Events.Sink, "error", err)
		os.Exit(1)
	}
	defer closePublisher()

	tokens := mailbox.NewManager(store,
		mailbox.NewGoogleOAuthConfig(cfg.Google.ClientID, cfg.Google.ClientSecret, cfg.Google.RedirectURL), m)
	gm := gmail.NewClient()

	transport, err := buildTransport(ctx, cfg, gm)
	if err != nil {
		logger.Error("build transport", "transport", cfg.Delivery.Transport, "error", err)
		os.Exit(1)
	}

	dispatcher := delivery.NewDispatcher(store, tokens, transport, tracking.NewInjector(cfg.Tracking.BaseURL),
		delivery.WithPacer(buildPacer(rdb)),
		delivery.WithMetrics(m),
		delivery.WithBatchSize(cfg.Delivery.BatchSize),
		delivery.WithSignatureSource(gm),
	)

	schedOpts := []followup.Option{followup.WithMetrics(m)}
	if cfg.Worker.ReplyDetection {
		schedOpts = append(schedOpts, followup.WithReplyDetection(tokens, gm))
	}
	scheduler := followup.NewScheduler(store, personalize.NewEngine(), engagement.NewService(store, publisher), schedOpts...)

	runner := worker.NewRunner(distlock.NewFactory(rdb, db, cfg.Worker.LockTTL()))
	err = runner.RegisterDefaults(worker.Schedules{
		Dispatch: cfg.Worker.DispatchSpec,
		Schedule: cfg.Worker.ScheduleSpec,
		Recovery: cfg.Worker.RecoverySpec,
		Purge:    cfg.Worker.PurgeSpec,
	}, worker.Passes{
		Dispatcher: dispatcher,
		Scheduler:  scheduler,
		Recovery:   worker.NewQueueRecovery(store, cfg.Worker.StaleAfter(), m),
		Purge:      worker.NewRetentionPurge(store, cfg.Worker.Retention(), cfg.Worker.PurgeBatchSize, m),
	})
	if err != nil {
		logger.Error("register jobs", "error", err)
		os.Exit(1)
	}

	runner.Start()
	logger.Info("outreach worker started",
		"transport", cfg.Delivery.Transport,
		"redis", rdb != nil,
		"reply_detection", cfg.Worker.ReplyDetection,
		"event_sink", cfg.Events.Sink)

	<-ctx.Done()
	logger.Info("shutting down worker")

	grace := time.Duration(cfg.Worker.ShutdownGraceSeconds) * time.Second
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := runner.Stop(shutdownCtx); err != nil {
		logger.Warn("jobs still running at shutdown", "error", err)
	}
	logger.Info("worker stopped")
}

func buildTransport(ctx context.Context, cfg *config.Config, gm *gmail.Client) (sending.Transport, error) {
	if cfg.Delivery.Transport != "ses" {
		return gm, nil
	}
	t, err := ses.NewTransport(ctx, ses.Config{
		Region:           cfg.SES.Region,
		AccessKey:        cfg.SES.AccessKey,
		SecretKey:        cfg.SES.SecretKey,
		ConfigurationSet: cfg.SES.ConfigurationSet,
		Timeout:          cfg.SES.Timeout(),
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// buildPacer shares send spacing across workers through Redis when one is
// configured.
func buildPacer(rdb *redis.Client) sending.Pacer {
	if rdb != nil {
		return pacing.NewRedisPacer(rdb)
	}
	return pacing.NewLimiter()
}
