package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the outreach binaries
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Google   GoogleConfig   `yaml:"google"`
	Tracking TrackingConfig `yaml:"tracking"`
	Delivery DeliveryConfig `yaml:"delivery"`
	SES      SESConfig      `yaml:"ses"`
	Events   EventsConfig   `yaml:"events"`
	Worker   WorkerConfig   `yaml:"worker"`
	Logging  LoggingConfig  `yaml:"logging"`
	Sentry   SentryConfig   `yaml:"sentry"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port           int      `yaml:"port" validate:"min=1,max=65535"`
	Host           string   `yaml:"host"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	ReadTimeout    int      `yaml:"read_timeout_seconds"`
	WriteTimeout   int      `yaml:"write_timeout_seconds"`
}

// GetHost returns the server host, with ECS detection
func (c ServerConfig) GetHost() string {
	// On ECS/container, listen on all interfaces
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// Addr returns host:port for http.Server.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.GetHost(), c.Port)
}

// DatabaseConfig holds the PostgreSQL connection settings
type DatabaseConfig struct {
	URL                    string `yaml:"url" validate:"required"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
}

// ConnMaxLifetime returns the connection lifetime as a duration
func (c DatabaseConfig) ConnMaxLifetime() time.Duration {
	return time.Duration(c.ConnMaxLifetimeMinutes) * time.Minute
}

// RedisConfig holds the optional Redis connection. With an empty URL the
// worker falls back to Postgres advisory locks and in-process pacing.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// GoogleConfig holds the OAuth client used to refresh mailbox tokens
type GoogleConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RedirectURL  string `yaml:"redirect_url"`
}

// TrackingConfig holds the public base URL of the tracking endpoints
type TrackingConfig struct {
	BaseURL string `yaml:"base_url" validate:"required,url"`
}

// DeliveryConfig selects the mail transport and the dispatch batch size
type DeliveryConfig struct {
	Transport string `yaml:"transport" validate:"oneof=gmail ses"`
	BatchSize int    `yaml:"batch_size" validate:"min=1"`
}

// SESConfig holds AWS SES API configuration
type SESConfig struct {
	Region           string `yaml:"region"`
	AccessKey        string `yaml:"access_key"`
	SecretKey        string `yaml:"secret_key"`
	ConfigurationSet string `yaml:"configuration_set"`
	TimeoutSeconds   int    `yaml:"timeout_seconds"`
}

// Timeout returns the configured timeout as a duration
func (c SESConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// EventsConfig selects where analytics events are forwarded
type EventsConfig struct {
	Sink         string `yaml:"sink" validate:"oneof=none sqs amqp"`
	SQSQueueURL  string `yaml:"sqs_queue_url" validate:"required_if=Sink sqs"`
	SQSRegion    string `yaml:"sqs_region"`
	AMQPURL      string `yaml:"amqp_url" validate:"required_if=Sink amqp"`
	AMQPExchange string `yaml:"amqp_exchange"`
	AMQPQueue    string `yaml:"amqp_queue"`
}

// WorkerConfig holds the recurring job schedules (robfig/cron specs) and
// maintenance thresholds
type WorkerConfig struct {
	DispatchSpec         string `yaml:"dispatch_spec" validate:"required"`
	ScheduleSpec         string `yaml:"schedule_spec" validate:"required"`
	RecoverySpec         string `yaml:"recovery_spec" validate:"required"`
	PurgeSpec            string `yaml:"purge_spec" validate:"required"`
	StaleAfterMinutes    int    `yaml:"stale_after_minutes" validate:"min=1"`
	RetentionDays        int    `yaml:"retention_days" validate:"min=1"`
	PurgeBatchSize       int    `yaml:"purge_batch_size" validate:"min=1"`
	LockTTLMinutes       int    `yaml:"lock_ttl_minutes" validate:"min=1"`
	ReplyDetection       bool   `yaml:"reply_detection"`
	ShutdownGraceSeconds int    `yaml:"shutdown_grace_seconds"`
}

// StaleAfter returns how long a message may stay processing
func (c WorkerConfig) StaleAfter() time.Duration {
	return time.Duration(c.StaleAfterMinutes) * time.Minute
}

// Retention returns how long failed messages are kept
func (c WorkerConfig) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// LockTTL returns the distributed lock expiry
func (c WorkerConfig) LockTTL() time.Duration {
	return time.Duration(c.LockTTLMinutes) * time.Minute
}

// LoggingConfig holds the log level. Addresses in log fields are redacted
// unless LogPII is set.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	LogPII bool   `yaml:"log_pii"`
}

// SentryConfig enables error reporting when DSN is set
type SentryConfig struct {
	DSN         string `yaml:"dsn"`
	Environment string `yaml:"environment"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 10
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 10
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 20
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetimeMinutes == 0 {
		cfg.Database.ConnMaxLifetimeMinutes = 30
	}
	if cfg.Delivery.Transport == "" {
		cfg.Delivery.Transport = "gmail"
	}
	if cfg.Delivery.BatchSize == 0 {
		cfg.Delivery.BatchSize = 10
	}
	if cfg.SES.Region == "" {
		cfg.SES.Region = "us-west-2"
	}
	if cfg.SES.TimeoutSeconds == 0 {
		cfg.SES.TimeoutSeconds = 30
	}
	if cfg.Events.Sink == "" {
		cfg.Events.Sink = "none"
	}
	if cfg.Events.AMQPQueue == "" {
		cfg.Events.AMQPQueue = "outreach.events"
	}
	if cfg.Worker.DispatchSpec == "" {
		cfg.Worker.DispatchSpec = "@every 1m"
	}
	if cfg.Worker.ScheduleSpec == "" {
		cfg.Worker.ScheduleSpec = "@every 15m"
	}
	if cfg.Worker.RecoverySpec == "" {
		cfg.Worker.RecoverySpec = "@every 5m"
	}
	if cfg.Worker.PurgeSpec == "" {
		cfg.Worker.PurgeSpec = "0 3 * * *"
	}
	if cfg.Worker.StaleAfterMinutes == 0 {
		cfg.Worker.StaleAfterMinutes = 10
	}
	if cfg.Worker.RetentionDays == 0 {
		cfg.Worker.RetentionDays = 30
	}
	if cfg.Worker.PurgeBatchSize == 0 {
		cfg.Worker.PurgeBatchSize = 500
	}
	if cfg.Worker.LockTTLMinutes == 0 {
		cfg.Worker.LockTTLMinutes = 15
	}
	if cfg.Worker.ShutdownGraceSeconds == 0 {
		cfg.Worker.ShutdownGraceSeconds = 30
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

// Validate checks the loaded configuration
func (cfg *Config) Validate() error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars on ECS.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	overrides := []struct {
		env string
		dst *string
	}{
		{"DATABASE_URL", &cfg.Database.URL},
		{"REDIS_URL", &cfg.Redis.URL},
		{"GOOGLE_CLIENT_ID", &cfg.Google.ClientID},
		{"GOOGLE_CLIENT_SECRET", &cfg.Google.ClientSecret},
		{"GOOGLE_REDIRECT_URL", &cfg.Google.RedirectURL},
		{"TRACKING_BASE_URL", &cfg.Tracking.BaseURL},
		{"DELIVERY_TRANSPORT", &cfg.Delivery.Transport},
		{"AWS_SES_ACCESS_KEY", &cfg.SES.AccessKey},
		{"AWS_SES_SECRET_KEY", &cfg.SES.SecretKey},
		{"AWS_SES_REGION", &cfg.SES.Region},
		{"EVENTS_SINK", &cfg.Events.Sink},
		{"EVENTS_SQS_QUEUE_URL", &cfg.Events.SQSQueueURL},
		{"EVENTS_AMQP_URL", &cfg.Events.AMQPURL},
		{"LOG_LEVEL", &cfg.Logging.Level},
		{"SENTRY_DSN", &cfg.Sentry.DSN},
		{"SENTRY_ENVIRONMENT", &cfg.Sentry.Environment},
	}
	for _, o := range overrides {
		if v := os.Getenv(o.env); v != "" {
			*o.dst = v
		}
	}
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}

	return cfg, nil
}
