// Package config loads the site-auditor configuration.
package config

import (
	"fmt"
	"net/url"
	"time"

	infraconfig "github.com/jonesrussell/site-auditor/infrastructure/config"
	infragin "github.com/jonesrussell/site-auditor/infrastructure/gin"
	"github.com/jonesrussell/site-auditor/infrastructure/profiling"
	infraredis "github.com/jonesrussell/site-auditor/infrastructure/redis"
)

const (
	defaultServerPort       = 8060
	defaultServerTimeout    = 30 * time.Second
	defaultWorkerHealthPort = 8061
	defaultDatabasePort     = 5432
	defaultMaxOpenConns     = 10
	defaultMaxIdleConns     = 2
	defaultConnMaxLifetime  = 5 * time.Minute
	defaultRedisAddress     = "localhost:6379"

	DefaultQueueName      = "audit-tasks"
	defaultQueueGroup     = "audit-workers"
	defaultBlockTimeout   = 5 * time.Second
	defaultClaimMinIdle   = 5 * time.Minute
	defaultQueueMaxLen    = 10000
	defaultRateLimitPause = 60 * time.Second

	defaultScoringBaseURL  = "https://www.googleapis.com/pagespeedonline/v5/runPagespeed"
	defaultScoringStrategy = "mobile"
	defaultScoringTimeout  = 90 * time.Second
	defaultContentTimeout  = 30 * time.Second

	defaultRepositoryBaseURL = "https://api.github.com"
	defaultMaxDiffBytes      = 100 * 1024
	defaultLookback          = 24 * time.Hour
	defaultRepositoryTimeout = 30 * time.Second

	defaultAuditTTL      = 30 * 24 * time.Hour
	defaultSweepSchedule = "@hourly"
	defaultAuditSchedule = "0 6 * * *"
	defaultSitesCacheTTL = 5 * time.Minute
)

type Config struct {
	Debug      bool              `env:"APP_DEBUG" yaml:"debug"`
	Logging    LoggingConfig     `yaml:"logging"`
	Server     infragin.Config   `yaml:"server"`
	Worker     WorkerConfig      `yaml:"worker"`
	Database   DatabaseConfig    `yaml:"database"`
	Redis      infraredis.Config `yaml:"redis"`
	Queue      QueueConfig       `yaml:"queue"`
	Scoring    ScoringConfig     `yaml:"scoring"`
	Content    ContentConfig     `yaml:"content"`
	Repository RepositoryConfig  `yaml:"repository"`
	Retention  RetentionConfig   `yaml:"retention"`
	Scheduler  SchedulerConfig   `yaml:"scheduler"`
	Cache      CacheConfig       `yaml:"cache"`
	Profiling  profiling.Config  `yaml:"profiling"`
}

type LoggingConfig struct {
	Level       string `env:"LOG_LEVEL" yaml:"level"`
	Development bool   `env:"LOG_DEV"   yaml:"development"`
}

// WorkerConfig is the worker's health and metrics listener.
type WorkerConfig struct {
	HealthPort int `env:"WORKER_HEALTH_PORT" yaml:"health_port"`
}

type DatabaseConfig struct {
	// URL, when set, is used verbatim and wins over the discrete fields.
	URL             string        `env:"DATABASE_URL" yaml:"url"`
	Host            string        `env:"DB_HOST"      yaml:"host"`
	Port            int           `env:"DB_PORT"      yaml:"port"`
	User            string        `env:"DB_USER"      yaml:"user"`
	Password        string        `env:"DB_PASSWORD"  yaml:"password"`
	DBName          string        `env:"DB_NAME"      yaml:"dbname"`
	SSLMode         string        `env:"DB_SSLMODE"   yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// DSN returns the lib/pq connection string.
func (d DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// MigrateURL returns the postgres:// URL golang-migrate expects.
func (d DatabaseConfig) MigrateURL() string {
	if d.URL != "" {
		return d.URL
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:     "/" + d.DBName,
		RawQuery: "sslmode=" + url.QueryEscape(d.SSLMode),
	}
	return u.String()
}

type QueueConfig struct {
	Name           string        `env:"QUEUE_NAME"             yaml:"name"`
	Group          string        `env:"QUEUE_GROUP"            yaml:"group"`
	ConsumerID     string        `env:"QUEUE_CONSUMER_ID"      yaml:"consumer_id"`
	BlockTimeout   time.Duration `yaml:"block_timeout"`
	ClaimMinIdle   time.Duration `yaml:"claim_min_idle"`
	MaxLen         int64         `yaml:"max_len"`
	RateLimitPause time.Duration `env:"QUEUE_RATE_LIMIT_PAUSE" yaml:"rate_limit_pause"`
}

type ScoringConfig struct {
	BaseURL  string        `env:"SCORING_BASE_URL" yaml:"base_url"`
	APIKey   string        `env:"SCORING_API_KEY"  yaml:"api_key"`
	Strategy string        `yaml:"strategy"`
	Timeout  time.Duration `yaml:"timeout"`
}

type ContentConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

type RepositoryConfig struct {
	BaseURL      string        `env:"REPOSITORY_BASE_URL" yaml:"base_url"`
	Username     string        `env:"REPOSITORY_USERNAME" yaml:"username"`
	Token        string        `env:"REPOSITORY_TOKEN"    yaml:"token"`
	MaxDiffBytes int           `yaml:"max_diff_bytes"`
	Lookback     time.Duration `yaml:"lookback"`
	Timeout      time.Duration `yaml:"timeout"`
}

type RetentionConfig struct {
	AuditTTL      time.Duration `env:"AUDIT_TTL"          yaml:"audit_ttl"`
	SweepSchedule string        `env:"RETENTION_SCHEDULE" yaml:"sweep_schedule"`
}

type SchedulerConfig struct {
	Enabled       bool   `env:"SCHEDULER_ENABLED" yaml:"enabled"`
	AuditSchedule string `env:"AUDIT_SCHEDULE"    yaml:"audit_schedule"`
}

type CacheConfig struct {
	SitesTTL time.Duration `env:"SITES_CACHE_TTL" yaml:"sites_ttl"`
}

// Validate returns the first invalid field.
func (c *Config) Validate() error {
	errs := []error{
		infraconfig.ValidateLogLevel(c.Logging.Level),
		infraconfig.ValidatePort("server.port", c.Server.Port),
		infraconfig.ValidatePort("worker.health_port", c.Worker.HealthPort),
		infraconfig.ValidateRequired("queue.name", c.Queue.Name),
		infraconfig.ValidateRequired("queue.group", c.Queue.Group),
		infraconfig.ValidatePositive("queue.rate_limit_pause", c.Queue.RateLimitPause),
		infraconfig.ValidateRequired("scoring.base_url", c.Scoring.BaseURL),
		infraconfig.ValidatePositive("repository.max_diff_bytes", c.Repository.MaxDiffBytes),
		infraconfig.ValidatePositive("retention.audit_ttl", c.Retention.AuditTTL),
		infraconfig.ValidateRequired("retention.sweep_schedule", c.Retention.SweepSchedule),
		infraconfig.ValidatePositive("cache.sites_ttl", c.Cache.SitesTTL),
	}
	if c.Database.URL == "" {
		errs = append(errs,
			infraconfig.ValidateRequired("database.host", c.Database.Host),
			infraconfig.ValidateRequired("database.user", c.Database.User),
			infraconfig.ValidateRequired("database.dbname", c.Database.DBName),
		)
	}
	if c.Scheduler.Enabled {
		errs = append(errs, infraconfig.ValidateRequired("scheduler.audit_schedule", c.Scheduler.AuditSchedule))
	}
	return infraconfig.FirstError(errs...)
}

// Load reads path, applies defaults and env overrides, and validates.
func Load(path string) (*Config, error) {
	cfg, err := infraconfig.LoadWithDefaults(path, setDefaults)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if validateErr := cfg.Validate(); validateErr != nil {
		return nil, fmt.Errorf("invalid config: %w", validateErr)
	}
	return cfg, nil
}

func setDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = defaultServerPort
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = defaultServerTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = defaultServerTimeout
	}
	cfg.Server.Debug = cfg.Server.Debug || cfg.Debug
	if cfg.Worker.HealthPort == 0 {
		cfg.Worker.HealthPort = defaultWorkerHealthPort
	}
	setDatabaseDefaults(&cfg.Database)
	if cfg.Redis.Address == "" && cfg.Redis.URL == "" {
		cfg.Redis.Address = defaultRedisAddress
	}
	setQueueDefaults(&cfg.Queue)
	setClientDefaults(cfg)
	if cfg.Retention.AuditTTL == 0 {
		cfg.Retention.AuditTTL = defaultAuditTTL
	}
	if cfg.Retention.SweepSchedule == "" {
		cfg.Retention.SweepSchedule = defaultSweepSchedule
	}
	if cfg.Scheduler.AuditSchedule == "" {
		cfg.Scheduler.AuditSchedule = defaultAuditSchedule
	}
	if cfg.Cache.SitesTTL == 0 {
		cfg.Cache.SitesTTL = defaultSitesCacheTTL
	}
	cfg.Profiling.SetDefaults()
}

func setDatabaseDefaults(db *DatabaseConfig) {
	if db.Host == "" {
		db.Host = "localhost"
	}
	if db.Port == 0 {
		db.Port = defaultDatabasePort
	}
	if db.SSLMode == "" {
		db.SSLMode = "disable"
	}
	if db.MaxOpenConns == 0 {
		db.MaxOpenConns = defaultMaxOpenConns
	}
	if db.MaxIdleConns == 0 {
		db.MaxIdleConns = defaultMaxIdleConns
	}
	if db.ConnMaxLifetime == 0 {
		db.ConnMaxLifetime = defaultConnMaxLifetime
	}
}

func setQueueDefaults(q *QueueConfig) {
	if q.Name == "" {
		q.Name = DefaultQueueName
	}
	if q.Group == "" {
		q.Group = defaultQueueGroup
	}
	if q.BlockTimeout == 0 {
		q.BlockTimeout = defaultBlockTimeout
	}
	if q.ClaimMinIdle == 0 {
		q.ClaimMinIdle = defaultClaimMinIdle
	}
	if q.MaxLen == 0 {
		q.MaxLen = defaultQueueMaxLen
	}
	if q.RateLimitPause == 0 {
		q.RateLimitPause = defaultRateLimitPause
	}
}

func setClientDefaults(cfg *Config) {
	if cfg.Scoring.BaseURL == "" {
		cfg.Scoring.BaseURL = defaultScoringBaseURL
	}
	if cfg.Scoring.Strategy == "" {
		cfg.Scoring.Strategy = defaultScoringStrategy
	}
	if cfg.Scoring.Timeout == 0 {
		cfg.Scoring.Timeout = defaultScoringTimeout
	}
	if cfg.Content.Timeout == 0 {
		cfg.Content.Timeout = defaultContentTimeout
	}
	if cfg.Repository.BaseURL == "" {
		cfg.Repository.BaseURL = defaultRepositoryBaseURL
	}
	if cfg.Repository.MaxDiffBytes == 0 {
		cfg.Repository.MaxDiffBytes = defaultMaxDiffBytes
	}
	if cfg.Repository.Lookback == 0 {
		cfg.Repository.Lookback = defaultLookback
	}
	if cfg.Repository.Timeout == 0 {
		cfg.Repository.Timeout = defaultRepositoryTimeout
	}
}
