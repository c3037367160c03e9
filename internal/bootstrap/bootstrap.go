// Package bootstrap wires configuration, infrastructure and services for
// the site-auditor processes.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/jonesrussell/site-auditor/infrastructure/circuitbreaker"
	infraconfig "github.com/jonesrussell/site-auditor/infrastructure/config"
	infrahttp "github.com/jonesrussell/site-auditor/infrastructure/http"
	infralogger "github.com/jonesrussell/site-auditor/infrastructure/logger"
	"github.com/jonesrussell/site-auditor/infrastructure/profiling"
	"github.com/jonesrussell/site-auditor/internal/config"
	"github.com/jonesrussell/site-auditor/internal/contentdiff"
	"github.com/jonesrussell/site-auditor/internal/database"
	"github.com/jonesrussell/site-auditor/internal/queue"
	"github.com/jonesrussell/site-auditor/internal/repodiff"
	"github.com/jonesrussell/site-auditor/internal/scoring"
)

// Version is set at build time.
var Version = "dev"

const defaultConfigPath = "config.yml"

// LoadConfig loads the config from path, CONFIG_PATH or config.yml.
func LoadConfig(path string) (*config.Config, error) {
	if path == "" {
		path = infraconfig.GetConfigPath(defaultConfigPath)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	cfg.Server.ServiceVersion = Version
	return cfg, nil
}

// CreateLogger builds the process logger tagged with service and version.
func CreateLogger(cfg *config.Config, service string) (infralogger.Logger, error) {
	log, err := infralogger.New(infralogger.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development || cfg.Debug,
		Service:     service,
		Version:     Version,
	})
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	return log, nil
}

// StartProfiling starts the configured profilers. The returned stop
// function logs rather than returns its error.
func StartProfiling(cfg *config.Config, service string, log infralogger.Logger) (func(), error) {
	p, err := profiling.Start(cfg.Profiling, service, Version, log)
	if err != nil {
		return nil, err
	}
	return func() {
		if stopErr := p.Stop(); stopErr != nil {
			log.Warn("Failed to stop profiler", infralogger.Error(stopErr))
		}
	}, nil
}

// SetupDatabase connects to PostgreSQL, retrying transient failures.
func SetupDatabase(ctx context.Context, cfg *config.Config, log infralogger.Logger) (*sqlx.DB, error) {
	db, err := database.Connect(ctx, cfg.Database, log)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	return db, nil
}

// SetupBroker connects to Redis. The pipeline cannot run without it, so
// the error is returned as is.
func SetupBroker(ctx context.Context, cfg *config.Config, log infralogger.Logger, opts ...queue.Option) (*queue.Broker, error) {
	return queue.Connect(ctx, cfg.Redis, queue.Config{
		Group:        cfg.Queue.Group,
		ConsumerID:   cfg.Queue.ConsumerID,
		BlockTimeout: cfg.Queue.BlockTimeout,
		ClaimMinIdle: cfg.Queue.ClaimMinIdle,
		MaxLen:       cfg.Queue.MaxLen,
	}, log, opts...)
}

// NewRegistry returns a registry with the Go and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Clients are the three external service clients.
type Clients struct {
	Scoring    *scoring.Client
	Content    *contentdiff.Client
	Repository *repodiff.Client
}

// SetupClients builds the external clients, each with its own timeout.
func SetupClients(cfg *config.Config, log infralogger.Logger) Clients {
	scoringHTTP := infrahttp.NewClient(infrahttp.ClientConfig{Timeout: cfg.Scoring.Timeout})
	contentHTTP := infrahttp.NewClient(infrahttp.ClientConfig{Timeout: cfg.Content.Timeout})
	repoHTTP := infrahttp.NewClient(infrahttp.ClientConfig{Timeout: cfg.Repository.Timeout})

	breaker := circuitbreaker.New(circuitbreaker.Config{
		Name: "repository",
		OnStateChange: func(name string, from, to circuitbreaker.State) {
			log.Warn("Circuit breaker state changed",
				infralogger.String("breaker", name),
				infralogger.String("from", from.String()),
				infralogger.String("to", to.String()),
			)
		},
	})

	return Clients{
		Scoring: scoring.NewClient(scoring.Config{
			BaseURL:  cfg.Scoring.BaseURL,
			APIKey:   cfg.Scoring.APIKey,
			Strategy: cfg.Scoring.Strategy,
		}, scoringHTTP, log.With(infralogger.String("client", "scoring"))),
		Content: contentdiff.NewClient(contentHTTP, log.With(infralogger.String("client", "content"))),
		Repository: repodiff.NewClient(repodiff.Config{
			BaseURL:      cfg.Repository.BaseURL,
			Username:     cfg.Repository.Username,
			Token:        cfg.Repository.Token,
			MaxDiffBytes: cfg.Repository.MaxDiffBytes,
			Lookback:     cfg.Repository.Lookback,
		}, repoHTTP, breaker, log.With(infralogger.String("client", "repository"))),
	}
}
