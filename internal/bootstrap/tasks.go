package bootstrap

import (
	"context"
	"fmt"

	"github.com/jonesrussell/site-auditor/internal/database"
	"github.com/jonesrussell/site-auditor/internal/models"
	"github.com/jonesrussell/site-auditor/internal/queue"
	"github.com/jonesrussell/site-auditor/internal/repository"
)

const cliService = "site-auditor"

// RunMigrate applies or rolls back the schema.
func RunMigrate(ctx context.Context, configPath string, direction database.Direction) error {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return err
	}
	log, err := CreateLogger(cfg, cliService)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	db, err := SetupDatabase(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	return database.Migrate(db, direction, log)
}

// RunEnqueue publishes an audit task for domain, or for every site when
// all is set. It returns the number of tasks published.
func RunEnqueue(ctx context.Context, configPath, domain string, all bool) (int, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return 0, err
	}
	log, err := CreateLogger(cfg, cliService)
	if err != nil {
		return 0, err
	}
	defer func() { _ = log.Sync() }()

	broker, err := SetupBroker(ctx, cfg, log)
	if err != nil {
		return 0, err
	}
	defer func() { _ = broker.Close() }()
	producer := queue.NewProducer(broker, cfg.Queue.Name, nil, log)

	if !all {
		domain = models.NormalizeDomain(domain)
		if domain == "" {
			return 0, fmt.Errorf("enqueue: %w", models.ErrMissingSiteID)
		}
		if _, err = producer.Enqueue(ctx, models.AuditTask{Domain: domain, Trigger: queue.TriggerCLI}); err != nil {
			return 0, err
		}
		return 1, nil
	}

	db, err := SetupDatabase(ctx, cfg, log)
	if err != nil {
		return 0, err
	}
	defer func() { _ = db.Close() }()
	return producer.EnqueueAll(ctx, repository.NewSiteRepository(db, log), queue.TriggerCLI)
}
