package bootstrap

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	infragin "github.com/jonesrussell/site-auditor/infrastructure/gin"
	infralogger "github.com/jonesrussell/site-auditor/infrastructure/logger"
	"github.com/jonesrussell/site-auditor/internal/queue"
	"github.com/jonesrussell/site-auditor/internal/repository"
	"github.com/jonesrussell/site-auditor/internal/scheduler"
	"github.com/jonesrussell/site-auditor/internal/telemetry"
	"github.com/jonesrussell/site-auditor/internal/worker"
)

const workerService = "site-auditor-worker"

// RunWorker consumes audit tasks until ctx is cancelled. On shutdown the
// broker and database are closed straight away; an in-flight task is left
// pending for redelivery.
func RunWorker(ctx context.Context, configPath string) error {
	// Phase 1: config and logger
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return err
	}
	log, err := CreateLogger(cfg, workerService)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	stopProfiling, err := StartProfiling(cfg, workerService, log)
	if err != nil {
		return err
	}
	defer stopProfiling()

	// Phase 2: persistence
	db, err := SetupDatabase(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			log.Error("Failed to close database", infralogger.Error(closeErr))
		}
	}()
	sites := repository.NewSiteRepository(db, log)
	audits := repository.NewAuditRepository(db, log)

	// Phase 3: broker
	reg := NewRegistry()
	tel := telemetry.NewProvider(reg)
	broker, err := SetupBroker(ctx, cfg, log, queue.WithRecorder(tel))
	if err != nil {
		return fmt.Errorf("connect broker: %w", err)
	}
	defer func() {
		if closeErr := broker.Close(); closeErr != nil {
			log.Error("Failed to close broker", infralogger.Error(closeErr))
		}
	}()

	// Phase 4: orchestrator
	clients := SetupClients(cfg, log)
	orchestrator := worker.NewOrchestrator(worker.Config{RateLimitPause: cfg.Queue.RateLimitPause}, worker.Deps{
		Sites:      sites,
		Audits:     audits,
		Scorer:     clients.Scoring,
		Content:    clients.Content,
		Repository: clients.Repository,
		Telemetry:  tel,
		Logger:     log,
	})

	// Phase 5: scheduler
	producer := queue.NewProducer(broker, cfg.Queue.Name, tel, log)
	sched := scheduler.New(scheduler.Config{
		AuditsEnabled: cfg.Scheduler.Enabled,
		AuditSchedule: cfg.Scheduler.AuditSchedule,
		SweepSchedule: cfg.Retention.SweepSchedule,
		AuditTTL:      cfg.Retention.AuditTTL,
	}, producer, sites, audits, tel, log)
	if err = sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer sched.Stop()

	// Phase 6: health server and consumer
	serverCfg := cfg.Server
	serverCfg.Port = cfg.Worker.HealthPort
	serverCfg.ServiceName = workerService
	server := infragin.NewServer(&serverCfg, log, func(router *gin.Engine) {
		infragin.RegisterHealthRoutes(router, workerService, Version, map[string]infragin.Check{
			"postgres": {Ping: db.PingContext, Critical: true},
			"redis":    {Ping: broker.Ping, Critical: true},
		})
		infragin.RegisterMetricsRoute(router, reg)
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Run(gctx) })
	g.Go(func() error { return broker.Consume(gctx, cfg.Queue.Name, orchestrator.Handler()) })

	if err = g.Wait(); err != nil {
		log.Error("Worker stopped with error", infralogger.Error(err))
		return err
	}
	log.Info("Worker stopped")
	return nil
}
