package bootstrap

import (
	"context"

	"github.com/gin-gonic/gin"

	infragin "github.com/jonesrussell/site-auditor/infrastructure/gin"
	infralogger "github.com/jonesrussell/site-auditor/infrastructure/logger"
	"github.com/jonesrussell/site-auditor/internal/api"
	"github.com/jonesrussell/site-auditor/internal/cache"
	"github.com/jonesrussell/site-auditor/internal/queue"
	"github.com/jonesrussell/site-auditor/internal/repository"
	"github.com/jonesrussell/site-auditor/internal/telemetry"
)

const apiService = "site-auditor-api"

// RunAPI serves the HTTP API until ctx is cancelled.
func RunAPI(ctx context.Context, configPath string) error {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return err
	}
	log, err := CreateLogger(cfg, apiService)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	stopProfiling, err := StartProfiling(cfg, apiService, log)
	if err != nil {
		return err
	}
	defer stopProfiling()

	db, err := SetupDatabase(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			log.Error("Failed to close database", infralogger.Error(closeErr))
		}
	}()

	reg := NewRegistry()
	tel := telemetry.NewProvider(reg)
	broker, err := SetupBroker(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = broker.Close() }()

	sites := repository.NewSiteRepository(db, log)
	audits := repository.NewAuditRepository(db, log)
	sitesCache := cache.NewSites(sites.ListSitesWithLatestAudit, cfg.Cache.SitesTTL)
	handler := api.NewHandler(sites, audits, queue.NewProducer(broker, cfg.Queue.Name, tel, log), sitesCache, log)
	httpMetrics := infragin.NewHTTPMetrics(reg, telemetry.Namespace)

	cfg.Server.ServiceName = apiService
	server := infragin.NewServer(&cfg.Server, log, func(router *gin.Engine) {
		router.Use(httpMetrics.Middleware())
		infragin.RegisterHealthRoutes(router, apiService, Version, map[string]infragin.Check{
			"postgres": {Ping: db.PingContext, Critical: true},
			"redis":    {Ping: broker.Ping},
		})
		infragin.RegisterMetricsRoute(router, reg)
		handler.RegisterRoutes(router)
	})
	return server.Run(ctx)
}
