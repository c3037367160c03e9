// Package scheduler runs the periodic audit enqueue and the audit
// retention sweep on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	infralogger "github.com/jonesrussell/site-auditor/infrastructure/logger"
	"github.com/jonesrussell/site-auditor/internal/queue"
)

const (
	DefaultAuditSchedule = "0 6 * * *"
	DefaultSweepSchedule = "@hourly"
	DefaultAuditTTL      = 30 * 24 * time.Hour
)

// AuditPruner deletes audit records older than a cutoff.
type AuditPruner interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// RetentionRecorder observes sweep results.
type RetentionRecorder interface {
	RecordRetention(deleted int64)
}

// Config selects the schedules.
type Config struct {
	// AuditsEnabled turns on the periodic enqueue of every site.
	AuditsEnabled bool
	AuditSchedule string
	SweepSchedule string
	AuditTTL      time.Duration
}

// Scheduler owns a cron instance with the enqueue and sweep jobs.
type Scheduler struct {
	cfg      Config
	cron     *cron.Cron
	parser   cron.Parser
	producer *queue.Producer
	sites    queue.SiteIDLister
	audits   AuditPruner
	recorder RetentionRecorder
	logger   infralogger.Logger
	now      func() time.Time

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

func New(
	cfg Config,
	producer *queue.Producer,
	sites queue.SiteIDLister,
	audits AuditPruner,
	recorder RetentionRecorder,
	log infralogger.Logger,
) *Scheduler {
	if cfg.AuditSchedule == "" {
		cfg.AuditSchedule = DefaultAuditSchedule
	}
	if cfg.SweepSchedule == "" {
		cfg.SweepSchedule = DefaultSweepSchedule
	}
	if cfg.AuditTTL <= 0 {
		cfg.AuditTTL = DefaultAuditTTL
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return &Scheduler{
		cfg:      cfg,
		cron:     cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(newCronLogger(log)))),
		parser:   parser,
		producer: producer,
		sites:    sites,
		audits:   audits,
		recorder: recorder,
		logger:   log,
		now:      time.Now,
	}
}

// Start registers the jobs and starts the cron loop. Jobs run with a
// context derived from ctx that Stop cancels.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	if err := s.add("retention-sweep", s.cfg.SweepSchedule, func(ctx context.Context) {
		_, _ = s.Sweep(ctx)
	}); err != nil {
		return err
	}
	if s.cfg.AuditsEnabled {
		if err := s.add("audit-all", s.cfg.AuditSchedule, func(ctx context.Context) {
			if _, err := s.EnqueueAll(ctx); err != nil {
				s.logger.Error("Scheduled enqueue failed", infralogger.Error(err))
			}
		}); err != nil {
			return err
		}
	}

	s.cron.Start()
	s.logger.Info("Scheduler started",
		infralogger.Bool("audits_enabled", s.cfg.AuditsEnabled),
		infralogger.String("audit_schedule", s.cfg.AuditSchedule),
		infralogger.String("sweep_schedule", s.cfg.SweepSchedule),
		infralogger.Duration("audit_ttl", s.cfg.AuditTTL),
	)
	return nil
}

func (s *Scheduler) add(name, expr string, run func(ctx context.Context)) error {
	schedule, err := s.parser.Parse(expr)
	if err != nil {
		return fmt.Errorf("parse %s schedule %q: %w", name, expr, err)
	}
	s.cron.Schedule(schedule, cron.FuncJob(func() {
		s.mu.Lock()
		ctx := s.ctx
		s.mu.Unlock()
		s.logger.Info("Cron triggered", infralogger.String("job", name))
		run(ctx)
	}))
	s.logger.Debug("Job scheduled",
		infralogger.String("job", name),
		infralogger.String("schedule", expr),
		infralogger.Time("next_run", schedule.Next(s.now())),
	)
	return nil
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
	<-s.cron.Stop().Done()
	s.logger.Info("Scheduler stopped")
}

// EnqueueAll publishes an audit task for every site.
func (s *Scheduler) EnqueueAll(ctx context.Context) (int, error) {
	return s.producer.EnqueueAll(ctx, s.sites, queue.TriggerSchedule)
}

// Sweep deletes audit records older than the TTL.
func (s *Scheduler) Sweep(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.cfg.AuditTTL)
	deleted, err := s.audits.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		s.logger.Error("Retention sweep failed", infralogger.Error(err))
		return 0, fmt.Errorf("retention sweep: %w", err)
	}
	if s.recorder != nil {
		s.recorder.RecordRetention(deleted)
	}
	s.logger.Info("Retention sweep completed",
		infralogger.Int64("deleted", deleted),
		infralogger.Time("cutoff", cutoff),
	)
	return deleted, nil
}
