// Package worker runs audit tasks: it loads the site, scores it, computes
// the content and repository diffs, and persists one audit record.
package worker

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	infraerrors "github.com/jonesrussell/site-auditor/infrastructure/errors"
	infralogger "github.com/jonesrussell/site-auditor/infrastructure/logger"
	"github.com/jonesrussell/site-auditor/internal/contentdiff"
	"github.com/jonesrussell/site-auditor/internal/models"
	"github.com/jonesrussell/site-auditor/internal/scoring"
	"github.com/jonesrussell/site-auditor/internal/telemetry"
)

// State is a step of one task attempt.
type State string

const (
	StateReceived   State = "received"
	StateLoading    State = "loading"
	StateScoring    State = "scoring"
	StateDiffing    State = "diffing"
	StatePersisting State = "persisting"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

// DefaultRateLimitPause applies when the scorer gives no Retry-After.
const DefaultRateLimitPause = time.Minute

// SiteLoader resolves a site with its latest audit.
type SiteLoader interface {
	FindSiteWithLatestAudit(ctx context.Context, id string) (*models.SiteWithAudit, error)
	GetByDomain(ctx context.Context, domain string) (*models.Site, error)
}

// AuditSaver persists audit records.
type AuditSaver interface {
	Save(ctx context.Context, audit *models.Audit) error
}

// Scorer runs a scoring assessment.
type Scorer interface {
	Score(ctx context.Context, target string) (*scoring.Result, error)
}

// ContentDiffer fetches the text artifact and diffs it against previous.
type ContentDiffer interface {
	Diff(ctx context.Context, previous *string, canonicalURL string) *contentdiff.Result
}

// RepositoryDiffer compiles a repository diff for a time window.
type RepositoryDiffer interface {
	Diff(ctx context.Context, repoURL string, since, until time.Time) (string, error)
}

// Config tunes the orchestrator.
type Config struct {
	RateLimitPause time.Duration
}

// Deps are the orchestrator collaborators.
type Deps struct {
	Sites      SiteLoader
	Audits     AuditSaver
	Scorer     Scorer
	Content    ContentDiffer
	Repository RepositoryDiffer
	Telemetry  *telemetry.Provider
	Logger     infralogger.Logger
}

// Orchestrator runs one task at a time through the audit state machine.
type Orchestrator struct {
	deps Deps
	cfg  Config
	now  func() time.Time
}

func NewOrchestrator(cfg Config, deps Deps) *Orchestrator {
	if cfg.RateLimitPause <= 0 {
		cfg.RateLimitPause = DefaultRateLimitPause
	}
	if deps.Logger == nil {
		deps.Logger = infralogger.NewNop()
	}
	if deps.Telemetry == nil {
		deps.Telemetry = telemetry.NewProvider(prometheus.NewRegistry())
	}
	return &Orchestrator{deps: deps, cfg: cfg, now: time.Now}
}

// attempt carries per-task state through the steps.
type attempt struct {
	task      models.AuditTask
	messageID string
	log       infralogger.Logger
	span      trace.Span
	started   time.Time

	site     *models.SiteWithAudit
	result   *scoring.Result
	content  *contentdiff.Result
	repoDiff string
}

func (a *attempt) enter(state State) {
	a.log.Info("Audit state", infralogger.String("state", string(state)))
	a.span.AddEvent(string(state))
}

// Run executes one task. It returns nil when the task completed or when a
// failure was recorded and absorbed. ErrLookupFailed and *RateLimitedError
// are returned after the error record is written. A cancelled ctx returns
// its error without writing anything.
func (o *Orchestrator) Run(ctx context.Context, task models.AuditTask, messageID string) error {
	ctx, span := o.deps.Telemetry.StartSpan(ctx, "audit.run",
		attribute.String("site.ref", task.Ref()),
		attribute.String("message.id", messageID),
		attribute.String("task.trigger", task.Trigger),
	)
	defer span.End()

	a := &attempt{
		task:      task,
		messageID: messageID,
		span:      span,
		started:   o.now(),
		log: o.deps.Logger.With(
			infralogger.String("site_id", task.Ref()),
			infralogger.String("message_id", messageID),
		),
	}
	a.enter(StateReceived)

	if task.Ref() == "" {
		o.finish(ctx, a, telemetry.OutcomeMalformed, ErrMalformedTask)
		return ErrMalformedTask
	}

	a.enter(StateLoading)
	site, ref, err := o.load(ctx, task)
	if err != nil {
		if ctx.Err() != nil {
			o.finish(ctx, a, telemetry.OutcomeCancelled, err)
			return fmt.Errorf("load site %s: %w", ref, err)
		}
		o.recordFailure(ctx, a, ref, false, err)
		o.finish(ctx, a, telemetry.OutcomeError, err)
		return fmt.Errorf("%w: %s: %w", ErrLookupFailed, ref, err)
	}
	a.site = site
	a.log = a.log.With(infralogger.String("domain", site.Domain))
	span.SetAttributes(attribute.String("site.id", site.ID), attribute.String("site.domain", site.Domain))

	if err = o.audit(ctx, a); err != nil {
		return o.fail(ctx, a, err)
	}

	o.finish(ctx, a, telemetry.OutcomeSuccess, nil)
	return nil
}

// load resolves the task's site. The returned ref is the site ID once a
// domain has been resolved, otherwise the reference the task carried; a
// lookup failure is recorded against it.
func (o *Orchestrator) load(ctx context.Context, task models.AuditTask) (*models.SiteWithAudit, string, error) {
	id := task.SiteID
	if id == "" {
		site, err := o.deps.Sites.GetByDomain(ctx, task.Domain)
		if err != nil {
			return nil, task.Ref(), err
		}
		id = site.ID
	}
	site, err := o.deps.Sites.FindSiteWithLatestAudit(ctx, id)
	return site, id, err
}

// audit runs Scoring, Diffing and Persisting. Any error short-circuits
// and discards partial results.
func (o *Orchestrator) audit(ctx context.Context, a *attempt) error {
	a.enter(StateScoring)
	target := a.site.AuditTarget()
	result, err := o.deps.Scorer.Score(ctx, target)
	if err != nil {
		return err
	}
	if result == nil {
		return fmt.Errorf("%w for %s", ErrNoScoringResult, target)
	}
	a.result = result
	o.deps.Telemetry.RecordScores(result.Scores)

	a.enter(StateDiffing)
	if err = o.diff(ctx, a); err != nil {
		return err
	}

	a.enter(StatePersisting)
	record := o.buildRecord(a)
	if err = o.deps.Audits.Save(ctx, record); err != nil {
		return fmt.Errorf("save audit: %w", err)
	}
	a.log.Info("Audit saved",
		infralogger.String("audit_id", record.ID),
		infralogger.Bool("content_changed", record.ContentDiff != nil),
		infralogger.Int("repository_diff_bytes", len(record.RepositoryDiff)),
	)
	return nil
}

// diff runs the content and repository diffs concurrently. Both degrade to
// empty results, a panicking differ included; only cancellation aborts
// the step.
func (o *Orchestrator) diff(ctx context.Context, a *attempt) error {
	previous := a.site.LatestAudit

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var prevContent *string
		if previous != nil {
			prevContent = previous.Content
		}
		err := guard(func() error {
			a.content = o.deps.Content.Diff(gctx, prevContent, a.result.FinalURL)
			return nil
		})
		if err != nil {
			a.log.Error("Content diff failed", infralogger.Error(err))
			a.content = nil
		}
		if a.content == nil {
			o.deps.Telemetry.RecordDiffDegraded("content")
		}
		return nil
	})
	g.Go(func() error {
		var since time.Time
		if previous != nil {
			since = previous.AuditedAt
		}
		var repoDiff string
		err := guard(func() error {
			var diffErr error
			repoDiff, diffErr = o.deps.Repository.Diff(gctx, a.site.Repository(), since, a.result.FetchTime)
			return diffErr
		})
		if err != nil {
			a.log.Warn("Repository diff skipped", infralogger.Error(err))
			o.deps.Telemetry.RecordDiffDegraded("repository")
			return nil
		}
		a.repoDiff = repoDiff
		o.deps.Telemetry.RecordRepositoryDiff(len(repoDiff))
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// guard runs step, turning a panic into errPanicked.
func guard(step func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", errPanicked, r)
		}
	}()
	return step()
}

func (o *Orchestrator) buildRecord(a *attempt) *models.Audit {
	result := a.result
	record := &models.Audit{
		SiteID:         a.site.ID,
		AuditedAt:      o.now().UTC(),
		IsLive:         a.site.IsLive,
		RepositoryDiff: a.repoDiff,
	}

	categories := make(map[string]any, len(result.Scores))
	for k, v := range result.Scores {
		categories[k] = v
	}
	scores := models.JSONMap{"categories": categories}
	if result.Report != nil {
		scores["report"] = scoring.ToAny(result.Report)
	}
	record.Scores = &scores

	if perf, ok := result.PerformanceScore(); ok {
		record.PerformanceScore = &perf
	}
	if result.FinalURL != "" {
		finalURL := result.FinalURL
		record.FinalURL = &finalURL
	}
	if a.content != nil {
		content := a.content.Content
		record.Content = &content
		record.ContentDiff = a.content.Diff
	}
	return record
}

// fail records the failure and classifies it. Only rate limiting is
// returned; every other failure is absorbed once recorded.
func (o *Orchestrator) fail(ctx context.Context, a *attempt, err error) error {
	if ctx.Err() != nil {
		o.finish(ctx, a, telemetry.OutcomeCancelled, err)
		return fmt.Errorf("audit %s: %w", a.site.Domain, ctx.Err())
	}

	o.recordFailure(ctx, a, a.site.ID, a.site.IsLive, err)

	if infraerrors.IsStatus(err, http.StatusTooManyRequests) {
		pause := o.cfg.RateLimitPause
		if httpErr, ok := infraerrors.AsHTTPError(err); ok && httpErr.RetryAfter > 0 {
			pause = httpErr.RetryAfter
		}
		o.finish(ctx, a, telemetry.OutcomeRateLimited, err)
		return &RateLimitedError{RetryAfter: pause, Err: err}
	}

	o.finish(ctx, a, telemetry.OutcomeError, err)
	return nil
}

// recordFailure writes the error record. A failed write is logged only.
func (o *Orchestrator) recordFailure(ctx context.Context, a *attempt, siteID string, isLive bool, cause error) {
	message := FailureMessage(cause)
	statusCode, _ := infraerrors.GetHTTPStatusCode(cause)

	record := models.NewErrorAudit(siteID, isLive, message, statusCode, o.now().UTC())
	if err := o.deps.Audits.Save(ctx, record); err != nil {
		a.log.Error("Saving error record failed",
			infralogger.Error(err),
			infralogger.String("failure", message),
		)
		return
	}
	a.log.Warn("Audit failed",
		infralogger.String("audit_id", record.ID),
		infralogger.String("failure", message),
		infralogger.Int("status_code", statusCode),
	)
}

func (o *Orchestrator) finish(ctx context.Context, a *attempt, outcome string, err error) {
	elapsed := o.now().Sub(a.started)
	o.deps.Telemetry.RecordAudit(ctx, outcome, elapsed)

	state := StateCompleted
	if err != nil {
		state = StateFailed
		a.span.RecordError(err)
		a.span.SetStatus(codes.Error, outcome)
	} else {
		a.span.SetStatus(codes.Ok, "")
	}
	a.span.SetAttributes(attribute.String("audit.outcome", outcome))
	a.log.Info("Audit state",
		infralogger.String("state", string(state)),
		infralogger.String("outcome", outcome),
		infralogger.Duration("duration", elapsed),
	)
}

// FailureMessage picks the text stored on an error record: the upstream
// error payload when present, otherwise the error text, otherwise the
// value formatted with %#v.
func FailureMessage(err error) string {
	if httpErr, ok := infraerrors.AsHTTPError(err); ok && httpErr.Message != "" {
		return httpErr.Message
	}
	if msg := err.Error(); msg != "" {
		return msg
	}
	return fmt.Sprintf("%#v", err)
}
