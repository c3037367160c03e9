// Package repository persists sites and audits in PostgreSQL.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	infralogger "github.com/jonesrussell/site-auditor/infrastructure/logger"
	"github.com/jonesrussell/site-auditor/internal/models"
)

var (
	// ErrSiteNotFound is returned when no site matches the lookup.
	ErrSiteNotFound = errors.New("site not found")
	// ErrDuplicateDomain is returned when registering an existing domain.
	ErrDuplicateDomain = errors.New("site domain already registered")
)

const uniqueViolation = "23505"

const siteColumns = `s.id, s.domain, s.production_url, s.repository_url, s.is_live, s.created_at`

// latestAuditJoin attaches each site's most recent audit. Content is only
// selected when the caller needs the diff baseline.
const latestAuditJoin = `
	LEFT JOIN LATERAL (
		SELECT id, audited_at, is_live, is_error, error_message, status_code, scores,
		       performance_score, final_url, %s AS content, content_diff, repository_diff
		FROM audits
		WHERE site_id = s.id
		ORDER BY audited_at DESC
		LIMIT 1
	) a ON TRUE`

const latestAuditColumns = `
	a.id AS a_id, a.audited_at AS a_audited_at, a.is_live AS a_is_live, a.is_error AS a_is_error,
	a.error_message AS a_error_message, a.status_code AS a_status_code, a.scores AS a_scores,
	a.performance_score AS a_performance_score, a.final_url AS a_final_url, a.content AS a_content,
	a.content_diff AS a_content_diff, a.repository_diff AS a_repository_diff`

type SiteRepository struct {
	db     *sqlx.DB
	logger infralogger.Logger
}

func NewSiteRepository(db *sqlx.DB, log infralogger.Logger) *SiteRepository {
	return &SiteRepository{db: db, logger: log}
}

// Create registers a site, assigning its ID and creation time.
func (r *SiteRepository) Create(ctx context.Context, site *models.Site) error {
	site.ID = uuid.NewString()
	site.CreatedAt = time.Now().UTC()

	query := `
		INSERT INTO sites (id, domain, production_url, repository_url, is_live, created_at)
		VALUES (:id, :domain, :production_url, :repository_url, :is_live, :created_at)
	`
	if _, err := r.db.NamedExecContext(ctx, query, site); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return fmt.Errorf("%w: %s", ErrDuplicateDomain, site.Domain)
		}
		return fmt.Errorf("insert site: %w", err)
	}

	r.logger.Info("Site registered",
		infralogger.String("site_id", site.ID),
		infralogger.String("domain", site.Domain),
	)
	return nil
}

// GetByDomain returns the site registered under domain.
func (r *SiteRepository) GetByDomain(ctx context.Context, domain string) (*models.Site, error) {
	var site models.Site
	query := `SELECT ` + siteColumns + ` FROM sites s WHERE s.domain = $1`
	if err := r.db.GetContext(ctx, &site, query, domain); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrSiteNotFound, domain)
		}
		return nil, fmt.Errorf("query site by domain: %w", err)
	}
	return &site, nil
}

// ListIDs returns every site ID ordered by domain.
func (r *SiteRepository) ListIDs(ctx context.Context) ([]string, error) {
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, `SELECT id FROM sites ORDER BY domain`); err != nil {
		return nil, fmt.Errorf("list site ids: %w", err)
	}
	return ids, nil
}

// SetLive updates the live flag and returns the updated site.
func (r *SiteRepository) SetLive(ctx context.Context, domain string, live bool) (*models.Site, error) {
	var site models.Site
	query := `
		UPDATE sites s SET is_live = $2
		WHERE s.domain = $1
		RETURNING ` + siteColumns
	if err := r.db.GetContext(ctx, &site, query, domain, live); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrSiteNotFound, domain)
		}
		return nil, fmt.Errorf("update site live flag: %w", err)
	}
	return &site, nil
}

// FindSiteWithLatestAudit resolves a task's site by ID together with the
// audit used as the diff baseline (content included).
func (r *SiteRepository) FindSiteWithLatestAudit(ctx context.Context, id string) (*models.SiteWithAudit, error) {
	query := `SELECT ` + siteColumns + `,` + latestAuditColumns + `
		FROM sites s` + fmt.Sprintf(latestAuditJoin, "content") + `
		WHERE s.id = $1`
	return r.getWithAudit(ctx, query, id)
}

// GetSiteByDomain returns the site and its latest audit (content omitted).
func (r *SiteRepository) GetSiteByDomain(ctx context.Context, domain string) (*models.SiteWithAudit, error) {
	query := `SELECT ` + siteColumns + `,` + latestAuditColumns + `
		FROM sites s` + fmt.Sprintf(latestAuditJoin, "NULL::text") + `
		WHERE s.domain = $1`
	return r.getWithAudit(ctx, query, domain)
}

// ListSitesWithLatestAudit returns all sites, failing sites first, then by
// ascending performance score with unscored sites last, then by domain.
func (r *SiteRepository) ListSitesWithLatestAudit(ctx context.Context) ([]models.SiteWithAudit, error) {
	query := `SELECT ` + siteColumns + `,` + latestAuditColumns + `
		FROM sites s` + fmt.Sprintf(latestAuditJoin, "NULL::text") + `
		ORDER BY COALESCE(a.is_error, FALSE) DESC, a.performance_score ASC NULLS LAST, s.domain ASC`

	var rows []siteAuditRow
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("list sites with latest audit: %w", err)
	}

	sites := make([]models.SiteWithAudit, 0, len(rows))
	for i := range rows {
		sites = append(sites, rows[i].toModel())
	}
	return sites, nil
}

func (r *SiteRepository) getWithAudit(ctx context.Context, query string, arg any) (*models.SiteWithAudit, error) {
	var row siteAuditRow
	if err := r.db.GetContext(ctx, &row, query, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %v", ErrSiteNotFound, arg)
		}
		return nil, fmt.Errorf("query site with latest audit: %w", err)
	}
	site := row.toModel()
	return &site, nil
}

// siteAuditRow is a site joined with a possibly absent audit.
type siteAuditRow struct {
	models.Site
	AuditID          *string         `db:"a_id"`
	AuditedAt        *time.Time      `db:"a_audited_at"`
	AuditIsLive      *bool           `db:"a_is_live"`
	IsError          *bool           `db:"a_is_error"`
	ErrorMessage     *string         `db:"a_error_message"`
	StatusCode       *int            `db:"a_status_code"`
	Scores           *models.JSONMap `db:"a_scores"`
	PerformanceScore *float64        `db:"a_performance_score"`
	FinalURL         *string         `db:"a_final_url"`
	Content          *string         `db:"a_content"`
	ContentDiff      *string         `db:"a_content_diff"`
	RepositoryDiff   *string         `db:"a_repository_diff"`
}

func (row *siteAuditRow) toModel() models.SiteWithAudit {
	out := models.SiteWithAudit{Site: row.Site}
	if row.AuditID == nil {
		return out
	}
	audit := &models.Audit{
		ID:               *row.AuditID,
		SiteID:           row.Site.ID,
		ErrorMessage:     row.ErrorMessage,
		StatusCode:       row.StatusCode,
		Scores:           row.Scores,
		PerformanceScore: row.PerformanceScore,
		FinalURL:         row.FinalURL,
		Content:          row.Content,
		ContentDiff:      row.ContentDiff,
	}
	if row.AuditedAt != nil {
		audit.AuditedAt = *row.AuditedAt
	}
	if row.AuditIsLive != nil {
		audit.IsLive = *row.AuditIsLive
	}
	if row.IsError != nil {
		audit.IsError = *row.IsError
	}
	if row.RepositoryDiff != nil {
		audit.RepositoryDiff = *row.RepositoryDiff
	}
	out.LatestAudit = audit
	return out
}
