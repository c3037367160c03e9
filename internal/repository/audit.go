package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	infralogger "github.com/jonesrussell/site-auditor/infrastructure/logger"
	"github.com/jonesrussell/site-auditor/internal/models"
)

// ErrAuditNotFound is returned when no audit matches the lookup.
var ErrAuditNotFound = errors.New("audit not found")

const (
	auditColumns = `id, site_id, audited_at, is_live, is_error, error_message, status_code, scores,
		performance_score, final_url, content, content_diff, repository_diff`
	defaultAuditListLimit = 50
	maxAuditListLimit     = 500
)

type AuditRepository struct {
	db     *sqlx.DB
	logger infralogger.Logger
}

func NewAuditRepository(db *sqlx.DB, log infralogger.Logger) *AuditRepository {
	return &AuditRepository{db: db, logger: log}
}

// Save inserts an audit, assigning ID and timestamp when unset.
func (r *AuditRepository) Save(ctx context.Context, audit *models.Audit) error {
	if audit.ID == "" {
		audit.ID = uuid.NewString()
	}
	if audit.AuditedAt.IsZero() {
		audit.AuditedAt = time.Now().UTC()
	}
	if audit.IsError && audit.Scores != nil {
		return errors.New("error audit must not carry scores")
	}

	query := `
		INSERT INTO audits (` + auditColumns + `)
		VALUES (:id, :site_id, :audited_at, :is_live, :is_error, :error_message, :status_code, :scores,
		        :performance_score, :final_url, :content, :content_diff, :repository_diff)
	`
	if _, err := r.db.NamedExecContext(ctx, query, audit); err != nil {
		return fmt.Errorf("insert audit: %w", err)
	}
	return nil
}

// ListBySite returns a site's audits, newest first, without content.
func (r *AuditRepository) ListBySite(ctx context.Context, siteID string, limit int) ([]models.Audit, error) {
	if limit <= 0 {
		limit = defaultAuditListLimit
	}
	limit = min(limit, maxAuditListLimit)

	query := `
		SELECT id, site_id, audited_at, is_live, is_error, error_message, status_code, scores,
		       performance_score, final_url, NULL::text AS content, content_diff, repository_diff
		FROM audits
		WHERE site_id = $1
		ORDER BY audited_at DESC
		LIMIT $2
	`
	audits := []models.Audit{}
	if err := r.db.SelectContext(ctx, &audits, query, siteID, limit); err != nil {
		return nil, fmt.Errorf("list audits: %w", err)
	}
	return audits, nil
}

// Get returns one audit of a site, content included.
func (r *AuditRepository) Get(ctx context.Context, siteID, auditID string) (*models.Audit, error) {
	var audit models.Audit
	query := `SELECT ` + auditColumns + ` FROM audits WHERE site_id = $1 AND id = $2`
	if err := r.db.GetContext(ctx, &audit, query, siteID, auditID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrAuditNotFound, auditID)
		}
		return nil, fmt.Errorf("query audit: %w", err)
	}
	return &audit, nil
}

// Previous returns the last successful audit of a site before at, or nil.
func (r *AuditRepository) Previous(ctx context.Context, siteID string, at time.Time) (*models.Audit, error) {
	var audit models.Audit
	query := `
		SELECT ` + auditColumns + `
		FROM audits
		WHERE site_id = $1 AND audited_at < $2 AND NOT is_error
		ORDER BY audited_at DESC
		LIMIT 1
	`
	if err := r.db.GetContext(ctx, &audit, query, siteID, at); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil //nolint:nilnil // absence is a valid answer
		}
		return nil, fmt.Errorf("query previous audit: %w", err)
	}
	return &audit, nil
}

// DeleteOlderThan removes audits recorded before cutoff.
func (r *AuditRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM audits WHERE audited_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete expired audits: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("expired audits rows affected: %w", err)
	}
	return n, nil
}
