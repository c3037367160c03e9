// Package models holds the persisted and queued types of the audit pipeline.
package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// Audit is one completed attempt for a site. Records are immutable once
// written. An error record never carries scores.
type Audit struct {
	ID               string    `db:"id"                json:"id"`
	SiteID           string    `db:"site_id"           json:"site_id"`
	AuditedAt        time.Time `db:"audited_at"        json:"audited_at"`
	IsLive           bool      `db:"is_live"           json:"is_live"`
	IsError          bool      `db:"is_error"          json:"is_error"`
	ErrorMessage     *string   `db:"error_message"     json:"error_message,omitempty"`
	StatusCode       *int      `db:"status_code"       json:"status_code,omitempty"`
	Scores           *JSONMap  `db:"scores"            json:"scores,omitempty"`
	PerformanceScore *float64  `db:"performance_score" json:"performance_score,omitempty"`
	FinalURL         *string   `db:"final_url"         json:"final_url,omitempty"`
	Content          *string   `db:"content"           json:"-"`
	ContentDiff      *string   `db:"content_diff"      json:"content_diff"`
	RepositoryDiff   string    `db:"repository_diff"   json:"repository_diff"`
}

// NewErrorAudit builds the failure record for siteID.
func NewErrorAudit(siteID string, isLive bool, message string, statusCode int, at time.Time) *Audit {
	a := &Audit{
		SiteID:       siteID,
		AuditedAt:    at,
		IsLive:       isLive,
		IsError:      true,
		ErrorMessage: &message,
	}
	if statusCode > 0 {
		a.StatusCode = &statusCode
	}
	return a
}

// JSONMap is a JSONB column holding a generic object.
type JSONMap map[string]any

// Value implements driver.Valuer.
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner.
func (m *JSONMap) Scan(value any) error {
	if value == nil {
		*m = nil
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return errors.New("jsonmap: unsupported scan type")
	}
	return json.Unmarshal(data, m)
}
