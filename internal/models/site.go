package models

import (
	"strings"
	"time"
)

// Site is a tracked domain.
type Site struct {
	ID            string    `db:"id"             json:"id"`
	Domain        string    `db:"domain"         json:"domain"`
	ProductionURL *string   `db:"production_url" json:"production_url,omitempty"`
	RepositoryURL *string   `db:"repository_url" json:"repository_url,omitempty"`
	IsLive        bool      `db:"is_live"        json:"is_live"`
	CreatedAt     time.Time `db:"created_at"     json:"created_at"`
}

// AuditTarget is the URL handed to the scoring service: the production URL
// when the site is live and has one, otherwise the bare domain.
func (s *Site) AuditTarget() string {
	if s.IsLive && s.ProductionURL != nil && strings.TrimSpace(*s.ProductionURL) != "" {
		return strings.TrimSpace(*s.ProductionURL)
	}
	return s.Domain
}

// Repository returns the repository URL or "".
func (s *Site) Repository() string {
	if s.RepositoryURL == nil {
		return ""
	}
	return strings.TrimSpace(*s.RepositoryURL)
}

// NormalizeDomain lowercases a domain and strips any scheme, path and
// trailing dot so registrations and lookups compare equal.
func NormalizeDomain(raw string) string {
	d := strings.ToLower(strings.TrimSpace(raw))
	if _, after, found := strings.Cut(d, "://"); found {
		d = after
	}
	if i := strings.IndexAny(d, "/?#"); i >= 0 {
		d = d[:i]
	}
	return strings.TrimSuffix(d, ".")
}

// SiteWithAudit pairs a site with its most recent audit, if any.
type SiteWithAudit struct {
	Site
	LatestAudit *Audit `json:"latest_audit,omitempty"`
}

// CreateSiteRequest registers a new site.
type CreateSiteRequest struct {
	Domain        string  `binding:"required"             json:"domain"`
	ProductionURL *string `json:"production_url,omitempty"`
	RepositoryURL *string `json:"repository_url,omitempty"`
	IsLive        bool    `json:"is_live"`
}

// UpdateLiveRequest toggles a site's live flag.
type UpdateLiveRequest struct {
	IsLive *bool `binding:"required" json:"is_live"`
}
