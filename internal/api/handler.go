// Package api serves the read side of the audit pipeline and the task
// producers for registration, live toggles and manual audits.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	infralogger "github.com/jonesrussell/site-auditor/infrastructure/logger"
	"github.com/jonesrussell/site-auditor/internal/cache"
	"github.com/jonesrussell/site-auditor/internal/contentdiff"
	"github.com/jonesrussell/site-auditor/internal/models"
	"github.com/jonesrussell/site-auditor/internal/queue"
	"github.com/jonesrussell/site-auditor/internal/repository"
)

// SiteStore is the site persistence used by the API.
type SiteStore interface {
	Create(ctx context.Context, site *models.Site) error
	GetByDomain(ctx context.Context, domain string) (*models.Site, error)
	GetSiteByDomain(ctx context.Context, domain string) (*models.SiteWithAudit, error)
	SetLive(ctx context.Context, domain string, live bool) (*models.Site, error)
}

// AuditStore is the audit history used by the API.
type AuditStore interface {
	ListBySite(ctx context.Context, siteID string, limit int) ([]models.Audit, error)
	Get(ctx context.Context, siteID, auditID string) (*models.Audit, error)
	Previous(ctx context.Context, siteID string, at time.Time) (*models.Audit, error)
}

// Enqueuer publishes audit tasks.
type Enqueuer interface {
	Enqueue(ctx context.Context, task models.AuditTask) (string, error)
}

type Handler struct {
	sites    SiteStore
	audits   AuditStore
	enqueuer Enqueuer
	cache    *cache.Sites
	logger   infralogger.Logger
}

func NewHandler(sites SiteStore, audits AuditStore, enqueuer Enqueuer, sitesCache *cache.Sites, log infralogger.Logger) *Handler {
	return &Handler{sites: sites, audits: audits, enqueuer: enqueuer, cache: sitesCache, logger: log}
}

// RegisterRoutes mounts the /api/v1 routes.
func (h *Handler) RegisterRoutes(router gin.IRouter) {
	v1 := router.Group("/api/v1")
	{
		sites := v1.Group("/sites")
		{
			sites.GET("", h.ListSites)
			sites.POST("", h.CreateSite)
			sites.GET("/:domain", h.GetSite)
			sites.PATCH("/:domain/live", h.UpdateLive)
			sites.POST("/:domain/audits", h.TriggerAudit)
			sites.GET("/:domain/audits", h.ListAudits)
			sites.GET("/:domain/audits/:id/content", h.GetAuditContent)
			sites.GET("/:domain/audits/:id/diff", h.GetAuditDiff)
		}
	}
}

// ListSites returns every site with its latest audit, error sites first
// and then by ascending performance score.
func (h *Handler) ListSites(c *gin.Context) {
	sites, err := h.cache.Get(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to list sites", infralogger.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list sites"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"sites":        sites,
		"count":        len(sites),
		"refreshed_at": h.cache.RefreshedAt(),
	})
}

func (h *Handler) GetSite(c *gin.Context) {
	domain := models.NormalizeDomain(c.Param("domain"))

	site, err := h.sites.GetSiteByDomain(c.Request.Context(), domain)
	if err != nil {
		h.respondLookupError(c, domain, err)
		return
	}
	c.JSON(http.StatusOK, site)
}

// CreateSite registers a site and enqueues its first audit.
func (h *Handler) CreateSite(c *gin.Context) {
	var req models.CreateSiteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Debug("Invalid request body", infralogger.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}
	domain := models.NormalizeDomain(req.Domain)
	if domain == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": "domain is empty"})
		return
	}

	site := &models.Site{
		Domain:        domain,
		ProductionURL: req.ProductionURL,
		RepositoryURL: req.RepositoryURL,
		IsLive:        req.IsLive,
	}
	if err := h.sites.Create(c.Request.Context(), site); err != nil {
		if errors.Is(err, repository.ErrDuplicateDomain) {
			c.JSON(http.StatusConflict, gin.H{"error": "Site already registered", "domain": domain})
			return
		}
		h.logger.Error("Failed to create site", infralogger.String("domain", domain), infralogger.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create site"})
		return
	}
	h.cache.Invalidate()

	messageID := h.enqueue(c, site.ID)
	c.JSON(http.StatusCreated, gin.H{"site": site, "message_id": messageID})
}

// UpdateLive toggles a site's live flag and re-audits it.
func (h *Handler) UpdateLive(c *gin.Context) {
	domain := models.NormalizeDomain(c.Param("domain"))

	var req models.UpdateLiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	site, err := h.sites.SetLive(c.Request.Context(), domain, *req.IsLive)
	if err != nil {
		h.respondLookupError(c, domain, err)
		return
	}
	h.cache.Invalidate()

	h.logger.Info("Site live flag updated",
		infralogger.String("site_id", site.ID),
		infralogger.String("domain", domain),
		infralogger.Bool("is_live", site.IsLive),
	)
	messageID := h.enqueue(c, site.ID)
	c.JSON(http.StatusOK, gin.H{"site": site, "message_id": messageID})
}

// TriggerAudit enqueues an audit for an existing site.
func (h *Handler) TriggerAudit(c *gin.Context) {
	domain := models.NormalizeDomain(c.Param("domain"))

	site, err := h.sites.GetByDomain(c.Request.Context(), domain)
	if err != nil {
		h.respondLookupError(c, domain, err)
		return
	}
	messageID, err := h.enqueuer.Enqueue(c.Request.Context(), models.AuditTask{SiteID: site.ID, Trigger: queue.TriggerAPI})
	if err != nil {
		h.logger.Error("Failed to enqueue audit", infralogger.String("domain", domain), infralogger.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Failed to enqueue audit"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"site_id": site.ID, "message_id": messageID})
}

func (h *Handler) ListAudits(c *gin.Context) {
	domain := models.NormalizeDomain(c.Param("domain"))

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}

	site, err := h.sites.GetByDomain(c.Request.Context(), domain)
	if err != nil {
		h.respondLookupError(c, domain, err)
		return
	}
	audits, err := h.audits.ListBySite(c.Request.Context(), site.ID, limit)
	if err != nil {
		h.logger.Error("Failed to list audits", infralogger.String("site_id", site.ID), infralogger.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list audits"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"audits": audits, "count": len(audits)})
}

// GetAuditContent returns the text artifact fetched during an audit.
func (h *Handler) GetAuditContent(c *gin.Context) {
	audit, ok := h.loadAudit(c)
	if !ok {
		return
	}
	if audit.Content == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "No content recorded for audit", "audit_id": audit.ID})
		return
	}
	c.Data(http.StatusOK, "text/markdown; charset=utf-8", []byte(*audit.Content))
}

// GetAuditDiff returns an audit's content diff and checks that applying it
// to the previous audit's content reproduces the recorded content.
func (h *Handler) GetAuditDiff(c *gin.Context) {
	audit, ok := h.loadAudit(c)
	if !ok {
		return
	}
	if audit.ContentDiff == nil {
		c.JSON(http.StatusOK, gin.H{"audit_id": audit.ID, "diff": nil, "changed": false})
		return
	}

	previous, err := h.audits.Previous(c.Request.Context(), audit.SiteID, audit.AuditedAt)
	if err != nil {
		h.logger.Error("Failed to load previous audit", infralogger.String("audit_id", audit.ID), infralogger.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load previous audit"})
		return
	}

	resp := gin.H{"audit_id": audit.ID, "diff": *audit.ContentDiff, "changed": true, "verified": false}
	if previous == nil || previous.Content == nil || audit.Content == nil {
		c.JSON(http.StatusOK, resp)
		return
	}
	resp["previous_audit_id"] = previous.ID

	rebuilt, err := contentdiff.ApplyPatch(*previous.Content, *audit.ContentDiff)
	if err != nil {
		h.logger.Warn("Content diff does not apply to previous content",
			infralogger.String("audit_id", audit.ID),
			infralogger.String("previous_audit_id", previous.ID),
			infralogger.Error(err),
		)
		c.JSON(http.StatusOK, resp)
		return
	}
	resp["verified"] = rebuilt == *audit.Content
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) loadAudit(c *gin.Context) (*models.Audit, bool) {
	domain := models.NormalizeDomain(c.Param("domain"))
	site, err := h.sites.GetByDomain(c.Request.Context(), domain)
	if err != nil {
		h.respondLookupError(c, domain, err)
		return nil, false
	}
	audit, err := h.audits.Get(c.Request.Context(), site.ID, c.Param("id"))
	if err != nil {
		if errors.Is(err, repository.ErrAuditNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Audit not found"})
			return nil, false
		}
		h.logger.Error("Failed to load audit", infralogger.String("audit_id", c.Param("id")), infralogger.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load audit"})
		return nil, false
	}
	return audit, true
}

// enqueue publishes an API-triggered audit. A publish failure is logged
// and reported as an empty message ID; the mutation itself stands.
func (h *Handler) enqueue(c *gin.Context, siteID string) string {
	id, err := h.enqueuer.Enqueue(c.Request.Context(), models.AuditTask{SiteID: siteID, Trigger: queue.TriggerAPI})
	if err != nil {
		h.logger.Error("Failed to enqueue audit", infralogger.String("site_id", siteID), infralogger.Error(err))
		return ""
	}
	return id
}

func (h *Handler) respondLookupError(c *gin.Context, domain string, err error) {
	if errors.Is(err, repository.ErrSiteNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Site not found", "domain": domain})
		return
	}
	h.logger.Error("Failed to load site", infralogger.String("domain", domain), infralogger.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load site"})
}
