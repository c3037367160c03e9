// Package cache holds read-side caches owned by the API.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/jonesrussell/site-auditor/internal/models"
)

// DefaultSitesTTL is used when NewSites is given a non-positive TTL.
const DefaultSitesTTL = 5 * time.Minute

// SitesLoader loads every site with its latest audit.
type SitesLoader func(ctx context.Context) ([]models.SiteWithAudit, error)

// Sites caches the full site listing. Get refreshes it when it is older
// than the TTL; Invalidate forces the next Get to reload. Concurrent
// refreshes share one load.
type Sites struct {
	load  SitesLoader
	ttl   time.Duration
	now   func() time.Time
	group singleflight.Group

	mu          sync.RWMutex
	sites       []models.SiteWithAudit
	refreshedAt time.Time
	generation  uint64
}

func NewSites(load SitesLoader, ttl time.Duration) *Sites {
	if ttl <= 0 {
		ttl = DefaultSitesTTL
	}
	return &Sites{load: load, ttl: ttl, now: time.Now}
}

// Get returns the cached listing, reloading it first when stale.
func (c *Sites) Get(ctx context.Context) ([]models.SiteWithAudit, error) {
	c.mu.RLock()
	if !c.refreshedAt.IsZero() && c.now().Sub(c.refreshedAt) < c.ttl {
		sites := c.sites
		c.mu.RUnlock()
		return sites, nil
	}
	gen := c.generation
	c.mu.RUnlock()

	v, err, _ := c.group.Do(fmt.Sprintf("sites-%d", gen), func() (any, error) {
		sites, err := c.load(ctx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		// An Invalidate during the load makes this result stale already.
		if c.generation == gen {
			c.sites = sites
			c.refreshedAt = c.now()
		}
		return sites, nil
	})
	if err != nil {
		return nil, fmt.Errorf("refresh sites cache: %w", err)
	}
	sites, _ := v.([]models.SiteWithAudit)
	return sites, nil
}

// Invalidate drops the cached listing.
func (c *Sites) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sites = nil
	c.refreshedAt = time.Time{}
	c.generation++
}

// RefreshedAt reports when the listing was last loaded. It is zero when
// nothing is cached.
func (c *Sites) RefreshedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.refreshedAt
}
