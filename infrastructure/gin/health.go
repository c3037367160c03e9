package gin

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// HealthStatus is the overall or per-check status.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

const healthCheckTimeout = 3 * time.Second

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status  HealthStatus           `json:"status"`
	Service string                 `json:"service"`
	Version string                 `json:"version"`
	Uptime  string                 `json:"uptime"`
	Checks  map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult is one dependency's health.
type CheckResult struct {
	Status  HealthStatus `json:"status"`
	Message string       `json:"message,omitempty"`
	Latency string       `json:"latency"`
}

// Check pings one dependency. Critical checks make the service unhealthy
// when they fail; others only degrade it.
type Check struct {
	Ping     func(ctx context.Context) error
	Critical bool
}

// RegisterHealthRoutes mounts GET and HEAD /health.
func RegisterHealthRoutes(router gin.IRoutes, service, version string, checks map[string]Check) {
	started := time.Now()
	router.GET("/health", func(c *gin.Context) {
		resp := runChecks(c.Request.Context(), checks)
		resp.Service = service
		resp.Version = version
		resp.Uptime = time.Since(started).Truncate(time.Second).String()

		status := http.StatusOK
		if resp.Status == HealthStatusUnhealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, resp)
	})
	router.HEAD("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
}

func runChecks(ctx context.Context, checks map[string]Check) HealthResponse {
	resp := HealthResponse{Status: HealthStatusHealthy}
	if len(checks) == 0 {
		return resp
	}

	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	var mu sync.Mutex
	var wg sync.WaitGroup
	resp.Checks = make(map[string]CheckResult, len(checks))
	for name, check := range checks {
		wg.Go(func() {
			start := time.Now()
			err := check.Ping(ctx)
			result := CheckResult{Status: HealthStatusHealthy, Latency: time.Since(start).String()}
			if err != nil {
				result.Message = err.Error()
				result.Status = HealthStatusDegraded
				if check.Critical {
					result.Status = HealthStatusUnhealthy
				}
			}

			mu.Lock()
			defer mu.Unlock()
			resp.Checks[name] = result
			switch {
			case result.Status == HealthStatusUnhealthy:
				resp.Status = HealthStatusUnhealthy
			case result.Status == HealthStatusDegraded && resp.Status == HealthStatusHealthy:
				resp.Status = HealthStatusDegraded
			}
		})
	}
	wg.Wait()
	return resp
}
