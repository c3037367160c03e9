package gin_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	ginpkg "github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	infragin "github.com/jonesrussell/site-auditor/infrastructure/gin"
	"github.com/jonesrussell/site-auditor/infrastructure/logger"
)

func init() {
	ginpkg.SetMode(ginpkg.TestMode)
}

func newTestRouter(t *testing.T) *ginpkg.Engine {
	t.Helper()

	router := ginpkg.New()
	router.Use(infragin.RequestIDLoggerMiddleware(logger.NewNop()))
	router.GET("/test", func(c *ginpkg.Context) {
		c.String(http.StatusOK, "ok")
	})
	return router
}

func serve(router http.Handler, method, path string, header http.Header) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, http.NoBody)
	for k, v := range header {
		req.Header[k] = v
	}
	router.ServeHTTP(w, req)
	return w
}

func TestRequestIDLoggerMiddleware_GeneratesID(t *testing.T) {
	t.Parallel()

	w := serve(newTestRouter(t), http.MethodGet, "/test", nil)
	assert.Len(t, w.Header().Get("X-Request-ID"), 32)
}

func TestRequestIDLoggerMiddleware_PreservesExistingID(t *testing.T) {
	t.Parallel()

	const inboundID = "trace-from-upstream-abc123"
	var ctxID string
	var ctxLogger logger.Logger

	router := ginpkg.New()
	router.Use(infragin.RequestIDLoggerMiddleware(logger.NewNop()))
	router.GET("/test", func(c *ginpkg.Context) {
		ctxID = c.GetString("request_id")
		ctxLogger = logger.FromContext(c.Request.Context())
		c.Status(http.StatusOK)
	})

	w := serve(router, http.MethodGet, "/test", http.Header{"X-Request-Id": {inboundID}})

	assert.Equal(t, inboundID, w.Header().Get("X-Request-ID"))
	assert.Equal(t, inboundID, ctxID)
	assert.NotNil(t, ctxLogger)
}

func TestRequestIDLoggerMiddleware_RejectsOversizedID(t *testing.T) {
	t.Parallel()

	oversized := strings.Repeat("x", 200)
	w := serve(newTestRouter(t), http.MethodGet, "/test", http.Header{"X-Request-Id": {oversized}})

	got := w.Header().Get("X-Request-ID")
	assert.NotEmpty(t, got)
	assert.NotEqual(t, oversized, got)
}

func TestRecoveryMiddleware(t *testing.T) {
	t.Parallel()

	router := ginpkg.New()
	router.Use(infragin.RecoveryMiddleware(logger.NewNop()))
	router.GET("/boom", func(*ginpkg.Context) { panic("kaboom") })

	w := serve(router, http.MethodGet, "/boom", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestCORSMiddleware(t *testing.T) {
	t.Parallel()

	router := ginpkg.New()
	router.Use(infragin.CORSMiddleware(infragin.CORSConfig{AllowedOrigins: []string{"https://dash.example.com"}}))
	router.GET("/test", func(c *ginpkg.Context) { c.Status(http.StatusOK) })

	allowed := serve(router, http.MethodGet, "/test", http.Header{"Origin": {"https://dash.example.com"}})
	assert.Equal(t, "https://dash.example.com", allowed.Header().Get("Access-Control-Allow-Origin"))

	denied := serve(router, http.MethodGet, "/test", http.Header{"Origin": {"https://evil.example.com"}})
	assert.Empty(t, denied.Header().Get("Access-Control-Allow-Origin"))

	preflight := serve(router, http.MethodOptions, "/test", http.Header{
		"Origin":                        {"https://dash.example.com"},
		"Access-Control-Request-Method": {http.MethodGet},
	})
	assert.Equal(t, http.StatusNoContent, preflight.Code)
	assert.Equal(t, "https://dash.example.com", preflight.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSMiddleware_DisabledWithoutOrigins(t *testing.T) {
	t.Parallel()

	router := ginpkg.New()
	router.Use(infragin.CORSMiddleware(infragin.CORSConfig{}))
	router.GET("/test", func(c *ginpkg.Context) { c.Status(http.StatusOK) })

	w := serve(router, http.MethodGet, "/test", http.Header{"Origin": {"https://dash.example.com"}})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestHealthRoutes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		checks     map[string]infragin.Check
		wantCode   int
		wantStatus infragin.HealthStatus
	}{
		{
			name:       "no checks",
			wantCode:   http.StatusOK,
			wantStatus: infragin.HealthStatusHealthy,
		},
		{
			name: "non-critical failure degrades",
			checks: map[string]infragin.Check{
				"redis": {Ping: func(context.Context) error { return errors.New("down") }},
			},
			wantCode:   http.StatusOK,
			wantStatus: infragin.HealthStatusDegraded,
		},
		{
			name: "critical failure is unhealthy",
			checks: map[string]infragin.Check{
				"redis":    {Ping: func(context.Context) error { return nil }},
				"database": {Ping: func(context.Context) error { return errors.New("down") }, Critical: true},
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: infragin.HealthStatusUnhealthy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			router := ginpkg.New()
			infragin.RegisterHealthRoutes(router, "auditor", "test", tt.checks)

			w := serve(router, http.MethodGet, "/health", nil)
			require.Equal(t, tt.wantCode, w.Code)

			var body infragin.HealthResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.wantStatus, body.Status)
			assert.Equal(t, "auditor", body.Service)
			assert.Len(t, body.Checks, len(tt.checks))
		})
	}
}

func TestHTTPMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := infragin.NewHTTPMetrics(reg, "auditor")

	router := ginpkg.New()
	router.Use(m.Middleware())
	router.GET("/sites/:domain", func(c *ginpkg.Context) { c.Status(http.StatusOK) })
	infragin.RegisterMetricsRoute(router, reg)

	serve(router, http.MethodGet, "/sites/example.com", nil)
	serve(router, http.MethodGet, "/sites/other.com", nil)
	serve(router, http.MethodGet, "/nope", nil)

	assert.Equal(t, 2, testutil.CollectAndCount(reg, "auditor_http_requests_total"))

	w := serve(router, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `route="/sites/:domain"`)
}
