package gin

import (
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jonesrussell/site-auditor/infrastructure/logger"
)

const (
	requestIDHeader    = "X-Request-ID"
	requestIDKey       = "request_id"
	maxInboundIDLength = 128
)

// RequestIDLoggerMiddleware assigns a request ID (reusing a sane inbound
// X-Request-ID) and stores a logger carrying it on the request context.
func RequestIDLoggerMiddleware(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(requestIDHeader)
		if requestID == "" || len(requestID) > maxInboundIDLength {
			requestID = strings.ReplaceAll(uuid.NewString(), "-", "")
		}

		c.Set(requestIDKey, requestID)
		c.Writer.Header().Set(requestIDHeader, requestID)

		reqLog := log.With(logger.String(requestIDKey, requestID))
		c.Request = c.Request.WithContext(logger.WithContext(c.Request.Context(), reqLog))

		c.Next()
	}
}

// LoggerMiddleware logs one line per request. Health and metrics probes
// are logged at debug.
func LoggerMiddleware(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		fields := []logger.Field{
			logger.String("method", c.Request.Method),
			logger.String("path", path),
			logger.Int("status", c.Writer.Status()),
			logger.Duration("duration", time.Since(start)),
			logger.String("client_ip", c.ClientIP()),
		}
		if id, ok := c.Get(requestIDKey); ok {
			if s, isStr := id.(string); isStr {
				fields = append(fields, logger.String(requestIDKey, s))
			}
		}
		if len(c.Errors) > 0 {
			fields = append(fields, logger.Strings("errors", c.Errors.Errors()))
			log.Error("HTTP request with errors", fields...)
			return
		}
		if strings.HasPrefix(path, "/health") || path == "/metrics" {
			log.Debug("HTTP request", fields...)
			return
		}
		log.Info("HTTP request", fields...)
	}
}

// RecoveryMiddleware turns panics into a logged 500.
func RecoveryMiddleware(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Error("Panic recovered",
					logger.Any("panic", rec),
					logger.String("path", c.Request.URL.Path),
					logger.String("method", c.Request.Method),
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error": "internal server error",
				})
			}
		}()
		c.Next()
	}
}

// CORSMiddleware applies gin-contrib/cors for the configured origins. It
// is a no-op when no origins are configured. A "*" entry allows any origin.
func CORSMiddleware(cfg CORSConfig) gin.HandlerFunc {
	if len(cfg.AllowedOrigins) == 0 {
		return func(c *gin.Context) { c.Next() }
	}
	cfg.SetDefaults()

	corsCfg := cors.Config{
		AllowMethods:  cfg.AllowedMethods,
		AllowHeaders:  cfg.AllowedHeaders,
		ExposeHeaders: []string{"Content-Length", requestIDHeader},
		MaxAge:        cfg.MaxAge,
	}
	if slices.Contains(cfg.AllowedOrigins, "*") {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = cfg.AllowedOrigins
	}
	return cors.New(corsCfg)
}
