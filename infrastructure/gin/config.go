// Package gin provides the HTTP server lifecycle, middleware and health
// endpoints shared by the auditor's API and worker processes.
package gin

import "time"

const (
	DefaultReadTimeout     = 15 * time.Second
	DefaultWriteTimeout    = 30 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 15 * time.Second
	DefaultCORSMaxAge      = 12 * time.Hour
)

// Config holds the HTTP server configuration.
type Config struct {
	Host            string        `env:"HTTP_HOST"             yaml:"host"`
	Port            int           `env:"HTTP_PORT"             yaml:"port"`
	Debug           bool          `env:"HTTP_DEBUG"            yaml:"debug"`
	ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT"     yaml:"read_timeout"`
	WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT"    yaml:"write_timeout"`
	IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT"     yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" yaml:"shutdown_timeout"`
	CORS            CORSConfig    `yaml:"cors"`

	// ServiceName and ServiceVersion are reported by /health.
	ServiceName    string `yaml:"-"`
	ServiceVersion string `yaml:"-"`
}

// CORSConfig configures the CORS middleware. It is disabled when
// AllowedOrigins is empty.
type CORSConfig struct {
	AllowedOrigins []string      `env:"CORS_ALLOWED_ORIGINS" yaml:"allowed_origins"`
	AllowedMethods []string      `yaml:"allowed_methods"`
	AllowedHeaders []string      `yaml:"allowed_headers"`
	MaxAge         time.Duration `yaml:"max_age"`
}

// SetDefaults fills zero values.
func (c *Config) SetDefaults() {
	if c.ReadTimeout == 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
	if c.ServiceVersion == "" {
		c.ServiceVersion = "dev"
	}
	c.CORS.SetDefaults()
}

// SetDefaults fills zero values.
func (c *CORSConfig) SetDefaults() {
	if len(c.AllowedMethods) == 0 {
		c.AllowedMethods = []string{"GET", "POST", "PATCH", "OPTIONS"}
	}
	if len(c.AllowedHeaders) == 0 {
		c.AllowedHeaders = []string{"Origin", "Content-Type", "Accept", "X-Request-ID"}
	}
	if c.MaxAge == 0 {
		c.MaxAge = DefaultCORSMaxAge
	}
}
