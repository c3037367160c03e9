// Package http builds the outbound HTTP clients shared by the audit services.
package http

import (
	"net/http"
	"time"
)

const (
	DefaultTimeout             = 30 * time.Second
	DefaultMaxIdleConns        = 100
	DefaultMaxIdleConnsPerHost = 10
	DefaultIdleConnTimeout     = 90 * time.Second
	DefaultTLSHandshakeTimeout = 10 * time.Second
	DefaultUserAgent           = "site-auditor/1.0"
)

// ClientConfig configures an outbound client. Zero values take defaults.
type ClientConfig struct {
	Timeout             time.Duration
	MaxIdleConnsPerHost int
	UserAgent           string
	// Transport overrides the base transport, mainly for tests.
	Transport http.RoundTripper
}

// NewClient returns a client with pooled connections and a User-Agent set
// on every request that does not carry one.
func NewClient(cfg ClientConfig) *http.Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	perHost := cfg.MaxIdleConnsPerHost
	if perHost <= 0 {
		perHost = DefaultMaxIdleConnsPerHost
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}

	base := cfg.Transport
	if base == nil {
		base = &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        DefaultMaxIdleConns,
			MaxIdleConnsPerHost: perHost,
			IdleConnTimeout:     DefaultIdleConnTimeout,
			TLSHandshakeTimeout: DefaultTLSHandshakeTimeout,
			ForceAttemptHTTP2:   true,
		}
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: &userAgentTransport{base: base, userAgent: ua},
	}
}

type userAgentTransport struct {
	base      http.RoundTripper
	userAgent string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") != "" {
		return t.base.RoundTrip(req)
	}
	clone := req.Clone(req.Context())
	clone.Header.Set("User-Agent", t.userAgent)
	return t.base.RoundTrip(clone)
}
