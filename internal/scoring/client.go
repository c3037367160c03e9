// Package scoring calls the web-performance scoring API (PageSpeed
// Insights) and normalizes its report for storage.
package scoring

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	infraerrors "github.com/jonesrussell/site-auditor/infrastructure/errors"
	infralogger "github.com/jonesrussell/site-auditor/infrastructure/logger"
)

// Categories are the assessment categories requested on every call.
var Categories = []string{"PERFORMANCE", "ACCESSIBILITY", "BEST_PRACTICES", "SEO"}

const (
	DefaultStrategy = "mobile"
	maxReportBytes  = 32 << 20
)

// Result is a normalized scoring report.
type Result struct {
	RequestedURL string
	// FinalURL is the canonical URL the scorer ended up on after redirects.
	FinalURL  string
	FetchTime time.Time
	// Scores maps category id (e.g. "performance", "best-practices") to a
	// 0..1 score. Categories the scorer could not rate are absent.
	Scores map[string]float64
	// Report is the full sanitized response.
	Report Node
}

// PerformanceScore returns the performance category score, if rated.
func (r *Result) PerformanceScore() (float64, bool) {
	s, ok := r.Scores["performance"]
	return s, ok
}

// Config configures a Client.
type Config struct {
	BaseURL  string
	APIKey   string
	Strategy string
}

// Client is the scoring API client. It never retries.
type Client struct {
	httpClient *http.Client
	cfg        Config
	logger     infralogger.Logger
}

func NewClient(cfg Config, httpClient *http.Client, log infralogger.Logger) *Client {
	if cfg.Strategy == "" {
		cfg.Strategy = DefaultStrategy
	}
	return &Client{httpClient: httpClient, cfg: cfg, logger: log}
}

// ForceHTTPS rewrites an http:// target to https:// and prefixes bare hosts.
func ForceHTTPS(target string) string {
	target = strings.TrimSpace(target)
	lower := strings.ToLower(target)
	switch {
	case strings.HasPrefix(lower, "https://"):
		return target
	case strings.HasPrefix(lower, "http://"):
		return "https://" + target[len("http://"):]
	default:
		return "https://" + strings.TrimPrefix(target, "//")
	}
}

// Score runs one assessment of target. It returns (nil, nil) when the
// scorer answers with an empty body. Non-2xx responses are returned as
// *infraerrors.HTTPError.
func (c *Client) Score(ctx context.Context, target string) (*Result, error) {
	requested := ForceHTTPS(target)

	q := url.Values{}
	q.Set("url", requested)
	if c.cfg.APIKey != "" {
		q.Set("key", c.cfg.APIKey)
	}
	q.Set("strategy", c.cfg.Strategy)
	for _, category := range Categories {
		q.Add("category", category)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"?"+q.Encode(), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build scoring request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("scoring request: %w", err)
	}
	defer resp.Body.Close()

	if httpErr := infraerrors.ParseHTTPError(resp); httpErr != nil {
		return nil, fmt.Errorf("scoring %s: %w", requested, httpErr)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxReportBytes))
	if err != nil {
		return nil, fmt.Errorf("read scoring response: %w", err)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		c.logger.Warn("Scoring returned an empty body", infralogger.String("url", requested))
		return nil, nil //nolint:nilnil // empty body is reported as no result
	}

	result, err := parseReport(body, requested)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("Scoring completed",
		infralogger.String("url", requested),
		infralogger.String("final_url", result.FinalURL),
		infralogger.Duration("duration", time.Since(start)),
	)
	return result, nil
}

func parseReport(body []byte, requested string) (*Result, error) {
	raw, err := DecodeNode(body)
	if err != nil {
		return nil, fmt.Errorf("decode scoring response: %w", err)
	}
	report := Sanitize(raw)

	result := &Result{
		RequestedURL: requested,
		FinalURL:     requested,
		Report:       report,
		Scores:       map[string]float64{},
	}
	for _, key := range []string{"finalUrl", "finalDisplayedUrl"} {
		if u, ok := String(report, "lighthouseResult", key); ok && u != "" {
			result.FinalURL = u
			break
		}
	}

	result.FetchTime = time.Now().UTC()
	for _, path := range [][]string{{"lighthouseResult", "fetchTime"}, {"analysisUTCTimestamp"}} {
		if ts, ok := String(report, path...); ok {
			if t, parseErr := time.Parse(time.RFC3339Nano, ts); parseErr == nil {
				result.FetchTime = t
				break
			}
		}
	}

	if categories, ok := Lookup(report, "lighthouseResult", "categories"); ok {
		if m, isMap := categories.(Mapping); isMap {
			for id := range m {
				if score, rated := Float(m, id, "score"); rated {
					result.Scores[id] = score
				}
			}
		}
	}
	return result, nil
}
