// Package repodiff compiles a size-bounded diff of a repository's commits
// within a time window from a GitHub-compatible API.
package repodiff

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jonesrussell/site-auditor/infrastructure/circuitbreaker"
	infraerrors "github.com/jonesrussell/site-auditor/infrastructure/errors"
	infralogger "github.com/jonesrussell/site-auditor/infrastructure/logger"
)

const (
	DefaultMaxDiffBytes = 100 * 1024
	DefaultLookback     = 24 * time.Hour
	commitsPerPage      = 100
	maxCommitPages      = 10
	maxListBytes        = 4 << 20
	diffMediaType       = "application/vnd.github.diff"
)

var (
	// ErrMissingCredentials is returned before any request when the
	// provider username or token is not configured.
	ErrMissingCredentials = errors.New("repository credentials are not configured")
	// ErrUnsupportedRepository is returned for URLs without owner and name.
	ErrUnsupportedRepository = errors.New("unsupported repository url")
)

var binaryMarker = regexp.MustCompile(`(?m)^(Binary files .* differ|GIT binary patch)$`)

// Config configures a Client.
type Config struct {
	BaseURL      string
	Username     string
	Token        string
	MaxDiffBytes int
	Lookback     time.Duration
}

type Client struct {
	httpClient *http.Client
	cfg        Config
	breaker    *circuitbreaker.Breaker
	logger     infralogger.Logger
}

func NewClient(cfg Config, httpClient *http.Client, breaker *circuitbreaker.Breaker, log infralogger.Logger) *Client {
	if cfg.MaxDiffBytes <= 0 {
		cfg.MaxDiffBytes = DefaultMaxDiffBytes
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = DefaultLookback
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if breaker == nil {
		breaker = circuitbreaker.New(circuitbreaker.DefaultConfig("repository"))
	}
	return &Client{httpClient: httpClient, cfg: cfg, breaker: breaker, logger: log}
}

// Repo identifies a repository on the provider.
type Repo struct {
	Owner string
	Name  string
}

// ParseRepo accepts https URLs, scp-style git URLs and owner/name.
func ParseRepo(raw string) (Repo, error) {
	s := strings.TrimSpace(raw)
	if after, ok := strings.CutPrefix(s, "git@"); ok {
		if _, p, found := strings.Cut(after, ":"); found {
			s = p
		}
	} else if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return Repo{}, fmt.Errorf("%w: %s", ErrUnsupportedRepository, raw)
		}
		s = u.Path
	}
	parts := strings.Split(strings.Trim(strings.TrimSuffix(s, ".git"), "/"), "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return Repo{}, fmt.Errorf("%w: %s", ErrUnsupportedRepository, raw)
	}
	return Repo{Owner: parts[0], Name: strings.TrimSuffix(parts[1], ".git")}, nil
}

// IsBinaryDiff reports whether a commit diff touches a binary file.
func IsBinaryDiff(diff string) bool {
	return binaryMarker.MatchString(diff)
}

// Diff concatenates the diffs of commits in [since, until] in listing
// order. Accumulation stops at the first commit whose diff is binary or
// would push the total past MaxDiffBytes. A missing repoURL, any provider
// failure or an open circuit yields "". A zero until means now and a zero
// since means until minus Lookback.
func (c *Client) Diff(ctx context.Context, repoURL string, since, until time.Time) (string, error) {
	if strings.TrimSpace(repoURL) == "" {
		return "", nil
	}
	if c.cfg.Username == "" || c.cfg.Token == "" {
		return "", ErrMissingCredentials
	}
	repo, err := ParseRepo(repoURL)
	if err != nil {
		c.logger.Warn("Skipping repository diff", infralogger.Error(err))
		return "", nil
	}
	if until.IsZero() {
		until = time.Now().UTC()
	}
	if since.IsZero() {
		since = until.Add(-c.cfg.Lookback)
	}

	log := c.logger.With(
		infralogger.String("repository", repo.Owner+"/"+repo.Name),
		infralogger.Time("since", since),
		infralogger.Time("until", until),
	)

	shas, err := c.listCommits(ctx, repo, since, until)
	if err != nil {
		log.Warn("Listing commits failed", infralogger.Error(err))
		return "", nil
	}

	var acc strings.Builder
	included := 0
	for _, sha := range shas {
		diff, fetchErr := c.commitDiff(ctx, repo, sha)
		if fetchErr != nil {
			log.Warn("Fetching commit diff failed", infralogger.String("sha", sha), infralogger.Error(fetchErr))
			return "", nil
		}
		if IsBinaryDiff(diff) {
			log.Debug("Stopping at binary commit", infralogger.String("sha", sha))
			break
		}
		if acc.Len()+len(diff) > c.cfg.MaxDiffBytes {
			log.Debug("Stopping at size cap", infralogger.String("sha", sha), infralogger.Int("accumulated", acc.Len()))
			break
		}
		acc.WriteString(diff)
		included++
	}

	log.Debug("Repository diff compiled",
		infralogger.Int("commits", len(shas)),
		infralogger.Int("included", included),
		infralogger.Int("bytes", acc.Len()),
	)
	return acc.String(), nil
}

type commitSummary struct {
	SHA string `json:"sha"`
}

func (c *Client) listCommits(ctx context.Context, repo Repo, since, until time.Time) ([]string, error) {
	var shas []string
	for page := 1; page <= maxCommitPages; page++ {
		q := url.Values{}
		q.Set("since", since.UTC().Format(time.RFC3339))
		q.Set("until", until.UTC().Format(time.RFC3339))
		q.Set("per_page", strconv.Itoa(commitsPerPage))
		q.Set("page", strconv.Itoa(page))
		endpoint := fmt.Sprintf("%s/repos/%s/%s/commits?%s",
			c.cfg.BaseURL, url.PathEscape(repo.Owner), url.PathEscape(repo.Name), q.Encode())

		body, err := c.get(ctx, endpoint, "application/vnd.github+json", maxListBytes)
		if err != nil {
			return nil, err
		}
		var commits []commitSummary
		if err = json.Unmarshal(body, &commits); err != nil {
			return nil, fmt.Errorf("decode commit list: %w", err)
		}
		for _, commit := range commits {
			shas = append(shas, commit.SHA)
		}
		if len(commits) < commitsPerPage {
			break
		}
	}
	return shas, nil
}

func (c *Client) commitDiff(ctx context.Context, repo Repo, sha string) (string, error) {
	endpoint := fmt.Sprintf("%s/repos/%s/%s/commits/%s",
		c.cfg.BaseURL, url.PathEscape(repo.Owner), url.PathEscape(repo.Name), url.PathEscape(sha))
	body, err := c.get(ctx, endpoint, diffMediaType, int64(c.cfg.MaxDiffBytes)+1)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// get performs one authenticated GET through the circuit breaker, reading
// at most limit bytes of the body.
func (c *Client) get(ctx context.Context, endpoint, accept string, limit int64) ([]byte, error) {
	var body []byte
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		req.SetBasicAuth(c.cfg.Username, c.cfg.Token)
		req.Header.Set("Accept", accept)
		req.Header.Set("X-GitHub-Api-Version", "2022-11-28")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("request %s: %w", req.URL.Path, err)
		}
		defer resp.Body.Close()

		if httpErr := infraerrors.ParseHTTPError(resp); httpErr != nil {
			return httpErr
		}
		body, err = io.ReadAll(io.LimitReader(resp.Body, limit))
		if err != nil {
			return fmt.Errorf("read %s: %w", req.URL.Path, err)
		}
		return nil
	})
	return body, err
}
