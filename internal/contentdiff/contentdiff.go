// Package contentdiff fetches a site's published markdown artifact and
// diffs it against the previously stored version.
package contentdiff

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	infraerrors "github.com/jonesrussell/site-auditor/infrastructure/errors"
	infralogger "github.com/jonesrussell/site-auditor/infrastructure/logger"
)

const (
	indexArtifact    = "index.md"
	artifactExt      = ".md"
	maxArtifactBytes = 8 << 20
)

// ErrPatchMismatch is returned when a delta does not fit the content it is
// applied to.
var ErrPatchMismatch = errors.New("patch does not match previous content")

// Result is the fetched artifact and its diff against the previous one.
// Diff is nil when there was no previous content or nothing changed.
type Result struct {
	ArtifactURL string
	Content     string
	Diff        *string
}

type Client struct {
	httpClient *http.Client
	logger     infralogger.Logger
}

func NewClient(httpClient *http.Client, log infralogger.Logger) *Client {
	return &Client{httpClient: httpClient, logger: log}
}

// ArtifactURL derives the markdown artifact URL for a canonical page URL.
// A trailing slash gets index.md, an extension is replaced by .md, and
// anything else gets .md appended. Query and fragment are dropped.
func ArtifactURL(canonical string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(canonical))
	if err != nil {
		return "", fmt.Errorf("parse canonical url: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("canonical url %q has no host", canonical)
	}
	u.RawQuery = ""
	u.Fragment = ""
	u.RawFragment = ""

	p := u.Path
	switch {
	case p == "" || strings.HasSuffix(p, "/"):
		p += indexArtifact
		if !strings.HasPrefix(p, "/") {
			p = "/" + p
		}
	case path.Ext(p) != "":
		p = strings.TrimSuffix(p, path.Ext(p)) + artifactExt
	default:
		p += artifactExt
	}
	u.Path = p
	u.RawPath = ""
	return u.String(), nil
}

// Diff fetches the artifact for canonicalURL and diffs it against
// previous. It returns nil (never an error) when the URL is missing, the
// artifact does not exist, or the fetch fails.
func (c *Client) Diff(ctx context.Context, previous *string, canonicalURL string) *Result {
	if strings.TrimSpace(canonicalURL) == "" {
		return nil
	}
	artifact, err := ArtifactURL(canonicalURL)
	if err != nil {
		c.logger.Warn("Cannot derive content artifact URL",
			infralogger.String("url", canonicalURL),
			infralogger.Error(err),
		)
		return nil
	}

	content, err := c.fetch(ctx, artifact)
	if err != nil {
		if infraerrors.IsStatus(err, http.StatusNotFound) {
			c.logger.Debug("No content artifact", infralogger.String("artifact_url", artifact))
		} else {
			c.logger.Warn("Content artifact fetch failed",
				infralogger.String("artifact_url", artifact),
				infralogger.Error(err),
			)
		}
		return nil
	}

	result := &Result{ArtifactURL: artifact, Content: content}
	if previous != nil && *previous != content {
		patch := MakePatch(*previous, content)
		result.Diff = &patch
	}
	return result
}

func (c *Client) fetch(ctx context.Context, artifact string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, artifact, http.NoBody)
	if err != nil {
		return "", fmt.Errorf("build artifact request: %w", err)
	}
	req.Header.Set("Accept", "text/markdown, text/plain;q=0.9, */*;q=0.1")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch artifact: %w", err)
	}
	defer resp.Body.Close()

	if httpErr := infraerrors.ParseHTTPError(resp); httpErr != nil {
		return "", httpErr
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxArtifactBytes))
	if err != nil {
		return "", fmt.Errorf("read artifact: %w", err)
	}
	return strings.ToValidUTF8(string(body), "\uFFFD"), nil
}

// MakePatch returns a diff-match-patch delta turning prev into next. The
// delta is checked against both texts before it is returned; if the diff
// cannot be computed or does not reproduce them, a delta that replaces
// prev wholesale is returned instead.
func MakePatch(prev, next string) string {
	dmp := diffmatchpatch.New()
	if diffs, ok := exactDiff(dmp, prev, next); ok {
		return dmp.DiffToDelta(diffs)
	}
	return dmp.DiffToDelta(replaceDiff(prev, next))
}

func exactDiff(dmp *diffmatchpatch.DiffMatchPatch, prev, next string) (diffs []diffmatchpatch.Diff, ok bool) {
	defer func() {
		if recover() != nil {
			diffs, ok = nil, false
		}
	}()
	diffs = dmp.DiffMain(prev, next, false)
	return diffs, dmp.DiffText1(diffs) == prev && dmp.DiffText2(diffs) == next
}

func replaceDiff(prev, next string) []diffmatchpatch.Diff {
	diffs := make([]diffmatchpatch.Diff, 0, 2)
	if prev != "" {
		diffs = append(diffs, diffmatchpatch.Diff{Type: diffmatchpatch.DiffDelete, Text: prev})
	}
	if next != "" {
		diffs = append(diffs, diffmatchpatch.Diff{Type: diffmatchpatch.DiffInsert, Text: next})
	}
	return diffs
}

// ApplyPatch reconstructs the newer content from prev and a MakePatch delta.
// The delta must span prev exactly.
func ApplyPatch(prev, patch string) (string, error) {
	dmp := diffmatchpatch.New()
	diffs, err := dmp.DiffFromDelta(prev, patch)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrPatchMismatch, err)
	}
	return dmp.DiffText2(diffs), nil
}
