package repodiff_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/site-auditor/infrastructure/circuitbreaker"
	infralogger "github.com/jonesrussell/site-auditor/infrastructure/logger"
	"github.com/jonesrussell/site-auditor/internal/repodiff"
)

type fakeProvider struct {
	order    []string
	diffs    map[string]string
	failList bool
	calls    atomic.Int32
	query    atomic.Value
}

func (p *fakeProvider) handler(t *testing.T) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.calls.Add(1)
		user, token, ok := r.BasicAuth()
		if !ok || user != "bot" || token != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.URL.Path == "/repos/acme/site/commits" {
			p.query.Store(r.URL.RawQuery)
			if p.failList {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			list := make([]map[string]string, 0, len(p.order))
			for _, sha := range p.order {
				list = append(list, map[string]string{"sha": sha})
			}
			_ = json.NewEncoder(w).Encode(list)
			return
		}
		sha := strings.TrimPrefix(r.URL.Path, "/repos/acme/site/commits/")
		if r.Header.Get("Accept") != "application/vnd.github.diff" {
			w.WriteHeader(http.StatusNotAcceptable)
			return
		}
		diff, found := p.diffs[sha]
		if !found {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(diff))
	})
}

func newClient(t *testing.T, p *fakeProvider, maxBytes int) *repodiff.Client {
	t.Helper()
	srv := httptest.NewServer(p.handler(t))
	t.Cleanup(srv.Close)
	return repodiff.NewClient(repodiff.Config{
		BaseURL:      srv.URL,
		Username:     "bot",
		Token:        "secret",
		MaxDiffBytes: maxBytes,
	}, srv.Client(), nil, infralogger.NewNop())
}

func textDiff(name string, size int) string {
	header := "diff --git a/" + name + " b/" + name + "\n"
	return header + strings.Repeat("+", max(size-len(header)-1, 0)) + "\n"
}

func TestParseRepo(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    repodiff.Repo
		wantErr bool
	}{
		{in: "https://github.com/acme/site", want: repodiff.Repo{Owner: "acme", Name: "site"}},
		{in: "https://github.com/acme/site.git", want: repodiff.Repo{Owner: "acme", Name: "site"}},
		{in: "git@github.com:acme/site.git", want: repodiff.Repo{Owner: "acme", Name: "site"}},
		{in: "acme/site", want: repodiff.Repo{Owner: "acme", Name: "site"}},
		{in: "https://github.com/acme", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, err := repodiff.ParseRepo(tt.in)
			if tt.wantErr {
				require.ErrorIs(t, err, repodiff.ErrUnsupportedRepository)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIsBinaryDiff(t *testing.T) {
	t.Parallel()

	assert.True(t, repodiff.IsBinaryDiff("diff --git a/x.png b/x.png\nBinary files a/x.png and b/x.png differ\n"))
	assert.True(t, repodiff.IsBinaryDiff("diff --git a/x b/x\nGIT binary patch\nliteral 12\n"))
	assert.False(t, repodiff.IsBinaryDiff("diff --git a/x b/x\n+Binary files are mentioned here\n"))
}

func TestDiff_ConcatenatesInListingOrder(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{
		order: []string{"c3", "c2", "c1"},
		diffs: map[string]string{"c3": "three\n", "c2": "two\n", "c1": "one\n"},
	}
	c := newClient(t, p, 0)

	until := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	got, err := c.Diff(context.Background(), "https://github.com/acme/site", time.Time{}, until)
	require.NoError(t, err)
	assert.Equal(t, "three\ntwo\none\n", got)

	query, _ := p.query.Load().(string)
	assert.Contains(t, query, "since=2026-03-01T12%3A00%3A00Z")
	assert.Contains(t, query, "until=2026-03-02T12%3A00%3A00Z")
	assert.Contains(t, query, "per_page=100")
}

func TestDiff_StopsAtSizeCap(t *testing.T) {
	t.Parallel()

	// 40 + 50 fits in 100; the next 20 would exceed it and the trailing
	// 5 is never considered.
	p := &fakeProvider{
		order: []string{"a", "b", "c", "d"},
		diffs: map[string]string{
			"a": textDiff("a", 40),
			"b": textDiff("b", 50),
			"c": textDiff("c", 20),
			"d": textDiff("d", 5),
		},
	}
	c := newClient(t, p, 100)

	got, err := c.Diff(context.Background(), "acme/site", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, p.diffs["a"]+p.diffs["b"], got)
	assert.LessOrEqual(t, len(got), 100)
}

func TestDiff_StopsAtBinaryCommit(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{
		order: []string{"a", "bin", "b"},
		diffs: map[string]string{
			"a":   textDiff("a", 30),
			"bin": "diff --git a/logo.png b/logo.png\nBinary files a/logo.png and b/logo.png differ\n",
			"b":   textDiff("b", 30),
		},
	}
	c := newClient(t, p, 0)

	got, err := c.Diff(context.Background(), "acme/site", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, p.diffs["a"], got)
}

func TestDiff_MissingRepositoryURL(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{}
	c := newClient(t, p, 0)

	got, err := c.Diff(context.Background(), "  ", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Zero(t, p.calls.Load())
}

func TestDiff_MissingCredentialsFailsFast(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{}
	srv := httptest.NewServer(p.handler(t))
	t.Cleanup(srv.Close)

	c := repodiff.NewClient(repodiff.Config{BaseURL: srv.URL, Username: "bot"}, srv.Client(), nil, infralogger.NewNop())
	got, err := c.Diff(context.Background(), "acme/site", time.Time{}, time.Time{})
	require.ErrorIs(t, err, repodiff.ErrMissingCredentials)
	assert.Empty(t, got)
	assert.Zero(t, p.calls.Load())
}

func TestDiff_ProviderFailureYieldsEmpty(t *testing.T) {
	t.Parallel()

	t.Run("list fails", func(t *testing.T) {
		t.Parallel()
		c := newClient(t, &fakeProvider{failList: true}, 0)
		got, err := c.Diff(context.Background(), "acme/site", time.Time{}, time.Time{})
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("commit fetch fails after partial accumulation", func(t *testing.T) {
		t.Parallel()
		p := &fakeProvider{
			order: []string{"a", "missing"},
			diffs: map[string]string{"a": "one\n"},
		}
		c := newClient(t, p, 0)
		got, err := c.Diff(context.Background(), "acme/site", time.Time{}, time.Time{})
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("unreachable", func(t *testing.T) {
		t.Parallel()
		c := repodiff.NewClient(repodiff.Config{
			BaseURL: "http://127.0.0.1:1", Username: "bot", Token: "secret",
		}, &http.Client{Timeout: time.Second}, nil, infralogger.NewNop())
		got, err := c.Diff(context.Background(), "acme/site", time.Time{}, time.Time{})
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

func TestDiff_OpenCircuitSkipsProvider(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{failList: true}
	srv := httptest.NewServer(p.handler(t))
	t.Cleanup(srv.Close)

	breaker := circuitbreaker.New(circuitbreaker.Config{Name: "repository", FailureThreshold: 1, OpenTimeout: time.Hour})
	c := repodiff.NewClient(repodiff.Config{
		BaseURL: srv.URL, Username: "bot", Token: "secret",
	}, srv.Client(), breaker, infralogger.NewNop())

	_, err := c.Diff(context.Background(), "acme/site", time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Equal(t, circuitbreaker.StateOpen, breaker.State())

	calls := p.calls.Load()
	got, err := c.Diff(context.Background(), "acme/site", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, calls, p.calls.Load())
}
