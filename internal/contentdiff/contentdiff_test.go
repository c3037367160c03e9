package contentdiff_test

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	infralogger "github.com/jonesrussell/site-auditor/infrastructure/logger"
	"github.com/jonesrussell/site-auditor/internal/contentdiff"
)

func TestArtifactURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{in: "https://example.com/", want: "https://example.com/index.md"},
		{in: "https://example.com", want: "https://example.com/index.md"},
		{in: "https://example.com/blog/", want: "https://example.com/blog/index.md"},
		{in: "https://example.com/about.html", want: "https://example.com/about.md"},
		{in: "https://example.com/about", want: "https://example.com/about.md"},
		{in: "https://example.com/a/b.php?x=1#top", want: "https://example.com/a/b.md"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, err := contentdiff.ArtifactURL(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := contentdiff.ArtifactURL("not a url")
	assert.Error(t, err)
}

func TestMakePatch_RoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		prev string
		next string
	}{
		{name: "line edit", prev: "# Title\n\nHello world\nBye\n", next: "# Title\n\nHello there\nBye\n"},
		{name: "append", prev: "a\nb\n", next: "a\nb\nc\nd\n"},
		{name: "delete all", prev: "a\nb\nc\n", next: ""},
		{name: "from empty", prev: "", next: "fresh\ncontent\n"},
		{name: "no trailing newline", prev: "one\ntwo", next: "one\nthree"},
		{
			name: "shrink to a line",
			prev: "xbeta xx\n\n\nalpha \nbeta beta \nxbeta \nalpha beta xx\nbeta beta beta \nalpha beta alpha x\nx\n\nalpha ",
			next: "\nbeta ",
		},
		{
			name: "grow from a line",
			prev: "beta x\n",
			next: "alpha beta \nalpha x\nxxxx\nalpha \nalpha alpha \nxx\nbeta beta \nx\nbeta xx",
		},
		{name: "multibyte", prev: "café\n日本語\n", next: "café 🚀\n日本\n+1 100%\tdone\n"},
		{name: "large", prev: strings.Repeat("line of text\n", 500), next: strings.Repeat("line of text\n", 250) + "changed\n" + strings.Repeat("line of text\n", 250)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			patch := contentdiff.MakePatch(tt.prev, tt.next)
			require.NotEmpty(t, patch)

			got, err := contentdiff.ApplyPatch(tt.prev, patch)
			require.NoError(t, err)
			assert.Equal(t, tt.next, got)
		})
	}
}

var diffVocabulary = []string{
	"", "alpha", "beta ", "x", "xx", "# Heading", "- item", "  indented",
	"café", "naïve résumé", "日本語のテキスト", "emoji 🚀🎉", "tab\there", "100% + more", "a=b&c=d",
}

func randomLine(r *rand.Rand) string {
	if r.IntN(4) == 0 {
		return fmt.Sprintf("unique line %d ü", r.IntN(1_000_000))
	}
	return diffVocabulary[r.IntN(len(diffVocabulary))]
}

func randomDocument(r *rand.Rand, lines int) []string {
	doc := make([]string, lines)
	for i := range doc {
		doc[i] = randomLine(r)
	}
	return doc
}

// mutate edits, inserts and deletes random lines of doc.
func mutate(r *rand.Rand, doc []string) []string {
	out := make([]string, 0, len(doc)+4)
	for _, line := range doc {
		switch r.IntN(10) {
		case 0:
		case 1:
			out = append(out, randomLine(r))
		case 2:
			out = append(out, line, randomLine(r))
		default:
			out = append(out, line)
		}
	}
	return out
}

func join(r *rand.Rand, lines []string) string {
	text := strings.Join(lines, "\n")
	if r.IntN(2) == 0 {
		text += "\n"
	}
	return text
}

func TestMakePatch_RandomPairsRoundTrip(t *testing.T) {
	t.Parallel()

	r := rand.New(rand.NewPCG(42, 7))
	for i := range 2000 {
		prevLines := randomDocument(r, r.IntN(30))
		nextLines := mutate(r, prevLines)
		if r.IntN(5) == 0 {
			nextLines = randomDocument(r, r.IntN(30))
		}
		prev, next := join(r, prevLines), join(r, nextLines)

		var patch string
		require.NotPanics(t, func() { patch = contentdiff.MakePatch(prev, next) }, "pair %d", i)

		got, err := contentdiff.ApplyPatch(prev, patch)
		require.NoError(t, err, "pair %d: prev=%q next=%q", i, prev, next)
		require.Equal(t, next, got, "pair %d: prev=%q", i, prev)
	}
}

func TestMakePatch_ManyUniqueLines(t *testing.T) {
	t.Parallel()

	r := rand.New(rand.NewPCG(3, 11))
	prevLines := make([]string, 5000)
	for i := range prevLines {
		prevLines[i] = fmt.Sprintf("line %d: %s", i, diffVocabulary[i%len(diffVocabulary)])
	}
	prev := strings.Join(prevLines, "\n") + "\n"
	next := join(r, mutate(r, prevLines))

	got, err := contentdiff.ApplyPatch(prev, contentdiff.MakePatch(prev, next))
	require.NoError(t, err)
	assert.Equal(t, next, got)
}

func TestApplyPatch_Invalid(t *testing.T) {
	t.Parallel()

	_, err := contentdiff.ApplyPatch("x", "@@ this is not a patch")
	require.ErrorIs(t, err, contentdiff.ErrPatchMismatch)
}

func TestApplyPatch_WrongBaseline(t *testing.T) {
	t.Parallel()

	patch := contentdiff.MakePatch("short\n", "short\nlonger\n")

	_, err := contentdiff.ApplyPatch("a much longer baseline than before\n", patch)
	require.ErrorIs(t, err, contentdiff.ErrPatchMismatch)
}

func TestClient_Diff_InvalidUTF8IsReplaced(t *testing.T) {
	t.Parallel()

	client, base, _ := serveArtifact(t, http.StatusOK, "ok \xff\xfe end\n")

	result := client.Diff(context.Background(), ptr("ok\n"), base+"/")
	require.NotNil(t, result)
	assert.Equal(t, "ok \uFFFD end\n", result.Content)
	require.NotNil(t, result.Diff)

	rebuilt, err := contentdiff.ApplyPatch("ok\n", *result.Diff)
	require.NoError(t, err)
	assert.Equal(t, result.Content, rebuilt)
}

func serveArtifact(t *testing.T, status int, body string) (*contentdiff.Client, string, *atomic.Value) {
	t.Helper()

	requested := &atomic.Value{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requested.Store(r.URL.Path)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return contentdiff.NewClient(srv.Client(), infralogger.NewNop()), srv.URL, requested
}

func ptr(s string) *string { return &s }

func TestClient_Diff_NoPreviousContent(t *testing.T) {
	t.Parallel()

	client, base, requested := serveArtifact(t, http.StatusOK, "# Hello\n")

	result := client.Diff(context.Background(), nil, base+"/")
	require.NotNil(t, result)
	assert.Equal(t, "/index.md", requested.Load())
	assert.Equal(t, base+"/index.md", result.ArtifactURL)
	assert.Equal(t, "# Hello\n", result.Content)
	assert.Nil(t, result.Diff)
}

func TestClient_Diff_IdenticalContentHasNoDiff(t *testing.T) {
	t.Parallel()

	client, base, _ := serveArtifact(t, http.StatusOK, "# Hello\n")

	result := client.Diff(context.Background(), ptr("# Hello\n"), base+"/about.html")
	require.NotNil(t, result)
	assert.Nil(t, result.Diff)
}

func TestClient_Diff_ChangedContentReconstructs(t *testing.T) {
	t.Parallel()

	previous := "# Hello\n\nOld paragraph.\n"
	current := "# Hello\n\nNew paragraph.\nAnother line.\n"
	client, base, requested := serveArtifact(t, http.StatusOK, current)

	result := client.Diff(context.Background(), ptr(previous), base+"/about")
	require.NotNil(t, result)
	assert.Equal(t, "/about.md", requested.Load())
	require.NotNil(t, result.Diff)

	rebuilt, err := contentdiff.ApplyPatch(previous, *result.Diff)
	require.NoError(t, err)
	assert.Equal(t, current, rebuilt)
}

func TestClient_Diff_Degrades(t *testing.T) {
	t.Parallel()

	notFound, base, _ := serveArtifact(t, http.StatusNotFound, "nope")
	assert.Nil(t, notFound.Diff(context.Background(), ptr("old"), base+"/"))

	broken, base2, _ := serveArtifact(t, http.StatusBadGateway, "upstream down")
	assert.Nil(t, broken.Diff(context.Background(), ptr("old"), base2+"/"))

	assert.Nil(t, notFound.Diff(context.Background(), ptr("old"), ""))

	unreachable := contentdiff.NewClient(http.DefaultClient, infralogger.NewNop())
	assert.Nil(t, unreachable.Diff(context.Background(), nil, "http://127.0.0.1:1/"))
}
