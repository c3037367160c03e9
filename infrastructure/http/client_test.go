package http_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	infrahttp "github.com/jonesrussell/site-auditor/infrastructure/http"
)

func TestNewClient_Defaults(t *testing.T) {
	t.Parallel()

	client := infrahttp.NewClient(infrahttp.ClientConfig{})
	assert.Equal(t, infrahttp.DefaultTimeout, client.Timeout)

	custom := infrahttp.NewClient(infrahttp.ClientConfig{Timeout: 5 * time.Second})
	assert.Equal(t, 5*time.Second, custom.Timeout)
}

func TestNewClient_SetsUserAgent(t *testing.T) {
	t.Parallel()

	var got []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = append(got, r.UserAgent())
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client := infrahttp.NewClient(infrahttp.ClientConfig{UserAgent: "auditor-test"})

	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL, http.NoBody)
	require.NoError(t, err)
	req.Header.Set("User-Agent", "explicit")
	resp, err = client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, []string{"auditor-test", "explicit"}, got)
}
