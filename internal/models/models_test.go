package models_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/site-auditor/internal/models"
)

func ptr[T any](v T) *T { return &v }

func TestSite_AuditTarget(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		site models.Site
		want string
	}{
		{name: "not live", site: models.Site{Domain: "example.com", ProductionURL: ptr("https://www.example.com")}, want: "example.com"},
		{name: "live with url", site: models.Site{Domain: "example.com", IsLive: true, ProductionURL: ptr("https://www.example.com")}, want: "https://www.example.com"},
		{name: "live without url", site: models.Site{Domain: "example.com", IsLive: true}, want: "example.com"},
		{name: "live with blank url", site: models.Site{Domain: "example.com", IsLive: true, ProductionURL: ptr("  ")}, want: "example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.site.AuditTarget())
		})
	}
}

func TestParseAuditTask(t *testing.T) {
	t.Parallel()

	task, err := models.ParseAuditTask([]byte(`{"site_id":" 5d1c ","trigger":"api"}`))
	require.NoError(t, err)
	assert.Equal(t, "5d1c", task.SiteID)
	assert.Equal(t, "5d1c", task.Ref())

	task, err = models.ParseAuditTask([]byte(`{"domain":"example.com"}`))
	require.NoError(t, err)
	assert.Equal(t, "example.com", task.Ref())

	_, err = models.ParseAuditTask([]byte(`{"trigger":"api"}`))
	require.ErrorIs(t, err, models.ErrMissingSiteID)

	_, err = models.ParseAuditTask([]byte(`not json`))
	require.Error(t, err)
	assert.NotErrorIs(t, err, models.ErrMissingSiteID)
}

func TestJSONMap_ScanValue(t *testing.T) {
	t.Parallel()

	m := models.JSONMap{"performance": 0.9}
	v, err := m.Value()
	require.NoError(t, err)

	var out models.JSONMap
	require.NoError(t, out.Scan(v))
	assert.InDelta(t, 0.9, out["performance"], 1e-9)

	require.NoError(t, out.Scan(nil))
	assert.Nil(t, out)
	assert.Error(t, out.Scan(42))
}

func TestNewErrorAudit(t *testing.T) {
	t.Parallel()

	a := models.NewErrorAudit("site-1", true, "quota", 429, models.Audit{}.AuditedAt)
	assert.True(t, a.IsError)
	assert.Nil(t, a.Scores)
	require.NotNil(t, a.StatusCode)
	assert.Equal(t, 429, *a.StatusCode)

	b := models.NewErrorAudit("site-1", false, "not found", 0, a.AuditedAt)
	assert.Nil(t, b.StatusCode)
}

func TestNormalizeDomain(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"Example.COM":                   "example.com",
		"  example.com  ":               "example.com",
		"https://www.example.com/about": "www.example.com",
		"http://example.com?x=1":        "example.com",
		"example.com.":                  "example.com",
	}
	for in, want := range tests {
		assert.Equal(t, want, models.NormalizeDomain(in), in)
	}
}
