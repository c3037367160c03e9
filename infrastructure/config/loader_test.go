package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/site-auditor/infrastructure/config"
)

type sampleConfig struct {
	Name    string        `env:"SAMPLE_NAME"    yaml:"name"`
	Port    int           `env:"SAMPLE_PORT"    yaml:"port"`
	Timeout time.Duration `env:"SAMPLE_TIMEOUT" yaml:"timeout"`
	Enabled bool          `env:"SAMPLE_ENABLED" yaml:"enabled"`
	Nested  struct {
		Tags []string `env:"SAMPLE_TAGS" yaml:"tags"`
	} `yaml:"nested"`
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_YAMLOnly(t *testing.T) {
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	path := writeConfig(t, "name: auditor\nport: 9000\ntimeout: 5s\nnested:\n  tags: [a, b]\n")

	cfg, err := config.Load[sampleConfig](path)
	require.NoError(t, err)

	assert.Equal(t, "auditor", cfg.Name)
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, 5*time.Second, cfg.Timeout)
	assert.Equal(t, []string{"a", "b"}, cfg.Nested.Tags)
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	t.Setenv("SAMPLE_PORT", "9100")
	t.Setenv("SAMPLE_TIMEOUT", "90s")
	t.Setenv("SAMPLE_ENABLED", "yes")
	t.Setenv("SAMPLE_TAGS", "x, y ,z")
	path := writeConfig(t, "name: auditor\nport: 9000\n")

	cfg, err := config.Load[sampleConfig](path)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Port)
	assert.Equal(t, 90*time.Second, cfg.Timeout)
	assert.True(t, cfg.Enabled)
	assert.Equal(t, []string{"x", "y", "z"}, cfg.Nested.Tags)
}

func TestLoad_MissingFileUsesEnvironment(t *testing.T) {
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	t.Setenv("SAMPLE_NAME", "from-env")

	cfg, err := config.Load[sampleConfig](filepath.Join(t.TempDir(), "nope.yml"))
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Name)
}

func TestLoadWithDefaults_EnvStillWins(t *testing.T) {
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	t.Setenv("SAMPLE_NAME", "env-name")
	path := writeConfig(t, "port: 0\n")

	cfg, err := config.LoadWithDefaults(path, func(c *sampleConfig) {
		c.Name = "default-name"
		if c.Port == 0 {
			c.Port = 8080
		}
	})
	require.NoError(t, err)

	assert.Equal(t, "env-name", cfg.Name)
	assert.Equal(t, 8080, cfg.Port)
}

func TestLoad_InvalidYAML(t *testing.T) {
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	path := writeConfig(t, "name: [unterminated\n")

	_, err := config.Load[sampleConfig](path)
	require.Error(t, err)
}

func TestValidationHelpers(t *testing.T) {
	t.Parallel()

	require.Error(t, config.ValidateRequired("queue.name", ""))
	require.NoError(t, config.ValidateRequired("queue.name", "audit-tasks"))
	require.Error(t, config.ValidatePort("server.port", 70000))
	require.Error(t, config.ValidatePositive("repository.max_diff_bytes", 0))
	require.Error(t, config.ValidateLogLevel("verbose"))

	first := config.FirstError(nil, config.ValidateRequired("a", ""), config.ValidateRequired("b", ""))
	var vErr *config.ValidationError
	require.ErrorAs(t, first, &vErr)
	assert.Equal(t, "a", vErr.Field)
}
