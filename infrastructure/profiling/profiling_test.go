package profiling_test

import (
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	infralogger "github.com/jonesrussell/site-auditor/infrastructure/logger"
	"github.com/jonesrussell/site-auditor/infrastructure/profiling"
)

func TestStart_DisabledIsNoop(t *testing.T) {
	p, err := profiling.Start(profiling.Config{}, "worker", "dev", infralogger.NewNop())
	require.NoError(t, err)
	assert.NoError(t, p.Stop())
}

func TestStop_NilProfiler(t *testing.T) {
	var p *profiling.Profiler
	assert.NoError(t, p.Stop())
}

func TestStart_ServesPprof(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	p, err := profiling.Start(profiling.Config{PprofEnabled: true, PprofAddr: addr}, "api", "dev", infralogger.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Stop() })

	require.Eventually(t, func() bool {
		resp, getErr := http.Get("http://" + addr + "/debug/pprof/cmdline")
		if getErr != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)
}

func TestConfig_SetDefaults(t *testing.T) {
	var cfg profiling.Config
	cfg.SetDefaults()
	assert.Equal(t, profiling.DefaultPprofAddr, cfg.PprofAddr)
	assert.Equal(t, profiling.DefaultServerURL, cfg.ServerURL)
	assert.Equal(t, profiling.DefaultEnvironment, cfg.Environment)
}
