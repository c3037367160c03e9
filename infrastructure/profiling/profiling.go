// Package profiling starts the optional pprof listener and Pyroscope
// continuous profiler for a process.
package profiling

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/pprof"
	"os"
	"runtime"
	"time"

	"github.com/grafana/pyroscope-go"

	infralogger "github.com/jonesrussell/site-auditor/infrastructure/logger"
)

const (
	DefaultPprofAddr   = "localhost:6060"
	DefaultServerURL   = "http://pyroscope:4040"
	DefaultEnvironment = "development"

	pprofHeaderTimeout   = 5 * time.Second
	pprofShutdownTimeout = 5 * time.Second
)

// Config selects which profilers run. Both are off by default.
type Config struct {
	PprofEnabled bool   `env:"ENABLE_PROFILING"            yaml:"pprof_enabled"`
	PprofAddr    string `env:"PPROF_ADDR"                  yaml:"pprof_addr"`
	Continuous   bool   `env:"ENABLE_CONTINUOUS_PROFILING" yaml:"continuous"`
	ServerURL    string `env:"PYROSCOPE_SERVER_URL"        yaml:"server_url"`
	Environment  string `env:"PYROSCOPE_ENVIRONMENT"       yaml:"environment"`
}

// SetDefaults fills zero values.
func (c *Config) SetDefaults() {
	if c.PprofAddr == "" {
		c.PprofAddr = DefaultPprofAddr
	}
	if c.ServerURL == "" {
		c.ServerURL = DefaultServerURL
	}
	if c.Environment == "" {
		c.Environment = DefaultEnvironment
	}
}

// Profiler owns whichever profilers Start enabled. The zero value and a
// nil *Profiler are both safe to Stop.
type Profiler struct {
	pprof     *http.Server
	pyroscope *pyroscope.Profiler
	logger    infralogger.Logger
}

// Start launches the enabled profilers for service.
func Start(cfg Config, service, version string, log infralogger.Logger) (*Profiler, error) {
	cfg.SetDefaults()
	p := &Profiler{logger: log}

	if cfg.Continuous {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: service,
			ServerAddress:   cfg.ServerURL,
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
				pyroscope.ProfileGoroutines,
			},
			Tags: map[string]string{
				"environment": cfg.Environment,
				"version":     version,
				"hostname":    hostname(),
				"go_version":  runtime.Version(),
			},
		})
		if err != nil {
			return nil, fmt.Errorf("start pyroscope profiler: %w", err)
		}
		p.pyroscope = profiler
		log.Info("Continuous profiling started",
			infralogger.String("application", service),
			infralogger.String("server", cfg.ServerURL),
		)
	}

	if cfg.PprofEnabled {
		p.pprof = &http.Server{
			Addr:              cfg.PprofAddr,
			Handler:           pprofMux(),
			ReadHeaderTimeout: pprofHeaderTimeout,
		}
		go func() {
			log.Info("Starting pprof server", infralogger.String("address", cfg.PprofAddr))
			if err := p.pprof.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("pprof server failed", infralogger.Error(err))
			}
		}()
	}
	return p, nil
}

// Stop shuts the enabled profilers down.
func (p *Profiler) Stop() error {
	if p == nil {
		return nil
	}
	var errs []error
	if p.pprof != nil {
		ctx, cancel := context.WithTimeout(context.Background(), pprofShutdownTimeout)
		defer cancel()
		errs = append(errs, p.pprof.Shutdown(ctx))
	}
	if p.pyroscope != nil {
		errs = append(errs, p.pyroscope.Stop())
	}
	return errors.Join(errs...)
}

func pprofMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	return mux
}

func hostname() string {
	name, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return name
}
