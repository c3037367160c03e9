package gin

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/jonesrussell/site-auditor/infrastructure/logger"
)

// Server owns a gin engine and its http.Server.
type Server struct {
	router *gin.Engine
	server *http.Server
	logger logger.Logger
	config *Config
}

// NewServer builds the engine with recovery, request ID, access logging
// and CORS applied before setupRoutes runs.
func NewServer(cfg *Config, log logger.Logger, setupRoutes func(*gin.Engine)) *Server {
	cfg.SetDefaults()

	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(RecoveryMiddleware(log))
	router.Use(RequestIDLoggerMiddleware(log))
	router.Use(LoggerMiddleware(log))
	router.Use(CORSMiddleware(cfg.CORS))

	if setupRoutes != nil {
		setupRoutes(router)
	}

	return &Server{
		router: router,
		server: &http.Server{
			Addr:              net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
			Handler:           router,
			ReadTimeout:       cfg.ReadTimeout,
			ReadHeaderTimeout: cfg.ReadTimeout,
			WriteTimeout:      cfg.WriteTimeout,
			IdleTimeout:       cfg.IdleTimeout,
		},
		logger: log,
		config: cfg,
	}
}

// Router exposes the engine, mainly for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Addr is the configured listen address.
func (s *Server) Addr() string {
	return s.server.Addr
}

// Run serves until ctx is cancelled, then shuts down within the configured
// timeout. A listen failure is returned immediately.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting HTTP server",
			logger.String("address", s.server.Addr),
			logger.String("service", s.config.ServiceName),
			logger.String("version", s.config.ServiceVersion),
		)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down HTTP server", logger.Duration("timeout", s.config.ShutdownTimeout))

	//nolint:contextcheck // ctx is already cancelled; shutdown needs its own deadline
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	return nil
}
