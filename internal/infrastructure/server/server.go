package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	api "github.com/GriffinCanCode/envsandbox/internal/api/http"
	"github.com/GriffinCanCode/envsandbox/internal/api/middleware"
	"github.com/GriffinCanCode/envsandbox/internal/api/ws"
	"github.com/GriffinCanCode/envsandbox/internal/envstubs"
	"github.com/GriffinCanCode/envsandbox/internal/infrastructure/config"
	"github.com/GriffinCanCode/envsandbox/internal/infrastructure/logging"
	"github.com/GriffinCanCode/envsandbox/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/envsandbox/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/envsandbox/internal/mockrules"
	"github.com/GriffinCanCode/envsandbox/internal/sandbox"
	"github.com/GriffinCanCode/envsandbox/internal/sandbox/snapshot"
)

// ShutdownTimeout bounds how long Close waits for in-flight requests.
const ShutdownTimeout = 10 * time.Second

// Server wraps the HTTP server and dependencies
type Server struct {
	router  *gin.Engine
	http    *http.Server
	pool    *sandbox.Pool
	runner  *api.Runner
	hub     *ws.Hub
	watcher *envstubs.Watcher
	tracer  *tracing.Tracer
	metrics *monitoring.Metrics
	logger  *logging.Logger
	config  *config.Config
	cancel  context.CancelFunc
}

// SandboxConfig converts the SANDBOX_* settings into a manager
// configuration, reading the seed document when one is configured.
func SandboxConfig(cfg config.SandboxConfig) (sandbox.Config, error) {
	sc := sandbox.Config{
		Timeout:       cfg.Timeout(),
		MaxLogs:       cfg.MaxLogs,
		MaxChainDepth: cfg.MaxChainDepth,
		MaxString:     cfg.MaxString,
		MaxCallStack:  cfg.MaxCallStack,
		EchoConsole:   cfg.EchoConsole,
	}
	if cfg.SeedHTML != "" {
		data, err := os.ReadFile(cfg.SeedHTML)
		if err != nil {
			return sc, fmt.Errorf("read seed document: %w", err)
		}
		sc.SeedHTML = data
	}
	return sc, nil
}

// NewServer creates a new server instance
func NewServer(cfg *config.Config) (*Server, error) {
	logger := logging.FromSettings(cfg.Logging.Level, cfg.Logging.Development)

	logger.Info("Initializing sandbox server",
		zap.String("port", cfg.Server.Port),
		zap.String("env_dir", cfg.Sandbox.EnvDir),
		zap.Duration("timeout", cfg.Sandbox.Timeout()),
		zap.Int("pool_size", cfg.Sandbox.PoolSize),
	)

	sbCfg, err := SandboxConfig(cfg.Sandbox)
	if err != nil {
		return nil, err
	}

	metrics := monitoring.NewMetrics()
	tracer := tracing.New("envsandbox", logger.Logger)
	hub := ws.NewHub(metrics, logger.Logger)

	catalogue := envstubs.New(cfg.Sandbox.EnvDir, logger.Logger)
	rules := mockrules.NewStore(cfg.Sandbox.MockRules, logger.Logger)
	snapshots := snapshot.NewStore(cfg.Sandbox.SnapshotDir, logger.Logger)

	sb := sandbox.New(sbCfg, catalogue, logger.Logger)
	sb.Observe(monitoring.NewSandboxObserver(metrics, hub.Observer()))

	runner := api.NewRunner(sb, rules, api.RunnerOptions{
		AutoReset:  cfg.Sandbox.AutoReset,
		ApplyRules: cfg.Sandbox.ApplyRules,
	}, logger.Logger)
	results, err := runner.Start()
	if err != nil {
		sb.Dispose()
		tracer.Close()
		return nil, fmt.Errorf("start sandbox: %w", err)
	}
	failed := 0
	for _, r := range results {
		if !r.Success {
			failed++
		}
	}
	logger.Info("Sandbox ready",
		zap.Int("modules", len(results)),
		zap.Int("failed", failed),
	)

	var pool *sandbox.Pool
	if cfg.Sandbox.PoolSize > 0 {
		pool, err = sandbox.NewPool(sbCfg, catalogue, logger.Logger, cfg.Sandbox.PoolSize)
		if err != nil {
			logger.Warn("Sandbox pool unavailable, isolated runs disabled", zap.Error(err))
			pool = nil
		}
	}

	handlers := api.NewHandlers(api.Deps{
		Runner:    runner,
		Pool:      pool,
		Catalogue: catalogue,
		Snapshots: snapshots,
		Rules:     rules,
		Metrics:   metrics,
		Tracer:    tracer,
		Events:    hub,
		Logger:    logger.Logger,
	})

	// Create router
	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(tracing.HTTPMiddleware(tracer))
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(middleware.CORSConfigFor(cfg.Server.CORSOrigins)))
	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}))
	}

	handlers.Register(router)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))
	router.GET("/stream", hub.HandleConnection)

	s := &Server{
		router:  router,
		pool:    pool,
		runner:  runner,
		hub:     hub,
		tracer:  tracer,
		metrics: metrics,
		logger:  logger,
		config:  cfg,
	}

	if cfg.Sandbox.WatchPatches {
		s.watchPatches(catalogue)
	}

	logger.Info("Server initialized successfully")
	return s, nil
}

// watchPatches reloads the operator patches when files in the overlay
// directory change and tells stream subscribers about it.
func (s *Server) watchPatches(catalogue *envstubs.Catalogue) {
	w, err := catalogue.NewWatcher(func(ids []string) {
		results, err := s.runner.ReloadPatches()
		if err != nil {
			s.logger.Warn("Patch reload failed", zap.Strings("files", ids), zap.Error(err))
			return
		}
		s.logger.Info("Environment files changed",
			zap.Strings("files", ids),
			zap.Int("reloaded", len(results)),
		)
		s.hub.Publish(ws.EventReload, gin.H{"files": ids, "results": results})
	}, envstubs.DefaultDebounce)
	if err != nil {
		s.logger.Warn("Patch watcher unavailable", zap.Error(err))
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx)
	s.watcher = w
	s.cancel = cancel
}

// Router exposes the configured engine.
func (s *Server) Router() *gin.Engine { return s.router }

// Run starts the HTTP server and blocks until it stops
func (s *Server) Run() error {
	addr := s.config.Server.Host + ":" + s.config.Server.Port
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting HTTP server", zap.String("addr", addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close gracefully shuts down the server
func (s *Server) Close() error {
	s.logger.Info("Shutting down server...")

	var errs []error
	if s.http != nil {
		ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		if err := s.http.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP shutdown failed", zap.Error(err))
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}

	if s.watcher != nil {
		s.cancel()
		s.watcher.Stop()
	}
	s.hub.Close()
	if s.pool != nil {
		if err := s.pool.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close pool: %w", err))
		}
	}
	s.runner.Close()
	s.tracer.Close()

	// Sync logger before exit
	_ = s.logger.Sync()

	return errors.Join(errs...)
}
