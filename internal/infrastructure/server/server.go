package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	apihttp "github.com/makroumprog/gaze-navigate-click-zoom/internal/api/http"
	"github.com/makroumprog/gaze-navigate-click-zoom/internal/api/middleware"
	"github.com/makroumprog/gaze-navigate-click-zoom/internal/api/ws"
	"github.com/makroumprog/gaze-navigate-click-zoom/internal/domain/coordinator"
	"github.com/makroumprog/gaze-navigate-click-zoom/internal/domain/settings"
	"github.com/makroumprog/gaze-navigate-click-zoom/internal/infrastructure/config"
	"github.com/makroumprog/gaze-navigate-click-zoom/internal/infrastructure/logging"
	"github.com/makroumprog/gaze-navigate-click-zoom/internal/infrastructure/monitoring"
	"github.com/makroumprog/gaze-navigate-click-zoom/internal/infrastructure/tracing"
	"github.com/makroumprog/gaze-navigate-click-zoom/internal/shared/paths"
	"github.com/makroumprog/gaze-navigate-click-zoom/internal/shared/types"
)

const (
	shutdownTimeout   = 5 * time.Second
	pruneInterval     = time.Minute
	readHeaderTimeout = 10 * time.Second
)

// Server wraps the HTTP server and dependencies
type Server struct {
	router      *gin.Engine
	http        *http.Server
	registry    *coordinator.Registry
	broadcaster *coordinator.Broadcaster
	hub         *ws.Hub
	store       *settings.FileStore
	tracer      *tracing.Tracer
	logger      *logging.Logger
	config      *config.Config
	metrics     *monitoring.Metrics
}

// NewServer creates a new server instance
func NewServer(cfg *config.Config) (*Server, error) {
	logger := logging.NewFromSettings(cfg.Logging.Level, cfg.Logging.Development)

	settingsPath, err := paths.Resolve(cfg.Settings.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve settings path: %w", err)
	}

	logger.Info("Initializing camera coordinator",
		zap.String("port", cfg.Server.Port),
		zap.String("settings_path", settingsPath),
		zap.Duration("broadcast_interval", cfg.Protocol.BroadcastInterval),
	)

	// Metrics first, every component reports into them
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := monitoring.NewMetrics(reg)

	tracer := tracing.New("coordinator", logger.Logger)

	registry, err := coordinator.NewRegistry(nil, coordinator.Options{
		DebounceWindow:    cfg.Protocol.DebounceWindow,
		BroadcastInterval: cfg.Protocol.BroadcastInterval,
		RestrictedURLs:    cfg.Protocol.RestrictedURLs,
	})
	if err != nil {
		tracer.Close()
		return nil, fmt.Errorf("failed to create registry: %w", err)
	}
	registry.WithLogger(logger).WithMetrics(metrics)

	store := settings.NewFileStore(settingsPath)
	if _, err := store.Get(context.Background()); err != nil {
		// A broken file is reported on every read; keep serving the protocol.
		logger.Warn("Settings file unreadable", zap.String("path", store.Path()), zap.Error(err))
	}

	hub := ws.NewHub(registry, store).
		WithLogger(logger).
		WithMetrics(metrics).
		WithTracer(tracer).
		WithRateLimit(cfg.RateLimit.AgentMessagesPerSecond).
		WithRequestTimeout(cfg.Protocol.RequestTimeout)
	registry.SetDispatcher(hub)

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(tracing.HTTPMiddleware(tracer))
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
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

	handlers := apihttp.NewHandlers(registry, hub, store).WithMetrics(metrics).WithLogger(logger)
	metricsAggregator := apihttp.NewMetricsAggregator(reg, metrics, registry, hub)

	// Health and state
	router.GET("/", handlers.Root)
	router.GET("/health", handlers.Health)
	router.GET("/status", handlers.Status)

	// Tabs
	router.GET("/tabs", handlers.ListTabs)
	router.POST("/tabs/:id/focus", handlers.FocusTab)
	router.POST("/tabs/:id/blur", handlers.BlurTab)
	router.DELETE("/tabs/:id", handlers.CloseTab)

	// Settings
	router.GET("/settings", handlers.GetSettings)
	router.PUT("/settings", handlers.UpdateSettings)

	// Agent logs
	router.POST("/logs", handlers.StreamLogs)

	// Agent transport
	router.GET("/agent", hub.HandleConnection)

	// Metrics
	router.GET("/metrics", metricsAggregator.Prometheus())
	router.GET("/metrics/json", metricsAggregator.GetAggregatedMetrics)

	logger.Info("Server initialized successfully")

	return &Server{
		router:      router,
		registry:    registry,
		broadcaster: coordinator.NewBroadcaster(registry),
		hub:         hub,
		store:       store,
		tracer:      tracer,
		logger:      logger,
		config:      cfg,
		metrics:     metrics,
		http: &http.Server{
			Addr:              cfg.Server.Host + ":" + cfg.Server.Port,
			Handler:           router,
			ReadHeaderTimeout: readHeaderTimeout,
		},
	}, nil
}

// Handler exposes the router, for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Registry returns the coordinator registry.
func (s *Server) Registry() *coordinator.Registry {
	return s.registry
}

// Run serves HTTP and runs the background loops until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.StartBackground(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting HTTP server", zap.String("addr", s.http.Addr))
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
	defer done()

	// Hijacked WebSocket connections are not tracked by Shutdown.
	s.hub.Close()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

// StartBackground runs the broadcast, uptime and debounce pruning loops
// until ctx is cancelled.
func (s *Server) StartBackground(ctx context.Context) {
	go s.broadcaster.Run(ctx)
	go s.metrics.RunUptime(ctx)
	go s.pruneLoop(ctx)
}

func (s *Server) pruneLoop(ctx context.Context) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.registry.PruneDebounce(pruneInterval); n > 0 {
				s.logger.Debug("Pruned debounce entries", zap.Int("count", n))
			}
		}
	}
}

// ReloadSettings drops the cached settings file and tells every agent to
// read its settings again.
func (s *Server) ReloadSettings(ctx context.Context) error {
	s.store.Reload()
	if _, err := s.store.Get(ctx); err != nil {
		return fmt.Errorf("reload settings: %w", err)
	}
	sent := s.registry.Broadcast(ctx, types.Directive{Action: types.ActionSettingsUpdated})
	s.logger.Info("Settings reloaded", zap.String("path", s.store.Path()), zap.Int("tabs_notified", sent))
	return nil
}

// Close gracefully shuts down the server
func (s *Server) Close() error {
	s.logger.Info("Shutting down server...")

	s.hub.Close()
	s.tracer.Close()

	// Sync logger before exit
	_ = s.logger.Sync()

	return nil
}
