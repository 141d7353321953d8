package serve

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/entrained/engram-service/internal/config"
	"github.com/entrained/engram-service/internal/curation"
	"github.com/entrained/engram-service/internal/httplog"
	"github.com/entrained/engram-service/internal/metrics"
	"github.com/entrained/engram-service/internal/plugin/route/curating"
	"github.com/entrained/engram-service/internal/plugin/route/memories"
	routesystem "github.com/entrained/engram-service/internal/plugin/route/system"
	storemetrics "github.com/entrained/engram-service/internal/plugin/store/metrics"
	registryembed "github.com/entrained/engram-service/internal/registry/embed"
	registryjudge "github.com/entrained/engram-service/internal/registry/judge"
	registrymigrate "github.com/entrained/engram-service/internal/registry/migrate"
	registryroute "github.com/entrained/engram-service/internal/registry/route"
	registrystore "github.com/entrained/engram-service/internal/registry/store"
	"github.com/entrained/engram-service/internal/service"
	"github.com/gin-gonic/gin"
)

// Server holds the running server and its subsystems.
type Server struct {
	Config *config.Config
	Store  registrystore.MemoryStore
	Router *gin.Engine
	Port   int

	httpServer *http.Server
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// StartServer initializes all subsystems and starts the HTTP listener.
// Use cfg.Listener.Port=0 for a random port. Actual port: Server.Port.
func StartServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	log.Info("Starting engram service",
		"httpPort", cfg.Listener.Port,
		"store", cfg.StoreType,
		"embedding", cfg.EmbedType,
		"judge", cfg.JudgeType,
	)

	// Initialize Prometheus metrics with configured constant labels.
	metricsLabels, err := metrics.ParseLabels(cfg.MetricsLabels)
	if err != nil {
		return nil, fmt.Errorf("invalid --metrics-labels: %w", err)
	}
	metrics.Init(metricsLabels)

	// Run migrations
	if err := registrymigrate.RunAll(ctx); err != nil {
		return nil, fmt.Errorf("migrations failed: %w", err)
	}

	// Initialize store
	storeLoader, err := registrystore.Select(cfg.StoreType)
	if err != nil {
		return nil, err
	}
	store, err := storeLoader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	store = storemetrics.Wrap(store)

	// Initialize embedder
	embedLoader, err := registryembed.Select(cfg.EmbedType)
	if err != nil {
		return nil, err
	}
	embedder, err := embedLoader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	// Initialize the curation judge. The curator falls back to conservative
	// defaults when the judge is disabled or unreachable, so a load failure
	// here only degrades curation, it does not block startup.
	var judge registryjudge.Judge
	if judgeLoader, err := registryjudge.Select(cfg.JudgeType); err != nil {
		log.Warn("Judge not available", "judge", cfg.JudgeType, "err", err)
	} else if judge, err = judgeLoader(ctx); err != nil {
		log.Warn("Failed to initialize judge", "judge", cfg.JudgeType, "err", err)
	}
	curator := curation.New(judge, cfg.JudgeTimeout)

	// Set up gin
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.ManagementAccessLog {
		router.Use(httplog.AccessLogMiddleware())
	} else {
		router.Use(httplog.AccessLogMiddleware("/health", "/ready", "/metrics"))
	}
	router.Use(metrics.Middleware())
	if cfg.CORSEnabled {
		router.Use(corsMiddleware(cfg.CORSOrigins))
	}

	// Mount main route plugins on the main router.
	for _, loader := range registryroute.MainRouteLoaders() {
		if err := loader(router); err != nil {
			return nil, fmt.Errorf("failed to load routes: %w", err)
		}
	}

	// Mount API routes
	memories.MountRoutes(router, store, embedder, cfg)
	curating.MountRoutes(router, curator, store, embedder, cfg)

	// Mount management route plugins
	for _, loader := range registryroute.ManagementRouteLoaders() {
		if err := loader(router); err != nil {
			return nil, fmt.Errorf("failed to load management routes: %w", err)
		}
	}

	// Start the background cleanup scheduler
	cleanup := service.NewCleanupScheduler(store, curator, service.CleanupOptions{
		DailyInterval:               cfg.CleanupDailyInterval,
		WeeklyInterval:              cfg.CleanupWeeklyInterval,
		MonthlyInterval:             cfg.CleanupMonthlyInterval,
		ConsolidationThreshold:      cfg.ConsolidationThreshold,
		ConsolidationSuggestionTTL:  cfg.ConsolidationSuggestionTTL,
		ConsolidationScanBatchLimit: cfg.ConsolidationScanBatchLimit,
		UnusedAccessAge:             cfg.UnusedAccessAge,
		UnusedAccessCountCeiling:    cfg.UnusedAccessCountCeiling,
		UnusedNeverAccessedAge:      cfg.UnusedNeverAccessedAge,
	})
	go cleanup.Start(ctx)

	// Start HTTP
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Listener.Port))
	if err != nil {
		return nil, fmt.Errorf("failed to listen on port %d: %w", cfg.Listener.Port, err)
	}
	httpServer := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: cfg.Listener.ReadHeaderTimeout,
	}
	go func() {
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error", "err", err)
		}
	}()
	port := listener.Addr().(*net.TCPAddr).Port

	log.Info("Server listening", "port", port)

	routesystem.MarkReady()
	return &Server{
		Config:     cfg,
		Store:      store,
		Router:     router,
		Port:       port,
		httpServer: httpServer,
	}, nil
}
