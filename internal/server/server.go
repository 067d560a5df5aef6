// Package server wires the registry together: store, index,
// coordinator, hub, middleware and routes.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/lanagent/skillhub/internal/config"
	"github.com/lanagent/skillhub/internal/hub"
	registryhttp "github.com/lanagent/skillhub/internal/http"
	"github.com/lanagent/skillhub/internal/index"
	"github.com/lanagent/skillhub/internal/middleware"
	"github.com/lanagent/skillhub/internal/monitoring"
	"github.com/lanagent/skillhub/internal/registry"
	"github.com/lanagent/skillhub/internal/store"
)

// Server owns the HTTP listener and every registry component behind it.
type Server struct {
	cfg         *config.Config
	logger      *zap.Logger
	router      *gin.Engine
	coordinator *registry.Coordinator
	hub         *hub.Hub
	httpServer  *http.Server
}

// New builds a fully wired server. The store is initialized and the
// index rebuilt before the listener is created, so a returned server
// is ready to serve queries.
func New(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	mode := store.ModeWorking
	if cfg.Store.Bare {
		mode = store.ModeBare
	}
	st := store.NewGitStore(cfg.Store.Path, mode, logger)
	if err := st.Init(context.Background()); err != nil {
		return nil, err
	}

	embedder := index.NewHashingEmbedder(cfg.Index.Dims)
	idx, err := index.Open(cfg.Index.Path, cfg.Index.Collection, embedder, logger)
	if err != nil {
		return nil, err
	}

	metrics := monitoring.New(prometheus.DefaultRegisterer)
	notifyHub := hub.New(cfg.Hub.Heartbeat, metrics, logger)

	coordinator := registry.New(st, idx, notifyHub, metrics, logger)
	if err := coordinator.Rebuild(context.Background()); err != nil {
		logger.Warn("index rebuild failed; continuing with empty index", zap.Error(err))
	}

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	if cfg.RateLimit.Enabled {
		router.Use(middleware.RateLimit(cfg.RateLimit))
	}

	handlers := registryhttp.NewHandlers(coordinator, notifyHub)

	router.GET("/", handlers.Root)
	router.GET("/health", handlers.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api/v1")
	{
		api.POST("/skills", handlers.CreateSkill)
		api.GET("/skills", handlers.ListSkills)
		api.GET("/skills/:id", handlers.GetSkill)
		api.PUT("/skills/:id", handlers.UpdateSkill)
		api.DELETE("/skills/:id", handlers.DeleteSkill)
		api.POST("/skills/search", handlers.SearchSkills)
		api.GET("/skills/:id/history", handlers.SkillHistory)
		api.POST("/skills/:id/usage", handlers.IncrementUsage)
		api.POST("/skills/:id/rate", handlers.RateSkill)
		api.POST("/sync", handlers.Sync)
		api.GET("/stats", handlers.Stats)
	}

	router.GET("/ws", notifyHub.HandleConnection)

	return &Server{
		cfg:         cfg,
		logger:      logger,
		router:      router,
		coordinator: coordinator,
		hub:         notifyHub,
		httpServer: &http.Server{
			Addr:              cfg.Addr(),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

// Run serves until ctx is canceled, then shuts down gracefully and
// flushes the index.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("skill registry listening", zap.String("addr", s.cfg.Addr()))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("http shutdown", zap.Error(err))
	}
	if err := s.coordinator.Close(); err != nil {
		s.logger.Warn("index flush on shutdown", zap.Error(err))
	}
	return nil
}

// Router exposes the gin engine for tests.
func (s *Server) Router() *gin.Engine { return s.router }
