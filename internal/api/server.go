package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"squaresync/internal/api/handlers"
	"squaresync/internal/api/middleware"
	"squaresync/internal/audit"
	"squaresync/internal/catalog"
	"squaresync/internal/config"
	"squaresync/internal/logger"
	"squaresync/internal/reconcile"
	"squaresync/internal/services/ecwid"
	"squaresync/internal/services/square"
	"squaresync/internal/state"

	"github.com/gin-gonic/gin"
)

type Server struct {
	config     *config.Config
	logger     *logger.Logger
	router     *gin.Engine
	server     *http.Server
	square     *square.Client
	projection *catalog.Projection
}

func New(cfg *config.Config, logger *logger.Logger, store state.Store, auditPub audit.Publisher) *Server {
	// Set Gin mode
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Middleware
	router.Use(middleware.Logger(logger))
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.CORS())

	// External clients
	ecwidClient := ecwid.NewClient(cfg.EcwidAPIBase, cfg.EcwidStoreID, cfg.EcwidToken, logger)
	squareClient := square.NewClient(cfg.SquareAccessToken, cfg.SquareEnvironment, cfg.SquareAPIBase, logger)

	// Sync engine
	projection := catalog.NewProjection(squareClient, time.Duration(cfg.CatalogCacheSeconds)*time.Second, logger)
	repairer := catalog.NewRepairer(squareClient, auditPub, logger)
	dedup := reconcile.NewDeduplicator(store, time.Duration(cfg.DedupWindowSeconds)*time.Second)
	reconciler := reconcile.NewReconciler(squareClient, dedup, store, auditPub, logger)

	// Initialize handlers
	ecwidHandler := handlers.NewEcwidHandler(cfg, logger, ecwidClient, squareClient, projection, repairer, reconciler, dedup, auditPub)
	squareHandler := handlers.NewSquareHandler(cfg, logger, ecwidClient, squareClient, dedup, store, auditPub)
	diagHandler := handlers.NewDiagHandler(cfg, logger, ecwidClient, squareClient, projection, dedup, store, auditPub)

	// Routes
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true, "env": cfg.Env})
	})

	webhooks := router.Group("/webhooks")
	{
		webhooks.POST("/easyfarmcart", ecwidHandler.Webhook)
		webhooks.POST("/square", squareHandler.Webhook)
	}

	router.GET("/diag/sku", diagHandler.SKU)

	return &Server{
		config:     cfg,
		logger:     logger,
		router:     router,
		square:     squareClient,
		projection: projection,
	}
}

func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%s", s.config.APIHost, s.config.APIPort)

	s.warmUp()

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("Starting server on " + addr)
	return s.server.ListenAndServe()
}

// warmUp pre-builds the catalog projection and validates the configured
// location. Both are advisory; failures are logged and startup continues.
func (s *Server) warmUp() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.projection.Refresh(ctx); err != nil {
		s.logger.Warn("catalog projection pre-warm failed: %v", err)
	}

	if s.config.SquareLocationID == "" {
		s.logger.Warn("SQUARE_LOCATION_ID is not set; inventory writes will fail")
		return
	}
	locations, err := s.square.ListLocations(ctx)
	if err != nil {
		s.logger.Warn("location check failed: %v", err)
		return
	}
	for _, loc := range locations {
		if loc.ID == s.config.SquareLocationID {
			return
		}
	}
	s.logger.Warn("configured location %s not found on the Square account", s.config.SquareLocationID)
}

func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Shutting down server...")
	return s.server.Shutdown(ctx)
}

// GetRouter returns the Gin router. Used by tests.
func (s *Server) GetRouter() *gin.Engine {
	return s.router
}
