package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"setup-tracker/internal/alerts"
	"setup-tracker/internal/database"
	"setup-tracker/internal/events"
	"setup-tracker/internal/levels"
	"setup-tracker/internal/marketdata"
	"setup-tracker/internal/risk"
	"setup-tracker/internal/setups"
	"setup-tracker/internal/signalbot"
	"setup-tracker/internal/validation"
)

// ServerConfig holds server configuration
type ServerConfig struct {
	Port           int
	Host           string
	AllowedOrigins string
	ProductionMode bool
}

// Server represents the HTTP API server
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	repo       *database.Repository
	engine     *setups.Engine
	validator  *validation.Engine
	riskMgr    *risk.Manager
	alertEng   *alerts.Engine
	provider   marketdata.BarProvider
	levelCache *levels.Cache
	bot        *signalbot.Bot
	eventBus   *events.EventBus
	config     ServerConfig
	logger     zerolog.Logger
}

// NewServer creates a new API server
func NewServer(
	config ServerConfig,
	repo *database.Repository,
	engine *setups.Engine,
	validator *validation.Engine,
	riskMgr *risk.Manager,
	alertEng *alerts.Engine,
	provider marketdata.BarProvider,
	bot *signalbot.Bot,
	eventBus *events.EventBus,
	logger zerolog.Logger,
) *Server {
	if config.ProductionMode {
		gin.SetMode(gin.ReleaseMode)
	}

	if v, ok := binding.Validator.Engine().(*validatorv10.Validate); ok {
		v.RegisterValidation("symbol", func(fl validatorv10.FieldLevel) bool {
			return isSymbol(fl.Field().String())
		})
	}

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if config.AllowedOrigins == "" || config.AllowedOrigins == "*" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = strings.Split(config.AllowedOrigins, ",")
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	router.Use(cors.New(corsConfig))

	server := &Server{
		router:     router,
		repo:       repo,
		engine:     engine,
		validator:  validator,
		riskMgr:    riskMgr,
		alertEng:   alertEng,
		provider:   provider,
		levelCache: levels.NewCache(provider),
		bot:        bot,
		eventBus:   eventBus,
		config:     config,
		logger:     logger.With().Str("component", "api").Logger(),
	}

	server.setupRoutes()
	return server
}

func (s *Server) setupRoutes() {
	api := s.router.Group("/api")
	{
		api.GET("/health", s.handleHealth)

		api.POST("/observations", s.handlePostObservation)

		setupRoutes := api.Group("/setups")
		{
			setupRoutes.POST("", s.handleCreateSetup)
			setupRoutes.GET("", s.handleListSetups)
			setupRoutes.GET("/stats", s.handleSetupStats)
			setupRoutes.GET("/:id", s.handleGetSetup)
			setupRoutes.POST("/:id/expire", s.handleExpireSetup)
			setupRoutes.POST("/:id/invalidate", s.handleInvalidateSetup)
			setupRoutes.POST("/:id/archive", s.handleArchiveSetup)
		}

		api.GET("/alerts", s.handleListAlerts)

		api.GET("/signals", s.handleListSignals)
		api.POST("/signals/:id/execute", s.handleExecuteSignal)

		api.POST("/sweep", s.handleTriggerSweep)
	}

	s.router.NoRoute(func(c *gin.Context) {
		errorResponse(c, http.StatusNotFound, "endpoint not found")
	})
}

// isSymbol reports whether s looks like an exchange ticker: uppercase
// alphanumeric, 2 to 20 characters.
func isSymbol(s string) bool {
	if len(s) < 2 || len(s) > 20 {
		return false
	}
	for _, r := range s {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}

// Start starts the HTTP server
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info().Str("addr", addr).Msg("starting HTTP server")

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("shutting down HTTP server")
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// handleHealth returns server health status
func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := s.repo.HealthCheck(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":   "unhealthy",
			"database": "unhealthy",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"database": "healthy",
	})
}

// errorResponse is a helper to send error responses
func errorResponse(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, gin.H{
		"error":   true,
		"message": message,
	})
}

// successResponse is a helper to send success responses
func successResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    data,
	})
}
