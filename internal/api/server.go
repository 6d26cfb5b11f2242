// Package api provides the HTTP API server for Flightdeck.
// It uses the Echo framework to serve the REST endpoints, the discovery
// plugin protocol and the notification WebSocket.
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	echoSwagger "github.com/swaggo/echo-swagger"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	_ "evalgo.org/flightdeck/docs" // generated swagger spec
	"evalgo.org/flightdeck/internal/auth"
	"evalgo.org/flightdeck/internal/config"
	"evalgo.org/flightdeck/internal/credentials"
	"evalgo.org/flightdeck/internal/discovery"
	"evalgo.org/flightdeck/internal/matchexpr"
	"evalgo.org/flightdeck/internal/metrics"
	"evalgo.org/flightdeck/internal/notify"
	"evalgo.org/flightdeck/internal/plugins"
	"evalgo.org/flightdeck/internal/recordings"
	"evalgo.org/flightdeck/internal/rules"
	"evalgo.org/flightdeck/internal/validation"
)

// Dependencies are the services the API exposes.
type Dependencies struct {
	Tree        *discovery.Tree
	Rules       *rules.Engine
	Credentials *credentials.Service
	Plugins     *plugins.Registry
	Recordings  *recordings.Orchestrator
	Evaluator   *matchexpr.Evaluator
	// Hub serves /api/v1/notifications; nil disables the endpoint
	Hub    *notify.Hub
	Logger *zap.Logger
}

// Server represents the Flightdeck API server.
type Server struct {
	echo       *echo.Echo
	config     *config.Config
	deps       Dependencies
	authMiddle *auth.Middleware
	logger     *zap.Logger
}

// New creates a new API server instance.
func New(cfg *config.Config, deps Dependencies) *Server {
	e := echo.New()

	// Configure Echo
	e.HideBanner = true
	e.HidePort = true
	e.Debug = cfg.Server.Debug
	e.HTTPErrorHandler = HTTPErrorHandler
	e.Validator = validation.New()

	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Evaluator == nil {
		deps.Evaluator = deps.Tree.Evaluator()
	}

	server := &Server{
		echo:       e,
		config:     cfg,
		deps:       deps,
		authMiddle: auth.NewMiddleware(cfg.Security),
		logger:     deps.Logger.Named("api"),
	}

	server.setupMiddleware()
	server.setupRoutes()

	return server
}

// setupMiddleware configures Echo middleware.
func (s *Server) setupMiddleware() {
	s.echo.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Format: "[${time_rfc3339}] ${status} ${method} ${uri} (${latency_human})\n",
		Skipper: func(c echo.Context) bool {
			return c.Path() == "/health" || c.Path() == s.config.Metrics.Path
		},
	}))

	s.echo.Use(middleware.Recover())
	s.echo.Use(SecurityHeaders)

	if len(s.config.Security.AllowedOrigins) > 0 {
		s.echo.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: s.config.Security.AllowedOrigins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete},
			AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, auth.HeaderAPIKey},
		}))
	}

	s.echo.Use(middleware.RequestID())

	if s.config.Security.RateLimit > 0 {
		s.echo.Use(middleware.RateLimiter(middleware.NewRateLimiterMemoryStore(
			rate.Limit(s.config.Security.RateLimit),
		)))
	}

	if s.config.Metrics.Enabled {
		s.echo.Use(metrics.Middleware())
	}

	s.echo.Use(ValidateContentType)
	s.echo.Use(ValidateAcceptHeader)
}

// setupRoutes configures API routes.
func (s *Server) setupRoutes() {
	s.echo.GET("/health", s.healthCheck)
	if s.config.Metrics.Enabled {
		s.echo.GET(s.config.Metrics.Path, echo.WrapHandler(promhttp.Handler()))
	}

	// Swagger UI is public; the endpoints it documents are not
	s.echo.GET("/docs/*", echoSwagger.WrapHandler)

	// Discovery plugins authenticate with their own tokens
	plugin := s.echo.Group("/api/v2.2/discovery")
	plugin.POST("", s.registerPlugin)
	plugin.POST("/:id", s.publishPlugin)
	plugin.DELETE("/:id", s.deregisterPlugin)

	protected := s.echo.Group("/api", s.authMiddle.RequireAPIKey, ValidateQueryParams)

	// Targets and recordings
	protected.GET("/v1/targets", s.listTargets)
	protected.GET("/v1/targets/:targetId/recordings", s.listRecordings)
	protected.POST("/v1/targets/:targetId/recordings", s.startRecording)
	protected.PATCH("/v1/targets/:targetId/recordings/:recordingName", s.patchRecording)
	protected.DELETE("/v1/targets/:targetId/recordings/:recordingName", s.deleteRecording)
	protected.POST("/v1/targets/:targetId/snapshot", s.createSnapshot)
	protected.GET("/v1/archives", s.listArchives)
	protected.DELETE("/v1/archives/:name", s.deleteArchive)
	protected.POST("/v2/targets", s.createTarget)
	protected.DELETE("/v2/targets/:targetId", s.deleteTarget)

	// Rules
	protected.GET("/v2/rules", s.listRules)
	protected.POST("/v2/rules", s.createRule)
	protected.GET("/v2/rules/:name", s.getRule)
	protected.PATCH("/v2/rules/:name", s.patchRule)
	protected.DELETE("/v2/rules/:name", s.deleteRule)

	// Credentials
	protected.GET("/v2.2/credentials", s.listCredentials)
	protected.POST("/v2.2/credentials", s.createCredential)
	protected.GET("/v2.2/credentials/:id", s.getCredential, ValidateCredentialID)
	protected.DELETE("/v2.2/credentials/:id", s.deleteCredential, ValidateCredentialID)

	// Discovery tree
	protected.GET("/v2.1/discovery", s.getDiscoveryTree)
	protected.POST("/v2.1/discovery/query", s.queryDiscovery)
	protected.GET("/v2.2/discovery/plugins", s.listPlugins)
	protected.GET("/v2.2/discovery/plugins/:id", s.getPlugin)

	protected.POST("/beta/matchExpressions", s.testMatchExpression)

	if s.deps.Hub != nil {
		protected.GET("/v1/notifications", s.handleNotifications)
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)

	s.logger.Info("starting Flightdeck API server",
		zap.String("address", addr),
		zap.String("storage", s.config.Storage.Backend),
		zap.Bool("auth", s.authMiddle.Enabled()),
		zap.Bool("debug", s.config.Server.Debug))

	s.echo.Server.ReadTimeout = s.config.Server.ReadTimeout
	s.echo.Server.WriteTimeout = s.config.Server.WriteTimeout

	if s.config.Server.TLSEnabled {
		return s.echo.StartTLS(addr, s.config.Server.TLSCert, s.config.Server.TLSKey)
	}

	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down Flightdeck API server")
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("error shutting down server: %w", err)
	}
	return nil
}

// ServeHTTP allows Server to implement http.Handler for testing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}
