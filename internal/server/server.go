// Package server provides the HTTP server setup and routing configuration.
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/stwalsh4118/stories/internal/api"
	"github.com/stwalsh4118/stories/internal/catalog"
	"github.com/stwalsh4118/stories/internal/config"
	"github.com/stwalsh4118/stories/internal/logger"
	"github.com/stwalsh4118/stories/internal/middleware"
	"github.com/stwalsh4118/stories/internal/session"
)

// Server represents the HTTP server
type Server struct {
	config   *config.Config
	sessions *session.Manager
	breaker  *catalog.Breaker
	router   *gin.Engine
	server   *http.Server
}

// New creates a new server instance
func New(cfg *config.Config, sessions *session.Manager, breaker *catalog.Breaker) *Server {
	return &Server{
		config:   cfg,
		sessions: sessions,
		breaker:  breaker,
	}
}

// Handler returns the router, building it on first use
func (s *Server) Handler() http.Handler {
	if s.router == nil {
		s.setupRouter()
	}
	return s.router
}

// setupRouter initializes the Gin router with middleware and routes
func (s *Server) setupRouter() {
	// Set Gin mode based on log level
	if s.config.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()

	s.router.Use(middleware.RequestLogger())
	s.router.Use(gin.Recovery())
	// the widget is embedded on arbitrary publisher pages
	s.router.Use(cors.Default())

	apiGroup := s.router.Group("/api")

	// a nil *Breaker must not reach the handler as a non-nil interface
	if s.breaker != nil {
		api.SetupHealthRoutes(apiGroup, s.sessions, s.breaker)
	} else {
		api.SetupHealthRoutes(apiGroup, s.sessions, nil)
	}
	api.SetupSessionRoutes(apiGroup, s.sessions, s.config.Session.PingInterval)
}

// Start starts the HTTP server
func (s *Server) Start() error {
	if s.router == nil {
		s.setupRouter()
	}

	if err := s.sessions.Start(); err != nil {
		return fmt.Errorf("failed to start session manager: %w", err)
	}

	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)

	s.server = &http.Server{
		Addr:           addr,
		Handler:        s.router,
		ReadTimeout:    s.config.Server.ReadTimeout,
		WriteTimeout:   s.config.Server.WriteTimeout,
		MaxHeaderBytes: 1 << 20, // 1 MB
	}

	logger.Log.Info().
		Str("host", s.config.Server.Host).
		Int("port", s.config.Server.Port).
		Msg("Starting HTTP server")

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	logger.Log.Info().Msg("Shutting down server gracefully")

	// Closing sessions ends their event streams, which would otherwise hold
	// Shutdown open until ctx expires
	if s.sessions != nil {
		s.sessions.Stop()
	}

	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
	}

	logger.Log.Info().Msg("Server stopped")
	return nil
}
