package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/mysticnights/mnserver/internal/config"
	intnet "github.com/mysticnights/mnserver/internal/network"
	"github.com/mysticnights/mnserver/internal/session"
	"github.com/mysticnights/mnserver/internal/store"
)

// Server is the REST monitoring API server.
type Server struct {
	cfg      *config.Config
	store    store.Store
	sessions *session.Registry

	httpServer *http.Server
	router     *gin.Engine
}

// NewServer creates a new API server.
func NewServer(cfg *config.Config, st store.Store, reg *session.Registry) *Server {
	// Set Gin mode based on log level
	if cfg.GetApplicationData().Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	return &Server{
		cfg:      cfg,
		store:    st,
		sessions: reg,
	}
}

// Start initializes and starts the API server. It blocks until ctx is
// done or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.router = s.buildRouter()

	addr := fmt.Sprintf(":%d", s.cfg.GetServerData().APIPort)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// SO_REUSEADDR for immediate rebinding after restart
	lc := intnet.ReuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("API server error: %w", err)
	}

	log.Info().Str("addr", addr).Msg("REST API server starting")

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("API server error: %w", err)
	}
	return nil
}

// buildRouter creates the Gin router with all routes and middleware.
func (s *Server) buildRouter() *gin.Engine {
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(RequestLogger())
	router.Use(SecurityHeaders())

	// CORS
	allowedOrigins := s.cfg.GetApplicationData().API.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false, // Must be false when AllowOrigins is "*"
		MaxAge:           12 * time.Hour,
	}))

	rateLimiter := NewRateLimiter(10)
	router.Use(rateLimiter.Middleware())

	api := router.Group("/api")
	{
		api.GET("/ping", s.handlePing)
		api.GET("/status", s.handleStatus)
		api.GET("/sessions", s.handleSessions)
		api.GET("/servers", s.handleServers)
		api.GET("/channels/:server_id", s.handleChannels)
		api.GET("/lobbies/:channel_id", s.handleLobbies)
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
	})

	return router
}

// Stop gracefully stops the API server.
func (s *Server) Stop() error {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
