// Package http exposes the expense report lifecycle over a JSON API served by gin.
package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/application/service"
	appwf "github.com/garyjia/expense-approval/internal/application/workflow"
)

// Logger interface for logging operations
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// RequestMetrics observes served requests and exposes the collected metrics
type RequestMetrics interface {
	ObserveHTTPRequest(method, route string, status int, d time.Duration)
	Handler() http.Handler
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// RequireToken refuses report calls that carry no bearer token
	RequireToken bool
	// AllowOrigin is sent as Access-Control-Allow-Origin; empty disables CORS headers
	AllowOrigin string
	RateLimit   RateLimitConfig
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:         "0.0.0.0",
		Port:         8080,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		AllowOrigin:  "*",
		RateLimit:    DefaultRateLimitConfig(),
	}
}

// Services groups what the handlers call into. Demo may be nil to disable the reset endpoint;
// Tokens may be nil when bearer tokens are not in use.
type Services struct {
	Lifecycle appwf.ReportLifecycle
	Auth      service.AuthService
	Queries   service.QueryService
	Demo      service.DemoService
	Users     port.UserRepository
	Tokens    port.TokenIssuer
	Metrics   RequestMetrics
}

// Server is the HTTP server adapter
type Server struct {
	config ServerConfig

	mu         sync.Mutex
	httpServer *http.Server

	router   *gin.Engine
	services Services
	limiter  *rateLimiter
	logger   Logger
}

// NewServer creates a new HTTP server with the given services
func NewServer(config ServerConfig, services Services, logger Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	server := &Server{
		config:   config,
		router:   gin.New(),
		services: services,
		limiter:  newRateLimiter(config.RateLimit),
		logger:   logger,
	}

	server.setupMiddleware()
	server.setupRoutes()

	return server
}

// setupMiddleware installs recovery, request ids, access logging, CORS and rate limiting
func (s *Server) setupMiddleware() {
	s.router.Use(gin.Recovery())
	s.router.Use(requestIDMiddleware())
	s.router.Use(s.observeMiddleware())
	if s.config.AllowOrigin != "" {
		s.router.Use(corsMiddleware(s.config.AllowOrigin))
	}
	s.router.Use(s.limiter.middleware())
}

const requestIDHeader = "X-Request-ID"

// requestIDMiddleware echoes the caller's X-Request-ID or assigns a new one
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" || len(id) > 64 {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

// observeMiddleware logs each request and records its latency by route template
func (s *Server) observeMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}

		s.logger.Info("HTTP request",
			"request_id", c.GetString("request_id"),
			"method", c.Request.Method,
			"route", route,
			"path", c.Request.URL.Path,
			"status", status,
			"latency", latency.String(),
			"client_ip", clientIP(c.Request),
		)

		if s.services.Metrics != nil {
			s.services.Metrics.ObserveHTTPRequest(c.Request.Method, route, status, latency)
		}
	}
}

// corsMiddleware adds CORS headers and answers preflight requests
func corsMiddleware(origin string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
		c.Writer.Header().Set("Access-Control-Expose-Headers", requestIDHeader)

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	handlers := NewHandlers(s.services, s.logger)

	// Health check
	s.router.GET("/", handlers.HealthCheck)
	s.router.GET("/health", handlers.HealthCheck)

	if s.services.Metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.services.Metrics.Handler()))
	}

	api := s.router.Group("/api")
	api.Use(authMiddleware(s.services.Tokens, false))
	{
		api.POST("/demo/reset", handlers.ResetDemo)
		api.POST("/auth/login", handlers.Login)
	}

	reports := s.router.Group("/api/expense-reports")
	reports.Use(authMiddleware(s.services.Tokens, s.config.RequireToken))
	{
		reports.GET("", handlers.ListReports)
		reports.POST("", handlers.CreateReport)
		reports.GET("/search", handlers.SearchReports)
		reports.GET("/pending-approval", handlers.PendingApproval)
		reports.GET("/stats", handlers.Stats)

		reports.GET("/:id", handlers.GetReport)
		reports.PUT("/:id", handlers.UpdateReport)
		reports.POST("/:id/submit", handlers.SubmitReport)
		reports.POST("/:id/approve", handlers.ApproveReport)
		reports.POST("/:id/reject", handlers.RejectReport)
		reports.GET("/:id/special-review", handlers.GetSpecialReview)
		reports.POST("/:id/special-review/decide", handlers.DecideSpecialReview)
		reports.GET("/:id/submitter-feedback", handlers.SubmitterFeedback)
		reports.GET("/:id/audit-log", handlers.AuditLog)
	}
}

// Start listens on Address and serves until ctx is cancelled, then shuts down.
// A bind failure is returned immediately.
func (s *Server) Start(ctx context.Context) error {
	addr := s.Address()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}
	s.mu.Lock()
	s.httpServer = srv
	s.mu.Unlock()

	s.logger.Info("HTTP server listening", "address", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return s.Stop()
	case err := <-errCh:
		s.logger.Error("HTTP server error", "error", err)
		return err
	}
}

// Stop drains in-flight requests for up to ten seconds. Calling it again is a no-op.
func (s *Server) Stop() error {
	s.mu.Lock()
	srv := s.httpServer
	s.httpServer = nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
		return err
	}
	s.logger.Info("HTTP server stopped")
	return nil
}

// Router returns the underlying gin router (for testing)
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Address returns the server address
func (s *Server) Address() string {
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}
