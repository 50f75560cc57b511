package gateway

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/vyrodovalexey/mcpgw/internal/config"
	"github.com/vyrodovalexey/mcpgw/internal/observability"
	"github.com/vyrodovalexey/mcpgw/internal/protocol"
)

// ginModeOnce ensures gin.SetMode is only called once.
var ginModeOnce sync.Once

// maxRequestBodySize bounds incoming request bodies.
const maxRequestBodySize = 10 << 20

// Server is the HTTP front of the gateway. It accepts request
// envelopes addressed to a backend, hands them to the orchestrator,
// and exposes health, stats, and metrics endpoints.
type Server struct {
	engine       *gin.Engine
	httpServer   *http.Server
	orchestrator *Orchestrator
	logger       observability.Logger
	metrics      *observability.Metrics
	cfg          *config.ServerConfig

	mu      sync.Mutex
	running bool
}

// NewServer creates the HTTP server and registers its routes.
func NewServer(
	cfg *config.ServerConfig,
	orchestrator *Orchestrator,
	logger observability.Logger,
	metrics *observability.Metrics,
) *Server {
	if logger == nil {
		logger = observability.NopLogger()
	}

	ginModeOnce.Do(func() {
		gin.SetMode(gin.ReleaseMode)
	})

	engine := gin.New()

	s := &Server{
		engine:       engine,
		orchestrator: orchestrator,
		logger:       logger,
		metrics:      metrics,
		cfg:          cfg,
	}

	engine.Use(s.recoveryMiddleware())
	engine.Use(s.requestIDMiddleware())
	engine.Use(s.accessLogMiddleware())
	engine.Use(func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxRequestBodySize)
		c.Next()
	})

	s.registerRoutes()

	return s
}

// Engine returns the underlying gin engine, used by tests.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerRoutes() {
	s.engine.POST("/rpc/:backend", s.handleRPC)
	s.engine.GET("/healthz", s.handleHealth)
	s.engine.GET("/stats", s.handleStats)

	if s.metrics != nil {
		s.engine.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	s.engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, protocol.NewErrorResponse(
			nil, protocol.CodeMethodNotFound, "no such route"))
	})
}

// handleRPC processes one request envelope. Every outcome, including
// malformed bodies, is answered with HTTP 200 and an envelope; the
// error surface is the protocol, not the transport.
func (s *Server) handleRPC(c *gin.Context) {
	backendID := c.Param("backend")

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusOK, protocol.NewErrorResponse(
			nil, protocol.CodeParseError, "unreadable request body"))
		return
	}

	resp := s.orchestrator.ProcessRequest(c.Request.Context(), backendID, body)
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.orchestrator.Stats())
}

// requestIDMiddleware assigns every request a correlation id, reusing
// the caller's X-Request-ID when present.
func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}

		c.Header("X-Request-ID", requestID)
		ctx := observability.ContextWithRequestID(c.Request.Context(), requestID)
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

// accessLogMiddleware logs one line per request.
func (s *Server) accessLogMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		s.logger.Info("request handled",
			observability.String("method", c.Request.Method),
			observability.String("path", c.Request.URL.Path),
			observability.Int("status", c.Writer.Status()),
			observability.Duration("duration", time.Since(start)),
			observability.String("requestId", observability.RequestIDFromContext(c.Request.Context())),
		)
	}
}

// recoveryMiddleware converts panics into internal-error envelopes.
func (s *Server) recoveryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("handler panicked",
					observability.String("path", c.Request.URL.Path),
					observability.Any("panic", r),
				)
				c.AbortWithStatusJSON(http.StatusOK, protocol.NewErrorResponse(
					nil, protocol.CodeInternalError, "internal error"))
			}
		}()
		c.Next()
	}
}

// Start runs the HTTP listener until it fails or is stopped.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}

	s.httpServer = &http.Server{
		Addr:           s.cfg.Listen,
		Handler:        s.engine,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   120 * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}
	s.running = true
	s.mu.Unlock()

	s.logger.Info("starting HTTP server",
		observability.String("address", s.cfg.Listen),
	)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Stop shuts the HTTP listener down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	s.logger.Info("stopping HTTP server")

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.logger.Info("HTTP server stopped")
	return nil
}
