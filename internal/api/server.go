// Package api exposes the treatment outcome prediction service over HTTP.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/treatment-outcome-server/internal/audit"
	"github.com/treatment-outcome-server/internal/domain"
	"github.com/treatment-outcome-server/internal/middleware"
	"github.com/treatment-outcome-server/internal/service"
)

// Server hosts the prediction REST API.
type Server struct {
	cfg      domain.ServerConfig
	contract *domain.SchemaContract
	handle   *service.ModelHandle
	handler  *Handler
	log      *logrus.Logger
	srv      *http.Server
}

// NewServer wires the HTTP layer around a model handle. The audit store
// may be nil when auditing is disabled.
func NewServer(
	cfg domain.ServerConfig,
	contract *domain.SchemaContract,
	handle *service.ModelHandle,
	cache *service.PredictionCache,
	auditStore audit.Store,
	log *logrus.Logger,
) *Server {
	handler := NewHandler(cfg, contract, handle, cache, auditStore, log)

	return &Server{
		cfg:      cfg,
		contract: contract,
		handle:   handle,
		handler:  handler,
		log:      log,
	}
}

// Router builds the gin engine with the full middleware chain and routes.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.RequestLogger(s.log))
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.CORS(s.cfg.AllowedOrigins))

	if s.cfg.RateLimitRPS > 0 {
		router.Use(middleware.RateLimit(s.cfg.RateLimitRPS, s.cfg.RateLimitBurst))
	}

	router.GET("/health", s.handler.Health)

	v1 := router.Group("/api/v1")
	{
		v1.POST("/predict", s.handler.Predict)
		v1.GET("/dropdown-values", s.handler.DropdownValues)
		if s.handler.audit != nil {
			v1.GET("/audit", s.handler.AuditList)
			v1.GET("/audit/export", s.handler.AuditExport)
		}
	}

	return router
}

// httpServer builds the net/http server with the configured timeouts.
func (s *Server) httpServer() *http.Server {
	return &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:      s.Router(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}
}

// Run starts the HTTP server and blocks until ctx is cancelled, then
// shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.srv = s.httpServer()

	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", s.srv.Addr).Info("HTTP server listening")
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	s.log.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}
