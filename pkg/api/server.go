// Package api is the HTTP boundary: webhook ingestion, canonical signal
// submission, approval resolution, issue queries, and operator endpoints,
// served over echo.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
	echo "github.com/labstack/echo/v5"

	"github.com/commerceops/driftwatch/pkg/breaker"
	"github.com/commerceops/driftwatch/pkg/config"
	"github.com/commerceops/driftwatch/pkg/degradation"
	"github.com/commerceops/driftwatch/pkg/safemode"
	"github.com/commerceops/driftwatch/pkg/services"
)

// Server hosts the HTTP API.
type Server struct {
	cfg       *config.Config
	ingestion *services.Ingestion
	approvals *services.Approvals
	issues    *services.Issues
	metrics   *services.Metrics
	safeMode  *safemode.Manager
	tracker   *degradation.Tracker
	breakers  *breaker.Registry
	db        *sqlx.DB

	echo *echo.Echo
	srv  *http.Server
}

// Deps bundles the server's collaborators. DB, SafeMode, Tracker, Breakers,
// and Metrics may be nil; the corresponding endpoints degrade gracefully.
type Deps struct {
	Ingestion *services.Ingestion
	Approvals *services.Approvals
	Issues    *services.Issues
	Metrics   *services.Metrics
	SafeMode  *safemode.Manager
	Tracker   *degradation.Tracker
	Breakers  *breaker.Registry
	DB        *sqlx.DB
}

// NewServer creates the API server and registers all routes.
func NewServer(cfg *config.Config, deps Deps) *Server {
	s := &Server{
		cfg:       cfg,
		ingestion: deps.Ingestion,
		approvals: deps.Approvals,
		issues:    deps.Issues,
		metrics:   deps.Metrics,
		safeMode:  deps.SafeMode,
		tracker:   deps.Tracker,
		breakers:  deps.Breakers,
		db:        deps.DB,
	}

	e := echo.New()
	e.HTTPErrorHandler = httpErrorHandler
	e.Use(securityHeaders())

	e.GET("/health", s.healthHandler)

	v1 := e.Group("/api/v1")
	v1.POST("/webhooks/:vendor", s.webhookHandler)
	v1.POST("/signals/submit", s.submitSignalHandler)

	v1.GET("/approvals", s.listApprovalsHandler)
	v1.POST("/approvals/:id/approve", s.approveHandler)
	v1.POST("/approvals/:id/reject", s.rejectHandler)

	v1.GET("/issues", s.listIssuesHandler)
	v1.GET("/issues/:id", s.getIssueHandler)
	v1.GET("/issues/:id/audit", s.auditTrailHandler)
	v1.GET("/issues/:id/audit/verify", s.verifyAuditHandler)

	v1.GET("/system/status", s.systemStatusHandler)
	v1.GET("/system/safemode", s.safeModeStatusHandler)
	v1.POST("/system/safemode/activate", s.activateSafeModeHandler)
	v1.POST("/system/safemode/deactivate", s.deactivateSafeModeHandler)

	s.echo = e
	return s
}

// Start serves HTTP on addr until Shutdown is called. Blocks; returns
// http.ErrServerClosed on graceful shutdown.
func (s *Server) Start(addr string) error {
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.echo,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.srv.ListenAndServe()
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}
