package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/commerceops/driftwatch/pkg/safemode"
)

const (
	healthStatusHealthy   = "healthy"
	healthStatusUnhealthy = "unhealthy"
)

// healthHandler handles GET /health.
// Only driftwatch's own database is probed; external dependencies (Kafka,
// LLM, ticketing) are reported through the degradation tracker instead, so
// an orchestrator does not restart the service over a vendor outage.
func (s *Server) healthHandler(c *echo.Context) error {
	checks := make(map[string]HealthCheck)
	status := healthStatusHealthy

	if s.db != nil {
		reqCtx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		if err := s.db.PingContext(reqCtx); err != nil {
			status = healthStatusUnhealthy
			checks["database"] = HealthCheck{Status: healthStatusUnhealthy, Message: err.Error()}
		} else {
			checks["database"] = HealthCheck{Status: healthStatusHealthy}
		}
	}

	httpStatus := http.StatusOK
	if status == healthStatusUnhealthy {
		httpStatus = http.StatusServiceUnavailable
	}
	return c.JSON(httpStatus, &HealthResponse{Status: status, Checks: checks})
}

// systemStatusHandler handles GET /api/v1/system/status: safe-mode state,
// degraded dependencies, and the operational metrics snapshot.
func (s *Server) systemStatusHandler(c *echo.Context) error {
	resp := &SystemStatusResponse{DegradedDependencies: []string{}}

	if s.safeMode != nil {
		resp.SafeMode = s.safeMode.StatusSnapshot()
	}
	if s.tracker != nil {
		if degraded := s.tracker.Snapshot(); degraded != nil {
			resp.DegradedDependencies = degraded
		}
	}
	if s.breakers != nil {
		resp.CircuitBreakers = s.breakers.States()
	}
	if s.metrics != nil {
		snap, err := s.metrics.Status(c.Request().Context())
		if err != nil {
			return mapServiceError(err)
		}
		resp.Metrics = snap
	}

	return c.JSON(http.StatusOK, resp)
}

// safeModeStatusHandler handles GET /api/v1/system/safemode.
func (s *Server) safeModeStatusHandler(c *echo.Context) error {
	if s.safeMode == nil {
		return c.JSON(http.StatusOK, safemode.Status{})
	}
	return c.JSON(http.StatusOK, s.safeMode.StatusSnapshot())
}

// activateSafeModeHandler handles POST /api/v1/system/safemode/activate.
// Manual activation is for operator-declared incidents; the reason tag is
// fixed so the reason set stays closed.
func (s *Server) activateSafeModeHandler(c *echo.Context) error {
	var req ActivateSafeModeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	operator := req.Operator
	if operator == "" {
		operator = extractOperator(c)
	}
	if operator == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "operator field is required")
	}
	if s.safeMode == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "safe mode is not configured")
	}
	if s.safeMode.Active() {
		return echo.NewHTTPError(http.StatusConflict, "safe mode is already active")
	}

	slog.Warn("Safe mode manually activated", "operator", operator, "note", req.Note)
	s.safeMode.Activate(safemode.ReasonManual)
	return c.JSON(http.StatusOK, s.safeMode.StatusSnapshot())
}

// deactivateSafeModeHandler handles POST /api/v1/system/safemode/deactivate.
// Deactivation always requires an operator identity.
func (s *Server) deactivateSafeModeHandler(c *echo.Context) error {
	var req DeactivateSafeModeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	operator := req.Operator
	if operator == "" {
		operator = extractOperator(c)
	}
	if operator == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "operator field is required")
	}
	if s.safeMode == nil {
		return echo.NewHTTPError(http.StatusConflict, "safe mode is not active")
	}

	duration, ok := s.safeMode.Deactivate(operator)
	if !ok {
		return echo.NewHTTPError(http.StatusConflict, "safe mode is not active")
	}
	return c.JSON(http.StatusOK, &DeactivateSafeModeResponse{
		Deactivated: true,
		ActiveFor:   duration.Round(time.Second).String(),
	})
}
