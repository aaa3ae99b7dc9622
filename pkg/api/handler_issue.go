package api

import (
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"

	"github.com/commerceops/driftwatch/pkg/models"
)

// listIssuesHandler handles GET /api/v1/issues?status=analyzed&limit=100.
func (s *Server) listIssuesHandler(c *echo.Context) error {
	status := c.QueryParam("status")
	if status == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "status query parameter is required")
	}

	limit := 0
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be an integer")
		}
		limit = n
	}

	issues, err := s.issues.ListByStatus(c.Request().Context(), models.IssueStatus(status), limit)
	if err != nil {
		return mapServiceError(err)
	}
	if issues == nil {
		issues = []*models.IssueState{}
	}
	return c.JSON(http.StatusOK, &IssuesResponse{Issues: issues})
}

// getIssueHandler handles GET /api/v1/issues/:id, returning the full issue
// state including analysis, decision, and action results.
func (s *Server) getIssueHandler(c *echo.Context) error {
	issue, err := s.issues.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, issue)
}

// auditTrailHandler handles GET /api/v1/issues/:id/audit.
func (s *Server) auditTrailHandler(c *echo.Context) error {
	id := c.Param("id")
	entries, err := s.issues.AuditTrail(c.Request().Context(), id)
	if err != nil {
		return mapServiceError(err)
	}
	if entries == nil {
		entries = []*models.AuditEntry{}
	}
	return c.JSON(http.StatusOK, &AuditTrailResponse{IssueID: id, Entries: entries})
}

// verifyAuditHandler handles GET /api/v1/issues/:id/audit/verify, walking
// the issue's hash chain and reporting the first break if any.
func (s *Server) verifyAuditHandler(c *echo.Context) error {
	result, err := s.issues.VerifyAudit(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, result)
}
