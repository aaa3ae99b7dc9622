package api

import (
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"

	"github.com/commerceops/driftwatch/pkg/models"
	"github.com/commerceops/driftwatch/pkg/store"
)

// listApprovalsHandler handles GET /api/v1/approvals.
// Optional query parameters: ?risk=medium&merchant=m1&limit=50.
func (s *Server) listApprovalsHandler(c *echo.Context) error {
	limit := 50
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = n
	}

	risk := models.RiskLevel(c.QueryParam("risk"))
	if risk != "" {
		if err := models.RiskLevelValidator(risk); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}
	merchant := c.QueryParam("merchant")

	pending, err := s.approvals.Pending(c.Request().Context(), limit)
	if err != nil {
		return mapServiceError(err)
	}

	filtered := make([]*store.Approval, 0, len(pending))
	for _, a := range pending {
		if risk != "" && (a.Decision == nil || a.Decision.RiskLevel != risk) {
			continue
		}
		if merchant != "" && !s.issueBelongsTo(c, a.IssueID, merchant) {
			continue
		}
		filtered = append(filtered, a)
	}

	return c.JSON(http.StatusOK, &ApprovalsResponse{Approvals: filtered})
}

// issueBelongsTo reports whether the approval's issue is for the merchant.
// Lookup failures exclude the approval rather than failing the listing.
func (s *Server) issueBelongsTo(c *echo.Context, issueID, merchant string) bool {
	issue, err := s.issues.Get(c.Request().Context(), issueID)
	return err == nil && issue.MerchantID == merchant
}

// approveHandler handles POST /api/v1/approvals/:id/approve.
// Executes the parked decision and reports the action outcome.
func (s *Server) approveHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "approval id is required")
	}

	var req ResolveApprovalRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	operator := req.Operator
	if operator == "" {
		operator = extractOperator(c)
	}

	result, err := s.approvals.Approve(c.Request().Context(), id, operator, req.Comment)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, &ResolveApprovalResponse{
		ApprovalID: id,
		Verdict:    "approved",
		Result:     result,
	})
}

// rejectHandler handles POST /api/v1/approvals/:id/reject.
func (s *Server) rejectHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "approval id is required")
	}

	var req ResolveApprovalRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	operator := req.Operator
	if operator == "" {
		operator = extractOperator(c)
	}

	if err := s.approvals.Reject(c.Request().Context(), id, operator, req.Comment); err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, &ResolveApprovalResponse{
		ApprovalID: id,
		Verdict:    "rejected",
	})
}
