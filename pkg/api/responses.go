package api

import (
	"github.com/commerceops/driftwatch/pkg/models"
	"github.com/commerceops/driftwatch/pkg/safemode"
	"github.com/commerceops/driftwatch/pkg/services"
	"github.com/commerceops/driftwatch/pkg/store"
)

// ErrorResponse is the body of every 4xx/5xx response.
type ErrorResponse struct {
	ErrorCode    string `json:"error_code"`
	ErrorMessage string `json:"error_message"`
}

// IngestResponse is returned by the webhook and signal submission endpoints.
// Status is "accepted" when the signal reached the bus, "buffered" when it
// was parked in the degradation buffer.
type IngestResponse struct {
	Status   string `json:"status"`
	Message  string `json:"message"`
	SignalID string `json:"signal_id,omitempty"`
}

// ApprovalsResponse is returned by GET /api/v1/approvals.
type ApprovalsResponse struct {
	Approvals []*store.Approval `json:"approvals"`
}

// ResolveApprovalResponse is returned by the approve/reject endpoints.
// Result is present only for approvals, carrying the executed action's
// outcome.
type ResolveApprovalResponse struct {
	ApprovalID string               `json:"approval_id"`
	Verdict    string               `json:"verdict"`
	Result     *models.ActionResult `json:"result,omitempty"`
}

// IssuesResponse is returned by GET /api/v1/issues.
type IssuesResponse struct {
	Issues []*models.IssueState `json:"issues"`
}

// AuditTrailResponse is returned by GET /api/v1/issues/:id/audit.
type AuditTrailResponse struct {
	IssueID string               `json:"issue_id"`
	Entries []*models.AuditEntry `json:"entries"`
}

// SystemStatusResponse is returned by GET /api/v1/system/status.
type SystemStatusResponse struct {
	SafeMode             safemode.Status    `json:"safe_mode"`
	DegradedDependencies []string           `json:"degraded_dependencies"`
	CircuitBreakers      map[string]string  `json:"circuit_breakers,omitempty"`
	Metrics              *services.Snapshot `json:"metrics,omitempty"`
}

// DeactivateSafeModeResponse is returned when an operator releases safe mode.
type DeactivateSafeModeResponse struct {
	Deactivated bool   `json:"deactivated"`
	ActiveFor   string `json:"active_for,omitempty"`
}

// HealthCheck is one component's health probe result.
type HealthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status string                 `json:"status"`
	Checks map[string]HealthCheck `json:"checks"`
}
