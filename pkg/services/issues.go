package services

import (
	"context"

	"github.com/commerceops/driftwatch/pkg/audit"
	"github.com/commerceops/driftwatch/pkg/models"
)

// IssueLister extends IssueRepo with the status listing used by the API.
type IssueLister interface {
	IssueRepo
	ListByStatus(ctx context.Context, status models.IssueStatus, limit int) ([]*models.IssueState, error)
}

// Trail reads and verifies audit chains.
type Trail interface {
	Trail(ctx context.Context, issueID string) ([]*models.AuditEntry, error)
	Verify(ctx context.Context, issueID string) (*audit.VerificationResult, error)
}

// Issues serves issue queries for operators.
type Issues struct {
	repo  IssueLister
	trail Trail
}

// NewIssues creates the issue query service.
func NewIssues(repo IssueLister, trail Trail) *Issues {
	return &Issues{repo: repo, trail: trail}
}

// Get returns one issue.
func (s *Issues) Get(ctx context.Context, issueID string) (*models.IssueState, error) {
	if issueID == "" {
		return nil, &ValidationError{Field: "issue_id", Message: "required"}
	}
	return s.repo.Get(ctx, issueID)
}

// ListByStatus returns issues in a given lifecycle state.
func (s *Issues) ListByStatus(ctx context.Context, status models.IssueStatus, limit int) ([]*models.IssueState, error) {
	if err := models.IssueStatusValidator(status); err != nil {
		return nil, &ValidationError{Field: "status", Message: err.Error()}
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.repo.ListByStatus(ctx, status, limit)
}

// AuditTrail returns the issue's full hash chain in order.
func (s *Issues) AuditTrail(ctx context.Context, issueID string) ([]*models.AuditEntry, error) {
	if issueID == "" {
		return nil, &ValidationError{Field: "issue_id", Message: "required"}
	}
	return s.trail.Trail(ctx, issueID)
}

// VerifyAudit walks the issue's chain and reports the first break, if any.
func (s *Issues) VerifyAudit(ctx context.Context, issueID string) (*audit.VerificationResult, error) {
	if issueID == "" {
		return nil, &ValidationError{Field: "issue_id", Message: "required"}
	}
	return s.trail.Verify(ctx, issueID)
}
