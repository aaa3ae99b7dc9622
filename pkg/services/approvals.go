// Package services holds the application-layer operations behind the HTTP
// API: approval resolution, issue queries, and operational metrics.
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/commerceops/driftwatch/pkg/audit"
	"github.com/commerceops/driftwatch/pkg/models"
	"github.com/commerceops/driftwatch/pkg/orchestrator"
	"github.com/commerceops/driftwatch/pkg/store"
)

// ErrAlreadyResolved is returned when resolving a non-pending approval.
var ErrAlreadyResolved = errors.New("approval already resolved")

// ValidationError marks a caller mistake; the API layer maps it to 400.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// ApprovalRepo is the persistence surface for approvals.
type ApprovalRepo interface {
	Get(ctx context.Context, approvalID string) (*store.Approval, error)
	Resolve(ctx context.Context, approvalID string, status store.ApprovalStatus, resolvedBy, comment string) error
	ListPending(ctx context.Context, limit int) ([]*store.Approval, error)
}

// IssueRepo loads and saves issue state.
type IssueRepo interface {
	Get(ctx context.Context, issueID string) (*models.IssueState, error)
	Save(ctx context.Context, issue *models.IssueState) error
}

// ActionRunner executes approved actions.
type ActionRunner interface {
	Execute(ctx context.Context, action *models.Action) (*models.ActionResult, error)
}

// Auditor appends to the hash-chained ledger.
type Auditor interface {
	Record(ctx context.Context, issueID, eventType, actor string, inputs, outputs map[string]any, reasoning string) (*models.AuditEntry, error)
}

// Approvals resolves parked decisions: approve executes the action, reject
// closes the issue.
type Approvals struct {
	repo   ApprovalRepo
	issues IssueRepo
	runner ActionRunner
	ledger Auditor
}

// NewApprovals creates the approval service.
func NewApprovals(repo ApprovalRepo, issues IssueRepo, runner ActionRunner, ledger Auditor) *Approvals {
	return &Approvals{repo: repo, issues: issues, runner: runner, ledger: ledger}
}

// Pending lists unresolved approvals, oldest first.
func (s *Approvals) Pending(ctx context.Context, limit int) ([]*store.Approval, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.repo.ListPending(ctx, limit)
}

// Approve resolves the approval and executes the parked decision. The
// resolution is single-shot: a second verdict fails with ErrAlreadyResolved.
func (s *Approvals) Approve(ctx context.Context, approvalID, operator, comment string) (*models.ActionResult, error) {
	if operator == "" {
		return nil, &ValidationError{Field: "operator", Message: "required"}
	}
	approval, err := s.resolve(ctx, approvalID, store.ApprovalApproved, operator, comment)
	if err != nil {
		return nil, err
	}

	issue, err := s.issues.Get(ctx, approval.IssueID)
	if err != nil {
		return nil, fmt.Errorf("load issue %s: %w", approval.IssueID, err)
	}

	action := orchestrator.BuildAction(issue, approval.Decision)
	result, err := s.runner.Execute(ctx, action)
	if err != nil {
		return nil, fmt.Errorf("execute approved action: %w", err)
	}

	issue.Actions = append(issue.Actions, *result)
	next := models.IssueActionExecuted
	if !result.Success {
		next = models.IssueActionFailed
	}
	if err := issue.Transition(next); err != nil {
		return nil, err
	}
	if err := s.issues.Save(ctx, issue); err != nil {
		return nil, fmt.Errorf("save issue: %w", err)
	}

	s.audit(ctx, approval, operator, comment, map[string]any{
		"verdict":   "approved",
		"action_id": result.ActionID,
		"success":   result.Success,
	})
	return result, nil
}

// Reject resolves the approval without executing and closes the issue.
func (s *Approvals) Reject(ctx context.Context, approvalID, operator, comment string) error {
	if operator == "" {
		return &ValidationError{Field: "operator", Message: "required"}
	}
	approval, err := s.resolve(ctx, approvalID, store.ApprovalRejected, operator, comment)
	if err != nil {
		return err
	}

	issue, err := s.issues.Get(ctx, approval.IssueID)
	if err != nil {
		return fmt.Errorf("load issue %s: %w", approval.IssueID, err)
	}
	if issue.Decision != nil {
		issue.Decision.OperatorFeedback = comment
	}
	if err := issue.Transition(models.IssueRejected); err != nil {
		return err
	}
	if err := s.issues.Save(ctx, issue); err != nil {
		return fmt.Errorf("save issue: %w", err)
	}

	s.audit(ctx, approval, operator, comment, map[string]any{"verdict": "rejected"})
	return nil
}

func (s *Approvals) resolve(ctx context.Context, approvalID string, status store.ApprovalStatus, operator, comment string) (*store.Approval, error) {
	approval, err := s.repo.Get(ctx, approvalID)
	if err != nil {
		return nil, err
	}
	err = s.repo.Resolve(ctx, approvalID, status, operator, comment)
	if errors.Is(err, store.ErrNotFound) {
		// The row exists but was not pending anymore.
		return nil, ErrAlreadyResolved
	}
	if err != nil {
		return nil, err
	}
	return approval, nil
}

func (s *Approvals) audit(ctx context.Context, approval *store.Approval, operator, comment string, outputs map[string]any) {
	if s.ledger == nil {
		return
	}
	inputs := map[string]any{
		"approval_id": approval.ApprovalID,
		"action_type": string(approval.Decision.ActionType),
		"comment":     comment,
	}
	reasoning := fmt.Sprintf("Operator %s resolved the approval at %s.",
		operator, time.Now().UTC().Format(time.RFC3339))
	_, _ = s.ledger.Record(ctx, approval.IssueID, audit.EventApprovalResolved, operator, inputs, outputs, reasoning)
}
