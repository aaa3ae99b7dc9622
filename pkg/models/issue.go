package models

import (
	"fmt"
	"time"
)

// IssueStatus is the issue lifecycle state. Owned exclusively by the
// orchestrator; transitions outside the allowed map fail closed.
type IssueStatus string

// Issue statuses.
const (
	IssueNew             IssueStatus = "new"
	IssueObserving       IssueStatus = "observing"
	IssuePatternDetected IssueStatus = "pattern_detected"
	IssueAnalyzed        IssueStatus = "analyzed"
	IssueDecided         IssueStatus = "decided"
	IssueActionExecuted  IssueStatus = "action_executed"
	IssueActionFailed    IssueStatus = "action_failed"
	IssuePendingApproval IssueStatus = "pending_approval"
	IssueRejected        IssueStatus = "rejected"
	IssueFailed          IssueStatus = "failed"
)

// IssueStatusValidator reports whether s is a known issue status.
func IssueStatusValidator(s IssueStatus) error {
	switch s {
	case IssueNew, IssueObserving, IssuePatternDetected, IssueAnalyzed,
		IssueDecided, IssueActionExecuted, IssueActionFailed,
		IssuePendingApproval, IssueRejected, IssueFailed:
		return nil
	}
	return fmt.Errorf("invalid issue status: %q", s)
}

// allowedTransitions maps each status to its permitted successors. Any
// status may transition to failed (stage failure is terminal).
var allowedTransitions = map[IssueStatus][]IssueStatus{
	IssueNew:             {IssueObserving},
	IssueObserving:       {IssuePatternDetected, IssueAnalyzed},
	IssuePatternDetected: {IssueAnalyzed},
	IssueAnalyzed:        {IssueDecided},
	IssueDecided:         {IssueActionExecuted, IssueActionFailed, IssuePendingApproval},
	IssuePendingApproval: {IssueActionExecuted, IssueActionFailed, IssueRejected},
}

// CanTransition reports whether from → to is an allowed lifecycle move.
func CanTransition(from, to IssueStatus) bool {
	if to == IssueFailed {
		return true
	}
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IssueState is the per-issue aggregate tracked through the pipeline.
type IssueState struct {
	IssueID    string      `json:"issue_id" db:"issue_id"`
	Status     IssueStatus `json:"status" db:"status"`
	Severity   Severity    `json:"severity,omitempty" db:"severity"`
	MerchantID string      `json:"merchant_id,omitempty" db:"merchant_id"`

	SignalIDs  []string `json:"signal_ids"`
	PatternIDs []string `json:"pattern_ids,omitempty"`

	Analysis *RootCauseAnalysis `json:"analysis,omitempty"`
	Decision *Decision          `json:"decision,omitempty"`
	Actions  []ActionResult     `json:"actions,omitempty"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Transition moves the issue to the next status, failing closed on invalid
// moves.
func (i *IssueState) Transition(to IssueStatus) error {
	if err := IssueStatusValidator(to); err != nil {
		return err
	}
	if !CanTransition(i.Status, to) {
		return fmt.Errorf("invalid issue transition %s -> %s", i.Status, to)
	}
	i.Status = to
	i.UpdatedAt = time.Now().UTC()
	return nil
}
