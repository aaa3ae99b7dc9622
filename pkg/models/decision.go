package models

import "fmt"

// ActionType is the closed set of remediating actions.
type ActionType string

// Action types.
const (
	ActionSupportGuidance        ActionType = "support_guidance"
	ActionProactiveCommunication ActionType = "proactive_communication"
	ActionEngineeringEscalation  ActionType = "engineering_escalation"
	ActionTemporaryMitigation    ActionType = "temporary_mitigation"
	ActionDocumentationUpdate    ActionType = "documentation_update"
)

// ActionTypeValidator reports whether t is a known action type.
func ActionTypeValidator(t ActionType) error {
	switch t {
	case ActionSupportGuidance, ActionProactiveCommunication,
		ActionEngineeringEscalation, ActionTemporaryMitigation,
		ActionDocumentationUpdate:
		return nil
	}
	return fmt.Errorf("invalid action type: %q", t)
}

// RiskLevel is the closed set of decision risk classifications.
type RiskLevel string

// Risk levels.
const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// RiskLevelValidator reports whether r is a known risk level.
func RiskLevelValidator(r RiskLevel) error {
	switch r {
	case RiskLow, RiskMedium, RiskHigh, RiskCritical:
		return nil
	}
	return fmt.Errorf("invalid risk level: %q", r)
}

// Decision is the routing output mapping an analysis to a concrete action
// under the approval policy.
type Decision struct {
	DecisionID string `json:"decision_id" db:"decision_id"`
	IssueID    string `json:"issue_id" db:"issue_id"`

	ActionType       ActionType     `json:"action_type" db:"action_type"`
	RiskLevel        RiskLevel      `json:"risk_level" db:"risk_level"`
	RequiresApproval bool           `json:"requires_approval" db:"requires_approval"`
	Confidence       float64        `json:"confidence" db:"confidence"`
	Reasoning        string         `json:"reasoning" db:"reasoning"`
	EstimatedOutcome string         `json:"estimated_outcome" db:"estimated_outcome"`
	Parameters       map[string]any `json:"parameters,omitempty"`

	AlternativesConsidered []Alternative `json:"alternatives_considered,omitempty"`

	// OperatorFeedback holds the comment from a human rejection, so the
	// record shows why the decision was overruled.
	OperatorFeedback string `json:"operator_feedback,omitempty"`
}

// Validate enforces the decision contract.
func (d *Decision) Validate() error {
	if d.DecisionID == "" {
		return fmt.Errorf("decision_id is required")
	}
	if d.IssueID == "" {
		return fmt.Errorf("issue_id is required")
	}
	if err := ActionTypeValidator(d.ActionType); err != nil {
		return err
	}
	if err := RiskLevelValidator(d.RiskLevel); err != nil {
		return err
	}
	if d.Confidence < 0 || d.Confidence > 1 {
		return fmt.Errorf("decision confidence %f outside [0, 1]", d.Confidence)
	}
	if d.EstimatedOutcome == "" {
		return fmt.Errorf("estimated_outcome must not be empty")
	}
	return nil
}
