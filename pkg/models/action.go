package models

import "time"

// Action is the execution envelope handed to the executor.
type Action struct {
	ActionID   string         `json:"action_id"`
	IssueID    string         `json:"issue_id"`
	DecisionID string         `json:"decision_id,omitempty"`
	Type       ActionType     `json:"action_type"`
	MerchantID string         `json:"merchant_id"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Reasoning  string         `json:"reasoning,omitempty"`

	// Synthetic marks escalations constructed by the executor itself after
	// retry exhaustion. Synthetic actions must not re-escalate.
	Synthetic bool `json:"synthetic,omitempty"`
}

// ActionResult is the final outcome of one execution attempt chain.
type ActionResult struct {
	ActionID     string         `json:"action_id"`
	Success      bool           `json:"success"`
	Result       map[string]any `json:"result,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	ExecutedAt   time.Time      `json:"executed_at"`

	// RollbackData carries what a later rollback needs (change_id plus the
	// before snapshot). Only set by temporary_mitigation.
	RollbackData map[string]any `json:"rollback_data,omitempty"`
}
