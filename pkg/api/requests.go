package api

// SubmitSignalRequest is the HTTP request body for POST /api/v1/signals/submit.
// It mirrors the canonical signal schema; signal_id and timestamp are
// system-assigned when absent.
type SubmitSignalRequest struct {
	Source           string         `json:"source"`
	MerchantID       string         `json:"merchant_id"`
	Severity         string         `json:"severity"`
	ErrorCode        string         `json:"error_code,omitempty"`
	ErrorMessage     string         `json:"error_message,omitempty"`
	AffectedResource string         `json:"affected_resource,omitempty"`
	MigrationStage   string         `json:"migration_stage,omitempty"`
	Context          map[string]any `json:"context,omitempty"`
	RawData          map[string]any `json:"raw_data,omitempty"`
}

// ResolveApprovalRequest is the body for approve/reject endpoints. Operator
// falls back to the proxy identity headers when empty.
type ResolveApprovalRequest struct {
	Operator string `json:"operator"`
	Comment  string `json:"comment,omitempty"`
}

// ActivateSafeModeRequest is the body for POST /api/v1/system/safemode/activate.
// Note is free-form operator context; it is logged, not stored as the reason.
type ActivateSafeModeRequest struct {
	Operator string `json:"operator"`
	Note     string `json:"note,omitempty"`
}

// DeactivateSafeModeRequest is the body for POST /api/v1/system/safemode/deactivate.
type DeactivateSafeModeRequest struct {
	Operator string `json:"operator"`
}
