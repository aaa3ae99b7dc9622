package models

// Reasoning-chain stage names, in canonical order.
const (
	StageSignals   = "signals"
	StagePatterns  = "patterns"
	StageRootCause = "root_cause"
	StageDecision  = "decision"
)

// ConfidenceLevel buckets the mean stage confidence of a completed cycle.
type ConfidenceLevel string

// Confidence levels.
const (
	ConfidenceHigh   ConfidenceLevel = "high"
	ConfidenceMedium ConfidenceLevel = "medium"
	ConfidenceLow    ConfidenceLevel = "low"
)

// ReasoningStage captures one stage's contribution to an explanation.
type ReasoningStage struct {
	Stage       string   `json:"stage"`
	Summary     string   `json:"summary"`
	Confidence  float64  `json:"confidence"`
	EvidenceIDs []string `json:"evidence_ids,omitempty"`
	Uncertainty string   `json:"uncertainty,omitempty"`
}

// Explanation is the human-auditable trace emitted after a completed cycle.
type Explanation struct {
	IssueID                string           `json:"issue_id"`
	ReasoningChain         []ReasoningStage `json:"reasoning_chain"`
	AlternativesConsidered []Alternative    `json:"alternatives_considered,omitempty"`
	FinalDecision          *Decision        `json:"final_decision,omitempty"`
	ConfidenceLevel        ConfidenceLevel  `json:"confidence_level"`
	UncertaintyFactors     []string         `json:"uncertainty_factors,omitempty"`
}

// LevelForConfidence buckets a mean stage confidence: high >= 0.85,
// medium >= 0.70, else low.
func LevelForConfidence(mean float64) ConfidenceLevel {
	switch {
	case mean >= 0.85:
		return ConfidenceHigh
	case mean >= 0.70:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}
