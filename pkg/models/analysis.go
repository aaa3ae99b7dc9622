package models

import "fmt"

// RootCauseCategory is the closed set of root-cause classifications.
type RootCauseCategory string

// Root-cause categories.
const (
	CategoryMigrationMisstep   RootCauseCategory = "migration_misstep"
	CategoryPlatformRegression RootCauseCategory = "platform_regression"
	CategoryDocumentationGap   RootCauseCategory = "documentation_gap"
	CategoryConfigError        RootCauseCategory = "config_error"
)

// CategoryValidator reports whether c is a known root-cause category.
func CategoryValidator(c RootCauseCategory) error {
	switch c {
	case CategoryMigrationMisstep, CategoryPlatformRegression,
		CategoryDocumentationGap, CategoryConfigError:
		return nil
	}
	return fmt.Errorf("invalid root-cause category: %q", c)
}

// Alternative records a hypothesis that was considered and rejected.
type Alternative struct {
	Hypothesis     string `json:"hypothesis"`
	ReasonRejected string `json:"reason_rejected"`
}

// RootCauseAnalysis is the reasoning output of the analyzer, whether it came
// from the LLM or the rule-based fallback.
type RootCauseAnalysis struct {
	Category           RootCauseCategory `json:"category"`
	Confidence         float64           `json:"confidence"`
	Reasoning          string            `json:"reasoning"`
	Evidence           []string          `json:"evidence"`
	RecommendedActions []string          `json:"recommended_actions"`
	Alternatives       []Alternative     `json:"alternatives_considered,omitempty"`
}

// Validate enforces the analysis contract: closed category, bounded
// confidence, and non-empty reasoning, evidence, and recommendations.
func (a *RootCauseAnalysis) Validate() error {
	if err := CategoryValidator(a.Category); err != nil {
		return err
	}
	if a.Confidence < 0 || a.Confidence > 1 {
		return fmt.Errorf("analysis confidence %f outside [0, 1]", a.Confidence)
	}
	if a.Reasoning == "" {
		return fmt.Errorf("analysis reasoning must not be empty")
	}
	if len(a.Evidence) == 0 {
		return fmt.Errorf("analysis evidence must not be empty")
	}
	if len(a.RecommendedActions) == 0 {
		return fmt.Errorf("analysis recommended_actions must not be empty")
	}
	return nil
}
