// Package decision maps a root-cause analysis to a concrete action with a
// risk level and approval requirement. The mapping is deterministic: the
// same analysis and context always yield the same decision.
package decision

import (
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/commerceops/driftwatch/pkg/config"
	"github.com/commerceops/driftwatch/pkg/models"
)

// Context carries the issue facts the engine needs beyond the analysis.
type Context struct {
	IssueID           string
	Severity          models.Severity
	AffectedMerchants []string
	AffectedResource  string
	AffectsCheckout   bool
	AffectsPayment    bool

	// DocumentationSection targets documentation_update actions.
	DocumentationSection string
}

// SafeModeChecker reports whether the system-wide interlock is active.
type SafeModeChecker interface {
	Active() bool
}

// Engine produces decisions.
type Engine struct {
	cfg      config.DecisionConfig
	safeMode SafeModeChecker
}

// New creates an engine. safeMode may be nil, meaning never active.
func New(cfg config.DecisionConfig, safeMode SafeModeChecker) *Engine {
	return &Engine{cfg: cfg, safeMode: safeMode}
}

// Decide routes the analysis to an action, assesses risk, and applies the
// approval policy.
func (e *Engine) Decide(analysis *models.RootCauseAnalysis, dctx Context) (*models.Decision, error) {
	if analysis == nil {
		return nil, fmt.Errorf("decision requires an analysis")
	}
	if dctx.IssueID == "" {
		return nil, fmt.Errorf("decision requires an issue id")
	}

	d := &models.Decision{
		DecisionID: uuid.New().String(),
		IssueID:    dctx.IssueID,
		Confidence: analysis.Confidence,
		Parameters: map[string]any{},
	}

	switch analysis.Category {
	case models.CategoryMigrationMisstep:
		d.ActionType = models.ActionSupportGuidance
		d.Parameters["message"] = renderGuidance(analysis)
		d.Reasoning = "Migration misstep: guide the merchant through the failing step."
		d.EstimatedOutcome = "Merchant corrects the migration step after guidance."

	case models.CategoryPlatformRegression:
		d.ActionType = models.ActionEngineeringEscalation
		d.Parameters["priority"] = string(EscalationPriority(dctx.Severity, len(dctx.AffectedMerchants)))
		attachInvestigation(d, analysis)
		d.Reasoning = "Platform regression: engineering owns the fix."
		d.EstimatedOutcome = "Engineering confirms and patches the regression."

	case models.CategoryDocumentationGap:
		d.ActionType = models.ActionDocumentationUpdate
		if dctx.DocumentationSection != "" {
			d.Parameters["section"] = dctx.DocumentationSection
		}
		d.Reasoning = "Documentation gap: missing guidance caused the failures."
		d.EstimatedOutcome = "Updated documentation prevents recurrence."

	case models.CategoryConfigError:
		if e.autoFixable(analysis, dctx) {
			d.ActionType = models.ActionTemporaryMitigation
			d.Parameters["resource"] = dctx.AffectedResource
			d.Reasoning = "Config error on a safelisted resource with high confidence: apply a reversible fix."
			d.EstimatedOutcome = "Mitigation restores service; merchant confirms the permanent fix."
		} else {
			d.ActionType = models.ActionSupportGuidance
			d.Parameters["message"] = renderGuidance(analysis)
			d.Reasoning = "Config error outside auto-fix conditions: hand the fix to the merchant."
			d.EstimatedOutcome = "Merchant corrects the configuration after guidance."
		}

	default:
		// Unknown category: escalate with zero confidence so a human looks.
		d.ActionType = models.ActionEngineeringEscalation
		d.Confidence = 0
		d.Parameters["priority"] = string(EscalationPriority(dctx.Severity, len(dctx.AffectedMerchants)))
		attachInvestigation(d, analysis)
		d.Reasoning = fmt.Sprintf("Unrecognized root-cause category %q: escalating for human review.", analysis.Category)
		d.EstimatedOutcome = "Engineering triages the unclassified issue."
	}

	d.AlternativesConsidered = alternativesFor(analysis)
	factors := e.riskFactors(d, dctx)
	d.RiskLevel = riskLevel(factors)
	d.Parameters["risk_factors"] = factors
	d.RequiresApproval = e.requiresApproval(d)

	if err := d.Validate(); err != nil {
		return nil, fmt.Errorf("produced invalid decision: %w", err)
	}
	return d, nil
}

// autoFixable checks every auto-fix condition; all must hold.
func (e *Engine) autoFixable(analysis *models.RootCauseAnalysis, dctx Context) bool {
	return analysis.Confidence >= e.cfg.AutoFixConfidence &&
		!dctx.AffectsCheckout &&
		!dctx.AffectsPayment &&
		len(dctx.AffectedMerchants) == 1 &&
		slices.Contains(e.cfg.AutoFixResources, dctx.AffectedResource)
}

// Risk factor names.
const (
	factorRevenueImpact    = "revenue_impact"
	factorPaymentImpact    = "payment_impact"
	factorConfigChange     = "config_change"
	factorLowConfidence    = "low_confidence"
	factorMultiMerchant    = "multi_merchant_impact"
	factorCriticalSeverity = "critical_severity"
)

func (e *Engine) riskFactors(d *models.Decision, dctx Context) []string {
	var factors []string
	if dctx.AffectsCheckout {
		factors = append(factors, factorRevenueImpact)
	}
	if dctx.AffectsPayment {
		factors = append(factors, factorPaymentImpact)
	}
	if d.ActionType == models.ActionTemporaryMitigation {
		factors = append(factors, factorConfigChange)
	}
	if d.Confidence < 0.7 {
		factors = append(factors, factorLowConfidence)
	}
	if len(dctx.AffectedMerchants) > 1 {
		factors = append(factors, factorMultiMerchant)
	}
	if dctx.Severity == models.SeverityCritical {
		factors = append(factors, factorCriticalSeverity)
	}
	return factors
}

// riskLevel maps factors to a level: revenue or payment impact is critical
// outright; otherwise the count of remaining factors decides.
func riskLevel(factors []string) models.RiskLevel {
	rest := 0
	for _, f := range factors {
		switch f {
		case factorRevenueImpact, factorPaymentImpact:
			return models.RiskCritical
		default:
			rest++
		}
	}
	switch {
	case rest >= 2:
		return models.RiskHigh
	case rest == 1:
		return models.RiskMedium
	default:
		return models.RiskLow
	}
}

func (e *Engine) requiresApproval(d *models.Decision) bool {
	if e.safeMode != nil && e.safeMode.Active() {
		return true
	}
	return d.RiskLevel == models.RiskHigh ||
		d.RiskLevel == models.RiskCritical ||
		d.Confidence < 0.7 ||
		d.ActionType == models.ActionTemporaryMitigation
}

// EscalationPriority derives ticket priority from severity and blast radius.
func EscalationPriority(severity models.Severity, merchants int) models.RiskLevel {
	switch {
	case severity == models.SeverityCritical || merchants > 5:
		return models.RiskCritical
	case severity == models.SeverityHigh || merchants > 2:
		return models.RiskHigh
	default:
		return models.RiskMedium
	}
}

func renderGuidance(analysis *models.RootCauseAnalysis) string {
	var b strings.Builder
	b.WriteString("We investigated the failures on your migration and found the following:\n")
	b.WriteString(analysis.Reasoning)
	b.WriteString("\n\nRecommended steps:\n")
	for i, action := range analysis.RecommendedActions {
		fmt.Fprintf(&b, "%d. %s\n", i+1, action)
	}
	return b.String()
}

// alternativesFor echoes the analyzer's alternatives; an empty list means
// none were considered.
func alternativesFor(analysis *models.RootCauseAnalysis) []models.Alternative {
	return slices.Clone(analysis.Alternatives)
}

// attachInvestigation copies the analysis narrative onto an escalation so the
// filed ticket carries the reasoning, evidence, and recommended next steps.
func attachInvestigation(d *models.Decision, analysis *models.RootCauseAnalysis) {
	d.Parameters["analysis"] = analysis.Reasoning
	d.Parameters["evidence"] = anySlice(analysis.Evidence)
	d.Parameters["recommendations"] = anySlice(analysis.RecommendedActions)
}

// anySlice widens to the shape parameters take after a JSON round trip, so
// the executor sees the same type either way.
func anySlice(items []string) []any {
	out := make([]any, len(items))
	for i, s := range items {
		out[i] = s
	}
	return out
}
