// Package orchestrator drives one issue through the canonical pipeline:
// load signals, bind the detected pattern, analyze the root cause, decide,
// then execute or park for approval. Stages run strictly in order; a stage
// failure is terminal for the issue and always leaves an audit entry.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/commerceops/driftwatch/pkg/analyzer"
	"github.com/commerceops/driftwatch/pkg/audit"
	"github.com/commerceops/driftwatch/pkg/decision"
	"github.com/commerceops/driftwatch/pkg/models"
	"github.com/commerceops/driftwatch/pkg/notify"
	"github.com/commerceops/driftwatch/pkg/store"
)

const actorName = "orchestrator"

// uncertaintyThreshold marks a stage as uncertain below this confidence.
const uncertaintyThreshold = 0.7

// IssueStore persists issue state between stages.
type IssueStore interface {
	Create(ctx context.Context, issue *models.IssueState) error
	Save(ctx context.Context, issue *models.IssueState) error
	Get(ctx context.Context, issueID string) (*models.IssueState, error)
}

// SignalLoader resolves signal ids to signals.
type SignalLoader interface {
	GetByIDs(ctx context.Context, ids []string) ([]*models.Signal, error)
}

// Analyzer produces a root-cause verdict, LLM or rule path.
type Analyzer interface {
	Analyze(ctx context.Context, signals []*models.Signal, patterns []*models.Pattern, merchantContext map[string]any) (*analyzer.Outcome, error)
}

// Decider routes an analysis to an action.
type Decider interface {
	Decide(analysis *models.RootCauseAnalysis, dctx decision.Context) (*models.Decision, error)
}

// ActionRunner executes a decided action.
type ActionRunner interface {
	Execute(ctx context.Context, action *models.Action) (*models.ActionResult, error)
}

// ApprovalSink records a decision awaiting an operator.
type ApprovalSink interface {
	Insert(ctx context.Context, a *store.Approval) error
}

// Auditor appends to the hash-chained ledger.
type Auditor interface {
	Record(ctx context.Context, issueID, eventType, actor string, inputs, outputs map[string]any, reasoning string) (*models.AuditEntry, error)
}

// OutcomeRecorder is fed each automated action's predicted confidence and
// realized outcome for calibration tracking.
type OutcomeRecorder interface {
	RecordOutcome(confidence float64, success bool)
}

// Orchestrator owns the issue lifecycle.
type Orchestrator struct {
	issues    IssueStore
	signals   SignalLoader
	analyzer  Analyzer
	decider   Decider
	runner    ActionRunner
	approvals ApprovalSink
	ledger    Auditor
	notifier  *notify.Notifier
	outcomes  OutcomeRecorder
}

// Deps bundles the orchestrator's collaborators. Outcomes may be nil.
type Deps struct {
	Issues    IssueStore
	Signals   SignalLoader
	Analyzer  Analyzer
	Decider   Decider
	Runner    ActionRunner
	Approvals ApprovalSink
	Ledger    Auditor
	Notifier  *notify.Notifier
	Outcomes  OutcomeRecorder
}

// New creates an orchestrator.
func New(deps Deps) *Orchestrator {
	return &Orchestrator{
		issues:    deps.Issues,
		signals:   deps.Signals,
		analyzer:  deps.Analyzer,
		decider:   deps.Decider,
		runner:    deps.Runner,
		approvals: deps.Approvals,
		ledger:    deps.Ledger,
		notifier:  deps.Notifier,
		outcomes:  deps.Outcomes,
	}
}

// ProcessPattern runs one full cycle for a detected pattern and returns the
// explanation for the completed issue. On stage failure the issue is moved
// to the terminal failed state and the stage error is returned.
func (o *Orchestrator) ProcessPattern(ctx context.Context, pattern *models.Pattern) (*models.Explanation, error) {
	now := time.Now().UTC()
	issue := &models.IssueState{
		IssueID:    uuid.New().String(),
		Status:     models.IssueNew,
		SignalIDs:  pattern.SignalIDs,
		PatternIDs: []string{pattern.PatternID},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := o.issues.Create(ctx, issue); err != nil {
		return nil, fmt.Errorf("create issue: %w", err)
	}
	if err := issue.Transition(models.IssueObserving); err != nil {
		return nil, err
	}

	var chain []models.ReasoningStage

	// Stage 1: signals.
	signals, err := o.signals.GetByIDs(ctx, pattern.SignalIDs)
	if err != nil {
		return nil, o.failStage(ctx, issue, models.StageSignals, err)
	}
	if len(signals) == 0 {
		return nil, o.failStage(ctx, issue, models.StageSignals,
			fmt.Errorf("no signals found for pattern %s", pattern.PatternID))
	}
	issue.Severity = maxSeverity(signals)
	issue.MerchantID = primaryMerchant(signals)
	chain = append(chain, signalStage(pattern, signals))

	// Stage 2: patterns.
	if err := issue.Transition(models.IssuePatternDetected); err != nil {
		return nil, o.failStage(ctx, issue, models.StagePatterns, err)
	}
	chain = append(chain, patternStage(pattern))
	o.record(ctx, issue.IssueID, audit.EventPatternDetected,
		map[string]any{"pattern_id": pattern.PatternID, "pattern_type": string(pattern.Type)},
		map[string]any{"frequency": pattern.Frequency, "confidence": pattern.Confidence},
		"Pattern bound to new issue.")

	// Stage 3: root cause.
	outcome, err := o.analyzer.Analyze(ctx, signals, []*models.Pattern{pattern}, nil)
	if err != nil {
		return nil, o.failStage(ctx, issue, models.StageRootCause, err)
	}
	issue.Analysis = outcome.Analysis
	if err := issue.Transition(models.IssueAnalyzed); err != nil {
		return nil, o.failStage(ctx, issue, models.StageRootCause, err)
	}
	chain = append(chain, rootCauseStage(outcome))
	o.record(ctx, issue.IssueID, audit.EventAnalysisCompleted,
		map[string]any{"signals": len(signals), "path": string(outcome.Path)},
		map[string]any{
			"category":   string(outcome.Analysis.Category),
			"confidence": outcome.Analysis.Confidence,
		},
		outcome.Analysis.Reasoning)

	// Stage 4: decision.
	dctx := deriveContext(issue.IssueID, signals)
	decided, err := o.decider.Decide(outcome.Analysis, dctx)
	if err != nil {
		return nil, o.failStage(ctx, issue, models.StageDecision, err)
	}
	issue.Decision = decided
	if err := issue.Transition(models.IssueDecided); err != nil {
		return nil, o.failStage(ctx, issue, models.StageDecision, err)
	}
	chain = append(chain, decisionStage(decided))
	o.record(ctx, issue.IssueID, audit.EventDecisionMade,
		map[string]any{"category": string(outcome.Analysis.Category)},
		map[string]any{
			"action_type":       string(decided.ActionType),
			"risk_level":        string(decided.RiskLevel),
			"requires_approval": decided.RequiresApproval,
		},
		decided.Reasoning)

	// Act or park for approval.
	if decided.RequiresApproval {
		if err := o.requestApproval(ctx, issue, decided); err != nil {
			return nil, o.failStage(ctx, issue, models.StageDecision, err)
		}
	} else {
		o.executeDecision(ctx, issue, decided)
	}

	if err := o.issues.Save(ctx, issue); err != nil {
		return nil, fmt.Errorf("save issue: %w", err)
	}
	return buildExplanation(issue, chain, outcome), nil
}

// requestApproval parks the issue until an operator resolves the decision.
func (o *Orchestrator) requestApproval(ctx context.Context, issue *models.IssueState, decided *models.Decision) error {
	approval := &store.Approval{
		ApprovalID:  uuid.New().String(),
		IssueID:     issue.IssueID,
		Decision:    decided,
		Status:      store.ApprovalPending,
		RequestedAt: time.Now().UTC(),
	}
	if err := o.approvals.Insert(ctx, approval); err != nil {
		return fmt.Errorf("record approval request: %w", err)
	}
	if err := issue.Transition(models.IssuePendingApproval); err != nil {
		return err
	}
	o.record(ctx, issue.IssueID, audit.EventApprovalRequested,
		map[string]any{"approval_id": approval.ApprovalID},
		map[string]any{"action_type": string(decided.ActionType), "risk_level": string(decided.RiskLevel)},
		"Decision requires operator approval.")
	o.notifier.ApprovalRequested(ctx, decided)
	return nil
}

// executeDecision runs the action and transitions by its outcome. The
// executor records its own audit entries.
func (o *Orchestrator) executeDecision(ctx context.Context, issue *models.IssueState, decided *models.Decision) {
	action := BuildAction(issue, decided)
	result, err := o.runner.Execute(ctx, action)
	if err != nil {
		slog.Error("Action execution errored", "issue_id", issue.IssueID, "error", err)
		result = &models.ActionResult{
			ActionID:     action.ActionID,
			Success:      false,
			ErrorMessage: err.Error(),
			ExecutedAt:   time.Now().UTC(),
		}
	}
	issue.Actions = append(issue.Actions, *result)
	if o.outcomes != nil {
		o.outcomes.RecordOutcome(decided.Confidence, result.Success)
	}

	next := models.IssueActionExecuted
	if !result.Success {
		next = models.IssueActionFailed
	}
	if err := issue.Transition(next); err != nil {
		slog.Error("Issue transition failed after action", "issue_id", issue.IssueID, "error", err)
	}
}

// BuildAction turns a decision into the executor's envelope. Exported for the
// approval service, which executes previously-parked decisions.
func BuildAction(issue *models.IssueState, decided *models.Decision) *models.Action {
	params := make(map[string]any, len(decided.Parameters))
	for k, v := range decided.Parameters {
		params[k] = v
	}
	if decided.ActionType == models.ActionTemporaryMitigation {
		// The decision names the safelisted resource; the executor needs the
		// config-manager addressing for it.
		if resource, ok := params["resource"].(string); ok {
			params["resource_type"], params["changes"] = mitigationPlan(resource)
			params["resource_id"] = issue.MerchantID
		}
	}
	if decided.ActionType == models.ActionEngineeringEscalation {
		// Engineering gets the raw signal IDs so they can pull the originals.
		signals := make([]any, len(issue.SignalIDs))
		for i, id := range issue.SignalIDs {
			signals[i] = id
		}
		params["signals"] = signals
	}
	return &models.Action{
		ActionID:   uuid.New().String(),
		IssueID:    issue.IssueID,
		DecisionID: decided.DecisionID,
		Type:       decided.ActionType,
		MerchantID: issue.MerchantID,
		Parameters: params,
		Reasoning:  decided.Reasoning,
	}
}

// mitigationPlan maps a safelisted resource to its config change. The values
// are deliberately conservative holding measures.
func mitigationPlan(resource string) (string, map[string]any) {
	switch resource {
	case "webhook_url":
		return "webhook", map[string]any{"retry_enabled": true}
	case "api_timeout":
		return "api", map[string]any{"timeout": 60}
	case "retry_count":
		return "api", map[string]any{"retry_count": 5}
	case "log_level":
		return "logging", map[string]any{"level": "debug"}
	default:
		return "api", map[string]any{}
	}
}

// failStage records the failure, moves the issue to the terminal failed
// state, and persists. The original stage error is returned.
func (o *Orchestrator) failStage(ctx context.Context, issue *models.IssueState, stage string, cause error) error {
	o.record(ctx, issue.IssueID, audit.EventStageFailed,
		map[string]any{"stage": stage},
		map[string]any{"error": cause.Error()},
		fmt.Sprintf("Stage %s failed; issue is terminal.", stage))

	if err := issue.Transition(models.IssueFailed); err != nil {
		slog.Error("Transition to failed state rejected", "issue_id", issue.IssueID, "error", err)
	}
	if err := o.issues.Save(ctx, issue); err != nil {
		slog.Error("Saving failed issue errored", "issue_id", issue.IssueID, "error", err)
	}
	return fmt.Errorf("stage %s: %w", stage, cause)
}

func (o *Orchestrator) record(ctx context.Context, issueID, event string, inputs, outputs map[string]any, reasoning string) {
	if o.ledger == nil {
		return
	}
	if _, err := o.ledger.Record(ctx, issueID, event, actorName, inputs, outputs, reasoning); err != nil {
		slog.Error("Audit record failed", "issue_id", issueID, "event", event, "error", err)
	}
}

// --- reasoning chain ---

func signalStage(pattern *models.Pattern, signals []*models.Signal) models.ReasoningStage {
	ids := make([]string, 0, len(signals))
	merchants := map[string]bool{}
	for _, sig := range signals {
		ids = append(ids, sig.SignalID)
		merchants[sig.MerchantID] = true
	}
	// Confidence here is observation completeness: the fraction of the
	// pattern's membership we could load.
	confidence := float64(len(signals)) / float64(len(pattern.SignalIDs))
	stage := models.ReasoningStage{
		Stage: models.StageSignals,
		Summary: fmt.Sprintf("Loaded %d signals across %d merchants.",
			len(signals), len(merchants)),
		Confidence:  confidence,
		EvidenceIDs: ids,
	}
	if confidence < uncertaintyThreshold {
		stage.Uncertainty = fmt.Sprintf("only %d of %d pattern signals could be loaded",
			len(signals), len(pattern.SignalIDs))
	}
	return stage
}

func patternStage(pattern *models.Pattern) models.ReasoningStage {
	stage := models.ReasoningStage{
		Stage: models.StagePatterns,
		Summary: fmt.Sprintf("%s pattern, frequency %d over %d merchants.",
			pattern.Type, pattern.Frequency, len(pattern.MerchantIDs)),
		Confidence:  pattern.Confidence,
		EvidenceIDs: []string{pattern.PatternID},
	}
	if pattern.Confidence < uncertaintyThreshold {
		stage.Uncertainty = fmt.Sprintf("pattern confidence %.2f is below %.2f",
			pattern.Confidence, uncertaintyThreshold)
	}
	return stage
}

func rootCauseStage(outcome *analyzer.Outcome) models.ReasoningStage {
	stage := models.ReasoningStage{
		Stage: models.StageRootCause,
		Summary: fmt.Sprintf("Root cause %s (%.2f confidence, %s path).",
			outcome.Analysis.Category, outcome.Analysis.Confidence, outcome.Path),
		Confidence: outcome.Analysis.Confidence,
	}
	switch {
	case outcome.Path == analyzer.PathFallback:
		stage.Uncertainty = "analysis produced by rule fallback: " + outcome.FallbackReason
	case outcome.Analysis.Confidence < uncertaintyThreshold:
		stage.Uncertainty = fmt.Sprintf("analysis confidence %.2f is below %.2f",
			outcome.Analysis.Confidence, uncertaintyThreshold)
	}
	return stage
}

func decisionStage(decided *models.Decision) models.ReasoningStage {
	stage := models.ReasoningStage{
		Stage: models.StageDecision,
		Summary: fmt.Sprintf("Decided %s at %s risk (approval: %t).",
			decided.ActionType, decided.RiskLevel, decided.RequiresApproval),
		Confidence:  decided.Confidence,
		EvidenceIDs: []string{decided.DecisionID},
	}
	if decided.Confidence < uncertaintyThreshold {
		stage.Uncertainty = fmt.Sprintf("decision confidence %.2f is below %.2f",
			decided.Confidence, uncertaintyThreshold)
	}
	return stage
}

func buildExplanation(issue *models.IssueState, chain []models.ReasoningStage, outcome *analyzer.Outcome) *models.Explanation {
	var sum float64
	var factors []string
	for _, stage := range chain {
		sum += stage.Confidence
		if stage.Uncertainty != "" {
			factors = append(factors, stage.Uncertainty)
		}
	}
	return &models.Explanation{
		IssueID:                issue.IssueID,
		ReasoningChain:         chain,
		AlternativesConsidered: outcome.Analysis.Alternatives,
		FinalDecision:          issue.Decision,
		ConfidenceLevel:        models.LevelForConfidence(sum / float64(len(chain))),
		UncertaintyFactors:     factors,
	}
}

// --- context derivation ---

// deriveContext builds the decision context from the loaded signals.
func deriveContext(issueID string, signals []*models.Signal) decision.Context {
	dctx := decision.Context{IssueID: issueID, Severity: models.SeverityLow}

	merchants := map[string]bool{}
	resources := map[string]int{}
	sections := map[string]int{}
	for _, sig := range signals {
		merchants[sig.MerchantID] = true
		if sig.Severity.AtLeast(dctx.Severity) {
			dctx.Severity = sig.Severity
		}
		if sig.Source == models.SourceCheckoutError || mentions(sig, "checkout") {
			dctx.AffectsCheckout = true
		}
		if mentions(sig, "payment") || mentions(sig, "card") {
			dctx.AffectsPayment = true
		}
		if sig.AffectedResource != "" {
			resources[sig.AffectedResource]++
		}
		if sig.MigrationStage != "" {
			sections[sig.MigrationStage]++
		}
	}

	dctx.AffectedMerchants = sortedKeys(merchants)
	dctx.AffectedResource = mostCommon(resources)
	dctx.DocumentationSection = mostCommon(sections)
	return dctx
}

func mentions(sig *models.Signal, term string) bool {
	return strings.Contains(strings.ToLower(sig.AffectedResource), term) ||
		strings.Contains(strings.ToLower(sig.ErrorMessage), term)
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// mostCommon picks the highest-count key, ties broken lexicographically so
// derivation stays deterministic.
func mostCommon(counts map[string]int) string {
	best, bestCount := "", 0
	for k, n := range counts {
		if n > bestCount || (n == bestCount && (best == "" || k < best)) {
			best, bestCount = k, n
		}
	}
	return best
}

func maxSeverity(signals []*models.Signal) models.Severity {
	out := models.SeverityLow
	for _, sig := range signals {
		if sig.Severity.AtLeast(out) {
			out = sig.Severity
		}
	}
	return out
}

// primaryMerchant is the single merchant when the signal set names exactly
// one, else the lexicographically first for stable attribution.
func primaryMerchant(signals []*models.Signal) string {
	merchants := map[string]bool{}
	for _, sig := range signals {
		merchants[sig.MerchantID] = true
	}
	keys := sortedKeys(merchants)
	if len(keys) == 0 {
		return models.UnknownMerchant
	}
	return keys[0]
}
