// Package analyzer determines the root cause behind a detected pattern. The
// primary path asks an LLM for a schema-constrained JSON verdict; when that
// path fails for any reason, an ordered deterministic rule set takes over so
// analysis never blocks the pipeline.
package analyzer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/commerceops/driftwatch/pkg/breaker"
	"github.com/commerceops/driftwatch/pkg/degradation"
	"github.com/commerceops/driftwatch/pkg/models"
	"github.com/commerceops/driftwatch/pkg/redaction"
)

// maxPromptSignals caps how many signals are rendered in full; the rest are
// summarized by count.
const maxPromptSignals = 10

// ErrNoSignals is returned when analysis is requested with no input.
var ErrNoSignals = errors.New("analysis requires at least one signal")

// ErrQuotaExceeded marks quota and authorization failures from the LLM
// provider. These trip the safe-mode interlock, not just the breaker.
var ErrQuotaExceeded = errors.New("llm quota or authorization exhausted")

// Path identifies which analyzer produced the result.
type Path string

// Analysis paths.
const (
	PathLLM      Path = "llm"
	PathFallback Path = "fallback"
)

// Outcome pairs an analysis with the path that produced it. The orchestrator
// treats both paths uniformly; FallbackReason is set only on the rule path.
type Outcome struct {
	Analysis       *models.RootCauseAnalysis
	Path           Path
	FallbackReason string
}

// CriticalReporter receives quota and authorization failures that must trip
// the system-wide interlock.
type CriticalReporter interface {
	ReportCriticalError(errorType string)
}

// Analyzer wraps the LLM behind a circuit breaker with a rule fallback.
type Analyzer struct {
	llm      LLMClient
	breakers *breaker.Registry
	degraded *degradation.Tracker
	redactor *redaction.Service
	critical CriticalReporter
}

// New creates an analyzer. breakers, degraded, redactor, and critical may be
// nil in tests; the fallback path needs none of them.
func New(llm LLMClient, breakers *breaker.Registry, degraded *degradation.Tracker, redactor *redaction.Service, critical CriticalReporter) *Analyzer {
	return &Analyzer{llm: llm, breakers: breakers, degraded: degraded, redactor: redactor, critical: critical}
}

// Analyze produces a root-cause verdict for the given signals and patterns.
// merchantContext is optional operator-supplied background.
func (a *Analyzer) Analyze(ctx context.Context, signals []*models.Signal, patterns []*models.Pattern, merchantContext map[string]any) (*Outcome, error) {
	if len(signals) == 0 {
		return nil, ErrNoSignals
	}

	analysis, llmErr := a.analyzeLLM(ctx, signals, patterns, merchantContext)
	if llmErr == nil {
		if a.degraded != nil {
			a.degraded.SetDegraded(degradation.DepLLM, false)
		}
		return &Outcome{Analysis: analysis, Path: PathLLM}, nil
	}

	slog.Warn("LLM analysis failed, falling back to rules", "error", llmErr)
	if a.critical != nil && errors.Is(llmErr, ErrQuotaExceeded) {
		a.critical.ReportCriticalError("claude_api_quota_exceeded")
	}
	match := classify(signals, patterns)
	return &Outcome{
		Analysis:       fallbackAnalysis(match, signals),
		Path:           PathFallback,
		FallbackReason: llmErr.Error(),
	}, nil
}

func (a *Analyzer) analyzeLLM(ctx context.Context, signals []*models.Signal, patterns []*models.Pattern, merchantContext map[string]any) (*models.RootCauseAnalysis, error) {
	if a.llm == nil {
		return nil, errors.New("no llm client configured")
	}

	prompt, err := a.buildPrompt(signals, patterns, merchantContext)
	if err != nil {
		return nil, err
	}

	var raw string
	call := func() error {
		var callErr error
		raw, callErr = a.llm.Complete(ctx, systemPrompt, prompt)
		return callErr
	}
	if a.breakers != nil {
		err = a.breakers.Execute(breaker.NameLLM, call)
	} else {
		err = call()
	}
	if err != nil {
		if a.degraded != nil {
			a.degraded.SetDegraded(degradation.DepLLM, true)
		}
		return nil, err
	}

	analysis, err := parseAnalysis(raw)
	if err != nil {
		return nil, err
	}
	if err := analysis.Validate(); err != nil {
		return nil, fmt.Errorf("llm analysis failed validation: %w", err)
	}
	return analysis, nil
}

const systemPrompt = `You are an incident analyst for an e-commerce platform migration service.
Merchants are migrating between commerce platforms, and you diagnose the root
cause behind correlated failure signals.

Respond with a single JSON object and nothing else, matching exactly:
{
  "category": "migration_misstep" | "platform_regression" | "documentation_gap" | "config_error",
  "confidence": <number between 0 and 1>,
  "reasoning": "<how you reached the verdict>",
  "evidence": ["<specific observations supporting it>", ...],
  "recommended_actions": ["<concrete next steps>", ...],
  "alternatives": [{"hypothesis": "...", "reason_rejected": "..."}, ...]
}
All of reasoning, evidence, and recommended_actions must be non-empty.`

func (a *Analyzer) buildPrompt(signals []*models.Signal, patterns []*models.Pattern, merchantContext map[string]any) (string, error) {
	var b strings.Builder

	shown := signals
	if len(shown) > maxPromptSignals {
		shown = shown[:maxPromptSignals]
	}
	b.WriteString(fmt.Sprintf("## Signals (%d total, %d shown)\n", len(signals), len(shown)))
	for _, sig := range shown {
		rendered := map[string]any{
			"signal_id":     sig.SignalID,
			"source":        sig.Source,
			"merchant_id":   sig.MerchantID,
			"severity":      sig.Severity,
			"error_code":    sig.ErrorCode,
			"error_message": sig.ErrorMessage,
		}
		if sig.MigrationStage != "" {
			rendered["migration_stage"] = sig.MigrationStage
		}
		if sig.AffectedResource != "" {
			rendered["affected_resource"] = sig.AffectedResource
		}
		if a.redactor != nil {
			rendered = a.redactor.RedactMap(rendered)
		}
		line, err := json.Marshal(rendered)
		if err != nil {
			return "", fmt.Errorf("render signal: %w", err)
		}
		b.Write(line)
		b.WriteByte('\n')
	}
	if rest := len(signals) - len(shown); rest > 0 {
		b.WriteString(fmt.Sprintf("...and %d more signals with similar characteristics.\n", rest))
	}

	b.WriteString(fmt.Sprintf("\n## Patterns (%d)\n", len(patterns)))
	for _, p := range patterns {
		line, err := json.Marshal(map[string]any{
			"pattern_id":   p.PatternID,
			"pattern_type": p.Type,
			"frequency":    p.Frequency,
			"merchants":    len(p.MerchantIDs),
			"confidence":   p.Confidence,
			"first_seen":   p.FirstSeen,
			"last_seen":    p.LastSeen,
		})
		if err != nil {
			return "", fmt.Errorf("render pattern: %w", err)
		}
		b.Write(line)
		b.WriteByte('\n')
	}

	if len(merchantContext) > 0 {
		rendered := merchantContext
		if a.redactor != nil {
			rendered = a.redactor.RedactMap(merchantContext)
		}
		ctxJSON, err := json.Marshal(rendered)
		if err != nil {
			return "", fmt.Errorf("render merchant context: %w", err)
		}
		b.WriteString("\n## Merchant context\n")
		b.Write(ctxJSON)
		b.WriteByte('\n')
	}

	b.WriteString("\nDiagnose the root cause.")
	return b.String(), nil
}

// llmAnalysis is the wire schema the model is asked to emit.
type llmAnalysis struct {
	Category           string               `json:"category"`
	Confidence         float64              `json:"confidence"`
	Reasoning          string               `json:"reasoning"`
	Evidence           []string             `json:"evidence"`
	RecommendedActions []string             `json:"recommended_actions"`
	Alternatives       []models.Alternative `json:"alternatives"`
}

// parseAnalysis decodes the model's reply, tolerating fenced code blocks.
func parseAnalysis(raw string) (*models.RootCauseAnalysis, error) {
	cleaned := stripFences(raw)
	var parsed llmAnalysis
	if err := json.Unmarshal([]byte(cleaned), &parsed); err != nil {
		return nil, fmt.Errorf("llm reply is not valid JSON: %w", err)
	}
	return &models.RootCauseAnalysis{
		Category:           models.RootCauseCategory(parsed.Category),
		Confidence:         parsed.Confidence,
		Reasoning:          parsed.Reasoning,
		Evidence:           parsed.Evidence,
		RecommendedActions: parsed.RecommendedActions,
		Alternatives:       parsed.Alternatives,
	}, nil
}

// stripFences removes a surrounding markdown code fence, with or without a
// language tag.
func stripFences(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	if idx := strings.IndexByte(trimmed, '\n'); idx >= 0 {
		first := strings.TrimSpace(trimmed[:idx])
		if len(first) <= 10 && !strings.ContainsAny(first, "{}") {
			trimmed = trimmed[idx+1:]
		}
	}
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}
