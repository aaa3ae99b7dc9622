package analyzer

import (
	"fmt"
	"strings"

	"github.com/commerceops/driftwatch/pkg/models"
)

// ruleMatch is the outcome of one classification rule.
type ruleMatch struct {
	name       string
	category   models.RootCauseCategory
	confidence float64
	evidence   string
}

// keyword sets for the deterministic classifier. Matching is
// case-insensitive substring containment over error codes and messages.
var (
	authKeywords   = []string{"401", "403", "unauthorized", "forbidden", "auth"}
	configKeywords = []string{"config", "configuration", "setting", "environment", "variable"}
	docsKeywords   = []string{"unclear", "missing", "documentation", "docs", "guide", "tutorial", "example"}
)

// classify applies the fallback rules in order; first match wins.
func classify(signals []*models.Signal, patterns []*models.Pattern) ruleMatch {
	// Rule 1: authentication and authorization failures point at credentials
	// not carried over during migration.
	for _, sig := range signals {
		if containsAny(sig.ErrorCode, authKeywords) || containsAny(sig.ErrorMessage, authKeywords) {
			return ruleMatch{
				name:       "auth_failure",
				category:   models.CategoryMigrationMisstep,
				confidence: 0.75,
				evidence:   fmt.Sprintf("signal %s carries an authentication failure marker", sig.SignalID),
			}
		}
	}

	// Rule 2: explicit configuration vocabulary in the message.
	for _, sig := range signals {
		if containsAny(sig.ErrorMessage, configKeywords) {
			return ruleMatch{
				name:       "config_vocabulary",
				category:   models.CategoryConfigError,
				confidence: 0.70,
				evidence:   fmt.Sprintf("signal %s mentions configuration", sig.SignalID),
			}
		}
	}

	// Rule 3: webhook failures are almost always endpoint misconfiguration.
	for _, sig := range signals {
		if sig.Source == models.SourceWebhookFailure {
			return ruleMatch{
				name:       "webhook_failure",
				category:   models.CategoryConfigError,
				confidence: 0.65,
				evidence:   fmt.Sprintf("signal %s is a webhook delivery failure", sig.SignalID),
			}
		}
	}

	// Rule 4: 404/405 split on frequency: widespread missing endpoints look
	// like a platform change, isolated ones like a bad migration.
	for _, sig := range signals {
		if strings.Contains(sig.ErrorCode, "404") || strings.Contains(sig.ErrorCode, "405") {
			for _, p := range patterns {
				if p.Frequency > 5 {
					return ruleMatch{
						name:       "missing_endpoint_widespread",
						category:   models.CategoryPlatformRegression,
						confidence: 0.68,
						evidence:   fmt.Sprintf("pattern %s repeats a missing-endpoint error %d times", p.PatternID, p.Frequency),
					}
				}
			}
			return ruleMatch{
				name:       "missing_endpoint_isolated",
				category:   models.CategoryMigrationMisstep,
				confidence: 0.65,
				evidence:   fmt.Sprintf("signal %s hit a missing endpoint", sig.SignalID),
			}
		}
	}

	// Rule 5: checkout errors during migration default to migration steps.
	for _, sig := range signals {
		if sig.Source == models.SourceCheckoutError {
			return ruleMatch{
				name:       "checkout_error",
				category:   models.CategoryMigrationMisstep,
				confidence: 0.60,
				evidence:   fmt.Sprintf("signal %s is a checkout failure", sig.SignalID),
			}
		}
	}

	// Rule 6: many merchants hitting the same pattern implicates the platform.
	for _, p := range patterns {
		if len(p.MerchantIDs) > 3 {
			return ruleMatch{
				name:       "multi_merchant",
				category:   models.CategoryPlatformRegression,
				confidence: 0.70,
				evidence:   fmt.Sprintf("pattern %s spans %d merchants", p.PatternID, len(p.MerchantIDs)),
			}
		}
	}

	// Rule 7: vocabulary suggesting the merchant could not find guidance.
	for _, sig := range signals {
		if containsAny(sig.ErrorMessage, docsKeywords) {
			return ruleMatch{
				name:       "documentation_vocabulary",
				category:   models.CategoryDocumentationGap,
				confidence: 0.60,
				evidence:   fmt.Sprintf("signal %s suggests missing guidance", sig.SignalID),
			}
		}
	}

	return ruleMatch{
		name:       "default",
		category:   models.CategoryMigrationMisstep,
		confidence: 0.50,
		evidence:   "no classification rule matched; defaulting to migration misstep",
	}
}

func containsAny(s string, keywords []string) bool {
	if s == "" {
		return false
	}
	lower := strings.ToLower(s)
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// fallbackAnalysis builds a complete RootCauseAnalysis from a rule match.
// The alternatives list always records that other categories were
// considered, so consumers can tell a rule verdict from an LLM one.
func fallbackAnalysis(match ruleMatch, signals []*models.Signal) *models.RootCauseAnalysis {
	actions := recommendedActionsFor(match.category)
	return &models.RootCauseAnalysis{
		Category:   match.category,
		Confidence: match.confidence,
		Reasoning: fmt.Sprintf("Rule-based classification (%s): %s. %d signal(s) examined.",
			match.name, match.evidence, len(signals)),
		Evidence:           []string{match.evidence},
		RecommendedActions: actions,
		Alternatives: []models.Alternative{{
			Hypothesis:     "other root-cause categories",
			ReasonRejected: fmt.Sprintf("rule %s matched first in the ordered rule set", match.name),
		}},
	}
}

func recommendedActionsFor(category models.RootCauseCategory) []string {
	switch category {
	case models.CategoryConfigError:
		return []string{
			"Review the merchant's webhook and API configuration against the migration checklist",
			"Compare current settings with the pre-migration snapshot",
		}
	case models.CategoryPlatformRegression:
		return []string{
			"Escalate to the platform engineering team with the correlated pattern",
			"Check recent platform deployments against the pattern's first_seen time",
		}
	case models.CategoryDocumentationGap:
		return []string{
			"File a documentation update covering the failing workflow",
			"Send the merchant the closest existing guide as an interim answer",
		}
	default:
		return []string{
			"Walk the merchant through the affected migration step",
			"Verify credentials and endpoints created during migration",
		}
	}
}
