package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
	"time"
)

// PatternType classifies a correlation by the source of its signals.
type PatternType string

// Pattern types.
const (
	PatternAPIFailure          PatternType = "api_failure"
	PatternCheckoutIssue       PatternType = "checkout_issue"
	PatternWebhookProblem      PatternType = "webhook_problem"
	PatternMigrationStageIssue PatternType = "migration_stage_issue"
	PatternConfigError         PatternType = "config_error"
)

// PatternTypeValidator reports whether t is a known pattern type.
func PatternTypeValidator(t PatternType) error {
	switch t {
	case PatternAPIFailure, PatternCheckoutIssue, PatternWebhookProblem,
		PatternMigrationStageIssue, PatternConfigError:
		return nil
	}
	return fmt.Errorf("invalid pattern type: %q", t)
}

// PatternTypeForSource maps a signal source to the pattern type its
// correlations produce. The mapping is fixed.
func PatternTypeForSource(s SignalSource) PatternType {
	switch s {
	case SourceAPIFailure:
		return PatternAPIFailure
	case SourceCheckoutError:
		return PatternCheckoutIssue
	case SourceWebhookFailure:
		return PatternWebhookProblem
	case SourceSupportTicket:
		return PatternMigrationStageIssue
	default:
		return PatternConfigError
	}
}

// MaxPatternConfidence is the hard ceiling on pattern confidence.
const MaxPatternConfidence = 0.95

// patternIDPrefixLen is the number of hex chars kept from the SHA-256 seed.
const patternIDPrefixLen = 16

// PatternID derives a stable pattern id from a deterministic seed
// "{kind}_{signalType}_{discriminator}". Identical inputs always map to the
// same id, so re-detection updates instead of duplicating.
func PatternID(kind string, signalType SignalSource, discriminator string) string {
	seed := fmt.Sprintf("%s_%s_%s", kind, signalType, discriminator)
	sum := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(sum[:])[:patternIDPrefixLen]
}

// Pattern is a correlation over a minimum number of signals. Patterns are
// created by the detector, updated as new signals match, never deleted.
type Pattern struct {
	PatternID string      `json:"pattern_id" db:"pattern_id"`
	Type      PatternType `json:"pattern_type" db:"pattern_type"`

	SignalIDs   []string `json:"signal_ids"`
	MerchantIDs []string `json:"merchant_ids"`

	FirstSeen time.Time `json:"first_seen" db:"first_seen"`
	LastSeen  time.Time `json:"last_seen" db:"last_seen"`

	Confidence float64 `json:"confidence" db:"confidence"`
	Frequency  int     `json:"frequency" db:"frequency"`

	Characteristics map[string]any `json:"characteristics,omitempty"`

	// Version supports optimistic concurrency at the index layer.
	Version int64 `json:"-" db:"version"`
}

// AddSignal appends a signal to the pattern membership, deduplicating ids
// and keeping frequency == len(signal_ids).
func (p *Pattern) AddSignal(signalID, merchantID string, seen time.Time) {
	if !slices.Contains(p.SignalIDs, signalID) {
		p.SignalIDs = append(p.SignalIDs, signalID)
	}
	if merchantID != "" && !slices.Contains(p.MerchantIDs, merchantID) {
		p.MerchantIDs = append(p.MerchantIDs, merchantID)
	}
	p.Frequency = len(p.SignalIDs)
	if seen.After(p.LastSeen) {
		p.LastSeen = seen
	}
}

// Merge unions another pattern's membership into this one. Confidence is
// not touched; callers decide via RaiseConfidence.
func (p *Pattern) Merge(other *Pattern) {
	for _, id := range other.SignalIDs {
		if !slices.Contains(p.SignalIDs, id) {
			p.SignalIDs = append(p.SignalIDs, id)
		}
	}
	for _, m := range other.MerchantIDs {
		if m != "" && !slices.Contains(p.MerchantIDs, m) {
			p.MerchantIDs = append(p.MerchantIDs, m)
		}
	}
	p.Frequency = len(p.SignalIDs)
	if other.LastSeen.After(p.LastSeen) {
		p.LastSeen = other.LastSeen
	}
	if !other.FirstSeen.IsZero() && other.FirstSeen.Before(p.FirstSeen) {
		p.FirstSeen = other.FirstSeen
	}
}

// RaiseConfidence updates confidence, never lowering it and never exceeding
// the 0.95 ceiling. Confidence is monotonically non-decreasing on updates.
func (p *Pattern) RaiseConfidence(candidate float64) {
	if candidate > MaxPatternConfidence {
		candidate = MaxPatternConfidence
	}
	if candidate > p.Confidence {
		p.Confidence = candidate
	}
}

// CrossMerchant reports whether the pattern spans multiple merchants.
func (p *Pattern) CrossMerchant() bool {
	v, ok := p.Characteristics["cross_merchant"]
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// Validate checks pattern invariants: confidence bounds, frequency
// consistency, and the cross-merchant cardinality requirement.
func (p *Pattern) Validate() error {
	if p.PatternID == "" {
		return fmt.Errorf("pattern_id is required")
	}
	if err := PatternTypeValidator(p.Type); err != nil {
		return err
	}
	if p.Confidence < 0 || p.Confidence > MaxPatternConfidence {
		return fmt.Errorf("pattern confidence %f outside [0, %.2f]", p.Confidence, MaxPatternConfidence)
	}
	if p.Frequency != len(p.SignalIDs) {
		return fmt.Errorf("frequency %d != len(signal_ids) %d", p.Frequency, len(p.SignalIDs))
	}
	if p.CrossMerchant() && len(p.MerchantIDs) < 2 {
		return fmt.Errorf("cross_merchant pattern has %d merchants, need >= 2", len(p.MerchantIDs))
	}
	return nil
}
