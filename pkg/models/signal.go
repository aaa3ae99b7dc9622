// Package models defines the canonical domain types shared across the
// pipeline: signals, patterns, analyses, decisions, actions, audit entries,
// and issue state.
package models

import (
	"fmt"
	"time"
	"unicode/utf8"
)

// SignalSource identifies the external system a signal originated from.
type SignalSource string

// Signal sources.
const (
	SourceSupportTicket  SignalSource = "support_ticket"
	SourceAPIFailure     SignalSource = "api_failure"
	SourceCheckoutError  SignalSource = "checkout_error"
	SourceWebhookFailure SignalSource = "webhook_failure"
)

// Severity classifies signal impact.
type Severity string

// Severity levels, ordered low to critical.
const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// MaxErrorMessageLen is the stored length limit for error messages.
// Longer messages are truncated at ingestion.
const MaxErrorMessageLen = 500

// SourceValidator reports whether s is a known signal source.
func SourceValidator(s SignalSource) error {
	switch s {
	case SourceSupportTicket, SourceAPIFailure, SourceCheckoutError, SourceWebhookFailure:
		return nil
	}
	return fmt.Errorf("invalid signal source: %q", s)
}

// SeverityValidator reports whether s is a known severity.
func SeverityValidator(s Severity) error {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return nil
	}
	return fmt.Errorf("invalid severity: %q", s)
}

// severityRank orders severities for comparisons.
var severityRank = map[Severity]int{
	SeverityLow:      0,
	SeverityMedium:   1,
	SeverityHigh:     2,
	SeverityCritical: 3,
}

// AtLeast reports whether s is at least as severe as other.
func (s Severity) AtLeast(other Severity) bool {
	return severityRank[s] >= severityRank[other]
}

// Signal is the canonical atomic observation. Created at ingestion and
// immutable thereafter.
type Signal struct {
	SignalID  string    `json:"signal_id" db:"signal_id"`
	Timestamp time.Time `json:"timestamp" db:"timestamp"`

	Source  SignalSource   `json:"source" db:"source"`
	RawData map[string]any `json:"raw_data" db:"-"`

	MerchantID       string `json:"merchant_id" db:"merchant_id"`
	MigrationStage   string `json:"migration_stage,omitempty" db:"migration_stage"`
	AffectedResource string `json:"affected_resource,omitempty" db:"affected_resource"`

	Severity Severity `json:"severity" db:"severity"`

	ErrorCode    string         `json:"error_code,omitempty" db:"error_code"`
	ErrorMessage string         `json:"error_message,omitempty" db:"error_message"`
	Context      map[string]any `json:"context,omitempty" db:"-"`
}

// Validate checks the signal's closed enums and required fields.
func (s *Signal) Validate() error {
	if s.SignalID == "" {
		return fmt.Errorf("signal_id is required")
	}
	if s.MerchantID == "" {
		return fmt.Errorf("merchant_id is required (use %q if unresolvable)", UnknownMerchant)
	}
	if err := SourceValidator(s.Source); err != nil {
		return err
	}
	if err := SeverityValidator(s.Severity); err != nil {
		return err
	}
	if utf8.RuneCountInString(s.ErrorMessage) > MaxErrorMessageLen {
		return fmt.Errorf("error_message exceeds %d chars (must be truncated at ingestion)", MaxErrorMessageLen)
	}
	return nil
}

// UnknownMerchant is the merchant id assigned when the source payload does
// not resolve to a merchant.
const UnknownMerchant = "unknown"

// TruncateErrorMessage enforces the storage limit on free-form error text.
// The cut is rune-based so multi-byte text stays valid UTF-8.
func TruncateErrorMessage(msg string) string {
	if len(msg) <= MaxErrorMessageLen {
		return msg
	}
	runes := []rune(msg)
	if len(runes) <= MaxErrorMessageLen {
		return msg
	}
	return string(runes[:MaxErrorMessageLen])
}
