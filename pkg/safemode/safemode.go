// Package safemode implements the system-wide write interlock. While
// active, the decision engine forces approval and the executor refuses to
// run; only an operator can deactivate.
package safemode

import (
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/commerceops/driftwatch/pkg/config"
)

// Reason tags for activation.
const (
	ReasonDatabaseLoss     = "DATABASE_CONNECTION_LOSS"
	ReasonBrokerLoss       = "KAFKA_BROKER_UNAVAILABLE"
	ReasonLLMQuota         = "CLAUDE_API_QUOTA_EXCEEDED"
	ReasonMultipleFailures = "MULTIPLE_SERVICE_FAILURES"
	ReasonConfidenceDrift  = "CONFIDENCE_DRIFT"
	ReasonExcessiveActions = "EXCESSIVE_ACTIONS"
	ReasonAnomaly          = "ANOMALOUS_BEHAVIOR"
	ReasonManual           = "MANUAL_ACTIVATION"
)

// criticalErrorReasons maps reported critical error types to reason tags.
var criticalErrorReasons = map[string]string{
	"database_connection_loss":  ReasonDatabaseLoss,
	"kafka_broker_unavailable":  ReasonBrokerLoss,
	"claude_api_quota_exceeded": ReasonLLMQuota,
	"multiple_service_failures": ReasonMultipleFailures,
}

// Status is a snapshot of the interlock for operator endpoints.
type Status struct {
	Active      bool       `json:"active"`
	Reason      string     `json:"reason,omitempty"`
	ActivatedAt *time.Time `json:"activated_at,omitempty"`
}

// Manager holds the interlock state. Activation is idempotent: while
// active, further activations are no-ops and the first reason is retained.
type Manager struct {
	mu          sync.RWMutex
	active      bool
	reason      string
	activatedAt time.Time

	onChange func(active bool, reason string)
}

// NewManager creates an inactive interlock. onChange may be nil; it fires
// on every state edge and is used for audit and notification.
func NewManager(onChange func(active bool, reason string)) *Manager {
	return &Manager{onChange: onChange}
}

// Active reports whether the interlock is engaged.
func (m *Manager) Active() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active
}

// StatusSnapshot returns the current state.
func (m *Manager) StatusSnapshot() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := Status{Active: m.active, Reason: m.reason}
	if m.active {
		t := m.activatedAt
		s.ActivatedAt = &t
	}
	return s
}

// Activate engages the interlock. A second activation while active is a
// no-op and keeps the original reason.
func (m *Manager) Activate(reason string) {
	m.mu.Lock()
	if m.active {
		m.mu.Unlock()
		return
	}
	m.active = true
	m.reason = reason
	m.activatedAt = time.Now().UTC()
	m.mu.Unlock()

	slog.Error("Safe mode ACTIVATED, automatic actions are blocked", "reason", reason)
	if m.onChange != nil {
		m.onChange(true, reason)
	}
}

// Deactivate releases the interlock. Requires an operator identity; returns
// the duration the interlock was engaged, or false if it was not active.
func (m *Manager) Deactivate(operator string) (time.Duration, bool) {
	m.mu.Lock()
	if !m.active {
		m.mu.Unlock()
		return 0, false
	}
	duration := time.Since(m.activatedAt)
	reason := m.reason
	m.active = false
	m.reason = ""
	m.mu.Unlock()

	slog.Warn("Safe mode deactivated by operator",
		"operator", operator, "was_reason", reason, "duration", duration)
	if m.onChange != nil {
		m.onChange(false, reason)
	}
	return duration, true
}

// Detector watches system behavior and trips the interlock.
type Detector struct {
	cfg     config.SafeModeConfig
	manager *Manager
}

// NewDetector creates a detector bound to a manager.
func NewDetector(cfg config.SafeModeConfig, manager *Manager) *Detector {
	return &Detector{cfg: cfg, manager: manager}
}

// ReportCriticalError trips the interlock for recognized critical error
// types. Unrecognized types are logged and ignored.
func (d *Detector) ReportCriticalError(errorType string) {
	reason, ok := criticalErrorReasons[errorType]
	if !ok {
		slog.Warn("Ignoring unrecognized critical error type", "error_type", errorType)
		return
	}
	d.manager.Activate(reason)
}

// CheckConfidenceDrift trips the interlock when predicted and observed
// outcome confidence diverge beyond the threshold.
func (d *Detector) CheckConfidenceDrift(expected, actual float64) bool {
	if math.Abs(expected-actual) > d.cfg.ConfidenceDriftThreshold {
		d.manager.Activate(ReasonConfidenceDrift)
		return true
	}
	return false
}

// CheckActionVolume trips the interlock when one (merchant, action) pair
// exceeds the excessive-action threshold in the rate window.
func (d *Detector) CheckActionVolume(count int) bool {
	if count > d.cfg.ExcessiveActionThreshold {
		d.manager.Activate(ReasonExcessiveActions)
		return true
	}
	return false
}

// ReportAnomaly trips the interlock on an arbitrary anomaly report.
func (d *Detector) ReportAnomaly(description string) {
	slog.Error("Anomaly reported", "description", description)
	d.manager.Activate(ReasonAnomaly)
}
