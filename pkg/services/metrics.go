package services

import (
	"context"
	"sync"
	"time"

	"github.com/commerceops/driftwatch/pkg/models"
	"github.com/commerceops/driftwatch/pkg/store"
)

// calibrationWindow bounds how far back outcome samples count.
const calibrationWindow = time.Hour

// minCalibrationSamples is the floor below which drift is not judged; a few
// unlucky actions must not trip safe mode.
const minCalibrationSamples = 10

// DriftChecker is fed the calibration numbers; the safe-mode detector
// implements it.
type DriftChecker interface {
	CheckConfidenceDrift(expected, actual float64) bool
}

// IssueCounter aggregates issue counts and deflection for the snapshot.
type IssueCounter interface {
	CountByStatusSince(ctx context.Context, since time.Time) (map[models.IssueStatus]int, error)
	ResolutionStatsSince(ctx context.Context, since time.Time) (*store.ResolutionStats, error)
}

// SignalCounter reports ingestion volume. May be absent; the performance
// block then carries no ingestion rate.
type SignalCounter interface {
	CountSince(ctx context.Context, since time.Time) (int64, error)
}

type outcomeSample struct {
	at         time.Time
	confidence float64
	success    bool
}

// Metrics tracks confidence calibration over executed actions and serves
// the operational snapshot. Decision confidence is a success prediction;
// when realized success rates drift from it, the safe-mode detector is told.
type Metrics struct {
	issues  IssueCounter
	signals SignalCounter
	drift   DriftChecker

	mu      sync.Mutex
	samples []outcomeSample
}

// NewMetrics creates the metrics service. signals and drift may be nil.
func NewMetrics(issues IssueCounter, signals SignalCounter, drift DriftChecker) *Metrics {
	return &Metrics{issues: issues, signals: signals, drift: drift}
}

// RecordOutcome feeds one executed action's predicted confidence and actual
// outcome into the calibration window.
func (m *Metrics) RecordOutcome(confidence float64, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples = append(m.samples, outcomeSample{
		at:         time.Now().UTC(),
		confidence: confidence,
		success:    success,
	})
}

// Calibration returns the windowed mean predicted confidence and realized
// success rate. ok is false when too few samples exist to judge.
func (m *Metrics) Calibration() (expected, actual float64, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prune(time.Now().UTC())

	if len(m.samples) < minCalibrationSamples {
		return 0, 0, false
	}
	var sum float64
	succeeded := 0
	for _, s := range m.samples {
		sum += s.confidence
		if s.success {
			succeeded++
		}
	}
	n := float64(len(m.samples))
	return sum / n, float64(succeeded) / n, true
}

// CheckDrift evaluates calibration and reports it to the safe-mode detector.
// Returns true when drift exceeded the threshold and safe mode was tripped.
func (m *Metrics) CheckDrift() bool {
	expected, actual, ok := m.Calibration()
	if !ok || m.drift == nil {
		return false
	}
	return m.drift.CheckConfidenceDrift(expected, actual)
}

// Run evaluates drift on the given interval until ctx is canceled.
func (m *Metrics) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.CheckDrift()
		}
	}
}

// prune drops samples older than the calibration window. Caller holds mu.
func (m *Metrics) prune(now time.Time) {
	cutoff := now.Add(-calibrationWindow)
	keep := m.samples[:0]
	for _, s := range m.samples {
		if s.at.After(cutoff) {
			keep = append(keep, s)
		}
	}
	m.samples = keep
}

// Snapshot is the operational status payload.
type Snapshot struct {
	IssuesByStatus map[models.IssueStatus]int `json:"issues_by_status"`
	Performance    *PerformanceReport         `json:"performance,omitempty"`
	Deflection     *DeflectionReport          `json:"deflection,omitempty"`
	Calibration    *CalibrationReport         `json:"calibration,omitempty"`
}

// PerformanceReport carries throughput and outcome numbers.
type PerformanceReport struct {
	SignalsPerMinute  float64 `json:"signals_per_minute"`
	ActionSuccessRate float64 `json:"action_success_rate"`
	ActiveIssues      int     `json:"active_issues"`
}

// DeflectionReport carries automated-vs-escalated resolution numbers.
type DeflectionReport struct {
	Automated             int     `json:"automated"`
	Escalated             int     `json:"escalated"`
	MeanResolutionMinutes float64 `json:"mean_resolution_minutes"`
}

// CalibrationReport carries the current calibration numbers.
type CalibrationReport struct {
	ExpectedConfidence float64 `json:"expected_confidence"`
	ActualSuccessRate  float64 `json:"actual_success_rate"`
	Samples            int     `json:"samples"`
}

// terminalStatuses are issue states with no further pipeline work.
var terminalStatuses = map[models.IssueStatus]bool{
	models.IssueActionExecuted: true,
	models.IssueActionFailed:   true,
	models.IssueRejected:       true,
	models.IssueFailed:         true,
}

// Status builds the snapshot over the last 24 hours of issues and the last
// hour of ingestion.
func (m *Metrics) Status(ctx context.Context) (*Snapshot, error) {
	now := time.Now().UTC()

	counts, err := m.issues.CountByStatusSince(ctx, now.Add(-24*time.Hour))
	if err != nil {
		return nil, err
	}
	snap := &Snapshot{IssuesByStatus: counts}

	perf := &PerformanceReport{ActionSuccessRate: m.successRate()}
	for status, n := range counts {
		if !terminalStatuses[status] {
			perf.ActiveIssues += n
		}
	}
	if m.signals != nil {
		n, err := m.signals.CountSince(ctx, now.Add(-time.Hour))
		if err != nil {
			return nil, err
		}
		perf.SignalsPerMinute = float64(n) / 60
	}
	snap.Performance = perf

	stats, err := m.issues.ResolutionStatsSince(ctx, now.Add(-24*time.Hour))
	if err != nil {
		return nil, err
	}
	snap.Deflection = &DeflectionReport{
		Automated:             stats.Automated,
		Escalated:             stats.Escalated,
		MeanResolutionMinutes: stats.MeanResolutionMinutes,
	}

	if expected, actual, ok := m.Calibration(); ok {
		m.mu.Lock()
		n := len(m.samples)
		m.mu.Unlock()
		snap.Calibration = &CalibrationReport{
			ExpectedConfidence: expected,
			ActualSuccessRate:  actual,
			Samples:            n,
		}
	}
	return snap, nil
}

// successRate is the realized success fraction across windowed samples,
// without the calibration sample floor. Zero when no actions ran.
func (m *Metrics) successRate() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prune(time.Now().UTC())
	if len(m.samples) == 0 {
		return 0
	}
	succeeded := 0
	for _, s := range m.samples {
		if s.success {
			succeeded++
		}
	}
	return float64(succeeded) / float64(len(m.samples))
}
