package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/commerceops/driftwatch/pkg/models"
	"github.com/commerceops/driftwatch/pkg/store"
)

type memApprovalRepo struct {
	approvals map[string]*store.Approval
}

func newMemApprovalRepo(approvals ...*store.Approval) *memApprovalRepo {
	repo := &memApprovalRepo{approvals: make(map[string]*store.Approval)}
	for _, a := range approvals {
		repo.approvals[a.ApprovalID] = a
	}
	return repo
}

func (r *memApprovalRepo) Get(_ context.Context, approvalID string) (*store.Approval, error) {
	a, ok := r.approvals[approvalID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return a, nil
}

func (r *memApprovalRepo) Resolve(_ context.Context, approvalID string, status store.ApprovalStatus, resolvedBy, comment string) error {
	a, ok := r.approvals[approvalID]
	if !ok || a.Status != store.ApprovalPending {
		return store.ErrNotFound
	}
	now := time.Now().UTC()
	a.Status = status
	a.ResolvedAt = &now
	a.ResolvedBy = resolvedBy
	a.Comment = comment
	return nil
}

func (r *memApprovalRepo) ListPending(_ context.Context, _ int) ([]*store.Approval, error) {
	var out []*store.Approval
	for _, a := range r.approvals {
		if a.Status == store.ApprovalPending {
			out = append(out, a)
		}
	}
	return out, nil
}

type memIssueRepo struct {
	issues map[string]*models.IssueState
}

func (r *memIssueRepo) Get(_ context.Context, issueID string) (*models.IssueState, error) {
	issue, ok := r.issues[issueID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return issue, nil
}

func (r *memIssueRepo) Save(_ context.Context, issue *models.IssueState) error {
	r.issues[issue.IssueID] = issue
	return nil
}

type stubRunner struct {
	result  *models.ActionResult
	actions []*models.Action
}

func (s *stubRunner) Execute(_ context.Context, action *models.Action) (*models.ActionResult, error) {
	s.actions = append(s.actions, action)
	r := *s.result
	r.ActionID = action.ActionID
	return &r, nil
}

type stubLedger struct{ events []string }

func (s *stubLedger) Record(_ context.Context, _, eventType, _ string, _, _ map[string]any, _ string) (*models.AuditEntry, error) {
	s.events = append(s.events, eventType)
	return &models.AuditEntry{}, nil
}

func pendingApproval() *store.Approval {
	return &store.Approval{
		ApprovalID: "apr-1",
		IssueID:    "iss-1",
		Status:     store.ApprovalPending,
		Decision: &models.Decision{
			DecisionID:       "dec-1",
			IssueID:          "iss-1",
			ActionType:       models.ActionTemporaryMitigation,
			RiskLevel:        models.RiskMedium,
			RequiresApproval: true,
			Confidence:       0.85,
			Reasoning:        "reversible fix",
			EstimatedOutcome: "service restored",
			Parameters:       map[string]any{"resource": "api_timeout"},
		},
		RequestedAt: time.Now().UTC(),
	}
}

func approvalHarness() (*Approvals, *memApprovalRepo, *memIssueRepo, *stubRunner, *stubLedger) {
	repo := newMemApprovalRepo(pendingApproval())
	issues := &memIssueRepo{issues: map[string]*models.IssueState{
		"iss-1": {
			IssueID:    "iss-1",
			Status:     models.IssuePendingApproval,
			MerchantID: "merchant-a",
			Decision:   &models.Decision{DecisionID: "dec-1", IssueID: "iss-1"},
		},
	}}
	runner := &stubRunner{result: &models.ActionResult{Success: true, ExecutedAt: time.Now().UTC()}}
	ledger := &stubLedger{}
	return NewApprovals(repo, issues, runner, ledger), repo, issues, runner, ledger
}

func TestApprove(t *testing.T) {
	svc, repo, issues, runner, ledger := approvalHarness()

	result, err := svc.Approve(context.Background(), "apr-1", "operator@example", "looks safe")
	require.NoError(t, err)
	assert.True(t, result.Success)

	require.Len(t, runner.actions, 1)
	assert.Equal(t, models.ActionTemporaryMitigation, runner.actions[0].Type)
	assert.Equal(t, "merchant-a", runner.actions[0].MerchantID)
	assert.Equal(t, "api", runner.actions[0].Parameters["resource_type"])

	assert.Equal(t, store.ApprovalApproved, repo.approvals["apr-1"].Status)
	assert.Equal(t, models.IssueActionExecuted, issues.issues["iss-1"].Status)
	require.Len(t, issues.issues["iss-1"].Actions, 1)
	assert.Equal(t, []string{"approval_resolved"}, ledger.events)
}

func TestApproveFailedActionTransitions(t *testing.T) {
	svc, _, issues, runner, _ := approvalHarness()
	runner.result = &models.ActionResult{Success: false, ErrorMessage: "rate limit exceeded"}

	result, err := svc.Approve(context.Background(), "apr-1", "operator@example", "")
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, models.IssueActionFailed, issues.issues["iss-1"].Status)
}

func TestReject(t *testing.T) {
	svc, repo, issues, runner, ledger := approvalHarness()

	require.NoError(t, svc.Reject(context.Background(), "apr-1", "operator@example", "too risky"))
	assert.Empty(t, runner.actions, "no execution on reject")
	assert.Equal(t, store.ApprovalRejected, repo.approvals["apr-1"].Status)
	assert.Equal(t, models.IssueRejected, issues.issues["iss-1"].Status)
	assert.Equal(t, "too risky", issues.issues["iss-1"].Decision.OperatorFeedback,
		"rejection comment lands on the decision record")
	assert.Equal(t, []string{"approval_resolved"}, ledger.events)
}

func TestResolveIsSingleShot(t *testing.T) {
	svc, _, _, _, _ := approvalHarness()
	ctx := context.Background()

	_, err := svc.Approve(ctx, "apr-1", "operator@example", "")
	require.NoError(t, err)

	_, err = svc.Approve(ctx, "apr-1", "second@example", "")
	assert.ErrorIs(t, err, ErrAlreadyResolved)
	assert.ErrorIs(t, svc.Reject(ctx, "apr-1", "second@example", ""), ErrAlreadyResolved)
}

func TestResolveValidation(t *testing.T) {
	svc, _, _, _, _ := approvalHarness()
	ctx := context.Background()

	_, err := svc.Approve(ctx, "apr-1", "", "")
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)

	_, err = svc.Approve(ctx, "no-such-approval", "operator@example", "")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

type stubDrift struct {
	calls   [][2]float64
	tripped bool
}

func (s *stubDrift) CheckConfidenceDrift(expected, actual float64) bool {
	s.calls = append(s.calls, [2]float64{expected, actual})
	return s.tripped
}

type stubCounter struct {
	counts map[models.IssueStatus]int
	stats  *store.ResolutionStats
}

func (s *stubCounter) CountByStatusSince(context.Context, time.Time) (map[models.IssueStatus]int, error) {
	return s.counts, nil
}

func (s *stubCounter) ResolutionStatsSince(context.Context, time.Time) (*store.ResolutionStats, error) {
	if s.stats == nil {
		return &store.ResolutionStats{}, nil
	}
	return s.stats, nil
}

func TestCalibration(t *testing.T) {
	m := NewMetrics(&stubCounter{}, nil, nil)

	t.Run("too few samples", func(t *testing.T) {
		m.RecordOutcome(0.9, true)
		_, _, ok := m.Calibration()
		assert.False(t, ok)
	})

	t.Run("window of outcomes", func(t *testing.T) {
		// 9 more samples at 0.8 predicted, 6 of them succeeding.
		for i := 0; i < 9; i++ {
			m.RecordOutcome(0.8, i < 6)
		}
		expected, actual, ok := m.Calibration()
		require.True(t, ok)
		assert.InDelta(t, 0.81, expected, 0.001) // (0.9 + 9*0.8) / 10
		assert.InDelta(t, 0.7, actual, 0.001)    // 7 of 10 succeeded
	})
}

func TestCheckDriftFeedsDetector(t *testing.T) {
	drift := &stubDrift{tripped: true}
	m := NewMetrics(&stubCounter{}, nil, drift)
	for i := 0; i < 12; i++ {
		m.RecordOutcome(0.9, i%2 == 0)
	}

	assert.True(t, m.CheckDrift())
	require.Len(t, drift.calls, 1)
	assert.InDelta(t, 0.9, drift.calls[0][0], 0.001)
	assert.InDelta(t, 0.5, drift.calls[0][1], 0.001)
}

type stubSignalCounter struct{ count int64 }

func (s *stubSignalCounter) CountSince(context.Context, time.Time) (int64, error) {
	return s.count, nil
}

func TestStatusSnapshot(t *testing.T) {
	counter := &stubCounter{
		counts: map[models.IssueStatus]int{
			models.IssueActionExecuted:  4,
			models.IssuePendingApproval: 1,
		},
		stats: &store.ResolutionStats{Automated: 4, Escalated: 1, MeanResolutionMinutes: 12.5},
	}
	m := NewMetrics(counter, &stubSignalCounter{count: 120}, nil)

	snap, err := m.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, snap.IssuesByStatus[models.IssueActionExecuted])
	assert.Nil(t, snap.Calibration, "no calibration with too few samples")

	require.NotNil(t, snap.Performance)
	assert.InDelta(t, 2.0, snap.Performance.SignalsPerMinute, 0.001)
	assert.Equal(t, 1, snap.Performance.ActiveIssues, "pending approval is still active")

	require.NotNil(t, snap.Deflection)
	assert.Equal(t, 4, snap.Deflection.Automated)
	assert.Equal(t, 1, snap.Deflection.Escalated)
	assert.InDelta(t, 12.5, snap.Deflection.MeanResolutionMinutes, 0.001)

	for i := 0; i < 10; i++ {
		m.RecordOutcome(0.8, true)
	}
	snap, err = m.Status(context.Background())
	require.NoError(t, err)
	require.NotNil(t, snap.Calibration)
	assert.Equal(t, 1.0, snap.Calibration.ActualSuccessRate)
	assert.Equal(t, 1.0, snap.Performance.ActionSuccessRate)
}
