package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/commerceops/driftwatch/pkg/models"
)

func newMockClient(t *testing.T) (*Client, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewClientFromDB(sqlx.NewDb(db, "sqlmock")), mock
}

func TestSignalInsert(t *testing.T) {
	c, mock := newMockClient(t)

	mock.ExpectExec(`INSERT INTO signals`).
		WithArgs("sig-1", sqlmock.AnyArg(), "api_failure", "merchant-a", "cutover",
			"/v1/orders", "high", "429", "rate limited", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := c.Signals.Insert(context.Background(), &models.Signal{
		SignalID:         "sig-1",
		Timestamp:        time.Now().UTC(),
		Source:           models.SourceAPIFailure,
		MerchantID:       "merchant-a",
		MigrationStage:   "cutover",
		AffectedResource: "/v1/orders",
		Severity:         models.SeverityHigh,
		ErrorCode:        "429",
		ErrorMessage:     "rate limited",
		RawData:          map[string]any{"status_code": 429},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPatternUpdateVersionConflict(t *testing.T) {
	c, mock := newMockClient(t)

	p := &models.Pattern{
		PatternID:  "pat-1",
		Type:       models.PatternAPIFailure,
		SignalIDs:  []string{"s1", "s2"},
		Frequency:  2,
		Confidence: 0.6,
		Version:    3,
	}

	t.Run("stale version returns conflict", func(t *testing.T) {
		mock.ExpectExec(`UPDATE patterns`).
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := c.Patterns.Update(context.Background(), p)
		assert.ErrorIs(t, err, ErrVersionConflict)
		assert.EqualValues(t, 3, p.Version, "version unchanged on conflict")
	})

	t.Run("successful update bumps version", func(t *testing.T) {
		mock.ExpectExec(`UPDATE patterns`).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, c.Patterns.Update(context.Background(), p))
		assert.EqualValues(t, 4, p.Version)
	})

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditLastEmptyChain(t *testing.T) {
	c, mock := newMockClient(t)

	mock.ExpectQuery(`SELECT \* FROM audit_entries`).
		WithArgs("iss-1").
		WillReturnRows(sqlmock.NewRows([]string{"audit_id"}))

	_, err := c.Audit.Last(context.Background(), "iss-1")
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestConfigChangeDoubleRollbackRejected(t *testing.T) {
	c, mock := newMockClient(t)

	mock.ExpectExec(`UPDATE config_changes`).
		WithArgs("chg-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, c.ConfigChanges.MarkRolledBack(context.Background(), "chg-1"))

	// Second rollback matches no rows because rolled_back is already TRUE.
	mock.ExpectExec(`UPDATE config_changes`).
		WithArgs("chg-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	err := c.ConfigChanges.MarkRolledBack(context.Background(), "chg-1")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSignalCountSince(t *testing.T) {
	c, mock := newMockClient(t)

	since := time.Now().UTC().Add(-time.Hour)
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM signals`).
		WithArgs(since).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(120))

	n, err := c.Signals.CountSince(context.Background(), since)
	require.NoError(t, err)
	assert.EqualValues(t, 120, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIssueResolutionStats(t *testing.T) {
	c, mock := newMockClient(t)

	since := time.Now().UTC().Add(-24 * time.Hour)
	mock.ExpectQuery(`FROM issues`).
		WithArgs(since).
		WillReturnRows(sqlmock.NewRows([]string{"automated", "escalated", "mean_resolution_minutes"}).
			AddRow(7, 2, 18.5))

	stats, err := c.Issues.ResolutionStatsSince(context.Background(), since)
	require.NoError(t, err)
	assert.Equal(t, 7, stats.Automated)
	assert.Equal(t, 2, stats.Escalated)
	assert.InDelta(t, 18.5, stats.MeanResolutionMinutes, 0.001)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApprovalResolveOnlyPending(t *testing.T) {
	c, mock := newMockClient(t)

	mock.ExpectExec(`UPDATE approvals`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := c.Approvals.Resolve(context.Background(), "apr-1", ApprovalApproved, "operator@example", "ok")
	assert.ErrorIs(t, err, ErrNotFound, "resolving a non-pending approval is rejected")
	require.NoError(t, mock.ExpectationsWereMet())
}
