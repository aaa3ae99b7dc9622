package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/commerceops/driftwatch/pkg/models"
)

// IssueStore persists issue state across pipeline stages.
type IssueStore struct {
	db *sqlx.DB
}

type issueRow struct {
	IssueID    string    `db:"issue_id"`
	Status     string    `db:"status"`
	Severity   string    `db:"severity"`
	MerchantID string    `db:"merchant_id"`
	SignalIDs  []byte    `db:"signal_ids"`
	PatternIDs []byte    `db:"pattern_ids"`
	Analysis   []byte    `db:"analysis"`
	Decision   []byte    `db:"decision"`
	Actions    []byte    `db:"actions"`
	CreatedAt  time.Time `db:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"`
}

func (r *issueRow) toModel() (*models.IssueState, error) {
	issue := &models.IssueState{
		IssueID:    r.IssueID,
		Status:     models.IssueStatus(r.Status),
		Severity:   models.Severity(r.Severity),
		MerchantID: r.MerchantID,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
	if err := fromJSONB(r.SignalIDs, &issue.SignalIDs); err != nil {
		return nil, err
	}
	if err := fromJSONB(r.PatternIDs, &issue.PatternIDs); err != nil {
		return nil, err
	}
	if err := fromJSONB(r.Analysis, &issue.Analysis); err != nil {
		return nil, err
	}
	if err := fromJSONB(r.Decision, &issue.Decision); err != nil {
		return nil, err
	}
	if err := fromJSONB(r.Actions, &issue.Actions); err != nil {
		return nil, err
	}
	return issue, nil
}

func issueArgs(issue *models.IssueState) ([]any, error) {
	signalIDs, err := toJSONB(issue.SignalIDs)
	if err != nil {
		return nil, err
	}
	patternIDs, err := toJSONB(issue.PatternIDs)
	if err != nil {
		return nil, err
	}
	analysis, err := toJSONB(issue.Analysis)
	if err != nil {
		return nil, err
	}
	decision, err := toJSONB(issue.Decision)
	if err != nil {
		return nil, err
	}
	actions, err := toJSONB(issue.Actions)
	if err != nil {
		return nil, err
	}
	return []any{signalIDs, patternIDs, analysis, decision, actions}, nil
}

// Create inserts a new issue.
func (s *IssueStore) Create(ctx context.Context, issue *models.IssueState) error {
	jsonArgs, err := issueArgs(issue)
	if err != nil {
		return err
	}
	args := append([]any{issue.IssueID, issue.Status, issue.Severity, issue.MerchantID}, jsonArgs...)
	args = append(args, issue.CreatedAt, issue.UpdatedAt)
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO issues (issue_id, status, severity, merchant_id,
			signal_ids, pattern_ids, analysis, decision, actions, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`, args...)
	if err != nil {
		return fmt.Errorf("create issue: %w", err)
	}
	return nil
}

// Save overwrites the issue's mutable state.
func (s *IssueStore) Save(ctx context.Context, issue *models.IssueState) error {
	jsonArgs, err := issueArgs(issue)
	if err != nil {
		return err
	}
	args := append([]any{issue.Status, issue.Severity, issue.MerchantID}, jsonArgs...)
	args = append(args, issue.UpdatedAt, issue.IssueID)
	res, err := s.db.ExecContext(ctx, `
		UPDATE issues
		SET status = $1, severity = $2, merchant_id = $3,
			signal_ids = $4, pattern_ids = $5, analysis = $6,
			decision = $7, actions = $8, updated_at = $9
		WHERE issue_id = $10`, args...)
	if err != nil {
		return fmt.Errorf("save issue: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Get returns one issue by id.
func (s *IssueStore) Get(ctx context.Context, issueID string) (*models.IssueState, error) {
	var row issueRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM issues WHERE issue_id = $1`, issueID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get issue: %w", err)
	}
	return row.toModel()
}

// ListByStatus returns issues in the given status, most recent first.
func (s *IssueStore) ListByStatus(ctx context.Context, status models.IssueStatus, limit int) ([]*models.IssueState, error) {
	var rows []issueRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM issues WHERE status = $1 ORDER BY updated_at DESC LIMIT $2`,
		status, limit)
	if err != nil {
		return nil, fmt.Errorf("list issues: %w", err)
	}
	out := make([]*models.IssueState, 0, len(rows))
	for i := range rows {
		issue, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, issue)
	}
	return out, nil
}

// ResolutionStats aggregates deflection numbers over issues that reached a
// terminal or operator-facing state.
type ResolutionStats struct {
	Automated             int     `db:"automated"`
	Escalated             int     `db:"escalated"`
	MeanResolutionMinutes float64 `db:"mean_resolution_minutes"`
}

// ResolutionStatsSince computes deflection over issues updated after the
/// cutoff: automated resolutions vs. those handed to a human, and the mean
// minutes from creation to automated resolution.
func (s *IssueStore) ResolutionStatsSince(ctx context.Context, since time.Time) (*ResolutionStats, error) {
	var stats ResolutionStats
	err := s.db.GetContext(ctx, &stats, `
		SELECT
			COUNT(*) FILTER (WHERE status = 'action_executed') AS automated,
			COUNT(*) FILTER (WHERE status IN ('pending_approval', 'rejected', 'action_failed', 'failed')) AS escalated,
			COALESCE(AVG(EXTRACT(EPOCH FROM (updated_at - created_at)) / 60)
				FILTER (WHERE status = 'action_executed'), 0) AS mean_resolution_minutes
		FROM issues WHERE updated_at >= $1`, since)
	if err != nil {
		return nil, fmt.Errorf("resolution stats: %w", err)
	}
	return &stats, nil
}

// CountByStatusSince counts issues updated after the cutoff, per status.
// Feeds the metrics service.
func (s *IssueStore) CountByStatusSince(ctx context.Context, since time.Time) (map[models.IssueStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM issues WHERE updated_at >= $1 GROUP BY status`, since)
	if err != nil {
		return nil, fmt.Errorf("count issues: %w", err)
	}
	defer rows.Close()

	out := make(map[models.IssueStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[models.IssueStatus(status)] = n
	}
	return out, rows.Err()
}
