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

// ApprovalStatus is the lifecycle of a pending approval request.
type ApprovalStatus string

// Approval statuses.
const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// Approval is a decision awaiting an operator verdict.
type Approval struct {
	ApprovalID  string           `json:"approval_id" db:"approval_id"`
	IssueID     string           `json:"issue_id" db:"issue_id"`
	Decision    *models.Decision `json:"decision"`
	Status      ApprovalStatus   `json:"status" db:"status"`
	RequestedAt time.Time        `json:"requested_at" db:"requested_at"`
	ResolvedAt  *time.Time       `json:"resolved_at,omitempty" db:"resolved_at"`
	ResolvedBy  string           `json:"resolved_by,omitempty" db:"resolved_by"`
	Comment     string           `json:"comment,omitempty" db:"comment"`
}

// ApprovalStore persists approval requests.
type ApprovalStore struct {
	db *sqlx.DB
}

type approvalRow struct {
	ApprovalID  string       `db:"approval_id"`
	IssueID     string       `db:"issue_id"`
	Decision    []byte       `db:"decision"`
	Status      string       `db:"status"`
	RequestedAt time.Time    `db:"requested_at"`
	ResolvedAt  sql.NullTime `db:"resolved_at"`
	ResolvedBy  string       `db:"resolved_by"`
	Comment     string       `db:"comment"`
}

func (r *approvalRow) toModel() (*Approval, error) {
	a := &Approval{
		ApprovalID:  r.ApprovalID,
		IssueID:     r.IssueID,
		Status:      ApprovalStatus(r.Status),
		RequestedAt: r.RequestedAt,
		ResolvedBy:  r.ResolvedBy,
		Comment:     r.Comment,
	}
	if r.ResolvedAt.Valid {
		t := r.ResolvedAt.Time
		a.ResolvedAt = &t
	}
	if err := fromJSONB(r.Decision, &a.Decision); err != nil {
		return nil, err
	}
	return a, nil
}

// Insert records a new pending approval.
func (s *ApprovalStore) Insert(ctx context.Context, a *Approval) error {
	decision, err := toJSONB(a.Decision)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO approvals (approval_id, issue_id, decision, status, requested_at)
		VALUES ($1, $2, $3, $4, $5)`,
		a.ApprovalID, a.IssueID, decision, a.Status, a.RequestedAt)
	if err != nil {
		return fmt.Errorf("insert approval: %w", err)
	}
	return nil
}

// Get returns one approval by id.
func (s *ApprovalStore) Get(ctx context.Context, approvalID string) (*Approval, error) {
	var row approvalRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM approvals WHERE approval_id = $1`, approvalID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get approval: %w", err)
	}
	return row.toModel()
}

// Resolve moves a pending approval to approved or rejected exactly once.
func (s *ApprovalStore) Resolve(ctx context.Context, approvalID string, status ApprovalStatus, resolvedBy, comment string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE approvals
		SET status = $1, resolved_at = $2, resolved_by = $3, comment = $4
		WHERE approval_id = $5 AND status = $6`,
		status, time.Now().UTC(), resolvedBy, comment, approvalID, ApprovalPending)
	if err != nil {
		return fmt.Errorf("resolve approval: %w", err)
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

// ListPending returns unresolved approvals, oldest first.
func (s *ApprovalStore) ListPending(ctx context.Context, limit int) ([]*Approval, error) {
	var rows []approvalRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM approvals WHERE status = $1 ORDER BY requested_at ASC LIMIT $2`,
		ApprovalPending, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending approvals: %w", err)
	}
	out := make([]*Approval, 0, len(rows))
	for i := range rows {
		a, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}
