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

// AuditStore persists the append-only audit log. Rows are never updated or
// deleted; the seq column fixes chain order per issue.
type AuditStore struct {
	db *sqlx.DB
}

type auditRow struct {
	AuditID      string    `db:"audit_id"`
	TS           time.Time `db:"ts"`
	IssueID      string    `db:"issue_id"`
	EventType    string    `db:"event_type"`
	Actor        string    `db:"actor"`
	Inputs       []byte    `db:"inputs"`
	Outputs      []byte    `db:"outputs"`
	Reasoning    string    `db:"reasoning"`
	Hash         string    `db:"hash"`
	PreviousHash string    `db:"previous_hash"`
	Seq          int64     `db:"seq"`
}

func (r *auditRow) toModel() (*models.AuditEntry, error) {
	e := &models.AuditEntry{
		AuditID:      r.AuditID,
		Timestamp:    r.TS,
		IssueID:      r.IssueID,
		EventType:    r.EventType,
		Actor:        r.Actor,
		Reasoning:    r.Reasoning,
		Hash:         r.Hash,
		PreviousHash: r.PreviousHash,
	}
	if err := fromJSONB(r.Inputs, &e.Inputs); err != nil {
		return nil, err
	}
	if err := fromJSONB(r.Outputs, &e.Outputs); err != nil {
		return nil, err
	}
	return e, nil
}

// Insert appends one entry.
func (s *AuditStore) Insert(ctx context.Context, e *models.AuditEntry) error {
	inputs, err := toJSONB(e.Inputs)
	if err != nil {
		return err
	}
	outputs, err := toJSONB(e.Outputs)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_entries (audit_id, ts, issue_id, event_type, actor,
			inputs, outputs, reasoning, hash, previous_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		e.AuditID, e.Timestamp, e.IssueID, e.EventType, e.Actor,
		inputs, outputs, e.Reasoning, e.Hash, e.PreviousHash)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// Last returns the newest entry for an issue, or ErrNotFound for a fresh
// chain.
func (s *AuditStore) Last(ctx context.Context, issueID string) (*models.AuditEntry, error) {
	var row auditRow
	err := s.db.GetContext(ctx, &row, `
		SELECT * FROM audit_entries WHERE issue_id = $1 ORDER BY seq DESC LIMIT 1`, issueID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("last audit entry: %w", err)
	}
	return row.toModel()
}

// ListByIssue returns an issue's full chain in insertion order.
func (s *AuditStore) ListByIssue(ctx context.Context, issueID string) ([]*models.AuditEntry, error) {
	var rows []auditRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM audit_entries WHERE issue_id = $1 ORDER BY seq ASC`, issueID)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	out := make([]*models.AuditEntry, 0, len(rows))
	for i := range rows {
		e, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}
