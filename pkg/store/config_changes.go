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

// ConfigChangeStore persists applied configuration changes and their
// rollback snapshots.
type ConfigChangeStore struct {
	db *sqlx.DB
}

type configChangeRow struct {
	ChangeID       string    `db:"change_id"`
	BeforeSnapshot []byte    `db:"before_snapshot"`
	AfterSnapshot  []byte    `db:"after_snapshot"`
	Changes        []byte    `db:"changes"`
	Reason         string    `db:"reason"`
	AppliedBy      string    `db:"applied_by"`
	AppliedAt      time.Time `db:"applied_at"`
	RolledBack     bool      `db:"rolled_back"`
}

func (r *configChangeRow) toModel() (*models.ConfigChange, error) {
	c := &models.ConfigChange{
		ChangeID:   r.ChangeID,
		Reason:     r.Reason,
		AppliedBy:  r.AppliedBy,
		AppliedAt:  r.AppliedAt,
		RolledBack: r.RolledBack,
	}
	if err := fromJSONB(r.BeforeSnapshot, &c.BeforeSnapshot); err != nil {
		return nil, err
	}
	if err := fromJSONB(r.AfterSnapshot, &c.AfterSnapshot); err != nil {
		return nil, err
	}
	if err := fromJSONB(r.Changes, &c.Changes); err != nil {
		return nil, err
	}
	return c, nil
}

// Insert records an applied change.
func (s *ConfigChangeStore) Insert(ctx context.Context, c *models.ConfigChange) error {
	before, err := toJSONB(c.BeforeSnapshot)
	if err != nil {
		return err
	}
	after, err := toJSONB(c.AfterSnapshot)
	if err != nil {
		return err
	}
	changes, err := toJSONB(c.Changes)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO config_changes (change_id, before_snapshot, after_snapshot,
			changes, reason, applied_by, applied_at, rolled_back)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		c.ChangeID, before, after, changes, c.Reason, c.AppliedBy, c.AppliedAt, c.RolledBack)
	if err != nil {
		return fmt.Errorf("insert config change: %w", err)
	}
	return nil
}

// Get returns one change by id.
func (s *ConfigChangeStore) Get(ctx context.Context, changeID string) (*models.ConfigChange, error) {
	var row configChangeRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM config_changes WHERE change_id = $1`, changeID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get config change: %w", err)
	}
	return row.toModel()
}

// MarkRolledBack flips the rollback flag exactly once; a second rollback
// attempt returns ErrNotFound so callers fail loudly instead of re-applying
// stale state.
func (s *ConfigChangeStore) MarkRolledBack(ctx context.Context, changeID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE config_changes SET rolled_back = TRUE
		WHERE change_id = $1 AND rolled_back = FALSE`, changeID)
	if err != nil {
		return fmt.Errorf("mark rolled back: %w", err)
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
