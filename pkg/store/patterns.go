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

// PatternStore persists detected patterns with optimistic concurrency:
// concurrent updaters race on the version column, losers retry on fresh
// state instead of clobbering each other's membership updates.
type PatternStore struct {
	db *sqlx.DB
}

type patternRow struct {
	PatternID       string    `db:"pattern_id"`
	PatternType     string    `db:"pattern_type"`
	SignalIDs       []byte    `db:"signal_ids"`
	MerchantIDs     []byte    `db:"merchant_ids"`
	FirstSeen       time.Time `db:"first_seen"`
	LastSeen        time.Time `db:"last_seen"`
	Confidence      float64   `db:"confidence"`
	Frequency       int       `db:"frequency"`
	Characteristics []byte    `db:"characteristics"`
	Version         int64     `db:"version"`
}

func (r *patternRow) toModel() (*models.Pattern, error) {
	p := &models.Pattern{
		PatternID:  r.PatternID,
		Type:       models.PatternType(r.PatternType),
		FirstSeen:  r.FirstSeen,
		LastSeen:   r.LastSeen,
		Confidence: r.Confidence,
		Frequency:  r.Frequency,
		Version:    r.Version,
	}
	if err := fromJSONB(r.SignalIDs, &p.SignalIDs); err != nil {
		return nil, err
	}
	if err := fromJSONB(r.MerchantIDs, &p.MerchantIDs); err != nil {
		return nil, err
	}
	if err := fromJSONB(r.Characteristics, &p.Characteristics); err != nil {
		return nil, err
	}
	return p, nil
}

// Get returns one pattern by id.
func (s *PatternStore) Get(ctx context.Context, patternID string) (*models.Pattern, error) {
	var row patternRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM patterns WHERE pattern_id = $1`, patternID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get pattern: %w", err)
	}
	return row.toModel()
}

// Create inserts a new pattern at version 1.
func (s *PatternStore) Create(ctx context.Context, p *models.Pattern) error {
	signalIDs, err := toJSONB(p.SignalIDs)
	if err != nil {
		return err
	}
	merchantIDs, err := toJSONB(p.MerchantIDs)
	if err != nil {
		return err
	}
	chars, err := toJSONB(p.Characteristics)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO patterns (pattern_id, pattern_type, signal_ids, merchant_ids,
			first_seen, last_seen, confidence, frequency, characteristics, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 1)`,
		p.PatternID, p.Type, signalIDs, merchantIDs,
		p.FirstSeen, p.LastSeen, p.Confidence, p.Frequency, chars)
	if err != nil {
		return fmt.Errorf("create pattern: %w", err)
	}
	p.Version = 1
	return nil
}

// Update writes the pattern only if its version is unchanged since the read,
// returning ErrVersionConflict when a concurrent writer got there first.
func (s *PatternStore) Update(ctx context.Context, p *models.Pattern) error {
	signalIDs, err := toJSONB(p.SignalIDs)
	if err != nil {
		return err
	}
	merchantIDs, err := toJSONB(p.MerchantIDs)
	if err != nil {
		return err
	}
	chars, err := toJSONB(p.Characteristics)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE patterns
		SET signal_ids = $1, merchant_ids = $2, last_seen = $3,
			confidence = $4, frequency = $5, characteristics = $6,
			version = version + 1
		WHERE pattern_id = $7 AND version = $8`,
		signalIDs, merchantIDs, p.LastSeen,
		p.Confidence, p.Frequency, chars,
		p.PatternID, p.Version)
	if err != nil {
		return fmt.Errorf("update pattern: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrVersionConflict
	}
	p.Version++
	return nil
}

// ListActive returns patterns whose last_seen falls within the window,
// newest first.
func (s *PatternStore) ListActive(ctx context.Context, since time.Time, limit int) ([]*models.Pattern, error) {
	var rows []patternRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM patterns WHERE last_seen >= $1 ORDER BY last_seen DESC LIMIT $2`,
		since, limit)
	if err != nil {
		return nil, fmt.Errorf("list patterns: %w", err)
	}
	out := make([]*models.Pattern, 0, len(rows))
	for i := range rows {
		p, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}
