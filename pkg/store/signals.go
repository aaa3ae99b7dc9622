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

// SignalStore persists normalized signals.
type SignalStore struct {
	db *sqlx.DB
}

type signalRow struct {
	SignalID         string    `db:"signal_id"`
	TS               time.Time `db:"ts"`
	Source           string    `db:"source"`
	MerchantID       string    `db:"merchant_id"`
	MigrationStage   string    `db:"migration_stage"`
	AffectedResource string    `db:"affected_resource"`
	Severity         string    `db:"severity"`
	ErrorCode        string    `db:"error_code"`
	ErrorMessage     string    `db:"error_message"`
	RawData          []byte    `db:"raw_data"`
	Context          []byte    `db:"context"`
}

func (r *signalRow) toModel() (*models.Signal, error) {
	sig := &models.Signal{
		SignalID:         r.SignalID,
		Timestamp:        r.TS,
		Source:           models.SignalSource(r.Source),
		MerchantID:       r.MerchantID,
		MigrationStage:   r.MigrationStage,
		AffectedResource: r.AffectedResource,
		Severity:         models.Severity(r.Severity),
		ErrorCode:        r.ErrorCode,
		ErrorMessage:     r.ErrorMessage,
	}
	if err := fromJSONB(r.RawData, &sig.RawData); err != nil {
		return nil, err
	}
	if err := fromJSONB(r.Context, &sig.Context); err != nil {
		return nil, err
	}
	return sig, nil
}

// Insert stores a signal. Signals are immutable; duplicate ids error.
func (s *SignalStore) Insert(ctx context.Context, sig *models.Signal) error {
	rawData, err := toJSONB(sig.RawData)
	if err != nil {
		return err
	}
	sigCtx, err := toJSONB(sig.Context)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO signals (signal_id, ts, source, merchant_id, migration_stage,
			affected_resource, severity, error_code, error_message, raw_data, context)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		sig.SignalID, sig.Timestamp, sig.Source, sig.MerchantID, sig.MigrationStage,
		sig.AffectedResource, sig.Severity, sig.ErrorCode, sig.ErrorMessage, rawData, sigCtx)
	if err != nil {
		return fmt.Errorf("insert signal: %w", err)
	}
	return nil
}

// CountSince counts signals ingested after the cutoff. Feeds the metrics
// service's ingestion rate.
func (s *SignalStore) CountSince(ctx context.Context, since time.Time) (int64, error) {
	var n int64
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM signals WHERE ts >= $1`, since); err != nil {
		return 0, fmt.Errorf("count signals: %w", err)
	}
	return n, nil
}

// Get returns one signal by id.
func (s *SignalStore) Get(ctx context.Context, signalID string) (*models.Signal, error) {
	var row signalRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM signals WHERE signal_id = $1`, signalID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get signal: %w", err)
	}
	return row.toModel()
}

// GetByIDs returns signals for the given ids, in no particular order.
func (s *SignalStore) GetByIDs(ctx context.Context, ids []string) ([]*models.Signal, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`SELECT * FROM signals WHERE signal_id IN (?)`, ids)
	if err != nil {
		return nil, err
	}
	var rows []signalRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("get signals: %w", err)
	}
	out := make([]*models.Signal, 0, len(rows))
	for i := range rows {
		sig, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, sig)
	}
	return out, nil
}

// minSimilarity is the pg_trgm threshold for two error messages to count as
// the same failure mode.
const minSimilarity = 0.7

// SimilarSignals finds stored signals resembling the given one: exact
// error-code matches, plus trigram-similar error messages. Used by the
// detector to extend patterns beyond the in-memory window.
func (s *SignalStore) SimilarSignals(ctx context.Context, sig *models.Signal, since time.Time, limit int) ([]*models.Signal, error) {
	var rows []signalRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM signals
		WHERE ts >= $1
		  AND signal_id <> $2
		  AND source = $3
		  AND (
			($4 <> '' AND error_code = $4)
			OR ($5 <> '' AND similarity(error_message, $5) >= $6)
		  )
		ORDER BY ts DESC
		LIMIT $7`,
		since, sig.SignalID, sig.Source, sig.ErrorCode, sig.ErrorMessage, minSimilarity, limit)
	if err != nil {
		return nil, fmt.Errorf("similar signals: %w", err)
	}
	out := make([]*models.Signal, 0, len(rows))
	for i := range rows {
		m, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}
