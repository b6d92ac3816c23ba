package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jlefkoff/VATSIM-EDST-API/internal/edst"
	"github.com/jlefkoff/VATSIM-EDST-API/pkg/logger"
)

// fixed width so started_at sorts as text
const passTimeLayout = "2006-01-02T15:04:05.000000000Z"

// PassStorage keeps a bounded history of reconciliation pass summaries.
// It is registered with the EDST service as a notifier.
type PassStorage struct {
	db      *sql.DB
	logger  *logger.Logger
	retain  int
	timeout time.Duration
}

// NewPassStorage creates the pass history table on db if needed. retain is
// the number of most recent passes kept.
func NewPassStorage(db *sql.DB, retain int, log *logger.Logger) (*PassStorage, error) {
	if retain <= 0 {
		retain = 1000
	}

	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS edst_passes (
			id TEXT PRIMARY KEY,
			started_at TEXT NOT NULL,
			duration_ms INTEGER NOT NULL,
			processed INTEGER NOT NULL,
			skipped INTEGER NOT NULL,
			updated INTEGER NOT NULL,
			rebuilt INTEGER NOT NULL,
			evicted INTEGER NOT NULL,
			errors INTEGER NOT NULL
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create edst_passes table: %w", err)
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_edst_passes_started_at ON edst_passes(started_at)`)
	if err != nil {
		return nil, fmt.Errorf("failed to create index on edst_passes.started_at: %w", err)
	}

	return &PassStorage{
		db:      db,
		logger:  log.Named("sqlite-passes"),
		retain:  retain,
		timeout: 5 * time.Second,
	}, nil
}

// Insert stores a pass summary and trims the history to the retention limit
func (s *PassStorage) Insert(ctx context.Context, summary edst.PassSummary) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO edst_passes
		(id, started_at, duration_ms, processed, skipped, updated, rebuilt, evicted, errors)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		summary.ID,
		summary.Time.UTC().Format(passTimeLayout),
		summary.DurationMS,
		summary.Processed,
		summary.Skipped,
		summary.Updated,
		summary.Rebuilt,
		summary.Evicted,
		summary.Errors,
	)
	if err != nil {
		return fmt.Errorf("failed to insert pass %s: %w", summary.ID, err)
	}

	_, err = tx.ExecContext(ctx, `
		DELETE FROM edst_passes WHERE id NOT IN (
			SELECT id FROM edst_passes ORDER BY started_at DESC LIMIT ?
		)`, s.retain)
	if err != nil {
		return fmt.Errorf("failed to trim pass history: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit pass %s: %w", summary.ID, err)
	}
	return nil
}

// Recent returns up to limit pass summaries, newest first
func (s *PassStorage) Recent(ctx context.Context, limit int) ([]edst.PassSummary, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, duration_ms, processed, skipped, updated, rebuilt, evicted, errors
		FROM edst_passes
		ORDER BY started_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query passes: %w", err)
	}
	defer rows.Close()

	passes := make([]edst.PassSummary, 0, limit)
	for rows.Next() {
		var p edst.PassSummary
		var started string
		if err := rows.Scan(&p.ID, &started, &p.DurationMS, &p.Processed, &p.Skipped, &p.Updated, &p.Rebuilt, &p.Evicted, &p.Errors); err != nil {
			return nil, fmt.Errorf("failed to scan pass row: %w", err)
		}
		t, err := time.ParseInLocation(passTimeLayout, started, time.UTC)
		if err != nil {
			s.logger.Warn("Failed to parse pass time",
				logger.String("id", p.ID),
				logger.Error(err))
		}
		p.Time = t
		passes = append(passes, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate passes: %w", err)
	}
	return passes, nil
}

// PublishUpdates is a no-op; only pass summaries are kept
func (s *PassStorage) PublishUpdates(records []*edst.Record) {}

// PublishRemovals is a no-op; only pass summaries are kept
func (s *PassStorage) PublishRemovals(callsigns []string) {}

// PublishPass stores the summary of a completed pass
func (s *PassStorage) PublishPass(summary edst.PassSummary) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if err := s.Insert(ctx, summary); err != nil {
		s.logger.Error("Failed to record pass",
			logger.String("pass_id", summary.ID),
			logger.Error(err))
	}
}
