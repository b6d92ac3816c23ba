package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jlefkoff/VATSIM-EDST-API/internal/edst"
	"github.com/jlefkoff/VATSIM-EDST-API/pkg/logger"
	_ "modernc.org/sqlite"
)

// RecordStorage is a SQLite-based store for EDST records. Each record is kept
// as one JSON document keyed by callsign.
type RecordStorage struct {
	db     *sql.DB
	logger *logger.Logger
}

// Open opens the database at dbPath and prepares it for concurrent readers
func Open(dbPath string, log *logger.Logger) (*sql.DB, error) {
	log.Info("Opening SQLite database",
		logger.String("path", dbPath))

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA cache_size=10000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	return db, nil
}

// NewRecordStorage creates the record table on db if needed
func NewRecordStorage(db *sql.DB, log *logger.Logger) (*RecordStorage, error) {
	storageLogger := log.Named("sqlite")

	if err := initRecordTable(db, storageLogger); err != nil {
		return nil, err
	}

	return &RecordStorage{
		db:     db,
		logger: storageLogger,
	}, nil
}

// Close closes the database connection
func (s *RecordStorage) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func initRecordTable(db *sql.DB, log *logger.Logger) error {
	log.Info("Initializing record schema")

	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS edst_records (
			callsign TEXT PRIMARY KEY,
			cid TEXT NOT NULL,
			update_time TEXT NOT NULL,
			document TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create edst_records table: %w", err)
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_edst_records_update_time ON edst_records(update_time)`)
	if err != nil {
		return fmt.Errorf("failed to create index on edst_records.update_time: %w", err)
	}

	return nil
}

// Upsert inserts or replaces the record for its callsign
func (s *RecordStorage) Upsert(ctx context.Context, record *edst.Record) error {
	doc, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode record %s: %w", record.Callsign, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO edst_records (callsign, cid, update_time, document)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(callsign) DO UPDATE SET
			cid = excluded.cid,
			update_time = excluded.update_time,
			document = excluded.document
	`, record.Callsign, record.CID, record.UpdateTime, string(doc))
	if err != nil {
		return fmt.Errorf("failed to upsert record %s: %w", record.Callsign, err)
	}
	return nil
}

// Get returns the record for callsign, or edst.ErrNotFound
func (s *RecordStorage) Get(ctx context.Context, callsign string) (*edst.Record, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT document FROM edst_records WHERE callsign = ?`, callsign).Scan(&doc)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", edst.ErrNotFound, callsign)
		}
		return nil, fmt.Errorf("failed to query record %s: %w", callsign, err)
	}
	return decodeRecord(doc)
}

// Delete removes the record for callsign. Deleting a missing record is not an error.
func (s *RecordStorage) Delete(ctx context.Context, callsign string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM edst_records WHERE callsign = ?`, callsign); err != nil {
		return fmt.Errorf("failed to delete record %s: %w", callsign, err)
	}
	return nil
}

// All returns every record ordered by callsign. A row whose document fails to
// decode comes back as a placeholder holding only the callsign, cid and
// update_time columns, so its CID stays reserved and the row can still expire.
func (s *RecordStorage) All(ctx context.Context) ([]*edst.Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT callsign, cid, update_time, document FROM edst_records ORDER BY callsign`)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	records := make([]*edst.Record, 0)
	for rows.Next() {
		var callsign, cid, updateTime, doc string
		if err := rows.Scan(&callsign, &cid, &updateTime, &doc); err != nil {
			return nil, fmt.Errorf("failed to scan record row: %w", err)
		}
		rec, err := decodeRecord(doc)
		if err != nil {
			s.logger.Warn("Unreadable record document, keeping placeholder",
				logger.String("callsign", callsign),
				logger.Error(err))
			rec = &edst.Record{Callsign: callsign, CID: cid, UpdateTime: updateTime}
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate records: %w", err)
	}
	return records, nil
}

// Count returns the number of stored records
func (s *RecordStorage) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM edst_records`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return n, nil
}

func decodeRecord(doc string) (*edst.Record, error) {
	var rec edst.Record
	if err := json.Unmarshal([]byte(doc), &rec); err != nil {
		return nil, fmt.Errorf("failed to decode record: %w", err)
	}
	return &rec, nil
}
