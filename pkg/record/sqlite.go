package record

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/lifelog-ai/recall/pkg/observability/logging"
)

// SQLiteStore persists observation records in a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

const createObservationsSQL = `
CREATE TABLE IF NOT EXISTS observations (
	id            TEXT PRIMARY KEY,
	date          TEXT NOT NULL,
	time          TEXT NOT NULL,
	time_range    TEXT NOT NULL DEFAULT '',
	content       TEXT NOT NULL,
	location_name TEXT,
	latitude      REAL,
	longitude     REAL,
	status        TEXT NOT NULL DEFAULT 'pending',
	error         TEXT NOT NULL DEFAULT '',
	created_at    DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_observations_status ON observations(status);
`

// OpenSQLite opens (creating if needed) the observation database at path.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}

	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.ExecContext(ctx, createObservationsSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logging.Debugf("record: opened sqlite store at %s", path)
	return &SQLiteStore{db: db}, nil
}

// Add inserts a new Pending record, minting an ID when absent.
func (s *SQLiteStore) Add(ctx context.Context, rec *MemoryRecord) error {
	if rec.Content == "" {
		return ErrInvalidContent
	}
	if rec.ID == "" {
		rec.ID = "obs_" + uuid.New().String()[:8]
	}
	rec.Status = StatusPending

	var name sql.NullString
	var lat, lon sql.NullFloat64
	if rec.Location != nil {
		name = sql.NullString{String: rec.Location.Name, Valid: rec.Location.Name != ""}
		lat = sql.NullFloat64{Float64: rec.Location.Latitude, Valid: true}
		lon = sql.NullFloat64{Float64: rec.Location.Longitude, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO observations (id, date, time, content, location_name, latitude, longitude, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Date, rec.Time, rec.Content, name, lat, lon, string(rec.Status))
	if err != nil {
		return fmt.Errorf("failed to insert record: %w", err)
	}
	return nil
}

// Get returns one record by ID.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*MemoryRecord, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+" WHERE id = ?", id)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read record: %w", err)
	}
	return rec, nil
}

// ListPending returns all Pending records oldest-first so ingestion is
// roughly chronological.
func (s *SQLiteStore) ListPending(ctx context.Context) ([]*MemoryRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		selectColumns+" WHERE status = ? ORDER BY created_at", string(StatusPending))
	if err != nil {
		return nil, fmt.Errorf("failed to list pending records: %w", err)
	}
	defer rows.Close()

	var records []*MemoryRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// MarkEmbedded transitions a record to Embedded.
func (s *SQLiteStore) MarkEmbedded(ctx context.Context, id, timeRange string) error {
	return s.setStatus(ctx, id, StatusEmbedded, timeRange, "")
}

// MarkFailed transitions a record to Failed with the cause message.
func (s *SQLiteStore) MarkFailed(ctx context.Context, id string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return s.setStatus(ctx, id, StatusFailed, "", msg)
}

func (s *SQLiteStore) setStatus(ctx context.Context, id string, status Status, timeRange, errMsg string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE observations
		SET status = ?, time_range = CASE WHEN ? != '' THEN ? ELSE time_range END, error = ?
		WHERE id = ?`,
		string(status), timeRange, timeRange, errMsg, id)
	if err != nil {
		return fmt.Errorf("failed to update record %s: %w", id, err)
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

// ResetFailed returns Failed records to Pending for the next pass.
func (s *SQLiteStore) ResetFailed(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE observations SET status = ?, error = '' WHERE status = ?`,
		string(StatusPending), string(StatusFailed))
	if err != nil {
		return 0, fmt.Errorf("failed to reset failed records: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const selectColumns = `
SELECT id, date, time, time_range, content, location_name, latitude, longitude, status, error
FROM observations`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*MemoryRecord, error) {
	var rec MemoryRecord
	var status string
	var name sql.NullString
	var lat, lon sql.NullFloat64

	err := row.Scan(&rec.ID, &rec.Date, &rec.Time, &rec.TimeRange, &rec.Content,
		&name, &lat, &lon, &status, &rec.Error)
	if err != nil {
		return nil, err
	}
	rec.Status = Status(status)
	if name.Valid || lat.Valid || lon.Valid {
		rec.Location = &Location{
			Name:      name.String,
			Latitude:  lat.Float64,
			Longitude: lon.Float64,
		}
	}
	return &rec, nil
}
