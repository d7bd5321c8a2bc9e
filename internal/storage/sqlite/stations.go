package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/yegors/stationmap/internal/stations"
	"github.com/yegors/stationmap/internal/synoptic"
	"github.com/yegors/stationmap/pkg/logger"
	_ "modernc.org/sqlite"
)

// StationStorage is a SQLite-based store for normalized station tables
type StationStorage struct {
	db     *sql.DB
	path   string
	logger *logger.Logger
}

// NewStationStorage opens (creating if needed) the station database at dbPath
func NewStationStorage(dbPath string, log *logger.Logger) (*StationStorage, error) {
	storageLogger := log.Named("sqlite")

	storageLogger.Info("Initializing SQLite storage",
		logger.String("path", dbPath))

	// Open the database
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Set connection pool limits
	db.SetMaxOpenConns(1) // SQLite only supports one writer at a time
	db.SetMaxIdleConns(1)

	// Set pragmas for better performance and concurrency
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	// Create tables if they don't exist
	if err := initDatabase(db, storageLogger); err != nil {
		db.Close()
		return nil, err
	}

	return &StationStorage{
		db:     db,
		path:   dbPath,
		logger: storageLogger,
	}, nil
}

// Close closes the database connection
func (s *StationStorage) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// initDatabase initializes the database schema
func initDatabase(db *sql.DB, log *logger.Logger) error {
	log.Debug("Initializing database schema")

	// One header row per cached kind
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS station_tables (
			kind TEXT PRIMARY KEY,
			columns TEXT NOT NULL,
			saved_at TEXT NOT NULL,
			row_count INTEGER NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create station_tables table: %w", err)
	}

	// Rows keep their table position so loads preserve API order
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS station_rows (
			kind TEXT NOT NULL,
			position INTEGER NOT NULL,
			station_id TEXT NOT NULL,
			name TEXT NOT NULL,
			latitude REAL NOT NULL,
			longitude REAL NOT NULL,
			observations TEXT,
			PRIMARY KEY (kind, position)
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create station_rows table: %w", err)
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_station_rows_station_id ON station_rows(kind, station_id)`)
	if err != nil {
		return fmt.Errorf("failed to create station_id index: %w", err)
	}

	return nil
}

func (s *StationStorage) location(kind synoptic.Kind) string {
	return s.path + "#" + string(kind)
}

// Save replaces the rows for the table's kind in a single transaction
func (s *StationStorage) Save(ctx context.Context, table stations.Table, savedAt time.Time) error {
	if err := table.Kind.Validate(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM station_rows WHERE kind = ?`, string(table.Kind)); err != nil {
		return fmt.Errorf("failed to clear %s rows: %w", table.Kind, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO station_rows (kind, position, station_id, name, latitude, longitude, observations)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare row insert: %w", err)
	}
	defer stmt.Close()

	for i, row := range table.Rows {
		var observations sql.NullString
		if row.Observations != nil {
			observations = sql.NullString{String: string(row.Observations), Valid: true}
		}
		if _, err := stmt.ExecContext(ctx,
			string(table.Kind), i, row.StationID, row.Name, row.Latitude, row.Longitude, observations,
		); err != nil {
			return fmt.Errorf("failed to insert station %s: %w", row.StationID, err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO station_tables (kind, columns, saved_at, row_count)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(kind) DO UPDATE SET
			columns = excluded.columns,
			saved_at = excluded.saved_at,
			row_count = excluded.row_count
	`, string(table.Kind), strings.Join(table.Columns(), ","), savedAt.UTC().Format(time.RFC3339Nano), table.Len())
	if err != nil {
		return fmt.Errorf("failed to record %s table: %w", table.Kind, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit %s table: %w", table.Kind, err)
	}

	s.logger.Debug("Saved station table",
		logger.String("kind", string(table.Kind)),
		logger.Int("rows", table.Len()))
	return nil
}

// Load reads the table for kind
func (s *StationStorage) Load(ctx context.Context, kind synoptic.Kind) (stations.Table, stations.ArtifactInfo, error) {
	info, err := s.Stat(ctx, kind)
	if err != nil {
		return stations.Table{}, stations.ArtifactInfo{}, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT station_id, name, latitude, longitude, observations
		FROM station_rows
		WHERE kind = ?
		ORDER BY position
	`, string(kind))
	if err != nil {
		return stations.Table{}, stations.ArtifactInfo{}, fmt.Errorf("failed to query %s rows: %w", kind, err)
	}
	defer rows.Close()

	table := stations.Table{Kind: kind, Rows: []stations.Row{}}
	for rows.Next() {
		var (
			row          stations.Row
			observations sql.NullString
		)
		if err := rows.Scan(&row.StationID, &row.Name, &row.Latitude, &row.Longitude, &observations); err != nil {
			return stations.Table{}, stations.ArtifactInfo{}, fmt.Errorf("failed to scan %s row: %w", kind, err)
		}
		if observations.Valid {
			row.Observations = json.RawMessage(observations.String)
		}
		table.Rows = append(table.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return stations.Table{}, stations.ArtifactInfo{}, fmt.Errorf("failed to read %s rows: %w", kind, err)
	}

	if table.Len() != info.Rows {
		return stations.Table{}, stations.ArtifactInfo{}, fmt.Errorf("corrupt %s table: expected %d rows, found %d", kind, info.Rows, table.Len())
	}

	return table, info, nil
}

// Stat reads the table header for kind
func (s *StationStorage) Stat(ctx context.Context, kind synoptic.Kind) (stations.ArtifactInfo, error) {
	var (
		storedKind string
		columns    string
		savedAt    string
		rowCount   int
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT kind, columns, saved_at, row_count FROM station_tables WHERE kind = ?
	`, string(kind)).Scan(&storedKind, &columns, &savedAt, &rowCount)
	if errors.Is(err, sql.ErrNoRows) {
		return stations.ArtifactInfo{}, stations.ErrCacheMiss
	}
	if err != nil {
		return stations.ArtifactInfo{}, fmt.Errorf("failed to query %s table: %w", kind, err)
	}

	if rowCount < 0 {
		return stations.ArtifactInfo{}, fmt.Errorf("corrupt %s table: negative row count %d", kind, rowCount)
	}
	if columns != strings.Join(stations.Columns(kind), ",") {
		return stations.ArtifactInfo{}, fmt.Errorf("%w: %s table has columns %q", stations.ErrKindMismatch, kind, columns)
	}

	ts, err := time.Parse(time.RFC3339Nano, savedAt)
	if err != nil {
		return stations.ArtifactInfo{}, fmt.Errorf("corrupt %s table: bad saved_at %q", kind, savedAt)
	}

	return stations.ArtifactInfo{
		Kind:     synoptic.Kind(storedKind),
		SavedAt:  ts,
		Rows:     rowCount,
		Location: s.location(kind),
	}, nil
}

// Delete removes the table for kind
func (s *StationStorage) Delete(ctx context.Context, kind synoptic.Kind) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM station_rows WHERE kind = ?`, string(kind)); err != nil {
		return fmt.Errorf("failed to delete %s rows: %w", kind, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM station_tables WHERE kind = ?`, string(kind)); err != nil {
		return fmt.Errorf("failed to delete %s table: %w", kind, err)
	}
	return tx.Commit()
}
