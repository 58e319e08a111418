package repository

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

type SQLiteDB struct {
	db *sql.DB
}

func NewSQLiteDB(path string) (*SQLiteDB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}
	// One connection: sqlite serialises writers and ":memory:" is per connection.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("error while pinging database: %w", err)
	}

	s := &SQLiteDB{
		db: db,
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("error while migrating to database: %w", err)
	}

	return s, nil
}

func (s *SQLiteDB) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS reports (
			id TEXT PRIMARY KEY,
			event_id TEXT NOT NULL,
			version INTEGER NOT NULL,
			timestamp_ms INTEGER NOT NULL,
			india_at_risk INTEGER NOT NULL,
			risk_score REAL NOT NULL,
			alert_level TEXT NOT NULL,
			effective_alert_level TEXT NOT NULL,
			alert_rank INTEGER NOT NULL,
			magnitude REAL,
			latitude REAL,
			longitude REAL,
			raw BLOB NOT NULL
		);

		CREATE TABLE IF NOT EXISTS devices (
			ip TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			location TEXT,
			registered_at_ms INTEGER NOT NULL,
			last_alert_level TEXT,
			last_alert_at_ms INTEGER
		);

		CREATE INDEX IF NOT EXISTS idx_reports_timestamp ON reports(timestamp_ms);
		CREATE INDEX IF NOT EXISTS idx_reports_event_id ON reports(event_id);
		CREATE INDEX IF NOT EXISTS idx_reports_alert_rank ON reports(alert_rank);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteDB) Close() error {
	return s.db.Close()
}
