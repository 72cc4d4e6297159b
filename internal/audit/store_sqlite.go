package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const createSecurityEventsSQL = `
CREATE TABLE IF NOT EXISTS security_events (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    kind TEXT NOT NULL,
    source_ip TEXT,
    severity INTEGER NOT NULL,
    timestamp DATETIME NOT NULL,
    metadata TEXT
)`

var securityEventIndexes = []string{
	`CREATE INDEX IF NOT EXISTS idx_security_events_user_id ON security_events (user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_security_events_timestamp ON security_events (timestamp)`,
}

// SQLiteStore is the durable event log. The audit log is the only durable
// entity in the admission pipeline, so losing the database file loses history
// but not correctness.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the database at path and ensures
// the schema exists.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open security event database: %w", err)
	}
	if _, err := db.Exec(createSecurityEventsSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("create security_events table: %w", err)
	}
	for _, stmt := range securityEventIndexes {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("create security_events index: %w", err)
		}
	}
	return &SQLiteStore{db: db}, nil
}

// NewSQLiteStoreFromDB wraps an existing handle, sharing it with other stores.
func NewSQLiteStoreFromDB(db *sql.DB) (*SQLiteStore, error) {
	if _, err := db.Exec(createSecurityEventsSQL); err != nil {
		return nil, fmt.Errorf("create security_events table: %w", err)
	}
	for _, stmt := range securityEventIndexes {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("create security_events index: %w", err)
		}
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Append(ctx context.Context, event Event) error {
	var metadata any
	if len(event.Metadata) > 0 {
		raw, err := json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("marshal event metadata: %w", err)
		}
		metadata = string(raw)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO security_events (id, user_id, kind, source_ip, severity, timestamp, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.ID, event.UserID, string(event.Kind), event.SourceIP, int(event.Severity), event.Timestamp.UTC(), metadata,
	)
	if err != nil {
		return fmt.Errorf("append security event: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListByUser(ctx context.Context, userID string, since time.Time) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, kind, source_ip, severity, timestamp, metadata
		 FROM security_events
		 WHERE user_id = ? AND timestamp >= ?
		 ORDER BY timestamp DESC`,
		userID, since.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("list security events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			event    Event
			kind     string
			sourceIP sql.NullString
			severity int
			metadata sql.NullString
		)
		if err := rows.Scan(&event.ID, &event.UserID, &kind, &sourceIP, &severity, &event.Timestamp, &metadata); err != nil {
			return nil, fmt.Errorf("scan security event: %w", err)
		}
		event.Kind = Kind(kind)
		event.SourceIP = sourceIP.String
		event.Severity = Severity(severity)
		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &event.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal event metadata: %w", err)
			}
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate security events: %w", err)
	}
	return events, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
