package sched

import (
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements sched.API with SQLite-backed persistence.
// Runtime logic lives in an embedded in-memory Store; every mutation is
// written through to SQLite so the queue survives a restart.
type SQLiteStore struct {
	inner *Store
	db    *sqlx.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS scheduled_messages (
	id            TEXT PRIMARY KEY,
	destination   TEXT NOT NULL,
	body          TEXT NOT NULL,
	schedule_time TEXT NOT NULL,
	state         TEXT NOT NULL DEFAULT 'scheduled',
	last_error    TEXT NOT NULL DEFAULT '',
	created_at    TEXT NOT NULL,
	updated_at    TEXT NOT NULL
);
`

func NewSQLiteStore(dbPath string, cfg Config) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	s := &SQLiteStore{
		inner: NewStore(cfg),
		db:    db,
	}
	if err := s.loadAll(); err != nil {
		db.Close()
		return nil, fmt.Errorf("load state: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) loadAll() error {
	rows, err := s.db.Query("SELECT id, destination, body, schedule_time, state, last_error, created_at, updated_at FROM scheduled_messages")
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var m ScheduledMessage
		var scheduleTime, createdAt, updatedAt string
		if err := rows.Scan(&m.ID, &m.Destination, &m.Body, &scheduleTime, &m.State, &m.LastError, &createdAt, &updatedAt); err != nil {
			return err
		}
		m.ScheduleTime, _ = time.Parse(time.RFC3339Nano, scheduleTime)
		m.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		m.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
		s.inner.records[m.ID] = &m
	}
	return rows.Err()
}

func timeToString(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func (s *SQLiteStore) saveRecord(m *ScheduledMessage) error {
	_, err := s.db.Exec(`INSERT OR REPLACE INTO scheduled_messages (id, destination, body, schedule_time, state, last_error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID,
		m.Destination,
		m.Body,
		timeToString(m.ScheduleTime),
		string(m.State),
		m.LastError,
		timeToString(m.CreatedAt),
		timeToString(m.UpdatedAt),
	)
	return err
}

func (s *SQLiteStore) Create(input CreateInput) (*ScheduledMessage, error) {
	m, err := s.inner.Create(input)
	if err != nil {
		return nil, err
	}
	if perr := s.saveRecord(m); perr != nil {
		return nil, perr
	}
	return m, nil
}

func (s *SQLiteStore) List() []ScheduledMessage {
	return s.inner.List()
}

func (s *SQLiteStore) Get(id string) (*ScheduledMessage, error) {
	return s.inner.Get(id)
}

func (s *SQLiteStore) Delete(id string) bool {
	if !s.inner.Delete(id) {
		return false
	}
	_, _ = s.db.Exec("DELETE FROM scheduled_messages WHERE id = ?", id)
	return true
}

func (s *SQLiteStore) UpdateState(id string, newState State, lastError string) (*ScheduledMessage, error) {
	m, err := s.inner.UpdateState(id, newState, lastError)
	if err != nil {
		return nil, err
	}
	if perr := s.saveRecord(m); perr != nil {
		return nil, perr
	}
	return m, nil
}

func (s *SQLiteStore) DueRecords(now time.Time) []ScheduledMessage {
	return s.inner.DueRecords(now)
}

func (s *SQLiteStore) Counts() map[string]int {
	return s.inner.Counts()
}

var _ API = (*SQLiteStore)(nil)
