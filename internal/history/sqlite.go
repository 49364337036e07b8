package history

import (
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// SQLiteManager implements history.API with SQLite-backed persistence.
// The embedded in-memory Manager stays authoritative; each mutation (and
// each lazy compaction triggered by a read) rewrites the contact's window.
// A window is at most MaxEntries rows, so the rewrite is cheap.
type SQLiteManager struct {
	inner *Manager
	db    *sqlx.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS conversation_entries (
	contact_key TEXT NOT NULL,
	position    INTEGER NOT NULL,
	role        TEXT NOT NULL,
	content     TEXT NOT NULL,
	ts          TEXT NOT NULL,
	PRIMARY KEY (contact_key, position)
);
`

func NewSQLiteManager(dbPath string, cfg Config) (*SQLiteManager, error) {
	db, err := sqlx.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	m := &SQLiteManager{
		inner: NewManager(cfg),
		db:    db,
	}
	if err := m.loadAll(); err != nil {
		db.Close()
		return nil, fmt.Errorf("load state: %w", err)
	}
	return m, nil
}

func (s *SQLiteManager) Close() error {
	return s.db.Close()
}

func (s *SQLiteManager) loadAll() error {
	rows, err := s.db.Query("SELECT contact_key, role, content, ts FROM conversation_entries ORDER BY contact_key, position")
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var key, ts string
		var e Entry
		if err := rows.Scan(&key, &e.Role, &e.Content, &ts); err != nil {
			return err
		}
		e.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		s.inner.conversations[key] = append(s.inner.conversations[key], e)
	}
	return rows.Err()
}

func (s *SQLiteManager) saveConversation(key string, entries []Entry) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	if _, err := tx.Exec("DELETE FROM conversation_entries WHERE contact_key = ?", key); err != nil {
		tx.Rollback()
		return err
	}
	for i, e := range entries {
		if _, err := tx.Exec("INSERT INTO conversation_entries (contact_key, position, role, content, ts) VALUES (?, ?, ?, ?, ?)",
			key, i, string(e.Role), e.Content, e.Timestamp.UTC().Format(time.RFC3339Nano)); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteManager) Append(contactKey string, role Role, content string) ([]Entry, error) {
	key := NormalizeContactKey(contactKey)
	entries, err := s.inner.Append(contactKey, role, content)
	if err != nil {
		return nil, err
	}
	if perr := s.saveConversation(key, entries); perr != nil {
		return nil, perr
	}
	return entries, nil
}

func (s *SQLiteManager) Read(contactKey string) []Entry {
	key := NormalizeContactKey(contactKey)
	now := s.inner.now()

	s.inner.mu.Lock()
	changed := s.inner.pruneLocked(key, now)
	out := append([]Entry{}, s.inner.conversations[key]...)
	s.inner.mu.Unlock()

	if changed {
		_ = s.saveConversation(key, out)
	}
	return out
}

func (s *SQLiteManager) Clear(contactKey string) error {
	key := NormalizeContactKey(contactKey)
	if err := s.inner.Clear(contactKey); err != nil {
		return err
	}
	_, err := s.db.Exec("DELETE FROM conversation_entries WHERE contact_key = ?", key)
	return err
}

var _ API = (*SQLiteManager)(nil)
