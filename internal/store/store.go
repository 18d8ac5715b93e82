package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"
)

// Store owns every persisted entity: messages, sessions, users, profile
// facts, memories, images, hunger state, personality and SMS contacts.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	s := &Store{db: db}
	if err := s.configure(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) configure() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("sqlite pragma %q: %w", p, err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT,
			user_name TEXT NOT NULL DEFAULT '',
			user_text TEXT NOT NULL,
			ai_response TEXT NOT NULL,
			timestamp TEXT NOT NULL,
			metadata TEXT NOT NULL DEFAULT '{}'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_user ON messages(user_name, timestamp)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			start_time TEXT NOT NULL,
			end_time TEXT,
			message_count INTEGER NOT NULL DEFAULT 0,
			topics TEXT NOT NULL DEFAULT '',
			summary TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS users (
			username TEXT PRIMARY KEY,
			display_name TEXT NOT NULL,
			relation_to_primary TEXT NOT NULL DEFAULT 'gjest',
			first_seen TEXT NOT NULL,
			last_active TEXT NOT NULL,
			total_messages INTEGER NOT NULL DEFAULT 0,
			metadata TEXT NOT NULL DEFAULT '{}'
		)`,
		`CREATE TABLE IF NOT EXISTS profile_facts (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			confidence REAL NOT NULL DEFAULT 1.0,
			source TEXT NOT NULL DEFAULT '',
			updated_at TEXT NOT NULL,
			metadata TEXT NOT NULL DEFAULT '{}'
		)`,
		`CREATE TABLE IF NOT EXISTS memories (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_name TEXT NOT NULL DEFAULT '',
			text TEXT NOT NULL,
			confidence REAL NOT NULL DEFAULT 0.5,
			first_seen TEXT NOT NULL,
			last_accessed TEXT NOT NULL,
			metadata TEXT NOT NULL DEFAULT '{}'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_user ON memories(user_name, last_accessed)`,
		`CREATE TABLE IF NOT EXISTS images (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			filepath TEXT NOT NULL,
			sender TEXT NOT NULL DEFAULT '',
			sender_relation TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			categories TEXT NOT NULL DEFAULT '',
			source_url TEXT NOT NULL DEFAULT '',
			timestamp TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS hunger_state (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			current_level REAL NOT NULL DEFAULT 0.0,
			last_meal_time TEXT,
			last_announcement TEXT,
			last_sms_nag TEXT,
			meals_today INTEGER NOT NULL DEFAULT 0,
			fed_today INTEGER NOT NULL DEFAULT 0
		)`,
		`INSERT OR IGNORE INTO hunger_state (id) VALUES (1)`,
		`CREATE TABLE IF NOT EXISTS personality (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			humor INTEGER NOT NULL DEFAULT 5,
			enthusiasm INTEGER NOT NULL DEFAULT 5,
			formality INTEGER NOT NULL DEFAULT 3,
			use_emojis INTEGER NOT NULL DEFAULT 1
		)`,
		`INSERT OR IGNORE INTO personality (id) VALUES (1)`,
		`CREATE TABLE IF NOT EXISTS sms_contacts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			phone TEXT NOT NULL UNIQUE,
			relation TEXT NOT NULL DEFAULT '',
			priority INTEGER NOT NULL DEFAULT 5,
			max_daily_messages INTEGER NOT NULL DEFAULT 3,
			total_sent INTEGER NOT NULL DEFAULT 0,
			sent_today INTEGER NOT NULL DEFAULT 0,
			last_sent_at TEXT,
			enabled INTEGER NOT NULL DEFAULT 1
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// migrate adds columns introduced after the first release. Additions are
// guarded by a capability check so the pass stays idempotent.
func (s *Store) migrate() error {
	adds := []struct {
		table, column, ddl string
	}{
		{"messages", "metadata", `ALTER TABLE messages ADD COLUMN metadata TEXT NOT NULL DEFAULT '{}'`},
		{"messages", "session_id", `ALTER TABLE messages ADD COLUMN session_id TEXT`},
		{"images", "sender_relation", `ALTER TABLE images ADD COLUMN sender_relation TEXT NOT NULL DEFAULT ''`},
		{"images", "source_url", `ALTER TABLE images ADD COLUMN source_url TEXT NOT NULL DEFAULT ''`},
		{"sms_contacts", "sent_today", `ALTER TABLE sms_contacts ADD COLUMN sent_today INTEGER NOT NULL DEFAULT 0`},
	}
	for _, a := range adds {
		has, err := s.hasColumn(a.table, a.column)
		if err != nil {
			return err
		}
		if has {
			continue
		}
		if _, err := s.db.Exec(a.ddl); err != nil {
			return fmt.Errorf("migrate %s.%s: %w", a.table, a.column, err)
		}
	}
	return nil
}

func (s *Store) hasColumn(table, column string) (bool, error) {
	rows, err := s.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, fmt.Errorf("table_info %s: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

// withTx runs fn inside a transaction, committing on nil error and rolling
// back otherwise.
func (s *Store) withTx(fn func(tx *sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
