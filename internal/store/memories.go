package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Memory is a narrative long-term memory line.
type Memory struct {
	ID           int64
	UserName     string
	Text         string
	Confidence   float64
	FirstSeen    time.Time
	LastAccessed time.Time
}

func (s *Store) SaveMemory(m Memory) (int64, error) {
	now := time.Now().Format(time.RFC3339)
	if m.Confidence == 0 {
		m.Confidence = 0.5
	}
	var id int64
	err := s.withTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(`
			INSERT INTO memories (user_name, text, confidence, first_seen, last_accessed)
			VALUES (?, ?, ?, ?, ?)`,
			m.UserName, m.Text, m.Confidence, now, now)
		if err != nil {
			return fmt.Errorf("insert memory: %w", err)
		}
		id, err = res.LastInsertId()
		return err
	})
	return id, err
}

// TopMemories returns the k best memories for a user by recency of access
// then confidence, and touches each returned row.
func (s *Store) TopMemories(userName string, k int) ([]Memory, error) {
	rows, err := s.db.Query(`
		SELECT id, user_name, text, confidence, first_seen, last_accessed
		FROM memories
		WHERE user_name = ? OR user_name = ''
		ORDER BY last_accessed DESC, confidence DESC
		LIMIT ?`, userName, k)
	if err != nil {
		return nil, fmt.Errorf("query memories: %w", err)
	}
	defer rows.Close()

	var out []Memory
	for rows.Next() {
		var m Memory
		var first, last string
		if err := rows.Scan(&m.ID, &m.UserName, &m.Text, &m.Confidence, &first, &last); err != nil {
			return nil, err
		}
		m.FirstSeen, _ = time.Parse(time.RFC3339, first)
		m.LastAccessed, _ = time.Parse(time.RFC3339, last)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, m := range out {
		if err := s.TouchMemory(m.ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *Store) TouchMemory(id int64) error {
	return s.withTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`UPDATE memories SET last_accessed = ? WHERE id = ?`,
			time.Now().Format(time.RFC3339), id)
		return err
	})
}
