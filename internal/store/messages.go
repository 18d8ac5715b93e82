package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// MessageMeta is extracted per turn by the memory manager and stored as JSON.
type MessageMeta struct {
	Length      int      `json:"length"`
	HasQuestion bool     `json:"has_question"`
	Topics      []string `json:"topics,omitempty"`
	Importance  int      `json:"importance"`
}

type Message struct {
	ID        int64
	SessionID string
	UserName  string
	UserText  string
	AIText    string
	Timestamp time.Time
	Meta      MessageMeta
}

func (s *Store) SaveMessage(m Message) (int64, error) {
	meta, err := json.Marshal(m.Meta)
	if err != nil {
		return 0, fmt.Errorf("marshal message metadata: %w", err)
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}

	var id int64
	err = s.withTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(`
			INSERT INTO messages (session_id, user_name, user_text, ai_response, timestamp, metadata)
			VALUES (?, ?, ?, ?, ?, ?)`,
			m.SessionID, m.UserName, m.UserText, m.AIText, m.Timestamp.Format(time.RFC3339), string(meta))
		if err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		id, err = res.LastInsertId()
		if err != nil {
			return err
		}

		_, err = tx.Exec(`
			INSERT INTO sessions (session_id, start_time, end_time, message_count)
			VALUES (?, ?, ?, 1)
			ON CONFLICT(session_id) DO UPDATE SET
				end_time = excluded.end_time,
				message_count = message_count + 1`,
			m.SessionID, m.Timestamp.Format(time.RFC3339), m.Timestamp.Format(time.RFC3339))
		if err != nil {
			return fmt.Errorf("upsert session: %w", err)
		}
		return nil
	})
	return id, err
}

// RecentMessages returns the newest messages for a user, oldest first.
func (s *Store) RecentMessages(userName string, limit int) ([]Message, error) {
	rows, err := s.db.Query(`
		SELECT id, COALESCE(session_id, ''), user_name, user_text, ai_response, timestamp, metadata
		FROM messages
		WHERE user_name = ?
		ORDER BY id DESC
		LIMIT ?`, userName, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent messages: %w", err)
	}
	defer rows.Close()

	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	// reverse into chronological order
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// LastMessage returns the most recent message row regardless of user, or nil.
func (s *Store) LastMessage() (*Message, error) {
	rows, err := s.db.Query(`
		SELECT id, COALESCE(session_id, ''), user_name, user_text, ai_response, timestamp, metadata
		FROM messages ORDER BY id DESC LIMIT 1`)
	if err != nil {
		return nil, fmt.Errorf("query last message: %w", err)
	}
	defer rows.Close()

	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, nil
	}
	return &msgs[0], nil
}

// SessionMessages returns every message of one session in insertion order.
func (s *Store) SessionMessages(sessionID string) ([]Message, error) {
	rows, err := s.db.Query(`
		SELECT id, COALESCE(session_id, ''), user_name, user_text, ai_response, timestamp, metadata
		FROM messages WHERE session_id = ? ORDER BY id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query session messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

func (s *Store) UpdateSessionSummary(sessionID, summary, topics string) error {
	return s.withTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`UPDATE sessions SET summary = ?, topics = ? WHERE session_id = ?`,
			summary, topics, sessionID)
		return err
	})
}

type Session struct {
	ID           string
	Start        time.Time
	End          time.Time
	MessageCount int
	Topics       string
	Summary      string
}

func (s *Store) GetSession(sessionID string) (*Session, error) {
	row := s.db.QueryRow(`
		SELECT session_id, start_time, COALESCE(end_time, start_time), message_count, topics, summary
		FROM sessions WHERE session_id = ?`, sessionID)

	var sess Session
	var start, end string
	err := row.Scan(&sess.ID, &start, &end, &sess.MessageCount, &sess.Topics, &sess.Summary)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query session: %w", err)
	}
	sess.Start, _ = time.Parse(time.RFC3339, start)
	sess.End, _ = time.Parse(time.RFC3339, end)
	return &sess, nil
}

func scanMessages(rows *sql.Rows) ([]Message, error) {
	var out []Message
	for rows.Next() {
		var m Message
		var ts, meta string
		if err := rows.Scan(&m.ID, &m.SessionID, &m.UserName, &m.UserText, &m.AIText, &ts, &meta); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Timestamp, _ = time.Parse(time.RFC3339, ts)
		_ = json.Unmarshal([]byte(meta), &m.Meta)
		out = append(out, m)
	}
	return out, rows.Err()
}
