package store

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
)

// BackfillSessions assigns session ids and minimal metadata to legacy rows
// that predate both fields. Runs once: a no-op when nothing is missing.
// sessionGap is the inactivity gap that forces a new session.
func (s *Store) BackfillSessions(sessionGap time.Duration) (int, error) {
	var missing int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM messages
		WHERE session_id IS NULL OR session_id = '' OR metadata = '' OR metadata = '{}'`).Scan(&missing)
	if err != nil {
		return 0, fmt.Errorf("count backfill candidates: %w", err)
	}
	if missing == 0 {
		return 0, nil
	}
	log.Printf("[store] backfilling session ids for %d legacy messages", missing)

	rows, err := s.db.Query(`
		SELECT id, COALESCE(session_id, ''), user_text, timestamp FROM messages ORDER BY id`)
	if err != nil {
		return 0, fmt.Errorf("query messages for backfill: %w", err)
	}

	type rec struct {
		id        int64
		sessionID string
		text      string
		ts        time.Time
	}
	var recs []rec
	for rows.Next() {
		var r rec
		var ts string
		if err := rows.Scan(&r.id, &r.sessionID, &r.text, &ts); err != nil {
			rows.Close()
			return 0, err
		}
		r.ts, _ = time.Parse(time.RFC3339, ts)
		recs = append(recs, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	updated := 0
	current := ""
	var prev time.Time
	for _, r := range recs {
		if current == "" || prev.IsZero() || r.ts.Sub(prev) > sessionGap {
			if r.sessionID != "" {
				current = r.sessionID
			} else {
				current = uuid.NewString()
			}
		}
		prev = r.ts

		if r.sessionID != "" {
			continue
		}
		sessionID := current
		meta := MessageMeta{Length: len(r.text), Importance: 1}
		err := s.withTx(func(tx *sql.Tx) error {
			metaJSON := fmt.Sprintf(`{"length":%d,"has_question":false,"importance":%d}`, meta.Length, meta.Importance)
			_, err := tx.Exec(`UPDATE messages SET session_id = ?, metadata = ? WHERE id = ?`,
				sessionID, metaJSON, r.id)
			return err
		})
		if err != nil {
			return updated, fmt.Errorf("backfill message %d: %w", r.id, err)
		}
		updated++
	}
	return updated, nil
}
