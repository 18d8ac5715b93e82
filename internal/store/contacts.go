package store

import (
	"database/sql"
	"fmt"
	"time"
)

type SMSContact struct {
	ID        int64
	Name      string
	Phone     string
	Relation  string
	Priority  int
	MaxDaily  int
	TotalSent int
	SentToday int
	LastSent  time.Time
	Enabled   bool
}

func (s *Store) EnsureContact(name, phone, relation string, priority int) error {
	return s.withTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO sms_contacts (name, phone, relation, priority)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(phone) DO UPDATE SET name = excluded.name, relation = excluded.relation`,
			name, phone, relation, priority)
		return err
	})
}

// NagContact picks the enabled contact with the highest priority (lowest
// number) that still has daily budget. A contact last messaged on an earlier
// day gets its budget back; max_daily_messages <= 0 means unlimited.
func (s *Store) NagContact() (*SMSContact, error) {
	rows, err := s.db.Query(`
		SELECT id, name, phone, relation, priority, max_daily_messages, total_sent, sent_today, COALESCE(last_sent_at, ''), enabled
		FROM sms_contacts
		WHERE enabled = 1
		ORDER BY priority ASC`)
	if err != nil {
		return nil, fmt.Errorf("query contacts: %w", err)
	}
	defer rows.Close()

	today := time.Now().Format("2006-01-02")
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		if c.MaxDaily > 0 && c.SentToday >= c.MaxDaily && c.LastSent.Format("2006-01-02") == today {
			continue
		}
		return c, nil
	}
	return nil, rows.Err()
}

func (s *Store) ContactByPhone(phone string) (*SMSContact, error) {
	rows, err := s.db.Query(`
		SELECT id, name, phone, relation, priority, max_daily_messages, total_sent, sent_today, COALESCE(last_sent_at, ''), enabled
		FROM sms_contacts WHERE phone = ?`, phone)
	if err != nil {
		return nil, fmt.Errorf("query contact: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, rows.Err()
	}
	return scanContact(rows)
}

// RecordContactSend bumps the counters; the daily counter restarts when the
// previous send was on another day.
func (s *Store) RecordContactSend(id int64) error {
	now := time.Now()
	return s.withTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			UPDATE sms_contacts SET
				total_sent = total_sent + 1,
				sent_today = CASE WHEN substr(COALESCE(last_sent_at, ''), 1, 10) = ? THEN sent_today + 1 ELSE 1 END,
				last_sent_at = ?
			WHERE id = ?`,
			now.Format("2006-01-02"), now.Format(time.RFC3339), id)
		return err
	})
}

func scanContact(rows *sql.Rows) (*SMSContact, error) {
	var c SMSContact
	var lastSent string
	var enabled int
	err := rows.Scan(&c.ID, &c.Name, &c.Phone, &c.Relation, &c.Priority,
		&c.MaxDaily, &c.TotalSent, &c.SentToday, &lastSent, &enabled)
	if err != nil {
		return nil, fmt.Errorf("scan contact: %w", err)
	}
	if lastSent != "" {
		c.LastSent, _ = time.Parse(time.RFC3339, lastSent)
	}
	c.Enabled = enabled != 0
	return &c, nil
}
