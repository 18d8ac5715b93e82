package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
	"unicode"
)

const RelationOwner = "owner"

type User struct {
	Username      string
	DisplayName   string
	Relation      string
	FirstSeen     time.Time
	LastActive    time.Time
	TotalMessages int
}

// TitleCase normalizes a username the way the users table stores it:
// every word capitalized, rest lowered.
func TitleCase(name string) string {
	words := strings.Fields(strings.ToLower(strings.TrimSpace(name)))
	for i, w := range words {
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}

// UpsertUser creates or refreshes a user row. Usernames are stored
// title-cased; an existing row keeps its relation unless one is given.
func (s *Store) UpsertUser(username, displayName, relation string) error {
	username = TitleCase(username)
	if displayName == "" {
		displayName = username
	} else {
		displayName = TitleCase(displayName)
	}
	now := time.Now().Format(time.RFC3339)

	return s.withTx(func(tx *sql.Tx) error {
		var existing string
		err := tx.QueryRow(`SELECT username FROM users WHERE LOWER(username) = LOWER(?)`, username).Scan(&existing)
		switch {
		case err == sql.ErrNoRows:
			if relation == "" {
				relation = "gjest"
			}
			_, err = tx.Exec(`
				INSERT INTO users (username, display_name, relation_to_primary, first_seen, last_active, total_messages)
				VALUES (?, ?, ?, ?, ?, 0)`,
				username, displayName, relation, now, now)
			return err
		case err != nil:
			return fmt.Errorf("lookup user: %w", err)
		}

		if relation != "" {
			_, err = tx.Exec(`
				UPDATE users SET username = ?, display_name = ?, relation_to_primary = ?, last_active = ?
				WHERE LOWER(username) = LOWER(?)`,
				username, displayName, relation, now, username)
		} else {
			_, err = tx.Exec(`
				UPDATE users SET username = ?, display_name = ?, last_active = ?
				WHERE LOWER(username) = LOWER(?)`,
				username, displayName, now, username)
		}
		return err
	})
}

func (s *Store) GetUser(username string) (*User, error) {
	row := s.db.QueryRow(`
		SELECT username, display_name, relation_to_primary, first_seen, last_active, total_messages
		FROM users WHERE LOWER(username) = LOWER(?)`, username)
	return scanUser(row)
}

// FindUserExact matches username or display name case-insensitively.
func (s *Store) FindUserExact(name string) (*User, error) {
	row := s.db.QueryRow(`
		SELECT username, display_name, relation_to_primary, first_seen, last_active, total_messages
		FROM users
		WHERE LOWER(username) = LOWER(?) OR LOWER(display_name) = LOWER(?)`, name, name)
	return scanUser(row)
}

func (s *Store) Owner() (*User, error) {
	row := s.db.QueryRow(`
		SELECT username, display_name, relation_to_primary, first_seen, last_active, total_messages
		FROM users WHERE relation_to_primary = ? LIMIT 1`, RelationOwner)
	return scanUser(row)
}

func (s *Store) OwnerCount() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM users WHERE relation_to_primary = ?`, RelationOwner).Scan(&n)
	return n, err
}

func (s *Store) AllUsers() ([]User, error) {
	rows, err := s.db.Query(`
		SELECT username, display_name, relation_to_primary, first_seen, last_active, total_messages
		FROM users ORDER BY last_active DESC`)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		var u User
		var first, last string
		if err := rows.Scan(&u.Username, &u.DisplayName, &u.Relation, &first, &last, &u.TotalMessages); err != nil {
			return nil, err
		}
		u.FirstSeen, _ = time.Parse(time.RFC3339, first)
		u.LastActive, _ = time.Parse(time.RFC3339, last)
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *Store) IncrementMessageCount(username string) error {
	return s.withTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			UPDATE users SET total_messages = total_messages + 1, last_active = ?
			WHERE LOWER(username) = LOWER(?)`,
			time.Now().Format(time.RFC3339), TitleCase(username))
		return err
	})
}

func scanUser(row *sql.Row) (*User, error) {
	var u User
	var first, last string
	err := row.Scan(&u.Username, &u.DisplayName, &u.Relation, &first, &last, &u.TotalMessages)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	u.FirstSeen, _ = time.Parse(time.RFC3339, first)
	u.LastActive, _ = time.Parse(time.RFC3339, last)
	return &u, nil
}
