package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// ProfileFact is an atomic fact about the owner, stored from the owner's
// perspective. Other speakers see it reinterpreted through the session
// manager's perspective header, never rewritten here.
type ProfileFact struct {
	Key        string
	Value      string
	Confidence float64
	Source     string
	UpdatedAt  time.Time
	Meta       FactMeta
}

type FactMeta struct {
	LearnedAt            string  `json:"learned_at,omitempty"`
	ExtractionConfidence float64 `json:"extraction_confidence,omitempty"`
	SourceMessageID      int64   `json:"source_message_id,omitempty"`
}

func (s *Store) SaveFact(f ProfileFact) error {
	meta, err := json.Marshal(f.Meta)
	if err != nil {
		return fmt.Errorf("marshal fact metadata: %w", err)
	}
	if f.Confidence == 0 {
		f.Confidence = 1.0
	}
	return s.withTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO profile_facts (key, value, confidence, source, updated_at, metadata)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET
				value = excluded.value,
				confidence = excluded.confidence,
				source = excluded.source,
				updated_at = excluded.updated_at,
				metadata = excluded.metadata`,
			f.Key, f.Value, f.Confidence, f.Source, time.Now().Format(time.RFC3339), string(meta))
		return err
	})
}

func (s *Store) GetFact(key string) (*ProfileFact, error) {
	row := s.db.QueryRow(`
		SELECT key, value, confidence, source, updated_at, metadata
		FROM profile_facts WHERE key = ?`, key)
	return scanFact(row)
}

func (s *Store) Facts(limit int) ([]ProfileFact, error) {
	q := `SELECT key, value, confidence, source, updated_at, metadata
		FROM profile_facts ORDER BY confidence DESC, key`
	var rows *sql.Rows
	var err error
	if limit > 0 {
		rows, err = s.db.Query(q+` LIMIT ?`, limit)
	} else {
		rows, err = s.db.Query(q)
	}
	if err != nil {
		return nil, fmt.Errorf("query facts: %w", err)
	}
	defer rows.Close()
	return scanFacts(rows)
}

// NameFacts returns every *_name fact, used when resolving a spoken name
// against the owner's stored relations.
func (s *Store) NameFacts() ([]ProfileFact, error) {
	rows, err := s.db.Query(`
		SELECT key, value, confidence, source, updated_at, metadata
		FROM profile_facts WHERE key LIKE '%_name'`)
	if err != nil {
		return nil, fmt.Errorf("query name facts: %w", err)
	}
	defer rows.Close()
	return scanFacts(rows)
}

func scanFacts(rows *sql.Rows) ([]ProfileFact, error) {
	var out []ProfileFact
	for rows.Next() {
		var f ProfileFact
		var updated, meta string
		if err := rows.Scan(&f.Key, &f.Value, &f.Confidence, &f.Source, &updated, &meta); err != nil {
			return nil, err
		}
		f.UpdatedAt, _ = time.Parse(time.RFC3339, updated)
		_ = json.Unmarshal([]byte(meta), &f.Meta)
		out = append(out, f)
	}
	return out, rows.Err()
}

func scanFact(row *sql.Row) (*ProfileFact, error) {
	var f ProfileFact
	var updated, meta string
	err := row.Scan(&f.Key, &f.Value, &f.Confidence, &f.Source, &updated, &meta)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan fact: %w", err)
	}
	f.UpdatedAt, _ = time.Parse(time.RFC3339, updated)
	_ = json.Unmarshal([]byte(meta), &f.Meta)
	return &f, nil
}
