package store

import (
	"database/sql"
	"fmt"
)

// Personality holds the control-surface sliders, all 0..10.
type Personality struct {
	Humor      int
	Enthusiasm int
	Formality  int
	UseEmojis  bool
}

func (s *Store) Personality() (Personality, error) {
	row := s.db.QueryRow(`SELECT humor, enthusiasm, formality, use_emojis FROM personality WHERE id = 1`)
	var p Personality
	var emojis int
	if err := row.Scan(&p.Humor, &p.Enthusiasm, &p.Formality, &emojis); err != nil {
		return p, fmt.Errorf("query personality: %w", err)
	}
	p.UseEmojis = emojis != 0
	return p, nil
}

func (s *Store) SetPersonality(p Personality) error {
	clamp := func(v int) int {
		if v < 0 {
			return 0
		}
		if v > 10 {
			return 10
		}
		return v
	}
	emojis := 0
	if p.UseEmojis {
		emojis = 1
	}
	return s.withTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			UPDATE personality SET humor = ?, enthusiasm = ?, formality = ?, use_emojis = ?
			WHERE id = 1`,
			clamp(p.Humor), clamp(p.Enthusiasm), clamp(p.Formality), emojis)
		return err
	})
}
