package store

import (
	"database/sql"
	"fmt"
	"time"
)

const HungerMax = 10.0

// HungerState is the singleton tamagotchi row.
type HungerState struct {
	Level            float64
	LastMeal         time.Time
	LastAnnouncement time.Time
	LastSMSNag       time.Time
	MealsToday       int
	FedToday         bool
}

func (s *Store) HungerState() (HungerState, error) {
	row := s.db.QueryRow(`
		SELECT current_level, COALESCE(last_meal_time, ''), COALESCE(last_announcement, ''),
		       COALESCE(last_sms_nag, ''), meals_today, fed_today
		FROM hunger_state WHERE id = 1`)

	var st HungerState
	var meal, ann, nag string
	var fed int
	if err := row.Scan(&st.Level, &meal, &ann, &nag, &st.MealsToday, &fed); err != nil {
		return st, fmt.Errorf("query hunger state: %w", err)
	}
	st.FedToday = fed != 0
	st.LastMeal = parseTimeOrZero(meal)
	st.LastAnnouncement = parseTimeOrZero(ann)
	st.LastSMSNag = parseTimeOrZero(nag)
	return st, nil
}

// AddHunger raises the level by amount, capped at HungerMax, and returns the
// new level.
func (s *Store) AddHunger(amount float64) (float64, error) {
	err := s.withTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			UPDATE hunger_state SET current_level = MIN(current_level + ?, ?) WHERE id = 1`,
			amount, HungerMax)
		return err
	})
	if err != nil {
		return 0, err
	}
	st, err := s.HungerState()
	return st.Level, err
}

// Feed lowers the level by value (clamped at 0) and records the meal
// atomically.
func (s *Store) Feed(value float64) (float64, error) {
	err := s.withTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			UPDATE hunger_state SET
				current_level = MAX(current_level - ?, 0.0),
				last_meal_time = ?,
				meals_today = meals_today + 1,
				fed_today = 1
			WHERE id = 1`,
			value, time.Now().Format(time.RFC3339))
		return err
	})
	if err != nil {
		return 0, err
	}
	st, err := s.HungerState()
	return st.Level, err
}

func (s *Store) MarkAnnouncement(t time.Time) error {
	return s.withTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`UPDATE hunger_state SET last_announcement = ? WHERE id = 1`,
			t.Format(time.RFC3339))
		return err
	})
}

func (s *Store) MarkSMSNag(t time.Time) error {
	return s.withTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`UPDATE hunger_state SET last_sms_nag = ? WHERE id = 1`,
			t.Format(time.RFC3339))
		return err
	})
}

// ResetHunger is the morning rollover: level 0, counters cleared.
func (s *Store) ResetHunger() error {
	return s.withTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			UPDATE hunger_state SET
				current_level = 0.0,
				meals_today = 0,
				fed_today = 0,
				last_meal_time = ?,
				last_announcement = NULL,
				last_sms_nag = NULL
			WHERE id = 1`,
			time.Now().Format(time.RFC3339))
		return err
	})
}

func parseTimeOrZero(v string) time.Time {
	if v == "" {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339, v)
	return t
}
