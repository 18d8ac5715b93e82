// Package hunger implements the tamagotchi feeding mechanics: the level
// climbs every hour, meals push it back down, and missed meal windows
// escalate from a spoken announcement to SMS nagging.
package hunger

import (
	"fmt"
	"strings"
	"time"

	"github.com/osmundg/duckberry/internal/store"
)

// Food values. Halved from the obvious numbers so the duck needs feeding
// more than once a day.
var foodValues = map[string]float64{
	"🍪":      2.5,
	"🍰":      2.5,
	"🍎":      2.5,
	"🍌":      2.5,
	"🍕":      5.0,
	"cookie": 2.5,
	"kjeks":  2.5,
	"cake":   2.5,
	"kake":   2.5,
	"apple":  2.5,
	"eple":   2.5,
	"banana": 2.5,
	"banan":  2.5,
	"pizza":  5.0,
}

const (
	Threshold = 7.0

	announceSpacing = 30 * time.Minute
	nagSpacing      = 10 * time.Minute
	announceMinute  = 30
)

type Mood string

const (
	MoodContent Mood = "content"
	MoodNeutral Mood = "neutral"
	MoodHungry  Mood = "hungry"
	MoodGrumpy  Mood = "grumpy"
	MoodHangry  Mood = "hangry"
)

type Manager struct {
	store     *store.Store
	mealHours []int
	threshold float64
}

func NewManager(s *store.Store, mealHours []int, threshold float64) *Manager {
	if len(mealHours) == 0 {
		mealHours = []int{12, 17, 21}
	}
	if threshold <= 0 {
		threshold = Threshold
	}
	return &Manager{store: s, mealHours: mealHours, threshold: threshold}
}

func (m *Manager) Level() (float64, error) {
	st, err := m.store.HungerState()
	if err != nil {
		return 0, err
	}
	return st.Level, nil
}

func (m *Manager) Increase(amount float64) (float64, error) {
	return m.store.AddHunger(amount)
}

// FoodValue reports whether text names a known food and its value.
func FoodValue(text string) (float64, bool) {
	t := strings.ToLower(strings.TrimSpace(text))
	if v, ok := foodValues[t]; ok {
		return v, true
	}
	// emoji may arrive embedded in a sentence
	for token, v := range foodValues {
		if strings.Contains(t, token) {
			return v, true
		}
	}
	return 0, false
}

// Feed applies one food item and returns the new level.
func (m *Manager) Feed(food string) (float64, error) {
	value, ok := FoodValue(food)
	if !ok {
		return 0, fmt.Errorf("unknown food %q", food)
	}
	return m.store.Feed(value)
}

func (m *Manager) IsHungry() (bool, error) {
	level, err := m.Level()
	return level >= m.threshold, err
}

func (m *Manager) IsMealHour(now time.Time) bool {
	for _, h := range m.mealHours {
		if now.Hour() == h {
			return true
		}
	}
	return false
}

// NextMealTime is a human-readable next meal, "12:00 (i morgen)" when the
// day's meals are done.
func (m *Manager) NextMealTime(now time.Time) string {
	for _, h := range m.mealHours {
		if h > now.Hour() {
			return fmt.Sprintf("%02d:00", h)
		}
	}
	return fmt.Sprintf("%02d:00 (i morgen)", m.mealHours[0])
}

// ShouldAnnounce is true from minute 30 of a meal hour when the duck is
// hungry and no announcement fired in the last 30 minutes.
func (m *Manager) ShouldAnnounce(now time.Time) (bool, error) {
	st, err := m.store.HungerState()
	if err != nil {
		return false, err
	}
	if st.Level < m.threshold {
		return false, nil
	}
	if !m.IsMealHour(now) || now.Minute() < announceMinute {
		return false, nil
	}
	if !st.LastAnnouncement.IsZero() && now.Sub(st.LastAnnouncement) < announceSpacing {
		return false, nil
	}
	return true, nil
}

// ShouldNag is true 10 minutes after the last announcement or nag while
// still hungry. An announcement must have happened first.
func (m *Manager) ShouldNag(now time.Time) (bool, error) {
	st, err := m.store.HungerState()
	if err != nil {
		return false, err
	}
	if st.Level < m.threshold || st.LastAnnouncement.IsZero() {
		return false, nil
	}
	ref := st.LastAnnouncement
	if !st.LastSMSNag.IsZero() && st.LastSMSNag.After(ref) {
		ref = st.LastSMSNag
	}
	return now.Sub(ref) >= nagSpacing, nil
}

func (m *Manager) MarkAnnounced(now time.Time) error { return m.store.MarkAnnouncement(now) }
func (m *Manager) MarkNagged(now time.Time) error    { return m.store.MarkSMSNag(now) }

// ResetDaily is the morning rollover: the duck found breakfast herself.
func (m *Manager) ResetDaily() error { return m.store.ResetHunger() }

// CurrentMood maps the level onto the five-step mood scale.
func (m *Manager) CurrentMood() (Mood, error) {
	level, err := m.Level()
	if err != nil {
		return MoodNeutral, err
	}
	return MoodFor(level), nil
}

func MoodFor(level float64) Mood {
	switch {
	case level < 3:
		return MoodContent
	case level < 5:
		return MoodNeutral
	case level < 7:
		return MoodHungry
	case level < 9:
		return MoodGrumpy
	default:
		return MoodHangry
	}
}

type Status struct {
	Level      float64 `json:"level"`
	Mood       Mood    `json:"mood"`
	IsHungry   bool    `json:"is_hungry"`
	MealsToday int     `json:"meals_today"`
	LastMeal   string  `json:"last_meal_time,omitempty"`
	NextMeal   string  `json:"next_meal_time"`
}

func (m *Manager) Status(now time.Time) (Status, error) {
	st, err := m.store.HungerState()
	if err != nil {
		return Status{}, err
	}
	out := Status{
		Level:      st.Level,
		Mood:       MoodFor(st.Level),
		IsHungry:   st.Level >= m.threshold,
		MealsToday: st.MealsToday,
		NextMeal:   m.NextMealTime(now),
	}
	if !st.LastMeal.IsZero() {
		out.LastMeal = st.LastMeal.Format("15:04")
	}
	return out, nil
}

// LastMealLine gives the router a short awareness line for the persona.
func (m *Manager) LastMealLine(now time.Time) (string, error) {
	st, err := m.store.HungerState()
	if err != nil {
		return "", err
	}
	if st.LastMeal.IsZero() || st.LastMeal.YearDay() != now.YearDay() || st.LastMeal.Year() != now.Year() {
		return fmt.Sprintf("Du har ikke spist i dag. Neste måltid: %s.", m.NextMealTime(now)), nil
	}
	return fmt.Sprintf("Du spiste sist kl %s. Neste måltid: %s.",
		st.LastMeal.Format("15:04"), m.NextMealTime(now)), nil
}
