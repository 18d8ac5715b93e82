// Package session tracks who the duck is currently talking to. The owner is
// the default; anyone else gets a 30 minute session that falls back to the
// owner, and profile facts are reinterpreted for them through a perspective
// header.
package session

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/osmundg/duckberry/internal/store"
)

const (
	userTimeout   = 30 * time.Minute
	activityGrace = 5 * time.Minute
	ownerTimeout  = 365 * 24 * time.Hour
)

// View is the transient current-user state, persisted to a small JSON file
// so the web control panel can show it.
type View struct {
	Username     string    `json:"username"`
	DisplayName  string    `json:"display_name"`
	Relation     string    `json:"relation"`
	SwitchedAt   time.Time `json:"switched_at"`
	TimeoutAt    time.Time `json:"timeout_at"`
	LastActivity time.Time `json:"last_activity"`
}

// Match is the result of resolving a spoken or typed name.
type Match struct {
	Username    string
	DisplayName string
	Relation    string
	MatchedKey  string // fact key when resolved via profile facts
}

type Manager struct {
	store       *store.Store
	ownerName   string
	sessionFile string
	mu          sync.Mutex
}

func NewManager(s *store.Store, ownerName, sessionFile string) *Manager {
	return &Manager{store: s, ownerName: store.TitleCase(ownerName), sessionFile: sessionFile}
}

// Current returns the active session, defaulting (and reverting on timeout)
// to the owner.
func (m *Manager) Current() View {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentLocked()
}

func (m *Manager) currentLocked() View {
	data, err := os.ReadFile(m.sessionFile)
	if err != nil {
		return m.defaultSessionLocked()
	}

	var v View
	if err := json.Unmarshal(data, &v); err != nil || v.Username == "" {
		log.Printf("[session] invalid session file, resetting to %s: %v", m.ownerName, err)
		return m.defaultSessionLocked()
	}

	if v.Username != m.ownerName && time.Now().After(v.TimeoutAt) {
		log.Printf("[session] user timeout, back to %s", m.ownerName)
		return m.defaultSessionLocked()
	}
	return v
}

func (m *Manager) defaultSessionLocked() View {
	now := time.Now()
	v := View{
		Username:     m.ownerName,
		DisplayName:  m.ownerName,
		Relation:     store.RelationOwner,
		SwitchedAt:   now,
		TimeoutAt:    now.Add(ownerTimeout),
		LastActivity: now,
	}
	m.saveLocked(v)
	return v
}

func (m *Manager) saveLocked(v View) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return
	}
	if err := os.WriteFile(m.sessionFile, data, 0644); err != nil {
		log.Printf("[session] save session file: %v", err)
	}
}

// Switch makes username the current user. Idempotent; the users row is
// upserted with a title-cased name and the given relation.
func (m *Manager) Switch(username, displayName, relation string) (View, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	username = store.TitleCase(username)
	if displayName == "" {
		displayName = username
	} else {
		displayName = store.TitleCase(displayName)
	}

	if relation == "" {
		if u, err := m.store.GetUser(username); err == nil && u != nil && u.Relation != "" {
			relation = u.Relation
		} else {
			relation = "gjest"
		}
	}

	now := time.Now()
	timeout := now.Add(userTimeout)
	if username == m.ownerName {
		relation = store.RelationOwner
		timeout = now.Add(ownerTimeout)
	}

	v := View{
		Username:     username,
		DisplayName:  displayName,
		Relation:     relation,
		SwitchedAt:   now,
		TimeoutAt:    timeout,
		LastActivity: now,
	}
	m.saveLocked(v)

	if err := m.store.UpsertUser(username, displayName, relation); err != nil {
		return v, fmt.Errorf("upsert user: %w", err)
	}
	log.Printf("[session] switched to %s (%s)", displayName, relation)
	return v, nil
}

// Touch refreshes last_activity for the current session.
func (m *Manager) Touch() {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := m.currentLocked()
	v.LastActivity = time.Now()
	m.saveLocked(v)
}

// TimedOut reports whether the non-owner session should fall back now. An
// exchange within the last five minutes keeps the session alive even past
// timeout_at.
func (m *Manager) TimedOut(lastMessage time.Time) bool {
	v := m.Current()
	if v.Username == m.ownerName {
		return false
	}
	now := time.Now()
	if now.Before(v.TimeoutAt) {
		return false
	}
	if !lastMessage.IsZero() && now.Sub(lastMessage) < activityGrace {
		return false
	}
	return true
}

// TimeUntilTimeout returns seconds left, or -1 for the owner.
func (m *Manager) TimeUntilTimeout() int {
	v := m.Current()
	if v.Username == m.ownerName {
		return -1
	}
	sec := int(time.Until(v.TimeoutAt).Seconds())
	if sec < 0 {
		sec = 0
	}
	return sec
}

// foldNorwegian maps the Norwegian vowels the STT engine mangles onto their
// ASCII lookalikes.
func foldNorwegian(s string) string {
	r := strings.NewReplacer("ø", "o", "å", "a", "æ", "e")
	return r.Replace(s)
}

func squash(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, ".", ""), " ", "")
}

// FindUserByName resolves a name against, in order: the owner's stored
// pronunciation alias, the users table (exact, dot/space-insensitive,
// accent-folded) and finally the *_name profile facts.
func (m *Manager) FindUserByName(name string) (*Match, error) {
	nameLower := strings.ToLower(strings.TrimSpace(name))
	if nameLower == "" {
		return nil, nil
	}
	nameClean := squash(nameLower)
	nameFolded := foldNorwegian(nameClean)

	// The owner's name is often misheard ("Åsmund" for "Osmund"); a stored
	// phonetic form wins over everything else.
	if pron, err := m.store.GetFact("user_name_pronunciation"); err == nil && pron != nil {
		p := strings.ToLower(pron.Value)
		if nameLower == p || nameClean == squash(p) || nameFolded == foldNorwegian(squash(p)) {
			if owner, err := m.store.Owner(); err == nil && owner != nil {
				return &Match{
					Username:    owner.Username,
					DisplayName: owner.DisplayName,
					Relation:    owner.Relation,
					MatchedKey:  "user_name_pronunciation",
				}, nil
			}
		}
	}

	if u, err := m.store.FindUserExact(nameLower); err != nil {
		return nil, err
	} else if u != nil {
		return &Match{Username: u.Username, DisplayName: u.DisplayName, Relation: u.Relation}, nil
	}

	users, err := m.store.AllUsers()
	if err != nil {
		return nil, err
	}
	for _, u := range users {
		if squash(strings.ToLower(u.Username)) == nameClean ||
			squash(strings.ToLower(u.DisplayName)) == nameClean {
			return &Match{Username: u.Username, DisplayName: u.DisplayName, Relation: u.Relation}, nil
		}
	}
	for _, u := range users {
		if foldNorwegian(squash(strings.ToLower(u.Username))) == nameFolded ||
			foldNorwegian(squash(strings.ToLower(u.DisplayName))) == nameFolded {
			return &Match{Username: u.Username, DisplayName: u.DisplayName, Relation: u.Relation}, nil
		}
	}

	facts, err := m.store.NameFacts()
	if err != nil {
		return nil, err
	}
	for _, f := range facts {
		if strings.ToLower(f.Value) == nameLower ||
			foldNorwegian(squash(strings.ToLower(f.Value))) == nameFolded {
			return &Match{
				Username:    store.TitleCase(f.Value),
				DisplayName: f.Value,
				Relation:    RelationFromKey(f.Key),
				MatchedKey:  f.Key,
			}, nil
		}
	}

	return nil, nil
}

// RelationFromKey infers the relation to the owner from a fact key:
// "sister_1_husband_name" is a brother-in-law, "father_name" the father.
func RelationFromKey(key string) string {
	k := strings.ToLower(key)
	switch {
	case strings.Contains(k, "sister"):
		if strings.Contains(k, "husband") || strings.Contains(k, "spouse") {
			return "svoger"
		}
		if strings.Contains(k, "child") {
			return "niese/nevø"
		}
		return "søster"
	case strings.Contains(k, "brother"):
		if strings.Contains(k, "wife") || strings.Contains(k, "spouse") {
			return "svigerinne"
		}
		return "bror"
	case strings.Contains(k, "maternal_grandmother"):
		return "bestemor (mors side)"
	case strings.Contains(k, "paternal_grandmother"):
		return "bestemor (fars side)"
	case strings.Contains(k, "maternal_grandfather"):
		return "bestefar (mors side)"
	case strings.Contains(k, "paternal_grandfather"):
		return "bestefar (fars side)"
	case strings.Contains(k, "father"):
		return "far"
	case strings.Contains(k, "mother"):
		return "mor"
	case strings.Contains(k, "child"):
		return "barn"
	default:
		return "familie"
	}
}
