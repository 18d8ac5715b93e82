package session

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/osmundg/duckberry/internal/store"
)

func testManager(t *testing.T) (*Manager, *store.Store) {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(filepath.Join(dir, "duck.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.UpsertUser("Osmund", "", store.RelationOwner); err != nil {
		t.Fatalf("upsert owner: %v", err)
	}
	return NewManager(s, "osmund", filepath.Join(dir, "current_user")), s
}

func TestCurrentDefaultsToOwner(t *testing.T) {
	m, _ := testManager(t)
	v := m.Current()
	if v.Username != "Osmund" {
		t.Errorf("username = %q, want Osmund", v.Username)
	}
	if v.Relation != store.RelationOwner {
		t.Errorf("relation = %q, want owner", v.Relation)
	}
	if m.TimeUntilTimeout() != -1 {
		t.Errorf("owner timeout = %d, want -1", m.TimeUntilTimeout())
	}
}

func TestSwitchAndRevert(t *testing.T) {
	m, s := testManager(t)

	v, err := m.Switch("kari", "", "")
	if err != nil {
		t.Fatalf("switch: %v", err)
	}
	if v.Username != "Kari" || v.Relation != "gjest" {
		t.Errorf("switched view = %+v", v)
	}
	if sec := m.TimeUntilTimeout(); sec <= 0 || sec > 30*60 {
		t.Errorf("guest timeout = %ds, want within 30 minutes", sec)
	}

	// the users row was created
	u, err := s.GetUser("Kari")
	if err != nil || u == nil {
		t.Fatalf("user row missing: %v", err)
	}

	// switching back to the owner restores the owner relation
	v, err = m.Switch("osmund", "", "")
	if err != nil {
		t.Fatalf("switch back: %v", err)
	}
	if v.Relation != store.RelationOwner {
		t.Errorf("relation = %q, want owner", v.Relation)
	}
}

func TestSwitchKeepsKnownRelation(t *testing.T) {
	m, s := testManager(t)
	if err := s.UpsertUser("Anne", "", "mor"); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	v, err := m.Switch("anne", "", "")
	if err != nil {
		t.Fatalf("switch: %v", err)
	}
	if v.Relation != "mor" {
		t.Errorf("relation = %q, want stored mor", v.Relation)
	}
}

func TestTimedOut(t *testing.T) {
	m, _ := testManager(t)

	// owner never times out
	if m.TimedOut(time.Time{}) {
		t.Error("owner session must never time out")
	}

	if _, err := m.Switch("kari", "", ""); err != nil {
		t.Fatalf("switch: %v", err)
	}
	if m.TimedOut(time.Now()) {
		t.Error("fresh guest session should not be timed out")
	}

	// force the deadline into the past
	v := m.Current()
	v.TimeoutAt = time.Now().Add(-time.Minute)
	m.saveLocked(v)

	if !m.TimedOut(time.Now().Add(-10 * time.Minute)) {
		t.Error("expired session with stale activity should time out")
	}
	// a message within the grace window keeps the session alive
	if m.TimedOut(time.Now().Add(-2 * time.Minute)) {
		t.Error("recent exchange should extend the session")
	}
}

func TestFindUserByNameLadder(t *testing.T) {
	m, s := testManager(t)
	if err := s.UpsertUser("Bjørn Hansen", "Bjørn", "venn"); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.SaveFact(store.ProfileFact{Key: "sister_name", Value: "Kari", Source: "conversation"}); err != nil {
		t.Fatalf("fact: %v", err)
	}
	if err := s.SaveFact(store.ProfileFact{Key: "user_name_pronunciation", Value: "Åsmund", Source: "conversation"}); err != nil {
		t.Fatalf("fact: %v", err)
	}

	tests := []struct {
		name     string
		username string
		relation string
		key      string
	}{
		// pronunciation alias resolves to the owner
		{"åsmund", "Osmund", store.RelationOwner, "user_name_pronunciation"},
		// exact, case-insensitive
		{"bjørn hansen", "Bjørn Hansen", "venn", ""},
		// display name match
		{"BJØRN", "Bjørn Hansen", "venn", ""},
		// dot/space squashing
		{"bjørnhansen", "Bjørn Hansen", "venn", ""},
		// accent folding for mangled transcriptions
		{"bjorn hansen", "Bjørn Hansen", "venn", ""},
		// relation fact fallback
		{"kari", "Kari", "søster", "sister_name"},
	}
	for _, tt := range tests {
		match, err := m.FindUserByName(tt.name)
		if err != nil {
			t.Fatalf("find %q: %v", tt.name, err)
		}
		if match == nil {
			t.Errorf("find %q: no match", tt.name)
			continue
		}
		if match.Username != tt.username || match.Relation != tt.relation || match.MatchedKey != tt.key {
			t.Errorf("find %q = %+v, want %s/%s/%s", tt.name, match, tt.username, tt.relation, tt.key)
		}
	}

	match, err := m.FindUserByName("helt ukjent")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if match != nil {
		t.Errorf("unknown name matched %+v", match)
	}
}

func TestRelationFromKey(t *testing.T) {
	tests := []struct {
		key, want string
	}{
		{"sister_name", "søster"},
		{"sister_1_husband_name", "svoger"},
		{"sister_child_1_name", "niese/nevø"},
		{"brother_name", "bror"},
		{"brother_wife_name", "svigerinne"},
		{"father_name", "far"},
		{"mother_name", "mor"},
		{"maternal_grandmother_name", "bestemor (mors side)"},
		{"paternal_grandfather_name", "bestefar (fars side)"},
		{"child_2_name", "barn"},
		{"cousin_name", "familie"},
	}
	for _, tt := range tests {
		if got := RelationFromKey(tt.key); got != tt.want {
			t.Errorf("RelationFromKey(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
}
