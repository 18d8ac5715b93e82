package store

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "duck.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestTitleCase(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"osmund", "Osmund"},
		{"OSMUND", "Osmund"},
		{"anne marie", "Anne Marie"},
		{"  kari  nordmann ", "Kari Nordmann"},
		{"øystein", "Øystein"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := TitleCase(tt.in); got != tt.want {
			t.Errorf("TitleCase(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestUpsertUserKeepsRelation(t *testing.T) {
	s := testStore(t)

	if err := s.UpsertUser("osmund", "", RelationOwner); err != nil {
		t.Fatalf("upsert owner: %v", err)
	}
	// refresh without a relation must not clobber owner
	if err := s.UpsertUser("OSMUND", "", ""); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	u, err := s.GetUser("osmund")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if u == nil {
		t.Fatal("user not found")
	}
	if u.Username != "Osmund" {
		t.Errorf("username = %q, want Osmund", u.Username)
	}
	if u.Relation != RelationOwner {
		t.Errorf("relation = %q, want owner", u.Relation)
	}

	// unknown users default to gjest
	if err := s.UpsertUser("kari", "", ""); err != nil {
		t.Fatalf("upsert guest: %v", err)
	}
	g, _ := s.GetUser("kari")
	if g == nil || g.Relation != "gjest" {
		t.Errorf("new user relation = %v, want gjest", g)
	}
}

func TestOwnerLookup(t *testing.T) {
	s := testStore(t)
	if err := s.UpsertUser("Osmund", "", RelationOwner); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.UpsertUser("Kari", "", "venn"); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	owner, err := s.Owner()
	if err != nil {
		t.Fatalf("owner: %v", err)
	}
	if owner == nil || owner.Username != "Osmund" {
		t.Errorf("owner = %v, want Osmund", owner)
	}
	n, err := s.OwnerCount()
	if err != nil {
		t.Fatalf("owner count: %v", err)
	}
	if n != 1 {
		t.Errorf("owner count = %d, want 1", n)
	}
}

func TestFindUserExact(t *testing.T) {
	s := testStore(t)
	if err := s.UpsertUser("Anne Marie", "Mamma", "mor"); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	for _, name := range []string{"anne marie", "ANNE MARIE", "mamma"} {
		u, err := s.FindUserExact(name)
		if err != nil {
			t.Fatalf("find %q: %v", name, err)
		}
		if u == nil {
			t.Errorf("find %q: no match", name)
		}
	}
	u, err := s.FindUserExact("ukjent")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if u != nil {
		t.Errorf("find unknown = %v, want nil", u)
	}
}

func TestSaveMessageTracksSession(t *testing.T) {
	s := testStore(t)

	for i := 0; i < 3; i++ {
		_, err := s.SaveMessage(Message{
			SessionID: "sess-1",
			UserName:  "Osmund",
			UserText:  fmt.Sprintf("hei %d", i),
			AIText:    "kvakk",
			Timestamp: time.Date(2026, 3, 10, 12, i, 0, 0, time.UTC),
		})
		if err != nil {
			t.Fatalf("save message %d: %v", i, err)
		}
	}

	sess, err := s.GetSession("sess-1")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if sess == nil || sess.MessageCount != 3 {
		t.Errorf("session = %+v, want message count 3", sess)
	}

	msgs, err := s.RecentMessages("Osmund", 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("recent returned %d messages, want 2", len(msgs))
	}
	// oldest first
	if msgs[0].UserText != "hei 1" || msgs[1].UserText != "hei 2" {
		t.Errorf("recent order = %q, %q", msgs[0].UserText, msgs[1].UserText)
	}

	last, err := s.LastMessage()
	if err != nil {
		t.Fatalf("last: %v", err)
	}
	if last == nil || last.UserText != "hei 2" {
		t.Errorf("last = %v, want hei 2", last)
	}
}

func TestBackfillSessions(t *testing.T) {
	s := testStore(t)

	// legacy rows with no session id, inserted around a 40-minute gap
	times := []time.Time{
		time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 10, 10, 5, 0, 0, time.UTC),
		time.Date(2026, 3, 10, 10, 45, 0, 0, time.UTC), // > 30 min after the previous
	}
	for i, ts := range times {
		_, err := s.db.Exec(`
			INSERT INTO messages (session_id, user_name, user_text, ai_response, timestamp, metadata)
			VALUES ('', 'Osmund', ?, 'kvakk', ?, '')`,
			fmt.Sprintf("melding %d", i), ts.Format(time.RFC3339))
		if err != nil {
			t.Fatalf("insert legacy row: %v", err)
		}
	}

	updated, err := s.BackfillSessions(30 * time.Minute)
	if err != nil {
		t.Fatalf("backfill: %v", err)
	}
	if updated != 3 {
		t.Errorf("backfilled %d rows, want 3", updated)
	}

	var ids []string
	rows, err := s.db.Query(`SELECT session_id FROM messages ORDER BY id`)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			t.Fatal(err)
		}
		ids = append(ids, id)
	}
	if ids[0] == "" || ids[0] != ids[1] {
		t.Errorf("messages 5 minutes apart should share a session: %v", ids)
	}
	if ids[2] == ids[1] {
		t.Error("a 40-minute gap should start a new session")
	}

	// second run touches nothing
	updated, err = s.BackfillSessions(30 * time.Minute)
	if err != nil {
		t.Fatalf("rerun: %v", err)
	}
	if updated != 0 {
		t.Errorf("rerun backfilled %d rows, want 0", updated)
	}
}

func TestFactUpsert(t *testing.T) {
	s := testStore(t)

	if err := s.SaveFact(ProfileFact{Key: "sister_name", Value: "Kari", Source: "conversation"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.SaveFact(ProfileFact{Key: "sister_name", Value: "Kari Nordmann", Source: "conversation"}); err != nil {
		t.Fatalf("update: %v", err)
	}

	f, err := s.GetFact("sister_name")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if f == nil || f.Value != "Kari Nordmann" {
		t.Errorf("fact = %v, want updated value", f)
	}
	if f.Confidence != 1.0 {
		t.Errorf("confidence = %v, want default 1.0", f.Confidence)
	}

	names, err := s.NameFacts()
	if err != nil {
		t.Fatalf("name facts: %v", err)
	}
	if len(names) != 1 || names[0].Key != "sister_name" {
		t.Errorf("name facts = %v, want the sister fact only", names)
	}
}

func TestHungerClamps(t *testing.T) {
	s := testStore(t)

	level, err := s.AddHunger(15)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if level != HungerMax {
		t.Errorf("level = %v, want cap %v", level, HungerMax)
	}

	level, err = s.Feed(99)
	if err != nil {
		t.Fatalf("feed: %v", err)
	}
	if level != 0 {
		t.Errorf("level = %v, want floor 0", level)
	}

	st, err := s.HungerState()
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if st.MealsToday != 1 || !st.FedToday || st.LastMeal.IsZero() {
		t.Errorf("meal bookkeeping wrong: %+v", st)
	}

	if err := s.ResetHunger(); err != nil {
		t.Fatalf("reset: %v", err)
	}
	st, _ = s.HungerState()
	if st.Level != 0 || st.MealsToday != 0 || st.FedToday {
		t.Errorf("after reset: %+v", st)
	}
}

func TestNagContactRespectsDailyCap(t *testing.T) {
	s := testStore(t)
	if err := s.EnsureContact("Osmund", "+4799999999", RelationOwner, 1); err != nil {
		t.Fatalf("ensure owner contact: %v", err)
	}
	if err := s.EnsureContact("Kari", "+4788888888", "søster", 5); err != nil {
		t.Fatalf("ensure backup contact: %v", err)
	}

	c, err := s.NagContact()
	if err != nil {
		t.Fatalf("nag contact: %v", err)
	}
	if c == nil || c.Phone != "+4799999999" {
		t.Fatalf("contact = %+v, want owner first", c)
	}

	// Default daily cap is 3; burning it moves the pick to the backup.
	for i := 0; i < 3; i++ {
		if err := s.RecordContactSend(c.ID); err != nil {
			t.Fatalf("record send %d: %v", i, err)
		}
	}
	owner, err := s.ContactByPhone("+4799999999")
	if err != nil {
		t.Fatalf("contact by phone: %v", err)
	}
	if owner.SentToday != 3 || owner.TotalSent != 3 {
		t.Errorf("counters = today %d total %d, want 3/3", owner.SentToday, owner.TotalSent)
	}

	c, err = s.NagContact()
	if err != nil {
		t.Fatalf("nag contact after cap: %v", err)
	}
	if c == nil || c.Phone != "+4788888888" {
		t.Errorf("contact = %+v, want backup after owner cap", c)
	}
}

func TestEnsureContactUpdatesWithoutDuplicating(t *testing.T) {
	s := testStore(t)
	if err := s.EnsureContact("osmund", "+4799999999", "owner", 1); err != nil {
		t.Fatalf("first ensure: %v", err)
	}
	if err := s.EnsureContact("Osmund", "+4799999999", RelationOwner, 1); err != nil {
		t.Fatalf("second ensure: %v", err)
	}
	c, err := s.ContactByPhone("+4799999999")
	if err != nil {
		t.Fatalf("contact by phone: %v", err)
	}
	if c == nil || c.Name != "Osmund" || c.Relation != RelationOwner {
		t.Errorf("contact = %+v, want updated name and relation", c)
	}
}
