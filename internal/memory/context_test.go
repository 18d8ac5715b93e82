package memory

import (
	"strings"
	"testing"
	"time"

	"github.com/osmundg/duckberry/internal/store"
)

func TestBuildPromptLayout(t *testing.T) {
	s := testStore(t)
	m := NewManager(s, nil, 30*time.Minute)

	if err := s.SaveFact(store.ProfileFact{Key: "sister_name", Value: "Kari", Source: "conversation"}); err != nil {
		t.Fatalf("fact: %v", err)
	}
	if _, err := s.SaveMemory(store.Memory{UserName: "Osmund", Text: "Osmund var på hytta i helgen", Confidence: 0.8}); err != nil {
		t.Fatalf("memory: %v", err)
	}
	if _, err := m.Record("Osmund", "hei and", "kvakk, hei!"); err != nil {
		t.Fatalf("record: %v", err)
	}

	msgs := m.BuildPrompt(PromptInput{
		UserName:   "Osmund",
		UserText:   "hva skjer?",
		DuckName:   "Samantha",
		OwnerName:  "Osmund",
		HungerLine: "Du er litt sulten.",
	})

	if len(msgs) != 4 {
		t.Fatalf("got %d turns, want system + history pair + current", len(msgs))
	}
	system, _ := msgs[0].Content.(string)
	if msgs[0].Role != "system" {
		t.Errorf("first turn role = %q", msgs[0].Role)
	}
	for _, want := range []string{"Samantha", "Osmund", "sister_name: Kari", "hytta", "Du er litt sulten."} {
		if !strings.Contains(system, want) {
			t.Errorf("system prompt missing %q:\n%s", want, system)
		}
	}

	if msgs[1].Role != "user" || msgs[1].Content != "hei and" {
		t.Errorf("history user turn = %+v", msgs[1])
	}
	if msgs[2].Role != "assistant" || msgs[2].Content != "kvakk, hei!" {
		t.Errorf("history assistant turn = %+v", msgs[2])
	}
	if msgs[3].Role != "user" || msgs[3].Content != "hva skjer?" {
		t.Errorf("current turn = %+v", msgs[3])
	}
}

func TestBuildPromptPerspective(t *testing.T) {
	s := testStore(t)
	m := NewManager(s, nil, 30*time.Minute)

	msgs := m.BuildPrompt(PromptInput{
		UserName:          "Anne",
		UserText:          "hei",
		DuckName:          "Samantha",
		OwnerName:         "Osmund",
		PerspectiveHeader: "Du snakker nå med Anne, moren til Osmund.",
	})
	system, _ := msgs[0].Content.(string)
	if !strings.Contains(system, "moren til Osmund") {
		t.Errorf("system prompt missing perspective header:\n%s", system)
	}
}

func TestPersonalityLine(t *testing.T) {
	p := store.Personality{Humor: 9, Enthusiasm: 8, Formality: 2, UseEmojis: false}
	line := personalityLine(p)
	for _, want := range []string{"spøk", "entusiastisk", "uformell", "aldri emojis"} {
		if !strings.Contains(line, want) {
			t.Errorf("personality line missing %q: %q", want, line)
		}
	}
}
