package memory

import (
	"fmt"
	"log"
	"strings"

	"github.com/osmundg/duckberry/internal/llm"
	"github.com/osmundg/duckberry/internal/store"
)

// PromptInput carries everything outside the database that colors a reply.
type PromptInput struct {
	UserName          string
	UserText          string
	DuckName          string
	OwnerName         string
	PerspectiveHeader string
	HungerLine        string
	ContextLimit      int
	MemoryLimit       int
	FactLimit         int
}

// BuildPrompt assembles the chat-completion turns: persona system prompt
// (with perspective, facts, memories and hunger state), recent history, then
// the current user turn.
func (m *Manager) BuildPrompt(in PromptInput) []llm.Message {
	if in.ContextLimit <= 0 {
		in.ContextLimit = 8
	}
	if in.MemoryLimit <= 0 {
		in.MemoryLimit = 5
	}
	if in.FactLimit <= 0 {
		in.FactLimit = 20
	}

	msgs := []llm.Message{llm.TextMessage("system", m.systemPrompt(in))}

	history, err := m.store.RecentMessages(in.UserName, in.ContextLimit)
	if err != nil {
		log.Printf("[memory] load history: %v", err)
	}
	for _, h := range history {
		if h.UserText != "" {
			msgs = append(msgs, llm.TextMessage("user", h.UserText))
		}
		if h.AIText != "" {
			msgs = append(msgs, llm.TextMessage("assistant", h.AIText))
		}
	}

	msgs = append(msgs, llm.TextMessage("user", in.UserText))
	return msgs
}

func (m *Manager) systemPrompt(in PromptInput) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Du er %s, en liten snakkende and som bor hjemme hos %s.\n", in.DuckName, in.OwnerName)
	b.WriteString("Du svarer på norsk, kort og muntlig, siden svaret leses opp høyt. ")
	b.WriteString("Ingen lister, ingen markdown, maks et par setninger.\n")

	p, err := m.store.Personality()
	if err == nil {
		b.WriteString(personalityLine(p))
	}

	if in.HungerLine != "" {
		b.WriteString(in.HungerLine + "\n")
	}

	if in.PerspectiveHeader != "" {
		b.WriteString("\n" + in.PerspectiveHeader)
	}

	facts, err := m.store.Facts(in.FactLimit)
	if err != nil {
		log.Printf("[memory] load facts: %v", err)
	}
	if len(facts) > 0 {
		b.WriteString("\nDet du vet om husstanden:\n")
		for _, f := range facts {
			fmt.Fprintf(&b, "- %s: %s\n", f.Key, f.Value)
		}
	}

	mems, err := m.store.TopMemories(in.UserName, in.MemoryLimit)
	if err != nil {
		log.Printf("[memory] load memories: %v", err)
	}
	if len(mems) > 0 {
		b.WriteString("\nTing du husker:\n")
		for _, mem := range mems {
			b.WriteString("- " + mem.Text + "\n")
		}
	}

	return b.String()
}

func personalityLine(p store.Personality) string {
	var parts []string
	if p.Humor >= 7 {
		parts = append(parts, "du er leken og slår gjerne en spøk")
	} else if p.Humor <= 3 {
		parts = append(parts, "du holder deg saklig")
	}
	if p.Enthusiasm >= 7 {
		parts = append(parts, "du er entusiastisk")
	}
	if p.Formality >= 7 {
		parts = append(parts, "du er høflig og formell")
	} else if p.Formality <= 3 {
		parts = append(parts, "du er uformell")
	}
	if p.UseEmojis {
		parts = append(parts, "du kan bruke en og annen emoji")
	} else {
		parts = append(parts, "du bruker aldri emojis")
	}
	if len(parts) == 0 {
		return ""
	}
	return "Personlighet: " + strings.Join(parts, ", ") + ".\n"
}
