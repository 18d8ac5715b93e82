// Package memory persists conversation history, groups it into sessions by
// idle gap, and distills closed sessions into summaries, profile facts and
// long-term memories.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/osmundg/duckberry/internal/llm"
	"github.com/osmundg/duckberry/internal/store"
)

const summaryPrompt = `Du er minnemotoren til en snakkende and. Oppsummer samtalen under.

Returner strengt JSON-objekt:
{"summary":"1-2 setninger på norsk","topics":["tema1","tema2"],"facts":[{"key":"snake_case_nøkkel","value":"verdi","confidence":0.9}],"memories":[{"text":"varig minne på norsk","confidence":0.8}]}

Regler:
1. facts er kun varige, eksplisitte fakta om brukeren (navn, relasjoner, preferanser)
2. Nøkler for navn slutter på _name (f.eks. sister_1_name, father_name)
3. memories er hendelser verdt å huske på tvers av samtaler
4. Ikke spekuler

Samtale:
%s`

type Manager struct {
	store      *store.Store
	llm        *llm.Client
	sessionGap time.Duration
	tagger     *topicTagger
}

func NewManager(s *store.Store, client *llm.Client, sessionGap time.Duration) *Manager {
	if sessionGap <= 0 {
		sessionGap = 30 * time.Minute
	}
	return &Manager{store: s, llm: client, sessionGap: sessionGap, tagger: newTopicTagger()}
}

// Record stores one exchange. A new session starts when the previous message
// is older than the session gap; the session that just closed is summarized
// in the background.
func (m *Manager) Record(userName, userText, aiText string) (int64, error) {
	now := time.Now()
	sessionID := ""

	last, err := m.store.LastMessage()
	if err != nil {
		return 0, fmt.Errorf("load last message: %w", err)
	}
	if last != nil && now.Sub(last.Timestamp) <= m.sessionGap {
		sessionID = last.SessionID
	} else {
		sessionID = uuid.NewString()
		if last != nil && last.SessionID != "" {
			go m.summarizeSession(last.SessionID, last.UserName)
		}
	}

	topics := m.tagger.Tag(userText)
	msg := store.Message{
		SessionID: sessionID,
		UserName:  userName,
		UserText:  userText,
		AIText:    aiText,
		Timestamp: now,
		Meta: store.MessageMeta{
			Length:      len(userText),
			HasQuestion: strings.Contains(userText, "?"),
			Topics:      topics,
			Importance:  scoreImportance(userText, topics, strings.Contains(userText, "?")),
		},
	}
	id, err := m.store.SaveMessage(msg)
	if err != nil {
		return 0, fmt.Errorf("save message: %w", err)
	}
	if err := m.store.IncrementMessageCount(userName); err != nil {
		log.Printf("[memory] increment message count: %v", err)
	}
	return id, nil
}

type sessionDigest struct {
	Summary  string   `json:"summary"`
	Topics   []string `json:"topics"`
	Facts    []struct {
		Key        string  `json:"key"`
		Value      string  `json:"value"`
		Confidence float64 `json:"confidence"`
	} `json:"facts"`
	Memories []struct {
		Text       string  `json:"text"`
		Confidence float64 `json:"confidence"`
	} `json:"memories"`
}

func (m *Manager) summarizeSession(sessionID, userName string) {
	if m.llm == nil {
		return
	}
	msgs, err := m.store.SessionMessages(sessionID)
	if err != nil || len(msgs) == 0 {
		return
	}

	var b strings.Builder
	for _, msg := range msgs {
		fmt.Fprintf(&b, "%s: %s\nAnd: %s\n", msg.UserName, msg.UserText, msg.AIText)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	resp, err := m.llm.ChatJSON(ctx, []llm.Message{llm.TextMessage("user", fmt.Sprintf(summaryPrompt, b.String()))})
	if err != nil {
		log.Printf("[memory] summarize session %s: %v", sessionID, err)
		return
	}

	var d sessionDigest
	if err := json.Unmarshal([]byte(resp), &d); err != nil {
		log.Printf("[memory] parse session digest: %v", err)
		return
	}

	topics, _ := json.Marshal(d.Topics)
	if err := m.store.UpdateSessionSummary(sessionID, d.Summary, string(topics)); err != nil {
		log.Printf("[memory] update session summary: %v", err)
	}
	for _, f := range d.Facts {
		if f.Key == "" || f.Value == "" {
			continue
		}
		err := m.store.SaveFact(store.ProfileFact{
			Key:        f.Key,
			Value:      f.Value,
			Confidence: f.Confidence,
			Source:     "session_summary",
			Meta:       store.FactMeta{LearnedAt: time.Now().Format(time.RFC3339), ExtractionConfidence: f.Confidence},
		})
		if err != nil {
			log.Printf("[memory] save fact %s: %v", f.Key, err)
		}
	}
	for _, mem := range d.Memories {
		if mem.Text == "" {
			continue
		}
		if _, err := m.store.SaveMemory(store.Memory{UserName: userName, Text: mem.Text, Confidence: mem.Confidence}); err != nil {
			log.Printf("[memory] save memory: %v", err)
		}
	}
	log.Printf("[memory] summarized session %s (%d messages)", sessionID, len(msgs))
}

// FlushSession summarizes the most recent session immediately. Used on
// shutdown and when the control surface asks for it.
func (m *Manager) FlushSession() {
	last, err := m.store.LastMessage()
	if err != nil || last == nil || last.SessionID == "" {
		return
	}
	m.summarizeSession(last.SessionID, last.UserName)
}
