package memory

import (
	"log"
	"strings"

	"github.com/coregx/ahocorasick"
)

// topicKeywords maps topic tags to the (lowercased) keywords that signal
// them. Both Norwegian and English forms, since the household mixes the two.
var topicKeywords = map[string][]string{
	"mat":      {"mat", "sulten", "spise", "middag", "frokost", "lunsj", "kveldsmat", "pizza", "kake", "kjeks", "eple", "banan", "food", "hungry", "eat", "dinner"},
	"familie":  {"familie", "far", "mor", "søster", "bror", "bestemor", "bestefar", "pappa", "mamma", "family", "sister", "brother"},
	"jobb":     {"jobb", "arbeid", "kontor", "møte", "kollega", "work", "office", "meeting"},
	"helse":    {"helse", "syk", "lege", "vondt", "trening", "health", "sick", "doctor"},
	"vær":      {"vær", "regn", "sol", "snø", "kaldt", "varmt", "weather", "rain", "snow"},
	"hobby":    {"musikk", "film", "bok", "spill", "fotball", "tur", "hytte", "music", "movie", "book", "game"},
	"planer":   {"i morgen", "neste uke", "helg", "ferie", "avtale", "plan", "tomorrow", "weekend", "vacation"},
	"teknikk":  {"data", "pc", "telefon", "internett", "wifi", "robot", "computer", "phone"},
	"følelser": {"glad", "trist", "sint", "redd", "lei", "happy", "sad", "angry"},
}

var defaultTagger = newTopicTagger()

// Topics tags free text with the shared topic keyword set. Other packages
// use it to categorize things that never pass through a conversation turn,
// like image descriptions.
func Topics(text string) []string {
	return defaultTagger.Tag(text)
}

// topicTagger scans messages for topic keywords in one pass.
type topicTagger struct {
	ac       *ahocorasick.Automaton
	patterns []string
	topicOf  []string
}

func newTopicTagger() *topicTagger {
	t := &topicTagger{}
	for topic, words := range topicKeywords {
		for _, w := range words {
			t.patterns = append(t.patterns, w)
			t.topicOf = append(t.topicOf, topic)
		}
	}
	ac, err := ahocorasick.NewBuilder().
		AddStrings(t.patterns).
		SetMatchKind(ahocorasick.LeftmostLongest).
		SetPrefilter(true).
		Build()
	if err != nil {
		log.Printf("[memory] build topic automaton: %v", err)
		return t
	}
	t.ac = ac
	return t
}

// Tag returns the distinct topics mentioned in text, in first-seen order.
func (t *topicTagger) Tag(text string) []string {
	if t.ac == nil {
		return nil
	}
	haystack := []byte(strings.ToLower(text))
	seen := make(map[string]bool)
	var topics []string
	for _, m := range t.ac.FindAllOverlapping(haystack) {
		topic := t.topicOf[m.PatternID]
		if !seen[topic] {
			seen[topic] = true
			topics = append(topics, topic)
		}
	}
	return topics
}

// scoreImportance gives a rough 1..10 weight used when picking which
// exchanges feed session summaries.
func scoreImportance(text string, topics []string, hasQuestion bool) int {
	score := 3
	if hasQuestion {
		score += 2
	}
	if len(text) > 100 {
		score++
	}
	for _, t := range topics {
		if t == "familie" || t == "planer" || t == "helse" {
			score += 2
			break
		}
	}
	if len(topics) > 1 {
		score++
	}
	if score > 10 {
		score = 10
	}
	return score
}
