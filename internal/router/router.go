// Package router is the single funnel every surface feeds into: voice, the
// web panel, SMS/MMS and peer ducks. It resolves who is talking, gates a few
// intents past the model, assembles the persona and context, calls the model
// and fans the reply back out.
package router

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/osmundg/duckberry/internal/bus"
	"github.com/osmundg/duckberry/internal/hunger"
	"github.com/osmundg/duckberry/internal/llm"
	"github.com/osmundg/duckberry/internal/memory"
	"github.com/osmundg/duckberry/internal/session"
	"github.com/osmundg/duckberry/internal/store"
)

const (
	apologyText       = "Beklager, jeg klarte ikke å tenke akkurat nå. Prøv igjen om litt."
	cameraOfflineText = "Kameraet mitt er ikke tilkoblet akkurat nå."

	faceSampleCount    = 20
	voiceSampleSeconds = 10.0
)

// Speaker is the voice output surface.
type Speaker interface {
	Speak(ctx context.Context, text string) error
	SpeakCached(ctx context.Context, key, text string) error
	Interrupt()
}

// Vision is the camera request surface.
type Vision interface {
	Online() bool
	LookAround() string
	AnalyzeScene(question string) string
}

// PersonVision is the optional enrollment side of a vision backend: learning
// and forgetting faces and voices. Commands fire toward the camera;
// confirmations come back later as events.
type PersonVision interface {
	CheckPerson() (found bool, name string, confidence float64)
	LearnPerson(name string, samples int)
	ForgetPerson(name string)
	ListKnownPeople()
	LearnVoice(name string, duration float64)
}

// ImageAnalyzer handles MMS media and web uploads.
type ImageAnalyzer interface {
	Process(ctx context.Context, data []byte, sender, caption string) (string, error)
	ProcessURL(ctx context.Context, url, sender, caption string) (string, error)
}

type Router struct {
	store    *store.Store
	sessions *session.Manager
	memory   *memory.Manager
	hunger   *hunger.Manager
	llm      *llm.Client
	speaker  Speaker
	vision   Vision
	images   ImageAnalyzer

	duckName  string
	ownerName string

	mu       sync.Mutex
	speaking bool
	pending  []queuedUtterance
	outbound func(bus.OutboundMessage)
}

type queuedUtterance struct {
	key  string
	text string
}

type Options struct {
	Store    *store.Store
	Sessions *session.Manager
	Memory   *memory.Manager
	Hunger   *hunger.Manager
	LLM      *llm.Client
	Speaker  Speaker
	Vision   Vision
	Images   ImageAnalyzer

	DuckName  string
	OwnerName string
}

func New(opts Options) *Router {
	return &Router{
		store:     opts.Store,
		sessions:  opts.Sessions,
		memory:    opts.Memory,
		hunger:    opts.Hunger,
		llm:       opts.LLM,
		speaker:   opts.Speaker,
		vision:    opts.Vision,
		images:    opts.Images,
		duckName:  opts.DuckName,
		ownerName: store.TitleCase(opts.OwnerName),
	}
}

// Handle processes one inbound turn and returns the reply text. The reply
// is already stored, spoken and forwarded by the time Handle returns.
func (r *Router) Handle(ctx context.Context, msg bus.InboundMessage) (string, error) {
	userName := r.resolveUser(msg)

	// web_speak is verbatim text-to-speech, no model involved.
	if msg.Source == bus.SourceWebSpeak {
		r.speakAndFlush(ctx, msg.Text)
		return msg.Text, nil
	}

	if msg.Source == bus.SourceMMS && msg.ImageURL != "" {
		return r.handleImage(ctx, msg, userName)
	}

	if reply, handled := r.intentGate(ctx, msg, userName); handled {
		r.finish(ctx, msg, userName, msg.Text, reply)
		return reply, nil
	}

	reply, err := r.askModel(ctx, msg, userName)
	if err != nil {
		log.Printf("[router] model call failed: %v", err)
		reply = apologyText
	}
	r.finish(ctx, msg, userName, msg.Text, reply)
	if err != nil {
		return reply, fmt.Errorf("model call: %w", err)
	}
	return reply, nil
}

// resolveUser maps the inbound sender onto a known user and refreshes
// session activity.
func (r *Router) resolveUser(msg bus.InboundMessage) string {
	defer r.sessions.Touch()

	switch msg.Source {
	case bus.SourceSMS, bus.SourceMMS:
		if contact, err := r.store.ContactByPhone(msg.SenderHint); err == nil && contact != nil {
			return store.TitleCase(contact.Name)
		}
		return msg.SenderHint
	case bus.SourcePeer:
		if msg.SenderHint != "" {
			return store.TitleCase(msg.SenderHint)
		}
	}

	// Voice and web turns belong to the current session; fall back to the
	// owner if a guest session timed out.
	var lastAt time.Time
	if last, err := r.store.LastMessage(); err == nil && last != nil {
		lastAt = last.Timestamp
	}
	if r.sessions.TimedOut(lastAt) {
		if _, err := r.sessions.Switch(r.ownerName, "", store.RelationOwner); err != nil {
			log.Printf("[router] revert to owner: %v", err)
		}
	}
	return r.sessions.Current().Username
}

// intentGate answers a few commands without the model: feeding, user
// switching and camera questions.
func (r *Router) intentGate(ctx context.Context, msg bus.InboundMessage, userName string) (string, bool) {
	text := strings.ToLower(strings.TrimSpace(msg.Text))

	if value, ok := hunger.FoodValue(text); ok {
		level, err := r.hunger.Feed(text)
		if err != nil {
			log.Printf("[router] feed: %v", err)
			return "Nam! Men magen min surret litt rart der.", true
		}
		log.Printf("[router] fed %.1f, level now %.1f", value, level)
		return feedReply(level), true
	}

	if name, ok := switchTarget(text); ok {
		return r.switchUser(name), true
	}

	if isVisionQuestion(text) {
		if r.vision == nil || !r.vision.Online() {
			return cameraOfflineText, true
		}
		if strings.Contains(text, "hva ser du") && len(text) <= len("hva ser du?")+2 {
			return r.vision.LookAround(), true
		}
		return r.vision.AnalyzeScene(msg.Text), true
	}

	if reply, ok := r.personIntent(text); ok {
		return reply, true
	}

	return "", false
}

// personIntent handles face and voice enrollment plus recognition questions.
func (r *Router) personIntent(text string) (string, bool) {
	pv, ok := r.vision.(PersonVision)
	if !ok {
		return "", false
	}

	if name := prefixArg(text, "lær deg ansiktet til ", "lær ansiktet til "); name != "" {
		if !r.vision.Online() {
			return cameraOfflineText, true
		}
		name = store.TitleCase(name)
		pv.LearnPerson(name, faceSampleCount)
		return fmt.Sprintf("Så hyggelig! Se mot kameraet, %s, så lærer jeg meg ansiktet ditt.", name), true
	}

	if name := prefixArg(text, "lær deg stemmen til ", "lær stemmen til "); name != "" {
		if !r.vision.Online() {
			return cameraOfflineText, true
		}
		name = store.TitleCase(name)
		pv.LearnVoice(name, voiceSampleSeconds)
		return fmt.Sprintf("Greit, %s, bare snakk i vei, så lærer jeg meg stemmen din.", name), true
	}

	if name := prefixArg(text, "glem "); name != "" && name != "det" {
		if !r.vision.Online() {
			return cameraOfflineText, true
		}
		name = store.TitleCase(name)
		pv.ForgetPerson(name)
		return fmt.Sprintf("Greit, da har jeg glemt %s.", name), true
	}

	if strings.Contains(text, "hvem kjenner du") {
		if !r.vision.Online() {
			return cameraOfflineText, true
		}
		pv.ListKnownPeople()
		return "La meg se... jeg spør kameraet hvem jeg kjenner.", true
	}

	if strings.Contains(text, "hvem er jeg") || strings.Contains(text, "kjenner du meg igjen") {
		if !r.vision.Online() {
			return cameraOfflineText, true
		}
		found, name, confidence := pv.CheckPerson()
		if !found {
			return "Jeg ser ingen jeg kjenner akkurat nå.", true
		}
		return fmt.Sprintf("Det er jo %s! Jeg er %d%% sikker.", name, int(confidence*100)), true
	}

	return "", false
}

func prefixArg(text string, prefixes ...string) string {
	for _, p := range prefixes {
		if strings.HasPrefix(text, p) {
			return strings.Trim(strings.TrimSpace(strings.TrimPrefix(text, p)), ".!?")
		}
	}
	return ""
}

func switchTarget(text string) (string, bool) {
	for _, prefix := range []string{"bytt til ", "snakk med ", "switch to "} {
		if strings.HasPrefix(text, prefix) {
			name := strings.TrimSpace(strings.TrimPrefix(text, prefix))
			name = strings.Trim(name, ".!?")
			if name != "" {
				return name, true
			}
		}
	}
	return "", false
}

func isVisionQuestion(text string) bool {
	for _, phrase := range []string{"hva ser du", "se deg rundt", "hva skjer foran deg", "what do you see"} {
		if strings.Contains(text, phrase) {
			return true
		}
	}
	return false
}

func (r *Router) switchUser(name string) string {
	match, err := r.sessions.FindUserByName(name)
	if err != nil {
		log.Printf("[router] find user %q: %v", name, err)
		return apologyText
	}
	if match == nil {
		return fmt.Sprintf("Jeg vet ikke helt hvem %s er. Kan du fortelle meg det?", store.TitleCase(name))
	}
	if _, err := r.sessions.Switch(match.Username, match.DisplayName, match.Relation); err != nil {
		log.Printf("[router] switch to %s: %v", match.Username, err)
		return apologyText
	}
	return fmt.Sprintf("Hei %s! Hyggelig å snakke med deg.", match.DisplayName)
}

func feedReply(level float64) string {
	switch {
	case level <= 0:
		return "Nam nam! Nå er jeg stappmett. Takk!"
	case level < 3:
		return "Mmm, det smakte! Nå er jeg god og mett."
	case level < 7:
		return "Takk for maten! Det hjalp godt."
	default:
		return "Takk! Men jeg er fortsatt litt sulten, altså."
	}
}

func (r *Router) handleImage(ctx context.Context, msg bus.InboundMessage, userName string) (string, error) {
	if r.images == nil {
		return "", fmt.Errorf("image analyzer not configured")
	}
	desc, err := r.images.ProcessURL(ctx, msg.ImageURL, userName, msg.Text)
	if err != nil {
		log.Printf("[router] analyze mms image: %v", err)
		desc = "Jeg klarte ikke å se på bildet, dessverre."
	}
	r.finish(ctx, msg, userName, "[bilde] "+msg.Text, desc)
	if err != nil {
		return desc, fmt.Errorf("analyze image: %w", err)
	}
	return desc, nil
}

func (r *Router) askModel(ctx context.Context, msg bus.InboundMessage, userName string) (string, error) {
	now := time.Now()

	hungerLine := ""
	if line, err := r.hunger.LastMealLine(now); err == nil {
		hungerLine = line
	}
	if mood, err := r.hunger.CurrentMood(); err == nil {
		hungerLine += " " + moodLine(mood)
	}

	header := ""
	view := r.sessions.Current()
	if view.Relation != store.RelationOwner {
		facts, err := r.store.NameFacts()
		if err != nil {
			log.Printf("[router] load name facts: %v", err)
		}
		header = session.PerspectiveHeader(view, r.ownerName, facts)
	}

	prompt := r.memory.BuildPrompt(memory.PromptInput{
		UserName:          userName,
		UserText:          msg.Text,
		DuckName:          r.duckName,
		OwnerName:         r.ownerName,
		PerspectiveHeader: header,
		HungerLine:        hungerLine,
	})

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	return r.llm.Chat(ctx, prompt)
}

func moodLine(mood hunger.Mood) string {
	switch mood {
	case hunger.MoodContent:
		return "Du er mett og fornøyd."
	case hunger.MoodHungry:
		return "Du er litt sulten og nevner det gjerne."
	case hunger.MoodGrumpy:
		return "Du er sulten og merkbart gretten."
	case hunger.MoodHangry:
		return "Du er skrubbsulten og klarer nesten ikke tenke på annet enn mat."
	default:
		return ""
	}
}

// finish stores the turn, speaks it on spoken surfaces and sends the reply
// back out on textual ones. The store write always precedes the speak start.
func (r *Router) finish(ctx context.Context, msg bus.InboundMessage, userName, userText, reply string) {
	if _, err := r.memory.Record(userName, userText, reply); err != nil {
		log.Printf("[router] store turn: %v", err)
	}

	if msg.Spoken() {
		r.speakAndFlush(ctx, reply)
	}

	switch msg.Source {
	case bus.SourceSMS, bus.SourceMMS:
		r.sendOutbound(bus.OutboundMessage{Source: msg.Source, To: msg.SenderHint, Text: smsClamp(reply)})
	case bus.SourcePeer:
		r.sendOutbound(bus.OutboundMessage{Source: bus.SourcePeer, To: msg.SenderHint, Text: reply})
	}
}

// smsClamp fits a reply into a single SMS segment.
func smsClamp(text string) string {
	if r := []rune(text); len(r) > 160 {
		return string(r[:157]) + "..."
	}
	return text
}

// SetOutbound wires the reply sink for textual surfaces.
func (r *Router) SetOutbound(fn func(bus.OutboundMessage)) {
	r.mu.Lock()
	r.outbound = fn
	r.mu.Unlock()
}

func (r *Router) sendOutbound(msg bus.OutboundMessage) {
	r.mu.Lock()
	fn := r.outbound
	r.mu.Unlock()
	if fn != nil {
		fn(msg)
	}
}

// Greet speaks a short opening line when a conversation starts. The line
// adapts to the clock, the active user, the personality sliders and how
// hungry the duck is.
func (r *Router) Greet(ctx context.Context) string {
	view := r.sessions.Current()
	name := view.DisplayName
	if name == "" {
		name = view.Username
	}

	line := fmt.Sprintf("%s, %s!", greetOpening(time.Now().Hour()), name)
	if p, err := r.store.Personality(); err == nil && p.Enthusiasm >= 7 {
		line += " Så hyggelig at du vil prate med meg!"
	}
	if mood, err := r.hunger.CurrentMood(); err == nil {
		if mood == hunger.MoodGrumpy || mood == hunger.MoodHangry {
			line += " Men jeg er ganske sulten, altså."
		}
	}

	r.speakAndFlush(ctx, line)
	return line
}

func greetOpening(hour int) string {
	switch {
	case hour < 10:
		return "God morgen"
	case hour >= 18:
		return "God kveld"
	default:
		return "Hei"
	}
}

// Announce speaks immediately when the duck is idle, otherwise queues the
// line to play right after the current utterance.
func (r *Router) Announce(ctx context.Context, key, text string) {
	r.mu.Lock()
	r.pending = append(r.pending, queuedUtterance{key: key, text: text})
	busy := r.speaking
	r.mu.Unlock()
	if !busy {
		r.speakAndFlush(ctx, "")
	}
}

func (r *Router) speakAndFlush(ctx context.Context, text string) {
	if r.speaker == nil {
		return
	}
	r.mu.Lock()
	r.speaking = true
	r.mu.Unlock()

	if text != "" {
		if err := r.speaker.Speak(ctx, text); err != nil {
			log.Printf("[router] speak: %v", err)
		}
	}

	for {
		r.mu.Lock()
		if len(r.pending) == 0 {
			r.speaking = false
			r.mu.Unlock()
			return
		}
		next := r.pending[0]
		r.pending = r.pending[1:]
		r.mu.Unlock()

		if err := r.speakOne(ctx, next); err != nil {
			log.Printf("[router] queued announcement: %v", err)
		}
	}
}

func (r *Router) speakOne(ctx context.Context, u queuedUtterance) error {
	if r.speaker == nil {
		return nil
	}
	if u.key != "" {
		return r.speaker.SpeakCached(ctx, u.key, u.text)
	}
	return r.speaker.Speak(ctx, u.text)
}

// Interrupt cancels the current utterance (barge-in).
func (r *Router) Interrupt() {
	if r.speaker != nil {
		r.speaker.Interrupt()
	}
}
