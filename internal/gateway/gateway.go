// Package gateway wires the duck together: hardware, store, controllers,
// surfaces and the message router, plus process lifecycle.
package gateway

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	rcron "github.com/robfig/cron/v3"

	"github.com/osmundg/duckberry/internal/bus"
	"github.com/osmundg/duckberry/internal/config"
	"github.com/osmundg/duckberry/internal/control"
	"github.com/osmundg/duckberry/internal/hunger"
	"github.com/osmundg/duckberry/internal/hw"
	"github.com/osmundg/duckberry/internal/imagery"
	"github.com/osmundg/duckberry/internal/llm"
	"github.com/osmundg/duckberry/internal/memory"
	"github.com/osmundg/duckberry/internal/relay"
	"github.com/osmundg/duckberry/internal/router"
	"github.com/osmundg/duckberry/internal/session"
	"github.com/osmundg/duckberry/internal/speech"
	"github.com/osmundg/duckberry/internal/store"
	"github.com/osmundg/duckberry/internal/thermal"
	"github.com/osmundg/duckberry/internal/vision"
)

const defaultBufSize = 64

type Gateway struct {
	cfg   *config.Config
	store *store.Store
	bus   *bus.MessageBus

	beak  hw.Beak
	fan   hw.Fan
	rgb   hw.RGB
	audio hw.AudioOut
	mic   hw.AudioIn

	thermal  *thermal.Controller
	hungerM  *hunger.Manager
	hungerC  *hunger.Controller
	sessions *session.Manager
	memory   *memory.Manager
	speaker  *speech.Speaker
	stt      *speech.Transcriber
	visionB  *vision.Bridge
	relayC   *relay.Client
	images   *imagery.Analyzer
	router   *router.Router

	files  *control.Files
	logs   *control.LogBuffer
	server *control.Server
	cron   *rcron.Cron

	signalChan chan os.Signal // for testing
	voiceKick  chan struct{}
}

// Options for creating a Gateway.
type Options struct {
	SignalChan chan os.Signal
	// Hardware overrides for tests; nil picks the real device with a noop
	// fallback.
	Beak  hw.Beak
	Fan   hw.Fan
	RGB   hw.RGB
	Audio hw.AudioOut
	Mic   hw.AudioIn
	Temp  hw.TempSensor
}

func New(cfg *config.Config) (*Gateway, error) {
	return NewWithOptions(cfg, Options{})
}

func NewWithOptions(cfg *config.Config, opts Options) (*Gateway, error) {
	g := &Gateway{
		cfg:       cfg,
		bus:       bus.NewMessageBus(defaultBufSize),
		logs:      control.NewLogBuffer(0),
		voiceKick: make(chan struct{}, 1),
	}
	log.SetOutput(io.MultiWriter(os.Stderr, g.logs))

	// Persistent store is fatal at startup.
	s, err := store.Open(cfg.Duck.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	g.store = s

	if n, err := s.BackfillSessions(time.Duration(config.DefaultSessionGapMin) * time.Minute); err != nil {
		log.Printf("[gateway] session backfill warning: %v", err)
	} else if n > 0 {
		log.Printf("[gateway] backfilled %d legacy messages", n)
	}
	if err := s.UpsertUser(cfg.Duck.OwnerName, cfg.Duck.OwnerName, store.RelationOwner); err != nil {
		return nil, fmt.Errorf("ensure owner: %w", err)
	}
	if cfg.Relay.OwnerPhone != "" {
		if err := s.EnsureContact(cfg.Duck.OwnerName, cfg.Relay.OwnerPhone, store.RelationOwner, 1); err != nil {
			log.Printf("[gateway] seed owner contact: %v", err)
		}
	}

	g.initHardware(opts)

	// Control files and session state.
	files, err := control.NewFiles(cfg.ControlDir())
	if err != nil {
		s.Close()
		return nil, err
	}
	g.files = files
	g.sessions = session.NewManager(s, cfg.Duck.OwnerName, files.Dir()+"/"+control.FileCurrentUser)

	// Thermal: override comes from the fan control file, status goes back
	// out through fan_status.
	tempSensor := opts.Temp
	if tempSensor == nil {
		tempSensor = hw.NewSysfsTemp()
	}
	g.thermal = thermal.NewController(tempSensor, g.fan, cfg.Thermal.TempOn, cfg.Thermal.TempOff)
	g.thermal.ModeFunc = func() thermal.Mode {
		return thermal.Mode(files.Read(control.FileFan, string(thermal.ModeAuto)))
	}
	g.thermal.OnStatus = func(st thermal.Status) {
		if err := files.Write(control.FileFanStatus, st.String()); err != nil {
			log.Printf("[gateway] write fan status: %v", err)
		}
	}

	// Hunger.
	g.hungerM = hunger.NewManager(s, cfg.Hunger.MealHours, cfg.Hunger.Threshold)
	g.hungerC = hunger.NewController(g.hungerM, cfg.Hunger.RolloverHour)

	// Model clients.
	chat := llm.NewClient(cfg.LLM.APIKey, cfg.LLM.BaseURL, g.currentModel(), cfg.LLM.MaxTokens)
	visionLLM := llm.NewClient(cfg.LLM.APIKey, cfg.LLM.BaseURL, cfg.LLM.VisionModel, cfg.LLM.MaxTokens)

	g.memory = memory.NewManager(s, chat, time.Duration(config.DefaultSessionGapMin)*time.Minute)
	g.images = imagery.NewAnalyzer(s, visionLLM, cfg.ImagesDir())

	// Speech. Rate and volume come from the panel control files, read at
	// use so a change applies to the next utterance.
	tts := speech.NewTTSClient(cfg.TTS.Key, cfg.TTS.Region, g.currentVoice())
	tts.RateFunc = func() int { return g.controlLevel(control.FileSpeed) }
	g.speaker = speech.NewSpeaker(tts, g.audio, g.beakForSpeech(), 1.3, cfg.AnnouncementsDir())
	g.speaker.VolumeFunc = func() int { return g.controlLevel(control.FileVolume) }
	g.stt = speech.NewTranscriber(cfg.LLM.APIKey, cfg.LLM.BaseURL, "")

	// Vision bridge.
	if cfg.Vision.Enabled {
		brokerURL := fmt.Sprintf("tcp://%s:%d", cfg.Vision.BrokerHost, cfg.Vision.BrokerPort)
		g.visionB = vision.NewBridge(brokerURL, cfg.Duck.Name, vision.Callbacks{
			OnFaceDetected: g.onFaceDetected,
			OnSpeaker:      g.onFaceDetected,
		})
	}

	// Relay.
	g.relayC = relay.NewClient(cfg.Relay.BaseURL, cfg.Relay.PhoneNumber, cfg.Duck.Name, g.bus)

	// Router. The speaker is wrapped so the camera mutes face/voice work
	// while the duck itself is talking.
	var visionOps router.Vision
	var speakSurface router.Speaker = g.speaker
	if g.visionB != nil {
		visionOps = g.visionB
		speakSurface = speakNotify{Speaker: g.speaker, bridge: g.visionB}
	}
	g.router = router.New(router.Options{
		Store:     s,
		Sessions:  g.sessions,
		Memory:    g.memory,
		Hunger:    g.hungerM,
		LLM:       chat,
		Speaker:   speakSurface,
		Vision:    visionOps,
		Images:    g.images,
		DuckName:  cfg.Duck.Name,
		OwnerName: cfg.Duck.OwnerName,
	})
	g.router.SetOutbound(func(m bus.OutboundMessage) {
		g.bus.Outbound <- m
	})

	// Control surface.
	g.server = control.NewServer(files, g.logs, s, g.hungerM, g.sessions,
		cfg.Duck.Name, cfg.Duck.DataDir+"/songs", []string{"samantha", "hei and"})
	g.server.AskAI = func(ctx context.Context, text string) (string, error) {
		return g.router.Handle(ctx, bus.InboundMessage{Source: bus.SourceWebAI, Text: text, Timestamp: time.Now()})
	}
	g.server.Speak = func(ctx context.Context, text string) error {
		_, err := g.router.Handle(ctx, bus.InboundMessage{Source: bus.SourceWebSpeak, Text: text, Timestamp: time.Now()})
		return err
	}
	g.server.AnalyzeImage = func(ctx context.Context, data []byte, sender, caption string) (string, error) {
		return g.images.Process(ctx, data, sender, caption)
	}
	g.server.VisionOnline = func() bool {
		return g.visionB != nil && g.visionB.Online()
	}

	g.signalChan = opts.SignalChan
	return g, nil
}

// initHardware opens the real devices, falling back to noop implementations
// so the duck still runs on a dev machine.
func (g *Gateway) initHardware(opts Options) {
	g.beak = opts.Beak
	if g.beak == nil {
		if b, err := hw.NewServoBeak(); err == nil {
			g.beak = b
		} else {
			log.Printf("[gateway] servo unavailable, beak disabled: %v", err)
			g.beak = &hw.NoopBeak{}
		}
	}
	g.fan = opts.Fan
	if g.fan == nil {
		if f, err := hw.NewGPIOFan(g.cfg.Thermal.FanPin); err == nil {
			g.fan = f
		} else {
			log.Printf("[gateway] fan gpio unavailable: %v", err)
			g.fan = &hw.NoopFan{}
		}
	}
	g.rgb = opts.RGB
	if g.rgb == nil {
		if l, err := hw.NewGPIORGB(17, 27, 22); err == nil {
			g.rgb = l
		} else {
			g.rgb = &hw.NoopRGB{}
		}
	}
	if opts.Audio != nil {
		g.audio = opts.Audio
	}
	if opts.Mic != nil {
		g.mic = opts.Mic
	}
	if g.audio == nil || g.mic == nil {
		if a, err := hw.NewMalgoAudio(); err == nil {
			if g.audio == nil {
				g.audio = a
			}
			if g.mic == nil {
				g.mic = a
			}
		} else {
			log.Printf("[gateway] audio device unavailable: %v", err)
			if g.audio == nil {
				g.audio = &hw.NoopAudio{}
			}
			if g.mic == nil {
				g.mic = &hw.NoopAudio{}
			}
		}
	}
}

// beakForSpeech honors the beak control file at use.
func (g *Gateway) beakForSpeech() hw.Beak {
	return beakGate{g: g}
}

type beakGate struct {
	g *Gateway
}

func (b beakGate) Set(pos float64) error {
	if b.g.files != nil && b.g.files.Read(control.FileBeak, "on") == "off" {
		pos = 0
	}
	return b.g.beak.Set(pos)
}

func (b beakGate) Close() error { return b.g.beak.Close() }

// speakNotify flags the vision service while the duck is producing audio so
// it does not treat our own voice as a speaker to identify.
type speakNotify struct {
	*speech.Speaker
	bridge *vision.Bridge
}

func (s speakNotify) Speak(ctx context.Context, text string) error {
	s.bridge.NotifySpeaking(true)
	defer s.bridge.NotifySpeaking(false)
	return s.Speaker.Speak(ctx, text)
}

func (s speakNotify) SpeakCached(ctx context.Context, key, text string) error {
	s.bridge.NotifySpeaking(true)
	defer s.bridge.NotifySpeaking(false)
	return s.Speaker.SpeakCached(ctx, key, text)
}

func (g *Gateway) currentModel() string {
	if g.files != nil {
		if m := g.files.Read(control.FileModel, ""); m != "" {
			return m
		}
	}
	return g.cfg.LLM.Model
}

func (g *Gateway) currentVoice() string {
	if g.files != nil {
		if v := g.files.Read(control.FileVoice, ""); v != "" {
			return v
		}
	}
	return g.cfg.TTS.Voice
}

// controlLevel reads a 0..100 panel value (speed, volume). Missing or
// malformed files mean the neutral 50.
func (g *Gateway) controlLevel(name string) int {
	v, err := strconv.Atoi(strings.TrimSpace(g.files.Read(name, "50")))
	if err != nil || v < 0 || v > 100 {
		return 50
	}
	return v
}

func (g *Gateway) onFaceDetected(name string, confidence float64) {
	if confidence < 0.6 {
		return
	}
	current := g.sessions.Current()
	if strings.EqualFold(current.Username, name) {
		return
	}
	match, err := g.sessions.FindUserByName(name)
	if err != nil || match == nil {
		return
	}
	if _, err := g.sessions.Switch(match.Username, match.DisplayName, match.Relation); err != nil {
		log.Printf("[gateway] face switch: %v", err)
	}
}

func (g *Gateway) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go g.bus.DispatchOutbound(ctx)
	g.subscribeOutbound(ctx)

	go g.thermal.Run(ctx)
	if err := g.hungerC.Start(ctx); err != nil {
		return fmt.Errorf("start hunger controller: %w", err)
	}
	go g.consumeHungerEvents(ctx)

	if g.visionB != nil {
		if err := g.visionB.Connect(); err != nil {
			log.Printf("[gateway] vision bridge: %v", err)
		}
	}

	if g.relayC.Enabled() {
		if err := g.relayC.Register(ctx); err != nil {
			log.Printf("[gateway] relay register: %v", err)
		}
		go g.relayC.Run(ctx)
	}

	if err := g.server.Start(g.cfg.Gateway.Host, g.cfg.Gateway.Port); err != nil {
		return fmt.Errorf("start control server: %w", err)
	}
	if err := g.files.WatchMessages(ctx, g.onControlMessage); err != nil {
		log.Printf("[gateway] message watcher: %v", err)
	}
	if err := g.files.WatchSongs(ctx, g.onSongRequest, g.onSongStop); err != nil {
		log.Printf("[gateway] song watcher: %v", err)
	}

	g.startCron()
	go g.processLoop(ctx)
	go g.voiceLoop(ctx)

	if err := g.rgb.Set(hw.LEDGreen); err != nil {
		log.Printf("[gateway] led: %v", err)
	}
	log.Printf("[gateway] %s running on %s:%d", g.cfg.Duck.Name, g.cfg.Gateway.Host, g.cfg.Gateway.Port)

	sigCh := g.signalChan
	if sigCh == nil {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	}
	select {
	case <-sigCh:
	case <-ctx.Done():
	}

	log.Printf("[gateway] shutting down...")
	cancel()
	return g.Shutdown()
}

func (g *Gateway) subscribeOutbound(ctx context.Context) {
	smsSend := func(m bus.OutboundMessage) {
		if err := g.relayC.SendSMS(ctx, m.To, m.Text, m.MediaURL); err != nil {
			log.Printf("[gateway] send sms: %v", err)
		}
	}
	g.bus.SubscribeOutbound(bus.SourceSMS, smsSend)
	g.bus.SubscribeOutbound(bus.SourceMMS, smsSend)
	g.bus.SubscribeOutbound(bus.SourcePeer, func(m bus.OutboundMessage) {
		if err := g.relayC.SendPeer(ctx, m.To, m.Text, m.MediaURL); err != nil {
			log.Printf("[gateway] send peer: %v", err)
		}
	})
}

func (g *Gateway) processLoop(ctx context.Context) {
	for {
		select {
		case msg := <-g.bus.Inbound:
			log.Printf("[gateway] inbound %s from %q: %s", msg.Source, msg.SenderHint, truncate(msg.Text, 80))
			reply, err := g.router.Handle(ctx, msg)
			if err != nil {
				log.Printf("[gateway] handle %s turn: %v", msg.Source, err)
				continue
			}
			// The panel polls the response file for message replies.
			if msg.Source == bus.SourceWebMessage && reply != "" {
				if err := g.files.Write(control.FileResponse, reply); err != nil {
					log.Printf("[gateway] write response: %v", err)
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

// consumeHungerEvents speaks announcements (queued behind the current
// utterance) and sends SMS nags to the first enabled contact.
func (g *Gateway) consumeHungerEvents(ctx context.Context) {
	for {
		select {
		case text := <-g.hungerC.Announcements:
			key := fmt.Sprintf("announce_%d", time.Now().Hour())
			g.router.Announce(ctx, key, text)
		case text := <-g.hungerC.Nags:
			g.sendNag(ctx, text)
		case <-ctx.Done():
			return
		}
	}
}

func (g *Gateway) sendNag(ctx context.Context, text string) {
	// Nags fit a single SMS segment.
	if r := []rune(text); len(r) > 160 {
		text = string(r[:157]) + "..."
	}
	contact, err := g.store.NagContact()
	if err != nil || contact == nil {
		if g.cfg.Relay.OwnerPhone == "" {
			log.Printf("[gateway] no nag contact configured")
			return
		}
		contact = &store.SMSContact{Phone: g.cfg.Relay.OwnerPhone}
	}
	if err := g.relayC.SendSMS(ctx, contact.Phone, text, ""); err != nil {
		log.Printf("[gateway] send nag sms: %v", err)
		return
	}
	if contact.ID != 0 {
		if err := g.store.RecordContactSend(contact.ID); err != nil {
			log.Printf("[gateway] record nag send: %v", err)
		}
	}
}

// onControlMessage handles text dropped into the message control file by
// the web panel.
func (g *Gateway) onControlMessage(text string) {
	if text == control.StartConversationToken {
		select {
		case g.voiceKick <- struct{}{}:
		default:
		}
		return
	}
	g.bus.Publish(bus.InboundMessage{Source: bus.SourceWebMessage, Text: text, Timestamp: time.Now()})
}

// onSongRequest plays a WAV through the duck, beak and LED animated, until
// it ends or the stop file fires.
func (g *Gateway) onSongRequest(path string) {
	go func() {
		if err := g.rgb.Set(hw.LEDBlink); err != nil {
			log.Printf("[gateway] led: %v", err)
		}
		defer func() {
			if err := g.rgb.Set(hw.LEDGreen); err != nil {
				log.Printf("[gateway] led: %v", err)
			}
		}()
		log.Printf("[gateway] playing song %s", filepath.Base(path))
		if err := g.speaker.PlayFile(context.Background(), path); err != nil {
			log.Printf("[gateway] play song: %v", err)
		}
	}()
}

func (g *Gateway) onSongStop() {
	g.speaker.Interrupt()
}

// voiceLoop waits for a conversation trigger, then records and transcribes
// turns until the speaker goes quiet.
func (g *Gateway) voiceLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-g.voiceKick:
		}

		if g.visionB != nil {
			g.visionB.NotifyConversation(true)
		}
		g.router.Greet(ctx)
		g.runConversation(ctx)
		if g.visionB != nil {
			if v := g.sessions.Current(); v.DisplayName != "" {
				g.visionB.SaveConversationVoice(v.DisplayName)
			}
			g.visionB.NotifyConversation(false)
		}
	}
}

func (g *Gateway) runConversation(ctx context.Context) {
	const maxSilentTurns = 2
	silent := 0
	for silent < maxSilentTurns {
		if ctx.Err() != nil {
			return
		}
		samples, rate, err := g.mic.Record(ctx, 5*time.Second)
		if err != nil {
			log.Printf("[gateway] record: %v", err)
			return
		}
		text, err := g.stt.Transcribe(ctx, samples, rate)
		if err != nil {
			log.Printf("[gateway] transcribe: %v", err)
			return
		}
		if strings.TrimSpace(text) == "" {
			silent++
			continue
		}
		silent = 0
		if _, err := g.router.Handle(ctx, bus.InboundMessage{Source: bus.SourceVoice, Text: text, Timestamp: time.Now()}); err != nil {
			log.Printf("[gateway] voice turn: %v", err)
		}
	}
}

// startCron registers housekeeping jobs: nightly image pruning and a
// session flush in the small hours.
func (g *Gateway) startCron() {
	g.cron = rcron.New(rcron.WithSeconds())
	if _, err := g.cron.AddFunc("0 30 3 * * *", g.images.Prune); err != nil {
		log.Printf("[gateway] register prune job: %v", err)
	}
	if _, err := g.cron.AddFunc("0 0 4 * * *", g.memory.FlushSession); err != nil {
		log.Printf("[gateway] register flush job: %v", err)
	}
	g.cron.Start()
}

func (g *Gateway) Shutdown() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	g.speaker.Interrupt()
	if g.cron != nil {
		g.cron.Stop()
	}
	g.memory.FlushSession()

	if g.relayC.Enabled() {
		if err := g.relayC.Unregister(shutdownCtx); err != nil {
			log.Printf("[gateway] relay unregister: %v", err)
		}
	}
	if g.visionB != nil {
		g.visionB.Close()
	}
	if err := g.server.Stop(shutdownCtx); err != nil {
		log.Printf("[gateway] stop control server: %v", err)
	}
	if err := g.beak.Close(); err != nil {
		log.Printf("[gateway] close beak: %v", err)
	}
	if err := g.rgb.Set(hw.LEDOff); err != nil {
		log.Printf("[gateway] led off: %v", err)
	}
	if err := g.store.Close(); err != nil {
		log.Printf("[gateway] close store: %v", err)
	}
	log.Printf("[gateway] shutdown complete")
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
