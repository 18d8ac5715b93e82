// Package speech turns reply text into sound and beak motion. Synthesis,
// the duck-voice pitch shift and the audio-driven jaw envelope all live
// here; playback hardware is behind the hw interfaces.
package speech

import (
	"context"
	"encoding/binary"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/osmundg/duckberry/internal/hw"
)

// Synthesizer produces mono PCM for a piece of text.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]float32, int, error)
}

type Speaker struct {
	tts      Synthesizer
	audio    hw.AudioOut
	beak     hw.Beak
	pitch    float64
	cacheDir string

	// VolumeFunc supplies the panel volume 0..100 at playback time; 100 is
	// unity gain. Nil means full volume. Read per utterance so a panel
	// change applies to the next thing the duck says.
	VolumeFunc func() int

	mu      sync.Mutex
	current *playHandle
}

// playHandle identifies one in-flight utterance so its cleanup never clears
// a newer utterance's cancel func after a barge-in.
type playHandle struct {
	cancel context.CancelFunc
}

func NewSpeaker(tts Synthesizer, audio hw.AudioOut, beak hw.Beak, pitch float64, cacheDir string) *Speaker {
	if pitch <= 0 {
		pitch = 1.3
	}
	return &Speaker{tts: tts, audio: audio, beak: beak, pitch: pitch, cacheDir: cacheDir}
}

// Speak synthesizes and plays text, animating the beak from the outgoing
// audio. Blocks until playback finishes or ctx is cancelled. A new call
// interrupts the previous one.
func (s *Speaker) Speak(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	samples, rate, err := s.tts.Synthesize(ctx, text)
	if err != nil {
		return fmt.Errorf("synthesize: %w", err)
	}
	return s.play(ctx, s.prepare(samples, rate), rate)
}

// SpeakCached plays a pre-rendered utterance from the cache, rendering and
// storing it on first use. Meant for the fixed meal announcements so they
// start instantly.
func (s *Speaker) SpeakCached(ctx context.Context, key, text string) error {
	if s.cacheDir == "" {
		return s.Speak(ctx, text)
	}
	path := filepath.Join(s.cacheDir, key+".pcm")

	if samples, err := loadPCM(path); err == nil {
		return s.play(ctx, samples, ttsSampleRate)
	}

	samples, rate, err := s.tts.Synthesize(ctx, text)
	if err != nil {
		return fmt.Errorf("synthesize: %w", err)
	}
	prepared := s.prepare(samples, rate)
	if err := savePCM(path, prepared); err != nil {
		log.Printf("[speech] cache %s: %v", key, err)
	}
	return s.play(ctx, prepared, rate)
}

// PlayFile plays a pre-recorded clip (16-bit PCM WAV) with the usual beak
// animation and volume. Used for the song requests from the web panel.
func (s *Speaker) PlayFile(ctx context.Context, path string) error {
	samples, rate, err := LoadWAV(path)
	if err != nil {
		return fmt.Errorf("load %s: %w", filepath.Base(path), err)
	}
	return s.play(ctx, samples, rate)
}

// Interrupt stops the current utterance, if any.
func (s *Speaker) Interrupt() {
	s.mu.Lock()
	h := s.current
	s.mu.Unlock()
	if h != nil {
		h.cancel()
	}
}

func (s *Speaker) prepare(samples []float32, rate int) []float32 {
	out := PitchShift(samples, s.pitch)
	ApplyFades(out, rate)
	return out
}

func (s *Speaker) gain() float64 {
	if s.VolumeFunc == nil {
		return 1
	}
	v := s.VolumeFunc()
	if v < 0 {
		v = 0
	}
	if v > 100 {
		v = 100
	}
	return float64(v) / 100
}

func (s *Speaker) play(ctx context.Context, samples []float32, rate int) error {
	// The gain goes on a copy so cached clips stay at unity in the cache,
	// and the jaw trajectory below sees the samples as they actually play.
	if g := s.gain(); g != 1 {
		scaled := make([]float32, len(samples))
		copy(scaled, samples)
		ApplyGain(scaled, g)
		samples = scaled
	}

	s.mu.Lock()
	if s.current != nil {
		s.current.cancel()
	}
	playCtx, cancel := context.WithCancel(ctx)
	h := &playHandle{cancel: cancel}
	s.current = h
	s.mu.Unlock()
	defer func() {
		cancel()
		s.mu.Lock()
		if s.current == h {
			s.current = nil
		}
		s.mu.Unlock()
	}()

	env := &Envelope{}
	defer func() {
		if err := s.beak.Set(0); err != nil {
			log.Printf("[speech] close beak: %v", err)
		}
	}()

	err := s.audio.Play(playCtx, samples, rate, func(offset int) {
		if err := s.beak.Set(env.JawAt(samples, offset)); err != nil {
			log.Printf("[speech] beak: %v", err)
		}
	})
	if err != nil && playCtx.Err() != nil {
		// Interrupted on purpose, not a failure.
		return nil
	}
	return err
}

// JawTrace runs the envelope over samples at the given block size without
// playing anything. Exposed for calibration and tests.
func JawTrace(samples []float32, blockSize int) []float64 {
	env := &Envelope{}
	n := int(math.Ceil(float64(len(samples)) / float64(blockSize)))
	out := make([]float64, 0, n)
	for off := 0; off < len(samples); off += blockSize {
		out = append(out, env.JawAt(samples, off))
	}
	return out
}

func savePCM(path string, samples []float32) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	buf := make([]byte, 4*len(samples))
	for i, v := range samples {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return os.WriteFile(path, buf, 0644)
}

func loadPCM(path string) ([]float32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) < 4 || len(data)%4 != 0 {
		return nil, fmt.Errorf("truncated pcm cache %s", path)
	}
	out := make([]float32, len(data)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return out, nil
}
