package hw

import (
	"context"
	"sync"
	"time"
)

// The no-op drivers let the gateway run on hosts without the duck hardware.
// Tests use them too.

type NoopBeak struct {
	mu  sync.Mutex
	pos float64
	// Positions records every Set for tests.
	Positions []float64
}

func (b *NoopBeak) Set(pos float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pos = clamp01(pos)
	b.Positions = append(b.Positions, b.pos)
	return nil
}

func (b *NoopBeak) Close() error { return b.Set(0) }

func (b *NoopBeak) Pos() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pos
}

type NoopFan struct {
	mu      sync.Mutex
	running bool
	// Switches records every effective state change for tests.
	Switches []bool
}

func (f *NoopFan) Set(on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if on == f.running {
		return nil
	}
	f.running = on
	f.Switches = append(f.Switches, on)
	return nil
}

func (f *NoopFan) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

type NoopRGB struct {
	mu    sync.Mutex
	state LEDState
}

func (l *NoopRGB) Set(state LEDState) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state = state
	return nil
}

func (l *NoopRGB) State() LEDState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// NoopAudio plays silently but still drives the block clock so the beak
// pipeline is exercised end to end in tests.
type NoopAudio struct {
	// BlockSize in samples per callback; defaults to 512.
	BlockSize int
	// Realtime sleeps the clip duration when true.
	Realtime bool
}

func (a *NoopAudio) Play(ctx context.Context, samples []float32, sampleRate int, onBlock func(offset int)) error {
	block := a.BlockSize
	if block <= 0 {
		block = 512
	}
	for off := 0; off < len(samples); off += block {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if onBlock != nil {
			onBlock(off)
		}
		if a.Realtime {
			time.Sleep(time.Duration(block) * time.Second / time.Duration(sampleRate))
		}
	}
	return nil
}

func (a *NoopAudio) Record(ctx context.Context, d time.Duration) ([]float32, int, error) {
	const rate = 16000
	n := int(d.Seconds() * rate)
	return make([]float32, n), rate, nil
}

type FixedTemp struct {
	mu sync.Mutex
	C  float64
}

func (t *FixedTemp) ReadCelsius() (float64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.C, nil
}

func (t *FixedTemp) SetC(c float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.C = c
}
