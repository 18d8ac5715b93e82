// Package hw abstracts the duck's physical peripherals: the servo-driven
// beak, the cooling fan, the RGB indicator, the audio device and the CPU
// temperature sensor. Every real driver has a no-op twin so the rest of the
// system runs unchanged on a development host.
package hw

import (
	"context"
	"time"
)

// LEDState is what the RGB indicator can show.
type LEDState string

const (
	LEDGreen  LEDState = "green"
	LEDYellow LEDState = "yellow"
	LEDPurple LEDState = "purple"
	LEDRed    LEDState = "red"
	LEDOff    LEDState = "off"
	LEDBlink  LEDState = "blink"
)

// Beak positions the jaw. 0 is closed, 1 fully open; Set clamps.
// Transient servo errors are the caller's to ignore.
type Beak interface {
	Set(pos float64) error
	Close() error
}

// Fan switches the cooling fan. Set is idempotent.
type Fan interface {
	Set(on bool) error
	Running() bool
}

type RGB interface {
	Set(state LEDState) error
}

// AudioOut plays a mono float32 PCM clip, blocking until done or ctx is
// cancelled. onBlock is invoked with the sample offset as each device block
// is emitted; the beak drive hangs off this clock.
type AudioOut interface {
	Play(ctx context.Context, samples []float32, sampleRate int, onBlock func(offset int)) error
}

// AudioIn records mono PCM for the given duration.
type AudioIn interface {
	Record(ctx context.Context, d time.Duration) ([]float32, int, error)
}

type TempSensor interface {
	ReadCelsius() (float64, error)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
