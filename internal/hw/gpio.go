package hw

import (
	"fmt"
	"sync"

	"github.com/stianeikeland/go-rpio/v4"
)

var (
	rpioOnce sync.Once
	rpioErr  error
)

func openRpio() error {
	rpioOnce.Do(func() {
		rpioErr = rpio.Open()
	})
	return rpioErr
}

// GPIOFan is a 5V fan on a single digital output pin.
type GPIOFan struct {
	pin     rpio.Pin
	mu      sync.Mutex
	running bool
}

func NewGPIOFan(pin int) (*GPIOFan, error) {
	if err := openRpio(); err != nil {
		return nil, fmt.Errorf("open gpio: %w", err)
	}
	p := rpio.Pin(pin)
	p.Output()
	p.Low()
	return &GPIOFan{pin: p}, nil
}

func (f *GPIOFan) Set(on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if on == f.running {
		return nil
	}
	if on {
		f.pin.High()
	} else {
		f.pin.Low()
	}
	f.running = on
	return nil
}

func (f *GPIOFan) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

// GPIORGB drives a common-cathode RGB LED on three pins.
type GPIORGB struct {
	r, g, b rpio.Pin
}

func NewGPIORGB(rPin, gPin, bPin int) (*GPIORGB, error) {
	if err := openRpio(); err != nil {
		return nil, fmt.Errorf("open gpio: %w", err)
	}
	led := &GPIORGB{r: rpio.Pin(rPin), g: rpio.Pin(gPin), b: rpio.Pin(bPin)}
	for _, p := range []rpio.Pin{led.r, led.g, led.b} {
		p.Output()
		p.Low()
	}
	return led, nil
}

func (l *GPIORGB) Set(state LEDState) error {
	set := func(r, g, b bool) {
		write := func(p rpio.Pin, on bool) {
			if on {
				p.High()
			} else {
				p.Low()
			}
		}
		write(l.r, r)
		write(l.g, g)
		write(l.b, b)
	}
	switch state {
	case LEDGreen:
		set(false, true, false)
	case LEDYellow:
		set(true, true, false)
	case LEDPurple:
		set(true, false, true)
	case LEDRed:
		set(true, false, false)
	case LEDOff, LEDBlink:
		// blink patterns are driven by the caller toggling states
		set(false, false, false)
	default:
		return fmt.Errorf("unknown led state %q", state)
	}
	return nil
}
