// Package thermal runs the closed-loop fan controller: on at 55 °C, off at
// 50 °C, hysteresis in between, with a manual override from the control
// surface.
package thermal

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/osmundg/duckberry/internal/hw"
)

type Mode string

const (
	ModeAuto Mode = "auto"
	ModeOn   Mode = "on"
	ModeOff  Mode = "off"

	defaultPeriod = 5 * time.Second
)

type Status struct {
	Mode    Mode
	Running bool
	TempC   float64
}

func (s Status) String() string {
	return fmt.Sprintf("%s|%t|%.1f", s.Mode, s.Running, s.TempC)
}

type Controller struct {
	sensor  hw.TempSensor
	fan     hw.Fan
	tempOn  float64
	tempOff float64
	period  time.Duration

	// ModeFunc supplies the current override; nil means auto.
	ModeFunc func() Mode
	// OnStatus receives a snapshot every iteration.
	OnStatus func(Status)

	mu       sync.Mutex
	lastMode Mode
	status   Status
}

func NewController(sensor hw.TempSensor, fan hw.Fan, tempOn, tempOff float64) *Controller {
	if tempOn <= tempOff {
		tempOn, tempOff = 55.0, 50.0
	}
	return &Controller{
		sensor:  sensor,
		fan:     fan,
		tempOn:  tempOn,
		tempOff: tempOff,
		period:  defaultPeriod,
	}
}

// SetPeriod exists for tests.
func (c *Controller) SetPeriod(d time.Duration) { c.period = d }

func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Run loops until ctx ends. Fan errors are logged and retried next tick.
func (c *Controller) Run(ctx context.Context) {
	ticker := time.NewTicker(c.period)
	defer ticker.Stop()

	c.Tick()
	for {
		select {
		case <-ticker.C:
			c.Tick()
		case <-ctx.Done():
			_ = c.fan.Set(false)
			return
		}
	}
}

// Tick evaluates one control step. Exported so tests can step the
// controller without real time.
func (c *Controller) Tick() {
	temp, err := c.sensor.ReadCelsius()
	if err != nil {
		log.Printf("[thermal] temp read failed: %v", err)
		return
	}

	mode := ModeAuto
	if c.ModeFunc != nil {
		if m := c.ModeFunc(); m == ModeOn || m == ModeOff {
			mode = m
		}
	}

	c.mu.Lock()
	if mode != c.lastMode {
		log.Printf("[thermal] fan mode: %s", mode)
		c.lastMode = mode
	}
	c.mu.Unlock()

	shouldRun := c.fan.Running()
	switch mode {
	case ModeOn:
		shouldRun = true
	case ModeOff:
		shouldRun = false
	default:
		if temp >= c.tempOn {
			shouldRun = true
		} else if temp <= c.tempOff {
			shouldRun = false
		}
		// between the thresholds the previous state holds
	}

	if err := c.fan.Set(shouldRun); err != nil {
		log.Printf("[thermal] fan switch failed: %v", err)
	}

	st := Status{Mode: mode, Running: c.fan.Running(), TempC: temp}
	c.mu.Lock()
	c.status = st
	c.mu.Unlock()
	if c.OnStatus != nil {
		c.OnStatus(st)
	}
}
