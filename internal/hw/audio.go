package hw

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/gen2brain/malgo"
)

// MalgoAudio owns the audio device through miniaudio. The device is held
// exclusively for the duration of each Play call; barge-in waits for release.
type MalgoAudio struct {
	ctx *malgo.AllocatedContext
	mu  sync.Mutex
}

func NewMalgoAudio() (*MalgoAudio, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("init audio context: %w", err)
	}
	return &MalgoAudio{ctx: ctx}, nil
}

func (a *MalgoAudio) Close() error {
	if a.ctx == nil {
		return nil
	}
	err := a.ctx.Uninit()
	a.ctx.Free()
	a.ctx = nil
	return err
}

func (a *MalgoAudio) Play(ctx context.Context, samples []float32, sampleRate int, onBlock func(offset int)) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.Playback.Format = malgo.FormatF32
	cfg.Playback.Channels = 1
	cfg.SampleRate = uint32(sampleRate)

	done := make(chan struct{})
	var once sync.Once
	offset := 0

	callbacks := malgo.DeviceCallbacks{
		Data: func(out, _ []byte, frameCount uint32) {
			n := int(frameCount)
			for i := 0; i < n; i++ {
				var v float32
				if offset+i < len(samples) {
					v = samples[offset+i]
				}
				binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
			}
			if onBlock != nil {
				onBlock(offset)
			}
			offset += n
			if offset >= len(samples) {
				once.Do(func() { close(done) })
			}
		},
	}

	device, err := malgo.InitDevice(a.ctx.Context, cfg, callbacks)
	if err != nil {
		return fmt.Errorf("init playback device: %w", err)
	}
	defer device.Uninit()

	if err := device.Start(); err != nil {
		return fmt.Errorf("start playback: %w", err)
	}

	select {
	case <-done:
		// drain the device buffer before releasing
		time.Sleep(50 * time.Millisecond)
		return device.Stop()
	case <-ctx.Done():
		_ = device.Stop()
		return ctx.Err()
	}
}

func (a *MalgoAudio) Record(ctx context.Context, d time.Duration) ([]float32, int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	const rate = 16000
	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = 1
	cfg.SampleRate = rate

	var buf []float32
	var bufMu sync.Mutex

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, in []byte, frameCount uint32) {
			bufMu.Lock()
			for i := 0; i < int(frameCount); i++ {
				s := int16(binary.LittleEndian.Uint16(in[i*2:]))
				buf = append(buf, float32(s)/32768.0)
			}
			bufMu.Unlock()
		},
	}

	device, err := malgo.InitDevice(a.ctx.Context, cfg, callbacks)
	if err != nil {
		return nil, 0, fmt.Errorf("init capture device: %w", err)
	}
	defer device.Uninit()

	if err := device.Start(); err != nil {
		return nil, 0, fmt.Errorf("start capture: %w", err)
	}

	select {
	case <-time.After(d):
	case <-ctx.Done():
		_ = device.Stop()
		return nil, 0, ctx.Err()
	}
	if err := device.Stop(); err != nil {
		return nil, 0, err
	}

	bufMu.Lock()
	defer bufMu.Unlock()
	return buf, rate, nil
}
