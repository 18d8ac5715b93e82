package speech

import "math"

// DSP parameters for the beak envelope. The threshold and gain were tuned on
// the actual servo: below the threshold the beak stays shut, above it the
// jaw opens roughly linearly and the tanh stage keeps loud passages from
// slamming the end stop.
const (
	rmsWindow     = 128
	envelopeAlpha = 0.3
	jawThreshold  = 0.035
	jawGain       = 16.0
	jawKnee       = 0.7
	fadeDuration  = 0.010 // seconds
)

// PitchShift resamples mono samples by factor using linear interpolation.
// factor > 1 raises the pitch (the result is shorter and played back at the
// original rate).
func PitchShift(samples []float32, factor float64) []float32 {
	if factor <= 0 || factor == 1.0 || len(samples) < 2 {
		return samples
	}
	outLen := int(float64(len(samples)) / factor)
	if outLen < 2 {
		return samples
	}
	out := make([]float32, outLen)
	for i := range out {
		pos := float64(i) * factor
		idx := int(pos)
		if idx >= len(samples)-1 {
			out[i] = samples[len(samples)-1]
			break
		}
		frac := float32(pos - float64(idx))
		out[i] = samples[idx]*(1-frac) + samples[idx+1]*frac
	}
	return out
}

// ApplyGain scales samples in place, clipping to [-1, 1].
func ApplyGain(samples []float32, gain float64) {
	if gain == 1.0 {
		return
	}
	for i, s := range samples {
		v := float64(s) * gain
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		samples[i] = float32(v)
	}
}

// ApplyFades writes a linear 10ms fade-in and fade-out in place, removing
// the clicks the amplifier produces on hard edges.
func ApplyFades(samples []float32, sampleRate int) {
	n := int(fadeDuration * float64(sampleRate))
	if n <= 0 || len(samples) < 2*n {
		return
	}
	for i := 0; i < n; i++ {
		g := float32(i) / float32(n)
		samples[i] *= g
		samples[len(samples)-1-i] *= g
	}
}

// rms over one analysis window.
func rms(window []float32) float64 {
	if len(window) == 0 {
		return 0
	}
	var sum float64
	for _, s := range window {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(window)))
}

// Envelope tracks the smoothed amplitude of the outgoing audio and maps it
// to a 0..1 jaw position.
type Envelope struct {
	prev float64
}

// JawAt returns the jaw position for the window starting at offset.
func (e *Envelope) JawAt(samples []float32, offset int) float64 {
	end := offset + rmsWindow
	if end > len(samples) {
		end = len(samples)
	}
	if offset >= end {
		return jawPosition(e.prev)
	}
	a := rms(samples[offset:end])
	e.prev = envelopeAlpha*a + (1-envelopeAlpha)*e.prev
	return jawPosition(e.prev)
}

// jawPosition maps a smoothed amplitude to beak opening. Soft saturation via
// tanh so shouting opens the beak wide without pinning it at the limit.
func jawPosition(a float64) float64 {
	if a < jawThreshold {
		return 0
	}
	x := (a - jawThreshold) * jawGain
	out := jawKnee * math.Tanh(x/jawKnee)
	if out > 1 {
		out = 1
	}
	return out
}
