package session

import (
	"math/rand"

	"github.com/vividhyeok/radioflow/internal/mixer"
)

// brownNoiseDurationSec is long enough that the mixer's tick loop won't
// exhaust the slot before a retry of the selection pipeline succeeds or the
// rate limit trips (spec §7 "Noise fallback").
const brownNoiseDurationSec = 30.0

// brownNoiseAmplitude keeps the fallback source at low volume (spec §7: "at
// low volume") relative to int16 full scale.
const brownNoiseAmplitude = 0.06

// brownNoisePCM synthesizes low-volume brown noise as 16-bit signed
// little-endian interleaved PCM, one pole of integration over white noise —
// the same one-pole-lowpass-over-white-noise technique used for ambient
// noise fixtures elsewhere in the corpus, just biased fully brown (no mix
// back toward white) since this is a masking bed, not a test fixture.
func brownNoisePCM(sampleRate, channels int, durationSec float64) []byte {
	frames := int(durationSec * float64(sampleRate))
	buf := make([]byte, frames*channels*2)

	rng := rand.New(rand.NewSource(1))
	var state float64
	idx := 0
	for i := 0; i < frames; i++ {
		white := rng.Float64()*2 - 1
		state = (state + 0.02*white) / 1.02
		sample := state * brownNoiseAmplitude
		if sample > 1 {
			sample = 1
		} else if sample < -1 {
			sample = -1
		}
		v := int16(sample * 32767)
		for c := 0; c < channels; c++ {
			buf[idx] = byte(v)
			buf[idx+1] = byte(v >> 8)
			idx += 2
		}
	}
	return buf
}

// noiseSlot builds a mixer Slot carrying a synthesized brown-noise bed, used
// when the selection pipeline cannot produce a playable track (spec §7).
func noiseSlot(sampleRate, channels int) *mixer.Slot {
	pcm := brownNoisePCM(sampleRate, channels, brownNoiseDurationSec)
	return mixer.NewSlot("__noise__", pcm, brownNoiseDurationSec, 0, nil, 0)
}
