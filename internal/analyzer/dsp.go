package analyzer

import (
	"math"
	"math/cmplx"
)

// The FFT, Hann window, and chromagram-based key detector below are ported
// near-verbatim from the teacher's dsp.go, which prefers a hand-rolled
// iterative Cooley-Tukey transform over an external DSP library so the
// windowing/frame-reuse allocation pattern stays tuned for GC pressure.

func nextPow2(n int) int {
	v := 1
	for v < n {
		v <<= 1
	}
	return v
}

func fft(x []complex128) []complex128 {
	n := len(x)
	out := make([]complex128, n)
	copy(out, x)
	if n <= 1 {
		return out
	}

	j := 0
	for i := 0; i < n-1; i++ {
		if i < j {
			out[i], out[j] = out[j], out[i]
		}
		m := n >> 1
		for j >= m && m > 0 {
			j -= m
			m >>= 1
		}
		j += m
	}

	for size := 2; size <= n; size <<= 1 {
		half := size >> 1
		step := -2 * math.Pi / float64(size)
		wLen := complex(math.Cos(step), math.Sin(step))
		for i := 0; i < n; i += size {
			w := complex(1, 0)
			for k := 0; k < half; k++ {
				u := out[i+k]
				v := out[i+k+half] * w
				out[i+k] = u + v
				out[i+k+half] = u - v
				w *= wLen
			}
		}
	}
	return out
}

func hannWindow(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(n-1)))
	}
	return w
}

var (
	majProfile = []float64{6.35, 2.23, 3.48, 2.33, 4.38, 4.09, 2.52, 5.19, 2.39, 3.66, 2.29, 2.88}
	minProfile = []float64{6.33, 2.68, 3.52, 5.38, 2.60, 3.53, 2.54, 4.75, 3.98, 2.69, 3.34, 3.17}

	// majorCamelot/minorCamelot map a chromatic pitch-class index (C=0..B=11)
	// to its Camelot wheel position, keeping relative major/minor pairs on
	// the same number (e.g.
	// C major and A minor both land on 8) the way harmonic.ParseKey expects
	// ("<number><A|B>"), not the "<Note> Major/Minor" form a chromagram
	// naturally produces.
	majorCamelot = []string{"8B", "3B", "10B", "5B", "12B", "7B", "2B", "9B", "4B", "11B", "6B", "1B"}
	minorCamelot = []string{"5A", "12A", "7A", "2A", "9A", "4A", "11A", "6A", "1A", "8A", "3A", "10A"}
)

// DetectKey estimates a musical key via chromagram correlation against the
// Krumhansl-Schmuckler major/minor profiles, returning Camelot notation so
// the result feeds directly into harmonic.ParseKey for the Streaming
// Mixer's pitch smoothing.
func DetectKey(samples []float64, sampleRate int) string {
	frameSize := 4096
	hopSize := 2048
	n := len(samples)
	numFrames := (n - frameSize) / hopSize
	if numFrames <= 0 {
		return "8B"
	}

	fftSize := nextPow2(frameSize)
	window := hannWindow(frameSize)
	chroma := make([]float64, 12)
	frame := make([]complex128, fftSize)

	for i := 0; i < numFrames; i++ {
		start := i * hopSize
		for k := range frame {
			frame[k] = 0
		}
		for j := 0; j < frameSize && start+j < n; j++ {
			frame[j] = complex(samples[start+j]*window[j], 0)
		}
		spec := fft(frame)
		for bin := 1; bin <= fftSize/2; bin++ {
			freq := float64(bin) * float64(sampleRate) / float64(fftSize)
			if freq < 65 || freq > 4000 {
				continue
			}
			semitones := 12 * math.Log2(freq/261.63)
			pc := ((int(math.Round(semitones)) % 12) + 12) % 12
			chroma[pc] += cmplx.Abs(spec[bin])
		}
	}

	bestCorr := -999.0
	bestKey := "8B"
	for rot := 0; rot < 12; rot++ {
		rolled := make([]float64, 12)
		for j := 0; j < 12; j++ {
			rolled[j] = chroma[(j+rot)%12]
		}
		corrMaj := pearson(rolled, majProfile)
		corrMin := pearson(rolled, minProfile)
		if corrMaj > bestCorr {
			bestCorr = corrMaj
			bestKey = majorCamelot[rot]
		}
		if corrMin > bestCorr {
			bestCorr = corrMin
			bestKey = minorCamelot[rot]
		}
	}
	return bestKey
}

func pearson(a, b []float64) float64 {
	n := len(a)
	if n == 0 || n != len(b) {
		return 0
	}
	var sumA, sumB, sumAB, sumA2, sumB2 float64
	for i := 0; i < n; i++ {
		sumA += a[i]
		sumB += b[i]
		sumAB += a[i] * b[i]
		sumA2 += a[i] * a[i]
		sumB2 += b[i] * b[i]
	}
	num := float64(n)*sumAB - sumA*sumB
	den := math.Sqrt((float64(n)*sumA2 - sumA*sumA) * (float64(n)*sumB2 - sumB*sumB))
	if den < 1e-12 {
		return 0
	}
	return num / den
}
