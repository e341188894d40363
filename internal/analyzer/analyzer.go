// Package analyzer computes BPM, RMS, peak, silence, key, and crossfade
// lead-time metadata from decoded PCM, independent of the Codec that
// produced it.
package analyzer

import (
	"encoding/binary"
	"math"
)

const (
	energyWindowSeconds = 0.1 // BPM detector's energy-window size
	peakWindowSeconds   = 0.05
	defaultBPM          = 120.0
	minBPM              = 60
	maxBPM              = 180

	defaultLeadTimeSeconds      = 6.0
	defaultLeadTimeNoBufferSecs = 8.0
	leadTimeRatioThreshold      = 0.25
	leadTimeHalfOverlapSamples  = 1024
)

var leadTimeWindowSizes = []int{4, 8, 16, 32}

// Peak is a detected local energy maximum.
type Peak struct {
	TimeSeconds float64
	Energy      float64
}

// Analysis is the full set of derived metadata for one decoded track.
type Analysis struct {
	BPM               float64
	RMS               float64
	Key               string
	Peaks             []Peak
	CrossfadeLeadTime float64
}

// DecodeS16LEStereo turns interleaved 16-bit little-endian stereo PCM into a
// mono mix (left/right averaged) in the [-1, 1] range, the representation
// every analysis function below operates on.
func DecodeS16LEStereo(pcm []byte) []float64 {
	frameBytes := 4 // 2 channels * 2 bytes
	n := len(pcm) / frameBytes
	samples := make([]float64, n)
	for i := 0; i < n; i++ {
		off := i * frameBytes
		left := int16(binary.LittleEndian.Uint16(pcm[off : off+2]))
		right := int16(binary.LittleEndian.Uint16(pcm[off+2 : off+4]))
		samples[i] = (float64(left) + float64(right)) / 2 / 32768.0
	}
	return samples
}

// energySeries computes mean-square energy over consecutive, non-overlapping
// windows of windowSeconds length.
func energySeries(samples []float64, sampleRate int, windowSeconds float64) []float64 {
	windowSize := int(float64(sampleRate) * windowSeconds)
	if windowSize <= 0 {
		return nil
	}
	numWindows := len(samples) / windowSize
	series := make([]float64, numWindows)
	for w := 0; w < numWindows; w++ {
		start := w * windowSize
		var sum float64
		for i := 0; i < windowSize; i++ {
			s := samples[start+i]
			sum += s * s
		}
		series[w] = sum / float64(windowSize)
	}
	return series
}

// EstimateBPM finds the candidate tempo in [60, 180] bpm (step 1) whose
// implied lag maximizes the autocorrelation of the 100ms energy series.
// Falls back to 120 when the energy series is too short to judge, or when
// no candidate produces a positive correlation.
func EstimateBPM(samples []float64, sampleRate int) float64 {
	windowSize := int(float64(sampleRate) * energyWindowSeconds)
	if windowSize <= 0 {
		return defaultBPM
	}
	series := energySeries(samples, sampleRate, energyWindowSeconds)
	if len(series) < 2 || isFlatSeries(series) {
		return defaultBPM
	}

	bestBPM := defaultBPM
	bestCorr := 0.0
	for bpm := minBPM; bpm <= maxBPM; bpm++ {
		samplesPerBeat := float64(sampleRate) * 60.0 / float64(bpm)
		lag := int(math.Round(samplesPerBeat / float64(windowSize)))
		if lag <= 0 || lag >= len(series) {
			continue
		}
		corr := autocorrelationAtLag(series, lag)
		if corr > bestCorr {
			bestCorr = corr
			bestBPM = float64(bpm)
		}
	}
	if bestCorr <= 0 {
		return defaultBPM
	}
	return bestBPM
}

// isFlatSeries reports whether every window in series carries the same
// energy (silent or constant-amplitude input). In that case autocorrelation
// is identical at every lag, so the bpm candidate loop can't distinguish
// tempos and must not be trusted.
func isFlatSeries(series []float64) bool {
	first := series[0]
	for _, v := range series[1:] {
		if math.Abs(v-first) > 1e-9 {
			return false
		}
	}
	return true
}

func autocorrelationAtLag(series []float64, lag int) float64 {
	n := len(series) - lag
	if n <= 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += series[i] * series[i+lag]
	}
	return sum / float64(n)
}

// RMS returns the root-mean-square level of samples.
func RMS(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += s * s
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// ComputePeaks finds 50ms windows whose energy exceeds both neighboring
// windows and an absolute floor of 0.1.
func ComputePeaks(samples []float64, sampleRate int) []Peak {
	windowSize := int(float64(sampleRate) * peakWindowSeconds)
	if windowSize <= 0 {
		return nil
	}
	series := energySeries(samples, sampleRate, peakWindowSeconds)
	var peaks []Peak
	for i := 1; i < len(series)-1; i++ {
		e := series[i]
		if e <= 0.1 {
			continue
		}
		if e > series[i-1] && e > series[i+1] {
			peaks = append(peaks, Peak{
				TimeSeconds: float64(i*windowSize) / float64(sampleRate),
				Energy:      e,
			})
		}
	}
	return peaks
}

// TrimSilence removes leading and trailing runs of samples whose absolute
// value stays below threshold, returning the trimmed slice and its new
// duration in seconds.
func TrimSilence(samples []float64, sampleRate int, threshold float64) ([]float64, float64) {
	n := len(samples)
	start := 0
	for start < n && math.Abs(samples[start]) < threshold {
		start++
	}
	end := n
	for end > start && math.Abs(samples[end-1]) < threshold {
		end--
	}
	trimmed := samples[start:end]
	duration := float64(len(trimmed)) / float64(sampleRate)
	return trimmed, duration
}

// CrossfadeLeadTime estimates how many seconds before a track's natural end
// the crossfade into the next track should begin, based on how quiet the
// tail is relative to the track's peak loudness.
//
// Window sizes of 4, 8, 16, and 32 seconds are tried in order; a window is
// skipped once it would run past duration-2s. The first window whose
// trailing RMS falls under 25% of the track's peak RMS sets lead_time to
// window+1 seconds. If no window qualifies, or there are no samples at all,
// the defaults (6s with a buffer, 8s without one) apply.
func CrossfadeLeadTime(samples []float64, sampleRate int) float64 {
	if len(samples) == 0 {
		return defaultLeadTimeNoBufferSecs
	}

	mono := samples
	duration := float64(len(mono)) / float64(sampleRate)
	peak := peakRMSHalfOverlap(mono, sampleRate)
	if peak <= 0 {
		return defaultLeadTimeSeconds
	}

	for _, w := range leadTimeWindowSizes {
		if float64(w) >= duration-2.0 {
			continue
		}
		tailSamples := int(float64(w) * float64(sampleRate))
		if tailSamples > len(mono) {
			tailSamples = len(mono)
		}
		tail := mono[len(mono)-tailSamples:]
		ratio := RMS(tail) / peak
		if ratio < leadTimeRatioThreshold {
			return float64(w + 1)
		}
	}
	return defaultLeadTimeSeconds
}

// peakRMSHalfOverlap returns the maximum RMS across half-overlapping
// 1024-sample windows, used as the loudness reference for the lead-time
// ratio test.
func peakRMSHalfOverlap(samples []float64, sampleRate int) float64 {
	step := leadTimeHalfOverlapSamples / 2
	if step <= 0 || len(samples) < leadTimeHalfOverlapSamples {
		return RMS(samples)
	}
	var peak float64
	for start := 0; start+leadTimeHalfOverlapSamples <= len(samples); start += step {
		r := RMS(samples[start : start+leadTimeHalfOverlapSamples])
		if r > peak {
			peak = r
		}
	}
	return peak
}

// Analyze runs the full analysis pipeline (BPM, RMS, key, peaks, crossfade
// lead time) over one decoded mono buffer.
func Analyze(samples []float64, sampleRate int) Analysis {
	return Analysis{
		BPM:               EstimateBPM(samples, sampleRate),
		RMS:               RMS(samples),
		Key:               DetectKey(samples, sampleRate),
		Peaks:             ComputePeaks(samples, sampleRate),
		CrossfadeLeadTime: CrossfadeLeadTime(samples, sampleRate),
	}
}
