// Package mixer implements the Streaming Mixer (spec §4.6): a per-session,
// single-threaded tick loop over two slots (current, next) that performs
// gapless, cosine-crossfaded transitions between compressed audio chunks.
package mixer

import (
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vividhyeok/radioflow/internal/config"
	"github.com/vividhyeok/radioflow/internal/harmonic"
)

const tempoStepRate = 0.25 // gradual-adjustment step per tick, spec §4.6 step 2
const tempoSnapEpsilon = 1e-3

var pitchCompatibleShifts = []int{0, 3, -3, 7, -7}

// Slot holds one loaded track's encoded buffer and the metadata the mixer
// needs to drive timing, tempo, and pitch decisions.
type Slot struct {
	TrackID           string
	Buffer            []byte
	Offset            int
	DurationSec       float64
	BPM               float64
	Key               *harmonic.Key
	CrossfadeLeadTime float64
	StartedAt         time.Time

	TempoCurrent float64 // playback-rate multiplier actually in effect
	TempoTarget  float64 // multiplier the gradual adjustment is stepping toward
	PitchRatio   float64 // 2^(shift/12), 1.0 when unshifted
}

// NewSlot returns a Slot with tempo/pitch ratios defaulted to unity.
func NewSlot(trackID string, buffer []byte, durationSec, bpm float64, key *harmonic.Key, leadTime float64) *Slot {
	return &Slot{
		TrackID:           trackID,
		Buffer:            buffer,
		DurationSec:       durationSec,
		BPM:               bpm,
		Key:               key,
		CrossfadeLeadTime: leadTime,
		TempoCurrent:      1.0,
		TempoTarget:       1.0,
		PitchRatio:        1.0,
	}
}

func (s *Slot) estimatedBitrate() float64 {
	if s.DurationSec <= 0 {
		return 0
	}
	return float64(len(s.Buffer)) / s.DurationSec
}

func (s *Slot) bytesLeft() int {
	left := len(s.Buffer) - s.Offset
	if left < 0 {
		return 0
	}
	return left
}

// TickResult reports what happened during one Tick call, for the caller to
// translate into broadcasts.
type TickResult struct {
	Skipped            bool
	CrossfadeStarted   bool
	CrossfadeCompleted bool
	TrackEnded         bool
	Warning            string
}

// Mixer is the per-session tick-driven state machine.
type Mixer struct {
	mu     sync.Mutex
	cfg    config.Config
	logger zerolog.Logger

	current *Slot
	next    *Slot

	crossfading           bool
	crossfadeStartedAt    time.Time
	crossfadeBytesEmitted int
	crossfadeTotalBytes   int
	beatMatchingActive    bool
}

// New constructs a Mixer bound to cfg's crossfade duration and tempo
// tolerance.
func New(cfg config.Config, logger zerolog.Logger) *Mixer {
	return &Mixer{
		cfg:                cfg,
		logger:             logger.With().Str("component", "mixer").Logger(),
		beatMatchingActive: true,
	}
}

// SetCurrent installs slot as the current slot, resetting its start time to
// now.
func (m *Mixer) SetCurrent(slot *Slot, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	slot.StartedAt = now
	m.current = slot
	m.next = nil
	m.crossfading = false
}

// SetNext installs slot as the prepared next slot.
func (m *Mixer) SetNext(slot *Slot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next = slot
}

// HasNext reports whether a next slot is prepared.
func (m *Mixer) HasNext() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.next != nil
}

// Current returns the slot currently playing, or nil.
func (m *Mixer) Current() *Slot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// IsCrossfading reports whether a crossfade is currently in progress, used
// by the session's override protocol (spec §4.5 step 2) to decide between
// waiting, forcing a cut, or proceeding immediately.
func (m *Mixer) IsCrossfading() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.crossfading
}

// CrossfadeElapsed returns how long the current crossfade has been running.
// Zero when no crossfade is active.
func (m *Mixer) CrossfadeElapsed(now time.Time) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.crossfading {
		return 0
	}
	return now.Sub(m.crossfadeStartedAt)
}

// ForceCutover aborts an in-progress crossfade immediately, promoting next
// to current without finishing the fade envelope — used when an override
// has waited longer than the crossfade guard (spec §4.5 step 2).
func (m *Mixer) ForceCutover(now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.crossfading || m.next == nil {
		return false
	}
	m.completeCrossfade(now)
	return true
}

// Tick advances the mixer by one cadence step (spec §4.6, ≈40ms) and
// returns the chunk to emit plus a summary of what happened.
func (m *Mixer) Tick(now time.Time, hasAudioSubscribers bool, chunkSize int) ([]byte, TickResult) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !hasAudioSubscribers {
		return nil, TickResult{Skipped: true}
	}
	if m.current == nil {
		return nil, TickResult{Skipped: true}
	}

	m.stepGradualTempo()

	elapsed := now.Sub(m.current.StartedAt).Seconds() * m.current.TempoCurrent
	wallRemaining := m.current.DurationSec - elapsed

	bitrate := m.current.estimatedBitrate()
	var byteRemaining float64
	if bitrate > 0 {
		byteRemaining = float64(m.current.bytesLeft()) / bitrate
	}

	var result TickResult

	if !m.crossfading && m.next != nil && wallRemaining <= m.current.CrossfadeLeadTime {
		m.startCrossfade(now)
		result.CrossfadeStarted = true
	}

	if bitrate > 0 && math.Abs(wallRemaining-byteRemaining) > m.cfg.CrossfadeDurationSec*2 {
		result.Warning = "wall-clock and byte-based remaining estimates disagree"
	}
	if !m.crossfading && m.next != nil && byteRemaining < 1.0 && wallRemaining > 1.0 {
		m.startCrossfade(now)
		result.CrossfadeStarted = true
		result.Warning = "emergency crossfade: byte-based remaining exhausted ahead of wall clock"
	}

	var chunk []byte
	if m.crossfading {
		chunk = m.emitCrossfadeChunk(chunkSize)
		if m.crossfadeBytesEmitted >= m.crossfadeTotalBytes {
			m.completeCrossfade(now)
			result.CrossfadeCompleted = true
		}
	} else {
		chunk = m.emitNormalChunk(chunkSize)
	}

	if elapsed >= m.current.DurationSec {
		if m.next != nil && !m.crossfading {
			m.completeCrossfade(now)
			result.CrossfadeCompleted = true
		} else if m.next == nil {
			result.TrackEnded = true
		}
	}

	return chunk, result
}

func (m *Mixer) stepGradualTempo() {
	cur := m.current
	if cur == nil {
		return
	}
	diff := cur.TempoTarget - cur.TempoCurrent
	if math.Abs(diff) < tempoSnapEpsilon {
		cur.TempoCurrent = cur.TempoTarget
		return
	}
	cur.TempoCurrent += tempoStepRate * diff
}

func (m *Mixer) emitNormalChunk(chunkSize int) []byte {
	return readChunk(m.current, chunkSize)
}

func readChunk(s *Slot, chunkSize int) []byte {
	if s == nil || s.Offset >= len(s.Buffer) {
		return nil
	}
	end := s.Offset + chunkSize
	if end > len(s.Buffer) {
		end = len(s.Buffer)
	}
	chunk := s.Buffer[s.Offset:end]
	s.Offset = end
	return chunk
}

// startCrossfade begins a crossfade: computes the total byte budget from the
// configured crossfade duration and current bitrate, applies tempo matching
// and pitch smoothing to the next slot.
func (m *Mixer) startCrossfade(now time.Time) {
	m.crossfading = true
	m.crossfadeStartedAt = now
	m.crossfadeBytesEmitted = 0
	bitrate := m.current.estimatedBitrate()
	m.crossfadeTotalBytes = int(bitrate * m.cfg.CrossfadeDurationSec)
	if m.crossfadeTotalBytes <= 0 {
		m.crossfadeTotalBytes = 1
	}

	m.applyTempoMatching()
	m.applyPitchSmoothing()
}

// applyTempoMatching implements spec §4.6's tempo-matching rule: within the
// configured tolerance, current plays at 1.0x and next is stretched by the
// inverse BPM ratio; outside tolerance, neither track is adjusted.
func (m *Mixer) applyTempoMatching() {
	if m.current == nil || m.next == nil || m.current.BPM <= 0 || m.next.BPM <= 0 {
		return
	}
	tempoRatio := m.next.BPM / m.current.BPM
	tol := m.cfg.TempoToleranceRatio
	if math.Abs(1-tempoRatio) > tol {
		return
	}
	m.current.TempoTarget = 1.0
	inverse := m.current.BPM / m.next.BPM
	m.next.TempoTarget = clamp(inverse, 1-tol, 1+tol)
}

// applyPitchSmoothing implements spec §4.6's circle-of-fifths pitch
// smoothing: only engages when the semitone gap is awkward ({1, 2, 6}),
// snapping to the nearest harmonically compatible interval.
func (m *Mixer) applyPitchSmoothing() {
	if !m.beatMatchingActive || m.current == nil || m.next == nil {
		return
	}
	if m.current.Key == nil || m.next.Key == nil {
		return
	}
	d := harmonic.SemitoneDifference(m.current.Key, m.next.Key)
	if !isAwkwardInterval(d) {
		return
	}
	shift := nearestCompatibleShift(d)
	pitchRatio := math.Pow(2, float64(shift)/12.0)

	tempo := m.next.TempoTarget
	if tempo <= 0 {
		tempo = 1.0
	}
	newDuration := m.next.DurationSec / tempo * math.Pow(pitchRatio, 0.1)
	if math.Abs(newDuration-m.next.DurationSec) > 0.1 {
		m.next.DurationSec = newDuration
	}
	m.next.PitchRatio = pitchRatio
}

func isAwkwardInterval(d int) bool {
	ad := d
	if ad < 0 {
		ad = -ad
	}
	return ad == 1 || ad == 2 || ad == 6
}

func nearestCompatibleShift(d int) int {
	best := pitchCompatibleShifts[0]
	bestDist := absInt(d - best)
	for _, c := range pitchCompatibleShifts[1:] {
		dist := absInt(d - c)
		if dist < bestDist {
			bestDist = dist
			best = c
		}
	}
	return best
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// CrossfadeVolumes computes the cosine-envelope volumes for progress
// p ∈ [0, 1] (spec §4.6): c = (1 − cos(πp))/2, current = cos(c·π/2),
// next = sin(c·π/2).
func CrossfadeVolumes(p float64) (currentVolume, nextVolume float64) {
	if p < 0 {
		p = 0
	}
	if p > 1 {
		p = 1
	}
	c := (1 - math.Cos(math.Pi*p)) / 2
	return math.Cos(c * math.Pi / 2), math.Sin(c * math.Pi / 2)
}

// emitCrossfadeChunk selects between the current and next slot's raw chunks
// across the fade midpoint while the ideal cosine volumes are still
// reported for broadcast/telemetry purposes — a full per-sample PCM mix is
// optional per spec §4.6 and is offered separately via MixPCM.
func (m *Mixer) emitCrossfadeChunk(chunkSize int) []byte {
	p := float64(m.crossfadeBytesEmitted) / float64(m.crossfadeTotalBytes)
	m.crossfadeBytesEmitted += chunkSize

	if p < 0.5 {
		if chunk := readChunk(m.current, chunkSize); chunk != nil {
			return chunk
		}
		return readChunk(m.next, chunkSize)
	}
	if chunk := readChunk(m.next, chunkSize); chunk != nil {
		return chunk
	}
	return readChunk(m.current, chunkSize)
}

// completeCrossfade performs slot rotation: next becomes current, next is
// cleared, and the new current's start clock resets.
func (m *Mixer) completeCrossfade(now time.Time) {
	m.next.StartedAt = now
	m.next.Offset = 0
	m.current = m.next
	m.next = nil
	m.crossfading = false
	m.crossfadeBytesEmitted = 0
	m.crossfadeTotalBytes = 0
}

// MixPCM mixes two equal-length signed 16-bit little-endian PCM buffers at
// the given volumes, clamping to the int16 range. Adapted from the
// crossfade-session PCM mixer pattern for callers that choose the optional
// full per-sample mix instead of chunk selection.
func MixPCM(a, b []byte, aVolume, bVolume float64) []byte {
	out := make([]byte, len(a))
	for i := 0; i+1 < len(out); i += 2 {
		as := int16(uint16(a[i]) | uint16(a[i+1])<<8)
		var bs int16
		if i+1 < len(b) {
			bs = int16(uint16(b[i]) | uint16(b[i+1])<<8)
		}
		mixed := float64(as)*aVolume + float64(bs)*bVolume
		if mixed > 32767 {
			mixed = 32767
		} else if mixed < -32768 {
			mixed = -32768
		}
		u := uint16(int16(mixed))
		out[i] = byte(u & 0xff)
		out[i+1] = byte((u >> 8) & 0xff)
	}
	return out
}
