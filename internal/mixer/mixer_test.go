package mixer

import (
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/vividhyeok/radioflow/internal/config"
	"github.com/vividhyeok/radioflow/internal/harmonic"
)

func newTestMixer() *Mixer {
	cfg := config.Default()
	return New(cfg, zerolog.Nop())
}

func bufferOfSeconds(seconds float64, bytesPerSecond int) []byte {
	return make([]byte, int(seconds*float64(bytesPerSecond)))
}

func TestCrossfadeVolumesAtBoundaries(t *testing.T) {
	curV, nextV := CrossfadeVolumes(0)
	if math.Abs(curV-1) > 1e-9 || math.Abs(nextV) > 1e-9 {
		t.Fatalf("expected (1,0) at p=0, got (%v,%v)", curV, nextV)
	}
	curV, nextV = CrossfadeVolumes(1)
	if math.Abs(curV) > 1e-9 || math.Abs(nextV-1) > 1e-9 {
		t.Fatalf("expected (0,1) at p=1, got (%v,%v)", curV, nextV)
	}
}

func TestCrossfadeVolumesClampedOutsideRange(t *testing.T) {
	lowV, _ := CrossfadeVolumes(-1)
	hiV, _ := CrossfadeVolumes(2)
	zero, _ := CrossfadeVolumes(0)
	one, _ := CrossfadeVolumes(1)
	if lowV != zero {
		t.Fatalf("expected negative p clamped to 0")
	}
	if hiV != one {
		t.Fatalf("expected p > 1 clamped to 1")
	}
}

func TestTickSkipsWithNoSubscribers(t *testing.T) {
	m := newTestMixer()
	m.SetCurrent(NewSlot("a", bufferOfSeconds(10, 16000), 10, 120, nil, 6), time.Now())
	_, result := m.Tick(time.Now(), false, 4096)
	if !result.Skipped {
		t.Fatalf("expected tick to skip when there are no audio subscribers")
	}
}

func TestTickStartsCrossfadeNearTrackEnd(t *testing.T) {
	m := newTestMixer()
	start := time.Now().Add(-9 * time.Second)
	cur := NewSlot("a", bufferOfSeconds(10, 16000), 10, 120, nil, 6)
	cur.StartedAt = start
	m.current = cur
	m.SetNext(NewSlot("b", bufferOfSeconds(10, 16000), 10, 120, nil, 6))

	_, result := m.Tick(time.Now(), true, 4096)
	if !result.CrossfadeStarted {
		t.Fatalf("expected crossfade to start once remaining <= lead time")
	}
}

func TestTempoMatchingWithinToleranceLocksCurrentAndStretchesNext(t *testing.T) {
	m := newTestMixer()
	cur := NewSlot("a", bufferOfSeconds(10, 16000), 10, 120, nil, 6)
	next := NewSlot("b", bufferOfSeconds(10, 16000), 10, 130, nil, 6)
	m.current = cur
	m.next = next

	m.applyTempoMatching()

	if cur.TempoTarget != 1.0 {
		t.Fatalf("expected current tempo target to stay at 1.0, got %v", cur.TempoTarget)
	}
	expected := 120.0 / 130.0
	if math.Abs(next.TempoTarget-expected) > 1e-9 {
		t.Fatalf("expected next tempo target %v, got %v", expected, next.TempoTarget)
	}
}

func TestTempoMatchingOutsideToleranceLeavesBothUnadjusted(t *testing.T) {
	m := newTestMixer()
	cur := NewSlot("a", bufferOfSeconds(10, 16000), 10, 100, nil, 6)
	next := NewSlot("b", bufferOfSeconds(10, 16000), 10, 180, nil, 6)
	m.current = cur
	m.next = next

	m.applyTempoMatching()

	if cur.TempoTarget != 1.0 || next.TempoTarget != 1.0 {
		t.Fatalf("expected no tempo adjustment outside tolerance, got cur=%v next=%v", cur.TempoTarget, next.TempoTarget)
	}
}

func TestPitchSmoothingSkipsCompatibleIntervals(t *testing.T) {
	m := newTestMixer()
	eightB, _ := harmonic.ParseKey("8B")
	fiveB, _ := harmonic.ParseKey("5B")
	cur := NewSlot("a", bufferOfSeconds(10, 16000), 10, 120, eightB, 6)
	next := NewSlot("b", bufferOfSeconds(10, 16000), 10, 120, fiveB, 6)
	m.current = cur
	m.next = next

	m.applyPitchSmoothing()

	if next.PitchRatio != 1.0 {
		t.Fatalf("expected no pitch shift for a non-awkward interval, got ratio %v", next.PitchRatio)
	}
}

func TestSlotRotationOnCrossfadeCompletion(t *testing.T) {
	m := newTestMixer()
	cur := NewSlot("a", bufferOfSeconds(1, 16000), 1, 120, nil, 0)
	next := NewSlot("b", bufferOfSeconds(1, 16000), 1, 120, nil, 0)
	m.current = cur
	m.next = next

	m.completeCrossfade(time.Now())

	if m.current.TrackID != "b" {
		t.Fatalf("expected next to be promoted to current, got %q", m.current.TrackID)
	}
	if m.next != nil {
		t.Fatalf("expected next slot cleared after rotation")
	}
}
