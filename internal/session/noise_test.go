package session

import "testing"

func TestBrownNoisePCMProducesRequestedLength(t *testing.T) {
	pcm := brownNoisePCM(44100, 2, 1.0)
	want := 44100 * 2 * 2
	if len(pcm) != want {
		t.Fatalf("expected %d bytes, got %d", want, len(pcm))
	}
}

func TestBrownNoisePCMStaysWithinLowVolumeBound(t *testing.T) {
	pcm := brownNoisePCM(8000, 1, 0.5)
	limit := int32(brownNoiseAmplitude*32767) + 1
	for i := 0; i+1 < len(pcm); i += 2 {
		v := int32(int16(uint16(pcm[i]) | uint16(pcm[i+1])<<8))
		if v > limit || v < -limit {
			t.Fatalf("sample %d exceeds low-volume bound %d", v, limit)
		}
	}
}

func TestBrownNoisePCMIsDeterministic(t *testing.T) {
	a := brownNoisePCM(8000, 1, 0.2)
	b := brownNoisePCM(8000, 1, 0.2)
	if len(a) != len(b) {
		t.Fatalf("expected equal-length output across calls")
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("expected deterministic output, differed at byte %d", i)
		}
	}
}

func TestNoiseSlotCarriesNoiseTrackID(t *testing.T) {
	slot := noiseSlot(44100, 2)
	if slot.TrackID != "__noise__" {
		t.Fatalf("expected noise slot track id, got %q", slot.TrackID)
	}
	if len(slot.Buffer) == 0 {
		t.Fatalf("expected non-empty noise buffer")
	}
}
