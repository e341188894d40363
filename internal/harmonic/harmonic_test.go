package harmonic

import "testing"

func TestParseKeyValid(t *testing.T) {
	k, err := ParseKey("8A")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if k.Number != 8 || k.Letter != 'A' {
		t.Fatalf("expected 8A, got %+v", k)
	}
}

func TestParseKeyInvalid(t *testing.T) {
	if _, err := ParseKey("13A"); err == nil {
		t.Fatalf("expected error for out-of-range number")
	}
	if _, err := ParseKey(""); err == nil {
		t.Fatalf("expected error for empty key")
	}
}

func TestDistancePerfectMatch(t *testing.T) {
	a, _ := ParseKey("8A")
	b, _ := ParseKey("8A")
	if d := Distance(a, b); d != CompatPerfect {
		t.Fatalf("expected perfect match, got %d", d)
	}
}

func TestDistanceRelativeMajorMinor(t *testing.T) {
	a, _ := ParseKey("8A")
	b, _ := ParseKey("8B")
	if d := Distance(a, b); d != CompatExcellent {
		t.Fatalf("expected excellent for relative major/minor, got %d", d)
	}
}

func TestDistanceNilIsIncompatible(t *testing.T) {
	a, _ := ParseKey("8A")
	if d := Distance(a, nil); d != CompatIncompatible {
		t.Fatalf("expected incompatible for nil key, got %d", d)
	}
}

func TestSemitoneDifferenceClippedRange(t *testing.T) {
	a, _ := ParseKey("1A")
	b, _ := ParseKey("7A")
	d := SemitoneDifference(a, b)
	if d < -6 || d > 6 {
		t.Fatalf("expected semitone difference in [-6,6], got %d", d)
	}
}

func TestSemitoneDifferenceZeroForNil(t *testing.T) {
	a, _ := ParseKey("1A")
	if d := SemitoneDifference(a, nil); d != 0 {
		t.Fatalf("expected 0 for nil counterpart, got %d", d)
	}
}
