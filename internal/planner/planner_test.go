package planner

import (
	"math"
	"testing"
)

func sampleTrack(filepath string, bpm float64, key string, dur float64) TrackAnalysis {
	return TrackAnalysis{
		Filepath: filepath,
		Duration: dur,
		BPM:      bpm,
		Key:      key,
		Energy:   []float64{0.4, 0.5, 0.6},
	}
}

func TestCamelotDistancePerfectMatchIsZero(t *testing.T) {
	if d := camelotDistance("C", "C"); d != 0 {
		t.Fatalf("expected 0 for identical keys, got %d", d)
	}
}

func TestCamelotDistanceRelativeMinorIsSmall(t *testing.T) {
	// C major and A minor share camelot number 8 on opposite wheels.
	if d := camelotDistance("C", "Am"); d != 10 {
		t.Fatalf("expected relative major/minor distance 10, got %d", d)
	}
}

func TestCamelotDistanceFallsBackOnUnknownKey(t *testing.T) {
	d := camelotDistance("Xb", "C")
	if d <= 0 {
		t.Fatalf("expected a positive fallback distance for an unrecognized key, got %d", d)
	}
}

func TestSortPlaylistKeepsAllTracks(t *testing.T) {
	tracks := []TrackAnalysis{
		sampleTrack("a", 120, "C", 200),
		sampleTrack("b", 122, "G", 210),
		sampleTrack("c", 118, "Am", 190),
		sampleTrack("d", 124, "F", 220),
	}
	sorted := sortPlaylist(tracks)
	if len(sorted) != len(tracks) {
		t.Fatalf("expected %d tracks in sorted output, got %d", len(tracks), len(sorted))
	}
	seen := make(map[string]bool)
	for _, tr := range sorted {
		seen[tr.Filepath] = true
	}
	for _, tr := range tracks {
		if !seen[tr.Filepath] {
			t.Fatalf("sortPlaylist dropped track %q", tr.Filepath)
		}
	}
}

func TestGenerateMixPlanProducesOneFewerTransitionThanTracks(t *testing.T) {
	tracks := []TrackAnalysis{
		sampleTrack("a", 120, "C", 200),
		sampleTrack("b", 122, "G", 210),
		sampleTrack("c", 118, "Am", 190),
	}
	plan := GenerateMixPlan(tracks, nil, nil, 3)
	if len(plan.Selections) != len(tracks)-1 {
		t.Fatalf("expected %d transitions, got %d", len(tracks)-1, len(plan.Selections))
	}
}

func TestGenerateMixPlanOnSingleTrackIsEmpty(t *testing.T) {
	plan := GenerateMixPlan([]TrackAnalysis{sampleTrack("a", 120, "C", 200)}, nil, nil, 3)
	if len(plan.SortedTracks) != 0 || len(plan.Selections) != 0 {
		t.Fatalf("expected an empty plan for fewer than two tracks")
	}
}

func TestComputePlayBoundsClampsBInTimeWithinDuration(t *testing.T) {
	playlist := []TrackWithAnalysis{
		{Filename: "a", Analysis: sampleTrack("a", 120, "C", 200)},
		{Filename: "b", Analysis: sampleTrack("b", 120, "C", 30)},
	}
	transitions := []TransitionSpec{{BInTime: 1000}} // absurdly large, must clamp
	entries := ComputePlayBounds(playlist, transitions)
	if entries[1].PlayStart > 30 || entries[1].PlayStart < 0 {
		t.Fatalf("expected clamped play start within [0, duration], got %f", entries[1].PlayStart)
	}
}

func TestSnapToPhraseFallsBackToGridWhenNoPhraseIsClose(t *testing.T) {
	beats := []float64{0, 0.5, 1.0, 1.5, 2.0, 2.5, 3.0}
	got := snapToPhrase(100.0, []float64{5.0}, beats, 2)
	if got < 0 {
		t.Fatalf("expected a non-negative snapped time, got %f", got)
	}
}

func TestBuildAtempoFilterIsAnullWhenNeutral(t *testing.T) {
	if f := buildAtempoFilter(1.0, 0); f != "anull" {
		t.Fatalf("expected anull for neutral tempo/pitch, got %q", f)
	}
}

func TestBuildAtempoFilterCombinesTempoAndPitch(t *testing.T) {
	f := buildAtempoFilter(1.1, 2.0)
	if f == "anull" {
		t.Fatalf("expected a non-trivial filter chain")
	}
}

func TestClampPlayBoundsEnforcesMinimumChunk(t *testing.T) {
	start, end := clampPlayBounds(195, 200, 200)
	if end-start < 29.999 {
		t.Fatalf("expected at least a ~30s chunk, got %f", end-start)
	}
	if math.IsNaN(start) || math.IsNaN(end) {
		t.Fatalf("expected finite bounds")
	}
}
