package explorer

import (
	"testing"

	"github.com/vividhyeok/radioflow/internal/corpus"
	"github.com/vividhyeok/radioflow/internal/direction"
	"github.com/vividhyeok/radioflow/internal/kdtree"
)

func buildCorpus(n int) []*corpus.Track {
	tracks := make([]*corpus.Track, 0, n)
	for i := 0; i < n; i++ {
		bpm := 100 + float64(i)
		tracks = append(tracks, &corpus.Track{
			ID: "t" + string(rune('a'+i)),
			Features: corpus.Features{
				BPM:          bpm,
				Danceability: 0.5,
			},
			PCA: corpus.PCA{
				PrimaryD: float64(i) * 0.1,
			},
		})
	}
	return tracks
}

func TestDiversityScorePeaksAtExpectedRatios(t *testing.T) {
	if s := diversityScore(75, 100); s < 99 {
		t.Fatalf("expected near-100 score at r=0.75, got %v", s)
	}
	if s := diversityScore(25, 100); s < 99 {
		t.Fatalf("expected near-100 score at r=0.25, got %v", s)
	}
}

func TestDiversityScoreClampedToRange(t *testing.T) {
	for _, count := range []int{0, 1, 50, 99, 100} {
		s := diversityScore(count, 100)
		if s < 0 || s > 100 {
			t.Fatalf("diversity score out of [0,100] for count=%d: %v", count, s)
		}
	}
}

func TestBuildProducesNoCurrentTrackInAnyStack(t *testing.T) {
	tracks := buildCorpus(30)
	idx := kdtree.Build(tracks)
	current := tracks[0]

	data, err := Build(idx, current, corpus.ResolutionMagnifyingGlass, corpus.CalibrationTable{}, corpus.Weights{}, map[string]bool{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, d := range data.Directions {
		for _, c := range d.Stack {
			if c.Track.ID == current.ID {
				t.Fatalf("current track must never appear in any stack")
			}
		}
	}
}

func TestBuildDedupesTracksAcrossStacks(t *testing.T) {
	tracks := buildCorpus(30)
	idx := kdtree.Build(tracks)
	current := tracks[0]

	data, err := Build(idx, current, corpus.ResolutionMagnifyingGlass, corpus.CalibrationTable{}, corpus.Weights{}, map[string]bool{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	seen := make(map[string]bool)
	for _, d := range data.Directions {
		for _, c := range d.Stack {
			if seen[c.Track.ID] {
				t.Fatalf("track %s appears in more than one stack", c.Track.ID)
			}
			seen[c.Track.ID] = true
		}
	}
}

func TestBuildRespectsMaxDimensions(t *testing.T) {
	tracks := buildCorpus(40)
	idx := kdtree.Build(tracks)
	current := tracks[0]

	data, err := Build(idx, current, corpus.ResolutionMagnifyingGlass, corpus.CalibrationTable{}, corpus.Weights{}, map[string]bool{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// The budget caps distinct dimensions, not stacks: a dimension with both
	// polarities populous contributes two entries to data.Directions.
	dims := make(map[dimKey]bool)
	for _, d := range data.Directions {
		dims[dimKey{domain: d.Domain, label: d.Label}] = true
	}
	if len(dims) > MaxDimensions {
		t.Fatalf("expected at most %d distinct dimensions, got %d", MaxDimensions, len(dims))
	}
	if len(data.Directions) < len(dims) {
		t.Fatalf("expected at least as many stacks as dimensions")
	}
}

func TestApplyBudgetAdmitsBothPolaritiesOfADimensionUnderOneSlot(t *testing.T) {
	raws := []rawDirection{
		{label: "bpm", domain: "original", polarity: direction.Positive, total: 5},
		{label: "bpm", domain: "original", polarity: direction.Negative, total: 5},
	}
	budgeted := applyBudget(raws)
	if len(budgeted) != 2 {
		t.Fatalf("expected both polarities of the one populous dimension admitted, got %d", len(budgeted))
	}
}

func TestApplyBudgetCountsDimensionsNotRawDirections(t *testing.T) {
	var raws []rawDirection
	for i := 0; i < MaxDimensions+5; i++ {
		label := corpus.FeatureNames[i%len(corpus.FeatureNames)] + itoa(i)
		raws = append(raws,
			rawDirection{label: label, domain: "original", polarity: direction.Positive, total: 5},
			rawDirection{label: label, domain: "original", polarity: direction.Negative, total: 5},
		)
	}
	budgeted := applyBudget(raws)
	dims := make(map[dimKey]bool)
	for _, rd := range budgeted {
		dims[dimKey{domain: rd.domain, label: rd.label}] = true
	}
	if len(dims) != MaxDimensions {
		t.Fatalf("expected exactly %d admitted dimensions, got %d", MaxDimensions, len(dims))
	}
	if len(budgeted) != MaxDimensions*2 {
		t.Fatalf("expected both polarities of each admitted dimension, got %d raw directions", len(budgeted))
	}
}
