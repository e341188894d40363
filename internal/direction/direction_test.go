package direction

import (
	"testing"

	"github.com/vividhyeok/radioflow/internal/corpus"
	"github.com/vividhyeok/radioflow/internal/kdtree"
)

func track(id string, bpm float64) *corpus.Track {
	return &corpus.Track{
		ID: id,
		Features: corpus.Features{
			BPM: bpm,
		},
	}
}

func TestResolveUnknownLabelDefaultsToBPM(t *testing.T) {
	ax := resolve("some_unknown_label")
	if ax.dim != corpus.FeatureIndex("bpm") {
		t.Fatalf("expected unknown label to default to bpm dimension")
	}
	if ax.polarity != Positive {
		t.Fatalf("expected unknown label to default to positive polarity")
	}
}

func TestResolveKnownLabels(t *testing.T) {
	ax := resolve("darker")
	if ax.dim != corpus.FeatureIndex("spectral_centroid") {
		t.Fatalf("expected darker to resolve to spectral_centroid")
	}
	if ax.polarity != Negative {
		t.Fatalf("expected darker to resolve to negative polarity")
	}
}

func TestSearchFasterKeepsOnlyHigherBPM(t *testing.T) {
	tracks := []*corpus.Track{
		track("center", 120),
		track("faster1", 130),
		track("slower1", 100),
	}
	idx := kdtree.Build(tracks)
	table := corpus.CalibrationTable{}

	result, err := Search(idx, tracks[0], "faster", table, corpus.Weights{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, c := range result.Candidates {
		if c.Delta <= 0 {
			t.Fatalf("expected only positive-delta candidates for faster, got %+v", c)
		}
	}
}

func TestSearchNeverReturnsCenterTrack(t *testing.T) {
	tracks := []*corpus.Track{
		track("center", 120),
		track("other", 150),
	}
	idx := kdtree.Build(tracks)

	result, err := Search(idx, tracks[0], "faster", corpus.CalibrationTable{}, corpus.Weights{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, c := range result.Candidates {
		if c.Track.ID == "center" {
			t.Fatalf("center track should never appear in directional search results")
		}
	}
}
