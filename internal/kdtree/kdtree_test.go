package kdtree

import (
	"testing"

	"github.com/vividhyeok/radioflow/internal/corpus"
)

func makeTrack(id string, bpm, danceability float64) *corpus.Track {
	return &corpus.Track{
		ID: id,
		Features: corpus.Features{
			BPM:          bpm,
			Danceability: danceability,
		},
	}
}

func sampleTracks() []*corpus.Track {
	return []*corpus.Track{
		makeTrack("a", 120, 0.5),
		makeTrack("b", 122, 0.52),
		makeTrack("c", 140, 0.8),
		makeTrack("d", 90, 0.2),
		makeTrack("e", 121, 0.51),
	}
}

func TestRadiusSearchZeroRadiusIsEmpty(t *testing.T) {
	idx := Build(sampleTracks())
	center := sampleTracks()[0]
	results, err := idx.RadiusSearch(center, 0, nil, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected empty result for radius 0, got %d", len(results))
	}
}

func TestRadiusSearchExcludesCenter(t *testing.T) {
	idx := Build(sampleTracks())
	center := sampleTracks()[0]
	results, err := idx.RadiusSearch(center, 1000, nil, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, r := range results {
		if r.Track.ID == center.ID {
			t.Fatalf("center track should never appear in its own results")
		}
	}
}

func TestRadiusSearchFindsCloseNeighbors(t *testing.T) {
	idx := Build(sampleTracks())
	center := makeTrack("a", 120, 0.5)
	results, err := idx.RadiusSearch(center, 5, nil, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	found := map[string]bool{}
	for _, r := range results {
		found[r.Track.ID] = true
	}
	if !found["b"] || !found["e"] {
		t.Fatalf("expected b and e within radius 5, got %+v", results)
	}
	if found["c"] {
		t.Fatalf("did not expect c within radius 5 (bpm delta too large)")
	}
}

func TestRadiusSearchSortedAscending(t *testing.T) {
	idx := Build(sampleTracks())
	center := makeTrack("a", 120, 0.5)
	results, err := idx.RadiusSearch(center, 1000, nil, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 1; i < len(results); i++ {
		if results[i].Distance < results[i-1].Distance {
			t.Fatalf("results not sorted ascending: %+v", results)
		}
	}
}

func TestUninitializedIndexReturnsError(t *testing.T) {
	var idx Index
	_, err := idx.RadiusSearch(makeTrack("x", 100, 0.5), 10, nil, 5)
	if err == nil {
		t.Fatalf("expected error on uninitialized index")
	}
}

func TestPCARadiusSearchFallsBackWithoutCalibration(t *testing.T) {
	tracks := sampleTracks()
	tracks[0].PCA.PrimaryD = 0.0
	tracks[1].PCA.PrimaryD = 0.1
	tracks[2].PCA.PrimaryD = 5.0
	idx := Build(tracks)

	results, err := idx.PCARadiusSearch(tracks[0], corpus.CalibrationTable{}, corpus.ResolutionMagnifyingGlass, corpus.DiscriminatorPrimaryD, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, r := range results {
		if r.Track.ID == "c" {
			t.Fatalf("track outside fallback radius 2.0 should not appear")
		}
	}
}

func TestVAERadiusSearchSkipsMissingLatents(t *testing.T) {
	tracks := sampleTracks()
	tracks[0].VAE = &corpus.VAE{Latent: [8]float64{0, 0, 0, 0, 0, 0, 0, 0}}
	tracks[1].VAE = &corpus.VAE{Latent: [8]float64{0.1, 0, 0, 0, 0, 0, 0, 0}}
	idx := Build(tracks)

	results, err := idx.VAERadiusSearch(tracks[0], 1.0, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 || results[0].Track.ID != "b" {
		t.Fatalf("expected only track with a latent to be scored, got %+v", results)
	}
}
