package distance

import (
	"math"
	"testing"

	"github.com/vividhyeok/radioflow/internal/corpus"
)

func sampleWeights() corpus.Weights {
	return corpus.Weights{
		corpus.PrimaryDComponent: {
			"bpm":          0.6,
			"danceability": 0.4,
		},
	}
}

func TestCounterfactualEmptyOverrideIdentity(t *testing.T) {
	base := &corpus.Track{
		ID: "t1",
		Features: corpus.Features{BPM: 120, Danceability: 0.7},
	}
	weights := sampleWeights()
	base.PCA.PrimaryD = weights.RecomputePrimaryD(base.Features)

	cf := Counterfactual(base, map[int]float64{}, weights)
	if math.Abs(cf.PCA.PrimaryD-base.PCA.PrimaryD) > 1e-6 {
		t.Fatalf("expected recomputed primary_d within 1e-6 of base, got base=%v cf=%v", base.PCA.PrimaryD, cf.PCA.PrimaryD)
	}
	if cf.ID != base.ID {
		t.Fatalf("counterfactual must preserve identifier")
	}
}

func TestCounterfactualOverridesOnlyNamedDimension(t *testing.T) {
	base := &corpus.Track{
		ID:       "t1",
		Features: corpus.Features{BPM: 120, Danceability: 0.7, Entropy: 0.3},
	}
	dim := corpus.FeatureIndex("bpm")
	cf := Counterfactual(base, map[int]float64{dim: 140}, corpus.Weights{})

	if cf.Features.BPM != 140 {
		t.Fatalf("expected bpm overridden to 140, got %v", cf.Features.BPM)
	}
	if cf.Features.Danceability != base.Features.Danceability {
		t.Fatalf("expected danceability unchanged")
	}
	if cf.Features.Entropy != base.Features.Entropy {
		t.Fatalf("expected entropy unchanged")
	}
}

func TestWeightedDistanceZeroForIdenticalVectors(t *testing.T) {
	v := [corpus.NumFeatures]float64{}
	w := defaultWeightSet()
	if d := Weighted(v, v, w); d != 0 {
		t.Fatalf("expected 0 distance for identical vectors, got %v", d)
	}
}

func TestPCADomainEuclidean(t *testing.T) {
	a := [3]float64{0, 0, 0}
	b := [3]float64{3, 4, 0}
	if d := PCADomain(a, b); math.Abs(d-5) > 1e-9 {
		t.Fatalf("expected 3-4-5 triangle distance 5, got %v", d)
	}
}

func TestFeatureSlicesFractionBounded(t *testing.T) {
	current := &corpus.Track{Features: corpus.Features{BPM: 120, Danceability: 0.5}}
	candidate := &corpus.Track{Features: corpus.Features{BPM: 160, Danceability: 0.9}}
	dims := []int{corpus.FeatureIndex("bpm"), corpus.FeatureIndex("danceability")}

	slices := FeatureSlices(current, candidate, corpus.Weights{}, dims, -1)
	if len(slices) != 2 {
		t.Fatalf("expected 2 slices, got %d", len(slices))
	}
	for _, s := range slices {
		if s.Fraction < 0 || s.Fraction > 1 {
			t.Fatalf("fraction out of [0,1]: %+v", s)
		}
	}
}

func TestPCASlicesMutatesOneCoordinate(t *testing.T) {
	current := &corpus.Track{PCA: corpus.PCA{Tonal: [3]float64{0, 0, 0}}}
	candidate := [3]float64{1, 2, 3}

	slices := PCASlices(current, "tonal", candidate)
	if len(slices) != 3 {
		t.Fatalf("expected 3 slices for tonal domain, got %d", len(slices))
	}
	for i, s := range slices {
		if s.Delta != candidate[i] {
			t.Fatalf("slice %d expected delta %v, got %v", i, candidate[i], s.Delta)
		}
	}
}
