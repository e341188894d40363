// Package distance implements the Distance and Contribution Engine (spec
// §4.2): weighted/PCA/VAE distance measures (internal/kdtree keeps its own
// copies of the ones it searches with), counterfactual track construction, and per-slice contribution breakdowns
// for diagnostics.
package distance

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/vividhyeok/radioflow/internal/corpus"
)

// Weighted computes Σ wᵢ·|aᵢ−bᵢ| over the 18 feature dimensions, using
// gonum/floats for the elementwise work (spec §4.1's distance measure,
// shared by Directional Search's D-minus-i ranking).
func Weighted(a, b [corpus.NumFeatures]float64, weights [corpus.NumFeatures]float64) float64 {
	diff := make([]float64, corpus.NumFeatures)
	for i := range a {
		diff[i] = math.Abs(a[i]-b[i]) * weights[i]
	}
	return floats.Sum(diff)
}

// PCADomain computes Euclidean distance between two PCA 3-vectors
// (tonal/spectral/rhythmic discriminators, spec §4.1).
func PCADomain(a, b [3]float64) float64 {
	diff := []float64{a[0] - b[0], a[1] - b[1], a[2] - b[2]}
	return math.Sqrt(floats.Dot(diff, diff))
}

// PrimaryD computes the scalar primary_d distance: absolute difference
// (spec §4.1).
func PrimaryD(a, b float64) float64 {
	return math.Abs(a - b)
}

// VAE computes Euclidean distance between two 8-D VAE latents.
func VAE(a, b [8]float64) float64 {
	diff := make([]float64, len(a))
	for i := range a {
		diff[i] = a[i] - b[i]
	}
	return math.Sqrt(floats.Dot(diff, diff))
}

// Counterfactual produces a pseudo-track sharing base's identifier and
// metadata but with the feature overrides applied and PCA recomputed from
// weights (spec §4.2). The operation is total and pure: no I/O.
func Counterfactual(base *corpus.Track, overrides map[int]float64, weights corpus.Weights) *corpus.Track {
	v := base.Features.Vector()
	for dim, value := range overrides {
		v[dim] = value
	}
	features := corpus.FeaturesFromVector(v)

	out := &corpus.Track{
		ID:             base.ID,
		Title:          base.Title,
		Artist:         base.Artist,
		Album:          base.Album,
		AlbumCoverPath: base.AlbumCoverPath,
		FilePath:       base.FilePath,
		DurationSec:    base.DurationSec,
		Features:       features,
		VAE:            base.VAE,
		Metadata:       base.Metadata,
	}
	out.PCA = weights.RecomputeAll(features)
	return out
}

// Slice is one reported contribution (spec §4.2): a single dimension or PCA
// coordinate's isolated effect on distance.
type Slice struct {
	Name     string
	Value    float64
	Delta    float64
	Distance float64
	Fraction float64
	Relative float64
}

// FeatureSlices reports, for each active dimension, the isolated distance
// contribution of moving current's value on that dimension to candidate's
// value (spec §4.2 "Feature slices"). referenceDim, if >= 0, is used to
// compute Relative = slice / reference_distance; otherwise Relative is 0.
func FeatureSlices(current, candidate *corpus.Track, weights corpus.Weights, activeDims []int, referenceDim int) []Slice {
	currentVec := current.Features.Vector()
	candidateVec := candidate.Features.Vector()
	w := defaultWeightSet()

	total := Weighted(currentVec, candidateVec, w)

	var referenceDistance float64
	if referenceDim >= 0 {
		cf := Counterfactual(current, map[int]float64{referenceDim: candidateVec[referenceDim]}, weights)
		referenceDistance = Weighted(currentVec, cf.Features.Vector(), w)
	}

	out := make([]Slice, 0, len(activeDims))
	for _, dim := range activeDims {
		cf := Counterfactual(current, map[int]float64{dim: candidateVec[dim]}, weights)
		cfVec := cf.Features.Vector()
		slice := Weighted(currentVec, cfVec, w)
		s := Slice{
			Name:     corpus.FeatureNames[dim],
			Value:    candidateVec[dim],
			Delta:    candidateVec[dim] - currentVec[dim],
			Distance: slice,
			Fraction: min1(safeDiv(slice, total)),
		}
		if referenceDistance > 0 {
			s.Relative = slice / referenceDistance
		}
		out = append(out, s)
	}
	return out
}

// PCASlices reports the same structure as FeatureSlices, but for a PCA
// domain's three coordinates, mutating exactly one PCA coordinate at a time
// rather than recomputing from features (spec §4.2 "PCA slices" —
// explicitly diagnostic-only; never persisted or used in search).
func PCASlices(current *corpus.Track, domain string, candidatePCA [3]float64) []Slice {
	keys, ok := corpus.DomainComponentKeys(domain)
	if !ok {
		return nil
	}
	var currentCoords [3]float64
	switch domain {
	case "tonal":
		currentCoords = current.PCA.Tonal
	case "spectral":
		currentCoords = current.PCA.Spectral
	case "rhythmic":
		currentCoords = current.PCA.Rhythmic
	}

	total := PCADomain(currentCoords, candidatePCA)

	out := make([]Slice, 0, 3)
	for i := 0; i < 3; i++ {
		mutated := currentCoords
		mutated[i] = candidatePCA[i]
		slice := PCADomain(currentCoords, mutated)
		out = append(out, Slice{
			Name:     keys[i],
			Value:    candidatePCA[i],
			Delta:    candidatePCA[i] - currentCoords[i],
			Distance: slice,
			Fraction: min1(safeDiv(slice, total)),
		})
	}
	return out
}

// defaultWeightSet mirrors kdtree.DefaultWeights (bpm dominant at 0.3, all
// other dimensions at the 0.01 default weight, spec §4.1).
func defaultWeightSet() [corpus.NumFeatures]float64 {
	var w [corpus.NumFeatures]float64
	for i := range w {
		w[i] = 0.01
	}
	w[corpus.FeatureIndex("bpm")] = 0.3
	return w
}

func safeDiv(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}

func min1(x float64) float64 {
	return math.Min(1, x)
}
