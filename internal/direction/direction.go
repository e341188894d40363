// Package direction implements Directional Search (spec §4.3): given a
// current track and a named direction label, return a ranked candidate list
// representing motion along a single feature axis.
package direction

import (
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/vividhyeok/radioflow/internal/corpus"
	"github.com/vividhyeok/radioflow/internal/distance"
	"github.com/vividhyeok/radioflow/internal/kdtree"
)

// Polarity is the sign of motion requested along a dimension.
type Polarity int

const (
	Positive Polarity = 1
	Negative Polarity = -1
)

// axis resolves a direction label to a base dimension index and polarity.
type axis struct {
	dim      int
	polarity Polarity
}

// lexicon is the fixed direction-label table (spec §4.3 step 1). Unknown
// labels default to bpm, positive polarity.
var lexicon = map[string]axis{
	"faster":         {dim: corpus.FeatureIndex("bpm"), polarity: Positive},
	"slower":         {dim: corpus.FeatureIndex("bpm"), polarity: Negative},
	"darker":         {dim: corpus.FeatureIndex("spectral_centroid"), polarity: Negative},
	"brighter":       {dim: corpus.FeatureIndex("spectral_centroid"), polarity: Positive},
	"more_complex":   {dim: corpus.FeatureIndex("entropy"), polarity: Positive},
	"simpler":        {dim: corpus.FeatureIndex("entropy"), polarity: Negative},
	"more_danceable": {dim: corpus.FeatureIndex("danceability"), polarity: Positive},
	"less_danceable": {dim: corpus.FeatureIndex("danceability"), polarity: Negative},
	"punchier":       {dim: corpus.FeatureIndex("beat_punch"), polarity: Positive},
	"smoother":       {dim: corpus.FeatureIndex("beat_punch"), polarity: Negative},
	"purer":          {dim: corpus.FeatureIndex("tuning_purity"), polarity: Positive},
	"dirtier":        {dim: corpus.FeatureIndex("tuning_purity"), polarity: Negative},
	"busier":         {dim: corpus.FeatureIndex("onset_rate"), polarity: Positive},
	"sparser":        {dim: corpus.FeatureIndex("onset_rate"), polarity: Negative},
}

func resolve(label string) axis {
	if a, ok := lexicon[label]; ok {
		return a
	}
	return axis{dim: corpus.FeatureIndex("bpm"), polarity: Positive}
}

// defaultSearchRadiusFallback is used when (magnifying_glass, primary_d)
// calibration is missing (spec §4.3 step 2).
const defaultSearchRadiusFallback = 2.0

const searchLimit = 500
const rankLimit = 20

// Candidate is a single ranked directional-search result (spec §4.3 step 7).
type Candidate struct {
	Track       *corpus.Track
	Delta       float64
	PrimaryDist float64
	Similarity  float64
}

// Result is the full directional search response (spec §4.3 step 7).
type Result struct {
	Candidates     []Candidate
	TotalAvailable int
}

// candidateWork is intermediate per-candidate state threaded through the
// locality filter and minimum-delta threshold steps.
type candidateWork struct {
	track       *corpus.Track
	delta       float64
	primaryDist float64
}

// Search executes the Directional Search algorithm (spec §4.3 steps 1-7)
// for (current, label) over idx, using table for calibration and weights
// for counterfactual PCA recomputation.
func Search(idx *kdtree.Index, current *corpus.Track, label string, table corpus.CalibrationTable, weights corpus.Weights) (Result, error) {
	ax := resolve(label)
	return SearchAxis(idx, current, ax.dim, ax.polarity, table, weights)
}

// SearchAxis runs the same algorithm as Search (spec §4.3 steps 2-7) against
// an explicit raw-feature dimension and polarity, bypassing the label
// lexicon. The Explorer Aggregator uses this directly to enumerate all 18
// feature dimensions (spec §4.4 step 3) rather than going through labels.
func SearchAxis(idx *kdtree.Index, current *corpus.Track, dim int, polarity Polarity, table corpus.CalibrationTable, weights corpus.Weights) (Result, error) {
	ax := axis{dim: dim, polarity: polarity}

	searchRadius := defaultSearchRadiusFallback
	innerRadius := 0.0
	if entry, ok := table.Lookup(corpus.ResolutionMagnifyingGlass, corpus.DiscriminatorPrimaryD); ok {
		searchRadius = entry.OuterRadius * entry.ScalingFactor * 6.0
		innerRadius = entry.InnerRadius * entry.ScalingFactor
	}

	raw, err := idx.RadiusSearch(current, searchRadius, nil, searchLimit)
	if err != nil {
		return Result{}, err
	}

	currentVal := current.Features.At(ax.dim)

	var filtered []candidateWork
	for _, r := range raw {
		candidateVal := r.Track.Features.At(ax.dim)
		delta := candidateVal - currentVal
		if ax.polarity == Positive && delta <= 0 {
			continue
		}
		if ax.polarity == Negative && delta >= 0 {
			continue
		}

		if !passesLocalityFilter(current, r.Track, ax.dim, innerRadius, weights) {
			continue
		}

		filtered = append(filtered, candidateWork{
			track:       r.Track,
			delta:       delta,
			primaryDist: distance.PrimaryD(current.PCA.PrimaryD, r.Track.PCA.PrimaryD),
		})
	}

	minDelta := minimumDeltaThreshold(filtered, innerRadius)

	var passed []candidateWork
	for _, c := range filtered {
		absDelta := c.delta
		if absDelta < 0 {
			absDelta = -absDelta
		}
		if absDelta >= 0.999*minDelta && c.primaryDist >= 0.95*innerRadius {
			passed = append(passed, c)
		}
	}

	out := make([]Candidate, 0, len(passed))
	for _, c := range passed {
		out = append(out, Candidate{
			Track:       c.track,
			Delta:       c.delta,
			PrimaryDist: c.primaryDist,
			Similarity:  dMinusISimilarity(current, c.track, ax.dim, weights),
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Similarity < out[j].Similarity })

	totalAvailable := len(out)
	if len(out) > rankLimit {
		out = out[:rankLimit]
	}

	return Result{Candidates: out, TotalAvailable: totalAvailable}, nil
}

// passesLocalityFilter enforces single-axis motion (spec §4.3 step 5): for
// each of the 17 other dimensions, the isolated counterfactual PCA distance
// must not exceed inner_radius.
func passesLocalityFilter(current, candidate *corpus.Track, axisDim int, innerRadius float64, weights corpus.Weights) bool {
	candidateVec := candidate.Features.Vector()
	for dim := 0; dim < corpus.NumFeatures; dim++ {
		if dim == axisDim {
			continue
		}
		cf := distance.Counterfactual(current, map[int]float64{dim: candidateVec[dim]}, weights)
		isolated := distance.PrimaryD(current.PCA.PrimaryD, cf.PCA.PrimaryD)
		if isolated > innerRadius {
			return false
		}
	}
	return true
}

// minimumDeltaThreshold computes the population minimum delta (spec §4.3
// step 6) using gonum/stat for the median-ratio and 25th-percentile paths.
func minimumDeltaThreshold(candidates []candidateWork, innerRadius float64) float64 {
	if len(candidates) == 0 {
		return 0
	}

	deltas := make([]float64, len(candidates))
	for i, c := range candidates {
		d := c.delta
		if d < 0 {
			d = -d
		}
		deltas[i] = d
	}

	if innerRadius > 0 {
		var ratios []float64
		for i, c := range candidates {
			if c.primaryDist > 0 {
				ratios = append(ratios, deltas[i]/c.primaryDist)
			}
		}
		if len(ratios) > 0 {
			sort.Float64s(ratios)
			median := stat.Quantile(0.5, stat.Empirical, ratios, nil)
			return median * innerRadius
		}
	}

	sorted := append([]float64(nil), deltas...)
	sort.Float64s(sorted)
	return stat.Quantile(0.25, stat.Empirical, sorted, nil)
}

// dMinusISimilarity ranks by weighted sum over the active dimensions,
// excluding the direction axis (spec §4.3 step 7, "D-minus-i similarity").
func dMinusISimilarity(current, candidate *corpus.Track, excludeDim int, weights corpus.Weights) float64 {
	w := kdtree.DefaultWeights()
	w[excludeDim] = 0
	return distance.Weighted(current.Features.Vector(), candidate.Features.Vector(), w)
}
