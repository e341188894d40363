// Package kdtree implements the KD-Tree Index (spec §4.1): a median-split
// tree over the 18 raw feature dimensions supporting feature-weighted,
// PCA-annular, and VAE radius search. Built once at startup; not rebuilt.
package kdtree

import (
	"math"
	"sort"

	"github.com/vividhyeok/radioflow/internal/corpus"
	"github.com/vividhyeok/radioflow/internal/rerr"
)

// DefaultWeight is applied to any feature dimension without an explicit
// entry in a weight set (spec §4.1).
const DefaultWeight = 0.01

// DefaultWeights is the configured default weight set: bpm dominant at 0.3,
// every other dimension at DefaultWeight (spec §4.1).
func DefaultWeights() [corpus.NumFeatures]float64 {
	var w [corpus.NumFeatures]float64
	for i := range w {
		w[i] = DefaultWeight
	}
	w[corpus.FeatureIndex("bpm")] = 0.3
	return w
}

// pcaFallbackRadius is used by pca_radius_search when calibration lookup
// misses (spec §4.1).
const pcaFallbackRadius = 2.0

// pcaPruneRadius is the conservative subtree radius estimate used while
// pruning a PCA radius search (spec §4.1: "the algorithm does not
// over-prune").
const pcaPruneRadius = 2.0

// vaePruneFactor inflates the caller's radius for cross-pruning in VAE
// radius search, since the tree is organized by feature dimensions rather
// than VAE latents (spec §4.1).
const vaePruneFactor = 10.0

// node is a KD-tree node: a reference to a track, the dimension it splits
// on, and its children (spec §3 "KD-Tree Node").
type node struct {
	track *corpus.Track
	dim   int
	left  *node
	right *node
}

// Index is the built KD-tree. Zero value is an uninitialized index; queries
// against it fail with rerr.ErrIndexNotInitialized.
type Index struct {
	root *node
	size int
}

// Build constructs a median-split KD-tree over tracks, cycling the split
// dimension by tree depth across the 18 feature dimensions.
func Build(tracks []*corpus.Track) *Index {
	pts := make([]*corpus.Track, len(tracks))
	copy(pts, tracks)
	idx := &Index{size: len(pts)}
	idx.root = build(pts, 0)
	return idx
}

func build(tracks []*corpus.Track, depth int) *node {
	if len(tracks) == 0 {
		return nil
	}
	dim := depth % corpus.NumFeatures
	sort.Slice(tracks, func(i, j int) bool {
		return tracks[i].Features.At(dim) < tracks[j].Features.At(dim)
	})
	mid := len(tracks) / 2
	n := &node{track: tracks[mid], dim: dim}
	n.left = build(tracks[:mid], depth+1)
	n.right = build(tracks[mid+1:], depth+1)
	return n
}

// Size returns the number of tracks indexed.
func (idx *Index) Size() int {
	if idx == nil {
		return 0
	}
	return idx.size
}

// Scored pairs a track with a distance or score from a query.
type Scored struct {
	Track    *corpus.Track
	Distance float64
}

func checkInitialized(idx *Index) error {
	if idx == nil || idx.root == nil {
		return rerr.ErrIndexNotInitialized
	}
	return nil
}

// weightedDistance computes Σ wᵢ·|aᵢ−bᵢ| over the 18 feature dimensions.
func weightedDistance(a, b [corpus.NumFeatures]float64, weights [corpus.NumFeatures]float64) float64 {
	sum := 0.0
	for i := range a {
		sum += weights[i] * math.Abs(a[i]-b[i])
	}
	return sum
}

// RadiusSearch performs a feature-weighted radius search around center (spec
// §4.1). weights may be nil, in which case DefaultWeights is used. The
// center track itself is never included. Results are sorted ascending by
// distance and truncated to limit.
func (idx *Index) RadiusSearch(center *corpus.Track, radius float64, weights *[corpus.NumFeatures]float64, limit int) ([]Scored, error) {
	if err := checkInitialized(idx); err != nil {
		return nil, err
	}
	w := DefaultWeights()
	if weights != nil {
		w = *weights
	}
	centerVec := center.Features.Vector()

	var out []Scored
	var walk func(n *node)
	walk = func(n *node) {
		if n == nil {
			return
		}
		if n.track.ID != center.ID {
			d := weightedDistance(centerVec, n.track.Features.Vector(), w)
			if d <= radius {
				out = append(out, Scored{Track: n.track, Distance: d})
			}
		}
		gap := w[n.dim] * math.Abs(centerVec[n.dim]-n.track.Features.At(n.dim))
		near, far := n.left, n.right
		if centerVec[n.dim] > n.track.Features.At(n.dim) {
			near, far = n.right, n.left
		}
		walk(near)
		if gap <= radius {
			walk(far)
		}
	}
	walk(idx.root)

	sort.Slice(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func pcaDistance(discriminator corpus.Discriminator, center, other *corpus.Track) float64 {
	switch discriminator {
	case corpus.DiscriminatorTonal:
		return euclidean3(center.PCA.Tonal, other.PCA.Tonal)
	case corpus.DiscriminatorSpectral:
		return euclidean3(center.PCA.Spectral, other.PCA.Spectral)
	case corpus.DiscriminatorRhythmic:
		return euclidean3(center.PCA.Rhythmic, other.PCA.Rhythmic)
	default: // primary_d
		return math.Abs(center.PCA.PrimaryD - other.PCA.PrimaryD)
	}
}

func euclidean3(a, b [3]float64) float64 {
	sum := 0.0
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

// PCARadiusSearch performs an annular PCA-space search (spec §4.1): tracks
// whose PCA distance from center falls in [inner, outer] after calibration
// lookup and scaling_factor are applied. Falls back to a feature-space
// radius of pcaFallbackRadius when calibration is missing.
func (idx *Index) PCARadiusSearch(center *corpus.Track, table corpus.CalibrationTable, resolution corpus.Resolution, discriminator corpus.Discriminator, limit int) ([]Scored, error) {
	if err := checkInitialized(idx); err != nil {
		return nil, err
	}

	inner, outer := 0.0, pcaFallbackRadius
	calibrated := false
	if entry, ok := table.Lookup(resolution, discriminator); ok {
		inner = entry.InnerRadius * entry.ScalingFactor
		outer = entry.OuterRadius * entry.ScalingFactor
		calibrated = true
	}

	centerVec := center.Features.Vector()
	w := DefaultWeights()

	var out []Scored
	var walk func(n *node)
	walk = func(n *node) {
		if n == nil {
			return
		}
		if n.track.ID != center.ID {
			d := pcaDistance(discriminator, center, n.track)
			if !calibrated {
				d = weightedDistance(centerVec, n.track.Features.Vector(), w)
			}
			if d >= inner && d <= outer {
				out = append(out, Scored{Track: n.track, Distance: d})
			}
		}
		gap := w[n.dim] * math.Abs(centerVec[n.dim]-n.track.Features.At(n.dim))
		near, far := n.left, n.right
		if centerVec[n.dim] > n.track.Features.At(n.dim) {
			near, far = n.right, n.left
		}
		walk(near)
		if gap <= pcaPruneRadius {
			walk(far)
		}
	}
	walk(idx.root)

	sort.Slice(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// VAERadiusSearch performs a radius search scored by Euclidean distance over
// the 8-D VAE latent (spec §4.1). Nodes lacking a latent are skipped for
// scoring but their children are still visited.
func (idx *Index) VAERadiusSearch(center *corpus.Track, radius float64, limit int) ([]Scored, error) {
	if err := checkInitialized(idx); err != nil {
		return nil, err
	}
	if center.VAE == nil {
		return nil, nil
	}

	centerVec := center.Features.Vector()
	w := DefaultWeights()
	pruneRadius := radius * vaePruneFactor

	var out []Scored
	var walk func(n *node)
	walk = func(n *node) {
		if n == nil {
			return
		}
		if n.track.ID != center.ID && n.track.VAE != nil {
			d := vaeEuclidean(center.VAE.Latent, n.track.VAE.Latent)
			if d <= radius {
				out = append(out, Scored{Track: n.track, Distance: d})
			}
		}
		gap := w[n.dim] * math.Abs(centerVec[n.dim]-n.track.Features.At(n.dim))
		near, far := n.left, n.right
		if centerVec[n.dim] > n.track.Features.At(n.dim) {
			near, far = n.right, n.left
		}
		walk(near)
		if gap <= pruneRadius {
			walk(far)
		}
	}
	walk(idx.root)

	sort.Slice(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func vaeEuclidean(a, b [8]float64) float64 {
	sum := 0.0
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}
