// Package explorer implements the Explorer Aggregator (spec §4.4): builds
// the comprehensive ExplorerData object for a current track and resolution,
// fanning out over PCA, raw-feature, and VAE directions.
package explorer

import (
	"encoding/json"
	"math"
	"math/rand"
	"sort"

	"github.com/vividhyeok/radioflow/internal/corpus"
	"github.com/vividhyeok/radioflow/internal/direction"
	"github.com/vividhyeok/radioflow/internal/kdtree"
)

// MaxDimensions is the default budget cap on simultaneous directions (spec
// §4.4 step 6).
const MaxDimensions = 12

// StackTotal and StackRandom are the default per-stack slot counts (spec
// §4.4 step 8).
const (
	StackTotal  = 15
	StackRandom = 3
)

const (
	candidatesPerDirection = 40
	neighborhoodLimit      = 1000
	minDirectionCoverage   = 10 // reject if count > total - minDirectionCoverage
)

// coreFeatures is the fixed list of 12 canonical feature names the budget
// splits against PCA directions (spec §4.4 step 6).
var coreFeatures = []string{
	"bpm", "danceability", "onset_rate", "beat_punch",
	"tonal_clarity", "entropy", "spectral_centroid", "spectral_rolloff",
	"crest", "sub_drive", "air_sizzle", "chord_strength",
}

// CandidateTrack is one sanitized candidate within a direction's stack.
type CandidateTrack struct {
	Track *corpus.Track
	Delta float64
}

// StackDirection is one direction's full stack after budgeting, dedup, and
// bidirectional pairing (spec §4.4 steps 6-11).
type StackDirection struct {
	Label             string
	Domain            string // "original", "tonal", "spectral", "rhythmic", "vae"
	Polarity          direction.Polarity
	Stack             []CandidateTrack
	TotalAvailable    int
	DiversityScore    float64
	OppositeDirection *StackDirection
}

// ExplorerData is the full aggregator output for a (current_track,
// resolution) pair (spec §4.4).
type ExplorerData struct {
	CurrentTrackID string
	Resolution     corpus.Resolution
	Directions     []*StackDirection
	NextTrackID    string
}

// rawDirection is pre-budget intermediate state: a candidate pool for one
// (label, domain, polarity) before the cap/dedup/stack-budget passes.
type rawDirection struct {
	label    string
	domain   string
	polarity direction.Polarity
	tracks   []CandidateTrack
	total    int
}

// Build runs the Explorer Aggregator procedure (spec §4.4) for current at
// resolution, excluding playedIDs from any stack. Steps 1-9, 11 and 12 are
// performed; there is no album-cover uniqueness pass (step 10).
func Build(idx *kdtree.Index, current *corpus.Track, resolution corpus.Resolution, table corpus.CalibrationTable, weights corpus.Weights, playedIDs map[string]bool) (*ExplorerData, error) {
	// Step 1: total neighborhood.
	neighborhood, err := idx.PCARadiusSearch(current, table, resolution, corpus.DiscriminatorPrimaryD, neighborhoodLimit)
	if err != nil {
		return nil, err
	}
	total := len(neighborhood)

	var raws []rawDirection

	// Step 2: PCA directions (tonal/spectral/rhythmic x pc1/pc2/pc3 x polarity).
	for _, domain := range []string{"tonal", "spectral", "rhythmic"} {
		for component := 0; component < 3; component++ {
			for _, pol := range []direction.Polarity{direction.Positive, direction.Negative} {
				rd := pcaDirectionalCandidates(idx, current, table, resolution, domain, component, pol, playedIDs)
				raws = append(raws, rd)
			}
		}
	}

	// Step 3: 18 original features x 2 polarities.
	for dim := 0; dim < corpus.NumFeatures; dim++ {
		for _, pol := range []direction.Polarity{direction.Positive, direction.Negative} {
			rd := featureDirectionalCandidates(idx, current, dim, pol, table, weights, playedIDs)
			raws = append(raws, rd)
		}
	}

	// Step 4: VAE directions, one positive/negative per latent axis.
	if current.VAE != nil {
		for axis := 0; axis < len(current.VAE.Latent); axis++ {
			for _, pol := range []direction.Polarity{direction.Positive, direction.Negative} {
				rd := vaeDirectionalCandidates(idx, current, axis, pol, playedIDs)
				raws = append(raws, rd)
			}
		}
	}

	// Step 5: reject empty or near-total-coverage directions.
	var kept []rawDirection
	for _, rd := range raws {
		if rd.total == 0 {
			continue
		}
		if rd.total > total-minDirectionCoverage {
			continue
		}
		kept = append(kept, rd)
	}

	// Step 6: budget cap at MaxDimensions. VAE first, then core features,
	// then PCA directions fill remaining budget.
	budgeted := applyBudget(kept)

	// Step 7: dedup across stacks, each track kept only where it has the
	// lowest index (earliest / highest position) across all directions.
	dedupAcrossStacks(budgeted)

	// Remove now-empty directions.
	var nonEmpty []rawDirection
	for _, rd := range budgeted {
		if len(rd.tracks) > 0 {
			nonEmpty = append(nonEmpty, rd)
		}
	}

	// Step 8: stack budget, last StackRandom slots shuffled from the unused
	// pool, avoiding tracks already used by any other stack.
	used := make(map[string]bool)
	for _, rd := range nonEmpty {
		for i, c := range rd.tracks {
			if i < StackTotal-StackRandom {
				used[c.Track.ID] = true
			}
		}
	}
	stacks := make([]*StackDirection, 0, len(nonEmpty))
	for _, rd := range nonEmpty {
		sd := &StackDirection{
			Label:          rd.label,
			Domain:         rd.domain,
			Polarity:       rd.polarity,
			TotalAvailable: rd.total,
		}
		sd.Stack = applyStackBudget(rd.tracks, used)
		sd.DiversityScore = diversityScore(len(rd.tracks), total) * optionsBonus(rd.total)
		stacks = append(stacks, sd)
	}

	// Step 9: bidirectional pairing.
	pairDirections(stacks)

	// Step 11 is folded into the DiversityScore computed above.

	data := &ExplorerData{
		CurrentTrackID: current.ID,
		Resolution:     resolution,
		Directions:     stacks,
	}

	// Step 12: nominate next track.
	data.NextTrackID = nominateNext(stacks, playedIDs)

	return data, nil
}

func pcaDirectionalCandidates(idx *kdtree.Index, current *corpus.Track, table corpus.CalibrationTable, resolution corpus.Resolution, domain string, component int, pol direction.Polarity, playedIDs map[string]bool) rawDirection {
	discriminator := domainDiscriminator(domain)
	results, err := idx.PCARadiusSearch(current, table, resolution, discriminator, neighborhoodLimit)
	rd := rawDirection{label: domain + "_pc" + itoa(component+1), domain: domain, polarity: pol}
	if err != nil {
		return rd
	}

	currentCoord := domainCoord(current, domain)[component]
	matched := 0
	for _, r := range results {
		if r.Track.ID == current.ID || playedIDs[r.Track.ID] {
			continue
		}
		candCoord := domainCoord(r.Track, domain)[component]
		delta := candCoord - currentCoord
		if pol == direction.Positive && delta <= 0 {
			continue
		}
		if pol == direction.Negative && delta >= 0 {
			continue
		}
		matched++
		if len(rd.tracks) < candidatesPerDirection {
			rd.tracks = append(rd.tracks, CandidateTrack{Track: r.Track, Delta: delta})
		}
	}
	rd.total = matched
	return rd
}

func featureDirectionalCandidates(idx *kdtree.Index, current *corpus.Track, dim int, pol direction.Polarity, table corpus.CalibrationTable, weights corpus.Weights, playedIDs map[string]bool) rawDirection {
	rd := rawDirection{label: corpus.FeatureNames[dim], domain: "original", polarity: pol}
	result, err := direction.SearchAxis(idx, current, dim, pol, table, weights)
	if err != nil {
		return rd
	}
	for _, c := range result.Candidates {
		if playedIDs[c.Track.ID] {
			continue
		}
		rd.tracks = append(rd.tracks, CandidateTrack{Track: c.Track, Delta: c.Delta})
		if len(rd.tracks) >= candidatesPerDirection {
			break
		}
	}
	rd.total = result.TotalAvailable
	return rd
}

func vaeDirectionalCandidates(idx *kdtree.Index, current *corpus.Track, axis int, pol direction.Polarity, playedIDs map[string]bool) rawDirection {
	rd := rawDirection{label: "vae_" + itoa(axis), domain: "vae", polarity: pol}
	results, err := idx.VAERadiusSearch(current, vaeRadius, neighborhoodLimit)
	if err != nil || current.VAE == nil {
		return rd
	}
	currentVal := current.VAE.Latent[axis]
	matched := 0
	for _, r := range results {
		if r.Track.ID == current.ID || playedIDs[r.Track.ID] || r.Track.VAE == nil {
			continue
		}
		delta := r.Track.VAE.Latent[axis] - currentVal
		if pol == direction.Positive && delta <= 0 {
			continue
		}
		if pol == direction.Negative && delta >= 0 {
			continue
		}
		matched++
		if len(rd.tracks) < candidatesPerDirection {
			rd.tracks = append(rd.tracks, CandidateTrack{Track: r.Track, Delta: delta})
		}
	}
	rd.total = matched
	return rd
}

// vaeRadius is a fixed exploration radius for VAE directional candidates;
// the index itself widens cross-pruning internally (kdtree.vaePruneFactor).
const vaeRadius = 1.0

func domainDiscriminator(domain string) corpus.Discriminator {
	switch domain {
	case "tonal":
		return corpus.DiscriminatorTonal
	case "spectral":
		return corpus.DiscriminatorSpectral
	case "rhythmic":
		return corpus.DiscriminatorRhythmic
	default:
		return corpus.DiscriminatorPrimaryD
	}
}

func domainCoord(t *corpus.Track, domain string) [3]float64 {
	switch domain {
	case "tonal":
		return t.PCA.Tonal
	case "spectral":
		return t.PCA.Spectral
	case "rhythmic":
		return t.PCA.Rhythmic
	default:
		return [3]float64{}
	}
}

// dimKey identifies a direction's dimension independent of polarity: the
// budget counts dimensions, not polarities (spec §4.4 step 6, "within a
// dimension, keep up to two polarities if both are populous").
type dimKey struct {
	domain string
	label  string
}

// applyBudget caps the number of simultaneous dimensions at MaxDimensions
// (spec §4.4 step 6): VAE directions are allotted first, then core feature
// directions, then PCA directions fill any remaining budget. Each dimension
// consumes exactly one slot of the budget regardless of whether it
// contributes one or both polarities — a dimension's positive and negative
// raw directions already had to independently clear step 5's coverage
// filter to reach here, so both surviving is exactly the "both populous"
// case and they're kept together as the bidirectional pair.
func applyBudget(raws []rawDirection) []rawDirection {
	coreSet := make(map[string]bool, len(coreFeatures))
	for _, f := range coreFeatures {
		coreSet[f] = true
	}

	var order []dimKey
	groups := make(map[dimKey][]rawDirection)
	for _, rd := range raws {
		key := dimKey{domain: rd.domain, label: rd.label}
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], rd)
	}

	var vae, core, pca []dimKey
	for _, key := range order {
		switch {
		case key.domain == "vae":
			vae = append(vae, key)
		case key.domain == "original" && coreSet[key.label]:
			core = append(core, key)
		default:
			pca = append(pca, key)
		}
	}

	budget := MaxDimensions
	var out []rawDirection
	admit := func(keys []dimKey) {
		for _, key := range keys {
			if budget <= 0 {
				return
			}
			out = append(out, groups[key]...)
			budget--
		}
	}
	admit(vae)
	admit(core)
	admit(pca)
	return out
}

// dedupAcrossStacks keeps each track in exactly one direction's sample
// list: the one where it has the lowest index (spec §4.4 step 7).
func dedupAcrossStacks(raws []rawDirection) {
	bestIndex := make(map[string]int)
	bestDir := make(map[string]int)
	for di, rd := range raws {
		for ti, c := range rd.tracks {
			id := c.Track.ID
			if _, ok := bestDir[id]; !ok || ti < bestIndex[id] {
				bestIndex[id] = ti
				bestDir[id] = di
			}
		}
	}
	for di := range raws {
		filtered := raws[di].tracks[:0]
		for ti, c := range raws[di].tracks {
			if bestDir[c.Track.ID] == di && bestIndex[c.Track.ID] == ti {
				filtered = append(filtered, c)
			}
		}
		raws[di].tracks = filtered
	}
}

// applyStackBudget truncates a direction's candidate pool to StackTotal
// slots, filling the last StackRandom with a shuffle from the unused pool
// that avoids tracks already claimed by another stack (spec §4.4 step 8).
func applyStackBudget(candidates []CandidateTrack, used map[string]bool) []CandidateTrack {
	fixedCount := StackTotal - StackRandom
	if fixedCount < 0 {
		fixedCount = 0
	}

	var fixed []CandidateTrack
	var pool []CandidateTrack
	for i, c := range candidates {
		if i < fixedCount {
			fixed = append(fixed, c)
		} else {
			pool = append(pool, c)
		}
	}

	var unused []CandidateTrack
	for _, c := range pool {
		if !used[c.Track.ID] {
			unused = append(unused, c)
		}
	}
	rand.Shuffle(len(unused), func(i, j int) { unused[i], unused[j] = unused[j], unused[i] })

	need := StackTotal - len(fixed)
	if need > len(unused) {
		need = len(unused)
	}
	out := append(fixed, unused[:need]...)
	return out
}

// pairDirections implements bidirectional pairing (spec §4.4 step 9): for
// every (base+, base-) pair sharing a label, the larger stack becomes the
// primary with the smaller embedded as OppositeDirection; ties prefer
// positive.
func pairDirections(stacks []*StackDirection) {
	byLabel := make(map[string][]*StackDirection)
	for _, s := range stacks {
		byLabel[s.Label] = append(byLabel[s.Label], s)
	}
	for _, pair := range byLabel {
		if len(pair) != 2 {
			continue
		}
		a, b := pair[0], pair[1]
		if a.Polarity != direction.Positive {
			a, b = b, a
		}
		// a is positive, b is negative.
		var primary, secondary *StackDirection
		switch {
		case len(a.Stack) > len(b.Stack):
			primary, secondary = a, b
		case len(b.Stack) > len(a.Stack):
			primary, secondary = b, a
		default:
			primary, secondary = a, b // tie prefers positive
		}
		primary.OppositeDirection = secondary
	}
}

// diversityScore implements the §4.5 formula, shared by the Session
// Conductor for drift-player weighting.
func diversityScore(count, neighborhoodSize int) float64 {
	if neighborhoodSize == 0 {
		return 0
	}
	r := float64(count) / float64(neighborhoodSize)

	var score float64
	switch {
	case r >= 0.70 && r <= 0.80:
		score = 100 - math.Abs(r-0.75)*200
	case r >= 0.20 && r <= 0.30:
		score = 100 - math.Abs(r-0.25)*200
	case r >= 0.45 && r <= 0.55:
		score = 80 - math.Abs(r-0.50)*100
	case r >= 0.30 && r <= 0.70:
		score = 60 + math.Abs(r-0.50)*40 - math.Min(math.Abs(r-0.75), math.Abs(r-0.25))*20
	default:
		extremeness := math.Min(r, 1-r)
		score = math.Max(0, 40-extremeness*200)
	}
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score
}

func optionsBonus(count int) float64 {
	return math.Min(float64(count)/10.0, 2.0)
}

// nominateNext implements spec §4.4 step 12: pick the first un-played
// candidate from the highest-weighted-diversity direction (×1.5 for
// original-domain), falling back to the highest-ranked candidate overall.
func nominateNext(stacks []*StackDirection, playedIDs map[string]bool) string {
	if len(stacks) == 0 {
		return ""
	}
	weighted := make([]*StackDirection, len(stacks))
	copy(weighted, stacks)
	sort.Slice(weighted, func(i, j int) bool {
		return weightedDiversity(weighted[i]) > weightedDiversity(weighted[j])
	})

	for _, s := range weighted {
		for _, c := range s.Stack {
			if !playedIDs[c.Track.ID] {
				return c.Track.ID
			}
		}
	}
	for _, s := range weighted {
		if len(s.Stack) > 0 {
			return s.Stack[0].Track.ID
		}
	}
	return ""
}

func weightedDiversity(s *StackDirection) float64 {
	if s.Domain == "original" {
		return s.DiversityScore * 1.5
	}
	return s.DiversityScore
}

// DiversityScore exposes the §4.5 formula for callers outside this package
// (the Session Conductor's drift fallback).
func DiversityScore(count, neighborhoodSize int) float64 {
	return diversityScore(count, neighborhoodSize)
}

func itoa(i int) string {
	return string(rune('0' + i))
}

// CacheKey identifies a memoized ExplorerData result (spec §4.4 "Result
// caching").
type CacheKey struct {
	TrackID    string
	Resolution corpus.Resolution
}

// Cache memoizes ExplorerData per (track, resolution). Not safe for
// concurrent use without external locking; the Session Conductor owns one
// instance per session and is itself single-threaded per spec §5.
type Cache struct {
	entries map[CacheKey]*ExplorerData
}

func NewCache() *Cache {
	return &Cache{entries: make(map[CacheKey]*ExplorerData)}
}

func (c *Cache) Get(key CacheKey) (*ExplorerData, bool) {
	d, ok := c.entries[key]
	return d, ok
}

func (c *Cache) Put(key CacheKey, data *ExplorerData) {
	c.entries[key] = data
}

// identity returns a stable JSON identity for broadcast dedup (spec §4.5
// "deduped by JSON identity").
func identity(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Identity exposes identity for the broadcaster.
func Identity(data *ExplorerData) (string, error) {
	return identity(data)
}
