// Package corpus defines the Track/PCAWeights/Calibration data model (spec
// §3) and a read-only Loader that produces the corpus the KD-Tree Index is
// built from. The loader is an external collaborator per spec §6 ("the
// persistent store of tracks and calibration settings... treated as a
// read-only loader producing the corpus") — radioflow only prescribes the
// interface and ships one concrete JSON-file implementation for tests and
// the demo entrypoint.
package corpus

// FeatureNames is the fixed order of the 18 raw audio-feature dimensions the
// KD-Tree Index is built over. Index position is significant: split
// dimensions, weight vectors, and counterfactual overrides all address a
// feature by this order.
var FeatureNames = [18]string{
	"bpm", "danceability", "onset_rate", "beat_punch",
	"tonal_clarity", "tuning_purity", "fifths_strength", "chord_strength", "chord_change_rate",
	"crest", "entropy",
	"spectral_centroid", "spectral_rolloff", "spectral_kurtosis", "spectral_energy", "spectral_flatness",
	"sub_drive", "air_sizzle",
}

const NumFeatures = len(FeatureNames)

// FeatureIndex maps a feature name to its position in FeatureNames / any
// 18-element feature vector. Returns -1 for an unknown name.
func FeatureIndex(name string) int {
	for i, n := range FeatureNames {
		if n == name {
			return i
		}
	}
	return -1
}

// Features holds the 18 named scalars described in spec §3.
type Features struct {
	BPM          float64 `json:"bpm"`
	Danceability float64 `json:"danceability"`
	OnsetRate    float64 `json:"onset_rate"`
	BeatPunch    float64 `json:"beat_punch"`

	TonalClarity    float64 `json:"tonal_clarity"`
	TuningPurity    float64 `json:"tuning_purity"`
	FifthsStrength  float64 `json:"fifths_strength"`
	ChordStrength   float64 `json:"chord_strength"`
	ChordChangeRate float64 `json:"chord_change_rate"`

	Crest   float64 `json:"crest"`
	Entropy float64 `json:"entropy"`

	SpectralCentroid float64 `json:"spectral_centroid"`
	SpectralRolloff  float64 `json:"spectral_rolloff"`
	SpectralKurtosis float64 `json:"spectral_kurtosis"`
	SpectralEnergy   float64 `json:"spectral_energy"`
	SpectralFlatness float64 `json:"spectral_flatness"`

	SubDrive  float64 `json:"sub_drive"`
	AirSizzle float64 `json:"air_sizzle"`
}

// Vector returns the features in FeatureNames order.
func (f Features) Vector() [NumFeatures]float64 {
	return [NumFeatures]float64{
		f.BPM, f.Danceability, f.OnsetRate, f.BeatPunch,
		f.TonalClarity, f.TuningPurity, f.FifthsStrength, f.ChordStrength, f.ChordChangeRate,
		f.Crest, f.Entropy,
		f.SpectralCentroid, f.SpectralRolloff, f.SpectralKurtosis, f.SpectralEnergy, f.SpectralFlatness,
		f.SubDrive, f.AirSizzle,
	}
}

// At returns the value at a FeatureNames index.
func (f Features) At(i int) float64 {
	v := f.Vector()
	return v[i]
}

// WithOverride returns a copy of f with the feature at dimension i set to
// value. Used to build counterfactual pseudo-tracks (spec §4.2).
func (f Features) WithOverride(i int, value float64) Features {
	v := f.Vector()
	v[i] = value
	return FeaturesFromVector(v)
}

// FeaturesFromVector reconstructs Features from an 18-element vector in
// FeatureNames order.
func FeaturesFromVector(v [NumFeatures]float64) Features {
	return Features{
		BPM: v[0], Danceability: v[1], OnsetRate: v[2], BeatPunch: v[3],
		TonalClarity: v[4], TuningPurity: v[5], FifthsStrength: v[6], ChordStrength: v[7], ChordChangeRate: v[8],
		Crest: v[9], Entropy: v[10],
		SpectralCentroid: v[11], SpectralRolloff: v[12], SpectralKurtosis: v[13], SpectralEnergy: v[14], SpectralFlatness: v[15],
		SubDrive: v[16], AirSizzle: v[17],
	}
}

// PCA holds the stored PCA projection: a scalar primary component plus three
// domain 3-vectors (spec §3).
type PCA struct {
	PrimaryD float64    `json:"primary_d"`
	Tonal    [3]float64 `json:"tonal"`
	Spectral [3]float64 `json:"spectral"`
	Rhythmic [3]float64 `json:"rhythmic"`
}

// VAE holds the optional 8-D latent plus the model version it was produced
// with (spec §3).
type VAE struct {
	Latent      [8]float64 `json:"latent"`
	ModelVersion string    `json:"model_version"`
}

// Track is immutable once loaded (spec §3 lifecycle).
type Track struct {
	ID             string `json:"id"`
	Title          string `json:"title"`
	Artist         string `json:"artist"`
	Album          string `json:"album"`
	AlbumCoverPath string `json:"album_cover_path"`
	FilePath       string `json:"file_path"`
	DurationSec    float64 `json:"duration_sec"`

	Features Features `json:"features"`
	PCA      PCA      `json:"pca"`
	VAE      *VAE     `json:"vae,omitempty"`

	Metadata map[string]any `json:"metadata,omitempty"`

	// Excluded marks a track the loader decided not to index (spec §3
	// invariant: every indexed track has non-null bpm, spectral_centroid,
	// and primary_d, and was not excluded).
	Excluded bool `json:"-"`
}

// HasDefaultAlbumCover reports whether the track's cover art path looks like
// a generic placeholder rather than a real per-track cover. No package in
// the module calls it; the Explorer Aggregator has no cover-uniqueness pass.
func (t *Track) HasDefaultAlbumCover() bool {
	return t.AlbumCoverPath == "" || t.AlbumCoverPath == "default"
}
