package corpus

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"

	"github.com/vividhyeok/radioflow/internal/rlog"
)

// Corpus is the one-shot load result: tracks plus the PCA weight and
// calibration tables (spec §6 "Corpus loader").
type Corpus struct {
	Tracks      []*Track
	Weights     Weights
	Calibration CalibrationTable
}

// Loader is the external collaborator boundary for the persistent store of
// tracks and calibration settings (spec §6). The core only depends on this
// interface; radioflow ships JSONFileLoader as one concrete implementation.
type Loader interface {
	Load(ctx context.Context) (*Corpus, error)
}

// primaryDTolerance is the loader-assertion tolerance named in spec §3 and
// §8: recomputing primary_d from a track's own features must equal the
// stored primary_d within 10⁻³, else the loader warns but does not fail.
const primaryDTolerance = 1e-3

// rawTrack is the on-disk JSON shape. bpm, spectral_centroid, and primary_d
// are pointers so the loader can distinguish "absent" (spec's "non-null"
// invariant) from a legitimate zero value.
type rawTrack struct {
	ID             string         `json:"id"`
	Title          string         `json:"title"`
	Artist         string         `json:"artist"`
	Album          string         `json:"album"`
	AlbumCoverPath string         `json:"album_cover_path"`
	FilePath       string         `json:"file_path"`
	DurationSec    float64        `json:"duration_sec"`

	BPM              *float64 `json:"bpm"`
	Danceability     float64  `json:"danceability"`
	OnsetRate        float64  `json:"onset_rate"`
	BeatPunch        float64  `json:"beat_punch"`
	TonalClarity     float64  `json:"tonal_clarity"`
	TuningPurity     float64  `json:"tuning_purity"`
	FifthsStrength   float64  `json:"fifths_strength"`
	ChordStrength    float64  `json:"chord_strength"`
	ChordChangeRate  float64  `json:"chord_change_rate"`
	Crest            float64  `json:"crest"`
	Entropy          float64  `json:"entropy"`
	SpectralCentroid *float64 `json:"spectral_centroid"`
	SpectralRolloff  float64  `json:"spectral_rolloff"`
	SpectralKurtosis float64  `json:"spectral_kurtosis"`
	SpectralEnergy   float64  `json:"spectral_energy"`
	SpectralFlatness float64  `json:"spectral_flatness"`
	SubDrive         float64  `json:"sub_drive"`
	AirSizzle        float64  `json:"air_sizzle"`

	PrimaryD    *float64    `json:"primary_d"`
	TonalPCA    [3]float64  `json:"tonal_pca"`
	SpectralPCA [3]float64  `json:"spectral_pca"`
	RhythmicPCA [3]float64  `json:"rhythmic_pca"`

	VAELatent       *[8]float64 `json:"vae_latent,omitempty"`
	VAEModelVersion string      `json:"vae_model_version,omitempty"`

	Metadata map[string]any `json:"metadata,omitempty"`
}

type calibrationRow struct {
	Resolution         Resolution    `json:"resolution"`
	Discriminator      Discriminator `json:"discriminator"`
	InnerRadius        float64       `json:"inner_radius"`
	OuterRadius        float64       `json:"outer_radius"`
	ScalingFactor      float64       `json:"scaling_factor"`
	AchievedPercentage float64       `json:"achieved_percentage"`
}

type corpusFile struct {
	Tracks      []rawTrack       `json:"tracks"`
	Weights     Weights          `json:"weights"`
	Calibration []calibrationRow `json:"calibration"`
}

// JSONFileLoader loads a corpus from a single JSON file, mirroring the
// teacher's (analyzer.go) json.Unmarshal-from-disk idiom for cached
// analysis results.
type JSONFileLoader struct {
	Path string
}

func (l JSONFileLoader) Load(ctx context.Context) (*Corpus, error) {
	logger := rlog.For("corpus")

	data, err := os.ReadFile(l.Path)
	if err != nil {
		return nil, fmt.Errorf("read corpus file %s: %w", l.Path, err)
	}

	var cf corpusFile
	if err := json.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("parse corpus file %s: %w", l.Path, err)
	}

	tracks := make([]*Track, 0, len(cf.Tracks))
	for _, rt := range cf.Tracks {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		t := &Track{
			ID:             rt.ID,
			Title:          rt.Title,
			Artist:         rt.Artist,
			Album:          rt.Album,
			AlbumCoverPath: rt.AlbumCoverPath,
			FilePath:       rt.FilePath,
			DurationSec:    rt.DurationSec,
			Features: Features{
				Danceability: rt.Danceability, OnsetRate: rt.OnsetRate, BeatPunch: rt.BeatPunch,
				TonalClarity: rt.TonalClarity, TuningPurity: rt.TuningPurity,
				FifthsStrength: rt.FifthsStrength, ChordStrength: rt.ChordStrength, ChordChangeRate: rt.ChordChangeRate,
				Crest: rt.Crest, Entropy: rt.Entropy,
				SpectralRolloff: rt.SpectralRolloff, SpectralKurtosis: rt.SpectralKurtosis,
				SpectralEnergy: rt.SpectralEnergy, SpectralFlatness: rt.SpectralFlatness,
				SubDrive: rt.SubDrive, AirSizzle: rt.AirSizzle,
			},
			PCA: PCA{
				Tonal:    rt.TonalPCA,
				Spectral: rt.SpectralPCA,
				Rhythmic: rt.RhythmicPCA,
			},
			Metadata: rt.Metadata,
		}

		if rt.BPM == nil || rt.SpectralCentroid == nil || rt.PrimaryD == nil {
			t.Excluded = true
			logger.Warn().Str("track", rt.ID).Msg("excluding track: missing bpm/spectral_centroid/primary_d")
			tracks = append(tracks, t)
			continue
		}
		t.Features.BPM = *rt.BPM
		t.Features.SpectralCentroid = *rt.SpectralCentroid
		t.PCA.PrimaryD = *rt.PrimaryD

		if rt.VAELatent != nil {
			t.VAE = &VAE{Latent: *rt.VAELatent, ModelVersion: rt.VAEModelVersion}
		}

		if recomputed := cf.Weights.RecomputePrimaryD(t.Features); cf.Weights.ContainsComponent(PrimaryDComponent) {
			if math.Abs(recomputed-t.PCA.PrimaryD) > primaryDTolerance {
				logger.Warn().
					Str("track", t.ID).
					Float64("stored_primary_d", t.PCA.PrimaryD).
					Float64("recomputed_primary_d", recomputed).
					Msg("primary_d recompute mismatch beyond tolerance")
			}
		}

		tracks = append(tracks, t)
	}

	calibration := make(CalibrationTable, len(cf.Calibration))
	for _, row := range cf.Calibration {
		calibration[CalibrationKey{Resolution: row.Resolution, Discriminator: row.Discriminator}] = CalibrationEntry{
			InnerRadius:        row.InnerRadius,
			OuterRadius:        row.OuterRadius,
			ScalingFactor:      row.ScalingFactor,
			AchievedPercentage: row.AchievedPercentage,
		}
	}

	logger.Info().Int("tracks", len(tracks)).Msg("corpus loaded")

	return &Corpus{Tracks: tracks, Weights: cf.Weights, Calibration: calibration}, nil
}

// Indexable returns the subset of tracks eligible for the KD-Tree Index
// (spec §3 invariant): non-excluded tracks only.
func (c *Corpus) Indexable() []*Track {
	out := make([]*Track, 0, len(c.Tracks))
	for _, t := range c.Tracks {
		if !t.Excluded {
			out = append(out, t)
		}
	}
	return out
}
