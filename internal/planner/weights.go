package planner

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// WeightsConfig holds user-tunable transition-type and bar-count
// preferences, adapted from the teacher's WeightsConfig (weights.go).
type WeightsConfig struct {
	TypeWeights map[string]float64 `json:"type_weights"`
	BarWeights  map[int]float64    `json:"bar_weights"`
}

// DefaultWeights returns the factory-default weights.
func DefaultWeights() WeightsConfig {
	return WeightsConfig{
		TypeWeights: map[string]float64{
			"crossfade":   0.5,
			"bass_swap":   1.6,
			"cut":         1.2,
			"filter_fade": 1.0,
			"mashup":      1.0,
		},
		BarWeights: map[int]float64{
			4: 1.0,
			8: 1.3,
		},
	}
}

// LoadWeights reads weights from path, falling back to DefaultWeights on any
// read or parse error.
func LoadWeights(path string, logger zerolog.Logger) WeightsConfig {
	data, err := os.ReadFile(path)
	if err != nil {
		return DefaultWeights()
	}
	var cfg WeightsConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		logger.Warn().Err(err).Str("path", path).Msg("weights file corrupt, using defaults")
		return DefaultWeights()
	}
	return cfg
}

// SaveWeights persists cfg to path, creating parent directories as needed.
func SaveWeights(cfg WeightsConfig, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0644)
}
