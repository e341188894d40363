// Package config loads the CLI/config surface named in spec §6: resolution
// enum, mixdown cache size, crossfade duration, silence threshold, chunk
// divisor inputs, tempo tolerance, crossfade guard, user-selection debounce,
// and stack total/random split. The shape — TOML file with an in-code
// default fallback and a working-directory-then-home-dir search path — is
// adapted from stojg-playlist-sorter/config/config.go.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/vividhyeok/radioflow/internal/corpus"
)

// Config holds every tunable named in spec §6.
type Config struct {
	DefaultResolution corpus.Resolution `toml:"default_resolution"`

	MixdownCacheSize int `toml:"mixdown_cache_size"`

	CrossfadeDurationSec float64 `toml:"crossfade_duration_sec"`
	SilenceThreshold     float64 `toml:"silence_threshold"`

	// ChunkSizeBytes and SampleRate/Channels (at 2 bytes per sample) feed the chunk
	// divisor: chunks per second ≈ sample_rate·channels·2 / chunk_size.
	ChunkSizeBytes int `toml:"chunk_size_bytes"`
	SampleRate     int `toml:"sample_rate"`
	Channels       int `toml:"channels"`

	TempoToleranceRatio float64 `toml:"tempo_tolerance_ratio"`
	CrossfadeGuardSec   float64 `toml:"crossfade_guard_sec"`

	UserSelectionDebounceMS int `toml:"user_selection_debounce_ms"`
	CrossfadeDeferBackoffMS int `toml:"crossfade_defer_backoff_ms"`
	AutoRecoveryDelayMS     int `toml:"auto_recovery_delay_ms"`

	StackTotal  int `toml:"stack_total"`
	StackRandom int `toml:"stack_random"`

	MaxDimensions int `toml:"max_dimensions"`

	ProjectionFactor float64 `toml:"projection_factor"`

	TickIntervalMS int `toml:"tick_interval_ms"`

	FingerprintTTLSec int `toml:"fingerprint_ttl_sec"`
}

// Default returns RadioFlow's factory-default configuration, matching every
// numeric constant named across spec §4 and §6.
func Default() Config {
	return Config{
		DefaultResolution: corpus.ResolutionMagnifyingGlass,

		MixdownCacheSize: 12,

		CrossfadeDurationSec: 2.5,
		SilenceThreshold:     0.01,

		ChunkSizeBytes: 4096,
		SampleRate:     44100,
		Channels:       2,

		TempoToleranceRatio: 0.17,
		CrossfadeGuardSec:   6.0,

		UserSelectionDebounceMS: 5000,
		CrossfadeDeferBackoffMS: 750,
		AutoRecoveryDelayMS:     200,

		StackTotal:  15,
		StackRandom: 3,

		MaxDimensions: 12,

		ProjectionFactor: 6.0,

		TickIntervalMS: 40,

		FingerprintTTLSec: 3600,
	}
}

// Path returns the default config file path: first the working directory,
// then ~/.config/radioflow/config.toml.
func Path() string {
	if _, err := os.Stat("./radioflow.toml"); err == nil {
		return "./radioflow.toml"
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "./radioflow.toml"
	}
	return filepath.Join(home, ".config", "radioflow", "config.toml")
}

// Load reads config from path, falling back to Default() when the file is
// missing or fails to parse.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return Default(), fmt.Errorf("read config: %w", err)
	}
	cfg := Default()
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Default(), fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Save persists cfg to path as TOML, creating parent directories as needed.
func Save(path string, cfg Config) error {
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create config file: %w", err)
	}
	defer f.Close()
	enc := toml.NewEncoder(f)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return nil
}

// ChunksPerSecond returns the chunk divisor named in spec §6.
func (c Config) ChunksPerSecond() float64 {
	if c.ChunkSizeBytes <= 0 {
		return 25.0
	}
	bytesPerSecond := float64(c.SampleRate * c.Channels * 2)
	return bytesPerSecond / float64(c.ChunkSizeBytes)
}
