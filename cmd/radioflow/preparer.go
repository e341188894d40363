package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/vividhyeok/radioflow/internal/analyzer"
	"github.com/vividhyeok/radioflow/internal/codec"
	"github.com/vividhyeok/radioflow/internal/config"
	"github.com/vividhyeok/radioflow/internal/corpus"
	"github.com/vividhyeok/radioflow/internal/harmonic"
	"github.com/vividhyeok/radioflow/internal/mixdown"
	"github.com/vividhyeok/radioflow/internal/mixer"
)

// trackPreparer implements session.Preparer: it turns a corpus.Track into a
// ready-to-play mixer.Slot by decoding through the codec boundary, running
// the live analyzer over the decoded PCM, and caching the result so a track
// already seen this session skips decode+analysis entirely (spec §4.8).
type trackPreparer struct {
	codec  *codec.FFmpegCodec
	cache  *mixdown.Cache
	cfg    config.Config
	logger zerolog.Logger
}

func newTrackPreparer(cfg config.Config, cache *mixdown.Cache, logger zerolog.Logger) *trackPreparer {
	return &trackPreparer{
		codec:  codec.NewFFmpegCodec(),
		cache:  cache,
		cfg:    cfg,
		logger: logger.With().Str("component", "preparer").Logger(),
	}
}

// Prepare decodes and analyzes track, consulting the mixdown cache first
// (spec §4.8 "per-session, single-writer" LRU keyed by track path).
func (p *trackPreparer) Prepare(ctx context.Context, track *corpus.Track) (*mixer.Slot, error) {
	if entry, ok := p.cache.Get(track.FilePath); ok {
		p.logger.Debug().Str("track_id", track.ID).Msg("mixdown cache hit")
		return slotFromEntry(track, entry, p.cfg)
	}

	pcm, err := p.codec.Decode(ctx, track.FilePath, p.cfg.SampleRate, p.cfg.Channels)
	if err != nil {
		return nil, fmt.Errorf("prepare %s: %w", track.ID, err)
	}

	samples := analyzer.DecodeS16LEStereo(pcm)
	a := analyzer.Analyze(samples, p.cfg.SampleRate)

	entry := mixdown.Entry{
		EncodedBuffer: pcm,
		BPM:           a.BPM,
		Key:           a.Key,
		Analysis:      a,
		Timestamp:     time.Now(),
	}
	p.cache.Put(track.FilePath, entry)

	p.logger.Info().Str("track_id", track.ID).Float64("bpm", a.BPM).Str("key", a.Key).Msg("prepared track")
	return slotFromEntry(track, entry, p.cfg)
}

func slotFromEntry(track *corpus.Track, entry mixdown.Entry, cfg config.Config) (*mixer.Slot, error) {
	a, ok := entry.Analysis.(analyzer.Analysis)
	if !ok {
		return nil, fmt.Errorf("prepare %s: cached analysis has unexpected type", track.ID)
	}

	key, _ := harmonic.ParseKey(entry.Key)

	durationSec := float64(len(entry.EncodedBuffer)) / float64(cfg.SampleRate*cfg.Channels*2)
	return mixer.NewSlot(track.ID, entry.EncodedBuffer, durationSec, entry.BPM, key, a.CrossfadeLeadTime), nil
}
