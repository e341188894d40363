// Command radioflow runs a single listening session end to end: it loads a
// corpus and builds the KD-Tree Index, seeds a session on a starting track,
// and drives the Session Conductor / Streaming Mixer tick loop (spec §4.5,
// §4.6), writing the emitted PCM stream to a file while logging every
// broadcast event to stderr. There is no HTTP/SSE transport in scope (spec
// §6 names the event/audio sinks as abstract boundaries, not a wire
// protocol) — this is the reference driver for those boundaries.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"

	"github.com/vividhyeok/radioflow/internal/broadcast"
	"github.com/vividhyeok/radioflow/internal/config"
	"github.com/vividhyeok/radioflow/internal/corpus"
	"github.com/vividhyeok/radioflow/internal/fingerprint"
	"github.com/vividhyeok/radioflow/internal/kdtree"
	"github.com/vividhyeok/radioflow/internal/mixdown"
	"github.com/vividhyeok/radioflow/internal/rlog"
	"github.com/vividhyeok/radioflow/internal/session"
)

func main() {
	os.Exit(run())
}

func run() int {
	corpusPath := flag.String("corpus", "", "path to the corpus JSON file (required)")
	configPath := flag.String("config", "", "path to radioflow.toml (defaults to config.Path())")
	sessionName := flag.String("session", "", "named session id (empty for an ephemeral session)")
	seedTrack := flag.String("track", "", "seed track id to start on (default: a random indexable track)")
	outPath := flag.String("out", "radioflow.pcm", "file to write the emitted raw PCM stream to (truncated on start)")
	duration := flag.Duration("duration", 60*time.Second, "how long to run before exiting")
	flag.Parse()

	if *corpusPath == "" {
		fmt.Println("Usage: radioflow -corpus <tracks.json> [flags]")
		flag.PrintDefaults()
		return 1
	}

	logger := rlog.New(os.Stderr, isatty.IsTerminal(os.Stderr.Fd()))

	cfg := config.Default()
	cfgPath := *configPath
	if cfgPath == "" {
		cfgPath = config.Path()
	}
	loaded, err := config.Load(cfgPath)
	if err != nil {
		logger.Warn().Err(err).Str("path", cfgPath).Msg("failed to load config, using defaults")
	} else {
		cfg = loaded
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	corp, err := corpus.JSONFileLoader{Path: *corpusPath}.Load(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("failed to load corpus")
		return 1
	}
	indexable := corp.Indexable()
	if len(indexable) == 0 {
		logger.Error().Msg("corpus has no indexable tracks")
		return 1
	}

	idx := kdtree.Build(indexable)

	cache, err := mixdown.New(cfg.MixdownCacheSize)
	if err != nil {
		logger.Error().Err(err).Msg("failed to build mixdown cache")
		return 1
	}
	fpRegistry := fingerprint.NewRegistry()

	broadcaster := broadcast.New(rlog.For("broadcast"))
	preparer := newTrackPreparer(cfg, cache, logger)

	sess := session.New(*sessionName, idx, corp, corp.Calibration, corp.Weights, cfg, broadcaster, preparer, logger)

	seed := pickSeedTrack(indexable, *seedTrack)
	if seed == nil {
		logger.Error().Str("track_id", *seedTrack).Msg("seed track not found in corpus")
		return 1
	}

	fpID, err := fpRegistry.Register(sess.ID, seed.ID, time.Now())
	if err != nil {
		logger.Warn().Err(err).Msg("failed to register fingerprint")
	} else {
		logger.Info().Str("fingerprint", fpID).Msg("registered listener fingerprint")
	}

	slot, err := preparer.Prepare(ctx, seed)
	if err != nil {
		logger.Error().Err(err).Str("track_id", seed.ID).Msg("failed to prepare seed track")
		return 1
	}
	sess.SetCurrentTrack(seed.ID)
	sess.Mixer().SetCurrent(slot, time.Now())
	sess.SubscribeAudio()
	subID, events, cached := broadcaster.Subscribe(sess.ID)
	defer broadcaster.Unsubscribe(sess.ID, subID)
	if cached != nil {
		logger.Debug().Msg("received cached snapshot on subscribe")
	}

	out, err := os.Create(*outPath)
	if err != nil {
		logger.Error().Err(err).Str("path", *outPath).Msg("failed to open output file")
		return 1
	}
	defer out.Close()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		logEvents(ctx, logger, events)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		pruneTicker := time.NewTicker(time.Duration(cfg.FingerprintTTLSec) * time.Second / 4)
		defer pruneTicker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-pruneTicker.C:
				pruned := fpRegistry.PruneStale(time.Duration(cfg.FingerprintTTLSec)*time.Second, now)
				if pruned > 0 {
					logger.Debug().Int("pruned", pruned).Msg("pruned stale fingerprints")
				}
			}
		}
	}()

	la := newLookahead(preparer, sess)
	wg.Add(1)
	go func() {
		defer wg.Done()
		la.run(ctx)
	}()

	runCtx, runCancel := context.WithTimeout(ctx, *duration)
	defer runCancel()
	runTickLoop(runCtx, sess, la, out, cfg, logger)

	fpRegistry.RemoveBySession(sess.ID)
	cancel()
	wg.Wait()

	stats := cache.Stats()
	logger.Info().Int("hits", stats.Hits).Int("misses", stats.Misses).Msg("session ended")
	return 0
}

func pickSeedTrack(tracks []*corpus.Track, id string) *corpus.Track {
	if id != "" {
		for _, t := range tracks {
			if t.ID == id {
				return t
			}
		}
		return nil
	}
	return tracks[rand.Intn(len(tracks))]
}

func logEvents(ctx context.Context, logger zerolog.Logger, events <-chan broadcast.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			logger.Info().Str("event_type", evt.Type).Interface("payload", evt.Payload).Msg("broadcast")
		}
	}
}
