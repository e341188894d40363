package main

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vividhyeok/radioflow/internal/config"
	"github.com/vividhyeok/radioflow/internal/session"
)

// lookahead runs the next-track selection+preparation chain (spec §4.5) off
// the tick loop's own goroutine, since Prepare may block on codec decode
// and analysis (spec §5: "offloaded to a worker... must not block the
// mixer's own tick").
type lookahead struct {
	preparer *trackPreparer
	sess     *session.Session

	mu         sync.Mutex
	pendingID  string
	pendingDir string
}

func newLookahead(p *trackPreparer, s *session.Session) *lookahead {
	return &lookahead{preparer: p, sess: s}
}

func (la *lookahead) run(ctx context.Context) {
	ticker := time.NewTicker(300 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if la.sess.IsStopped() || la.sess.Mixer().HasNext() {
				continue
			}
			track, direction, err := la.sess.SelectNext(now)
			if err != nil {
				la.fallback(now)
				continue
			}
			slot, err := la.preparer.Prepare(ctx, track)
			if err != nil {
				la.fallback(now)
				continue
			}
			la.mu.Lock()
			la.pendingID, la.pendingDir = track.ID, direction
			la.mu.Unlock()
			la.sess.Mixer().SetNext(slot)
		}
	}
}

// fallback installs a noise bed on preparation failure (spec §7); the
// returned error (rate-limited) is swallowed here since the tick loop
// notices via sess.IsStopped() on its own cadence.
func (la *lookahead) fallback(now time.Time) {
	_ = la.sess.FallbackToNoise(now)
}

// takePending hands off (and clears) the track id/direction the lookahead
// most recently queued into the mixer's next slot, consumed once that slot
// becomes current on a completed crossfade.
func (la *lookahead) takePending() (id, direction string) {
	la.mu.Lock()
	defer la.mu.Unlock()
	id, direction = la.pendingID, la.pendingDir
	la.pendingID, la.pendingDir = "", ""
	return id, direction
}

// runTickLoop drives the mixer at the configured cadence (spec §4.6, ≈40ms)
// until ctx is cancelled or the session trips the rate-limited-noise
// invariant, writing emitted chunks to out and translating TickResults into
// session-level transitions and broadcasts.
func runTickLoop(ctx context.Context, sess *session.Session, la *lookahead, out *os.File, cfg config.Config, logger zerolog.Logger) {
	ticker := time.NewTicker(time.Duration(cfg.TickIntervalMS) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			sess.ProcessPendingOverride(ctx, now)

			chunk, result := sess.Mixer().Tick(now, sess.HasAudioSubscribers(), cfg.ChunkSizeBytes)
			if len(chunk) > 0 {
				if _, err := out.Write(chunk); err != nil {
					logger.Warn().Err(err).Msg("failed to write PCM chunk")
				}
			}
			if result.Warning != "" {
				logger.Warn().Str("warning", result.Warning).Msg("mixer tick warning")
			}
			if result.CrossfadeCompleted {
				if id, direction := la.takePending(); id != "" {
					sess.OnNaturalTransition(id, direction, now)
				}
			}
			if result.TrackEnded && !sess.Mixer().HasNext() {
				_ = sess.FallbackToNoise(now)
			}
			if sess.IsStopped() {
				logger.Warn().Msg("session stopped: rate-limited noise fallback")
				return
			}
		}
	}
}
