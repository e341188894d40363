// Package session implements the Session Conductor (spec §4.5): the
// per-listener state machine that owns selection, the override protocol,
// the journey stack, and broadcasts, and drives the Streaming Mixer.
package session

import (
	"context"
	"encoding/json"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vividhyeok/radioflow/internal/config"
	"github.com/vividhyeok/radioflow/internal/corpus"
	"github.com/vividhyeok/radioflow/internal/direction"
	"github.com/vividhyeok/radioflow/internal/explorer"
	"github.com/vividhyeok/radioflow/internal/kdtree"
	"github.com/vividhyeok/radioflow/internal/mixer"
	"github.com/vividhyeok/radioflow/internal/rerr"
)

// driftLabels is the set of directional-search labels the drift fallback
// samples from when neither a user override nor an explorer nomination is
// available (spec §4.5 "directional-drift player").
var driftLabels = []string{
	"faster", "slower", "darker", "brighter",
	"more_complex", "simpler", "more_danceable", "less_danceable",
	"punchier", "smoother", "purer", "dirtier", "busier", "sparser",
}

// Broadcaster is the Event sink boundary (spec §6): sessions never know how
// an event reaches a subscriber, only that it's handed off.
type Broadcaster interface {
	Broadcast(sessionID string, eventType string, payload any)
}

// Preparer loads a track into a ready-to-play mixer Slot, calling out to the
// codec/analyzer/mixdown-cache stack. It is expected to block and must be
// run from a worker goroutine so the session's tick loop is never blocked
// beyond moving bytes (spec §5).
type Preparer interface {
	Prepare(ctx context.Context, track *corpus.Track) (*mixer.Slot, error)
}

// JourneyEntry is one stop on the session's journey stack (spec §4.5).
type JourneyEntry struct {
	Identifier string
	Direction  string
	Resolution corpus.Resolution
}

type override struct {
	trackID      string
	direction    string
	debounce     time.Duration
	generation   int64
	requestedAt  time.Time
	nextRetryAt  time.Time
}

// Session is one listener's mutable state: everything in spec §4.5 plus the
// mixer it drives.
type Session struct {
	mu sync.Mutex

	ID         string
	Name       string // empty for ephemeral (unnamed) sessions
	Resolution corpus.Resolution

	idx     *kdtree.Index
	byID    map[string]*corpus.Track
	tracks  []*corpus.Track
	table   corpus.CalibrationTable
	weights corpus.Weights
	cfg     config.Config

	broadcaster Broadcaster
	preparer    Preparer
	explorerC   *explorer.Cache
	logger      zerolog.Logger

	mixer *mixer.Mixer

	currentTrackID string
	lockedNextID   string
	played         map[string]bool

	manualGeneration int64
	pending          *override

	journeyStack []JourneyEntry
	preloaded    []JourneyEntry
	stackIndex   int
	ephemeral    bool

	audioSubscribers int
	eventSubscribers int

	lastHeartbeatIdentity string
	lastSnapshotIdentity  string
	cachedSnapshot        *explorer.ExplorerData

	fallbackNoiseAt []time.Time
	stopped         bool
}

// New constructs a Session over the given read-only corpus/index/calibration
// singletons. name is empty for ephemeral sessions; a non-empty name is used
// as the session ID, otherwise a random UUID is. The journey stack is held
// only in the Session value.
func New(name string, idx *kdtree.Index, corp *corpus.Corpus, table corpus.CalibrationTable, weights corpus.Weights, cfg config.Config, broadcaster Broadcaster, preparer Preparer, logger zerolog.Logger) *Session {
	byID := make(map[string]*corpus.Track, len(corp.Tracks))
	for _, t := range corp.Indexable() {
		byID[t.ID] = t
	}
	id := name
	if id == "" {
		id = uuid.New().String()
	}
	return &Session{
		ID:          id,
		Name:        name,
		Resolution:  cfg.DefaultResolution,
		idx:         idx,
		byID:        byID,
		tracks:      corp.Indexable(),
		table:       table,
		weights:     weights,
		cfg:         cfg,
		broadcaster: broadcaster,
		preparer:    preparer,
		explorerC:   explorer.NewCache(),
		logger:      logger.With().Str("component", "session").Str("session_id", id).Logger(),
		mixer:       mixer.New(cfg, logger),
		played:      make(map[string]bool),
		ephemeral:   true,
	}
}

// track looks up a track by id, returning rerr.ErrNotFound when absent.
func (s *Session) track(id string) (*corpus.Track, error) {
	t, ok := s.byID[id]
	if !ok {
		return nil, rerr.ErrNotFound
	}
	return t, nil
}

// SubscribeAudio/UnsubscribeAudio/SubscribeEvents/UnsubscribeEvents manage
// the subscriber counts the Streaming Mixer's tick uses to decide whether
// to do any work at all (spec §4.6 step 1).
func (s *Session) SubscribeAudio() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audioSubscribers++
}

func (s *Session) UnsubscribeAudio() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.audioSubscribers > 0 {
		s.audioSubscribers--
	}
}

func (s *Session) SubscribeEvents() *explorer.ExplorerData {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.eventSubscribers++
	return s.cachedSnapshot
}

func (s *Session) UnsubscribeEvents() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.eventSubscribers > 0 {
		s.eventSubscribers--
	}
}

func (s *Session) HasAudioSubscribers() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audioSubscribers > 0
}

// UserSelectedNextTrack implements the override protocol's step 1 (spec
// §4.5): a new manual selection generation is opened, any preloaded next
// slot is cleared, and a pending-selection heartbeat fires.
func (s *Session) UserSelectedNextTrack(trackID, directionLabel string, debounce time.Duration, now time.Time) {
	if debounce <= 0 {
		debounce = time.Duration(s.cfg.UserSelectionDebounceMS) * time.Millisecond
	}
	s.mu.Lock()
	s.manualGeneration++
	s.pending = &override{
		trackID:     trackID,
		direction:   directionLabel,
		debounce:    debounce,
		generation:  s.manualGeneration,
		requestedAt: now,
	}
	s.lockedNextID = ""
	s.mu.Unlock()

	s.broadcastHeartbeat(now, "pending_selection")
}

// ProcessPendingOverride runs override-protocol steps 2-4 once invoked after
// the debounce window. Callers drive this from their tick loop (or an
// equivalent timer) since the suspension points it may hit — the 750ms
// crossfade-defer backoff and the preparation call itself — must not block
// the mixer's own tick.
func (s *Session) ProcessPendingOverride(ctx context.Context, now time.Time) {
	s.mu.Lock()
	p := s.pending
	if p == nil || now.Sub(p.requestedAt) < p.debounce || p.generation != s.manualGeneration {
		s.mu.Unlock()
		return
	}
	if !p.nextRetryAt.IsZero() && now.Before(p.nextRetryAt) {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	if s.mixer.IsCrossfading() {
		elapsed := s.mixer.CrossfadeElapsed(now)
		guard := time.Duration(s.cfg.CrossfadeGuardSec * float64(time.Second))
		if elapsed < guard {
			s.mu.Lock()
			if s.pending == p {
				p.nextRetryAt = now.Add(time.Duration(s.cfg.CrossfadeDeferBackoffMS) * time.Millisecond)
			}
			s.mu.Unlock()
			return
		}
		s.mixer.ForceCutover(now)
	}

	track, err := s.track(p.trackID)
	if err != nil {
		s.failOverride(p)
		return
	}

	slot, err := s.preparer.Prepare(ctx, track)
	if err != nil {
		s.failOverride(p)
		return
	}

	s.mu.Lock()
	if p.generation != s.manualGeneration {
		// A newer override superseded this one while preparation ran.
		s.mu.Unlock()
		return
	}
	s.mixer.SetNext(slot)
	s.lockedNextID = track.ID
	s.pending = nil
	s.mu.Unlock()

	s.broadcaster.Broadcast(s.ID, "selection_ready", map[string]any{
		"track_id":   track.ID,
		"direction":  p.direction,
		"generation": p.generation,
	})
}

func (s *Session) failOverride(p *override) {
	s.mu.Lock()
	if p.generation == s.manualGeneration {
		s.pending = nil
		s.lockedNextID = ""
	}
	s.mu.Unlock()

	s.broadcaster.Broadcast(s.ID, "selection_failed", map[string]any{
		"track_id":   p.trackID,
		"generation": p.generation,
	})
	// Auto-recovery after 200ms is left to the caller's tick loop: it will
	// observe lockedNextID/pending both empty and fall through to
	// SelectNext on its next scheduled pass.
}

// FallbackToNoise switches the mixer's current slot to a synthesized
// brown-noise bed when the selection pipeline cannot produce a playable
// track (spec §7 "Noise fallback"). More than 3 fallbacks within 5s stops
// the session outright (spec §7 "Rate-limited-noise") rather than looping
// forever on a corpus/codec that can't recover.
func (s *Session) FallbackToNoise(now time.Time) error {
	s.mu.Lock()
	cutoff := now.Add(-5 * time.Second)
	kept := s.fallbackNoiseAt[:0]
	for _, t := range s.fallbackNoiseAt {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	kept = append(kept, now)
	s.fallbackNoiseAt = kept
	rateLimited := len(s.fallbackNoiseAt) > 3
	if rateLimited {
		s.stopped = true
	}
	sampleRate, channels := s.cfg.SampleRate, s.cfg.Channels
	s.mu.Unlock()

	if rateLimited {
		s.broadcastHeartbeat(now, "stopped")
		return rerr.ErrRateLimitedNoise
	}

	s.mixer.SetCurrent(noiseSlot(sampleRate, channels), now)
	s.broadcastHeartbeat(now, "noise_fallback")
	return nil
}

// IsStopped reports whether the rate-limited-noise invariant has tripped
// (spec §7); callers must stop driving this session's tick loop once true.
func (s *Session) IsStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// SelectNext implements spec §4.5's next-track-selection chain: a pending,
// debounce-elapsed override wins; otherwise the explorer's nomination;
// otherwise the directional-drift fallback.
func (s *Session) SelectNext(now time.Time) (*corpus.Track, string, error) {
	s.mu.Lock()
	pending := s.pending
	current, err := s.track(s.currentTrackID)
	s.mu.Unlock()
	if err != nil {
		return nil, "", err
	}

	if pending != nil && now.Sub(pending.requestedAt) >= pending.debounce {
		if t, err := s.track(pending.trackID); err == nil {
			return t, "user", nil
		}
	}

	data, err := s.explorerData(current)
	if err == nil && data.NextTrackID != "" && !s.hasPlayed(data.NextTrackID) {
		if t, err := s.track(data.NextTrackID); err == nil {
			return t, "explorer", nil
		}
	}

	return s.directionalDrift(current, now)
}

func (s *Session) hasPlayed(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.played[id]
}

func (s *Session) explorerData(current *corpus.Track) (*explorer.ExplorerData, error) {
	s.mu.Lock()
	resolution := s.Resolution
	played := make(map[string]bool, len(s.played))
	for k, v := range s.played {
		played[k] = v
	}
	s.mu.Unlock()

	key := explorer.CacheKey{TrackID: current.ID, Resolution: resolution}
	if cached, ok := s.explorerC.Get(key); ok {
		return cached, nil
	}
	data, err := explorer.Build(s.idx, current, resolution, s.table, s.weights, played)
	if err != nil {
		return nil, err
	}
	s.explorerC.Put(key, data)
	return data, nil
}

// directionalDrift picks a random direction and a random candidate from it;
// widens to other directions on an empty result; falls back to a uniformly
// random corpus track as a last resort (spec §4.5).
func (s *Session) directionalDrift(current *corpus.Track, now time.Time) (*corpus.Track, string, error) {
	tried := make(map[string]bool, len(driftLabels))
	for attempt := 0; attempt < len(driftLabels); attempt++ {
		label := driftLabels[rand.Intn(len(driftLabels))]
		if tried[label] {
			continue
		}
		tried[label] = true

		result, err := direction.Search(s.idx, current, label, s.table, s.weights)
		if err != nil || len(result.Candidates) == 0 {
			continue
		}
		var unplayed []direction.Candidate
		for _, c := range result.Candidates {
			if !s.hasPlayed(c.Track.ID) {
				unplayed = append(unplayed, c)
			}
		}
		pool := result.Candidates
		if len(unplayed) > 0 {
			pool = unplayed
		}
		chosen := pool[rand.Intn(len(pool))]
		return chosen.Track, "drift:" + label, nil
	}

	if len(s.tracks) == 0 {
		return nil, "", rerr.ErrExplorationEmpty
	}
	for attempt := 0; attempt < len(s.tracks)*2; attempt++ {
		candidate := s.tracks[rand.Intn(len(s.tracks))]
		if candidate.ID != current.ID && !s.hasPlayed(candidate.ID) {
			return candidate, "drift:random", nil
		}
	}
	return s.tracks[rand.Intn(len(s.tracks))], "drift:random", nil
}

// OnNaturalTransition pushes the completed track onto the journey stack and
// advances the session to the given next track (spec §4.5 "Journey stack").
func (s *Session) OnNaturalTransition(nextTrackID, directionLabel string, now time.Time) {
	s.mu.Lock()
	if s.currentTrackID != "" {
		s.journeyStack = append(s.journeyStack, JourneyEntry{
			Identifier: s.currentTrackID,
			Direction:  directionLabel,
			Resolution: s.Resolution,
		})
		s.stackIndex++
	}
	s.played[s.currentTrackID] = true
	s.currentTrackID = nextTrackID
	s.lockedNextID = ""
	if s.stackIndex >= len(s.preloaded) {
		s.ephemeral = true
	}
	s.mu.Unlock()

	s.broadcastSnapshot(now, false)
	s.broadcastHeartbeat(now, "track_start")
}

// Mixer exposes the session's Streaming Mixer for the owning tick loop.
func (s *Session) Mixer() *mixer.Mixer { return s.mixer }

// CurrentTrackID returns the session's current track id.
func (s *Session) CurrentTrackID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentTrackID
}

// SetCurrentTrack seeds the session's current track without going through a
// natural transition — used to bootstrap a freshly created session before
// its first tick.
func (s *Session) SetCurrentTrack(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentTrackID = id
}

// SetResolution changes the exploration resolution (spec §6 enum); it does
// not itself trigger a re-selection.
func (s *Session) SetResolution(r corpus.Resolution) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Resolution = r
}

// broadcastHeartbeat emits a lean status event, deduped by JSON identity
// (spec §4.5 "Broadcasts").
func (s *Session) broadcastHeartbeat(now time.Time, reason string) {
	s.mu.Lock()
	payload := map[string]any{
		"session_id":        s.ID,
		"current_track_id":  s.currentTrackID,
		"locked_next_id":    s.lockedNextID,
		"override_pending":  s.pending != nil,
		"audio_subscribers": s.audioSubscribers,
		"event_subscribers": s.eventSubscribers,
		"ephemeral":         s.ephemeral,
		"reason":            reason,
	}
	s.mu.Unlock()

	id, err := identity(payload)
	if err == nil && id == s.lastHeartbeatIdentity && reason != "track_start" {
		return
	}
	s.lastHeartbeatIdentity = id
	s.broadcaster.Broadcast(s.ID, "heartbeat", payload)
}

// broadcastSnapshot emits the explorer snapshot for the current track, taken
// from the explorer cache (recomputed only for a new track/resolution pair),
// and skips the broadcast when it matches the last one sent unless force is
// set (spec §4.5/§4.4).
func (s *Session) broadcastSnapshot(now time.Time, force bool) {
	s.mu.Lock()
	current, err := s.track(s.currentTrackID)
	s.mu.Unlock()
	if err != nil {
		return
	}
	data, err := s.explorerData(current)
	if err != nil {
		return
	}
	id, idErr := explorer.Identity(data)
	if idErr == nil && id == s.lastSnapshotIdentity && !force {
		return
	}
	s.mu.Lock()
	s.lastSnapshotIdentity = id
	s.cachedSnapshot = data
	s.mu.Unlock()
	s.broadcaster.Broadcast(s.ID, "explorer_snapshot", data)
}

func identity(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
