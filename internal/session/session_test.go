package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/vividhyeok/radioflow/internal/config"
	"github.com/vividhyeok/radioflow/internal/corpus"
	"github.com/vividhyeok/radioflow/internal/kdtree"
	"github.com/vividhyeok/radioflow/internal/mixer"
)

type fakeBroadcaster struct {
	mu     sync.Mutex
	events []string
}

func (b *fakeBroadcaster) Broadcast(sessionID, eventType string, payload any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, eventType)
}

func (b *fakeBroadcaster) count(eventType string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, e := range b.events {
		if e == eventType {
			n++
		}
	}
	return n
}

type fakePreparer struct {
	mu    sync.Mutex
	calls int
	fail  bool
}

func (p *fakePreparer) Prepare(ctx context.Context, track *corpus.Track) (*mixer.Slot, error) {
	p.mu.Lock()
	p.calls++
	fail := p.fail
	p.mu.Unlock()
	if fail {
		return nil, context.DeadlineExceeded
	}
	return mixer.NewSlot(track.ID, make([]byte, 1000), track.DurationSec, track.Features.BPM, nil, 6), nil
}

func buildTestCorpus(n int) *corpus.Corpus {
	tracks := make([]*corpus.Track, 0, n)
	for i := 0; i < n; i++ {
		tracks = append(tracks, &corpus.Track{
			ID:          "t" + string(rune('a'+i)),
			DurationSec: 180,
			Features: corpus.Features{
				BPM: 100 + float64(i),
			},
			PCA: corpus.PCA{PrimaryD: float64(i) * 0.1},
		})
	}
	return &corpus.Corpus{Tracks: tracks}
}

func newTestSession(t *testing.T, corp *corpus.Corpus, broadcaster Broadcaster, preparer Preparer) *Session {
	t.Helper()
	idx := kdtree.Build(corp.Indexable())
	cfg := config.Default()
	s := New("", idx, corp, corpus.CalibrationTable{}, corpus.Weights{}, cfg, broadcaster, preparer, zerolog.Nop())
	s.SetCurrentTrack(corp.Tracks[0].ID)
	return s
}

func TestUserSelectedNextTrackIncrementsGenerationAndClearsLock(t *testing.T) {
	corp := buildTestCorpus(5)
	s := newTestSession(t, corp, &fakeBroadcaster{}, &fakePreparer{})
	s.lockedNextID = "stale"

	now := time.Now()
	s.UserSelectedNextTrack("tb", "faster", time.Second, now)

	if s.manualGeneration != 1 {
		t.Fatalf("expected generation 1, got %d", s.manualGeneration)
	}
	if s.lockedNextID != "" {
		t.Fatalf("expected locked next id cleared, got %q", s.lockedNextID)
	}
}

func TestProcessPendingOverrideWaitsForDebounce(t *testing.T) {
	corp := buildTestCorpus(5)
	preparer := &fakePreparer{}
	s := newTestSession(t, corp, &fakeBroadcaster{}, preparer)

	now := time.Now()
	s.UserSelectedNextTrack("tb", "", 5*time.Second, now)
	s.ProcessPendingOverride(context.Background(), now.Add(time.Second))

	if preparer.calls != 0 {
		t.Fatalf("expected no preparation before debounce elapses, got %d calls", preparer.calls)
	}
}

func TestProcessPendingOverrideAppliesAfterDebounce(t *testing.T) {
	corp := buildTestCorpus(5)
	preparer := &fakePreparer{}
	broadcaster := &fakeBroadcaster{}
	s := newTestSession(t, corp, broadcaster, preparer)

	now := time.Now()
	s.UserSelectedNextTrack("tb", "", 100*time.Millisecond, now)
	s.ProcessPendingOverride(context.Background(), now.Add(200*time.Millisecond))

	if preparer.calls != 1 {
		t.Fatalf("expected exactly one preparation call, got %d", preparer.calls)
	}
	if s.lockedNextID != "tb" {
		t.Fatalf("expected locked next id 'tb', got %q", s.lockedNextID)
	}
	if s.pending != nil {
		t.Fatalf("expected pending override cleared after success")
	}
	if broadcaster.count("selection_ready") != 1 {
		t.Fatalf("expected one selection_ready broadcast")
	}
}

func TestStaleGenerationOverrideIsNotApplied(t *testing.T) {
	corp := buildTestCorpus(5)
	preparer := &fakePreparer{}
	s := newTestSession(t, corp, &fakeBroadcaster{}, preparer)

	now := time.Now()
	s.UserSelectedNextTrack("tb", "", 100*time.Millisecond, now)
	// A second, newer override arrives before the first is processed.
	s.UserSelectedNextTrack("tc", "", 100*time.Millisecond, now)

	firstGen := s.manualGeneration - 1
	s.pending.generation = firstGen // simulate processing racing on the stale generation
	s.ProcessPendingOverride(context.Background(), now.Add(200*time.Millisecond))

	if s.lockedNextID == "tb" {
		t.Fatalf("expected superseded override to not win the locked next slot")
	}
}

func TestProcessPendingOverrideBroadcastsFailureAndClearsLock(t *testing.T) {
	corp := buildTestCorpus(5)
	preparer := &fakePreparer{fail: true}
	broadcaster := &fakeBroadcaster{}
	s := newTestSession(t, corp, broadcaster, preparer)

	now := time.Now()
	s.UserSelectedNextTrack("tb", "", 100*time.Millisecond, now)
	s.ProcessPendingOverride(context.Background(), now.Add(200*time.Millisecond))

	if s.pending != nil {
		t.Fatalf("expected pending override cleared on failure")
	}
	if broadcaster.count("selection_failed") != 1 {
		t.Fatalf("expected one selection_failed broadcast")
	}
}

func TestDirectionalDriftFallsBackToRandomTrack(t *testing.T) {
	corp := buildTestCorpus(3)
	s := newTestSession(t, corp, &fakeBroadcaster{}, &fakePreparer{})

	current := corp.Tracks[0]
	track, reason, err := s.directionalDrift(current, time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if track == nil {
		t.Fatalf("expected a non-nil fallback track")
	}
	if reason == "" {
		t.Fatalf("expected a non-empty selection reason")
	}
}

func TestFallbackToNoiseInstallsNoiseSlotWithoutStopping(t *testing.T) {
	corp := buildTestCorpus(3)
	s := newTestSession(t, corp, &fakeBroadcaster{}, &fakePreparer{})

	now := time.Now()
	if err := s.FallbackToNoise(now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.IsStopped() {
		t.Fatalf("expected session not stopped after a single fallback")
	}
	if s.mixer.Current() == nil || s.mixer.Current().TrackID != "__noise__" {
		t.Fatalf("expected mixer current slot to be the noise slot")
	}
}

func TestFallbackToNoiseStopsSessionAfterFourWithinFiveSeconds(t *testing.T) {
	corp := buildTestCorpus(3)
	broadcaster := &fakeBroadcaster{}
	s := newTestSession(t, corp, broadcaster, &fakePreparer{})

	now := time.Now()
	for i := 0; i < 3; i++ {
		if err := s.FallbackToNoise(now.Add(time.Duration(i) * time.Second)); err != nil {
			t.Fatalf("unexpected error on fallback %d: %v", i, err)
		}
	}
	if s.IsStopped() {
		t.Fatalf("expected session still running after 3 fallbacks")
	}

	err := s.FallbackToNoise(now.Add(3 * time.Second))
	if err == nil {
		t.Fatalf("expected rate-limit error on the 4th fallback within 5s")
	}
	if !s.IsStopped() {
		t.Fatalf("expected session stopped after 4 fallbacks within 5s")
	}
}

func TestFallbackToNoiseWindowSlidesPastOldEvents(t *testing.T) {
	corp := buildTestCorpus(3)
	s := newTestSession(t, corp, &fakeBroadcaster{}, &fakePreparer{})

	now := time.Now()
	for i := 0; i < 3; i++ {
		if err := s.FallbackToNoise(now.Add(time.Duration(i) * time.Second)); err != nil {
			t.Fatalf("unexpected error on fallback %d: %v", i, err)
		}
	}
	// Comfortably outside the 5s window of the first 3 fallbacks.
	if err := s.FallbackToNoise(now.Add(30 * time.Second)); err != nil {
		t.Fatalf("unexpected rate-limit once old events have aged out: %v", err)
	}
	if s.IsStopped() {
		t.Fatalf("expected session still running once earlier fallbacks aged out of the window")
	}
}

func TestOnNaturalTransitionPushesJourneyStack(t *testing.T) {
	corp := buildTestCorpus(5)
	s := newTestSession(t, corp, &fakeBroadcaster{}, &fakePreparer{})

	s.OnNaturalTransition("tb", "drift:faster", time.Now())

	if len(s.journeyStack) != 1 {
		t.Fatalf("expected one journey stack entry, got %d", len(s.journeyStack))
	}
	if s.journeyStack[0].Identifier != "ta" {
		t.Fatalf("expected journey entry to record the prior track, got %q", s.journeyStack[0].Identifier)
	}
	if s.CurrentTrackID() != "tb" {
		t.Fatalf("expected current track to advance to 'tb', got %q", s.CurrentTrackID())
	}
	if !s.played["ta"] {
		t.Fatalf("expected prior track marked as played")
	}
}
