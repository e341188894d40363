package planner

import (
	"math"
	"math/rand"
	"testing"
)

// TestTimelineSimulation generates randomized synthetic playlists and
// verifies the timeline arithmetic ComputePlayBounds/RenderFinalMix share
// never produces a negative chunk duration, mirroring the teacher's
// headless timeline simulator (simulate_test.go) that caught the same class
// of drift bug during development.
func TestTimelineSimulation(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for iteration := 1; iteration <= 20; iteration++ {
		numTracks := 5 + rng.Intn(11)
		var playlist []TrackWithAnalysis

		for i := 0; i < numTracks; i++ {
			bpm := 90.0 + rng.Float64()*60.0
			dur := 160.0 + rng.Float64()*80.0

			var beats []float64
			interval := 60.0 / bpm
			for cur := 0.0; cur < dur; cur += interval {
				beats = append(beats, cur)
			}
			segs := []Segment{
				{Time: 0, Label: "Intro", Energy: 0.4},
				{Time: dur * 0.25, Label: "Verse", Energy: 0.6},
				{Time: dur * 0.5, Label: "Chorus", Energy: 0.9},
				{Time: dur - 30, Label: "Outro", Energy: 0.3},
			}
			energy := make([]float64, len(beats))
			for j := range energy {
				energy[j] = 0.4 + rng.Float64()*0.5
			}

			playlist = append(playlist, TrackWithAnalysis{
				Filename: "track",
				Analysis: TrackAnalysis{
					Filepath:  "fake",
					Duration:  dur,
					BPM:       bpm,
					BeatTimes: beats,
					Segments:  segs,
					Energy:    energy,
				},
			})
		}

		rawTracks := make([]TrackAnalysis, len(playlist))
		for i, x := range playlist {
			rawTracks[i] = x.Analysis
		}

		plan := GenerateMixPlan(rawTracks, nil, nil, 1)
		sortedPlaylist := make([]TrackWithAnalysis, len(plan.SortedTracks))
		for i, an := range plan.SortedTracks {
			sortedPlaylist[i] = TrackWithAnalysis{Filename: "track", Analysis: an}
		}

		entries := ComputePlayBounds(sortedPlaylist, plan.Selections)

		currentOffsetMs := 0
		prevChunkMs := 0
		totalExpectedSec := 0.0
		hasNegative := false

		for i := 0; i < len(entries); i++ {
			tt := entries[i]
			startSec := tt.PlayStart
			endSec := tt.PlayEnd
			if endSec <= 0 {
				endSec = tt.Duration
			}
			if startSec < 0 {
				startSec = 0
			}
			if startSec >= endSec-15.0 {
				startSec = math.Max(0, endSec-15.0)
			}
			chunkPhysicalDurSec := endSec - startSec

			if chunkPhysicalDurSec < 0 {
				hasNegative = true
			}

			totalExpectedSec += chunkPhysicalDurSec
			xfadeDurMs := 0

			if i > 0 && i-1 < len(plan.Selections) {
				trans := plan.Selections[i-1]
				xfadeDurMs = int(math.Round(trans.Duration * 1000.0))
				if xfadeDurMs < 4000 {
					xfadeDurMs = 4000
				}
				maxByPrev := prevChunkMs - 1000
				maxByB := int(chunkPhysicalDurSec*1000.0) - 5000
				if xfadeDurMs > maxByPrev && maxByPrev > 0 {
					xfadeDurMs = maxByPrev
				}
				if xfadeDurMs > maxByB && maxByB > 0 {
					xfadeDurMs = maxByB
				}
				if xfadeDurMs < 0 {
					xfadeDurMs = 0
				}
				currentOffsetMs -= xfadeDurMs
				if currentOffsetMs < 0 {
					currentOffsetMs = 0
				}
				totalExpectedSec -= float64(xfadeDurMs) / 1000.0
			}

			prevChunkMs = int(math.Round(chunkPhysicalDurSec * 1000.0))
			currentOffsetMs += prevChunkMs
		}

		actualTotalSec := float64(currentOffsetMs) / 1000.0
		diff := math.Abs(actualTotalSec - totalExpectedSec)

		if diff > 0.05 || hasNegative {
			t.Errorf("run #%d: drift=%.3f negative=%v", iteration, diff, hasNegative)
		}
	}
}
