// Package harmonic provides Camelot-wheel key distance used by the
// Streaming Mixer's pitch smoothing (spec §4.6). Adapted from
// stojg-playlist-sorter/playlist/harmonic.go.
package harmonic

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
)

// Key is a parsed Camelot key: a wheel position (1-12, the circle-of-fifths
// slot) and a mode letter ('A' minor, 'B' major).
type Key struct {
	Letter byte
	Number int
}

var camelotKeyRegex = regexp.MustCompile(`^(\d+)([AB])$`)

// Compatibility tiers for harmonic mixing (spec §4.6 uses these implicitly
// via the circle-of-fifths semitone snap; exposed here for diagnostics).
const (
	CompatPerfect      = 0
	CompatExcellent    = 1
	CompatDramatic     = 2
	CompatIncompatible = 10
)

// ParseKey parses a Camelot key string like "8A".
func ParseKey(key string) (*Key, error) {
	if key == "" {
		return nil, errors.New("empty key")
	}
	matches := camelotKeyRegex.FindStringSubmatch(key)
	if len(matches) != 3 {
		return nil, fmt.Errorf("invalid key format: %s", key)
	}
	number, err := strconv.Atoi(matches[1])
	if err != nil || number < 1 || number > 12 {
		return nil, fmt.Errorf("invalid key number: %s", matches[1])
	}
	return &Key{Letter: matches[2][0], Number: number}, nil
}

func (k *Key) String() string {
	return fmt.Sprintf("%d%c", k.Number, k.Letter)
}

// Distance scores harmonic compatibility between two keys.
func Distance(k1, k2 *Key) int {
	if k1 == nil || k2 == nil {
		return CompatIncompatible
	}
	if k1.Number == k2.Number && k1.Letter == k2.Letter {
		return CompatPerfect
	}
	if k1.Number == k2.Number {
		return CompatExcellent
	}

	diff := abs(k1.Number - k2.Number)
	circularDist := min(diff, 12-diff)
	if circularDist == 1 && k1.Letter == k2.Letter {
		return CompatExcellent
	}
	if IsParallelMajorMinor(k1, k2) {
		return CompatDramatic
	}
	return CompatIncompatible
}

// IsParallelMajorMinor detects same-root major/minor pairs (e.g. C major
// 8B <-> C minor 5A).
func IsParallelMajorMinor(k1, k2 *Key) bool {
	if k1 == nil || k2 == nil || k1.Letter == k2.Letter {
		return false
	}
	if k1.Letter == 'A' {
		parallelMajor := (k1.Number+2)%12 + 1
		return k2.Number == parallelMajor
	}
	parallelMinor := (k1.Number+8)%12 + 1
	return k2.Number == parallelMinor
}

// SemitoneDifference computes the shortest signed circle-of-fifths distance
// between two keys' wheel positions, clipped to [-6, 6] (spec §4.6 "Pitch
// smoothing"). Returns 0 if either key is nil.
func SemitoneDifference(from, to *Key) int {
	if from == nil || to == nil {
		return 0
	}
	d := (to.Number - from.Number) % 12
	if d > 6 {
		d -= 12
	}
	if d < -6 {
		d += 12
	}
	return d
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
