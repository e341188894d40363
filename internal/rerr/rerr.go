// Package rerr defines the error taxonomy shared across radioflow's
// components (spec §7). Internal pure computations never return these for
// data-shape reasons beyond what's documented here; I/O-bound calls wrap
// them with track/session context via fmt.Errorf("...: %w", ...).
package rerr

import "errors"

var (
	// ErrNotFound marks a track id absent from the corpus. Fatal to the call.
	ErrNotFound = errors.New("radioflow: not found")

	// ErrIndexNotInitialized marks a query against a KD-tree whose root is nil.
	// Programmer error; callers should treat it as non-recoverable.
	ErrIndexNotInitialized = errors.New("radioflow: index not initialized")

	// ErrDimensionMismatch marks a counterfactual or distance call with the
	// wrong vector arity. Programmer error.
	ErrDimensionMismatch = errors.New("radioflow: vector dimension mismatch")

	// ErrCodecFailure marks a non-zero decode/encode result from the external
	// codec boundary. Surfaces as "track-load failed" to the session.
	ErrCodecFailure = errors.New("radioflow: codec failure")

	// ErrSelectionFailed marks a preparation that could not complete.
	ErrSelectionFailed = errors.New("radioflow: selection failed")

	// ErrExplorationEmpty marks an explorer run where every direction came
	// back empty.
	ErrExplorationEmpty = errors.New("radioflow: exploration empty")

	// ErrRateLimitedNoise marks more than 3 fallback-to-noise events within
	// 5s; the session should stop rather than loop forever.
	ErrRateLimitedNoise = errors.New("radioflow: rate limited noise fallback")
)

// Fatal wraps an error that a caller must treat as a programmer error rather
// than a recoverable runtime condition (index-not-initialized,
// dimension-mismatch). It is still a plain error value, never a panic — the
// "fail loudly" in spec §4.1 means surfaced unambiguously, not a crashed
// process.
type Fatal struct {
	Err error
}

func (f *Fatal) Error() string { return f.Err.Error() }
func (f *Fatal) Unwrap() error { return f.Err }

func NewFatal(err error) error { return &Fatal{Err: err} }
