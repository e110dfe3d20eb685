// Package keydetect drives the live musical key detection loop for playing
// tracks.
package keydetect

import "context"

// Result is the latest key detection outcome for one track.
// Stale results are replaced wholesale, never merged.
type Result struct {
	Key        string  `json:"key"`        // Detected key, or "N/A"
	Confidence float64 `json:"confidence"` // Confidence in [0,100]
}

// Extractor slices a fixed analysis window out of an audio resource.
// A nil sample slice means "skip this window".
type Extractor interface {
	Extract(ctx context.Context, sourceURL string, startSeconds float64) (samples []float64, sampleRate int, err error)
}

// Analyzer detects the musical key of a PCM segment.
type Analyzer interface {
	Analyze(ctx context.Context, samples []float64, sampleRate int) (key string, confidence float64, err error)
}

// PlayerSource is the registry view the poller needs: per-index play state
// and position.
type PlayerSource interface {
	IsPlaying(index int) bool
	Exists(index int) bool
	Position(index int) (float64, error)
}
