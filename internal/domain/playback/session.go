// Package playback provides the per-track playback sessions and the
// registry that coordinates them.
package playback

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/rmalloy/audiocrate/internal/domain/track"
)

// State is the lifecycle state of a playback session.
type State string

// Session states: idle → loading → ready ⇄ playing ⇄ paused → finished,
// with destroyed terminal from any non-destroyed state.
const (
	StateIdle      State = "idle"
	StateLoading   State = "loading"
	StateReady     State = "ready"
	StatePlaying   State = "playing"
	StatePaused    State = "paused"
	StateFinished  State = "finished"
	StateDestroyed State = "destroyed"
)

// Common errors
var (
	// ErrPlaybackInit indicates the underlying player could not be
	// allocated for a track. Non-fatal: the rest of the registry is
	// unaffected.
	ErrPlaybackInit = errors.New("playback init failed")

	// ErrNoSession indicates no session exists at the requested index.
	ErrNoSession = errors.New("no session at index")

	// ErrInvalidTransition indicates an operation that is not valid in the
	// session's current state.
	ErrInvalidTransition = errors.New("invalid playback transition")
)

// Handle abstracts the platform audio facility a session plays through.
// Implementations must be safe to Close more than once only if documented;
// sessions guarantee a single Close.
type Handle interface {
	// Load prepares the handle for the given audio URL and returns the
	// media duration in seconds. onFinished is invoked once when the
	// media plays to its natural end.
	Load(ctx context.Context, url string, onFinished func()) (float64, error)

	// Start begins or resumes playback at the current position.
	Start() error

	// Stop halts playback, keeping the current position.
	Stop() error

	// SeekTo moves the playback position to an absolute time in seconds.
	SeekTo(seconds float64) error

	// Position reports the current playback position in seconds.
	Position() (float64, error)

	// Close releases the handle.
	Close() error
}

// HandleFactory allocates a fresh Handle for a session.
type HandleFactory func() Handle

// session is the live playback object bound to one track index. Sessions
// are owned exclusively by the registry; all methods assume the registry
// lock is held.
type session struct {
	index     int
	track     track.Track
	handle    Handle
	state     State
	duration  float64
	lastPos   float64
	destroyed bool
}

// play transitions ready, paused or finished sessions to playing.
func (s *session) play() (Event, error) {
	switch s.state {
	case StateReady, StatePaused, StateFinished:
	default:
		return Event{}, fmt.Errorf("%w: play from %s", ErrInvalidTransition, s.state)
	}

	if s.state == StateFinished {
		// Replay from the top after a natural end.
		if err := s.handle.SeekTo(0); err != nil {
			return Event{}, fmt.Errorf("rewind: %w", err)
		}
		s.lastPos = 0
	}

	if err := s.handle.Start(); err != nil {
		return Event{}, fmt.Errorf("start playback: %w", err)
	}
	s.state = StatePlaying
	return Event{Index: s.index, Kind: EventStarted, URL: s.track.URL}, nil
}

// pause transitions a playing session to paused.
func (s *session) pause() (Event, error) {
	if s.state != StatePlaying {
		return Event{}, fmt.Errorf("%w: pause from %s", ErrInvalidTransition, s.state)
	}

	if pos, err := s.handle.Position(); err == nil {
		s.lastPos = pos
	}
	if err := s.handle.Stop(); err != nil {
		// The handle is in an unknown state; keep our own state honest
		// and report the failure.
		return Event{}, fmt.Errorf("stop playback: %w", err)
	}
	s.state = StatePaused
	return Event{Index: s.index, Kind: EventStopped, URL: s.track.URL}, nil
}

// seek recomputes the absolute position from a [0,1] ratio. Valid in any
// non-destroyed state; the sought event fires regardless of play state.
func (s *session) seek(ratio float64) (Event, error) {
	if s.state == StateDestroyed {
		return Event{}, fmt.Errorf("%w: seek from %s", ErrInvalidTransition, s.state)
	}

	if ratio < 0 {
		ratio = 0
	} else if ratio > 1 {
		ratio = 1
	}

	seconds := ratio * s.duration
	if err := s.handle.SeekTo(seconds); err != nil {
		return Event{}, fmt.Errorf("seek: %w", err)
	}
	s.lastPos = seconds

	// Seeking out of finished makes the session resumable again.
	if s.state == StateFinished {
		s.state = StatePaused
	}
	return Event{Index: s.index, Kind: EventSought, URL: s.track.URL, Seconds: seconds}, nil
}

// finish handles natural end-of-media: position resets to 0 and the session
// does not auto-replay.
func (s *session) finish() (Event, bool) {
	if s.state != StatePlaying {
		return Event{}, false
	}
	s.state = StateFinished
	s.lastPos = 0
	return Event{Index: s.index, Kind: EventStopped, URL: s.track.URL}, true
}

// destroy releases the handle. Idempotent.
func (s *session) destroy() error {
	if s.destroyed {
		return nil
	}
	s.destroyed = true
	s.state = StateDestroyed

	if err := s.handle.Close(); err != nil {
		log.Warn().Err(err).Int("index", s.index).Msg("Failed to release playback handle")
		return err
	}
	return nil
}

// position reports the live position for playing sessions and the last
// known position otherwise.
func (s *session) position() (float64, error) {
	if s.state == StatePlaying {
		pos, err := s.handle.Position()
		if err != nil {
			return 0, fmt.Errorf("read position: %w", err)
		}
		s.lastPos = pos
		return pos, nil
	}
	return s.lastPos, nil
}
