package playback

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/rmalloy/audiocrate/internal/domain/track"
)

// Registry owns every playback session for a view, keyed by stable track
// index. Sessions never leave the registry; other components address them
// by index only.
//
// Invariant: at most one session across the registry is playing at any
// instant. Toggle pauses every other playing session before starting the
// requested one, inside a single lock hold, so no observer ever sees two
// playing.
type Registry struct {
	mu         sync.Mutex
	sessions   map[int]*session
	newHandle  HandleFactory
	subs       []func(Event)
	closed     bool
}

// NewRegistry creates an empty registry that allocates playback handles
// through factory.
func NewRegistry(factory HandleFactory) *Registry {
	return &Registry{
		sessions:  make(map[int]*session),
		newHandle: factory,
	}
}

// Subscribe registers a listener for playback events. Listeners are invoked
// outside the registry lock, in transition order, and must not block.
func (r *Registry) Subscribe(fn func(Event)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs = append(r.subs, fn)
}

// Ensure lazily creates the session for a track index, typically on first
// visibility of the track's UI element. Ensure of an existing index is a
// no-op. Initialization failure is surfaced as ErrPlaybackInit and leaves
// the rest of the registry untouched.
func (r *Registry) Ensure(ctx context.Context, index int, t track.Track) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return fmt.Errorf("registry closed")
	}
	if _, ok := r.sessions[index]; ok {
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	// Loading does network I/O; keep it outside the lock so other
	// sessions stay responsive.
	handle := r.newHandle()
	duration, err := handle.Load(ctx, t.URL, func() { r.finished(index) })
	if err != nil {
		handle.Close()
		log.Error().Err(err).Int("index", index).Str("track", t.ID()).Msg("Session init failed")
		return fmt.Errorf("%w: %v", ErrPlaybackInit, err)
	}
	if duration <= 0 {
		duration = t.Duration
	}

	s := &session{
		index:    index,
		track:    t,
		handle:   handle,
		state:    StateReady,
		duration: duration,
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		handle.Close()
		return fmt.Errorf("registry closed")
	}
	if _, ok := r.sessions[index]; ok {
		// Lost a create race for the same index; ours is redundant.
		r.mu.Unlock()
		handle.Close()
		return nil
	}
	r.sessions[index] = s
	r.mu.Unlock()

	log.Debug().Int("index", index).Str("track", t.ID()).Float64("duration", duration).Msg("Session ready")
	return nil
}

// Toggle pauses the session at index if it is playing; otherwise it pauses
// every other playing session first and then plays the one at index.
func (r *Registry) Toggle(index int) error {
	r.mu.Lock()
	s, ok := r.sessions[index]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrNoSession, index)
	}

	var events []Event

	if s.state == StatePlaying {
		ev, err := s.pause()
		r.mu.Unlock()
		if err != nil {
			return err
		}
		r.dispatch(ev)
		return nil
	}

	// Pause-others-before-play: the single-active invariant must hold at
	// every point visible within this call.
	for idx, other := range r.sessions {
		if idx == index || other.state != StatePlaying {
			continue
		}
		ev, err := other.pause()
		if err != nil {
			log.Error().Err(err).Int("index", idx).Msg("Failed to pause session")
			continue
		}
		events = append(events, ev)
	}

	ev, err := s.play()
	if err != nil {
		r.mu.Unlock()
		r.dispatch(events...)
		return err
	}
	events = append(events, ev)
	r.mu.Unlock()

	r.dispatch(events...)
	return nil
}

// Seek moves the session at index to ratio (in [0,1]) of its duration and
// emits a sought event regardless of play state.
func (r *Registry) Seek(index int, ratio float64) error {
	r.mu.Lock()
	s, ok := r.sessions[index]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrNoSession, index)
	}
	ev, err := s.seek(ratio)
	r.mu.Unlock()
	if err != nil {
		return err
	}
	r.dispatch(ev)
	return nil
}

// Remove destroys and forgets the session at index, e.g. when the track
// leaves the visible set. Unknown indices are ignored.
func (r *Registry) Remove(index int) {
	r.mu.Lock()
	s, ok := r.sessions[index]
	if ok {
		delete(r.sessions, index)
	}
	r.mu.Unlock()

	if ok {
		if err := s.destroy(); err != nil {
			log.Error().Err(err).Int("index", index).Msg("Session teardown failed")
		}
	}
}

// Active returns the indices of playing sessions. By invariant the result
// has at most one element.
func (r *Registry) Active() []int {
	r.mu.Lock()
	defer r.mu.Unlock()

	var active []int
	for idx, s := range r.sessions {
		if s.state == StatePlaying {
			active = append(active, idx)
		}
	}
	return active
}

// IsPlaying reports whether the session at index is currently playing.
func (r *Registry) IsPlaying(index int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[index]
	return ok && s.state == StatePlaying
}

// Exists reports whether a session is held at index.
func (r *Registry) Exists(index int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.sessions[index]
	return ok
}

// Position returns the current playback position of the session at index.
func (r *Registry) Position(index int) (float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[index]
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrNoSession, index)
	}
	return s.position()
}

// States returns a snapshot of every session's state, for UI pushes.
func (r *Registry) States() map[int]State {
	r.mu.Lock()
	defer r.mu.Unlock()

	states := make(map[int]State, len(r.sessions))
	for idx, s := range r.sessions {
		states[idx] = s.state
	}
	return states
}

// Close destroys all sessions best-effort: a failing handle never prevents
// the remaining sessions from being released.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	sessions := make([]*session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.sessions = make(map[int]*session)
	r.mu.Unlock()

	for _, s := range sessions {
		if err := s.destroy(); err != nil {
			log.Error().Err(err).Int("index", s.index).Msg("Session teardown failed")
		}
	}
}

// finished is the end-of-media callback handed to handles at load time.
func (r *Registry) finished(index int) {
	r.mu.Lock()
	s, ok := r.sessions[index]
	if !ok {
		r.mu.Unlock()
		return
	}
	ev, changed := s.finish()
	r.mu.Unlock()

	if changed {
		log.Debug().Int("index", index).Msg("Track finished")
		r.dispatch(ev)
	}
}

// dispatch delivers events to subscribers outside the registry lock.
func (r *Registry) dispatch(events ...Event) {
	r.mu.Lock()
	subs := make([]func(Event), len(r.subs))
	copy(subs, r.subs)
	r.mu.Unlock()

	for _, ev := range events {
		for _, fn := range subs {
			fn(ev)
		}
	}
}
