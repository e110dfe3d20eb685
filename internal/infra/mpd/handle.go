package mpd

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/rmalloy/audiocrate/internal/domain/playback"
)

// HandleFactory turns one MPD daemon into per-track playback handles.
//
// The daemon plays a single stream at a time, which matches the registry's
// single-active-track invariant: starting a handle takes the daemon over
// (clear queue, add URL, play, restore position) and the previous handle's
// position survives in memory so it can resume later.
type HandleFactory struct {
	client *Client

	mu        sync.Mutex
	active    *handle
	switching bool
}

// NewHandleFactory creates a factory over an already connected client.
func NewHandleFactory(client *Client) *HandleFactory {
	return &HandleFactory{client: client}
}

// NewHandle allocates a handle. Satisfies playback.HandleFactory.
func (f *HandleFactory) NewHandle() playback.Handle {
	return &handle{factory: f}
}

// Run watches the daemon for natural end-of-media and fires the active
// handle's finished callback. Blocks until ctx is cancelled.
func (f *HandleFactory) Run(ctx context.Context) error {
	events, err := f.client.Watch("player")
	if err != nil {
		return err
	}

	log.Info().Msg("MPD player watcher started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("MPD player watcher stopped")
			return nil
		case _, ok := <-events:
			if !ok {
				log.Warn().Msg("MPD watcher channel closed")
				return nil
			}
			f.checkFinished()
		}
	}
}

// checkFinished fires the finished callback when the daemon ran off the end
// of the queue while a handle was active.
func (f *HandleFactory) checkFinished() {
	f.mu.Lock()
	if f.active == nil || f.switching {
		f.mu.Unlock()
		return
	}
	active := f.active
	f.mu.Unlock()

	status, err := f.client.Status()
	if err != nil {
		log.Debug().Err(err).Msg("Status unavailable during finish check")
		return
	}
	if status["state"] != "stop" {
		return
	}

	f.mu.Lock()
	if f.active != active || f.switching {
		f.mu.Unlock()
		return
	}
	f.active = nil
	f.mu.Unlock()

	active.mu.Lock()
	active.position = 0
	onFinished := active.onFinished
	active.mu.Unlock()

	if onFinished != nil {
		onFinished()
	}
}

// handle is one track's claim on the shared daemon.
type handle struct {
	factory *HandleFactory

	mu         sync.Mutex
	url        string
	onFinished func()
	position   float64
	closed     bool
}

// Load records the audio URL. Duration is unknown until the daemon loads
// the stream, so 0 is returned and the caller falls back to the track's
// stored duration.
func (h *handle) Load(_ context.Context, url string, onFinished func()) (float64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.url = url
	h.onFinished = onFinished
	return 0, nil
}

// Start begins or resumes playback, taking the daemon over from whichever
// handle held it before.
func (h *handle) Start() error {
	f := h.factory

	f.mu.Lock()
	if f.active == h {
		f.mu.Unlock()
		return f.client.Pause(false)
	}
	f.switching = true
	prev := f.active
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.switching = false
		f.mu.Unlock()
	}()

	// Save the outgoing handle's position before the queue is cleared.
	if prev != nil {
		if pos, err := f.client.Elapsed(); err == nil {
			prev.mu.Lock()
			prev.position = pos
			prev.mu.Unlock()
		}
	}

	h.mu.Lock()
	url := h.url
	resumeAt := h.position
	h.mu.Unlock()

	if err := f.client.Clear(); err != nil {
		return err
	}
	if err := f.client.Add(url); err != nil {
		return err
	}
	if err := f.client.Play(); err != nil {
		return err
	}
	if resumeAt > 0 {
		if err := f.client.SeekSeconds(resumeAt); err != nil {
			log.Debug().Err(err).Float64("pos", resumeAt).Msg("Resume seek failed")
		}
	}

	f.mu.Lock()
	f.active = h
	f.mu.Unlock()
	return nil
}

// Stop pauses playback and remembers the position.
func (h *handle) Stop() error {
	f := h.factory

	f.mu.Lock()
	isActive := f.active == h
	f.mu.Unlock()
	if !isActive {
		return nil
	}

	if pos, err := f.client.Elapsed(); err == nil {
		h.mu.Lock()
		h.position = pos
		h.mu.Unlock()
	}
	return f.client.Pause(true)
}

// SeekTo moves the position; applied immediately when this handle owns the
// daemon, otherwise remembered for the next Start.
func (h *handle) SeekTo(seconds float64) error {
	f := h.factory

	h.mu.Lock()
	h.position = seconds
	h.mu.Unlock()

	f.mu.Lock()
	isActive := f.active == h
	f.mu.Unlock()
	if !isActive {
		return nil
	}
	return f.client.SeekSeconds(seconds)
}

// Position reports the live daemon position when active, the remembered
// position otherwise.
func (h *handle) Position() (float64, error) {
	f := h.factory

	f.mu.Lock()
	isActive := f.active == h
	f.mu.Unlock()

	if isActive {
		pos, err := f.client.Elapsed()
		if err != nil {
			return 0, err
		}
		h.mu.Lock()
		h.position = pos
		h.mu.Unlock()
		return pos, nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	return h.position, nil
}

// Close releases the handle's claim on the daemon.
func (h *handle) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.mu.Unlock()

	f := h.factory
	f.mu.Lock()
	isActive := f.active == h
	if isActive {
		f.active = nil
	}
	f.mu.Unlock()

	if isActive {
		if err := f.client.Stop(); err != nil {
			return err
		}
		return f.client.Clear()
	}
	return nil
}
