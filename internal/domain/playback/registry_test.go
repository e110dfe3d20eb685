package playback

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rmalloy/audiocrate/internal/domain/track"
)

// fakeHandle is an in-memory Handle for registry tests.
type fakeHandle struct {
	mu         sync.Mutex
	loadErr    error
	startErr   error
	duration   float64
	pos        float64
	starts     int
	stops      int
	closes     int
	onFinished func()
}

func (h *fakeHandle) Load(_ context.Context, _ string, onFinished func()) (float64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.loadErr != nil {
		return 0, h.loadErr
	}
	h.onFinished = onFinished
	return h.duration, nil
}

func (h *fakeHandle) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.startErr != nil {
		return h.startErr
	}
	h.starts++
	return nil
}

func (h *fakeHandle) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stops++
	return nil
}

func (h *fakeHandle) SeekTo(seconds float64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pos = seconds
	return nil
}

func (h *fakeHandle) Position() (float64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pos, nil
}

func (h *fakeHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closes++
	return nil
}

func testTrack(name string) track.Track {
	return track.Track{
		OwnerUID: "user1",
		Name:     name,
		URL:      "https://cdn.example.com/" + name + ".mp3",
		Duration: 30,
	}
}

// registryWithHandles builds a registry whose factory hands out the given
// handles in order.
func registryWithHandles(t *testing.T, handles ...*fakeHandle) *Registry {
	t.Helper()
	var mu sync.Mutex
	next := 0
	return NewRegistry(func() Handle {
		mu.Lock()
		defer mu.Unlock()
		if next >= len(handles) {
			t.Fatalf("factory called %d times, only %d handles prepared", next+1, len(handles))
		}
		h := handles[next]
		next++
		return h
	})
}

func TestEnsure_CreatesSessionOnce(t *testing.T) {
	h := &fakeHandle{duration: 12}
	r := registryWithHandles(t, h)

	if err := r.Ensure(context.Background(), 0, testTrack("kick")); err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}
	if !r.Exists(0) {
		t.Fatal("Exists(0) = false after Ensure")
	}

	// Second Ensure for the same index must not allocate another handle.
	if err := r.Ensure(context.Background(), 0, testTrack("kick")); err != nil {
		t.Fatalf("second Ensure() error = %v", err)
	}
}

func TestEnsure_LoadFailureIsIsolated(t *testing.T) {
	bad := &fakeHandle{loadErr: errors.New("codec not supported")}
	good := &fakeHandle{duration: 10}
	r := registryWithHandles(t, bad, good)

	err := r.Ensure(context.Background(), 0, testTrack("broken"))
	if !errors.Is(err, ErrPlaybackInit) {
		t.Fatalf("Ensure() error = %v, want ErrPlaybackInit", err)
	}
	if r.Exists(0) {
		t.Fatal("failed Ensure must not leave a session behind")
	}
	if bad.closes != 1 {
		t.Errorf("failed handle closes = %d, want 1", bad.closes)
	}

	// Other indices are unaffected.
	if err := r.Ensure(context.Background(), 1, testTrack("snare")); err != nil {
		t.Fatalf("Ensure(1) after failure error = %v", err)
	}
	if err := r.Toggle(1); err != nil {
		t.Fatalf("Toggle(1) error = %v", err)
	}
}

func TestToggle_AtMostOnePlaying(t *testing.T) {
	handles := []*fakeHandle{{duration: 10}, {duration: 10}, {duration: 10}}
	r := registryWithHandles(t, handles...)
	for i := range handles {
		if err := r.Ensure(context.Background(), i, testTrack(string(rune('a'+i)))); err != nil {
			t.Fatalf("Ensure(%d) error = %v", i, err)
		}
	}

	if err := r.Toggle(0); err != nil {
		t.Fatalf("Toggle(0) error = %v", err)
	}
	if err := r.Toggle(1); err != nil {
		t.Fatalf("Toggle(1) error = %v", err)
	}
	if err := r.Toggle(2); err != nil {
		t.Fatalf("Toggle(2) error = %v", err)
	}

	active := r.Active()
	if len(active) != 1 || active[0] != 2 {
		t.Fatalf("Active() = %v, want [2]", active)
	}
	if handles[0].stops != 1 || handles[1].stops != 1 {
		t.Errorf("displaced handles stops = %d, %d, want 1, 1", handles[0].stops, handles[1].stops)
	}
}

func TestToggle_PlayingPausesItself(t *testing.T) {
	h := &fakeHandle{duration: 10}
	r := registryWithHandles(t, h)
	if err := r.Ensure(context.Background(), 0, testTrack("loop")); err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}

	if err := r.Toggle(0); err != nil {
		t.Fatalf("first Toggle() error = %v", err)
	}
	if err := r.Toggle(0); err != nil {
		t.Fatalf("second Toggle() error = %v", err)
	}

	if got := r.Active(); len(got) != 0 {
		t.Fatalf("Active() = %v, want empty", got)
	}
	if r.IsPlaying(0) {
		t.Error("IsPlaying(0) = true after pause")
	}
}

func TestToggle_UnknownIndex(t *testing.T) {
	r := registryWithHandles(t)
	if err := r.Toggle(7); !errors.Is(err, ErrNoSession) {
		t.Fatalf("Toggle(7) error = %v, want ErrNoSession", err)
	}
}

func TestToggle_EmitsEventsInTransitionOrder(t *testing.T) {
	handles := []*fakeHandle{{duration: 10}, {duration: 10}}
	r := registryWithHandles(t, handles...)

	var mu sync.Mutex
	var events []Event
	r.Subscribe(func(ev Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})

	for i := range handles {
		if err := r.Ensure(context.Background(), i, testTrack(string(rune('a'+i)))); err != nil {
			t.Fatalf("Ensure(%d) error = %v", i, err)
		}
	}
	if err := r.Toggle(0); err != nil {
		t.Fatalf("Toggle(0) error = %v", err)
	}
	if err := r.Toggle(1); err != nil {
		t.Fatalf("Toggle(1) error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []struct {
		index int
		kind  string
	}{
		{0, EventStarted},
		{0, EventStopped},
		{1, EventStarted},
	}
	if len(events) != len(want) {
		t.Fatalf("got %d events, want %d: %v", len(events), len(want), events)
	}
	for i, w := range want {
		if events[i].Index != w.index || events[i].Kind != w.kind {
			t.Errorf("event[%d] = {%d %s}, want {%d %s}", i, events[i].Index, events[i].Kind, w.index, w.kind)
		}
	}
}

func TestSeek_ClampsRatioAndEmitsSought(t *testing.T) {
	h := &fakeHandle{duration: 20}
	r := registryWithHandles(t, h)
	if err := r.Ensure(context.Background(), 0, testTrack("pad")); err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}

	var mu sync.Mutex
	var events []Event
	r.Subscribe(func(ev Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})

	if err := r.Seek(0, 0.5); err != nil {
		t.Fatalf("Seek() error = %v", err)
	}
	if h.pos != 10 {
		t.Errorf("handle position = %v, want 10", h.pos)
	}

	// Out-of-range ratios clamp instead of failing.
	if err := r.Seek(0, 1.5); err != nil {
		t.Fatalf("Seek(1.5) error = %v", err)
	}
	if h.pos != 20 {
		t.Errorf("handle position = %v after clamped seek, want 20", h.pos)
	}
	if err := r.Seek(0, -0.1); err != nil {
		t.Fatalf("Seek(-0.1) error = %v", err)
	}
	if h.pos != 0 {
		t.Errorf("handle position = %v after negative seek, want 0", h.pos)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	for _, ev := range events {
		if ev.Kind != EventSought {
			t.Errorf("event kind = %s, want %s", ev.Kind, EventSought)
		}
	}
	if events[0].Seconds != 10 {
		t.Errorf("sought seconds = %v, want 10", events[0].Seconds)
	}
}

func TestFinished_ResetsAndReplaysFromStart(t *testing.T) {
	h := &fakeHandle{duration: 5}
	r := registryWithHandles(t, h)
	if err := r.Ensure(context.Background(), 0, testTrack("oneshot")); err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}
	if err := r.Toggle(0); err != nil {
		t.Fatalf("Toggle() error = %v", err)
	}
	h.mu.Lock()
	h.pos = 5
	onFinished := h.onFinished
	h.mu.Unlock()

	// Natural end of media.
	onFinished()

	if r.IsPlaying(0) {
		t.Fatal("IsPlaying(0) = true after natural end")
	}
	pos, err := r.Position(0)
	if err != nil {
		t.Fatalf("Position() error = %v", err)
	}
	if pos != 0 {
		t.Errorf("position after finish = %v, want 0", pos)
	}

	// Toggling a finished session replays from the top.
	if err := r.Toggle(0); err != nil {
		t.Fatalf("Toggle() after finish error = %v", err)
	}
	if h.pos != 0 {
		t.Errorf("handle position on replay = %v, want 0", h.pos)
	}
	if !r.IsPlaying(0) {
		t.Error("IsPlaying(0) = false after replay")
	}
}

func TestRemove_DestroysOnce(t *testing.T) {
	h := &fakeHandle{duration: 5}
	r := registryWithHandles(t, h)
	if err := r.Ensure(context.Background(), 0, testTrack("hat")); err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}

	r.Remove(0)
	r.Remove(0) // unknown index now, must be a no-op

	if h.closes != 1 {
		t.Errorf("handle closes = %d, want 1", h.closes)
	}
	if r.Exists(0) {
		t.Error("Exists(0) = true after Remove")
	}
}

func TestClose_DestroysAllSessions(t *testing.T) {
	handles := []*fakeHandle{{duration: 5}, {duration: 5}}
	r := registryWithHandles(t, handles...)
	for i := range handles {
		if err := r.Ensure(context.Background(), i, testTrack(string(rune('a'+i)))); err != nil {
			t.Fatalf("Ensure(%d) error = %v", i, err)
		}
	}

	r.Close()

	for i, h := range handles {
		if h.closes != 1 {
			t.Errorf("handle %d closes = %d, want 1", i, h.closes)
		}
	}
	if err := r.Ensure(context.Background(), 5, testTrack("late")); err == nil {
		t.Error("Ensure() after Close should fail")
	}
}

func TestEnsure_FallsBackToTrackDuration(t *testing.T) {
	// Handles that cannot report duration (streaming daemons) return 0; the
	// catalog duration is used for seek math instead.
	h := &fakeHandle{duration: 0}
	r := registryWithHandles(t, h)
	tr := testTrack("stream")
	tr.Duration = 40
	if err := r.Ensure(context.Background(), 0, tr); err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}
	if err := r.Seek(0, 0.25); err != nil {
		t.Fatalf("Seek() error = %v", err)
	}
	if h.pos != 10 {
		t.Errorf("handle position = %v, want 10 (0.25 of 40s)", h.pos)
	}
}
