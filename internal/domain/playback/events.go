package playback

// Event kinds emitted by session transitions.
const (
	// EventStarted fires when a session enters the playing state.
	EventStarted = "started"

	// EventStopped fires when a playing session pauses or finishes.
	EventStopped = "stopped"

	// EventSought fires on every seek, regardless of play state.
	EventSought = "sought"
)

// Event is a playback transition notification. All transitions flow through
// the registry's single dispatch point; the key poller and the push
// transport subscribe there instead of wiring callbacks onto individual
// sessions.
type Event struct {
	Index   int     // Stable track index of the session
	Kind    string  // One of the Event* constants
	URL     string  // Audio URL of the session's track
	Seconds float64 // Absolute position for EventSought, otherwise 0
}
