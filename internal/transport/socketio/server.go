// Package socketio provides the Socket.io server for client communication.
package socketio

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/zishang520/socket.io/servers/socket/v3"
	"github.com/zishang520/socket.io/v3/pkg/types"

	"github.com/rmalloy/audiocrate/internal/domain/engage"
	"github.com/rmalloy/audiocrate/internal/domain/keydetect"
	"github.com/rmalloy/audiocrate/internal/domain/library"
	"github.com/rmalloy/audiocrate/internal/domain/playback"
	"github.com/rmalloy/audiocrate/internal/domain/track"
)

// Server handles Socket.io connections and events.
type Server struct {
	io        *socket.Server
	registry  *playback.Registry
	poller    *keydetect.Poller
	engage    *engage.Store
	library   *library.Service
	limiter   *ConnectionLimiter
	debouncer *StateDebouncer

	mu      sync.RWMutex
	clients map[string]*socket.Socket
}

// Options configures the Socket.io server.
type Options struct {
	MaxExternalClients int
	DebounceWindow     time.Duration
}

// NewServer creates a new Socket.io server.
func NewServer(registry *playback.Registry, poller *keydetect.Poller, engageStore *engage.Store, libraryService *library.Service, opts Options) (*Server, error) {
	serverOpts := socket.DefaultServerOptions()
	serverOpts.SetPingTimeout(20 * time.Second)
	serverOpts.SetPingInterval(25 * time.Second)
	serverOpts.SetCors(&types.Cors{
		Origin:      "*",
		Credentials: true,
	})

	s := &Server{
		io:       socket.NewServer(nil, serverOpts),
		registry: registry,
		poller:   poller,
		engage:   engageStore,
		library:  libraryService,
		limiter:  NewConnectionLimiter(opts.MaxExternalClients),
		clients:  make(map[string]*socket.Socket),
	}
	s.debouncer = NewStateDebouncer(opts.DebounceWindow, s.BroadcastState)

	s.setupHandlers()

	// Playback transitions reach clients through the debouncer; key
	// results are pushed immediately, last resolved wins.
	registry.Subscribe(func(playback.Event) { s.debouncer.Trigger() })

	return s, nil
}

// setupHandlers registers all Socket.io event handlers.
func (s *Server) setupHandlers() {
	s.io.On("connection", func(clients ...any) {
		client := clients[0].(*socket.Socket)
		clientID := string(client.Id())
		remoteIP := remoteIP(client)

		allowed, evictedID := s.limiter.TryAdd(clientID, remoteIP)
		if !allowed {
			log.Warn().Str("id", clientID).Str("ip", remoteIP).Msg("Connection refused")
			client.Disconnect(true)
			return
		}
		if evictedID != "" {
			s.mu.RLock()
			evicted := s.clients[evictedID]
			s.mu.RUnlock()
			if evicted != nil {
				log.Info().Str("id", evictedID).Msg("Evicting oldest external client")
				evicted.Disconnect(true)
			}
		}

		log.Info().Str("id", clientID).Str("ip", remoteIP).Int("connections", s.limiter.Count()).Msg("Client connected")

		s.mu.Lock()
		s.clients[clientID] = client
		s.mu.Unlock()

		// Send initial state after small delay
		go func() {
			time.Sleep(100 * time.Millisecond)
			s.pushState(client)
		}()

		client.On("disconnect", func(args ...any) {
			log.Info().Str("id", clientID).Msg("Client disconnected")

			s.limiter.Remove(clientID)
			s.mu.Lock()
			delete(s.clients, clientID)
			s.mu.Unlock()
		})

		client.On("getState", func(args ...any) {
			s.pushState(client)
		})

		// Playback events
		client.On("mount", func(args ...any) {
			payload, ok := payloadOf(args)
			if !ok {
				return
			}
			index := intField(payload, "index", -1)
			t := trackFromPayload(payload)
			log.Debug().Str("id", clientID).Int("index", index).Str("track", t.ID()).Msg("mount")

			if err := s.registry.Ensure(context.Background(), index, t); err != nil {
				log.Error().Err(err).Int("index", index).Msg("Mount failed")
				client.Emit("pushTrackError", map[string]interface{}{
					"index":   index,
					"message": "player unavailable for this track",
				})
			}
		})

		client.On("unmount", func(args ...any) {
			payload, ok := payloadOf(args)
			if !ok {
				return
			}
			index := intField(payload, "index", -1)
			log.Debug().Str("id", clientID).Int("index", index).Msg("unmount")
			s.registry.Remove(index)
		})

		client.On("toggle", func(args ...any) {
			payload, ok := payloadOf(args)
			if !ok {
				return
			}
			index := intField(payload, "index", -1)
			log.Debug().Str("id", clientID).Int("index", index).Msg("toggle")

			if err := s.registry.Toggle(index); err != nil {
				log.Error().Err(err).Int("index", index).Msg("Toggle failed")
				client.Emit("pushTrackError", map[string]interface{}{
					"index":   index,
					"message": "playback failed",
				})
			}
		})

		client.On("seek", func(args ...any) {
			payload, ok := payloadOf(args)
			if !ok {
				return
			}
			index := intField(payload, "index", -1)
			ratio := floatField(payload, "ratio", 0)
			log.Debug().Str("id", clientID).Int("index", index).Float64("ratio", ratio).Msg("seek")

			if err := s.registry.Seek(index, ratio); err != nil {
				log.Error().Err(err).Int("index", index).Msg("Seek failed")
			}
		})

		client.On("getKey", func(args ...any) {
			payload, ok := payloadOf(args)
			if !ok {
				return
			}
			index := intField(payload, "index", -1)
			if result, ok := s.poller.Latest(index); ok {
				client.Emit("pushKey", keyPayload(index, result))
			}
		})

		// Engagement events
		client.On("like", func(args ...any) {
			payload, ok := payloadOf(args)
			if !ok {
				return
			}
			t := trackFromPayload(payload)
			userID := stringField(payload, "userId")
			log.Debug().Str("id", clientID).Str("track", t.ID()).Msg("like")

			rec, err := s.engage.Like(context.Background(), t, userID)
			if err != nil {
				// Like failures are visible to the user: the counter
				// must not advance client-side.
				message := "like failed"
				if errors.Is(err, engage.ErrAlreadyLiked) {
					message = "already liked"
				} else {
					log.Error().Err(err).Str("track", t.ID()).Msg("Like failed")
				}
				client.Emit("likeError", map[string]interface{}{
					"owner":   t.OwnerUID,
					"name":    t.Name,
					"message": message,
				})
				return
			}
			s.broadcastStats(t, rec)
		})

		client.On("unlike", func(args ...any) {
			payload, ok := payloadOf(args)
			if !ok {
				return
			}
			t := trackFromPayload(payload)
			userID := stringField(payload, "userId")
			log.Debug().Str("id", clientID).Str("track", t.ID()).Msg("unlike")

			rec, err := s.engage.Unlike(context.Background(), t, userID)
			if err != nil {
				log.Error().Err(err).Str("track", t.ID()).Msg("Unlike failed")
				client.Emit("likeError", map[string]interface{}{
					"owner":   t.OwnerUID,
					"name":    t.Name,
					"message": "unlike failed",
				})
				return
			}
			s.broadcastStats(t, rec)
		})

		client.On("download", func(args ...any) {
			payload, ok := payloadOf(args)
			if !ok {
				return
			}
			t := trackFromPayload(payload)
			log.Debug().Str("id", clientID).Str("track", t.ID()).Msg("download")

			// Download counting failures are logged, not surfaced; the
			// download itself proceeds regardless.
			rec, err := s.engage.RecordDownload(context.Background(), t)
			if err != nil {
				log.Error().Err(err).Str("track", t.ID()).Msg("Download count not recorded")
				return
			}
			s.broadcastStats(t, rec)
		})

		// Publish flow
		client.On("publish", func(args ...any) {
			payload, ok := payloadOf(args)
			if !ok {
				return
			}
			t := trackFromPayload(payload)
			fingerprint := stringField(payload, "fingerprint")
			log.Debug().Str("id", clientID).Str("track", t.ID()).Msg("publish")

			err := s.library.Publish(context.Background(), t, fingerprint)
			switch {
			case errors.Is(err, library.ErrDuplicateFingerprint):
				client.Emit("publishBlocked", map[string]interface{}{
					"owner":  t.OwnerUID,
					"name":   t.Name,
					"reason": "duplicate",
				})
			case err != nil:
				log.Error().Err(err).Str("track", t.ID()).Msg("Publish failed")
				client.Emit("publishError", map[string]interface{}{
					"owner": t.OwnerUID,
					"name":  t.Name,
				})
			default:
				client.Emit("publishOk", map[string]interface{}{
					"owner": t.OwnerUID,
					"name":  t.Name,
				})
			}
		})
	})
}

// pushState sends the playback state snapshot to one client.
func (s *Server) pushState(client *socket.Socket) {
	client.Emit("pushState", s.statePayload())
}

// BroadcastState sends the playback state snapshot to all clients.
func (s *Server) BroadcastState() {
	s.io.Emit("pushState", s.statePayload())
}

// BroadcastKey pushes a key detection result to all clients. Wire it to the
// poller's publish hook.
func (s *Server) BroadcastKey(index int, result keydetect.Result) {
	s.io.Emit("pushKey", keyPayload(index, result))
}

// broadcastStats pushes updated engagement counters to all clients.
func (s *Server) broadcastStats(t track.Track, rec engage.Record) {
	s.io.Emit("pushStats", map[string]interface{}{
		"owner":     t.OwnerUID,
		"name":      t.Name,
		"likes":     rec.Likes,
		"downloads": rec.Downloads,
	})
}

// statePayload builds the pushState body: per-index session states plus the
// active set (cardinality 0 or 1 by registry invariant).
func (s *Server) statePayload() map[string]interface{} {
	states := s.registry.States()
	sessions := make(map[int]string, len(states))
	for index, state := range states {
		sessions[index] = string(state)
	}
	return map[string]interface{}{
		"active":   s.registry.Active(),
		"sessions": sessions,
	}
}

// keyPayload builds the pushKey body.
func keyPayload(index int, result keydetect.Result) map[string]interface{} {
	return map[string]interface{}{
		"index":      index,
		"key":        result.Key,
		"confidence": result.Confidence,
	}
}

// ServeHTTP implements http.Handler for the Socket.io server.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.io.ServeHandler(nil).ServeHTTP(w, r)
}

// Close closes the Socket.io server.
func (s *Server) Close() error {
	s.debouncer.Stop()
	s.io.Close(nil)
	return nil
}

// remoteIP extracts the client's IP from the handshake address.
func remoteIP(client *socket.Socket) string {
	addr := client.Handshake().Address
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

// payloadOf extracts the map payload of a Socket.io event, if present.
func payloadOf(args []any) (map[string]interface{}, bool) {
	if len(args) == 0 {
		return nil, false
	}
	m, ok := args[0].(map[string]interface{})
	return m, ok
}

// trackFromPayload builds a track from a client payload.
func trackFromPayload(m map[string]interface{}) track.Track {
	return track.Track{
		OwnerUID:   stringField(m, "owner"),
		Name:       stringField(m, "name"),
		URL:        stringField(m, "url"),
		Duration:   floatField(m, "duration", 0),
		BPM:        floatField(m, "bpm", 0),
		Key:        stringField(m, "key"),
		Genre:      stringField(m, "genre"),
		Instrument: stringField(m, "instrument"),
	}
}

func stringField(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func intField(m map[string]interface{}, key string, fallback int) int {
	if v, ok := m[key].(float64); ok {
		return int(v)
	}
	return fallback
}

func floatField(m map[string]interface{}, key string, fallback float64) float64 {
	if v, ok := m[key].(float64); ok {
		return v
	}
	return fallback
}
