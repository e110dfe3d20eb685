// Package main is the entry point for the Audiocrate playback coordinator.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/rmalloy/audiocrate/internal/config"
	"github.com/rmalloy/audiocrate/internal/domain/engage"
	"github.com/rmalloy/audiocrate/internal/domain/keydetect"
	"github.com/rmalloy/audiocrate/internal/domain/library"
	"github.com/rmalloy/audiocrate/internal/domain/playback"
	"github.com/rmalloy/audiocrate/internal/infra/analysis"
	"github.com/rmalloy/audiocrate/internal/infra/mpd"
	"github.com/rmalloy/audiocrate/internal/infra/objectstore"
	"github.com/rmalloy/audiocrate/internal/infra/segment"
	"github.com/rmalloy/audiocrate/internal/transport/socketio"
	"github.com/rmalloy/audiocrate/internal/version"
)

func main() {
	// Command line flags
	configPath := flag.String("config", "", "Path to TOML config file (optional)")
	port := flag.Int("port", 0, "HTTP server port (overrides config)")
	analysisURL := flag.String("analysis-url", "", "Key analysis service base URL (overrides config)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	// Setup logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if *analysisURL != "" {
		cfg.Analysis.URL = *analysisURL
	}
	if *debug {
		cfg.Debug = true
	}
	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	// Print startup banner
	versionInfo := version.GetInfo()
	log.Info().Msg("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	log.Info().Msgf("  %s", versionInfo.String())
	log.Info().Msg("  Playback & Live-Analysis Coordinator")
	log.Info().Msg("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	log.Info().
		Int("port", cfg.Port).
		Str("mpd_host", cfg.MPD.Host).
		Int("mpd_port", cfg.MPD.Port).
		Str("analysis_url", cfg.Analysis.URL).
		Str("objectstore", cfg.ObjectStore.Endpoint).
		Str("bucket", cfg.ObjectStore.Bucket).
		Msg("Configuration")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to the object store
	store, err := objectstore.NewMinioStore(ctx, objectstore.MinioConfig{
		Endpoint:  cfg.ObjectStore.Endpoint,
		AccessKey: cfg.ObjectStore.AccessKey,
		SecretKey: cfg.ObjectStore.SecretKey,
		Bucket:    cfg.ObjectStore.Bucket,
		Region:    cfg.ObjectStore.Region,
		UseSSL:    cfg.ObjectStore.UseSSL,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to object store")
	}

	// Connect to MPD
	mpdClient := mpd.NewClient(cfg.MPD.Host, cfg.MPD.Port, cfg.MPD.Password)
	if err := mpdClient.Connect(); err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to MPD")
	}
	defer mpdClient.Close()

	if err := mpdClient.Ping(); err != nil {
		log.Fatal().Err(err).Msg("MPD ping failed")
	}
	log.Info().Msg("MPD connection verified")

	// Create services
	factory := mpd.NewHandleFactory(mpdClient)
	go func() {
		if err := factory.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("MPD watcher stopped")
		}
	}()

	registry := playback.NewRegistry(factory.NewHandle)
	defer registry.Close()

	extractor := segment.NewExtractor()
	analyzer := analysis.NewClient(cfg.Analysis.URL, analysis.WithRateLimit(cfg.Analysis.RateLimit))

	poller := keydetect.NewPoller(registry, extractor, analyzer,
		keydetect.WithInterval(cfg.PollInterval()))
	defer poller.Close()
	registry.Subscribe(poller.HandleEvent)

	engageStore := engage.NewStore(store)
	libraryService := library.NewService(store)

	// Create Socket.io server
	socketServer, err := socketio.NewServer(registry, poller, engageStore, libraryService, socketio.Options{
		MaxExternalClients: cfg.Transport.MaxExternalClients,
		DebounceWindow:     cfg.Debounce(),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create Socket.io server")
	}
	defer socketServer.Close()

	// Live key results go out over the socket as they resolve.
	poller.SetPublishFunc(socketServer.BroadcastKey)

	// Setup HTTP server
	mux := http.NewServeMux()

	// Socket.io endpoint
	mux.Handle("/socket.io/", socketServer)

	// Health check
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := mpdClient.Ping(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"error","mpd":"disconnected"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","mpd":"connected"}`))
	})

	// Version endpoint
	mux.HandleFunc("/api/v1/version", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(version.GetInfo())
	})

	// Start HTTP server
	addr := ":" + strconv.Itoa(cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      corsMiddleware(mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		log.Info().Msg("Shutting down...")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server shutdown error")
		}
	}()

	log.Info().Str("addr", addr).Msg("HTTP server listening")
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("HTTP server error")
	}

	log.Info().Msg("Server stopped")
}
