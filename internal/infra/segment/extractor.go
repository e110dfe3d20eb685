// Package segment extracts fixed-length PCM windows from remote audio
// resources for live key analysis.
package segment

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/hajimehoshi/go-mp3"
	"github.com/rs/zerolog/log"
)

const (
	// WindowSeconds is the fixed analysis window length.
	WindowSeconds = 2

	// DefaultFetchTimeout bounds the full fetch+decode of one resource.
	DefaultFetchTimeout = 15 * time.Second
)

// Extractor fetches an audio resource in full, decodes it to PCM and slices
// a fixed two-second window starting at an arbitrary timestamp.
//
// The extractor is stateless and safe for concurrent use. Every call
// re-fetches and re-decodes the resource; there is no cross-call cache.
type Extractor struct {
	httpClient *http.Client
}

// Option is a functional option for configuring the extractor.
type Option func(*Extractor)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(e *Extractor) {
		e.httpClient = client
	}
}

// NewExtractor creates a segment extractor.
func NewExtractor(opts ...Option) *Extractor {
	e := &Extractor{
		httpClient: &http.Client{Timeout: DefaultFetchTimeout},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract returns up to WindowSeconds of mono samples starting at
// startSeconds, plus the native sample rate of the resource.
//
// A nil sample slice with a nil error means the start position is outside
// the decoded buffer; callers must skip analysis for that window. Fetch and
// decode failures are returned as errors and mean the same thing to callers.
func (e *Extractor) Extract(ctx context.Context, sourceURL string, startSeconds float64) ([]float64, int, error) {
	if startSeconds < 0 {
		return nil, 0, nil
	}

	samples, rate, err := e.decode(ctx, sourceURL)
	if err != nil {
		return nil, 0, err
	}

	window := Window(samples, rate, startSeconds)
	if window == nil {
		log.Debug().
			Str("url", sourceURL).
			Float64("start", startSeconds).
			Int("bufferLen", len(samples)).
			Msg("Extraction window outside buffer, skipping")
	}
	return window, rate, nil
}

// Window slices a fixed WindowSeconds window out of a decoded sample buffer.
// It returns nil when the start position is negative or at/past the buffer
// end; otherwise the window runs from floor(startSeconds*rate) for
// WindowSeconds*rate samples, clipped to the buffer end.
func Window(samples []float64, rate int, startSeconds float64) []float64 {
	startSample := int(math.Floor(startSeconds * float64(rate)))
	if startSample < 0 || startSample >= len(samples) {
		return nil
	}

	endSample := startSample + WindowSeconds*rate
	if endSample > len(samples) {
		endSample = len(samples)
	}
	return samples[startSample:endSample]
}

// decode fetches the resource and decodes the first audio channel to
// normalized float samples at the native sample rate.
func (e *Extractor) decode(ctx context.Context, sourceURL string) ([]float64, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("fetch audio: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, 0, fmt.Errorf("fetch audio: status %d", resp.StatusCode)
	}

	decoder, err := mp3.NewDecoder(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("decode audio: %w", err)
	}

	pcm, err := io.ReadAll(decoder)
	if err != nil {
		return nil, 0, fmt.Errorf("read pcm: %w", err)
	}

	// go-mp3 emits interleaved 16-bit little-endian stereo: 4 bytes per
	// frame. Channel selection, not down-mixing: take the left samples.
	frames := len(pcm) / 4
	samples := make([]float64, frames)
	for i := 0; i < frames; i++ {
		left := int16(pcm[i*4]) | int16(pcm[i*4+1])<<8
		samples[i] = float64(left) / 32768.0
	}
	return samples, decoder.SampleRate(), nil
}
