// Package analysis provides the client for the remote musical key analysis
// service.
package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const (
	// DefaultTimeout for analysis HTTP requests.
	DefaultTimeout = 30 * time.Second

	// DefaultRateLimit is the default request rate against the endpoint,
	// in requests per second.
	DefaultRateLimit = 4
)

// ErrUnavailable indicates the analysis endpoint could not be reached or
// answered with a non-2xx status. Callers recover locally: the previously
// displayed result stays in place.
var ErrUnavailable = errors.New("analysis endpoint unavailable")

// Client calls the POST /analyze_segment endpoint.
// The endpoint is treated as untrusted: missing response fields are
// defaulted rather than rejected.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// Option is a functional option for configuring the client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithRateLimit sets the request rate in requests per second.
func WithRateLimit(rps float64) Option {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
}

// NewClient creates an analysis client for the given base URL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		limiter:    rate.NewLimiter(rate.Limit(DefaultRateLimit), 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// analyzeRequest is the wire format of the analysis request body.
type analyzeRequest struct {
	Segment []float64 `json:"segment"`
	SR      int       `json:"sr"`
}

// analyzeResponse is the wire format of the analysis response body.
// Pointer fields distinguish "absent" from zero values.
type analyzeResponse struct {
	Key        *string  `json:"key"`
	Confidence *float64 `json:"confidence"`
}

// Analyze posts a PCM segment and returns the detected key and a confidence
// in [0,100]. A missing key defaults to "N/A", a missing confidence to 0.
func (c *Client) Analyze(ctx context.Context, samples []float64, sampleRate int) (string, float64, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", 0, fmt.Errorf("rate limiter: %w", err)
	}

	reqID := uuid.NewString()
	body, err := json.Marshal(analyzeRequest{Segment: samples, SR: sampleRate})
	if err != nil {
		return "", 0, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/analyze_segment", bytes.NewReader(body))
	if err != nil {
		return "", 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	log.Debug().
		Str("reqId", reqID).
		Int("samples", len(samples)).
		Int("sr", sampleRate).
		Msg("Posting segment for key analysis")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.Warn().
			Str("reqId", reqID).
			Int("status", resp.StatusCode).
			Msg("Analysis endpoint returned error status")
		return "", 0, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", 0, fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}

	var parsed analyzeResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", 0, fmt.Errorf("parse response: %w", err)
	}

	key := "N/A"
	if parsed.Key != nil && *parsed.Key != "" {
		key = *parsed.Key
	}
	confidence := 0.0
	if parsed.Confidence != nil {
		confidence = *parsed.Confidence
	}

	log.Debug().
		Str("reqId", reqID).
		Str("key", key).
		Float64("confidence", confidence).
		Msg("Key analysis result")

	return key, confidence, nil
}
