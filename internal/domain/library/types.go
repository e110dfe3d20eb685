// Package library manages the per-owner track catalog stored in the object
// store, including fingerprint deduplication at publish time.
package library

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Common errors
var (
	// ErrDuplicateFingerprint signals that publishing would store content
	// the owner already has. It is a publish-flow signal, not a failure.
	ErrDuplicateFingerprint = errors.New("duplicate fingerprint")

	// ErrAlreadyPublished indicates a metadata record already exists under
	// the track's name.
	ErrAlreadyPublished = errors.New("track already published")
)

// Metadata is a track's stored catalog record, written once at publish.
type Metadata struct {
	OwnerUID    string    `json:"ownerUid"`
	Name        string    `json:"name"`
	URL         string    `json:"url"`
	Duration    float64   `json:"duration"`
	BPM         float64   `json:"bpm"`
	Key         string    `json:"key"`
	Genre       string    `json:"genre"`
	Instrument  string    `json:"instrument"`
	Fingerprint string    `json:"fingerprint"`
	PublishedAt time.Time `json:"publishedAt"`
}

// ObjectStore is the document store interface the library needs.
type ObjectStore interface {
	GetJSON(ctx context.Context, key string, v any) (rev string, err error)
	PutJSONIf(ctx context.Context, key string, v any, rev string) error
	List(ctx context.Context, prefix string) ([]string, error)
}

// NormalizeFingerprint canonicalizes a content fingerprint for comparison:
// trim surrounding whitespace, strip one layer of surrounding quotes, and
// case-fold. Fingerprints are compared by exact value after normalization.
func NormalizeFingerprint(fp string) string {
	fp = strings.TrimSpace(fp)
	if len(fp) >= 2 {
		first, last := fp[0], fp[len(fp)-1]
		if first == last && (first == '"' || first == '\'') {
			fp = fp[1 : len(fp)-1]
		}
	}
	return strings.ToLower(strings.TrimSpace(fp))
}
