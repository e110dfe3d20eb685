package library

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rmalloy/audiocrate/internal/domain/track"
	"github.com/rmalloy/audiocrate/internal/infra/objectstore"
)

// Service provides catalog operations over the object store.
type Service struct {
	objects ObjectStore
	now     func() time.Time
}

// NewService creates a library service on top of objects.
func NewService(objects ObjectStore) *Service {
	return &Service{
		objects: objects,
		now:     time.Now,
	}
}

// IsDuplicate reports whether any of the owner's stored metadata records
// carries the candidate fingerprint.
//
// This is a linear scan with one round-trip per existing record; acceptable
// because per-user catalogs are small. It stops at the first match and
// returns false on an empty listing.
func (s *Service) IsDuplicate(ctx context.Context, candidate, ownerUID string) (bool, error) {
	keys, err := s.objects.List(ctx, track.MetadataPrefix(ownerUID))
	if err != nil {
		return false, fmt.Errorf("list metadata: %w", err)
	}

	want := NormalizeFingerprint(candidate)
	for _, key := range keys {
		var meta Metadata
		if _, err := s.objects.GetJSON(ctx, key, &meta); err != nil {
			// A single unreadable record must not block publishing the
			// rest of the scan.
			log.Warn().Err(err).Str("key", key).Msg("Skipping unreadable metadata record")
			continue
		}
		if NormalizeFingerprint(meta.Fingerprint) == want {
			log.Debug().Str("key", key).Str("owner", ownerUID).Msg("Fingerprint match found")
			return true, nil
		}
	}
	return false, nil
}

// Publish writes a track's metadata record after the duplicate scan.
// A matching fingerprint anywhere in the owner's catalog blocks the publish
// with ErrDuplicateFingerprint.
func (s *Service) Publish(ctx context.Context, t track.Track, fingerprint string) error {
	dup, err := s.IsDuplicate(ctx, fingerprint, t.OwnerUID)
	if err != nil {
		return err
	}
	if dup {
		return fmt.Errorf("%w: %s", ErrDuplicateFingerprint, t.ID())
	}

	meta := Metadata{
		OwnerUID:    t.OwnerUID,
		Name:        t.Name,
		URL:         t.URL,
		Duration:    t.Duration,
		BPM:         t.BPM,
		Key:         t.Key,
		Genre:       t.Genre,
		Instrument:  t.Instrument,
		Fingerprint: fingerprint,
		PublishedAt: s.now().UTC(),
	}

	// Create-only write: tracks are immutable once published.
	err = s.objects.PutJSONIf(ctx, t.MetadataKey(), &meta, "")
	if errors.Is(err, objectstore.ErrRevisionMismatch) {
		return fmt.Errorf("%w: %s", ErrAlreadyPublished, t.ID())
	}
	if err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}

	log.Info().Str("track", t.ID()).Msg("Track published")
	return nil
}

// Get fetches one metadata record by owner and name.
func (s *Service) Get(ctx context.Context, ownerUID, name string) (Metadata, error) {
	var meta Metadata
	key := track.Track{OwnerUID: ownerUID, Name: name}.MetadataKey()
	if _, err := s.objects.GetJSON(ctx, key, &meta); err != nil {
		return Metadata{}, fmt.Errorf("fetch metadata: %w", err)
	}
	return meta, nil
}

// ListTracks returns every track the owner has published.
func (s *Service) ListTracks(ctx context.Context, ownerUID string) ([]Metadata, error) {
	keys, err := s.objects.List(ctx, track.MetadataPrefix(ownerUID))
	if err != nil {
		return nil, fmt.Errorf("list metadata: %w", err)
	}

	tracks := make([]Metadata, 0, len(keys))
	for _, key := range keys {
		var meta Metadata
		if _, err := s.objects.GetJSON(ctx, key, &meta); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("Skipping unreadable metadata record")
			continue
		}
		tracks = append(tracks, meta)
	}
	return tracks, nil
}
