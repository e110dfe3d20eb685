// Package engage maintains per-track engagement counters (likes, downloads)
// against the remote object store.
package engage

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/rmalloy/audiocrate/internal/domain/track"
	"github.com/rmalloy/audiocrate/internal/infra/objectstore"
)

// DefaultMaxRetries bounds how often a conditional write is retried after
// losing a race to a concurrent writer.
const DefaultMaxRetries = 5

// Common errors
var (
	// ErrAlreadyLiked indicates the user already likes the track.
	ErrAlreadyLiked = errors.New("already liked")

	// ErrConflict indicates the conditional write kept losing races and
	// the retry budget ran out.
	ErrConflict = errors.New("engagement record conflict")
)

// Record is the remote JSON document holding a track's counters.
// Version increases by one on every successful write; together with the
// store's revision check it turns the read-modify-write into a
// compare-and-swap, so concurrent writers cannot silently lose updates.
type Record struct {
	Likes     int64    `json:"likes"`
	Downloads int64    `json:"downloads"`
	LikedBy   []string `json:"likedBy"`
	Version   int64    `json:"version"`
}

// likedBy reports whether userID is in the record's liked set.
func (r *Record) likedBy(userID string) bool {
	for _, id := range r.LikedBy {
		if id == userID {
			return true
		}
	}
	return false
}

// ObjectStore is the document store interface the engagement store needs.
type ObjectStore interface {
	GetJSON(ctx context.Context, key string, v any) (rev string, err error)
	PutJSONIf(ctx context.Context, key string, v any, rev string) error
}

// Store applies engagement mutations with a fetch, mutate, conditional
// write loop per operation.
type Store struct {
	objects    ObjectStore
	maxRetries int
}

// NewStore creates an engagement store on top of objects.
func NewStore(objects ObjectStore) *Store {
	return &Store{
		objects:    objects,
		maxRetries: DefaultMaxRetries,
	}
}

// Like records that userID likes the track. Liking a track twice returns
// ErrAlreadyLiked without writing. Failures are returned to the caller so
// the UI can refuse to advance its counter.
func (s *Store) Like(ctx context.Context, t track.Track, userID string) (Record, error) {
	return s.update(ctx, t, func(r *Record) error {
		if r.likedBy(userID) {
			return ErrAlreadyLiked
		}
		r.LikedBy = append(r.LikedBy, userID)
		r.Likes++
		return nil
	})
}

// Unlike removes userID's like. Unliking a track the user never liked is a
// no-op.
func (s *Store) Unlike(ctx context.Context, t track.Track, userID string) (Record, error) {
	return s.update(ctx, t, func(r *Record) error {
		for i, id := range r.LikedBy {
			if id == userID {
				r.LikedBy = append(r.LikedBy[:i], r.LikedBy[i+1:]...)
				if r.Likes > 0 {
					r.Likes--
				}
				return nil
			}
		}
		return errSkipWrite
	})
}

// RecordDownload increments the track's download counter. It goes through
// the same conditional-write path as likes so concurrent downloads are not
// lost, but exact accuracy is not load-bearing for this metric: callers are
// expected to log failures rather than surface them.
func (s *Store) RecordDownload(ctx context.Context, t track.Track) (Record, error) {
	return s.update(ctx, t, func(r *Record) error {
		r.Downloads++
		return nil
	})
}

// Get fetches the current engagement record, zero-valued if none exists.
func (s *Store) Get(ctx context.Context, t track.Track) (Record, error) {
	var rec Record
	_, err := s.objects.GetJSON(ctx, t.StatsKey(), &rec)
	if errors.Is(err, objectstore.ErrNotFound) {
		return Record{}, nil
	}
	if err != nil {
		return Record{}, fmt.Errorf("fetch engagement record: %w", err)
	}
	return rec, nil
}

// errSkipWrite aborts an update without writing and without error.
var errSkipWrite = errors.New("skip write")

// update runs the fetch-mutate-store loop. On a revision mismatch the
// record is re-fetched and the mutation re-applied, up to maxRetries times.
func (s *Store) update(ctx context.Context, t track.Track, mutate func(*Record) error) (Record, error) {
	key := t.StatsKey()

	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		var rec Record
		rev, err := s.objects.GetJSON(ctx, key, &rec)
		switch {
		case errors.Is(err, objectstore.ErrNotFound):
			rec = Record{}
			rev = "" // create-only write below
		case err != nil:
			return Record{}, fmt.Errorf("fetch engagement record: %w", err)
		}

		if err := mutate(&rec); err != nil {
			if errors.Is(err, errSkipWrite) {
				return rec, nil
			}
			return rec, err
		}
		rec.Version++

		err = s.objects.PutJSONIf(ctx, key, &rec, rev)
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, objectstore.ErrRevisionMismatch) {
			return Record{}, fmt.Errorf("write engagement record: %w", err)
		}

		log.Debug().
			Str("key", key).
			Int("attempt", attempt+1).
			Msg("Engagement write lost a race, retrying")
	}

	return Record{}, fmt.Errorf("%w: %s", ErrConflict, key)
}
