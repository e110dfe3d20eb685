package engage

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rmalloy/audiocrate/internal/domain/track"
	"github.com/rmalloy/audiocrate/internal/infra/objectstore"
)

func statsTrack() track.Track {
	return track.Track{OwnerUID: "uid1", Name: "bassline.mp3"}
}

func TestLike_CreatesRecord(t *testing.T) {
	store := NewStore(objectstore.NewMemoryStore())

	rec, err := store.Like(context.Background(), statsTrack(), "alice")
	if err != nil {
		t.Fatalf("Like() error = %v", err)
	}
	if rec.Likes != 1 {
		t.Errorf("Likes = %d, want 1", rec.Likes)
	}
	if rec.Version != 1 {
		t.Errorf("Version = %d, want 1", rec.Version)
	}
	if len(rec.LikedBy) != 1 || rec.LikedBy[0] != "alice" {
		t.Errorf("LikedBy = %v, want [alice]", rec.LikedBy)
	}
}

func TestLike_TwiceIsRejected(t *testing.T) {
	store := NewStore(objectstore.NewMemoryStore())
	tr := statsTrack()

	if _, err := store.Like(context.Background(), tr, "alice"); err != nil {
		t.Fatalf("first Like() error = %v", err)
	}
	if _, err := store.Like(context.Background(), tr, "alice"); !errors.Is(err, ErrAlreadyLiked) {
		t.Fatalf("second Like() error = %v, want ErrAlreadyLiked", err)
	}

	rec, err := store.Get(context.Background(), tr)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if rec.Likes != 1 {
		t.Errorf("Likes = %d after duplicate like, want 1", rec.Likes)
	}
}

func TestLike_ConcurrentUsersBothLand(t *testing.T) {
	// Two different users like the same track at the same time; the
	// conditional write plus retry must make both land.
	store := NewStore(objectstore.NewMemoryStore())
	tr := statsTrack()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	users := []string{"alice", "bob"}
	for i, user := range users {
		wg.Add(1)
		go func(i int, user string) {
			defer wg.Done()
			_, errs[i] = store.Like(context.Background(), tr, user)
		}(i, user)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("Like(%s) error = %v", users[i], err)
		}
	}

	rec, err := store.Get(context.Background(), tr)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if rec.Likes != 2 {
		t.Errorf("Likes = %d, want 2 (no lost update)", rec.Likes)
	}
	if len(rec.LikedBy) != 2 {
		t.Errorf("LikedBy = %v, want both users", rec.LikedBy)
	}
}

func TestUnlike_RemovesOnlyOwnLike(t *testing.T) {
	store := NewStore(objectstore.NewMemoryStore())
	tr := statsTrack()
	ctx := context.Background()

	if _, err := store.Like(ctx, tr, "alice"); err != nil {
		t.Fatalf("Like(alice) error = %v", err)
	}
	if _, err := store.Like(ctx, tr, "bob"); err != nil {
		t.Fatalf("Like(bob) error = %v", err)
	}

	rec, err := store.Unlike(ctx, tr, "alice")
	if err != nil {
		t.Fatalf("Unlike() error = %v", err)
	}
	if rec.Likes != 1 {
		t.Errorf("Likes = %d after unlike, want 1", rec.Likes)
	}
	if len(rec.LikedBy) != 1 || rec.LikedBy[0] != "bob" {
		t.Errorf("LikedBy = %v, want [bob]", rec.LikedBy)
	}
}

func TestUnlike_WithoutLikeIsNoOp(t *testing.T) {
	store := NewStore(objectstore.NewMemoryStore())
	tr := statsTrack()
	ctx := context.Background()

	if _, err := store.Like(ctx, tr, "bob"); err != nil {
		t.Fatalf("Like() error = %v", err)
	}

	rec, err := store.Unlike(ctx, tr, "alice")
	if err != nil {
		t.Fatalf("Unlike() without prior like error = %v", err)
	}
	if rec.Likes != 1 {
		t.Errorf("Likes = %d, want 1 unchanged", rec.Likes)
	}
	// No-op must not burn a version.
	if rec.Version != 1 {
		t.Errorf("Version = %d, want 1 unchanged", rec.Version)
	}
}

func TestRecordDownload_Increments(t *testing.T) {
	store := NewStore(objectstore.NewMemoryStore())
	tr := statsTrack()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := store.RecordDownload(ctx, tr); err != nil {
			t.Fatalf("RecordDownload() error = %v", err)
		}
	}

	rec, err := store.Get(ctx, tr)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if rec.Downloads != 3 {
		t.Errorf("Downloads = %d, want 3", rec.Downloads)
	}
}

func TestGet_MissingRecordIsZero(t *testing.T) {
	store := NewStore(objectstore.NewMemoryStore())

	rec, err := store.Get(context.Background(), statsTrack())
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if rec.Likes != 0 || rec.Downloads != 0 || rec.Version != 0 {
		t.Errorf("zero record expected, got %+v", rec)
	}
}

// racingStore wraps a memory store and injects a competing write before
// every conditional put, for a bounded number of times.
type racingStore struct {
	*objectstore.MemoryStore
	mu        sync.Mutex
	races     int
	racesLeft int
}

func (s *racingStore) PutJSONIf(ctx context.Context, key string, v any, rev string) error {
	s.mu.Lock()
	inject := s.racesLeft > 0
	if inject {
		s.racesLeft--
		s.races++
	}
	s.mu.Unlock()

	if inject {
		var rec Record
		currentRev, err := s.MemoryStore.GetJSON(ctx, key, &rec)
		if err != nil && !errors.Is(err, objectstore.ErrNotFound) {
			return err
		}
		rec.Downloads++
		rec.Version++
		if err := s.MemoryStore.PutJSONIf(ctx, key, &rec, currentRev); err != nil {
			return err
		}
	}
	return s.MemoryStore.PutJSONIf(ctx, key, v, rev)
}

func TestUpdate_RetriesAfterLostRace(t *testing.T) {
	backing := &racingStore{MemoryStore: objectstore.NewMemoryStore(), racesLeft: 2}
	store := NewStore(backing)
	tr := statsTrack()

	rec, err := store.Like(context.Background(), tr, "alice")
	if err != nil {
		t.Fatalf("Like() error = %v", err)
	}
	if rec.Likes != 1 {
		t.Errorf("Likes = %d, want 1", rec.Likes)
	}
	// The injected writers each bumped downloads before our write landed.
	if rec.Downloads != 2 {
		t.Errorf("Downloads = %d, want 2 from competing writers", rec.Downloads)
	}
	if backing.races != 2 {
		t.Errorf("injected races = %d, want 2", backing.races)
	}
}

func TestUpdate_GivesUpAfterRetryBudget(t *testing.T) {
	backing := &racingStore{MemoryStore: objectstore.NewMemoryStore(), racesLeft: 100}
	store := NewStore(backing)

	_, err := store.Like(context.Background(), statsTrack(), "alice")
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("Like() under permanent contention error = %v, want ErrConflict", err)
	}
}
