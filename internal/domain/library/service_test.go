package library

import (
	"context"
	"errors"
	"testing"

	"github.com/rmalloy/audiocrate/internal/domain/track"
	"github.com/rmalloy/audiocrate/internal/infra/objectstore"
)

func catalogTrack(name string) track.Track {
	return track.Track{
		OwnerUID: "uid1",
		Name:     name,
		URL:      "https://cdn.example.com/" + name,
		Duration: 15,
		BPM:      128,
		Key:      "Am",
	}
}

func TestNormalizeFingerprint(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "abc123", "abc123"},
		{"upper case", "ABC123", "abc123"},
		{"surrounding spaces", "  abc123  ", "abc123"},
		{"double quoted", `"abc123"`, "abc123"},
		{"single quoted", "'abc123'", "abc123"},
		{"quoted with inner spaces", `" ABC123 "`, "abc123"},
		{"mismatched quotes kept", `"abc123'`, `"abc123'`},
		{"single quote only", `"`, `"`},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeFingerprint(tt.in); got != tt.want {
				t.Errorf("NormalizeFingerprint(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestIsDuplicate_EmptyCatalog(t *testing.T) {
	svc := NewService(objectstore.NewMemoryStore())

	dup, err := svc.IsDuplicate(context.Background(), "abc123", "uid1")
	if err != nil {
		t.Fatalf("IsDuplicate() error = %v", err)
	}
	if dup {
		t.Error("IsDuplicate() = true on empty catalog")
	}
}

func TestIsDuplicate_MatchesAfterNormalization(t *testing.T) {
	store := objectstore.NewMemoryStore()
	svc := NewService(store)
	ctx := context.Background()

	if err := svc.Publish(ctx, catalogTrack("loop.mp3"), `"ABC123"`); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	// The stored fingerprint carries quotes and upper case; the candidate
	// differs in both and must still match.
	dup, err := svc.IsDuplicate(ctx, "abc123", "uid1")
	if err != nil {
		t.Fatalf("IsDuplicate() error = %v", err)
	}
	if !dup {
		t.Error("IsDuplicate() = false, want true for normalized match")
	}

	dup, err = svc.IsDuplicate(ctx, "def456", "uid1")
	if err != nil {
		t.Fatalf("IsDuplicate() error = %v", err)
	}
	if dup {
		t.Error("IsDuplicate() = true for a different fingerprint")
	}
}

func TestIsDuplicate_ScopedToOwner(t *testing.T) {
	store := objectstore.NewMemoryStore()
	svc := NewService(store)
	ctx := context.Background()

	other := catalogTrack("loop.mp3")
	other.OwnerUID = "uid2"
	if err := svc.Publish(ctx, other, "abc123"); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	// Same content under a different owner is not a duplicate for uid1.
	dup, err := svc.IsDuplicate(ctx, "abc123", "uid1")
	if err != nil {
		t.Fatalf("IsDuplicate() error = %v", err)
	}
	if dup {
		t.Error("IsDuplicate() = true across owners, want false")
	}
}

func TestPublish_BlocksDuplicate(t *testing.T) {
	svc := NewService(objectstore.NewMemoryStore())
	ctx := context.Background()

	if err := svc.Publish(ctx, catalogTrack("a.mp3"), "abc123"); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	err := svc.Publish(ctx, catalogTrack("b.mp3"), "ABC123")
	if !errors.Is(err, ErrDuplicateFingerprint) {
		t.Fatalf("Publish() duplicate error = %v, want ErrDuplicateFingerprint", err)
	}

	// The duplicate must not have been written.
	tracks, err := svc.ListTracks(ctx, "uid1")
	if err != nil {
		t.Fatalf("ListTracks() error = %v", err)
	}
	if len(tracks) != 1 {
		t.Errorf("catalog size = %d after blocked publish, want 1", len(tracks))
	}
}

func TestPublish_SameNameTwice(t *testing.T) {
	svc := NewService(objectstore.NewMemoryStore())
	ctx := context.Background()

	if err := svc.Publish(ctx, catalogTrack("a.mp3"), "abc123"); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	// Different content under an already-taken name fails the create-only
	// write instead of overwriting the catalog record.
	err := svc.Publish(ctx, catalogTrack("a.mp3"), "def456")
	if !errors.Is(err, ErrAlreadyPublished) {
		t.Fatalf("Publish() error = %v, want ErrAlreadyPublished", err)
	}
}

func TestGet_RoundTrip(t *testing.T) {
	svc := NewService(objectstore.NewMemoryStore())
	ctx := context.Background()

	tr := catalogTrack("pad.mp3")
	if err := svc.Publish(ctx, tr, "fp1"); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	meta, err := svc.Get(ctx, "uid1", "pad.mp3")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if meta.Name != "pad.mp3" || meta.OwnerUID != "uid1" {
		t.Errorf("Get() = %+v, want published record", meta)
	}
	if meta.BPM != 128 || meta.Key != "Am" {
		t.Errorf("metadata fields lost: %+v", meta)
	}
	if meta.PublishedAt.IsZero() {
		t.Error("PublishedAt not set")
	}
}

func TestListTracks(t *testing.T) {
	svc := NewService(objectstore.NewMemoryStore())
	ctx := context.Background()

	for i, name := range []string{"a.mp3", "b.mp3", "c.mp3"} {
		if err := svc.Publish(ctx, catalogTrack(name), "fp"+string(rune('0'+i))); err != nil {
			t.Fatalf("Publish(%s) error = %v", name, err)
		}
	}

	tracks, err := svc.ListTracks(ctx, "uid1")
	if err != nil {
		t.Fatalf("ListTracks() error = %v", err)
	}
	if len(tracks) != 3 {
		t.Fatalf("ListTracks() returned %d tracks, want 3", len(tracks))
	}

	empty, err := svc.ListTracks(ctx, "nobody")
	if err != nil {
		t.Fatalf("ListTracks(nobody) error = %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("ListTracks(nobody) returned %d tracks, want 0", len(empty))
	}
}
