package track

import "testing"

func TestTrackKeys(t *testing.T) {
	tr := Track{OwnerUID: "uid1", Name: "bass.mp3"}

	if got := tr.ID(); got != "uid1/bass.mp3" {
		t.Errorf("ID() = %q, want %q", got, "uid1/bass.mp3")
	}
	if got := tr.StatsKey(); got != "stats/uid1/bass.mp3.json" {
		t.Errorf("StatsKey() = %q, want %q", got, "stats/uid1/bass.mp3.json")
	}
	if got := tr.MetadataKey(); got != "meta/uid1/bass.mp3.json" {
		t.Errorf("MetadataKey() = %q, want %q", got, "meta/uid1/bass.mp3.json")
	}
}

func TestMetadataPrefix(t *testing.T) {
	if got := MetadataPrefix("uid1"); got != "meta/uid1/" {
		t.Errorf("MetadataPrefix() = %q, want %q", got, "meta/uid1/")
	}
}
