// Package track defines the track model shared across the playback,
// engagement and library domains.
package track

import "path"

// Track is one uploaded audio asset plus its descriptive metadata.
// A track is immutable once published; renames and deletes happen through
// explicit external operations, never by mutating a Track in place.
type Track struct {
	OwnerUID   string  `json:"ownerUid"`
	Name       string  `json:"name"`
	URL        string  `json:"url"`      // URL to the raw audio bytes
	Duration   float64 `json:"duration"` // Duration in seconds
	BPM        float64 `json:"bpm"`
	Key        string  `json:"key"` // Musical key as tagged at upload
	Genre      string  `json:"genre"`
	Instrument string  `json:"instrument"`
}

// ID returns the stable identity of a track: owner uid plus file name.
func (t Track) ID() string {
	return t.OwnerUID + "/" + t.Name
}

// StatsKey returns the object store key of the track's engagement record.
func (t Track) StatsKey() string {
	return path.Join("stats", t.OwnerUID, t.Name+".json")
}

// MetadataKey returns the object store key of the track's metadata record.
func (t Track) MetadataKey() string {
	return path.Join("meta", t.OwnerUID, t.Name+".json")
}

// MetadataPrefix returns the object store prefix under which all of an
// owner's metadata records live.
func MetadataPrefix(ownerUID string) string {
	return "meta/" + ownerUID + "/"
}
