// Package hlsvod turns a complete HLS VOD asset into a simulated live
// stream. An Asset is loaded once from a master playlist and its media
// playlists, after which it answers window queries: the n-th live media
// sequence for any rendition, with every rendition kept segment-aligned.
// An Asset may be loaded after a predecessor, in which case its first
// windows start with the predecessor's tail and a discontinuity.
package hlsvod

import "strconv"

// Bandwidth identifies a rendition. It is the BANDWIDTH attribute exactly as
// it appeared in the source master playlist.
type Bandwidth string

// Int returns the numeric bandwidth in bits per second.
func (b Bandwidth) Int() int {
	n, _ := strconv.Atoi(string(b))
	return n
}

// Variant is one variant stream declared by a master playlist.
type Variant struct {
	Bandwidth Bandwidth
	URI       string
}

// Segment is one entry of a media playlist.
type Segment struct {
	// Index is the 1-based creation order within the asset that produced
	// the segment. Sentinels have Index -1.
	Index    int
	Duration float64
	URI      string

	// Discontinuity marks a sentinel standing for an EXT-X-DISCONTINUITY
	// tag. Sentinels carry no media.
	Discontinuity bool
}

// sentinel is the discontinuity marker stored in segment streams.
var sentinel = Segment{Index: -1, Discontinuity: true}

// MediaPlaylist is the parsed form of one rendition's media playlist.
type MediaPlaylist struct {
	TargetDuration float64
	Segments       []Segment
}

// RealCount returns the number of non-sentinel segments.
func (m *MediaPlaylist) RealCount() int {
	n := 0
	for _, s := range m.Segments {
		if !s.Discontinuity {
			n++
		}
	}
	return n
}

// Slot is one entry of a live window. A discontinuity slot has Offset -1
// and no URI.
type Slot struct {
	Offset   int
	Duration float64
	URI      string
}

// IsDiscontinuity reports whether s is a discontinuity sentinel.
func (s Slot) IsDiscontinuity() bool { return s.Offset < 0 }

func slotOf(s Segment) Slot {
	if s.Discontinuity {
		return Slot{Offset: -1}
	}
	return Slot{Offset: s.Index, Duration: s.Duration, URI: s.URI}
}
