package hlsvod

import (
	"errors"
	"fmt"
)

var (
	// ErrFetch matches any *FetchError.
	ErrFetch = errors.New("hlsvod: fetch failed")

	// ErrMalformedPlaylist matches any *MalformedPlaylistError.
	ErrMalformedPlaylist = errors.New("hlsvod: malformed playlist")

	// ErrRenditionMismatch matches any *RenditionMismatchError.
	ErrRenditionMismatch = errors.New("hlsvod: renditions are not aligned")

	// ErrInvalidBandwidth is returned when a query names a rendition the
	// asset does not have.
	ErrInvalidBandwidth = errors.New("hlsvod: unknown bandwidth")

	// ErrIndexOutOfRange is returned for a window index outside [0, WindowCount()).
	ErrIndexOutOfRange = errors.New("hlsvod: window index out of range")

	// ErrInvalidState is returned when an operation does not fit the asset's
	// lifecycle phase: querying before load, loading twice, or chaining onto
	// a predecessor that is not loaded.
	ErrInvalidState = errors.New("hlsvod: invalid asset state")

	// ErrInsufficientSegments is returned when an asset cannot fill a single
	// window. It matches ErrMalformedPlaylist.
	ErrInsufficientSegments = &MalformedPlaylistError{Reason: "not enough segments to fill a window"}

	// ErrZeroDuration is returned when an asset's windows add up to no
	// playout time, so a live clock could never move past it. It matches
	// ErrMalformedPlaylist.
	ErrZeroDuration = &MalformedPlaylistError{Reason: "asset has zero playout duration"}
)

// FetchError wraps a transport failure reaching a playlist.
type FetchError struct {
	// Target is "master" or the bandwidth of the media playlist.
	Target string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("hlsvod: fetch %s playlist: %v", e.Target, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

func (e *FetchError) Is(target error) bool { return target == ErrFetch }

// MalformedPlaylistError reports playlist text that does not have the
// expected structure. Line is 1-based and zero when not tied to a line.
type MalformedPlaylistError struct {
	Line   int
	Reason string
}

func (e *MalformedPlaylistError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("hlsvod: malformed playlist: line %d: %s", e.Line, e.Reason)
	}
	return "hlsvod: malformed playlist: " + e.Reason
}

func (e *MalformedPlaylistError) Is(target error) bool { return target == ErrMalformedPlaylist }

func malformed(line int, format string, args ...any) error {
	return &MalformedPlaylistError{Line: line, Reason: fmt.Sprintf(format, args...)}
}

// RenditionMismatchError reports two renditions whose segment streams
// cannot be windowed together.
type RenditionMismatchError struct {
	Bandwidth Bandwidth
	Reference Bandwidth
	Reason    string
}

func (e *RenditionMismatchError) Error() string {
	return fmt.Sprintf("hlsvod: rendition %s does not align with %s: %s", e.Bandwidth, e.Reference, e.Reason)
}

func (e *RenditionMismatchError) Is(target error) bool { return target == ErrRenditionMismatch }
