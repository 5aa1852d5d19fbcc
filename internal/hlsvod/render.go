package hlsvod

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// renderOptions adjust the header of a rendered media playlist.
type renderOptions struct {
	sequenceBase int
	endList      bool
}

// RenderOption configures RenderMedia.
type RenderOption func(*renderOptions)

// WithSequenceBase adds base to the window index when writing
// EXT-X-MEDIA-SEQUENCE, keeping numbering monotonic across chained assets.
func WithSequenceBase(base int) RenderOption {
	return func(o *renderOptions) { o.sequenceBase = base }
}

// WithEndList appends #EXT-X-ENDLIST, marking the stream as finished.
func WithEndList() RenderOption {
	return func(o *renderOptions) { o.endList = true }
}

// RenderMaster writes a master playlist with one variant per rendition of
// a. uri maps a bandwidth to the media playlist URI clients should request.
func RenderMaster(a *Asset, uri func(Bandwidth) string) (string, error) {
	bws, err := a.Bandwidths()
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")
	for _, bw := range bws {
		b.WriteString(fmt.Sprintf("#EXT-X-STREAM-INF:BANDWIDTH=%s\n", bw))
		b.WriteString(uri(bw))
		b.WriteString("\n")
	}
	return b.String(), nil
}

// RenderMedia writes window n of rendition bw as a live media playlist.
// EXT-X-MEDIA-SEQUENCE is n unless WithSequenceBase is given. Errors from
// WindowSegments are returned unchanged.
func RenderMedia(a *Asset, bw Bandwidth, n int, opts ...RenderOption) (string, error) {
	var o renderOptions
	for _, opt := range opts {
		opt(&o)
	}

	slots, err := a.WindowSegments(n, bw)
	if err != nil {
		return "", err
	}
	target, err := a.TargetDuration()
	if err != nil {
		return "", err
	}
	disc, err := a.DiscontinuitySequence(n)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")
	b.WriteString(fmt.Sprintf("#EXT-X-TARGETDURATION:%d\n", targetDuration(target)))
	b.WriteString(fmt.Sprintf("#EXT-X-MEDIA-SEQUENCE:%d\n", o.sequenceBase+n))
	if disc > 0 {
		b.WriteString(fmt.Sprintf("#EXT-X-DISCONTINUITY-SEQUENCE:%d\n", disc))
	}

	for _, s := range slots {
		if s.IsDiscontinuity() {
			b.WriteString("#EXT-X-DISCONTINUITY\n")
			continue
		}
		b.WriteString("#EXTINF:")
		b.WriteString(strconv.FormatFloat(s.Duration, 'f', 3, 64))
		b.WriteString(",\n")
		b.WriteString(s.URI)
		b.WriteString("\n")
	}

	if o.endList {
		b.WriteString("#EXT-X-ENDLIST\n")
	}
	return b.String(), nil
}

// targetDuration returns the EXT-X-TARGETDURATION value: the ceiling of
// the longest segment duration, at least 1.
func targetDuration(max float64) int {
	if max <= 0 {
		return 1
	}
	return int(math.Ceil(max))
}
