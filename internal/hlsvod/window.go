package hlsvod

import (
	"fmt"
	"sort"
	"time"
)

// Bandwidths returns the asset's rendition keys in ascending order.
func (a *Asset) Bandwidths() ([]Bandwidth, error) {
	m, err := a.loaded()
	if err != nil {
		return nil, err
	}
	return append([]Bandwidth(nil), m.bandwidths...), nil
}

// TargetDuration returns the largest segment duration of the asset in
// seconds, including any segments carried over from a predecessor.
func (a *Asset) TargetDuration() (float64, error) {
	m, err := a.loaded()
	if err != nil {
		return 0, err
	}
	return m.targetDuration, nil
}

// WindowCount returns the number of live windows. For a standalone asset
// with N real segments per rendition it is N-W+1.
func (a *Asset) WindowCount() (int, error) {
	m, err := a.loaded()
	if err != nil {
		return 0, err
	}
	return m.count, nil
}

// WindowSegments returns window n of rendition bw: W real slots plus a
// discontinuity slot ahead of every real slot that follows a discontinuity.
// The result is freshly allocated and depends only on n and bw.
func (a *Asset) WindowSegments(n int, bw Bandwidth) ([]Slot, error) {
	m, err := a.loaded()
	if err != nil {
		return nil, err
	}
	stream, ok := m.streams[bw]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidBandwidth, bw)
	}
	if n < 0 || n >= m.count {
		return nil, fmt.Errorf("%w: %d not in [0, %d)", ErrIndexOutOfRange, n, m.count)
	}

	from, to := m.span(n, a.windowSize)
	slots := make([]Slot, 0, to-from)
	for _, s := range stream[from:to] {
		slots = append(slots, slotOf(s))
	}
	return slots, nil
}

// span returns the stream positions [from, to) covered by window n. A
// window begins right after the previous window's first real segment, so
// sentinels stay visible until the segment they announce slides out.
func (m *segmentModel) span(n, windowSize int) (from, to int) {
	if n > 0 {
		from = m.realPos[n-1] + 1
	}
	return from, m.realPos[n+windowSize-1] + 1
}

// discontinuitySequence counts sentinels that have slid out of the stream
// by the time window n is live, including those of predecessors.
func (m *segmentModel) discontinuitySequence(n int) int {
	if n == 0 {
		return m.carriedDisc
	}
	return m.carriedDisc + m.discBefore[n-1]
}

// DiscontinuitySequence returns the EXT-X-DISCONTINUITY-SEQUENCE of window n.
func (a *Asset) DiscontinuitySequence(n int) (int, error) {
	m, err := a.loaded()
	if err != nil {
		return 0, err
	}
	if n < 0 || n >= m.count {
		return 0, fmt.Errorf("%w: %d not in [0, %d)", ErrIndexOutOfRange, n, m.count)
	}
	return m.discontinuitySequence(n), nil
}

// SequenceBase returns the media sequence number that window 0 continues
// from: zero for a standalone asset, and the predecessor's base plus its
// window count for a continuation.
func (a *Asset) SequenceBase() (int, error) {
	m, err := a.loaded()
	if err != nil {
		return 0, err
	}
	return m.sequenceBase, nil
}

// WindowStart returns how long after window 0 went live window n goes live.
// n may equal WindowCount(), in which case the result is Duration().
func (a *Asset) WindowStart(n int) (time.Duration, error) {
	m, err := a.loaded()
	if err != nil {
		return 0, err
	}
	if n < 0 || n > m.count {
		return 0, fmt.Errorf("%w: %d not in [0, %d]", ErrIndexOutOfRange, n, m.count)
	}
	return m.starts[n], nil
}

// Duration returns the playout time of the asset: the time from window 0
// going live until the last window has been live for one segment.
func (a *Asset) Duration() (time.Duration, error) {
	m, err := a.loaded()
	if err != nil {
		return 0, err
	}
	return m.starts[m.count], nil
}

// WindowAt returns the window that is live at the given playout offset.
// Offsets before zero map to window 0 and offsets past the end to the last
// window.
func (a *Asset) WindowAt(elapsed time.Duration) (int, error) {
	m, err := a.loaded()
	if err != nil {
		return 0, err
	}
	n := sort.Search(m.count, func(i int) bool { return m.starts[i] > elapsed }) - 1
	if n < 0 {
		n = 0
	}
	return n, nil
}
