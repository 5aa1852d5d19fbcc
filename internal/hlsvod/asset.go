package hlsvod

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math"
	"net/url"
	"path"
	"sort"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultWindowSize is the number of real segments in every live window
// when NewAsset is given a non-positive size.
const DefaultWindowSize = 6

// MasterFetcher returns the master playlist of an asset.
type MasterFetcher func(ctx context.Context) (io.ReadCloser, error)

// MediaFetcher returns the media playlist of one variant.
type MediaFetcher func(ctx context.Context, v Variant) (io.ReadCloser, error)

// State is the lifecycle phase of an Asset.
type State int32

const (
	// StateUnloaded is a new asset that has not been loaded yet.
	StateUnloaded State = iota
	// StateLoading means a Load or LoadAfter call is in flight.
	StateLoading
	// StateLoaded means windows can be read and rendered.
	StateLoaded
	// StateFailed means a load failed. The asset stays permanently unloaded
	// and every later load or query returns ErrInvalidState.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoading:
		return "loading"
	case StateLoaded:
		return "loaded"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Asset is one VOD source played out as a live stream.
//
// An Asset is loaded exactly once, with Load or LoadAfter. Until that
// succeeds every query returns ErrInvalidState; afterwards the asset is
// immutable and safe for concurrent use.
type Asset struct {
	id         string
	source     string
	windowSize int

	state atomic.Int32
	model atomic.Pointer[segmentModel]
}

// segmentModel is the loaded, immutable content of an Asset.
type segmentModel struct {
	bandwidths []Bandwidth // ascending
	streams    map[Bandwidth][]Segment

	// realPos[k] is the stream position of the k-th real segment. Sentinel
	// positions are identical in every rendition, so one table serves all.
	realPos []int
	// discBefore[k] counts the sentinels ahead of realPos[k].
	discBefore []int

	targetDuration float64
	count          int
	// starts[n] is the playout offset at which window n goes live.
	starts []time.Duration

	carriedDisc  int
	sequenceBase int
}

// NewAsset returns an unloaded asset for the master playlist at source.
func NewAsset(source string, windowSize int) *Asset {
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	sum := sha1.Sum([]byte(source))
	return &Asset{
		id:         hex.EncodeToString(sum[:6]),
		source:     source,
		windowSize: windowSize,
	}
}

// ID identifies the asset. It is derived from the source URI.
func (a *Asset) ID() string { return a.id }

// Source returns the master playlist URI the asset was created for.
func (a *Asset) Source() string { return a.source }

// WindowSize returns the number of real segments per window.
func (a *Asset) WindowSize() int { return a.windowSize }

// State returns the current lifecycle phase.
func (a *Asset) State() State { return State(a.state.Load()) }

// Loaded reports whether the asset can answer window queries.
func (a *Asset) Loaded() bool { return a.model.Load() != nil }

func (a *Asset) loaded() (*segmentModel, error) {
	m := a.model.Load()
	if m == nil {
		return nil, fmt.Errorf("%w: asset %s is %s", ErrInvalidState, a.id, a.State())
	}
	return m, nil
}

// Load fetches and parses the master playlist and every media playlist, and
// makes the asset's windows available. Media playlists are fetched
// concurrently; the first failure cancels the rest and is returned. Any
// failure leaves the asset permanently unloaded.
func (a *Asset) Load(ctx context.Context, fetchMaster MasterFetcher, fetchMedia MediaFetcher) error {
	return a.load(ctx, nil, fetchMaster, fetchMedia)
}

// LoadAfter loads the asset as the continuation of predecessor: its first
// windows begin with the predecessor's trailing segments followed by a
// discontinuity. The predecessor must be loaded; only a copy of its tail is
// kept.
func (a *Asset) LoadAfter(ctx context.Context, predecessor *Asset, fetchMaster MasterFetcher, fetchMedia MediaFetcher) error {
	if predecessor == nil {
		return fmt.Errorf("%w: nil predecessor", ErrInvalidState)
	}
	pm, err := predecessor.loaded()
	if err != nil {
		return fmt.Errorf("load after %s: %w", predecessor.id, err)
	}
	return a.load(ctx, pm.tail(), fetchMaster, fetchMedia)
}

func (a *Asset) load(ctx context.Context, tail *predecessorTail, fetchMaster MasterFetcher, fetchMedia MediaFetcher) error {
	if !a.state.CompareAndSwap(int32(StateUnloaded), int32(StateLoading)) {
		return fmt.Errorf("%w: asset %s is already %s", ErrInvalidState, a.id, a.State())
	}
	m, err := a.fetch(ctx, tail, fetchMaster, fetchMedia)
	if err != nil {
		a.state.Store(int32(StateFailed))
		return err
	}
	a.model.Store(m)
	a.state.Store(int32(StateLoaded))
	return nil
}

func (a *Asset) fetch(ctx context.Context, tail *predecessorTail, fetchMaster MasterFetcher, fetchMedia MediaFetcher) (*segmentModel, error) {
	rc, err := fetchMaster(ctx)
	if err != nil {
		return nil, &FetchError{Target: "master", Err: err}
	}
	variants, err := ParseMaster(rc)
	rc.Close()
	if err != nil {
		return nil, readError("master", err)
	}
	for i := range variants {
		variants[i].URI = resolve(a.source, variants[i].URI)
	}

	playlists := make([]*MediaPlaylist, len(variants))
	g, gctx := errgroup.WithContext(ctx)
	for i, v := range variants {
		g.Go(func() error {
			pl, err := fetchMediaPlaylist(gctx, fetchMedia, v)
			if err != nil {
				return err
			}
			playlists[i] = pl
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return buildModel(variants, playlists, tail, a.windowSize)
}

func fetchMediaPlaylist(ctx context.Context, fetchMedia MediaFetcher, v Variant) (*MediaPlaylist, error) {
	if err := ctx.Err(); err != nil {
		return nil, &FetchError{Target: string(v.Bandwidth), Err: err}
	}
	rc, err := fetchMedia(ctx, v)
	if err != nil {
		return nil, &FetchError{Target: string(v.Bandwidth), Err: err}
	}
	defer rc.Close()

	pl, err := ParseMedia(rc)
	if err != nil {
		return nil, fmt.Errorf("rendition %s: %w", v.Bandwidth, readError(string(v.Bandwidth), err))
	}
	for i := range pl.Segments {
		if !pl.Segments[i].Discontinuity {
			pl.Segments[i].URI = resolve(v.URI, pl.Segments[i].URI)
		}
	}
	return pl, nil
}

// readError classifies a parse failure: structural problems stay as they
// are, anything else came from the reader and is a transport failure.
func readError(target string, err error) error {
	if errors.Is(err, ErrMalformedPlaylist) {
		return err
	}
	return &FetchError{Target: target, Err: err}
}

// resolve returns ref relative to base. Absolute references and references
// that do not parse are returned unchanged. A base without a scheme is
// treated as a file path.
func resolve(base, ref string) string {
	if base == "" {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil || r.IsAbs() {
		return ref
	}
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	if !b.IsAbs() {
		if path.IsAbs(ref) {
			return ref
		}
		return path.Join(path.Dir(base), ref)
	}
	return b.ResolveReference(r).String()
}

func buildModel(variants []Variant, playlists []*MediaPlaylist, tail *predecessorTail, windowSize int) (*segmentModel, error) {
	m := &segmentModel{
		streams: make(map[Bandwidth][]Segment, len(variants)),
	}
	for _, v := range variants {
		m.bandwidths = append(m.bandwidths, v.Bandwidth)
	}
	sort.Slice(m.bandwidths, func(i, j int) bool {
		return m.bandwidths[i].Int() < m.bandwidths[j].Int()
	})

	ref := 0
	for i, v := range variants {
		if v.Bandwidth == m.bandwidths[0] {
			ref = i
		}
	}
	for i, pl := range playlists {
		if err := aligned(variants[ref].Bandwidth, playlists[ref], variants[i].Bandwidth, pl); err != nil {
			return nil, err
		}
		if pl.TargetDuration > m.targetDuration {
			m.targetDuration = pl.TargetDuration
		}
	}

	for i, v := range variants {
		var stream []Segment
		if tail != nil {
			stream = append(stream, tail.forBandwidth(v.Bandwidth)...)
			stream = append(stream, sentinel)
			m.carriedDisc = tail.discontinuities
			m.sequenceBase = tail.sequenceBase
		}
		stream = append(stream, playlists[i].Segments...)
		stream = collapseSentinels(stream)
		for _, s := range stream {
			if s.Duration > m.targetDuration {
				m.targetDuration = s.Duration
			}
		}
		m.streams[v.Bandwidth] = stream
	}

	disc := 0
	for pos, s := range m.streams[m.bandwidths[0]] {
		if s.Discontinuity {
			disc++
			continue
		}
		m.realPos = append(m.realPos, pos)
		m.discBefore = append(m.discBefore, disc)
	}
	if len(m.realPos) < windowSize {
		return nil, ErrInsufficientSegments
	}
	m.count = len(m.realPos) - windowSize + 1

	stream := m.streams[m.bandwidths[0]]
	m.starts = make([]time.Duration, m.count+1)
	var at time.Duration
	for n := 0; n < m.count; n++ {
		m.starts[n] = at
		at += seconds(stream[m.realPos[n]].Duration)
	}
	m.starts[m.count] = at
	if at <= 0 {
		return nil, ErrZeroDuration
	}
	return m, nil
}

// aligned checks that pl can be windowed in lockstep with the reference
// playlist: same number of real segments, sentinels at the same places.
func aligned(refBW Bandwidth, ref *MediaPlaylist, bw Bandwidth, pl *MediaPlaylist) error {
	if got, want := pl.RealCount(), ref.RealCount(); got != want {
		return &RenditionMismatchError{
			Bandwidth: bw,
			Reference: refBW,
			Reason:    fmt.Sprintf("%d segments, want %d", got, want),
		}
	}
	if len(pl.Segments) != len(ref.Segments) {
		return &RenditionMismatchError{Bandwidth: bw, Reference: refBW, Reason: "discontinuity count differs"}
	}
	for i := range pl.Segments {
		if pl.Segments[i].Discontinuity != ref.Segments[i].Discontinuity {
			return &RenditionMismatchError{
				Bandwidth: bw,
				Reference: refBW,
				Reason:    fmt.Sprintf("discontinuity at position %d differs", i),
			}
		}
	}
	return nil
}

// collapseSentinels drops sentinels that directly follow another sentinel.
func collapseSentinels(stream []Segment) []Segment {
	out := make([]Segment, 0, len(stream))
	for _, s := range stream {
		if s.Discontinuity && len(out) > 0 && out[len(out)-1].Discontinuity {
			continue
		}
		out = append(out, s)
	}
	return out
}

// predecessorTail is what a continuation copies from the asset it follows.
type predecessorTail struct {
	bandwidths      []Bandwidth
	streams         map[Bandwidth][]Segment
	discontinuities int
	sequenceBase    int
}

// tail copies everything after the first real segment of the final
// window: the W-1 trailing real segments plus the sentinels among them.
func (m *segmentModel) tail() *predecessorTail {
	last := m.count - 1
	from := m.realPos[last] + 1
	t := &predecessorTail{
		bandwidths:      m.bandwidths,
		streams:         make(map[Bandwidth][]Segment, len(m.streams)),
		discontinuities: m.discontinuitySequence(m.count),
		sequenceBase:    m.sequenceBase + m.count,
	}
	for bw, stream := range m.streams {
		t.streams[bw] = append([]Segment(nil), stream[from:]...)
	}
	return t
}

// forBandwidth returns the tail of the predecessor rendition closest in
// bandwidth to bw.
func (t *predecessorTail) forBandwidth(bw Bandwidth) []Segment {
	best := t.bandwidths[0]
	for _, cand := range t.bandwidths[1:] {
		if abs(cand.Int()-bw.Int()) < abs(best.Int()-bw.Int()) {
			best = cand
		}
	}
	return t.streams[best]
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func seconds(f float64) time.Duration {
	return time.Duration(math.Round(f * float64(time.Second)))
}
