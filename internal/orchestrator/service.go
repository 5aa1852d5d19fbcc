package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"vod2live/internal/hlsvod"

	"github.com/google/uuid"
)

// DefaultWindowSize is the default number of segments in the sliding window.
const DefaultWindowSize = hlsvod.DefaultWindowSize

// ErrChannelEnded is returned when a position lies past the last source of
// a non-looping channel.
var ErrChannelEnded = errors.New("channel has no source at this position")

// Service plays out a channel as a simulated live stream per session. It
// keeps session state in a Store and shares loaded assets between sessions
// through an AssetRepository.
type Service struct {
	store      Store
	assets     *AssetRepository
	channel    *Channel
	loader     AssetLoader
	windowSize int
	now        func() time.Time
}

// NewService returns a Service. If windowSize <= 0, DefaultWindowSize is used.
func NewService(store Store, assets *AssetRepository, channel *Channel, loader AssetLoader, windowSize int) *Service {
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	return &Service{
		store:      store,
		assets:     assets,
		channel:    channel,
		loader:     loader,
		windowSize: windowSize,
		now:        time.Now,
	}
}

// CreateSession starts a new session at the beginning of the channel. The
// first asset is loaded before the session is stored so that load failures
// reach the caller.
func (s *Service) CreateSession(ctx context.Context) (*Session, error) {
	if _, err := s.assetAt(ctx, 0); err != nil {
		return nil, err
	}
	now := s.now()
	sess := &Session{
		ID:        SessionID(uuid.NewString()),
		StartedAt: now,
		CreatedAt: now,
		LastSeen:  now,
	}
	if err := s.store.Put(ctx, sess); err != nil {
		return nil, fmt.Errorf("store session: %w", err)
	}
	return sess, nil
}

// MasterPlaylist renders the master playlist for a session. Variant URIs
// are relative to the master playlist and resolve to MediaPlaylist.
func (s *Service) MasterPlaylist(ctx context.Context, id SessionID) (string, error) {
	sess, err := s.store.Get(ctx, id)
	if err != nil {
		return "", err
	}
	a, err := s.assetAt(ctx, sess.Position)
	if err != nil {
		return "", err
	}
	return hlsvod.RenderMaster(a, func(bw hlsvod.Bandwidth) string {
		return MediaPlaylistURI(id, bw)
	})
}

// MediaPlaylistURI is the master-relative URI of a session's media playlist.
func MediaPlaylistURI(id SessionID, bw hlsvod.Bandwidth) string {
	return "sessions/" + url.PathEscape(string(id)) + "/renditions/" + url.PathEscape(string(bw)) + "/playlist.m3u8"
}

// MediaPlaylist renders the window of rendition bw that is live for the
// session now. Media sequence numbers keep increasing across chained
// assets; once a non-looping channel has played out, the last window is
// served with an end list.
func (s *Service) MediaPlaylist(ctx context.Context, id SessionID, bw hlsvod.Bandwidth) (string, error) {
	sess, err := s.store.Get(ctx, id)
	if err != nil {
		return "", err
	}
	p, err := s.advance(ctx, sess)
	if err != nil {
		return "", err
	}

	base, err := p.asset.SequenceBase()
	if err != nil {
		return "", err
	}
	opts := []hlsvod.RenderOption{hlsvod.WithSequenceBase(base)}
	if p.ended {
		opts = append(opts, hlsvod.WithEndList())
	}
	out, err := hlsvod.RenderMedia(p.asset, rendition(p.asset, sess.Position, bw), p.window, opts...)
	if err != nil {
		return "", err
	}

	sess.LastSeen = s.now()
	if err := s.store.Put(ctx, sess); err != nil {
		return "", fmt.Errorf("store session: %w", err)
	}
	return out, nil
}

// Status reports where a session is in its stream without touching it.
func (s *Service) Status(ctx context.Context, id SessionID) (*SessionStatus, error) {
	sess, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	p, err := s.advance(ctx, sess)
	if err != nil {
		return nil, err
	}
	count, err := p.asset.WindowCount()
	if err != nil {
		return nil, err
	}
	base, err := p.asset.SequenceBase()
	if err != nil {
		return nil, err
	}
	bws, err := p.asset.Bandwidths()
	if err != nil {
		return nil, err
	}
	return &SessionStatus{
		Session:       *sess,
		AssetID:       p.asset.ID(),
		Source:        p.asset.Source(),
		Window:        p.window,
		WindowCount:   count,
		MediaSequence: base + p.window,
		Bandwidths:    bws,
		Ended:         p.ended,
	}, nil
}

// EndSession removes a session. It returns ErrSessionNotFound if the
// session does not exist.
func (s *Service) EndSession(ctx context.Context, id SessionID) error {
	if _, err := s.store.Get(ctx, id); err != nil {
		return err
	}
	return s.store.Delete(ctx, id)
}

// ActiveSessions returns the number of live sessions. Used for metrics.
func (s *Service) ActiveSessions(ctx context.Context) (int, error) {
	return s.store.Count(ctx)
}

// playout is the window a session should see right now.
type playout struct {
	asset  *hlsvod.Asset
	window int
	ended  bool
}

// advance moves sess forward through the channel until it reaches the
// asset that is live now, and returns the live window of that asset.
func (s *Service) advance(ctx context.Context, sess *Session) (playout, error) {
	for {
		a, err := s.assetAt(ctx, sess.Position)
		if err != nil {
			return playout{}, err
		}
		dur, err := a.Duration()
		if err != nil {
			return playout{}, err
		}
		elapsed := s.now().Sub(sess.StartedAt)

		if dur > 0 && elapsed >= dur {
			if _, ok := s.channel.SourceAt(sess.Position + 1); ok {
				sess.Position++
				sess.StartedAt = sess.StartedAt.Add(dur)
				continue
			}
			count, err := a.WindowCount()
			if err != nil {
				return playout{}, err
			}
			return playout{asset: a, window: count - 1, ended: true}, nil
		}

		n, err := a.WindowAt(elapsed)
		if err != nil {
			return playout{}, err
		}
		return playout{asset: a, window: n}, nil
	}
}

// assetAt returns the loaded asset for a channel position, loading it and,
// recursively, its predecessors as needed.
func (s *Service) assetAt(ctx context.Context, pos int) (*hlsvod.Asset, error) {
	source, ok := s.channel.SourceAt(pos)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrChannelEnded, pos)
	}
	return s.assets.Get(ctx, strconv.Itoa(pos), func(ctx context.Context) (*hlsvod.Asset, error) {
		var pred *hlsvod.Asset
		if pos > 0 {
			p, err := s.assetAt(ctx, pos-1)
			if err != nil {
				return nil, err
			}
			pred = p
		}
		a := hlsvod.NewAsset(source, s.windowSize)
		if err := s.loader.LoadAsset(ctx, a, pred); err != nil {
			return nil, fmt.Errorf("load %s: %w", source, err)
		}
		return a, nil
	})
}

// rendition maps a bandwidth taken from the session's first master
// playlist onto the closest rendition of a later asset.
func rendition(a *hlsvod.Asset, pos int, bw hlsvod.Bandwidth) hlsvod.Bandwidth {
	if pos == 0 || bw.Int() <= 0 {
		return bw
	}
	bws, err := a.Bandwidths()
	if err != nil || len(bws) == 0 {
		return bw
	}
	best := bws[0]
	for _, cand := range bws {
		if cand == bw {
			return bw
		}
		if absDiff(cand.Int(), bw.Int()) < absDiff(best.Int(), bw.Int()) {
			best = cand
		}
	}
	return best
}

func absDiff(a, b int) int {
	if a > b {
		return a - b
	}
	return b - a
}
