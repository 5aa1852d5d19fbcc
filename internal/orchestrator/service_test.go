package orchestrator

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"vod2live/internal/hlsvod"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewService_defaultWindowSize(t *testing.T) {
	svc := NewService(NewInMemoryStore(0, 0), NewAssetRepository(0, nil), &Channel{}, NewFetcher(nil), 0)
	assert.Equal(t, DefaultWindowSize, svc.windowSize)

	svc = NewService(NewInMemoryStore(0, 0), NewAssetRepository(0, nil), &Channel{}, NewFetcher(nil), 4)
	assert.Equal(t, 4, svc.windowSize)
}

func TestService_CreateSession(t *testing.T) {
	env := newTestEnv(t, twoAssetChannel(t, false))
	ctx := context.Background()

	sess, err := env.svc.CreateSession(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, sess.ID)
	assert.Equal(t, 0, sess.Position)
	assert.Equal(t, env.clock.Now(), sess.StartedAt)

	got, err := env.store.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, got.ID)

	t.Run("assets shared between sessions", func(t *testing.T) {
		other, err := env.svc.CreateSession(ctx)
		require.NoError(t, err)
		assert.NotEqual(t, sess.ID, other.ID)
		assert.EqualValues(t, 1, env.loader.calls.Load())
		assert.Equal(t, 1, env.assets.Len())
	})
}

func TestService_CreateSession_concurrent(t *testing.T) {
	env := newTestEnv(t, twoAssetChannel(t, false))

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.svc.CreateSession(context.Background())
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}

	assert.EqualValues(t, 1, env.loader.calls.Load())
	n, err := env.svc.ActiveSessions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10, n)
}

func TestService_CreateSession_load_failures(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	tests := []struct {
		name    string
		source  string
		wantErr error
	}{
		{"missing source", filepath.Join(dir, "missing", "master.m3u8"), hlsvod.ErrFetch},
		{"too few segments", writeAsset(t, dir, "short", testWindow-1, "1000"), hlsvod.ErrInsufficientSegments},
		{"no variants", writeAsset(t, dir, "empty", 5), hlsvod.ErrMalformedPlaylist},
		{"zero duration", writeZeroDurationAsset(t, dir, "zero", 5, "1000"), hlsvod.ErrZeroDuration},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, &Channel{Sources: []string{tt.source}})

			_, err := env.svc.CreateSession(ctx)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)

			n, err := env.svc.ActiveSessions(ctx)
			require.NoError(t, err)
			assert.Zero(t, n)
			assert.Zero(t, env.assets.Len(), "failed loads are not cached")
		})
	}
}

func TestService_MasterPlaylist(t *testing.T) {
	env := newTestEnv(t, twoAssetChannel(t, false))
	ctx := context.Background()

	sess, err := env.svc.CreateSession(ctx)
	require.NoError(t, err)

	m3u8, err := env.svc.MasterPlaylist(ctx, sess.ID)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(m3u8, "#EXTM3U\n"))
	assert.Contains(t, m3u8, "#EXT-X-STREAM-INF:BANDWIDTH=1000\n")
	assert.Equal(t, []string{
		MediaPlaylistURI(sess.ID, "1000"),
		MediaPlaylistURI(sess.ID, "2000"),
	}, playlistURIs(m3u8))

	_, err = env.svc.MasterPlaylist(ctx, "nope")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestMediaPlaylistURI(t *testing.T) {
	assert.Equal(t, "sessions/abc/renditions/1000/playlist.m3u8", MediaPlaylistURI("abc", "1000"))
}

// The channel below is assets a and b, 5 segments each, W=3. a has windows
// at 0s, 2s and 4s and plays for 6s. b continues a: its stream is a4 a5
// DISC b1..b5, giving 5 windows over 10s starting at media sequence 3.
func TestService_MediaPlaylist_playout(t *testing.T) {
	env := newTestEnv(t, twoAssetChannel(t, false))
	ctx := context.Background()

	sess, err := env.svc.CreateSession(ctx)
	require.NoError(t, err)

	steps := []struct {
		name       string
		advance    time.Duration
		mediaSeq   string
		discSeq    string
		uris       []string
		disc       bool
		endList    bool
		wantPos    int
		wantWindow int
	}{
		{"first window", 0, "0", "", []string{seg("a", 1), seg("a", 2), seg("a", 3)}, false, false, 0, 0},
		{"mid segment", time.Second, "0", "", []string{seg("a", 1), seg("a", 2), seg("a", 3)}, false, false, 0, 0},
		{"last window of a", 3 * time.Second, "2", "", []string{seg("a", 3), seg("a", 4), seg("a", 5)}, false, false, 0, 2},
		{"b continues a", 2 * time.Second, "3", "", []string{seg("a", 4), seg("a", 5), seg("b", 1)}, true, false, 1, 0},
		{"boundary still visible", 4 * time.Second, "5", "", []string{seg("b", 1), seg("b", 2), seg("b", 3)}, true, false, 1, 2},
		{"boundary slid out", 2 * time.Second, "6", "1", []string{seg("b", 2), seg("b", 3), seg("b", 4)}, false, false, 1, 3},
		{"channel ended", 10 * time.Second, "7", "1", []string{seg("b", 3), seg("b", 4), seg("b", 5)}, false, true, 1, 4},
	}
	for _, step := range steps {
		env.clock.Advance(step.advance)

		m3u8, err := env.svc.MediaPlaylist(ctx, sess.ID, "1000")
		require.NoError(t, err, step.name)
		assert.Contains(t, m3u8, "#EXT-X-MEDIA-SEQUENCE:"+step.mediaSeq+"\n", step.name)
		if step.discSeq == "" {
			assert.NotContains(t, m3u8, "#EXT-X-DISCONTINUITY-SEQUENCE", step.name)
		} else {
			assert.Contains(t, m3u8, "#EXT-X-DISCONTINUITY-SEQUENCE:"+step.discSeq+"\n", step.name)
		}
		assert.Equal(t, step.uris, playlistURIs(m3u8), step.name)
		assert.Equal(t, step.disc, strings.Contains(m3u8, "#EXT-X-DISCONTINUITY\n"), step.name)
		assert.Equal(t, step.endList, strings.HasSuffix(m3u8, "#EXT-X-ENDLIST\n"), step.name)

		st, err := env.svc.Status(ctx, sess.ID)
		require.NoError(t, err, step.name)
		assert.Equal(t, step.wantPos, st.Position, step.name)
		assert.Equal(t, step.wantWindow, st.Window, step.name)
		assert.Equal(t, step.endList, st.Ended, step.name)
	}

	assert.EqualValues(t, 2, env.loader.calls.Load())
}

func seg(name string, i int) string {
	return segmentURI(name, "1000", i)
}

func TestService_MediaPlaylist_loop(t *testing.T) {
	env := newTestEnv(t, twoAssetChannel(t, true))
	ctx := context.Background()

	sess, err := env.svc.CreateSession(ctx)
	require.NoError(t, err)

	// 6s of a plus 10s of b lands on window 0 of a, played after b.
	env.clock.Advance(16 * time.Second)
	m3u8, err := env.svc.MediaPlaylist(ctx, sess.ID, "1000")
	require.NoError(t, err)

	assert.Contains(t, m3u8, "#EXT-X-MEDIA-SEQUENCE:8\n")
	assert.Contains(t, m3u8, "#EXT-X-DISCONTINUITY-SEQUENCE:1\n")
	assert.NotContains(t, m3u8, "#EXT-X-ENDLIST")
	assert.Equal(t, []string{seg("b", 4), seg("b", 5), seg("a", 1)}, playlistURIs(m3u8))

	st, err := env.svc.Status(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Position)
	assert.Equal(t, env.clock.Now(), st.StartedAt)
	assert.EqualValues(t, 3, env.loader.calls.Load())
}

func TestService_MediaPlaylist_rendition_remap(t *testing.T) {
	dir := t.TempDir()
	channel := &Channel{Sources: []string{
		writeAsset(t, dir, "a", 5, "1000", "2000"),
		writeAsset(t, dir, "b", 5, "1500", "2600"),
	}}
	env := newTestEnv(t, channel)
	ctx := context.Background()

	sess, err := env.svc.CreateSession(ctx)
	require.NoError(t, err)
	env.clock.Advance(6 * time.Second)

	m3u8, err := env.svc.MediaPlaylist(ctx, sess.ID, "2000")
	require.NoError(t, err)
	uris := playlistURIs(m3u8)
	require.NotEmpty(t, uris)
	assert.Equal(t, segmentURI("b", "1500", 1), uris[len(uris)-1])
}

func TestService_MediaPlaylist_errors(t *testing.T) {
	env := newTestEnv(t, twoAssetChannel(t, false))
	ctx := context.Background()

	sess, err := env.svc.CreateSession(ctx)
	require.NoError(t, err)

	_, err = env.svc.MediaPlaylist(ctx, sess.ID, "999")
	assert.ErrorIs(t, err, hlsvod.ErrInvalidBandwidth)

	_, err = env.svc.MediaPlaylist(ctx, "nope", "1000")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestService_MediaPlaylist_touches_session(t *testing.T) {
	env := newTestEnv(t, twoAssetChannel(t, false))
	ctx := context.Background()

	sess, err := env.svc.CreateSession(ctx)
	require.NoError(t, err)
	env.clock.Advance(7 * time.Second)

	_, err = env.svc.MediaPlaylist(ctx, sess.ID, "1000")
	require.NoError(t, err)

	got, err := env.store.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, env.clock.Now(), got.LastSeen)
	assert.Equal(t, 1, got.Position)
	assert.Equal(t, sess.StartedAt.Add(6*time.Second), got.StartedAt)
}

func TestService_Status(t *testing.T) {
	env := newTestEnv(t, twoAssetChannel(t, false))
	ctx := context.Background()

	sess, err := env.svc.CreateSession(ctx)
	require.NoError(t, err)
	env.clock.Advance(2 * time.Second)

	st, err := env.svc.Status(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, st.ID)
	assert.Equal(t, 1, st.Window)
	assert.Equal(t, 3, st.WindowCount)
	assert.Equal(t, 1, st.MediaSequence)
	assert.Equal(t, []hlsvod.Bandwidth{"1000", "2000"}, st.Bandwidths)
	assert.False(t, st.Ended)
	assert.Len(t, st.AssetID, 12)

	_, err = env.svc.Status(ctx, "nope")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestService_EndSession(t *testing.T) {
	env := newTestEnv(t, twoAssetChannel(t, false))
	ctx := context.Background()

	sess, err := env.svc.CreateSession(ctx)
	require.NoError(t, err)

	require.NoError(t, env.svc.EndSession(ctx, sess.ID))
	_, err = env.svc.MediaPlaylist(ctx, sess.ID, "1000")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	err = env.svc.EndSession(ctx, sess.ID)
	assert.True(t, errors.Is(err, ErrSessionNotFound))
}

func TestRendition(t *testing.T) {
	dir := t.TempDir()
	a := hlsvod.NewAsset(writeAsset(t, dir, "a", 5, "1500", "2600"), testWindow)
	require.NoError(t, NewFetcher(nil).LoadAsset(context.Background(), a, nil))

	assert.Equal(t, hlsvod.Bandwidth("2000"), rendition(a, 0, "2000"), "first asset is never remapped")
	assert.Equal(t, hlsvod.Bandwidth("1500"), rendition(a, 1, "2000"))
	assert.Equal(t, hlsvod.Bandwidth("2600"), rendition(a, 1, "2600"))
	assert.Equal(t, hlsvod.Bandwidth("2600"), rendition(a, 1, "9000000"))
	assert.Equal(t, hlsvod.Bandwidth("abc"), rendition(a, 1, "abc"))
}
