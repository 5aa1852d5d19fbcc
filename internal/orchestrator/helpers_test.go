package orchestrator

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"vod2live/internal/hlsvod"

	"github.com/stretchr/testify/require"
)

// testWindow keeps fixtures small: 5 two-second segments give 3 windows.
const testWindow = 3

// writeAsset writes a master playlist and one media playlist per bandwidth
// under dir/name and returns the master path. Every rendition has n
// two-second segments with absolute URIs https://cdn.test/<name>/<bw>/<i>.ts.
func writeAsset(t *testing.T, dir, name string, n int, bws ...string) string {
	t.Helper()
	root := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(root, 0o755))

	var master strings.Builder
	master.WriteString("#EXTM3U\n#EXT-X-VERSION:3\n")
	for _, bw := range bws {
		fmt.Fprintf(&master, "#EXT-X-STREAM-INF:BANDWIDTH=%s\n%s.m3u8\n", bw, bw)

		var media strings.Builder
		media.WriteString("#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-TARGETDURATION:2\n")
		for i := 1; i <= n; i++ {
			fmt.Fprintf(&media, "#EXTINF:2.000,\n%s\n", segmentURI(name, bw, i))
		}
		media.WriteString("#EXT-X-ENDLIST\n")
		require.NoError(t, os.WriteFile(filepath.Join(root, bw+".m3u8"), []byte(media.String()), 0o644))
	}

	path := filepath.Join(root, "master.m3u8")
	require.NoError(t, os.WriteFile(path, []byte(master.String()), 0o644))
	return path
}

// writeZeroDurationAsset is writeAsset with every segment declared 0 seconds
// long.
func writeZeroDurationAsset(t *testing.T, dir, name string, n int, bws ...string) string {
	t.Helper()
	path := writeAsset(t, dir, name, n, bws...)
	for _, bw := range bws {
		media := filepath.Join(dir, name, bw+".m3u8")
		b, err := os.ReadFile(media)
		require.NoError(t, err)
		b = []byte(strings.ReplaceAll(string(b), "#EXTINF:2.000,", "#EXTINF:0,"))
		require.NoError(t, os.WriteFile(media, b, 0o644))
	}
	return path
}

func segmentURI(name, bw string, i int) string {
	return fmt.Sprintf("https://cdn.test/%s/%s/%d.ts", name, bw, i)
}

// countingLoader counts LoadAsset calls made through it.
type countingLoader struct {
	next  AssetLoader
	calls atomic.Int32
}

func (l *countingLoader) LoadAsset(ctx context.Context, a, predecessor *hlsvod.Asset) error {
	l.calls.Add(1)
	return l.next.LoadAsset(ctx, a, predecessor)
}

// fakeClock is a settable time source.
type fakeClock struct {
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type testEnv struct {
	svc    *Service
	store  *InMemoryStore
	assets *AssetRepository
	loader *countingLoader
	clock  *fakeClock
}

// newTestEnv returns a service playing channel out of an in-memory store
// with a fake clock.
func newTestEnv(t *testing.T, channel *Channel) *testEnv {
	t.Helper()
	clock := newFakeClock()
	store := NewInMemoryStore(time.Hour, 0)
	store.now = clock.Now
	t.Cleanup(store.Close)

	assets := NewAssetRepository(0, nil)
	loader := &countingLoader{next: NewFetcher(nil)}
	svc := NewService(store, assets, channel, loader, testWindow)
	svc.now = clock.Now
	return &testEnv{svc: svc, store: store, assets: assets, loader: loader, clock: clock}
}

// twoAssetChannel returns a channel of assets "a" and "b", each with 5
// segments in renditions 1000 and 2000.
func twoAssetChannel(t *testing.T, loop bool) *Channel {
	t.Helper()
	dir := t.TempDir()
	return &Channel{
		Sources: []string{
			writeAsset(t, dir, "a", 5, "1000", "2000"),
			writeAsset(t, dir, "b", 5, "1000", "2000"),
		},
		Loop: loop,
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// playlistURIs returns the non-tag lines of a playlist.
func playlistURIs(m3u8 string) []string {
	var out []string
	for _, line := range strings.Split(m3u8, "\n") {
		if line != "" && !strings.HasPrefix(line, "#") {
			out = append(out, line)
		}
	}
	return out
}
