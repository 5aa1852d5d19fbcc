package hlsvod

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const hls1 = "testdata/hls1"

// hls1 segment URIs carry a per-rendition profile number.
var hls1Profiles = map[Bandwidth]int{
	"1497000": 3,
	"2497000": 2,
	"3496000": 1,
	"4497000": 0,
}

func hls1URI(segment int, bw Bandwidth) string {
	return fmt.Sprintf("https://tv4play-i.akamaihd.net/i/mp4root/2018-01-26/"+
		"pid200032972(3953564_,T3MP445,T3MP435,T3MP425,T3MP415,T3MP48,T3MP43,T3MP4130,)"+
		".mp4.csmil/segment%d_%d_av.ts", segment, hls1Profiles[bw])
}

func fileMaster(dir string) MasterFetcher {
	return func(context.Context) (io.ReadCloser, error) {
		return os.Open(filepath.Join(dir, "master.m3u8"))
	}
}

func fileMedia(dir string) MediaFetcher {
	return func(_ context.Context, v Variant) (io.ReadCloser, error) {
		return os.Open(filepath.Join(dir, string(v.Bandwidth)+".m3u8"))
	}
}

func stringMaster(s string) MasterFetcher {
	return func(context.Context) (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader(s)), nil
	}
}

func stringMedia(playlists map[Bandwidth]string) MediaFetcher {
	return func(_ context.Context, v Variant) (io.ReadCloser, error) {
		s, ok := playlists[v.Bandwidth]
		if !ok {
			return nil, fmt.Errorf("no playlist for %s", v.Bandwidth)
		}
		return io.NopCloser(strings.NewReader(s)), nil
	}
}

// masterText declares one variant per bandwidth, named <bw>.m3u8.
func masterText(bws ...Bandwidth) string {
	var b strings.Builder
	b.WriteString("#EXTM3U\n#EXT-X-VERSION:3\n")
	for _, bw := range bws {
		fmt.Fprintf(&b, "#EXT-X-STREAM-INF:BANDWIDTH=%s\n%s.m3u8\n", bw, bw)
	}
	return b.String()
}

// mediaText returns a playlist of n 2-second segments named <prefix><i>.ts,
// with a discontinuity before each segment listed in discBefore.
func mediaText(n int, prefix string, discBefore ...int) string {
	disc := make(map[int]bool, len(discBefore))
	for _, i := range discBefore {
		disc[i] = true
	}
	var b strings.Builder
	b.WriteString("#EXTM3U\n#EXT-X-TARGETDURATION:2\n#EXT-X-VERSION:3\n")
	for i := 1; i <= n; i++ {
		if disc[i] {
			b.WriteString("#EXT-X-DISCONTINUITY\n")
		}
		fmt.Fprintf(&b, "#EXTINF:2.000,\n%s%d.ts\n", prefix, i)
	}
	b.WriteString("#EXT-X-ENDLIST\n")
	return b.String()
}

func loadHLS1(t *testing.T, source string) *Asset {
	t.Helper()
	a := NewAsset(source, 6)
	require.NoError(t, a.Load(context.Background(), fileMaster(hls1), fileMedia(hls1)))
	return a
}

// loadSynthetic loads an asset with one rendition per bandwidth, each with
// n segments named <prefix><bw>-<i>.ts.
func loadSynthetic(t *testing.T, pred *Asset, source string, w, n int, prefix string, bws ...Bandwidth) *Asset {
	t.Helper()
	media := make(map[Bandwidth]string, len(bws))
	for _, bw := range bws {
		media[bw] = mediaText(n, fmt.Sprintf("%s%s-", prefix, bw))
	}
	a := NewAsset(source, w)
	var err error
	if pred == nil {
		err = a.Load(context.Background(), stringMaster(masterText(bws...)), stringMedia(media))
	} else {
		err = a.LoadAfter(context.Background(), pred, stringMaster(masterText(bws...)), stringMedia(media))
	}
	require.NoError(t, err)
	return a
}

func uris(slots []Slot) []string {
	out := make([]string, 0, len(slots))
	for _, s := range slots {
		if s.IsDiscontinuity() {
			out = append(out, "DISC")
			continue
		}
		out = append(out, s.URI)
	}
	return out
}

func realOffsets(slots []Slot) []int {
	var out []int
	for _, s := range slots {
		if !s.IsDiscontinuity() {
			out = append(out, s.Offset)
		}
	}
	return out
}
