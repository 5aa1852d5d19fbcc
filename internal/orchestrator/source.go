package orchestrator

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"vod2live/internal/hlsvod"
)

// AssetLoader loads an asset, after predecessor when it is non-nil.
type AssetLoader interface {
	LoadAsset(ctx context.Context, a *hlsvod.Asset, predecessor *hlsvod.Asset) error
}

// Fetcher reads playlists over HTTP(S) or from the local filesystem,
// depending on the URI scheme.
type Fetcher struct {
	client *http.Client
}

// NewFetcher returns a Fetcher using client for remote playlists. A nil
// client means http.DefaultClient.
func NewFetcher(client *http.Client) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &Fetcher{client: client}
}

// LoadAsset implements AssetLoader.
func (f *Fetcher) LoadAsset(ctx context.Context, a *hlsvod.Asset, predecessor *hlsvod.Asset) error {
	master := func(ctx context.Context) (io.ReadCloser, error) {
		return f.Open(ctx, a.Source())
	}
	media := func(ctx context.Context, v hlsvod.Variant) (io.ReadCloser, error) {
		return f.Open(ctx, v.URI)
	}
	if predecessor == nil {
		return a.Load(ctx, master, media)
	}
	return a.LoadAfter(ctx, predecessor, master, media)
}

// Open returns the content at uri. http and https URIs are fetched with a
// GET request; file URIs and plain paths are opened from disk.
func (f *Fetcher) Open(ctx context.Context, uri string) (io.ReadCloser, error) {
	if strings.HasPrefix(uri, "http://") || strings.HasPrefix(uri, "https://") {
		return f.get(ctx, uri)
	}
	return os.Open(strings.TrimPrefix(uri, "file://"))
}

func (f *Fetcher) get(ctx context.Context, uri string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("GET %s: unexpected status %s", uri, resp.Status)
	}
	return resp.Body, nil
}
