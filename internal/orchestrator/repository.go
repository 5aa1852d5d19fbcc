package orchestrator

import (
	"context"
	"sync"
	"time"

	"vod2live/internal/hlsvod"

	"golang.org/x/sync/singleflight"
)

// LoadFunc loads the asset for a repository key.
type LoadFunc func(ctx context.Context) (*hlsvod.Asset, error)

// LoadObserver is told the outcome and duration of every asset load.
type LoadObserver func(key string, d time.Duration, err error)

// AssetRepository is a concurrency-safe cache of loaded assets shared by
// all sessions. Concurrent requests for the same key share one load, and
// assets not used for longer than the idle timeout are evicted. Failed
// loads are not cached.
type AssetRepository struct {
	mu     sync.RWMutex
	assets map[string]*cachedAsset
	group  singleflight.Group

	idle     time.Duration
	now      func() time.Time
	observer LoadObserver
}

type cachedAsset struct {
	asset    *hlsvod.Asset
	lastUsed time.Time
}

// NewAssetRepository returns an empty repository. idle <= 0 disables eviction.
func NewAssetRepository(idle time.Duration, observer LoadObserver) *AssetRepository {
	return &AssetRepository{
		assets:   make(map[string]*cachedAsset),
		idle:     idle,
		now:      time.Now,
		observer: observer,
	}
}

// Get returns the asset cached under key, calling load if there is none.
// The load runs detached from ctx cancellation so that one impatient
// caller does not fail every request waiting on the same key.
func (r *AssetRepository) Get(ctx context.Context, key string, load LoadFunc) (*hlsvod.Asset, error) {
	if a, ok := r.lookup(key); ok {
		return a, nil
	}

	v, err, _ := r.group.Do(key, func() (any, error) {
		if a, ok := r.lookup(key); ok {
			return a, nil
		}
		start := r.now()
		a, err := load(context.WithoutCancel(ctx))
		if r.observer != nil {
			r.observer(key, r.now().Sub(start), err)
		}
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		r.assets[key] = &cachedAsset{asset: a, lastUsed: r.now()}
		r.mu.Unlock()
		return a, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*hlsvod.Asset), nil
}

func (r *AssetRepository) lookup(key string) (*hlsvod.Asset, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.assets[key]
	if !ok {
		return nil, false
	}
	c.lastUsed = r.now()
	return c.asset, true
}

// Len returns the number of cached assets.
func (r *AssetRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.assets)
}

// EvictIdle drops assets unused for longer than the idle timeout and
// returns how many were dropped.
func (r *AssetRepository) EvictIdle() int {
	if r.idle <= 0 {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-r.idle)
	n := 0
	for key, c := range r.assets {
		if c.lastUsed.Before(cutoff) {
			delete(r.assets, key)
			n++
		}
	}
	return n
}

// Run evicts idle assets every interval until ctx is done.
func (r *AssetRepository) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.EvictIdle()
		}
	}
}
