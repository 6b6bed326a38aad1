package cache

import (
	"context"
	"sync/atomic"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// FetchFunc performs the network request for a cache miss. It is expected to
// acquire the rate limiter itself.
type FetchFunc func(ctx context.Context) ([]byte, error)

// Fetcher serves responses from a Store before falling back to the network.
type Fetcher struct {
	store  Store
	hits   atomic.Int64
	misses atomic.Int64

	// OnHit and OnMiss observe lookups, e.g. for metrics. Optional.
	OnHit  func(endpoint string)
	OnMiss func(endpoint string)
}

// NewFetcher wraps store.
func NewFetcher(store Store) *Fetcher {
	return &Fetcher{store: store}
}

// FetchWithCache returns the cached payload for (endpoint, key) if present.
// Otherwise it calls fetch, stores the payload and returns it. Failed fetches
// are not cached. A cache read error falls through to the network; a cache
// write error is logged and the fresh payload is still returned.
func (f *Fetcher) FetchWithCache(ctx context.Context, endpoint, key string, fetch FetchFunc) ([]byte, error) {
	payload, found, err := f.store.Get(ctx, endpoint, key)
	if err != nil {
		zap.L().Warn("cache read failed, fetching",
			zap.String("endpoint", endpoint),
			zap.String("key", key),
			zap.Error(err),
		)
	}
	if found {
		f.hits.Add(1)
		if f.OnHit != nil {
			f.OnHit(endpoint)
		}
		return payload, nil
	}

	f.misses.Add(1)
	if f.OnMiss != nil {
		f.OnMiss(endpoint)
	}

	payload, err = fetch(ctx)
	if err != nil {
		return nil, eris.Wrapf(err, "cache: fetch %s/%s", endpoint, key)
	}

	if err := f.store.Put(ctx, endpoint, key, payload); err != nil {
		zap.L().Warn("cache write failed",
			zap.String("endpoint", endpoint),
			zap.String("key", key),
			zap.Error(err),
		)
	}
	return payload, nil
}

// Hits returns the number of lookups served from the store.
func (f *Fetcher) Hits() int64 { return f.hits.Load() }

// Misses returns the number of lookups that went to the network.
func (f *Fetcher) Misses() int64 { return f.misses.Load() }
