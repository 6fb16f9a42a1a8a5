package tileloader

import (
	"context"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/brannongeo/terratile/pkg/layout"
	"github.com/brannongeo/terratile/pkg/raster"
)

// lruEntry is the single-flight cell the LRU cache stores per key: either
// a decoded raster (once loaded), or a pending call other goroutines can
// wait on.
type lruEntry struct {
	done chan struct{}
	ras  *raster.Raster
	err  error
}

// LRUCached wraps upstream with a bounded recent-raster cache, keyed on
// (zoom, x, y). max_entries and max_bytes are independent budgets; either
// or both may apply. Concurrent misses on the same key single-flight: the
// first caller loads upstream, the rest block on its result.
type LRUCached struct {
	upstream  TileLoader
	mu        sync.Mutex
	cache     *lru.Cache[Key, *lruEntry]
	maxBytes  int64
	usedBytes int64
}

// NewLRUCached builds the wrapper. maxEntries <= 0 means unbounded by
// count; maxBytes <= 0 means unbounded by byte size. At least one of the
// two should be positive or the cache never evicts.
func NewLRUCached(upstream TileLoader, maxEntries int, maxBytes int64) (*LRUCached, error) {
	capacity := maxEntries
	if capacity <= 0 {
		capacity = 1 << 20 // effectively unbounded by count; maxBytes governs instead
	}
	w := &LRUCached{upstream: upstream, maxBytes: maxBytes}
	cache, err := lru.NewWithEvict(capacity, w.onEvict)
	if err != nil {
		return nil, err
	}
	w.cache = cache
	return w, nil
}

// onEvict is golang-lru's eviction callback; it only accounts bytes, since
// golang-lru already enforces the entry-count budget itself.
func (w *LRUCached) onEvict(_ Key, e *lruEntry) {
	if e.ras != nil {
		w.usedBytes -= int64(len(e.ras.Pix))
	}
}

// Layout implements TileLoader.
func (w *LRUCached) Layout() *layout.Layout { return w.upstream.Layout() }

// MinZoom implements TileLoader.
func (w *LRUCached) MinZoom() int { return w.upstream.MinZoom() }

// MaxZoom implements TileLoader.
func (w *LRUCached) MaxZoom() int { return w.upstream.MaxZoom() }

// Load implements TileLoader. All index/LRU-list mutation happens under
// w.mu; the critical sections never span the upstream load itself, which
// runs after the pending sentinel has been installed and the lock
// released.
func (w *LRUCached) Load(ctx context.Context, key Key) (*raster.Raster, error) {
	w.mu.Lock()
	if e, ok := w.cache.Get(key); ok {
		w.mu.Unlock()
		<-e.done
		return e.ras, e.err
	}

	e := &lruEntry{done: make(chan struct{})}
	w.cache.Add(key, e)
	w.mu.Unlock()

	ras, err := w.upstream.Load(ctx, key)

	w.mu.Lock()
	e.ras, e.err = ras, err
	if err != nil {
		w.cache.Remove(key)
	} else {
		w.usedBytes += int64(len(ras.Pix))
		w.evictToByteBudgetLocked()
	}
	w.mu.Unlock()
	close(e.done)

	return ras, err
}

// evictToByteBudgetLocked drops least-recent entries until usedBytes fits
// the configured budget. Caller holds w.mu.
func (w *LRUCached) evictToByteBudgetLocked() {
	if w.maxBytes <= 0 {
		return
	}
	for w.usedBytes > w.maxBytes {
		_, _, ok := w.cache.RemoveOldest()
		if !ok {
			return
		}
	}
}
