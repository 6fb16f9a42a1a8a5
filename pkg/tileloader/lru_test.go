package tileloader

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/brannongeo/terratile/pkg/layout"
	"github.com/brannongeo/terratile/pkg/raster"
	"github.com/brannongeo/terratile/pkg/terrors"
)

// countingLoader counts Load calls per key and returns a filled raster, or
// NotFound for keys listed in missing.
type countingLoader struct {
	l       *layout.Layout
	calls   int32
	missing map[Key]bool
}

func (c *countingLoader) Layout() *layout.Layout { return c.l }
func (c *countingLoader) MinZoom() int           { return 0 }
func (c *countingLoader) MaxZoom() int           { return 2 }

func (c *countingLoader) Load(ctx context.Context, key Key) (*raster.Raster, error) {
	atomic.AddInt32(&c.calls, 1)
	if c.missing[key] {
		return nil, &terrors.NotFound{Key: "missing"}
	}
	return raster.Filled(4, 4, uint8(key.X), uint8(key.Y), uint8(key.Zoom)), nil
}

func TestLRUCachedHitAvoidsSecondLoad(t *testing.T) {
	upstream := &countingLoader{l: testXYZLayout(t)}
	cached, err := NewLRUCached(upstream, 10, 0)
	if err != nil {
		t.Fatalf("NewLRUCached: %v", err)
	}

	key := Key{X: 1, Y: 2, Zoom: 0}
	if _, err := cached.Load(context.Background(), key); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := cached.Load(context.Background(), key); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := atomic.LoadInt32(&upstream.calls); got != 1 {
		t.Errorf("upstream calls = %d, want 1", got)
	}
}

func TestLRUCachedConcurrentMissesSingleFlight(t *testing.T) {
	upstream := &countingLoader{l: testXYZLayout(t)}
	cached, err := NewLRUCached(upstream, 10, 0)
	if err != nil {
		t.Fatalf("NewLRUCached: %v", err)
	}

	key := Key{X: 0, Y: 0, Zoom: 0}
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := cached.Load(context.Background(), key); err != nil {
				t.Errorf("Load: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt32(&upstream.calls); got != 1 {
		t.Errorf("upstream calls = %d, want 1 (single-flight)", got)
	}
}

func TestLRUCachedEvictsPastByteBudget(t *testing.T) {
	upstream := &countingLoader{l: testXYZLayout(t)}
	// Each 4x4 RGB raster is 48 bytes; budget for one entry only.
	cached, err := NewLRUCached(upstream, 10, 48)
	if err != nil {
		t.Fatalf("NewLRUCached: %v", err)
	}

	k1 := Key{X: 0, Y: 0, Zoom: 0}
	k2 := Key{X: 1, Y: 0, Zoom: 0}
	if _, err := cached.Load(context.Background(), k1); err != nil {
		t.Fatalf("Load k1: %v", err)
	}
	if _, err := cached.Load(context.Background(), k2); err != nil {
		t.Fatalf("Load k2: %v", err)
	}
	// k1 should have been evicted to stay within the byte budget; loading
	// it again must hit upstream a second time.
	if _, err := cached.Load(context.Background(), k1); err != nil {
		t.Fatalf("Load k1 again: %v", err)
	}
	if got := atomic.LoadInt32(&upstream.calls); got != 3 {
		t.Errorf("upstream calls = %d, want 3 (k1, k2, k1-again)", got)
	}
}

func TestLRUCachedDoesNotCacheErrors(t *testing.T) {
	upstream := &countingLoader{l: testXYZLayout(t), missing: map[Key]bool{{X: 5, Y: 5, Zoom: 0}: true}}
	cached, err := NewLRUCached(upstream, 10, 0)
	if err != nil {
		t.Fatalf("NewLRUCached: %v", err)
	}

	key := Key{X: 5, Y: 5, Zoom: 0}
	if _, err := cached.Load(context.Background(), key); err == nil {
		t.Fatal("expected NotFound")
	}
	if _, err := cached.Load(context.Background(), key); err == nil {
		t.Fatal("expected NotFound on second call")
	}
	if got := atomic.LoadInt32(&upstream.calls); got != 2 {
		t.Errorf("upstream calls = %d, want 2 (errors are not cached)", got)
	}
}
