package tileloader

import (
	"context"
	"os"
	"sync/atomic"
	"testing"

	"github.com/brannongeo/terratile/pkg/layout"
	"github.com/brannongeo/terratile/pkg/raster"
)

func TestDiskCachedDirectFetchWritesThrough(t *testing.T) {
	dir := t.TempDir()
	upstream := &countingLoader{l: testXYZLayout(t)}
	cached := NewDiskCached(upstream, dir, 0, raster.PNGEncoder{}, raster.StdDecoder{}, raster.DrawResizer{})

	key := Key{X: 1, Y: 2, Zoom: 0}
	ras, err := cached.Load(context.Background(), key)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	r, g, b := ras.At(0, 0)
	if r != 1 || g != 2 || b != 0 {
		t.Errorf("At(0,0) = (%d,%d,%d), want (1,2,0)", r, g, b)
	}

	if _, err := os.Stat(cached.path(key)); err != nil {
		t.Errorf("expected tile written to disk at %s: %v", cached.path(key), err)
	}

	if _, err := cached.Load(context.Background(), key); err != nil {
		t.Fatalf("second Load: %v", err)
	}
	if got := atomic.LoadInt32(&upstream.calls); got != 1 {
		t.Errorf("upstream calls = %d, want 1 (second load served from disk)", got)
	}
}

func TestDiskCachedSplitsParentIntoChildren(t *testing.T) {
	dir := t.TempDir()
	l := testXYZLayout(t) // 4x4 tiles
	// parentLoader stands in for a real upstream, so its Load must honor
	// the same contract every TileLoader does: a tile_shape_px raster, not
	// one pre-scaled by the 2^k DiskCached is about to resize it by.
	parentLoader := &fixedRasterLoader{l: l, ras: raster.Filled(4, 4, 9, 9, 9)}
	cached := NewDiskCached(parentLoader, dir, 1, raster.PNGEncoder{}, raster.StdDecoder{}, raster.DrawResizer{})

	key := Key{X: 2, Y: 3, Zoom: 1}
	ras, err := cached.Load(context.Background(), key)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if ras.Width != 4 || ras.Height != 4 {
		t.Fatalf("child shape = %dx%d, want 4x4", ras.Width, ras.Height)
	}
	if r, g, b := ras.At(0, 0); r != 9 || g != 9 || b != 9 {
		t.Errorf("child pixel = (%d,%d,%d), want (9,9,9) (resized parent is a flat fill)", r, g, b)
	}

	sibling := Key{X: 3, Y: 2, Zoom: 1}
	if _, err := os.Stat(cached.path(sibling)); err != nil {
		t.Errorf("expected sibling child written to disk: %v", err)
	}
	if got := atomic.LoadInt32(&parentLoader.calls); got != 1 {
		t.Errorf("parent loader calls = %d, want 1 (one fetch serves all 4 children)", got)
	}
}

// fixedRasterLoader always returns the same raster, for DiskCached's
// zoom-up split test.
type fixedRasterLoader struct {
	l     *layout.Layout
	ras   *raster.Raster
	calls int32
}

func (f *fixedRasterLoader) Layout() *layout.Layout { return f.l }
func (f *fixedRasterLoader) MinZoom() int           { return 0 }
func (f *fixedRasterLoader) MaxZoom() int           { return 2 }

func (f *fixedRasterLoader) Load(ctx context.Context, key Key) (*raster.Raster, error) {
	atomic.AddInt32(&f.calls, 1)
	return f.ras, nil
}
