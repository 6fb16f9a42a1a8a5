package stitcher

import (
	"context"
	"math"
	"testing"

	"github.com/brannongeo/terratile/pkg/geo"
	"github.com/brannongeo/terratile/pkg/layout"
	"github.com/brannongeo/terratile/pkg/raster"
	"github.com/brannongeo/terratile/pkg/terrors"
	"github.com/brannongeo/terratile/pkg/tileloader"
)

// colorTileLoader fills each tile with a color encoding its own (x, y)
// tile index, clamped to a byte, so a render's center pixel can be checked
// against the tile it should have come from.
type colorTileLoader struct {
	l       *layout.Layout
	minZoom int
	maxZoom int
}

func (c *colorTileLoader) Layout() *layout.Layout { return c.l }
func (c *colorTileLoader) MinZoom() int           { return c.minZoom }
func (c *colorTileLoader) MaxZoom() int           { return c.maxZoom }

func (c *colorTileLoader) Load(ctx context.Context, key tileloader.Key) (*raster.Raster, error) {
	shape := c.l.TileShapePx
	return raster.Filled(int(shape[0]), int(shape[1]), uint8(key.X), uint8(key.Y), uint8(key.Zoom)), nil
}

func xyzLoader(t *testing.T) *colorTileLoader {
	t.Helper()
	l, err := layout.XYZ([2]int64{256, 256}, 20)
	if err != nil {
		t.Fatalf("XYZ: %v", err)
	}
	return &colorTileLoader{l: l, minZoom: 0, maxZoom: 20}
}

// flatLoader builds a Layout whose CRS is plain EPSG:4326 degrees (so
// LatLonToCrs is the identity transform), south tile axis, at a scale
// chosen so the covering tiles' Y index stays small and easy to reason
// about by hand: no PROJ or Web Mercator nonlinearity to account for.
func flatLoader(t *testing.T) *colorTileLoader {
	t.Helper()
	l, err := layout.New(
		"epsg:4326",
		layout.Pair{layout.East, layout.South},
		[2]int64{100, 100},
		layout.Vec2{X: 0.01, Y: 0.01},
		layout.Vec2{X: 0, Y: 0},
		nil,
		0, 10,
	)
	if err != nil {
		t.Fatalf("layout.New: %v", err)
	}
	return &colorTileLoader{l: l, minZoom: 0, maxZoom: 10}
}

// TestRenderNorthIsUp renders a tall, unrotated (bearing 0) view and checks
// that a pixel near the top of the output comes from a tile north of one
// sampled near the bottom — i.e. that north renders at the top of the
// image, not the bottom. This is the regression check for the Y-axis sign
// used when mapping output pixel offsets to super-tile pixel offsets.
func TestRenderNorthIsUp(t *testing.T) {
	loader := flatLoader(t)
	s := New(loader, 4)

	center := geo.LatLon{Lat: -0.05, Lon: 0.05}
	const mpp = 50.0
	const outW, outH = 64, 100
	req := Request{
		LatLon:         center,
		BearingDeg:     0,
		MetersPerPixel: mpp,
		OutputWidth:    outW,
		OutputHeight:   outH,
		Zoom:           0,
	}

	out, err := s.Render(context.Background(), req)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	_, mpdY := geo.MetersPerDeg(center)
	centerOutY := float64(outH) / 2

	expectedTileY := func(row int) int64 {
		metersSouthOfCenter := (float64(row) + 0.5 - centerOutY) * mpp
		lat := center.Lat - metersSouthOfCenter/mpdY
		tile, err := loader.l.Epsg4326ToTile(geo.LatLon{Lat: lat, Lon: center.Lon}, 0)
		if err != nil {
			t.Fatalf("Epsg4326ToTile: %v", err)
		}
		return int64(math.Floor(tile.Y))
	}

	const topRow, bottomRow = 2, 97
	wantTopY := expectedTileY(topRow)
	wantBottomY := expectedTileY(bottomRow)
	if wantTopY >= wantBottomY {
		t.Fatalf("test setup error: wantTopY=%d should be < wantBottomY=%d", wantTopY, wantBottomY)
	}

	_, topG, _ := out.At(outW/2, topRow)
	_, bottomG, _ := out.At(outW/2, bottomRow)

	if topG != uint8(wantTopY%256) {
		t.Errorf("top row (row %d) sampled tile Y = %d, want %d (the tile north of center)", topRow, topG, wantTopY)
	}
	if bottomG != uint8(wantBottomY%256) {
		t.Errorf("bottom row (row %d) sampled tile Y = %d, want %d (the tile south of center)", bottomRow, bottomG, wantBottomY)
	}
	if topG >= bottomG {
		t.Errorf("top-row tile Y (%d) should be less than bottom-row tile Y (%d): north is rendering below south", topG, bottomG)
	}
}

func TestRenderOutputShape(t *testing.T) {
	s := New(xyzLoader(t), 4)
	out, err := s.Render(context.Background(), Request{
		LatLon:         geo.LatLon{Lat: 43.49111, Lon: -1.47309},
		BearingDeg:     90,
		MetersPerPixel: 0.2,
		OutputWidth:    64,
		OutputHeight:   48,
		Zoom:           20,
	})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if out.Width != 64 || out.Height != 48 {
		t.Fatalf("output shape = %dx%d, want 64x48", out.Width, out.Height)
	}
}

func TestRenderCenterPixelMatchesExpectedTile(t *testing.T) {
	loader := xyzLoader(t)
	s := New(loader, 4)
	req := Request{
		LatLon:         geo.LatLon{Lat: 43.49111, Lon: -1.47309},
		BearingDeg:     0,
		MetersPerPixel: 0.2,
		OutputWidth:    32,
		OutputHeight:   32,
		Zoom:           20,
	}
	out, err := s.Render(context.Background(), req)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	wantTile, err := loader.l.Epsg4326ToTile(req.LatLon, req.Zoom)
	if err != nil {
		t.Fatalf("Epsg4326ToTile: %v", err)
	}
	wantX, wantY := int64(wantTile.X), int64(wantTile.Y)

	r, g, b := out.At(16, 16)
	if int64(r) != wantX%256 || int64(g) != wantY%256 {
		t.Errorf("center pixel = (%d,%d,%d), want tile (%d,%d,zoom=%d)", r, g, b, wantX, wantY, req.Zoom)
	}
}

func TestRenderPropagatesNotFound(t *testing.T) {
	l, err := layout.XYZ([2]int64{256, 256}, 5)
	if err != nil {
		t.Fatalf("XYZ: %v", err)
	}
	missing := &notFoundLoader{l: l}
	s := New(missing, 2)
	_, err = s.Render(context.Background(), Request{
		LatLon:         geo.LatLon{Lat: 10, Lon: 10},
		BearingDeg:     0,
		MetersPerPixel: 50,
		OutputWidth:    16,
		OutputHeight:   16,
		Zoom:           5,
	})
	if err == nil {
		t.Fatal("expected NotFound error to propagate")
	}
	if !terrors.IsNotFound(err) {
		t.Errorf("expected a NotFound error, got %v", err)
	}
}

type notFoundLoader struct{ l *layout.Layout }

func (n *notFoundLoader) Layout() *layout.Layout { return n.l }
func (n *notFoundLoader) MinZoom() int           { return 0 }
func (n *notFoundLoader) MaxZoom() int           { return 5 }
func (n *notFoundLoader) Load(ctx context.Context, key tileloader.Key) (*raster.Raster, error) {
	return nil, &terrors.NotFound{Key: "stub"}
}

func TestMaxCornerIndexTieBreak(t *testing.T) {
	if got := maxCornerIndex(3.0); got != 2 {
		t.Errorf("maxCornerIndex(3.0) = %v, want 2 (smaller-index tie-break)", got)
	}
	if got := maxCornerIndex(3.5); got != 3 {
		t.Errorf("maxCornerIndex(3.5) = %v, want 3", got)
	}
}
