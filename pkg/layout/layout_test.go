package layout

import (
	"math"
	"testing"

	"github.com/brannongeo/terratile/pkg/geo"
)

func almostEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func TestTileCrsRoundTrip(t *testing.T) {
	l, err := XYZ([2]int64{256, 256}, 20)
	if err != nil {
		t.Fatalf("XYZ: %v", err)
	}

	cases := []struct {
		tx, ty float64
		zoom   int
	}{
		{0, 0, 0},
		{1, 1, 1},
		{3, 5, 2},
		{512, 300, 10},
	}

	for _, c := range cases {
		crsPt, err := l.TileToCrs(Vec2{X: c.tx, Y: c.ty}, c.zoom)
		if err != nil {
			t.Fatalf("TileToCrs(%v,%v,%d): %v", c.tx, c.ty, c.zoom, err)
		}
		back, err := l.CrsToTile(crsPt, c.zoom)
		if err != nil {
			t.Fatalf("CrsToTile: %v", err)
		}
		if !almostEqual(back.X, c.tx, 1e-6) || !almostEqual(back.Y, c.ty, 1e-6) {
			t.Errorf("round trip (%v,%v,%d) = %v, want (%v,%v)", c.tx, c.ty, c.zoom, back, c.tx, c.ty)
		}
	}
}

func TestPixelTileRoundTrip(t *testing.T) {
	l, err := XYZ([2]int64{256, 256}, 20)
	if err != nil {
		t.Fatalf("XYZ: %v", err)
	}

	t1 := Vec2{X: 17.25, Y: -4.5}
	px := l.TileToPixel(t1)
	back := l.PixelToTile(px)
	if !almostEqual(back.X, t1.X, 1e-9) || !almostEqual(back.Y, t1.Y, 1e-9) {
		t.Errorf("pixel<->tile round trip = %v, want %v", back, t1)
	}
}

func TestTileShapeCrsHalvesPerZoom(t *testing.T) {
	l, err := XYZ([2]int64{256, 256}, 20)
	if err != nil {
		t.Fatalf("XYZ: %v", err)
	}
	s0 := l.tileShapeCrsAtZoom(0)
	s1 := l.tileShapeCrsAtZoom(1)
	if !almostEqual(s0.X/2, s1.X, 1e-6) || !almostEqual(s0.Y/2, s1.Y, 1e-6) {
		t.Errorf("tile_shape_crs(1) = %v, want half of zoom 0 (%v)", s1, s0)
	}
}

func TestInvalidZoomRejected(t *testing.T) {
	l, err := XYZ([2]int64{256, 256}, 5)
	if err != nil {
		t.Fatalf("XYZ: %v", err)
	}
	if _, err := l.CrsToTile(Vec2{}, 6); err == nil {
		t.Fatal("expected InvalidZoom error for zoom beyond max_zoom")
	}
}

func TestNonPerpendicularAxesRejected(t *testing.T) {
	_, err := New("epsg:3857", Pair{East, West}, [2]int64{256, 256}, Vec2{X: 1, Y: 1}, Vec2{}, nil, 0, 0)
	if err == nil {
		t.Fatal("expected error for non-perpendicular tile axes")
	}
}

func TestEpsg4326PixelRoundTrip(t *testing.T) {
	l, err := XYZ([2]int64{256, 256}, 20)
	if err != nil {
		t.Fatalf("XYZ: %v", err)
	}
	p := geo.LatLon{Lat: 43.49111, Lon: -1.47309}
	px, err := l.Epsg4326ToPixel(p, 14)
	if err != nil {
		t.Fatalf("Epsg4326ToPixel: %v", err)
	}
	back, err := l.PixelToEpsg4326(px, 14)
	if err != nil {
		t.Fatalf("PixelToEpsg4326: %v", err)
	}
	if !almostEqual(back.Lat, p.Lat, 1e-6) || !almostEqual(back.Lon, p.Lon, 1e-6) {
		t.Errorf("epsg4326<->pixel round trip = %v, want %v", back, p)
	}
}

func TestParseYAMLPreset(t *testing.T) {
	doc, err := ParseYAML([]byte("preset: XYZ\n"))
	if err != nil {
		t.Fatalf("ParseYAML: %v", err)
	}
	if doc.Layout.CrsName != "epsg:3857" {
		t.Errorf("preset XYZ crs = %q, want epsg:3857", doc.Layout.CrsName)
	}
	if doc.Path != DefaultPathTemplate {
		t.Errorf("preset default path = %q, want %q", doc.Path, DefaultPathTemplate)
	}
}

func TestParseYAMLExplicit(t *testing.T) {
	src := `
crs: "epsg:25832"
tile_axes: ["east", "north"]
tile_shape_px: [10000, 10000]
tile_shape_crs: [1000.0, 1000.0]
origin_crs: [0.0, 0.0]
min_zoom: 0
max_zoom: 0
`
	doc, err := ParseYAML([]byte(src))
	if err != nil {
		t.Fatalf("ParseYAML: %v", err)
	}
	if doc.Layout.TileShapePx != [2]int64{10000, 10000} {
		t.Errorf("tile_shape_px = %v, want [10000 10000]", doc.Layout.TileShapePx)
	}
	if doc.Path != DefaultPathTemplate {
		t.Errorf("default path = %q, want %q", doc.Path, DefaultPathTemplate)
	}
}
