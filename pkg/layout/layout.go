// Package layout implements the tile-coordinate algebra at the heart of
// terratile: bidirectional maps between geographic coordinates (EPSG:4326),
// a projected CRS, tile indices at a given zoom, and pixel coordinates.
package layout

import (
	"fmt"
	"math"

	"github.com/brannongeo/terratile/pkg/crs"
	"github.com/brannongeo/terratile/pkg/geo"
	"github.com/brannongeo/terratile/pkg/terrors"
)

// Axis is one compass direction: the sign of a layout's tile axis relative
// to geographic east/north.
type Axis string

const (
	East  Axis = "east"
	West  Axis = "west"
	North Axis = "north"
	South Axis = "south"
)

func (a Axis) sign() (float64, error) {
	switch a {
	case East, North:
		return 1, nil
	case West, South:
		return -1, nil
	default:
		return 0, fmt.Errorf("unknown compass axis %q", a)
	}
}

func (a Axis) isHorizontal() bool { return a == East || a == West }
func (a Axis) isVertical() bool   { return a == North || a == South }

// Pair is the ordered (x-axis, y-axis) compass pair of a Layout's tile
// axes. The two must be perpendicular: one drawn from {east, west}, the
// other from {north, south}.
type Pair [2]Axis

// XYZPair is the slippy-map convention: tiles increase east in x and south
// in y.
var XYZPair = Pair{East, South}

func (p Pair) validate() error {
	if p[0].isHorizontal() == p[1].isHorizontal() {
		return fmt.Errorf("tile_axes %v are not perpendicular", p)
	}
	return nil
}

// Vec2 is a generic two-component value: pixel shape, CRS shape, or origin.
type Vec2 struct {
	X, Y float64
}

// Layout is the immutable parameter bundle mapping between {latlon, CRS
// coords, tile index, pixel coord} at a given integer zoom.
type Layout struct {
	CrsName      string
	TileAxes     Pair
	TileShapePx  [2]int64 // (W, H), pixels per tile, independent of zoom
	TileShapeCrs Vec2     // (sx, sy) CRS-units per tile along each tile axis, at zoom 0
	OriginCrs    Vec2     // CRS coordinate of tile (0,0)'s corner == pixel (0,0)
	SizeCrs      *Vec2    // optional: extent of the layout in CRS units
	MinZoom      int
	MaxZoom      int

	toLatLon   *crs.Transformer // crs -> epsg:4326
	fromLatLon *crs.Transformer // epsg:4326 -> crs
}

// latLonCRSName is the identifier used for every geographic (lat/lon)
// transform target — the Transformer always speaks EPSG:4326 on one side.
const latLonCRSName = "epsg:4326"

// New validates and finishes constructing a Layout: it resolves the CRS
// handle and the two Transformers used for latlon<->crs conversions.
func New(crsName string, tileAxes Pair, tileShapePx [2]int64, tileShapeCrs Vec2, originCrs Vec2, sizeCrs *Vec2, minZoom, maxZoom int) (*Layout, error) {
	if err := tileAxes.validate(); err != nil {
		return nil, &terrors.InvalidArgument{Message: err.Error()}
	}
	if tileShapePx[0] <= 0 || tileShapePx[1] <= 0 {
		return nil, &terrors.InvalidArgument{Message: "tile_shape_px must be positive"}
	}
	if tileShapeCrs.X <= 0 || tileShapeCrs.Y <= 0 {
		return nil, &terrors.InvalidArgument{Message: "tile_shape_crs must be positive"}
	}
	if minZoom < 0 || maxZoom < minZoom {
		return nil, &terrors.InvalidArgument{Message: fmt.Sprintf("invalid zoom range [%d, %d]", minZoom, maxZoom)}
	}

	latlonCRS, err := crs.New(latLonCRSName)
	if err != nil {
		return nil, err
	}
	projCRS, err := crs.New(crsName)
	if err != nil {
		return nil, err
	}
	toLatLon, err := crs.NewTransformer(projCRS, latlonCRS)
	if err != nil {
		return nil, err
	}
	fromLatLon, err := crs.NewTransformer(latlonCRS, projCRS)
	if err != nil {
		return nil, err
	}

	return &Layout{
		CrsName:      crsName,
		TileAxes:     tileAxes,
		TileShapePx:  tileShapePx,
		TileShapeCrs: tileShapeCrs,
		OriginCrs:    originCrs,
		SizeCrs:      sizeCrs,
		MinZoom:      minZoom,
		MaxZoom:      maxZoom,
		toLatLon:     toLatLon,
		fromLatLon:   fromLatLon,
	}, nil
}

// XYZ builds the distinguished web-mercator slippy-map preset: epsg:3857,
// tile_axes (east, south), one tile covering the whole projected world at
// zoom 0.
func XYZ(tileShapePx [2]int64, maxZoom int) (*Layout, error) {
	const worldHalfExtent = 20037508.342789244 // half-circumference of EPSG:3857's world square, meters
	return New(
		"epsg:3857",
		XYZPair,
		tileShapePx,
		Vec2{X: 2 * worldHalfExtent, Y: 2 * worldHalfExtent},
		Vec2{X: -worldHalfExtent, Y: worldHalfExtent},
		&Vec2{X: 2 * worldHalfExtent, Y: 2 * worldHalfExtent},
		0,
		maxZoom,
	)
}

// checkZoom returns InvalidZoom if zoom falls outside [MinZoom, MaxZoom].
func (l *Layout) checkZoom(zoom int) error {
	if zoom < l.MinZoom || zoom > l.MaxZoom {
		return terrors.InvalidZoom(zoom, l.MinZoom, l.MaxZoom)
	}
	return nil
}

// tileShapeCrsAtZoom returns tile_shape_crs(z) = tile_shape_crs(0) / 2^z.
func (l *Layout) tileShapeCrsAtZoom(zoom int) Vec2 {
	scale := math.Pow(2, float64(zoom))
	return Vec2{X: l.TileShapeCrs.X / scale, Y: l.TileShapeCrs.Y / scale}
}

// LatLonToCrs projects a geographic point into the layout's CRS.
func (l *Layout) LatLonToCrs(p geo.LatLon) (Vec2, error) {
	x, y, err := l.fromLatLon.Apply(p.Lon, p.Lat)
	if err != nil {
		return Vec2{}, err
	}
	return Vec2{X: x, Y: y}, nil
}

// CrsToLatLon projects a CRS coordinate back to geographic lat/lon.
func (l *Layout) CrsToLatLon(c Vec2) (geo.LatLon, error) {
	x, y, err := l.toLatLon.Apply(c.X, c.Y)
	if err != nil {
		return geo.LatLon{}, err
	}
	return geo.LatLon{Lat: y, Lon: x}, nil
}

// CrsToTile maps a CRS coordinate to fractional tile indices at zoom, in
// tile-axis frame: crs_to_tile(x,y) = (x-ox, y-oy) / tile_shape_crs(z),
// signed per tile_axes. Tile indices may be fractional; the caller floors
// to find the containing tile (see TileIndex).
func (l *Layout) CrsToTile(c Vec2, zoom int) (Vec2, error) {
	if err := l.checkZoom(zoom); err != nil {
		return Vec2{}, err
	}
	shape := l.tileShapeCrsAtZoom(zoom)
	signX, _ := l.TileAxes[0].sign()
	signY, _ := l.TileAxes[1].sign()

	tx := signX * (c.X - l.OriginCrs.X) / shape.X
	ty := signY * (c.Y - l.OriginCrs.Y) / shape.Y
	return Vec2{X: tx, Y: ty}, nil
}

// TileToCrs is the inverse of CrsToTile: the CRS coordinate of the tile
// index's corner (the corner mapping to pixel (0,0) of that tile).
func (l *Layout) TileToCrs(t Vec2, zoom int) (Vec2, error) {
	if err := l.checkZoom(zoom); err != nil {
		return Vec2{}, err
	}
	shape := l.tileShapeCrsAtZoom(zoom)
	signX, _ := l.TileAxes[0].sign()
	signY, _ := l.TileAxes[1].sign()

	x := l.OriginCrs.X + signX*t.X*shape.X
	y := l.OriginCrs.Y + signY*t.Y*shape.Y
	return Vec2{X: x, Y: y}, nil
}

// AxisSigns returns the (+1/-1) sign of each tile axis relative to
// geographic east/north — e.g. XYZ's (east, south) pair yields (1, -1).
// Callers outside this package (the stitcher's rotation math) need this to
// reason about tile-pixel-axis orientation without re-deriving it.
func (l *Layout) AxisSigns() (signX, signY float64) {
	signX, _ = l.TileAxes[0].sign()
	signY, _ = l.TileAxes[1].sign()
	return signX, signY
}

// TileToPixel maps tile indices to the full-layout pixel coordinate of that
// tile's corner, in pixel-axis frame: tile_to_pixel(tx,ty) = (tx*W, ty*H).
func (l *Layout) TileToPixel(t Vec2) Vec2 {
	return Vec2{X: t.X * float64(l.TileShapePx[0]), Y: t.Y * float64(l.TileShapePx[1])}
}

// PixelToTile is the inverse of TileToPixel.
func (l *Layout) PixelToTile(p Vec2) Vec2 {
	return Vec2{X: p.X / float64(l.TileShapePx[0]), Y: p.Y / float64(l.TileShapePx[1])}
}

// Epsg4326ToTile composes LatLonToCrs and CrsToTile.
func (l *Layout) Epsg4326ToTile(p geo.LatLon, zoom int) (Vec2, error) {
	c, err := l.LatLonToCrs(p)
	if err != nil {
		return Vec2{}, err
	}
	return l.CrsToTile(c, zoom)
}

// Epsg4326ToTileBatch maps many lat/lon points to fractional tile indices
// at zoom in one PROJ call, via Transformer.ApplyBatch, instead of one cgo
// round trip per point. Order is preserved.
func (l *Layout) Epsg4326ToTileBatch(points []geo.LatLon, zoom int) ([]Vec2, error) {
	if err := l.checkZoom(zoom); err != nil {
		return nil, err
	}
	lonlat := make([][2]float64, len(points))
	for i, p := range points {
		lonlat[i] = [2]float64{p.Lon, p.Lat}
	}
	crsPts, err := l.fromLatLon.ApplyBatch(lonlat)
	if err != nil {
		return nil, err
	}
	out := make([]Vec2, len(crsPts))
	for i, c := range crsPts {
		out[i], err = l.CrsToTile(Vec2{X: c[0], Y: c[1]}, zoom)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// TileToEpsg4326 composes TileToCrs and CrsToLatLon.
func (l *Layout) TileToEpsg4326(t Vec2, zoom int) (geo.LatLon, error) {
	c, err := l.TileToCrs(t, zoom)
	if err != nil {
		return geo.LatLon{}, err
	}
	return l.CrsToLatLon(c)
}

// Epsg4326ToPixel composes Epsg4326ToTile and TileToPixel.
func (l *Layout) Epsg4326ToPixel(p geo.LatLon, zoom int) (Vec2, error) {
	t, err := l.Epsg4326ToTile(p, zoom)
	if err != nil {
		return Vec2{}, err
	}
	return l.TileToPixel(t), nil
}

// PixelToEpsg4326 composes PixelToTile and TileToEpsg4326.
func (l *Layout) PixelToEpsg4326(p Vec2, zoom int) (geo.LatLon, error) {
	t := l.PixelToTile(p)
	return l.TileToEpsg4326(t, zoom)
}

// TileIndex is the integer tile containing fractional tile coordinates t:
// floor along each axis, with exact boundary values resolved by standard
// half-open-interval floor (tile n owns [n, n+1)). This keeps
// TileIndex(TileToCrs-derived corners) an exact round trip; the stitcher's
// inclusive bounding-box selection applies its own smaller-index tie-break
// on the *upper* corner where that matters (see pkg/stitcher).
func TileIndex(t Vec2) (int64, int64) {
	return int64(math.Floor(t.X)), int64(math.Floor(t.Y))
}

// PixelsPerMeter estimates, at point p, the number of pixels spanned by one
// meter of ground distance along each tile axis at zoom, by differencing
// neighboring pixel corners' lat/lons and dividing the resulting angular
// delta by the local meters-per-degree scale.
func (l *Layout) PixelsPerMeter(p geo.LatLon, zoom int) (ppmX, ppmY float64, err error) {
	px0, err := l.Epsg4326ToPixel(p, zoom)
	if err != nil {
		return 0, 0, err
	}
	llX, err := l.PixelToEpsg4326(Vec2{X: px0.X + 1, Y: px0.Y}, zoom)
	if err != nil {
		return 0, 0, err
	}
	llY, err := l.PixelToEpsg4326(Vec2{X: px0.X, Y: px0.Y + 1}, zoom)
	if err != nil {
		return 0, 0, err
	}

	mpdX, mpdY := geo.MetersPerDeg(p)

	dxMeters := math.Hypot((llX.Lon-p.Lon)*mpdX, (llX.Lat-p.Lat)*mpdY)
	dyMeters := math.Hypot((llY.Lon-p.Lon)*mpdX, (llY.Lat-p.Lat)*mpdY)

	if dxMeters == 0 || dyMeters == 0 {
		return 0, 0, &terrors.InvalidArgument{Message: "degenerate pixel step while computing pixels-per-meter"}
	}
	return 1 / dxMeters, 1 / dyMeters, nil
}
