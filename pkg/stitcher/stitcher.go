// Package stitcher renders an arbitrary-view raster — a target lat/lon,
// bearing, ground resolution, and output pixel shape — by selecting the
// covering set of source tiles, loading them concurrently, and
// resampling/rotating them into the requested view.
package stitcher

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/brannongeo/terratile/pkg/geo"
	"github.com/brannongeo/terratile/pkg/layout"
	"github.com/brannongeo/terratile/pkg/raster"
	"github.com/brannongeo/terratile/pkg/terrors"
	"github.com/brannongeo/terratile/pkg/tileloader"
)

// Stitcher composes arbitrary-view renders from a TileLoader. maxWorkers
// bounds how many tile loads run concurrently for one render, the way the
// teacher bounds concurrent tile downloads with a worker pool.
type Stitcher struct {
	loader     tileloader.TileLoader
	maxWorkers int
}

// New builds a Stitcher. maxWorkers <= 0 defaults to 8.
func New(loader tileloader.TileLoader, maxWorkers int) *Stitcher {
	if maxWorkers <= 0 {
		maxWorkers = 8
	}
	return &Stitcher{loader: loader, maxWorkers: maxWorkers}
}

// Request is one arbitrary-view render's parameters.
type Request struct {
	LatLon         geo.LatLon
	BearingDeg     float64
	MetersPerPixel float64
	OutputWidth    int
	OutputHeight   int
	Zoom           int
}

// Render produces an (OutputHeight, OutputWidth, 3) raster centered on
// req.LatLon, rotated by req.BearingDeg, at req.MetersPerPixel ground
// resolution.
func (s *Stitcher) Render(ctx context.Context, req Request) (*raster.Raster, error) {
	if req.OutputWidth <= 0 || req.OutputHeight <= 0 {
		return nil, &terrors.InvalidArgument{Message: fmt.Sprintf("invalid output shape %dx%d", req.OutputWidth, req.OutputHeight)}
	}
	l := s.loader.Layout()

	tileMppX, tileMppY, err := l.PixelsPerMeter(req.LatLon, req.Zoom)
	if err != nil {
		return nil, err
	}

	minTX, minTY, maxTX, maxTY, err := s.coveringTiles(req)
	if err != nil {
		return nil, err
	}

	tileW := int(l.TileShapePx[0])
	tileH := int(l.TileShapePx[1])
	coveredX := int(maxTX-minTX) + 1
	coveredY := int(maxTY-minTY) + 1

	super, err := s.loadSuperTile(ctx, minTX, minTY, coveredX, coveredY, tileW, tileH, req.Zoom)
	if err != nil {
		return nil, err
	}

	return resample(super, l, req, minTX, minTY, tileW, tileH, tileMppX, tileMppY)
}

// coveringTiles computes the inclusive tile-index bounding box of the
// rotated output rectangle, per spec: walk half the output's diagonal
// distance out from the center in the four bearing-rotated cardinal
// directions, map each through the layout to tile indices at zoom, and
// take the axis-aligned bounding box over those four points plus the
// center tile itself.
func (s *Stitcher) coveringTiles(req Request) (minTX, minTY, maxTX, maxTY int64, err error) {
	l := s.loader.Layout()
	halfDiag := math.Hypot(float64(req.OutputWidth)/2, float64(req.OutputHeight)/2) * req.MetersPerPixel

	points := make([]geo.LatLon, 0, 5)
	points = append(points, req.LatLon)
	for _, offset := range [4]float64{0, 90, 180, 270} {
		points = append(points, geo.Move(req.LatLon, req.BearingDeg+offset, halfDiag))
	}

	tiles, err := l.Epsg4326ToTileBatch(points, req.Zoom)
	if err != nil {
		return 0, 0, 0, 0, err
	}

	minX, minY := math.Floor(tiles[0].X), math.Floor(tiles[0].Y)
	maxX, maxY := maxCornerIndex(tiles[0].X), maxCornerIndex(tiles[0].Y)
	for _, t := range tiles[1:] {
		minX = math.Min(minX, math.Floor(t.X))
		minY = math.Min(minY, math.Floor(t.Y))
		maxX = math.Max(maxX, maxCornerIndex(t.X))
		maxY = math.Max(maxY, maxCornerIndex(t.Y))
	}

	return int64(minX), int64(minY), int64(maxX), int64(maxY), nil
}

// maxCornerIndex assigns a fractional tile coordinate to its containing
// tile index, but applies the tie-break of assigning a point exactly on a
// tile boundary to the smaller index — appropriate for an inclusive
// bounding box's upper corner, where the normal floor-based TileIndex
// would otherwise pull in one extra row/column of tiles that the view
// never actually touches.
func maxCornerIndex(x float64) float64 {
	f := math.Floor(x)
	if x == f {
		return f - 1
	}
	return f
}

// loadSuperTile fans out one loader.Load call per covered tile, bounded to
// s.maxWorkers concurrent in flight, and blits each into the composed
// raster. The first error observed is returned once every in-flight call
// has completed; no partial result is returned on failure.
func (s *Stitcher) loadSuperTile(ctx context.Context, minTX, minTY int64, coveredX, coveredY, tileW, tileH int, zoom int) (*raster.Raster, error) {
	super := raster.New(coveredX*tileW, coveredY*tileH)

	type job struct{ tx, ty int64 }
	jobs := make(chan job, coveredX*coveredY)
	for ty := int64(0); ty < int64(coveredY); ty++ {
		for tx := int64(0); tx < int64(coveredX); tx++ {
			jobs <- job{tx: minTX + tx, ty: minTY + ty}
		}
	}
	close(jobs)

	var (
		mu      sync.Mutex
		firstErr error
		wg      sync.WaitGroup
	)

	workers := s.maxWorkers
	if workers > coveredX*coveredY {
		workers = coveredX * coveredY
	}
	if workers < 1 {
		workers = 1
	}

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				ras, err := s.loader.Load(ctx, tileloader.Key{X: j.tx, Y: j.ty, Zoom: int64(zoom)})
				if err != nil {
					mu.Lock()
					if firstErr == nil {
						firstErr = err
					}
					mu.Unlock()
					continue
				}
				ox := int(j.tx-minTX) * tileW
				oy := int(j.ty-minTY) * tileH
				mu.Lock()
				super.BlitAt(ras, ox, oy)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return super, nil
}

// resample produces the (OutputHeight, OutputWidth) output by bilinear
// sampling of the super-tile under the affine map from output pixel
// coordinates to super-tile pixel coordinates described in spec.md §4.K.
func resample(super *raster.Raster, l *layout.Layout, req Request, minTX, minTY int64, tileW, tileH int, tileMppX, tileMppY float64) (*raster.Raster, error) {
	centerPx, err := l.Epsg4326ToPixel(req.LatLon, req.Zoom)
	if err != nil {
		return nil, err
	}
	// super-tile pixel coordinate of latlon: full-layout pixel minus the
	// super-tile's origin tile's pixel offset.
	originPx := layout.Vec2{X: float64(minTX * int64(tileW)), Y: float64(minTY * int64(tileH))}
	centerSuperPx := layout.Vec2{X: centerPx.X - originPx.X, Y: centerPx.Y - originPx.Y}

	centerOutX := float64(req.OutputWidth) / 2
	centerOutY := float64(req.OutputHeight) / 2

	signX, signY := l.AxisSigns()

	// scale: output pixels are req.MetersPerPixel ground units; the
	// super-tile's pixels are 1/tileMpp ground units per pixel, so one
	// output pixel spans (m_per_px / tile_m_per_px) super-tile pixels.
	// signX/signY are defined against east/north (AxisSigns). Screen
	// "right" is directly correlated with east, so scaleX uses +signX.
	// Screen "down" is south, the opposite sense from signY's
	// north-positive definition, so scaleY needs the extra flip.
	scaleX := req.MetersPerPixel * tileMppX * signX
	scaleY := req.MetersPerPixel * tileMppY * -signY

	bearingRad := req.BearingDeg * math.Pi / 180
	sinB, cosB := math.Sin(bearingRad), math.Cos(bearingRad)

	out := raster.New(req.OutputWidth, req.OutputHeight)
	for oy := 0; oy < req.OutputHeight; oy++ {
		for ox := 0; ox < req.OutputWidth; ox++ {
			// half-integer pixel centers, per spec's sampling tie-break.
			dx := (float64(ox) + 0.5 - centerOutX) * scaleX
			dy := (float64(oy) + 0.5 - centerOutY) * scaleY

			rx := dx*cosB - dy*sinB
			ry := dx*sinB + dy*cosB

			sx := centerSuperPx.X + rx
			sy := centerSuperPx.Y + ry

			r, g, b := bilinearSample(super, sx, sy)
			out.Set(ox, oy, r, g, b)
		}
	}
	return out, nil
}

// bilinearSample reads a bilinearly interpolated RGB value at fractional
// coordinates (x, y). Samples falling outside the super-tile return black.
func bilinearSample(r *raster.Raster, x, y float64) (uint8, uint8, uint8) {
	x0 := math.Floor(x - 0.5)
	y0 := math.Floor(y - 0.5)
	fx := (x - 0.5) - x0
	fy := (y - 0.5) - y0

	ix0, iy0 := int(x0), int(y0)
	ix1, iy1 := ix0+1, iy0+1

	r00, g00, b00, ok00 := sampleOrZero(r, ix0, iy0)
	r10, g10, b10, ok10 := sampleOrZero(r, ix1, iy0)
	r01, g01, b01, ok01 := sampleOrZero(r, ix0, iy1)
	r11, g11, b11, ok11 := sampleOrZero(r, ix1, iy1)
	if !ok00 && !ok10 && !ok01 && !ok11 {
		return 0, 0, 0
	}

	lerp := func(a, b float64, t float64) float64 { return a + (b-a)*t }
	blend := func(v00, v10, v01, v11 uint8) uint8 {
		top := lerp(float64(v00), float64(v10), fx)
		bot := lerp(float64(v01), float64(v11), fx)
		return uint8(math.Round(lerp(top, bot, fy)))
	}

	return blend(r00, r10, r01, r11), blend(g00, g10, g01, g11), blend(b00, b10, b01, b11)
}

func sampleOrZero(r *raster.Raster, x, y int) (uint8, uint8, uint8, bool) {
	if !r.InBounds(x, y) {
		return 0, 0, 0, false
	}
	red, green, blue := r.At(x, y)
	return red, green, blue, true
}
