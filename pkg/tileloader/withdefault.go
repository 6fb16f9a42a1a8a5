package tileloader

import (
	"context"

	"github.com/brannongeo/terratile/pkg/layout"
	"github.com/brannongeo/terratile/pkg/raster"
	"github.com/brannongeo/terratile/pkg/terrors"
)

// WithDefault substitutes a solid-color tile whenever upstream is absent
// or returns NotFound, so a stitcher composing a super-tile never has to
// special-case missing coverage.
type WithDefault struct {
	upstream     TileLoader // nil means "always synthesize"
	l            *layout.Layout
	minZoom      int
	maxZoom      int
	defaultColor [3]uint8
}

// NewWithDefault builds the wrapper. upstream may be nil, in which case
// every Load synthesizes the default tile; otherwise l/minZoom/maxZoom are
// taken from upstream.
func NewWithDefault(upstream TileLoader, defaultColor [3]uint8) *WithDefault {
	w := &WithDefault{upstream: upstream, defaultColor: defaultColor}
	if upstream != nil {
		w.l = upstream.Layout()
		w.minZoom = upstream.MinZoom()
		w.maxZoom = upstream.MaxZoom()
	}
	return w
}

// NewWithDefaultLayout builds a synthesize-only WithDefault (no upstream),
// using l/minZoom/maxZoom directly since there is no upstream to take them
// from.
func NewWithDefaultLayout(l *layout.Layout, minZoom, maxZoom int, defaultColor [3]uint8) *WithDefault {
	return &WithDefault{l: l, minZoom: minZoom, maxZoom: maxZoom, defaultColor: defaultColor}
}

// Layout implements TileLoader.
func (w *WithDefault) Layout() *layout.Layout { return w.l }

// MinZoom implements TileLoader.
func (w *WithDefault) MinZoom() int { return w.minZoom }

// MaxZoom implements TileLoader.
func (w *WithDefault) MaxZoom() int { return w.maxZoom }

// Load implements TileLoader.
func (w *WithDefault) Load(ctx context.Context, key Key) (*raster.Raster, error) {
	if w.upstream != nil {
		ras, err := w.upstream.Load(ctx, key)
		if err == nil {
			return ras, nil
		}
		if !terrors.IsNotFound(err) {
			return nil, err
		}
	}
	shape := w.l.TileShapePx
	return raster.Filled(int(shape[0]), int(shape[1]), w.defaultColor[0], w.defaultColor[1], w.defaultColor[2]), nil
}
