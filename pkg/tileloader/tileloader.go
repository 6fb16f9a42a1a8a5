// Package tileloader implements the TileLoader contract and its wrapper
// hierarchy: HTTP, Disk, and Bin as sources, and LRU, DiskCached, and
// WithDefault as composable decorators over any of them.
package tileloader

import (
	"context"

	"github.com/brannongeo/terratile/pkg/layout"
	"github.com/brannongeo/terratile/pkg/raster"
)

// Key identifies one tile within a loader's native layout.
type Key struct {
	X, Y, Zoom int64
}

// TileLoader loads decoded tile rasters by coordinate. Implementations are
// value-semantic and safe for concurrent use; any mutable state (caches,
// rate-limit windows, last-modified tracking) is internally synchronized.
type TileLoader interface {
	Load(ctx context.Context, key Key) (*raster.Raster, error)
	Layout() *layout.Layout
	MinZoom() int
	MaxZoom() int
}

// supportsZoom reports whether z lies within [minZoom, maxZoom].
func supportsZoom(minZoom, maxZoom int, z int64) bool {
	return int64(minZoom) <= z && z <= int64(maxZoom)
}
