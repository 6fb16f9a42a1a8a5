package tileloader

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/brannongeo/terratile/pkg/layout"
	"github.com/brannongeo/terratile/pkg/raster"
	"github.com/brannongeo/terratile/pkg/terrors"
)

// DiskCached wraps an upstream loader with a disk-backed cache. On a miss
// it either fetches the requested tile directly (loadZoomUp == 0) or
// fetches a coarser parent tile and splits it into the 2^k x 2^k children
// at the requested zoom, writing every child to disk before returning the
// one asked for.
type DiskCached struct {
	upstream    TileLoader
	root        string
	loadZoomUp  int
	encoder     raster.Encoder
	decoder     raster.Decoder
	resizer     raster.Resizer
	mu          sync.Mutex
	pending     map[Key]chan struct{}
}

// NewDiskCached builds the wrapper. root is the disk cache directory, laid
// out "{zoom}/{x}/{y}.jpg" the way DiskLoader reads it back. loadZoomUp ==
// 0 fetches each tile directly from upstream; a positive k fetches the
// ancestor at zoom z-k (a normal tile_shape_px tile, per every TileLoader's
// contract) and resizes it up by 2^k before splitting it into children.
func NewDiskCached(upstream TileLoader, root string, loadZoomUp int, encoder raster.Encoder, decoder raster.Decoder, resizer raster.Resizer) *DiskCached {
	return &DiskCached{
		upstream:   upstream,
		root:       root,
		loadZoomUp: loadZoomUp,
		encoder:    encoder,
		decoder:    decoder,
		resizer:    resizer,
		pending:    make(map[Key]chan struct{}),
	}
}

// Layout implements TileLoader.
func (w *DiskCached) Layout() *layout.Layout { return w.upstream.Layout() }

// MinZoom implements TileLoader.
func (w *DiskCached) MinZoom() int { return w.upstream.MinZoom() }

// MaxZoom implements TileLoader.
func (w *DiskCached) MaxZoom() int { return w.upstream.MaxZoom() }

func (w *DiskCached) path(key Key) string {
	return filepath.Join(w.root,
		formatInt(key.Zoom), formatInt(key.X), formatInt(key.Y)+".jpg")
}

// Load implements TileLoader.
func (w *DiskCached) Load(ctx context.Context, key Key) (*raster.Raster, error) {
	if ras, err := w.readDisk(key); err == nil {
		return ras, nil
	} else if !terrors.IsNotFound(err) {
		return nil, err
	}

	return w.fillMiss(ctx, key)
}

func (w *DiskCached) readDisk(key Key) (*raster.Raster, error) {
	path := w.path(key)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, &terrors.NotFound{Key: path}
	}
	if err != nil {
		return nil, &terrors.IoError{Op: "read " + path, Err: err}
	}
	return w.decoder.Decode(data)
}

// fillMiss single-flights the upstream fetch for key: the first caller
// performs the fetch-and-split-and-write, blocking concurrent callers for
// the same key until it publishes a result via the pending channel.
func (w *DiskCached) fillMiss(ctx context.Context, key Key) (*raster.Raster, error) {
	w.mu.Lock()
	if ch, ok := w.pending[key]; ok {
		w.mu.Unlock()
		<-ch
		return w.readDisk(key)
	}
	ch := make(chan struct{})
	w.pending[key] = ch
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		delete(w.pending, key)
		w.mu.Unlock()
		close(ch)
	}()

	if w.loadZoomUp <= 0 {
		ras, err := w.upstream.Load(ctx, key)
		if err != nil {
			return nil, err
		}
		if err := w.writeDisk(key, ras); err != nil {
			return nil, err
		}
		return ras, nil
	}

	return w.fillFromParent(ctx, key)
}

// fillFromParent fetches the ancestor tile at zoom key.Zoom-loadZoomUp —
// a normal tile_shape_px raster, like every TileLoader returns — resizes it
// up to the combined shape of its 2^k x 2^k children, crops out each child,
// writes every one to disk, and returns the one the caller asked for.
func (w *DiskCached) fillFromParent(ctx context.Context, key Key) (*raster.Raster, error) {
	k := w.loadZoomUp
	factor := int64(1) << uint(k)

	parentKey := Key{
		X:    floorDiv(key.X, factor),
		Y:    floorDiv(key.Y, factor),
		Zoom: key.Zoom - int64(k),
	}
	parent, err := w.upstream.Load(ctx, parentKey)
	if err != nil {
		return nil, err
	}

	shape := w.Layout().TileShapePx
	childW := int(shape[0])
	childH := int(shape[1])
	if parent.Width != childW || parent.Height != childH {
		return nil, &terrors.Corruption{Message: "parent tile shape does not match the layout's tile_shape_px"}
	}

	grown, err := w.resizer.Resize(parent, childW*int(factor), childH*int(factor), "area")
	if err != nil {
		return nil, err
	}

	var requested *raster.Raster
	baseX := parentKey.X * factor
	baseY := parentKey.Y * factor
	for dy := int64(0); dy < factor; dy++ {
		for dx := int64(0); dx < factor; dx++ {
			child, err := grown.Crop(int(dx)*childW, int(dy)*childH, childW, childH)
			if err != nil {
				return nil, err
			}
			childKey := Key{X: baseX + dx, Y: baseY + dy, Zoom: key.Zoom}
			if err := w.writeDisk(childKey, child); err != nil {
				return nil, err
			}
			if childKey == key {
				requested = child
			}
		}
	}
	if requested == nil {
		return nil, &terrors.InvalidArgument{Message: "requested tile not covered by its own parent split"}
	}
	return requested, nil
}

// writeDisk writes ras atomically: encode, write to "file.part", fsync,
// rename over "file".
func (w *DiskCached) writeDisk(key Key, ras *raster.Raster) error {
	path := w.path(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return &terrors.IoError{Op: "mkdir for " + path, Err: err}
	}

	data, err := w.encoder.Encode(ras)
	if err != nil {
		return err
	}

	tmp := path + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return &terrors.IoError{Op: "create " + tmp, Err: err}
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return &terrors.IoError{Op: "write " + tmp, Err: err}
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return &terrors.IoError{Op: "fsync " + tmp, Err: err}
	}
	if err := f.Close(); err != nil {
		return &terrors.IoError{Op: "close " + tmp, Err: err}
	}
	if err := os.Rename(tmp, path); err != nil {
		return &terrors.IoError{Op: "rename " + tmp + " to " + path, Err: err}
	}
	return nil
}

// floorDiv is integer division rounding toward negative infinity, needed
// because Go's / truncates toward zero and tile indices can be negative
// relative to a shifted origin.
func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
