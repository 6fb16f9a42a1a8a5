package tileloader

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/brannongeo/terratile/pkg/layout"
	"github.com/brannongeo/terratile/pkg/raster"
	"github.com/brannongeo/terratile/pkg/terrors"
)

// DiskLoader reads tiles from a directory tree, path templated per tile
// coordinate, the way the teacher's producers lay JPEGs out on disk before
// stitch reads them back.
type DiskLoader struct {
	root                 string
	pathTemplate          string
	l                     *layout.Layout
	minZoom, maxZoom      int
	waitAfterLastModified time.Duration
	decoder               raster.Decoder
	now                   func() time.Time
	sleep                 func(time.Duration)
}

// DiskOption configures a DiskLoader.
type DiskOption func(*DiskLoader)

// WithDiskDecoder overrides the default raster.StdDecoder.
func WithDiskDecoder(d raster.Decoder) DiskOption {
	return func(l *DiskLoader) { l.decoder = d }
}

// NewDisk builds a DiskLoader rooted at root, using pathTemplate (default
// "{zoom}/{x}/{y}.jpg" if empty) and waiting waitAfterLastModified past a
// file's mtime before reading it, to guard against partial writes by
// concurrent producers.
func NewDisk(root, pathTemplate string, l *layout.Layout, minZoom, maxZoom int, waitAfterLastModified time.Duration, opts ...DiskOption) *DiskLoader {
	if pathTemplate == "" {
		pathTemplate = "{zoom}/{x}/{y}.jpg"
	}
	loader := &DiskLoader{
		root:                  root,
		pathTemplate:          pathTemplate,
		l:                     l,
		minZoom:               minZoom,
		maxZoom:               maxZoom,
		waitAfterLastModified: waitAfterLastModified,
		decoder:               raster.StdDecoder{},
		now:                   time.Now,
		sleep:                 time.Sleep,
	}
	for _, opt := range opts {
		opt(loader)
	}
	return loader
}

// Layout implements TileLoader.
func (l *DiskLoader) Layout() *layout.Layout { return l.l }

// MinZoom implements TileLoader.
func (l *DiskLoader) MinZoom() int { return l.minZoom }

// MaxZoom implements TileLoader.
func (l *DiskLoader) MaxZoom() int { return l.maxZoom }

// Path returns the resolved, root-joined path for key, without reading it.
func (l *DiskLoader) Path(key Key) string {
	rel := strings.NewReplacer(
		"{zoom}", strconv.FormatInt(key.Zoom, 10),
		"{x}", strconv.FormatInt(key.X, 10),
		"{y}", strconv.FormatInt(key.Y, 10),
	).Replace(l.pathTemplate)
	return l.root + string(os.PathSeparator) + rel
}

// Load implements TileLoader.
func (l *DiskLoader) Load(ctx context.Context, key Key) (*raster.Raster, error) {
	if !supportsZoom(l.minZoom, l.maxZoom, key.Zoom) {
		return nil, terrors.InvalidZoom(int(key.Zoom), l.minZoom, l.maxZoom)
	}

	path := l.Path(key)
	fi, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, &terrors.NotFound{Key: path}
	}
	if err != nil {
		return nil, &terrors.IoError{Op: "stat " + path, Err: err}
	}

	if l.waitAfterLastModified > 0 {
		readyAt := fi.ModTime().Add(l.waitAfterLastModified)
		if wait := readyAt.Sub(l.now()); wait > 0 {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			l.sleep(wait)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &terrors.IoError{Op: "read " + path, Err: err}
	}

	ras, err := l.decoder.Decode(data)
	if err != nil {
		return nil, &terrors.Corruption{Message: fmt.Sprintf("decoding %s", path), Err: err}
	}
	return ras, nil
}
