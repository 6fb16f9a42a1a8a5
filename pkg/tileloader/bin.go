package tileloader

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"sort"

	"github.com/brannongeo/terratile/pkg/layout"
	"github.com/brannongeo/terratile/pkg/raster"
	"github.com/brannongeo/terratile/pkg/terrors"
)

// binMeta is one (zoom, x, y) -> byte-range entry from images-meta.bin,
// kept lex-ordered by (zoom, x, y) for binary search.
type binMeta struct {
	zoom, x, y, offset int64
}

// BinLoader serves tiles out of a packed images.dat blob, memory-mapped
// once at construction, indexed by a parallel-array metadata file loaded
// fully into memory. No hash map is needed: entries are sorted and a
// binary search finds the (zoom,x,y) -> byte range.
type BinLoader struct {
	data     []byte // memory-mapped images.dat
	meta     []binMeta
	l        *layout.Layout
	minZoom  int
	maxZoom  int
	decoder  raster.Decoder
	fileSize int64
}

// readBinMeta reads images-meta.bin, whose on-disk shape is a count header
// followed by four parallel int64 arrays (zoom, x, y, offset), all
// little-endian. This stands in for spec.md's "images-meta.npz or
// equivalent".
func readBinMeta(path string) ([]binMeta, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &terrors.IoError{Op: "open " + path, Err: err}
	}
	defer f.Close()

	var count int64
	if err := binary.Read(f, binary.LittleEndian, &count); err != nil {
		return nil, &terrors.Corruption{Message: "reading images-meta count", Err: err}
	}

	readArr := func() ([]int64, error) {
		arr := make([]int64, count)
		if err := binary.Read(f, binary.LittleEndian, arr); err != nil {
			return nil, err
		}
		return arr, nil
	}

	zooms, err := readArr()
	if err != nil {
		return nil, &terrors.Corruption{Message: "reading images-meta zoom[]", Err: err}
	}
	xs, err := readArr()
	if err != nil {
		return nil, &terrors.Corruption{Message: "reading images-meta x[]", Err: err}
	}
	ys, err := readArr()
	if err != nil {
		return nil, &terrors.Corruption{Message: "reading images-meta y[]", Err: err}
	}
	offsets, err := readArr()
	if err != nil {
		return nil, &terrors.Corruption{Message: "reading images-meta offset[]", Err: err}
	}

	entries := make([]binMeta, count)
	for i := range entries {
		entries[i] = binMeta{zoom: zooms[i], x: xs[i], y: ys[i], offset: offsets[i]}
	}
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.zoom != b.zoom {
			return a.zoom < b.zoom
		}
		if a.x != b.x {
			return a.x < b.x
		}
		return a.y < b.y
	})
	return entries, nil
}

// writeBinMeta writes the images-meta.bin sidecar for a slice of entries
// already sorted in ascending (zoom, x, y) order, the order images.dat's
// byte strings are concatenated in.
func writeBinMeta(path string, entries []binMeta) error {
	f, err := os.Create(path)
	if err != nil {
		return &terrors.IoError{Op: "create " + path, Err: err}
	}
	defer f.Close()

	count := int64(len(entries))
	if err := binary.Write(f, binary.LittleEndian, count); err != nil {
		return &terrors.IoError{Op: "write count", Err: err}
	}
	writeField := func(get func(binMeta) int64) error {
		arr := make([]int64, len(entries))
		for i, e := range entries {
			arr[i] = get(e)
		}
		return binary.Write(f, binary.LittleEndian, arr)
	}
	if err := writeField(func(e binMeta) int64 { return e.zoom }); err != nil {
		return &terrors.IoError{Op: "write zoom[]", Err: err}
	}
	if err := writeField(func(e binMeta) int64 { return e.x }); err != nil {
		return &terrors.IoError{Op: "write x[]", Err: err}
	}
	if err := writeField(func(e binMeta) int64 { return e.y }); err != nil {
		return &terrors.IoError{Op: "write y[]", Err: err}
	}
	if err := writeField(func(e binMeta) int64 { return e.offset }); err != nil {
		return &terrors.IoError{Op: "write offset[]", Err: err}
	}
	return nil
}

// PackEntry is one tile's raw encoded bytes, ready to be written into a
// Bin pack by PackBin.
type PackEntry struct {
	Zoom, X, Y int64
	Data       []byte
}

// PackBin writes images.dat and its images-meta.bin sidecar from a set of
// encoded tile entries, sorting them into ascending (zoom, x, y) order and
// concatenating their bytes per spec.md §4.G.
func PackBin(dataPath, metaPath string, entries []PackEntry) error {
	sorted := make([]PackEntry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Zoom != b.Zoom {
			return a.Zoom < b.Zoom
		}
		if a.X != b.X {
			return a.X < b.X
		}
		return a.Y < b.Y
	})

	f, err := os.Create(dataPath)
	if err != nil {
		return &terrors.IoError{Op: "create " + dataPath, Err: err}
	}
	defer f.Close()

	meta := make([]binMeta, len(sorted))
	var offset int64
	for i, e := range sorted {
		meta[i] = binMeta{zoom: e.Zoom, x: e.X, y: e.Y, offset: offset}
		n, err := f.Write(e.Data)
		if err != nil {
			return &terrors.IoError{Op: "write " + dataPath, Err: err}
		}
		offset += int64(n)
	}

	return writeBinMeta(metaPath, meta)
}

// NewBin opens a Bin loader pack: dataPath is images.dat, metaPath is the
// images-meta.bin sidecar. The data file is memory-mapped for the loader's
// lifetime; Close releases the mapping.
func NewBin(dataPath, metaPath string, l *layout.Layout, minZoom, maxZoom int) (*BinLoader, error) {
	f, err := os.Open(dataPath)
	if err != nil {
		return nil, &terrors.IoError{Op: "open " + dataPath, Err: err}
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, &terrors.IoError{Op: "stat " + dataPath, Err: err}
	}
	size := fi.Size()
	if size == 0 {
		return nil, &terrors.Corruption{Message: dataPath + " is empty"}
	}

	data, err := mmapFile(f.Fd(), int(size))
	if err != nil {
		return nil, &terrors.IoError{Op: "mmap " + dataPath, Err: err}
	}

	meta, err := readBinMeta(metaPath)
	if err != nil {
		munmapFile(data)
		return nil, err
	}

	return &BinLoader{
		data:     data,
		meta:     meta,
		l:        l,
		minZoom:  minZoom,
		maxZoom:  maxZoom,
		decoder:  raster.StdDecoder{},
		fileSize: size,
	}, nil
}

// Close releases the memory mapping.
func (l *BinLoader) Close() error {
	return munmapFile(l.data)
}

// Layout implements TileLoader.
func (l *BinLoader) Layout() *layout.Layout { return l.l }

// MinZoom implements TileLoader.
func (l *BinLoader) MinZoom() int { return l.minZoom }

// MaxZoom implements TileLoader.
func (l *BinLoader) MaxZoom() int { return l.maxZoom }

// Load implements TileLoader: binary-searches the metadata for (z,x,y),
// slices the mapped region, and decodes.
func (l *BinLoader) Load(ctx context.Context, key Key) (*raster.Raster, error) {
	if !supportsZoom(l.minZoom, l.maxZoom, key.Zoom) {
		return nil, terrors.InvalidZoom(int(key.Zoom), l.minZoom, l.maxZoom)
	}

	i, ok := l.find(key.Zoom, key.X, key.Y)
	if !ok {
		return nil, &terrors.NotFound{Key: fmt.Sprintf("%d/%d/%d", key.Zoom, key.X, key.Y)}
	}

	start := l.meta[i].offset
	var end int64
	if i+1 < len(l.meta) {
		end = l.meta[i+1].offset
	} else {
		end = l.fileSize
	}
	if start < 0 || end > l.fileSize || start > end {
		return nil, &terrors.Corruption{Message: fmt.Sprintf("bin pack offset range [%d,%d) out of bounds for %d bytes", start, end, l.fileSize)}
	}

	ras, err := l.decoder.Decode(l.data[start:end])
	if err != nil {
		return nil, &terrors.Corruption{Message: fmt.Sprintf("decoding bin pack entry %d/%d/%d", key.Zoom, key.X, key.Y), Err: err}
	}
	return ras, nil
}

// find binary-searches the lex-ordered (zoom,x,y) metadata for an exact
// match, returning its index.
func (l *BinLoader) find(zoom, x, y int64) (int, bool) {
	n := len(l.meta)
	idx := sort.Search(n, func(i int) bool {
		e := l.meta[i]
		if e.zoom != zoom {
			return e.zoom > zoom
		}
		if e.x != x {
			return e.x > x
		}
		return e.y >= y
	})
	if idx < n && l.meta[idx].zoom == zoom && l.meta[idx].x == x && l.meta[idx].y == y {
		return idx, true
	}
	return 0, false
}
