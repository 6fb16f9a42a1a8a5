package tileloader

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/brannongeo/terratile/pkg/raster"
)

func buildTestBin(t *testing.T) (dataPath, metaPath string) {
	t.Helper()
	dir := t.TempDir()
	dataPath = filepath.Join(dir, "images.dat")
	metaPath = filepath.Join(dir, "images-meta.bin")

	enc := raster.PNGEncoder{}
	tile00, err := enc.Encode(raster.Filled(2, 2, 1, 2, 3))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	tile01, err := enc.Encode(raster.Filled(2, 2, 4, 5, 6))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	entries := []PackEntry{
		{Zoom: 0, X: 0, Y: 1, Data: tile01},
		{Zoom: 0, X: 0, Y: 0, Data: tile00},
	}
	if err := PackBin(dataPath, metaPath, entries); err != nil {
		t.Fatalf("PackBin: %v", err)
	}
	return dataPath, metaPath
}

func TestBinLoaderLoad(t *testing.T) {
	dataPath, metaPath := buildTestBin(t)
	loader, err := NewBin(dataPath, metaPath, testXYZLayout(t), 0, 2)
	if err != nil {
		t.Fatalf("NewBin: %v", err)
	}
	defer loader.Close()

	ras, err := loader.Load(context.Background(), Key{X: 0, Y: 0, Zoom: 0})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	r, g, b := ras.At(0, 0)
	if r != 1 || g != 2 || b != 3 {
		t.Errorf("tile (0,0) = (%d,%d,%d), want (1,2,3)", r, g, b)
	}

	ras, err = loader.Load(context.Background(), Key{X: 0, Y: 1, Zoom: 0})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	r, g, b = ras.At(0, 0)
	if r != 4 || g != 5 || b != 6 {
		t.Errorf("tile (0,1) = (%d,%d,%d), want (4,5,6)", r, g, b)
	}
}

func TestBinLoaderNotFound(t *testing.T) {
	dataPath, metaPath := buildTestBin(t)
	loader, err := NewBin(dataPath, metaPath, testXYZLayout(t), 0, 2)
	if err != nil {
		t.Fatalf("NewBin: %v", err)
	}
	defer loader.Close()

	if _, err := loader.Load(context.Background(), Key{X: 9, Y: 9, Zoom: 0}); err == nil {
		t.Fatal("expected NotFound for missing tile")
	}
}
