// Package crs wraps the PROJ projection engine (via the cgo binding
// github.com/omniscale/go-proj) behind the opaque CRS/Transformer handles
// spec.md §4.B describes. It also owns the single process-wide
// initialization of PROJ's PROJ_DATA resource directory that every CRS in
// the process must agree on (spec.md §5).
package crs

import (
	"fmt"
	"os"
	"sync"

	proj "github.com/omniscale/go-proj"

	"github.com/brannongeo/terratile/pkg/terrors"
)

var (
	initOnce    sync.Once
	initErr     error
	initDataDir string
)

// InitProjData points PROJ at the packaged datum-grid resource directory.
// It is idempotent: the first call wins and establishes the process-wide
// setting; subsequent calls with a different dataDir report a conflict
// rather than silently reconfiguring a library that has already handed out
// transformers using the first directory.
//
// Callers that embed terratile alongside other PROJ consumers in the same
// process must agree on this directory ahead of time — PROJ's search path
// is process-global and has no teardown.
func InitProjData(dataDir string) error {
	initOnce.Do(func() {
		if existing := os.Getenv("PROJ_DATA"); existing != "" && existing != dataDir {
			// Someone else already pointed PROJ elsewhere. We don't fight
			// over it; we just report that our directory lost the race.
			initDataDir = existing
			return
		}
		if err := os.Setenv("PROJ_DATA", dataDir); err != nil {
			initErr = fmt.Errorf("crs: setting PROJ_DATA: %w", err)
			return
		}
		initDataDir = dataDir
	})
	if initErr != nil {
		return initErr
	}
	if initDataDir != dataDir {
		return fmt.Errorf("crs: PROJ_DATA already initialized to %q, cannot switch to %q", initDataDir, dataDir)
	}
	return nil
}

// CRS is an opaque projection identifier, e.g. "epsg:3857" or "epsg:4326".
type CRS struct {
	name string
	p    *proj.Proj
}

// New resolves name (an EPSG code string such as "epsg:3857", or any
// proj-string PROJ accepts) into a usable CRS handle.
func New(name string) (*CRS, error) {
	p, err := proj.New(name)
	if err != nil {
		return nil, &terrors.CrsError{Op: "New(" + name + ")", Err: err}
	}
	return &CRS{name: name, p: p}, nil
}

// String returns the CRS identifier it was constructed with.
func (c *CRS) String() string { return c.name }

// Transformer projects coordinates from one CRS to another.
type Transformer struct {
	src, dst *CRS
	t        *proj.Transformer
}

// NewTransformer builds a Transformer that maps src-CRS coordinates to
// dst-CRS coordinates.
func NewTransformer(src, dst *CRS) (*Transformer, error) {
	if src == nil || dst == nil {
		return nil, &terrors.CrsError{Op: "NewTransformer", Err: fmt.Errorf("nil crs")}
	}
	return &Transformer{
		src: src,
		dst: dst,
		t:   &proj.Transformer{Src: src.p, Dst: dst.p},
	}, nil
}

// Apply transforms a single (x, y) coordinate from the source CRS into the
// destination CRS. Errors on uninvertible or out-of-domain inputs surface as
// *terrors.CrsError.
func (t *Transformer) Apply(x, y float64) (float64, float64, error) {
	pts := []proj.Coord{proj.XY(x, y)}
	if err := t.t.Transform(pts); err != nil {
		return 0, 0, &terrors.CrsError{
			Op:  fmt.Sprintf("%s->%s", t.src.name, t.dst.name),
			Err: err,
		}
	}
	out := pts[0]
	if out.X != out.X || out.Y != out.Y { // NaN check without importing math
		return 0, 0, &terrors.CrsError{
			Op:  fmt.Sprintf("%s->%s", t.src.name, t.dst.name),
			Err: fmt.Errorf("transform produced NaN for (%v, %v)", x, y),
		}
	}
	return out.X, out.Y, nil
}

// ApplyBatch transforms many points at once, order preserved; this is the
// batching path pkg/layout's Epsg4326ToTileBatch uses so the stitcher's
// corner/tile-set math takes one cgo call instead of one per coordinate.
func (t *Transformer) ApplyBatch(pts [][2]float64) ([][2]float64, error) {
	coords := make([]proj.Coord, len(pts))
	for i, p := range pts {
		coords[i] = proj.XY(p[0], p[1])
	}
	if err := t.t.Transform(coords); err != nil {
		return nil, &terrors.CrsError{
			Op:  fmt.Sprintf("%s->%s (batch of %d)", t.src.name, t.dst.name, len(pts)),
			Err: err,
		}
	}
	out := make([][2]float64, len(coords))
	for i, c := range coords {
		out[i] = [2]float64{c.X, c.Y}
	}
	return out, nil
}
