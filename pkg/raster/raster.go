// Package raster defines the RGB image raster terratile passes between
// tile loaders and the stitcher, plus the thin Decoder/Resizer/Encoder
// interfaces that keep image codecs and resize kernels as external,
// swappable collaborators (spec.md §6) rather than baked-in dependencies.
package raster

import "fmt"

// Raster is an (H, W, 3) grid of 8-bit RGB channels, stored row-major. Pix
// is laid out as [row][col][channel]; use At/Set for (x,y)-indexed access,
// which is how the layout and stitcher packages address pixels — the
// explicit conversion from (x,y) to (row,col) happens only here.
type Raster struct {
	Width, Height int
	Pix           []uint8 // len == Width*Height*3
}

// New allocates a zeroed raster of the given shape.
func New(width, height int) *Raster {
	return &Raster{
		Width:  width,
		Height: height,
		Pix:    make([]uint8, width*height*3),
	}
}

// Filled allocates a raster of the given shape filled with a solid RGB
// color, as WithDefault needs for its synthesized tiles.
func Filled(width, height int, r, g, b uint8) *Raster {
	ras := New(width, height)
	for i := 0; i < len(ras.Pix); i += 3 {
		ras.Pix[i] = r
		ras.Pix[i+1] = g
		ras.Pix[i+2] = b
	}
	return ras
}

// offset converts an (x,y) pixel coordinate to the row-major byte offset
// into Pix. x is the column, y is the row.
func (r *Raster) offset(x, y int) int {
	return (y*r.Width + x) * 3
}

// At returns the RGB triple at pixel (x, y).
func (r *Raster) At(x, y int) (uint8, uint8, uint8) {
	o := r.offset(x, y)
	return r.Pix[o], r.Pix[o+1], r.Pix[o+2]
}

// Set writes the RGB triple at pixel (x, y).
func (r *Raster) Set(x, y int, red, green, blue uint8) {
	o := r.offset(x, y)
	r.Pix[o] = red
	r.Pix[o+1] = green
	r.Pix[o+2] = blue
}

// InBounds reports whether (x, y) is within the raster's pixel grid.
func (r *Raster) InBounds(x, y int) bool {
	return x >= 0 && y >= 0 && x < r.Width && y < r.Height
}

// BlitAt copies src into r with its top-left corner at (x0, y0), clipping
// to r's bounds. Used by the stitcher to place a loaded tile into the
// super-tile.
func (r *Raster) BlitAt(src *Raster, x0, y0 int) {
	for y := 0; y < src.Height; y++ {
		dy := y0 + y
		if dy < 0 || dy >= r.Height {
			continue
		}
		for x := 0; x < src.Width; x++ {
			dx := x0 + x
			if dx < 0 || dx >= r.Width {
				continue
			}
			red, green, blue := src.At(x, y)
			r.Set(dx, dy, red, green, blue)
		}
	}
}

// Crop extracts the sub-raster [x0,x0+w) x [y0,y0+h), which must lie
// entirely within r.
func (r *Raster) Crop(x0, y0, w, h int) (*Raster, error) {
	if x0 < 0 || y0 < 0 || x0+w > r.Width || y0+h > r.Height {
		return nil, fmt.Errorf("raster: crop (%d,%d,%d,%d) out of bounds for %dx%d", x0, y0, w, h, r.Width, r.Height)
	}
	out := New(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			red, green, blue := r.At(x0+x, y0+y)
			out.Set(x, y, red, green, blue)
		}
	}
	return out, nil
}

// Decoder turns encoded tile bytes (JPEG, PNG, ...) into an RGB Raster. It
// is a consumed interface: terratile's core never implements JPEG2000 or
// TIFF decoding itself, only wires up whatever Decoder its caller supplies.
type Decoder interface {
	Decode(data []byte) (*Raster, error)
}

// Encoder serializes an RGB Raster back to encoded bytes, for CLI/test
// output.
type Encoder interface {
	Encode(r *Raster) ([]byte, error)
}

// Resizer rescales a Raster to a new pixel shape. mode follows spec.md's
// resize(raster, new_shape, mode="area") consumed-interface signature; the
// default Resizer documents which modes it actually honors.
type Resizer interface {
	Resize(r *Raster, newWidth, newHeight int, mode string) (*Raster, error)
}
