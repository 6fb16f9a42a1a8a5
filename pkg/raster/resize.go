package raster

import (
	"fmt"
	"image"
	"image/color"

	"golang.org/x/image/draw"
)

// DrawResizer backs Resizer with golang.org/x/image/draw's scalers. PROJ
// and the layout math never need "area" averaging to be bit-exact — the
// only caller is DiskCached, growing a parent tile to the combined
// resolution of its children — so CatmullRom (the highest
// quality kernel draw.Scaler offers) stands in for the consumed interface's
// "area" mode, and "nearest"/"linear" map onto draw.NearestNeighbor and
// draw.BiLinear respectively.
type DrawResizer struct{}

// Resize implements Resizer.
func (DrawResizer) Resize(r *Raster, newWidth, newHeight int, mode string) (*Raster, error) {
	if newWidth <= 0 || newHeight <= 0 {
		return nil, fmt.Errorf("raster: invalid resize target %dx%d", newWidth, newHeight)
	}

	src := toRGBAImage(r)
	dst := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))

	scaler := scalerFor(mode)
	scaler.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)

	return fromRGBAImage(dst), nil
}

func scalerFor(mode string) draw.Scaler {
	switch mode {
	case "nearest":
		return draw.NearestNeighbor
	case "linear", "bilinear":
		return draw.BiLinear
	case "area", "":
		return draw.CatmullRom
	default:
		return draw.CatmullRom
	}
}

func toRGBAImage(r *Raster) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, r.Width, r.Height))
	for y := 0; y < r.Height; y++ {
		for x := 0; x < r.Width; x++ {
			red, green, blue := r.At(x, y)
			img.SetRGBA(x, y, color.RGBA{R: red, G: green, B: blue, A: 255})
		}
	}
	return img
}

func fromRGBAImage(img *image.RGBA) *Raster {
	b := img.Bounds()
	out := New(b.Dx(), b.Dy())
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			c := img.RGBAAt(b.Min.X+x, b.Min.Y+y)
			out.Set(x, y, c.R, c.G, c.B)
		}
	}
	return out
}
