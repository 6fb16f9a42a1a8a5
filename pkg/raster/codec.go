package raster

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
)

// StdDecoder decodes JPEG and PNG bodies with the standard library's
// image/jpeg and image/png, matching the teacher's tile processor. Any
// alpha channel is dropped, per spec.md §4.E step 3.
type StdDecoder struct{}

// Decode implements Decoder.
func (StdDecoder) Decode(data []byte) (*Raster, error) {
	var img image.Image
	var err error

	switch {
	case len(data) >= 4 && bytes.Equal(data[:4], []byte{0x89, 0x50, 0x4E, 0x47}):
		img, err = png.Decode(bytes.NewReader(data))
	case len(data) >= 2 && bytes.Equal(data[:2], []byte{0xFF, 0xD8}):
		img, err = jpeg.Decode(bytes.NewReader(data))
	default:
		return nil, fmt.Errorf("raster: unrecognized image format (%d bytes)", len(data))
	}
	if err != nil {
		return nil, err
	}
	return fromImage(img), nil
}

func fromImage(img image.Image) *Raster {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	out := New(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			out.Set(x, y, uint8(r>>8), uint8(g>>8), uint8(b>>8))
		}
	}
	return out
}

// PNGEncoder encodes a Raster back to PNG bytes, for CLI output.
type PNGEncoder struct{}

// Encode implements Encoder.
func (PNGEncoder) Encode(r *Raster) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, r.Width, r.Height))
	for y := 0; y < r.Height; y++ {
		for x := 0; x < r.Width; x++ {
			red, green, blue := r.At(x, y)
			idx := img.PixOffset(x, y)
			img.Pix[idx] = red
			img.Pix[idx+1] = green
			img.Pix[idx+2] = blue
			img.Pix[idx+3] = 255
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
