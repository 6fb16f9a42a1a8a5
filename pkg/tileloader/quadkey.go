package tileloader

import "strconv"

// Quadkey computes the Bing Maps quadkey string for tile (x, y) at the
// given zoom, per Microsoft's standard recipe: the zoom'th bit (highest
// first) of x and y are interleaved into one digit per level, 0-3.
func Quadkey(x, y int64, zoom int) string {
	digits := make([]byte, zoom)
	for i := 0; i < zoom; i++ {
		shift := uint(zoom - 1 - i)
		digit := 0
		if (x>>shift)&1 != 0 {
			digit++
		}
		if (y>>shift)&1 != 0 {
			digit += 2
		}
		digits[i] = byte('0' + digit)
	}
	return string(digits)
}

func formatInt(v int64) string {
	return strconv.FormatInt(v, 10)
}
