package imaging

import (
	"image"
	"image/color"
	"math"
)

// DepthMap is a row-major float depth buffer. NaN marks background.
type DepthMap struct {
	Width  int
	Height int
	Values []float64
}

// NewDepthMap allocates a background-filled map.
func NewDepthMap(w, h int) *DepthMap {
	values := make([]float64, w*h)
	for i := range values {
		values[i] = math.NaN()
	}
	return &DepthMap{Width: w, Height: h, Values: values}
}

// At returns the depth at (x, y).
func (d *DepthMap) At(x, y int) float64 {
	return d.Values[y*d.Width+x]
}

// Set stores the depth at (x, y).
func (d *DepthMap) Set(x, y int, v float64) {
	d.Values[y*d.Width+x] = v
}

// Range returns the min and max finite depth. ok is false for an empty map.
func (d *DepthMap) Range() (lo, hi float64, ok bool) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, v := range d.Values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
		ok = true
	}
	if !ok {
		return 0, 0, false
	}
	return lo, hi, true
}

// EncodeDepth quantizes d into a 16-bit image over [lo, hi]. Zero is reserved
// for background so valid samples map into [1, 65535].
func EncodeDepth(d *DepthMap, lo, hi float64) *image.Gray16 {
	out := image.NewGray16(image.Rect(0, 0, d.Width, d.Height))
	span := hi - lo
	for y := 0; y < d.Height; y++ {
		for x := 0; x < d.Width; x++ {
			v := d.At(x, y)
			if math.IsNaN(v) {
				continue
			}
			t := 0.0
			if span > 0 {
				t = (v - lo) / span
			}
			t = math.Min(1, math.Max(0, t))
			out.SetGray16(x, y, color.Gray16{Y: uint16(1 + math.Round(t*65534))})
		}
	}
	return out
}

// DecodeDepth reverses EncodeDepth for any single-channel image.
func DecodeDepth(img image.Image, lo, hi float64) *DepthMap {
	b := img.Bounds()
	d := NewDepthMap(b.Dx(), b.Dy())
	span := hi - lo
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			v := color.Gray16Model.Convert(img.At(x, y)).(color.Gray16).Y
			if v == 0 {
				continue
			}
			d.Set(x-b.Min.X, y-b.Min.Y, lo+span*float64(v-1)/65534)
		}
	}
	return d
}
