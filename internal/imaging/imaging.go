// Package imaging holds the raster helpers shared by every pipeline backend:
// decoding uploads, building foreground masks, and compositing cutouts.
//
// A cutout is always an RGBA image whose alpha channel is the foreground mask
// applied over the source colours. CompositeMask is the only constructor the
// backends use, and VerifyCutout rejects anything that looks like a bare mask.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"io"
	"math"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

var (
	// ErrNotCutout reports an image that does not carry a composited alpha mask.
	ErrNotCutout = errors.New("image is not a composited cutout")
	// ErrEmptyImage reports a zero-sized image.
	ErrEmptyImage = errors.New("image has no pixels")
)

// Decode reads any supported raster format and returns the format name.
func Decode(r io.Reader) (image.Image, string, error) {
	img, format, err := image.Decode(r)
	if err != nil {
		return nil, "", fmt.Errorf("decode image: %w", err)
	}
	if b := img.Bounds(); b.Empty() {
		return nil, format, ErrEmptyImage
	}
	return img, format, nil
}

// DecodeBytes is Decode over a byte slice.
func DecodeBytes(data []byte) (image.Image, string, error) {
	return Decode(bytes.NewReader(data))
}

// EncodePNG encodes img with default compression.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// ToNRGBA copies img into a zero-origin NRGBA image.
func ToNRGBA(img image.Image) *image.NRGBA {
	b := img.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	return out
}

// Resize scales img to w x h.
func Resize(img image.Image, w, h int) *image.NRGBA {
	out := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(out, out.Bounds(), img, img.Bounds(), draw.Src, nil)
	return out
}

// ResizeGray scales a mask to w x h.
func ResizeGray(mask *image.Gray, w, h int) *image.Gray {
	if mask.Bounds().Dx() == w && mask.Bounds().Dy() == h {
		return mask
	}
	out := image.NewGray(image.Rect(0, 0, w, h))
	draw.BiLinear.Scale(out, out.Bounds(), mask, mask.Bounds(), draw.Src, nil)
	return out
}

// CompositeMask applies mask as the alpha channel of src. Masks of a different
// size are rescaled to the source bounds. Existing source transparency is kept.
func CompositeMask(src image.Image, mask *image.Gray) *image.NRGBA {
	out := ToNRGBA(src)
	w, h := out.Bounds().Dx(), out.Bounds().Dy()
	m := ResizeGray(mask, w, h)
	mb := m.Bounds()
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := out.PixOffset(x, y)
			a := uint32(out.Pix[i+3]) * uint32(m.GrayAt(mb.Min.X+x, mb.Min.Y+y).Y) / 255
			out.Pix[i+3] = uint8(a)
			if a == 0 {
				out.Pix[i], out.Pix[i+1], out.Pix[i+2] = 0, 0, 0
			}
		}
	}
	return out
}

// MaskFromImage converts an image returned as a mask into a Gray mask. Images
// with a meaningful alpha channel use alpha; others use luminance.
func MaskFromImage(img image.Image) *image.Gray {
	b := img.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	useAlpha := hasTransparency(img)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			var v uint8
			if useAlpha {
				_, _, _, a := img.At(x, y).RGBA()
				v = uint8(a >> 8)
			} else {
				v = color.GrayModel.Convert(img.At(x, y)).(color.Gray).Y
			}
			out.SetGray(x-b.Min.X, y-b.Min.Y, color.Gray{Y: v})
		}
	}
	return out
}

// AlphaMask extracts the alpha channel of img.
func AlphaMask(img image.Image) *image.Gray {
	b := img.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			_, _, _, a := img.At(x, y).RGBA()
			out.SetGray(x-b.Min.X, y-b.Min.Y, color.Gray{Y: uint8(a >> 8)})
		}
	}
	return out
}

// BorderKeyMask keys out the background by its distance from the mean border
// colour. threshold is the normalized RGB distance at which a pixel counts as
// foreground.
func BorderKeyMask(img image.Image, threshold float64) *image.Gray {
	src := ToNRGBA(img)
	w, h := src.Bounds().Dx(), src.Bounds().Dy()
	bg := borderMean(src)
	out := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := src.PixOffset(x, y)
			if src.Pix[i+3] == 0 {
				continue
			}
			dr := float64(src.Pix[i]) - bg[0]
			dg := float64(src.Pix[i+1]) - bg[1]
			db := float64(src.Pix[i+2]) - bg[2]
			dist := math.Sqrt(dr*dr+dg*dg+db*db) / (255 * math.Sqrt(3))
			if dist >= threshold {
				out.Pix[out.PixOffset(x, y)] = 255
			}
		}
	}
	return out
}

func borderMean(img *image.NRGBA) [3]float64 {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	var sum [3]float64
	n := 0
	add := func(x, y int) {
		i := img.PixOffset(x, y)
		sum[0] += float64(img.Pix[i])
		sum[1] += float64(img.Pix[i+1])
		sum[2] += float64(img.Pix[i+2])
		n++
	}
	for x := 0; x < w; x++ {
		add(x, 0)
		if h > 1 {
			add(x, h-1)
		}
	}
	for y := 1; y < h-1; y++ {
		add(0, y)
		if w > 1 {
			add(w-1, y)
		}
	}
	if n == 0 {
		return sum
	}
	return [3]float64{sum[0] / float64(n), sum[1] / float64(n), sum[2] / float64(n)}
}

// Feather softens mask edges with a separable box blur of the given radius.
func Feather(mask *image.Gray, radius int) *image.Gray {
	if radius <= 0 {
		return mask
	}
	b := mask.Bounds()
	w, h := b.Dx(), b.Dy()
	tmp := make([]float64, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var sum float64
			n := 0
			for k := x - radius; k <= x+radius; k++ {
				if k < 0 || k >= w {
					continue
				}
				sum += float64(mask.GrayAt(b.Min.X+k, b.Min.Y+y).Y)
				n++
			}
			tmp[y*w+x] = sum / float64(n)
		}
	}
	out := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var sum float64
			n := 0
			for k := y - radius; k <= y+radius; k++ {
				if k < 0 || k >= h {
					continue
				}
				sum += tmp[k*w+x]
				n++
			}
			out.Pix[out.PixOffset(x, y)] = uint8(math.Round(sum / float64(n)))
		}
	}
	return out
}

// Coverage returns the fraction of mask pixels at or above half intensity.
func Coverage(mask *image.Gray) float64 {
	b := mask.Bounds()
	total := b.Dx() * b.Dy()
	if total == 0 {
		return 0
	}
	on := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if mask.GrayAt(x, y).Y >= 128 {
				on++
			}
		}
	}
	return float64(on) / float64(total)
}

// VerifyCutout checks that img carries an alpha mask: some pixels must be
// transparent and some visible. Single-channel images are raw masks and are
// rejected.
func VerifyCutout(img image.Image) error {
	switch img.(type) {
	case *image.Gray, *image.Gray16:
		return fmt.Errorf("%w: single-channel mask", ErrNotCutout)
	}
	b := img.Bounds()
	if b.Empty() {
		return ErrEmptyImage
	}
	var transparent, visible bool
	for y := b.Min.Y; y < b.Max.Y && !(transparent && visible); y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			_, _, _, a := img.At(x, y).RGBA()
			if a < 0xffff {
				transparent = true
			}
			if a > 0 {
				visible = true
			}
		}
	}
	if !transparent {
		return fmt.Errorf("%w: no transparent pixels", ErrNotCutout)
	}
	if !visible {
		return fmt.Errorf("%w: fully transparent", ErrNotCutout)
	}
	return nil
}

func hasTransparency(img image.Image) bool {
	if o, ok := img.(interface{ Opaque() bool }); ok {
		return !o.Opaque()
	}
	return true
}
