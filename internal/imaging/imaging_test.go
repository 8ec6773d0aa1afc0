package imaging

import (
	"errors"
	"image"
	"image/color"
	"math"
	"testing"
)

// subject paints a red square centred on a white background.
func subject(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.NRGBA{R: 255, G: 255, B: 255, A: 255}
			if x >= w/4 && x < 3*w/4 && y >= h/4 && y < 3*h/4 {
				c = color.NRGBA{R: 200, G: 20, B: 20, A: 255}
			}
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func TestBorderKeyMaskSeparatesSubject(t *testing.T) {
	mask := BorderKeyMask(subject(32, 32), 0.12)
	if mask.GrayAt(16, 16).Y != 255 {
		t.Fatalf("expected centre foreground, got %d", mask.GrayAt(16, 16).Y)
	}
	if mask.GrayAt(0, 0).Y != 0 {
		t.Fatalf("expected corner background, got %d", mask.GrayAt(0, 0).Y)
	}
	cov := Coverage(mask)
	if math.Abs(cov-0.25) > 0.01 {
		t.Fatalf("unexpected coverage %.3f", cov)
	}
}

func TestCompositeMaskProducesCutout(t *testing.T) {
	src := subject(32, 32)
	cut := CompositeMask(src, BorderKeyMask(src, 0.12))
	if err := VerifyCutout(cut); err != nil {
		t.Fatalf("VerifyCutout: %v", err)
	}
	centre := cut.NRGBAAt(16, 16)
	if centre.A != 255 || centre.R != 200 {
		t.Fatalf("expected opaque subject colour, got %+v", centre)
	}
	if cut.NRGBAAt(1, 1).A != 0 {
		t.Fatalf("expected transparent background, got %+v", cut.NRGBAAt(1, 1))
	}
}

func TestCompositeMaskRescalesMask(t *testing.T) {
	src := subject(64, 64)
	small := image.NewGray(image.Rect(0, 0, 16, 16))
	for i := range small.Pix {
		small.Pix[i] = 255
	}
	cut := CompositeMask(src, small)
	if cut.Bounds().Dx() != 64 || cut.Bounds().Dy() != 64 {
		t.Fatalf("unexpected bounds %v", cut.Bounds())
	}
	if a := cut.NRGBAAt(40, 40).A; a < 250 {
		t.Fatalf("expected full alpha from full mask, got %d", a)
	}
}

func TestVerifyCutoutRejectsMasksAndOpaqueImages(t *testing.T) {
	mask := BorderKeyMask(subject(8, 8), 0.12)
	if err := VerifyCutout(mask); !errors.Is(err, ErrNotCutout) {
		t.Fatalf("expected raw mask rejection, got %v", err)
	}
	if err := VerifyCutout(subject(8, 8)); !errors.Is(err, ErrNotCutout) {
		t.Fatalf("expected opaque rejection, got %v", err)
	}
	empty := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	if err := VerifyCutout(empty); !errors.Is(err, ErrNotCutout) {
		t.Fatalf("expected transparent rejection, got %v", err)
	}
}

func TestFeatherSoftensEdges(t *testing.T) {
	mask := BorderKeyMask(subject(32, 32), 0.12)
	soft := Feather(mask, 2)
	edge := soft.GrayAt(8, 16).Y
	if edge == 0 || edge == 255 {
		t.Fatalf("expected intermediate value on edge, got %d", edge)
	}
	if soft.GrayAt(16, 16).Y != 255 {
		t.Fatalf("expected interior to stay solid")
	}
	if Feather(mask, 0) != mask {
		t.Fatal("radius 0 should return the input")
	}
}

func TestEncodeDecodePNG(t *testing.T) {
	src := subject(16, 16)
	data, err := EncodePNG(CompositeMask(src, AlphaMask(src)))
	if err != nil {
		t.Fatalf("EncodePNG: %v", err)
	}
	img, format, err := DecodeBytes(data)
	if err != nil {
		t.Fatalf("DecodeBytes: %v", err)
	}
	if format != "png" || img.Bounds().Dx() != 16 {
		t.Fatalf("unexpected decode result %s %v", format, img.Bounds())
	}
	if _, _, err := DecodeBytes([]byte("not an image")); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestMaskFromImage(t *testing.T) {
	gray := image.NewGray(image.Rect(0, 0, 2, 1))
	gray.Pix[0], gray.Pix[1] = 0, 255
	mask := MaskFromImage(gray)
	if mask.Pix[0] != 0 || mask.Pix[1] != 255 {
		t.Fatalf("unexpected luminance mask %v", mask.Pix)
	}

	rgba := image.NewNRGBA(image.Rect(0, 0, 2, 1))
	rgba.SetNRGBA(1, 0, color.NRGBA{R: 10, G: 10, B: 10, A: 255})
	mask = MaskFromImage(rgba)
	if mask.Pix[0] != 0 || mask.Pix[1] != 255 {
		t.Fatalf("unexpected alpha mask %v", mask.Pix)
	}
}

func TestDepthRoundTrip(t *testing.T) {
	d := NewDepthMap(3, 1)
	d.Set(0, 0, 1.0)
	d.Set(1, 0, 2.0)
	lo, hi, ok := d.Range()
	if !ok || lo != 1.0 || hi != 2.0 {
		t.Fatalf("Range = %v %v %v", lo, hi, ok)
	}
	back := DecodeDepth(EncodeDepth(d, lo, hi), lo, hi)
	if math.Abs(back.At(0, 0)-1.0) > 1e-4 || math.Abs(back.At(1, 0)-2.0) > 1e-4 {
		t.Fatalf("unexpected decoded depth %v", back.Values)
	}
	if !math.IsNaN(back.At(2, 0)) {
		t.Fatalf("expected background to stay NaN, got %v", back.At(2, 0))
	}
	if _, _, ok := NewDepthMap(2, 2).Range(); ok {
		t.Fatal("expected empty range")
	}
}
