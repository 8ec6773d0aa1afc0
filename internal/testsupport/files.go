package testsupport

import (
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"holo/internal/bakespec"
	"holo/internal/imaging"
)

// SubjectPNG returns a size×size PNG with a coloured block on a light
// background, which the border-key cutout separates cleanly.
func SubjectPNG(t testing.TB, size int) []byte {
	t.Helper()
	data, err := imaging.EncodePNG(subject(size))
	if err != nil {
		t.Fatalf("encode subject: %v", err)
	}
	return data
}

// CutoutPNG returns SubjectPNG composited over its border-key mask.
func CutoutPNG(t testing.TB, size int) []byte {
	t.Helper()
	src := subject(size)
	data, err := imaging.EncodePNG(imaging.CompositeMask(src, imaging.BorderKeyMask(src, 0.12)))
	if err != nil {
		t.Fatalf("encode cutout: %v", err)
	}
	return data
}

func subject(size int) *image.NRGBA {
	if size < 8 {
		size = 8
	}
	img := image.NewNRGBA(image.Rect(0, 0, size, size))
	lo, hi := size/4, size-size/4
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			c := color.NRGBA{R: 248, G: 248, B: 248, A: 255}
			if x >= lo && x < hi && y >= lo-size/8 && y < hi {
				c = color.NRGBA{R: 40, G: 110, B: 190, A: 255}
			}
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

// WritePNG writes SubjectPNG to path, creating parent directories.
func WritePNG(t testing.TB, path string, size int) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, SubjectPNG(t, size), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// SmallSpec returns a bake spec that keeps local pipeline runs fast.
func SmallSpec() bakespec.Spec {
	spec := bakespec.Default()
	spec.Views.Count = 4
	spec.Views.Resolution = 64
	spec.Recon.GridSize = 24
	spec.Mesh.TargetTris = 200
	return spec
}

// SpecJSON renders spec canonically.
func SpecJSON(t testing.TB, spec bakespec.Spec) string {
	t.Helper()

	data, err := spec.Canonical()
	if err != nil {
		t.Fatalf("canonical spec: %v", err)
	}
	return string(data)
}

// DefaultSpecJSON is SpecJSON(SmallSpec()).
func DefaultSpecJSON(t testing.TB) string {
	t.Helper()
	return SpecJSON(t, SmallSpec())
}

