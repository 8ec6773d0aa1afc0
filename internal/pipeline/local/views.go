package local

import (
	"context"
	"fmt"
	"image"
	"math"
	"path"

	"golang.org/x/image/draw"

	"holo/internal/imaging"
	"holo/internal/mesh"
	"holo/internal/pipeline"
)

func (r *Runner) views(ctx context.Context, req pipeline.StageRequest) (map[string]any, error) {
	model := pipeline.ConfigString(req.Config, "model", "orbit")
	if model != "orbit" {
		return nil, pipeline.Failf(pipeline.StageViews, "unknown local views model %q", model)
	}
	count := pipeline.ConfigInt(req.Config, "count", 12)
	seed := pipeline.ConfigInt(req.Config, "seed", 42)
	elevation := pipeline.ConfigFloat(req.Config, "elevationDeg", 10)
	fov := pipeline.ConfigFloat(req.Config, "fovDeg", 35)
	res := pipeline.ConfigInt(req.Config, "resolution", 256)
	if count < 1 || res < 1 {
		return nil, pipeline.Failf(pipeline.StageViews, "invalid count %d or resolution %d", count, res)
	}

	cut, err := r.readImage(ctx, req.Input.URI)
	if err != nil {
		return nil, err
	}
	if err := imaging.VerifyCutout(cut); err != nil {
		return nil, pipeline.Failf(pipeline.StageViews, "input %s: %w", req.Input.URI, err)
	}
	manifestKey, err := r.store.KeyForURI(req.Output.URI)
	if err != nil {
		return nil, err
	}

	poses := mesh.OrbitPoses(count, int64(seed), elevation, mesh.OrbitRadius)
	intr := mesh.IntrinsicsFor(res, res, fov)
	manifest := pipeline.ViewsManifest{Version: pipeline.ManifestVersion, FovDeg: fov}
	for i, pose := range poses {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rel := fmt.Sprintf("views/view_%02d.png", i)
		key, err := pipeline.ResolveRelative(manifestKey, rel)
		if err != nil {
			return nil, err
		}
		if err := r.writePNG(ctx, key, renderBillboard(cut, pose, res)); err != nil {
			return nil, err
		}
		manifest.Views = append(manifest.Views, pipeline.ViewEntry{
			ID:         fmt.Sprintf("view_%02d", i),
			ImagePath:  rel,
			Pose:       pose,
			Intrinsics: intr,
			Width:      res,
			Height:     res,
		})
	}
	if err := pipeline.WriteJSON(ctx, r.store, req.Output.URI, manifest); err != nil {
		return nil, err
	}
	return map[string]any{
		"count":      len(manifest.Views),
		"resolution": res,
		"manifest":   path.Base(manifestKey),
	}, nil
}

// renderBillboard draws the cutout as a flat card turned by the view azimuth.
// The card narrows with |cos(azimuth)|, never below 15% of its width, and
// mirrors when seen from behind.
func renderBillboard(cut image.Image, pose mesh.Pose, res int) *image.NRGBA {
	out := image.NewNRGBA(image.Rect(0, 0, res, res))
	b := cut.Bounds()
	scale := 0.8 * float64(res) / math.Max(float64(b.Dx()), float64(b.Dy()))
	w := float64(b.Dx()) * scale
	h := float64(b.Dy()) * scale * math.Cos(pose.ElevationDeg*math.Pi/180)
	squash := math.Cos(pose.AzimuthDeg * math.Pi / 180)
	cw := math.Max(0.15*w, math.Abs(squash)*w)
	rect := image.Rect(
		int(math.Round((float64(res)-cw)/2)),
		int(math.Round((float64(res)-h)/2)),
		int(math.Round((float64(res)+cw)/2)),
		int(math.Round((float64(res)+h)/2)),
	)
	card := image.NewNRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	draw.BiLinear.Scale(card, card.Bounds(), cut, b, draw.Src, nil)
	if squash < 0 {
		mirror(card)
	}
	draw.Draw(out, rect, card, image.Point{}, draw.Over)
	return out
}

func mirror(img *image.NRGBA) {
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := 0; x < b.Dx()/2; x++ {
			l := img.PixOffset(b.Min.X+x, y)
			r := img.PixOffset(b.Max.X-1-x, y)
			for k := 0; k < 4; k++ {
				img.Pix[l+k], img.Pix[r+k] = img.Pix[r+k], img.Pix[l+k]
			}
		}
	}
}
