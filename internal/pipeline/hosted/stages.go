package hosted

import (
	"context"
	"fmt"
	"image"
	"math"
	"sync"

	"holo/internal/blob"
	"holo/internal/imaging"
	"holo/internal/mesh"
	"holo/internal/pipeline"
)

const (
	cutoutPrompt = "Segment the main subject of this image. Return a single PNG mask where the subject is white and the background is black."
	viewPrompt   = "Render the subject of this cutout image from azimuth %.1f degrees and elevation %.1f degrees on a transparent background. Return a single PNG."
	depthPrompt  = "Estimate a depth map for this image. Return a grayscale PNG where nearer surfaces are brighter."

	depthThickness = 0.35
)

func (r *Runner) readImage(ctx context.Context, uri string) (image.Image, error) {
	data, err := blob.ReadURI(ctx, r.store, uri)
	if err != nil {
		return nil, err
	}
	img, _, err := imaging.DecodeBytes(data)
	return img, err
}

func (r *Runner) writePNG(ctx context.Context, key string, img image.Image) error {
	data, err := imaging.EncodePNG(img)
	if err != nil {
		return err
	}
	_, err = blob.PutBytes(ctx, r.store, key, data)
	return err
}

// cutout asks for a mask and always composites it onto the input, so a
// provider returning a bare mask still yields an RGBA cutout.
func (r *Runner) cutout(ctx context.Context, call *caller, req pipeline.StageRequest) (map[string]any, error) {
	src, err := r.readImage(ctx, req.Input.URI)
	if err != nil {
		return nil, err
	}
	decoded, err := call.generate(ctx, cutoutPrompt, src)
	if err != nil {
		return nil, err
	}
	mask := decoded.Mask()
	if feather := pipeline.ConfigInt(req.Config, "featherPx", 0); feather > 0 {
		mask = imaging.Feather(mask, feather)
	}
	coverage := imaging.Coverage(imaging.ResizeGray(mask, src.Bounds().Dx(), src.Bounds().Dy()))
	if coverage == 0 {
		return nil, fmt.Errorf("provider mask has no foreground")
	}
	cut := imaging.CompositeMask(src, mask)
	data, err := imaging.EncodePNG(cut)
	if err != nil {
		return nil, err
	}
	if _, err := blob.WriteURI(ctx, r.store, req.Output.URI, data); err != nil {
		return nil, err
	}
	return map[string]any{"coverage": coverage, "width": cut.Bounds().Dx(), "height": cut.Bounds().Dy()}, nil
}

func (r *Runner) views(ctx context.Context, call *caller, req pipeline.StageRequest) (map[string]any, error) {
	count := pipeline.ConfigInt(req.Config, "count", 12)
	seed := pipeline.ConfigInt(req.Config, "seed", 42)
	elevation := pipeline.ConfigFloat(req.Config, "elevationDeg", 10)
	fov := pipeline.ConfigFloat(req.Config, "fovDeg", 35)
	res := pipeline.ConfigInt(req.Config, "resolution", 256)

	cut, err := r.readImage(ctx, req.Input.URI)
	if err != nil {
		return nil, err
	}
	manifestKey, err := r.store.KeyForURI(req.Output.URI)
	if err != nil {
		return nil, err
	}
	intr := mesh.IntrinsicsFor(res, res, fov)
	manifest := pipeline.ViewsManifest{Version: pipeline.ManifestVersion, FovDeg: fov}
	for i, pose := range mesh.OrbitPoses(count, int64(seed), elevation, mesh.OrbitRadius) {
		decoded, err := call.generate(ctx, fmt.Sprintf(viewPrompt, pose.AzimuthDeg, pose.ElevationDeg), cut)
		if err != nil {
			return nil, fmt.Errorf("view %d: %w", i, err)
		}
		if decoded.Image == nil {
			return nil, fmt.Errorf("view %d: provider returned a tensor, want an image", i)
		}
		view := imaging.Resize(decoded.Image, res, res)
		rel := fmt.Sprintf("views/view_%02d.png", i)
		key, err := pipeline.ResolveRelative(manifestKey, rel)
		if err != nil {
			return nil, err
		}
		if err := r.writePNG(ctx, key, view); err != nil {
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
	return map[string]any{"count": len(manifest.Views), "resolution": res}, nil
}

func (r *Runner) depth(ctx context.Context, call *caller, req pipeline.StageRequest) (map[string]any, error) {
	concurrency := max(1, pipeline.ConfigInt(req.Config, "concurrency", 4))
	var views pipeline.ViewsManifest
	if err := pipeline.ReadJSON(ctx, r.store, req.Input.URI, &views); err != nil {
		return nil, err
	}
	viewsKey, err := r.store.KeyForURI(req.Input.URI)
	if err != nil {
		return nil, err
	}
	depthKey, err := r.store.KeyForURI(req.Output.URI)
	if err != nil {
		return nil, err
	}

	entries := make([]pipeline.DepthEntry, len(views.Views))
	errs := make([]error, len(views.Views))
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	for i, view := range views.Views {
		wg.Add(1)
		go func() {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				errs[i] = ctx.Err()
				return
			}
			defer func() { <-sem }()
			imgKey, err := pipeline.ResolveRelative(viewsKey, view.ImagePath)
			if err != nil {
				errs[i] = err
				return
			}
			imgURI, err := r.store.URI(imgKey)
			if err != nil {
				errs[i] = err
				return
			}
			img, err := r.readImage(ctx, imgURI)
			if err != nil {
				errs[i] = err
				return
			}
			decoded, err := call.generate(ctx, depthPrompt, img)
			if err != nil {
				errs[i] = fmt.Errorf("view %s: %w", view.ID, err)
				return
			}
			d := depthFrom(decoded, img, view)
			lo, hi, ok := d.Range()
			if !ok {
				errs[i] = fmt.Errorf("view %s: depth has no foreground", view.ID)
				return
			}
			rel := fmt.Sprintf("depth/%s.png", view.ID)
			outKey, err := pipeline.ResolveRelative(depthKey, rel)
			if err != nil {
				errs[i] = err
				return
			}
			if err := r.writePNG(ctx, outKey, imaging.EncodeDepth(d, lo, hi)); err != nil {
				errs[i] = err
				return
			}
			entries[i] = pipeline.DepthEntry{ViewEntry: view, DepthPath: rel, Min: lo, Max: hi}
		}()
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	if err := pipeline.WriteJSON(ctx, r.store, req.Output.URI, pipeline.DepthManifest{Version: pipeline.ManifestVersion, Views: entries}); err != nil {
		return nil, err
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, e := range entries {
		lo, hi = math.Min(lo, e.Min), math.Max(hi, e.Max)
	}
	return map[string]any{"views": len(entries), "depthMin": lo, "depthMax": hi}, nil
}

// depthFrom maps normalized provider depth (bright = near) into camera depth,
// restricted to the view's alpha silhouette.
func depthFrom(decoded Decoded, view image.Image, entry pipeline.ViewEntry) *imaging.DepthMap {
	w, h := view.Bounds().Dx(), view.Bounds().Dy()
	near := imaging.ResizeGray(decoded.Mask(), w, h)
	alpha := imaging.AlphaMask(view)
	d := imaging.NewDepthMap(w, h)
	radius := entry.Pose.Radius
	if radius == 0 {
		radius = mesh.OrbitRadius
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if alpha.GrayAt(x, y).Y < 128 {
				continue
			}
			d.Set(x, y, radius-depthThickness*float64(near.GrayAt(x, y).Y)/255)
		}
	}
	return d
}
