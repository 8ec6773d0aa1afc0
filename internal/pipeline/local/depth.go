package local

import (
	"context"
	"fmt"
	"image"
	"math"
	"sync"

	"holo/internal/imaging"
	"holo/internal/pipeline"
)

const silhouetteThickness = 0.35

func (r *Runner) depth(ctx context.Context, req pipeline.StageRequest) (map[string]any, error) {
	model := pipeline.ConfigString(req.Config, "model", "silhouette")
	if model != "silhouette" {
		return nil, pipeline.Failf(pipeline.StageDepth, "unknown local depth model %q", model)
	}
	concurrency := pipeline.ConfigInt(req.Config, "concurrency", 4)
	if concurrency < 1 {
		concurrency = 1
	}

	var views pipeline.ViewsManifest
	if err := pipeline.ReadJSON(ctx, r.store, req.Input.URI, &views); err != nil {
		return nil, err
	}
	if len(views.Views) == 0 {
		return nil, pipeline.Failf(pipeline.StageDepth, "views manifest lists no views")
	}
	viewsKey, err := r.store.KeyForURI(req.Input.URI)
	if err != nil {
		return nil, err
	}
	depthKey, err := r.store.KeyForURI(req.Output.URI)
	if err != nil {
		return nil, err
	}
	previous := r.previousDepth(ctx, req.Output.URI)

	entries := make([]pipeline.DepthEntry, len(views.Views))
	errs := make([]error, len(views.Views))
	reused := make([]bool, len(views.Views))
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
			rel := fmt.Sprintf("depth/%s.png", view.ID)
			outKey, err := pipeline.ResolveRelative(depthKey, rel)
			if err != nil {
				errs[i] = err
				return
			}
			if prev, ok := previous[view.ID]; ok && prev.DepthPath == rel {
				if exists, _ := r.store.Exists(ctx, outKey); exists {
					entries[i], reused[i] = prev, true
					return
				}
			}
			entry, err := r.depthForView(ctx, viewsKey, outKey, view)
			if err != nil {
				errs[i] = fmt.Errorf("view %s: %w", view.ID, err)
				return
			}
			entry.DepthPath = rel
			entries[i] = entry
		}()
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	manifest := pipeline.DepthManifest{Version: pipeline.ManifestVersion, Views: entries}
	if err := pipeline.WriteJSON(ctx, r.store, req.Output.URI, manifest); err != nil {
		return nil, err
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	reusedCount := 0
	for i, e := range entries {
		lo = math.Min(lo, e.Min)
		hi = math.Max(hi, e.Max)
		if reused[i] {
			reusedCount++
		}
	}
	return map[string]any{
		"views":    len(entries),
		"reused":   reusedCount,
		"depthMin": lo,
		"depthMax": hi,
	}, nil
}

func (r *Runner) previousDepth(ctx context.Context, uri string) map[string]pipeline.DepthEntry {
	var prev pipeline.DepthManifest
	if err := pipeline.ReadJSON(ctx, r.store, uri, &prev); err != nil {
		return nil
	}
	out := make(map[string]pipeline.DepthEntry, len(prev.Views))
	for _, e := range prev.Views {
		out[e.ID] = e
	}
	return out
}

func (r *Runner) depthForView(ctx context.Context, viewsKey, outKey string, view pipeline.ViewEntry) (pipeline.DepthEntry, error) {
	imgKey, err := pipeline.ResolveRelative(viewsKey, view.ImagePath)
	if err != nil {
		return pipeline.DepthEntry{}, err
	}
	uri, err := r.store.URI(imgKey)
	if err != nil {
		return pipeline.DepthEntry{}, err
	}
	img, err := r.readImage(ctx, uri)
	if err != nil {
		return pipeline.DepthEntry{}, err
	}
	d := SilhouetteDepth(img, view.Pose.Radius)
	lo, hi, ok := d.Range()
	if !ok {
		return pipeline.DepthEntry{}, fmt.Errorf("view has no foreground")
	}
	if err := r.writePNG(ctx, outKey, imaging.EncodeDepth(d, lo, hi)); err != nil {
		return pipeline.DepthEntry{}, err
	}
	return pipeline.DepthEntry{ViewEntry: view, Min: lo, Max: hi}, nil
}

// SilhouetteDepth inflates the alpha silhouette of img into an ellipsoidal
// bulge in front of the orbit centre at distance radius.
func SilhouetteDepth(img image.Image, radius float64) *imaging.DepthMap {
	mask := imaging.AlphaMask(img)
	b := mask.Bounds()
	d := imaging.NewDepthMap(b.Dx(), b.Dy())
	minX, minY, maxX, maxY := b.Dx(), b.Dy(), -1, -1
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			if mask.GrayAt(x, y).Y >= 128 {
				minX, minY = min(minX, x), min(minY, y)
				maxX, maxY = max(maxX, x), max(maxY, y)
			}
		}
	}
	if maxX < 0 {
		return d
	}
	cx, cy := float64(minX+maxX)/2, float64(minY+maxY)/2
	hw, hh := math.Max(1, float64(maxX-minX+1)/2), math.Max(1, float64(maxY-minY+1)/2)
	for y := minY; y <= maxY; y++ {
		for x := minX; x <= maxX; x++ {
			if mask.GrayAt(x, y).Y < 128 {
				continue
			}
			u, v := (float64(x)-cx)/hw, (float64(y)-cy)/hh
			bulge := silhouetteThickness * math.Sqrt(math.Max(0, 1-u*u-v*v))
			d.Set(x, y, radius-bulge)
		}
	}
	return d
}
