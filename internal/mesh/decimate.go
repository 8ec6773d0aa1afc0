package mesh

import "math"

// Decimate reduces m by vertex clustering on a shrinking grid until the face
// count is at most target. Degenerate and duplicate faces are dropped. The
// input is not modified.
func Decimate(m *Mesh, target int) (*Mesh, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	if target <= 0 || len(m.Faces) <= target {
		return clone(m), nil
	}
	lo, hi := m.Bounds()
	extent := math.Max(hi.X-lo.X, math.Max(hi.Y-lo.Y, hi.Z-lo.Z))
	if extent == 0 {
		extent = 1
	}
	// Start near the resolution implied by the target and coarsen from there.
	res := int(math.Ceil(math.Sqrt(float64(target)/2))) + 1
	var out *Mesh
	for ; res >= 1; res = res * 3 / 4 {
		out = cluster(m, lo, extent/float64(res))
		if len(out.Faces) <= target {
			return out, nil
		}
		if res == 1 {
			break
		}
	}
	if len(out.Faces) > target {
		out.Faces = out.Faces[:target]
		out = compact(out)
	}
	return out, nil
}

func cluster(m *Mesh, origin Vec3, cell float64) *Mesh {
	type acc struct {
		sum Vec3
		n   int
		idx int
	}
	cells := make(map[voxelKey]*acc)
	remap := make([]int, len(m.Vertices))
	var order []*acc
	for i, v := range m.Vertices {
		p := v.Sub(origin)
		k := voxelKey{floorDiv(p.X, cell), floorDiv(p.Y, cell), floorDiv(p.Z, cell)}
		a, ok := cells[k]
		if !ok {
			a = &acc{idx: len(order)}
			cells[k] = a
			order = append(order, a)
		}
		a.sum = a.sum.Add(v)
		a.n++
		remap[i] = a.idx
	}
	out := &Mesh{Vertices: make([]Vec3, len(order))}
	for i, a := range order {
		out.Vertices[i] = a.sum.Scale(1 / float64(a.n))
	}
	seen := make(map[[3]int]struct{})
	for _, f := range m.Faces {
		nf := [3]int{remap[f[0]], remap[f[1]], remap[f[2]]}
		if nf[0] == nf[1] || nf[1] == nf[2] || nf[0] == nf[2] {
			continue
		}
		key := canonicalFace(nf)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out.Faces = append(out.Faces, nf)
	}
	return compact(out)
}

// compact drops vertices no face references.
func compact(m *Mesh) *Mesh {
	used := make([]int, len(m.Vertices))
	for i := range used {
		used[i] = -1
	}
	out := &Mesh{}
	for _, f := range m.Faces {
		var nf [3]int
		for j, idx := range f {
			if used[idx] < 0 {
				used[idx] = len(out.Vertices)
				out.Vertices = append(out.Vertices, m.Vertices[idx])
			}
			nf[j] = used[idx]
		}
		out.Faces = append(out.Faces, nf)
	}
	return out
}

func canonicalFace(f [3]int) [3]int {
	// rotate so the smallest index leads; winding is preserved
	switch {
	case f[1] < f[0] && f[1] < f[2]:
		return [3]int{f[1], f[2], f[0]}
	case f[2] < f[0] && f[2] < f[1]:
		return [3]int{f[2], f[0], f[1]}
	}
	return f
}

func clone(m *Mesh) *Mesh {
	out := &Mesh{
		Vertices: append([]Vec3(nil), m.Vertices...),
		Faces:    append([][3]int(nil), m.Faces...),
	}
	if len(m.Normals) > 0 {
		out.Normals = append([]Vec3(nil), m.Normals...)
	}
	return out
}

func floorDiv(v, size float64) int64 {
	return int64(math.Floor(v / size))
}
