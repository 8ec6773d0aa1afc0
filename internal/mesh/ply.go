package mesh

import (
	"bufio"
	"fmt"
	"io"
)

// WritePLY writes points as an ASCII point cloud.
func WritePLY(w io.Writer, points []Vec3) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "ply\nformat ascii 1.0\nelement vertex %d\n", len(points))
	fmt.Fprint(bw, "property float x\nproperty float y\nproperty float z\nend_header\n")
	for _, p := range points {
		fmt.Fprintf(bw, "%s %s %s\n", fmtFloat(p.X), fmtFloat(p.Y), fmtFloat(p.Z))
	}
	return bw.Flush()
}

type voxelKey struct{ x, y, z int64 }

// VoxelDownsample replaces the points in each cube of side size with their
// centroid. Output order follows first occurrence.
func VoxelDownsample(points []Vec3, size float64) []Vec3 {
	if size <= 0 || len(points) == 0 {
		return points
	}
	type acc struct {
		sum Vec3
		n   int
	}
	cells := make(map[voxelKey]*acc)
	var order []voxelKey
	for _, p := range points {
		k := voxelKey{floorDiv(p.X, size), floorDiv(p.Y, size), floorDiv(p.Z, size)}
		a, ok := cells[k]
		if !ok {
			a = &acc{}
			cells[k] = a
			order = append(order, k)
		}
		a.sum = a.sum.Add(p)
		a.n++
	}
	out := make([]Vec3, 0, len(order))
	for _, k := range order {
		a := cells[k]
		out = append(out, a.sum.Scale(1/float64(a.n)))
	}
	return out
}
