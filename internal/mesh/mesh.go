// Package mesh holds the triangle mesh type shared by the reconstruction,
// decimation, and export stages, plus the OBJ and PLY codecs used for the
// intermediate artifacts.
package mesh

import (
	"errors"
	"fmt"
	"math"
)

// ErrEmpty reports a mesh or point set with nothing to process.
var ErrEmpty = errors.New("mesh is empty")

// Vec3 is a point or direction in model space.
type Vec3 struct {
	X, Y, Z float64
}

func (a Vec3) Add(b Vec3) Vec3      { return Vec3{a.X + b.X, a.Y + b.Y, a.Z + b.Z} }
func (a Vec3) Sub(b Vec3) Vec3      { return Vec3{a.X - b.X, a.Y - b.Y, a.Z - b.Z} }
func (a Vec3) Scale(s float64) Vec3 { return Vec3{a.X * s, a.Y * s, a.Z * s} }

// Dot returns the scalar product.
func (a Vec3) Dot(b Vec3) float64 { return a.X*b.X + a.Y*b.Y + a.Z*b.Z }

// Cross returns a x b.
func (a Vec3) Cross(b Vec3) Vec3 {
	return Vec3{a.Y*b.Z - a.Z*b.Y, a.Z*b.X - a.X*b.Z, a.X*b.Y - a.Y*b.X}
}

// Len returns the Euclidean length.
func (a Vec3) Len() float64 { return math.Sqrt(a.X*a.X + a.Y*a.Y + a.Z*a.Z) }

// Normalize returns a unit vector, or the zero vector unchanged.
func (a Vec3) Normalize() Vec3 {
	l := a.Len()
	if l == 0 {
		return a
	}
	return a.Scale(1 / l)
}

// Mesh is an indexed triangle mesh.
type Mesh struct {
	Vertices []Vec3
	Faces    [][3]int
	Normals  []Vec3
}

// Bounds returns the axis-aligned bounding box.
func (m *Mesh) Bounds() (lo, hi Vec3) {
	return bounds(m.Vertices)
}

func bounds(points []Vec3) (lo, hi Vec3) {
	if len(points) == 0 {
		return Vec3{}, Vec3{}
	}
	lo, hi = points[0], points[0]
	for _, p := range points[1:] {
		lo = Vec3{math.Min(lo.X, p.X), math.Min(lo.Y, p.Y), math.Min(lo.Z, p.Z)}
		hi = Vec3{math.Max(hi.X, p.X), math.Max(hi.Y, p.Y), math.Max(hi.Z, p.Z)}
	}
	return lo, hi
}

// ComputeNormals sets area-weighted vertex normals.
func (m *Mesh) ComputeNormals() {
	normals := make([]Vec3, len(m.Vertices))
	for _, f := range m.Faces {
		a, b, c := m.Vertices[f[0]], m.Vertices[f[1]], m.Vertices[f[2]]
		n := b.Sub(a).Cross(c.Sub(a))
		for _, i := range f {
			normals[i] = normals[i].Add(n)
		}
	}
	for i := range normals {
		n := normals[i].Normalize()
		if n.Len() == 0 {
			n = Vec3{Z: 1}
		}
		normals[i] = n
	}
	m.Normals = normals
}

// Validate checks face indices against the vertex count.
func (m *Mesh) Validate() error {
	if len(m.Vertices) == 0 || len(m.Faces) == 0 {
		return ErrEmpty
	}
	for i, f := range m.Faces {
		for _, idx := range f {
			if idx < 0 || idx >= len(m.Vertices) {
				return &IndexError{Face: i, Index: idx, Vertices: len(m.Vertices)}
			}
		}
	}
	return nil
}

// IndexError reports a face that references a missing vertex.
type IndexError struct {
	Face     int
	Index    int
	Vertices int
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("face %d references vertex %d of %d", e.Face, e.Index, e.Vertices)
}
