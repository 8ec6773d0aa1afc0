package mesh

import (
	"fmt"
	"math"
	"math/rand/v2"

	"holo/internal/imaging"
)

// OrbitRadius is the camera distance used for generated views.
const OrbitRadius = 2.5

// Pose places a camera on an orbit around the origin, looking at it.
type Pose struct {
	AzimuthDeg   float64 `json:"azimuthDeg"`
	ElevationDeg float64 `json:"elevationDeg"`
	Radius       float64 `json:"radius"`
}

// Intrinsics is a pinhole camera model in pixels.
type Intrinsics struct {
	Fx float64 `json:"fx"`
	Fy float64 `json:"fy"`
	Cx float64 `json:"cx"`
	Cy float64 `json:"cy"`
}

// IntrinsicsFor derives square-pixel intrinsics from a vertical field of view.
func IntrinsicsFor(width, height int, fovDeg float64) Intrinsics {
	f := 0.5 * float64(width) / math.Tan(fovDeg*math.Pi/360)
	return Intrinsics{Fx: f, Fy: f, Cx: float64(width) / 2, Cy: float64(height) / 2}
}

// Position returns the camera centre in world space.
func (p Pose) Position() Vec3 {
	az := p.AzimuthDeg * math.Pi / 180
	el := p.ElevationDeg * math.Pi / 180
	return Vec3{
		X: p.Radius * math.Cos(el) * math.Sin(az),
		Y: p.Radius * math.Sin(el),
		Z: p.Radius * math.Cos(el) * math.Cos(az),
	}
}

// Basis returns the right, up, and forward axes of the camera.
func (p Pose) Basis() (right, up, forward Vec3) {
	forward = p.Position().Scale(-1).Normalize()
	right = forward.Cross(Vec3{Y: 1}).Normalize()
	if right.Len() == 0 {
		right = Vec3{X: 1}
	}
	up = right.Cross(forward)
	return right, up, forward
}

// Unproject maps pixel (u, v) at camera depth z to world space.
func (p Pose) Unproject(in Intrinsics, u, v, z float64) Vec3 {
	right, up, forward := p.Basis()
	x := (u - in.Cx) * z / in.Fx
	y := -(v - in.Cy) * z / in.Fy
	return p.Position().Add(right.Scale(x)).Add(up.Scale(y)).Add(forward.Scale(z))
}

// BackProject lifts every stride-th valid depth sample into world space.
func BackProject(d *imaging.DepthMap, in Intrinsics, pose Pose, stride int) []Vec3 {
	if stride < 1 {
		stride = 1
	}
	var points []Vec3
	for y := 0; y < d.Height; y += stride {
		for x := 0; x < d.Width; x += stride {
			z := d.At(x, y)
			if math.IsNaN(z) {
				continue
			}
			points = append(points, pose.Unproject(in, float64(x)+0.5, float64(y)+0.5, z))
		}
	}
	return points
}

// GridSurface samples d on a gridSize x gridSize lattice and triangulates
// every cell whose corners carry depth. The front surface is mirrored through
// the plane of its deepest sample to close the relief.
func GridSurface(d *imaging.DepthMap, in Intrinsics, pose Pose, gridSize int) (*Mesh, error) {
	if gridSize < 2 {
		return nil, fmt.Errorf("grid size %d too small", gridSize)
	}
	step := math.Max(float64(d.Width), float64(d.Height)) / float64(gridSize-1)
	cols := int(float64(d.Width-1)/step) + 1
	rows := int(float64(d.Height-1)/step) + 1
	index := make([]int, rows*cols)
	front := &Mesh{}
	var deepest float64
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			index[r*cols+c] = -1
			x := int(math.Round(float64(c) * step))
			y := int(math.Round(float64(r) * step))
			if x >= d.Width || y >= d.Height {
				continue
			}
			z := d.At(x, y)
			if math.IsNaN(z) {
				continue
			}
			deepest = math.Max(deepest, z)
			index[r*cols+c] = len(front.Vertices)
			front.Vertices = append(front.Vertices, pose.Unproject(in, float64(x)+0.5, float64(y)+0.5, z))
		}
	}
	for r := 0; r+1 < rows; r++ {
		for c := 0; c+1 < cols; c++ {
			a, b := index[r*cols+c], index[r*cols+c+1]
			cc, dd := index[(r+1)*cols+c], index[(r+1)*cols+c+1]
			switch {
			case a >= 0 && b >= 0 && cc >= 0 && dd >= 0:
				front.Faces = append(front.Faces, [3]int{a, cc, b}, [3]int{b, cc, dd})
			case a >= 0 && b >= 0 && cc >= 0:
				front.Faces = append(front.Faces, [3]int{a, cc, b})
			case b >= 0 && cc >= 0 && dd >= 0:
				front.Faces = append(front.Faces, [3]int{b, cc, dd})
			case a >= 0 && cc >= 0 && dd >= 0:
				front.Faces = append(front.Faces, [3]int{a, cc, dd})
			case a >= 0 && b >= 0 && dd >= 0:
				front.Faces = append(front.Faces, [3]int{a, dd, b})
			}
		}
	}
	if len(front.Faces) == 0 {
		return nil, ErrEmpty
	}
	return closeRelief(front, pose, deepest), nil
}

func closeRelief(front *Mesh, pose Pose, deepest float64) *Mesh {
	_, _, forward := pose.Basis()
	plane := pose.Position().Add(forward.Scale(deepest))
	n := len(front.Vertices)
	out := clone(front)
	for _, v := range front.Vertices {
		dist := v.Sub(plane).Dot(forward)
		out.Vertices = append(out.Vertices, v.Sub(forward.Scale(2*dist)))
	}
	for _, f := range front.Faces {
		out.Faces = append(out.Faces, [3]int{f[0] + n, f[2] + n, f[1] + n})
	}
	return out
}

// OrbitPoses spaces count cameras evenly around the subject, starting at an
// azimuth drawn from seed.
func OrbitPoses(count int, seed int64, elevationDeg, radius float64) []Pose {
	if count < 1 {
		return nil
	}
	rng := rand.New(rand.NewPCG(uint64(seed), 0x686f6c6f))
	step := 360.0 / float64(count)
	start := rng.Float64() * step
	poses := make([]Pose, count)
	for i := range poses {
		poses[i] = Pose{
			AzimuthDeg:   math.Mod(start+float64(i)*step, 360),
			ElevationDeg: elevationDeg,
			Radius:       radius,
		}
	}
	return poses
}
