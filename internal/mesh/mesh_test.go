package mesh

import (
	"bytes"
	"errors"
	"math"
	"strings"
	"testing"

	"holo/internal/imaging"
)

// plane builds an n x n grid of unit quads in the XY plane.
func plane(n int) *Mesh {
	m := &Mesh{}
	for y := 0; y <= n; y++ {
		for x := 0; x <= n; x++ {
			m.Vertices = append(m.Vertices, Vec3{X: float64(x) / float64(n), Y: float64(y) / float64(n)})
		}
	}
	row := n + 1
	for y := 0; y < n; y++ {
		for x := 0; x < n; x++ {
			a := y*row + x
			m.Faces = append(m.Faces, [3]int{a, a + 1, a + row}, [3]int{a + 1, a + row + 1, a + row})
		}
	}
	return m
}

func TestOBJRoundTrip(t *testing.T) {
	src := plane(3)
	src.ComputeNormals()
	var buf bytes.Buffer
	if err := WriteOBJ(&buf, src); err != nil {
		t.Fatalf("WriteOBJ: %v", err)
	}
	got, err := ReadOBJ(&buf)
	if err != nil {
		t.Fatalf("ReadOBJ: %v", err)
	}
	if len(got.Vertices) != len(src.Vertices) || len(got.Faces) != len(src.Faces) {
		t.Fatalf("unexpected counts: %d/%d", len(got.Vertices), len(got.Faces))
	}
	if len(got.Normals) != len(got.Vertices) {
		t.Fatalf("expected normals to survive, got %d", len(got.Normals))
	}
	if got.Faces[0] != src.Faces[0] {
		t.Fatalf("face mismatch %v vs %v", got.Faces[0], src.Faces[0])
	}
}

func TestReadOBJTriangulatesAndRejectsBadIndices(t *testing.T) {
	quad := "v 0 0 0\nv 1 0 0\nv 1 1 0\nv 0 1 0\nf 1/1/1 2/2/2 3/3/3 4/4/4\n"
	m, err := ReadOBJ(strings.NewReader(quad))
	if err != nil {
		t.Fatalf("ReadOBJ: %v", err)
	}
	if len(m.Faces) != 2 {
		t.Fatalf("expected fan triangulation into 2 faces, got %d", len(m.Faces))
	}

	_, err = ReadOBJ(strings.NewReader("v 0 0 0\nf 1 2 3\n"))
	var idxErr *IndexError
	if !errors.As(err, &idxErr) {
		t.Fatalf("expected IndexError, got %v", err)
	}
	if _, err := ReadOBJ(strings.NewReader("")); !errors.Is(err, ErrEmpty) {
		t.Fatalf("expected ErrEmpty, got %v", err)
	}
}

func TestDecimateReachesTarget(t *testing.T) {
	src := plane(40)
	if len(src.Faces) != 3200 {
		t.Fatalf("unexpected source faces %d", len(src.Faces))
	}
	for _, target := range []int{2000, 500, 50, 4} {
		out, err := Decimate(src, target)
		if err != nil {
			t.Fatalf("Decimate(%d): %v", target, err)
		}
		if len(out.Faces) > target {
			t.Fatalf("Decimate(%d) left %d faces", target, len(out.Faces))
		}
		if len(out.Faces) == 0 {
			t.Fatalf("Decimate(%d) removed every face", target)
		}
		if err := out.Validate(); err != nil {
			t.Fatalf("Decimate(%d) produced invalid mesh: %v", target, err)
		}
	}
	if len(src.Faces) != 3200 {
		t.Fatal("Decimate modified its input")
	}

	same, err := Decimate(src, 5000)
	if err != nil || len(same.Faces) != 3200 {
		t.Fatalf("expected untouched copy under target, got %d %v", len(same.Faces), err)
	}
}

func TestVoxelDownsample(t *testing.T) {
	points := []Vec3{{0.01, 0, 0}, {0.02, 0, 0}, {1.5, 0, 0}}
	out := VoxelDownsample(points, 1)
	if len(out) != 2 {
		t.Fatalf("expected 2 voxels, got %d", len(out))
	}
	if math.Abs(out[0].X-0.015) > 1e-9 {
		t.Fatalf("expected centroid, got %v", out[0])
	}
	var buf bytes.Buffer
	if err := WritePLY(&buf, out); err != nil {
		t.Fatalf("WritePLY: %v", err)
	}
	if !strings.Contains(buf.String(), "element vertex 2") {
		t.Fatalf("unexpected ply header: %s", buf.String())
	}
}

func TestIntrinsicsAndUnproject(t *testing.T) {
	in := IntrinsicsFor(256, 256, 90)
	if math.Abs(in.Fx-128) > 1e-9 || in.Cx != 128 || in.Cy != 128 {
		t.Fatalf("unexpected intrinsics %+v", in)
	}
	pose := Pose{AzimuthDeg: 0, ElevationDeg: 0, Radius: 2}
	p := pose.Unproject(in, 128, 128, 2)
	if p.Len() > 1e-9 {
		t.Fatalf("principal ray at radius depth should hit origin, got %+v", p)
	}
}

func TestGridSurfaceBuildsClosedRelief(t *testing.T) {
	d := imaging.NewDepthMap(32, 32)
	for y := 8; y < 24; y++ {
		for x := 8; x < 24; x++ {
			d.Set(x, y, 1.9)
		}
	}
	in := IntrinsicsFor(32, 32, 35)
	m, err := GridSurface(d, in, Pose{Radius: 2}, 16)
	if err != nil {
		t.Fatalf("GridSurface: %v", err)
	}
	if err := m.Validate(); err != nil {
		t.Fatalf("invalid mesh: %v", err)
	}
	if len(m.Faces)%2 != 0 {
		t.Fatalf("expected mirrored faces, got %d", len(m.Faces))
	}

	if _, err := GridSurface(imaging.NewDepthMap(8, 8), in, Pose{Radius: 2}, 8); !errors.Is(err, ErrEmpty) {
		t.Fatalf("expected ErrEmpty for empty depth, got %v", err)
	}
}

func TestEncodeGLTF(t *testing.T) {
	m := plane(2)
	extras := map[string]any{"ai": map[string]any{"caption": map[string]any{"caption": "a red cube"}}}

	glb, err := EncodeGLTF(m, ExportOptions{Binary: true, Extras: extras})
	if err != nil {
		t.Fatalf("EncodeGLTF glb: %v", err)
	}
	if !bytes.HasPrefix(glb, []byte("glTF")) {
		t.Fatalf("expected GLB magic, got %q", glb[:4])
	}
	if !bytes.Contains(glb, []byte("a red cube")) {
		t.Fatal("expected caption in GLB json chunk")
	}

	doc, err := EncodeGLTF(plane(2), ExportOptions{})
	if err != nil {
		t.Fatalf("EncodeGLTF gltf: %v", err)
	}
	if !bytes.Contains(doc, []byte("data:application/octet-stream;base64,")) {
		t.Fatalf("expected embedded buffer in %s", doc)
	}
}

func TestOrbitPosesDeterministic(t *testing.T) {
	a := OrbitPoses(6, 42, 10, OrbitRadius)
	b := OrbitPoses(6, 42, 10, OrbitRadius)
	c := OrbitPoses(6, 7, 10, OrbitRadius)
	if a[0] != b[0] {
		t.Fatal("same seed should give same poses")
	}
	if a[0] == c[0] {
		t.Fatal("different seeds should move the start azimuth")
	}
	step := a[1].AzimuthDeg - a[0].AzimuthDeg
	if step < 59.99 || step > 60.01 {
		t.Fatalf("expected 60 degree spacing, got %v", step)
	}
	if OrbitPoses(0, 1, 0, 1) != nil {
		t.Fatal("zero count yields no poses")
	}
}
