package mesh

import (
	"bytes"
	"fmt"

	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"
)

// ExportOptions controls glTF output.
type ExportOptions struct {
	// Binary selects GLB; otherwise a .gltf document with embedded buffers.
	Binary bool
	// Extras is stored under asset.extras.
	Extras map[string]any
	Name   string
}

// EncodeGLTF writes m as a single-node glTF scene with positions, normals,
// and indices.
func EncodeGLTF(m *Mesh, opts ExportOptions) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	if len(m.Normals) != len(m.Vertices) {
		m.ComputeNormals()
	}

	positions := make([][3]float32, len(m.Vertices))
	for i, v := range m.Vertices {
		positions[i] = [3]float32{float32(v.X), float32(v.Y), float32(v.Z)}
	}
	normals := make([][3]float32, len(m.Normals))
	for i, n := range m.Normals {
		normals[i] = [3]float32{float32(n.X), float32(n.Y), float32(n.Z)}
	}
	indices := make([]uint32, 0, len(m.Faces)*3)
	for _, f := range m.Faces {
		indices = append(indices, uint32(f[0]), uint32(f[1]), uint32(f[2]))
	}

	doc := gltf.NewDocument()
	doc.Asset.Generator = "holo"
	if len(opts.Extras) > 0 {
		doc.Asset.Extras = opts.Extras
	}
	name := opts.Name
	if name == "" {
		name = "asset"
	}
	doc.Meshes = []*gltf.Mesh{{
		Name: name,
		Primitives: []*gltf.Primitive{{
			Indices: gltf.Index(modeler.WriteIndices(doc, indices)),
			Attributes: gltf.PrimitiveAttributes{
				gltf.POSITION: modeler.WritePosition(doc, positions),
				gltf.NORMAL:   modeler.WriteNormal(doc, normals),
			},
		}},
	}}
	doc.Nodes = []*gltf.Node{{Name: name, Mesh: gltf.Index(0)}}
	doc.Scenes[0].Nodes = append(doc.Scenes[0].Nodes, 0)

	if !opts.Binary {
		for _, b := range doc.Buffers {
			b.EmbeddedResource()
		}
	}

	var buf bytes.Buffer
	enc := gltf.NewEncoder(&buf)
	enc.AsBinary = opts.Binary
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("encode gltf: %w", err)
	}
	return buf.Bytes(), nil
}
