package metadata

import (
	"github.com/nullforge/aurora/engine/math"
)

// Also used as result_data from job.
type MeshLoadParams struct {
	ResourceName string
	OutMesh      *Mesh
	MeshResource *Resource
}

type Mesh struct {
	UniqueID      uint32
	Generation    uint8
	GeometryCount uint16
	Geometries    []*Geometry
	Transform     *math.Transform

	// Name is the asset-pipeline mesh identifier from the JSON manifest.
	Name string
	// MaterialID is the asset-pipeline material name; resolved to
	// MaterialIndex at GlobalBuffers load time.
	MaterialID string

	// VertexOffset is the byte offset of this mesh's first vertex within
	// the global vertex buffer.
	VertexOffset uint32
	// VertexSize is the byte length of this mesh's vertex run. Must be a
	// multiple of metadata.VertexStride.
	VertexSize uint32
	// IndexOffset is the byte offset of this mesh's first index within
	// the global index buffer.
	IndexOffset uint32
	// IndexCount is the number of uint32 indices this mesh draws.
	// IndexOffset + IndexCount*4 must lie within the index buffer.
	IndexCount uint32
	// MaterialIndex is the dense index into the global materials buffer.
	MaterialIndex uint32
	// WeightsOffset is the byte offset into the global weights buffer;
	// zero if the owning model is not animated.
	WeightsOffset uint32
}

// VertexCount returns the number of Vertex records this mesh spans.
func (m *Mesh) VertexCount() uint32 {
	if VertexStride == 0 {
		return 0
	}
	return m.VertexSize / VertexStride
}

// IsAnimated reports whether this mesh carries skin weights.
func (m *Mesh) IsAnimated() bool {
	return m.WeightsOffset != 0
}
