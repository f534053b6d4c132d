package metadata

import "github.com/nullforge/aurora/engine/math"

// VertexStride is the fixed byte size of one Vertex record in the global
// vertex buffer: position3, normal3, tangent3, bitangent3, uv2, all f32.
const VertexStride uint32 = 56

// WeightStride is the fixed byte size of one WeightRecord: four joint
// weights followed by four joint indices encoded as f32.
const WeightStride uint32 = 32

// MaxJoints bounds the number of joint matrices a single AnimationFrame
// may reference, matching the global joint_matrices buffer layout.
const MaxJoints uint32 = 256

/**
 * @brief A single per-vertex record as laid out in the global vertex
 * buffer. Mirrors the offline converter's raw vertex stream (14 f32 per
 * vertex: position3, normal3, tangent3, bitangent3, uv2).
 */
type Vertex struct {
	Position  math.Vec3
	Normal    math.Vec3
	Tangent   math.Vec3
	Bitangent math.Vec3
	UV        math.Vec2
}

/**
 * @brief Skin weight record parallel to the vertex array of an animated
 * mesh. Joint indices are stored as float32 (matching the offline manifest
 * format) and truncated to int when indexing joint_matrices.
 */
type WeightRecord struct {
	Weights  [4]float32
	JointIDs [4]float32
}

/**
 * @brief One animation frame: the byte offset of its first joint matrix
 * inside the global joint_matrices buffer, plus how many matrices it owns.
 * MatrixCount must not exceed MaxJoints.
 */
type AnimationFrame struct {
	JointMatricesOffset uint32
	MatrixCount         uint32
}

/**
 * @brief One named animation: an ordered list of frames.
 */
type Animation struct {
	Name   string
	Frames []AnimationFrame
}
