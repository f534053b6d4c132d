package vulkan

import (
	stdmath "math"

	"github.com/nullforge/aurora/engine/math"
	"github.com/nullforge/aurora/engine/renderer/metadata"
)

func putU32LE(buf []byte, off int, v uint32) {
	buf[off] = byte(v)
	buf[off+1] = byte(v >> 8)
	buf[off+2] = byte(v >> 16)
	buf[off+3] = byte(v >> 24)
}

func putF32LE(buf []byte, off int, f float32) {
	putU32LE(buf, off, stdmath.Float32bits(f))
}

// mat4Bytes packs m's column-major Data[16] as little-endian float32,
// matching std430 layout for a mat4 field.
func mat4Bytes(m math.Mat4) []byte {
	buf := make([]byte, 64)
	for i := 0; i < 16; i++ {
		putF32LE(buf, i*4, m.Data[i])
	}
	return buf
}

// vec3Bytes packs a Vec3's XYZ as little-endian float32 (12 bytes); the
// caller is responsible for the std140/std430 padding that follows a
// vec3 field in its containing struct.
func vec3Bytes(v math.Vec3) []byte {
	buf := make([]byte, 12)
	putF32LE(buf, 0, v.X)
	putF32LE(buf, 4, v.Y)
	putF32LE(buf, 8, v.Z)
	return buf
}

// vec4Bytes packs a Vec4's XYZW as little-endian float32 (16 bytes),
// matching std430/std140 layout for a vec4 field.
func vec4Bytes(v math.Vec4) []byte {
	buf := make([]byte, 16)
	putF32LE(buf, 0, v.X)
	putF32LE(buf, 4, v.Y)
	putF32LE(buf, 8, v.Z)
	putF32LE(buf, 12, v.W)
	return buf
}

// uint32Bytes packs a single little-endian uint32 (4 bytes).
func uint32Bytes(v uint32) []byte {
	buf := make([]byte, 4)
	putU32LE(buf, 0, v)
	return buf
}

// float32Bytes packs a single little-endian float32 (4 bytes).
func float32Bytes(f float32) []byte {
	buf := make([]byte, 4)
	putF32LE(buf, 0, f)
	return buf
}

// materialGPUSize is sizeof(MaterialGPU) under std430 packing: a vec4,
// three u32 indices plus one u32 of padding, then two f32 factors plus
// two f32 of padding — 48 bytes, 16-byte aligned.
const materialGPUSize = 48

// materialGPUBytes packs a MaterialGPU record field-by-field in
// declaration order, mirroring the layout GBuffer.frag.glsl's
// `materials[]` SSBO expects.
func materialGPUBytes(m metadata.MaterialGPU) []byte {
	buf := make([]byte, materialGPUSize)
	putF32LE(buf, 0, m.DiffuseColour.X)
	putF32LE(buf, 4, m.DiffuseColour.Y)
	putF32LE(buf, 8, m.DiffuseColour.Z)
	putF32LE(buf, 12, m.DiffuseColour.W)
	putU32LE(buf, 16, m.AlbedoTextureIndex)
	putU32LE(buf, 20, m.NormalTextureIndex)
	putU32LE(buf, 24, m.MetallicRoughnessTexIndex)
	// buf[28:32] is _padding0, left zero.
	putF32LE(buf, 32, m.RoughnessFactor)
	putF32LE(buf, 36, m.MetallicFactor)
	// buf[40:48] is _padding1, left zero.
	return buf
}
