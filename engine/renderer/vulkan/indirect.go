package vulkan

import (
	stdmath "math"

	"github.com/nullforge/aurora/engine/math"
	"github.com/nullforge/aurora/engine/renderer/metadata"
)

// IndirectCommand mirrors VkDrawIndexedIndirectCommand's field layout
// exactly (20 bytes, little-endian on upload) so indirectCommandBytes can
// pack it directly without depending on a live vk.Device.
type IndirectCommand struct {
	IndexCount    uint32
	InstanceCount uint32
	FirstIndex    uint32
	VertexOffset  int32
	FirstInstance uint32
}

// InstanceStaticStride is mat4 (64 bytes) + material index (4 bytes), the
// per-instance vertex-input record spec.md §3.2 describes.
const InstanceStaticStride uint32 = 68

// InstanceRecord is one per-instance record written into instance_static
// or instance_anim, consumed by ScenePass/ShadowPass as vertex-input
// binding 1 with step rate = instance.
type InstanceRecord struct {
	Model         math.Mat4
	MaterialIndex uint32
}

// AnimSkinJob is the per-entity-mesh descriptor SkinCompute.Dispatch needs:
// where to read bind-pose data, where this entity's current frame's joint
// matrices live, and where to write the skinned result.
type AnimSkinJob struct {
	Mesh  *metadata.Mesh
	Push  SkinPushConstants
	Count uint32 // vertex count, for workgroup sizing
}

// planStaticIndirect builds indirect_static and instance_static in the
// order spec.md §4.1 requires: for each static model with any entities,
// for each mesh of that model, for each entity of that model. instance
// records for a mesh's draw are a contiguous block so first_instance can
// simply track the running count written so far — the only offset that
// keeps CmdDrawIndexedIndirect's first_instance consistent with where
// update_instance_data will have actually written that mesh's block.
func planStaticIndirect(models []*metadata.Model, entities []*metadata.Entity) ([]IndirectCommand, []InstanceRecord) {
	var commands []IndirectCommand
	var instances []InstanceRecord

	for _, model := range models {
		if model.IsAnimated() {
			continue
		}
		modelEntities := entitiesForModel(entities, model.ID)
		if len(modelEntities) == 0 {
			continue
		}
		for _, mesh := range model.Meshes {
			firstInstance := uint32(len(instances))
			for _, e := range modelEntities {
				instances = append(instances, InstanceRecord{
					Model:         e.ModelMatrix,
					MaterialIndex: mesh.MaterialIndex,
				})
			}
			commands = append(commands, IndirectCommand{
				IndexCount:    mesh.IndexCount,
				InstanceCount: uint32(len(modelEntities)),
				FirstIndex:    mesh.IndexOffset / 4,
				VertexOffset:  int32(mesh.VertexOffset / VertexStride),
				FirstInstance: firstInstance,
			})
		}
	}
	return commands, instances
}

// planAnimatedIndirect builds indirect_anim, instance_anim, and the
// per-entity-mesh SkinCompute job list. Animated entities cannot share
// instances (each may sit at a different animation frame), so every
// entity-mesh gets instance_count=1 and its own slot in skinned_vertices,
// allocated by a simple bump cursor over VertexStride-aligned mesh
// vertex_size blocks.
func planAnimatedIndirect(models []*metadata.Model, entities []*metadata.Entity, byID map[string]*metadata.Model) ([]IndirectCommand, []InstanceRecord, []AnimSkinJob) {
	var commands []IndirectCommand
	var instances []InstanceRecord
	var jobs []AnimSkinJob

	var skinnedCursor uint32
	for _, e := range entities {
		if !e.IsAnimated() {
			continue
		}
		model := byID[e.ModelID]
		if model == nil || !model.IsAnimated() {
			continue
		}

		jointBase := jointMatricesBase(model, e)

		for _, mesh := range model.Meshes {
			dst := skinnedCursor
			skinnedCursor += mesh.VertexSize

			firstInstance := uint32(len(instances))
			instances = append(instances, InstanceRecord{
				Model:         e.ModelMatrix,
				MaterialIndex: mesh.MaterialIndex,
			})
			commands = append(commands, IndirectCommand{
				IndexCount:    mesh.IndexCount,
				InstanceCount: 1,
				FirstIndex:    mesh.IndexOffset / 4,
				VertexOffset:  int32(dst / VertexStride),
				FirstInstance: firstInstance,
			})
			jobs = append(jobs, AnimSkinJob{
				Mesh: mesh,
				Push: SkinPushConstants{
					SrcOffset:         mesh.VertexOffset,
					WeightsOffset:     mesh.WeightsOffset,
					DstOffset:         dst,
					JointMatricesBase: jointBase,
					SrcSize:           mesh.VertexSize,
				},
				Count: mesh.VertexCount(),
			})
		}
	}
	return commands, instances, jobs
}

func jointMatricesBase(model *metadata.Model, e *metadata.Entity) uint32 {
	st := e.AnimationState
	if st == nil || st.AnimationIndex < 0 || st.AnimationIndex >= len(model.Animations) {
		return 0
	}
	anim := model.Animations[st.AnimationIndex]
	if st.CurrentFrame < 0 || st.CurrentFrame >= len(anim.Frames) {
		return 0
	}
	return anim.Frames[st.CurrentFrame].JointMatricesOffset
}

func entitiesForModel(entities []*metadata.Entity, modelID string) []*metadata.Entity {
	var out []*metadata.Entity
	for _, e := range entities {
		if e.ModelID == modelID && !e.IsAnimated() {
			out = append(out, e)
		}
	}
	return out
}

func indexByID(models []*metadata.Model) map[string]*metadata.Model {
	m := make(map[string]*metadata.Model, len(models))
	for _, mdl := range models {
		m[mdl.ID] = mdl
	}
	return m
}

// indirectCommandBytes packs cmds into the little-endian byte layout
// VkDrawIndexedIndirectCommand requires for CmdDrawIndexedIndirect's
// source buffer.
func indirectCommandBytes(cmds []IndirectCommand) []byte {
	buf := make([]byte, len(cmds)*20)
	putU32 := func(off int, v uint32) {
		buf[off] = byte(v)
		buf[off+1] = byte(v >> 8)
		buf[off+2] = byte(v >> 16)
		buf[off+3] = byte(v >> 24)
	}
	for i, c := range cmds {
		base := i * 20
		putU32(base, c.IndexCount)
		putU32(base+4, c.InstanceCount)
		putU32(base+8, c.FirstIndex)
		putU32(base+12, uint32(c.VertexOffset))
		putU32(base+16, c.FirstInstance)
	}
	return buf
}

// instanceRecordBytes packs InstanceRecord values in traversal order into
// the host-visible instance_static/instance_anim buffer layout: mat4
// column-major (64 bytes) followed by the u32 material index.
func instanceRecordBytes(records []InstanceRecord) []byte {
	buf := make([]byte, len(records)*int(InstanceStaticStride))
	for i, r := range records {
		base := i * int(InstanceStaticStride)
		for c := 0; c < 16; c++ {
			bits := stdmath.Float32bits(r.Model.Data[c])
			off := base + c*4
			buf[off] = byte(bits)
			buf[off+1] = byte(bits >> 8)
			buf[off+2] = byte(bits >> 16)
			buf[off+3] = byte(bits >> 24)
		}
		midx := base + 64
		buf[midx] = byte(r.MaterialIndex)
		buf[midx+1] = byte(r.MaterialIndex >> 8)
		buf[midx+2] = byte(r.MaterialIndex >> 16)
		buf[midx+3] = byte(r.MaterialIndex >> 24)
	}
	return buf
}
