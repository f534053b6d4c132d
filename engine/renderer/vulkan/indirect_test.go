package vulkan

import (
	"testing"

	"github.com/nullforge/aurora/engine/math"
	"github.com/nullforge/aurora/engine/renderer/metadata"
)

func buildTestModels(modelCount, meshesPerModel int) []*metadata.Model {
	models := make([]*metadata.Model, modelCount)
	var vtxCursor, idxCursor uint32
	for m := 0; m < modelCount; m++ {
		meshes := make([]*metadata.Mesh, meshesPerModel)
		for k := 0; k < meshesPerModel; k++ {
			meshes[k] = &metadata.Mesh{
				VertexOffset:  vtxCursor,
				VertexSize:    metadata.VertexStride * 4,
				IndexOffset:   idxCursor,
				IndexCount:    6,
				MaterialIndex: uint32(k),
			}
			vtxCursor += meshes[k].VertexSize
			idxCursor += meshes[k].IndexCount * 4
		}
		models[m] = &metadata.Model{ID: idFor(m), Meshes: meshes}
	}
	return models
}

func idFor(i int) string {
	return string(rune('A' + i))
}

func buildTestEntities(models []*metadata.Model, perModel int) []*metadata.Entity {
	var entities []*metadata.Entity
	for _, m := range models {
		for i := 0; i < perModel; i++ {
			entities = append(entities, &metadata.Entity{
				ID:          m.ID + idFor(i),
				ModelID:     m.ID,
				ModelMatrix: math.NewMat4Identity(),
			})
		}
	}
	return entities
}

// TestPlanStaticIndirect_InstanceCountMatchesScenario mirrors end-to-end
// scenario 4 (spec.md §8.3): 10 models, 3 meshes each, 100 entities each.
func TestPlanStaticIndirect_InstanceCountMatchesScenario(t *testing.T) {
	models := buildTestModels(10, 3)
	entities := buildTestEntities(models, 100)

	cmds, instances := planStaticIndirect(models, entities)

	if len(cmds) != 10*3 {
		t.Fatalf("expected %d draw commands, got %d", 10*3, len(cmds))
	}

	var total uint32
	for _, c := range cmds {
		total += c.InstanceCount
	}
	wantTotal := uint32(10 * 3 * 100)
	if total != wantTotal {
		t.Fatalf("expected total instance_count %d, got %d", wantTotal, total)
	}
	if uint32(len(instances)) != total {
		t.Fatalf("instance buffer length %d must equal total instance_count %d", len(instances), total)
	}
}

// TestPlanStaticIndirect_FirstInstanceMatchesTraversalOrder checks the
// invariant from spec.md §8.1: instance buffer traversal order matches
// the order used when building indirect commands, so first_instance for
// each command exactly indexes the start of its contiguous block.
func TestPlanStaticIndirect_FirstInstanceMatchesTraversalOrder(t *testing.T) {
	models := buildTestModels(2, 2)
	entities := buildTestEntities(models, 3)

	cmds, instances := planStaticIndirect(models, entities)

	var cursor uint32
	for _, c := range cmds {
		if c.FirstInstance != cursor {
			t.Fatalf("first_instance %d does not match running cursor %d", c.FirstInstance, cursor)
		}
		block := instances[c.FirstInstance : c.FirstInstance+c.InstanceCount]
		for _, rec := range block {
			if rec.MaterialIndex > 1 {
				t.Fatalf("unexpected material index %d in block", rec.MaterialIndex)
			}
		}
		cursor += c.InstanceCount
	}
}

// TestPlanStaticIndirect_BufferBounds enforces the buffer-bounds invariant
// from spec.md §8.1 directly against the mesh layout used to build cmds.
func TestPlanStaticIndirect_BufferBounds(t *testing.T) {
	models := buildTestModels(1, 2)
	entities := buildTestEntities(models, 5)
	indexBufLen := uint32(1) // placeholder, recomputed below
	var vertexBufLen uint32
	for _, mesh := range models[0].Meshes {
		if end := mesh.IndexOffset + mesh.IndexCount*4; end > indexBufLen {
			indexBufLen = end
		}
		if end := mesh.VertexOffset + mesh.VertexSize; end > vertexBufLen {
			vertexBufLen = end
		}
	}

	cmds, _ := planStaticIndirect(models, entities)
	for _, c := range cmds {
		if c.FirstIndex*4+c.IndexCount*4 > indexBufLen {
			t.Fatalf("draw command reads past index buffer: %+v", c)
		}
		if uint32(c.VertexOffset)*metadata.VertexStride+metadata.VertexStride*4 > vertexBufLen+metadata.VertexStride {
			t.Fatalf("draw command reads past vertex buffer: %+v", c)
		}
	}
}

// TestPlanAnimatedIndirect_SlotsAreDisjointAndSized checks the skinned
// invariant from spec.md §8.1: each animated command's vertex_offset
// lies within its own reserved skinned_vertices slot, sized exactly to
// the mesh's vertex_size.
func TestPlanAnimatedIndirect_SlotsAreDisjointAndSized(t *testing.T) {
	models := buildTestModels(2, 2)
	for _, m := range models {
		m.Animations = []*metadata.Animation{{Name: "idle", Frames: []metadata.AnimationFrame{{JointMatricesOffset: 0}}}}
		for _, mesh := range m.Meshes {
			mesh.WeightsOffset = 1
		}
	}
	entities := []*metadata.Entity{
		{ID: "e0", ModelID: models[0].ID, ModelMatrix: math.NewMat4Identity(), AnimationState: &metadata.EntityAnimationState{}},
		{ID: "e1", ModelID: models[1].ID, ModelMatrix: math.NewMat4Identity(), AnimationState: &metadata.EntityAnimationState{}},
	}

	cmds, _, jobs := planAnimatedIndirect(models, entities, indexByID(models))

	if len(cmds) != len(jobs) {
		t.Fatalf("expected one job per animated command, got %d cmds, %d jobs", len(cmds), len(jobs))
	}

	seen := map[uint32]uint32{} // offset -> size
	for i, c := range cmds {
		offset := uint32(c.VertexOffset) * metadata.VertexStride
		size := jobs[i].Push.SrcSize
		for o, s := range seen {
			if offset < o+s && o < offset+size {
				t.Fatalf("skinned_vertices slots overlap: [%d,%d) and [%d,%d)", offset, offset+size, o, o+s)
			}
		}
		seen[offset] = size
		if size != jobs[i].Mesh.VertexSize {
			t.Fatalf("slot size %d does not match mesh vertex_size %d", size, jobs[i].Mesh.VertexSize)
		}
	}
}
