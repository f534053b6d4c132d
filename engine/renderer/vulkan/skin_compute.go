package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/nullforge/aurora/engine/math"
	"github.com/nullforge/aurora/engine/renderer/metadata"
)

// SkinWorkgroupSize matches Skinning.comp.glsl's
// `layout(local_size_x = 32) in;`.
const SkinWorkgroupSize uint32 = 32

// SkinPushConstants mirrors the five offsets spec.md §4.3 carries per
// dispatch: where to read bind-pose vertices/weights, where to read this
// entity-mesh's joint matrices, where to write the result, and how many
// bytes of source vertices to process (the early-out bound).
type SkinPushConstants struct {
	SrcOffset         uint32
	WeightsOffset     uint32
	DstOffset         uint32
	JointMatricesBase uint32
	SrcSize           uint32
}

/**
 * @brief SkinCompute owns the compute pipeline that transforms bind-pose
 * vertices into skinned vertices using the current frame's joint
 * matrices. One dispatch per animated entity-mesh, per spec.md §4.3.
 * Pipeline construction follows pipeline.go's NewGraphicsPipeline shape,
 * adapted to vk.ComputePipelineCreateInfo since the teacher has no
 * compute pipeline precedent.
 */
type SkinCompute struct {
	context             *VulkanContext
	pipeline            vk.Pipeline
	pipelineLayout      vk.PipelineLayout
	descriptorSetLayout vk.DescriptorSetLayout
}

// NewSkinCompute builds the compute pipeline bound to the four storage
// buffers (source vertices, weights, joint matrices, destination
// vertices) plus the five-uint32 push-constant block.
func NewSkinCompute(context *VulkanContext, shaderModule vk.ShaderModule) (*SkinCompute, error) {
	bindings := make([]vk.DescriptorSetLayoutBinding, 4)
	for i := range bindings {
		bindings[i] = vk.DescriptorSetLayoutBinding{
			Binding:         uint32(i),
			DescriptorType:  vk.DescriptorTypeStorageBuffer,
			DescriptorCount: 1,
			StageFlags:      vk.ShaderStageFlags(vk.ShaderStageComputeBit),
		}
	}
	layoutInfo := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(bindings)),
		PBindings:    bindings,
	}

	sc := &SkinCompute{context: context}
	if res := vk.CreateDescriptorSetLayout(context.Device.LogicalDevice, &layoutInfo, context.Allocator, &sc.descriptorSetLayout); res != vk.Success {
		return nil, fmt.Errorf("failed to create skin compute descriptor set layout")
	}

	pushConstantRange := vk.PushConstantRange{
		StageFlags: vk.ShaderStageFlags(vk.ShaderStageComputeBit),
		Offset:     0,
		Size:       5 * 4, // five uint32 fields.
	}
	pipelineLayoutInfo := vk.PipelineLayoutCreateInfo{
		SType:                  vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount:         1,
		PSetLayouts:            []vk.DescriptorSetLayout{sc.descriptorSetLayout},
		PushConstantRangeCount: 1,
		PPushConstantRanges:    []vk.PushConstantRange{pushConstantRange},
	}
	if res := vk.CreatePipelineLayout(context.Device.LogicalDevice, &pipelineLayoutInfo, context.Allocator, &sc.pipelineLayout); res != vk.Success {
		return nil, fmt.Errorf("failed to create skin compute pipeline layout")
	}

	stage := vk.PipelineShaderStageCreateInfo{
		SType:  vk.StructureTypePipelineShaderStageCreateInfo,
		Stage:  vk.ShaderStageComputeBit,
		Module: shaderModule,
		PName:  VulkanSafeString("main"),
	}
	createInfo := vk.ComputePipelineCreateInfo{
		SType:  vk.StructureTypeComputePipelineCreateInfo,
		Stage:  stage,
		Layout: sc.pipelineLayout,
	}
	if res := vk.CreateComputePipelines(context.Device.LogicalDevice, vk.NullPipelineCache, 1, []vk.ComputePipelineCreateInfo{createInfo}, context.Allocator, []vk.Pipeline{sc.pipeline}); res != vk.Success {
		return nil, fmt.Errorf("failed to create skin compute pipeline")
	}
	return sc, nil
}

// Dispatch records one skinning dispatch for a single animated
// entity-mesh. Workgroup count is ceil(vertexCount / SkinWorkgroupSize),
// per spec.md §4.3.
func (sc *SkinCompute) Dispatch(commandBuffer *VulkanCommandBuffer, descriptorSet vk.DescriptorSet, push SkinPushConstants, vertexCount uint32) {
	vk.CmdBindPipeline(commandBuffer.Handle, vk.PipelineBindPointCompute, sc.pipeline)
	vk.CmdBindDescriptorSets(commandBuffer.Handle, vk.PipelineBindPointCompute, sc.pipelineLayout, 0, 1, []vk.DescriptorSet{descriptorSet}, 0, nil)

	pushBytes := skinPushConstantsBytes(push)
	vk.CmdPushConstants(commandBuffer.Handle, sc.pipelineLayout, vk.ShaderStageFlags(vk.ShaderStageComputeBit), 0, uint32(len(pushBytes)), pushBytes)

	groupCount := (vertexCount + SkinWorkgroupSize - 1) / SkinWorkgroupSize
	vk.CmdDispatch(commandBuffer.Handle, groupCount, 1, 1)
}

func skinPushConstantsBytes(p SkinPushConstants) []byte {
	buf := make([]byte, 20)
	putU32 := func(off int, v uint32) {
		buf[off] = byte(v)
		buf[off+1] = byte(v >> 8)
		buf[off+2] = byte(v >> 16)
		buf[off+3] = byte(v >> 24)
	}
	putU32(0, p.SrcOffset)
	putU32(4, p.WeightsOffset)
	putU32(8, p.DstOffset)
	putU32(12, p.JointMatricesBase)
	putU32(16, p.SrcSize)
	return buf
}

// Destroy releases the pipeline, its layout, and the descriptor set
// layout.
func (sc *SkinCompute) Destroy() {
	if sc.pipeline != nil {
		vk.DestroyPipeline(sc.context.Device.LogicalDevice, sc.pipeline, sc.context.Allocator)
		sc.pipeline = nil
	}
	if sc.pipelineLayout != nil {
		vk.DestroyPipelineLayout(sc.context.Device.LogicalDevice, sc.pipelineLayout, sc.context.Allocator)
		sc.pipelineLayout = nil
	}
	if sc.descriptorSetLayout != nil {
		vk.DestroyDescriptorSetLayout(sc.context.Device.LogicalDevice, sc.descriptorSetLayout, sc.context.Allocator)
		sc.descriptorSetLayout = nil
	}
}

// transformAffine applies m to (v, w) and returns the full 4-component
// result, generalizing math.Vec3.Transform (which hard-codes w=1 and
// drops the w output) to the w=0 direction case SkinVertexCPU needs for
// normals/tangents/bitangents.
func transformAffine(m math.Mat4, v math.Vec3, w float32) math.Vec4 {
	return math.Vec4{
		X: v.X*m.Data[0] + v.Y*m.Data[4] + v.Z*m.Data[8] + w*m.Data[12],
		Y: v.X*m.Data[1] + v.Y*m.Data[5] + v.Z*m.Data[9] + w*m.Data[13],
		Z: v.X*m.Data[2] + v.Y*m.Data[6] + v.Z*m.Data[10] + w*m.Data[14],
		W: v.X*m.Data[3] + v.Y*m.Data[7] + v.Z*m.Data[11] + w*m.Data[15],
	}
}

// SkinVertexCPU is the pure-Go reference implementation of the per-vertex
// skinning algorithm from spec.md §4.3, used by tests (skinning-identity
// law, scenario 3) and as a CPU fallback path. joints must have exactly 4
// entries, one per weight/jointID pair in w.
func SkinVertexCPU(v metadata.Vertex, w metadata.WeightRecord, joints [4]math.Mat4) metadata.Vertex {
	blend := func(src math.Vec3, isPosition bool) math.Vec3 {
		var acc math.Vec4
		srcW := float32(0)
		if isPosition {
			srcW = 1
		}
		for k := 0; k < 4; k++ {
			t := transformAffine(joints[k], src, srcW)
			acc.X += w.Weights[k] * t.X
			acc.Y += w.Weights[k] * t.Y
			acc.Z += w.Weights[k] * t.Z
			acc.W += w.Weights[k] * t.W
		}
		if isPosition && acc.W != 0 {
			return math.Vec3{X: acc.X / acc.W, Y: acc.Y / acc.W, Z: acc.Z / acc.W}
		}
		return math.Vec3{X: acc.X, Y: acc.Y, Z: acc.Z}
	}

	out := metadata.Vertex{UV: v.UV}
	out.Position = blend(v.Position, true)
	out.Normal = blend(v.Normal, false)
	out.Tangent = blend(v.Tangent, false)
	out.Bitangent = blend(v.Bitangent, false)
	return out
}
