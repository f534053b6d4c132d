package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/nullforge/aurora/engine/math"
	"github.com/nullforge/aurora/engine/renderer/metadata"
)

// gBufferAttachmentFormats is the fixed four-color-attachment layout
// from spec.md §4.5: albedo+alpha, packed world-space normal, PBR
// (AO/roughness/metallic), and world position, rendered alongside a
// depth attachment in Device.DepthFormat, the format DeviceDetectDepthFormat
// picked; the depth format is not fixed to D32_SFLOAT.
var gBufferAttachmentFormats = [4]vk.Format{
	vk.FormatR16g16b16a16Sfloat,
	vk.FormatA2b10g10r10UnormPack32,
	vk.FormatR16g16b16a16Sfloat,
	vk.FormatR16g16b16a16Sfloat,
}

// sceneCameraUBOSize is sizeof(mat4)*2, packing the projection and view
// matrices spec.md §4.5 calls out as two separate descriptor bindings
// into one UBO binding for simplicity; both matrices change together
// (camera move/resize), so splitting them into two bindings buys
// nothing here.
const sceneCameraUBOSize = 64 * 2

// ScenePass renders the opaque/alpha-masked scene into the deferred
// G-buffer. Grounded on ShadowPass's pipeline/descriptor construction,
// widened from a depth-only pass with a cascade UBO to four color
// attachments and a camera UBO plus materials/texture bindings.
type ScenePass struct {
	context    *VulkanContext
	renderpass *VulkanRenderPass
	pipeline   *VulkanPipeline
	width      uint32
	height     uint32

	colorImages [4]*VulkanImage
	depthImage  *VulkanImage
	framebuffer *VulkanFramebuffer

	descriptorSetLayout vk.DescriptorSetLayout
	descriptorPool      vk.DescriptorPool
	descriptorSets      []vk.DescriptorSet
	cameraUBO           []*VulkanBuffer

	stages []*ShaderStage
}

// NewScenePass allocates the G-buffer attachments and render pass at the
// given window resolution. Call Resize to rebuild them after a window
// resize event (spec.md §3.3: G-buffer attachments are recreated on
// resize, unlike the cascaded depth image).
func NewScenePass(context *VulkanContext, width, height uint32) (*ScenePass, error) {
	sp := &ScenePass{context: context}
	if err := sp.createAttachments(width, height); err != nil {
		return nil, err
	}
	return sp, nil
}

func (sp *ScenePass) createAttachments(width, height uint32) error {
	attachments := make([]RenderpassAttachment, 0, 5)
	for _, format := range gBufferAttachmentFormats {
		attachments = append(attachments, RenderpassAttachment{
			Format:        format,
			InitialLayout: vk.ImageLayoutUndefined,
			FinalLayout:   vk.ImageLayoutShaderReadOnlyOptimal,
			LoadOp:        vk.AttachmentLoadOpClear,
		})
	}
	attachments = append(attachments, RenderpassAttachment{
		Format:        sp.context.Device.DepthFormat,
		InitialLayout: vk.ImageLayoutUndefined,
		FinalLayout:   vk.ImageLayoutDepthStencilReadOnlyOptimal,
		IsDepth:       true,
		LoadOp:        vk.AttachmentLoadOpClear,
	})

	rp, err := RenderpassCreateMulti(sp.context, attachments, 1)
	if err != nil {
		return fmt.Errorf("scene pass renderpass: %w", err)
	}
	sp.renderpass = rp

	views := make([]vk.ImageView, 0, 5)
	for i, format := range gBufferAttachmentFormats {
		img, err := ImageCreate(sp.context, vk.ImageType2d, width, height, format,
			vk.ImageTilingOptimal,
			vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit)|vk.ImageUsageFlags(vk.ImageUsageSampledBit),
			vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit),
			true, vk.ImageAspectFlags(vk.ImageAspectColorBit))
		if err != nil {
			return fmt.Errorf("scene pass color attachment %d: %w", i, err)
		}
		sp.colorImages[i] = img
		views = append(views, img.View)
	}

	depth, err := ImageCreate(sp.context, vk.ImageType2d, width, height, sp.context.Device.DepthFormat,
		vk.ImageTilingOptimal,
		vk.ImageUsageFlags(vk.ImageUsageDepthStencilAttachmentBit)|vk.ImageUsageFlags(vk.ImageUsageSampledBit),
		vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit),
		true, vk.ImageAspectFlags(vk.ImageAspectDepthBit))
	if err != nil {
		return fmt.Errorf("scene pass depth attachment: %w", err)
	}
	sp.depthImage = depth
	views = append(views, depth.View)

	fb, err := FramebufferCreate(sp.context, rp, width, height, uint32(len(views)), views)
	if err != nil {
		return fmt.Errorf("scene pass framebuffer: %w", err)
	}
	sp.framebuffer = fb
	sp.width, sp.height = width, height
	return nil
}

func (sp *ScenePass) destroyAttachments() {
	if sp.framebuffer != nil {
		sp.framebuffer.Destroy(sp.context)
		sp.framebuffer = nil
	}
	for i, img := range sp.colorImages {
		if img != nil {
			img.ImageDestroy(sp.context)
			sp.colorImages[i] = nil
		}
	}
	if sp.depthImage != nil {
		sp.depthImage.ImageDestroy(sp.context)
		sp.depthImage = nil
	}
	if sp.renderpass != nil {
		sp.renderpass.RenderpassDestroy(sp.context)
		sp.renderpass = nil
	}
}

// Resize rebuilds the G-buffer attachments, framebuffer, and render pass
// at the new window resolution; the pipeline (which only references
// RenderPass.Handle, not the images) does not need to be rebuilt.
func (sp *ScenePass) Resize(width, height uint32) error {
	sp.destroyAttachments()
	return sp.createAttachments(width, height)
}

// ColorView exposes the index-th G-buffer attachment view (0=albedo,
// 1=normal, 2=PBR, 3=world position) for LightingPass's descriptor set.
func (sp *ScenePass) ColorView(index int) vk.ImageView {
	return sp.colorImages[index].View
}

// ColorImage exposes the index-th G-buffer attachment's vk.Image handle
// for the pipeline barrier FrameOrchestrator inserts between ScenePass
// and LightingPass.
func (sp *ScenePass) ColorImage(index int) vk.Image {
	return sp.colorImages[index].Handle
}

// Build compiles the G-buffer pipeline: five per-vertex attributes
// (position, normal, tangent, bitangent, uv) at binding 0, the mat4 +
// material index instance attributes at binding 1, and a three-binding
// descriptor set (camera UBO, materials SSBO, bindless textures).
func (sp *ScenePass) Build(materials *VulkanBuffer, textureCache *TextureCache, framesInFlight uint32) error {
	bindings := []vk.DescriptorSetLayoutBinding{
		{Binding: 0, DescriptorType: vk.DescriptorTypeUniformBuffer, DescriptorCount: 1, StageFlags: vk.ShaderStageFlags(vk.ShaderStageVertexBit)},
		{Binding: 1, DescriptorType: vk.DescriptorTypeStorageBuffer, DescriptorCount: 1, StageFlags: vk.ShaderStageFlags(vk.ShaderStageFragmentBit)},
		{Binding: 2, DescriptorType: vk.DescriptorTypeCombinedImageSampler, DescriptorCount: MaxTextures, StageFlags: vk.ShaderStageFlags(vk.ShaderStageFragmentBit)},
	}
	layoutInfo := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(bindings)),
		PBindings:    bindings,
	}
	if res := vk.CreateDescriptorSetLayout(sp.context.Device.LogicalDevice, &layoutInfo, sp.context.Allocator, &sp.descriptorSetLayout); res != vk.Success {
		return fmt.Errorf("scene pass descriptor set layout creation failed")
	}

	poolSizes := []vk.DescriptorPoolSize{
		{Type: vk.DescriptorTypeUniformBuffer, DescriptorCount: framesInFlight},
		{Type: vk.DescriptorTypeStorageBuffer, DescriptorCount: framesInFlight},
		{Type: vk.DescriptorTypeCombinedImageSampler, DescriptorCount: framesInFlight * MaxTextures},
	}
	poolInfo := vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		PoolSizeCount: uint32(len(poolSizes)),
		PPoolSizes:    poolSizes,
		MaxSets:       framesInFlight,
	}
	if res := vk.CreateDescriptorPool(sp.context.Device.LogicalDevice, &poolInfo, sp.context.Allocator, &sp.descriptorPool); res != vk.Success {
		return fmt.Errorf("scene pass descriptor pool creation failed")
	}

	layouts := make([]vk.DescriptorSetLayout, framesInFlight)
	for i := range layouts {
		layouts[i] = sp.descriptorSetLayout
	}
	allocInfo := vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     sp.descriptorPool,
		DescriptorSetCount: framesInFlight,
		PSetLayouts:        layouts,
	}
	sp.descriptorSets = make([]vk.DescriptorSet, framesInFlight)
	if res := vk.AllocateDescriptorSets(sp.context.Device.LogicalDevice, &allocInfo, &sp.descriptorSets[0]); res != vk.Success {
		return fmt.Errorf("scene pass descriptor set allocation failed")
	}

	views, err := textureCache.AsList(MaxTextures)
	if err != nil {
		return fmt.Errorf("scene pass texture list: %w", err)
	}
	imageInfos := make([]vk.DescriptorImageInfo, len(views))
	for i, v := range views {
		imageInfos[i] = vk.DescriptorImageInfo{ImageLayout: vk.ImageLayoutShaderReadOnlyOptimal, ImageView: v, Sampler: textureCache.Sampler()}
	}

	sp.cameraUBO = make([]*VulkanBuffer, framesInFlight)
	hostVisible := uint32(vk.MemoryPropertyHostVisibleBit) | uint32(vk.MemoryPropertyHostCoherentBit)
	for i := uint32(0); i < framesInFlight; i++ {
		ubo, err := BufferCreate(sp.context, sceneCameraUBOSize, vk.BufferUsageFlags(vk.BufferUsageUniformBufferBit), hostVisible, true)
		if err != nil {
			return fmt.Errorf("scene pass camera UBO: %w", err)
		}
		sp.cameraUBO[i] = ubo

		cameraInfo := vk.DescriptorBufferInfo{Buffer: ubo.Handle, Offset: 0, Range: vk.DeviceSize(sceneCameraUBOSize)}
		materialInfo := vk.DescriptorBufferInfo{Buffer: materials.Handle, Offset: 0, Range: vk.DeviceSize(vk.WholeSize)}
		writes := []vk.WriteDescriptorSet{
			{SType: vk.StructureTypeWriteDescriptorSet, DstSet: sp.descriptorSets[i], DstBinding: 0, DescriptorCount: 1, DescriptorType: vk.DescriptorTypeUniformBuffer, PBufferInfo: []vk.DescriptorBufferInfo{cameraInfo}},
			{SType: vk.StructureTypeWriteDescriptorSet, DstSet: sp.descriptorSets[i], DstBinding: 1, DescriptorCount: 1, DescriptorType: vk.DescriptorTypeStorageBuffer, PBufferInfo: []vk.DescriptorBufferInfo{materialInfo}},
			{SType: vk.StructureTypeWriteDescriptorSet, DstSet: sp.descriptorSets[i], DstBinding: 2, DescriptorCount: uint32(len(imageInfos)), DescriptorType: vk.DescriptorTypeCombinedImageSampler, PImageInfo: imageInfos},
		}
		vk.UpdateDescriptorSets(sp.context.Device.LogicalDevice, uint32(len(writes)), writes, 0, nil)
	}

	stages, err := LoadShaderStages(sp.context, []ShaderStageSpec{
		{Name: "GBuffer.vert", Stage: vk.ShaderStageVertexBit},
		{Name: "GBuffer.frag", Stage: vk.ShaderStageFragmentBit},
	})
	if err != nil {
		return fmt.Errorf("scene pass shader stages: %w", err)
	}
	sp.stages = stages

	bindingDescs := []vk.VertexInputBindingDescription{
		{Binding: 0, Stride: metadata.VertexStride, InputRate: vk.VertexInputRateVertex},
		{Binding: 1, Stride: InstanceStaticStride, InputRate: vk.VertexInputRateInstance},
	}
	attrs := []vk.VertexInputAttributeDescription{
		{Location: 0, Binding: 0, Format: vk.FormatR32g32b32Sfloat, Offset: 0},  // position
		{Location: 1, Binding: 0, Format: vk.FormatR32g32b32Sfloat, Offset: 12}, // normal
		{Location: 2, Binding: 0, Format: vk.FormatR32g32b32Sfloat, Offset: 24}, // tangent
		{Location: 3, Binding: 0, Format: vk.FormatR32g32b32Sfloat, Offset: 36}, // bitangent
		{Location: 4, Binding: 0, Format: vk.FormatR32g32Sfloat, Offset: 48},    // uv
		{Location: 5, Binding: 1, Format: vk.FormatR32g32b32a32Sfloat, Offset: 0},
		{Location: 6, Binding: 1, Format: vk.FormatR32g32b32a32Sfloat, Offset: 16},
		{Location: 7, Binding: 1, Format: vk.FormatR32g32b32a32Sfloat, Offset: 32},
		{Location: 8, Binding: 1, Format: vk.FormatR32g32b32a32Sfloat, Offset: 48},
		{Location: 9, Binding: 1, Format: vk.FormatR32uint, Offset: 64},
	}

	pipeline, err := NewGraphicsPipelineMulti(sp.context, GraphicsPipelineMultiConfig{
		Renderpass:           sp.renderpass,
		Bindings:             bindingDescs,
		Attributes:           attrs,
		DescriptorSetLayouts: []vk.DescriptorSetLayout{sp.descriptorSetLayout},
		Stages:               shaderStageInfos(stages),
		Viewport:             vk.Viewport{Width: float32(sp.width), Height: float32(sp.height), MinDepth: 0, MaxDepth: 1},
		Scissor:              vk.Rect2D{Extent: vk.Extent2D{Width: sp.width, Height: sp.height}},
		CullMode:             metadata.FaceCullModeBack,
		DepthTestEnabled:     true,
		ColorAttachmentCount: uint32(len(gBufferAttachmentFormats)),
	})
	if err != nil {
		return fmt.Errorf("scene pass pipeline: %w", err)
	}
	sp.pipeline = pipeline
	return nil
}

// UpdateCamera uploads this frame's projection and view matrices into
// frameIndex's UBO.
func (sp *ScenePass) UpdateCamera(frameIndex uint32, projection, view math.Mat4) error {
	buf := make([]byte, sceneCameraUBOSize)
	copy(buf[0:64], mat4Bytes(projection))
	copy(buf[64:128], mat4Bytes(view))
	return sp.cameraUBO[frameIndex].LoadData(sp.context, 0, uint64(len(buf)), 0, buf)
}

// RecordCommands replays both of GlobalBuffers' indirect streams into
// the G-buffer, matching spec.md §4.5's draw-recording order: static
// stream against `vertices`/`instance_static`, then the animated stream
// against `skinned_vertices`/`instance_anim`.
func (sp *ScenePass) RecordCommands(cmd *VulkanCommandBuffer, gb *GlobalBuffers, frameIndex uint32) {
	clearValues := make([]vk.ClearValue, len(gBufferAttachmentFormats)+1)
	for i := range gBufferAttachmentFormats {
		clearValues[i].SetColor([]float32{0, 0, 0, 0})
	}
	clearValues[len(clearValues)-1].SetDepthStencil(1.0, 0)

	beginInfo := vk.RenderPassBeginInfo{
		SType:           vk.StructureTypeRenderPassBeginInfo,
		RenderPass:      sp.renderpass.Handle,
		Framebuffer:     sp.framebuffer.Handle,
		RenderArea:      vk.Rect2D{Extent: vk.Extent2D{Width: sp.width, Height: sp.height}},
		ClearValueCount: uint32(len(clearValues)),
		PClearValues:    clearValues,
	}
	vk.CmdBeginRenderPass(cmd.Handle, &beginInfo, vk.SubpassContentsInline)

	vk.CmdBindPipeline(cmd.Handle, vk.PipelineBindPointGraphics, sp.pipeline.Handle)
	vk.CmdBindDescriptorSets(cmd.Handle, vk.PipelineBindPointGraphics, sp.pipeline.PipelineLayout, 0, 1,
		[]vk.DescriptorSet{sp.descriptorSets[frameIndex]}, 0, nil)
	vk.CmdBindIndexBuffer(cmd.Handle, gb.Indices.Handle, 0, vk.IndexTypeUint32)

	if gb.IndirectStatic != nil && gb.StaticCommandCount > 0 {
		vk.CmdBindVertexBuffers(cmd.Handle, 0, 2, []vk.Buffer{gb.Vertices.Handle, gb.InstanceStatic[frameIndex].Handle}, []vk.DeviceSize{0, 0})
		vk.CmdDrawIndexedIndirect(cmd.Handle, gb.IndirectStatic.Handle, 0, gb.StaticCommandCount, 20)
	}
	if gb.IndirectAnim != nil && gb.AnimCommandCount > 0 && gb.SkinnedVertices != nil {
		vk.CmdBindVertexBuffers(cmd.Handle, 0, 2, []vk.Buffer{gb.SkinnedVertices.Handle, gb.InstanceAnim[frameIndex].Handle}, []vk.DeviceSize{0, 0})
		vk.CmdDrawIndexedIndirect(cmd.Handle, gb.IndirectAnim.Handle, 0, gb.AnimCommandCount, 20)
	}

	vk.CmdEndRenderPass(cmd.Handle)
}

// Destroy releases every resource ScenePass owns.
func (sp *ScenePass) Destroy() {
	for _, s := range sp.stages {
		s.Destroy(sp.context)
	}
	sp.stages = nil
	if sp.pipeline != nil {
		sp.pipeline.Destroy(sp.context)
		sp.pipeline = nil
	}
	for _, ubo := range sp.cameraUBO {
		if ubo != nil {
			ubo.Destroy(sp.context)
		}
	}
	sp.cameraUBO = nil
	if sp.descriptorPool != nil {
		vk.DestroyDescriptorPool(sp.context.Device.LogicalDevice, sp.descriptorPool, sp.context.Allocator)
		sp.descriptorPool = nil
	}
	if sp.descriptorSetLayout != nil {
		vk.DestroyDescriptorSetLayout(sp.context.Device.LogicalDevice, sp.descriptorSetLayout, sp.context.Allocator)
		sp.descriptorSetLayout = nil
	}
	sp.destroyAttachments()
}
