package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/nullforge/aurora/engine/renderer/metadata"
)

// LDRFormat is PostPass's output attachment format. SwapBlit samples it
// and writes to the swap-chain image, which is B8G8R8A8_UNORM (not
// sRGB) — gamma correction happens manually inside PostPass's shader
// (spec.md §4.7), so LDRFormat matches the swap-chain's own format.
const LDRFormat = vk.FormatB8g8r8a8Unorm

// postPushConstantsSize is one uint32 specialization-style flag
// (USE_FXAA) packed as a push constant rather than a true specialization
// constant, since goki/vulkan's pipeline creation path used elsewhere in
// this module never threads VkSpecializationInfo through; a push
// constant read at the top of the fragment shader is the simplest
// equivalent.
const postPushConstantsSize = 4

// PostPass tonemaps/gamma-corrects LightingPass's HDR output into an
// LDR attachment, optionally running FXAA first.
type PostPass struct {
	context    *VulkanContext
	renderpass *VulkanRenderPass
	pipeline   *VulkanPipeline
	width      uint32
	height     uint32

	ldrImage    *VulkanImage
	framebuffer *VulkanFramebuffer

	descriptorSetLayout vk.DescriptorSetLayout
	descriptorPool      vk.DescriptorPool
	descriptorSets      []vk.DescriptorSet

	stages  []*ShaderStage
	useFXAA bool
}

// NewPostPass allocates the LDR attachment at window resolution.
func NewPostPass(context *VulkanContext, width, height uint32, useFXAA bool) (*PostPass, error) {
	pp := &PostPass{context: context, useFXAA: useFXAA}
	if err := pp.createAttachment(width, height); err != nil {
		return nil, err
	}
	return pp, nil
}

func (pp *PostPass) createAttachment(width, height uint32) error {
	rp, err := RenderpassCreateMulti(pp.context, []RenderpassAttachment{
		{
			Format:        LDRFormat,
			InitialLayout: vk.ImageLayoutUndefined,
			FinalLayout:   vk.ImageLayoutShaderReadOnlyOptimal,
			LoadOp:        vk.AttachmentLoadOpClear,
		},
	}, 1)
	if err != nil {
		return fmt.Errorf("post pass renderpass: %w", err)
	}
	pp.renderpass = rp

	img, err := ImageCreate(pp.context, vk.ImageType2d, width, height, LDRFormat,
		vk.ImageTilingOptimal,
		vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit)|vk.ImageUsageFlags(vk.ImageUsageSampledBit),
		vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit),
		true, vk.ImageAspectFlags(vk.ImageAspectColorBit))
	if err != nil {
		return fmt.Errorf("post pass LDR attachment: %w", err)
	}
	pp.ldrImage = img

	fb, err := FramebufferCreate(pp.context, rp, width, height, 1, []vk.ImageView{img.View})
	if err != nil {
		return fmt.Errorf("post pass framebuffer: %w", err)
	}
	pp.framebuffer = fb
	pp.width, pp.height = width, height
	return nil
}

func (pp *PostPass) destroyAttachment() {
	if pp.framebuffer != nil {
		pp.framebuffer.Destroy(pp.context)
		pp.framebuffer = nil
	}
	if pp.ldrImage != nil {
		pp.ldrImage.ImageDestroy(pp.context)
		pp.ldrImage = nil
	}
	if pp.renderpass != nil {
		pp.renderpass.RenderpassDestroy(pp.context)
		pp.renderpass = nil
	}
}

// Resize rebuilds the LDR attachment at the new resolution.
func (pp *PostPass) Resize(width, height uint32) error {
	pp.destroyAttachment()
	return pp.createAttachment(width, height)
}

// View exposes the LDR attachment for SwapBlit's descriptor set.
func (pp *PostPass) View() vk.ImageView {
	return pp.ldrImage.View
}

// Build compiles the full-screen-triangle pipeline with a single
// combined-image-sampler binding (the HDR input).
func (pp *PostPass) Build(hdrView vk.ImageView, sampler vk.Sampler, framesInFlight uint32) error {
	bindings := []vk.DescriptorSetLayoutBinding{
		{Binding: 0, DescriptorType: vk.DescriptorTypeCombinedImageSampler, DescriptorCount: 1, StageFlags: vk.ShaderStageFlags(vk.ShaderStageFragmentBit)},
	}
	layoutInfo := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(bindings)),
		PBindings:    bindings,
	}
	if res := vk.CreateDescriptorSetLayout(pp.context.Device.LogicalDevice, &layoutInfo, pp.context.Allocator, &pp.descriptorSetLayout); res != vk.Success {
		return fmt.Errorf("post pass descriptor set layout creation failed")
	}

	poolSizes := []vk.DescriptorPoolSize{{Type: vk.DescriptorTypeCombinedImageSampler, DescriptorCount: framesInFlight}}
	poolInfo := vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		PoolSizeCount: uint32(len(poolSizes)),
		PPoolSizes:    poolSizes,
		MaxSets:       framesInFlight,
	}
	if res := vk.CreateDescriptorPool(pp.context.Device.LogicalDevice, &poolInfo, pp.context.Allocator, &pp.descriptorPool); res != vk.Success {
		return fmt.Errorf("post pass descriptor pool creation failed")
	}

	layouts := make([]vk.DescriptorSetLayout, framesInFlight)
	for i := range layouts {
		layouts[i] = pp.descriptorSetLayout
	}
	allocInfo := vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     pp.descriptorPool,
		DescriptorSetCount: framesInFlight,
		PSetLayouts:        layouts,
	}
	pp.descriptorSets = make([]vk.DescriptorSet, framesInFlight)
	if res := vk.AllocateDescriptorSets(pp.context.Device.LogicalDevice, &allocInfo, &pp.descriptorSets[0]); res != vk.Success {
		return fmt.Errorf("post pass descriptor set allocation failed")
	}

	for i := uint32(0); i < framesInFlight; i++ {
		imageInfo := vk.DescriptorImageInfo{ImageLayout: vk.ImageLayoutShaderReadOnlyOptimal, ImageView: hdrView, Sampler: sampler}
		write := vk.WriteDescriptorSet{
			SType: vk.StructureTypeWriteDescriptorSet, DstSet: pp.descriptorSets[i], DstBinding: 0,
			DescriptorCount: 1, DescriptorType: vk.DescriptorTypeCombinedImageSampler,
			PImageInfo: []vk.DescriptorImageInfo{imageInfo},
		}
		vk.UpdateDescriptorSets(pp.context.Device.LogicalDevice, 1, []vk.WriteDescriptorSet{write}, 0, nil)
	}

	stages, err := LoadShaderStages(pp.context, []ShaderStageSpec{
		{Name: "Post.vert", Stage: vk.ShaderStageVertexBit},
		{Name: "Post.frag", Stage: vk.ShaderStageFragmentBit},
	})
	if err != nil {
		return fmt.Errorf("post pass shader stages: %w", err)
	}
	pp.stages = stages

	pipeline, err := NewGraphicsPipelineMulti(pp.context, GraphicsPipelineMultiConfig{
		Renderpass:           pp.renderpass,
		Bindings:             nil,
		Attributes:           nil,
		DescriptorSetLayouts: []vk.DescriptorSetLayout{pp.descriptorSetLayout},
		Stages:               shaderStageInfos(stages),
		Viewport:             vk.Viewport{Width: float32(pp.width), Height: float32(pp.height), MinDepth: 0, MaxDepth: 1},
		Scissor:              vk.Rect2D{Extent: vk.Extent2D{Width: pp.width, Height: pp.height}},
		CullMode:             metadata.FaceCullModeNone,
		DepthTestEnabled:     false,
		ColorAttachmentCount: 1,
		PushConstantRanges: []vk.PushConstantRange{
			{StageFlags: vk.ShaderStageFlags(vk.ShaderStageFragmentBit), Offset: 0, Size: postPushConstantsSize},
		},
	})
	if err != nil {
		return fmt.Errorf("post pass pipeline: %w", err)
	}
	pp.pipeline = pipeline
	return nil
}

// RecordCommands draws the full-screen triangle, pushing USE_FXAA as a
// fragment push constant.
func (pp *PostPass) RecordCommands(cmd *VulkanCommandBuffer, frameIndex uint32) {
	clearValues := []vk.ClearValue{{}}
	clearValues[0].SetColor([]float32{0, 0, 0, 0})

	beginInfo := vk.RenderPassBeginInfo{
		SType:           vk.StructureTypeRenderPassBeginInfo,
		RenderPass:      pp.renderpass.Handle,
		Framebuffer:     pp.framebuffer.Handle,
		RenderArea:      vk.Rect2D{Extent: vk.Extent2D{Width: pp.width, Height: pp.height}},
		ClearValueCount: 1,
		PClearValues:    clearValues,
	}
	vk.CmdBeginRenderPass(cmd.Handle, &beginInfo, vk.SubpassContentsInline)
	vk.CmdBindPipeline(cmd.Handle, vk.PipelineBindPointGraphics, pp.pipeline.Handle)
	vk.CmdBindDescriptorSets(cmd.Handle, vk.PipelineBindPointGraphics, pp.pipeline.PipelineLayout, 0, 1,
		[]vk.DescriptorSet{pp.descriptorSets[frameIndex]}, 0, nil)

	useFXAA := uint32(0)
	if pp.useFXAA {
		useFXAA = 1
	}
	vk.CmdPushConstants(cmd.Handle, pp.pipeline.PipelineLayout, vk.ShaderStageFlags(vk.ShaderStageFragmentBit), 0, postPushConstantsSize, uint32Bytes(useFXAA))

	vk.CmdDraw(cmd.Handle, 3, 1, 0, 0)
	vk.CmdEndRenderPass(cmd.Handle)
}

// Destroy releases every resource PostPass owns.
func (pp *PostPass) Destroy() {
	for _, s := range pp.stages {
		s.Destroy(pp.context)
	}
	pp.stages = nil
	if pp.pipeline != nil {
		pp.pipeline.Destroy(pp.context)
		pp.pipeline = nil
	}
	if pp.descriptorPool != nil {
		vk.DestroyDescriptorPool(pp.context.Device.LogicalDevice, pp.descriptorPool, pp.context.Allocator)
		pp.descriptorPool = nil
	}
	if pp.descriptorSetLayout != nil {
		vk.DestroyDescriptorSetLayout(pp.context.Device.LogicalDevice, pp.descriptorSetLayout, pp.context.Allocator)
		pp.descriptorSetLayout = nil
	}
	pp.destroyAttachment()
}
