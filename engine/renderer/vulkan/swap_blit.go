package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/nullforge/aurora/engine/renderer/metadata"
)

// SwapBlit is the final full-screen-triangle pass: it samples PostPass's
// LDR output and writes directly to the acquired swap-chain image. Kept
// as its own pass (rather than folding PostPass's render directly onto
// the swap-chain) so PostPass can run in the device's native format
// independent of whatever surface format was negotiated (spec.md §4.7).
type SwapBlit struct {
	context    *VulkanContext
	renderpass *VulkanRenderPass
	pipeline   *VulkanPipeline

	framebuffers []*VulkanFramebuffer
	width        uint32
	height       uint32

	descriptorSetLayout vk.DescriptorSetLayout
	descriptorPool      vk.DescriptorPool
	descriptorSets      []vk.DescriptorSet

	stages []*ShaderStage
}

// NewSwapBlit builds a color-only render pass targeting the swap-chain's
// own surface format, ending in PRESENT_SRC, and one framebuffer per
// swap-chain image view.
func NewSwapBlit(context *VulkanContext, swapchain *VulkanSwapchain) (*SwapBlit, error) {
	sb := &SwapBlit{context: context}
	if err := sb.createFramebuffers(swapchain); err != nil {
		return nil, err
	}
	return sb, nil
}

func (sb *SwapBlit) createFramebuffers(swapchain *VulkanSwapchain) error {
	rp, err := RenderpassCreateMulti(sb.context, []RenderpassAttachment{
		{
			Format:        swapchain.ImageFormat.Format,
			InitialLayout: vk.ImageLayoutUndefined,
			FinalLayout:   vk.ImageLayoutPresentSrc,
			LoadOp:        vk.AttachmentLoadOpClear,
		},
	}, 1)
	if err != nil {
		return fmt.Errorf("swap blit renderpass: %w", err)
	}
	sb.renderpass = rp

	sb.width = sb.context.FramebufferWidth
	sb.height = sb.context.FramebufferHeight
	sb.framebuffers = make([]*VulkanFramebuffer, swapchain.ImageCount)
	for i := 0; i < int(swapchain.ImageCount); i++ {
		fb, err := FramebufferCreate(sb.context, rp, sb.width, sb.height, 1, []vk.ImageView{swapchain.Views[i]})
		if err != nil {
			return fmt.Errorf("swap blit framebuffer %d: %w", i, err)
		}
		sb.framebuffers[i] = fb
	}
	return nil
}

func (sb *SwapBlit) destroyFramebuffers() {
	for i, fb := range sb.framebuffers {
		if fb != nil {
			fb.Destroy(sb.context)
			sb.framebuffers[i] = nil
		}
	}
	sb.framebuffers = nil
	if sb.renderpass != nil {
		sb.renderpass.RenderpassDestroy(sb.context)
		sb.renderpass = nil
	}
}

// Resize rebuilds the per-image framebuffers against the recreated
// swap-chain.
func (sb *SwapBlit) Resize(swapchain *VulkanSwapchain) error {
	sb.destroyFramebuffers()
	return sb.createFramebuffers(swapchain)
}

// Build compiles the full-screen-triangle pipeline with a single
// combined-image-sampler binding (the PostPass LDR input).
func (sb *SwapBlit) Build(ldrView vk.ImageView, sampler vk.Sampler, framesInFlight uint32) error {
	bindings := []vk.DescriptorSetLayoutBinding{
		{Binding: 0, DescriptorType: vk.DescriptorTypeCombinedImageSampler, DescriptorCount: 1, StageFlags: vk.ShaderStageFlags(vk.ShaderStageFragmentBit)},
	}
	layoutInfo := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(bindings)),
		PBindings:    bindings,
	}
	if res := vk.CreateDescriptorSetLayout(sb.context.Device.LogicalDevice, &layoutInfo, sb.context.Allocator, &sb.descriptorSetLayout); res != vk.Success {
		return fmt.Errorf("swap blit descriptor set layout creation failed")
	}

	poolSizes := []vk.DescriptorPoolSize{{Type: vk.DescriptorTypeCombinedImageSampler, DescriptorCount: framesInFlight}}
	poolInfo := vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		PoolSizeCount: uint32(len(poolSizes)),
		PPoolSizes:    poolSizes,
		MaxSets:       framesInFlight,
	}
	if res := vk.CreateDescriptorPool(sb.context.Device.LogicalDevice, &poolInfo, sb.context.Allocator, &sb.descriptorPool); res != vk.Success {
		return fmt.Errorf("swap blit descriptor pool creation failed")
	}

	layouts := make([]vk.DescriptorSetLayout, framesInFlight)
	for i := range layouts {
		layouts[i] = sb.descriptorSetLayout
	}
	allocInfo := vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     sb.descriptorPool,
		DescriptorSetCount: framesInFlight,
		PSetLayouts:        layouts,
	}
	sb.descriptorSets = make([]vk.DescriptorSet, framesInFlight)
	if res := vk.AllocateDescriptorSets(sb.context.Device.LogicalDevice, &allocInfo, &sb.descriptorSets[0]); res != vk.Success {
		return fmt.Errorf("swap blit descriptor set allocation failed")
	}

	for i := uint32(0); i < framesInFlight; i++ {
		imageInfo := vk.DescriptorImageInfo{ImageLayout: vk.ImageLayoutShaderReadOnlyOptimal, ImageView: ldrView, Sampler: sampler}
		write := vk.WriteDescriptorSet{
			SType: vk.StructureTypeWriteDescriptorSet, DstSet: sb.descriptorSets[i], DstBinding: 0,
			DescriptorCount: 1, DescriptorType: vk.DescriptorTypeCombinedImageSampler,
			PImageInfo: []vk.DescriptorImageInfo{imageInfo},
		}
		vk.UpdateDescriptorSets(sb.context.Device.LogicalDevice, 1, []vk.WriteDescriptorSet{write}, 0, nil)
	}

	stages, err := LoadShaderStages(sb.context, []ShaderStageSpec{
		{Name: "SwapBlit.vert", Stage: vk.ShaderStageVertexBit},
		{Name: "SwapBlit.frag", Stage: vk.ShaderStageFragmentBit},
	})
	if err != nil {
		return fmt.Errorf("swap blit shader stages: %w", err)
	}
	sb.stages = stages

	pipeline, err := NewGraphicsPipelineMulti(sb.context, GraphicsPipelineMultiConfig{
		Renderpass:           sb.renderpass,
		Bindings:             nil,
		Attributes:           nil,
		DescriptorSetLayouts: []vk.DescriptorSetLayout{sb.descriptorSetLayout},
		Stages:               shaderStageInfos(stages),
		Viewport:             vk.Viewport{Width: float32(sb.width), Height: float32(sb.height), MinDepth: 0, MaxDepth: 1},
		Scissor:              vk.Rect2D{Extent: vk.Extent2D{Width: sb.width, Height: sb.height}},
		CullMode:             metadata.FaceCullModeNone,
		DepthTestEnabled:     false,
		ColorAttachmentCount: 1,
	})
	if err != nil {
		return fmt.Errorf("swap blit pipeline: %w", err)
	}
	sb.pipeline = pipeline
	return nil
}

// RecordCommands draws the full-screen triangle into the swap-chain
// image at imageIndex (the index returned by SwapchainAcquireNextImageIndex).
func (sb *SwapBlit) RecordCommands(cmd *VulkanCommandBuffer, imageIndex, frameIndex uint32) {
	clearValues := []vk.ClearValue{{}}
	clearValues[0].SetColor([]float32{0, 0, 0, 1})

	beginInfo := vk.RenderPassBeginInfo{
		SType:           vk.StructureTypeRenderPassBeginInfo,
		RenderPass:      sb.renderpass.Handle,
		Framebuffer:     sb.framebuffers[imageIndex].Handle,
		RenderArea:      vk.Rect2D{Extent: vk.Extent2D{Width: sb.width, Height: sb.height}},
		ClearValueCount: 1,
		PClearValues:    clearValues,
	}
	vk.CmdBeginRenderPass(cmd.Handle, &beginInfo, vk.SubpassContentsInline)
	vk.CmdBindPipeline(cmd.Handle, vk.PipelineBindPointGraphics, sb.pipeline.Handle)
	vk.CmdBindDescriptorSets(cmd.Handle, vk.PipelineBindPointGraphics, sb.pipeline.PipelineLayout, 0, 1,
		[]vk.DescriptorSet{sb.descriptorSets[frameIndex]}, 0, nil)
	vk.CmdDraw(cmd.Handle, 3, 1, 0, 0)
	vk.CmdEndRenderPass(cmd.Handle)
}

// Destroy releases every resource SwapBlit owns.
func (sb *SwapBlit) Destroy() {
	for _, s := range sb.stages {
		s.Destroy(sb.context)
	}
	sb.stages = nil
	if sb.pipeline != nil {
		sb.pipeline.Destroy(sb.context)
		sb.pipeline = nil
	}
	if sb.descriptorPool != nil {
		vk.DestroyDescriptorPool(sb.context.Device.LogicalDevice, sb.descriptorPool, sb.context.Allocator)
		sb.descriptorPool = nil
	}
	if sb.descriptorSetLayout != nil {
		vk.DestroyDescriptorSetLayout(sb.context.Device.LogicalDevice, sb.descriptorSetLayout, sb.context.Allocator)
		sb.descriptorSetLayout = nil
	}
	sb.destroyFramebuffers()
}
