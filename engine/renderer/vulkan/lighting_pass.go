package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/nullforge/aurora/engine/math"
	"github.com/nullforge/aurora/engine/renderer/metadata"
)

// HDRFormat is LightingPass's output attachment format; PostPass samples
// it and tonemaps/gamma-corrects into the LDR attachment SwapBlit
// eventually presents (spec.md §4.7).
const HDRFormat = vk.FormatR16g16b16a16Sfloat

// sceneUBOSize packs camera position (vec4-aligned vec3), ambient color
// (vec4-aligned vec3), light count, and the view matrix into one std140
// uniform buffer: 16 (camera pos) + 16 (ambient) + 16 (count, padded) + 64
// (view mat4).
const sceneUBOSize = 16 + 16 + 16 + 64

// cascadeSSBOSize is CascadeCount * (mat4 + float, padded to 16 bytes).
const cascadeSSBOSize = metadata.CascadeCount * (64 + 16)

// lightsSSBOCapacity bounds how many Light records the lights SSBO is
// sized for; MaxPointLights point lights plus one directional light.
const lightsSSBOCapacity = metadata.MaxPointLights + 1

// SceneUBOData is the CPU-side mirror of the scene UBO (descriptor set 3):
// camera position, ambient color, active light count, and the camera's
// view matrix (used to project world positions into view space for
// cascade selection, spec.md §4.6 step 3).
type SceneUBOData struct {
	CameraPosition math.Vec3
	Ambient        math.Vec3
	LightCount     uint32
	View           math.Mat4
}

// LightingConfig carries the tunables spec.md §6.5 exposes for the
// lighting pass: PCF filtering, the shadow darkening factor's base bias,
// and the cascade-index debug tint. Plain scalar fields rather than a
// dependency on a config package, matching ShadowPass.NewShadowPass's
// size parameter — the orchestrator decides where these come from.
type LightingConfig struct {
	ShadowPCF    bool
	ShadowBias   float32
	ShadowDebug  bool
	PointFalloff float32 // RendererConfig.PointLightFalloffScale, default 0.2 (see SPEC_FULL.md §6 Open Question).
}

// LightingPass is the screen-space deferred shading pass: it consumes
// ScenePass's G-buffer and ShadowPass's cascaded depth map and produces
// an HDR image for PostPass.
type LightingPass struct {
	context    *VulkanContext
	renderpass *VulkanRenderPass
	pipeline   *VulkanPipeline
	width      uint32
	height     uint32

	hdrImage    *VulkanImage
	framebuffer *VulkanFramebuffer

	gbufferSetLayout vk.DescriptorSetLayout
	lightsSetLayout  vk.DescriptorSetLayout
	cascadeSetLayout vk.DescriptorSetLayout
	sceneSetLayout   vk.DescriptorSetLayout
	descriptorPool   vk.DescriptorPool

	gbufferSets []vk.DescriptorSet
	lightsSets  []vk.DescriptorSet
	cascadeSets []vk.DescriptorSet
	sceneSets   []vk.DescriptorSet

	lightsSSBO  []*VulkanBuffer
	cascadeSSBO []*VulkanBuffer
	sceneUBO    []*VulkanBuffer

	stages []*ShaderStage
	config LightingConfig
}

// NewLightingPass allocates the HDR attachment at window resolution.
func NewLightingPass(context *VulkanContext, width, height uint32, config LightingConfig) (*LightingPass, error) {
	lp := &LightingPass{context: context, config: config}
	if err := lp.createAttachment(width, height); err != nil {
		return nil, err
	}
	return lp, nil
}

func (lp *LightingPass) createAttachment(width, height uint32) error {
	rp, err := RenderpassCreateMulti(lp.context, []RenderpassAttachment{
		{
			Format:        HDRFormat,
			InitialLayout: vk.ImageLayoutUndefined,
			FinalLayout:   vk.ImageLayoutShaderReadOnlyOptimal,
			LoadOp:        vk.AttachmentLoadOpClear,
		},
	}, 1)
	if err != nil {
		return fmt.Errorf("lighting pass renderpass: %w", err)
	}
	lp.renderpass = rp

	img, err := ImageCreate(lp.context, vk.ImageType2d, width, height, HDRFormat,
		vk.ImageTilingOptimal,
		vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit)|vk.ImageUsageFlags(vk.ImageUsageSampledBit),
		vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit),
		true, vk.ImageAspectFlags(vk.ImageAspectColorBit))
	if err != nil {
		return fmt.Errorf("lighting pass HDR attachment: %w", err)
	}
	lp.hdrImage = img

	fb, err := FramebufferCreate(lp.context, rp, width, height, 1, []vk.ImageView{img.View})
	if err != nil {
		return fmt.Errorf("lighting pass framebuffer: %w", err)
	}
	lp.framebuffer = fb
	lp.width, lp.height = width, height
	return nil
}

func (lp *LightingPass) destroyAttachment() {
	if lp.framebuffer != nil {
		lp.framebuffer.Destroy(lp.context)
		lp.framebuffer = nil
	}
	if lp.hdrImage != nil {
		lp.hdrImage.ImageDestroy(lp.context)
		lp.hdrImage = nil
	}
	if lp.renderpass != nil {
		lp.renderpass.RenderpassDestroy(lp.context)
		lp.renderpass = nil
	}
}

// Resize rebuilds the HDR attachment at the new resolution.
func (lp *LightingPass) Resize(width, height uint32) error {
	lp.destroyAttachment()
	return lp.createAttachment(width, height)
}

// View exposes the HDR attachment for PostPass's descriptor set.
func (lp *LightingPass) View() vk.ImageView {
	return lp.hdrImage.View
}

// Build compiles the full-screen-triangle pipeline (no vertex buffers
// bound, per spec.md §4.6) and the four descriptor sets: set 0 (G-buffer
// + shadow map samplers), set 1 (lights SSBO), set 2 (cascade shadow data
// SSBO), set 3 (scene UBO).
func (lp *LightingPass) Build(scenePass *ScenePass, shadowPass *ShadowPass, sampler vk.Sampler, framesInFlight uint32) error {
	gbufferBindings := []vk.DescriptorSetLayoutBinding{
		{Binding: 0, DescriptorType: vk.DescriptorTypeCombinedImageSampler, DescriptorCount: 1, StageFlags: vk.ShaderStageFlags(vk.ShaderStageFragmentBit)}, // albedo
		{Binding: 1, DescriptorType: vk.DescriptorTypeCombinedImageSampler, DescriptorCount: 1, StageFlags: vk.ShaderStageFlags(vk.ShaderStageFragmentBit)}, // normal
		{Binding: 2, DescriptorType: vk.DescriptorTypeCombinedImageSampler, DescriptorCount: 1, StageFlags: vk.ShaderStageFlags(vk.ShaderStageFragmentBit)}, // pbr
		{Binding: 3, DescriptorType: vk.DescriptorTypeCombinedImageSampler, DescriptorCount: 1, StageFlags: vk.ShaderStageFlags(vk.ShaderStageFragmentBit)}, // world position
		{Binding: 4, DescriptorType: vk.DescriptorTypeCombinedImageSampler, DescriptorCount: 1, StageFlags: vk.ShaderStageFlags(vk.ShaderStageFragmentBit)}, // cascaded shadow map
	}
	lightsBindings := []vk.DescriptorSetLayoutBinding{
		{Binding: 0, DescriptorType: vk.DescriptorTypeStorageBuffer, DescriptorCount: 1, StageFlags: vk.ShaderStageFlags(vk.ShaderStageFragmentBit)},
	}
	cascadeBindings := []vk.DescriptorSetLayoutBinding{
		{Binding: 0, DescriptorType: vk.DescriptorTypeStorageBuffer, DescriptorCount: 1, StageFlags: vk.ShaderStageFlags(vk.ShaderStageFragmentBit)},
	}
	sceneBindings := []vk.DescriptorSetLayoutBinding{
		{Binding: 0, DescriptorType: vk.DescriptorTypeUniformBuffer, DescriptorCount: 1, StageFlags: vk.ShaderStageFlags(vk.ShaderStageFragmentBit)},
	}

	layoutTargets := []struct {
		bindings []vk.DescriptorSetLayoutBinding
		out      *vk.DescriptorSetLayout
	}{
		{gbufferBindings, &lp.gbufferSetLayout},
		{lightsBindings, &lp.lightsSetLayout},
		{cascadeBindings, &lp.cascadeSetLayout},
		{sceneBindings, &lp.sceneSetLayout},
	}
	for _, t := range layoutTargets {
		info := vk.DescriptorSetLayoutCreateInfo{
			SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
			BindingCount: uint32(len(t.bindings)),
			PBindings:    t.bindings,
		}
		if res := vk.CreateDescriptorSetLayout(lp.context.Device.LogicalDevice, &info, lp.context.Allocator, t.out); res != vk.Success {
			return fmt.Errorf("lighting pass descriptor set layout creation failed")
		}
	}

	poolSizes := []vk.DescriptorPoolSize{
		{Type: vk.DescriptorTypeCombinedImageSampler, DescriptorCount: framesInFlight * 5},
		{Type: vk.DescriptorTypeStorageBuffer, DescriptorCount: framesInFlight * 2},
		{Type: vk.DescriptorTypeUniformBuffer, DescriptorCount: framesInFlight},
	}
	poolInfo := vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		PoolSizeCount: uint32(len(poolSizes)),
		PPoolSizes:    poolSizes,
		MaxSets:       framesInFlight * 4,
	}
	if res := vk.CreateDescriptorPool(lp.context.Device.LogicalDevice, &poolInfo, lp.context.Allocator, &lp.descriptorPool); res != vk.Success {
		return fmt.Errorf("lighting pass descriptor pool creation failed")
	}

	allocSet := func(layout vk.DescriptorSetLayout) ([]vk.DescriptorSet, error) {
		layouts := make([]vk.DescriptorSetLayout, framesInFlight)
		for i := range layouts {
			layouts[i] = layout
		}
		info := vk.DescriptorSetAllocateInfo{
			SType:              vk.StructureTypeDescriptorSetAllocateInfo,
			DescriptorPool:     lp.descriptorPool,
			DescriptorSetCount: framesInFlight,
			PSetLayouts:        layouts,
		}
		sets := make([]vk.DescriptorSet, framesInFlight)
		if res := vk.AllocateDescriptorSets(lp.context.Device.LogicalDevice, &info, &sets[0]); res != vk.Success {
			return nil, fmt.Errorf("lighting pass descriptor set allocation failed")
		}
		return sets, nil
	}

	var err error
	if lp.gbufferSets, err = allocSet(lp.gbufferSetLayout); err != nil {
		return err
	}
	if lp.lightsSets, err = allocSet(lp.lightsSetLayout); err != nil {
		return err
	}
	if lp.cascadeSets, err = allocSet(lp.cascadeSetLayout); err != nil {
		return err
	}
	if lp.sceneSets, err = allocSet(lp.sceneSetLayout); err != nil {
		return err
	}

	hostVisible := uint32(vk.MemoryPropertyHostVisibleBit) | uint32(vk.MemoryPropertyHostCoherentBit)
	lp.lightsSSBO = make([]*VulkanBuffer, framesInFlight)
	lp.cascadeSSBO = make([]*VulkanBuffer, framesInFlight)
	lp.sceneUBO = make([]*VulkanBuffer, framesInFlight)

	for i := uint32(0); i < framesInFlight; i++ {
		lightsBuf, err := BufferCreate(lp.context, uint64(lightsSSBOCapacity)*32, vk.BufferUsageFlags(vk.BufferUsageStorageBufferBit), hostVisible, true)
		if err != nil {
			return fmt.Errorf("lighting pass lights SSBO: %w", err)
		}
		lp.lightsSSBO[i] = lightsBuf

		cascadeBuf, err := BufferCreate(lp.context, cascadeSSBOSize, vk.BufferUsageFlags(vk.BufferUsageStorageBufferBit), hostVisible, true)
		if err != nil {
			return fmt.Errorf("lighting pass cascade SSBO: %w", err)
		}
		lp.cascadeSSBO[i] = cascadeBuf

		sceneBuf, err := BufferCreate(lp.context, sceneUBOSize, vk.BufferUsageFlags(vk.BufferUsageUniformBufferBit), hostVisible, true)
		if err != nil {
			return fmt.Errorf("lighting pass scene UBO: %w", err)
		}
		lp.sceneUBO[i] = sceneBuf

		gbufferInfos := []vk.DescriptorImageInfo{
			{ImageLayout: vk.ImageLayoutShaderReadOnlyOptimal, ImageView: scenePass.ColorView(0), Sampler: sampler},
			{ImageLayout: vk.ImageLayoutShaderReadOnlyOptimal, ImageView: scenePass.ColorView(1), Sampler: sampler},
			{ImageLayout: vk.ImageLayoutShaderReadOnlyOptimal, ImageView: scenePass.ColorView(2), Sampler: sampler},
			{ImageLayout: vk.ImageLayoutShaderReadOnlyOptimal, ImageView: scenePass.ColorView(3), Sampler: sampler},
			{ImageLayout: vk.ImageLayoutDepthStencilReadOnlyOptimal, ImageView: shadowPass.DepthView(), Sampler: sampler},
		}
		gbufferWrites := make([]vk.WriteDescriptorSet, len(gbufferInfos))
		for b, info := range gbufferInfos {
			gbufferWrites[b] = vk.WriteDescriptorSet{
				SType: vk.StructureTypeWriteDescriptorSet, DstSet: lp.gbufferSets[i], DstBinding: uint32(b),
				DescriptorCount: 1, DescriptorType: vk.DescriptorTypeCombinedImageSampler,
				PImageInfo: []vk.DescriptorImageInfo{info},
			}
		}
		vk.UpdateDescriptorSets(lp.context.Device.LogicalDevice, uint32(len(gbufferWrites)), gbufferWrites, 0, nil)

		writeBuffer := func(set vk.DescriptorSet, buf *VulkanBuffer, size uint64, typ vk.DescriptorType) {
			bufInfo := vk.DescriptorBufferInfo{Buffer: buf.Handle, Offset: 0, Range: vk.DeviceSize(size)}
			write := vk.WriteDescriptorSet{
				SType: vk.StructureTypeWriteDescriptorSet, DstSet: set, DstBinding: 0,
				DescriptorCount: 1, DescriptorType: typ, PBufferInfo: []vk.DescriptorBufferInfo{bufInfo},
			}
			vk.UpdateDescriptorSets(lp.context.Device.LogicalDevice, 1, []vk.WriteDescriptorSet{write}, 0, nil)
		}
		writeBuffer(lp.lightsSets[i], lightsBuf, uint64(lightsSSBOCapacity)*32, vk.DescriptorTypeStorageBuffer)
		writeBuffer(lp.cascadeSets[i], cascadeBuf, cascadeSSBOSize, vk.DescriptorTypeStorageBuffer)
		writeBuffer(lp.sceneSets[i], sceneBuf, sceneUBOSize, vk.DescriptorTypeUniformBuffer)
	}

	stages, err := LoadShaderStages(lp.context, []ShaderStageSpec{
		{Name: "Lighting.vert", Stage: vk.ShaderStageVertexBit},
		{Name: "Lighting.frag", Stage: vk.ShaderStageFragmentBit},
	})
	if err != nil {
		return fmt.Errorf("lighting pass shader stages: %w", err)
	}
	lp.stages = stages

	pushRange := vk.PushConstantRange{
		StageFlags: vk.ShaderStageFlags(vk.ShaderStageFragmentBit),
		Offset:     0,
		Size:       16, // shadowBias, shadowPCF, shadowDebug, pointFalloff packed as four floats/bools
	}

	pipeline, err := NewGraphicsPipelineMulti(lp.context, GraphicsPipelineMultiConfig{
		Renderpass: lp.renderpass,
		Bindings:   nil,
		Attributes: nil,
		DescriptorSetLayouts: []vk.DescriptorSetLayout{
			lp.gbufferSetLayout, lp.lightsSetLayout, lp.cascadeSetLayout, lp.sceneSetLayout,
		},
		Stages:               shaderStageInfos(stages),
		Viewport:             vk.Viewport{Width: float32(lp.width), Height: float32(lp.height), MinDepth: 0, MaxDepth: 1},
		Scissor:              vk.Rect2D{Extent: vk.Extent2D{Width: lp.width, Height: lp.height}},
		CullMode:             metadata.FaceCullModeNone,
		DepthTestEnabled:     false,
		ColorAttachmentCount: 1,
		PushConstantRanges:   []vk.PushConstantRange{pushRange},
	})
	if err != nil {
		return fmt.Errorf("lighting pass pipeline: %w", err)
	}
	lp.pipeline = pipeline
	return nil
}

// UpdateLights uploads the active light list into frameIndex's SSBO.
func (lp *LightingPass) UpdateLights(frameIndex uint32, lights []metadata.Light) error {
	buf := make([]byte, len(lights)*32)
	for i, l := range lights {
		base := i * 32
		copy(buf[base:base+16], vec4Bytes(l.Position))
		copy(buf[base+16:base+32], vec4Bytes(l.Color))
	}
	return lp.lightsSSBO[frameIndex].LoadData(lp.context, 0, uint64(len(buf)), 0, buf)
}

// UpdateCascades mirrors ShadowPass.UpdateCascades' cascade data into
// LightingPass's own SSBO copy (set 2), since the fragment shader needs
// both the projView matrices and split distances to pick a cascade.
func (lp *LightingPass) UpdateCascades(frameIndex uint32, cascades []metadata.CascadeShadowData) error {
	buf := make([]byte, cascadeSSBOSize)
	for i, c := range cascades {
		if i >= metadata.CascadeCount {
			break
		}
		base := i * 80
		copy(buf[base:base+64], mat4Bytes(c.ProjView))
		copy(buf[base+64:base+68], float32Bytes(c.SplitDistance))
	}
	return lp.cascadeSSBO[frameIndex].LoadData(lp.context, 0, uint64(len(buf)), 0, buf)
}

// UpdateScene uploads this frame's scene UBO (camera position, ambient
// color, light count, view matrix).
func (lp *LightingPass) UpdateScene(frameIndex uint32, data SceneUBOData) error {
	buf := make([]byte, sceneUBOSize)
	copy(buf[0:12], vec3Bytes(data.CameraPosition))
	copy(buf[16:28], vec3Bytes(data.Ambient))
	copy(buf[32:36], uint32Bytes(data.LightCount))
	copy(buf[48:112], mat4Bytes(data.View))
	return lp.sceneUBO[frameIndex].LoadData(lp.context, 0, uint64(len(buf)), 0, buf)
}

// RecordCommands draws the full-screen triangle with no bound vertex
// buffers (spec.md §4.6's "triangle trick").
func (lp *LightingPass) RecordCommands(cmd *VulkanCommandBuffer, frameIndex uint32) {
	clearValues := []vk.ClearValue{{}}
	clearValues[0].SetColor([]float32{0, 0, 0, 0})

	beginInfo := vk.RenderPassBeginInfo{
		SType:           vk.StructureTypeRenderPassBeginInfo,
		RenderPass:      lp.renderpass.Handle,
		Framebuffer:     lp.framebuffer.Handle,
		RenderArea:      vk.Rect2D{Extent: vk.Extent2D{Width: lp.width, Height: lp.height}},
		ClearValueCount: 1,
		PClearValues:    clearValues,
	}
	vk.CmdBeginRenderPass(cmd.Handle, &beginInfo, vk.SubpassContentsInline)
	vk.CmdBindPipeline(cmd.Handle, vk.PipelineBindPointGraphics, lp.pipeline.Handle)

	sets := []vk.DescriptorSet{lp.gbufferSets[frameIndex], lp.lightsSets[frameIndex], lp.cascadeSets[frameIndex], lp.sceneSets[frameIndex]}
	vk.CmdBindDescriptorSets(cmd.Handle, vk.PipelineBindPointGraphics, lp.pipeline.PipelineLayout, 0, uint32(len(sets)), sets, 0, nil)

	push := make([]byte, 16)
	copy(push[0:4], float32Bytes(lp.config.ShadowBias))
	if lp.config.ShadowPCF {
		copy(push[4:8], uint32Bytes(1))
	}
	if lp.config.ShadowDebug {
		copy(push[8:12], uint32Bytes(1))
	}
	copy(push[12:16], float32Bytes(lp.config.PointFalloff))
	vk.CmdPushConstants(cmd.Handle, lp.pipeline.PipelineLayout, vk.ShaderStageFlags(vk.ShaderStageFragmentBit), 0, 16, push)

	vk.CmdDraw(cmd.Handle, 3, 1, 0, 0)
	vk.CmdEndRenderPass(cmd.Handle)
}

// Destroy releases every resource LightingPass owns.
func (lp *LightingPass) Destroy() {
	for _, s := range lp.stages {
		s.Destroy(lp.context)
	}
	lp.stages = nil
	if lp.pipeline != nil {
		lp.pipeline.Destroy(lp.context)
		lp.pipeline = nil
	}
	for _, buf := range lp.lightsSSBO {
		buf.Destroy(lp.context)
	}
	for _, buf := range lp.cascadeSSBO {
		buf.Destroy(lp.context)
	}
	for _, buf := range lp.sceneUBO {
		buf.Destroy(lp.context)
	}
	lp.lightsSSBO, lp.cascadeSSBO, lp.sceneUBO = nil, nil, nil

	if lp.descriptorPool != nil {
		vk.DestroyDescriptorPool(lp.context.Device.LogicalDevice, lp.descriptorPool, lp.context.Allocator)
		lp.descriptorPool = nil
	}
	for _, layout := range []vk.DescriptorSetLayout{lp.gbufferSetLayout, lp.lightsSetLayout, lp.cascadeSetLayout, lp.sceneSetLayout} {
		if layout != nil {
			vk.DestroyDescriptorSetLayout(lp.context.Device.LogicalDevice, layout, lp.context.Allocator)
		}
	}
	lp.gbufferSetLayout, lp.lightsSetLayout, lp.cascadeSetLayout, lp.sceneSetLayout = nil, nil, nil, nil

	lp.destroyAttachment()
}
