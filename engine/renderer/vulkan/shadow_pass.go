package vulkan

import (
	"fmt"
	stdmath "math"

	vk "github.com/goki/vulkan"
	"github.com/nullforge/aurora/engine/math"
	"github.com/nullforge/aurora/engine/renderer/metadata"
)

// ShadowMapFormat is the layered depth image's format, fixed per
// spec.md §6.4.
const ShadowMapFormat = vk.FormatD32Sfloat

// computeSplitFractions implements spec.md §4.4's logarithmic/uniform
// blend: split_fraction[i] = (d_i - near) / (far - near) where d_i mixes
// a logarithmic and a linear split at 95% weight toward the log split.
// Exported as a standalone pure function so cascade-split monotonicity
// (spec.md §8.1) is testable without a live device.
func computeSplitFractions(near, far float32, count int) []float32 {
	fractions := make([]float32, count)
	ratio := far / near
	for i := 0; i < count; i++ {
		p := float32(i+1) / float32(count)
		logD := near * float32(stdmath.Pow(float64(ratio), float64(p)))
		linD := near + (far-near)*p
		d := 0.95*(logD-linD) + linD
		fractions[i] = (d - near) / (far - near)
	}
	return fractions
}

// CascadeCameraState is the per-frame camera input ComputeCascades needs:
// the scene's projection and view matrices (to derive the frustum), the
// near/far planes used to build them, and the directional light's
// direction (Light.Position.xyz when Light.IsDirectional()).
type CascadeCameraState struct {
	Projection math.Mat4
	View       math.Mat4
	Near       float32
	Far        float32
	LightDir   math.Vec3
}

// ComputeCascades runs the full per-frame cascade computation from
// spec.md §4.4: split selection, frustum-corner transform into world
// space, bounding-sphere fit, light-space projection-view construction,
// and the texel-snapping stabilization step that prevents shimmering
// when the camera moves.
func ComputeCascades(cam CascadeCameraState, shadowMapSize float32) []metadata.CascadeShadowData {
	fractions := computeSplitFractions(cam.Near, cam.Far, metadata.CascadeCount)
	invViewProj := cam.View.Mul(cam.Projection).Inverse()

	up := math.Vec3{X: 0, Y: 1, Z: 0}
	if absf(cam.LightDir.Y) > 0.99 {
		up = math.Vec3{X: 0, Y: 0, Z: 1}
	}

	out := make([]metadata.CascadeShadowData, metadata.CascadeCount)
	lastSplit := float32(0)
	for i := 0; i < metadata.CascadeCount; i++ {
		corners := frustumCorners(invViewProj, lastSplit, fractions[i])
		center := cornersCenter(corners)
		radius := cornersRadius(corners, center)
		radius = float32(stdmath.Ceil(float64(radius)*16) / 16)

		eye := math.Vec3{
			X: center.X - cam.LightDir.X*radius,
			Y: center.Y - cam.LightDir.Y*radius,
			Z: center.Z - cam.LightDir.Z*radius,
		}
		lightView := math.NewMat4LookAt(eye, center, up)
		lightOrtho := math.NewMat4Orthographic(-radius, radius, -radius, radius, 0, 2*radius)

		lightOrtho = stabilize(lightView, lightOrtho, shadowMapSize)

		out[i] = metadata.CascadeShadowData{
			ProjView:      lightView.Mul(lightOrtho),
			SplitDistance: -(cam.Near + fractions[i]*(cam.Far-cam.Near)),
		}
		lastSplit = fractions[i]
	}
	return out
}

// stabilize implements spec.md §4.4 step 7: snap the world origin's
// light-space XY to the nearest shadow texel and fold the fractional
// remainder into the orthographic matrix's translation so that temporal
// camera movement doesn't sub-pixel-jitter the shadow map.
func stabilize(lightView, lightOrtho math.Mat4, shadowMapSize float32) math.Mat4 {
	origin := transformAffine(lightView, math.Vec3{}, 1)
	texelsPerUnit := shadowMapSize / 2

	texCoordX := origin.X * texelsPerUnit
	texCoordY := origin.Y * texelsPerUnit
	roundedX := float32(stdmath.Round(float64(texCoordX)))
	roundedY := float32(stdmath.Round(float64(texCoordY)))

	offsetX := (roundedX - texCoordX) * (2 / shadowMapSize)
	offsetY := (roundedY - texCoordY) * (2 / shadowMapSize)

	lightOrtho.Data[12] += offsetX
	lightOrtho.Data[13] += offsetY
	return lightOrtho
}

var ndcCorners = [8][3]float32{
	{-1, -1, 0}, {1, -1, 0}, {-1, 1, 0}, {1, 1, 0},
	{-1, -1, 1}, {1, -1, 1}, {-1, 1, 1}, {1, 1, 1},
}

// frustumCorners transforms the 8 NDC corners of the sub-frustum
// [splitFractionLo, splitFractionHi] by invViewProj into world space.
// The near/far corner pairs are interpolated toward the sub-range before
// transforming so each cascade only covers its own depth slice.
func frustumCorners(invViewProj math.Mat4, lo, hi float32) [8]math.Vec3 {
	var world [8]math.Vec3
	for i, c := range ndcCorners {
		v := transformAffine(invViewProj, math.Vec3{X: c[0], Y: c[1], Z: c[2]}, 1)
		if v.W != 0 {
			world[i] = math.Vec3{X: v.X / v.W, Y: v.Y / v.W, Z: v.Z / v.W}
		} else {
			world[i] = math.Vec3{X: v.X, Y: v.Y, Z: v.Z}
		}
	}
	var out [8]math.Vec3
	for i := 0; i < 4; i++ {
		near := world[i]
		far := world[i+4]
		out[i] = lerpVec3(near, far, lo)
		out[i+4] = lerpVec3(near, far, hi)
	}
	return out
}

func lerpVec3(a, b math.Vec3, t float32) math.Vec3 {
	return math.Vec3{
		X: a.X + (b.X-a.X)*t,
		Y: a.Y + (b.Y-a.Y)*t,
		Z: a.Z + (b.Z-a.Z)*t,
	}
}

func cornersCenter(corners [8]math.Vec3) math.Vec3 {
	var sum math.Vec3
	for _, c := range corners {
		sum.X += c.X
		sum.Y += c.Y
		sum.Z += c.Z
	}
	return math.Vec3{X: sum.X / 8, Y: sum.Y / 8, Z: sum.Z / 8}
}

func cornersRadius(corners [8]math.Vec3, center math.Vec3) float32 {
	var max float32
	for _, c := range corners {
		dx, dy, dz := c.X-center.X, c.Y-center.Y, c.Z-center.Z
		d := float32(stdmath.Sqrt(float64(dx*dx + dy*dy + dz*dz)))
		if d > max {
			max = d
		}
	}
	return max
}

func absf(f float32) float32 {
	if f < 0 {
		return -f
	}
	return f
}

/**
 * @brief ShadowPass renders scene depth from the directional light's
 * viewpoint into a single layered D32_SFLOAT image, one layer per
 * cascade, replicated across layers by a geometry shader
 * (`Shadow.geom.glsl`, `invocations = CascadeCount`) rather than by
 * per-layer re-recording. Grounded on renderpass.go's RenderpassCreateMulti
 * (depth-only, no color attachments) and pipeline.go's graphics pipeline
 * shape, extended with a geometry stage.
 */
type ShadowPass struct {
	context    *VulkanContext
	renderpass *VulkanRenderPass
	pipeline   *VulkanPipeline
	depth      *VulkanImage
	framebuf   vk.Framebuffer
	size       uint32

	descriptorSetLayout vk.DescriptorSetLayout
	descriptorPool      vk.DescriptorPool
	descriptorSets      []vk.DescriptorSet

	cascadeUBO []*VulkanBuffer // one per in-flight frame, CascadeCount mat4s each
	stages     []*ShaderStage
}

// NewShadowPass creates the layered depth attachment and its depth-only
// render pass. size is RendererConfig.ShadowMapSize (default 2048);
// resolution-independent, so it is never recreated on window resize
// (spec.md §4.8's Resize note).
func NewShadowPass(context *VulkanContext, size uint32) (*ShadowPass, error) {
	rp, err := RenderpassCreateMulti(context, []RenderpassAttachment{
		{
			Format:        ShadowMapFormat,
			InitialLayout: vk.ImageLayoutUndefined,
			FinalLayout:   vk.ImageLayoutDepthStencilReadOnlyOptimal,
			IsDepth:       true,
			LoadOp:        vk.AttachmentLoadOpClear,
		},
	}, uint32(metadata.CascadeCount))
	if err != nil {
		return nil, fmt.Errorf("shadow pass renderpass: %w", err)
	}

	// One array layer per cascade split (metadata.CascadeCount); the depth
	// image is bound as a single 2D-array attachment and the geometry
	// shader's gl_Layer picks the slice, so the framebuffer created below
	// spans the same CascadeCount layers.
	depth, err := ImageCreateLayered(context, size, size, uint32(metadata.CascadeCount), ShadowMapFormat,
		vk.ImageTilingOptimal,
		vk.ImageUsageFlags(vk.ImageUsageDepthStencilAttachmentBit)|vk.ImageUsageFlags(vk.ImageUsageSampledBit),
		vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit),
		vk.ImageAspectFlags(vk.ImageAspectDepthBit))
	if err != nil {
		return nil, fmt.Errorf("shadow pass depth image: %w", err)
	}

	framebufferInfo := vk.FramebufferCreateInfo{
		SType:           vk.StructureTypeFramebufferCreateInfo,
		RenderPass:      rp.Handle,
		AttachmentCount: 1,
		PAttachments:    []vk.ImageView{depth.View},
		Width:           size,
		Height:          size,
		Layers:          uint32(metadata.CascadeCount), // the geometry shader picks gl_Layer within these layers; not multiview.
	}
	var framebuf vk.Framebuffer
	if res := vk.CreateFramebuffer(context.Device.LogicalDevice, &framebufferInfo, context.Allocator, &framebuf); res != vk.Success {
		return nil, fmt.Errorf("shadow pass framebuffer creation failed")
	}

	return &ShadowPass{context: context, renderpass: rp, depth: depth, framebuf: framebuf, size: size}, nil
}

// cascadeUBOSize is sizeof(mat4) * CascadeCount, the byte size of the
// per-frame uniform buffer Shadow.geom.glsl's `cascades[]` array binds.
const cascadeUBOSize = 64 * 3

// Build compiles the shadow pipeline: one vertex-input binding for the
// global vertex buffer (position+uv only, matching Shadow.vert.glsl's
// attribute list) and one for the per-instance model matrix, a
// descriptor set layout carrying the cascade UBO, the materials SSBO,
// and the bindless texture array (for alpha-test discard in
// Shadow.frag.glsl), and the vertex+geometry+fragment pipeline itself.
// framesInFlight sizes the per-frame cascade UBOs and descriptor sets.
func (sp *ShadowPass) Build(materials *VulkanBuffer, textureCache *TextureCache, framesInFlight uint32) error {
	bindings := []vk.DescriptorSetLayoutBinding{
		{
			Binding:         0,
			DescriptorType:  vk.DescriptorTypeUniformBuffer,
			DescriptorCount: 1,
			StageFlags:      vk.ShaderStageFlags(vk.ShaderStageGeometryBit),
		},
		{
			Binding:         1,
			DescriptorType:  vk.DescriptorTypeStorageBuffer,
			DescriptorCount: 1,
			StageFlags:      vk.ShaderStageFlags(vk.ShaderStageFragmentBit),
		},
		{
			Binding:         2,
			DescriptorType:  vk.DescriptorTypeCombinedImageSampler,
			DescriptorCount: MaxTextures,
			StageFlags:      vk.ShaderStageFlags(vk.ShaderStageFragmentBit),
		},
	}
	layoutInfo := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(bindings)),
		PBindings:    bindings,
	}
	if res := vk.CreateDescriptorSetLayout(sp.context.Device.LogicalDevice, &layoutInfo, sp.context.Allocator, &sp.descriptorSetLayout); res != vk.Success {
		return fmt.Errorf("shadow pass descriptor set layout creation failed")
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
		return fmt.Errorf("shadow pass descriptor pool creation failed")
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
		return fmt.Errorf("shadow pass descriptor set allocation failed")
	}

	views, err := textureCache.AsList(MaxTextures)
	if err != nil {
		return fmt.Errorf("shadow pass texture list: %w", err)
	}
	imageInfos := make([]vk.DescriptorImageInfo, len(views))
	for i, v := range views {
		imageInfos[i] = vk.DescriptorImageInfo{
			ImageLayout: vk.ImageLayoutShaderReadOnlyOptimal,
			ImageView:   v,
			Sampler:     textureCache.Sampler(),
		}
	}

	sp.cascadeUBO = make([]*VulkanBuffer, framesInFlight)
	hostVisible := uint32(vk.MemoryPropertyHostVisibleBit) | uint32(vk.MemoryPropertyHostCoherentBit)
	for i := uint32(0); i < framesInFlight; i++ {
		ubo, err := BufferCreate(sp.context, cascadeUBOSize, vk.BufferUsageFlags(vk.BufferUsageUniformBufferBit), hostVisible, true)
		if err != nil {
			return fmt.Errorf("shadow pass cascade UBO: %w", err)
		}
		sp.cascadeUBO[i] = ubo

		bufferInfo := vk.DescriptorBufferInfo{Buffer: ubo.Handle, Offset: 0, Range: vk.DeviceSize(cascadeUBOSize)}
		materialInfo := vk.DescriptorBufferInfo{Buffer: materials.Handle, Offset: 0, Range: vk.DeviceSize(vk.WholeSize)}
		writes := []vk.WriteDescriptorSet{
			{
				SType:           vk.StructureTypeWriteDescriptorSet,
				DstSet:          sp.descriptorSets[i],
				DstBinding:      0,
				DescriptorCount: 1,
				DescriptorType:  vk.DescriptorTypeUniformBuffer,
				PBufferInfo:     []vk.DescriptorBufferInfo{bufferInfo},
			},
			{
				SType:           vk.StructureTypeWriteDescriptorSet,
				DstSet:          sp.descriptorSets[i],
				DstBinding:      1,
				DescriptorCount: 1,
				DescriptorType:  vk.DescriptorTypeStorageBuffer,
				PBufferInfo:     []vk.DescriptorBufferInfo{materialInfo},
			},
			{
				SType:           vk.StructureTypeWriteDescriptorSet,
				DstSet:          sp.descriptorSets[i],
				DstBinding:      2,
				DescriptorCount: uint32(len(imageInfos)),
				DescriptorType:  vk.DescriptorTypeCombinedImageSampler,
				PImageInfo:      imageInfos,
			},
		}
		vk.UpdateDescriptorSets(sp.context.Device.LogicalDevice, uint32(len(writes)), writes, 0, nil)
	}

	stages, err := LoadShaderStages(sp.context, []ShaderStageSpec{
		{Name: "Shadow.vert", Stage: vk.ShaderStageVertexBit},
		{Name: "Shadow.geom", Stage: vk.ShaderStageGeometryBit},
		{Name: "Shadow.frag", Stage: vk.ShaderStageFragmentBit},
	})
	if err != nil {
		return fmt.Errorf("shadow pass shader stages: %w", err)
	}
	sp.stages = stages

	bindingDescs := []vk.VertexInputBindingDescription{
		{Binding: 0, Stride: metadata.VertexStride, InputRate: vk.VertexInputRateVertex},
		{Binding: 1, Stride: InstanceStaticStride, InputRate: vk.VertexInputRateInstance},
	}
	attrs := []vk.VertexInputAttributeDescription{
		{Location: 0, Binding: 0, Format: vk.FormatR32g32b32Sfloat, Offset: 0},  // position
		{Location: 1, Binding: 0, Format: vk.FormatR32g32Sfloat, Offset: 48},    // uv
		{Location: 2, Binding: 1, Format: vk.FormatR32g32b32a32Sfloat, Offset: 0},
		{Location: 3, Binding: 1, Format: vk.FormatR32g32b32a32Sfloat, Offset: 16},
		{Location: 4, Binding: 1, Format: vk.FormatR32g32b32a32Sfloat, Offset: 32},
		{Location: 5, Binding: 1, Format: vk.FormatR32g32b32a32Sfloat, Offset: 48},
		{Location: 6, Binding: 1, Format: vk.FormatR32uint, Offset: 64}, // material index
	}

	pipeline, err := NewGraphicsPipelineMulti(sp.context, GraphicsPipelineMultiConfig{
		Renderpass:           sp.renderpass,
		Bindings:              bindingDescs,
		Attributes:            attrs,
		DescriptorSetLayouts:  []vk.DescriptorSetLayout{sp.descriptorSetLayout},
		Stages:                shaderStageInfos(stages),
		Viewport:              vk.Viewport{Width: float32(sp.size), Height: float32(sp.size), MinDepth: 0, MaxDepth: 1},
		Scissor:               vk.Rect2D{Extent: vk.Extent2D{Width: sp.size, Height: sp.size}},
		CullMode:              metadata.FaceCullModeFront, // reduces peter-panning, matches spec.md §4.4's bias discussion.
		DepthTestEnabled:      true,
		ColorAttachmentCount:  0,
	})
	if err != nil {
		return fmt.Errorf("shadow pass pipeline: %w", err)
	}
	sp.pipeline = pipeline
	return nil
}

// UpdateCascades uploads this frame's cascade projection-view matrices
// into frameIndex's UBO. Called once per frame before RecordCommands.
func (sp *ShadowPass) UpdateCascades(frameIndex uint32, cascades []metadata.CascadeShadowData) error {
	buf := make([]byte, cascadeUBOSize)
	for i := 0; i < metadata.CascadeCount && i < len(cascades); i++ {
		copy(buf[i*64:(i+1)*64], mat4Bytes(cascades[i].ProjView))
	}
	return sp.cascadeUBO[frameIndex].LoadData(sp.context, 0, uint64(len(buf)), 0, buf)
}

// RecordCommands replays every static and animated indirect-draw command
// from gb into the layered depth image, binding the global vertex/index
// buffers once and the per-stream instance buffer per draw, per spec.md
// §4.4's "ShadowPass reuses the same draw streams as ScenePass" note.
func (sp *ShadowPass) RecordCommands(cmd *VulkanCommandBuffer, gb *GlobalBuffers, frameIndex uint32) {
	clearValues := []vk.ClearValue{{}}
	clearValues[0].SetDepthStencil(1.0, 0)

	beginInfo := vk.RenderPassBeginInfo{
		SType:           vk.StructureTypeRenderPassBeginInfo,
		RenderPass:      sp.renderpass.Handle,
		Framebuffer:     sp.framebuf,
		RenderArea:      vk.Rect2D{Extent: vk.Extent2D{Width: sp.size, Height: sp.size}},
		ClearValueCount: 1,
		PClearValues:    clearValues,
	}
	vk.CmdBeginRenderPass(cmd.Handle, &beginInfo, vk.SubpassContentsInline)

	vk.CmdBindPipeline(cmd.Handle, vk.PipelineBindPointGraphics, sp.pipeline.Handle)
	vk.CmdBindDescriptorSets(cmd.Handle, vk.PipelineBindPointGraphics, sp.pipeline.PipelineLayout, 0, 1,
		[]vk.DescriptorSet{sp.descriptorSets[frameIndex]}, 0, nil)
	vk.CmdBindIndexBuffer(cmd.Handle, gb.Indices.Handle, 0, vk.IndexTypeUint32)

	drawStream := func(instanceBuf *VulkanBuffer, indirectBuf *VulkanBuffer, count uint32) {
		if indirectBuf == nil || count == 0 {
			return
		}
		vk.CmdBindVertexBuffers(cmd.Handle, 0, 2, []vk.Buffer{gb.Vertices.Handle, instanceBuf.Handle}, []vk.DeviceSize{0, 0})
		vk.CmdDrawIndexedIndirect(cmd.Handle, indirectBuf.Handle, 0, count, 20)
	}
	drawStream(gb.InstanceStatic[frameIndex], gb.IndirectStatic, gb.StaticCommandCount)

	if gb.SkinnedVertices != nil {
		vk.CmdBindVertexBuffers(cmd.Handle, 0, 2, []vk.Buffer{gb.SkinnedVertices.Handle, gb.InstanceAnim[frameIndex].Handle}, []vk.DeviceSize{0, 0})
		vk.CmdDrawIndexedIndirect(cmd.Handle, gb.IndirectAnim.Handle, 0, gb.AnimCommandCount, 20)
	}

	vk.CmdEndRenderPass(cmd.Handle)
}

// DepthView exposes the layered depth image's view for LightingPass's
// descriptor set.
func (sp *ShadowPass) DepthView() vk.ImageView {
	return sp.depth.View
}

// DepthImage exposes the underlying vk.Image handle for the pipeline
// barrier FrameOrchestrator inserts between ShadowPass and LightingPass.
func (sp *ShadowPass) DepthImage() vk.Image {
	return sp.depth.Handle
}

// Destroy releases every resource ShadowPass owns, in reverse
// construction order.
func (sp *ShadowPass) Destroy() {
	for _, s := range sp.stages {
		s.Destroy(sp.context)
	}
	sp.stages = nil
	if sp.pipeline != nil {
		sp.pipeline.Destroy(sp.context)
		sp.pipeline = nil
	}
	for _, ubo := range sp.cascadeUBO {
		if ubo != nil {
			ubo.Destroy(sp.context)
		}
	}
	sp.cascadeUBO = nil
	if sp.descriptorPool != nil {
		vk.DestroyDescriptorPool(sp.context.Device.LogicalDevice, sp.descriptorPool, sp.context.Allocator)
		sp.descriptorPool = nil
	}
	if sp.descriptorSetLayout != nil {
		vk.DestroyDescriptorSetLayout(sp.context.Device.LogicalDevice, sp.descriptorSetLayout, sp.context.Allocator)
		sp.descriptorSetLayout = nil
	}
	if sp.framebuf != nil {
		vk.DestroyFramebuffer(sp.context.Device.LogicalDevice, sp.framebuf, sp.context.Allocator)
		sp.framebuf = nil
	}
	if sp.depth != nil {
		sp.depth.ImageDestroy(sp.context)
		sp.depth = nil
	}
	if sp.renderpass != nil {
		sp.renderpass.RenderpassDestroy(sp.context)
		sp.renderpass = nil
	}
}
