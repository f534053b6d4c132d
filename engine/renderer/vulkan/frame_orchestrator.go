package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/nullforge/aurora/engine/core"
	"github.com/nullforge/aurora/engine/math"
	"github.com/nullforge/aurora/engine/renderer/metadata"
)

// MaxFramesInFlight bounds how much CPU/GPU work overlaps; spec.md §5
// calls this N, default 2.
const MaxFramesInFlight = 2

// FrameOrchestrator owns the per-in-flight-frame command buffers,
// semaphores, and fences, and drives the pass sequence from spec.md
// §4.8: SkinCompute, ShadowPass, ScenePass, LightingPass, PostPass,
// SwapBlit, in that order, each separated by an explicit pipeline
// barrier since every pass is its own VkRenderPass with no shared
// subpass chain. Reuses the teacher's one shared
// `Device.GraphicsCommandPool` (backend.go/device.go) rather than
// allocating its own per-frame pools — the teacher never needed more
// than one pool and nothing about per-frame fencing requires a second.
type FrameOrchestrator struct {
	context *VulkanContext

	commandBuffers          []*VulkanCommandBuffer
	imageAvailableSemaphore []vk.Semaphore
	renderCompleteSemaphore []vk.Semaphore
	inFlightFences          []*VulkanFence

	skin          *SkinCompute
	skinSet       vk.DescriptorSet
	skinSetLayout vk.DescriptorSetLayout
	skinPool      vk.DescriptorPool

	shadow   *ShadowPass
	scene    *ScenePass
	lighting *LightingPass
	post     *PostPass
	blit     *SwapBlit

	globals *GlobalBuffers

	frame         uint32
	entitiesDirty bool
}

// NewFrameOrchestrator allocates MaxFramesInFlight command buffers
// (from the device's shared graphics pool), semaphores, and fences.
func NewFrameOrchestrator(context *VulkanContext, globals *GlobalBuffers, shadow *ShadowPass, scene *ScenePass, lighting *LightingPass, post *PostPass, blit *SwapBlit) (*FrameOrchestrator, error) {
	fo := &FrameOrchestrator{
		context: context, globals: globals,
		shadow: shadow, scene: scene, lighting: lighting, post: post, blit: blit,
		entitiesDirty: true,
	}

	fo.commandBuffers = make([]*VulkanCommandBuffer, MaxFramesInFlight)
	fo.imageAvailableSemaphore = make([]vk.Semaphore, MaxFramesInFlight)
	fo.renderCompleteSemaphore = make([]vk.Semaphore, MaxFramesInFlight)
	fo.inFlightFences = make([]*VulkanFence, MaxFramesInFlight)

	for i := 0; i < MaxFramesInFlight; i++ {
		cb, err := NewVulkanCommandBuffer(context, context.Device.GraphicsCommandPool, true)
		if err != nil {
			return nil, fmt.Errorf("frame orchestrator command buffer %d: %w", i, err)
		}
		fo.commandBuffers[i] = cb

		semInfo := vk.SemaphoreCreateInfo{SType: vk.StructureTypeSemaphoreCreateInfo}
		if res := vk.CreateSemaphore(context.Device.LogicalDevice, &semInfo, context.Allocator, &fo.imageAvailableSemaphore[i]); res != vk.Success {
			return nil, fmt.Errorf("frame orchestrator image-available semaphore %d creation failed", i)
		}
		if res := vk.CreateSemaphore(context.Device.LogicalDevice, &semInfo, context.Allocator, &fo.renderCompleteSemaphore[i]); res != vk.Success {
			return nil, fmt.Errorf("frame orchestrator render-complete semaphore %d creation failed", i)
		}

		fence, err := NewFence(context, true)
		if err != nil {
			return nil, fmt.Errorf("frame orchestrator fence %d: %w", i, err)
		}
		fo.inFlightFences[i] = fence
	}

	if err := fo.buildSkinCompute(); err != nil {
		return nil, err
	}

	return fo, nil
}

func (fo *FrameOrchestrator) buildSkinCompute() error {
	stage, err := LoadShaderModule(fo.context, "Skinning.comp", vk.ShaderStageComputeBit)
	if err != nil {
		return fmt.Errorf("skin compute shader: %w", err)
	}
	sc, err := NewSkinCompute(fo.context, stage.Handle)
	if err != nil {
		return fmt.Errorf("skin compute pipeline: %w", err)
	}
	fo.skin = sc

	bindings := []vk.DescriptorSetLayoutBinding{
		{Binding: 0, DescriptorType: vk.DescriptorTypeStorageBuffer, DescriptorCount: 1, StageFlags: vk.ShaderStageFlags(vk.ShaderStageComputeBit)},
		{Binding: 1, DescriptorType: vk.DescriptorTypeStorageBuffer, DescriptorCount: 1, StageFlags: vk.ShaderStageFlags(vk.ShaderStageComputeBit)},
		{Binding: 2, DescriptorType: vk.DescriptorTypeStorageBuffer, DescriptorCount: 1, StageFlags: vk.ShaderStageFlags(vk.ShaderStageComputeBit)},
		{Binding: 3, DescriptorType: vk.DescriptorTypeStorageBuffer, DescriptorCount: 1, StageFlags: vk.ShaderStageFlags(vk.ShaderStageComputeBit)},
	}
	layoutInfo := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(bindings)),
		PBindings:    bindings,
	}
	if res := vk.CreateDescriptorSetLayout(fo.context.Device.LogicalDevice, &layoutInfo, fo.context.Allocator, &fo.skinSetLayout); res != vk.Success {
		return fmt.Errorf("skin compute descriptor set layout creation failed")
	}

	poolSizes := []vk.DescriptorPoolSize{{Type: vk.DescriptorTypeStorageBuffer, DescriptorCount: 4}}
	poolInfo := vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		PoolSizeCount: uint32(len(poolSizes)),
		PPoolSizes:    poolSizes,
		MaxSets:       1,
	}
	if res := vk.CreateDescriptorPool(fo.context.Device.LogicalDevice, &poolInfo, fo.context.Allocator, &fo.skinPool); res != vk.Success {
		return fmt.Errorf("skin compute descriptor pool creation failed")
	}

	allocInfo := vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     fo.skinPool,
		DescriptorSetCount: 1,
		PSetLayouts:        []vk.DescriptorSetLayout{fo.skinSetLayout},
	}
	sets := make([]vk.DescriptorSet, 1)
	if res := vk.AllocateDescriptorSets(fo.context.Device.LogicalDevice, &allocInfo, &sets[0]); res != vk.Success {
		return fmt.Errorf("skin compute descriptor set allocation failed")
	}
	fo.skinSet = sets[0]

	buffers := []*VulkanBuffer{fo.globals.Vertices, fo.globals.Weights, fo.globals.JointMatrices, fo.globals.SkinnedVertices}
	writes := make([]vk.WriteDescriptorSet, len(buffers))
	for i, b := range buffers {
		info := vk.DescriptorBufferInfo{Buffer: b.Handle, Offset: 0, Range: vk.DeviceSize(vk.WholeSize)}
		writes[i] = vk.WriteDescriptorSet{
			SType: vk.StructureTypeWriteDescriptorSet, DstSet: fo.skinSet, DstBinding: uint32(i),
			DescriptorCount: 1, DescriptorType: vk.DescriptorTypeStorageBuffer, PBufferInfo: []vk.DescriptorBufferInfo{info},
		}
	}
	vk.UpdateDescriptorSets(fo.context.Device.LogicalDevice, uint32(len(writes)), writes, 0, nil)
	return nil
}

// MarkEntitiesDirty flags that the entity set changed since the last
// frame; DrawFrame will wait for the device to idle, rebuild
// GlobalBuffers' indirect/instance streams, and re-record ScenePass and
// ShadowPass's draws before resuming steady-state per-frame recording
// (spec.md §4.8 step 3).
func (fo *FrameOrchestrator) MarkEntitiesDirty() {
	fo.entitiesDirty = true
}

// FrameInputs carries everything DrawFrame needs to record and submit
// one frame.
type FrameInputs struct {
	Entities      []*metadata.Entity
	Lights        []metadata.Light
	CameraView    math.Mat4
	CameraProj    math.Mat4
	CameraPos     math.Vec3
	Ambient       math.Vec3
	ShadowCamera  CascadeCameraState
	ShadowMapSize uint32
}

// DrawFrame runs one iteration of spec.md §4.8's per-frame sequence.
// Returns (false, nil) if the swap-chain image acquire failed and the
// frame should be skipped (a resize is already in flight by the time
// this returns, per SwapchainAcquireNextImageIndex's own handling).
func (fo *FrameOrchestrator) DrawFrame(in FrameInputs) (bool, error) {
	frame := fo.frame
	fence := fo.inFlightFences[frame]
	if !fence.FenceWait(fo.context, ^uint64(0)) {
		return false, fmt.Errorf("frame orchestrator: fence wait timed out")
	}

	if fo.entitiesDirty {
		vk.DeviceWaitIdle(fo.context.Device.LogicalDevice)
		if err := fo.globals.LoadEntities(in.Entities, MaxFramesInFlight); err != nil {
			return false, fmt.Errorf("reload entities: %w", err)
		}
		fo.entitiesDirty = false
	}

	if err := fo.globals.UpdateInstanceData(in.Entities, frame); err != nil {
		return false, fmt.Errorf("update instance data: %w", err)
	}

	cascades := ComputeCascades(in.ShadowCamera, float32(in.ShadowMapSize))
	if err := fo.shadow.UpdateCascades(frame, cascades); err != nil {
		return false, fmt.Errorf("update shadow cascades: %w", err)
	}
	if err := fo.lighting.UpdateCascades(frame, cascades); err != nil {
		return false, fmt.Errorf("update lighting cascades: %w", err)
	}
	if err := fo.scene.UpdateCamera(frame, in.CameraProj, in.CameraView); err != nil {
		return false, fmt.Errorf("update scene camera: %w", err)
	}
	if err := fo.lighting.UpdateLights(frame, in.Lights); err != nil {
		return false, fmt.Errorf("update lights: %w", err)
	}
	if err := fo.lighting.UpdateScene(frame, SceneUBOData{
		CameraPosition: in.CameraPos, Ambient: in.Ambient, LightCount: uint32(len(in.Lights)), View: in.CameraView,
	}); err != nil {
		return false, fmt.Errorf("update scene ubo: %w", err)
	}

	cmd := fo.commandBuffers[frame]
	cmd.Reset()
	if err := cmd.Begin(false, false, false); err != nil {
		return false, fmt.Errorf("begin frame command buffer: %w", err)
	}

	fo.recordSkinDispatches(cmd)
	bufferBarrier(cmd, fo.globals.SkinnedVertices,
		vk.PipelineStageFlags(vk.PipelineStageComputeShaderBit), vk.AccessFlags(vk.AccessShaderWriteBit),
		vk.PipelineStageFlags(vk.PipelineStageVertexInputBit), vk.AccessFlags(vk.AccessVertexAttributeReadBit))

	fo.shadow.RecordCommands(cmd, fo.globals, frame)
	imageBarrier(cmd, fo.shadow.DepthImage(), vk.ImageAspectFlags(vk.ImageAspectDepthBit),
		vk.PipelineStageFlags(vk.PipelineStageLateFragmentTestsBit), vk.AccessFlags(vk.AccessDepthStencilAttachmentWriteBit),
		vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit), vk.AccessFlags(vk.AccessShaderReadBit),
		vk.ImageLayoutDepthStencilReadOnlyOptimal, vk.ImageLayoutDepthStencilReadOnlyOptimal)

	fo.scene.RecordCommands(cmd, fo.globals, frame)
	for i := 0; i < 4; i++ {
		imageBarrier(cmd, fo.scene.ColorImage(i), vk.ImageAspectFlags(vk.ImageAspectColorBit),
			vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit), vk.AccessFlags(vk.AccessColorAttachmentWriteBit),
			vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit), vk.AccessFlags(vk.AccessShaderReadBit),
			vk.ImageLayoutShaderReadOnlyOptimal, vk.ImageLayoutShaderReadOnlyOptimal)
	}

	fo.lighting.RecordCommands(cmd, frame)
	imageBarrier(cmd, fo.lighting.hdrImage.Handle, vk.ImageAspectFlags(vk.ImageAspectColorBit),
		vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit), vk.AccessFlags(vk.AccessColorAttachmentWriteBit),
		vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit), vk.AccessFlags(vk.AccessShaderReadBit),
		vk.ImageLayoutShaderReadOnlyOptimal, vk.ImageLayoutShaderReadOnlyOptimal)

	fo.post.RecordCommands(cmd, frame)
	imageBarrier(cmd, fo.post.ldrImage.Handle, vk.ImageAspectFlags(vk.ImageAspectColorBit),
		vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit), vk.AccessFlags(vk.AccessColorAttachmentWriteBit),
		vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit), vk.AccessFlags(vk.AccessShaderReadBit),
		vk.ImageLayoutShaderReadOnlyOptimal, vk.ImageLayoutShaderReadOnlyOptimal)

	imageIndex, ok := fo.context.Swapchain.SwapchainAcquireNextImageIndex(fo.context, ^uint64(0), fo.imageAvailableSemaphore[frame], nil)
	if !ok {
		cmd.Reset()
		return false, nil
	}

	fo.blit.RecordCommands(cmd, imageIndex, frame)

	if err := cmd.End(); err != nil {
		return false, fmt.Errorf("end frame command buffer: %w", err)
	}

	if err := fence.FenceReset(fo.context); err != nil {
		return false, fmt.Errorf("reset in-flight fence: %w", err)
	}

	waitStage := vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit)
	submitInfo := vk.SubmitInfo{
		SType:                vk.StructureTypeSubmitInfo,
		CommandBufferCount:   1,
		PCommandBuffers:      []vk.CommandBuffer{cmd.Handle},
		WaitSemaphoreCount:   1,
		PWaitSemaphores:      []vk.Semaphore{fo.imageAvailableSemaphore[frame]},
		PWaitDstStageMask:    []vk.PipelineStageFlags{waitStage},
		SignalSemaphoreCount: 1,
		PSignalSemaphores:    []vk.Semaphore{fo.renderCompleteSemaphore[frame]},
	}
	if res := vk.QueueSubmit(fo.context.Device.GraphicsQueue, 1, []vk.SubmitInfo{submitInfo}, fence.Handle); res != vk.Success {
		return false, fmt.Errorf("frame orchestrator: queue submit failed")
	}
	cmd.UpdateSubmitted()

	fo.context.Swapchain.SwapchainPresent(fo.context, fo.context.Device.GraphicsQueue, fo.context.Device.PresentQueue, fo.renderCompleteSemaphore[frame], imageIndex)

	fo.frame = (frame + 1) % MaxFramesInFlight
	return true, nil
}

func (fo *FrameOrchestrator) recordSkinDispatches(cmd *VulkanCommandBuffer) {
	for _, job := range fo.globals.SkinJobs {
		fo.skin.Dispatch(cmd, fo.skinSet, job.Push, job.Count)
	}
}

// Resize tears down and rebuilds every resize-dependent pass attachment
// (G-buffer, HDR, LDR, per-swap-chain-image framebuffers), matching
// spec.md §4.8's Resize note that the cascaded shadow attachment is
// resolution-independent and left untouched.
func (fo *FrameOrchestrator) Resize(width, height uint32) error {
	vk.DeviceWaitIdle(fo.context.Device.LogicalDevice)
	if err := fo.scene.Resize(width, height); err != nil {
		return fmt.Errorf("resize scene pass: %w", err)
	}
	if err := fo.lighting.Resize(width, height); err != nil {
		return fmt.Errorf("resize lighting pass: %w", err)
	}
	if err := fo.post.Resize(width, height); err != nil {
		return fmt.Errorf("resize post pass: %w", err)
	}
	if err := fo.blit.Resize(fo.context.Swapchain); err != nil {
		return fmt.Errorf("resize swap blit: %w", err)
	}
	core.LogDebug("frame orchestrator: resize-dependent attachments rebuilt")
	return nil
}

// Destroy releases every per-frame synchronization object and the skin
// compute descriptor resources FrameOrchestrator owns directly; the
// render passes themselves are destroyed by their own owners.
func (fo *FrameOrchestrator) Destroy() {
	for i := 0; i < MaxFramesInFlight; i++ {
		if fo.imageAvailableSemaphore[i] != nil {
			vk.DestroySemaphore(fo.context.Device.LogicalDevice, fo.imageAvailableSemaphore[i], fo.context.Allocator)
		}
		if fo.renderCompleteSemaphore[i] != nil {
			vk.DestroySemaphore(fo.context.Device.LogicalDevice, fo.renderCompleteSemaphore[i], fo.context.Allocator)
		}
		if fo.inFlightFences[i] != nil {
			fo.inFlightFences[i].FenceDestroy(fo.context)
		}
		if fo.commandBuffers[i] != nil {
			fo.commandBuffers[i].Free(fo.context, fo.context.Device.GraphicsCommandPool)
		}
	}
	if fo.skin != nil {
		fo.skin.Destroy()
	}
	if fo.skinPool != nil {
		vk.DestroyDescriptorPool(fo.context.Device.LogicalDevice, fo.skinPool, fo.context.Allocator)
	}
	if fo.skinSetLayout != nil {
		vk.DestroyDescriptorSetLayout(fo.context.Device.LogicalDevice, fo.skinSetLayout, fo.context.Allocator)
	}
}
