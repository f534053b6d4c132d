package vulkan

import vk "github.com/goki/vulkan"

// bufferBarrier inserts a full-buffer execution/memory dependency, used
// by FrameOrchestrator between SkinCompute's write to skinned_vertices
// and ScenePass/ShadowPass's vertex-input read of it (spec.md §4.8).
func bufferBarrier(cmd *VulkanCommandBuffer, buf *VulkanBuffer, srcStage vk.PipelineStageFlags, srcAccess vk.AccessFlags, dstStage vk.PipelineStageFlags, dstAccess vk.AccessFlags) {
	barrier := vk.BufferMemoryBarrier{
		SType:               vk.StructureTypeBufferMemoryBarrier,
		SrcAccessMask:       srcAccess,
		DstAccessMask:       dstAccess,
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Buffer:              buf.Handle,
		Offset:              0,
		Size:                vk.DeviceSize(vk.WholeSize),
	}
	vk.CmdPipelineBarrier(cmd.Handle, srcStage, dstStage, 0, 0, nil, 1, []vk.BufferMemoryBarrier{barrier}, 0, nil)
}

// imageBarrier inserts a layout-transitioning image memory barrier over
// mip level 0 and every array layer of the image, used between render passes whose
// attachment a later pass samples.
func imageBarrier(cmd *VulkanCommandBuffer, image vk.Image, aspect vk.ImageAspectFlags,
	srcStage vk.PipelineStageFlags, srcAccess vk.AccessFlags,
	dstStage vk.PipelineStageFlags, dstAccess vk.AccessFlags,
	oldLayout, newLayout vk.ImageLayout) {
	barrier := vk.ImageMemoryBarrier{
		SType:               vk.StructureTypeImageMemoryBarrier,
		SrcAccessMask:       srcAccess,
		DstAccessMask:       dstAccess,
		OldLayout:           oldLayout,
		NewLayout:           newLayout,
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Image:               image,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask:     aspect,
			BaseMipLevel:   0,
			LevelCount:     1,
			BaseArrayLayer: 0,
			LayerCount:     vk.RemainingArrayLayers,
		},
	}
	vk.CmdPipelineBarrier(cmd.Handle, srcStage, dstStage, 0, 0, nil, 0, nil, 1, []vk.ImageMemoryBarrier{barrier})
}
