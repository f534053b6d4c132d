package vulkan

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/nullforge/aurora/engine/core"
)

// BufferCreate allocates a vk.Buffer of the given size/usage, finds a
// memory type matching propertyFlags, allocates and binds device memory.
// Fills in the VulkanBuffer struct already declared in context.go —
// the teacher never implemented its lifecycle, only the struct shape.
func BufferCreate(context *VulkanContext, size uint64, usage vk.BufferUsageFlags, memoryPropertyFlags uint32, bindOnCreate bool) (*VulkanBuffer, error) {
	outBuffer := &VulkanBuffer{
		Usage:               usage,
		MemoryPropertyFlags: memoryPropertyFlags,
	}

	bufferCreateInfo := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(size),
		Usage:       usage,
		SharingMode: vk.SharingModeExclusive,
	}

	if res := vk.CreateBuffer(context.Device.LogicalDevice, &bufferCreateInfo, context.Allocator, &outBuffer.Handle); res != vk.Success {
		err := fmt.Errorf("failed to create buffer")
		core.LogError(err.Error())
		return nil, err
	}

	var requirements vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(context.Device.LogicalDevice, outBuffer.Handle, &requirements)
	requirements.Deref()
	outBuffer.MemoryRequirements = requirements

	memoryType := context.FindMemoryIndex(requirements.MemoryTypeBits, memoryPropertyFlags)
	if memoryType == -1 {
		err := fmt.Errorf("required memory type not found for buffer, buffer not valid")
		core.LogError(err.Error())
		return nil, err
	}
	outBuffer.MemoryIndex = memoryType

	allocateInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  requirements.Size,
		MemoryTypeIndex: uint32(outBuffer.MemoryIndex),
	}
	if res := vk.AllocateMemory(context.Device.LogicalDevice, &allocateInfo, context.Allocator, &outBuffer.Memory); res != vk.Success {
		err := fmt.Errorf("failed to allocate memory for buffer")
		core.LogError(err.Error())
		return nil, err
	}

	if bindOnCreate {
		if err := outBuffer.Bind(context, 0); err != nil {
			return nil, err
		}
	}

	return outBuffer, nil
}

// Bind binds the buffer's backing memory at the given offset.
func (b *VulkanBuffer) Bind(context *VulkanContext, offset uint64) error {
	if res := vk.BindBufferMemory(context.Device.LogicalDevice, b.Handle, b.Memory, vk.DeviceSize(offset)); res != vk.Success {
		err := fmt.Errorf("failed to bind buffer memory")
		core.LogError(err.Error())
		return err
	}
	return nil
}

// Destroy frees the buffer's memory and handle. Safe to call on a
// zero-value/partially-created buffer.
func (b *VulkanBuffer) Destroy(context *VulkanContext) {
	if b.Memory != nil {
		vk.FreeMemory(context.Device.LogicalDevice, b.Memory, context.Allocator)
		b.Memory = nil
	}
	if b.Handle != nil {
		vk.DestroyBuffer(context.Device.LogicalDevice, b.Handle, context.Allocator)
		b.Handle = nil
	}
}

// LockMemory maps a range of the buffer's memory for CPU writes. Used for
// host-visible buffers: staging buffers during load, and the per-frame
// instance/UBO buffers that stay mapped for their lifetime.
func (b *VulkanBuffer) LockMemory(context *VulkanContext, offset, size uint64, flags vk.MemoryMapFlags) (unsafe.Pointer, error) {
	var data unsafe.Pointer
	if res := vk.MapMemory(context.Device.LogicalDevice, b.Memory, vk.DeviceSize(offset), vk.DeviceSize(size), vk.MemoryMapFlags(flags), &data); res != vk.Success {
		err := fmt.Errorf("failed to map buffer memory")
		core.LogError(err.Error())
		return nil, err
	}
	b.IsLocked = true
	return data, nil
}

// UnlockMemory unmaps previously-mapped memory.
func (b *VulkanBuffer) UnlockMemory(context *VulkanContext) {
	vk.UnmapMemory(context.Device.LogicalDevice, b.Memory)
	b.IsLocked = false
}

// LoadData is a convenience wrapper around LockMemory/UnlockMemory for a
// one-shot upload of raw bytes, used by staging buffers at load time and
// by per-frame instance buffer rewrites.
func (b *VulkanBuffer) LoadData(context *VulkanContext, offset, size uint64, flags vk.MemoryMapFlags, data []byte) error {
	dst, err := b.LockMemory(context, offset, size, flags)
	if err != nil {
		return err
	}
	defer b.UnlockMemory(context)

	dstSlice := unsafe.Slice((*byte)(dst), size)
	copy(dstSlice, data)
	return nil
}

// CopyTo records (and submits, via a single-use command buffer) a copy
// from this buffer into dst — the staging-to-device-local upload path
// GlobalBuffers uses for every static buffer at load time.
func (b *VulkanBuffer) CopyTo(context *VulkanContext, pool vk.CommandPool, fence vk.Fence, queue vk.Queue, sourceOffset uint64, dst *VulkanBuffer, destOffset uint64, size uint64) error {
	if res := vk.QueueWaitIdle(queue); res != vk.Success {
		err := fmt.Errorf("queue failed to wait idle before buffer copy")
		core.LogError(err.Error())
		return err
	}

	commandBuffer, err := AllocateAndBeginSingleUse(context, pool)
	if err != nil {
		return err
	}

	copyRegion := vk.BufferCopy{
		SrcOffset: vk.DeviceSize(sourceOffset),
		DstOffset: vk.DeviceSize(destOffset),
		Size:      vk.DeviceSize(size),
	}
	vk.CmdCopyBuffer(commandBuffer.Handle, b.Handle, dst.Handle, 1, []vk.BufferCopy{copyRegion})

	return commandBuffer.EndSingleUse(context, pool, queue)
}

// Resize reallocates the buffer's memory at a new size, preserving
// existing contents via a device-side copy into the new allocation. The
// old handle/memory are destroyed once the copy completes.
func (b *VulkanBuffer) Resize(context *VulkanContext, pool vk.CommandPool, queue vk.Queue, newSize uint64) error {
	newBuffer, err := BufferCreate(context, newSize, b.Usage, b.MemoryPropertyFlags, false)
	if err != nil {
		return err
	}

	if err := newBuffer.Bind(context, 0); err != nil {
		return err
	}

	copySize := uint64(b.MemoryRequirements.Size)
	if newSize < copySize {
		copySize = newSize
	}
	if err := b.CopyTo(context, pool, nil, queue, 0, newBuffer, 0, copySize); err != nil {
		return err
	}

	if res := vk.QueueWaitIdle(queue); res != vk.Success {
		err := fmt.Errorf("queue failed to wait idle after buffer resize copy")
		core.LogError(err.Error())
		return err
	}

	b.Destroy(context)
	*b = *newBuffer
	return nil
}
