package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/nullforge/aurora/engine/core"
)

// MaxTextures is the size of the bindless sampled-image array.
// GBuffer.frag.glsl and Shadow.frag.glsl declare the same size as a
// literal array length (textures[100]), not as a specialization constant,
// and RendererConfig.MaxTextures is not read here: the array size is 100
// whatever the config says.
const MaxTextures uint32 = 100

/**
 * @brief TextureCache deduplicates texture file paths into a dense,
 * stable u32 index backed by a VulkanImage+sampler. Generalizes
 * engine/systems/texture.go's reference-counted name→handle registry:
 * TextureCache drops the reference counting (global textures are
 * immutable for the process lifetime, per spec.md §3.3) and keeps only
 * the path→index map and the backing image list, since the sole
 * consumer is materials indexing into the bindless sampler array.
 */
type TextureCache struct {
	context *VulkanContext
	sampler vk.Sampler

	byPath  map[string]uint32
	images  []*VulkanImage
	formats []vk.Format
}

// NewTextureCache creates an empty cache with a shared linear-wrap
// sampler, grounded on the sampler-creation shape any image.go-adjacent
// texture component needs (not present verbatim in the teacher, since
// the teacher's TextureSystem never reached a Vulkan-backed sampler).
func NewTextureCache(context *VulkanContext) (*TextureCache, error) {
	samplerInfo := vk.SamplerCreateInfo{
		SType:        vk.StructureTypeSamplerCreateInfo,
		MagFilter:    vk.FilterLinear,
		MinFilter:    vk.FilterLinear,
		AddressModeU: vk.SamplerAddressModeRepeat,
		AddressModeV: vk.SamplerAddressModeRepeat,
		AddressModeW: vk.SamplerAddressModeRepeat,
		BorderColor:  vk.BorderColorIntOpaqueBlack,
		MipmapMode:   vk.SamplerMipmapModeLinear,
	}

	tc := &TextureCache{
		context: context,
		byPath:  make(map[string]uint32),
	}
	if res := vk.CreateSampler(context.Device.LogicalDevice, &samplerInfo, context.Allocator, &tc.sampler); res != vk.Success {
		return nil, fmt.Errorf("failed to create texture cache sampler")
	}
	return tc, nil
}

// GetOrCreate returns the stable dense index of path's texture, creating
// the backing image+view the first time it is seen. An empty path
// returns (0, false); the caller then stores metadata.InvalidTextureIndex
// itself, per spec.md §4.2.
func (tc *TextureCache) GetOrCreate(path string, format vk.Format, pixels []byte, width, height uint32) (uint32, bool, error) {
	if path == "" {
		return 0, false, nil
	}
	if idx, ok := tc.byPath[path]; ok {
		return idx, true, nil
	}

	img, err := ImageCreate(tc.context, vk.ImageType2d, width, height, format,
		vk.ImageTilingOptimal,
		vk.ImageUsageFlags(vk.ImageUsageTransferDstBit)|vk.ImageUsageFlags(vk.ImageUsageSampledBit),
		vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit),
		true, vk.ImageAspectFlags(vk.ImageAspectColorBit))
	if err != nil {
		return 0, false, err
	}

	idx := uint32(len(tc.images))
	tc.images = append(tc.images, img)
	tc.formats = append(tc.formats, format)
	tc.byPath[path] = idx

	if idx >= MaxTextures {
		err := fmt.Errorf("texture cache capacity exceeded: MAX_TEXTURES=%d", MaxTextures)
		core.LogFatal(err.Error())
		return 0, false, err
	}

	return idx, true, nil
}

// Count returns the number of distinct textures registered so far.
func (tc *TextureCache) Count() int {
	return len(tc.images)
}

// AsList returns the backing image views in index order, padded by
// repeating the last view up to MAX_TEXTURES so every descriptor in the
// fixed-size sampler array is populated (Vulkan requires all descriptors
// valid unless VK_EXT_descriptor_indexing's partially_bound is enabled).
func (tc *TextureCache) AsList(maxTextures uint32) ([]vk.ImageView, error) {
	if len(tc.images) == 0 {
		return nil, fmt.Errorf("texture cache is empty, cannot build descriptor image list")
	}
	views := make([]vk.ImageView, maxTextures)
	for i := uint32(0); i < maxTextures; i++ {
		if int(i) < len(tc.images) {
			views[i] = tc.images[i].View
		} else {
			views[i] = tc.images[len(tc.images)-1].View
		}
	}
	return views, nil
}

// Sampler returns the shared sampler used by every cached texture.
func (tc *TextureCache) Sampler() vk.Sampler {
	return tc.sampler
}

// Destroy releases every cached image and the shared sampler.
func (tc *TextureCache) Destroy() {
	for _, img := range tc.images {
		img.ImageDestroy(tc.context)
	}
	tc.images = nil
	tc.byPath = make(map[string]uint32)
	if tc.sampler != nil {
		vk.DestroySampler(tc.context.Device.LogicalDevice, tc.sampler, tc.context.Allocator)
		tc.sampler = nil
	}
}
