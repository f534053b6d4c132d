// Package config decodes the renderer's TOML configuration document
// (assets/config/renderer.toml) the way engine/assets/loaders decodes
// shader/material TOML: unmarshal into a tmp struct tagged with the raw
// document's keys, validate, then transform into the runtime type the
// Vulkan passes actually consume.
package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// RendererConfig holds every recognized key from spec.md §6.5, already
// transformed into the types the passes expect (ShadowPass's size
// parameter, LightingPass's LightingConfig fields, PostPass's useFXAA
// flag, GlobalBuffersCaps' byte ceilings).
type RendererConfig struct {
	ShadowMapSize uint32
	ShadowPCF     bool
	ShadowBias    float32
	ShadowDebug   bool

	FXAA bool

	MaxMaterials uint32
	MaxTextures  uint32

	MaxVerticesBuffer      uint32
	MaxIndicesBuffer       uint32
	MaxJointMatricesBuffer uint32
	MaxAnimWeightsBuffer   uint32

	// PointLightFalloffScale is the `0.2` magic constant spec.md §9's
	// Design Notes flags as a tunable rather than a physical quantity;
	// LightingPass multiplies point-light distance by this before the
	// inverse-square term (lighting_pass.go's LightingConfig.PointFalloff).
	PointLightFalloffScale float32

	// ShaderRecompilation, when true, makes the asset layer shell out to
	// glslc for any .glsl source newer than its .spv sibling before the
	// next frame's pipeline (re)creation, instead of trusting whatever
	// .spv files are already on disk.
	ShaderRecompilation bool
}

// defaults mirror the values already hardcoded at the call sites this
// config type is replacing (texture_cache.go's MaxTextures=100,
// const.go's VULKAN_MAX_MATERIAL_COUNT=1024, shadow_pass.go's 2048
// default noted in its own doc comment, lighting_pass.go's PointFalloff
// default of 0.2).
const (
	defaultShadowMapSize          = 2048
	defaultShadowBias             = 0.005
	defaultMaxMaterials           = 1024
	defaultMaxTextures            = 100
	defaultMaxVerticesBuffer      = 64 << 20
	defaultMaxIndicesBuffer       = 16 << 20
	defaultMaxJointMatricesBuffer = 4 << 20
	defaultMaxAnimWeightsBuffer   = 16 << 20
	defaultPointLightFalloffScale = 0.2
)

// tmpRendererConfig is the literal shape of renderer.toml.
type tmpRendererConfig struct {
	ShadowMapSize uint32  `toml:"shadow_map_size"`
	ShadowPCF     bool    `toml:"shadow_pcf"`
	ShadowBias    float32 `toml:"shadow_bias"`
	ShadowDebug   bool    `toml:"shadow_debug"`

	FXAA bool `toml:"fxaa"`

	MaxMaterials uint32 `toml:"max_materials"`
	MaxTextures  uint32 `toml:"max_textures"`

	MaxVerticesBuffer      uint32 `toml:"max_vertices_buffer"`
	MaxIndicesBuffer       uint32 `toml:"max_indices_buffer"`
	MaxJointMatricesBuffer uint32 `toml:"max_joint_matrices_buffer"`
	MaxAnimWeightsBuffer   uint32 `toml:"max_anim_weights_buffer"`

	PointLightFalloffScale float32 `toml:"point_light_falloff_scale"`

	ShaderRecompilation bool `toml:"shader_recompilation"`
}

// Validate rejects zero material/texture caps, which would never admit a
// single resource, and an odd shadow_map_size, mirroring the fatal "configuration/capacity errors"
// class spec.md §7 calls out.
func (c *tmpRendererConfig) Validate() error {
	if c.ShadowMapSize != 0 && c.ShadowMapSize%2 != 0 {
		return fmt.Errorf("shadow_map_size must be even, got %d", c.ShadowMapSize)
	}
	if c.MaxMaterials == 0 {
		return fmt.Errorf("max_materials must be non-zero")
	}
	if c.MaxTextures == 0 {
		return fmt.Errorf("max_textures must be non-zero")
	}
	return nil
}

// TransformToRendererConfig fills in defaults for every zero-valued
// field, so an empty or partial TOML document still produces a usable
// config — the same behavior loaders/shader.go's Load leaves to the
// caller, here made explicit since renderer.toml is expected to omit
// most keys in practice.
func (c *tmpRendererConfig) TransformToRendererConfig() *RendererConfig {
	rc := &RendererConfig{
		ShadowMapSize:          c.ShadowMapSize,
		ShadowPCF:              c.ShadowPCF,
		ShadowBias:             c.ShadowBias,
		ShadowDebug:            c.ShadowDebug,
		FXAA:                   c.FXAA,
		MaxMaterials:           c.MaxMaterials,
		MaxTextures:            c.MaxTextures,
		MaxVerticesBuffer:      c.MaxVerticesBuffer,
		MaxIndicesBuffer:       c.MaxIndicesBuffer,
		MaxJointMatricesBuffer: c.MaxJointMatricesBuffer,
		MaxAnimWeightsBuffer:   c.MaxAnimWeightsBuffer,
		PointLightFalloffScale: c.PointLightFalloffScale,
		ShaderRecompilation:    c.ShaderRecompilation,
	}

	if rc.ShadowMapSize == 0 {
		rc.ShadowMapSize = defaultShadowMapSize
	}
	if rc.ShadowBias == 0 {
		rc.ShadowBias = defaultShadowBias
	}
	if rc.MaxMaterials == 0 {
		rc.MaxMaterials = defaultMaxMaterials
	}
	if rc.MaxTextures == 0 {
		rc.MaxTextures = defaultMaxTextures
	}
	if rc.MaxVerticesBuffer == 0 {
		rc.MaxVerticesBuffer = defaultMaxVerticesBuffer
	}
	if rc.MaxIndicesBuffer == 0 {
		rc.MaxIndicesBuffer = defaultMaxIndicesBuffer
	}
	if rc.MaxJointMatricesBuffer == 0 {
		rc.MaxJointMatricesBuffer = defaultMaxJointMatricesBuffer
	}
	if rc.MaxAnimWeightsBuffer == 0 {
		rc.MaxAnimWeightsBuffer = defaultMaxAnimWeightsBuffer
	}
	if rc.PointLightFalloffScale == 0 {
		rc.PointLightFalloffScale = defaultPointLightFalloffScale
	}

	return rc
}

// DefaultRendererConfig returns the same defaults Load falls back to for
// any key an on-disk document omits, for callers that need a usable
// RendererConfig before (or without) reading assets/config/renderer.toml
// off disk.
func DefaultRendererConfig() *RendererConfig {
	return (&tmpRendererConfig{}).TransformToRendererConfig()
}

// Load reads and decodes the renderer config TOML document at path.
func Load(path string) (*RendererConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	tmp := tmpRendererConfig{}
	if err := toml.Unmarshal(raw, &tmp); err != nil {
		return nil, err
	}

	if err := tmp.Validate(); err != nil {
		return nil, err
	}

	return tmp.TransformToRendererConfig(), nil
}

// Caps translates the buffer-cap fields into GlobalBuffersCaps' shape.
// It returns plain values rather than a vulkan.GlobalBuffersCaps so that
// this package does not import engine/renderer/vulkan (which imports
// engine/config); callers construct the vulkan.GlobalBuffersCaps literal
// directly from these values at the call site.
func (rc *RendererConfig) Caps() (maxVertices, maxIndices, maxMaterials, maxJointMatrices, maxWeights uint32) {
	return rc.MaxVerticesBuffer, rc.MaxIndicesBuffer, rc.MaxMaterials, rc.MaxJointMatricesBuffer, rc.MaxAnimWeightsBuffer
}
