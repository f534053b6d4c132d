package config

import (
	"path/filepath"
	"testing"
)

// TestLoad_DefaultDocument checks that the checked-in
// assets/config/renderer.toml round-trips into the values the doc
// itself states, not the package defaults.
func TestLoad_DefaultDocument(t *testing.T) {
	path := filepath.Join("..", "..", "assets", "config", "renderer.toml")
	rc, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if rc.ShadowMapSize != 2048 {
		t.Errorf("ShadowMapSize = %d, want 2048", rc.ShadowMapSize)
	}
	if !rc.ShadowPCF {
		t.Errorf("ShadowPCF = false, want true")
	}
	if !rc.FXAA {
		t.Errorf("FXAA = false, want true")
	}
	if rc.MaxMaterials != 1024 || rc.MaxTextures != 100 {
		t.Errorf("MaxMaterials/MaxTextures = %d/%d, want 1024/100", rc.MaxMaterials, rc.MaxTextures)
	}
	if rc.PointLightFalloffScale != 0.2 {
		t.Errorf("PointLightFalloffScale = %v, want 0.2", rc.PointLightFalloffScale)
	}
	if !rc.ShaderRecompilation {
		t.Errorf("ShaderRecompilation = false, want true")
	}
}

// TestTransformToRendererConfig_FillsDefaults checks that an empty TOML
// document (every recognized key absent) still produces a usable config
// via the built-in defaults, rather than zero values that would make
// e.g. ShadowMapSize=0 or MaxTextures=0 reach a descriptor-array size.
func TestTransformToRendererConfig_FillsDefaults(t *testing.T) {
	tmp := tmpRendererConfig{}
	rc := tmp.TransformToRendererConfig()

	if rc.ShadowMapSize != defaultShadowMapSize {
		t.Errorf("ShadowMapSize = %d, want default %d", rc.ShadowMapSize, defaultShadowMapSize)
	}
	if rc.ShadowBias != defaultShadowBias {
		t.Errorf("ShadowBias = %v, want default %v", rc.ShadowBias, defaultShadowBias)
	}
	if rc.MaxMaterials != defaultMaxMaterials {
		t.Errorf("MaxMaterials = %d, want default %d", rc.MaxMaterials, defaultMaxMaterials)
	}
	if rc.MaxTextures != defaultMaxTextures {
		t.Errorf("MaxTextures = %d, want default %d", rc.MaxTextures, defaultMaxTextures)
	}
	if rc.MaxVerticesBuffer != defaultMaxVerticesBuffer {
		t.Errorf("MaxVerticesBuffer = %d, want default %d", rc.MaxVerticesBuffer, defaultMaxVerticesBuffer)
	}
	if rc.PointLightFalloffScale != defaultPointLightFalloffScale {
		t.Errorf("PointLightFalloffScale = %v, want default %v", rc.PointLightFalloffScale, defaultPointLightFalloffScale)
	}
	if rc.ShaderRecompilation {
		t.Errorf("ShaderRecompilation = true, want false (zero value, no default applies)")
	}
}

// TestValidate_RejectsZeroCaps checks the fatal "configuration/capacity
// errors" class: zero material or texture caps, and an odd
// shadow_map_size, must never silently pass through to pipeline creation.
func TestValidate_RejectsZeroCaps(t *testing.T) {
	cases := []tmpRendererConfig{
		{MaxMaterials: 0, MaxTextures: 4},
		{MaxMaterials: 4, MaxTextures: 0},
		{MaxMaterials: 4, MaxTextures: 4, ShadowMapSize: 3},
	}
	for i, c := range cases {
		if err := c.Validate(); err == nil {
			t.Errorf("case %d: Validate() = nil, want error", i)
		}
	}
}

func TestValidate_AcceptsWellFormedConfig(t *testing.T) {
	c := tmpRendererConfig{MaxMaterials: 1024, MaxTextures: 100, ShadowMapSize: 2048}
	if err := c.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join("nonexistent", "renderer.toml")); err == nil {
		t.Errorf("Load() = nil error, want error for missing file")
	}
}
