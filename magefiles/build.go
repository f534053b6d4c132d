//go:build mage

package main

import (
	"fmt"
	"os"

	"github.com/magefile/mage/mg"
)

type Build mg.Namespace

// shaderSources lists every *.glsl source under assets/shaders and the
// -fshader-stage value glslc needs to compile it. Grouped by pass:
// SkinCompute's compute shader, ShadowPass's vertex/geometry/fragment
// trio (the geometry stage replicates across cascade layers), ScenePass's
// G-buffer pair, and the three full-screen-triangle passes.
var shaderSources = []struct {
	name  string
	stage string
}{
	{"Skinning.comp", "comp"},
	{"Shadow.vert", "vert"},
	{"Shadow.geom", "geom"},
	{"Shadow.frag", "frag"},
	{"GBuffer.vert", "vert"},
	{"GBuffer.frag", "frag"},
	{"Lighting.vert", "vert"},
	{"Lighting.frag", "frag"},
	{"Post.vert", "vert"},
	{"Post.frag", "frag"},
	{"SwapBlit.vert", "vert"},
	{"SwapBlit.frag", "frag"},
}

func buildShaders() error {
	fmt.Println("Build shaders...")
	vkSDKPath := os.Getenv("VULKAN_SDK")
	glslc := fmt.Sprintf("%s/bin/glslc", vkSDKPath)
	for _, s := range shaderSources {
		src := fmt.Sprintf("assets/shaders/%s.glsl", s.name)
		dst := fmt.Sprintf("assets/shaders/%s.spv", s.name)
		if _, err := executeCmd(glslc, withArgs(fmt.Sprintf("-fshader-stage=%s", s.stage), src, "-o", dst), withStream()); err != nil {
			return err
		}
	}
	return nil
}

// Compiles every shader source under assets/shaders to SPIR-V.
func (Build) Shaders() error {
	return buildShaders()
}
