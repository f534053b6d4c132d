package vulkan

import "testing"

func TestGlslStageFlag(t *testing.T) {
	cases := []struct {
		name      string
		wantStage string
		wantOK    bool
	}{
		{"Shadow.vert", "vert", true},
		{"Shadow.geom", "geom", true},
		{"GBuffer.frag", "frag", true},
		{"Skinning.comp", "comp", true},
		{"Lighting", "", false},
		{"Post.unknown", "", false},
	}
	for _, c := range cases {
		stage, ok := glslStageFlag(c.name)
		if ok != c.wantOK || stage != c.wantStage {
			t.Errorf("glslStageFlag(%q) = (%q, %v), want (%q, %v)", c.name, stage, ok, c.wantStage, c.wantOK)
		}
	}
}
