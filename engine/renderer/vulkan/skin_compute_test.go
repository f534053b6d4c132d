package vulkan

import (
	"testing"

	"github.com/nullforge/aurora/engine/math"
	"github.com/nullforge/aurora/engine/renderer/metadata"
)

func identityJoints() [4]math.Mat4 {
	id := math.NewMat4Identity()
	return [4]math.Mat4{id, id, id, id}
}

// TestSkinVertexCPU_IdentityJoints is the skinning-identity law from
// spec.md §8.2: when every joint matrix for a vertex's weights is
// identity, the skinned output equals the bind-pose input exactly (up to
// the position.xyz/position.w divide, which is 1 since identity rows sum
// weights to 1).
func TestSkinVertexCPU_IdentityJoints(t *testing.T) {
	v := metadata.Vertex{
		Position:  math.Vec3{X: 1, Y: 2, Z: 3},
		Normal:    math.Vec3{X: 0, Y: 1, Z: 0},
		Tangent:   math.Vec3{X: 1, Y: 0, Z: 0},
		Bitangent: math.Vec3{X: 0, Y: 0, Z: 1},
		UV:        math.Vec2{X: 0.25, Y: 0.75},
	}
	w := metadata.WeightRecord{
		Weights:  [4]float32{0.5, 0.3, 0.2, 0},
		JointIDs: [4]float32{0, 1, 2, 3},
	}

	out := SkinVertexCPU(v, w, identityJoints())

	if out.Position != v.Position {
		t.Fatalf("position changed under identity skinning: got %+v want %+v", out.Position, v.Position)
	}
	if out.Normal != v.Normal || out.Tangent != v.Tangent || out.Bitangent != v.Bitangent {
		t.Fatalf("orientation vectors changed under identity skinning")
	}
	if out.UV != v.UV {
		t.Fatalf("uv changed under skinning: got %+v want %+v", out.UV, v.UV)
	}
}

// TestSkinVertexCPU_RotationMatchesManualRotation mirrors end-to-end
// scenario 3 (spec.md §8.3): a single full-weight bone whose matrix
// rotates 90 degrees about Y must rotate position and normal identically
// to applying the rotation directly, and leave UVs untouched.
func TestSkinVertexCPU_RotationMatchesManualRotation(t *testing.T) {
	rot := math.NewMat4EulerY(math.K_HALF_PI)
	joints := [4]math.Mat4{rot, rot, rot, rot}

	v := metadata.Vertex{
		Position: math.Vec3{X: 1, Y: 0, Z: 0},
		Normal:   math.Vec3{X: 1, Y: 0, Z: 0},
		UV:       math.Vec2{X: 0.1, Y: 0.2},
	}
	w := metadata.WeightRecord{Weights: [4]float32{1, 0, 0, 0}}

	out := SkinVertexCPU(v, w, joints)

	want := v.Position.Transform(rot)
	const eps = 1e-4
	if abs32(out.Position.X-want.X) > eps || abs32(out.Position.Y-want.Y) > eps || abs32(out.Position.Z-want.Z) > eps {
		t.Fatalf("rotated position mismatch: got %+v want %+v", out.Position, want)
	}
	wantN := v.Normal.Transform(rot)
	if abs32(out.Normal.X-wantN.X) > eps || abs32(out.Normal.Y-wantN.Y) > eps || abs32(out.Normal.Z-wantN.Z) > eps {
		t.Fatalf("rotated normal mismatch: got %+v want %+v", out.Normal, wantN)
	}
	if out.UV != v.UV {
		t.Fatalf("uv must be copied unchanged, got %+v want %+v", out.UV, v.UV)
	}
}

func abs32(f float32) float32 {
	if f < 0 {
		return -f
	}
	return f
}
