package vulkan

import (
	"testing"

	"github.com/nullforge/aurora/engine/math"
	"github.com/nullforge/aurora/engine/renderer/metadata"
)

// TestComputeSplitFractions_Monotonic checks the invariant from spec.md
// §8.1/§8.2: split fractions are strictly increasing, and the last split
// reaches 1.0 (the far plane), so the union of cascades covers the whole
// frustum with no gaps.
func TestComputeSplitFractions_Monotonic(t *testing.T) {
	fractions := computeSplitFractions(0.1, 100, metadata.CascadeCount)
	if len(fractions) != metadata.CascadeCount {
		t.Fatalf("expected %d fractions, got %d", metadata.CascadeCount, len(fractions))
	}
	prev := float32(0)
	for i, f := range fractions {
		if f <= prev {
			t.Fatalf("split fraction %d (%f) is not strictly greater than previous (%f)", i, f, prev)
		}
		if f > 1.0001 {
			t.Fatalf("split fraction %d (%f) exceeds 1.0", i, f)
		}
		prev = f
	}
	last := fractions[len(fractions)-1]
	if last < 0.999 {
		t.Fatalf("last split fraction %f does not reach the far plane", last)
	}
}

// TestStabilize_SnapsToWholeTexel checks the texel-snapping invariant
// from spec.md §4.4 step 7: after stabilize, the light-space origin's XY
// (recomputed via the corrected matrix) lands on a whole shadow-map texel.
func TestStabilize_SnapsToWholeTexel(t *testing.T) {
	eye := math.Vec3{X: 1.37, Y: 5.21, Z: -3.89}
	center := math.Vec3{X: 0.42, Y: 0, Z: 0.17}
	up := math.Vec3{X: 0, Y: 1, Z: 0}
	view := math.NewMat4LookAt(eye, center, up)
	ortho := math.NewMat4Orthographic(-10, 10, -10, 10, 0, 20)

	const shadowMapSize = 2048
	corrected := stabilize(view, ortho, shadowMapSize)

	origin := transformAffine(view, math.Vec3{}, 1)
	texelsPerUnit := float32(shadowMapSize) / 2
	x := origin.X*texelsPerUnit + corrected.Data[12]*texelsPerUnit
	y := origin.Y*texelsPerUnit + corrected.Data[13]*texelsPerUnit

	const eps = 1e-2
	if d := x - roundf(x); absf(d) > eps {
		t.Fatalf("stabilized X texel coordinate %f is not whole (remainder %f)", x, d)
	}
	if d := y - roundf(y); absf(d) > eps {
		t.Fatalf("stabilized Y texel coordinate %f is not whole (remainder %f)", y, d)
	}
}

func roundf(f float32) float32 {
	if f < 0 {
		return float32(int32(f - 0.5))
	}
	return float32(int32(f + 0.5))
}

// TestComputeCascades_SplitDistancesOrdered checks that successive
// cascades' SplitDistance values move monotonically away from the
// camera (spec.md §8.1: LightingPass picks a cascade by comparing a
// fragment's view-space depth against these in order).
func TestComputeCascades_SplitDistancesOrdered(t *testing.T) {
	cam := CascadeCameraState{
		Projection: math.NewMat4Perspective(math.DegToRad(60), 16.0/9.0, 0.1, 100),
		View:       math.NewMat4LookAt(math.Vec3{X: 0, Y: 5, Z: 10}, math.Vec3{}, math.Vec3{X: 0, Y: 1, Z: 0}),
		Near:       0.1,
		Far:        100,
		LightDir:   math.Vec3{X: -0.3, Y: -0.8, Z: -0.2},
	}
	cascades := ComputeCascades(cam, 2048)
	if len(cascades) != metadata.CascadeCount {
		t.Fatalf("expected %d cascades, got %d", metadata.CascadeCount, len(cascades))
	}
	for i := 1; i < len(cascades); i++ {
		if cascades[i].SplitDistance >= cascades[i-1].SplitDistance {
			t.Fatalf("cascade %d split distance %f did not move farther than cascade %d's %f",
				i, cascades[i].SplitDistance, i-1, cascades[i-1].SplitDistance)
		}
	}
}

// TestCornersRadius_UpperBoundsAllCorners checks cornersRadius actually
// bounds every corner (used to size the light-space orthographic frustum;
// an under-sized radius would clip geometry out of the shadow map).
func TestCornersRadius_UpperBoundsAllCorners(t *testing.T) {
	corners := [8]math.Vec3{
		{X: -1, Y: -1, Z: -1}, {X: 1, Y: -1, Z: -1}, {X: -1, Y: 1, Z: -1}, {X: 1, Y: 1, Z: -1},
		{X: -2, Y: -2, Z: 2}, {X: 2, Y: -2, Z: 2}, {X: -2, Y: 2, Z: 2}, {X: 2, Y: 2, Z: 2},
	}
	center := cornersCenter(corners)
	radius := cornersRadius(corners, center)
	for _, c := range corners {
		dx, dy, dz := c.X-center.X, c.Y-center.Y, c.Z-center.Z
		d := dx*dx + dy*dy + dz*dz
		if d > radius*radius+1e-3 {
			t.Fatalf("corner %+v lies outside bounding radius %f", c, radius)
		}
	}
}
