package metadata

import "github.com/nullforge/aurora/engine/math"

// CascadeCount is the build-time constant number of cascaded shadow
// splits. Matches ShadowPass's layered depth image layer count and the
// geometry shader's `invocations = CascadeCount`.
const CascadeCount int = 3

/**
 * @brief One cascade split: the light-space projection-view matrix used
 * to render and sample that split, and the view-space far-plane split
 * distance (negative, since view space looks down -Z) used by
 * LightingPass to pick a cascade for a given fragment.
 */
type CascadeShadowData struct {
	ProjView      math.Mat4
	SplitDistance float32
}
