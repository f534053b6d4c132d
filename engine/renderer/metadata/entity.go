package metadata

import "github.com/nullforge/aurora/engine/math"

/**
 * @brief Per-instance animation state for a scene entity. CurrentFrame
 * indexes into the owning model's active animation; Started gates whether
 * SkinCompute dispatches for this entity on a given frame.
 */
type EntityAnimationState struct {
	AnimationIndex int
	CurrentFrame   int
	Started        bool
}

/**
 * @brief A scene-resident, mutable entity: a reference to an immutable
 * Model plus the per-instance data (model matrix, optional animation
 * state) that GlobalBuffers packs into the instance buffers.
 */
type Entity struct {
	ID             string
	ModelID        string
	ModelMatrix    math.Mat4
	AnimationState *EntityAnimationState
}

// IsAnimated reports whether this entity carries animation state.
func (e *Entity) IsAnimated() bool {
	return e.AnimationState != nil
}
